package engine

import (
	"context"
	"errors"
	"testing"
)

func TestDraftHubShapes(t *testing.T) {
	t.Parallel()
	m := newTestModel(t, []int{1, 2, 3, 4})
	sched := m.Schedule()

	draft, err := m.Draft(context.Background(), Options{Label: intp(1), Seed: i64p(9)}, 2)
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if draft.Exit != 2 {
		t.Fatalf("exit: got %d, want 2", draft.Exit)
	}
	if want := sched.Offset[3] - sched.Offset[1]; draft.TokenHub.L != want {
		t.Fatalf("token hub length: got %d, want %d", draft.TokenHub.L, want)
	}
	if want := sched.Offset[2]; draft.LogitsHub.L != want {
		t.Fatalf("logits hub length: got %d, want %d", draft.LogitsHub.L, want)
	}
	if draft.Canvas.H != sched.FinalSide() {
		t.Fatalf("canvas side: got %d, want %d", draft.Canvas.H, sched.FinalSide())
	}
	if m.Cache().Enabled() || m.Cache().Len() != 0 {
		t.Fatal("caches must be cleared after a draft")
	}
}

func TestDraftExitValidation(t *testing.T) {
	t.Parallel()
	m := newTestModel(t, []int{1, 2, 3})
	for _, exit := range []int{0, 3, -1} {
		_, err := m.Draft(context.Background(), Options{Label: intp(0)}, exit)
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("exit %d: expected ErrConfiguration, got %v", exit, err)
		}
	}
}

func TestRefineEntryValidation(t *testing.T) {
	t.Parallel()
	m := newTestModel(t, []int{1, 2, 3, 4})
	draft, err := m.Draft(context.Background(), Options{Label: intp(0), Seed: i64p(1)}, 2)
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	for _, entry := range []int{-1, 3} {
		if _, err := m.Refine(context.Background(), draft, entry); !errors.Is(err, ErrConfiguration) {
			t.Errorf("entry %d: expected ErrConfiguration, got %v", entry, err)
		}
		if m.Cache().Enabled() {
			t.Fatal("caches must be disabled after a rejected refine")
		}
	}
}

// A greedy draft-then-refine walk must land on the same tokens as one
// uninterrupted run: the full-sequence re-entry pass sees exactly the keys
// the incremental pass cached.
func TestRefineMatchesFullRun(t *testing.T) {
	t.Parallel()
	opts := Options{Label: intp(1), Seed: i64p(5), CFG: 1.5, TopK: []int{1}}

	full, err := newTestModel(t, []int{1, 2, 3, 4}).Generate(context.Background(), opts)
	if err != nil {
		t.Fatalf("full run: %v", err)
	}

	for _, entry := range []int{0, 1, 2} {
		m := newTestModel(t, []int{1, 2, 3, 4})
		draft, err := m.Draft(context.Background(), opts, 2)
		if err != nil {
			t.Fatalf("draft: %v", err)
		}
		refined, err := m.Refine(context.Background(), draft, entry)
		if err != nil {
			t.Fatalf("refine entry %d: %v", entry, err)
		}
		if !tokensEqual(full.Tokens, refined.Tokens) {
			t.Fatalf("entry %d: refined tokens diverge from the full run", entry)
		}
		if !gridsClose(full.Canvas, refined.Canvas, 1e-3) {
			t.Fatalf("entry %d: refined canvas diverges from the full run", entry)
		}
		if m.Cache().Enabled() || m.Cache().Len() != 0 {
			t.Fatal("caches must be cleared after refine")
		}
	}
}

// With an unset label the draft burns generator draws resolving it; the
// re-entry pass must replay those draws so stochastic sampling stays on the
// same stream as an uninterrupted run.
func TestRefineUnsetLabelMatchesFullRun(t *testing.T) {
	t.Parallel()
	opts := Options{Seed: i64p(6), CFG: 1.5}

	full, err := newTestModel(t, []int{1, 2, 3, 4}).Generate(context.Background(), opts)
	if err != nil {
		t.Fatalf("full run: %v", err)
	}

	m := newTestModel(t, []int{1, 2, 3, 4})
	draft, err := m.Draft(context.Background(), opts, 2)
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	refined, err := m.Refine(context.Background(), draft, 2)
	if err != nil {
		t.Fatalf("refine: %v", err)
	}
	if refined.Labels[0] != full.Labels[0] {
		t.Fatalf("labels diverge: %v vs %v", refined.Labels, full.Labels)
	}
	if !tokensEqual(full.Tokens, refined.Tokens) {
		t.Fatal("stochastic refine diverges from the full run")
	}
}

func TestMidExtendsDraft(t *testing.T) {
	t.Parallel()
	m := newTestModel(t, []int{1, 2, 3, 4})
	sched := m.Schedule()
	opts := Options{Label: intp(2), Seed: i64p(11), TopK: []int{1}}

	draft, err := m.Draft(context.Background(), opts, 2)
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	mid, err := m.Mid(context.Background(), draft, 2)
	if err != nil {
		t.Fatalf("mid: %v", err)
	}
	if mid.Exit != 3 {
		t.Fatalf("mid exit: got %d, want 3", mid.Exit)
	}
	if want := sched.Offset[4] - sched.Offset[1]; mid.TokenHub.L != want {
		t.Fatalf("mid token hub length: got %d, want %d", mid.TokenHub.L, want)
	}
	if want := sched.Offset[3]; mid.LogitsHub.L != want {
		t.Fatalf("mid logits hub length: got %d, want %d", mid.LogitsHub.L, want)
	}

	res, err := m.Refine(context.Background(), mid, 3)
	if err != nil {
		t.Fatalf("refine after mid: %v", err)
	}
	if res.Image.H != sched.FinalSide() {
		t.Fatalf("image side: got %d, want %d", res.Image.H, sched.FinalSide())
	}
	if m.Cache().Enabled() {
		t.Fatal("caches must be disabled at the end of the chain")
	}
}
