package schedule

import (
	"math"
	"testing"
)

func TestNewOffsetsAndLevels(t *testing.T) {
	t.Parallel()
	s, err := New([]int{1, 2, 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.TotalLen != 14 {
		t.Fatalf("TotalLen: got %d, want 14", s.TotalLen)
	}
	wantOffsets := []int{0, 1, 5, 14}
	for i, w := range wantOffsets {
		if s.Offset[i] != w {
			t.Fatalf("Offset[%d]: got %d, want %d", i, s.Offset[i], w)
		}
	}
	wantLevels := []int{0, 1, 1, 1, 1, 2, 2, 2, 2, 2, 2, 2, 2, 2}
	for i, w := range wantLevels {
		if s.Levels[i] != w {
			t.Fatalf("Levels[%d]: got %d, want %d", i, s.Levels[i], w)
		}
	}
	if s.Steps() != 3 {
		t.Fatalf("Steps: got %d, want 3", s.Steps())
	}
	if s.FinalSide() != 3 {
		t.Fatalf("FinalSide: got %d, want 3", s.FinalSide())
	}
}

func TestNewRejectsBadSides(t *testing.T) {
	t.Parallel()
	cases := [][]int{
		{},
		{4},
		{1, 0},
		{1, -2},
		{2, 1},
	}
	for _, sides := range cases {
		if _, err := New(sides); err == nil {
			t.Errorf("New(%v): expected error", sides)
		}
	}
}

func TestBiasBlocksFinerScales(t *testing.T) {
	t.Parallel()
	s, err := New([]int{1, 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bias := s.BiasView(s.TotalLen)
	for i := 0; i < s.TotalLen; i++ {
		for j := 0; j < s.TotalLen; j++ {
			v := bias.Row(i)[j]
			if s.Levels[i] < s.Levels[j] {
				if !math.IsInf(float64(v), -1) {
					t.Fatalf("bias[%d][%d]: got %v, want -Inf", i, j, v)
				}
			} else if v != 0 {
				t.Fatalf("bias[%d][%d]: got %v, want 0", i, j, v)
			}
		}
	}
}

func TestBiasViewIsRestriction(t *testing.T) {
	t.Parallel()
	s, err := New([]int{1, 2, 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	full := s.BiasView(s.TotalLen)
	sub := s.BiasView(5)
	if sub.R != 5 || sub.C != 5 {
		t.Fatalf("sub shape: got %dx%d, want 5x5", sub.R, sub.C)
	}
	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			if sub.Row(i)[j] != full.Row(i)[j] {
				t.Fatalf("view mismatch at %d,%d", i, j)
			}
		}
	}
}

func TestDefaultSchedule(t *testing.T) {
	t.Parallel()
	s := Default()
	if s.Steps() != 10 {
		t.Fatalf("Steps: got %d, want 10", s.Steps())
	}
	if s.FinalSide() != 16 {
		t.Fatalf("FinalSide: got %d, want 16", s.FinalSide())
	}
	if s.TotalLen != 680 {
		t.Fatalf("TotalLen: got %d, want 680", s.TotalLen)
	}
}
