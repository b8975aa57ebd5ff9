package engine

import (
	"context"

	"github.com/strataml/strata/internal/tensor"
)

// DraftState carries everything needed to resume or rescore a partially
// decoded pyramid: the canvas after the drafted scales, the teacher-forced
// inputs for every drafted scale past the first, and the guided logits that
// produced them. Exit is the number of scales already decoded.
type DraftState struct {
	Exit      int
	Canvas    tensor.Grid
	TokenHub  tensor.Seq // (B, Offset[Exit+1]-Offset[1], codec channels)
	LogitsHub tensor.Seq // (B, Offset[Exit], vocab)
	Labels    []int

	p      *runParams
	labels []int
}

// Draft decodes scales 0 through exit-1 and stops, retaining the hubs a
// later Refine or Mid call replays. The caches are cleared before returning;
// re-entry rebuilds them from the token hub in one pass.
func (m *Model) Draft(ctx context.Context, opts Options, exit int) (*DraftState, error) {
	p, err := m.normalize(opts)
	if err != nil {
		return nil, err
	}
	steps := m.sched.Steps()
	if exit < 1 || exit >= steps {
		return nil, newConfigError("draft exit %d outside [1,%d)", exit, steps)
	}
	st, err := m.beginRun(p)
	if err != nil {
		return nil, err
	}
	st.keepHubs = true

	m.cache.Enable()
	defer m.cache.Disable()

	m.log.Debug("draft run", "batch", p.batch, "exit", exit, "scales", steps)
	for si := 0; si < exit; si++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := m.stepScale(st, si); err != nil {
			return nil, err
		}
	}
	return &DraftState{
		Exit:      exit,
		Canvas:    st.canvas,
		TokenHub:  concatHub(st.tokenHub),
		LogitsHub: concatHub(st.logitsHub),
		Labels:    displayLabels(st.labels, m.numClasses),
		p:         p,
		labels:    st.labels,
	}, nil
}

// Refine re-enters a draft at the given scale and decodes through to the
// finest scale. One full-sequence pass over the drafted prefix refills the
// caches and yields fresh guided logits for the entry scale; scales below
// the entry replay the drafted logits, and the canvas rebuilds from scratch
// so nothing is accumulated twice.
func (m *Model) Refine(ctx context.Context, draft *DraftState, entry int) (Result, error) {
	m.cache.Enable()
	defer m.cache.Disable()

	st, err := m.reenter(ctx, draft, entry, false)
	if err != nil {
		return Result{}, err
	}
	for si := entry + 1; si < m.sched.Steps(); si++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if err := m.stepScale(st, si); err != nil {
			return Result{}, err
		}
	}
	return m.finish(st), nil
}

// Mid re-enters a draft at the given scale and stops right after it,
// returning a new draft whose hubs extend through the entry scale. Chained
// Mid calls walk the pyramid in arbitrary re-entry hops before a final
// Refine.
func (m *Model) Mid(ctx context.Context, draft *DraftState, entry int) (*DraftState, error) {
	m.cache.Enable()
	defer m.cache.Disable()

	st, err := m.reenter(ctx, draft, entry, true)
	if err != nil {
		return nil, err
	}
	return &DraftState{
		Exit:      entry + 1,
		Canvas:    st.canvas,
		TokenHub:  concatHub(st.tokenHub),
		LogitsHub: concatHub(st.logitsHub),
		Labels:    displayLabels(st.labels, m.numClasses),
		p:         st.p,
		labels:    st.labels,
	}, nil
}

// reenter rebuilds run state from a draft. The caller must have enabled the
// caches; on return they hold the Offset[entry+1] prefix positions and the
// run state is positioned to decode scale entry+1.
func (m *Model) reenter(ctx context.Context, draft *DraftState, entry int, keepHubs bool) (*runState, error) {
	sched := m.sched
	if entry < 0 || entry > draft.Exit || entry >= sched.Steps() {
		return nil, newConfigError("refine entry %d outside [0,%d]", entry, draft.Exit)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := draft.p
	rng := m.runRNG(p.seed)
	if p.seed != nil && p.labels == nil && p.label == nil {
		// The seeded draft drew its labels from the run generator; replay
		// those draws so the reseeded sampling stream lines up with an
		// uninterrupted run.
		for range draft.labels {
			rng.Intn(m.numClasses)
		}
	}
	cond := m.guidedCond(draft.labels)
	firstL := sched.Length[0]

	// Full-sequence pass over the drafted prefix under the causal-by-scale
	// bias. This refills the caches and produces entry-scale logits in the
	// same positions an incremental pass would have. At entry 0 the prefix
	// is the start tokens alone.
	prefixLen := sched.Offset[entry+1]
	prefix := m.embedPrefix(draft.TokenHub.SliceLen(0, prefixLen-firstL), firstL)
	x := tensor.ConcatLen(m.startTokens(cond), prefix.RepeatBatch(2))
	bias := sched.BiasView(prefixLen)
	out := m.forward(x, cond, &bias)
	logits := m.logits(out, cond)

	t := p.cfg * ratio(entry, sched.Steps())
	comb, err := cfgCombine(logits, t)
	if err != nil {
		return nil, err
	}

	st := &runState{
		p:        p,
		rng:      rng,
		labels:   draft.labels,
		cond:     cond,
		canvas:   tensor.NewGrid(p.batch, m.codec.ChannelDim(), sched.FinalSide(), sched.FinalSide()),
		keepHubs: keepHubs,
	}
	if !p.smooth {
		st.tokens = make([][][]int, p.batch)
	}
	if p.inpaint != nil {
		st.maskIn = tensor.ResizeNearest(p.inpaint.MaskIn, sched.FinalSide(), sched.FinalSide())
	}

	// Replay scales below the entry from the drafted logits; the entry scale
	// uses the freshly guided slice from the full pass.
	for si := 0; si <= entry; si++ {
		var scaleLogits tensor.Seq
		if si < entry {
			scaleLogits = draft.LogitsHub.SliceLen(sched.Offset[si], sched.Offset[si+1])
		} else {
			scaleLogits = comb.SliceLen(sched.Offset[si], sched.Offset[si+1])
		}
		if st.keepHubs {
			st.logitsHub = append(st.logitsHub, scaleLogits)
		}
		h := m.sampleScale(st, si, scaleLogits)
		m.accumulate(st, si, h)
	}
	return st, nil
}

func concatHub(parts []tensor.Seq) tensor.Seq {
	if len(parts) == 0 {
		return tensor.Seq{}
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out = tensor.ConcatLen(out, p)
	}
	return out
}
