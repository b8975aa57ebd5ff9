package engine

import (
	"context"

	"github.com/strataml/strata/internal/tensor"
)

// ScoreNLL computes the mean negative log-likelihood of a full token
// pyramid under the given class, teacher-forcing the flattened sequence in
// a single pass. tokens holds one id row per scale, coarse to fine; a
// negative label scores the unconditional distribution. It returns the mean
// over all positions and the per-scale means.
//
// No guidance is applied. Scoring with enabled caches is refused: the pass
// would append its keys and corrupt the next run.
func (m *Model) ScoreNLL(ctx context.Context, label int, tokens [][]int) (float64, []float64, error) {
	sched := m.sched
	steps := sched.Steps()
	if m.cache.Enabled() {
		return 0, nil, newConfigError("likelihood scoring requires disabled caches")
	}
	if label >= m.numClasses {
		return 0, nil, newConfigError("label %d outside [0,%d)", label, m.numClasses)
	}
	if len(tokens) != steps {
		return 0, nil, newConfigError("got %d token scales, schedule has %d", len(tokens), steps)
	}
	vocab := m.codec.VocabSize()
	for si, ids := range tokens {
		if len(ids) != sched.Length[si] {
			return 0, nil, newConfigError("scale %d has %d tokens, schedule needs %d", si, len(ids), sched.Length[si])
		}
		for _, id := range ids {
			if id < 0 || id >= vocab {
				return 0, nil, newConfigError("token id %d outside vocabulary of %d", id, vocab)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	lab := label
	if lab < 0 {
		lab = m.numClasses
	}
	cond := tensor.NewMat(1, m.embedDim)
	copy(cond.Row(0), m.classEmb.Row(lab))

	// Rebuild the canvas from the given tokens, collecting the residual
	// input of every scale past the first.
	canvas := tensor.NewGrid(1, m.codec.ChannelDim(), sched.FinalSide(), sched.FinalSide())
	x := m.startTokens(cond)
	for si := 0; si < steps-1; si++ {
		h := m.codec.Embed([][]int{tokens[si]})
		var residual tensor.Grid
		canvas, residual = m.codec.NextInput(si, canvas, seqToGrid(h, sched.Sides[si]))
		x = tensor.ConcatLen(x, m.embedPrefix(gridToSeq(residual), sched.Offset[si+1]))
	}

	bias := sched.BiasView(sched.TotalLen)
	out := m.forward(x, cond, &bias)
	logits := m.logits(out, cond)

	logp := make([]float32, vocab)
	perScale := make([]float64, steps)
	var total float64
	for si := 0; si < steps; si++ {
		for i, id := range tokens[si] {
			tensor.LogSoftmax(logp, logits.Row(0, sched.Offset[si]+i))
			nll := -float64(logp[id])
			perScale[si] += nll
			total += nll
		}
		perScale[si] /= float64(sched.Length[si])
	}
	return total / float64(sched.TotalLen), perScale, nil
}
