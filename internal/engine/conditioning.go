package engine

import (
	"math/rand"

	"github.com/strataml/strata/internal/tensor"
)

// resolveLabels turns the run options into one class per batch item. A
// negative label maps to the unconditional sentinel row; absent labels are
// drawn uniformly from the run generator.
func (m *Model) resolveLabels(p *runParams, rng *rand.Rand) ([]int, error) {
	labels := make([]int, p.batch)
	switch {
	case p.labels != nil:
		copy(labels, p.labels)
	case p.label != nil:
		for i := range labels {
			labels[i] = *p.label
		}
	default:
		for i := range labels {
			labels[i] = rng.Intn(m.numClasses)
		}
	}
	for i, l := range labels {
		if l >= m.numClasses {
			return nil, newConfigError("label %d at index %d outside [0,%d)", l, i, m.numClasses)
		}
		if l < 0 {
			labels[i] = m.numClasses
		}
	}
	return labels, nil
}

// guidedCond builds the doubled (2B, C) conditioning matrix: the class rows
// first, then the unconditional sentinel for every sample.
func (m *Model) guidedCond(labels []int) tensor.Mat {
	b := len(labels)
	cond := tensor.NewMat(2*b, m.embedDim)
	for i, l := range labels {
		copy(cond.Row(i), m.classEmb.Row(l))
		copy(cond.Row(b+i), m.classEmb.Row(m.numClasses))
	}
	return cond
}

// startTokens builds the first scale's input: the conditioning vector plus
// the learned start position plus the level/position row, per position.
func (m *Model) startTokens(cond tensor.Mat) tensor.Seq {
	firstL := m.sched.Length[0]
	out := tensor.NewSeq(cond.R, firstL, m.embedDim)
	for b := 0; b < cond.R; b++ {
		for l := 0; l < firstL; l++ {
			row := out.Row(b, l)
			copy(row, cond.Row(b))
			tensor.Add(row, m.posStart.Row(l))
			tensor.Add(row, m.lvlPos.Row(l))
		}
	}
	return out
}

func displayLabels(labels []int, sentinel int) []int {
	out := make([]int, len(labels))
	for i, l := range labels {
		if l == sentinel {
			out[i] = -1
		} else {
			out[i] = l
		}
	}
	return out
}
