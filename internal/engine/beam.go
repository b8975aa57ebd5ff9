package engine

import (
	"context"
	"math"

	"github.com/strataml/strata/internal/tensor"
)

// beamForkScales is the number of coarsest scales decoded with beam forking
// before the survivors are chosen.
const beamForkScales = 3

// BeamSearch decodes with beam forking over the coarsest scales. Every batch
// item forks width ways at each of the first beamForkScales scales, so
// width^beamForkScales beams per item reach the scoring scale. There each
// item's beams are ranked by the summed per-position maximum of their guided
// logits; one survivor per item samples that scale and continues to the
// finest one, restoring the original batch size.
func (m *Model) BeamSearch(ctx context.Context, opts Options, width int) (Result, error) {
	p, err := m.normalize(opts)
	if err != nil {
		return Result{}, err
	}
	if width < 1 {
		return Result{}, newConfigError("beam width %d must be >= 1", width)
	}
	if p.smooth {
		return Result{}, newConfigError("beam search needs discrete tokens, not smooth sampling")
	}
	steps := m.sched.Steps()
	if steps <= beamForkScales {
		return Result{}, newConfigError("beam search needs more than %d scales, schedule has %d", beamForkScales, steps)
	}
	st, err := m.beginRun(p)
	if err != nil {
		return Result{}, err
	}

	m.cache.Enable()
	defer m.cache.Disable()

	m.log.Debug("beam run", "batch", p.batch, "width", width, "fork_scales", beamForkScales)

	// Fork phase. Per-sample expansion keeps each item's beams contiguous
	// and the guidance halves intact, so the caches and inputs expand with
	// the same layout.
	beams := 1
	for si := 0; si < beamForkScales; si++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		st.x = st.x.ExpandBatch(width)
		st.cond = expandCondRows(st.cond, width)
		st.canvas = st.canvas.ExpandBatch(width)
		expandTokenHistories(st, width)
		m.cache.Expand(width)
		beams *= width
		if err := m.stepScale(st, si); err != nil {
			return Result{}, err
		}
	}

	// Scoring scale: forward all beams once, rank within each item's fork
	// group, prune to the winners, then sample the scale for them alone.
	si := beamForkScales
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	out := m.forward(st.x, st.cond, nil)
	logits := m.logits(out, st.cond)
	t := p.cfg * ratio(si, steps)
	comb, err := cfgCombine(logits, t)
	if err != nil {
		return Result{}, err
	}
	best := bestBeams(comb, beams)

	half := p.batch * beams
	sel := make([]int, 0, 2*len(best))
	for _, b := range best {
		sel = append(sel, b)
	}
	for _, b := range best {
		sel = append(sel, half+b)
	}
	m.cache.Select(sel)
	st.cond = selectCondRows(st.cond, sel)
	st.canvas = st.canvas.SelectBatch(best)
	if st.tokens != nil {
		kept := make([][][]int, len(best))
		for i, b := range best {
			kept[i] = st.tokens[b]
		}
		st.tokens = kept
	}
	combBest := comb.SelectBatch(best)
	h := m.sampleScale(st, si, combBest)
	m.accumulate(st, si, h)

	for si := beamForkScales + 1; si < steps; si++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if err := m.stepScale(st, si); err != nil {
			return Result{}, err
		}
	}
	return m.finish(st), nil
}

// bestBeams picks, per batch item, the beam with the highest summed
// per-position maximum logit. Each item's fork group occupies beams
// contiguous batch rows of comb; the returned indices are into that layout.
func bestBeams(comb tensor.Seq, beams int) []int {
	items := comb.B / beams
	out := make([]int, items)
	for it := 0; it < items; it++ {
		best := it * beams
		bestScore := float32(math.Inf(-1))
		for b := it * beams; b < (it+1)*beams; b++ {
			var score float32
			for l := 0; l < comb.L; l++ {
				row := comb.Row(b, l)
				maxv := row[0]
				for _, v := range row[1:] {
					if v > maxv {
						maxv = v
					}
				}
				score += maxv
			}
			if score > bestScore {
				best, bestScore = b, score
			}
		}
		out[it] = best
	}
	return out
}

// expandCondRows repeats every conditioning row width times in place order.
func expandCondRows(cond tensor.Mat, width int) tensor.Mat {
	out := tensor.NewMat(cond.R*width, cond.C)
	for i := 0; i < cond.R; i++ {
		for f := 0; f < width; f++ {
			copy(out.Row(i*width+f), cond.Row(i))
		}
	}
	return out
}

// selectCondRows gathers the given conditioning rows.
func selectCondRows(cond tensor.Mat, idx []int) tensor.Mat {
	out := tensor.NewMat(len(idx), cond.C)
	for i, r := range idx {
		copy(out.Row(i), cond.Row(r))
	}
	return out
}

// expandTokenHistories forks every beam's recorded token history.
func expandTokenHistories(st *runState, width int) {
	if st.tokens == nil {
		return
	}
	out := make([][][]int, 0, len(st.tokens)*width)
	for _, hist := range st.tokens {
		for f := 0; f < width; f++ {
			cp := make([][]int, len(hist))
			for i, ids := range hist {
				cp[i] = append([]int(nil), ids...)
			}
			out = append(out, cp)
		}
	}
	st.tokens = out
}
