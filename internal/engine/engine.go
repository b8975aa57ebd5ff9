package engine

import (
	"context"
	"math/rand"

	"github.com/strataml/strata/internal/codec"
	"github.com/strataml/strata/internal/tensor"
)

// Result is the product of one decoding run.
type Result struct {
	// Image holds (B, 3, side, side) pixels in [0,1], channel-first.
	Image tensor.Grid
	// Canvas is the accumulated latent the image was decoded from.
	Canvas tensor.Grid
	// Labels records the class each sample was conditioned on; unconditional
	// samples appear as -1.
	Labels []int
	// Tokens holds the sampled token ids per sample and scale. Nil for
	// smooth runs, which never commit to discrete tokens.
	Tokens [][][]int
}

// runState is the mutable state of one decoding run: the doubled input for
// the next scale, the accumulating canvas, and the optional hubs a draft
// retains for later refinement.
type runState struct {
	p      *runParams
	rng    *rand.Rand
	labels []int // resolved; unconditional is the sentinel index
	cond   tensor.Mat
	x      tensor.Seq
	canvas tensor.Grid
	maskIn tensor.Grid
	tokens [][][]int

	keepHubs  bool
	tokenHub  []tensor.Seq
	logitsHub []tensor.Seq
}

func (m *Model) beginRun(p *runParams) (*runState, error) {
	rng := m.runRNG(p.seed)
	labels, err := m.resolveLabels(p, rng)
	if err != nil {
		return nil, err
	}
	cond := m.guidedCond(labels)
	st := &runState{
		p:      p,
		rng:    rng,
		labels: labels,
		cond:   cond,
		x:      m.startTokens(cond),
		canvas: tensor.NewGrid(p.batch, m.codec.ChannelDim(), m.sched.FinalSide(), m.sched.FinalSide()),
	}
	if !p.smooth {
		st.tokens = make([][][]int, p.batch)
	}
	if p.inpaint != nil {
		final := m.sched.FinalSide()
		st.maskIn = tensor.ResizeNearest(p.inpaint.MaskIn, final, final)
	}
	return st, nil
}

func (m *Model) forward(x tensor.Seq, cond tensor.Mat, bias *tensor.Mat) tensor.Seq {
	for _, blk := range m.blocks {
		x = blk.Forward(x, cond, bias)
	}
	return x
}

// stepScale decodes one scale: forward the doubled batch, fold guidance,
// sample, fold the token map into the canvas and stage the next input.
func (m *Model) stepScale(st *runState, si int) error {
	out := m.forward(st.x, st.cond, nil)
	logits := m.logits(out, st.cond)
	t := st.p.cfg * ratio(si, m.sched.Steps())
	comb, err := cfgCombine(logits, t)
	if err != nil {
		return err
	}
	if st.keepHubs {
		st.logitsHub = append(st.logitsHub, comb)
	}
	h := m.sampleScale(st, si, comb)
	m.accumulate(st, si, h)
	return nil
}

// sampleScale turns guided logits into a codec-space token map, either by
// drawing discrete ids or by Gumbel-softmax mixing over the codebook.
func (m *Model) sampleScale(st *runState, si int, comb tensor.Seq) tensor.Seq {
	p := st.p
	if p.smooth {
		r := ratio(si, m.sched.Steps())
		tau := smoothTau(r)
		sharpen := float32(1 + r)
		h := tensor.NewSeq(comb.B, comb.L, m.codec.ChannelDim())
		weights := make([]float32, comb.C)
		row := make([]float32, comb.C)
		for b := 0; b < comb.B; b++ {
			for l := 0; l < comb.L; l++ {
				src := comb.Row(b, l)
				for i := range row {
					row[i] = src[i] * sharpen
				}
				gumbelSoft(st.rng, row, tau, m.codec.EmbeddingTable(), weights, h.Row(b, l))
			}
		}
		return h
	}
	idx := sampleTokens(st.rng, comb, p.topK[si], p.topP, p.temp[si])
	if st.tokens != nil {
		for b, ids := range idx {
			st.tokens[b] = append(st.tokens[b], ids)
		}
	}
	return m.codec.Embed(idx)
}

// accumulate folds a sampled scale into the canvas and builds the next
// scale's doubled input from the residual read back off it.
func (m *Model) accumulate(st *runState, si int, h tensor.Seq) {
	side := m.sched.Sides[si]
	hGrid := seqToGrid(h, side)
	var residual tensor.Grid
	if st.p.inpaint != nil {
		st.canvas, residual = m.codec.NextInputMasked(si, st.canvas, hGrid, st.p.inpaint.Reference, st.maskIn)
	} else {
		st.canvas, residual = m.codec.NextInput(si, st.canvas, hGrid)
	}
	if si < m.sched.Steps()-1 {
		next := gridToSeq(residual)
		if st.keepHubs {
			st.tokenHub = append(st.tokenHub, next)
		}
		st.x = m.embedNext(next, m.sched.Offset[si+1])
	}
	if st.p.onScale != nil {
		st.p.onScale(si+1, m.sched.Steps())
	}
}

// Generate runs the full coarse-to-fine decoding loop and decodes the final
// canvas to pixels. The key/value caches are enabled for the run and
// guaranteed disabled and cleared on every exit path.
func (m *Model) Generate(ctx context.Context, opts Options) (Result, error) {
	p, err := m.normalize(opts)
	if err != nil {
		return Result{}, err
	}
	st, err := m.beginRun(p)
	if err != nil {
		return Result{}, err
	}

	m.cache.Enable()
	defer m.cache.Disable()

	steps := m.sched.Steps()
	m.log.Debug("decoding run", "batch", p.batch, "scales", steps, "cfg", p.cfg, "smooth", p.smooth)
	for si := 0; si < steps; si++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if err := m.stepScale(st, si); err != nil {
			return Result{}, err
		}
	}
	return m.finish(st), nil
}

// finish composites inpainted output and decodes the canvas to pixels.
func (m *Model) finish(st *runState) Result {
	canvas := st.canvas
	if st.p.inpaint != nil {
		maskOut := tensor.ResizeNearest(st.p.inpaint.MaskOut, canvas.H, canvas.W)
		canvas = codec.CompositeOutput(canvas, st.p.inpaint.Reference, maskOut)
	}
	return Result{
		Image:  m.dec.CanvasToImage(canvas),
		Canvas: canvas,
		Labels: displayLabels(st.labels, m.numClasses),
		Tokens: st.tokens,
	}
}
