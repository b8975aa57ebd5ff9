// Package codec defines the token codec and image decoder the decoding
// engine drives, plus small reference implementations so the engine is
// runnable and testable end to end without an external model.
package codec

import (
	"math"

	"github.com/strataml/strata/internal/schedule"
	"github.com/strataml/strata/internal/tensor"
)

// Codec maps discrete token indices to latent vectors and folds each scale's
// sampled token map into the accumulating canvas.
type Codec interface {
	// VocabSize returns the codebook size.
	VocabSize() int
	// ChannelDim returns the latent channel width.
	ChannelDim() int
	// Embed looks up codebook vectors for per-sample index rows, returning a
	// (B, len, ChannelDim) sequence.
	Embed(idx [][]int) tensor.Seq
	// EmbeddingTable exposes the (VocabSize, ChannelDim) codebook for soft
	// (Gumbel-softmax) mixing.
	EmbeddingTable() *tensor.Mat
	// NextInput accumulates scale si's token map h into the canvas and
	// returns the updated canvas together with the next scale's residual
	// token map. For the final scale the residual equals the canvas.
	NextInput(si int, canvas, h tensor.Grid) (tensor.Grid, tensor.Grid)
	// NextInputMasked is the inpainting variant: cells marked by maskIn are
	// overwritten with the reference content before the residual is derived,
	// so generation only fills unmasked cells. maskIn must already be at the
	// finest resolution.
	NextInputMasked(si int, canvas, h, ref, maskIn tensor.Grid) (tensor.Grid, tensor.Grid)
}

// Decoder converts the final accumulated canvas into a pixel image in [0,1],
// channel-first.
type Decoder interface {
	CanvasToImage(canvas tensor.Grid) tensor.Grid
}

// Quantizer is the reference Codec: a seeded random codebook with
// nearest-neighbor upsampling into the canvas and the next scale's residual
// read back off the canvas.
type Quantizer struct {
	sched *schedule.Schedule
	emb   tensor.Mat // (V, Cvae)
}

// NewQuantizer builds a reference quantizer for the given schedule.
func NewQuantizer(sched *schedule.Schedule, vocab, channelDim int, seed int64) *Quantizer {
	q := &Quantizer{
		sched: sched,
		emb:   tensor.NewMat(vocab, channelDim),
	}
	tensor.FillRand(&q.emb, seed)
	return q
}

func (q *Quantizer) VocabSize() int              { return q.emb.R }
func (q *Quantizer) ChannelDim() int             { return q.emb.C }
func (q *Quantizer) EmbeddingTable() *tensor.Mat { return &q.emb }

// Embed looks up codebook rows for every index.
func (q *Quantizer) Embed(idx [][]int) tensor.Seq {
	b := len(idx)
	if b == 0 {
		return tensor.Seq{}
	}
	out := tensor.NewSeq(b, len(idx[0]), q.emb.C)
	for bi, row := range idx {
		for l, id := range row {
			if id < 0 || id >= q.emb.R {
				panic("codec: token index out of range")
			}
			copy(out.Row(bi, l), q.emb.Row(id))
		}
	}
	return out
}

// NextInput adds the upsampled token map into the canvas and reads the next
// scale's residual back off it.
func (q *Quantizer) NextInput(si int, canvas, h tensor.Grid) (tensor.Grid, tensor.Grid) {
	final := q.sched.FinalSide()
	up := tensor.ResizeNearest(h, final, final)
	next := canvas.Clone()
	tensor.Add(next.Data, up.Data)
	return next, q.residual(si, next)
}

// NextInputMasked composites reference content over masked cells after the
// accumulate, at every scale.
func (q *Quantizer) NextInputMasked(si int, canvas, h, ref, maskIn tensor.Grid) (tensor.Grid, tensor.Grid) {
	final := q.sched.FinalSide()
	up := tensor.ResizeNearest(h, final, final)
	next := canvas.Clone()
	tensor.Add(next.Data, up.Data)
	blendMasked(&next, &ref, &maskIn)
	return next, q.residual(si, next)
}

func (q *Quantizer) residual(si int, canvas tensor.Grid) tensor.Grid {
	if si >= q.sched.Steps()-1 {
		return canvas.Clone()
	}
	side := q.sched.Sides[si+1]
	return tensor.ResizeNearest(canvas, side, side)
}

// blendMasked overwrites dst cells where mask is set with ref content. mask
// is single-channel and broadcast over channels; its batch may be 1.
func blendMasked(dst, ref, mask *tensor.Grid) {
	for b := 0; b < dst.B; b++ {
		mb := b
		if mask.B == 1 {
			mb = 0
		}
		mp := mask.Plane(mb, 0)
		for c := 0; c < dst.C; c++ {
			dp := dst.Plane(b, c)
			rb := b
			if ref.B == 1 {
				rb = 0
			}
			rp := ref.Plane(rb, c)
			for i := range dp {
				m := mp[i]
				dp[i] = m*rp[i] + (1-m)*dp[i]
			}
		}
	}
}

// CompositeOutput blends the generated canvas with the reference per the
// output mask: exposed cells keep generated content, the rest show the
// reference. The mask must be at canvas resolution.
func CompositeOutput(canvas, ref, maskOut tensor.Grid) tensor.Grid {
	out := ref.Clone()
	if ref.B == 1 && canvas.B > 1 {
		out = ref.ExpandBatch(canvas.B)
	}
	blendMasked(&out, &canvas, &maskOut)
	return out
}

// LinearDecoder is the reference Decoder: a seeded random linear projection
// of latent channels to RGB followed by a logistic squash into [0,1].
type LinearDecoder struct {
	proj tensor.Mat // (3, Cvae)
}

// NewLinearDecoder builds a reference decoder.
func NewLinearDecoder(channelDim int, seed int64) *LinearDecoder {
	d := &LinearDecoder{proj: tensor.NewMat(3, channelDim)}
	tensor.FillRand(&d.proj, seed)
	return d
}

// CanvasToImage projects every spatial cell to RGB in [0,1].
func (d *LinearDecoder) CanvasToImage(canvas tensor.Grid) tensor.Grid {
	out := tensor.NewGrid(canvas.B, 3, canvas.H, canvas.W)
	cell := make([]float32, canvas.C)
	rgb := make([]float32, 3)
	for b := 0; b < canvas.B; b++ {
		for y := 0; y < canvas.H; y++ {
			for x := 0; x < canvas.W; x++ {
				for c := 0; c < canvas.C; c++ {
					cell[c] = canvas.At(b, c, y, x)
				}
				tensor.MatVec(rgb, &d.proj, cell)
				for c := 0; c < 3; c++ {
					out.Set(b, c, y, x, sigmoid(rgb[c]))
				}
			}
		}
	}
	return out
}

func sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}
