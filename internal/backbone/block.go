// Package backbone provides the transformer blocks the decoding engine drives
// and the controller that owns their key/value caches.
package backbone

import (
	"math"

	"github.com/strataml/strata/internal/tensor"
)

// Block is one backbone layer. Forward is pure with respect to its inputs
// except for the key/value cache: while caching is enabled every call appends
// the current step's keys and values and attends over everything cached so
// far. A non-nil bias is applied to the attention scores when the query and
// key lengths match it; the engine passes one only for full-sequence passes
// (refine re-entry, likelihood scoring).
type Block interface {
	Forward(x tensor.Seq, cond tensor.Mat, bias *tensor.Mat) tensor.Seq
	KVCaching(on bool)
	ResetCache()
	ExpandCache(factor int)
	SelectCache(idx []int)
	DuplicateCacheBatch()
	CachingEnabled() bool
	CacheLen() int
}

// AttnBlock is the reference backbone layer: pre-norm single-head
// self-attention and a GELU MLP, both modulated by an AdaLN projection of the
// per-sample conditioning vector.
type AttnBlock struct {
	C   int // embedding width
	D   int // conditioning width
	Eps float32

	Wq, Wk, Wv, Wo tensor.Mat // (C, C)
	Fc1            tensor.Mat // (4C, C)
	Fc2            tensor.Mat // (C, 4C)
	AdaLin         tensor.Mat // (6C, D): shift/scale/gate for attn and mlp

	caching bool
	kCache  tensor.Seq
	vCache  tensor.Seq
}

// NewAttnBlock builds a block with deterministic random weights.
func NewAttnBlock(embedDim, condDim int, seed int64) *AttnBlock {
	b := &AttnBlock{
		C:      embedDim,
		D:      condDim,
		Eps:    1e-6,
		Wq:     tensor.NewMat(embedDim, embedDim),
		Wk:     tensor.NewMat(embedDim, embedDim),
		Wv:     tensor.NewMat(embedDim, embedDim),
		Wo:     tensor.NewMat(embedDim, embedDim),
		Fc1:    tensor.NewMat(4*embedDim, embedDim),
		Fc2:    tensor.NewMat(embedDim, 4*embedDim),
		AdaLin: tensor.NewMat(6*embedDim, condDim),
	}
	tensor.FillRand(&b.Wq, seed+1)
	tensor.FillRand(&b.Wk, seed+2)
	tensor.FillRand(&b.Wv, seed+3)
	tensor.FillRand(&b.Wo, seed+4)
	tensor.FillRand(&b.Fc1, seed+5)
	tensor.FillRand(&b.Fc2, seed+6)
	tensor.FillRand(&b.AdaLin, seed+7)
	return b
}

// KVCaching toggles append-mode attention.
func (b *AttnBlock) KVCaching(on bool) { b.caching = on }

// ResetCache drops all cached keys and values.
func (b *AttnBlock) ResetCache() {
	b.kCache = tensor.Seq{}
	b.vCache = tensor.Seq{}
}

// CachingEnabled reports whether the block is in append mode.
func (b *AttnBlock) CachingEnabled() bool { return b.caching }

// CacheLen returns the number of cached positions.
func (b *AttnBlock) CacheLen() int { return b.kCache.L }

// ExpandCache repeats every cached sample factor times along the batch axis.
func (b *AttnBlock) ExpandCache(factor int) {
	if b.kCache.L == 0 {
		return
	}
	b.kCache = b.kCache.ExpandBatch(factor)
	b.vCache = b.vCache.ExpandBatch(factor)
}

// SelectCache gathers a subset of cached samples along the batch axis.
func (b *AttnBlock) SelectCache(idx []int) {
	if b.kCache.L == 0 {
		return
	}
	b.kCache = b.kCache.SelectBatch(idx)
	b.vCache = b.vCache.SelectBatch(idx)
}

// DuplicateCacheBatch tiles the whole cached batch dimension by two.
func (b *AttnBlock) DuplicateCacheBatch() {
	if b.kCache.L == 0 {
		return
	}
	b.kCache = b.kCache.RepeatBatch(2)
	b.vCache = b.vCache.RepeatBatch(2)
}

// Forward runs the block over x. cond holds one conditioning vector per batch
// item; its batch dimension must match x.
func (b *AttnBlock) Forward(x tensor.Seq, cond tensor.Mat, bias *tensor.Mat) tensor.Seq {
	if cond.R != x.B {
		panic("backbone: conditioning batch mismatch")
	}
	if b.caching && b.kCache.L > 0 && b.kCache.B != x.B {
		panic("backbone: cache batch does not match input batch")
	}

	C := b.C
	mod := tensor.NewMat(x.B, 6*C)
	for bi := 0; bi < x.B; bi++ {
		tensor.MatVec(mod.Row(bi), &b.AdaLin, cond.Row(bi))
	}

	// Attention sublayer.
	kNew := tensor.NewSeq(x.B, x.L, C)
	vNew := tensor.NewSeq(x.B, x.L, C)
	q := tensor.NewSeq(x.B, x.L, C)
	h := make([]float32, C)
	for bi := 0; bi < x.B; bi++ {
		m := mod.Row(bi)
		shift, scale := m[:C], m[C:2*C]
		for l := 0; l < x.L; l++ {
			tensor.LayerNorm(h, x.Row(bi, l), b.Eps)
			for i := 0; i < C; i++ {
				h[i] = h[i]*(1+scale[i]) + shift[i]
			}
			tensor.MatVec(q.Row(bi, l), &b.Wq, h)
			tensor.MatVec(kNew.Row(bi, l), &b.Wk, h)
			tensor.MatVec(vNew.Row(bi, l), &b.Wv, h)
		}
	}

	kAll, vAll := kNew, vNew
	if b.caching {
		if b.kCache.L > 0 {
			kAll = tensor.ConcatLen(b.kCache, kNew)
			vAll = tensor.ConcatLen(b.vCache, vNew)
		}
		b.kCache = kAll
		b.vCache = vAll
	}
	if bias != nil && (bias.R != x.L || bias.C != kAll.L) {
		panic("backbone: attention bias shape mismatch")
	}

	out := x.Clone()
	invSqrt := float32(1.0 / math.Sqrt(float64(C)))
	scores := make([]float32, kAll.L)
	attn := make([]float32, C)
	proj := make([]float32, C)
	for bi := 0; bi < x.B; bi++ {
		m := mod.Row(bi)
		gate := m[2*C : 3*C]
		for l := 0; l < x.L; l++ {
			for j := 0; j < kAll.L; j++ {
				scores[j] = tensor.Dot(q.Row(bi, l), kAll.Row(bi, j)) * invSqrt
				if bias != nil {
					scores[j] += bias.Row(l)[j]
				}
			}
			tensor.Softmax(scores)
			for i := range attn {
				attn[i] = 0
			}
			for j := 0; j < kAll.L; j++ {
				w := scores[j]
				if w == 0 {
					continue
				}
				v := vAll.Row(bi, j)
				for i := 0; i < C; i++ {
					attn[i] += w * v[i]
				}
			}
			tensor.MatVec(proj, &b.Wo, attn)
			row := out.Row(bi, l)
			for i := 0; i < C; i++ {
				row[i] += gate[i] * proj[i]
			}
		}
	}

	// MLP sublayer.
	u := make([]float32, 4*C)
	for bi := 0; bi < x.B; bi++ {
		m := mod.Row(bi)
		shift, scale, gate := m[3*C:4*C], m[4*C:5*C], m[5*C:6*C]
		for l := 0; l < x.L; l++ {
			row := out.Row(bi, l)
			tensor.LayerNorm(h, row, b.Eps)
			for i := 0; i < C; i++ {
				h[i] = h[i]*(1+scale[i]) + shift[i]
			}
			tensor.MatVec(u, &b.Fc1, h)
			for i := range u {
				u[i] = tensor.Gelu(u[i])
			}
			tensor.MatVec(proj, &b.Fc2, u)
			for i := 0; i < C; i++ {
				row[i] += gate[i] * proj[i]
			}
		}
	}
	return out
}
