package engine

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/strataml/strata/internal/tensor"
)

// cfgCombine folds the doubled guidance batch back to its true batch size:
// combined = (1+t)*cond - t*uncond per logit. Non-finite results are
// surfaced, not clipped.
func cfgCombine(logits tensor.Seq, t float64) (tensor.Seq, error) {
	if logits.B%2 != 0 {
		panic("engine: guidance batch is not doubled")
	}
	b := logits.B / 2
	out := tensor.NewSeq(b, logits.L, logits.C)
	tf := float32(t)
	for bi := 0; bi < b; bi++ {
		for l := 0; l < logits.L; l++ {
			c := logits.Row(bi, l)
			u := logits.Row(b+bi, l)
			dst := out.Row(bi, l)
			for i := range dst {
				dst[i] = (1+tf)*c[i] - tf*u[i]
			}
			if !tensor.IsFinite(dst) {
				return tensor.Seq{}, runError{
					msg:  fmt.Sprintf("non-finite logits at guidance strength %g", t),
					base: ErrNonFiniteLogits,
				}
			}
		}
	}
	return out, nil
}

// sampleTokens draws one token id per position of every sample.
func sampleTokens(rng *rand.Rand, logits tensor.Seq, topK int, topP, temp float64) [][]int {
	out := make([][]int, logits.B)
	scratch := make([]float32, logits.C)
	idx := make([]int, logits.C)
	for b := range out {
		row := make([]int, logits.L)
		for l := 0; l < logits.L; l++ {
			row[l] = drawFiltered(rng, logits.Row(b, l), scratch, idx, topK, topP, temp)
		}
		out[b] = row
	}
	return out
}

// drawFiltered samples one id from a logit row after temperature scaling,
// top-k truncation and nucleus truncation. scratch and idx are reusable
// buffers of vocabulary length.
func drawFiltered(rng *rand.Rand, logits, scratch []float32, idx []int, k int, p, temp float64) int {
	v := len(logits)
	inv := float32(1.0 / temp)
	for i, x := range logits {
		scratch[i] = x * inv
	}

	if k > 0 && k < v {
		// Track the k largest values in a small descending shortlist; the
		// last entry is the cutoff.
		top := make([]float32, 0, k)
		for _, x := range scratch {
			if len(top) == k && x <= top[k-1] {
				continue
			}
			pos := len(top)
			if len(top) < k {
				top = append(top, x)
			} else {
				pos = k - 1
				top[pos] = x
			}
			for pos > 0 && top[pos-1] < top[pos] {
				top[pos-1], top[pos] = top[pos], top[pos-1]
				pos--
			}
		}
		thr := top[len(top)-1]
		neg := float32(math.Inf(-1))
		for i, x := range scratch {
			if x < thr {
				scratch[i] = neg
			}
		}
	}

	tensor.Softmax(scratch)

	if p > 0 && p < 1 {
		for i := range idx {
			idx[i] = i
		}
		sort.Slice(idx, func(a, b int) bool { return scratch[idx[a]] > scratch[idx[b]] })
		var cum float64
		cut := v
		for i, id := range idx {
			cum += float64(scratch[id])
			if cum >= p {
				cut = i + 1
				break
			}
		}
		var kept float32
		for _, id := range idx[:cut] {
			kept += scratch[id]
		}
		for _, id := range idx[cut:] {
			scratch[id] = 0
		}
		if kept > 0 {
			tensor.Scale(scratch, 1/kept)
		}
	}

	u := rng.Float64()
	var cum float64
	for i, q := range scratch {
		cum += float64(q)
		if u < cum {
			return i
		}
	}
	// Round-off can leave u just past the accumulated mass.
	for i := v - 1; i >= 0; i-- {
		if scratch[i] > 0 {
			return i
		}
	}
	return v - 1
}

// smoothTau is the Gumbel-softmax temperature ramp: sharp near the finest
// scale, never below the floor that keeps the softmax well conditioned.
func smoothTau(ratio float64) float64 {
	tau := 0.27 * (1 - ratio*0.95)
	if tau < 0.005 {
		tau = 0.005
	}
	return tau
}

// gumbelSoft draws a relaxed token: Gumbel-perturbed logits are softmaxed at
// temperature tau and the resulting weights mix the codebook rows into dst.
func gumbelSoft(rng *rand.Rand, logits []float32, tau float64, table *tensor.Mat, weights, dst []float32) {
	invTau := 1.0 / tau
	for i, x := range logits {
		u := rng.Float64()
		if u < 1e-12 {
			u = 1e-12
		}
		g := -math.Log(-math.Log(u))
		weights[i] = float32((float64(x) + g) * invTau)
	}
	tensor.Softmax(weights)
	for j := range dst {
		dst[j] = 0
	}
	for i, w := range weights {
		if w == 0 {
			continue
		}
		row := table.Row(i)
		for j := range dst {
			dst[j] += w * row[j]
		}
	}
}
