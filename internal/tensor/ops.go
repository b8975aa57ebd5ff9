package tensor

import "math"

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Scale multiplies every element of x by s.
func Scale(x []float32, s float32) {
	for i := range x {
		x[i] *= s
	}
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// MatVec computes dst = W * x where W is (out, in) and x has length in.
// Each output element is the dot product of one weight row with x.
func MatVec(dst []float32, w *Mat, x []float32) {
	if len(dst) < w.R || len(x) < w.C {
		panic("MatVec dimension mismatch")
	}
	for o := 0; o < w.R; o++ {
		dst[o] = Dot(w.Row(o), x)
	}
}

// Softmax applies the softmax function to x in place.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// LogSoftmax writes log-softmax of src into dst.
func LogSoftmax(dst, src []float32) {
	maxv := src[0]
	for i := 1; i < len(src); i++ {
		if src[i] > maxv {
			maxv = src[i]
		}
	}
	var sum float64
	for i := range src {
		sum += math.Exp(float64(src[i] - maxv))
	}
	logSum := float32(math.Log(sum)) + maxv
	for i := range src {
		dst[i] = src[i] - logSum
	}
}

// LayerNorm normalizes src to zero mean and unit variance, writing into dst.
func LayerNorm(dst, src []float32, eps float32) {
	var mean float32
	for _, v := range src {
		mean += v
	}
	mean /= float32(len(src))
	var vr float32
	for _, v := range src {
		d := v - mean
		vr += d * d
	}
	vr /= float32(len(src))
	scale := float32(1.0 / math.Sqrt(float64(vr+eps)))
	for i := range src {
		dst[i] = (src[i] - mean) * scale
	}
}

// Gelu computes the Gaussian Error Linear Unit activation (tanh approximation).
func Gelu(x float32) float32 {
	const c = 0.7978845608028654 // sqrt(2/pi)
	x64 := float64(x)
	return float32(0.5 * x64 * (1 + math.Tanh(c*(x64+0.044715*x64*x64*x64))))
}

// IsFinite reports whether every element of x is a finite number.
func IsFinite(x []float32) bool {
	for _, v := range x {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}
	return true
}
