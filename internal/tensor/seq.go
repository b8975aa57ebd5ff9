package tensor

// Seq is a dense (Batch, Len, Dim) tensor stored row-major: all positions of
// sample 0 first, then sample 1, and so on. It is the shape carried between
// decoding steps: a batch of token rows, one Dim-wide vector per position.
type Seq struct {
	B, L, C int
	Data    []float32
}

// NewSeq allocates a zeroed sequence tensor.
func NewSeq(b, l, c int) Seq {
	if b < 0 || l < 0 || c < 0 {
		panic("negative dimension for sequence")
	}
	return Seq{B: b, L: l, C: c, Data: make([]float32, b*l*c)}
}

// Row returns a view of the vector at (batch b, position l).
func (s *Seq) Row(b, l int) []float32 {
	if b < 0 || b >= s.B || l < 0 || l >= s.L {
		panic("sequence index out of range")
	}
	start := (b*s.L + l) * s.C
	return s.Data[start : start+s.C]
}

// Clone returns a deep copy.
func (s *Seq) Clone() Seq {
	out := Seq{B: s.B, L: s.L, C: s.C, Data: make([]float32, len(s.Data))}
	copy(out.Data, s.Data)
	return out
}

// RepeatBatch tiles the whole batch dimension n times: [x0..xB-1] becomes
// [x0..xB-1, x0..xB-1, ...].
func (s *Seq) RepeatBatch(n int) Seq {
	out := NewSeq(s.B*n, s.L, s.C)
	chunk := s.B * s.L * s.C
	for i := 0; i < n; i++ {
		copy(out.Data[i*chunk:(i+1)*chunk], s.Data)
	}
	return out
}

// ExpandBatch repeats every sample factor times in place order:
// [x0, x1] with factor 2 becomes [x0, x0, x1, x1].
func (s *Seq) ExpandBatch(factor int) Seq {
	out := NewSeq(s.B*factor, s.L, s.C)
	chunk := s.L * s.C
	for b := 0; b < s.B; b++ {
		src := s.Data[b*chunk : (b+1)*chunk]
		for f := 0; f < factor; f++ {
			dst := ((b*factor + f) * chunk)
			copy(out.Data[dst:dst+chunk], src)
		}
	}
	return out
}

// SelectBatch gathers the given batch indices into a new sequence.
func (s *Seq) SelectBatch(idx []int) Seq {
	out := NewSeq(len(idx), s.L, s.C)
	chunk := s.L * s.C
	for i, b := range idx {
		if b < 0 || b >= s.B {
			panic("batch index out of range")
		}
		copy(out.Data[i*chunk:(i+1)*chunk], s.Data[b*chunk:(b+1)*chunk])
	}
	return out
}

// SliceLen copies positions [lo, hi) into a new sequence.
func (s *Seq) SliceLen(lo, hi int) Seq {
	if lo < 0 || hi > s.L || lo > hi {
		panic("sequence slice out of range")
	}
	out := NewSeq(s.B, hi-lo, s.C)
	for b := 0; b < s.B; b++ {
		for l := lo; l < hi; l++ {
			copy(out.Row(b, l-lo), s.Row(b, l))
		}
	}
	return out
}

// ConcatLen concatenates a and b along the position axis.
func ConcatLen(a, b Seq) Seq {
	if a.B != b.B || a.C != b.C {
		panic("concat shape mismatch")
	}
	out := NewSeq(a.B, a.L+b.L, a.C)
	for bi := 0; bi < a.B; bi++ {
		for l := 0; l < a.L; l++ {
			copy(out.Row(bi, l), a.Row(bi, l))
		}
		for l := 0; l < b.L; l++ {
			copy(out.Row(bi, a.L+l), b.Row(bi, l))
		}
	}
	return out
}
