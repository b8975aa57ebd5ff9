// Package schedule describes the token pyramid: the ordered side lengths of
// every scale, the contiguous block each scale occupies in the flattened
// token sequence, and the causal-by-scale attention bias.
package schedule

import (
	"fmt"
	"math"

	"github.com/strataml/strata/internal/tensor"
)

// Schedule is the static description of a token pyramid. A token sequence of
// TotalLen positions is partitioned into len(Sides) contiguous blocks; block
// s holds the Sides[s] x Sides[s] token map of scale s.
type Schedule struct {
	Sides    []int // side length per scale, coarse to fine
	Length   []int // Sides[s]^2
	Offset   []int // cumulative start per scale; len(Sides)+1 entries
	TotalLen int
	Levels   []int // scale index per flattened position

	bias tensor.Mat // TotalLen x TotalLen, 0 where attendable, -Inf otherwise
}

// New builds a schedule from the ordered scale side lengths.
func New(sides []int) (*Schedule, error) {
	if len(sides) < 2 {
		return nil, fmt.Errorf("schedule: need at least two scales, got %d", len(sides))
	}
	for i, pn := range sides {
		if pn <= 0 {
			return nil, fmt.Errorf("schedule: side %d is %d, must be positive", i, pn)
		}
		if i > 0 && pn < sides[i-1] {
			return nil, fmt.Errorf("schedule: side %d (%d) smaller than side %d (%d)", i, pn, i-1, sides[i-1])
		}
	}

	s := &Schedule{
		Sides:  append([]int(nil), sides...),
		Length: make([]int, len(sides)),
		Offset: make([]int, len(sides)+1),
	}
	for i, pn := range sides {
		s.Length[i] = pn * pn
		s.Offset[i+1] = s.Offset[i] + s.Length[i]
	}
	s.TotalLen = s.Offset[len(sides)]

	s.Levels = make([]int, s.TotalLen)
	for i := range sides {
		for p := s.Offset[i]; p < s.Offset[i+1]; p++ {
			s.Levels[p] = i
		}
	}

	negInf := float32(math.Inf(-1))
	s.bias = tensor.NewMat(s.TotalLen, s.TotalLen)
	for i := 0; i < s.TotalLen; i++ {
		row := s.bias.Row(i)
		for j := 0; j < s.TotalLen; j++ {
			if s.Levels[i] < s.Levels[j] {
				row[j] = negInf
			}
		}
	}
	return s, nil
}

// Default returns the ten-scale schedule used for 256x256 generation.
func Default() *Schedule {
	s, err := New([]int{1, 2, 3, 4, 5, 6, 8, 10, 13, 16})
	if err != nil {
		panic(err)
	}
	return s
}

// Steps returns the number of scales.
func (s *Schedule) Steps() int { return len(s.Sides) }

// FinalSide returns the side length of the finest scale.
func (s *Schedule) FinalSide() int { return s.Sides[len(s.Sides)-1] }

// BiasView returns the causal-by-scale attention bias restricted to the
// first n positions. The returned matrix is a view; callers must not write
// through it.
func (s *Schedule) BiasView(n int) tensor.Mat {
	return s.bias.View(n, n)
}
