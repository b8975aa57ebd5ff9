// Package engine implements the multi-scale autoregressive decoding engine:
// the control loop that drives a transformer backbone through the token
// pyramid scale by scale, under classifier-free guidance, with inpainting,
// speculative draft/refine and beam-search variants.
package engine

import (
	"math/rand"

	"github.com/strataml/strata/internal/backbone"
	"github.com/strataml/strata/internal/codec"
	"github.com/strataml/strata/internal/logger"
	"github.com/strataml/strata/internal/schedule"
	"github.com/strataml/strata/internal/tensor"
)

// Model owns everything a decoding run needs: the schedule, the backbone
// blocks and their cache controller, the token codec, the image decoder, the
// embedding tables, and the run random generator.
//
// A Model is not safe for concurrent runs: the caches and the generator are
// mutated in place. Callers must serialize runs per instance.
type Model struct {
	sched  *schedule.Schedule
	blocks []backbone.Block
	cache  *backbone.Controller
	codec  codec.Codec
	dec    codec.Decoder

	numClasses int
	embedDim   int

	classEmb tensor.Mat // (numClasses+1, C); last row is the unconditional sentinel
	posStart tensor.Mat // (firstL, C) learned start position
	lvlPos   tensor.Mat // (TotalLen, C) level + absolute position, combined
	wordEmb  tensor.Mat // (C, Cvae) codec-space to backbone-space projection
	headMod  tensor.Mat // (2C, C) shift/scale before the classifier head
	head     tensor.Mat // (V, C) classifier head

	rng *rand.Rand
	log logger.Logger
}

// Config describes a model to build with seeded random parameters.
type Config struct {
	Schedule   []int // scale side lengths; nil means the default ten scales
	Depth      int
	EmbedDim   int
	CodecDim   int
	Vocab      int
	NumClasses int
	Seed       int64
	Logger     logger.Logger
}

// New builds a model with its reference collaborators (quantizer, decoder,
// attention blocks), all deterministically initialized from cfg.Seed.
func New(cfg Config) (*Model, error) {
	if cfg.Depth < 1 {
		return nil, newConfigError("depth %d must be >= 1", cfg.Depth)
	}
	if cfg.EmbedDim < 1 || cfg.CodecDim < 1 {
		return nil, newConfigError("embed dim %d and codec dim %d must be >= 1", cfg.EmbedDim, cfg.CodecDim)
	}
	if cfg.Vocab < 2 {
		return nil, newConfigError("vocab size %d must be >= 2", cfg.Vocab)
	}
	if cfg.NumClasses < 1 {
		return nil, newConfigError("num classes %d must be >= 1", cfg.NumClasses)
	}

	var sched *schedule.Schedule
	var err error
	if cfg.Schedule == nil {
		sched = schedule.Default()
	} else if sched, err = schedule.New(cfg.Schedule); err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	blocks := make([]backbone.Block, cfg.Depth)
	for i := range blocks {
		blocks[i] = backbone.NewAttnBlock(cfg.EmbedDim, cfg.EmbedDim, cfg.Seed+int64(100+i))
	}

	m := &Model{
		sched:      sched,
		blocks:     blocks,
		cache:      backbone.NewController(blocks),
		codec:      codec.NewQuantizer(sched, cfg.Vocab, cfg.CodecDim, cfg.Seed+31),
		dec:        codec.NewLinearDecoder(cfg.CodecDim, cfg.Seed+37),
		numClasses: cfg.NumClasses,
		embedDim:   cfg.EmbedDim,
		classEmb:   tensor.NewMat(cfg.NumClasses+1, cfg.EmbedDim),
		posStart:   tensor.NewMat(sched.Length[0], cfg.EmbedDim),
		lvlPos:     tensor.NewMat(sched.TotalLen, cfg.EmbedDim),
		wordEmb:    tensor.NewMat(cfg.EmbedDim, cfg.CodecDim),
		headMod:    tensor.NewMat(2*cfg.EmbedDim, cfg.EmbedDim),
		head:       tensor.NewMat(cfg.Vocab, cfg.EmbedDim),
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		log:        log,
	}
	tensor.FillRand(&m.classEmb, cfg.Seed+41)
	tensor.FillRand(&m.posStart, cfg.Seed+43)
	tensor.FillRand(&m.wordEmb, cfg.Seed+47)
	tensor.FillRand(&m.headMod, cfg.Seed+53)
	tensor.FillRand(&m.head, cfg.Seed+59)

	// Level and absolute position embeddings are drawn separately and summed
	// once, so the hot path adds a single row per token.
	pos := tensor.NewMat(sched.TotalLen, cfg.EmbedDim)
	lvl := tensor.NewMat(sched.Steps(), cfg.EmbedDim)
	tensor.FillRand(&pos, cfg.Seed+61)
	tensor.FillRand(&lvl, cfg.Seed+67)
	for i := 0; i < sched.TotalLen; i++ {
		row := m.lvlPos.Row(i)
		copy(row, pos.Row(i))
		tensor.Add(row, lvl.Row(sched.Levels[i]))
	}
	return m, nil
}

// Schedule returns the model's scale schedule.
func (m *Model) Schedule() *schedule.Schedule { return m.sched }

// Cache returns the cache controller; exposed for invariant checks.
func (m *Model) Cache() *backbone.Controller { return m.cache }

// NumClasses returns the number of conditioning classes.
func (m *Model) NumClasses() int { return m.numClasses }

// runRNG reseeds the model generator when a seed is supplied and returns it.
func (m *Model) runRNG(seed *int64) *rand.Rand {
	if seed != nil {
		m.rng = rand.New(rand.NewSource(*seed))
	}
	return m.rng
}

// logits applies the modulated pre-head norm and the classifier head.
func (m *Model) logits(x tensor.Seq, cond tensor.Mat) tensor.Seq {
	v := m.head.R
	c := m.embedDim
	out := tensor.NewSeq(x.B, x.L, v)
	mod := make([]float32, 2*c)
	h := make([]float32, c)
	for b := 0; b < x.B; b++ {
		tensor.MatVec(mod, &m.headMod, cond.Row(b))
		shift, scale := mod[:c], mod[c:]
		for l := 0; l < x.L; l++ {
			tensor.LayerNorm(h, x.Row(b, l), 1e-6)
			for i := 0; i < c; i++ {
				h[i] = h[i]*(1+scale[i]) + shift[i]
			}
			tensor.MatVec(out.Row(b, l), &m.head, h)
		}
	}
	return out
}

// embedNext projects a codec-space token map into backbone space, adds the
// level/position slice starting at curL, and doubles the batch for guidance.
func (m *Model) embedNext(tokens tensor.Seq, curL int) tensor.Seq {
	out := tensor.NewSeq(tokens.B, tokens.L, m.embedDim)
	for b := 0; b < tokens.B; b++ {
		for l := 0; l < tokens.L; l++ {
			row := out.Row(b, l)
			tensor.MatVec(row, &m.wordEmb, tokens.Row(b, l))
			tensor.Add(row, m.lvlPos.Row(curL+l))
		}
	}
	return out.RepeatBatch(2)
}

// embedPrefix is embedNext without the guidance doubling, used by the
// likelihood scorer and the refine entry pass helper.
func (m *Model) embedPrefix(tokens tensor.Seq, startPos int) tensor.Seq {
	out := tensor.NewSeq(tokens.B, tokens.L, m.embedDim)
	for b := 0; b < tokens.B; b++ {
		for l := 0; l < tokens.L; l++ {
			row := out.Row(b, l)
			tensor.MatVec(row, &m.wordEmb, tokens.Row(b, l))
			tensor.Add(row, m.lvlPos.Row(startPos+l))
		}
	}
	return out
}

// seqToGrid reshapes a (B, side*side, C) sequence into a (B, C, side, side)
// spatial map.
func seqToGrid(s tensor.Seq, side int) tensor.Grid {
	out := tensor.NewGrid(s.B, s.C, side, side)
	for b := 0; b < s.B; b++ {
		for y := 0; y < side; y++ {
			for x := 0; x < side; x++ {
				row := s.Row(b, y*side+x)
				for c := 0; c < s.C; c++ {
					out.Set(b, c, y, x, row[c])
				}
			}
		}
	}
	return out
}

// gridToSeq flattens a (B, C, H, W) map into a (B, H*W, C) sequence.
func gridToSeq(g tensor.Grid) tensor.Seq {
	out := tensor.NewSeq(g.B, g.H*g.W, g.C)
	for b := 0; b < g.B; b++ {
		for y := 0; y < g.H; y++ {
			for x := 0; x < g.W; x++ {
				row := out.Row(b, y*g.W+x)
				for c := 0; c < g.C; c++ {
					row[c] = g.At(b, c, y, x)
				}
			}
		}
	}
	return out
}

func ratio(si, steps int) float64 {
	if steps < 2 {
		return 0
	}
	return float64(si) / float64(steps-1)
}
