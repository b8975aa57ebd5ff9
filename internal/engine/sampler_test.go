package engine

import (
	"math/rand"
	"testing"

	"github.com/strataml/strata/internal/tensor"
)

func drawOnce(t *testing.T, logits []float32, k int, p, temp float64, seed int64) int {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	scratch := make([]float32, len(logits))
	idx := make([]int, len(logits))
	return drawFiltered(rng, logits, scratch, idx, k, p, temp)
}

func TestDrawFilteredGreedy(t *testing.T) {
	t.Parallel()
	logits := []float32{0.1, 2.5, -1, 0.3}
	for seed := int64(0); seed < 8; seed++ {
		if got := drawOnce(t, logits, 1, 0, 1, seed); got != 1 {
			t.Fatalf("top_k=1 must pick the argmax, got %d", got)
		}
	}
}

func TestDrawFilteredTopKExcludesTail(t *testing.T) {
	t.Parallel()
	logits := []float32{5, 4, -10, -10, -10}
	for seed := int64(0); seed < 32; seed++ {
		got := drawOnce(t, logits, 2, 0, 1, seed)
		if got != 0 && got != 1 {
			t.Fatalf("top_k=2 drew excluded id %d", got)
		}
	}
}

func TestDrawFilteredTopPExcludesTail(t *testing.T) {
	t.Parallel()
	// One token carries almost all the mass; a tight nucleus keeps only it.
	logits := []float32{10, 0, 0, 0}
	for seed := int64(0); seed < 32; seed++ {
		if got := drawOnce(t, logits, 0, 0.5, 1, seed); got != 0 {
			t.Fatalf("top_p=0.5 drew excluded id %d", got)
		}
	}
}

func TestDrawFilteredTemperatureSharpens(t *testing.T) {
	t.Parallel()
	logits := []float32{1, 0.9, 0.8, 0.7}
	hits := 0
	const draws = 200
	for seed := int64(0); seed < draws; seed++ {
		if drawOnce(t, logits, 0, 0, 0.02, seed) == 0 {
			hits++
		}
	}
	if hits < draws*9/10 {
		t.Fatalf("low temperature should concentrate on the argmax, got %d/%d", hits, draws)
	}
}

func TestSampleTokensShape(t *testing.T) {
	t.Parallel()
	logits := tensor.NewSeq(2, 3, 4)
	rng := rand.New(rand.NewSource(1))
	out := sampleTokens(rng, logits, 0, 0, 1)
	if len(out) != 2 || len(out[0]) != 3 || len(out[1]) != 3 {
		t.Fatalf("shape: %v", out)
	}
	for _, row := range out {
		for _, id := range row {
			if id < 0 || id >= 4 {
				t.Fatalf("id out of range: %d", id)
			}
		}
	}
}

func TestSmoothTauRamp(t *testing.T) {
	t.Parallel()
	if got := smoothTau(0); got != 0.27 {
		t.Fatalf("tau at ratio 0: got %v, want 0.27", got)
	}
	if got := smoothTau(1); got < 0.005 {
		t.Fatalf("tau floor violated: %v", got)
	}
	if smoothTau(0.5) >= smoothTau(0.1) {
		t.Fatal("tau must decrease with ratio")
	}
}

func TestGumbelSoftMixesCodebook(t *testing.T) {
	t.Parallel()
	table := tensor.NewMat(3, 2)
	copy(table.Row(0), []float32{1, 0})
	copy(table.Row(1), []float32{0, 1})
	copy(table.Row(2), []float32{-1, -1})

	rng := rand.New(rand.NewSource(5))
	weights := make([]float32, 3)
	dst := make([]float32, 2)
	// A dominant logit at a sharp temperature puts nearly all weight on one row.
	gumbelSoft(rng, []float32{50, 0, 0}, 0.005, &table, weights, dst)
	if dst[0] < 0.99 {
		t.Fatalf("expected near-pure row 0 mix, got %v", dst)
	}
}

func TestSmoothTemperatureBounds(t *testing.T) {
	t.Parallel()
	for _, r := range []float64{0, 0.25, 0.5, 0.75, 1} {
		tau := smoothTau(r)
		if tau < 0.005 || tau > 0.27 {
			t.Fatalf("tau out of range at ratio %v: %v", r, tau)
		}
	}
}
