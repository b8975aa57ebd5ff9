package tensor

// Grid is a dense (Batch, Channel, H, W) tensor stored row-major. It carries
// spatial latents: the accumulating canvas, per-scale token maps in codec
// space, and inpainting masks (single channel).
type Grid struct {
	B, C, H, W int
	Data       []float32
}

// NewGrid allocates a zeroed grid.
func NewGrid(b, c, h, w int) Grid {
	if b < 0 || c < 0 || h < 0 || w < 0 {
		panic("negative dimension for grid")
	}
	return Grid{B: b, C: c, H: h, W: w, Data: make([]float32, b*c*h*w)}
}

// At returns the value at (b, c, y, x).
func (g *Grid) At(b, c, y, x int) float32 {
	return g.Data[((b*g.C+c)*g.H+y)*g.W+x]
}

// Set writes the value at (b, c, y, x).
func (g *Grid) Set(b, c, y, x int, v float32) {
	g.Data[((b*g.C+c)*g.H+y)*g.W+x] = v
}

// Plane returns a view of one (H*W) channel plane.
func (g *Grid) Plane(b, c int) []float32 {
	start := (b*g.C + c) * g.H * g.W
	return g.Data[start : start+g.H*g.W]
}

// Clone returns a deep copy.
func (g *Grid) Clone() Grid {
	out := Grid{B: g.B, C: g.C, H: g.H, W: g.W, Data: make([]float32, len(g.Data))}
	copy(out.Data, g.Data)
	return out
}

// ExpandBatch repeats every sample factor times in place order.
func (g *Grid) ExpandBatch(factor int) Grid {
	out := NewGrid(g.B*factor, g.C, g.H, g.W)
	chunk := g.C * g.H * g.W
	for b := 0; b < g.B; b++ {
		src := g.Data[b*chunk : (b+1)*chunk]
		for f := 0; f < factor; f++ {
			dst := (b*factor + f) * chunk
			copy(out.Data[dst:dst+chunk], src)
		}
	}
	return out
}

// SelectBatch gathers the given batch indices into a new grid.
func (g *Grid) SelectBatch(idx []int) Grid {
	out := NewGrid(len(idx), g.C, g.H, g.W)
	chunk := g.C * g.H * g.W
	for i, b := range idx {
		if b < 0 || b >= g.B {
			panic("batch index out of range")
		}
		copy(out.Data[i*chunk:(i+1)*chunk], g.Data[b*chunk:(b+1)*chunk])
	}
	return out
}

// ResizeNearest resizes every channel plane to (h, w) with nearest-neighbor
// interpolation. It is used both for upsampling scale token maps onto the
// canvas and for snapping inpainting masks to the finest resolution.
func ResizeNearest(g Grid, h, w int) Grid {
	if g.H == h && g.W == w {
		return g.Clone()
	}
	out := NewGrid(g.B, g.C, h, w)
	for b := 0; b < g.B; b++ {
		for c := 0; c < g.C; c++ {
			src := g.Plane(b, c)
			dst := out.Plane(b, c)
			for y := 0; y < h; y++ {
				sy := y * g.H / h
				for x := 0; x < w; x++ {
					sx := x * g.W / w
					dst[y*w+x] = src[sy*g.W+sx]
				}
			}
		}
	}
	return out
}
