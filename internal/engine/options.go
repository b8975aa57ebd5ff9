package engine

import "github.com/strataml/strata/internal/tensor"

// Options configures one generation run.
//
// TopK and Temperature accept either a single value applied to every scale
// or one value per scale; they are resolved into full per-scale sequences
// before the run starts so the sampling hot path never branches on arity.
type Options struct {
	BatchSize int

	// Label selects the class to condition on. A negative value means
	// unconditional. Labels, when set, supplies one class per batch item and
	// takes precedence. When neither is set the run samples labels uniformly
	// from the run's random generator.
	Label  *int
	Labels []int

	// Seed reseeds the model's random generator for this run. Identical
	// seed and configuration produce bit-identical output.
	Seed *int64

	// CFG is the classifier-free guidance scale; guidance strength ramps
	// linearly from zero at the coarsest scale up to CFG at the finest.
	CFG float64

	TopK        []int     // len 0 (no filtering), 1, or Steps()
	TopP        float64   // nucleus threshold in [0,1]; 0 disables
	Temperature []float64 // len 0 (1.0), 1, or Steps()

	// Smooth replaces hard sampling with a Gumbel-softmax relaxation over
	// the codebook. Visualization only; never for likelihood-sensitive work.
	Smooth bool

	// Inpaint, when set, composites externally supplied content at every
	// scale and in the final output.
	Inpaint *InpaintSpec

	// OnScale, when set, is called after each completed scale.
	OnScale func(done, total int)
}

// InpaintSpec carries the ground-truth latent canvas and the spatial masks
// for an inpainting run. Masks are single-channel and are resized to the
// finest resolution with nearest-neighbor interpolation; MaskIn marks cells
// supplied as ground truth, MaskOut marks cells exposed in the final image.
type InpaintSpec struct {
	Reference tensor.Grid
	MaskIn    tensor.Grid
	MaskOut   tensor.Grid
}

// runParams is an Options resolved against a schedule: per-scale sequences
// materialized, everything validated.
type runParams struct {
	batch   int
	label   *int
	labels  []int
	seed    *int64
	cfg     float64
	topK    []int
	topP    float64
	temp    []float64
	smooth  bool
	inpaint *InpaintSpec
	onScale func(done, total int)
}

func (m *Model) normalize(opts Options) (*runParams, error) {
	s := m.sched.Steps()

	p := &runParams{
		label:   opts.Label,
		seed:    opts.Seed,
		cfg:     opts.CFG,
		topP:    opts.TopP,
		smooth:  opts.Smooth,
		inpaint: opts.Inpaint,
		onScale: opts.OnScale,
	}

	p.batch = opts.BatchSize
	if p.batch == 0 {
		p.batch = 1
	}
	if p.batch < 0 {
		return nil, newConfigError("batch size %d must be positive", p.batch)
	}
	if opts.Labels != nil {
		if len(opts.Labels) != p.batch {
			return nil, newConfigError("got %d labels for batch size %d", len(opts.Labels), p.batch)
		}
		p.labels = opts.Labels
	}
	if p.cfg < 0 {
		return nil, newSamplingError("guidance scale %g must be >= 0", p.cfg)
	}
	if p.topP < 0 || p.topP > 1 {
		return nil, newSamplingError("top_p %g outside [0,1]", p.topP)
	}

	var err error
	p.topK, err = resolveTopK(opts.TopK, s)
	if err != nil {
		return nil, err
	}
	p.temp, err = resolveTemperature(opts.Temperature, s)
	if err != nil {
		return nil, err
	}

	if p.inpaint != nil {
		if err := m.checkInpaint(p.inpaint); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func resolveTopK(topK []int, steps int) ([]int, error) {
	out := make([]int, steps)
	switch len(topK) {
	case 0:
	case 1:
		for i := range out {
			out[i] = topK[0]
		}
	case steps:
		copy(out, topK)
	default:
		return nil, newConfigError("top_k needs 1 or %d values, got %d", steps, len(topK))
	}
	for i, k := range out {
		if k < 0 {
			return nil, newSamplingError("top_k %d at scale %d must be >= 0", k, i)
		}
	}
	return out, nil
}

func resolveTemperature(temp []float64, steps int) ([]float64, error) {
	out := make([]float64, steps)
	for i := range out {
		out[i] = 1
	}
	switch len(temp) {
	case 0:
	case 1:
		for i := range out {
			out[i] = temp[0]
		}
	case steps:
		copy(out, temp)
	default:
		return nil, newConfigError("temperature needs 1 or %d values, got %d", steps, len(temp))
	}
	for i, t := range out {
		if t <= 0 {
			return nil, newSamplingError("temperature %g at scale %d must be positive", t, i)
		}
	}
	return out, nil
}

func (m *Model) checkInpaint(spec *InpaintSpec) error {
	final := m.sched.FinalSide()
	ref := spec.Reference
	if ref.C != m.codec.ChannelDim() {
		return newConfigError("reference canvas has %d channels, codec uses %d", ref.C, m.codec.ChannelDim())
	}
	if ref.H != final || ref.W != final {
		return newConfigError("reference canvas is %dx%d, schedule finest scale is %dx%d", ref.H, ref.W, final, final)
	}
	for _, mask := range []tensor.Grid{spec.MaskIn, spec.MaskOut} {
		if mask.C != 1 {
			return newConfigError("inpainting masks must be single-channel, got %d channels", mask.C)
		}
		if mask.H == 0 || mask.W == 0 {
			return newConfigError("inpainting mask has empty spatial shape")
		}
	}
	return nil
}
