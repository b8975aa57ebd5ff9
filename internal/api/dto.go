package api

// GenerateRequest is the body of POST /v1/generate. Pointer fields
// distinguish absent from zero.
type GenerateRequest struct {
	Label       *int      `json:"label,omitempty"`
	Labels      []int     `json:"labels,omitempty"`
	BatchSize   int       `json:"batch_size,omitempty"`
	Seed        *int64    `json:"seed,omitempty"`
	CFG         float64   `json:"cfg,omitempty"`
	TopK        []int     `json:"top_k,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	Temperature []float64 `json:"temperature,omitempty"`
	Smooth      bool      `json:"smooth,omitempty"`
	BeamWidth   int       `json:"beam_width,omitempty"`
}

// GenerateResponse carries one base64 PNG per sample plus run metadata.
type GenerateResponse struct {
	ID        string   `json:"id"`
	Labels    []int    `json:"labels"`
	Images    []string `json:"images"`
	Scales    int      `json:"scales"`
	ElapsedMS float64  `json:"elapsed_ms"`
}

// ResponseError is the JSON error envelope.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
