package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v5"

	"github.com/strataml/strata/internal/engine"
)

func newTestEcho(t *testing.T) *echo.Echo {
	t.Helper()
	m, err := engine.New(engine.Config{
		Schedule:   []int{1, 2},
		Depth:      1,
		EmbedDim:   8,
		CodecDim:   4,
		Vocab:      16,
		NumClasses: 4,
		Seed:       7,
	})
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	server := NewServer(m, nil)
	e := echo.New()
	server.Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestGenerateEndpoint(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t)

	rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"label":1,"seed":3,"top_k":[1]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}

	var resp GenerateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(resp.ID, "run_") {
		t.Fatalf("run id: %q", resp.ID)
	}
	if len(resp.Images) != 1 {
		t.Fatalf("images: got %d, want 1", len(resp.Images))
	}
	if resp.Labels[0] != 1 {
		t.Fatalf("labels: %v", resp.Labels)
	}
	if resp.Scales != 2 {
		t.Fatalf("scales: got %d, want 2", resp.Scales)
	}

	raw, err := base64.StdEncoding.DecodeString(resp.Images[0])
	if err != nil {
		t.Fatalf("decode image: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() != 2 || img.Bounds().Dy() != 2 {
		t.Fatalf("image bounds: %v", img.Bounds())
	}
}

func TestGenerateEndpointBatch(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t)

	rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"batch_size":2,"labels":[0,2],"seed":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	var resp GenerateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Images) != 2 || len(resp.Labels) != 2 {
		t.Fatalf("batch response: %d images, %v labels", len(resp.Images), resp.Labels)
	}
}

func TestGenerateEndpointRejectsBadParams(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t)

	cases := []string{
		`{"cfg":-1}`,
		`{"top_p":2}`,
		`{"temperature":[0]}`,
		`{"label":99}`,
	}
	for _, body := range cases {
		rec := doJSON(t, e, http.MethodPost, "/v1/generate", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status got %d, want 400; body=%s", body, rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), "invalid_request_error") {
			t.Errorf("%s: missing error envelope, body=%s", body, rec.Body.String())
		}
	}
}

func TestGenerateEndpointRejectsMalformedJSON(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t)
	rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"label":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t)
	rec := doJSON(t, e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" || resp.Version == "" {
		t.Fatalf("health body: %+v", resp)
	}
}

func TestMetricsExposed(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t)

	if rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"seed":1}`); rec.Code != http.StatusOK {
		t.Fatalf("generate status: %d", rec.Code)
	}
	rec := doJSON(t, e, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status: %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "strata_http_requests_total") {
		t.Fatalf("missing request counter in metrics output")
	}
	if !strings.Contains(body, "strata_generate_duration_seconds") {
		t.Fatalf("missing duration histogram in metrics output")
	}
}
