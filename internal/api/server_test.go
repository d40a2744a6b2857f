package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wheelslip/internal/config"
	"wheelslip/internal/db"
)

const testCSV = `time (s),rr wheel speed (rpm),rl wheel speed (rpm)
0.0,1000,1000
0.1,1000,1000
0.2,1000,1400
0.3,1000,1400
0.4,5000,1400
`

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Meta    *meta           `json:"meta"`
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	cfg := config.Default()
	cfg.ZThreshold = 0
	cfg.TimeBinSize = 0.1
	cfg.MaxTimeDifference = 0.04

	return NewServer(database, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func do(t *testing.T, s *Server, method, target string, body io.Reader) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func analyze(t *testing.T, s *Server, query string) string {
	t.Helper()
	rec, env := do(t, s, "POST", "/api/v1/analyze?"+query, strings.NewReader(testCSV))
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)

	var run struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &run))
	require.NotEmpty(t, run.ID)
	return run.ID
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec, env := do(t, s, "GET", "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestAnalyzeStoresRun(t *testing.T) {
	s := newTestServer(t)
	id := analyze(t, s, "source=lap1.csv&slip_threshold=200&diff_threshold=300")

	rec, env := do(t, s, "GET", "/api/v1/runs/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var run struct {
		Source      string `json:"source"`
		Config      string `json:"config"`
		Diagnostics struct {
			Rejected   map[string]int `json:"rejected"`
			GridPoints int            `json:"grid_points"`
			SlipEvents int            `json:"slip_events"`
		} `json:"diagnostics"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &run))
	assert.Equal(t, "lap1.csv", run.Source)
	assert.Contains(t, run.Config, "slip_threshold: 200")
	assert.Equal(t, 1, run.Diagnostics.Rejected["above_max_rpm"])
	assert.Equal(t, 5, run.Diagnostics.GridPoints)
	assert.Equal(t, 1, run.Diagnostics.SlipEvents)
}

func TestRunSubresources(t *testing.T) {
	s := newTestServer(t)
	id := analyze(t, s, "slip_threshold=200&diff_threshold=300")

	_, env := do(t, s, "GET", "/api/v1/runs/"+id+"/series", nil)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 5, env.Meta.Total)

	_, env = do(t, s, "GET", "/api/v1/runs/"+id+"/slips?wheel=left", nil)
	assert.Equal(t, 1, env.Meta.Total)

	_, env = do(t, s, "GET", "/api/v1/runs/"+id+"/slips?wheel=right", nil)
	require.NotNil(t, env.Meta)
	assert.Zero(t, env.Meta.Total)

	rec, env := do(t, s, "GET", "/api/v1/runs/"+id+"/slips?wheel=front", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)

	_, env = do(t, s, "GET", "/api/v1/runs/"+id+"/diffloads", nil)
	assert.Equal(t, 2, env.Meta.Total)

	_, env = do(t, s, "GET", "/api/v1/runs/"+id+"/diffloads?min_delta=500", nil)
	assert.Zero(t, env.Meta.Total)
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	s := newTestServer(t)

	rec, env := do(t, s, "POST", "/api/v1/analyze", strings.NewReader("time (s),rl wheel speed (rpm)\n0,1\n"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Error, "missing required column")

	rec, env = do(t, s, "POST", "/api/v1/analyze?window_size=0", strings.NewReader(testCSV))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Error, "window_size")

	rec, _ = do(t, s, "POST", "/api/v1/analyze?slip_threshold=abc", bytes.NewReader(nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeRejectsOversizedBody(t *testing.T) {
	s := newTestServer(t)
	s.maxUpload = 16

	rec, env := do(t, s, "POST", "/api/v1/analyze", strings.NewReader(testCSV))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "exceeds 16 bytes")

	_, env = do(t, s, "GET", "/api/v1/runs", nil)
	require.NotNil(t, env.Meta)
	assert.Zero(t, env.Meta.Total, "nothing stored")
}

func TestListDeleteAndStats(t *testing.T) {
	s := newTestServer(t)
	first := analyze(t, s, "source=a.csv")
	analyze(t, s, "source=b.csv")

	_, env := do(t, s, "GET", "/api/v1/runs", nil)
	assert.Equal(t, 2, env.Meta.Total)

	_, env = do(t, s, "GET", "/api/v1/runs?source="+url.QueryEscape("a.csv"), nil)
	assert.Equal(t, 1, env.Meta.Total)

	rec, _ := do(t, s, "DELETE", "/api/v1/runs/"+first, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, s, "GET", "/api/v1/runs/"+first, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, env = do(t, s, "GET", "/api/v1/stats", nil)
	var stats map[string]int64
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, int64(1), stats["total_runs"])
}

func TestOverrideConfig(t *testing.T) {
	base := config.Default()
	cfg, err := overrideConfig(base, url.Values{"z_threshold": {"0"}, "window_size": {"7"}})
	require.NoError(t, err)
	assert.Zero(t, cfg.ZThreshold)
	assert.Equal(t, 7, cfg.WindowSize)
	assert.Equal(t, base.SlipThreshold, cfg.SlipThreshold)

	_, err = overrideConfig(base, url.Values{"min_rpm": {"5000"}})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestRunChart(t *testing.T) {
	s := newTestServer(t)
	id := analyze(t, s, "source=lap1.csv")

	req := httptest.NewRequest("GET", "/api/v1/runs/"+id+"/chart", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "lap1.csv")

	rec, _ = do(t, s, "GET", "/api/v1/runs/missing/chart", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t)
	analyze(t, s, "source=lap1.csv")
	do(t, s, "GET", "/health", nil)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "wheelslip_analyzed_runs_total 1")
	assert.Contains(t, body, `wheelslip_slip_events_total{wheel="left"} 1`)
	assert.Contains(t, body, `wheelslip_rejected_readings_total{reason="above_max_rpm"} 1`)
	assert.Contains(t, body, `wheelslip_http_requests_total{code="201",method="POST",route="/api/v1/analyze"} 1`)
	assert.Contains(t, body, `wheelslip_http_requests_total{code="200",method="GET",route="/health"} 1`)
}
