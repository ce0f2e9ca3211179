package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-posebridge/internal/log"
	"github.com/teslashibe/go-posebridge/pkg/configstore"
	"github.com/teslashibe/go-posebridge/pkg/filter"
	"github.com/teslashibe/go-posebridge/pkg/metrics"
	"github.com/teslashibe/go-posebridge/pkg/recorder"
	"github.com/teslashibe/go-posebridge/pkg/sink"
)

type fakePipeline struct {
	configUpdates int
	sinkUpdates   [][]sink.Descriptor
	err           error
}

func (p *fakePipeline) UpdateConfig() error {
	p.configUpdates++
	return p.err
}

func (p *fakePipeline) UpdateSinks(ds []sink.Descriptor) error {
	p.sinkUpdates = append(p.sinkUpdates, ds)
	return p.err
}

type fixture struct {
	app      *fiber.App
	store    *configstore.Store
	pipeline *fakePipeline
	rec      *recorder.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := metrics.New()
	f := &fixture{
		store:    configstore.NewMemory(configstore.Default()),
		pipeline: &fakePipeline{},
		rec:      recorder.New(t.TempDir(), recorder.WithLogger(log.Discard()), recorder.WithMetrics(m)),
	}
	a := New(f.store, f.pipeline, f.rec, m, log.Discard())
	f.app = NewServer(ServerOptions{}, log.Discard(), a).App()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestGetConfigReturnsDefaults(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, status)

	var cfg configstore.ServerConfig
	require.NoError(t, json.Unmarshal(body, &cfg))
	assert.Equal(t, filter.KindOneEuro, cfg.Smoothing.Filter)
	assert.Equal(t, 60.0, cfg.Video.TargetFPS)
	assert.Empty(t, cfg.Sinks)
}

func TestPutConfigMergesAndApplies(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodPut, "/api/config", `{"smoothing":{"filter":"kalman","r":0.5}}`)
	require.Equal(t, http.StatusOK, status, string(body))

	var cfg configstore.ServerConfig
	require.NoError(t, json.Unmarshal(body, &cfg))
	assert.Equal(t, filter.KindKalman, cfg.Smoothing.Filter)
	assert.Equal(t, 60.0, cfg.Video.TargetFPS, "untouched sections keep their values")
	assert.Equal(t, 1, f.pipeline.configUpdates)
}

func TestPutConfigRejectsInvalid(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		body string
	}{
		{"unknown filter", `{"smoothing":{"filter":"median"}}`},
		{"bad sink", `{"sinks":[{"id":"a","type":"osc","host":"","port":9000}]}`},
		{"unknown sink type", `{"sinks":[{"id":"a","type":"midi","host":"h","port":1}]}`},
		{"not json", `{"smoothing":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.do(t, http.MethodPut, "/api/config", tt.body)
			assert.Equal(t, http.StatusBadRequest, status, string(body))
			assert.Contains(t, string(body), `"error"`)
		})
	}
	assert.Equal(t, 0, f.pipeline.configUpdates)
}

func TestVideoConfig(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodPut, "/api/config/video", `{"targetFps":30}`)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.JSONEq(t, `{"targetFps":30,"aiSmooth":"auto","sr":"off"}`, string(body))

	status, body = f.do(t, http.MethodGet, "/api/config/video", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"targetFps":30,"aiSmooth":"auto","sr":"off"}`, string(body))

	status, _ = f.do(t, http.MethodPut, "/api/config/video", `{"targetFps":0}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSinkLifecycle(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodPost, "/api/sinks", `{"id":"osc-1","type":"osc","host":"127.0.0.1","port":9000}`)
	require.Equal(t, http.StatusCreated, status, string(body))
	assert.Contains(t, string(body), `"namespace":"/body"`)
	require.Len(t, f.pipeline.sinkUpdates, 1)
	assert.Len(t, f.pipeline.sinkUpdates[0], 1)

	status, _ = f.do(t, http.MethodPost, "/api/sinks", `{"id":"osc-1","type":"osc","host":"127.0.0.1","port":9001}`)
	assert.Equal(t, http.StatusBadRequest, status, "duplicate id")

	status, _ = f.do(t, http.MethodPost, "/api/sinks", `{"id":"svr","type":"slimevr","host":"127.0.0.1","port":6969}`)
	assert.Equal(t, http.StatusBadRequest, status, "slimevr needs a profile id")

	status, body = f.do(t, http.MethodGet, "/api/sinks", "")
	require.Equal(t, http.StatusOK, status)
	var sinks []sink.Descriptor
	require.NoError(t, json.Unmarshal(body, &sinks))
	assert.Len(t, sinks, 1)

	status, _ = f.do(t, http.MethodDelete, "/api/sinks/missing", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(t, http.MethodDelete, "/api/sinks/osc-1", "")
	assert.Equal(t, http.StatusNoContent, status)
	require.Len(t, f.pipeline.sinkUpdates, 2)
	assert.Empty(t, f.pipeline.sinkUpdates[1])
}

func TestPipelineFailureIsServerError(t *testing.T) {
	f := newFixture(t)
	f.pipeline.err = errors.New("dial failed")
	status, body := f.do(t, http.MethodPost, "/api/sinks", `{"id":"a","type":"osc","host":"h","port":1}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, string(body), "dial failed")
}

func TestSessions(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodPost, "/api/sessions", `{"action":"start"}`)
	require.Equal(t, http.StatusOK, status, string(body))
	var started struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(body, &started))
	assert.NotEmpty(t, started.SessionID)

	status, _ = f.do(t, http.MethodPost, "/api/sessions", `{"action":"start"}`)
	assert.Equal(t, http.StatusConflict, status)

	status, body = f.do(t, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), started.SessionID)
	assert.Contains(t, string(body), `"active":true`)

	status, _ = f.do(t, http.MethodPost, "/api/sessions", `{"action":"stop"}`)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = f.do(t, http.MethodPost, "/api/sessions", `{"action":"stop"}`)
	assert.Equal(t, http.StatusNoContent, status, "stop is idempotent")

	status, _ = f.do(t, http.MethodPost, "/api/sessions", `{"action":"pause"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	_, err := os.Stat(filepath.Join(f.rec.Dir(), started.SessionID+recorder.FileExt))
	assert.NoError(t, err)
}

func TestTrackerProfiles(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodPut, "/api/slimevr/profiles/p1", `{"joint":"hip","offset":[0,0.1,0],"yaw":90,"roll":0}`)
	require.Equal(t, http.StatusOK, status, string(body))

	status, _ = f.do(t, http.MethodPut, "/api/slimevr/profiles/p2", `{"joint":"tail","offset":[0,0,0]}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = f.do(t, http.MethodGet, "/api/slimevr/profiles", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"p1"`)
	assert.NotContains(t, string(body), `"p2"`)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "posebridge_recorder_active")
}

func TestStaticBundleFallsBackToIndex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>studio</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))

	a := New(configstore.NewMemory(configstore.Default()), &fakePipeline{}, recorder.New(t.TempDir()), metrics.New(), log.Discard())
	app := NewServer(ServerOptions{StaticDir: dir}, log.Discard(), a).App()

	for path, want := range map[string]string{
		"/app.js":       "console.log(1)",
		"/studio/setup": "<html>studio</html>",
		"/api/health":   `{"status":"ok"}`,
	} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, want, string(data), path)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&configstore.ValidationError{Field: "x", Reason: "y"}, 400},
		{sink.ErrDuplicateID, 400},
		{configstore.ErrSinkNotFound, 404},
		{recorder.ErrSessionActive, 409},
		{errors.New("boom"), 500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
