package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sentilab/db"
	"sentilab/inference"
	"sentilab/training"
)

type testEnv struct {
	server  *Server
	handler http.Handler
	store   *db.Store
	dir     string
}

func writeReviews(t *testing.T, path string) {
	t.Helper()
	var b strings.Builder
	b.WriteString("text,label\n")
	for i := 0; i < 10; i++ {
		b.WriteString("I love this,1\nI hate this,0\ngreat film,1\nterrible film,0\n")
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := db.Open(filepath.Join(dir, "mlruns.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	encoderPath := filepath.Join(dir, "configs", "tfidf.json")
	registryDir := filepath.Join(dir, "registry")
	trainer := training.NewDriver(training.Config{
		EncoderPath: encoderPath,
		RegistryDir: registryDir,
		RepoDir:     dir,
	}, store, nil)

	dataset := filepath.Join(dir, "clean_data_v2.csv")
	writeReviews(t, dataset)
	_, err = trainer.Train(context.Background(), training.Params{DatasetPath: dataset, ModelName: "improved_model"})
	require.NoError(t, err)

	registry, err := inference.NewRegistry(inference.RegistryConfig{
		EncoderPath: encoderPath,
		RegistryDir: registryDir,
	}, nil)
	require.NoError(t, err)

	server := NewServer(DefaultServerConfig(), Deps{Registry: registry, Store: store, Trainer: trainer}, nil)
	return &testEnv{server: server, handler: server.Handler(), store: store, dir: dir}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload), "body %q", w.Body.String())
	return payload
}

func TestHealthHandler(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/health", nil)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	s := &Server{}
	http.HandlerFunc(s.handleHealth).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestHandleClassify(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/classify", `{"text":"I love this"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	payload := decode(t, w)
	assert.Equal(t, "success", payload["outcome"])
	assert.Equal(t, 1.0, payload["label"])
	assert.Equal(t, "positive", payload["sentiment"])
	assert.Equal(t, "improved_model", payload["model"])
	c := payload["confidence"].(float64)
	assert.Greater(t, c, 0.5)
	assert.LessOrEqual(t, c, 1.0)
}

func TestHandleClassifyErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		body    string
		status  int
		outcome string
	}{
		{"empty text", `{"text":"   "}`, http.StatusUnprocessableEntity, "empty_input"},
		{"too long", `{"text":"` + strings.Repeat("a", 501) + `"}`, http.StatusUnprocessableEntity, "too_long"},
		{"unknown model", `{"text":"hello","model":"nope"}`, http.StatusNotFound, "model_error"},
		{"model outside registry", `{"text":"hello","model":"../improved_model"}`, http.StatusNotFound, "model_error"},
		{"bad json", `{"text":`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/classify", tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			payload := decode(t, w)
			if tt.outcome != "" {
				assert.Equal(t, tt.outcome, payload["outcome"])
			}
		})
	}
}

func TestHandleModels(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"improved_model"}, decode(t, w)["models"])
}

func TestHandleRuns(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/runs?experiment=Sentiment_Analysis_Experiments", "")
	require.Equal(t, http.StatusOK, w.Code)
	runs := decode(t, w)["runs"].([]interface{})
	require.Len(t, runs, 1)
	run := runs[0].(map[string]interface{})
	assert.Equal(t, "FINISHED", run["status"])

	w = env.do(t, http.MethodGet, "/api/runs/"+run["run_id"].(string), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "improved_model", decode(t, w)["run_name"])

	w = env.do(t, http.MethodGet, "/api/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleTrain(t *testing.T) {
	env := newTestEnv(t)

	broken := filepath.Join(env.dir, "broken.csv")
	require.NoError(t, os.WriteFile(broken, []byte("text\nhello\n"), 0o600))
	w := env.do(t, http.MethodPost, "/api/train", `{"dataset":"`+filepath.ToSlash(broken)+`","model":"baseline_model"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	dataset := filepath.Join(env.dir, "raw_data_v1.csv")
	writeReviews(t, dataset)
	w = env.do(t, http.MethodPost, "/api/train", `{"dataset":"`+filepath.ToSlash(dataset)+`","model":"baseline_model","max_iter":100,"c":1.0}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "baseline_model", decode(t, w)["model"])

	w = env.do(t, http.MethodPost, "/api/classify", `{"text":"terrible film","model":"baseline_model"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "negative", decode(t, w)["sentiment"])
}

func TestHandleTrainRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	dataset := filepath.ToSlash(filepath.Join(env.dir, "clean_data_v2.csv"))

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"parent directory", `{"dataset":"` + dataset + `","model":"../escaped"}`, http.StatusBadRequest},
		{"nested path", `{"dataset":"` + dataset + `","model":"a/b"}`, http.StatusBadRequest},
		{"negative C", `{"dataset":"` + dataset + `","model":"improved_model","c":-1}`, http.StatusBadRequest},
		{"negative max_iter", `{"dataset":"` + dataset + `","model":"improved_model","max_iter":-5}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/train", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
	assert.NoFileExists(t, filepath.Join(env.dir, "escaped.json"))
	assert.NoFileExists(t, filepath.Join(env.dir, "escaped_cm.txt"))

	// 失败的训练不能破坏已有模型
	w := env.do(t, http.MethodPost, "/api/classify", `{"text":"I love this"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "success", decode(t, w)["outcome"])
}

func TestHandleTrainFailureKeepsServing(t *testing.T) {
	env := newTestEnv(t)

	tiny := filepath.Join(env.dir, "tiny.csv")
	require.NoError(t, os.WriteFile(tiny, []byte("text,label\nreally good,1\nreally bad,0\nquite good,1\n"), 0o600))
	w := env.do(t, http.MethodPost, "/api/train", `{"dataset":"`+filepath.ToSlash(tiny)+`","model":"improved_model"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code, w.Body.String())

	env.server.registry.Invalidate("")
	w = env.do(t, http.MethodPost, "/api/classify", `{"text":"I love this"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "positive", decode(t, w)["sentiment"])
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/classify", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWebSocketClassify(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/classify"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	for _, tc := range []struct{ text, outcome string }{
		{"great film", "success"},
		{"", "empty_input"},
	} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tc.text)))
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &payload))
		assert.Equal(t, tc.outcome, payload["outcome"], "text %q", tc.text)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/classify", `{"text":"great film"}`)
	env.do(t, http.MethodPost, "/api/classify", `{"text":""}`)

	w := env.do(t, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	for _, want := range []string{
		`classifications_total{model="improved_model",outcome="success"} 1`,
		`classifications_total{model="improved_model",outcome="empty_input"} 1`,
		`http_requests_total{method="POST",status="200"} 1`,
		`http_requests_total{method="POST",status="422"} 1`,
	} {
		assert.Contains(t, body, want)
	}

	w = env.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w), "classifications")
}
