package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"sentilab/db"
	"sentilab/inference"
)

func (s *Server) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/classify", s.handleClassify)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	mux.HandleFunc("GET /api/ws/classify", s.ws.serve)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/stats", s.handleStats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

type classifyRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

type classifyResponse struct {
	inference.Result
	Model   string `json:"model"`
	Message string `json:"message"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, status := s.classify(req)
	if resp.Outcome == inference.ModelError {
		s.logger.Warn("classification failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("model", resp.Model),
			zap.Error(resp.Err))
	}
	respondStatus(w, status, resp)
}

// classify 供HTTP和websocket共用，返回结果和对应的状态码
func (s *Server) classify(req classifyRequest) (classifyResponse, int) {
	model := req.Model
	if model == "" {
		model = s.config.DefaultModel
	}
	start := time.Now()
	resp, status := s.classifyWith(model, req.Text)
	s.metrics.RecordClassification(model, resp.Outcome.String(), time.Since(start))
	return resp, status
}

func (s *Server) classifyWith(model, text string) (classifyResponse, int) {
	svc, err := s.registry.Service(model)
	if err != nil {
		res := inference.Result{Outcome: inference.ModelError, Text: text, Err: err}
		status := http.StatusInternalServerError
		if errors.Is(err, inference.ErrUnknownModel) {
			status = http.StatusNotFound
		}
		return classifyResponse{Result: res, Model: model, Message: res.Message()}, status
	}

	res := svc.Classify(text)
	status := http.StatusOK
	switch res.Outcome {
	case inference.EmptyInput, inference.TooLong:
		status = http.StatusUnprocessableEntity
	case inference.ModelError:
		status = http.StatusInternalServerError
	}
	return classifyResponse{Result: res, Model: model, Message: res.Message()}, status
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	names, err := s.registry.ListModels()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, map[string]interface{}{
		"models":  names,
		"default": s.config.DefaultModel,
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "experiment tracking is disabled")
		return
	}
	experiment := strings.TrimSpace(r.URL.Query().Get("experiment"))
	runs, err := s.store.ListRuns(r.Context(), experiment)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, map[string]interface{}{
		"experiment": experiment,
		"runs":       runs,
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "experiment tracking is disabled")
		return
	}
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, db.ErrRunNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, run)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(s.metrics.ExportPrometheus()))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.metrics.GetServiceStats())
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	respondStatus(w, http.StatusOK, data)
}

func respondStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondStatus(w, status, map[string]string{"error": message})
}
