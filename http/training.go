package http

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"sentilab/ml"
	"sentilab/pipeline"
	"sentilab/training"
)

// TrainingRequest 训练请求，未填写的超参数使用默认值
type TrainingRequest struct {
	Dataset string  `json:"dataset"`
	Model   string  `json:"model"`
	MaxIter int     `json:"max_iter"`
	C       float64 `json:"c"`
}

// RegisterTrainingHandlers 注册训练接口
func (s *Server) RegisterTrainingHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/train", s.handleTrain)
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	if s.trainer == nil {
		respondError(w, http.StatusServiceUnavailable, "training is disabled")
		return
	}

	var req TrainingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Dataset == "" || req.Model == "" {
		respondError(w, http.StatusBadRequest, "dataset and model are required")
		return
	}

	summary, err := s.trainer.Train(r.Context(), training.Params{
		DatasetPath: req.Dataset,
		ModelName:   req.Model,
		MaxIter:     req.MaxIter,
		C:           req.C,
	})
	s.metrics.RecordTraining(req.Model, err == nil)
	var verr *pipeline.ValidationError
	switch {
	case errors.Is(err, training.ErrInvalidModelName), errors.Is(err, ml.ErrInvalidHyperparameter):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, training.ErrTrainingInProgress):
		respondError(w, http.StatusConflict, err.Error())
		return
	case errors.As(err, &verr):
		respondError(w, http.StatusUnprocessableEntity, verr.Error())
		return
	case err != nil:
		s.logger.Error("training failed", zap.String("model", req.Model), zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// 新编码器会让所有已加载模型失效
	s.registry.Invalidate("")
	respondJSON(w, summary)
}
