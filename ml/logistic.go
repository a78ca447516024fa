package ml

import (
	"encoding/json"
	"math"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

const (
	ModelTypeLogistic = "logistic_regression"

	DefaultMaxIter = 100
	DefaultC       = 1.0
)

// LogisticRegression L2正则化的二分类逻辑回归，用L-BFGS拟合，C越小正则越强
type LogisticRegression struct {
	MaxIter int
	C       float64

	Coef               []float64
	Intercept          float64
	EncoderFingerprint string

	// Iterations 最近一次Fit的迭代次数
	Iterations int
	// Converged Fit在MaxIter处停止时为false
	Converged bool
}

type logisticArtifact struct {
	ModelType          string    `json:"model_type"`
	MaxIter            int       `json:"max_iter"`
	C                  float64   `json:"c"`
	Coef               []float64 `json:"coef"`
	Intercept          float64   `json:"intercept"`
	NFeatures          int       `json:"n_features"`
	EncoderFingerprint string    `json:"encoder_fingerprint"`
	Iterations         int       `json:"iterations"`
}

func NewLogisticRegression(maxIter int, c float64) *LogisticRegression {
	return &LogisticRegression{MaxIter: maxIter, C: c}
}

func (m *LogisticRegression) Fit(X Matrix, y []int) error {
	if m.MaxIter <= 0 {
		return errors.Wrapf(ErrInvalidHyperparameter, "max_iter must be positive, got %d", m.MaxIter)
	}
	if m.C <= 0 || math.IsNaN(m.C) || math.IsInf(m.C, 0) {
		return errors.Wrapf(ErrInvalidHyperparameter, "C must be positive, got %v", m.C)
	}
	if X.Len() == 0 || len(y) == 0 {
		return errors.Wrap(ErrShapeMismatch, "features or labels empty")
	}
	if X.Len() != len(y) {
		return errors.Wrapf(ErrShapeMismatch, "%d rows, %d labels", X.Len(), len(y))
	}
	classes := make(map[int]bool)
	for _, label := range y {
		if label != 0 && label != 1 {
			return errors.Wrapf(ErrInvalidLabel, "got %d", label)
		}
		classes[label] = true
	}
	if len(classes) < 2 {
		return ErrSingleClass
	}

	width := X.Cols
	c := m.C
	// x[:width]为系数，x[width]为截距
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			w, b := x[:width], x[width]
			loss := 0.5 * floats.Dot(w, w)
			for i, row := range X.Rows {
				z := row.Dot(w) + b
				loss += c * logLoss(z, y[i])
			}
			return loss
		},
		Grad: func(grad, x []float64) {
			w, b := x[:width], x[width]
			copy(grad[:width], w)
			grad[width] = 0
			for i, row := range X.Rows {
				residual := c * (sigmoid(row.Dot(w)+b) - float64(y[i]))
				for k, idx := range row.Indices {
					grad[idx] += residual * row.Values[k]
				}
				grad[width] += residual
			}
		},
	}
	settings := &optimize.Settings{
		MajorIterations:   m.MaxIter,
		GradientThreshold: 1e-4,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Relative:   1e-10,
			Iterations: 20,
		},
	}

	result, err := optimize.Minimize(problem, make([]float64, width+1), settings, &optimize.LBFGS{})
	if result == nil {
		return errors.Wrap(err, "optimize logistic loss")
	}
	// 线搜索失败时仍保留目前最优的位置
	for _, v := range result.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Errorf("optimizer diverged: %v", err)
		}
	}

	m.Coef = append([]float64(nil), result.X[:width]...)
	m.Intercept = result.X[width]
	m.Iterations = result.Stats.MajorIterations
	m.Converged = err == nil && result.Status != optimize.IterationLimit
	return nil
}

func (m *LogisticRegression) fitted() bool {
	return len(m.Coef) > 0
}

// PredictProba 每行的P(y=1|x)
func (m *LogisticRegression) PredictProba(X Matrix) ([]float64, error) {
	if !m.fitted() {
		return nil, ErrNotFitted
	}
	if X.Cols != len(m.Coef) {
		return nil, errors.Wrapf(ErrShapeMismatch, "model expects %d features, got %d", len(m.Coef), X.Cols)
	}
	probs := make([]float64, X.Len())
	for i, row := range X.Rows {
		probs[i] = sigmoid(row.Dot(m.Coef) + m.Intercept)
	}
	return probs, nil
}

func (m *LogisticRegression) Predict(X Matrix) ([]int, error) {
	probs, err := m.PredictProba(X)
	if err != nil {
		return nil, err
	}
	labels := make([]int, len(probs))
	for i, p := range probs {
		if p > 0.5 {
			labels[i] = 1
		}
	}
	return labels, nil
}

// PredictConfidence 每行预测类别的概率
func (m *LogisticRegression) PredictConfidence(X Matrix) ([]float64, error) {
	probs, err := m.PredictProba(X)
	if err != nil {
		return nil, err
	}
	for i, p := range probs {
		probs[i] = math.Max(p, 1-p)
	}
	return probs, nil
}

func (m *LogisticRegression) TrainedWith() string {
	return m.EncoderFingerprint
}

func (m *LogisticRegression) Save(path string) error {
	if !m.fitted() {
		return ErrNotFitted
	}
	payload, err := json.MarshalIndent(logisticArtifact{
		ModelType:          ModelTypeLogistic,
		MaxIter:            m.MaxIter,
		C:                  m.C,
		Coef:               m.Coef,
		Intercept:          m.Intercept,
		NFeatures:          len(m.Coef),
		EncoderFingerprint: m.EncoderFingerprint,
		Iterations:         m.Iterations,
	}, "", "  ")
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, payload, 0o600), "write model %s", path)
}

func (m *LogisticRegression) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read model %s", path)
	}
	var artifact logisticArtifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return errors.Wrapf(ErrCorruptArtifact, "decode model %s: %v", path, err)
	}
	if artifact.ModelType != ModelTypeLogistic {
		return errors.Wrapf(ErrCorruptArtifact, "model %s has type %q", path, artifact.ModelType)
	}
	if len(artifact.Coef) == 0 || len(artifact.Coef) != artifact.NFeatures {
		return errors.Wrapf(ErrCorruptArtifact, "model %s has %d coefficients for %d features",
			path, len(artifact.Coef), artifact.NFeatures)
	}
	*m = LogisticRegression{
		MaxIter:            artifact.MaxIter,
		C:                  artifact.C,
		Coef:               artifact.Coef,
		Intercept:          artifact.Intercept,
		EncoderFingerprint: artifact.EncoderFingerprint,
		Iterations:         artifact.Iterations,
	}
	return nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	ez := math.Exp(z)
	return ez / (1 + ez)
}

// logLoss 即log(1+exp(-s*z))，标签1时s=+1，标签0时s=-1
func logLoss(z float64, label int) float64 {
	m := z
	if label == 1 {
		m = -z
	}
	if m > 0 {
		return m + math.Log1p(math.Exp(-m))
	}
	return math.Log1p(math.Exp(m))
}
