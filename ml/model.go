package ml

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrEmptyCorpus           = errors.New("corpus is empty")
	ErrEmptyVocabulary       = errors.New("empty vocabulary; corpus may contain only stop words")
	ErrNotFitted             = errors.New("model not fitted")
	ErrShapeMismatch         = errors.New("features and labels size mismatch")
	ErrSingleClass           = errors.New("at least 2 label classes are required")
	ErrInvalidLabel          = errors.New("label must be 0 or 1")
	ErrInvalidHyperparameter = errors.New("invalid hyperparameter")
	ErrCorruptArtifact       = errors.New("corrupt artifact")
)

// Classifier 基于编码后文本的二分类模型
type Classifier interface {
	Fit(X Matrix, y []int) error
	Predict(X Matrix) ([]int, error)
	PredictConfidence(X Matrix) ([]float64, error)
	Save(path string) error
	Load(path string) error
	// TrainedWith 训练时所用编码器的指纹
	TrainedWith() string
}

// Vectorizer 把原始文本转换为特征矩阵的行
type Vectorizer interface {
	Transform(texts []string) (Matrix, error)
}

// ValidModelName 模型名只能是单个路径段，用作注册目录下的文件名
func ValidModelName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
