// Package inference 用训练好的编码器和分类器对文本做情感分类
package inference

import (
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"sentilab/ml"
)

const DefaultMaxLength = 500

// Predictor 服务需要的分类器方法
type Predictor interface {
	Predict(X ml.Matrix) ([]int, error)
	PredictConfidence(X ml.Matrix) ([]float64, error)
}

// Options 服务选项，零值使用默认值
type Options struct {
	MaxLength int
	CacheSize int
}

// Service 校验输入并调用一对编码器和分类器，模型只读时可并发使用
type Service struct {
	vectorizer ml.Vectorizer
	model      Predictor
	maxLength  int
	cache      *lru.Cache[string, Result]
}

func NewService(vectorizer ml.Vectorizer, model Predictor, opts Options) (*Service, error) {
	if vectorizer == nil || model == nil {
		return nil, errors.New("inference: vectorizer and model are required")
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultMaxLength
	}
	s := &Service{vectorizer: vectorizer, model: model, maxLength: opts.MaxLength}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, Result](opts.CacheSize)
		if err != nil {
			return nil, err
		}
		s.cache = cache
	}
	return s, nil
}

// MaxLength 去除首尾空白后允许的最大字符数
func (s *Service) MaxLength() int {
	return s.maxLength
}

// Classify 不返回error，所有失败都体现在Result中
func (s *Service) Classify(text string) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{Outcome: EmptyInput, Text: text, maxLength: s.maxLength}
	}
	if utf8.RuneCountInString(trimmed) > s.maxLength {
		return Result{Outcome: TooLong, Text: text, maxLength: s.maxLength}
	}
	if s.cache != nil {
		if cached, ok := s.cache.Get(text); ok {
			return cached
		}
	}

	res := s.predict(text)
	if s.cache != nil && res.Outcome == Success {
		s.cache.Add(text, res)
	}
	return res
}

func (s *Service) predict(text string) Result {
	fail := func(err error) Result {
		return Result{Outcome: ModelError, Text: text, Err: err, maxLength: s.maxLength}
	}

	X, err := s.vectorizer.Transform([]string{text})
	if err != nil {
		return fail(errors.Wrap(err, "encode"))
	}
	labels, err := s.model.Predict(X)
	if err != nil {
		return fail(errors.Wrap(err, "predict"))
	}
	confidence, err := s.model.PredictConfidence(X)
	if err != nil {
		return fail(errors.Wrap(err, "confidence"))
	}
	if len(labels) != 1 || len(confidence) != 1 {
		return fail(errors.Errorf("expected one prediction, got %d", len(labels)))
	}
	return Result{
		Outcome:    Success,
		Label:      labels[0],
		Sentiment:  sentimentOf(labels[0]),
		Confidence: round2(confidence[0]),
		Text:       text,
		maxLength:  s.maxLength,
	}
}
