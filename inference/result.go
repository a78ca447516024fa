package inference

import (
	"fmt"
	"math"
)

// Outcome 分类结果类型
type Outcome int

const (
	Success Outcome = iota
	EmptyInput
	TooLong
	ModelError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case EmptyInput:
		return "empty_input"
	case TooLong:
		return "too_long"
	case ModelError:
		return "model_error"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// MarshalText JSON中输出结果名称
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

const (
	Positive = "positive"
	Negative = "negative"
)

// Result 一段文本的分类结果，Label、Sentiment和Confidence仅在Success时有效
type Result struct {
	Outcome    Outcome `json:"outcome"`
	Label      int     `json:"label"`
	Sentiment  string  `json:"sentiment,omitempty"`
	Confidence float64 `json:"confidence"`
	Text       string  `json:"text"`
	Err        error   `json:"-"`

	maxLength int
}

// Message 交互提示中显示的文本
func (r Result) Message() string {
	switch r.Outcome {
	case Success:
		return fmt.Sprintf("sentiment: %s (confidence: %.2f)\ninput text: %s", r.Sentiment, r.Confidence, r.Text)
	case EmptyInput:
		return "error: input text must not be empty"
	case TooLong:
		return fmt.Sprintf("error: input text must not exceed %d characters", r.maxLength)
	case ModelError:
		if r.Err != nil {
			return "error: classification failed: " + r.Err.Error()
		}
		return "error: classification failed"
	}
	return r.Outcome.String()
}

func sentimentOf(label int) string {
	if label == 1 {
		return Positive
	}
	return Negative
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
