package ml

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfusionMatrix 下标为[真实][预测]，标签为0和1
type ConfusionMatrix [2][2]int

func (cm ConfusionMatrix) TrueNegatives() int  { return cm[0][0] }
func (cm ConfusionMatrix) FalsePositives() int { return cm[0][1] }
func (cm ConfusionMatrix) FalseNegatives() int { return cm[1][0] }
func (cm ConfusionMatrix) TruePositives() int  { return cm[1][1] }

// String 混淆矩阵报告中的格式
func (cm ConfusionMatrix) String() string {
	width := 1
	for _, row := range cm {
		for _, v := range row {
			if w := len(fmt.Sprint(v)); w > width {
				width = w
			}
		}
	}
	return fmt.Sprintf("[[%*d %*d]\n [%*d %*d]]",
		width, cm[0][0], width, cm[0][1], width, cm[1][0], width, cm[1][1])
}

// Metrics 二分类指标，标签1为正类
type Metrics struct {
	Accuracy  float64         `json:"accuracy"`
	Precision float64         `json:"precision"`
	Recall    float64         `json:"recall"`
	F1        float64         `json:"f1"`
	Confusion ConfusionMatrix `json:"confusion"`
	Support   int             `json:"support"`
}

// Evaluate 计算预测指标，无定义的比值（没有预测或真实正例）记为0
func Evaluate(yTrue, yPred []int) (Metrics, error) {
	if len(yTrue) != len(yPred) {
		return Metrics{}, errors.Wrapf(ErrShapeMismatch, "%d labels, %d predictions", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return Metrics{}, errors.New("no labels to evaluate")
	}

	var cm ConfusionMatrix
	for i := range yTrue {
		actual, predicted := yTrue[i], yPred[i]
		if (actual != 0 && actual != 1) || (predicted != 0 && predicted != 1) {
			return Metrics{}, errors.Wrapf(ErrInvalidLabel, "row %d: actual %d, predicted %d", i, actual, predicted)
		}
		cm[actual][predicted]++
	}

	m := Metrics{Confusion: cm, Support: len(yTrue)}
	m.Accuracy = float64(cm.TruePositives()+cm.TrueNegatives()) / float64(len(yTrue))
	if predicted := cm.TruePositives() + cm.FalsePositives(); predicted > 0 {
		m.Precision = float64(cm.TruePositives()) / float64(predicted)
	}
	if actual := cm.TruePositives() + cm.FalseNegatives(); actual > 0 {
		m.Recall = float64(cm.TruePositives()) / float64(actual)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m, nil
}
