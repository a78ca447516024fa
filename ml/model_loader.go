package ml

import "github.com/pkg/errors"

func LoadModel(modelType, path string) (Classifier, error) {
	switch modelType {
	case ModelTypeLogistic, "":
		model := &LogisticRegression{}
		if err := model.Load(path); err != nil {
			return nil, err
		}
		return model, nil
	default:
		return nil, errors.Errorf("unsupported model type %q", modelType)
	}
}
