// Package training 训练并评估情感模型，每次运行记录到实验库
package training

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"sentilab/db"
	"sentilab/ml"
	"sentilab/pipeline"
)

var (
	ErrInvalidModelName   = errors.New("invalid model name")
	ErrTrainingInProgress = errors.New("another training run is in progress")
)

// Config 所有运行共用的路径和划分设置
type Config struct {
	EncoderPath string
	RegistryDir string
	MaxFeatures int
	TestSize    float64
	Seed        int64
	Experiment  string
	RepoDir     string
}

// Params 单个模型的训练参数，MaxIter或C为0时使用默认值
type Params struct {
	DatasetPath string
	ModelName   string
	MaxIter     int
	C           float64
}

// Summary 训练完成后返回给调用方的结果
type Summary struct {
	ModelName     string     `json:"model"`
	RunID         string     `json:"run_id,omitempty"`
	Metrics       ml.Metrics `json:"metrics"`
	ModelPath     string     `json:"model_path"`
	EncoderPath   string     `json:"encoder_path"`
	ConfusionPath string     `json:"confusion_path"`
	TrainSize     int        `json:"train_size"`
	TestSize      int        `json:"test_size"`
	Converged     bool       `json:"converged"`
}

func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "===== %s training complete =====\n", s.ModelName)
	fmt.Fprintf(&b, "test accuracy: %.4f\n", s.Metrics.Accuracy)
	fmt.Fprintf(&b, "test F1 score: %.4f\n", s.Metrics.F1)
	if s.RunID != "" {
		fmt.Fprintf(&b, "run id: %s\n", s.RunID)
	}
	fmt.Fprintf(&b, "model path: %s\n", s.ModelPath)
	fmt.Fprintf(&b, "encoder path: %s", s.EncoderPath)
	return b.String()
}

// Driver 训练驱动，store为nil时不记录实验。
// 同一时间只允许一次训练，因为所有模型共用一个编码器文件。
type Driver struct {
	cfg      Config
	store    *db.Store
	logger   *zap.Logger
	revision func(dir string) (string, error)
	mu       sync.Mutex
}

func NewDriver(cfg Config, store *db.Store, logger *zap.Logger) *Driver {
	if cfg.MaxFeatures <= 0 {
		cfg.MaxFeatures = ml.DefaultMaxFeatures
	}
	if cfg.TestSize <= 0 || cfg.TestSize >= 1 {
		cfg.TestSize = ml.DefaultTestSize
	}
	if cfg.Seed == 0 {
		cfg.Seed = ml.DefaultSeed
	}
	if cfg.Experiment == "" {
		cfg.Experiment = "Sentiment_Analysis_Experiments"
	}
	if cfg.RepoDir == "" {
		cfg.RepoDir = "."
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{cfg: cfg, store: store, logger: logger, revision: CodeRevision}
}

// ModelPath 模型文件路径
func (d *Driver) ModelPath(name string) string {
	return filepath.Join(d.cfg.RegistryDir, name+".json")
}

// ConfusionPath 混淆矩阵报告路径
func (d *Driver) ConfusionPath(name string) string {
	return filepath.Join(d.cfg.RegistryDir, name+"_cm.txt")
}

// Train 加载数据集，拟合编码器和分类器，在留出集上评估，保存产物并记录运行。
// 数据集校验在任何写入之前完成；编码器只在分类器拟合成功后才替换。
// 已有训练进行中时返回ErrTrainingInProgress。
func (d *Driver) Train(ctx context.Context, p Params) (*Summary, error) {
	if !ml.ValidModelName(p.ModelName) {
		return nil, errors.Wrapf(ErrInvalidModelName, "%q", p.ModelName)
	}
	if p.MaxIter == 0 {
		p.MaxIter = ml.DefaultMaxIter
	}
	if p.C == 0 {
		p.C = ml.DefaultC
	}
	if !d.mu.TryLock() {
		return nil, ErrTrainingInProgress
	}
	defer d.mu.Unlock()

	logger := d.logger.With(zap.String("model", p.ModelName))

	dataset, err := pipeline.LoadDataset(p.DatasetPath)
	if err != nil {
		return nil, err
	}
	logger.Info("dataset loaded", zap.String("path", p.DatasetPath), zap.Int("rows", len(dataset.Records)))

	var run *db.Run
	if d.store != nil {
		run, err = d.store.StartRun(ctx, d.cfg.Experiment, p.ModelName)
		if err != nil {
			return nil, err
		}
		logger = logger.With(zap.String("run_id", run.ID()))
	}

	summary, err := d.train(ctx, logger, run, dataset, p)
	if run != nil {
		status := db.StatusFinished
		if err != nil {
			status = db.StatusFailed
		}
		if endErr := run.End(ctx, status); endErr != nil && err == nil {
			err = endErr
		}
	}
	if err != nil {
		return nil, err
	}
	return summary, nil
}

func (d *Driver) train(ctx context.Context, logger *zap.Logger, run *db.Run, dataset *pipeline.Dataset, p Params) (*Summary, error) {
	texts, labels := dataset.Texts(), dataset.Labels()

	encoder := ml.NewEncoder(d.cfg.MaxFeatures)
	if err := encoder.Fit(texts); err != nil {
		return nil, errors.Wrap(err, "fit encoder")
	}
	X, err := encoder.Transform(texts)
	if err != nil {
		return nil, err
	}
	trainIdx, testIdx, err := ml.StratifiedSplit(labels, d.cfg.TestSize, d.cfg.Seed)
	if err != nil {
		return nil, errors.Wrap(err, "split dataset")
	}

	commit, revErr := d.revision(d.cfg.RepoDir)
	if revErr != nil {
		logger.Warn("code revision unavailable", zap.Error(revErr))
		commit = UnknownCommit
	}
	if err := logParams(ctx, run, map[string]interface{}{
		"model_type":      "LogisticRegression",
		"max_iter":        p.MaxIter,
		"C":               p.C,
		"dataset_path":    p.DatasetPath,
		"dataset_version": dataset.Version(),
		"git_commit":      commit,
		"max_features":    d.cfg.MaxFeatures,
		"test_size":       d.cfg.TestSize,
		"seed":            d.cfg.Seed,
	}); err != nil {
		return nil, err
	}

	model := ml.NewLogisticRegression(p.MaxIter, p.C)
	model.EncoderFingerprint = encoder.Fingerprint()
	if err := model.Fit(X.Subset(trainIdx), ml.SelectLabels(labels, trainIdx)); err != nil {
		return nil, errors.Wrap(err, "fit classifier")
	}
	if !model.Converged {
		logger.Warn("classifier did not converge", zap.Int("max_iter", p.MaxIter))
	}

	predicted, err := model.Predict(X.Subset(testIdx))
	if err != nil {
		return nil, err
	}
	metrics, err := ml.Evaluate(ml.SelectLabels(labels, testIdx), predicted)
	if err != nil {
		return nil, err
	}
	for key, value := range map[string]float64{
		"test_accuracy":  metrics.Accuracy,
		"test_f1":        metrics.F1,
		"test_precision": metrics.Precision,
		"test_recall":    metrics.Recall,
	} {
		if run == nil {
			break
		}
		if err := run.LogMetric(ctx, key, value); err != nil {
			return nil, err
		}
	}

	modelPath := d.ModelPath(p.ModelName)
	if err := d.persist(encoder, model, modelPath); err != nil {
		return nil, err
	}
	logger.Info("artifacts saved",
		zap.String("encoder", d.cfg.EncoderPath),
		zap.Int("features", encoder.Width()),
		zap.String("model_path", modelPath))

	cmPath := d.ConfusionPath(p.ModelName)
	report := "Confusion Matrix:\n" + metrics.Confusion.String()
	if err := os.WriteFile(cmPath, []byte(report), 0o644); err != nil {
		return nil, errors.Wrapf(err, "write confusion report %s", cmPath)
	}

	if run != nil {
		for localPath, folder := range map[string]string{
			modelPath:         "model_files",
			d.cfg.EncoderPath: "preprocessing",
			cmPath:            "metrics",
		} {
			if err := run.LogArtifact(ctx, localPath, folder); err != nil {
				return nil, err
			}
		}
	}

	summary := &Summary{
		ModelName:     p.ModelName,
		Metrics:       metrics,
		ModelPath:     modelPath,
		EncoderPath:   d.cfg.EncoderPath,
		ConfusionPath: cmPath,
		TrainSize:     len(trainIdx),
		TestSize:      len(testIdx),
		Converged:     model.Converged,
	}
	if run != nil {
		summary.RunID = run.ID()
	}
	logger.Info("training complete",
		zap.Float64("accuracy", metrics.Accuracy),
		zap.Float64("f1", metrics.F1),
		zap.Int("iterations", model.Iterations))
	return summary, nil
}

// persist 先把编码器写到临时文件，模型保存成功后再改名替换共享编码器
func (d *Driver) persist(encoder *ml.Encoder, model *ml.LogisticRegression, modelPath string) error {
	if err := os.MkdirAll(filepath.Dir(d.cfg.EncoderPath), 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(d.cfg.RegistryDir, 0o755); err != nil {
		return err
	}

	staged := d.cfg.EncoderPath + ".tmp"
	if err := encoder.Save(staged); err != nil {
		return err
	}
	if err := model.Save(modelPath); err != nil {
		os.Remove(staged)
		return err
	}
	if err := os.Rename(staged, d.cfg.EncoderPath); err != nil {
		os.Remove(staged)
		return errors.Wrapf(err, "replace encoder %s", d.cfg.EncoderPath)
	}
	return nil
}

func logParams(ctx context.Context, run *db.Run, params map[string]interface{}) error {
	if run == nil {
		return nil
	}
	for key, value := range params {
		if err := run.LogParam(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}
