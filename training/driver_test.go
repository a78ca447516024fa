package training

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentilab/db"
	"sentilab/ml"
	"sentilab/pipeline"
)

func writeReviews(t *testing.T, dir, name string, repeat int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("text,label\n")
	for i := 0; i < repeat; i++ {
		b.WriteString("I love this,1\nI hate this,0\ngreat film,1\nterrible film,0\n")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func newTestDriver(t *testing.T, store *db.Store) (*Driver, string) {
	t.Helper()
	dir := t.TempDir()
	driver := NewDriver(Config{
		EncoderPath: filepath.Join(dir, "configs", "tfidf.json"),
		RegistryDir: filepath.Join(dir, "registry"),
		RepoDir:     dir,
	}, store, nil)
	driver.revision = func(string) (string, error) { return "abcdef12", nil }
	return driver, dir
}

func TestTrainEndToEnd(t *testing.T) {
	ctx := context.Background()
	store, err := db.Open(filepath.Join(t.TempDir(), "mlruns.db"))
	require.NoError(t, err)
	defer store.Close()

	driver, dir := newTestDriver(t, store)
	dataset := writeReviews(t, dir, "clean_data_v2.csv", 10)

	summary, err := driver.Train(ctx, Params{DatasetPath: dataset, ModelName: "improved_model", MaxIter: 200, C: 0.5})
	require.NoError(t, err)

	assert.Equal(t, 32, summary.TrainSize)
	assert.Equal(t, 8, summary.TestSize)
	assert.InDelta(t, 0.5, summary.Metrics.Accuracy, 0.5)
	assert.InDelta(t, 0.5, summary.Metrics.F1, 0.5)
	assert.Contains(t, summary.String(), "improved_model training complete")

	encoder, err := ml.LoadEncoder(summary.EncoderPath)
	require.NoError(t, err)
	model := &ml.LogisticRegression{}
	require.NoError(t, model.Load(summary.ModelPath))
	assert.Equal(t, encoder.Fingerprint(), model.EncoderFingerprint)

	X, err := encoder.Transform([]string{"I love this"})
	require.NoError(t, err)
	labels, err := model.Predict(X)
	require.NoError(t, err)
	confidence, err := model.PredictConfidence(X)
	require.NoError(t, err)
	assert.Equal(t, 1, labels[0])
	assert.Greater(t, confidence[0], 0.5)

	report, err := os.ReadFile(summary.ConfusionPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(report), "Confusion Matrix:\n[["))

	rec, err := store.GetRun(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusFinished, rec.Status)
	assert.Equal(t, "improved_model", rec.RunName)
	assert.Equal(t, "v2", rec.Params["dataset_version"])
	assert.Equal(t, "abcdef12", rec.Params["git_commit"])
	assert.Equal(t, "200", rec.Params["max_iter"])
	assert.Equal(t, "0.5", rec.Params["C"])
	assert.Contains(t, rec.Metrics, "test_accuracy")
	assert.Contains(t, rec.Metrics, "test_f1")
	assert.Len(t, rec.Artifacts, 3)
}

func TestTrainInvalidDatasetDoesNothing(t *testing.T) {
	ctx := context.Background()
	store, err := db.Open(filepath.Join(t.TempDir(), "mlruns.db"))
	require.NoError(t, err)
	defer store.Close()

	driver, dir := newTestDriver(t, store)
	dataset := filepath.Join(dir, "broken.csv")
	require.NoError(t, os.WriteFile(dataset, []byte("text\nI love this\n"), 0o600))

	_, err = driver.Train(ctx, Params{DatasetPath: dataset, ModelName: "baseline_model"})
	var verr *pipeline.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)

	_, statErr := os.Stat(filepath.Join(dir, "configs"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(dir, "registry"))
	assert.True(t, os.IsNotExist(statErr))

	runs, err := store.ListRuns(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestTrainSingleClassMarksRunFailed(t *testing.T) {
	ctx := context.Background()
	store, err := db.Open(filepath.Join(t.TempDir(), "mlruns.db"))
	require.NoError(t, err)
	defer store.Close()

	driver, dir := newTestDriver(t, store)
	dataset := filepath.Join(dir, "positive.csv")
	require.NoError(t, os.WriteFile(dataset, []byte("text,label\ngood,1\ngreat,1\nnice,1\nfine,1\nokay,1\n"), 0o600))

	_, err = driver.Train(ctx, Params{DatasetPath: dataset, ModelName: "baseline_model"})
	require.Error(t, err)

	runs, err := store.ListRuns(ctx, "")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, db.StatusFailed, runs[0].Status)
}

func TestTrainWithoutStore(t *testing.T) {
	driver, dir := newTestDriver(t, nil)
	dataset := writeReviews(t, dir, "raw_data_v1.csv", 5)

	summary, err := driver.Train(context.Background(), Params{DatasetPath: dataset, ModelName: "baseline_model"})
	require.NoError(t, err)
	assert.Empty(t, summary.RunID)
	assert.FileExists(t, summary.ModelPath)
	assert.FileExists(t, summary.EncoderPath)
}

func TestTrainIsDeterministic(t *testing.T) {
	driver, dir := newTestDriver(t, nil)
	dataset := writeReviews(t, dir, "raw_data_v1.csv", 10)

	first, err := driver.Train(context.Background(), Params{DatasetPath: dataset, ModelName: "a"})
	require.NoError(t, err)
	second, err := driver.Train(context.Background(), Params{DatasetPath: dataset, ModelName: "b"})
	require.NoError(t, err)
	assert.Equal(t, first.Metrics, second.Metrics)
}

func TestCodeRevisionOutsideRepository(t *testing.T) {
	commit, err := CodeRevision(t.TempDir())
	assert.Error(t, err)
	assert.Equal(t, UnknownCommit, commit)
}

func TestTrainRejectsModelNameOutsideRegistry(t *testing.T) {
	driver, dir := newTestDriver(t, nil)
	dataset := writeReviews(t, dir, "raw_data_v1.csv", 10)

	for _, name := range []string{"", "..", "../escaped", "nested/model"} {
		_, err := driver.Train(context.Background(), Params{DatasetPath: dataset, ModelName: name})
		assert.ErrorIs(t, err, ErrInvalidModelName, name)
	}
	assert.NoFileExists(t, filepath.Join(dir, "escaped.json"))
	assert.NoFileExists(t, filepath.Join(dir, "escaped_cm.txt"))
	assert.NoDirExists(t, filepath.Join(dir, "registry"))
}

func TestTrainNegativeHyperparametersFail(t *testing.T) {
	ctx := context.Background()
	store, err := db.Open(filepath.Join(t.TempDir(), "mlruns.db"))
	require.NoError(t, err)
	defer store.Close()

	driver, dir := newTestDriver(t, store)
	dataset := writeReviews(t, dir, "raw_data_v1.csv", 10)

	_, err = driver.Train(ctx, Params{DatasetPath: dataset, ModelName: "baseline_model", MaxIter: -5, C: 1})
	assert.ErrorIs(t, err, ml.ErrInvalidHyperparameter)
	_, err = driver.Train(ctx, Params{DatasetPath: dataset, ModelName: "baseline_model", C: -1})
	assert.ErrorIs(t, err, ml.ErrInvalidHyperparameter)

	runs, err := store.ListRuns(ctx, "")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.Equal(t, db.StatusFailed, run.Status)
	}
	params := []string{runs[0].Params["C"], runs[1].Params["C"]}
	assert.Contains(t, params, "-1")
	assert.NoFileExists(t, filepath.Join(dir, "configs", "tfidf.json"))
}

func TestFailedRetrainKeepsExistingEncoder(t *testing.T) {
	driver, dir := newTestDriver(t, nil)
	dataset := writeReviews(t, dir, "clean_data_v2.csv", 10)

	summary, err := driver.Train(context.Background(), Params{DatasetPath: dataset, ModelName: "improved_model"})
	require.NoError(t, err)
	before, err := os.ReadFile(summary.EncoderPath)
	require.NoError(t, err)

	tiny := filepath.Join(dir, "tiny.csv")
	require.NoError(t, os.WriteFile(tiny, []byte("text,label\nreally good,1\nreally bad,0\nquite good,1\n"), 0o600))
	_, err = driver.Train(context.Background(), Params{DatasetPath: tiny, ModelName: "improved_model"})
	require.Error(t, err)

	after, err := os.ReadFile(summary.EncoderPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.NoFileExists(t, summary.EncoderPath+".tmp")

	encoder, err := ml.LoadEncoder(summary.EncoderPath)
	require.NoError(t, err)
	model := &ml.LogisticRegression{}
	require.NoError(t, model.Load(summary.ModelPath))
	assert.Equal(t, encoder.Fingerprint(), model.TrainedWith())
}

func TestTrainRejectsConcurrentRun(t *testing.T) {
	driver, dir := newTestDriver(t, nil)
	dataset := writeReviews(t, dir, "raw_data_v1.csv", 10)

	entered := make(chan struct{})
	release := make(chan struct{})
	driver.revision = func(string) (string, error) {
		close(entered)
		<-release
		return "abcdef12", nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := driver.Train(context.Background(), Params{DatasetPath: dataset, ModelName: "first"})
		done <- err
	}()
	<-entered

	_, err := driver.Train(context.Background(), Params{DatasetPath: dataset, ModelName: "second"})
	assert.ErrorIs(t, err, ErrTrainingInProgress)

	close(release)
	require.NoError(t, <-done)

	driver.revision = func(string) (string, error) { return "abcdef12", nil }
	_, err = driver.Train(context.Background(), Params{DatasetPath: dataset, ModelName: "second"})
	require.NoError(t, err)
}
