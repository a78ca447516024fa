package inference

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentilab/ml"
)

var reviews = []struct {
	text  string
	label int
}{
	{"I love this", 1},
	{"I hate this", 0},
	{"great film", 1},
	{"terrible film", 0},
}

// trainArtifacts 在dir中写入编码器和名为name的模型
func trainArtifacts(t *testing.T, dir, name string) (encoderPath, registryDir string) {
	t.Helper()
	var texts []string
	var labels []int
	for i := 0; i < 10; i++ {
		for _, r := range reviews {
			texts = append(texts, r.text)
			labels = append(labels, r.label)
		}
	}
	encoder := ml.NewEncoder(ml.DefaultMaxFeatures)
	require.NoError(t, encoder.Fit(texts))
	X, err := encoder.Transform(texts)
	require.NoError(t, err)

	model := ml.NewLogisticRegression(ml.DefaultMaxIter, ml.DefaultC)
	model.EncoderFingerprint = encoder.Fingerprint()
	require.NoError(t, model.Fit(X, labels))

	encoderPath = filepath.Join(dir, "configs", "tfidf.json")
	registryDir = filepath.Join(dir, "registry")
	require.NoError(t, os.MkdirAll(filepath.Dir(encoderPath), 0o755))
	require.NoError(t, os.MkdirAll(registryDir, 0o755))
	require.NoError(t, encoder.Save(encoderPath))
	require.NoError(t, model.Save(filepath.Join(registryDir, name+".json")))
	return encoderPath, registryDir
}

func TestRegistryService(t *testing.T) {
	encoderPath, registryDir := trainArtifacts(t, t.TempDir(), "improved_model")
	reg, err := NewRegistry(RegistryConfig{EncoderPath: encoderPath, RegistryDir: registryDir}, nil)
	require.NoError(t, err)

	svc, err := reg.Service("improved_model")
	require.NoError(t, err)
	res := svc.Classify("I love this")
	require.Equal(t, Success, res.Outcome)
	assert.Equal(t, 1, res.Label)
	assert.Greater(t, res.Confidence, 0.5)

	again, err := reg.Service("improved_model")
	require.NoError(t, err)
	assert.Same(t, svc, again)

	names, err := reg.ListModels()
	require.NoError(t, err)
	assert.Equal(t, []string{"improved_model"}, names)
}

func TestRegistryUnknownModel(t *testing.T) {
	encoderPath, registryDir := trainArtifacts(t, t.TempDir(), "improved_model")
	reg, err := NewRegistry(RegistryConfig{EncoderPath: encoderPath, RegistryDir: registryDir}, nil)
	require.NoError(t, err)

	for _, name := range []string{"missing", "", "../configs/tfidf", ".."} {
		_, err := reg.Service(name)
		assert.ErrorIs(t, err, ErrUnknownModel, name)
	}
}

func TestRegistryRejectsMismatchedEncoder(t *testing.T) {
	dir := t.TempDir()
	encoderPath, registryDir := trainArtifacts(t, dir, "improved_model")

	other := ml.NewEncoder(ml.DefaultMaxFeatures)
	require.NoError(t, other.Fit([]string{"completely different words", "another vocabulary entirely"}))
	require.NoError(t, other.Save(encoderPath))

	reg, err := NewRegistry(RegistryConfig{EncoderPath: encoderPath, RegistryDir: registryDir}, nil)
	require.NoError(t, err)
	_, err = reg.Service("improved_model")
	assert.ErrorIs(t, err, ErrIncompatibleArtifacts)
}

func TestRegistryCorruptModel(t *testing.T) {
	encoderPath, registryDir := trainArtifacts(t, t.TempDir(), "improved_model")
	require.NoError(t, os.WriteFile(filepath.Join(registryDir, "broken.json"), []byte("{not json"), 0o600))

	reg, err := NewRegistry(RegistryConfig{EncoderPath: encoderPath, RegistryDir: registryDir}, nil)
	require.NoError(t, err)
	_, err = reg.Service("broken")
	assert.ErrorIs(t, err, ml.ErrCorruptArtifact)
}

func TestListModelsMissingDir(t *testing.T) {
	reg, err := NewRegistry(RegistryConfig{RegistryDir: filepath.Join(t.TempDir(), "none")}, nil)
	require.NoError(t, err)
	names, err := reg.ListModels()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestRegistryWatchInvalidates(t *testing.T) {
	encoderPath, registryDir := trainArtifacts(t, t.TempDir(), "improved_model")
	reg, err := NewRegistry(RegistryConfig{EncoderPath: encoderPath, RegistryDir: registryDir}, nil)
	require.NoError(t, err)

	first, err := reg.Service("improved_model")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// 等待监听器注册目录
	time.Sleep(100 * time.Millisecond)
	payload, err := os.ReadFile(reg.ModelPath("improved_model"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(reg.ModelPath("improved_model"), payload, 0o600))

	assert.Eventually(t, func() bool {
		return !reg.services.Contains("improved_model")
	}, 2*time.Second, 20*time.Millisecond)

	second, err := reg.Service("improved_model")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}
