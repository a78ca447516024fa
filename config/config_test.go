package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Encoder.MaxFeatures)
	assert.Equal(t, 500, cfg.Inference.MaxTextLength)
	assert.Equal(t, "improved_model", cfg.Inference.Model)
	require.Len(t, cfg.Training.Runs, 2)
	assert.Equal(t, Run{Name: "improved_model", Dataset: filepath.Join("data.dvc", "clean_data_v2.csv"), MaxIter: 200, C: 0.5},
		cfg.Training.Runs[1])
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
artifacts:
  encoder_path: out/tfidf.json
  registry_dir: out/registry
training:
  seed: 7
  runs:
    - name: quick
      dataset: data/raw_data_v1.csv
      c: 2.5
http:
  port: 9090
  timeout: 5s
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "out/tfidf.json", cfg.Artifacts.EncoderPath)
	assert.Equal(t, int64(7), cfg.Training.Seed)
	assert.Equal(t, 0.2, cfg.Training.TestSize)
	assert.Equal(t, []Run{{Name: "quick", Dataset: "data/raw_data_v1.csv", MaxIter: 100, C: 2.5}}, cfg.Training.Runs)
	assert.Equal(t, 9090, cfg.Http.Port)
	assert.Equal(t, 5*time.Second, cfg.Http.Timeout)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http: [unclosed"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadAPIKey(t *testing.T) {
	t.Setenv(APIKeyVar, "")
	os.Unsetenv(APIKeyVar)

	dir := t.TempDir()
	_, err := LoadAPIKey(filepath.Join(dir, ".env"))
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	envFile := filepath.Join(dir, "with-key.env")
	require.NoError(t, os.WriteFile(envFile, []byte("API_KEY=sk-abcdef123456\n"), 0o600))
	key, err := LoadAPIKey(envFile)
	require.NoError(t, err)
	assert.Equal(t, "sk-abcdef123456", key)
	assert.Equal(t, "sk-abc", KeyPrefix(key, 6))
	assert.Equal(t, "ab", KeyPrefix("ab", 6))
	assert.Equal(t, "密钥ab", KeyPrefix("密钥abcdef", 4))
	assert.Equal(t, "ключ-1", KeyPrefix("ключ-123", 6))
}
