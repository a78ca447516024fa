// Package config 加载config.yaml和.env中的密钥
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"sentilab/logging"
	"sentilab/ml"
)

// APIKeyVar 启动时必须存在的环境变量
const APIKeyVar = "API_KEY"

var ErrMissingAPIKey = errors.New("API_KEY not found in .env file")

type Config struct {
	Log       logging.Config `yaml:"log"`
	Artifacts Artifacts      `yaml:"artifacts"`
	Encoder   struct {
		MaxFeatures int `yaml:"max_features"`
	} `yaml:"encoder"`
	Training  Training  `yaml:"training"`
	Tracking  Tracking  `yaml:"tracking"`
	Inference Inference `yaml:"inference"`
	Http      Http      `yaml:"http"`
}

// Artifacts 编码器文件和模型注册目录
type Artifacts struct {
	EncoderPath string `yaml:"encoder_path"`
	RegistryDir string `yaml:"registry_dir"`
}

type Training struct {
	Experiment string  `yaml:"experiment"`
	TestSize   float64 `yaml:"test_size"`
	Seed       int64   `yaml:"seed"`
	RepoDir    string  `yaml:"repo_dir"`
	Runs       []Run   `yaml:"runs"`
}

// Run 一个待训练模型：数据集加超参数
type Run struct {
	Name    string  `yaml:"name"`
	Dataset string  `yaml:"dataset"`
	MaxIter int     `yaml:"max_iter"`
	C       float64 `yaml:"c"`
}

type Tracking struct {
	Database string `yaml:"database"`
}

type Inference struct {
	Model         string `yaml:"model"`
	MaxTextLength int    `yaml:"max_text_length"`
	CacheSize     int    `yaml:"cache_size"`
	EnvFile       string `yaml:"env_file"`
}

type Http struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

// Default 没有配置文件时使用的配置
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Artifacts.EncoderPath == "" {
		c.Artifacts.EncoderPath = filepath.Join("ml", "configs", "tfidf.json")
	}
	if c.Artifacts.RegistryDir == "" {
		c.Artifacts.RegistryDir = filepath.Join("ml", "registry")
	}
	if c.Encoder.MaxFeatures <= 0 {
		c.Encoder.MaxFeatures = ml.DefaultMaxFeatures
	}
	if c.Training.Experiment == "" {
		c.Training.Experiment = "Sentiment_Analysis_Experiments"
	}
	if c.Training.TestSize <= 0 || c.Training.TestSize >= 1 {
		c.Training.TestSize = ml.DefaultTestSize
	}
	if c.Training.Seed == 0 {
		c.Training.Seed = ml.DefaultSeed
	}
	if c.Training.RepoDir == "" {
		c.Training.RepoDir = "."
	}
	if len(c.Training.Runs) == 0 {
		c.Training.Runs = []Run{
			{Name: "baseline_model", Dataset: filepath.Join("data.dvc", "raw_data_v1.csv"), MaxIter: 100, C: 1.0},
			{Name: "improved_model", Dataset: filepath.Join("data.dvc", "clean_data_v2.csv"), MaxIter: 200, C: 0.5},
		}
	}
	for i := range c.Training.Runs {
		if c.Training.Runs[i].MaxIter <= 0 {
			c.Training.Runs[i].MaxIter = ml.DefaultMaxIter
		}
		if c.Training.Runs[i].C <= 0 {
			c.Training.Runs[i].C = ml.DefaultC
		}
	}
	if c.Tracking.Database == "" {
		c.Tracking.Database = "mlruns.db"
	}
	if c.Inference.Model == "" {
		c.Inference.Model = "improved_model"
	}
	if c.Inference.MaxTextLength <= 0 {
		c.Inference.MaxTextLength = 500
	}
	if c.Inference.CacheSize <= 0 {
		c.Inference.CacheSize = 256
	}
	if c.Inference.EnvFile == "" {
		c.Inference.EnvFile = ".env"
	}
	if c.Http.Port == 0 {
		c.Http.Port = 8080
	}
	if c.Http.Timeout <= 0 {
		c.Http.Timeout = 30 * time.Second
	}
	if len(c.Http.AllowedOrigins) == 0 {
		c.Http.AllowedOrigins = []string{"*"}
	}
	if c.Http.MaxBodyBytes <= 0 {
		c.Http.MaxBodyBytes = 64 << 10
	}
}

// Load 读取YAML配置，文件不存在时返回默认配置
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, errors.Wrapf(err, "decode config %s", path)
	}
	config.applyDefaults()
	return &config, nil
}

// LoadAPIKey 把envFile载入进程环境（已有变量优先）并返回API_KEY。
// 文件缺失本身不算错误，缺少密钥才算。
func LoadAPIKey(envFile string) (string, error) {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return "", errors.Wrapf(err, "load %s", envFile)
	}
	key := os.Getenv(APIKeyVar)
	if key == "" {
		return "", ErrMissingAPIKey
	}
	return key, nil
}

// KeyPrefix 返回密钥的前n个字符用于显示
func KeyPrefix(key string, n int) string {
	runes := []rune(key)
	if len(runes) <= n {
		return key
	}
	return string(runes[:n])
}
