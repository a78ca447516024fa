package inference

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"sentilab/ml"
)

var (
	ErrUnknownModel          = errors.New("unknown model")
	ErrIncompatibleArtifacts = errors.New("classifier was not trained with this encoder")
)

const modelExt = ".json"

// RegistryConfig 产物位置和缓存大小
type RegistryConfig struct {
	EncoderPath string
	RegistryDir string
	ModelType   string
	MaxLength   int
	// ResultCacheSize 按模型计；Models 限制内存中保留的模型数
	ResultCacheSize int
	Models          int
}

// Registry 按模型名加载匹配的编码器和分类器，在内存中保留最近使用的几个
type Registry struct {
	cfg      RegistryConfig
	logger   *zap.Logger
	services *lru.Cache[string, *Service]
	loadMu   sync.Mutex
}

func NewRegistry(cfg RegistryConfig, logger *zap.Logger) (*Registry, error) {
	if cfg.Models <= 0 {
		cfg.Models = 4
	}
	if cfg.ModelType == "" {
		cfg.ModelType = ml.ModelTypeLogistic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	services, err := lru.New[string, *Service](cfg.Models)
	if err != nil {
		return nil, err
	}
	return &Registry{cfg: cfg, logger: logger, services: services}, nil
}

// ModelPath 模型文件路径
func (r *Registry) ModelPath(name string) string {
	return filepath.Join(r.cfg.RegistryDir, name+modelExt)
}

// Service 返回指定模型的服务，首次使用时加载并校验产物
func (r *Registry) Service(name string) (*Service, error) {
	if !ml.ValidModelName(name) {
		return nil, errors.Wrapf(ErrUnknownModel, "%q", name)
	}
	if svc, ok := r.services.Get(name); ok {
		return svc, nil
	}

	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	if svc, ok := r.services.Get(name); ok {
		return svc, nil
	}

	svc, err := r.load(name)
	if err != nil {
		return nil, err
	}
	r.services.Add(name, svc)
	return svc, nil
}

func (r *Registry) load(name string) (*Service, error) {
	path := r.ModelPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrUnknownModel, "%q (no %s)", name, path)
	}
	model, err := ml.LoadModel(r.cfg.ModelType, path)
	if err != nil {
		return nil, err
	}
	encoder, err := ml.LoadEncoder(r.cfg.EncoderPath)
	if err != nil {
		return nil, err
	}
	if model.TrainedWith() == "" || model.TrainedWith() != encoder.Fingerprint() {
		return nil, errors.Wrapf(ErrIncompatibleArtifacts, "model %s (encoder %q, want %q)",
			name, encoder.Fingerprint(), model.TrainedWith())
	}

	svc, err := NewService(encoder, model, Options{MaxLength: r.cfg.MaxLength, CacheSize: r.cfg.ResultCacheSize})
	if err != nil {
		return nil, err
	}
	r.logger.Info("model loaded",
		zap.String("model", name),
		zap.String("path", path),
		zap.Int("features", encoder.Width()))
	return svc, nil
}

// ListModels 注册目录中已有的模型名
func (r *Registry) ListModels() ([]string, error) {
	entries, err := os.ReadDir(r.cfg.RegistryDir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != modelExt {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), modelExt))
	}
	sort.Strings(names)
	return names, nil
}

// Invalidate 移除已加载的模型，name为空时全部移除
func (r *Registry) Invalidate(name string) {
	if name == "" {
		r.services.Purge()
		return
	}
	r.services.Remove(name)
}

// Watch 产物文件变化时让缓存失效，阻塞到ctx结束
func (r *Registry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	encoderDir := filepath.Dir(r.cfg.EncoderPath)
	for _, dir := range []string{r.cfg.RegistryDir, encoderDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := w.Add(dir); err != nil {
			return errors.Wrapf(err, "watch %s", dir)
		}
	}
	encoderPath := filepath.Clean(r.cfg.EncoderPath)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Clean(event.Name)
			switch {
			case name == encoderPath:
				r.logger.Info("encoder changed, dropping loaded models", zap.String("op", event.Op.String()))
				r.Invalidate("")
			case filepath.Dir(name) == filepath.Clean(r.cfg.RegistryDir) && filepath.Ext(name) == modelExt:
				model := strings.TrimSuffix(filepath.Base(name), modelExt)
				r.logger.Info("model changed", zap.String("model", model), zap.String("op", event.Op.String()))
				r.Invalidate(model)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("artifact watcher error", zap.Error(err))
		}
	}
}
