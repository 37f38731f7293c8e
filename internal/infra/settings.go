package infra

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/xela07ax/spaceai-scope-resolver/internal/credentials"
	"github.com/xela07ax/spaceai-scope-resolver/internal/resolver"
	"go.uber.org/zap"
)

// SettingsHolder хранит текущий снимок настроек резолва. Каждый вызов берет
// снимок один раз через Load; перезагрузка подменяет указатель целиком.
type SettingsHolder struct {
	cur    atomic.Pointer[resolver.Settings]
	table  *credentials.Table
	logger *zap.Logger

	mu            sync.Mutex
	onCloudChange []func()
}

// NewSettingsHolder валидирует начальный снимок: с битым облаком сервис не стартует.
func NewSettingsHolder(initial resolver.Settings, table *credentials.Table, logger *zap.Logger) (*SettingsHolder, error) {
	if err := table.Validate(initial.Cloud); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	h := &SettingsHolder{table: table, logger: logger.Named("settings")}
	h.cur.Store(&initial)
	return h, nil
}

func (h *SettingsHolder) Load() resolver.Settings {
	return *h.cur.Load()
}

// OnCloudChange регистрирует обработчик смены облака (сброс кэша токенов).
func (h *SettingsHolder) OnCloudChange(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCloudChange = append(h.onCloudChange, fn)
}

// Update подменяет снимок. Невалидный снимок отклоняется, прежний остается активным.
func (h *SettingsHolder) Update(next resolver.Settings) error {
	if err := h.table.Validate(next.Cloud); err != nil {
		return fmt.Errorf("settings: reload rejected: %w", err)
	}

	prev := h.cur.Swap(&next)
	if reflect.DeepEqual(prev.Cloud, next.Cloud) {
		return nil
	}

	h.mu.Lock()
	hooks := append([]func(){}, h.onCloudChange...)
	h.mu.Unlock()

	h.logger.Info("cloud settings changed",
		zap.String("from", string(prev.Cloud.Environment)),
		zap.String("to", string(next.Cloud.Environment)))
	for _, fn := range hooks {
		fn()
	}
	return nil
}

// WatchConfig подписывает holder на изменения файла конфигурации (viper + fsnotify).
// Без файла следить не за чем: настройки пришли из ENV и дефолтов.
func (h *SettingsHolder) WatchConfig(file string) (*Config, error) {
	cfg, v, err := load(file)
	if err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() == "" {
		h.logger.Info("no config file, hot reload disabled")
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		h.reload(v, e.Name)
	})
	v.WatchConfig()
	h.logger.Info("watching config for changes", zap.String("path", v.ConfigFileUsed()))
	return cfg, nil
}

func (h *SettingsHolder) reload(v *viper.Viper, path string) {
	cfg, err := decode(v)
	if err != nil {
		h.logger.Error("config reload failed", zap.String("path", path), zap.Error(err))
		return
	}
	if cfg.Resolver.Timeout <= 0 {
		h.logger.Error("config reload rejected", zap.String("path", path), zap.String("reason", "resolver.timeout must be positive"))
		return
	}
	if err := h.Update(cfg.Settings()); err != nil {
		h.logger.Error("config reload rejected", zap.String("path", path), zap.Error(err))
		return
	}
	h.logger.Info("config reloaded", zap.String("path", path))
}
