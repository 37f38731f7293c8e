package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xela07ax/spaceai-scope-resolver/internal/credentials"
	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
	"github.com/xela07ax/spaceai-scope-resolver/internal/journal"
	"github.com/xela07ax/spaceai-scope-resolver/internal/resolver"
)

// Config — корневая структура конфигурации сервиса резолва.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	Resolver    ResolverConfig    `mapstructure:"resolver"`
	Cloud       CloudConfig       `mapstructure:"cloud"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Journal     JournalConfig     `mapstructure:"journal"`
	Manifest    ManifestConfig    `mapstructure:"manifest"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig описывает подключение к PostgreSQL (Scope Store + журнал).
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (инвалидация кэша членства).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig — публичный RSA ключ для проверки bearer-токенов.
type AuthConfig struct {
	PublicKeyPath string        `mapstructure:"public_key_path"`
	Leeway        time.Duration `mapstructure:"leeway"`
	PublicKey     []byte
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

type ResolverConfig struct {
	Timeout            time.Duration `mapstructure:"timeout"`
	MembershipTTL      time.Duration `mapstructure:"membership_ttl"`
	FanOutLimit        int           `mapstructure:"fan_out_limit"`
	MergeGlobalEnabled bool          `mapstructure:"merge_global_enabled"`
}

// CloudConfig — облако и ресурсы. Ключ Resources — resource kind
// (cache-infrastructure-endpoint, cognitive-services-token-scope, agent-hosting-endpoint).
type CloudConfig struct {
	Environment             string                    `mapstructure:"environment"`
	Authority               string                    `mapstructure:"authority"`
	ManagedIdentityEndpoint string                    `mapstructure:"managed_identity_endpoint"`
	ManagedIdentityClientID string                    `mapstructure:"managed_identity_client_id"`
	Resources               map[string]ResourceConfig `mapstructure:"resources"`
}

type ResourceConfig struct {
	AuthMode         string `mapstructure:"auth_mode"`
	ResourceName     string `mapstructure:"resource_name"`
	EndpointTemplate string `mapstructure:"endpoint_template"`
	Audience         string `mapstructure:"audience"`
	Authority        string `mapstructure:"authority"`
	TenantID         string `mapstructure:"tenant_id"`
	ClientID         string `mapstructure:"client_id"`
	ClientSecretRef  string `mapstructure:"client_secret_ref"`
	APIKeyRef        string `mapstructure:"api_key_ref"`
}

// CredentialsConfig — бюджет на получение токенов.
type CredentialsConfig struct {
	Attempts        uint          `mapstructure:"attempts"`
	BaseDelay       time.Duration `mapstructure:"base_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
	AttemptTimeout  time.Duration `mapstructure:"attempt_timeout"`
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout"`
	ExpirySkew      time.Duration `mapstructure:"expiry_skew"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

type JournalConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

// ManifestConfig — YAML-файл со scope store для локального запуска без Postgres.
type ManifestConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
// Пустой file — поиск config.yaml в . и ./configs.
func LoadConfig(file string) (*Config, error) {
	cfg, _, err := load(file)
	return cfg, err
}

func newViper(file string) *viper.Viper {
	v := viper.New()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// RESOLVER_TIMEOUT=5s перекроет resolver.timeout
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	return v
}

func load(file string) (*Config, *viper.Viper, error) {
	v := newViper(file)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Файла нет — работаем на ENV и дефолтах
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	// PEM-ключ из ENV (Docker/K8s) или из файла
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("auth.leeway", 30*time.Second)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("resolver.timeout", 10*time.Second)
	v.SetDefault("resolver.membership_ttl", 30*time.Second)
	v.SetDefault("resolver.fan_out_limit", 8)
	v.SetDefault("resolver.merge_global_enabled", true)

	v.SetDefault("cloud.environment", string(domain.EnvPublic))
	v.SetDefault("cloud.managed_identity_endpoint", credentials.DefaultManagedIdentityEndpoint)

	rc := credentials.DefaultReliabilityConfig()
	v.SetDefault("credentials.attempts", rc.Attempts)
	v.SetDefault("credentials.base_delay", rc.BaseDelay)
	v.SetDefault("credentials.max_delay", rc.MaxDelay)
	v.SetDefault("credentials.attempt_timeout", rc.AttemptTimeout)
	v.SetDefault("credentials.acquire_timeout", rc.AcquireTimeout)
	v.SetDefault("credentials.expiry_skew", rc.ExpirySkew)
	v.SetDefault("credentials.rate_limit", rc.RateLimit)
	v.SetDefault("credentials.rate_burst", rc.RateBurst)
	v.SetDefault("credentials.breaker_failures", rc.BreakerFailures)
	v.SetDefault("credentials.breaker_timeout", rc.BreakerTimeout)

	jc := journal.DefaultConfig()
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.buffer_size", jc.BufferSize)
	v.SetDefault("journal.batch_size", jc.BatchSize)
	v.SetDefault("journal.flush_interval", jc.FlushInterval)
	v.SetDefault("journal.write_timeout", jc.WriteTimeout)
}

// Settings выводит неизменяемый снимок для одного вызова резолва.
func (c *Config) Settings() resolver.Settings {
	return resolver.Settings{
		MergeGlobalEnabled: c.Resolver.MergeGlobalEnabled,
		Cloud:              c.Cloud.Settings(),
		ResolutionTimeout:  c.Resolver.Timeout,
	}
}

func (c CloudConfig) Settings() credentials.CloudSettings {
	cs := credentials.CloudSettings{
		Environment:             domain.Environment(strings.ToLower(c.Environment)),
		Authority:               c.Authority,
		ManagedIdentityEndpoint: c.ManagedIdentityEndpoint,
		ManagedIdentityClientID: c.ManagedIdentityClientID,
		Resources:               make(map[domain.ResourceKind]credentials.ResourceSettings, len(c.Resources)),
	}
	for kind, rc := range c.Resources {
		cs.Resources[domain.ResourceKind(kind)] = credentials.ResourceSettings{
			AuthMode:         domain.AuthMode(rc.AuthMode),
			ResourceName:     rc.ResourceName,
			EndpointTemplate: rc.EndpointTemplate,
			Audience:         rc.Audience,
			Authority:        rc.Authority,
			TenantID:         rc.TenantID,
			ClientID:         rc.ClientID,
			ClientSecretRef:  rc.ClientSecretRef,
			APIKeyRef:        rc.APIKeyRef,
		}
	}
	return cs
}

// Validate проверяет то, что нельзя отложить до первого запроса: облако, ресурсы, лимиты.
func (c *Config) Validate(table *credentials.Table) error {
	var errs []error
	for kind := range c.Cloud.Resources {
		if err := domain.ResourceKind(kind).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("cloud.resources: %w", err))
		}
	}
	if err := table.Validate(c.Cloud.Settings()); err != nil {
		errs = append(errs, fmt.Errorf("cloud: %w", err))
	}
	if c.Resolver.Timeout <= 0 {
		errs = append(errs, errors.New("resolver.timeout must be positive"))
	}
	if c.Resolver.FanOutLimit < 0 {
		errs = append(errs, errors.New("resolver.fan_out_limit must not be negative"))
	}
	return errors.Join(errs...)
}

func (c CredentialsConfig) Reliability() credentials.ReliabilityConfig {
	return credentials.ReliabilityConfig{
		Attempts:        c.Attempts,
		BaseDelay:       c.BaseDelay,
		MaxDelay:        c.MaxDelay,
		AttemptTimeout:  c.AttemptTimeout,
		AcquireTimeout:  c.AcquireTimeout,
		ExpirySkew:      c.ExpirySkew,
		RateLimit:       c.RateLimit,
		RateBurst:       c.RateBurst,
		BreakerFailures: c.BreakerFailures,
		BreakerTimeout:  c.BreakerTimeout,
	}
}

func (c JournalConfig) Journal() journal.Config {
	return journal.Config{
		BufferSize:    c.BufferSize,
		BatchSize:     c.BatchSize,
		FlushInterval: c.FlushInterval,
		WriteTimeout:  c.WriteTimeout,
	}
}

func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
