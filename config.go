package main

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

const (
	envPrefix = "MOVIEBRIDGE"

	defaultAddress         = "0.0.0.0"
	defaultPort            = 8080
	defaultMaxWorkers      = 4
	defaultQueueFactor     = 10
	defaultReadBufferSize  = 1024
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 5 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultBackendTimeout  = 10 * time.Second
	defaultCacheTTL        = 5 * time.Second
)

type Config struct {
	Server  Server  `mapstructure:"server" yaml:"server"`
	Backend Backend `mapstructure:"backend" yaml:"backend"`
}

type Server struct {
	Listen         Listen              `mapstructure:"listen" yaml:"listen"`
	MaxConnections int                 `mapstructure:"max_connections" yaml:"max_connections" validate:"min=0"`
	ReadBufferSize int                 `mapstructure:"read_buffer_size" yaml:"read_buffer_size" validate:"min=64,max=1048576"`
	ReadTimeout    time.Duration       `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration       `mapstructure:"write_timeout" yaml:"write_timeout"`
	WorkerPool     WorkerPoolConfig    `mapstructure:"worker_pool" yaml:"worker_pool"`
	Logging        Logging             `mapstructure:"logging" yaml:"logging"`
	ResponseCache  ResponseCacheConfig `mapstructure:"response_cache" yaml:"response_cache"`
	Metrics        MetricsConfig       `mapstructure:"metrics" yaml:"metrics"`
}

type Listen struct {
	Address   string `mapstructure:"address" yaml:"address" validate:"required,ip|hostname"`
	Port      int    `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
	ReusePort bool   `mapstructure:"reuse_port" yaml:"reuse_port"`
}

type WorkerPoolConfig struct {
	MaxWorkers      int           `mapstructure:"max_workers" yaml:"max_workers" validate:"min=1"`
	MaxQueue        int           `mapstructure:"max_queue" yaml:"max_queue" validate:"min=1"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type Logging struct {
	Level string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

type ResponseCacheConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type MetricsConfig struct {
	LogInterval time.Duration `mapstructure:"log_interval" yaml:"log_interval"`
}

type Backend struct {
	URL        string        `mapstructure:"url" yaml:"url" validate:"required,url"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Auth       BackendAuth   `mapstructure:"auth" yaml:"auth"`
	HTTPClient HTTPClient    `mapstructure:"http_client" yaml:"http_client"`
	TLS        TLS           `mapstructure:"tls" yaml:"tls"`
}

type BackendAuth struct {
	Secret             string   `mapstructure:"secret" yaml:"secret"`
	ServiceAccountFile string   `mapstructure:"service_account_file" yaml:"service_account_file" validate:"excluded_with=Secret"`
	Scopes             []string `mapstructure:"scopes" yaml:"scopes"`
}

type HTTPClient struct {
	Proxy               string        `mapstructure:"proxy" yaml:"proxy" validate:"omitempty,url"`
	MaxConnsPerHost     int           `mapstructure:"max_conns_per_host" yaml:"max_conns_per_host" validate:"min=0"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns" validate:"min=0"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host" yaml:"max_idle_conns_per_host" validate:"min=0"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
}

type TLS struct {
	SkipVerify bool   `mapstructure:"skip_verify" yaml:"skip_verify"`
	Cert       string `mapstructure:"cert" yaml:"cert" validate:"required_with=Key"`
	Key        string `mapstructure:"key" yaml:"key" validate:"required_with=Cert"`
}

// HandleConfig fills derived defaults and validates the configuration.
// The worker count is never defaulted here: an explicit zero is a fatal configuration error.
func (cfg *Config) HandleConfig() error {
	if cfg.Server.Listen.Address == "" {
		cfg.Server.Listen.Address = defaultAddress
	}

	if cfg.Server.Listen.Port == 0 {
		cfg.Server.Listen.Port = defaultPort
	}

	if cfg.Server.ReadBufferSize == 0 {
		cfg.Server.ReadBufferSize = defaultReadBufferSize
	}

	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}

	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}

	if cfg.Server.WorkerPool.MaxQueue == 0 && cfg.Server.WorkerPool.MaxWorkers > 0 {
		cfg.Server.WorkerPool.MaxQueue = cfg.Server.WorkerPool.MaxWorkers * defaultQueueFactor
	}

	if cfg.Server.WorkerPool.ShutdownTimeout <= 0 {
		cfg.Server.WorkerPool.ShutdownTimeout = defaultShutdownTimeout
	}

	if cfg.Server.Logging.Level == "" {
		cfg.Server.Logging.Level = "info"
	}

	if cfg.Server.ResponseCache.Enabled && cfg.Server.ResponseCache.TTL <= 0 {
		cfg.Server.ResponseCache.TTL = defaultCacheTTL
	}

	if cfg.Backend.Timeout <= 0 {
		cfg.Backend.Timeout = defaultBackendTimeout
	}

	return validateConfig(cfg)
}

// String returns the host:port the acceptor binds to.
func (l Listen) String() string {
	return fmt.Sprintf("%s:%d", l.Address, l.Port)
}

func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	return validate
}

func validateConfig(cfg *Config) error {
	err := newValidator().Struct(cfg)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	var result error

	for _, fe := range validationErrors {
		result = multierr.Append(result, fmt.Errorf(
			"field '%s' (struct field: '%s') failed on the '%s' validation rule",
			fe.Field(), fe.StructField(), fe.Tag(),
		))
	}

	return fmt.Errorf("%w: %w", ErrInvalidConfig, result)
}

// Redacted returns a copy that is safe to print.
func (cfg *Config) Redacted() Config {
	redacted := *cfg

	if redacted.Backend.Auth.Secret != "" {
		redacted.Backend.Auth.Secret = "********"
	}

	return redacted
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen.address", defaultAddress)
	v.SetDefault("server.listen.port", defaultPort)
	v.SetDefault("server.listen.reuse_port", false)
	v.SetDefault("server.max_connections", 0)
	v.SetDefault("server.read_buffer_size", defaultReadBufferSize)
	v.SetDefault("server.read_timeout", defaultReadTimeout)
	v.SetDefault("server.write_timeout", defaultWriteTimeout)
	v.SetDefault("server.worker_pool.max_workers", defaultMaxWorkers)
	v.SetDefault("server.worker_pool.max_queue", 0)
	v.SetDefault("server.worker_pool.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.logging.level", "info")
	v.SetDefault("server.logging.json", false)
	v.SetDefault("server.response_cache.enabled", false)
	v.SetDefault("server.response_cache.ttl", defaultCacheTTL)
	v.SetDefault("server.metrics.log_interval", 0)
	v.SetDefault("backend.url", "")
	v.SetDefault("backend.timeout", defaultBackendTimeout)
	v.SetDefault("backend.auth.secret", "")
	v.SetDefault("backend.auth.service_account_file", "")
	v.SetDefault("backend.auth.scopes", []string{})
	v.SetDefault("backend.http_client.proxy", "")
	v.SetDefault("backend.http_client.max_conns_per_host", 0)
	v.SetDefault("backend.http_client.max_idle_conns", 100)
	v.SetDefault("backend.http_client.max_idle_conns_per_host", 10)
	v.SetDefault("backend.http_client.idle_conn_timeout", 90*time.Second)
	v.SetDefault("backend.tls.skip_verify", false)
	v.SetDefault("backend.tls.cert", "")
	v.SetDefault("backend.tls.key", "")
}

// NewConfigFile reads the configuration from configFile, or from the first moviebridge.yaml found in the
// usual search paths when configFile is empty. A missing file in the search paths is not an error; the
// defaults and MOVIEBRIDGE_* environment variables are used instead.
func NewConfigFile(v *viper.Viper, configFile string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("moviebridge")
		v.SetConfigType("yaml")

		v.AddConfigPath("/usr/local/etc/moviebridge/")
		v.AddConfigPath("/etc/moviebridge/")
		v.AddConfigPath("$HOME/.moviebridge")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("could not read config: %w", err)
		}
	}

	cfg := &Config{}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("could not decode config: %w", err)
	}

	if err := cfg.HandleConfig(); err != nil {
		return nil, err
	}

	return cfg, nil
}
