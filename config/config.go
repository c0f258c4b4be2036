package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/dispatcher/internal/strategy"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// EnvPrefix namespaces environment overrides, e.g. DISPATCHER_SERVER_ADDRESS.
const EnvPrefix = "DISPATCHER"

var backendSchemes = []string{"http", "https", "redis", "rediss", "tcp"}

type ServerConfig struct {
	Address            string        `mapstructure:"address"`
	Environment        string        `mapstructure:"environment"`
	Backlog            int           `mapstructure:"backlog"`
	MaxConnections     int64         `mapstructure:"max_connections"`
	RequestReadTimeout time.Duration `mapstructure:"request_read_timeout"`
	MaxRequestBytes    int           `mapstructure:"max_request_bytes"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
}

type DispatchConfig struct {
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	HTTPForwardBody  bool          `mapstructure:"http_forward_body"`
}

type StrategyConfig struct {
	Type         string `mapstructure:"type"`
	VirtualNodes int    `mapstructure:"virtual_nodes"`
	HealthAware  bool   `mapstructure:"health_aware"`
}

type HealthCheckConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type CircuitBreakerConfig struct {
	Threshold    int           `mapstructure:"threshold"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
}

type BackendConfig struct {
	Address string `mapstructure:"address"`
	Weight  int    `mapstructure:"weight"`
}

type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Dispatch       DispatchConfig       `mapstructure:"dispatch"`
	Strategy       StrategyConfig       `mapstructure:"strategy"`
	HealthCheck    HealthCheckConfig    `mapstructure:"health_check"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Backends       []BackendConfig      `mapstructure:"backends"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	Logging        LoggingConfig        `mapstructure:"logging"`
}

// Load reads config.yaml from ./config or the working directory, applies
// environment overrides and validates the result. A missing file is not an
// error as long as the environment provides a valid configuration.
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	return decode(v)
}

// LoadFile is Load for an explicit file path.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		slog.Error("failed to read config file", slog.String("file", path), slog.String("error", err.Error()))
		return nil, err
	}
	slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.address", "127.0.0.1:8080")
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.backlog", 5)
	v.SetDefault("server.max_connections", 256)
	v.SetDefault("server.request_read_timeout", "100ms")
	v.SetDefault("server.max_request_bytes", 4096)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("dispatch.fetch_timeout", "5s")
	v.SetDefault("dispatch.max_response_bytes", 10<<20)
	v.SetDefault("dispatch.max_attempts", 1)
	v.SetDefault("dispatch.http_forward_body", false)
	v.SetDefault("strategy.type", strategy.TypeRandom)
	v.SetDefault("strategy.virtual_nodes", 100)
	v.SetDefault("strategy.health_aware", false)
	v.SetDefault("health_check.interval", "2s")
	v.SetDefault("circuit_breaker.threshold", 5)
	v.SetDefault("circuit_breaker.reset_timeout", "30s")
	v.SetDefault("metrics.address", "")
	v.SetDefault("logging.level", LogLevelInfo)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	// An omitted weight means an equal share.
	for i := range cfg.Backends {
		if cfg.Backends[i].Weight == 0 {
			cfg.Backends[i].Weight = 1
		}
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Server),
		validation.Field(&c.Dispatch),
		validation.Field(&c.Strategy),
		validation.Field(&c.HealthCheck),
		validation.Field(&c.CircuitBreaker),
		validation.Field(&c.Backends,
			validation.Required.Error("at least one backend is required"),
		),
		validation.Field(&c.Metrics),
		validation.Field(&c.Logging),
	)
}

func (sc ServerConfig) Validate() error {
	return validation.ValidateStruct(&sc,
		validation.Field(&sc.Address,
			validation.Required,
			validation.By(validateHostPort),
		),
		validation.Field(&sc.Environment,
			validation.Required,
			validation.In(EnvDev, EnvStaging, EnvProd),
		),
		validation.Field(&sc.Backlog, validation.Required, validation.Min(1)),
		validation.Field(&sc.MaxConnections, validation.Required, validation.Min(int64(1))),
		validation.Field(&sc.RequestReadTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&sc.MaxRequestBytes, validation.Required, validation.Min(1)),
		validation.Field(&sc.ShutdownTimeout, validation.Required, validation.Min(time.Millisecond)),
	)
}

func (dc DispatchConfig) Validate() error {
	return validation.ValidateStruct(&dc,
		validation.Field(&dc.FetchTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&dc.MaxResponseBytes, validation.Required, validation.Min(int64(1))),
		validation.Field(&dc.MaxAttempts, validation.Required, validation.Min(1)),
	)
}

func (sc StrategyConfig) Validate() error {
	types := make([]interface{}, len(strategy.Types))
	for i, t := range strategy.Types {
		types[i] = t
	}

	return validation.ValidateStruct(&sc,
		validation.Field(&sc.Type,
			validation.Required,
			validation.In(types...),
		),
		validation.Field(&sc.VirtualNodes,
			validation.Required,
			validation.Min(1),
		),
	)
}

func (hc HealthCheckConfig) Validate() error {
	return validation.ValidateStruct(&hc,
		validation.Field(&hc.Interval, validation.Required, validation.Min(time.Millisecond)),
	)
}

func (cc CircuitBreakerConfig) Validate() error {
	return validation.ValidateStruct(&cc,
		validation.Field(&cc.Threshold, validation.Required, validation.Min(1)),
		validation.Field(&cc.ResetTimeout, validation.Required, validation.Min(time.Millisecond)),
	)
}

func (bc BackendConfig) Validate() error {
	return validation.ValidateStruct(&bc,
		validation.Field(&bc.Address,
			validation.Required,
			validation.By(validateBackendAddress),
		),
		validation.Field(&bc.Weight, validation.Min(1)),
	)
}

func (mc MetricsConfig) Validate() error {
	return validation.ValidateStruct(&mc,
		validation.Field(&mc.Address, validation.By(validateHostPort)),
	)
}

func (lc LoggingConfig) Validate() error {
	return validation.ValidateStruct(&lc,
		validation.Field(&lc.Level,
			validation.Required,
			validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
		),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if addr == "" {
		return nil
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}
	if err := is.Port.Validate(port); err != nil {
		return validation.NewError("validation_invalid_port", "invalid port")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateBackendAddress(value interface{}) error {
	address, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	parsedURL, err := url.Parse(address)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if err := validation.Validate(parsedURL.Scheme, validation.Required, validation.In(toInterfaces(backendSchemes)...)); err != nil {
		return validation.NewError("validation_invalid_scheme",
			fmt.Sprintf("scheme must be one of %s", strings.Join(backendSchemes, ", ")))
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
