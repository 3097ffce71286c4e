package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
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

const (
	// EnvPrefix namespaces environment overrides, e.g. DEVPROXY_SERVER_PORT.
	EnvPrefix = "DEVPROXY"

	// DefaultProxyPattern forwards everything except the dev server's own
	// client, source, vendor and build paths.
	DefaultProxyPattern = `^/(?!@vite|resources|node_modules|src|vendor|build|assets)`
	DefaultProxyTarget  = "http://php:8000"

	DefaultPort = 5173
)

type ServerConfig struct {
	// Host is either a boolean (true listens on all interfaces) or a host name.
	Host        any    `mapstructure:"host" yaml:"host"`
	Port        int    `mapstructure:"port" yaml:"port"`
	StrictPort  bool   `mapstructure:"strict_port" yaml:"strict_port"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

type ProxyRule struct {
	Pattern      string `mapstructure:"pattern" yaml:"pattern"`
	Target       string `mapstructure:"target" yaml:"target"`
	ChangeOrigin bool   `mapstructure:"change_origin" yaml:"change_origin"`
	Secure       *bool  `mapstructure:"secure" yaml:"secure,omitempty"`
	XForwarded   bool   `mapstructure:"xfwd" yaml:"xfwd"`
}

// VerifyTLS reports whether certificates presented by the target are
// verified. Verification is on unless secure is explicitly false.
func (r ProxyRule) VerifyTLS() bool {
	return r.Secure == nil || *r.Secure
}

type PluginConfig struct {
	Name    string         `mapstructure:"name" yaml:"name"`
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

type HealthCheckConfig struct {
	Interval string `mapstructure:"interval" yaml:"interval"`
	Path     string `mapstructure:"path" yaml:"path"`
}

type CircuitBreakerConfig struct {
	Threshold    int    `mapstructure:"threshold" yaml:"threshold"`
	ResetTimeout string `mapstructure:"reset_timeout" yaml:"reset_timeout"`
}

type WatchConfig struct {
	Debounce string   `mapstructure:"debounce" yaml:"debounce"`
	Ignore   []string `mapstructure:"ignore" yaml:"ignore"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

type Config struct {
	Root           string               `mapstructure:"root" yaml:"root"`
	PublicDir      string               `mapstructure:"public_dir" yaml:"public_dir"`
	Plugins        []PluginConfig       `mapstructure:"plugins" yaml:"plugins"`
	Server         ServerConfig         `mapstructure:"server" yaml:"server"`
	Proxy          []ProxyRule          `mapstructure:"proxy" yaml:"proxy"`
	HealthCheck    HealthCheckConfig    `mapstructure:"health_check" yaml:"health_check"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`
	Watch          WatchConfig          `mapstructure:"watch" yaml:"watch"`
	Logging        LoggingConfig        `mapstructure:"logging" yaml:"logging"`

	file string
}

// File returns the config file the values were read from, or "" when only
// defaults and environment variables were used.
func (c *Config) File() string {
	return c.file
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("root", ".")
	v.SetDefault("public_dir", "public")
	v.SetDefault("plugins", []map[string]any{
		{
			"name": "laravel",
			"options": map[string]any{
				"input":   []string{"resources/css/app.css", "resources/js/app.js"},
				"refresh": true,
			},
		},
		{"name": "tailwindcss"},
	})

	v.SetDefault("server.host", true)
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.strict_port", true)
	v.SetDefault("server.environment", EnvDev)

	v.SetDefault("proxy", []map[string]any{
		{
			"pattern":       DefaultProxyPattern,
			"target":        DefaultProxyTarget,
			"change_origin": true,
			"secure":        false,
		},
	})

	v.SetDefault("health_check.interval", "10s")
	v.SetDefault("health_check.path", "/")
	v.SetDefault("circuit_breaker.threshold", 5)
	v.SetDefault("circuit_breaker.reset_timeout", "10s")
	v.SetDefault("watch.debounce", "100ms")
	v.SetDefault("watch.ignore", []string{"node_modules/**", "vendor/**", "storage/**", ".git/**"})
	v.SetDefault("logging.level", LogLevelInfo)
}

// Load reads the configuration from path, or from devproxy.yaml in the
// working directory or ./config when path is empty. Environment variables
// override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("devproxy")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, fmt.Errorf("read config: %w", err)
		}
		slog.Info("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.file = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

// BindHost resolves the host descriptor to the address the listener binds.
func (s ServerConfig) BindHost() (string, error) {
	switch h := s.Host.(type) {
	case nil:
		return "localhost", nil
	case bool:
		if h {
			return "0.0.0.0", nil
		}
		return "localhost", nil
	case string:
		h = strings.TrimSpace(h)
		if h == "" {
			return "localhost", nil
		}
		if b, err := cast.ToBoolE(h); err == nil {
			return ServerConfig{Host: b}.BindHost()
		}
		return h, nil
	default:
		return "", fmt.Errorf("server.host must be a boolean or a string, got %T", s.Host)
	}
}

// Durations parsed from their validated string form.

func (h HealthCheckConfig) IntervalDuration() time.Duration {
	d, _ := time.ParseDuration(h.Interval)
	return d
}

func (c CircuitBreakerConfig) ResetTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ResetTimeout)
	return d
}

func (w WatchConfig) DebounceDuration() time.Duration {
	d, _ := time.ParseDuration(w.Debounce)
	return d
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.Server,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Host, validation.By(validateHost)),
					validation.Field(&sc.Port,
						validation.Required,
						validation.Min(1),
						validation.Max(65535),
					),
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
				)
			}),
		),
		validation.Field(&c.Plugins,
			validation.Each(validation.By(validatePluginConfig)),
		),
		validation.Field(&c.Proxy,
			validation.Each(validation.By(validateProxyRule)),
		),
		validation.Field(&c.HealthCheck,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&hc.Path,
						validation.Required,
						validation.By(validateAbsolutePath),
					),
				)
			}),
		),
		validation.Field(&c.CircuitBreaker,
			validation.By(func(value interface{}) error {
				cb, ok := value.(CircuitBreakerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CircuitBreakerConfig")
				}
				return validation.ValidateStruct(&cb,
					validation.Field(&cb.Threshold, validation.Required, validation.Min(1)),
					validation.Field(&cb.ResetTimeout,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Watch,
			validation.By(func(value interface{}) error {
				wc, ok := value.(WatchConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a WatchConfig")
				}
				return validation.ValidateStruct(&wc,
					validation.Field(&wc.Debounce,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
	)
}

func validateHost(value interface{}) error {
	host, err := ServerConfig{Host: value}.BindHost()
	if err != nil {
		return validation.NewError("validation_invalid_type", "must be a boolean or a string")
	}

	if err := is.Host.Validate(host); err != nil {
		return validation.NewError("validation_invalid_host", "invalid host")
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	if d < 0 {
		return validation.NewError("validation_negative_duration", "must not be negative")
	}

	return nil
}

func validateAbsolutePath(value interface{}) error {
	p, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if !strings.HasPrefix(p, "/") {
		return validation.NewError("validation_invalid_path", "must start with /")
	}

	return nil
}

func validatePluginConfig(value interface{}) error {
	p, ok := value.(PluginConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a PluginConfig")
	}

	if strings.TrimSpace(p.Name) == "" {
		return validation.NewError("validation_empty_plugin", "plugin name cannot be empty")
	}

	return nil
}

func validateProxyRule(value interface{}) error {
	rule, ok := value.(ProxyRule)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ProxyRule")
	}

	if rule.Pattern == "" {
		return validation.NewError("validation_empty_pattern", "proxy pattern cannot be empty")
	}

	if strings.HasPrefix(rule.Pattern, "^") {
		if _, err := regexp2.Compile(rule.Pattern, regexp2.ECMAScript); err != nil {
			return validation.NewError("validation_invalid_pattern", "proxy pattern must be a valid regular expression")
		}
	} else if !strings.HasPrefix(rule.Pattern, "/") {
		return validation.NewError("validation_invalid_pattern", "proxy prefix must start with /")
	}

	if rule.Target == "" {
		return validation.NewError("validation_empty_url", "proxy target cannot be empty")
	}

	parsedURL, err := url.Parse(rule.Target)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}
