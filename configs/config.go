package configs

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "LEINMCP"

const defaultConfigFile = "lein-mcp.yaml"

// FileConfig defines the structure loaded from the YAML configuration file.
// Unset keys leave the environment/default value in place.
type FileConfig struct {
	ListenAddr               *string        `yaml:"listen_addr"`
	PortFile                 *string        `yaml:"port_file"`
	ProjectDir               *string        `yaml:"project_dir"`
	NREPLAddr                *string        `yaml:"nrepl_addr"`
	NREPLPortFile            *string        `yaml:"nrepl_port_file"`
	NREPLWait                *time.Duration `yaml:"nrepl_wait"`
	NREPLDialTimeout         *time.Duration `yaml:"nrepl_dial_timeout"`
	EvalTimeout              *time.Duration `yaml:"eval_timeout"`
	DefaultNamespace         *string        `yaml:"default_namespace"`
	AdminAddr                *string        `yaml:"admin_addr"`
	RateLimitRPS             *float64       `yaml:"rate_limit_rps"`
	RateLimitBurst           *int           `yaml:"rate_limit_burst"`
	OtelExporterOtlpEndpoint *string        `yaml:"otel_exporter_otlp_endpoint"`
	OtelExporterOtlpInsecure *bool          `yaml:"otel_exporter_otlp_insecure"`
	LogLevel                 *string        `yaml:"log_level"`
}

// Config holds the final application configuration, merged from file and environment variables.
// Fields are loaded from environment variables with the prefix "LEINMCP_", overriding file settings.
type Config struct {
	// Config File Path (Loaded first from env)
	ConfigFilePath string `envconfig:"CONFIG_FILE" default:"lein-mcp.yaml"`

	// MCP endpoint
	ListenAddr         string        `envconfig:"LISTEN_ADDR" default:"127.0.0.1:0"`
	PortFile           string        `envconfig:"PORT_FILE" default:".mcp-port"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
	ServerReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	ServerWriteTimeout time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"0s"` // evaluations may run long
	ServerIdleTimeout  time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"120s"`
	RateLimitRPS       float64       `envconfig:"RATE_LIMIT_RPS" default:"0"`
	RateLimitBurst     int           `envconfig:"RATE_LIMIT_BURST" default:"10"`

	// Clojure session
	ProjectDir       string        `envconfig:"PROJECT_DIR"`
	NREPLAddr        string        `envconfig:"NREPL_ADDR"`
	NREPLPortFile    string        `envconfig:"NREPL_PORT_FILE" default:".nrepl-port"`
	NREPLWait        time.Duration `envconfig:"NREPL_WAIT" default:"30s"`
	NREPLDialTimeout time.Duration `envconfig:"NREPL_DIAL_TIMEOUT" default:"5s"`
	EvalTimeout      time.Duration `envconfig:"EVAL_TIMEOUT" default:"0s"`
	DefaultNamespace string        `envconfig:"DEFAULT_NAMESPACE" default:"user"`

	// Observability
	AdminAddr                string `envconfig:"ADMIN_ADDR"`
	OtelExporterOtlpEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelExporterOtlpInsecure bool   `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
	LogLevel                 string `envconfig:"LOG_LEVEL" default:"info"`
}

// ParsedLogLevel returns the slog.Level based on the configured LogLevel string.
func (c *Config) ParsedLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		fallthrough
	default:
		return slog.LevelInfo
	}
}

// Validate checks settings that would make the bridge unsafe or unusable.
func (c *Config) Validate() error {
	var errs []error
	if err := requireLoopback("listen address", c.ListenAddr); err != nil {
		errs = append(errs, err)
	}
	if c.AdminAddr != "" {
		if err := requireLoopback("admin address", c.AdminAddr); err != nil {
			errs = append(errs, err)
		}
	}
	if c.PortFile == "" {
		errs = append(errs, errors.New("port file must be set"))
	}
	if c.NREPLAddr == "" && c.NREPLPortFile == "" {
		errs = append(errs, errors.New("one of nREPL address or nREPL port file must be set"))
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("rate limit must not be negative, got %v", c.RateLimitRPS))
	}
	if c.EvalTimeout < 0 {
		errs = append(errs, fmt.Errorf("eval timeout must not be negative, got %v", c.EvalTimeout))
	}
	return errors.Join(errs...)
}

func requireLoopback(what, addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", what, addr, err)
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("%s %q must be a loopback address", what, addr)
}

// Load loads configuration first from environment variables (to get file path),
// then from the specified YAML file, and finally lets environment variables
// override whatever the file set.
func Load() (*Config, error) {
	// 1. Load initial config from Env (defaults plus overrides)
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	// 2. Load config from YAML file if present
	if cfg.ConfigFilePath == "" {
		slog.Info("No config file path specified (LEINMCP_CONFIG_FILE), using defaults/env vars only.")
		return &cfg, nil
	}
	yamlFile, err := os.ReadFile(cfg.ConfigFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && cfg.ConfigFilePath == defaultConfigFile {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file '%s': %w", cfg.ConfigFilePath, err)
	}
	var fileCfg FileConfig
	if err := yaml.Unmarshal(yamlFile, &fileCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config file '%s': %w", cfg.ConfigFilePath, err)
	}
	slog.Info("Loaded configuration from file.", "path", cfg.ConfigFilePath)

	// 3. Apply file values where the environment did not speak.
	fileValue(&cfg.ListenAddr, fileCfg.ListenAddr, "LISTEN_ADDR")
	fileValue(&cfg.PortFile, fileCfg.PortFile, "PORT_FILE")
	fileValue(&cfg.ProjectDir, fileCfg.ProjectDir, "PROJECT_DIR")
	fileValue(&cfg.NREPLAddr, fileCfg.NREPLAddr, "NREPL_ADDR")
	fileValue(&cfg.NREPLPortFile, fileCfg.NREPLPortFile, "NREPL_PORT_FILE")
	fileValue(&cfg.NREPLWait, fileCfg.NREPLWait, "NREPL_WAIT")
	fileValue(&cfg.NREPLDialTimeout, fileCfg.NREPLDialTimeout, "NREPL_DIAL_TIMEOUT")
	fileValue(&cfg.EvalTimeout, fileCfg.EvalTimeout, "EVAL_TIMEOUT")
	fileValue(&cfg.DefaultNamespace, fileCfg.DefaultNamespace, "DEFAULT_NAMESPACE")
	fileValue(&cfg.AdminAddr, fileCfg.AdminAddr, "ADMIN_ADDR")
	fileValue(&cfg.RateLimitRPS, fileCfg.RateLimitRPS, "RATE_LIMIT_RPS")
	fileValue(&cfg.RateLimitBurst, fileCfg.RateLimitBurst, "RATE_LIMIT_BURST")
	fileValue(&cfg.OtelExporterOtlpEndpoint, fileCfg.OtelExporterOtlpEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	fileValue(&cfg.OtelExporterOtlpInsecure, fileCfg.OtelExporterOtlpInsecure, "OTEL_EXPORTER_OTLP_INSECURE")
	fileValue(&cfg.LogLevel, fileCfg.LogLevel, "LOG_LEVEL")

	return &cfg, nil
}

func fileValue[T any](dst *T, src *T, key string) {
	if src == nil {
		return
	}
	if _, set := os.LookupEnv(EnvPrefix + "_" + key); set {
		return
	}
	*dst = *src
}
