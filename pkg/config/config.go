// Package config loads and validates the service configuration.
//
// Configuration sources (in order of precedence):
//  1. Flat environment aliases (PORT, DATABASE_URL, ...)
//  2. Prefixed environment variables (WALLVAULT_*)
//  3. Configuration file (YAML)
//  4. Default values
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/wallvault/wallvault/pkg/api"
	natsevents "github.com/wallvault/wallvault/pkg/events/nats"
	"github.com/wallvault/wallvault/pkg/ratelimit"
	"github.com/wallvault/wallvault/pkg/store/kv/redis"
	"github.com/wallvault/wallvault/pkg/store/object/s3"
	"github.com/wallvault/wallvault/pkg/store/wallpaper/postgres"
)

// Config is the root configuration for the wallvault service.
type Config struct {
	// Environment names the deployment environment.
	// Valid values: development, production, test
	Environment string `mapstructure:"environment" validate:"omitempty,oneof=development production test" yaml:"environment"`

	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Server configures the HTTP API server
	Server api.Config `mapstructure:"server" yaml:"server"`

	// Database configures the PostgreSQL wallpaper store
	Database postgres.Config `mapstructure:"database" yaml:"database"`

	// Storage configures the S3-compatible object store for original images
	Storage s3.Config `mapstructure:"storage" yaml:"storage"`

	// Redis configures the counter backend used by the rate limiter
	Redis redis.Config `mapstructure:"redis" yaml:"redis"`

	// RateLimit configures per-user upload rate limiting
	RateLimit ratelimit.Config `mapstructure:"rate_limit" yaml:"rate_limit"`

	// Events configures the JetStream event bus
	Events natsevents.Config `mapstructure:"events" yaml:"events"`

	// Reconcile configures the background reconciliation loops
	Reconcile ReconcileConfig `mapstructure:"reconcile" yaml:"reconcile"`

	// Validation configures the upload validation limits
	Validation ValidationConfig `mapstructure:"validation" yaml:"validation"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry tracing and continuous profiling.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ServiceName is the service name reported to the trace backend
	// Default: "wallvault"
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false (opt-in for profiling)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040" (standard Pyroscope port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// ReconcileConfig configures the background reconciliation loops that recover
// rows stranded mid-pipeline and sweep orphaned data.
type ReconcileConfig struct {
	// Interval is the cadence of the reconciliation cycle
	// (stuck uploads, missing events, orphaned intents). Default: 1m
	Interval time.Duration `mapstructure:"interval" validate:"omitempty,gt=0" yaml:"interval"`

	// CleanupInterval is the cadence of the orphaned blob sweep. Default: 1h
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" validate:"omitempty,gt=0" yaml:"cleanup_interval"`

	// StuckUploadTimeout is how long a row may sit in uploading before the
	// reconciler claims it. Default: 10m
	StuckUploadTimeout time.Duration `mapstructure:"stuck_upload_timeout" validate:"omitempty,gt=0" yaml:"stuck_upload_timeout"`

	// MissingEventTimeout is how long a row may sit in stored before its
	// event is re-published. Default: 5m
	MissingEventTimeout time.Duration `mapstructure:"missing_event_timeout" validate:"omitempty,gt=0" yaml:"missing_event_timeout"`

	// OrphanedIntentTimeout is how long a row may sit in initiated before it
	// is deleted. Default: 1h
	OrphanedIntentTimeout time.Duration `mapstructure:"orphaned_intent_timeout" validate:"omitempty,gt=0" yaml:"orphaned_intent_timeout"`

	// BatchSize caps the rows claimed per reconciler per cycle. Default: 100
	BatchSize int `mapstructure:"batch_size" validate:"omitempty,gt=0" yaml:"batch_size"`
}

// ValidationConfig configures the upload validation limits.
type ValidationConfig struct {
	// MaxFileSizeBytes caps the accepted upload size. Default: 50 MiB
	MaxFileSizeBytes int64 `mapstructure:"max_file_size_bytes" validate:"omitempty,gt=0" yaml:"max_file_size_bytes"`

	// MinWidth and MinHeight are the minimum accepted dimensions. Default: 1280x720
	MinWidth  int `mapstructure:"min_width" validate:"omitempty,gt=0" yaml:"min_width"`
	MinHeight int `mapstructure:"min_height" validate:"omitempty,gt=0" yaml:"min_height"`

	// MaxWidth and MaxHeight are the maximum accepted dimensions. Default: 7680x4320
	MaxWidth  int `mapstructure:"max_width" validate:"omitempty,gt=0" yaml:"max_width"`
	MaxHeight int `mapstructure:"max_height" validate:"omitempty,gt=0" yaml:"max_height"`
}

// Load loads configuration from file, environment, and defaults.
//
// configPath may be empty, in which case the default location is searched. A
// missing config file is not an error: environment variables and defaults are
// enough to run the service.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvAliases(&cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages for an explicitly
// requested file that does not exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  wallvault init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600 because the file carries object store credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file
// settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the WALLVAULT_ prefix and underscores.
	// Example: WALLVAULT_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("WALLVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so bind the
	// configuration keys explicitly. This keeps the prefixed variables working
	// even when no config file exists.
	for _, key := range envBoundKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/wallvault/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// envBoundKeys are the configuration keys reachable through WALLVAULT_*
// environment variables without a config file.
var envBoundKeys = []string{
	"environment",
	"shutdown_timeout",
	"logging.level",
	"logging.format",
	"logging.output",
	"telemetry.enabled",
	"telemetry.service_name",
	"telemetry.endpoint",
	"telemetry.insecure",
	"telemetry.sample_rate",
	"telemetry.profiling.enabled",
	"telemetry.profiling.endpoint",
	"server.port",
	"server.read_timeout",
	"server.write_timeout",
	"server.idle_timeout",
	"server.shutdown_grace",
	"server.max_body_bytes",
	"database.url",
	"database.max_conns",
	"database.min_conns",
	"database.query_timeout",
	"database.auto_migrate",
	"storage.endpoint",
	"storage.region",
	"storage.bucket",
	"storage.access_key_id",
	"storage.secret_access_key",
	"storage.force_path_style",
	"storage.create_bucket",
	"redis.addr",
	"redis.password",
	"redis.db",
	"rate_limit.enabled",
	"rate_limit.limit",
	"rate_limit.window",
	"events.url",
	"events.stream",
	"events.client_name",
	"reconcile.interval",
	"reconcile.cleanup_interval",
	"reconcile.stuck_upload_timeout",
	"reconcile.missing_event_timeout",
	"reconcile.orphaned_intent_timeout",
	"reconcile.batch_size",
	"validation.max_file_size_bytes",
	"validation.min_width",
	"validation.min_height",
	"validation.max_width",
	"validation.max_height",
}

// applyEnvAliases overlays the short environment names used by the container
// deployment manifests. These win over both the config file and the prefixed
// variables.
func applyEnvAliases(cfg *Config) error {
	if s, ok := lookupEnv("PORT"); ok {
		port, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", s, err)
		}
		cfg.Server.Port = port
	}
	if s, ok := lookupEnv("DATABASE_URL"); ok {
		cfg.Database.URL = s
	}

	if s, ok := lookupEnv("S3_ENDPOINT"); ok {
		cfg.Storage.Endpoint = s
	}
	if s, ok := lookupEnv("S3_REGION"); ok {
		cfg.Storage.Region = s
	}
	if s, ok := lookupEnv("S3_BUCKET"); ok {
		cfg.Storage.Bucket = s
	}
	if s, ok := lookupEnv("S3_ACCESS_KEY_ID"); ok {
		cfg.Storage.AccessKeyID = s
	}
	if s, ok := lookupEnv("S3_SECRET_ACCESS_KEY"); ok {
		cfg.Storage.SecretAccessKey = s
	}

	if s, ok := lookupEnv("NATS_URL"); ok {
		cfg.Events.URL = s
	}
	if s, ok := lookupEnv("NATS_STREAM"); ok {
		cfg.Events.Stream = s
	}

	// REDIS_HOST and REDIS_PORT combine into the addr; either alone updates
	// the corresponding half of the current value.
	host, hasHost := lookupEnv("REDIS_HOST")
	redisPort, hasPort := lookupEnv("REDIS_PORT")
	if hasHost || hasPort {
		curHost, curPort := splitHostPort(cfg.Redis.Addr, "localhost", "6379")
		if hasHost {
			curHost = host
		}
		if hasPort {
			curPort = redisPort
		}
		cfg.Redis.Addr = net.JoinHostPort(curHost, curPort)
	}
	if s, ok := lookupEnv("REDIS_ENABLED"); ok {
		enabled, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("invalid REDIS_ENABLED %q: %w", s, err)
		}
		cfg.RateLimit.Enabled = enabled
	}

	if s, ok := lookupEnv("RATE_LIMIT_MAX"); ok {
		limit, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_MAX %q: %w", s, err)
		}
		cfg.RateLimit.Limit = limit
	}
	if d, ok, err := lookupMillis("RATE_LIMIT_WINDOW_MS"); err != nil {
		return err
	} else if ok {
		cfg.RateLimit.Window = d
	}

	if d, ok, err := lookupMillis("RECONCILIATION_INTERVAL_MS"); err != nil {
		return err
	} else if ok {
		cfg.Reconcile.Interval = d
	}
	if d, ok, err := lookupMillis("MINIO_CLEANUP_INTERVAL_MS"); err != nil {
		return err
	} else if ok {
		cfg.Reconcile.CleanupInterval = d
	}

	if s, ok := lookupEnv("OTEL_ENDPOINT"); ok {
		cfg.Telemetry.Endpoint = s
		cfg.Telemetry.Enabled = true
	}
	if s, ok := lookupEnv("OTEL_SERVICE_NAME"); ok {
		cfg.Telemetry.ServiceName = s
	}

	// NODE_ENV is accepted alongside ENVIRONMENT so existing deployment
	// manifests keep working unchanged.
	if s, ok := lookupEnv("ENVIRONMENT"); ok {
		cfg.Environment = s
	} else if s, ok := lookupEnv("NODE_ENV"); ok {
		cfg.Environment = s
	}

	return nil
}

// lookupEnv is os.LookupEnv treating an empty value as unset.
func lookupEnv(name string) (string, bool) {
	s, ok := os.LookupEnv(name)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// lookupMillis reads an environment variable holding an integer number of
// milliseconds.
func lookupMillis(name string) (time.Duration, bool, error) {
	s, ok := lookupEnv(name)
	if !ok {
		return 0, false, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return time.Duration(ms) * time.Millisecond, true, nil
}

// splitHostPort splits addr into host and port, falling back to the given
// defaults when addr is empty or has no port.
func splitHostPort(addr, defaultHost, defaultPort string) (string, string) {
	if addr == "" {
		return defaultHost, defaultPort
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, defaultPort
	}
	return host, port
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was
// found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// No config file is acceptable: env and defaults suffice.
			return false, nil
		}
		// Also covers an explicitly specified file that does not exist.
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Raw integers are nanoseconds
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "wallvault")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "wallvault")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// config init command).
func GetConfigDir() string {
	return getConfigDir()
}
