package whisperpool

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for whisperpool
type Config struct {
	Pool          PoolConfig          `mapstructure:"pool"`
	WhisperServer WhisperServerConfig `mapstructure:"whisper_server"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

// PoolConfig defines the worker pool settings the Pool Manager reads.
// The sweep intervals, timeouts and backoff base are fixed constants
// (see pool.go) and are never read from configuration.
type PoolConfig struct {
	Size            int `mapstructure:"size"`
	RotateThreshold int `mapstructure:"rotate_threshold"`
	StartingPort    int `mapstructure:"starting_port"`
}

// WhisperServerConfig defines how the child inference binary is launched.
type WhisperServerConfig struct {
	Cmd       string `mapstructure:"cmd"`
	Cwd       string `mapstructure:"cwd"`
	Model     string `mapstructure:"model"`
	Threads   int    `mapstructure:"threads"`
	ExtraArgs string `mapstructure:"extra_args"`
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level        string `mapstructure:"level"`
	Format       string `mapstructure:"format"`
	TraceEnabled bool   `mapstructure:"trace_enabled"`
}

// MetricsConfig defines metrics collection settings
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Path     string `mapstructure:"path"`
}

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/whisperpool")
	}

	v.SetEnvPrefix("WHISPERPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file doesn't exist, we have defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Pool defaults
	v.SetDefault("pool.size", 4)
	v.SetDefault("pool.rotate_threshold", 500)
	v.SetDefault("pool.starting_port", 9000)

	// Whisper server defaults
	v.SetDefault("whisper_server.cmd", "")
	v.SetDefault("whisper_server.cwd", "")
	v.SetDefault("whisper_server.model", "")
	v.SetDefault("whisper_server.threads", 0)
	v.SetDefault("whisper_server.extra_args", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.trace_enabled", true)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.endpoint", ":9090")
	v.SetDefault("metrics.path", "/metrics")
}
