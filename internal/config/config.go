package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode               string         `mapstructure:"mode"`
	Host               string         `mapstructure:"host"`
	Port               int            `mapstructure:"port"`
	LogLevel           string         `mapstructure:"log_level"`
	ReadLimit          int64          `mapstructure:"read_limit"`
	PingPeriod         time.Duration  `mapstructure:"ping_period"`
	WriteTimeout       time.Duration  `mapstructure:"write_timeout"`
	SendBuffer         int            `mapstructure:"send_buffer"`
	ShutdownTimeout    time.Duration  `mapstructure:"shutdown_timeout"`
	AuthPath           string         `mapstructure:"auth_path"`
	BackendLogLevel    string         `mapstructure:"backend_log_level"`
	BackpressurePolicy string         `mapstructure:"backpressure_policy"`
	MetricsPath        string         `mapstructure:"metrics_path"`
	Backend            map[string]any `mapstructure:"backend"`
}

// Load reads defaults, then the config file, then BRIDGE_* environment
// variables. An empty path selects config/config.<CONFIG_ENV>.yaml; a missing
// file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	explicit := path != ""
	if !explicit {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		path = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if explicit {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		log.Debug().Str("module", "config").Str("file", path).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", path).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Backend == nil {
		cfg.Backend = map[string]any{}
	}
	log.Debug().Str("module", "config").Str("mode", cfg.Mode).Str("host", cfg.Host).Int("port", cfg.Port).Str("auth_path", cfg.AuthPath).Msg("config")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 0)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 16<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("send_buffer", 256)
	v.SetDefault("shutdown_timeout", "5s")
	v.SetDefault("auth_path", "auth_info")
	v.SetDefault("backend_log_level", "info")
	v.SetDefault("backpressure_policy", "drop")
	v.SetDefault("metrics_path", "/metrics")
}
