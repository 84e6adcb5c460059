// Package config loads the region controller's static configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/git-habz/maas/pkg/bootresources"
	"github.com/git-habz/maas/pkg/bootresources/postgres"
	"github.com/git-habz/maas/pkg/sources"
)

// Config represents the region controller configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (MAAS_*), for keys the config file sets
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// No CLI flag is bound to a configuration key; --config only picks the file.
// When no config file is found, Load returns the defaults and does not read
// the environment.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is loaded and validated. The HTTP server's graceful
	// shutdown does not read it; it waits a fixed 5 seconds.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// MAASURL is the absolute base URL of this region, used to build links
	// embedded in warnings and the endpoint descriptor handed to racks.
	MAASURL string `mapstructure:"maas_url" validate:"required,url" yaml:"maas_url"`

	// Database configures the boot-resource store (catalog + blobs).
	Database postgres.StoreConfig `mapstructure:"database" yaml:"database"`

	// ControlPlane configures the boot-source/settings database.
	ControlPlane sources.Config `mapstructure:"controlplane" yaml:"controlplane"`

	// HTTP contains the images endpoint server configuration.
	HTTP HTTPConfig `mapstructure:"http" yaml:"http"`

	// Metrics contains Prometheus metrics server configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Import configures the boot-resource import runs.
	Import bootresources.ImporterConfig `mapstructure:"import" yaml:"import"`

	// DevEnvironment marks a developer workstation; automatic imports are
	// suppressed there until a first manual import happened.
	DevEnvironment bool `mapstructure:"dev_environment" yaml:"dev_environment"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR" yaml:"level"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// HTTPConfig contains the images endpoint server configuration.
type HTTPConfig struct {
	Port         int           `mapstructure:"port" validate:"required,gt=0,lte=65535" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// MetricsConfig contains Prometheus metrics server configuration.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,gt=0,lte=65535" yaml:"port"`
}

// Load reads configuration from the given file (or the default search
// locations when empty), environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// setupViper configures environment variables and config file search.
// Environment variables use the MAAS_ prefix and underscores, e.g.
// MAAS_LOGGING_LEVEL=DEBUG; one takes effect only for a key the config file
// sets.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("MAAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("regiond")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// getConfigDir returns the default config directory.
func getConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "maas")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/maas"
	}
	return filepath.Join(home, ".config", "maas")
}

// Validate checks the configuration against its struct tags.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			first := errs[0]
			return fmt.Errorf("field %s failed %q validation", first.Namespace(), first.Tag())
		}
		return err
	}
	return cfg.Database.Validate()
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts strings like "30s" and raw numbers into
// time.Duration values.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
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
