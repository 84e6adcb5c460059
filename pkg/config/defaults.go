package config

import "time"

// ApplyDefaults fills in missing configuration with default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MAASURL == "" {
		cfg.MAASURL = "http://localhost:5240/MAAS"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 5248
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 30 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		// Streaming image downloads can run long.
		cfg.HTTP.WriteTimeout = 30 * time.Minute
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 2 * time.Minute
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	cfg.Database.ApplyDefaults()
	cfg.ControlPlane.ApplyDefaults()
	cfg.Import.ApplyDefaults()
}

// GetDefaultConfig returns the configuration used when no config file
// exists.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
