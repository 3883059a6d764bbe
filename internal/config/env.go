package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env is the runtime environment. It overrides settings that are about the
// machine rather than the user's preferences.
type Env struct {
	Debug       bool   `env:"FOLIO_DEBUG"`
	LogFile     string `env:"FOLIO_LOG_FILE"`
	DataDir     string `env:"FOLIO_DATA_DIR"`
	MetricsAddr string `env:"FOLIO_METRICS_ADDR"`
	ConfigHome  string `env:"FOLIO_CONFIG_HOME"`
	Editor      string `env:"EDITOR" envDefault:"nano"`
	NoColor     bool   `env:"NO_COLOR"`
}

// ParseEnv reads Env from the process environment.
func ParseEnv() (Env, error) {
	e, err := env.ParseAs[Env]()
	if err != nil {
		return Env{}, fmt.Errorf("error parsing environment: %w", err)
	}
	return e, nil
}

// Apply overrides cfg with the environment. DataDir is not applied here; it
// locates backends that have no path of their own.
func (e Env) Apply(cfg *Config) {
	if e.Debug {
		cfg.Log.Level = "debug"
	}
	if e.MetricsAddr != "" {
		cfg.Metrics.Addr = e.MetricsAddr
	}
}
