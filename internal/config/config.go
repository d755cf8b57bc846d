package config

import (
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Config holds all runtime settings, loaded once from PLEDGE_* environment
// variables.
type Config struct {
	Port              string        `envconfig:"PORT" default:"8080"`
	DatabasePath      string        `envconfig:"DATABASE_PATH" default:"pledge.db"`
	JWTSecret         string        `envconfig:"JWT_SECRET" default:"pledge-secret-key"`
	TriggerInterval   time.Duration `envconfig:"TRIGGER_INTERVAL" default:"60s"`
	ExecutionDelay    time.Duration `envconfig:"EXECUTION_DELAY" default:"100ms"`
	CommissionRate    float64       `envconfig:"COMMISSION_RATE" default:"0.02"`
	CommissionVersion string        `envconfig:"COMMISSION_VERSION" default:"v1"`
	SessionCacheTTL   time.Duration `envconfig:"SESSION_CACHE_TTL" default:"30s"`
	ReconcileSpec     string        `envconfig:"RECONCILE_SPEC" default:"@hourly"`
}

var (
	once sync.Once
	cfg  Config
)

// Get loads and caches the process configuration.
func Get() Config {
	once.Do(func() {
		if err := envconfig.Process("pledge", &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to load configuration")
		}
	})
	return cfg
}
