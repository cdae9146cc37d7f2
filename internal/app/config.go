package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config is the pricing server configuration. It is read from PRICING_*
// environment variables, flags and config.yaml.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (PRICING_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Redis       RedisConfig
	Pricing     PricingConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// RedisConfig controls the rule snapshot cache. An empty URL disables it.
type RedisConfig struct {
	URL         string        `usage:"Redis URL for the rule cache (PRICING_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	SnapshotTTL time.Duration `default:"30s" usage:"How long the active rule set stays cached" flag:"snapshot-ttl"`
}

// PricingConfig holds resolution settings.
type PricingConfig struct {
	TimeZone string `default:"UTC" usage:"IANA time zone happy hours and schedules are evaluated in" flag:"time-zone"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads and checks the configuration.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "PRICING",
		Files:     []string{"config.yaml", "/etc/pricing/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set PRICING_DATABASE_URL or DATABASE_URL")
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Location returns the configured store time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Pricing.TimeZone)
	if err != nil {
		return nil, errors.Wrapf(err, "time zone %q", c.Pricing.TimeZone)
	}
	return loc, nil
}

// applyPlatformDefaults honours the unprefixed DATABASE_URL, REDIS_URL and
// PORT variables set by hosting platforms.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
