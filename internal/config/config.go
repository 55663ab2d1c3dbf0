package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the dispatch service environment.
type Config struct {
	HTTPAddr          string        `env:"HTTP_ADDR" envDefault:":8080"`
	MetricsAddr       string        `env:"METRICS_ADDR" envDefault:":9090"`
	TelemetryGRPCAddr string        `env:"TELEMETRY_GRPC_ADDR" envDefault:""`
	RedisAddr         string        `env:"REDIS_ADDR" envDefault:""`
	NATSURL           string        `env:"NATS_URL" envDefault:""`
	PostgresDSN       string        `env:"POSTGRES_DSN" envDefault:""`
	JWTSecret         string        `env:"JWT_SECRET" envDefault:""`
	DomainRoot        string        `env:"DOMAIN_ROOT" envDefault:"https://app.example.com"`
	CORSOrigins       []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:""`
	LinkTTL           time.Duration `env:"DISPATCH_LINK_TTL" envDefault:"24h"`
	FixTTL            time.Duration `env:"DISPATCH_FIX_TTL" envDefault:"5m"`
	ReturnLink        bool          `env:"DISPATCH_LINK_RETURN_URL" envDefault:"false"`
	MagicLinkPerMin   int           `env:"MAGIC_LINK_PER_MINUTE" envDefault:"5"`
	ShutdownTimeoutS  int           `env:"SHUTDOWN_TIMEOUT_SECONDS" envDefault:"10"`
	ShutdownTimeout   time.Duration `env:"-"`
}

func Load() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	cfg.ShutdownTimeout = time.Duration(cfg.ShutdownTimeoutS) * time.Second
	return cfg, nil
}
