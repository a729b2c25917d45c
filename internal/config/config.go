package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port    string `env:"PORT" envDefault:"8080"`
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8501"`
	AppName string `env:"APP_NAME" envDefault:"AI Data Assistant"`

	DatabaseURL string `env:"DATABASE_URL"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`

	LogFile string `env:"LOG_FILE" envDefault:"logs/server.log"`

	BcryptCost           int           `env:"BCRYPT_COST" envDefault:"12"`
	SessionTTL           time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	VerificationTokenTTL time.Duration `env:"VERIFICATION_TOKEN_TTL" envDefault:"24h"`
	ResetTokenTTL        time.Duration `env:"RESET_TOKEN_TTL" envDefault:"1h"`
	SweepInterval        time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`

	// RequireVerified blocks login for unverified accounts, enforced in
	// the service before any session is created. The schema allows
	// unverified-but-active accounts, so this stays off unless product
	// policy says otherwise.
	RequireVerified bool `env:"REQUIRE_VERIFIED" envDefault:"false"`

	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	SMTP SMTPConfig `envPrefix:"SMTP_"`
}

type SMTPConfig struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	From     string `env:"FROM"`
}

func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && s.From != ""
}

func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}
