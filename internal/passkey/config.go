// Package passkey holds relying-party configuration for WebAuthn ceremonies.
package passkey

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/louisbranch/keyless.space/internal/platform/branding"
)

// CeremonyKind describes the WebAuthn ceremony purpose.
type CeremonyKind string

const (
	CeremonyKindRegistration   CeremonyKind = "registration"
	CeremonyKindAuthentication CeremonyKind = "authentication"
)

// Config controls WebAuthn relying party settings.
type Config struct {
	RPDisplayName    string        `env:"KEYLESS_SPACE_WEBAUTHN_RP_DISPLAY_NAME"`
	RPID             string        `env:"KEYLESS_SPACE_WEBAUTHN_RP_ID"            envDefault:"localhost"`
	RPOrigins        []string      `env:"KEYLESS_SPACE_WEBAUTHN_RP_ORIGINS"       envSeparator:","`
	ChallengeTimeout time.Duration `env:"KEYLESS_SPACE_WEBAUTHN_CHALLENGE_TIMEOUT" envDefault:"60s"`
	CeremonyTTL      time.Duration `env:"KEYLESS_SPACE_WEBAUTHN_CEREMONY_TTL"     envDefault:"5m"`
}

// LoadConfigFromEnv returns passkey configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{
			RPDisplayName:    branding.AppName,
			RPID:             "localhost",
			RPOrigins:        []string{"http://localhost:8090"},
			ChallengeTimeout: 60 * time.Second,
			CeremonyTTL:      5 * time.Minute,
		}
	}
	if cfg.RPDisplayName == "" {
		cfg.RPDisplayName = branding.AppName
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:8090"}
	}
	return cfg
}
