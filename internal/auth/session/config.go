package session

import (
	"os"
	"time"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls token TTLs and the two signing secrets. The secrets must be
// distinct: an access token must never verify under the refresh secret or
// vice versa, even before the class claim is checked.
type Config struct {
	// Issuer is the value set in the "iss" claim of both token classes.
	Issuer string

	// AccessTTL defines the lifetime of access tokens.
	AccessTTL time.Duration

	// RefreshTTL defines the lifetime of refresh tokens.
	RefreshTTL time.Duration

	// AccessSecret signs access tokens (HS256).
	AccessSecret []byte

	// RefreshSecret signs refresh tokens (HS256).
	RefreshSecret []byte
}

// DefaultConfig returns defaults matching the documented session model:
// 15-minute access tokens, 7-day refresh tokens.
func DefaultConfig() Config {
	return Config{
		Issuer:     "pigeon",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - PIGEON_JWT_ACCESS_SECRET
//   - PIGEON_JWT_REFRESH_SECRET (must differ from the access secret)
//
// Optional (durations must be valid Go duration strings):
//   - PIGEON_AUTH_ISSUER
//   - PIGEON_AUTH_ACCESS_TTL
//   - PIGEON_AUTH_REFRESH_TTL
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("PIGEON_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("PIGEON_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTTL = d
	}

	if v := os.Getenv("PIGEON_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTTL = d
	}

	cfg.AccessSecret = []byte(os.Getenv("PIGEON_JWT_ACCESS_SECRET"))
	cfg.RefreshSecret = []byte(os.Getenv("PIGEON_JWT_REFRESH_SECRET"))

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if len(c.AccessSecret) < 16 || len(c.RefreshSecret) < 16 {
		return ErrConfig
	}
	if string(c.AccessSecret) == string(c.RefreshSecret) {
		return ErrConfig
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.RefreshTTL < c.AccessTTL {
		return ErrConfig
	}
	return nil
}
