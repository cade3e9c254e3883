package authapi

import (
	"net/http"
	"os"
	"strings"
)

// Config controls the HTTP auth surface.
type Config struct {
	// Production hardens transport details (Secure cookies).
	Production bool

	RefreshCookieName string
	CookiePath        string
	CookieSameSite    http.SameSite

	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64
}

// DefaultConfig returns development-friendly defaults.
func DefaultConfig() Config {
	return Config{
		RefreshCookieName: "pigeon_refresh",
		CookiePath:        "/",
		CookieSameSite:    http.SameSiteStrictMode,
		MaxBodyBytes:      1 << 20,
	}
}

// LoadConfigFromEnv reads PIGEON_ENV ("production" hardens cookies) and
// PIGEON_REFRESH_COOKIE_NAME.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.Production = strings.EqualFold(strings.TrimSpace(os.Getenv("PIGEON_ENV")), "production")
	if v := strings.TrimSpace(os.Getenv("PIGEON_REFRESH_COOKIE_NAME")); v != "" {
		cfg.RefreshCookieName = v
	}
	return cfg
}
