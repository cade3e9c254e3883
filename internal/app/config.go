package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless the database is configured and reachable.
	ReadinessRequireDB bool

	// Media uploads land here and are served under /media/.
	MediaDir string

	// Resend delivery; when the key is empty codes are logged instead.
	ResendAPIKey string
	MailFrom     string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("PIGEON_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("PIGEON_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("PIGEON_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PIGEON_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PIGEON_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PIGEON_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("PIGEON_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("PIGEON_DATABASE_URL", ""),
		DBSchema:    EnvString("PIGEON_DB_SCHEMA", "pigeon"),
		DBMaxConns:  EnvInt32("PIGEON_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PIGEON_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("PIGEON_READINESS_REQUIRE_DB", false),

		MediaDir: EnvString("PIGEON_MEDIA_DIR", "data/media"),

		ResendAPIKey: EnvString("PIGEON_RESEND_API_KEY", ""),
		MailFrom:     EnvString("PIGEON_MAIL_FROM", "Pigeon <no-reply@pigeon.local>"),
	}
}
