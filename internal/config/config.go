package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env              string
	HTTPAddr         string
	DatabaseURL      string
	JWTSecret        string
	JWTExpirySeconds int64

	POSBaseURL     string
	POSAccessToken string
	POSSandbox     bool
	WebhookSecret  string
	WebhookURL     string

	RabbitMQURL        string
	CorsAllowedOrigins []string

	// Bootstrap display pair, registered at startup so the first screen can
	// pair without an existing device token.
	BootstrapDeviceName string
	BootstrapDeviceKey  string

	PollInterval        time.Duration
	OpenFetchWindow     time.Duration
	WSHeartbeatInterval time.Duration
	WSTickInterval      time.Duration

	// Board defaults, used until the settings store has a row.
	GraceWindow          time.Duration
	WarningSeconds       int64
	DangerSeconds        int64
	LookbackWindow       time.Duration
	CompletedRetention   time.Duration
	RushMarker           string
	AllowReopenCompleted bool
}

func Load() Config {
	cfg := Config{
		Env:              getEnv("APP_ENV", "development"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8091"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTExpirySeconds: getEnvInt64("JWT_EXPIRY", 43200),

		POSBaseURL:     getEnv("POS_BASE_URL", "https://connect.squareup.com"),
		POSAccessToken: getEnv("POS_ACCESS_TOKEN", ""),
		POSSandbox:     getEnvBool("POS_SANDBOX", false),
		WebhookSecret:  getEnv("POS_WEBHOOK_SECRET", ""),
		WebhookURL:     getEnv("POS_WEBHOOK_URL", ""),

		RabbitMQURL:        getEnv("RABBITMQ_URL", ""),
		CorsAllowedOrigins: splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),

		BootstrapDeviceName: getEnv("DISPLAY_BOOTSTRAP_NAME", ""),
		BootstrapDeviceKey:  getEnv("DISPLAY_BOOTSTRAP_KEY", ""),

		PollInterval:        getEnvDuration("POLL_INTERVAL", 5*time.Second),
		OpenFetchWindow:     getEnvDuration("OPEN_FETCH_WINDOW", 8*time.Hour),
		WSHeartbeatInterval: getEnvDuration("WS_HEARTBEAT_INTERVAL", 30*time.Second),
		WSTickInterval:      getEnvDuration("WS_TICK_INTERVAL", time.Second),

		GraceWindow:          getEnvDuration("GRACE_WINDOW", 15*time.Second),
		WarningSeconds:       getEnvInt64("WARNING_SECONDS", 300),
		DangerSeconds:        getEnvInt64("DANGER_SECONDS", 600),
		LookbackWindow:       getEnvDuration("LOOKBACK_WINDOW", time.Hour),
		CompletedRetention:   getEnvDuration("COMPLETED_RETENTION", 24*time.Hour),
		RushMarker:           getEnv("RUSH_MARKER", "rush"),
		AllowReopenCompleted: getEnvBool("ALLOW_REOPEN_COMPLETED", true),
	}

	if cfg.POSSandbox && strings.TrimSpace(os.Getenv("POS_BASE_URL")) == "" {
		cfg.POSBaseURL = "https://connect.squareupsandbox.com"
	}
	if cfg.DangerSeconds <= cfg.WarningSeconds {
		cfg.DangerSeconds = cfg.WarningSeconds * 2
	}

	return cfg
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func splitCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
