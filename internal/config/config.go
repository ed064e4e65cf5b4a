package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string

	SessionTTL time.Duration

	NotifyProvider     string
	NotifyPollInterval time.Duration
	NotifyBatchSize    int
	NotifyMaxAttempts  int
	SendGridAPIKey     string
	SendGridFromEmail  string
	SendGridFromName   string
	WebhookURL         string

	ReminderInterval   time.Duration
	ReminderWindowDays int

	RealtimePollInterval time.Duration

	RateLimitPerMinute int
	RateLimitBurst     int
}

func Load() Config {
	// Missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),

		SessionTTL: readDurationSeconds("SESSION_TTL_SECONDS", 8*3600),

		NotifyProvider:     readString("NOTIFY_PROVIDER", "log"),
		NotifyPollInterval: readDurationSeconds("NOTIFY_POLL_INTERVAL_SECONDS", 5),
		NotifyBatchSize:    readInt("NOTIFY_BATCH_SIZE", 50),
		NotifyMaxAttempts:  readInt("NOTIFY_MAX_ATTEMPTS", 5),
		SendGridAPIKey:     os.Getenv("SENDGRID_API_KEY"),
		SendGridFromEmail:  readString("SENDGRID_FROM_EMAIL", "noreply@clinicqr.local"),
		SendGridFromName:   readString("SENDGRID_FROM_NAME", "Clinic QR"),
		WebhookURL:         os.Getenv("NOTIFY_WEBHOOK_URL"),

		ReminderInterval:   readDurationSeconds("REMINDER_SCAN_INTERVAL_SECONDS", 3600),
		ReminderWindowDays: readInt("REMINDER_WINDOW_DAYS", 3),

		RealtimePollInterval: readDurationSeconds("REALTIME_POLL_INTERVAL_SECONDS", 2),

		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),
	}
}

func readString(key, fallback string) string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	return raw
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
