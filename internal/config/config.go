// Package config reads the session configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"therapycal/internal/models"
)

// Calendar providers.
const (
	ProviderMemory = "memory"
	ProviderGoogle = "google"
	ProviderCalDAV = "caldav"
)

// Session state backends.
const (
	StateFile   = "file"
	StateRedis  = "redis"
	StateMemory = "memory"
)

type Google struct {
	ClientID     string
	ClientSecret string
	Account      string // empty picks the only stored token
	CalendarID   string
}

type CalDAV struct {
	URL          string
	Username     string
	Password     string
	CalendarName string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

// Config holds everything a session needs to start.
type Config struct {
	LogLevel string
	Provider string
	Google   Google
	CalDAV   CalDAV

	StateBackend string
	StateFile    string
	Redis        Redis

	Location    *time.Location
	SyncTimeout time.Duration
	SyncHold    time.Duration
	SyncRetries uint

	Viewer models.Viewer
}

// Load reads the configuration. Call godotenv.Load first to pick up .env.
func Load() (Config, error) {
	var err error
	cfg := Config{
		LogLevel: String("LOG_LEVEL", "info"),
		Provider: strings.ToLower(String("CALENDAR_PROVIDER", ProviderMemory)),
		Google: Google{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			Account:      os.Getenv("GOOGLE_ACCOUNT"),
			CalendarID:   String("GOOGLE_CALENDAR_ID", "primary"),
		},
		CalDAV: CalDAV{
			URL: String("CALDAV_URL", "https://caldav.icloud.com/"),
		},
		StateBackend: strings.ToLower(String("STATE_BACKEND", StateFile)),
		StateFile:    String("STATE_FILE", "session-state.json"),
		Redis: Redis{
			Addr:     String("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
	}

	switch cfg.Provider {
	case ProviderMemory, ProviderGoogle:
	case ProviderCalDAV:
		if cfg.CalDAV.Username, err = RequiredString("CALDAV_USERNAME"); err != nil {
			return cfg, err
		}
		if cfg.CalDAV.Password, err = RequiredString("CALDAV_PASSWORD"); err != nil {
			return cfg, err
		}
		if cfg.CalDAV.CalendarName, err = RequiredString("CALDAV_CALENDAR_NAME"); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("CALENDAR_PROVIDER must be one of memory, google, caldav (got %q)", cfg.Provider)
	}

	switch cfg.StateBackend {
	case StateFile, StateMemory:
	case StateRedis:
		if cfg.Redis.DB, err = Int("REDIS_DB", 0); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("STATE_BACKEND must be one of file, redis, memory (got %q)", cfg.StateBackend)
	}

	tz := String("PRIMARY_TIMEZONE", "UTC")
	if cfg.Location, err = time.LoadLocation(tz); err != nil {
		return cfg, fmt.Errorf("invalid timezone '%s': %w", tz, err)
	}
	if cfg.SyncTimeout, err = Duration("SYNC_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.SyncHold, err = Duration("SYNC_HOLD", 3*time.Second); err != nil {
		return cfg, err
	}
	retries, err := Int("SYNC_RETRIES", 3)
	if err != nil {
		return cfg, err
	}
	if retries < 1 {
		return cfg, fmt.Errorf("SYNC_RETRIES must be at least 1 (got %d)", retries)
	}
	cfg.SyncRetries = uint(retries)

	cfg.Viewer = models.Viewer{
		Role: models.Role(strings.ToLower(String("VIEWER_ROLE", string(models.RoleTherapist)))),
		ID:   os.Getenv("VIEWER_ID"),
		Name: os.Getenv("VIEWER_NAME"),
	}
	switch cfg.Viewer.Role {
	case models.RolePatient, models.RoleTherapist, models.RoleSuperAdmin:
	default:
		return cfg, fmt.Errorf("VIEWER_ROLE must be one of patient, therapist, super_admin (got %q)", cfg.Viewer.Role)
	}

	return cfg, nil
}

func String(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func RequiredString(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func Int(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got %q)", key, v)
	}
	return n, nil
}

// Duration accepts Go durations ("5s") or a bare number of seconds.
func Duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration (got %q)", key, v)
	}
	return d, nil
}
