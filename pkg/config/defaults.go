// Package config provides centralized default values for PulseStat
package config

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var envLoaded sync.Once

func loadEnvFile() {
	envLoaded.Do(func() {
		file, err := os.Open(".env")
		if err != nil {
			return
		}
		defer file.Close()

		log.Println("Loading configuration overrides from .env file...")
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())

			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}

			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])

			if os.Getenv(key) == "" {
				os.Setenv(key, value)
			}
		}
	})
}

func getEnvInt(key string, defaultValue int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%d (default: %d)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvString(key string, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		if val != defaultValue {
			log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
		}
		return val
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.ParseBool(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%t (default: %t)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string) []string {
	valStr := os.Getenv(key)
	if valStr == "" {
		return nil
	}
	parts := strings.Split(valStr, ",")
	vals := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			vals = append(vals, p)
		}
	}
	log.Printf("Config override: %s=%v (default: none)", key, vals)
	return vals
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := time.ParseDuration(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

var (
	// Server Configuration
	Port               string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	AllowedOrigins     []string

	// Database Configuration
	DBDriver    string
	DBPath      string
	DatabaseURL string
	DBAuthToken string

	// Database Pool
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeMinutes int
	DBConnMaxIdleMinutes     int

	// Ingestion
	HeartbeatSalt  string
	MaxFieldLength int

	// Rate Limiting / Bans
	RateLimitWindow       time.Duration
	RateLimitCeiling      int
	BanViolationThreshold int
	BanSafetyMargin       time.Duration
	TrustProxyHeader      bool
	BanSweepInterval      time.Duration

	// Rollup Retention (rows kept per granularity)
	RetentionHours  int
	RetentionDays   int
	RetentionWeeks  int
	RetentionMonths int
	RetentionYears  int

	// Rollup Boundaries
	RollupTimezone string

	// Admin / Auth
	JWTSecret     string
	AdminPassword string
	TokenLifetime time.Duration

	// Operator Alerts
	ResendAPIKey   string
	AdminEmail     string
	AlertEmailFrom string

	// Live Stats
	LiveStatsInterval time.Duration

	// Observability
	SlowQueryThreshold time.Duration
	LogDirectory       string
	LogVerbose         bool
)

func init() {
	loadEnvFile()

	// Server Configuration
	Port = getEnvString("PORT", "8080")
	ServerReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	ServerWriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second)
	ServerIdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)
	AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS")

	// Database Configuration
	DBDriver = getEnvString("DB_DRIVER", "sqlite3")
	DBPath = getEnvString("DB_PATH", "pulsestat.db")
	DatabaseURL = getEnvString("DATABASE_URL", "")
	DBAuthToken = getEnvString("DATABASE_AUTH_TOKEN", "")

	// Database Pool
	DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 3)
	DBConnMaxLifetimeMinutes = getEnvInt("DB_CONN_MAX_LIFETIME_MINUTES", 30)
	DBConnMaxIdleMinutes = getEnvInt("DB_CONN_MAX_IDLE_MINUTES", 3)

	// Ingestion
	HeartbeatSalt = getEnvString("HEARTBEAT_SALT", "")
	MaxFieldLength = getEnvInt("MAX_FIELD_LENGTH", 100)

	// Rate Limiting / Bans
	RateLimitWindow = time.Duration(getEnvInt("RATE_LIMIT_WINDOW_MINUTES", 30)) * time.Minute
	RateLimitCeiling = getEnvInt("RATE_LIMIT_CEILING", 3)
	BanViolationThreshold = getEnvInt("BAN_VIOLATION_THRESHOLD", 2)
	BanSafetyMargin = time.Duration(getEnvInt("BAN_SAFETY_MARGIN_MINUTES", 1)) * time.Minute
	TrustProxyHeader = getEnvBool("TRUST_PROXY_HEADER", true)
	BanSweepInterval = time.Duration(getEnvInt("BAN_SWEEP_INTERVAL_MINUTES", 10)) * time.Minute

	// Rollup Retention
	RetentionHours = getEnvInt("RETENTION_HOURS", 24)
	RetentionDays = getEnvInt("RETENTION_DAYS", 7)
	RetentionWeeks = getEnvInt("RETENTION_WEEKS", 4)
	RetentionMonths = getEnvInt("RETENTION_MONTHS", 12)
	RetentionYears = getEnvInt("RETENTION_YEARS", 25)

	// Rollup Boundaries
	RollupTimezone = getEnvString("ROLLUP_TIMEZONE", "UTC")

	// Admin / Auth
	JWTSecret = getEnvString("JWT_SECRET", "")
	AdminPassword = getEnvString("ADMIN_PASSWORD", "")
	TokenLifetime = getEnvDuration("TOKEN_LIFETIME", 24*time.Hour)

	// Operator Alerts
	ResendAPIKey = getEnvString("RESEND_API_KEY", "")
	AdminEmail = getEnvString("ADMIN_EMAIL", "")
	AlertEmailFrom = getEnvString("ALERT_EMAIL_FROM", "alerts@pulsestat.app")

	// Live Stats
	LiveStatsInterval = time.Duration(getEnvInt("LIVE_STATS_INTERVAL_SECONDS", 30)) * time.Second

	// Observability
	SlowQueryThreshold = getEnvDuration("SLOW_QUERY_THRESHOLD", 100*time.Millisecond)
	LogDirectory = getEnvString("LOG_DIRECTORY", "logs")
	LogVerbose = getEnvBool("LOG_VERBOSE", false)
}

// BanDuration returns how long a ban lasts: the expected delivery interval
// minus a safety margin, so a legitimate next scheduled heartbeat is never
// rejected by a ban whose expiry coincides with the next allowed request.
func BanDuration() time.Duration {
	d := RateLimitWindow - BanSafetyMargin
	if d < time.Minute {
		d = time.Minute
	}
	return d
}

// RetentionCap returns the configured row cap for a rollup granularity key.
func RetentionCap(granularity string) int {
	switch granularity {
	case "hour":
		return RetentionHours
	case "day":
		return RetentionDays
	case "week":
		return RetentionWeeks
	case "month":
		return RetentionMonths
	case "year":
		return RetentionYears
	}
	return 0
}
