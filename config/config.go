package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Classifier ClassifierConfig
	Trust      TrustConfig
	Dispatcher DispatcherConfig
	Engine     EngineConfig
	API        APIConfig
	CORS       CORSConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret      string
	ExpiryHours int
}

// ClassifierConfig tunes the gateway in front of the external AI classifier.
type ClassifierConfig struct {
	APIKey        string
	Model         string
	CallTimeout   time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	MaxConcurrent int
	CacheTTL      time.Duration
	CallsPerSec   float64
}

// TrustConfig holds the tunable policy knobs for the trust state machine.
// The per-category penalty table lives in trust.DefaultPolicy.
type TrustConfig struct {
	InitialScore     float64
	DecayPerHour     float64
	HysteresisMargin float64
	RecoveryDwell    time.Duration
	BaseMuteDuration time.Duration
	MutePerPoint     time.Duration
}

type DispatcherConfig struct {
	MaxAttempts   int
	CallTimeout   time.Duration
	BackoffBase   time.Duration
	ActionChannel string
}

type EngineConfig struct {
	QueueDepth   int
	EventChannel string
	AuditChannel string
}

type APIConfig struct {
	RateLimitCommandsPerSec int
}

type CORSConfig struct {
	AllowedOrigins []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		redisDB = 0
	}

	jwtExpiry, err := strconv.Atoi(getEnv("JWT_EXPIRY_HOURS", "24"))
	if err != nil {
		jwtExpiry = 24
	}

	origins := strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ",")

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "warden"),
			Password: getEnv("DB_PASSWORD", "warden_password"),
			DBName:   getEnv("DB_NAME", "warden_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-this-secret-key"),
			ExpiryHours: jwtExpiry,
		},
		Classifier: ClassifierConfig{
			APIKey:        getEnv("GEMINI_API_KEY", ""),
			Model:         getEnv("CLASSIFIER_MODEL", "gemini-2.0-flash"),
			CallTimeout:   getDuration("CLASSIFIER_TIMEOUT_SECONDS", 10*time.Second),
			MaxAttempts:   getInt("CLASSIFIER_MAX_ATTEMPTS", 3),
			BackoffBase:   getDuration("CLASSIFIER_BACKOFF_MS", 500*time.Millisecond),
			MaxConcurrent: getInt("CLASSIFIER_MAX_CONCURRENT", 8),
			CacheTTL:      getDuration("VERDICT_CACHE_TTL_SECONDS", 5*time.Minute),
			CallsPerSec:   getFloat("CLASSIFIER_CALLS_PER_SECOND", 4),
		},
		Trust: TrustConfig{
			InitialScore:     getFloat("TRUST_INITIAL_SCORE", 100),
			DecayPerHour:     getFloat("TRUST_DECAY_PER_HOUR", 1.5),
			HysteresisMargin: getFloat("TRUST_HYSTERESIS_MARGIN", 3),
			RecoveryDwell:    getDuration("TRUST_RECOVERY_DWELL_SECONDS", time.Hour),
			BaseMuteDuration: getDuration("TRUST_BASE_MUTE_SECONDS", 10*time.Minute),
			MutePerPoint:     getDuration("TRUST_MUTE_PER_POINT_SECONDS", 2*time.Minute),
		},
		Dispatcher: DispatcherConfig{
			MaxAttempts:   getInt("DISPATCH_MAX_ATTEMPTS", 3),
			CallTimeout:   getDuration("DISPATCH_TIMEOUT_SECONDS", 10*time.Second),
			BackoffBase:   getDuration("DISPATCH_BACKOFF_MS", 1000*time.Millisecond),
			ActionChannel: getEnv("DISPATCH_ACTION_CHANNEL", "platform.actions"),
		},
		Engine: EngineConfig{
			QueueDepth:   getInt("ENGINE_QUEUE_DEPTH", 8),
			EventChannel: getEnv("ENGINE_EVENT_CHANNEL", "platform.events"),
			AuditChannel: getEnv("ENGINE_AUDIT_CHANNEL", "moderation.audit"),
		},
		API: APIConfig{
			RateLimitCommandsPerSec: getInt("RATE_LIMIT_COMMANDS_PER_SECOND", 5),
		},
		CORS: CORSConfig{
			AllowedOrigins: origins,
		},
	}

	// Validate required fields
	if cfg.JWT.Secret == "change-this-secret-key" && cfg.Server.Env == "production" {
		return nil, fmt.Errorf("JWT_SECRET must be set in production")
	}
	if cfg.Classifier.APIKey == "" && cfg.Server.Env == "production" {
		return nil, fmt.Errorf("GEMINI_API_KEY must be set in production")
	}

	return cfg, nil
}

// GetDSN returns the database connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

// getDuration reads an integer env var scaled by the key's unit suffix
// (_MS for milliseconds, otherwise seconds). Zero and negative values
// fall back to the default; no duration knob means "never" here.
func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultValue
	}
	if strings.HasSuffix(key, "_MS") {
		return time.Duration(n) * time.Millisecond
	}
	return time.Duration(n) * time.Second
}
