package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Firebase FirebaseConfig
	Agent    AgentConfig
	Session  SessionConfig
	App      AppConfig
}

type ServerConfig struct {
	Port               string
	CORSAllowedOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type FirebaseConfig struct {
	CredentialsPath string
	ProjectID       string
}

type AgentConfig struct {
	BaseURL   string
	Timeout   time.Duration
	SessionID string
	// OAuth2 client credentials; requests go out unauthenticated when TokenURL is empty.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

type SessionConfig struct {
	// StoreBackend selects the snapshot store: firestore, redis or postgres.
	StoreBackend string
	HistoryLimit int
	PersistTurns bool
	// SubmitsPerMinute and SubmitBurst bound turns per user session; 0 disables the limit.
	SubmitsPerMinute int
	SubmitBurst      int
}

type AppConfig struct {
	Environment string
	LogLevel    string
	Version     string
	// AuthMode is "firebase" (ID token verification) or "dev" (X-User-Id header).
	AuthMode string
}

const (
	StoreFirestore = "firestore"
	StoreRedis     = "redis"
	StorePostgres  = "postgres"

	AuthFirebase = "firebase"
	AuthDev      = "dev"
)

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "intelliexo"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Firebase: FirebaseConfig{
			CredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", ""),
			ProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
		},
		Agent: AgentConfig{
			BaseURL:   getEnv("AGENT_BASE_URL", "https://agent-206456287844.asia-east1.run.app"),
			Timeout:   time.Duration(getEnvAsInt("AGENT_TIMEOUT_SECONDS", 60)) * time.Second,
			SessionID: getEnv("AGENT_SESSION_ID", "default"),

			TokenURL:     getEnv("AGENT_TOKEN_URL", ""),
			ClientID:     getEnv("AGENT_CLIENT_ID", ""),
			ClientSecret: getEnv("AGENT_CLIENT_SECRET", ""),
			Scopes:       getEnvAsList("AGENT_SCOPES", nil),
		},
		Session: SessionConfig{
			StoreBackend: getEnv("STORE_BACKEND", StoreFirestore),
			HistoryLimit: getEnvAsInt("CHAT_HISTORY_LIMIT", 100),
			PersistTurns: getEnvAsBool("PERSIST_TURNS", false),

			SubmitsPerMinute: getEnvAsInt("SUBMITS_PER_MINUTE", 20),
			SubmitBurst:      getEnvAsInt("SUBMIT_BURST", 5),
		},
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
			AuthMode:    getEnv("AUTH_MODE", AuthFirebase),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.Agent.BaseURL == "" {
		return fmt.Errorf("AGENT_BASE_URL is required")
	}

	if c.Session.HistoryLimit <= 0 {
		return fmt.Errorf("CHAT_HISTORY_LIMIT must be positive")
	}

	if c.Session.SubmitsPerMinute < 0 || c.Session.SubmitBurst < 0 {
		return fmt.Errorf("SUBMITS_PER_MINUTE and SUBMIT_BURST must not be negative")
	}

	if c.Agent.TokenURL != "" && (c.Agent.ClientID == "" || c.Agent.ClientSecret == "") {
		return fmt.Errorf("AGENT_CLIENT_ID and AGENT_CLIENT_SECRET are required when AGENT_TOKEN_URL is set")
	}

	switch c.App.AuthMode {
	case AuthFirebase:
		if c.Firebase.CredentialsPath == "" {
			return fmt.Errorf("FIREBASE_CREDENTIALS_PATH is required when AUTH_MODE=firebase")
		}
	case AuthDev:
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.App.AuthMode)
	}

	switch c.Session.StoreBackend {
	case StoreFirestore:
		if c.Firebase.CredentialsPath == "" {
			return fmt.Errorf("FIREBASE_CREDENTIALS_PATH is required for the firestore store")
		}
	case StoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis store")
		}
	case StorePostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("DB_HOST is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Session.StoreBackend)
	}

	return nil
}

// DSN builds a lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Password, d.Name)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer for %s, using default: %d", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid bool for %s, using default: %t", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
