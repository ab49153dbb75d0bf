package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	developmentAuthSecret = "quizdesk-development-secret"
	localStorageKey       = "sb-local-auth-token"
)

// Config aggregates runtime configuration for the quizdesk services.
type Config struct {
	Environment    string
	HTTPPort       int
	LogLevel       string
	LogFormat      string
	AllowedOrigins []string
	StaticDir      string
	SiteURL        string

	// DataStore selects the profile store: memory, postgres or supabase.
	DataStore   string
	DatabaseURL string

	// AuthProvider selects the identity provider: memory or supabase.
	AuthProvider       string
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	VerifyJWT          bool
	MemoryAuthSecret   string

	// SessionStore selects where auth tokens are persisted: memory, postgres or redis.
	SessionStore  string
	RedisAddr     string
	RedisPassword string

	SessionIdleTTL         time.Duration
	SessionMaxClients      int
	AuthRateLimitPerMinute int
}

// Overrides carries values supplied outside the environment, such as command
// line flags. Non-empty fields replace the environment value before validation.
type Overrides struct {
	DatabaseURL string
}

// Load reads configuration from environment variables with sensible defaults for local development.
// Values from a .env file fill in variables that are not already set.
func Load() (Config, error) {
	return LoadWith(Overrides{})
}

// LoadWith is Load with overrides applied before the configuration is validated.
func LoadWith(overrides Overrides) (Config, error) {
	if err := loadDotEnv(getEnv("DOTENV_PATH", ".env")); err != nil {
		return Config{}, err
	}

	databaseURL, err := getEnvOrFile("DATABASE_URL", "/run/secrets/quizdesk_database_url")
	if err != nil {
		return Config{}, err
	}

	serviceKey, err := getEnvOrFile("SUPABASE_SERVICE_KEY", "/run/secrets/quizdesk_supabase_service_key")
	if err != nil {
		return Config{}, err
	}

	redisPassword, err := getEnvOrFile("REDIS_PASSWORD", "/run/secrets/quizdesk_redis_password")
	if err != nil {
		return Config{}, err
	}

	memorySecret, err := getEnvOrFile("MEMORY_AUTH_SECRET", "")
	if err != nil {
		return Config{}, err
	}

	authProvider := strings.ToLower(getEnv("AUTH_PROVIDER", "memory"))
	defaultEnv := "development"
	if authProvider == "supabase" {
		defaultEnv = "production"
	}

	if overrides.DatabaseURL != "" {
		databaseURL = overrides.DatabaseURL
	}

	cfg := Config{
		Environment:        strings.ToLower(getEnv("APP_ENV", defaultEnv)),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		AllowedOrigins:     parseCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:8080")),
		StaticDir:          getEnv("WEB_DIST_PATH", "web/dist"),
		SiteURL:            strings.TrimSuffix(getEnv("SITE_URL", "http://localhost:8080"), "/"),
		DataStore:          strings.ToLower(getEnv("DATA_STORE", "memory")),
		DatabaseURL:        databaseURL,
		AuthProvider:       authProvider,
		SupabaseURL:        strings.TrimSuffix(strings.TrimSpace(getEnv("SUPABASE_URL", "")), "/"),
		SupabaseAnonKey:    strings.TrimSpace(getEnv("SUPABASE_ANON_KEY", "")),
		SupabaseServiceKey: strings.TrimSpace(serviceKey),
		MemoryAuthSecret:   strings.TrimSpace(memorySecret),
		SessionStore:       strings.ToLower(getEnv("SESSION_STORE", "memory")),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      redisPassword,
	}

	portValue := getEnv("PORT", getEnv("HTTP_PORT", "8080"))
	port, err := strconv.Atoi(portValue)
	if err != nil {
		return Config{}, fmt.Errorf("invalid port %q: %w", portValue, err)
	}
	cfg.HTTPPort = port

	verifyValue := getEnv("AUTH_VERIFY_JWT", "false")
	cfg.VerifyJWT, err = strconv.ParseBool(verifyValue)
	if err != nil {
		return Config{}, fmt.Errorf("invalid AUTH_VERIFY_JWT %q: %w", verifyValue, err)
	}

	idleValue := getEnv("SESSION_IDLE_TTL", "30m")
	cfg.SessionIdleTTL, err = time.ParseDuration(idleValue)
	if err != nil || cfg.SessionIdleTTL <= 0 {
		return Config{}, fmt.Errorf("invalid SESSION_IDLE_TTL %q", idleValue)
	}

	maxClientsValue := getEnv("SESSION_MAX_CLIENTS", "10000")
	cfg.SessionMaxClients, err = strconv.Atoi(maxClientsValue)
	if err != nil || cfg.SessionMaxClients <= 0 {
		return Config{}, fmt.Errorf("invalid SESSION_MAX_CLIENTS %q", maxClientsValue)
	}

	rateValue := getEnv("AUTH_RATE_LIMIT_PER_MINUTE", "20")
	cfg.AuthRateLimitPerMinute, err = strconv.Atoi(rateValue)
	if err != nil || cfg.AuthRateLimitPerMinute < 0 {
		return Config{}, fmt.Errorf("invalid AUTH_RATE_LIMIT_PER_MINUTE %q", rateValue)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DataStore {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATA_STORE is postgres but DATABASE_URL is not set")
		}
	case "supabase":
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			return errors.New("DATA_STORE is supabase but SUPABASE_URL or SUPABASE_SERVICE_KEY is not set")
		}
	default:
		return fmt.Errorf("unsupported DATA_STORE %q", c.DataStore)
	}

	switch c.AuthProvider {
	case "memory":
		if !c.IsDevelopment() {
			return errors.New("AUTH_PROVIDER memory is only allowed when APP_ENV is development")
		}
		if c.MemoryAuthSecret == "" {
			c.MemoryAuthSecret = developmentAuthSecret
		}
		if c.VerifyJWT {
			return errors.New("AUTH_VERIFY_JWT requires AUTH_PROVIDER supabase")
		}
	case "supabase":
		if c.SupabaseURL == "" || c.SupabaseAnonKey == "" {
			return errors.New("AUTH_PROVIDER is supabase but SUPABASE_URL or SUPABASE_ANON_KEY is not set")
		}
		if _, err := url.ParseRequestURI(c.SupabaseURL); err != nil {
			return fmt.Errorf("invalid SUPABASE_URL %q: %w", c.SupabaseURL, err)
		}
	default:
		return fmt.Errorf("unsupported AUTH_PROVIDER %q", c.AuthProvider)
	}

	switch c.SessionStore {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("SESSION_STORE is postgres but DATABASE_URL is not set")
		}
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("SESSION_STORE is redis but REDIS_ADDR is not set")
		}
	default:
		return fmt.Errorf("unsupported SESSION_STORE %q", c.SessionStore)
	}

	if !c.IsDevelopment() {
		if len(c.AllowedOrigins) == 0 {
			return errors.New("ALLOWED_ORIGINS must define at least one origin outside development")
		}
		for _, origin := range c.AllowedOrigins {
			if strings.Contains(origin, "*") {
				return errors.New("ALLOWED_ORIGINS cannot contain wildcard outside development")
			}
		}
	}

	return nil
}

// HTTPAddress returns the address the HTTP server should bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// IsDevelopment reports whether the service runs in the development environment.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// NeedsDatabase reports whether any component is backed by Postgres.
func (c Config) NeedsDatabase() bool {
	return c.DataStore == "postgres" || c.SessionStore == "postgres"
}

// UseDemoAccounts reports whether demo accounts should be seeded at startup.
func (c Config) UseDemoAccounts() bool {
	return c.AuthProvider == "memory" && c.DataStore == "memory"
}

// StorageKey returns the key persisted sessions are stored under, derived from
// the project reference in SUPABASE_URL.
func (c Config) StorageKey() string {
	if c.SupabaseURL == "" {
		return localStorageKey
	}
	parsed, err := url.Parse(c.SupabaseURL)
	if err != nil || parsed.Hostname() == "" {
		return localStorageKey
	}
	ref, _, _ := strings.Cut(parsed.Hostname(), ".")
	return "sb-" + ref + "-auth-token"
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: loading %s: %w", path, err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrFile(key, defaultPath string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}

	fileKey := key + "_FILE"
	if path := os.Getenv(fileKey); path != "" {
		return readSecret(path, fileKey)
	}

	if defaultPath != "" {
		return readSecret(defaultPath, key)
	}

	return "", nil
}

func readSecret(path, name string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config: reading %s (%s): %w", name, path, err)
	}

	value := strings.TrimSpace(string(contents))
	if value == "" {
		return "", fmt.Errorf("config: %s (%s) is empty", name, path)
	}
	return value, nil
}
