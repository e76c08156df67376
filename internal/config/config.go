package config

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/chatd.ini"
)

// Store and cache drivers.
const (
	StoreMongo    = "mongo"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	CacheRedis  = "redis"
	CacheMemory = "memory"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// ChatConfig describes runtime options for the chat daemon.
type ChatConfig struct {
	Environment string
	HTTPAddress string
	LogFile     string
	LogLevel    string

	// Persistence
	StoreDriver         string
	MongoURI            string
	MongoDatabase       string
	SQLDSN              string
	CacheDriver         string
	RedisURI            string
	CredentialTTL       time.Duration
	KeyEncryptionSecret string

	// Upstreams
	OpenRouterKey     string
	OpenRouterBaseURL string
	ChutesKey         string
	ChutesBaseURL     string
	TitleModel        string
	MemoryModel       string
	UpstreamTimeout   time.Duration
	ModelsFile        string

	// Search
	SearchEnabled bool
	SerperKey     string
	SerperBaseURL string

	// Streaming
	ReaperDelay  time.Duration
	BatchWindow  time.Duration
	SSEKeepAlive time.Duration
	TaskTimeout  time.Duration
	StreamIdle   time.Duration

	// Access
	SessionSecret  string
	AuthDisabled   bool
	RateLimitRPS   float64
	RateLimitBurst float64
}

// LoadChatConfig reads the current environment and loads the matching chatd.ini.
func LoadChatConfig(root string) (ChatConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return ChatConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return ChatConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := ChatConfig{
		Environment: s.Environment,
		HTTPAddress: firstNonEmpty(os.Getenv("CHATD_HTTP_ADDRESS"), merged["http_address"], ":8080"),
		LogFile:     firstNonEmpty(os.Getenv("CHATD_LOG_FILE"), merged["log_file"]),
		LogLevel:    strings.ToLower(firstNonEmpty(os.Getenv("CHATD_LOG_LEVEL"), merged["log_level"], "info")),

		StoreDriver:         strings.ToLower(firstNonEmpty(os.Getenv("CHATD_STORE_DRIVER"), merged["store_driver"], StoreMongo)),
		MongoURI:            firstNonEmpty(os.Getenv("MONGODB_URI"), merged["mongodb_uri"]),
		MongoDatabase:       firstNonEmpty(os.Getenv("CHATD_MONGODB_DATABASE"), merged["mongodb_database"], "chat"),
		SQLDSN:              firstNonEmpty(os.Getenv("CHATD_SQL_DSN"), merged["sql_dsn"], DefaultSQLitePath()),
		CacheDriver:         strings.ToLower(firstNonEmpty(os.Getenv("CHATD_CACHE_DRIVER"), merged["cache_driver"], CacheRedis)),
		RedisURI:            firstNonEmpty(os.Getenv("REDIS_URI"), merged["redis_uri"]),
		KeyEncryptionSecret: firstNonEmpty(os.Getenv("KEY_ENCRYPTION_SECRET"), merged["key_encryption_secret"]),

		OpenRouterKey:     firstNonEmpty(os.Getenv("OPENROUTER_KEY"), merged["openrouter_key"]),
		OpenRouterBaseURL: firstNonEmpty(os.Getenv("CHATD_OPENROUTER_BASE_URL"), merged["openrouter_base_url"], "https://openrouter.ai/api/v1"),
		ChutesKey:         firstNonEmpty(os.Getenv("CHUTES_KEY"), merged["chutes_key"]),
		ChutesBaseURL:     firstNonEmpty(os.Getenv("CHATD_CHUTES_BASE_URL"), merged["chutes_base_url"], "https://llm.chutes.ai/v1"),
		TitleModel:        firstNonEmpty(os.Getenv("CHATD_TITLE_MODEL"), merged["title_model"]),
		MemoryModel:       firstNonEmpty(os.Getenv("CHATD_MEMORY_MODEL"), merged["memory_model"]),
		ModelsFile:        firstNonEmpty(os.Getenv("CHATD_MODELS_FILE"), merged["models_file"]),

		SearchEnabled: parseOptionalBool(firstNonEmpty(os.Getenv("CHATD_SEARCH_ENABLED"), merged["search_enabled"]), true),
		SerperKey:     firstNonEmpty(os.Getenv("SERPER_KEY"), merged["serper_key"]),
		SerperBaseURL: firstNonEmpty(os.Getenv("CHATD_SERPER_BASE_URL"), merged["serper_base_url"], "https://google.serper.dev"),

		SessionSecret: firstNonEmpty(os.Getenv("SESSION_SECRET_KEY"), merged["session_secret_key"]),
		AuthDisabled:  parseOptionalBool(firstNonEmpty(os.Getenv("CHATD_AUTH_DISABLED"), merged["auth_disabled"]), false),
	}

	durations := []struct {
		name     string
		env      string
		fallback string
		dst      *time.Duration
	}{
		{"credential_cache_ttl", "CHATD_CREDENTIAL_CACHE_TTL", "1h", &cfg.CredentialTTL},
		{"upstream_timeout", "CHATD_UPSTREAM_TIMEOUT", "120s", &cfg.UpstreamTimeout},
		{"reaper_delay", "CHATD_REAPER_DELAY", "20s", &cfg.ReaperDelay},
		{"batch_window", "CHATD_BATCH_WINDOW", "100ms", &cfg.BatchWindow},
		{"sse_keepalive", "CHATD_SSE_KEEPALIVE", "15s", &cfg.SSEKeepAlive},
		{"task_timeout", "CHATD_TASK_TIMEOUT", "60s", &cfg.TaskTimeout},
		{"stream_idle_timeout", "CHATD_STREAM_IDLE_TIMEOUT", "120s", &cfg.StreamIdle},
	}
	for _, d := range durations {
		v := firstNonEmpty(os.Getenv(d.env), merged[d.name], d.fallback)
		dur, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return ChatConfig{}, fmt.Errorf("invalid %s %q: %w", d.name, v, err)
		}
		*d.dst = dur
	}

	cfg.RateLimitRPS, err = parseOptionalFloat(firstNonEmpty(os.Getenv("CHATD_RATE_LIMIT_RPS"), merged["rate_limit_rps"]), 0.5)
	if err != nil {
		return ChatConfig{}, fmt.Errorf("invalid rate_limit_rps: %w", err)
	}
	cfg.RateLimitBurst, err = parseOptionalFloat(firstNonEmpty(os.Getenv("CHATD_RATE_LIMIT_BURST"), merged["rate_limit_burst"]), 10)
	if err != nil {
		return ChatConfig{}, fmt.Errorf("invalid rate_limit_burst: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings the daemon cannot start without.
func (c ChatConfig) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case StoreMongo:
		if strings.TrimSpace(c.MongoURI) == "" {
			errs = append(errs, errors.New("mongodb_uri is required for the mongo store"))
		}
	case StoreSQLite, StorePostgres:
		if strings.TrimSpace(c.SQLDSN) == "" {
			errs = append(errs, fmt.Errorf("sql_dsn is required for the %s store", c.StoreDriver))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store_driver %q", c.StoreDriver))
	}
	switch c.CacheDriver {
	case CacheRedis:
		if strings.TrimSpace(c.RedisURI) == "" {
			errs = append(errs, errors.New("redis_uri is required for the redis cache"))
		}
	case CacheMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown cache_driver %q", c.CacheDriver))
	}
	if key, err := hex.DecodeString(strings.TrimSpace(c.KeyEncryptionSecret)); err != nil || len(key) != 32 {
		errs = append(errs, errors.New("key_encryption_secret must be 64 hex characters"))
	}
	if !c.AuthDisabled && strings.TrimSpace(c.SessionSecret) == "" {
		errs = append(errs, errors.New("session_secret_key is required unless auth_disabled is set"))
	}
	if c.SearchEnabled && strings.TrimSpace(c.SerperKey) == "" {
		errs = append(errs, errors.New("serper_key is required when search is enabled"))
	}
	if c.BatchWindow <= 0 || c.ReaperDelay <= 0 || c.SSEKeepAlive <= 0 || c.TaskTimeout <= 0 || c.StreamIdle <= 0 {
		errs = append(errs, errors.New("batch_window, reaper_delay, sse_keepalive, task_timeout and stream_idle_timeout must be positive"))
	}
	return errors.Join(errs...)
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: firstNonEmpty(os.Getenv("CHATD_ENV"), defaultEnv), Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := firstNonEmpty(os.Getenv("CHATD_ENV"), values["environment"], defaultEnv)
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = strings.TrimSpace(val)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalFloat(v string, fallback float64) (float64, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(strings.TrimSpace(v), 64)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DefaultSQLitePath returns the fallback database location under the user's home directory.
func DefaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chatd.db"
	}
	return filepath.Join(home, ".chatd", "chatd.db")
}
