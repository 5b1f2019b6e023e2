package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Per-key rate limit caps applied when a provider block omits them. They
// mirror the free-tier limits of Gemini Flash, the most common deployment.
const (
	defaultMaxRequestDay = 1500
	defaultMaxTokenMin   = 150000
	defaultMaxRequestMin = 15

	defaultUsageGapPercentage = 5.0
)

// Config holds all configuration for the gateway
type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Caching
	CacheEnabled    bool
	CacheTTLSeconds int

	// Request log retention
	RetentionSchedule string
	RetentionDays     int

	// Admission control, from the YAML key file
	AccessKey          string
	UsageGapPercentage float64
	AutoModels         []string
	ProviderKeys       []ProviderKeyConfig
}

// ProviderKeyConfig is one provider block from the key file: the provider's
// API keys plus the caps each of those keys lives under.
type ProviderKeyConfig struct {
	Provider      string
	Keys          []string
	MaxRequestDay int
	MaxTokenMin   int
	MaxRequestMin int
}

type fileConfig struct {
	AccessKey          string            `yaml:"access_key"`
	UsageGapPercentage *float64          `yaml:"model_usage_gap_percentage"`
	AutoModels         []string          `yaml:"auto-models"`
	ProviderKeys       []fileProviderKey `yaml:"provider_keys"`
}

type fileProviderKey struct {
	Provider      string   `yaml:"provider"`
	Keys          []string `yaml:"key"`
	MaxRequestDay *int     `yaml:"max_request_day"`
	MaxTokenMin   *int     `yaml:"max_token_min"`
	MaxRequestMin *int     `yaml:"max_request_min"`
}

// Load reads environment variables plus the YAML key file named by
// CONFIG_PATH (default config.yaml).
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg, err := LoadFile(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		return nil, err
	}

	cfg.Port = getEnv("PORT", "8080")
	cfg.Env = getEnv("ENV", "development")
	cfg.DatabaseURL = getEnv("DATABASE_URL", "")
	cfg.RedisURL = getEnv("REDIS_URL", "")
	cfg.CacheEnabled = getEnvBool("CACHE_ENABLED", true)
	cfg.CacheTTLSeconds = getEnvInt("CACHE_TTL_SECONDS", 3600)
	cfg.RetentionSchedule = getEnv("RETENTION_SCHEDULE", "0 3 * * *")
	cfg.RetentionDays = getEnvInt("RETENTION_DAYS", 30)

	return cfg, nil
}

// LoadFile parses and validates the YAML key file at path. ${VAR} and
// ${VAR:-default} references in the file are expanded from the environment
// before parsing.
func LoadFile(path string) (*Config, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must be .yaml or .yml, got %q", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(raw))), &fc); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg := &Config{
		AccessKey:          fc.AccessKey,
		UsageGapPercentage: defaultUsageGapPercentage,
		AutoModels:         fc.AutoModels,
	}
	if fc.UsageGapPercentage != nil {
		cfg.UsageGapPercentage = *fc.UsageGapPercentage
	}

	for _, pk := range fc.ProviderKeys {
		entry := ProviderKeyConfig{
			Provider:      pk.Provider,
			Keys:          pk.Keys,
			MaxRequestDay: defaultMaxRequestDay,
			MaxTokenMin:   defaultMaxTokenMin,
			MaxRequestMin: defaultMaxRequestMin,
		}
		if pk.MaxRequestDay != nil {
			entry.MaxRequestDay = *pk.MaxRequestDay
		}
		if pk.MaxTokenMin != nil {
			entry.MaxTokenMin = *pk.MaxTokenMin
		}
		if pk.MaxRequestMin != nil {
			entry.MaxRequestMin = *pk.MaxRequestMin
		}
		cfg.ProviderKeys = append(cfg.ProviderKeys, entry)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.AccessKey == "" {
		return fmt.Errorf("access_key is required")
	}
	if c.UsageGapPercentage < 0 {
		return fmt.Errorf("model_usage_gap_percentage must not be negative, got %v", c.UsageGapPercentage)
	}
	if len(c.ProviderKeys) == 0 {
		return fmt.Errorf("at least one provider_keys entry is required")
	}

	for i, pk := range c.ProviderKeys {
		if pk.Provider == "" {
			return fmt.Errorf("provider_keys[%d]: provider name is required", i)
		}
		if len(pk.Keys) == 0 {
			return fmt.Errorf("provider_keys[%d] (%s): at least one key is required", i, pk.Provider)
		}
		for j, key := range pk.Keys {
			if strings.TrimSpace(key) == "" {
				return fmt.Errorf("provider_keys[%d] (%s): key[%d] is empty", i, pk.Provider, j)
			}
		}
		if pk.MaxRequestDay <= 0 || pk.MaxTokenMin <= 0 || pk.MaxRequestMin <= 0 {
			return fmt.Errorf("provider_keys[%d] (%s): rate limit caps must be positive", i, pk.Provider)
		}
	}

	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::(-[^}]*))?\}`)

// substituteEnvVars expands ${VAR} and ${VAR:-default} in the raw file text.
// Unset variables without a default are left as-is so the YAML error points
// at the real problem.
func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(groups[1]); ok && value != "" {
			return value
		}
		if groups[2] != "" {
			return strings.TrimPrefix(groups[2], "-")
		}
		return match
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
