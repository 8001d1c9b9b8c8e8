// Package config loads runtime settings from the environment and the
// scenario registry from YAML files in the config directory.
package config

import (
	"os"
	"strconv"
	"time"
)

// Mode selects the deployment mode.
type Mode string

const (
	// ModeProduction requires request tokens and settles credits remotely.
	ModeProduction Mode = "production"
	// ModeLocal prefers the configured token and skips credit settlement.
	ModeLocal Mode = "local"
)

// LLMSettings configures the outbound chat-completions client.
type LLMSettings struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxTokens   int
}

// Settings holds all environment-derived runtime configuration.
type Settings struct {
	Mode Mode
	Host string
	Port string

	LLM LLMSettings

	// RSHubToken is the process-configured token, used in local mode.
	RSHubToken string
	// RSHubAPIBase is the simulation service base URL.
	RSHubAPIBase string
	// UserAPIBase is the base URL for the credit and remote session APIs.
	UserAPIBase string
	// RAGAPIBase is the knowledge-retrieval service base URL.
	RAGAPIBase string

	LLMCostFactor       float64
	RSHubTaskCostFactor float64
	CreditTimeout       time.Duration

	EnableLocalSessionCache bool
	SessionCacheDir         string

	MaxFileSize       int64
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	PollTimeout       time.Duration
}

// LoadSettings reads settings from the environment, applying defaults for
// anything unset.
func LoadSettings() *Settings {
	return &Settings{
		Mode: Mode(getEnv("DEPLOYMENT_MODE", string(ModeLocal))),
		Host: getEnv("HOST", "0.0.0.0"),
		Port: getEnv("PORT", "8000"),
		LLM: LLMSettings{
			BaseURL:     getEnv("LLM_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
			APIKey:      os.Getenv("LLM_API_KEY"),
			Model:       getEnv("LLM_MODEL", "deepseek-r1-250528"),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.7),
			Timeout:     getEnvDuration("LLM_TIMEOUT", 120*time.Second),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 20000),
		},
		RSHubToken:              os.Getenv("RSHUB_TOKEN"),
		RSHubAPIBase:            getEnv("RSHUB_API_BASE", "https://rshub.zju.edu.cn"),
		UserAPIBase:             getEnv("USER_API_BASE", "https://rshub.zju.edu.cn/users"),
		RAGAPIBase:              getEnv("RAG_API_BASE", "http://localhost:8001"),
		LLMCostFactor:           getEnvFloat("LLM_COST_FACTOR", 1.0),
		RSHubTaskCostFactor:     getEnvFloat("RSHUB_TASK_COST_FACTOR", 1.0),
		CreditTimeout:           getEnvDuration("CREDIT_TIMEOUT", 30*time.Second),
		EnableLocalSessionCache: getEnvBool("ENABLE_LOCAL_SESSION_CACHE", true),
		SessionCacheDir:         getEnv("SESSION_CACHE_DIR", "./data/sessions"),
		MaxFileSize:             int64(getEnvInt("MAX_FILE_SIZE", 20*1024*1024)),
		HeartbeatInterval:       getEnvDuration("PROGRESS_HEARTBEAT_INTERVAL", 30*time.Second),
		PollInterval:            getEnvDuration("RSHUB_POLL_INTERVAL", 10*time.Second),
		PollTimeout:             getEnvDuration("RSHUB_POLL_TIMEOUT", 120*time.Second),
	}
}

// Production reports whether the service runs in production mode.
func (s *Settings) Production() bool {
	return s.Mode == ModeProduction
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration parses either a Go duration ("90s") or a bare number of
// seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}
