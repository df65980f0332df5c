package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	AI        AIConfig
	Telemetry TelemetryConfig
	Keys      APIKeys
	CLI       CLIOverrides
}

type AppConfig struct {
	Port           string
	Environment    string
	LogFilePath    string
	WSLogFilePath  string
	AllowedOrigins string
	RedisURL       string
	NatsURL        string
}

type AIConfig struct {
	DefaultProvider  string
	MaxHops          int
	AgentsFile       string
	AvailabilityTTL  time.Duration
	SessionQueueSize int
	WorkspaceListing bool
}

type TelemetryConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
}

type APIKeys struct {
	XAI string
	ZAI string
	GLM string
}

// CLIOverrides replace the command or model of the built-in CLI agents.
type CLIOverrides struct {
	ClaudePath  string
	ClaudeModel string
	CodexPath   string
	CodexModel  string
	GeminiPath  string
	GeminiModel string
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	return &Config{
		App: AppConfig{
			Port:           getEnv("AI_DAEMON_PORT", "3001"),
			Environment:    getEnv("GO_ENV", "development"),
			LogFilePath:    getEnv("LOG_FILE_PATH", "ai-daemon.log"),
			WSLogFilePath:  getEnv("WS_LOG_FILE_PATH", "ai-daemon-ws.log"),
			AllowedOrigins: normalizeOrigins(getEnv("ALLOWED_ORIGINS", "*")),
			RedisURL:       getEnv("REDIS_URL", ""),
			NatsURL:        getEnv("NATS_URL", ""),
		},
		AI: AIConfig{
			DefaultProvider:  getEnv("DEFAULT_AI_PROVIDER", "claude"),
			MaxHops:          getEnvAsInt("AI_MAX_HOPS", 10),
			AgentsFile:       expandHome(getEnv("AI_AGENTS_FILE", "~/.stackedit-ai/agents.yaml")),
			AvailabilityTTL:  time.Duration(getEnvAsInt("AVAILABILITY_TTL_SECONDS", 30)) * time.Second,
			SessionQueueSize: getEnvAsInt("SESSION_QUEUE_SIZE", 16),
			WorkspaceListing: getEnvAsBool("VAULT_LISTING_IN_PROMPT", false),
		},
		Telemetry: TelemetryConfig{
			Enabled:     getEnvAsBool("OTEL_ENABLED", false),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "ai-daemon"),
		},
		Keys: APIKeys{
			XAI: getEnv("XAI_API_KEY", ""),
			ZAI: getEnv("ZAI_API_KEY", ""),
			GLM: getEnv("GLM_API_KEY", ""),
		},
		CLI: CLIOverrides{
			ClaudePath:  getEnv("CLAUDE_CLI_PATH", ""),
			ClaudeModel: getEnv("CLAUDE_MODEL", ""),
			CodexPath:   getEnv("CODEX_CLI_PATH", ""),
			CodexModel:  getEnv("CODEX_MODEL", ""),
			GeminiPath:  getEnv("GEMINI_CLI_PATH", ""),
			GeminiModel: getEnv("GEMINI_MODEL", ""),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

// normalizeOrigins turns "a, b" into the "a,b" list fiber's CORS middleware expects.
func normalizeOrigins(raw string) string {
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return "*"
	}
	return strings.Join(out, ",")
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
