package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the FarmXpert orchestrator.
type Config struct {
	Port      int
	Version   string
	Engine    EngineConfig
	Sessions  SessionConfig
	Routing   RoutingConfig
	Adapters  AdapterConfig
	LLM       LLMConfig
	Archive   ArchiveConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
	Notify    NotifyConfig
	Log       LogConfig
}

// EngineConfig bounds task execution.
type EngineConfig struct {
	TaskTimeout    time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxParallel    int
	Overhead       time.Duration
}

// BusyPolicy decides what happens when a query arrives for a session whose
// previous workflow is still running.
type BusyPolicy string

const (
	BusyCancel     BusyPolicy = "cancel"     // cancel the in-flight workflow, start the new one
	BusyQueue      BusyPolicy = "queue"      // wait for the in-flight workflow to finish
	BusyConcurrent BusyPolicy = "concurrent" // run both, sharing history
	BusyReject     BusyPolicy = "reject"     // refuse the new query
)

type SessionConfig struct {
	BusyPolicy      BusyPolicy
	HistoryWindow   int
	IdleTTL         time.Duration // 0 = sessions live for the process lifetime
	JanitorInterval time.Duration

	// Finished workflows and their streams are kept this long after completion.
	WorkflowRetention time.Duration
	// ArchiveDir receives JSONL transcripts of pruned workflows; empty disables.
	ArchiveDir      string
	CompressArchive bool
}

type RoutingConfig struct {
	MaxAdapters int
}

type AdapterConfig struct {
	// Endpoints maps adapter name → advisory service URL.
	Endpoints map[string]string
	Timeout   time.Duration
}

type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type ArchiveConfig struct {
	DatabaseURL string
	DataDir     string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type AuthConfig struct {
	// Comma-separated API keys; empty disables auth.
	APIKeys []string
}

// NotifyConfig lists webhooks that receive answer notifications.
type NotifyConfig struct {
	WebhookURLs []string
	Secret      string
	Events      []string // empty = all events
	Timeout     time.Duration
}

type LogConfig struct {
	Level  string
	Format string // "console" or "json"
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("FARMXPERT_PORT", 8080),
		Version: envStr("FARMXPERT_VERSION", "0.1.0"),
		Engine: EngineConfig{
			TaskTimeout:    envDuration("FARMXPERT_TASK_TIMEOUT", 20*time.Second),
			MaxRetries:     envInt("FARMXPERT_TASK_MAX_RETRIES", 2),
			InitialBackoff: envDuration("FARMXPERT_RETRY_INITIAL_BACKOFF", 250*time.Millisecond),
			MaxBackoff:     envDuration("FARMXPERT_RETRY_MAX_BACKOFF", 2*time.Second),
			MaxParallel:    envInt("FARMXPERT_MAX_PARALLEL_TASKS", 8),
			Overhead:       envDuration("FARMXPERT_WORKFLOW_OVERHEAD", 5*time.Second),
		},
		Sessions: SessionConfig{
			BusyPolicy:      ParseBusyPolicy(envStr("FARMXPERT_BUSY_POLICY", string(BusyCancel))),
			HistoryWindow:   envInt("FARMXPERT_HISTORY_WINDOW", 10),
			IdleTTL:         envDuration("FARMXPERT_SESSION_IDLE_TTL", 0),
			JanitorInterval: envDuration("FARMXPERT_JANITOR_INTERVAL", 5*time.Minute),

			WorkflowRetention: envDuration("FARMXPERT_WORKFLOW_RETENTION", time.Hour),
			ArchiveDir:        envStr("FARMXPERT_ARCHIVE_DIR", ""),
			CompressArchive:   envBool("FARMXPERT_ARCHIVE_COMPRESS", true),
		},
		Routing: RoutingConfig{
			MaxAdapters: envInt("FARMXPERT_MAX_ADAPTERS", 5),
		},
		Adapters: AdapterConfig{
			Endpoints: ParseEndpoints(envStr("FARMXPERT_ADAPTERS", "")),
			Timeout:   envDuration("FARMXPERT_ADAPTER_HTTP_TIMEOUT", 30*time.Second),
		},
		LLM: LLMConfig{
			APIKey:  envStr("OPENAI_API_KEY", ""),
			BaseURL: envStr("OPENAI_BASE_URL", ""),
			Model:   envStr("FARMXPERT_LLM_MODEL", "gpt-4o-mini"),
			Timeout: envDuration("FARMXPERT_LLM_TIMEOUT", 15*time.Second),
		},
		Archive: ArchiveConfig{
			DatabaseURL: envStr("DATABASE_URL", ""),
			DataDir:     envStr("FARMXPERT_DATA_DIR", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "farmxpert-orchestrator"),
		},
		Auth: AuthConfig{
			APIKeys: splitList(envStr("FARMXPERT_API_KEYS", "")),
		},
		Notify: NotifyConfig{
			WebhookURLs: splitList(envStr("FARMXPERT_WEBHOOK_URLS", "")),
			Secret:      envStr("FARMXPERT_WEBHOOK_SECRET", ""),
			Events:      splitList(envStr("FARMXPERT_WEBHOOK_EVENTS", "")),
			Timeout:     envDuration("FARMXPERT_WEBHOOK_TIMEOUT", 15*time.Second),
		},
		Log: LogConfig{
			Level:  envStr("LOG_LEVEL", "info"),
			Format: envStr("LOG_FORMAT", "console"),
		},
	}
}

// ParseBusyPolicy maps a string to a BusyPolicy, defaulting to BusyCancel.
func ParseBusyPolicy(s string) BusyPolicy {
	switch p := BusyPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case BusyCancel, BusyQueue, BusyConcurrent, BusyReject:
		return p
	default:
		return BusyCancel
	}
}

// ParseEndpoints parses "name=url,name2=url2". Malformed entries are skipped.
func ParseEndpoints(s string) map[string]string {
	out := make(map[string]string)
	for _, entry := range splitList(s) {
		name, url, ok := strings.Cut(entry, "=")
		name, url = strings.TrimSpace(name), strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			continue
		}
		out[name] = url
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
