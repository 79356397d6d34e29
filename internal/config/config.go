// Package config provides the configuration schema and loader for the
// voxtutor server.
package config

import "log/slog"

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps the level to its slog equivalent. Unknown levels map to Info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DocumentBackend selects the vector store implementation.
type DocumentBackend string

const (
	// BackendPostgres stores chunks in PostgreSQL with pgvector.
	BackendPostgres DocumentBackend = "postgres"

	// BackendChromem stores chunks in an embedded chromem-go database.
	BackendChromem DocumentBackend = "chromem"
)

// IsValid reports whether b is a recognised backend.
func (b DocumentBackend) IsValid() bool {
	return b == BackendPostgres || b == BackendChromem
}

// Config is the root configuration structure, typically loaded from a YAML
// file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Room          RoomConfig          `yaml:"room"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Agent         AgentConfig         `yaml:"agent"`
	Documents     DocumentsConfig     `yaml:"documents"`
	Conversations ConversationsConfig `yaml:"conversations"`
	Visual        VisualConfig        `yaml:"visual"`
}

// ServerConfig holds network and logging settings for the control surface.
type ServerConfig struct {
	// ListenAddr is the TCP address the control server listens on
	// (/healthz, /metrics, session API). Default: ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LatencyLog is an optional JSON-lines file recording end-to-end response
	// latency per turn. Empty disables the file.
	LatencyLog string `yaml:"latency_log"`
}

// RoomConfig holds the real-time room transport settings.
type RoomConfig struct {
	// URL is the room server endpoint (e.g., "wss://rooms.example.com/ws").
	URL string `yaml:"url"`

	// APIKey identifies this service when minting join tokens.
	APIKey string `yaml:"api_key"`

	// APISecret signs join tokens. Keep it out of the YAML file and use
	// ${VOXTUTOR_ROOM_SECRET} expansion instead.
	APISecret string `yaml:"api_secret"`
}

// ProvidersConfig declares provider settings for each pipeline stage.
type ProvidersConfig struct {
	LLM        ProviderEntry `yaml:"llm"`
	STT        ProviderEntry `yaml:"stt"`
	TTS        ProviderEntry `yaml:"tts"`
	Embeddings ProviderEntry `yaml:"embeddings"`
	VAD        ProviderEntry `yaml:"vad"`
}

// ProviderEntry is the common configuration block shared by all provider types.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g., "openai", "energy").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint. Leave empty to
	// use the built-in default. OpenAI-compatible gateways are configured by
	// pointing this at the gateway.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the standard
	// fields above.
	Options map[string]any `yaml:"options"`
}

// AgentConfig describes the tutoring agent's identity and voice.
type AgentConfig struct {
	// Name is the agent's display name in the room. Default: "Tutor".
	Name string `yaml:"name"`

	// Persona is a free-text description injected as the system prompt.
	Persona string `yaml:"persona"`

	// Voice configures speech synthesis.
	Voice VoiceConfig `yaml:"voice"`

	// Language is the BCP-47 language hint passed to transcription and the
	// encyclopedia tool (e.g., "en", "tr").
	Language string `yaml:"language"`
}

// VoiceConfig specifies the TTS voice parameters.
type VoiceConfig struct {
	// VoiceID is the provider-specific voice identifier (e.g., "alloy").
	VoiceID string `yaml:"voice_id"`

	// Speed adjusts speaking rate in the range [0.5, 2.0]. 0 means default.
	Speed float64 `yaml:"speed"`
}

// DocumentsConfig selects and configures the retrieval backend.
type DocumentsConfig struct {
	// Backend selects the vector store. Default: chromem.
	Backend DocumentBackend `yaml:"backend"`

	// PostgresDSN is required when Backend is "postgres".
	PostgresDSN string `yaml:"postgres_dsn"`

	// DataDir is the persistence directory for the chromem backend.
	// Empty keeps the index in memory.
	DataDir string `yaml:"data_dir"`
}

// ConversationsConfig configures conversation persistence.
type ConversationsConfig struct {
	// PostgresDSN is the conversation store DSN. Empty disables persistence.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// VisualConfig configures the visual generation endpoint used by the
// generate_visual tool.
type VisualConfig struct {
	// EndpointURL is the image generation API endpoint. Empty disables the tool.
	EndpointURL string `yaml:"endpoint_url"`

	// APIKey authenticates against the endpoint.
	APIKey string `yaml:"api_key"`
}
