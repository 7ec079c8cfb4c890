package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for voicebridge.
type Config struct {
	// HTTP port for metrics and health endpoints
	Port string `envconfig:"PORT" default:"9090"`

	// Realtime session configuration
	RealtimeURL    string `envconfig:"REALTIME_URL" default:"wss://api.openai.com/v1/realtime"`
	RealtimeAPIKey string `envconfig:"REALTIME_API_KEY" required:"true"`
	RealtimeModel  string `envconfig:"REALTIME_MODEL" default:"gpt-4o-realtime-preview"`

	// Fatal session error codes: any inbound error event carrying one of
	// these codes tears the session down instead of being surfaced and ignored.
	FatalErrorCodes []string `envconfig:"FATAL_ERROR_CODES" default:"invalid_api_key,insufficient_quota"`

	// Transcription endpoint for the push-to-talk pipeline
	TranscriptionURL    string `envconfig:"TRANSCRIPTION_URL" default:"https://api.openai.com/v1/audio/transcriptions"`
	TranscriptionAPIKey string `envconfig:"TRANSCRIPTION_API_KEY" default:""`
	TranscriptionModel  string `envconfig:"TRANSCRIPTION_MODEL" default:"whisper-1"`

	// Audio capture configuration
	SampleRate      int     `envconfig:"SAMPLE_RATE" default:"16000"`
	FramesPerBuffer int     `envconfig:"FRAMES_PER_BUFFER" default:"1024"`
	LevelSmoothing  float64 `envconfig:"LEVEL_SMOOTHING" default:"0.7"` // EMA factor, higher = slower response
	PlaybackBuffer  int     `envconfig:"PLAYBACK_BUFFER" default:"65536"`

	// Local voice-activity detection (user talking over the assistant)
	SpeechRMSThreshold  float64 `envconfig:"SPEECH_RMS_THRESHOLD" default:"0.12"`
	SpeechSilenceFrames int     `envconfig:"SPEECH_SILENCE_FRAMES" default:"10"`

	// Tool dispatch configuration. The observation timeout bounds the
	// progress poll independently of the agent's own completion signal.
	AgentCommand     string        `envconfig:"AGENT_COMMAND" default:"claude"`
	ToolPollInterval time.Duration `envconfig:"TOOL_POLL_INTERVAL" default:"50ms"`
	ToolTimeout      time.Duration `envconfig:"TOOL_TIMEOUT" default:"5m"`

	// Text insertion configuration
	InsertPreferredMethod  string        `envconfig:"INSERT_PREFERRED_METHOD" default:"accessibility"` // accessibility or clipboard
	InsertSettleDelay      time.Duration `envconfig:"INSERT_SETTLE_DELAY" default:"50ms"`
	InsertRestoreDelay     time.Duration `envconfig:"INSERT_RESTORE_DELAY" default:"300ms"`
	InsertRestoreClipboard bool          `envconfig:"INSERT_RESTORE_CLIPBOARD" default:"true"`

	// Resilience configuration for the transcription endpoint
	RetryMaxAttempts           int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        time.Duration `envconfig:"RETRY_INITIAL_BACKOFF" default:"100ms"`
	CircuitBreakerMaxFailures  int           `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout time.Duration `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30s"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from a .env file when present, then from the
// environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables.
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.TranscriptionAPIKey == "" {
		cfg.TranscriptionAPIKey = cfg.RealtimeAPIKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges that envconfig tags cannot express.
func (c *Config) Validate() error {
	if c.RealtimeAPIKey == "" {
		return fmt.Errorf("REALTIME_API_KEY is required")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.LevelSmoothing <= 0 || c.LevelSmoothing >= 1 {
		return fmt.Errorf("LEVEL_SMOOTHING must be in (0,1), got %v", c.LevelSmoothing)
	}
	if c.ToolPollInterval <= 0 {
		return fmt.Errorf("TOOL_POLL_INTERVAL must be positive, got %v", c.ToolPollInterval)
	}
	if c.ToolTimeout <= 0 {
		return fmt.Errorf("TOOL_TIMEOUT must be positive, got %v", c.ToolTimeout)
	}
	switch c.InsertPreferredMethod {
	case "accessibility", "clipboard":
	default:
		return fmt.Errorf("INSERT_PREFERRED_METHOD must be accessibility or clipboard, got %q", c.InsertPreferredMethod)
	}
	return nil
}
