package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Synthesis defaults
	DefaultVoice  string
	DefaultFormat string
	DefaultSpeed  float64
	DefaultPitch  int
	DefaultVolume int
	Emotion       string

	// Xunjie backend
	XunjieBaseURL      string
	RequestTimeoutSecs int
	PollIntervalSecs   int
	PollAttempts       int

	// Files
	OutputDir         string // durable copies of saved outputs
	TempDir           string // ephemeral synthesis/transcode artifacts
	VoiceMappingsPath string

	// Cleanup
	CleanupRetries   int
	CleanupDelaySecs int

	// Transcoding
	MaxConcurrentTranscodes int

	// Text preprocessing
	RemoveFilter bool // when true, input text is synthesized as-is
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:            getEnv("PORT", "5050"),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),

		DefaultVoice:  getEnv("DEFAULT_VOICE", "siqi"),
		DefaultFormat: getEnv("DEFAULT_RESPONSE_FORMAT", "mp3"),
		DefaultSpeed:  getEnvFloat("DEFAULT_SPEED", 4),
		DefaultPitch:  getEnvInt("DEFAULT_PITCH", 5),
		DefaultVolume: getEnvInt("DEFAULT_VOLUME", 5),
		Emotion:       getEnv("DEFAULT_EMOTION", "neutral"),

		XunjieBaseURL:      getEnv("XUNJIE_API_URL", ""),
		RequestTimeoutSecs: getEnvInt("REQUEST_TIMEOUT_SECONDS", 30),
		PollIntervalSecs:   getEnvInt("POLL_INTERVAL_SECONDS", 5),
		PollAttempts:       getEnvInt("POLL_ATTEMPTS", 12),

		OutputDir:         getEnv("TTS_OUTPUT_DIR", "tts_output"),
		TempDir:           getEnv("TTS_TEMP_DIR", "/tmp/xunjie-tts"),
		VoiceMappingsPath: getEnv("VOICE_MAPPINGS_PATH", "voice_mappings.json"),

		CleanupRetries:   getEnvInt("CLEANUP_RETRIES", 3),
		CleanupDelaySecs: getEnvInt("CLEANUP_DELAY_SECONDS", 30),

		MaxConcurrentTranscodes: getEnvInt("MAX_CONCURRENT_TRANSCODES", 2),

		RemoveFilter: getEnvBool("REMOVE_FILTER", false),
	}

	// Validate
	switch cfg.DefaultFormat {
	case "mp3", "aac", "wav", "opus", "flac":
	default:
		return nil, fmt.Errorf("DEFAULT_RESPONSE_FORMAT %q is not a supported format", cfg.DefaultFormat)
	}

	if cfg.PollAttempts <= 0 {
		return nil, fmt.Errorf("POLL_ATTEMPTS must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}
