// Package config loads process configuration from the environment,
// following the env-var-with-fallback pattern used throughout this service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Service holds listener and capacity settings for the gateway.
type Service struct {
	Host        string
	Port        string
	MaxSessions int
	IdleTTL     time.Duration
	MetricsAddr string
	FrameSize   int // must be one of audio.AllowedFrameSizes
}

// SessionDefaults mirrors the client-configurable SessionConfig fields;
// a client's config message falls back to these for any omitted field.
type SessionDefaults struct {
	VADThreshold       float64
	SilenceThresholdS  float64
	MinSpeechDurationS float64
	ChunkSizeS         float64
	UnfixedChunkNum    int
	UnfixedTokenNum    int
	Language           string
	Prompt             string
	Context            string
}

// Observability holds logging/metrics configuration.
type Observability struct {
	LogLevel string
	Format   string
}

// Kafka holds the transcript-export publisher configuration.
type Kafka struct {
	Enabled      bool
	Brokers      []string
	Principal    string
	TopicPartial string
	TopicFinal   string
}

// Decoder selects and configures the streaming-decode backend.
type Decoder struct {
	Provider       string // "mock" or "google"
	CallTimeout    time.Duration
	MaxFailures    int // consecutive DecodeTransient failures before escalating to DecodeFatal
}

// Config is the fully resolved process configuration.
type Config struct {
	Service         Service
	SessionDefaults SessionDefaults
	Observability   Observability
	Kafka           Kafka
	Decoder         Decoder
}

// Load reads Config from the environment, falling back to defaults for any
// missing or unparsable value.
func Load() *Config {
	servicePrincipal := envOrDefault("SERVICE_PRINCIPAL", "svc-speech-gateway")

	return &Config{
		Service: Service{
			Host:        envOrDefault("GATEWAY_HOST", "0.0.0.0"),
			Port:        envOrDefault("GATEWAY_PORT", "8080"),
			MaxSessions: envOrDefaultInt("MAX_CONCURRENT_SESSIONS", 1000),
			IdleTTL:     envOrDefaultDuration("SESSION_IDLE_TTL", 10*time.Minute),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
			FrameSize:   envOrDefaultInt("AUDIO_FRAME_SIZE", 1024),
		},
		SessionDefaults: SessionDefaults{
			VADThreshold:       envOrDefaultFloat("DEFAULT_VAD_THRESHOLD", 0.5),
			SilenceThresholdS:  envOrDefaultFloat("DEFAULT_SILENCE_THRESHOLD_S", 0.8),
			MinSpeechDurationS: envOrDefaultFloat("DEFAULT_MIN_SPEECH_DURATION_S", 0.2),
			ChunkSizeS:         envOrDefaultFloat("DEFAULT_CHUNK_SIZE_S", 1.0),
			UnfixedChunkNum:    envOrDefaultInt("DEFAULT_UNFIXED_CHUNK_NUM", 4),
			UnfixedTokenNum:    envOrDefaultInt("DEFAULT_UNFIXED_TOKEN_NUM", 5),
			Language:           envOrDefault("DEFAULT_LANGUAGE", ""),
			Prompt:             envOrDefault("DEFAULT_PROMPT", ""),
			Context:            envOrDefault("DEFAULT_CONTEXT", ""),
		},
		Observability: Observability{
			LogLevel: envOrDefault("LOG_LEVEL", "info"),
			Format:   envOrDefault("LOG_FORMAT", "json"),
		},
		Kafka: Kafka{
			Enabled:      envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:      envOrDefaultList("KAFKA_BROKERS", nil),
			Principal:    envOrDefault("KAFKA_PRINCIPAL", servicePrincipal),
			TopicPartial: envOrDefault("KAFKA_TOPIC_PARTIAL", "asr.transcript.partial"),
			TopicFinal:   envOrDefault("KAFKA_TOPIC_FINAL", "asr.transcript.final"),
		},
		Decoder: Decoder{
			Provider:    envOrDefault("DECODER_PROVIDER", "mock"),
			CallTimeout: envOrDefaultDuration("DECODER_CALL_TIMEOUT", 5*time.Second),
			MaxFailures: envOrDefaultInt("DECODER_MAX_CONSECUTIVE_FAILURES", 3),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func envOrDefaultBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "true", "1":
		return true
	case "false", "0":
		return false
	default:
		return def
	}
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
