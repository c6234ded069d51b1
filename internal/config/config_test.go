package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T, keys ...string) {
	for _, k := range keys {
		os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for _, k := range keys {
			os.Unsetenv(k)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t, "SERVICE_PRINCIPAL", "GATEWAY_PORT", "LOG_LEVEL", "DECODER_PROVIDER",
		"DEFAULT_VAD_THRESHOLD", "MAX_CONCURRENT_SESSIONS", "SESSION_IDLE_TTL")

	cfg := Load()

	if cfg.Service.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Service.Port)
	}
	if cfg.Service.MaxSessions != 1000 {
		t.Errorf("expected default max sessions 1000, got %d", cfg.Service.MaxSessions)
	}
	if cfg.Service.IdleTTL != 10*time.Minute {
		t.Errorf("expected default idle TTL 10m, got %v", cfg.Service.IdleTTL)
	}
	if cfg.SessionDefaults.VADThreshold != 0.5 {
		t.Errorf("expected default vad threshold 0.5, got %v", cfg.SessionDefaults.VADThreshold)
	}
	if cfg.SessionDefaults.SilenceThresholdS != 0.8 {
		t.Errorf("expected default silence threshold 0.8, got %v", cfg.SessionDefaults.SilenceThresholdS)
	}
	if cfg.SessionDefaults.MinSpeechDurationS != 0.2 {
		t.Errorf("expected default min speech duration 0.2, got %v", cfg.SessionDefaults.MinSpeechDurationS)
	}
	if cfg.SessionDefaults.UnfixedChunkNum != 4 {
		t.Errorf("expected default unfixed chunk num 4, got %d", cfg.SessionDefaults.UnfixedChunkNum)
	}
	if cfg.SessionDefaults.UnfixedTokenNum != 5 {
		t.Errorf("expected default unfixed token num 5, got %d", cfg.SessionDefaults.UnfixedTokenNum)
	}
	if cfg.Decoder.Provider != "mock" {
		t.Errorf("expected default decoder provider mock, got %s", cfg.Decoder.Provider)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Observability.LogLevel)
	}
	if cfg.Kafka.Principal != "svc-speech-gateway" {
		t.Errorf("expected kafka principal to fall back to service principal, got %s", cfg.Kafka.Principal)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t, "GATEWAY_PORT", "MAX_CONCURRENT_SESSIONS", "DEFAULT_VAD_THRESHOLD",
		"DECODER_PROVIDER", "LOG_LEVEL", "SESSION_IDLE_TTL")

	os.Setenv("GATEWAY_PORT", "9999")
	os.Setenv("MAX_CONCURRENT_SESSIONS", "50")
	os.Setenv("DEFAULT_VAD_THRESHOLD", "0.65")
	os.Setenv("DECODER_PROVIDER", "google")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("SESSION_IDLE_TTL", "2m")

	cfg := Load()

	if cfg.Service.Port != "9999" {
		t.Errorf("expected port 9999, got %s", cfg.Service.Port)
	}
	if cfg.Service.MaxSessions != 50 {
		t.Errorf("expected max sessions 50, got %d", cfg.Service.MaxSessions)
	}
	if cfg.SessionDefaults.VADThreshold != 0.65 {
		t.Errorf("expected vad threshold 0.65, got %v", cfg.SessionDefaults.VADThreshold)
	}
	if cfg.Decoder.Provider != "google" {
		t.Errorf("expected decoder provider google, got %s", cfg.Decoder.Provider)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Observability.LogLevel)
	}
	if cfg.Service.IdleTTL != 2*time.Minute {
		t.Errorf("expected idle TTL 2m, got %v", cfg.Service.IdleTTL)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	clearEnv(t, "MAX_CONCURRENT_SESSIONS", "DEFAULT_VAD_THRESHOLD", "SESSION_IDLE_TTL")

	os.Setenv("MAX_CONCURRENT_SESSIONS", "not-a-number")
	os.Setenv("DEFAULT_VAD_THRESHOLD", "not-a-float")
	os.Setenv("SESSION_IDLE_TTL", "not-a-duration")

	cfg := Load()

	if cfg.Service.MaxSessions != 1000 {
		t.Errorf("expected default max sessions on invalid input, got %d", cfg.Service.MaxSessions)
	}
	if cfg.SessionDefaults.VADThreshold != 0.5 {
		t.Errorf("expected default vad threshold on invalid input, got %v", cfg.SessionDefaults.VADThreshold)
	}
	if cfg.Service.IdleTTL != 10*time.Minute {
		t.Errorf("expected default idle TTL on invalid input, got %v", cfg.Service.IdleTTL)
	}
}

func TestLoad_KafkaPrincipal_FallsBackToServicePrincipal(t *testing.T) {
	clearEnv(t, "SERVICE_PRINCIPAL", "KAFKA_PRINCIPAL")

	os.Setenv("SERVICE_PRINCIPAL", "my-service")

	cfg := Load()

	if cfg.Kafka.Principal != "my-service" {
		t.Errorf("expected kafka principal to fall back to service principal, got %s", cfg.Kafka.Principal)
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}
			defer os.Unsetenv(key)

			got := envOrDefaultBool(key, tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}

func TestEnvOrDefaultList(t *testing.T) {
	key := "TEST_LIST_VAR"
	defer os.Unsetenv(key)

	os.Setenv(key, "a, b ,c")
	got := envOrDefaultList(key, []string{"default"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
		}
	}

	os.Unsetenv(key)
	got = envOrDefaultList(key, []string{"default"})
	if len(got) != 1 || got[0] != "default" {
		t.Errorf("expected default fallback, got %v", got)
	}
}
