// Package session binds one connection to one Endpointer and Decoder
// Driver, installs and validates SessionConfig, and enforces the
// process-wide session limits and idle sweeping described in the
// gateway's component design (§4.6, §4.7).
package session

import (
	"github.com/go-playground/validator/v10"

	"speech-gateway/internal/config"
	"speech-gateway/internal/protocol"
)

// Config is the validated, fully-resolved per-session configuration. Every
// field has already had server defaults applied for anything the client's
// config message omitted.
type Config struct {
	VADThreshold       float64 `validate:"gte=0,lte=1"`
	SilenceThresholdS  float64 `validate:"gte=0"`
	MinSpeechDurationS float64 `validate:"gte=0"`
	ChunkSizeS         float64 `validate:"gt=0"`
	UnfixedChunkNum    int     `validate:"gte=0"`
	UnfixedTokenNum    int     `validate:"gte=0"`
	Language           *string
	Prompt             string
	Context            string
}

var validate = validator.New()

// DefaultConfig builds a Config from the process-wide session defaults.
func DefaultConfig(d config.SessionDefaults) Config {
	cfg := Config{
		VADThreshold:       d.VADThreshold,
		SilenceThresholdS:  d.SilenceThresholdS,
		MinSpeechDurationS: d.MinSpeechDurationS,
		ChunkSizeS:         d.ChunkSizeS,
		UnfixedChunkNum:    d.UnfixedChunkNum,
		UnfixedTokenNum:    d.UnfixedTokenNum,
		Prompt:             d.Prompt,
		Context:            d.Context,
	}
	if d.Language != "" {
		lang := d.Language
		cfg.Language = &lang
	}
	return cfg
}

// ApplyMessage returns a copy of base with any field msg explicitly sets
// overridden; omitted fields keep base's value (which is, on the first
// config message, the server default).
func (base Config) ApplyMessage(msg *protocol.ConfigMessage) Config {
	cfg := base
	if msg == nil {
		return cfg
	}
	if msg.Context != nil {
		cfg.Context = *msg.Context
	}
	if msg.Prompt != nil {
		cfg.Prompt = *msg.Prompt
	}
	if msg.Language != nil {
		cfg.Language = msg.Language
	}
	if msg.UnfixedChunkNum != nil {
		cfg.UnfixedChunkNum = *msg.UnfixedChunkNum
	}
	if msg.UnfixedTokenNum != nil {
		cfg.UnfixedTokenNum = *msg.UnfixedTokenNum
	}
	if msg.ChunkSizeSec != nil {
		cfg.ChunkSizeS = *msg.ChunkSizeSec
	}
	if msg.VADThreshold != nil {
		cfg.VADThreshold = *msg.VADThreshold
	}
	if msg.SilenceThreshold != nil {
		cfg.SilenceThresholdS = *msg.SilenceThreshold
	}
	if msg.MinSpeechDuration != nil {
		cfg.MinSpeechDurationS = *msg.MinSpeechDuration
	}
	return cfg
}

// Validate checks the bounds spec.md §3 places on each field.
func (c Config) Validate() error {
	return validate.Struct(c)
}

// LanguageOrEmpty returns the forced language, or "" for auto-detect.
func (c Config) LanguageOrEmpty() string {
	if c.Language == nil {
		return ""
	}
	return *c.Language
}
