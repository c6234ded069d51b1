// Package protocol defines the client/server JSON message types exchanged
// over the gateway's message connection (§6.1). Server event structs carry
// validate tags so the transcript-export path can catch a malformed event
// before publishing it.
package protocol

// ClientMessage is the envelope used to sniff a text message's type before
// decoding it into a concrete type.
type ClientMessage struct {
	Type string `json:"type"`
}

// ConfigMessage is the client's first message on a connection. Any omitted
// field falls back to server defaults; unknown fields are ignored by the
// decoder (encoding/json already does this for an unknown-fields struct).
type ConfigMessage struct {
	Type              string   `json:"type"`
	Context           *string  `json:"context"`
	Language          *string  `json:"language"`
	Prompt            *string  `json:"prompt"`
	UnfixedChunkNum   *int     `json:"unfixed_chunk_num"`
	UnfixedTokenNum   *int     `json:"unfixed_token_num"`
	ChunkSizeSec      *float64 `json:"chunk_size_sec"`
	VADThreshold      *float64 `json:"vad_threshold"`
	SilenceThreshold  *float64 `json:"silence_threshold"`
	MinSpeechDuration *float64 `json:"min_speech_duration"`
}

// FinalizeMessage requests an explicit end-of-utterance.
type FinalizeMessage struct {
	Type string `json:"type"`
}

// ServerEvent is implemented by every server->client event type so the
// session and connection handler can pass them around uniformly while
// still marshaling to the exact wire shape each type declares.
type ServerEvent interface {
	EventType() string
}

// SessionCreatedEvent is emitted exactly once per connection.
type SessionCreatedEvent struct {
	Type      string `json:"type" validate:"required"`
	SessionID string `json:"session_id" validate:"required"`
}

func NewSessionCreatedEvent(sessionID string) SessionCreatedEvent {
	return SessionCreatedEvent{Type: "session_created", SessionID: sessionID}
}

func (SessionCreatedEvent) EventType() string { return "session_created" }

// PartialEvent carries a provisional transcript for the current utterance.
type PartialEvent struct {
	Type      string  `json:"type" validate:"required"`
	Language  string  `json:"language"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp" validate:"gte=0"`
}

func NewPartialEvent(language, text string, timestamp float64) PartialEvent {
	return PartialEvent{Type: "partial", Language: language, Text: text, Timestamp: timestamp}
}

func (PartialEvent) EventType() string { return "partial" }

// FinalEvent carries the stable transcript for a completed utterance.
type FinalEvent struct {
	Type          string  `json:"type" validate:"required"`
	Language      string  `json:"language"`
	Text          string  `json:"text"`
	Timestamp     float64 `json:"timestamp" validate:"gte=0"`
	IsSpeechFinal bool    `json:"is_speech_final"`
}

func NewFinalEvent(language, text string, timestamp float64) FinalEvent {
	return FinalEvent{Type: "final", Language: language, Text: text, Timestamp: timestamp, IsSpeechFinal: true}
}

func (FinalEvent) EventType() string { return "final" }

// ErrorEvent reports a recoverable protocol or decode error.
type ErrorEvent struct {
	Type    string `json:"type" validate:"required"`
	Message string `json:"message" validate:"required"`
}

func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: "error", Message: message}
}

func (ErrorEvent) EventType() string { return "error" }
