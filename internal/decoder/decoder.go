// Package decoder defines the streaming-decode contract the gateway drives
// (§6.2) and the driver that owns per-utterance decoder state, chunked
// dispatch, and the token-prefix rollback knobs it passes on each decode
// call (§4.5); the rollback itself is left to the decoder. The acoustic/language model
// itself is an external collaborator — only the contract lives here.
package decoder

import "context"

// State is the opaque streaming-decode state returned by InitStreamingState
// and threaded through StreamingTranscribe calls. The driver only ever
// reads Text and Language from it; Internal is reserved for the decoder
// implementation's own bookkeeping (tokenizer state, attention cache) and
// the driver never inspects it.
type State struct {
	Text     string
	Language string
	Internal any
}

// TranscribeOptions carries the knobs the driver chooses for a single
// decode call. How rollback is actually performed is the decoder's
// responsibility; the driver only supplies chunk_id and the two
// configured counts.
type TranscribeOptions struct {
	ChunkID         int
	UnfixedChunkNum int
	UnfixedTokenNum int
}

// Decoder is the external streaming acoustic/language model collaborator.
// Implementations MUST be safe for concurrent use across sessions — the
// decoder backend is a process-wide shared resource (§5).
type Decoder interface {
	// InitStreamingState begins a new utterance-scoped decode context.
	InitStreamingState(ctx context.Context, prompt, callContext, language string) (*State, error)

	// StreamingTranscribe feeds audioSamples (mono float32 @ 16kHz) into
	// the decode context and returns the updated state. audioSamples may
	// be empty only when called as a no-op flush.
	StreamingTranscribe(ctx context.Context, audioSamples []float32, state *State, opts TranscribeOptions) (*State, error)
}
