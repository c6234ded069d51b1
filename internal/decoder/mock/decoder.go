// Package mock provides a dependency-free decoder.Decoder for local
// development and for the gateway's scenario tests. It implements the
// literal stub contract the property tests are written against: each
// utterance's text is the cumulative number of samples the decoder has
// seen for that utterance, as a decimal string. This gives deterministic,
// directly-assertable output for verifying chunk cadence, flush timing,
// and utterance isolation without a real acoustic model.
package mock

import (
	"context"
	"fmt"
	"sync"

	"speech-gateway/internal/decoder"
)

// Decoder implements decoder.Decoder with the cumulative-sample-count
// stub behavior. Safe for concurrent use across sessions: each utterance's
// counter lives in decoder.State.Internal, not on the Decoder itself.
type Decoder struct {
	mu    sync.Mutex
	calls int
}

func New() *Decoder {
	return &Decoder{}
}

type counter struct {
	samplesSeen int
}

func (d *Decoder) InitStreamingState(_ context.Context, _, _, language string) (*decoder.State, error) {
	return &decoder.State{
		Text:     "",
		Language: language,
		Internal: &counter{},
	}, nil
}

func (d *Decoder) StreamingTranscribe(_ context.Context, audioSamples []float32, state *decoder.State, opts decoder.TranscribeOptions) (*decoder.State, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()

	c, ok := state.Internal.(*counter)
	if !ok || c == nil {
		c = &counter{}
	}
	c.samplesSeen += len(audioSamples)

	return &decoder.State{
		Text:     fmt.Sprintf("%d", c.samplesSeen),
		Language: state.Language,
		Internal: c,
	}, nil
}

// CallCount reports how many StreamingTranscribe calls this Decoder has
// served, for tests asserting decode cadence.
func (d *Decoder) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}
