package decoder

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"speech-gateway/internal/apperr"
	"speech-gateway/internal/audio"
)

// countingDecoder mirrors the mock package's stub contract locally so this
// package's tests don't need to import its own consumer.
type countingDecoder struct {
	samplesSeen map[*State]int
	failNext    int
	calls       int
}

func newCountingDecoder() *countingDecoder {
	return &countingDecoder{samplesSeen: map[*State]int{}}
}

func (c *countingDecoder) InitStreamingState(_ context.Context, _, _, language string) (*State, error) {
	return &State{Language: language}, nil
}

func (c *countingDecoder) StreamingTranscribe(_ context.Context, samples []float32, state *State, _ TranscribeOptions) (*State, error) {
	c.calls++
	if c.failNext > 0 {
		c.failNext--
		return nil, errors.New("decode failed")
	}
	n := c.samplesSeen[state] + len(samples)
	c.samplesSeen[state] = n
	next := &State{Text: fmt.Sprintf("%d", n), Language: state.Language}
	c.samplesSeen[next] = n
	return next, nil
}

// fixedTextDecoder returns the same text on every call, so every decode
// after the first repeats the previous partial.
type fixedTextDecoder struct {
	calls int
}

func (f *fixedTextDecoder) InitStreamingState(_ context.Context, _, _, language string) (*State, error) {
	return &State{Language: language}, nil
}

func (f *fixedTextDecoder) StreamingTranscribe(_ context.Context, _ []float32, state *State, _ TranscribeOptions) (*State, error) {
	f.calls++
	return &State{Text: "same", Language: state.Language}, nil
}

func frames(n, size int) []audio.Frame {
	fs := make([]audio.Frame, n)
	for i := range fs {
		fs[i] = make(audio.Frame, size)
	}
	return fs
}

func TestDriver_AppendBelowChunkSize_NoDecodeYet(t *testing.T) {
	dec := newCountingDecoder()
	d, err := New(context.Background(), dec, DriverConfig{ChunkSizeS: 1.0}, "", "", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text, emit, err := d.Append(context.Background(), frames(1, 512)) // 32ms << 1s
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emit {
		t.Errorf("expected no emission below chunk_size_s, got text=%q", text)
	}
	if dec.calls != 0 {
		t.Errorf("expected no decode call yet, got %d", dec.calls)
	}
}

func TestDriver_AppendAtChunkSize_DecodesAndEmits(t *testing.T) {
	dec := newCountingDecoder()
	d, err := New(context.Background(), dec, DriverConfig{ChunkSizeS: 0.03}, "", "", "en") // ~1 frame
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text, emit, err := d.Append(context.Background(), frames(1, 512))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !emit || text != "512" {
		t.Fatalf("expected emission of '512', got emit=%v text=%q", emit, text)
	}
	if dec.calls != 1 {
		t.Errorf("expected exactly one decode call, got %d", dec.calls)
	}
}

func TestDriver_SuppressesDuplicatePartial(t *testing.T) {
	dec := &fixedTextDecoder{}
	d, err := New(context.Background(), dec, DriverConfig{ChunkSizeS: 0.001}, "", "", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, emit1, _ := d.Append(context.Background(), frames(1, 512))
	if !emit1 {
		t.Fatalf("expected first decode to emit")
	}
	// The second append clears chunk_size_s and decodes again, but the
	// decoder returns the same text as the first partial.
	text2, emit2, err := d.Append(context.Background(), frames(1, 512))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.calls != 2 {
		t.Fatalf("expected a second decode call, got %d", dec.calls)
	}
	if emit2 {
		t.Errorf("expected duplicate text to be suppressed, got text=%q", text2)
	}
}

func TestDriver_Flush_ResetsStateForNextUtterance(t *testing.T) {
	dec := newCountingDecoder()
	d, err := New(context.Background(), dec, DriverConfig{ChunkSizeS: 1.0}, "prompt", "ctx", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d.Append(context.Background(), frames(1, 512)) // pending, below chunk size
	finalText, err := d.Flush(context.Background(), frames(1, 512))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if finalText != "1024" {
		t.Fatalf("expected flush to include tail frame, got %q", finalText)
	}

	// Next utterance must start fresh.
	text, emit, err := d.Append(context.Background(), frames(1, 512))
	_ = text
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emit {
		t.Fatalf("expected no emission below chunk_size_s on fresh utterance")
	}
}

func TestDriver_TransientFailureThenEscalatesToFatal(t *testing.T) {
	dec := newCountingDecoder()
	dec.failNext = 5
	d, err := New(context.Background(), dec, DriverConfig{ChunkSizeS: 0.001, MaxConsecutiveFailures: 2}, "", "", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, _, err1 := d.Append(context.Background(), frames(1, 512))
	var ae1 *apperr.Error
	if !errors.As(err1, &ae1) || ae1.Kind != apperr.DecodeTransient {
		t.Fatalf("expected DecodeTransient on first failure, got %v", err1)
	}

	_, _, err2 := d.Append(context.Background(), frames(1, 512))
	var ae2 *apperr.Error
	if !errors.As(err2, &ae2) || ae2.Kind != apperr.DecodeFatal {
		t.Fatalf("expected DecodeFatal after repeated failures, got %v", err2)
	}
}

func TestDriver_InvalidUTF8FromDecoderIsFatal(t *testing.T) {
	bad := &badUTF8Decoder{}
	d, err := New(context.Background(), bad, DriverConfig{ChunkSizeS: 0.001}, "", "", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _, err = d.Append(context.Background(), frames(1, 512))
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Kind != apperr.DecodeFatal {
		t.Fatalf("expected DecodeFatal for invalid utf-8, got %v", err)
	}
}

type badUTF8Decoder struct{}

func (badUTF8Decoder) InitStreamingState(_ context.Context, _, _, language string) (*State, error) {
	return &State{Language: language}, nil
}

func (badUTF8Decoder) StreamingTranscribe(_ context.Context, _ []float32, _ *State, _ TranscribeOptions) (*State, error) {
	return &State{Text: string([]byte{0xff, 0xfe})}, nil
}
