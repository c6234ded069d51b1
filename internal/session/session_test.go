package session

import (
	"context"
	"fmt"
	"testing"

	"speech-gateway/internal/apperr"
	"speech-gateway/internal/audio"
	"speech-gateway/internal/config"
	"speech-gateway/internal/decoder/mock"
	"speech-gateway/internal/protocol"
	"speech-gateway/internal/vad"
)

const testFrameSize = 1024

func newTestSession(t *testing.T, overrides *protocol.ConfigMessage) (*Session, *bool) {
	t.Helper()
	retired := false
	s, err := New(Options{
		ID:             "test-session",
		Defaults:       DefaultConfig(config.SessionDefaults{VADThreshold: 0.5, SilenceThresholdS: 0.8, MinSpeechDurationS: 0.2, ChunkSizeS: 1.0}),
		FrameSize:      testFrameSize,
		VADDetector:    vad.NewEnergyDetector(),
		DecoderBackend: mock.New(),
		OnClose:        func() { retired = true },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.ApplyConfig(context.Background(), overrides); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	return s, &retired
}

// samplesOf returns n seconds of a constant value, in exact frame-size chunks.
func samplesOf(value float32, seconds float64, frameSize int) [][]float32 {
	total := int(seconds * 16000)
	total -= total % frameSize // keep tests frame-aligned
	var out [][]float32
	for i := 0; i < total; i += frameSize {
		chunk := make([]float32, frameSize)
		for j := range chunk {
			chunk[j] = value
		}
		out = append(out, chunk)
	}
	return out
}

func ingestAll(t *testing.T, s *Session, chunks [][]float32) []protocol.ServerEvent {
	t.Helper()
	var all []protocol.ServerEvent
	for _, c := range chunks {
		ev, err := s.Ingest(context.Background(), c)
		if err != nil {
			t.Fatalf("Ingest: %v", err)
		}
		all = append(all, ev...)
	}
	return all
}

func countByType(events []protocol.ServerEvent, t string) int {
	n := 0
	for _, e := range events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}

// S1: pure silence produces no events.
func TestScenario_S1_PureSilence(t *testing.T) {
	s, _ := newTestSession(t, nil)
	events := ingestAll(t, s, samplesOf(0, 10, testFrameSize))
	if len(events) != 0 {
		t.Fatalf("expected no events on pure silence, got %d: %+v", len(events), events)
	}
}

// S2: a speech blip too short to clear min_speech_duration_s never reaches Speaking.
func TestScenario_S2_ShortBlipBelowDebounce(t *testing.T) {
	minSpeech := 0.2
	s, _ := newTestSession(t, &protocol.ConfigMessage{MinSpeechDuration: &minSpeech})

	var chunks [][]float32
	chunks = append(chunks, samplesOf(1, 0.1, testFrameSize)...) // below debounce
	chunks = append(chunks, samplesOf(0, 10, testFrameSize)...)
	events := ingestAll(t, s, chunks)

	if n := countByType(events, "partial"); n != 0 {
		t.Fatalf("expected no partials for a sub-debounce blip, got %d", n)
	}
	if n := countByType(events, "final"); n != 0 {
		t.Fatalf("expected no finals for a sub-debounce blip, got %d", n)
	}
}

// S3: one utterance produces multiple partials at the chunk cadence, then one
// final whose text reflects the full utterance including the silence tail.
func TestScenario_S3_OneUtterance(t *testing.T) {
	chunkSize := 0.5
	silence := 0.8
	s, _ := newTestSession(t, &protocol.ConfigMessage{ChunkSizeSec: &chunkSize, SilenceThreshold: &silence})

	var chunks [][]float32
	chunks = append(chunks, samplesOf(1, 2.0, testFrameSize)...)
	chunks = append(chunks, samplesOf(0, 1.0, testFrameSize)...)
	events := ingestAll(t, s, chunks)

	if n := countByType(events, "partial"); n < 3 {
		t.Fatalf("expected at least 3 partials over a 2s utterance at 0.5s cadence, got %d", n)
	}
	if n := countByType(events, "final"); n != 1 {
		t.Fatalf("expected exactly one final, got %d", n)
	}
}

// S4: two utterances in one connection each decode fresh. The second
// utterance is shorter than the first; if decoder state carried over
// instead of resetting, its cumulative-sample-count stub text would
// reflect the combined total rather than just its own audio.
func TestScenario_S4_TwoUtterancesFreshState(t *testing.T) {
	chunkSize := 0.25
	s, _ := newTestSession(t, &protocol.ConfigMessage{ChunkSizeSec: &chunkSize})

	var chunks [][]float32
	chunks = append(chunks, samplesOf(1, 1.0, testFrameSize)...)
	chunks = append(chunks, samplesOf(0, 1.0, testFrameSize)...)
	chunks = append(chunks, samplesOf(1, 0.3, testFrameSize)...)
	chunks = append(chunks, samplesOf(0, 1.0, testFrameSize)...)
	events := ingestAll(t, s, chunks)

	var finals []protocol.FinalEvent
	for _, e := range events {
		if f, ok := e.(protocol.FinalEvent); ok {
			finals = append(finals, f)
		}
	}
	if len(finals) != 2 {
		t.Fatalf("expected exactly 2 finals, got %d", len(finals))
	}
	var firstCount, secondCount int
	fmt.Sscanf(finals[0].Text, "%d", &firstCount)
	fmt.Sscanf(finals[1].Text, "%d", &secondCount)
	if secondCount >= firstCount {
		t.Fatalf("expected second (shorter) utterance to decode fresh, not accumulate on the first: first=%d second=%d", firstCount, secondCount)
	}
}

// S5: explicit finalize mid-speech closes the current utterance immediately
// and resets state for the next one.
func TestScenario_S5_ExplicitFinalizeMidSpeech(t *testing.T) {
	s, _ := newTestSession(t, nil)

	_ = ingestAll(t, s, samplesOf(1, 0.5, testFrameSize))
	events, err := s.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if n := countByType(events, "final"); n != 1 {
		t.Fatalf("expected exactly one final from explicit finalize, got %d", n)
	}

	// A second finalize with no intervening speech is a no-op.
	events2, err := s.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(events2) != 0 {
		t.Fatalf("expected idempotent finalize to emit nothing, got %+v", events2)
	}

	// Audio after finalize starts a fresh utterance.
	more := ingestAll(t, s, samplesOf(1, 0.5, testFrameSize))
	if n := countByType(more, "final"); n != 0 {
		t.Fatalf("did not expect a final yet for the new utterance, got %d", n)
	}
}

// resizingFilter is a faulty noise filter that cuts every frame down to 900
// samples, so the frame it hands to the VAD gate has a disallowed size.
type resizingFilter struct{}

func (resizingFilter) Filter(frame audio.Frame) (audio.Frame, error) { return frame[:900], nil }

// S6: a wrong-size frame fed directly at the VAD gate is fatal and closes
// the session. The ring buffer only ever yields exact-size frames, so the
// 900-sample frame is injected between the buffer and the gate.
func TestScenario_S6_WrongSizeFrameIsFatal(t *testing.T) {
	s, retired := newTestSession(t, nil)
	s.noiseFilter = resizingFilter{}

	_, err := s.Ingest(context.Background(), make([]float32, testFrameSize))
	if err == nil {
		t.Fatalf("expected an error for a wrong-size frame")
	}
	var ae *apperr.Error
	if ok := asApperr(err, &ae); !ok || ae.Kind != apperr.InvalidFrameSize {
		t.Fatalf("expected InvalidFrameSize, got %v", err)
	}
	if !s.IsClosed() {
		t.Fatalf("expected session to be closed after a fatal error")
	}
	if !*retired {
		t.Fatalf("expected onClose to fire the manager's self-retire callback")
	}

	_, err = s.Ingest(context.Background(), samplesOf(1, 0.1, testFrameSize)[0])
	if ok := asApperr(err, &ae); !ok || ae.Kind != apperr.SessionClosed {
		t.Fatalf("expected SessionClosed on use after fatal close, got %v", err)
	}
}

func asApperr(err error, target **apperr.Error) bool {
	for err != nil {
		if ae, ok := err.(*apperr.Error); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func TestApplyConfig_ConfigRequired_BeforeConfig(t *testing.T) {
	s, err := New(Options{
		ID:             "unconfigured",
		Defaults:       DefaultConfig(config.SessionDefaults{VADThreshold: 0.5, ChunkSizeS: 1.0}),
		FrameSize:      testFrameSize,
		VADDetector:    vad.NewEnergyDetector(),
		DecoderBackend: mock.New(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = s.Ingest(context.Background(), make([]float32, testFrameSize))
	var ae *apperr.Error
	if ok := asApperr(err, &ae); !ok || ae.Kind != apperr.ConfigRequired {
		t.Fatalf("expected ConfigRequired, got %v", err)
	}
}

func TestApplyConfig_ConfigAfterAudio_Rejected(t *testing.T) {
	s, _ := newTestSession(t, nil)
	_ = ingestAll(t, s, samplesOf(1, 0.1, testFrameSize))

	err := s.ApplyConfig(context.Background(), &protocol.ConfigMessage{})
	var ae *apperr.Error
	if ok := asApperr(err, &ae); !ok || ae.Kind != apperr.ConfigAfterAudio {
		t.Fatalf("expected ConfigAfterAudio, got %v", err)
	}
}

func TestApplyConfig_IdempotentBeforeAudio(t *testing.T) {
	s, err := New(Options{
		ID:             "reconfig",
		Defaults:       DefaultConfig(config.SessionDefaults{VADThreshold: 0.5, ChunkSizeS: 1.0}),
		FrameSize:      testFrameSize,
		VADDetector:    vad.NewEnergyDetector(),
		DecoderBackend: mock.New(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.ApplyConfig(context.Background(), &protocol.ConfigMessage{}); err != nil {
		t.Fatalf("first ApplyConfig: %v", err)
	}
	if err := s.ApplyConfig(context.Background(), &protocol.ConfigMessage{}); err != nil {
		t.Fatalf("second ApplyConfig before audio should be accepted, got: %v", err)
	}
}

func TestClose_IsIdempotent(t *testing.T) {
	s, _ := newTestSession(t, nil)
	s.Close()
	s.Close()
	if !s.IsClosed() {
		t.Fatalf("expected session to be closed")
	}
	_, err := s.Ingest(context.Background(), make([]float32, testFrameSize))
	var ae *apperr.Error
	if ok := asApperr(err, &ae); !ok || ae.Kind != apperr.SessionClosed {
		t.Fatalf("expected SessionClosed after Close, got %v", err)
	}
}
