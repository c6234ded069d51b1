package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"speech-gateway/internal/apperr"
	"speech-gateway/internal/audio"
	"speech-gateway/internal/decoder"
	"speech-gateway/internal/endpoint"
	"speech-gateway/internal/noisefilter"
	"speech-gateway/internal/observability/logging"
	"speech-gateway/internal/observability/metrics"
	"speech-gateway/internal/protocol"
	"speech-gateway/internal/vad"
)

// Session binds one client connection to one Endpointer + Decoder Driver.
// A Session is driven by exactly one goroutine at a time (the Connection
// Handler's pipeline loop). ApplyConfig, Ingest, Finalize and Close hold the
// mutex for their whole run, decoder calls included, so the idle sweeper's
// LastActivity/IsClosed/Close calls wait for an in-progress pipeline step.
type Session struct {
	id string

	mu             sync.Mutex
	closed         bool
	configured     bool
	audioProcessed bool
	lastActivity   time.Time
	cfg            Config

	defaults        Config
	frameSize       int
	vadDetector     vad.Detector
	noiseFilter     noisefilter.Filter
	decoderBackend  decoder.Decoder
	decoderProvider string
	callTimeout     time.Duration
	maxFailures     int

	ring    *audio.RingBuffer
	vadGate *vad.Gate
	ep      *endpoint.Endpointer
	driver  *decoder.Driver

	metrics    *metrics.Metrics
	closeHooks []func()
}

// Options configures a new Session. FrameSize must be one of
// audio.AllowedFrameSizes.
type Options struct {
	ID              string
	Defaults        Config
	FrameSize       int
	VADDetector     vad.Detector
	NoiseFilter     noisefilter.Filter
	DecoderBackend  decoder.Decoder
	DecoderProvider string
	CallTimeout     time.Duration
	MaxFailures     int
	Metrics         *metrics.Metrics
	OnClose         func()
}

// New constructs a Session. The VAD Gate is built eagerly (frame size is
// fixed at session start); the Decoder Driver is built lazily in
// ApplyConfig, once the client's chunking/rollback knobs are known.
func New(opts Options) (*Session, error) {
	gate, err := vad.NewGate(opts.VADDetector, opts.FrameSize, opts.Metrics)
	if err != nil {
		return nil, err
	}
	noise := opts.NoiseFilter
	if noise == nil {
		noise = noisefilter.NewPassThrough()
	}
	var hooks []func()
	if opts.OnClose != nil {
		hooks = append(hooks, opts.OnClose)
	}
	return &Session{
		id:              opts.ID,
		defaults:        opts.Defaults,
		frameSize:       opts.FrameSize,
		vadDetector:     opts.VADDetector,
		noiseFilter:     noise,
		decoderBackend:  opts.DecoderBackend,
		decoderProvider: opts.DecoderProvider,
		callTimeout:     opts.CallTimeout,
		maxFailures:     opts.MaxFailures,
		ring:            audio.NewRingBuffer(opts.FrameSize),
		vadGate:         gate,
		lastActivity:    time.Now(),
		metrics:         opts.Metrics,
		closeHooks:      hooks,
	}, nil
}

// ID returns the session's random 128-bit hex identifier.
func (s *Session) ID() string { return s.id }

// LastActivity reports the last time Ingest/ApplyConfig/Finalize advanced
// this session, for the Manager's idle sweeper.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// IsClosed reports whether Close has already run.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ApplyConfig installs a Config built from the client's config message
// merged over server defaults. A second call before any audio is accepted
// is an idempotent overwrite; after audio has been processed it fails with
// ConfigAfterAudio (§4.6, and Open Question #2 resolved: keep current
// config).
func (s *Session) ApplyConfig(ctx context.Context, msg *protocol.ConfigMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return apperr.New(apperr.SessionClosed, "session is closed")
	}
	if s.configured && s.audioProcessed {
		return apperr.New(apperr.ConfigAfterAudio, "config message received after audio was processed")
	}

	base := s.defaults
	if s.configured {
		base = s.cfg
	}
	cfg := base.ApplyMessage(msg)
	if err := cfg.Validate(); err != nil {
		return apperr.Wrap(apperr.BadMessage, "invalid session config", err)
	}

	d, err := decoder.New(ctx, s.decoderBackend, decoder.DriverConfig{
		ChunkSizeS:             cfg.ChunkSizeS,
		UnfixedChunkNum:        cfg.UnfixedChunkNum,
		UnfixedTokenNum:        cfg.UnfixedTokenNum,
		CallTimeout:            s.callTimeout,
		MaxConsecutiveFailures: s.maxFailures,
		Provider:               s.decoderProvider,
		Metrics:                s.metrics,
	}, cfg.Prompt, cfg.Context, cfg.LanguageOrEmpty())
	if err != nil {
		return err
	}

	s.cfg = cfg
	s.ep = endpoint.New(endpoint.Config{
		SilenceThresholdS:  cfg.SilenceThresholdS,
		MinSpeechDurationS: cfg.MinSpeechDurationS,
	})
	s.driver = d
	s.configured = true
	s.lastActivity = time.Now()
	return nil
}

// Ingest pushes samples into the frame buffer and drives the pipeline
// until it runs out of complete frames, returning every event produced
// along the way. Never blocks on the network; the Connection Handler owns
// writing events out.
func (s *Session) Ingest(ctx context.Context, samples []float32) ([]protocol.ServerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, apperr.New(apperr.SessionClosed, "session is closed")
	}
	if !s.configured {
		return nil, apperr.New(apperr.ConfigRequired, "audio received before config")
	}

	s.audioProcessed = true
	s.lastActivity = time.Now()
	s.ring.Push(samples)

	var events []protocol.ServerEvent
	for {
		frame := s.ring.NextFrame()
		if frame == nil {
			return events, nil
		}
		if s.metrics != nil {
			s.metrics.RecordFrameAssembled()
		}

		filtered := frame
		if out, err := s.noiseFilter.Filter(frame); err == nil {
			filtered = out
		}

		_, isSpeech, err := s.vadGate.Classify(filtered, s.cfg.VADThreshold)
		if err != nil {
			s.closeLocked()
			return events, err
		}

		frameDurationS := float64(len(filtered)) / float64(audio.SampleRateHz)
		result := s.ep.Process(filtered, isSpeech, frameDurationS)
		if s.metrics != nil && result.Transition != endpoint.NoTransition {
			s.metrics.RecordEndpointTransition(result.Transition.String())
		}
		ev, fatalErr := s.handleTransition(ctx, result)
		events = append(events, ev...)
		if fatalErr != nil {
			s.closeLocked()
			return events, fatalErr
		}
	}
}

// Finalize forces a Speaking->Silent transition: flushes pending audio
// through the decoder and emits Final iff currently Speaking, otherwise
// a no-op (idempotent finalize, per property 6).
func (s *Session) Finalize(ctx context.Context) ([]protocol.ServerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, apperr.New(apperr.SessionClosed, "session is closed")
	}
	if s.ep == nil {
		return nil, nil
	}

	s.lastActivity = time.Now()
	result := s.ep.Finalize()
	if s.metrics != nil && result.Transition != endpoint.NoTransition {
		s.metrics.RecordEndpointTransition(result.Transition.String())
	}
	if result.Transition != endpoint.SpeechEnded {
		return nil, nil
	}

	text, err := s.driver.Flush(ctx, nil)
	events := []protocol.ServerEvent{protocol.NewFinalEvent(s.driver.Language(), text, nowTimestamp())}
	if s.metrics != nil {
		s.metrics.RecordFinalTranscript()
	}
	if err == nil {
		return events, nil
	}

	flushLogger := logging.WithDecoder(s.id, s.decoderProvider)
	flushLogger.Warn().Err(err).Msg("decode flush failed")
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Kind == apperr.DecodeFatal {
		s.closeLocked()
		return events, err
	}
	return append(events, protocol.NewErrorEvent(err.Error())), nil
}

// Close releases resources and makes further calls fail with
// SessionClosed. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

// OnClose registers fn to run when the session closes, however that close
// is triggered — an explicit Close, a fatal pipeline error in Ingest or
// Finalize, or the Manager's idle sweeper. The Connection Handler uses this
// to tear down its socket and goroutines on every close path, not just the
// one it drives itself, so an idle-swept session can't outlive its
// connection. Runs fn immediately, without re-entering the session, if the
// session is already closed.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.closeHooks = append(s.closeHooks, fn)
	s.mu.Unlock()
}

func (s *Session) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	for _, fn := range s.closeHooks {
		fn()
	}
}

// handleTransition drives the decoder driver for one Endpointer result and
// returns events produced plus a fatal error, if any (the caller closes
// the session on a non-nil fatal error).
func (s *Session) handleTransition(ctx context.Context, result endpoint.Result) ([]protocol.ServerEvent, error) {
	switch result.Transition {
	case endpoint.SpeechStarted, endpoint.SpeechContinued:
		text, emit, err := s.driver.Append(ctx, result.Frames)
		if err != nil {
			appendLogger := logging.WithDecoder(s.id, s.decoderProvider)
			appendLogger.Warn().Err(err).Msg("decode call failed")
			var ae *apperr.Error
			if errors.As(err, &ae) && ae.Kind == apperr.DecodeFatal {
				return nil, err
			}
			return []protocol.ServerEvent{protocol.NewErrorEvent(err.Error())}, nil
		}
		if !emit {
			return nil, nil
		}
		utteranceLogger := logging.WithUtterance(s.id, s.driver.ChunkID())
		utteranceLogger.Debug().Msg("partial transcript emitted")
		if s.metrics != nil {
			s.metrics.RecordPartialTranscript()
		}
		return []protocol.ServerEvent{protocol.NewPartialEvent(s.driver.Language(), text, nowTimestamp())}, nil

	case endpoint.SpeechEnded:
		text, err := s.driver.Flush(ctx, result.Frames)
		final := protocol.NewFinalEvent(s.driver.Language(), text, nowTimestamp())
		if s.metrics != nil {
			s.metrics.RecordFinalTranscript()
		}
		if err == nil {
			return []protocol.ServerEvent{final}, nil
		}
		transitionFlushLogger := logging.WithDecoder(s.id, s.decoderProvider)
		transitionFlushLogger.Warn().Err(err).Msg("decode flush failed")
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Kind == apperr.DecodeFatal {
			return []protocol.ServerEvent{final}, err
		}
		return []protocol.ServerEvent{final, protocol.NewErrorEvent(err.Error())}, nil

	default:
		return nil, nil
	}
}

func nowTimestamp() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
