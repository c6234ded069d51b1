// Package endpoint implements the two-state (Silent/Speaking) utterance
// boundary detector described in the gateway's component design. It is the
// one state machine in the pipeline with hysteresis (silence duration) and
// debounce (minimum cumulative speech) semantics, modeled after the
// session-lifecycle state machines used elsewhere in this codebase.
package endpoint

import (
	"fmt"
	"sync"

	"speech-gateway/internal/audio"
)

// State is the Endpointer's current classification of the audio stream.
type State int

const (
	// Silent is the initial state: accumulated speech has not yet reached
	// the debounce threshold required to commit to an utterance.
	Silent State = iota
	// Speaking is reached once cumulative provisional speech clears
	// min_speech_duration_s.
	Speaking
)

func (s State) String() string {
	switch s {
	case Silent:
		return "SILENT"
	case Speaking:
		return "SPEAKING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Transition classifies what a Process/Finalize call produced.
type Transition int

const (
	// NoTransition means the state did not change and nothing should be
	// handed to the decoder driver yet (e.g. still in the provisional
	// debounce window).
	NoTransition Transition = iota
	// SpeechStarted means Silent->Speaking just occurred; Frames holds the
	// whole provisional window so the opening syllables are not clipped.
	SpeechStarted
	// SpeechContinued means the state remained Speaking; Frames holds the
	// single frame just processed.
	SpeechContinued
	// SpeechEnded means Speaking->Silent just occurred; Frames holds the
	// single frame (if any — Finalize carries none) that completed the
	// transition, to be fed to the decoder before the flush.
	SpeechEnded
)

func (t Transition) String() string {
	switch t {
	case SpeechStarted:
		return "speech_started"
	case SpeechContinued:
		return "speech_continued"
	case SpeechEnded:
		return "speech_ended"
	default:
		return "no_transition"
	}
}

// Result reports what Process or Finalize did and which frames (if any)
// the caller must forward to the Decoder Driver as part of this step.
type Result struct {
	Transition Transition
	Frames     []audio.Frame
}

// Config holds the thresholds that parameterize the state machine, sourced
// from SessionConfig.
type Config struct {
	SilenceThresholdS  float64
	MinSpeechDurationS float64
}

// Endpointer is the Silent/Speaking state machine. The Session serializes
// calls into it; every method also takes the Endpointer's own mutex, so
// concurrent calls are safe, matching the lifecycle style used by this
// codebase's other state machines.
type Endpointer struct {
	mu    sync.Mutex
	cfg   Config
	state State

	cumulativeSpeechS float64
	silenceS          float64
	provisional       []audio.Frame
}

// New constructs an Endpointer in the Silent state.
func New(cfg Config) *Endpointer {
	return &Endpointer{cfg: cfg, state: Silent}
}

// State returns the current classification.
func (e *Endpointer) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Process advances the state machine by one analysis frame. frameDurationS
// is the frame's duration in seconds (len(frame)/sample_rate).
func (e *Endpointer) Process(frame audio.Frame, isSpeech bool, frameDurationS float64) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Silent:
		if !isSpeech {
			e.provisional = nil
			e.cumulativeSpeechS = 0
			return Result{Transition: NoTransition}
		}

		e.provisional = append(e.provisional, frame)
		e.cumulativeSpeechS += frameDurationS
		if e.cumulativeSpeechS < e.cfg.MinSpeechDurationS {
			return Result{Transition: NoTransition}
		}

		frames := e.provisional
		e.provisional = nil
		e.state = Speaking
		e.silenceS = 0
		return Result{Transition: SpeechStarted, Frames: frames}

	default: // Speaking
		if isSpeech {
			e.silenceS = 0
			return Result{Transition: SpeechContinued, Frames: []audio.Frame{frame}}
		}

		e.silenceS += frameDurationS
		if e.silenceS >= e.cfg.SilenceThresholdS {
			e.state = Silent
			e.cumulativeSpeechS = 0
			e.silenceS = 0
			e.provisional = nil
			return Result{Transition: SpeechEnded, Frames: []audio.Frame{frame}}
		}
		return Result{Transition: SpeechContinued, Frames: []audio.Frame{frame}}
	}
}

// Finalize forces a Speaking->Silent transition, for an explicit client
// finalize request. A no-op when already Silent (idempotent, emits
// nothing), per the testable property that finalize-while-silent is silent.
func (e *Endpointer) Finalize() Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Speaking {
		e.provisional = nil
		e.cumulativeSpeechS = 0
		return Result{Transition: NoTransition}
	}

	e.state = Silent
	e.cumulativeSpeechS = 0
	e.silenceS = 0
	return Result{Transition: SpeechEnded}
}
