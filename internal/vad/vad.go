// Package vad wraps a voice-activity-detection model behind the frame
// contract the Endpointer depends on. The VAD model itself is an external
// collaborator (§6.3 of the gateway's external interfaces); this package
// owns only the frame-size contract and thread-safety around it.
package vad

import (
	"sync"

	"speech-gateway/internal/apperr"
	"speech-gateway/internal/audio"
	"speech-gateway/internal/observability/metrics"
)

// Detector computes a speech probability for a single analysis frame.
// Implementations may wrap a non-thread-safe model; Gate serializes access.
type Detector interface {
	// Prob returns a probability in [0,1] that frame contains speech.
	// len(frame) is guaranteed by Gate to be one of audio.AllowedFrameSizes.
	Prob(frame audio.Frame) (float64, error)
}

// Gate owns the frame-size contract: it rejects any frame whose length is
// not one of the allowed analysis sizes, and serializes access to the
// wrapped Detector in case it is not itself thread-safe (VAD inference is
// milliseconds; contention is acceptable, per the design notes).
type Gate struct {
	mu        sync.Mutex
	detector  Detector
	frameSize int
	metrics   *metrics.Metrics
}

// NewGate constructs a Gate for the given frame size. frameSize must be one
// of audio.AllowedFrameSizes. m may be nil (metrics disabled).
func NewGate(detector Detector, frameSize int, m *metrics.Metrics) (*Gate, error) {
	if !audio.IsAllowedSize(frameSize) {
		return nil, apperr.New(apperr.InvalidFrameSize, "frame size not in allowed set")
	}
	return &Gate{detector: detector, frameSize: frameSize, metrics: m}, nil
}

// FrameSize returns the analysis size this Gate was constructed with.
func (g *Gate) FrameSize() int {
	return g.frameSize
}

// Classify returns the frame's speech probability and whether it clears
// threshold. It fails with apperr.InvalidFrameSize if frame is not exactly
// FrameSize samples — the Session treats this as fatal.
func (g *Gate) Classify(frame audio.Frame, threshold float64) (prob float64, speech bool, err error) {
	if len(frame) != g.frameSize {
		return 0, false, apperr.New(apperr.InvalidFrameSize, "vad fed a wrong-size frame")
	}

	g.mu.Lock()
	p, err := g.detector.Prob(frame)
	g.mu.Unlock()
	if err != nil {
		// VAD failures on a single frame are fail-open: treated as silence
		// so a transient model error never aborts an in-progress utterance.
		if g.metrics != nil {
			g.metrics.RecordFrameClassified(false)
		}
		return 0, false, nil
	}

	speech = p >= threshold
	if g.metrics != nil {
		g.metrics.RecordFrameClassified(speech)
	}
	return p, speech, nil
}

// EnergyDetector is a deterministic, dependency-free reference Detector: it
// classifies a frame as speech whenever it contains any nonzero sample,
// matching the literal stub VAD behavior the gateway's property tests rely
// on (1.0 for nonzero, 0.0 for exact-zero frames). Production deployments
// swap this for a real acoustic model behind the same Detector interface.
type EnergyDetector struct{}

func NewEnergyDetector() *EnergyDetector { return &EnergyDetector{} }

func (EnergyDetector) Prob(frame audio.Frame) (float64, error) {
	for _, s := range frame {
		if s != 0 {
			return 1.0, nil
		}
	}
	return 0.0, nil
}
