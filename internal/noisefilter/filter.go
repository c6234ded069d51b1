// Package noisefilter provides the optional pre-VAD denoising stage. A
// filter consumes and emits exact VAD-sized frames so it never forces
// downstream resizing.
package noisefilter

import "speech-gateway/internal/audio"

// Filter denoises a single frame, preserving its length. Stateful per
// session — callers construct one Filter per Session, never share across
// sessions.
type Filter interface {
	Filter(frame audio.Frame) (audio.Frame, error)
}

// PassThrough is the default no-op Filter used when noise suppression is
// not configured: the pipeline still calls through the Filter interface so
// enabling a real denoiser later is a pure configuration change.
type PassThrough struct{}

func NewPassThrough() *PassThrough { return &PassThrough{} }

func (PassThrough) Filter(frame audio.Frame) (audio.Frame, error) {
	return frame, nil
}
