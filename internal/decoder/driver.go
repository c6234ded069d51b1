package decoder

import (
	"context"
	"time"
	"unicode/utf8"

	"speech-gateway/internal/apperr"
	"speech-gateway/internal/audio"
	"speech-gateway/internal/observability/metrics"
)

// DriverConfig holds the per-session knobs sourced from SessionConfig that
// parameterize chunked dispatch and rollback.
type DriverConfig struct {
	ChunkSizeS             float64
	UnfixedChunkNum        int
	UnfixedTokenNum        int
	CallTimeout            time.Duration
	MaxConsecutiveFailures int
	Provider               string
	Metrics                *metrics.Metrics
}

// Driver owns the per-session decoder state, accumulates audio during
// speech, triggers decode calls at the configured cadence, and emits
// partial/final text (§4.5). It never touches State.Internal.
type Driver struct {
	decoder  Decoder
	cfg      DriverConfig
	prompt   string
	context  string
	language string

	state               *State
	pendingAudio        []float32
	chunkID             int
	lastPartialText     string
	consecutiveFailures int
}

// New constructs a Driver and performs the initial InitStreamingState call.
func New(ctx context.Context, dec Decoder, cfg DriverConfig, prompt, callContext, language string) (*Driver, error) {
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 3
	}
	st, err := dec.InitStreamingState(ctx, prompt, callContext, language)
	if err != nil {
		if cfg.Metrics != nil {
			cfg.Metrics.RecordDecodeError(apperr.DecodeFatal.String())
		}
		return nil, apperr.Wrap(apperr.DecodeFatal, "init streaming state failed", err)
	}
	return &Driver{
		decoder:  dec,
		cfg:      cfg,
		prompt:   prompt,
		context:  callContext,
		language: language,
		state:    st,
	}, nil
}

// Language returns the decoder's currently detected/forced language.
func (d *Driver) Language() string {
	return d.state.Language
}

// ChunkID returns the number of decode calls served so far for the current
// utterance, for per-chunk decode logging.
func (d *Driver) ChunkID() int {
	return d.chunkID
}

// Append feeds newly-gated frames into pending_audio and, once chunk_size_s
// worth of audio has accumulated, invokes a decode call. text is non-empty
// and emit is true only when the decoder produced text that differs from
// the previously emitted partial.
func (d *Driver) Append(ctx context.Context, frames []audio.Frame) (text string, emit bool, err error) {
	for _, f := range frames {
		d.pendingAudio = append(d.pendingAudio, f...)
	}

	durationS := float64(len(d.pendingAudio)) / float64(audio.SampleRateHz)
	if durationS < d.cfg.ChunkSizeS {
		return "", false, nil
	}
	return d.decodeChunk(ctx)
}

// Flush is called on SpeechEnd: it appends any trailing frames (tail
// preservation — the silent frames that fell inside the silence-threshold
// window), makes one final decode call if audio is pending, and returns
// the utterance's final text. It always resets per-utterance state
// afterward so the next utterance starts from a clean decode context while
// reusing the same prompt/context/language.
func (d *Driver) Flush(ctx context.Context, frames []audio.Frame) (string, error) {
	for _, f := range frames {
		d.pendingAudio = append(d.pendingAudio, f...)
	}

	var flushErr error
	if len(d.pendingAudio) > 0 {
		_, _, flushErr = d.decodeChunk(ctx)
	}

	finalText := d.state.Text
	if resetErr := d.reset(ctx); resetErr != nil && flushErr == nil {
		flushErr = resetErr
	}
	return finalText, flushErr
}

func (d *Driver) decodeChunk(ctx context.Context) (string, bool, error) {
	samples := d.pendingAudio
	d.pendingAudio = nil

	opts := TranscribeOptions{
		ChunkID:         d.chunkID,
		UnfixedChunkNum: d.cfg.UnfixedChunkNum,
		UnfixedTokenNum: d.cfg.UnfixedTokenNum,
	}

	callCtx := ctx
	if d.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.cfg.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	newState, err := d.decoder.StreamingTranscribe(callCtx, samples, d.state, opts)
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.RecordDecodeCall(d.cfg.Provider, time.Since(start).Seconds())
	}
	if err != nil {
		d.consecutiveFailures++
		if d.consecutiveFailures >= d.cfg.MaxConsecutiveFailures {
			wrapped := apperr.Wrap(apperr.DecodeFatal, "decoder failed repeatedly", err)
			d.recordDecodeError(apperr.DecodeFatal)
			return "", false, wrapped
		}
		d.recordDecodeError(apperr.DecodeTransient)
		return "", false, apperr.Wrap(apperr.DecodeTransient, "decode call failed", err)
	}

	if !utf8.ValidString(newState.Text) {
		d.recordDecodeError(apperr.DecodeFatal)
		return "", false, apperr.New(apperr.DecodeFatal, "decoder returned invalid utf-8")
	}

	d.consecutiveFailures = 0
	d.chunkID++
	d.state = newState

	if d.state.Text == d.lastPartialText {
		return "", false, nil
	}
	d.lastPartialText = d.state.Text
	return d.state.Text, true, nil
}

// recordDecodeError records a decode failure by apperr.Kind, if metrics are
// wired.
func (d *Driver) recordDecodeError(kind apperr.Kind) {
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.RecordDecodeError(kind.String())
	}
}

func (d *Driver) reset(ctx context.Context) error {
	st, err := d.decoder.InitStreamingState(ctx, d.prompt, d.context, d.language)
	d.pendingAudio = nil
	d.chunkID = 0
	d.lastPartialText = ""
	d.consecutiveFailures = 0
	if err != nil {
		d.state = &State{Language: d.language}
		d.recordDecodeError(apperr.DecodeFatal)
		return apperr.Wrap(apperr.DecodeFatal, "reinit streaming state failed", err)
	}
	d.state = st
	return nil
}
