// Package googlestt adapts Google Cloud Speech-to-Text's streaming
// recognize API to the gateway's decoder.Decoder contract. Google's API is
// push/async (send audio, receive a stream of interim/final results) rather
// than the gateway's call/response streaming-decode shape, so each
// StreamingTranscribe call sends this chunk's audio and then blocks on the
// next response from the stream, folding it into State.Text.
//
// Limitation: Google's streaming API manages its own incremental-result
// revision internally and exposes no token-prefix rollback knob, so
// UnfixedChunkNum/UnfixedTokenNum are accepted but unused by this backend —
// see the design ledger for why no wiring was possible.
package googlestt

import (
	"context"
	"fmt"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "google.golang.org/genproto/googleapis/cloud/speech/v1"

	"speech-gateway/internal/decoder"
)

// Decoder implements decoder.Decoder using Google Cloud Speech-to-Text.
// Safe for concurrent use across sessions: each utterance gets its own
// stream, held in State.Internal.
type Decoder struct {
	client       *speech.Client
	sampleRateHz int32
}

// New constructs a Decoder. Requires GOOGLE_APPLICATION_CREDENTIALS to be
// set in the environment, per Google's client library conventions.
func New(ctx context.Context) (*Decoder, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("googlestt: new client: %w", err)
	}
	return &Decoder{client: c, sampleRateHz: 16000}, nil
}

type streamState struct {
	stream speechpb.Speech_StreamingRecognizeClient
}

func (d *Decoder) InitStreamingState(ctx context.Context, _, _, language string) (*decoder.State, error) {
	if language == "" {
		language = "en-US"
	}

	stream, err := d.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("googlestt: open stream: %w", err)
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz: d.sampleRateHz,
					LanguageCode:    language,
				},
				InterimResults: true,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("googlestt: send streaming config: %w", err)
	}

	return &decoder.State{Language: language, Internal: &streamState{stream: stream}}, nil
}

func (d *Decoder) StreamingTranscribe(ctx context.Context, audioSamples []float32, state *decoder.State, _ decoder.TranscribeOptions) (*decoder.State, error) {
	ss, ok := state.Internal.(*streamState)
	if !ok || ss == nil {
		return nil, fmt.Errorf("googlestt: state missing stream")
	}

	if len(audioSamples) > 0 {
		if err := ss.stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
				AudioContent: floatsToPCM16(audioSamples),
			},
		}); err != nil {
			return nil, fmt.Errorf("googlestt: send audio: %w", err)
		}
	}

	text := state.Text
	for {
		resp, err := ss.stream.Recv()
		if err != nil {
			return nil, fmt.Errorf("googlestt: recv: %w", err)
		}
		if len(resp.Results) == 0 {
			continue
		}
		alt := resp.Results[0].Alternatives
		if len(alt) == 0 {
			continue
		}
		text = alt[0].Transcript
		break
	}

	return &decoder.State{Text: text, Language: state.Language, Internal: ss}, nil
}

// floatsToPCM16 converts mono float32 samples in [-1,1] to little-endian
// 16-bit PCM, the encoding Google's RecognitionConfig_LINEAR16 expects.
func floatsToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}
