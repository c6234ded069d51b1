package apperr

import (
	"errors"
	"testing"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{BadMessage, "bad_message"},
		{ConfigRequired, "config_required"},
		{ConfigAfterAudio, "config_after_audio"},
		{InvalidFrameSize, "invalid_frame_size"},
		{DecodeTransient, "decode_transient"},
		{DecodeFatal, "decode_fatal"},
		{ServerBusy, "server_busy"},
		{SessionClosed, "session_closed"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestFatal(t *testing.T) {
	for _, k := range []Kind{InvalidFrameSize, DecodeFatal} {
		if !k.Fatal() {
			t.Errorf("%v should be fatal", k)
		}
	}
	for _, k := range []Kind{BadMessage, ConfigRequired, ConfigAfterAudio, DecodeTransient, ServerBusy, SessionClosed} {
		if k.Fatal() {
			t.Errorf("%v should not be fatal", k)
		}
	}
}

func TestErrorWrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(DecodeTransient, "decode failed", cause)
	if !errors.Is(err, cause) {
		t.Error("expected Unwrap to expose cause")
	}
	if err.Kind != DecodeTransient {
		t.Errorf("expected Kind DecodeTransient, got %v", err.Kind)
	}
}

func TestSessionClosedSilent(t *testing.T) {
	if !SessionClosed.Silent() {
		t.Error("SessionClosed should be silent")
	}
	if BadMessage.Silent() {
		t.Error("BadMessage should not be silent")
	}
}
