package media

import (
	"context"
	"errors"
	"testing"

	"github.com/voceo/voceo/pkg/errorsx"
)

func TestOpenAcquiresAudioAndVideo(t *testing.T) {
	cap := &FakeCapturer{}
	stream, err := Open(context.Background(), cap, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if stream.AudioTrack() == nil || stream.VideoTrack() == nil {
		t.Fatalf("expected both tracks")
	}
}

func TestOpenFallsBackToAudioOnly(t *testing.T) {
	cap := &FakeCapturer{FailVideo: true}
	stream, err := Open(context.Background(), cap, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if stream.AudioTrack() == nil {
		t.Fatalf("expected audio track after fallback")
	}
	if stream.VideoTrack() != nil {
		t.Fatalf("expected no video track after fallback")
	}
}

func TestOpenWithoutMicrophoneIsCapabilityError(t *testing.T) {
	cap := &FakeCapturer{FailAudio: true}
	_, err := Open(context.Background(), cap, true)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, ErrCapabilityUnavailable) {
		t.Fatalf("error %v does not wrap ErrCapabilityUnavailable", err)
	}
	if !errorsx.HasReason(err, errorsx.ReasonCaptureUnavailable) {
		t.Fatalf("error %v missing capture reason code", err)
	}
}

func TestTrackToggleFlipsInPlace(t *testing.T) {
	cap := &FakeCapturer{}
	stream, err := Open(context.Background(), cap, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	mic := stream.AudioTrack()
	if !mic.Enabled() {
		t.Fatalf("mic starts disabled")
	}
	mic.SetEnabled(false)
	if mic.Enabled() {
		t.Fatalf("mic still enabled after toggle")
	}
	mic.SetEnabled(true)
	if !mic.Enabled() {
		t.Fatalf("mic not re-enabled")
	}

	stream.Stop()
	if mic.Enabled() {
		t.Fatalf("track enabled after stream stop")
	}
}
