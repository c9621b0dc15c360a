// Package media abstracts local audio/video capture. Device access itself is
// platform-specific and injected; this package owns the acquisition policy:
// ask for audio+video, degrade to audio-only, and surface a missing
// microphone as a capability error rather than a crash.
package media

import (
	"context"
	"errors"

	"github.com/voceo/voceo/pkg/errorsx"
)

// ErrCapabilityUnavailable reports that a required capture device could not
// be acquired.
var ErrCapabilityUnavailable = errors.New("capture capability unavailable")

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Track is one live capture track. SetEnabled flips the track in place
// without renegotiating the stream.
type Track interface {
	Kind() TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
}

// Stream is an acquired set of capture tracks.
type Stream interface {
	AudioTrack() Track
	VideoTrack() Track
	Stop()
}

// Request names the capabilities to acquire.
type Request struct {
	Audio bool
	Video bool
}

// Capturer acquires device capture streams.
type Capturer interface {
	Capture(ctx context.Context, req Request) (Stream, error)
}

// Open acquires a capture stream for a call. Video failure degrades to
// audio-only; audio failure is terminal and reported as
// ErrCapabilityUnavailable.
func Open(ctx context.Context, capturer Capturer, wantVideo bool) (Stream, error) {
	stream, err := capturer.Capture(ctx, Request{Audio: true, Video: wantVideo})
	if err == nil {
		return stream, nil
	}
	if wantVideo {
		stream, err = capturer.Capture(ctx, Request{Audio: true})
		if err == nil {
			return stream, nil
		}
	}
	return nil, errorsx.Wrap(errors.Join(ErrCapabilityUnavailable, err), errorsx.ReasonCaptureUnavailable)
}
