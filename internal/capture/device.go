// internal/capture/device.go
package capture

import (
	"context"
	"errors"
	"image"
	"image/draw"
)

var (
	// ErrDeviceAccessDenied covers permission refusal and missing devices.
	ErrDeviceAccessDenied = errors.New("camera access denied")
	// ErrClosed is returned by Open when Close lands before the stream is granted.
	ErrClosed = errors.New("capture session closed")
	// ErrOpening is returned by Open while another Open is in flight.
	ErrOpening = errors.New("capture session is already opening")
)

const FacingEnvironment = "environment"

// Constraints is the video request sent to the device.
type Constraints struct {
	FacingMode  string `json:"facing_mode" yaml:"facing_mode"`
	IdealWidth  int    `json:"ideal_width" yaml:"ideal_width"`
	IdealHeight int    `json:"ideal_height" yaml:"ideal_height"`
}

func DefaultConstraints() Constraints {
	return Constraints{
		FacingMode:  FacingEnvironment,
		IdealWidth:  1280,
		IdealHeight: 720,
	}
}

// Device grants live video streams.
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is a live video source. Every track must be stopped on teardown.
type Stream interface {
	Tracks() []Track
}

type Track interface {
	Kind() string
	Stop()
}

// Surface plays a stream and copies its current frame into an offscreen
// buffer.
type Surface interface {
	Play(ctx context.Context, s Stream) error
	// VideoSize is the native resolution of the playing video, or the zero
	// point when nothing is playing.
	VideoSize() image.Point
	Draw(dst draw.Image) error
	Stop()
}

// Sized is implemented by streams that know their native resolution.
type Sized interface {
	VideoSize() image.Point
}

func stopTracks(s Stream) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
