// internal/capture/synthetic.go
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
)

// SyntheticDevice is an in-process camera that renders a test pattern. It
// honours the ideal resolution unless a native size is fixed.
type SyntheticDevice struct {
	NativeWidth  int
	NativeHeight int

	mu     sync.Mutex
	tracks []*SyntheticTrack
}

func NewSyntheticDevice() *SyntheticDevice {
	return &SyntheticDevice{}
}

func (d *SyntheticDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w, h := c.IdealWidth, c.IdealHeight
	if d.NativeWidth > 0 && d.NativeHeight > 0 {
		w, h = d.NativeWidth, d.NativeHeight
	}
	if w <= 0 || h <= 0 {
		w, h = DefaultConstraints().IdealWidth, DefaultConstraints().IdealHeight
	}

	track := &SyntheticTrack{label: fmt.Sprintf("synthetic %s camera", c.FacingMode)}
	d.mu.Lock()
	d.tracks = append(d.tracks, track)
	d.mu.Unlock()

	return &SyntheticStream{size: image.Pt(w, h), tracks: []Track{track}}, nil
}

// LiveTracks counts tracks handed out that have not been stopped.
func (d *SyntheticDevice) LiveTracks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range d.tracks {
		if !t.Stopped() {
			n++
		}
	}
	return n
}

// Opened counts streams granted so far.
func (d *SyntheticDevice) Opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tracks)
}

type SyntheticStream struct {
	size   image.Point
	tracks []Track
}

func (s *SyntheticStream) Tracks() []Track        { return s.tracks }
func (s *SyntheticStream) VideoSize() image.Point { return s.size }

type SyntheticTrack struct {
	label string

	mu      sync.Mutex
	stopped bool
}

func (t *SyntheticTrack) Kind() string  { return "video" }
func (t *SyntheticTrack) Label() string { return t.label }

func (t *SyntheticTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *SyntheticTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// SyntheticSurface plays any stream. Streams implementing Sized report
// their own resolution; others play at the default 1280x720.
type SyntheticSurface struct {
	mu      sync.Mutex
	playing bool
	size    image.Point
}

func NewSyntheticSurface() *SyntheticSurface {
	return &SyntheticSurface{}
}

func (s *SyntheticSurface) Play(ctx context.Context, stream Stream) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if stream == nil {
		return errors.New("no stream to play")
	}
	size := image.Pt(DefaultConstraints().IdealWidth, DefaultConstraints().IdealHeight)
	if sized, ok := stream.(Sized); ok {
		size = sized.VideoSize()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = true
	s.size = size
	return nil
}

func (s *SyntheticSurface) VideoSize() image.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing {
		return image.Point{}
	}
	return s.size
}

func (s *SyntheticSurface) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Draw paints a grey background with a barcode-like band of bars in the
// middle third of the frame.
func (s *SyntheticSurface) Draw(dst draw.Image) error {
	s.mu.Lock()
	playing := s.playing
	s.mu.Unlock()
	if !playing {
		return errors.New("surface is not playing")
	}

	b := dst.Bounds()
	draw.Draw(dst, b, &image.Uniform{C: color.Gray{Y: 0x30}}, image.Point{}, draw.Src)

	band := image.Rect(b.Min.X+b.Dx()/4, b.Min.Y+b.Dy()/3, b.Max.X-b.Dx()/4, b.Max.Y-b.Dy()/3)
	draw.Draw(dst, band, image.White, image.Point{}, draw.Src)
	for x := band.Min.X; x < band.Max.X; x++ {
		if (x/3)%3 == 0 {
			bar := image.Rect(x, band.Min.Y, x+1, band.Max.Y)
			draw.Draw(dst, bar, image.Black, image.Point{}, draw.Src)
		}
	}
	return nil
}

func (s *SyntheticSurface) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = false
	s.size = image.Point{}
}

// DeniedDevice refuses every request, as a browser does when the user
// blocks the camera permission.
type DeniedDevice struct{}

func (DeniedDevice) Open(context.Context, Constraints) (Stream, error) {
	return nil, fmt.Errorf("%w: permission dismissed", ErrDeviceAccessDenied)
}
