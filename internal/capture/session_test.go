package capture

import (
	"context"
	"errors"
	"image"
	"image/draw"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"nutriscan/internal/notify"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestSession(t *testing.T, dev Device, opts ...Option) (*Session, *notify.Recorder) {
	t.Helper()
	rec := &notify.Recorder{}
	s := NewSession(dev, NewSyntheticSurface(), rec, opts...)
	t.Cleanup(s.Close)
	return s, rec
}

func TestSessionOpenAndCloseIdempotent(t *testing.T) {
	dev := NewSyntheticDevice()
	s, rec := newTestSession(t, dev)

	assert.Equal(t, StateIdle, s.State())
	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, StateActive, s.State())
	assert.Equal(t, 1, dev.LiveTracks())

	s.Close()
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, dev.LiveTracks())

	s.Close()
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, dev.LiveTracks())
	assert.Equal(t, 1, dev.Opened())
	assert.Zero(t, rec.Len())
}

func TestSessionCloseWithoutStream(t *testing.T) {
	s, _ := newTestSession(t, NewSyntheticDevice())
	s.Close()
	assert.Equal(t, StateClosed, s.State())
	_, ok := s.CaptureFrame()
	assert.False(t, ok)
}

func TestSessionOpenDenied(t *testing.T) {
	s, rec := newTestSession(t, DeniedDevice{})

	err := s.Open(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeviceAccessDenied))
	assert.Equal(t, StateIdle, s.State())

	notes := rec.All()
	require.Len(t, notes, 1)
	assert.Equal(t, "Camera Error", notes[0].Title)
	assert.Equal(t, notify.VariantDestructive, notes[0].Variant)

	_, ok := s.CaptureFrame()
	assert.False(t, ok)
	assert.False(t, s.CaptureAndScan(func(context.Context, string) {}))
}

func TestSessionReopenReleasesPreviousStream(t *testing.T) {
	dev := NewSyntheticDevice()
	s, _ := newTestSession(t, dev)

	require.NoError(t, s.Open(context.Background()))
	require.NoError(t, s.Open(context.Background()))

	assert.Equal(t, 2, dev.Opened())
	assert.Equal(t, 1, dev.LiveTracks())
	assert.Equal(t, StateActive, s.State())
}

func TestSessionReopenAfterClose(t *testing.T) {
	dev := NewSyntheticDevice()
	s, _ := newTestSession(t, dev)

	require.NoError(t, s.Open(context.Background()))
	s.Close()
	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, StateActive, s.State())
	assert.Equal(t, 1, dev.LiveTracks())
}

func TestCaptureFrameUsesNativeResolution(t *testing.T) {
	dev := &SyntheticDevice{NativeWidth: 640, NativeHeight: 480}
	s, _ := newTestSession(t, dev)

	_, ok := s.CaptureFrame()
	assert.False(t, ok, "no frame before open")

	require.NoError(t, s.Open(context.Background()))
	frame, ok := s.CaptureFrame()
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 640, 480), frame.Bounds())
}

func TestCaptureFrameDefaultsToIdealResolution(t *testing.T) {
	s, _ := newTestSession(t, NewSyntheticDevice())
	require.NoError(t, s.Open(context.Background()))

	frame, ok := s.CaptureFrame()
	require.True(t, ok)
	assert.Equal(t, 1280, frame.Bounds().Dx())
	assert.Equal(t, 720, frame.Bounds().Dy())
}

func TestCaptureAndScanDeliversCodeThenCloses(t *testing.T) {
	dev := NewSyntheticDevice()
	s, _ := newTestSession(t, dev,
		WithScanDelay(10*time.Millisecond),
		WithCodeSource(func() string { return "000111222333" }))
	require.NoError(t, s.Open(context.Background()))

	got := make(chan string, 1)
	require.True(t, s.CaptureAndScan(func(ctx context.Context, code string) {
		got <- code
	}))
	assert.True(t, s.Scanning())
	assert.NotNil(t, s.LastFrame())

	select {
	case code := <-got:
		assert.Equal(t, "000111222333", code)
	case <-time.After(2 * time.Second):
		t.Fatal("scan never completed")
	}

	require.Eventually(t, func() bool { return s.State() == StateClosed }, time.Second, 5*time.Millisecond)
	assert.False(t, s.Scanning())
	assert.Equal(t, 0, dev.LiveTracks())
}

func TestCaptureAndScanRefusesWhileScanning(t *testing.T) {
	s, _ := newTestSession(t, NewSyntheticDevice(), WithScanDelay(time.Hour))
	require.NoError(t, s.Open(context.Background()))

	require.True(t, s.CaptureAndScan(nil))
	assert.False(t, s.CaptureAndScan(nil))
}

func TestCloseCancelsPendingScan(t *testing.T) {
	dev := NewSyntheticDevice()
	s, _ := newTestSession(t, dev, WithScanDelay(50*time.Millisecond))
	require.NoError(t, s.Open(context.Background()))

	var fired atomic.Int32
	require.True(t, s.CaptureAndScan(func(context.Context, string) { fired.Add(1) }))
	s.Close()

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, fired.Load())
	assert.Equal(t, StateClosed, s.State())
	assert.False(t, s.Scanning())
	assert.Equal(t, 0, dev.LiveTracks())
}

func TestOpenCancelsPendingScan(t *testing.T) {
	s, _ := newTestSession(t, NewSyntheticDevice(), WithScanDelay(time.Hour))
	require.NoError(t, s.Open(context.Background()))

	var fired atomic.Int32
	require.True(t, s.CaptureAndScan(func(context.Context, string) { fired.Add(1) }))
	require.NoError(t, s.Open(context.Background()))

	assert.False(t, s.Scanning())
	assert.Zero(t, fired.Load())
}

func TestCloseRefusesCaptureWhileCallbackRuns(t *testing.T) {
	dev := NewSyntheticDevice()
	s, _ := newTestSession(t, dev, WithScanDelay(time.Millisecond))
	require.NoError(t, s.Open(context.Background()))

	entered := make(chan struct{})
	release := make(chan struct{})
	require.True(t, s.CaptureAndScan(func(context.Context, string) {
		close(entered)
		<-release
	}))
	<-entered

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	require.Eventually(t, func() bool { return s.State() == StateClosed }, time.Second, time.Millisecond)

	var late atomic.Int32
	assert.False(t, s.CaptureAndScan(func(context.Context, string) { late.Add(1) }))
	assert.True(t, s.Scanning())

	select {
	case <-closed:
		t.Fatal("Close returned while the scan callback was still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-closed
	assert.False(t, s.Scanning())
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, dev.LiveTracks())

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, late.Load())
}

func TestReopenWhileCallbackRunsKeepsNewStream(t *testing.T) {
	dev := NewSyntheticDevice()
	s, _ := newTestSession(t, dev, WithScanDelay(time.Millisecond))
	require.NoError(t, s.Open(context.Background()))

	entered := make(chan struct{})
	release := make(chan struct{})
	var cancelled atomic.Bool
	require.True(t, s.CaptureAndScan(func(ctx context.Context, _ string) {
		close(entered)
		<-release
		cancelled.Store(ctx.Err() != nil)
	}))
	<-entered

	opened := make(chan error, 1)
	go func() { opened <- s.Open(context.Background()) }()
	require.Eventually(t, func() bool { return s.State() == StateOpening }, time.Second, time.Millisecond)
	assert.False(t, s.CaptureAndScan(nil))

	close(release)
	require.NoError(t, <-opened)
	assert.True(t, cancelled.Load())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateActive, s.State())
	assert.False(t, s.Scanning())
	assert.Equal(t, 1, dev.LiveTracks())
}

type blockingDevice struct {
	inner   *SyntheticDevice
	entered chan struct{}
	release chan struct{}
}

func (d *blockingDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	close(d.entered)
	<-d.release
	return d.inner.Open(ctx, c)
}

func TestCloseWhileOpeningDropsGrantedStream(t *testing.T) {
	dev := &blockingDevice{
		inner:   NewSyntheticDevice(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	s, rec := newTestSession(t, dev)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Open(context.Background()) }()

	<-dev.entered
	assert.Equal(t, StateOpening, s.State())
	assert.ErrorIs(t, s.Open(context.Background()), ErrOpening)

	s.Close()
	close(dev.release)

	assert.ErrorIs(t, <-errCh, ErrClosed)
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, dev.inner.LiveTracks())
	assert.Zero(t, rec.Len())
}

type brokenSurface struct{ *SyntheticSurface }

func (brokenSurface) Play(context.Context, Stream) error { return errors.New("autoplay blocked") }

func TestPlaybackFailureReleasesStream(t *testing.T) {
	dev := NewSyntheticDevice()
	rec := &notify.Recorder{}
	s := NewSession(dev, brokenSurface{NewSyntheticSurface()}, rec)
	defer s.Close()

	err := s.Open(context.Background())
	assert.ErrorIs(t, err, ErrDeviceAccessDenied)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 0, dev.LiveTracks())
	assert.Equal(t, 1, rec.Len())
}

func TestOpenWithCancelledContextDoesNotNotify(t *testing.T) {
	s, rec := newTestSession(t, NewSyntheticDevice())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Open(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateIdle, s.State())
	assert.Zero(t, rec.Len())
}

type blankSurface struct{ *SyntheticSurface }

func (blankSurface) VideoSize() image.Point { return image.Point{} }
func (blankSurface) Draw(draw.Image) error  { return nil }

func TestCaptureIsNoOpWithoutVideoDimensions(t *testing.T) {
	s := NewSession(NewSyntheticDevice(), blankSurface{NewSyntheticSurface()}, nil)
	defer s.Close()
	require.NoError(t, s.Open(context.Background()))

	_, ok := s.CaptureFrame()
	assert.False(t, ok)
	assert.False(t, s.CaptureAndScan(nil))
	assert.False(t, s.Scanning())
}

func TestRandomDigits(t *testing.T) {
	for i := 0; i < 50; i++ {
		code := RandomDigits()
		require.Len(t, code, 12)
		for _, r := range code {
			require.True(t, r >= '0' && r <= '9', code)
		}
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestSyntheticSurfaceDrawsPattern(t *testing.T) {
	surf := NewSyntheticSurface()
	dst := image.NewRGBA(image.Rect(0, 0, 90, 90))
	assert.Error(t, surf.Draw(dst))

	dev := NewSyntheticDevice()
	stream, err := dev.Open(context.Background(), DefaultConstraints())
	require.NoError(t, err)
	require.NoError(t, surf.Play(context.Background(), stream))
	require.NoError(t, surf.Draw(dst))

	corner := dst.RGBAAt(0, 0)
	assert.Equal(t, uint8(0x30), corner.R)
	stopTracks(stream)
	assert.Equal(t, 0, dev.LiveTracks())
}
