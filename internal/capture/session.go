// internal/capture/session.go
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"nutriscan/internal/notify"
)

type State int

const (
	StateIdle State = iota
	StateOpening
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

const DefaultScanDelay = 2 * time.Second

// ScanFunc receives the code produced by a completed scan. The context is
// cancelled if the session is closed while the callback runs. The session
// closes itself once the callback returns; a ScanFunc must not call Close or
// Open on its own session, since both wait for the callback to finish.
type ScanFunc func(ctx context.Context, code string)

// CodeSource synthesizes the code a simulated scan "decodes".
type CodeSource func() string

// RandomDigits returns a 12 digit numeric code.
func RandomDigits() string {
	return fmt.Sprintf("%012d", rand.Int63n(1_000_000_000_000))
}

type Option func(*Session)

func WithConstraints(c Constraints) Option {
	return func(s *Session) { s.constraints = c }
}

func WithScanDelay(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.delay = d
		}
	}
}

func WithCodeSource(src CodeSource) Option {
	return func(s *Session) {
		if src != nil {
			s.codes = src
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l.Named("capture")
		}
	}
}

type pendingScan struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *pendingScan) wait() {
	<-p.done
}

// Session owns the camera stream. It moves Idle -> Opening -> Active ->
// Closed; getting back to Active always takes a fresh Open.
type Session struct {
	device      Device
	surface     Surface
	notifier    notify.Notifier
	logger      *zap.Logger
	constraints Constraints
	delay       time.Duration
	codes       CodeSource

	mu        sync.Mutex
	state     State
	stream    Stream
	gen       uint64
	pending   *pendingScan
	lastFrame *image.RGBA
}

func NewSession(device Device, surface Surface, notifier notify.Notifier, opts ...Option) *Session {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	s := &Session{
		device:      device,
		surface:     surface,
		notifier:    notifier,
		logger:      zap.NewNop(),
		constraints: DefaultConstraints(),
		delay:       DefaultScanDelay,
		codes:       RandomDigits,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Scanning reports whether a scan is waiting on its delay or running its
// callback.
func (s *Session) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// LastFrame is the frame grabbed by the most recent CaptureAndScan.
func (s *Session) LastFrame() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFrame
}

// Open requests a stream and starts playback. A stream that is already held
// is released first. On failure the user is notified once and the session is
// left Idle.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateOpening {
		s.mu.Unlock()
		return ErrOpening
	}
	p := s.cancelPendingLocked()
	s.releaseLocked()
	s.state = StateOpening
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	// A scan callback that was already running finishes before the new
	// stream is requested.
	s.finishPending(p)

	s.logger.Debug("requesting camera",
		zap.String("facing", s.constraints.FacingMode),
		zap.Int("ideal_width", s.constraints.IdealWidth),
		zap.Int("ideal_height", s.constraints.IdealHeight))

	stream, err := s.device.Open(ctx, s.constraints)
	if err == nil {
		if playErr := s.surface.Play(ctx, stream); playErr != nil {
			stopTracks(stream)
			s.surface.Stop()
			stream, err = nil, fmt.Errorf("start playback: %w", playErr)
		}
	}

	s.mu.Lock()
	if s.gen != gen || s.state != StateOpening {
		s.mu.Unlock()
		if stream != nil {
			stopTracks(stream)
			s.surface.Stop()
		}
		return ErrClosed
	}

	if err != nil {
		s.state = StateIdle
		s.mu.Unlock()

		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return err
		}
		s.logger.Warn("camera access failed", zap.Error(err))
		s.notifier.Notify(ctx, notify.Notification{
			Title:       "Camera Error",
			Description: "Unable to access camera. Please check permissions.",
			Variant:     notify.VariantDestructive,
		})
		if errors.Is(err, ErrDeviceAccessDenied) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDeviceAccessDenied, err)
	}

	s.stream = stream
	s.state = StateActive
	s.mu.Unlock()

	s.logger.Info("camera active", zap.Int("tracks", len(stream.Tracks())))
	return nil
}

// CaptureFrame copies the current video frame into a buffer sized to the
// native video resolution. It does nothing when no video is playing.
func (s *Session) CaptureFrame() (*image.RGBA, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captureLocked()
}

func (s *Session) captureLocked() (*image.RGBA, bool) {
	if s.state != StateActive || s.stream == nil {
		return nil, false
	}
	size := s.surface.VideoSize()
	if size.X <= 0 || size.Y <= 0 {
		return nil, false
	}
	frame := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	if err := s.surface.Draw(frame); err != nil {
		s.logger.Debug("frame capture failed", zap.Error(err))
		return nil, false
	}
	return frame, true
}

// CaptureAndScan grabs a frame and schedules a simulated decode. After the
// scan delay onScan receives a synthesized code and the session closes
// itself. Close cancels a scan that has not completed. It returns false
// when nothing was scheduled.
func (s *Session) CaptureAndScan(onScan ScanFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		return false
	}
	frame, ok := s.captureLocked()
	if !ok {
		return false
	}
	s.lastFrame = frame

	ctx, cancel := context.WithCancel(context.Background())
	p := &pendingScan{cancel: cancel, done: make(chan struct{})}
	s.pending = p
	go s.runScan(ctx, p, onScan)

	s.logger.Debug("scan scheduled",
		zap.Duration("delay", s.delay),
		zap.Int("frame_width", frame.Bounds().Dx()),
		zap.Int("frame_height", frame.Bounds().Dy()))
	return true
}

func (s *Session) runScan(ctx context.Context, p *pendingScan, onScan ScanFunc) {
	defer close(p.done)
	defer p.cancel()

	timer := time.NewTimer(s.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		s.logger.Debug("pending scan cancelled")
		return
	case <-timer.C:
	}
	if ctx.Err() != nil {
		return
	}

	code := s.codes()
	if onScan != nil {
		onScan(ctx, code)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Whoever cancelled the scan owns the teardown.
	if s.pending != p || ctx.Err() != nil {
		return
	}
	s.pending = nil
	s.releaseLocked()
	s.state = StateClosed
	s.logger.Debug("scan complete, camera closed", zap.String("code", code))
}

// Close cancels a pending scan, waits for it to stop, and releases the
// stream. Calling it again is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateOpening {
		s.gen++
	}
	p := s.cancelPendingLocked()
	released := s.releaseLocked()
	s.state = StateClosed
	s.mu.Unlock()

	if released {
		s.logger.Info("camera closed")
	}
	s.finishPending(p)
}

// cancelPendingLocked cancels the pending scan but leaves it attached, so
// Scanning stays true and CaptureAndScan keeps refusing until finishPending
// has waited it out.
func (s *Session) cancelPendingLocked() *pendingScan {
	p := s.pending
	if p != nil {
		p.cancel()
	}
	return p
}

func (s *Session) finishPending(p *pendingScan) {
	if p == nil {
		return
	}
	p.wait()

	s.mu.Lock()
	if s.pending == p {
		s.pending = nil
	}
	s.mu.Unlock()
}

func (s *Session) releaseLocked() bool {
	if s.stream == nil {
		return false
	}
	stopTracks(s.stream)
	s.surface.Stop()
	s.stream = nil
	return true
}
