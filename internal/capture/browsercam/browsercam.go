// internal/capture/browsercam/browsercam.go

// Package browsercam implements the capture device and surface with a
// headless Chromium driven over the DevTools protocol. Chromium is started
// with its fake media device, so getUserMedia yields a synthetic video feed
// without a physical camera.
package browsercam

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"nutriscan/internal/capture"
)

const videoElementID = "nutriscan-video"

type Options struct {
	Bin      string
	Headless bool
	// DenyPermission launches without auto-accepting the camera prompt,
	// which headless Chromium answers with NotAllowedError.
	DenyPermission bool
	Logger         *zap.Logger
}

// Camera is both the capture.Device and the capture.Surface: the stream and
// the <video> element live in the same page.
type Camera struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page
	size    image.Point
}

func New(opts Options) *Camera {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Camera{opts: opts, logger: logger.Named("browsercam")}
}

func (c *Camera) ensurePage() (*rod.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page != nil {
		return c.page, nil
	}

	launch := launcher.New().Headless(c.opts.Headless).
		Set(flags.Flag("use-fake-device-for-media-stream"))
	if !c.opts.DenyPermission {
		launch = launch.Set(flags.Flag("use-fake-ui-for-media-stream"))
	}
	if c.opts.Bin != "" {
		launch = launch.Bin(c.opts.Bin)
	}
	controlURL, err := launch.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		launch.Kill()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	c.browser = browser
	c.page = page
	c.logger.Debug("browser camera ready", zap.String("control_url", controlURL))
	return page, nil
}

type trackInfo struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Label string `json:"label"`
}

func (c *Camera) Open(ctx context.Context, cons capture.Constraints) (capture.Stream, error) {
	page, err := c.ensurePage()
	if err != nil {
		return nil, err
	}

	script := fmt.Sprintf(`async () => {
		const stream = await navigator.mediaDevices.getUserMedia({
			video: {
				facingMode: %q,
				width: { ideal: %d },
				height: { ideal: %d }
			}
		});
		window.__nutriscanStream = stream;
		return stream.getTracks().map(t => ({ id: t.id, kind: t.kind, label: t.label }));
	}`, cons.FacingMode, cons.IdealWidth, cons.IdealHeight)

	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           script,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", capture.ErrDeviceAccessDenied, err)
	}

	var infos []trackInfo
	if err := decodeValue(res, &infos); err != nil {
		return nil, fmt.Errorf("decode tracks: %w", err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: no video track", capture.ErrDeviceAccessDenied)
	}

	stream := &browserStream{}
	for _, info := range infos {
		stream.tracks = append(stream.tracks, &browserTrack{cam: c, info: info})
	}
	return stream, nil
}

func (c *Camera) Play(ctx context.Context, s capture.Stream) error {
	c.mu.Lock()
	page := c.page
	c.mu.Unlock()
	if page == nil {
		return errors.New("browser camera not opened")
	}

	script := fmt.Sprintf(`async () => {
		let v = document.getElementById(%q);
		if (!v) {
			v = document.createElement('video');
			v.id = %q;
			v.muted = true;
			v.playsInline = true;
			document.body.appendChild(v);
		}
		v.srcObject = window.__nutriscanStream;
		if (!v.videoWidth) {
			await new Promise(resolve => { v.onloadedmetadata = resolve; });
		}
		await v.play();
		return { width: v.videoWidth, height: v.videoHeight };
	}`, videoElementID, videoElementID)

	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           script,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return fmt.Errorf("play video: %w", err)
	}

	var dims struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	if err := decodeValue(res, &dims); err != nil {
		return fmt.Errorf("decode video size: %w", err)
	}

	c.mu.Lock()
	c.size = image.Pt(dims.Width, dims.Height)
	c.mu.Unlock()
	return nil
}

func (c *Camera) VideoSize() image.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Draw copies the current video frame through an offscreen canvas.
func (c *Camera) Draw(dst draw.Image) error {
	c.mu.Lock()
	page := c.page
	c.mu.Unlock()
	if page == nil {
		return errors.New("browser camera not opened")
	}

	res, err := page.Evaluate(&rod.EvalOptions{
		JS: fmt.Sprintf(`() => {
			const v = document.getElementById(%q);
			if (!v || !v.videoWidth) return "";
			const canvas = document.createElement('canvas');
			canvas.width = v.videoWidth;
			canvas.height = v.videoHeight;
			canvas.getContext('2d').drawImage(v, 0, 0);
			return canvas.toDataURL('image/png');
		}`, videoElementID),
		ByValue: true,
	})
	img, err := frameFromResult(res, err)
	if err != nil {
		return err
	}
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
	return nil
}

func frameFromResult(res *proto.RuntimeRemoteObject, err error) (image.Image, error) {
	if err != nil {
		return nil, fmt.Errorf("capture frame: %w", err)
	}
	if res == nil {
		return nil, errors.New("capture frame: empty evaluation result")
	}
	return decodeDataURL(res.Value.String())
}

// Stop detaches the stream from the video element.
func (c *Camera) Stop() {
	c.mu.Lock()
	page := c.page
	c.size = image.Point{}
	c.mu.Unlock()
	if page == nil {
		return
	}
	_, err := page.Evaluate(&rod.EvalOptions{
		JS: fmt.Sprintf(`() => {
			const v = document.getElementById(%q);
			if (v) { v.pause(); v.srcObject = null; }
		}`, videoElementID),
	})
	if err != nil {
		c.logger.Debug("detach video failed", zap.Error(err))
	}
}

// Close shuts the browser down.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.browser != nil {
		err = c.browser.Close()
	}
	c.browser = nil
	c.page = nil
	c.size = image.Point{}
	return err
}

type browserStream struct {
	tracks []capture.Track
}

func (s *browserStream) Tracks() []capture.Track { return s.tracks }

type browserTrack struct {
	cam  *Camera
	info trackInfo
}

func (t *browserTrack) Kind() string { return t.info.Kind }

func (t *browserTrack) Stop() {
	t.cam.mu.Lock()
	page := t.cam.page
	t.cam.mu.Unlock()
	if page == nil {
		return
	}
	_, err := page.Evaluate(&rod.EvalOptions{
		JS: fmt.Sprintf(`() => {
			const s = window.__nutriscanStream;
			if (!s) return;
			s.getTracks().filter(t => t.id === %q).forEach(t => t.stop());
		}`, t.info.ID),
	})
	if err != nil {
		t.cam.logger.Debug("stop track failed", zap.String("track", t.info.ID), zap.Error(err))
	}
}

func decodeValue(res *proto.RuntimeRemoteObject, target interface{}) error {
	if res == nil {
		return errors.New("empty evaluation result")
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}

func decodeDataURL(url string) (image.Image, error) {
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(url, prefix) {
		return nil, errors.New("no frame available")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, prefix))
	if err != nil {
		return nil, fmt.Errorf("decode frame data: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame png: %w", err)
	}
	return img, nil
}
