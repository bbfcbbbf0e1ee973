// cmd/nutriscan/wiring.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"nutriscan/internal/capture"
	"nutriscan/internal/capture/browsercam"
	"nutriscan/internal/config"
	"nutriscan/internal/lookup"
	"nutriscan/internal/notify"
	"nutriscan/internal/scan"
)

// buildLookup layers the configured catalog over the placeholder lookup.
func buildLookup(cfg *config.Config) (lookup.Lookup, error) {
	fallback := lookup.Placeholder{}
	switch {
	case cfg.Lookup.CatalogPath != "":
		c, err := lookup.LoadCatalog(cfg.Lookup.CatalogPath, fallback)
		if err != nil {
			return nil, err
		}
		return c, nil
	case cfg.Lookup.Demo:
		return lookup.DemoCatalog(fallback), nil
	}
	return fallback, nil
}

type camera struct {
	device  capture.Device
	surface capture.Surface
	closers []io.Closer
}

func buildCamera(cfg *config.Config, logger *zap.Logger) (camera, error) {
	switch cfg.Scanner.Camera {
	case config.CameraSynthetic:
		return camera{device: capture.NewSyntheticDevice(), surface: capture.NewSyntheticSurface()}, nil
	case config.CameraDenied:
		return camera{device: capture.DeniedDevice{}, surface: capture.NewSyntheticSurface()}, nil
	case config.CameraBrowser:
		cam := browsercam.New(browsercam.Options{
			Bin:      cfg.Scanner.BrowserBin,
			Headless: cfg.Scanner.Headless,
			Logger:   logger,
		})
		return camera{device: cam, surface: cam, closers: []io.Closer{cam}}, nil
	}
	return camera{}, fmt.Errorf("unknown camera %q", cfg.Scanner.Camera)
}

func constraints(cfg *config.Config) capture.Constraints {
	return capture.Constraints{
		FacingMode:  cfg.Scanner.FacingMode,
		IdealWidth:  cfg.Scanner.IdealWidth,
		IdealHeight: cfg.Scanner.IdealHeight,
	}
}

// cameraScan opens the camera, captures one frame and blocks until the
// decoded code has gone through the pipeline or ctx ends.
func cameraScan(ctx context.Context, cfg *config.Config, pipeline *scan.Pipeline, notifier notify.Notifier, code string) error {
	cam, err := buildCamera(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range cam.closers {
			_ = c.Close()
		}
	}()

	delay, err := cfg.ScanDelay()
	if err != nil {
		return err
	}
	opts := []capture.Option{
		capture.WithConstraints(constraints(cfg)),
		capture.WithScanDelay(delay),
		capture.WithLogger(logger),
	}
	if code != "" {
		opts = append(opts, capture.WithCodeSource(func() string { return code }))
	}

	session := capture.NewSession(cam.device, cam.surface, notifier, opts...)
	defer session.Close()

	if err := session.Open(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	onScan := pipeline.CameraCallback()
	started := session.CaptureAndScan(func(ctx context.Context, code string) {
		defer close(done)
		onScan(ctx, code)
	})
	if !started {
		return errors.New("camera did not produce a frame")
	}
	logger.Info("scanning", zap.Duration("delay", delay))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
