package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nutriscan/internal/capture"
	"nutriscan/internal/config"
	"nutriscan/internal/lookup"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("NUTRISCAN_LOG_LEVEL", "error")

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "nutriscan version")
}

func TestLookupDemoProduct(t *testing.T) {
	out, _, err := execute(t, "lookup", "1234567890123")
	require.NoError(t, err)
	assert.Contains(t, out, "Organic Whole Grain Cereal")
	assert.Contains(t, out, "Gluten")
}

func TestLookupRequiresBarcode(t *testing.T) {
	_, _, err := execute(t, "lookup")
	assert.Error(t, err)
}

func TestScanManualBarcodes(t *testing.T) {
	out, errOut, err := execute(t, "scan", "1234567890123", "  ", "9876543210987")
	require.NoError(t, err)
	assert.Contains(t, out, "Recent Scans")
	assert.Contains(t, out, "Organic Whole Grain Cereal")
	assert.Contains(t, out, "Sugar-Free Energy Drink")
	assert.Contains(t, errOut, "skipping")
}

func TestScanWithCamera(t *testing.T) {
	t.Setenv("NUTRISCAN_SCAN_DELAY", "10ms")

	out, _, err := execute(t, "scan", "--code", "9876543210987")
	require.NoError(t, err)
	assert.Contains(t, out, "Sugar-Free Energy Drink")
	assert.Contains(t, out, "Recent Scans")
}

func TestScanWithDeniedCamera(t *testing.T) {
	t.Setenv("NUTRISCAN_CAMERA", "denied")

	_, errOut, err := execute(t, "scan", "--code", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, capture.ErrDeviceAccessDenied)
	assert.Contains(t, errOut, "Camera Error")
}

func TestBuildLookup(t *testing.T) {
	cfg := config.DefaultConfig()
	l, err := buildLookup(cfg)
	require.NoError(t, err)
	assert.IsType(t, &lookup.Catalog{}, l)

	cfg.Lookup.Demo = false
	l, err = buildLookup(cfg)
	require.NoError(t, err)
	assert.IsType(t, lookup.Placeholder{}, l)

	cfg.Lookup.CatalogPath = "/does/not/exist.yaml"
	_, err = buildLookup(cfg)
	assert.Error(t, err)
}

func TestBuildCamera(t *testing.T) {
	cfg := config.DefaultConfig()
	cam, err := buildCamera(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &capture.SyntheticDevice{}, cam.device)
	assert.Empty(t, cam.closers)

	cfg.Scanner.Camera = config.CameraBrowser
	cam, err = buildCamera(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, cam.closers, 1)

	cfg.Scanner.Camera = "webcam"
	_, err = buildCamera(cfg, zap.NewNop())
	assert.Error(t, err)
}
