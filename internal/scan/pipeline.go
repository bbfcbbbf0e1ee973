// internal/scan/pipeline.go
package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nutriscan/internal/capture"
	"nutriscan/internal/lookup"
	"nutriscan/internal/models"
	"nutriscan/internal/notify"
	"nutriscan/internal/storage"
)

// ErrEmptyInput is returned for blank codes. Nothing runs in that case.
var ErrEmptyInput = errors.New("barcode is empty")

// Presenter shows the analysis for a completed scan.
type Presenter interface {
	Show(record models.NutritionRecord)
}

type Option func(*Pipeline)

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithIDs replaces the uuid generator for result ids.
func WithIDs(next func() string) Option {
	return func(p *Pipeline) {
		if next != nil {
			p.newID = next
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l.Named("scan")
		}
	}
}

// Pipeline turns a raw code into a ScanResult: lookup, history append,
// then presentation. A submission either completes every step or changes
// nothing.
type Pipeline struct {
	lookup    lookup.Lookup
	history   storage.HistoryStore
	presenter Presenter
	notifier  notify.Notifier
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string

	mu   sync.Mutex
	last time.Time
}

func NewPipeline(l lookup.Lookup, history storage.HistoryStore, presenter Presenter, notifier notify.Notifier, opts ...Option) *Pipeline {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	p := &Pipeline{
		lookup:    l,
		history:   history,
		presenter: presenter,
		notifier:  notifier,
		logger:    zap.NewNop(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit runs the pipeline for raw, trimmed of surrounding whitespace.
func (p *Pipeline) Submit(ctx context.Context, raw string, source models.Source) (models.ScanResult, error) {
	code := strings.TrimSpace(raw)
	if code == "" {
		return models.ScanResult{}, ErrEmptyInput
	}

	record, err := p.lookup.Lookup(ctx, code)
	if err != nil {
		if errors.Is(err, lookup.ErrNotFound) {
			p.notifier.Notify(ctx, notify.Notification{
				Title:       "Product Not Found",
				Description: fmt.Sprintf("No nutrition data for barcode %s.", code),
				Variant:     notify.VariantDestructive,
			})
		}
		p.logger.Debug("lookup failed", zap.String("barcode", code), zap.Error(err))
		return models.ScanResult{}, fmt.Errorf("lookup %s: %w", code, err)
	}
	// The entry records what was scanned, whatever form the lookup keys on.
	record.Barcode = code
	if err := record.Validate(); err != nil {
		p.logger.Warn("lookup returned an invalid record", zap.String("barcode", code), zap.Error(err))
		return models.ScanResult{}, fmt.Errorf("lookup %s: %w", code, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// The lookup may have outlived the caller; a cancelled submission must
	// not reach the history.
	if err := ctx.Err(); err != nil {
		return models.ScanResult{}, err
	}

	ts := p.now()
	if ts.Before(p.last) {
		ts = p.last
	}
	result := models.NewScanResult(p.newID(), ts, source, record)

	if err := p.history.Append(ctx, result); err != nil {
		return models.ScanResult{}, fmt.Errorf("append history: %w", err)
	}
	p.last = ts

	if p.presenter != nil {
		p.presenter.Show(record)
	}

	p.logger.Info("scan recorded",
		zap.String("id", result.ID),
		zap.String("barcode", result.Barcode),
		zap.String("source", string(source)),
		zap.String("score", string(result.NutritionScore)))
	return result, nil
}

// SubmitManual is the typed-entry path. It runs immediately.
func (p *Pipeline) SubmitManual(ctx context.Context, raw string) (models.ScanResult, error) {
	return p.Submit(ctx, raw, models.SourceManual)
}

// CameraCallback is the capture path. Failures are logged because a
// completed camera scan has no caller left to return them to.
func (p *Pipeline) CameraCallback() capture.ScanFunc {
	return func(ctx context.Context, code string) {
		if _, err := p.Submit(ctx, code, models.SourceCamera); err != nil {
			p.logger.Warn("camera scan dropped", zap.String("barcode", code), zap.Error(err))
		}
	}
}

// History returns the current newest-first history.
func (p *Pipeline) History(ctx context.Context) ([]models.ScanResult, error) {
	return p.history.List(ctx)
}
