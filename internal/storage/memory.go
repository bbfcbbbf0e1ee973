// internal/storage/memory.go
package storage

import (
	"context"
	"sync"

	"nutriscan/internal/models"
)

// MemoryHistory keeps results in a slice with the newest at index 0.
type MemoryHistory struct {
	mu      sync.RWMutex
	results []models.ScanResult
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

func (h *MemoryHistory) Append(ctx context.Context, result models.ScanResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = append(h.results, models.ScanResult{})
	copy(h.results[1:], h.results)
	h.results[0] = result
	return nil
}

func (h *MemoryHistory) List(ctx context.Context) ([]models.ScanResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]models.ScanResult, len(h.results))
	copy(out, h.results)
	return out, nil
}

func (h *MemoryHistory) Close() error { return nil }
