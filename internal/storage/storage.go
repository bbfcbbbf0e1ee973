// internal/storage/storage.go
package storage

import (
	"context"
	"fmt"

	"nutriscan/internal/models"
)

// HistoryStore holds the scan history for the lifetime of the process.
// List returns entries newest first. There is no delete, update or
// query-by-barcode.
type HistoryStore interface {
	Append(ctx context.Context, result models.ScanResult) error
	List(ctx context.Context) ([]models.ScanResult, error)
	Close() error
}

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// New opens a history store for the named backend.
func New(backend string) (HistoryStore, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemoryHistory(), nil
	case BackendSQLite:
		return NewSQLiteHistory()
	default:
		return nil, fmt.Errorf("unknown history backend %q", backend)
	}
}
