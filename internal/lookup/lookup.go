// internal/lookup/lookup.go
package lookup

import (
	"context"
	"errors"

	"nutriscan/internal/models"
)

// ErrNotFound is returned when no record exists for a barcode.
var ErrNotFound = errors.New("product not found")

// Lookup maps a barcode to its nutrition record.
type Lookup interface {
	Lookup(ctx context.Context, barcode string) (models.NutritionRecord, error)
}

// Func adapts a plain function to Lookup.
type Func func(ctx context.Context, barcode string) (models.NutritionRecord, error)

func (f Func) Lookup(ctx context.Context, barcode string) (models.NutritionRecord, error) {
	return f(ctx, barcode)
}
