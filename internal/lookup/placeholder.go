// internal/lookup/placeholder.go
package lookup

import (
	"context"

	"nutriscan/internal/models"
)

// Placeholder classifies every barcode the same way. It stands in until a
// real product database is wired up.
type Placeholder struct{}

func (Placeholder) Lookup(ctx context.Context, barcode string) (models.NutritionRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.NutritionRecord{}, err
	}
	return models.NutritionRecord{
		ProductName:    placeholderName(barcode),
		Barcode:        barcode,
		NutritionScore: models.ScoreB,
		Calories:       350,
		Macros: models.Macros{
			Carbs:   65,
			Protein: 12,
			Fat:     6,
			Fiber:   8,
		},
		Allergens: []string{},
		Additives: []string{"Natural flavoring", "Vitamin D"},
		Recommendation: models.Recommendation{
			Status: models.StatusModerate,
			Reason: "No detailed nutrition data is available for this product yet.",
		},
		HealthBenefits: []string{},
		Concerns:       []string{},
	}, nil
}

// placeholderName uses the last four characters of the code, or the whole
// code when it is shorter.
func placeholderName(barcode string) string {
	r := []rune(barcode)
	if len(r) > 4 {
		r = r[len(r)-4:]
	}
	return "Scanned Product #" + string(r)
}
