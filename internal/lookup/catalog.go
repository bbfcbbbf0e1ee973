// internal/lookup/catalog.go
package lookup

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"nutriscan/internal/models"
)

// Catalog serves records from a fixed set keyed by barcode. Misses go to
// the fallback when one is configured, otherwise ErrNotFound.
type Catalog struct {
	records  map[string]models.NutritionRecord
	fallback Lookup
}

type catalogFile struct {
	Products []models.NutritionRecord `yaml:"products"`
}

func NewCatalog(records []models.NutritionRecord, fallback Lookup) (*Catalog, error) {
	c := &Catalog{
		records:  make(map[string]models.NutritionRecord, len(records)),
		fallback: fallback,
	}
	for _, r := range records {
		if r.Barcode == "" {
			return nil, fmt.Errorf("catalog entry %q has no barcode", r.ProductName)
		}
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("catalog entry %s: %w", r.Barcode, err)
		}
		if _, dup := c.records[r.Barcode]; dup {
			return nil, fmt.Errorf("duplicate catalog barcode %s", r.Barcode)
		}
		c.records[r.Barcode] = normalize(r)
	}
	return c, nil
}

// LoadCatalog reads a YAML file of the form `products: [...]`.
func LoadCatalog(path string, fallback Lookup) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	return NewCatalog(file.Products, fallback)
}

func (c *Catalog) Lookup(ctx context.Context, barcode string) (models.NutritionRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.NutritionRecord{}, err
	}
	if r, ok := c.records[barcode]; ok {
		return clone(r), nil
	}
	if c.fallback != nil {
		return c.fallback.Lookup(ctx, barcode)
	}
	return models.NutritionRecord{}, fmt.Errorf("%w: %s", ErrNotFound, barcode)
}

func (c *Catalog) Len() int { return len(c.records) }

// DemoCatalog holds the two products used by the demo data set.
func DemoCatalog(fallback Lookup) *Catalog {
	c, err := NewCatalog([]models.NutritionRecord{
		{
			ProductName:    "Organic Whole Grain Cereal",
			Barcode:        "1234567890123",
			NutritionScore: models.ScoreA,
			Calories:       350,
			Macros:         models.Macros{Carbs: 65, Protein: 12, Fat: 6, Fiber: 8},
			Allergens:      []string{"Gluten", "May contain nuts"},
			Additives:      []string{"Natural flavoring", "Vitamin D"},
			Recommendation: models.Recommendation{
				Status: models.StatusHealthy,
				Reason: "High in fiber and protein, low in saturated fat. Great choice for breakfast!",
			},
			HealthBenefits: []string{
				"Rich in whole grains for digestive health",
				"High protein content supports muscle maintenance",
				"Fortified with essential vitamins and minerals",
			},
		},
		{
			ProductName:    "Sugar-Free Energy Drink",
			Barcode:        "9876543210987",
			NutritionScore: models.ScoreC,
			Calories:       10,
			Additives:      []string{"Caffeine", "Sucralose", "Taurine"},
			Recommendation: models.Recommendation{
				Status: models.StatusModerate,
				Reason: "Low in calories but high in caffeine and artificial sweeteners.",
			},
			Concerns: []string{"High caffeine content"},
		},
	}, fallback)
	if err != nil {
		panic(err)
	}
	return c
}

func normalize(r models.NutritionRecord) models.NutritionRecord {
	for _, s := range []*[]string{&r.Allergens, &r.Additives, &r.HealthBenefits, &r.Concerns} {
		if *s == nil {
			*s = []string{}
		}
	}
	return r
}

func clone(r models.NutritionRecord) models.NutritionRecord {
	r.Allergens = append([]string{}, r.Allergens...)
	r.Additives = append([]string{}, r.Additives...)
	r.HealthBenefits = append([]string{}, r.HealthBenefits...)
	r.Concerns = append([]string{}, r.Concerns...)
	return r
}
