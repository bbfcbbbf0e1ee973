// internal/models/scan.go
package models

import (
	"errors"
	"fmt"
	"time"
)

// Score is the Nutri-Score letter, A (best) through E (worst).
type Score string

const (
	ScoreA Score = "A"
	ScoreB Score = "B"
	ScoreC Score = "C"
	ScoreD Score = "D"
	ScoreE Score = "E"
)

func (s Score) Valid() bool {
	switch s {
	case ScoreA, ScoreB, ScoreC, ScoreD, ScoreE:
		return true
	}
	return false
}

// Status is the recommendation bucket shown on the analysis banner.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusModerate Status = "moderate"
	StatusAvoid    Status = "avoid"
)

func (s Status) Valid() bool {
	switch s {
	case StatusHealthy, StatusModerate, StatusAvoid:
		return true
	}
	return false
}

// Source records which entry path produced a scan.
type Source string

const (
	SourceCamera Source = "camera"
	SourceManual Source = "manual"
)

type Macros struct {
	Carbs   float64 `json:"carbs" yaml:"carbs"`
	Protein float64 `json:"protein" yaml:"protein"`
	Fat     float64 `json:"fat" yaml:"fat"`
	Fiber   float64 `json:"fiber" yaml:"fiber"`
}

type Recommendation struct {
	Status Status `json:"status" yaml:"status"`
	Reason string `json:"reason" yaml:"reason"`
}

// NutritionRecord is what a lookup produces and the analysis view displays.
type NutritionRecord struct {
	ProductName    string         `json:"product_name" yaml:"product_name"`
	Barcode        string         `json:"barcode" yaml:"barcode"`
	NutritionScore Score          `json:"nutrition_score" yaml:"nutrition_score"`
	Calories       float64        `json:"calories" yaml:"calories"`
	Macros         Macros         `json:"macros" yaml:"macros"`
	Allergens      []string       `json:"allergens" yaml:"allergens"`
	Additives      []string       `json:"additives" yaml:"additives"`
	Recommendation Recommendation `json:"recommendation" yaml:"recommendation"`
	HealthBenefits []string       `json:"health_benefits" yaml:"health_benefits"`
	Concerns       []string       `json:"concerns" yaml:"concerns"`
}

var ErrInvalidRecord = errors.New("invalid nutrition record")

// Validate checks enum membership and that quantities are non-negative.
func (r NutritionRecord) Validate() error {
	if !r.NutritionScore.Valid() {
		return fmt.Errorf("%w: nutrition score %q", ErrInvalidRecord, r.NutritionScore)
	}
	if !r.Recommendation.Status.Valid() {
		return fmt.Errorf("%w: recommendation status %q", ErrInvalidRecord, r.Recommendation.Status)
	}
	if r.Calories < 0 {
		return fmt.Errorf("%w: negative calories", ErrInvalidRecord)
	}
	m := r.Macros
	if m.Carbs < 0 || m.Protein < 0 || m.Fat < 0 || m.Fiber < 0 {
		return fmt.Errorf("%w: negative macro quantity", ErrInvalidRecord)
	}
	return nil
}

// ScanResult is a history entry. It is never modified after creation.
type ScanResult struct {
	ID             string    `json:"id"`
	Barcode        string    `json:"barcode"`
	ProductName    string    `json:"product_name"`
	Timestamp      time.Time `json:"timestamp"`
	NutritionScore Score     `json:"nutrition_score"`
	Allergens      []string  `json:"allergens"`
	Recommendation Status    `json:"recommendation"`
	Source         Source    `json:"source"`
}

// NewScanResult derives a history entry from a looked-up record. The
// allergen slice is copied so later edits to the record cannot leak in.
func NewScanResult(id string, ts time.Time, source Source, record NutritionRecord) ScanResult {
	allergens := make([]string, len(record.Allergens))
	copy(allergens, record.Allergens)
	return ScanResult{
		ID:             id,
		Barcode:        record.Barcode,
		ProductName:    record.ProductName,
		Timestamp:      ts,
		NutritionScore: record.NutritionScore,
		Allergens:      allergens,
		Recommendation: record.Recommendation.Status,
		Source:         source,
	}
}
