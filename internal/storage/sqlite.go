// internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"nutriscan/internal/models"
)

// SQLiteHistory keeps the history in a private in-memory SQLite database.
// The pool is pinned to a single connection because every new connection
// to ":memory:" would see an empty database.
type SQLiteHistory struct {
	db *sql.DB
}

func NewSQLiteHistory() (*SQLiteHistory, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	history := &SQLiteHistory{db: db}
	if err := history.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return history, nil
}

func (s *SQLiteHistory) Close() error {
	return s.db.Close()
}

func (s *SQLiteHistory) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS scans (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT NOT NULL UNIQUE,
        barcode TEXT NOT NULL,
        product_name TEXT NOT NULL,
        timestamp_ns INTEGER NOT NULL,
        nutrition_score TEXT NOT NULL,
        allergens TEXT NOT NULL,
        recommendation TEXT NOT NULL,
        source TEXT NOT NULL
    );
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

func (s *SQLiteHistory) Append(ctx context.Context, result models.ScanResult) error {
	allergens := result.Allergens
	if allergens == nil {
		allergens = []string{}
	}
	allergensJSON, err := json.Marshal(allergens)
	if err != nil {
		return fmt.Errorf("failed to marshal allergens: %w", err)
	}

	query := `
        INSERT INTO scans (id, barcode, product_name, timestamp_ns, nutrition_score, allergens, recommendation, source)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err = s.db.ExecContext(ctx, query,
		result.ID, result.Barcode, result.ProductName, result.Timestamp.UnixNano(),
		string(result.NutritionScore), string(allergensJSON),
		string(result.Recommendation), string(result.Source))
	if err != nil {
		return fmt.Errorf("failed to insert scan: %w", err)
	}

	return nil
}

func (s *SQLiteHistory) List(ctx context.Context) ([]models.ScanResult, error) {
	query := `
        SELECT id, barcode, product_name, timestamp_ns, nutrition_score, allergens, recommendation, source
        FROM scans
        ORDER BY seq DESC
    `

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}
	defer rows.Close()

	results := []models.ScanResult{}
	for rows.Next() {
		var (
			r                      models.ScanResult
			tsNanos                int64
			scoreStr, allergensStr string
			recStr, sourceStr      string
		)

		err := rows.Scan(
			&r.ID, &r.Barcode, &r.ProductName, &tsNanos,
			&scoreStr, &allergensStr, &recStr, &sourceStr)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal([]byte(allergensStr), &r.Allergens); err != nil {
			return nil, fmt.Errorf("failed to decode allergens for scan %s: %w", r.ID, err)
		}
		r.Timestamp = time.Unix(0, tsNanos).UTC()
		r.NutritionScore = models.Score(scoreStr)
		r.Recommendation = models.Status(recStr)
		r.Source = models.Source(sourceStr)

		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scans: %w", err)
	}

	return results, nil
}
