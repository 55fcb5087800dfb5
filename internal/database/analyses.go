package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kamilpajak/diffscope/pkg/models"
)

// Analysis is an archived analysis.
type Analysis struct {
	ID            uuid.UUID             `json:"id"`
	Status        models.Status         `json:"status"`
	Target        string                `json:"target"`
	ModelUsed     string                `json:"modelUsed"`
	FallbackModel string                `json:"fallbackModel"`
	Summary       string                `json:"summary"`
	Items         []models.FeedbackItem `json:"items"`
	Error         string                `json:"error,omitempty"`
	CreatedAt     time.Time             `json:"createdAt"`
	CompletedAt   *time.Time            `json:"completedAt,omitempty"`
}

// analysisColumns is the standard column list for analysis queries.
const analysisColumns = `id, status, target, model_used, fallback_model, summary, items, error, created_at, completed_at`

// scanAnalysis scans a row into an Analysis, returning nil for no rows.
func scanAnalysis(row pgx.Row) (*Analysis, error) {
	var a Analysis
	var itemsJSON []byte
	err := row.Scan(
		&a.ID, &a.Status, &a.Target, &a.ModelUsed, &a.FallbackModel,
		&a.Summary, &itemsJSON, &a.Error, &a.CreatedAt, &a.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalItems(itemsJSON, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func unmarshalItems(data []byte, a *Analysis) error {
	a.Items = []models.FeedbackItem{}
	if data == nil {
		return nil
	}
	return json.Unmarshal(data, &a.Items)
}

// ArchiveAnalysis inserts rec, or replaces the archived copy with the same id.
func (db *DB) ArchiveAnalysis(ctx context.Context, rec models.AnalysisRecord) error {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return fmt.Errorf("invalid analysis id %q: %w", rec.ID, err)
	}

	var summary string
	var itemsJSON []byte
	if rec.Result != nil {
		summary = rec.Result.Summary
		if itemsJSON, err = json.Marshal(rec.Result.Items); err != nil {
			return err
		}
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO analyses (id, status, target, model_used, fallback_model, summary, items, error, created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   model_used = EXCLUDED.model_used,
		   fallback_model = EXCLUDED.fallback_model,
		   summary = EXCLUDED.summary,
		   items = EXCLUDED.items,
		   error = EXCLUDED.error,
		   completed_at = EXCLUDED.completed_at`,
		id, string(rec.Status), rec.Target, rec.ModelUsed, rec.FallbackModel,
		summary, itemsJSON, rec.Error, createdAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to archive analysis: %w", err)
	}
	return nil
}

// GetAnalysis retrieves an archived analysis, or nil if there is none.
func (db *DB) GetAnalysis(ctx context.Context, id uuid.UUID) (*Analysis, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE id = $1`,
		id,
	)
	return scanAnalysis(row)
}

// ListRecentAnalyses returns archived analyses, newest first.
func (db *DB) ListRecentAnalyses(ctx context.Context, limit int) ([]Analysis, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+analysisColumns+` FROM analyses
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	analyses := []Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, *a)
	}
	return analyses, rows.Err()
}

// DeleteOldAnalyses deletes analyses created before olderThan.
func (db *DB) DeleteOldAnalyses(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := db.pool.Exec(ctx,
		`DELETE FROM analyses WHERE created_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
