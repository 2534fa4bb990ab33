package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/pgtype"

	"browser-task-scheduler/internal/models"
)

// Store wraps pgxpool for Postgres persistence of task outcomes and liveness
// results.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// RecordOutcome inserts one terminal result and returns its row id.
func (s *Store) RecordOutcome(ctx context.Context, rec models.OutcomeRecord) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO task_outcomes (run_id, task_id, identity_key, action, outcome, message, raw_proxy, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, rec.RunID, rec.TaskID, rec.IdentityKey, rec.ActionName, rec.Outcome, rec.Message, rec.RawProxy, rec.Recorded).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert outcome: %w", err)
	}
	return id, nil
}

// RecentOutcomes returns the newest results first. An empty runID spans all
// runs.
func (s *Store) RecentOutcomes(ctx context.Context, runID string, limit int) ([]models.OutcomeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, task_id, identity_key, action, outcome, message, raw_proxy, recorded_at
		FROM task_outcomes
		WHERE $1 = '' OR run_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []models.OutcomeRecord
	for rows.Next() {
		var rec models.OutcomeRecord
		var raw pgtype.Text
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.TaskID, &rec.IdentityKey, &rec.ActionName, &rec.Outcome, &rec.Message, &raw, &rec.Recorded); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		rec.RawProxy = textPtr(raw)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return out, nil
}

// OutcomeCounts tallies a run's results by outcome.
func (s *Store) OutcomeCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT outcome, COUNT(*) FROM task_outcomes WHERE run_id = $1 GROUP BY outcome
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	counts := map[string]int{}
	var outcome string
	var n int
	_, err = pgx.ForEachRow(rows, []any{&outcome, &n}, func() error {
		counts[outcome] = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	return counts, nil
}

// RecordLiveness upserts the latest probe result for an identity. A nil
// alive records a probe error.
func (s *Store) RecordLiveness(ctx context.Context, p models.LivenessProbe, alive *bool, probeErr string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO liveness_results (record_id, identity_key, alive, error, checked_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NOW())
		ON CONFLICT (identity_key) DO UPDATE
		SET record_id = EXCLUDED.record_id, alive = EXCLUDED.alive, error = EXCLUDED.error, checked_at = EXCLUDED.checked_at
	`, p.RecordID, p.IdentityKey, alive, probeErr)
	if err != nil {
		return fmt.Errorf("upsert liveness: %w", err)
	}
	return nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
