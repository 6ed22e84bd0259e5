package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/dashcrawl/api/schemas"
)

//go:embed schema.sql
var schemaSQL string

// Artifact kinds as stored in the artifacts table.
const (
	KindGraphic = "graphic"
	KindTable   = "table"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists extraction results in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.ResultStore = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the result tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const sqlInsertDashboard = `
        INSERT INTO dashboards (run_id, position, reference, title, error, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (run_id, position) DO UPDATE SET
            reference = EXCLUDED.reference,
            title = EXCLUDED.title,
            error = EXCLUDED.error,
            completed_at = EXCLUDED.completed_at;
    `

var artifactColumns = []string{"run_id", "dashboard", "kind", "position", "label", "label_error", "media_type", "data"}

// SaveResults writes one run in a single transaction: a row per dashboard
// and a row per decoded artifact.
func (s *Store) SaveResults(ctx context.Context, runID string, results []schemas.ExtractionResult) (err error) {
	if len(results) == 0 {
		return nil
	}

	rows, err := artifactRows(runID, results)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	for i, r := range results {
		var completedAt any
		if !r.CompletedAt.IsZero() {
			completedAt = r.CompletedAt.UTC()
		}
		if _, err = tx.Exec(ctx, sqlInsertDashboard, runID, i, r.Reference, r.Title, r.Error, completedAt); err != nil {
			return fmt.Errorf("failed to insert dashboard %s: %w", r.Reference, err)
		}
	}

	if len(rows) > 0 {
		var copied int64
		copied, err = tx.CopyFrom(ctx, pgx.Identifier{"artifacts"}, artifactColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy artifacts: %w", err)
		}
		if int(copied) != len(rows) {
			err = fmt.Errorf("mismatch in copied artifacts count: expected %d, got %d", len(rows), copied)
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Saved extraction results.",
		zap.String("run_id", runID),
		zap.Int("dashboards", len(results)),
		zap.Int("artifacts", len(rows)))
	return nil
}

func artifactRows(runID string, results []schemas.ExtractionResult) ([][]any, error) {
	var rows [][]any
	for i, r := range results {
		for j, g := range r.Graphics {
			mediaType, data, err := g.Decode()
			if err != nil {
				return nil, fmt.Errorf("dashboard %s graphic %d: %w", r.Reference, j, err)
			}
			rows = append(rows, []any{runID, i, KindGraphic, j, "", "", mediaType, data})
		}
		for j, t := range r.Tables {
			mediaType, data, err := t.Decode()
			if err != nil {
				return nil, fmt.Errorf("dashboard %s table %d: %w", r.Reference, j, err)
			}
			rows = append(rows, []any{runID, i, KindTable, j, t.Label, t.LabelError, mediaType, data})
		}
	}
	return rows, nil
}
