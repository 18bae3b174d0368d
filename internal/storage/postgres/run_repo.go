package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bookrag/internal/storage"
)

// RunRepo implements storage.RunStore.
type RunRepo struct {
	client *Client
}

// NewRunRepo creates a new RunRepo.
func NewRunRepo(client *Client) *RunRepo {
	return &RunRepo{client: client}
}

const runColumns = `id, book_id, pdf_hash, status, chunks_processed, chunks_skipped,
	last_processed_chunk_index, error_message, started_at, completed_at`

func scanRun(row rowScanner) (*storage.IngestionRun, error) {
	var (
		run         storage.IngestionRun
		status      string
		completedAt sql.NullTime
	)
	err := row.Scan(&run.ID, &run.BookID, &run.PDFHash, &status, &run.ChunksProcessed, &run.ChunksSkipped,
		&run.LastProcessedChunkIndex, &run.ErrorMessage, &run.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	run.Status = storage.RunStatus(status)
	if completedAt.Valid {
		run.CompletedAt = completedAt.Time
	}
	return &run, nil
}

func (r *RunRepo) getOne(ctx context.Context, query string, args ...any) (*storage.IngestionRun, error) {
	run, err := scanRun(r.client.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return run, nil
}

// FindRunning returns the most recent running run for the book version.
func (r *RunRepo) FindRunning(ctx context.Context, bookID, pdfHash string) (*storage.IngestionRun, error) {
	return r.getOne(ctx,
		"SELECT "+runColumns+` FROM ingestion_runs
		 WHERE book_id = $1 AND pdf_hash = $2 AND status = 'running'
		 ORDER BY started_at DESC LIMIT 1`,
		bookID, pdfHash,
	)
}

// GetByID gets a run by id.
func (r *RunRepo) GetByID(ctx context.Context, id string) (*storage.IngestionRun, error) {
	return r.getOne(ctx, "SELECT "+runColumns+" FROM ingestion_runs WHERE id = $1", id)
}

// Create inserts a new running run.
func (r *RunRepo) Create(ctx context.Context, run *storage.IngestionRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.Status = storage.RunRunning

	_, err := r.client.DB.ExecContext(ctx,
		`INSERT INTO ingestion_runs (id, book_id, pdf_hash, status, chunks_processed, chunks_skipped,
			last_processed_chunk_index, error_message, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.BookID, run.PDFHash, string(run.Status), run.ChunksProcessed, run.ChunksSkipped,
		run.LastProcessedChunkIndex, run.ErrorMessage, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// UpdateProgress persists the resume checkpoint.
func (r *RunRepo) UpdateProgress(ctx context.Context, runID string, processed, skipped, lastIndex int) error {
	return r.updateRunning(ctx, runID,
		`UPDATE ingestion_runs SET chunks_processed = $1, chunks_skipped = $2, last_processed_chunk_index = $3
		 WHERE id = $4 AND status = 'running'`,
		processed, skipped, lastIndex, runID,
	)
}

// Complete marks a running run completed.
func (r *RunRepo) Complete(ctx context.Context, runID string) error {
	return r.updateRunning(ctx, runID,
		"UPDATE ingestion_runs SET status = 'completed', completed_at = $1 WHERE id = $2 AND status = 'running'",
		time.Now().UTC(), runID,
	)
}

// Fail marks a running run failed.
func (r *RunRepo) Fail(ctx context.Context, runID, message string) error {
	return r.updateRunning(ctx, runID,
		"UPDATE ingestion_runs SET status = 'failed', error_message = $1, completed_at = $2 WHERE id = $3 AND status = 'running'",
		message, time.Now().UTC(), runID,
	)
}

func (r *RunRepo) updateRunning(ctx context.Context, runID, query string, args ...any) error {
	result, err := r.client.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("running run %s: %w", runID, storage.ErrNotFound)
	}
	return nil
}
