package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_run_store.go -package=mocks bookrag/internal/storage RunStore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStore defines the interface for ingestion run storage operations.
type RunStore interface {
	// FindRunning returns the most recent running run for (bookID, pdfHash).
	// Returns nil and ErrNotFound if there is none.
	FindRunning(ctx context.Context, bookID, pdfHash string) (*IngestionRun, error)
	// GetByID gets a run by id. Returns nil and ErrNotFound if not found.
	GetByID(ctx context.Context, id string) (*IngestionRun, error)
	// Create inserts run in the running state. ID and StartedAt are set if empty.
	Create(ctx context.Context, run *IngestionRun) error
	// UpdateProgress persists the resume checkpoint of a running run.
	UpdateProgress(ctx context.Context, runID string, processed, skipped, lastIndex int) error
	// Complete moves a running run to completed.
	Complete(ctx context.Context, runID string) error
	// Fail moves a running run to failed with message.
	Fail(ctx context.Context, runID, message string) error
}

// RunRepo provides methods for ingestion run operations.
// It implements the RunStore interface.
type RunRepo struct {
	db *sql.DB
}

// NewRunRepo creates a new RunRepo.
func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{db: db}
}

const runColumns = `id, book_id, pdf_hash, status, chunks_processed, chunks_skipped,
	last_processed_chunk_index, error_message, started_at, completed_at`

func scanRun(row rowScanner) (*IngestionRun, error) {
	var (
		run         IngestionRun
		status      string
		completedAt sql.NullTime
	)
	err := row.Scan(&run.ID, &run.BookID, &run.PDFHash, &status, &run.ChunksProcessed, &run.ChunksSkipped,
		&run.LastProcessedChunkIndex, &run.ErrorMessage, &run.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	if completedAt.Valid {
		run.CompletedAt = completedAt.Time
	}
	return &run, nil
}

// FindRunning returns the resume checkpoint for a book version.
func (r *RunRepo) FindRunning(ctx context.Context, bookID, pdfHash string) (*IngestionRun, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx,
		"SELECT "+runColumns+` FROM ingestion_runs
		 WHERE book_id = ? AND pdf_hash = ? AND status = 'running'
		 ORDER BY started_at DESC LIMIT 1`,
		bookID, pdfHash,
	))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query running run: %w", err)
	}
	return run, nil
}

// GetByID gets a run by id.
func (r *RunRepo) GetByID(ctx context.Context, id string) (*IngestionRun, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM ingestion_runs WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return run, nil
}

// Create inserts a new running run.
func (r *RunRepo) Create(ctx context.Context, run *IngestionRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.Status = RunRunning

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ingestion_runs (id, book_id, pdf_hash, status, chunks_processed, chunks_skipped,
			last_processed_chunk_index, error_message, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.BookID, run.PDFHash, string(run.Status), run.ChunksProcessed, run.ChunksSkipped,
		run.LastProcessedChunkIndex, run.ErrorMessage, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// UpdateProgress persists counters and the last committed chunk index.
func (r *RunRepo) UpdateProgress(ctx context.Context, runID string, processed, skipped, lastIndex int) error {
	return r.updateRunning(ctx, runID,
		"UPDATE ingestion_runs SET chunks_processed = ?, chunks_skipped = ?, last_processed_chunk_index = ? WHERE id = ? AND status = 'running'",
		processed, skipped, lastIndex, runID,
	)
}

// Complete marks a running run completed.
func (r *RunRepo) Complete(ctx context.Context, runID string) error {
	return r.updateRunning(ctx, runID,
		"UPDATE ingestion_runs SET status = 'completed', completed_at = ? WHERE id = ? AND status = 'running'",
		time.Now().UTC(), runID,
	)
}

// Fail marks a running run failed, preserving message for diagnosis.
func (r *RunRepo) Fail(ctx context.Context, runID, message string) error {
	return r.updateRunning(ctx, runID,
		"UPDATE ingestion_runs SET status = 'failed', error_message = ?, completed_at = ? WHERE id = ? AND status = 'running'",
		message, time.Now().UTC(), runID,
	)
}

// updateRunning executes a state change that only applies to running runs.
func (r *RunRepo) updateRunning(ctx context.Context, runID, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("running run %s: %w", runID, ErrNotFound)
	}
	return nil
}
