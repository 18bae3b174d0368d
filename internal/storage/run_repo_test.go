package storage

import (
	"context"
	"errors"
	"testing"
)

func createTestBook(t *testing.T, repo *BookRepo, slug, hash string) *Book {
	t.Helper()
	b, err := repo.GetOrCreate(context.Background(), &Book{Slug: slug, Title: slug, PDFHash: hash})
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	return b
}

func TestRunRepo_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	book := createTestBook(t, NewBookRepo(db), "dune", "h1")
	repo := NewRunRepo(db)
	ctx := context.Background()

	run := &IngestionRun{BookID: book.ID, PDFHash: "h1", LastProcessedChunkIndex: -1}
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if run.ID == "" || run.StartedAt.IsZero() || run.Status != RunRunning {
		t.Errorf("Create() did not initialise run: %+v", run)
	}

	found, err := repo.FindRunning(ctx, book.ID, "h1")
	if err != nil {
		t.Fatalf("FindRunning() error = %v", err)
	}
	if found.ID != run.ID || found.LastProcessedChunkIndex != -1 {
		t.Errorf("FindRunning() = %+v", found)
	}

	if err := repo.UpdateProgress(ctx, run.ID, 100, 3, 99); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}
	found, err = repo.FindRunning(ctx, book.ID, "h1")
	if err != nil {
		t.Fatalf("FindRunning() error = %v", err)
	}
	if found.ChunksProcessed != 100 || found.ChunksSkipped != 3 || found.LastProcessedChunkIndex != 99 {
		t.Errorf("checkpoint not persisted: %+v", found)
	}

	if err := repo.Complete(ctx, run.ID); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if _, err := repo.FindRunning(ctx, book.ID, "h1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindRunning() after completion error = %v, want ErrNotFound", err)
	}

	done, err := repo.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if done.Status != RunCompleted || done.CompletedAt.IsZero() {
		t.Errorf("completed run = %+v", done)
	}

	// A terminal run never changes state again
	if err := repo.Fail(ctx, run.ID, "late failure"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Fail() on completed run error = %v, want ErrNotFound", err)
	}
}

func TestRunRepo_Fail(t *testing.T) {
	db := newTestDB(t)
	book := createTestBook(t, NewBookRepo(db), "dune", "h1")
	repo := NewRunRepo(db)
	ctx := context.Background()

	run := &IngestionRun{BookID: book.ID, PDFHash: "h1", LastProcessedChunkIndex: -1}
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Fail(ctx, run.ID, "disk full"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	got, err := repo.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != RunFailed || got.ErrorMessage != "disk full" {
		t.Errorf("failed run = %+v", got)
	}
	if err := repo.UpdateProgress(ctx, run.ID, 1, 0, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateProgress() on failed run error = %v, want ErrNotFound", err)
	}
}
