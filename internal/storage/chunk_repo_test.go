package storage

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/mock/gomock"

	"bookrag/internal/vectorstore"
	vectorstore_mocks "bookrag/internal/vectorstore/mocks"
)

func testChunk(bookID string, index int, hash, content string) *ChunkRecord {
	return &ChunkRecord{
		BookID:     bookID,
		ChunkIndex: index,
		PageNumber: index + 1,
		Content:    content,
		TokenCount: 10 + index,
		ChunkHash:  hash,
		Embedding:  []float32{0.1, 0.2, 0.3},
	}
}

func TestChunkRepo_InsertBatch_IgnoresConflicts(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	db := newTestDB(t)
	book := createTestBook(t, NewBookRepo(db), "dune", "h1")
	mockVectors := vectorstore_mocks.NewMockVectorStore(ctrl)
	repo := NewChunkRepo(db, mockVectors, "chunks")
	ctx := context.Background()

	mockVectors.EXPECT().
		Upsert(gomock.Any(), "chunks", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, points []vectorstore.Point) error {
			for _, p := range points {
				if p.Meta[vectorstore.BookIDField] != book.ID {
					t.Errorf("point %s missing book_id payload", p.ID)
				}
			}
			return nil
		}).
		Times(2)

	first := []*ChunkRecord{
		testChunk(book.ID, 0, "hash-a", "Arrakis is a desert planet."),
		testChunk(book.ID, 1, "hash-b", "The spice must flow."),
	}
	n, err := repo.InsertBatch(ctx, first)
	if err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}
	if n != 2 {
		t.Errorf("InsertBatch() inserted %d, want 2", n)
	}
	if first[0].ID != StableChunkID(book.ID, "hash-a") {
		t.Errorf("chunk id = %s, want stable id", first[0].ID)
	}

	// Same hash again plus one new chunk: only the new one lands
	second := []*ChunkRecord{
		testChunk(book.ID, 1, "hash-b", "The spice must flow."),
		testChunk(book.ID, 2, "hash-c", "Fear is the mind-killer."),
	}
	n, err = repo.InsertBatch(ctx, second)
	if err != nil {
		t.Fatalf("InsertBatch() second call error = %v", err)
	}
	if n != 1 {
		t.Errorf("InsertBatch() inserted %d, want 1", n)
	}

	count, err := repo.CountByBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("CountByBook() error = %v", err)
	}
	if count != 3 {
		t.Errorf("CountByBook() = %d, want 3", count)
	}

	existing, err := repo.ExistingHashes(ctx, book.ID, []string{"hash-a", "hash-c", "hash-z"})
	if err != nil {
		t.Fatalf("ExistingHashes() error = %v", err)
	}
	if len(existing) != 2 {
		t.Errorf("ExistingHashes() = %v, want hash-a and hash-c", existing)
	}
	if _, ok := existing["hash-z"]; ok {
		t.Error("ExistingHashes() reported an unknown hash")
	}

	counts, err := repo.TokenCountsByBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("TokenCountsByBook() error = %v", err)
	}
	if len(counts) != 3 || counts[0] != 10 || counts[2] != 12 {
		t.Errorf("TokenCountsByBook() = %v", counts)
	}
}

func TestChunkRepo_InsertBatch_VectorFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	db := newTestDB(t)
	book := createTestBook(t, NewBookRepo(db), "dune", "h1")
	mockVectors := vectorstore_mocks.NewMockVectorStore(ctrl)
	repo := NewChunkRepo(db, mockVectors, "chunks")

	boom := errors.New("qdrant unavailable")
	mockVectors.EXPECT().Upsert(gomock.Any(), "chunks", gomock.Any()).Return(boom)

	_, err := repo.InsertBatch(context.Background(), []*ChunkRecord{testChunk(book.ID, 0, "hash-a", "text")})
	if !errors.Is(err, boom) {
		t.Errorf("InsertBatch() error = %v, want %v", err, boom)
	}

	count, err := repo.CountByBook(context.Background(), book.ID)
	if err != nil {
		t.Fatalf("CountByBook() error = %v", err)
	}
	if count != 0 {
		t.Errorf("rows written despite vector failure: %d", count)
	}
}

func TestChunkRepo_SearchSimilar(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	db := newTestDB(t)
	books := NewBookRepo(db)
	active := createTestBook(t, books, "dune", "h1")
	inactive := createTestBook(t, books, "emma", "h2")
	ctx := context.Background()
	if err := books.Activate(ctx, active.ID, 2); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	mockVectors := vectorstore_mocks.NewMockVectorStore(ctrl)
	repo := NewChunkRepo(db, mockVectors, "chunks")

	mockVectors.EXPECT().Upsert(gomock.Any(), "chunks", gomock.Any()).Return(nil).Times(2)
	a := testChunk(active.ID, 0, "hash-a", "Arrakis")
	b := testChunk(active.ID, 1, "hash-b", "Spice")
	c := testChunk(inactive.ID, 0, "hash-c", "Highbury")
	if _, err := repo.InsertBatch(ctx, []*ChunkRecord{a, b}); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}
	if _, err := repo.InsertBatch(ctx, []*ChunkRecord{c}); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	mockVectors.EXPECT().
		Search(gomock.Any(), "chunks", []float32{1, 0, 0}, 5, vectorstore.Filter{BookIDs: []string{active.ID}, MinScore: 0.4}).
		Return([]vectorstore.SearchResult{
			{PointID: b.ID, Score: 0.9},
			{PointID: c.ID, Score: 0.8}, // inactive book, dropped
			{PointID: a.ID, Score: 0.6},
		}, nil)

	results, err := repo.SearchSimilar(ctx, VectorQuery{Vector: []float32{1, 0, 0}, Limit: 5, MinSimilarity: 0.4})
	if err != nil {
		t.Fatalf("SearchSimilar() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("SearchSimilar() returned %d results, want 2", len(results))
	}
	if results[0].ID != b.ID || results[1].ID != a.ID {
		t.Errorf("SearchSimilar() order = [%s %s], want [%s %s]", results[0].ID, results[1].ID, b.ID, a.ID)
	}
	if results[0].BookSlug != "dune" || results[0].BookTitle != "dune" || results[0].PageNumber != 2 {
		t.Errorf("SearchSimilar() result not joined with book: %+v", results[0])
	}
	if results[0].Similarity < 0.89 || results[0].Similarity > 0.91 {
		t.Errorf("similarity = %v, want 0.9", results[0].Similarity)
	}
}

func TestChunkRepo_SearchSimilar_NoActiveBooks(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockVectors := vectorstore_mocks.NewMockVectorStore(ctrl)
	repo := NewChunkRepo(newTestDB(t), mockVectors, "chunks")

	results, err := repo.SearchSimilar(context.Background(), VectorQuery{Vector: []float32{1}, Limit: 5})
	if err != nil {
		t.Fatalf("SearchSimilar() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("SearchSimilar() = %v, want empty", results)
	}
}

func TestChunkRepo_SearchKeyword(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	db := newTestDB(t)
	books := NewBookRepo(db)
	dune := createTestBook(t, books, "dune", "h1")
	emma := createTestBook(t, books, "emma", "h2")
	ctx := context.Background()
	for _, b := range []*Book{dune, emma} {
		if err := books.Activate(ctx, b.ID, 1); err != nil {
			t.Fatalf("Activate() error = %v", err)
		}
	}

	mockVectors := vectorstore_mocks.NewMockVectorStore(ctrl)
	mockVectors.EXPECT().Upsert(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	repo := NewChunkRepo(db, mockVectors, "chunks")

	_, err := repo.InsertBatch(ctx, []*ChunkRecord{
		testChunk(dune.ID, 0, "d0", "The SPICE melange extends life."),
		testChunk(dune.ID, 1, "d1", "Sandworms guard the desert."),
		testChunk(emma.ID, 0, "e0", "Emma enjoyed matchmaking and spice cake."),
		testChunk(emma.ID, 1, "e1", "snake_case should not match a wildcard"),
		testChunk(emma.ID, 2, "e2", "L'ÉCONOMIE DU VILLAGE dépend de Highbury."),
	})
	if err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	tests := []struct {
		name  string
		query KeywordQuery
		want  []string
	}{
		{
			name:  "case insensitive any term",
			query: KeywordQuery{Terms: []string{"spice", "sandworms"}, Limit: 10},
			want:  []string{"d0", "d1", "e0"},
		},
		{
			name:  "restricted to book ids",
			query: KeywordQuery{Terms: []string{"spice"}, Limit: 10, BookIDs: []string{emma.ID}},
			want:  []string{"e0"},
		},
		{
			name:  "limit",
			query: KeywordQuery{Terms: []string{"spice", "sandworms"}, Limit: 1},
			want:  []string{"d0"},
		},
		{
			name:  "non-ASCII case folding",
			query: KeywordQuery{Terms: []string{"économie"}, Limit: 10},
			want:  []string{"e2"},
		},
		{
			name:  "upper-case term",
			query: KeywordQuery{Terms: []string{"ÉCONOMIE"}, Limit: 10},
			want:  []string{"e2"},
		},
		{
			name:  "underscore is literal",
			query: KeywordQuery{Terms: []string{"e_c"}, Limit: 10},
			want:  []string{"e1"},
		},
		{
			name:  "no terms",
			query: KeywordQuery{Limit: 10},
			want:  nil,
		},
	}

	hashByID := map[string]string{}
	for _, b := range []*Book{dune, emma} {
		for _, h := range []string{"d0", "d1", "e0", "e1", "e2"} {
			hashByID[StableChunkID(b.ID, h)] = h
		}
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := repo.SearchKeyword(ctx, tt.query)
			if err != nil {
				t.Fatalf("SearchKeyword() error = %v", err)
			}
			var got []string
			for _, r := range results {
				got = append(got, hashByID[r.ID])
			}
			if len(got) != len(tt.want) {
				t.Fatalf("SearchKeyword() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("SearchKeyword()[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestStableChunkID(t *testing.T) {
	a := StableChunkID("book-1", "hash")
	if a != StableChunkID("book-1", "hash") {
		t.Error("StableChunkID() should be deterministic")
	}
	if a == StableChunkID("book-2", "hash") {
		t.Error("StableChunkID() should differ across books")
	}
}
