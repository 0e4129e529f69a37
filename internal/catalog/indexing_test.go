package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/onnwee/artisan/internal/embedding"
	"github.com/onnwee/artisan/internal/ranking"
)

type recordingIndexer struct {
	mu   sync.Mutex
	docs []embedding.Document
	err  error
}

func (i *recordingIndexer) Index(ctx context.Context, doc embedding.Document) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.docs = append(i.docs, doc)
	return i.err
}

func TestIndexingRepository_Create(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name      string
		listing   ranking.Listing
		indexErr  error
		wantErr   error
		wantIndex int
	}{
		{"indexes new listing", ranking.Listing{SellerID: "s1", Title: "Walnut bowl", Description: "Oiled"}, nil, nil, 1},
		{"index failure keeps listing", ranking.Listing{SellerID: "s1", Title: "Spoon"}, errors.New("model offline"), nil, 1},
		{"invalid listing not indexed", ranking.Listing{SellerID: "s1"}, nil, ErrMissingTitle, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			indexer := &recordingIndexer{err: tt.indexErr}
			repo := NewIndexingRepository(IndexingConfig{Logger: logger}, NewInMemoryListingRepository(nil), indexer)

			l := tt.listing
			err := repo.Create(context.Background(), &l)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Create() error = %v, want %v", err, tt.wantErr)
			}
			if len(indexer.docs) != tt.wantIndex {
				t.Fatalf("indexed %d docs, want %d", len(indexer.docs), tt.wantIndex)
			}
			if tt.wantIndex == 0 {
				return
			}
			if want := ranking.ListingDocument(l); indexer.docs[0] != want {
				t.Errorf("indexed %+v, want %+v", indexer.docs[0], want)
			}
			if _, err := repo.GetByID(context.Background(), l.ID); err != nil {
				t.Errorf("GetByID() error = %v", err)
			}
		})
	}
}

func TestIndexingRepository_WarmsScorer(t *testing.T) {
	embedder := &countingEmbedder{}
	scorer := embedding.NewCosineScorer(embedding.CosineConfig{}, embedder)
	repo := NewIndexingRepository(IndexingConfig{}, NewInMemoryListingRepository(nil), scorer)
	ctx := context.Background()

	for _, title := range []string{"Walnut bowl", "Wool scarf", "Clay mug"} {
		if err := repo.Create(ctx, &ranking.Listing{SellerID: "s1", Title: title}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	candidates, err := repo.Candidates(ctx, 0)
	if err != nil {
		t.Fatalf("Candidates() error = %v", err)
	}
	docs := make([]embedding.Document, len(candidates))
	for i, l := range candidates {
		docs[i] = ranking.ListingDocument(l)
	}

	before := embedder.count()
	if got := scorer.Score(ctx, "bowl", docs); len(got) != len(docs) {
		t.Fatalf("got %d scores, want %d", len(got), len(docs))
	}
	if calls := embedder.count() - before; calls != 1 {
		t.Errorf("search embed calls = %d, want 1", calls)
	}
}

// countingEmbedder returns a constant vector and counts calls.
type countingEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (e *countingEmbedder) Embed(context.Context, string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return []float32{1, 1}, nil
}

func (e *countingEmbedder) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
