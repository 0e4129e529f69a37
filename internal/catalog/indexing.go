package catalog

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/artisan/internal/embedding"
	"github.com/onnwee/artisan/internal/ranking"
)

// DefaultIndexTimeout bounds embedding a listing on create.
const DefaultIndexTimeout = 5 * time.Second

// Indexer precomputes the search vector of a document.
// *embedding.CosineScorer implements it.
type Indexer interface {
	Index(ctx context.Context, doc embedding.Document) error
}

// IndexingConfig configures an IndexingRepository.
type IndexingConfig struct {
	Logger  *slog.Logger
	Timeout time.Duration
}

// IndexingRepository embeds each listing as it is created so searches only
// embed the query. Index failures are logged and never fail the create:
// the scorer embeds a missing listing on its next search instead.
type IndexingRepository struct {
	ListingRepository
	config  IndexingConfig
	indexer Indexer
}

// NewIndexingRepository wraps repo so creates are indexed by indexer.
func NewIndexingRepository(config IndexingConfig, repo ListingRepository, indexer Indexer) *IndexingRepository {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultIndexTimeout
	}
	return &IndexingRepository{ListingRepository: repo, config: config, indexer: indexer}
}

// Create stores l then indexes it.
func (r *IndexingRepository) Create(ctx context.Context, l *ranking.Listing) error {
	if err := r.ListingRepository.Create(ctx, l); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.Timeout)
	defer cancel()
	if err := r.indexer.Index(ctx, ranking.ListingDocument(*l)); err != nil {
		r.config.Logger.WarnContext(ctx, "listing not indexed", "listing_id", l.ID, "error", err)
	}
	return nil
}
