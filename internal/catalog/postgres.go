package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/onnwee/artisan/internal/ranking"
	"github.com/onnwee/artisan/internal/tracing"
)

// PostgresListingRepository implements ListingRepository on the listings
// table shared with the trust ledger.
type PostgresListingRepository struct {
	db *sql.DB
}

// NewPostgresListingRepository creates a repository using db.
func NewPostgresListingRepository(db *sql.DB) *PostgresListingRepository {
	return &PostgresListingRepository{db: db}
}

// Create inserts a listing. created_at is assigned by the database.
func (r *PostgresListingRepository) Create(ctx context.Context, l *ranking.Listing) (err error) {
	if err := validate(l); err != nil {
		return err
	}

	ctx, end := tracing.StartDBSpan(ctx, "listings", tracing.DBOperationInsert)
	defer func() { end(err) }()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO listings (id, owner_id, title, description)
		VALUES ($1, $2, $3, $4)
	`, l.ID, l.SellerID, l.Title, l.Description)
	if err != nil {
		return fmt.Errorf("failed to insert listing: %w", err)
	}
	return nil
}

// GetByID returns a listing or ErrListingNotFound.
func (r *PostgresListingRepository) GetByID(ctx context.Context, id string) (l *ranking.Listing, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "listings", tracing.DBOperationQuery)
	defer func() { end(err) }()

	var out ranking.Listing
	err = r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, description
		FROM listings
		WHERE id = $1
	`, id).Scan(&out.ID, &out.SellerID, &out.Title, &out.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return &out, nil
}

// Candidates returns up to limit listings, newest first.
func (r *PostgresListingRepository) Candidates(ctx context.Context, limit int) (listings []ranking.Listing, err error) {
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}

	ctx, end := tracing.StartDBSpan(ctx, "listings", tracing.DBOperationQuery)
	defer func() { end(err) }()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, title, description
		FROM listings
		ORDER BY created_at DESC, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query listing candidates: %w", err)
	}
	defer rows.Close()

	listings = make([]ranking.Listing, 0, limit)
	for rows.Next() {
		var l ranking.Listing
		if err = rows.Scan(&l.ID, &l.SellerID, &l.Title, &l.Description); err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate listings: %w", err)
	}
	return listings, nil
}
