package trust

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/onnwee/artisan/internal/tracing"
)

// PostgresStore implements EventStore and SnapshotStore on PostgreSQL.
// Schema lives in migrations/000001_trust_ledger.up.sql.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store using db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// AppendEdge inserts a reputation edge.
func (s *PostgresStore) AppendEdge(ctx context.Context, edge ReputationEdge) (err error) {
	ctx, end := tracing.StartDBSpan(ctx, "reputation_edges", tracing.DBOperationInsert)
	defer func() { end(err) }()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reputation_edges (id, from_user, to_user, weight, kind, at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, edge.ID, edge.From, edge.To, edge.Weight, string(edge.Kind), edge.At)
	if err != nil {
		return fmt.Errorf("failed to insert reputation edge: %w", err)
	}
	return nil
}

// EdgesTo returns all edges targeting sellerID, oldest first.
func (s *PostgresStore) EdgesTo(ctx context.Context, sellerID string) (edges []ReputationEdge, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "reputation_edges", tracing.DBOperationQuery)
	defer func() { end(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_user, to_user, weight, kind, at
		FROM reputation_edges
		WHERE to_user = $1
		ORDER BY at ASC
	`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reputation edges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e ReputationEdge
		var kind string
		if err = rows.Scan(&e.ID, &e.From, &e.To, &e.Weight, &kind, &e.At); err != nil {
			return nil, fmt.Errorf("failed to scan reputation edge: %w", err)
		}
		e.Kind = EdgeKind(kind)
		edges = append(edges, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reputation edges: %w", err)
	}
	return edges, nil
}

// ListingsByOwner returns all listings owned by ownerID.
func (s *PostgresStore) ListingsByOwner(ctx context.Context, ownerID string) (listings []Listing, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "listings", tracing.DBOperationQuery)
	defer func() { end(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, created_at
		FROM listings
		WHERE owner_id = $1
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l Listing
		if err = rows.Scan(&l.ID, &l.OwnerID, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate listings: %w", err)
	}
	return listings, nil
}

// OrdersBySeller returns all orders placed with sellerID.
func (s *PostgresStore) OrdersBySeller(ctx context.Context, sellerID string) (orders []Order, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "orders", tracing.DBOperationQuery)
	defer func() { end(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seller_id, buyer_id, date, fulfilled_at
		FROM orders
		WHERE seller_id = $1
	`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var o Order
		var fulfilledAt sql.NullTime
		if err = rows.Scan(&o.ID, &o.SellerID, &o.BuyerID, &o.Date, &fulfilledAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		if fulfilledAt.Valid {
			t := fulfilledAt.Time
			o.FulfilledAt = &t
		}
		orders = append(orders, o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	return orders, nil
}

// DisputesBySeller returns all disputes filed against sellerID.
func (s *PostgresStore) DisputesBySeller(ctx context.Context, sellerID string) (disputes []Dispute, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "disputes", tracing.DBOperationQuery)
	defer func() { end(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seller_id, order_id, reason, status, created_at, resolved_at
		FROM disputes
		WHERE seller_id = $1
		ORDER BY created_at ASC
	`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query disputes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		d, scanErr := scanDispute(rows)
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		disputes = append(disputes, *d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate disputes: %w", err)
	}
	return disputes, nil
}

// CreateDispute inserts a dispute.
func (s *PostgresStore) CreateDispute(ctx context.Context, d Dispute) (err error) {
	ctx, end := tracing.StartDBSpan(ctx, "disputes", tracing.DBOperationInsert)
	defer func() { end(err) }()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO disputes (id, seller_id, order_id, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, d.ID, d.SellerID, d.OrderID, d.Reason, string(d.Status), d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert dispute: %w", err)
	}
	return nil
}

// GetDispute returns a dispute by ID.
func (s *PostgresStore) GetDispute(ctx context.Context, id string) (d *Dispute, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "disputes", tracing.DBOperationQuery)
	defer func() { end(err) }()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, seller_id, order_id, reason, status, created_at, resolved_at
		FROM disputes
		WHERE id = $1
	`, id)
	d, err = scanDispute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDisputeNotFound
	}
	return d, err
}

// ResolveDispute marks an open dispute resolved.
func (s *PostgresStore) ResolveDispute(ctx context.Context, id string, at time.Time) (err error) {
	ctx, end := tracing.StartDBSpan(ctx, "disputes", tracing.DBOperationUpdate)
	defer func() { end(err) }()

	res, err := s.db.ExecContext(ctx, `
		UPDATE disputes SET status = $2, resolved_at = $3
		WHERE id = $1 AND status = $4
	`, id, string(DisputeResolved), at, string(DisputeOpen))
	if err != nil {
		return fmt.Errorf("failed to resolve dispute: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish a missing dispute from one already resolved.
		if _, getErr := s.GetDispute(ctx, id); getErr != nil {
			return getErr
		}
		return ErrDisputeResolved
	}
	return nil
}

// AppendSnapshot inserts a history row.
func (s *PostgresStore) AppendSnapshot(ctx context.Context, snap PersistedTrustSnapshot) (err error) {
	ctx, end := tracing.StartDBSpan(ctx, "trust_snapshots", tracing.DBOperationInsert)
	defer func() { end(err) }()

	factors, err := json.Marshal(snap.Factors)
	if err != nil {
		return fmt.Errorf("failed to encode trust factors: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trust_snapshots (id, user_id, at, score, grade, version, factors)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, snap.ID, snap.UserID, snap.At, snap.Score, string(snap.Grade), snap.Version, factors)
	if err != nil {
		return fmt.Errorf("failed to insert trust snapshot: %w", err)
	}
	return nil
}

// UpsertLatest writes the latest mirror. An older write never replaces a newer one.
func (s *PostgresStore) UpsertLatest(ctx context.Context, latest TrustLatest) (err error) {
	ctx, end := tracing.StartDBSpan(ctx, "trust_latest", tracing.DBOperationUpdate)
	defer func() { end(err) }()

	factors, err := json.Marshal(latest.Factors)
	if err != nil {
		return fmt.Errorf("failed to encode trust factors: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trust_latest (user_id, score, grade, version, factors, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			score = EXCLUDED.score,
			grade = EXCLUDED.grade,
			version = EXCLUDED.version,
			factors = EXCLUDED.factors,
			updated_at = EXCLUDED.updated_at
		WHERE trust_latest.updated_at <= EXCLUDED.updated_at
	`, latest.UserID, latest.Score, string(latest.Grade), latest.Version, factors, latest.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert latest trust score: %w", err)
	}
	return nil
}

// GetLatest returns the latest mirror for userID.
func (s *PostgresStore) GetLatest(ctx context.Context, userID string) (l *TrustLatest, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "trust_latest", tracing.DBOperationQuery)
	defer func() { end(err) }()

	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, score, grade, version, factors, updated_at
		FROM trust_latest
		WHERE user_id = $1
	`, userID)
	l, err = scanLatest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	return l, err
}

// SnapshotsForUsers returns the newest snapshot of each requested user,
// ordered by At descending.
func (s *PostgresStore) SnapshotsForUsers(ctx context.Context, userIDs []string) (snaps []PersistedTrustSnapshot, err error) {
	if len(userIDs) > MaxInFilter {
		return nil, ErrTooManyIDs
	}
	ctx, end := tracing.StartDBSpan(ctx, "trust_snapshots", tracing.DBOperationQuery)
	defer func() { end(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, at, score, grade, version, factors FROM (
			SELECT DISTINCT ON (user_id) id, user_id, at, score, grade, version, factors
			FROM trust_snapshots
			WHERE user_id = ANY($1)
			ORDER BY user_id, at DESC
		) newest
		ORDER BY at DESC
	`, pq.Array(userIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query trust snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trust snapshots: %w", err)
	}
	return snaps, nil
}

// TopLatest returns up to n latest mirrors, highest score first.
func (s *PostgresStore) TopLatest(ctx context.Context, n int) (out []TrustLatest, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "trust_latest", tracing.DBOperationQuery)
	defer func() { end(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, score, grade, version, factors, updated_at
		FROM trust_latest
		ORDER BY score DESC, user_id ASC
		LIMIT $1
	`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query top trust scores: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		l, scanErr := scanLatest(rows)
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		out = append(out, *l)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate top trust scores: %w", err)
	}
	return out, nil
}

// History returns up to limit snapshots of userID, newest first.
func (s *PostgresStore) History(ctx context.Context, userID string, limit int) (snaps []PersistedTrustSnapshot, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "trust_snapshots", tracing.DBOperationQuery)
	defer func() { end(err) }()

	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, at, score, grade, version, factors
		FROM trust_snapshots
		WHERE user_id = $1
		ORDER BY at DESC
		LIMIT $2
	`, userID, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to query trust history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trust history: %w", err)
	}
	return snaps, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDispute(row rowScanner) (*Dispute, error) {
	var d Dispute
	var status string
	var resolvedAt sql.NullTime
	if err := row.Scan(&d.ID, &d.SellerID, &d.OrderID, &d.Reason, &status, &d.CreatedAt, &resolvedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan dispute: %w", err)
	}
	d.Status = DisputeStatus(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		d.ResolvedAt = &t
	}
	return &d, nil
}

func scanSnapshot(row rowScanner) (*PersistedTrustSnapshot, error) {
	var snap PersistedTrustSnapshot
	var grade string
	var factors []byte
	if err := row.Scan(&snap.ID, &snap.UserID, &snap.At, &snap.Score, &grade, &snap.Version, &factors); err != nil {
		return nil, fmt.Errorf("failed to scan trust snapshot: %w", err)
	}
	snap.Grade = Grade(grade)
	if err := json.Unmarshal(factors, &snap.Factors); err != nil {
		return nil, fmt.Errorf("failed to decode trust factors: %w", err)
	}
	return &snap, nil
}

func scanLatest(row rowScanner) (*TrustLatest, error) {
	var l TrustLatest
	var grade string
	var factors []byte
	if err := row.Scan(&l.UserID, &l.Score, &grade, &l.Version, &factors, &l.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan latest trust score: %w", err)
	}
	l.Grade = Grade(grade)
	if err := json.Unmarshal(factors, &l.Factors); err != nil {
		return nil, fmt.Errorf("failed to decode trust factors: %w", err)
	}
	return &l, nil
}
