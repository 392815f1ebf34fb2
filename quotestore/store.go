// Package quotestore persists quote records between the quote and settle
// calls, keyed by the caller-supplied request ID. Records are stored as
// opaque JSON blobs; eviction and retention are operator concerns.
package quotestore

import (
	"context"
	"database/sql"
	"encoding/json"

	commonerrors "github.com/ClipFinance/rebalancer/common/errors"
	"github.com/ClipFinance/rebalancer/common/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	// Import postgres driver for database/sql package.
	_ "github.com/lib/pq"
)

const createTableStmt = `
	CREATE TABLE IF NOT EXISTS quotes (
		request_id TEXT PRIMARY KEY,
		record     JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

// Store is a Postgres-backed quote record store with an explicit open/close
// lifecycle. It is constructed once at startup and injected into the
// components that need it.
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

// Open connects to the database and ensures the quotes table exists.
func Open(ctx context.Context, connStr string, logger *logrus.Logger) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open quote store database")
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to connect to quote store database")
	}

	if _, err := db.ExecContext(ctx, createTableStmt); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create quotes table")
	}

	logger.Info("Connected to quote store")

	return &Store{db: db, logger: logger}, nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores the quote record under its request ID, replacing any previous
// record for the same ID.
func (s *Store) Put(ctx context.Context, record *types.QuoteRecord) error {
	blob, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "failed to marshal quote record")
	}

	query := `
		INSERT INTO quotes (request_id, record)
		VALUES ($1, $2)
		ON CONFLICT (request_id) DO UPDATE SET record = EXCLUDED.record
	`
	if _, err := s.db.ExecContext(ctx, query, record.Request.RequestID, blob); err != nil {
		return errors.Wrap(err, "failed to store quote record")
	}

	return nil
}

// Get retrieves the quote record for a request ID. A missing record is
// surfaced as ErrStaleQuote: the quote expired, never existed, or was
// already settled and removed.
func (s *Store) Get(ctx context.Context, requestID string) (*types.QuoteRecord, error) {
	var blob []byte
	query := `SELECT record FROM quotes WHERE request_id = $1`
	if err := s.db.QueryRowContext(ctx, query, requestID).Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(commonerrors.ErrStaleQuote, "request id %s", requestID)
		}
		return nil, errors.Wrap(err, "failed to load quote record")
	}

	var record types.QuoteRecord
	if err := json.Unmarshal(blob, &record); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal quote record")
	}

	return &record, nil
}

// Delete removes the record for a request ID. Missing records are not an
// error.
func (s *Store) Delete(ctx context.Context, requestID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM quotes WHERE request_id = $1`, requestID); err != nil {
		return errors.Wrap(err, "failed to delete quote record")
	}
	return nil
}
