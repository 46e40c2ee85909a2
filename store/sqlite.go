package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	// Blank import registers the pure-Go sqlite driver.
	_ "modernc.org/sqlite"

	"github.com/fluxapi/fluxgate"
)

// SQLite is the persistent Store implementation.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path and applies the
// schema.
func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(context.Background(), pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *SQLite) createSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS listings (
			id         TEXT PRIMARY KEY,
			cid        TEXT NOT NULL UNIQUE,
			owner_id   TEXT NOT NULL,
			earning    TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_owner ON listings(owner_id)`,
		`CREATE TABLE IF NOT EXISTS usage_logs (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			api_id            TEXT NOT NULL,
			timestamp         TEXT NOT NULL,
			response_status   INTEGER NOT NULL,
			response_time_ms  INTEGER NOT NULL,
			payment_signature TEXT NOT NULL DEFAULT '',
			payment_amount    TEXT NOT NULL DEFAULT '0'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_api ON usage_logs(api_id)`,
		`CREATE TABLE IF NOT EXISTS consumed_signatures (
			signature   TEXT PRIMARY KEY,
			consumed_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Create implements Listings.
func (s *SQLite) Create(ctx context.Context, listing fluxgate.Listing) (string, error) {
	listing.ID = uuid.NewString()
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO listings (id, cid, owner_id, earning, created_at) VALUES (?, ?, ?, ?, ?)`,
		listing.ID, listing.Cid, listing.OwnerID, listing.Earning.String(), encodeTime(listing.CreatedAt),
	)
	if err != nil {
		return "", fmt.Errorf("failed to store listing: %w", err)
	}
	return listing.ID, nil
}

// List implements Listings, newest first.
func (s *SQLite) List(ctx context.Context) ([]fluxgate.Listing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cid, owner_id, earning, created_at FROM listings ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	defer rows.Close()

	var out []fluxgate.Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *listing)
	}
	return out, rows.Err()
}

// GetByCid implements Listings.
func (s *SQLite) GetByCid(ctx context.Context, cid string) (*fluxgate.Listing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, cid, owner_id, earning, created_at FROM listings WHERE cid = ?`, cid)
	listing, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fluxgate.ErrListingNotFound
	}
	return listing, err
}

// CidsByOwner implements Listings.
func (s *SQLite) CidsByOwner(ctx context.Context, owner string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cid FROM listings WHERE owner_id = ? ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings by owner: %w", err)
	}
	defer rows.Close()

	var cids []string
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			return nil, err
		}
		cids = append(cids, cid)
	}
	return cids, rows.Err()
}

// AddEarning implements Listings inside a transaction, so the read-add-write
// is atomic against concurrent credits.
func (s *SQLite) AddEarning(ctx context.Context, cid string, delta decimal.Decimal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT earning FROM listings WHERE cid = ?`, cid).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fluxgate.ErrListingNotFound
	}
	if err != nil {
		return err
	}
	current, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("corrupt earning value %q for %s: %w", raw, cid, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE listings SET earning = ? WHERE cid = ?`,
		current.Add(delta).String(), cid,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// ResetEarning implements Listings with a compare-and-swap: the update only
// lands when the stored earning still equals prior.
func (s *SQLite) ResetEarning(ctx context.Context, cid string, prior decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE listings SET earning = '0' WHERE cid = ? AND earning = ?`,
		cid, prior.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to reset earning: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.GetByCid(ctx, cid); err != nil {
			return err
		}
		return fluxgate.ErrEarningConflict
	}
	return nil
}

// Append implements UsageLog.
func (s *SQLite) Append(ctx context.Context, entry fluxgate.UsageEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_logs (api_id, timestamp, response_status, response_time_ms, payment_signature, payment_amount)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.APIID, encodeTime(entry.Timestamp), entry.ResponseStatus, entry.ResponseTimeMs,
		entry.PaymentSignature, entry.PaymentAmount.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to append usage log: %w", err)
	}
	return nil
}

// ByAPI implements UsageLog, newest first.
func (s *SQLite) ByAPI(ctx context.Context, apiID string, limit int) ([]fluxgate.UsageEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT api_id, timestamp, response_status, response_time_ms, payment_signature, payment_amount
		 FROM usage_logs WHERE api_id = ? ORDER BY id DESC LIMIT ?`, apiID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage logs: %w", err)
	}
	defer rows.Close()

	var out []fluxgate.UsageEntry
	for rows.Next() {
		var entry fluxgate.UsageEntry
		var ts, amount string
		if err := rows.Scan(&entry.APIID, &ts, &entry.ResponseStatus, &entry.ResponseTimeMs, &entry.PaymentSignature, &amount); err != nil {
			return nil, err
		}
		if entry.Timestamp, err = decodeTime(ts); err != nil {
			return nil, err
		}
		if entry.PaymentAmount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Consume implements SignatureRegistry via the primary-key constraint on the
// signature column.
func (s *SQLite) Consume(ctx context.Context, signature string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO consumed_signatures (signature, consumed_at) VALUES (?, ?)`,
		signature, encodeTime(time.Now().UTC()),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") ||
			strings.Contains(err.Error(), "constraint failed") {
			return fluxgate.ErrSignatureConsumed
		}
		return fmt.Errorf("failed to record consumed signature: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*fluxgate.Listing, error) {
	var listing fluxgate.Listing
	var earning, created string
	if err := row.Scan(&listing.ID, &listing.Cid, &listing.OwnerID, &earning, &created); err != nil {
		return nil, err
	}
	var err error
	if listing.Earning, err = decimal.NewFromString(earning); err != nil {
		return nil, fmt.Errorf("corrupt earning value %q: %w", earning, err)
	}
	if listing.CreatedAt, err = decodeTime(created); err != nil {
		return nil, err
	}
	return &listing, nil
}

// Timestamps are stored as RFC 3339 strings so they sort lexicographically.
func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", raw, err)
	}
	return t, nil
}
