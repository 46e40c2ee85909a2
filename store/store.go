// Package store defines the gateway's datastore boundary and its two
// implementations: an in-memory store for tests and no-database deployments,
// and a SQLite-backed store for persistent deployments. The implementation
// is selected by configuration at process start and injected, never reached
// through package-level state.
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/fluxapi/fluxgate"
)

// Listings is the marketplace listings datastore.
type Listings interface {
	// Create inserts a listing and returns its assigned id.
	Create(ctx context.Context, listing fluxgate.Listing) (string, error)

	// List returns all listings, newest first.
	List(ctx context.Context) ([]fluxgate.Listing, error)

	// GetByCid returns the listing for a content address, or
	// ErrListingNotFound.
	GetByCid(ctx context.Context, cid string) (*fluxgate.Listing, error)

	// CidsByOwner returns the content addresses of all listings owned by
	// the given (normalized) address.
	CidsByOwner(ctx context.Context, owner string) ([]string, error)

	// AddEarning credits usage revenue to a listing.
	AddEarning(ctx context.Context, cid string, delta decimal.Decimal) error

	// ResetEarning sets a listing's earning to zero if and only if it still
	// equals prior. Returns ErrEarningConflict when the accrual changed in
	// between, so a retried claim can never double-pay.
	ResetEarning(ctx context.Context, cid string, prior decimal.Decimal) error
}

// UsageLog is the append-only per-call usage datastore.
type UsageLog interface {
	Append(ctx context.Context, entry fluxgate.UsageEntry) error

	// ByAPI returns up to limit entries for a listing, newest first.
	ByAPI(ctx context.Context, apiID string, limit int) ([]fluxgate.UsageEntry, error)
}

// SignatureRegistry records payment signatures that have already bought a
// call. Consume is an atomic insert-if-absent; a duplicate yields
// ErrSignatureConsumed, which is what prevents replaying one payment across
// multiple requests.
type SignatureRegistry interface {
	Consume(ctx context.Context, signature string) error
}

// Store bundles the three datastores behind one injectable handle.
type Store interface {
	Listings
	UsageLog
	SignatureRegistry

	Close() error
}
