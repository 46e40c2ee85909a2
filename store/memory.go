package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fluxapi/fluxgate"
)

// Memory is a mutex-guarded in-memory Store. Data is lost on restart; it
// backs tests and deployments without a configured database path.
type Memory struct {
	mu       sync.Mutex
	listings []fluxgate.Listing
	usage    []fluxgate.UsageEntry
	consumed map[string]struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{consumed: map[string]struct{}{}}
}

// Create implements Listings.
func (m *Memory) Create(_ context.Context, listing fluxgate.Listing) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	listing.ID = uuid.NewString()
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = time.Now().UTC()
	}
	m.listings = append(m.listings, listing)
	return listing.ID, nil
}

// List implements Listings, newest first.
func (m *Memory) List(_ context.Context) ([]fluxgate.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]fluxgate.Listing, len(m.listings))
	copy(out, m.listings)
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// GetByCid implements Listings.
func (m *Memory) GetByCid(_ context.Context, cid string) (*fluxgate.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.listings {
		if m.listings[i].Cid == cid {
			listing := m.listings[i]
			return &listing, nil
		}
	}
	return nil, fluxgate.ErrListingNotFound
}

// CidsByOwner implements Listings.
func (m *Memory) CidsByOwner(_ context.Context, owner string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cids []string
	for i := range m.listings {
		if m.listings[i].OwnerID == owner {
			cids = append(cids, m.listings[i].Cid)
		}
	}
	return cids, nil
}

// AddEarning implements Listings.
func (m *Memory) AddEarning(_ context.Context, cid string, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.listings {
		if m.listings[i].Cid == cid {
			m.listings[i].Earning = m.listings[i].Earning.Add(delta)
			return nil
		}
	}
	return fluxgate.ErrListingNotFound
}

// ResetEarning implements Listings with a compare-and-swap on the prior
// earning value.
func (m *Memory) ResetEarning(_ context.Context, cid string, prior decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.listings {
		if m.listings[i].Cid == cid {
			if !m.listings[i].Earning.Equal(prior) {
				return fluxgate.ErrEarningConflict
			}
			m.listings[i].Earning = decimal.Zero
			return nil
		}
	}
	return fluxgate.ErrListingNotFound
}

// Append implements UsageLog.
func (m *Memory) Append(_ context.Context, entry fluxgate.UsageEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	m.usage = append(m.usage, entry)
	return nil
}

// ByAPI implements UsageLog, newest first.
func (m *Memory) ByAPI(_ context.Context, apiID string, limit int) ([]fluxgate.UsageEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []fluxgate.UsageEntry
	for i := len(m.usage) - 1; i >= 0; i-- {
		if m.usage[i].APIID != apiID {
			continue
		}
		out = append(out, m.usage[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Consume implements SignatureRegistry.
func (m *Memory) Consume(_ context.Context, signature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.consumed[signature]; ok {
		return fluxgate.ErrSignatureConsumed
	}
	m.consumed[signature] = struct{}{}
	return nil
}

// Close implements Store.
func (m *Memory) Close() error {
	return nil
}
