package payments

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/fluxapi/fluxgate"
	"github.com/fluxapi/fluxgate/ledger"
)

// ListingStore is the slice of the listings datastore the payout executor
// needs: lookup plus the compare-and-swap earnings reset.
type ListingStore interface {
	GetByCid(ctx context.Context, cid string) (*fluxgate.Listing, error)
	ResetEarning(ctx context.Context, cid string, prior decimal.Decimal) error
}

// TransferClient submits settlement-token transfers from the operator
// wallet. Satisfied by *ledger.Client.
type TransferClient interface {
	Transfer(ctx context.Context, to solana.PublicKey, amount decimal.Decimal) (solana.Signature, error)
}

// Claim is the outcome of a successful payout.
type Claim struct {
	Signature string          `json:"signature"`
	Amount    decimal.Decimal `json:"amount"`
	To        string          `json:"to"`
	Explorer  string          `json:"explorer"`
}

// Payout transfers a listing's accrued earnings to its owner and resets the
// accrual on confirmed success.
type Payout struct {
	ledger   TransferClient
	listings ListingStore
	cluster  fluxgate.Cluster
	logger   *slog.Logger

	// mu serializes claims per listing so two concurrent claims cannot both
	// observe the same pre-reset earning.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPayout builds a payout executor.
func NewPayout(transfers TransferClient, listings ListingStore, cluster fluxgate.Cluster, logger *slog.Logger) *Payout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Payout{
		ledger:   transfers,
		listings: listings,
		cluster:  cluster,
		logger:   logger,
		locks:    map[string]*sync.Mutex{},
	}
}

// Claim pays out the full accrued earning of a listing to its owner address
// and resets the accrual to zero. A failed transfer leaves the earning
// untouched. The earnings reset after a confirmed transfer is best-effort:
// a reset failure leaves a paid-but-unreset listing, surfaced through the
// log with the transfer signature preserved for audit.
func (p *Payout) Claim(ctx context.Context, apiID string) (*Claim, error) {
	lock := p.listingLock(apiID)
	lock.Lock()
	defer lock.Unlock()

	listing, err := p.listings.GetByCid(ctx, apiID)
	if err != nil {
		return nil, err
	}

	if !ledger.ValidAddress(listing.OwnerID) {
		return nil, fmt.Errorf("%w: owner %q", fluxgate.ErrInvalidAddress, listing.OwnerID)
	}
	owner, err := solana.PublicKeyFromBase58(listing.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("%w: owner %q", fluxgate.ErrInvalidAddress, listing.OwnerID)
	}

	if !listing.Earning.IsPositive() {
		return nil, fluxgate.ErrNothingToClaim
	}

	sig, err := p.ledger.Transfer(ctx, owner, listing.Earning)
	if err != nil {
		return nil, err
	}

	if err := p.listings.ResetEarning(ctx, listing.Cid, listing.Earning); err != nil {
		p.logger.Error("payout succeeded but earnings reset failed",
			"cid", listing.Cid,
			"signature", sig.String(),
			"amount", listing.Earning,
			"error", err,
		)
	}

	return &Claim{
		Signature: sig.String(),
		Amount:    listing.Earning,
		To:        listing.OwnerID,
		Explorer:  p.cluster.ExplorerTxURL(sig.String()),
	}, nil
}

func (p *Payout) listingLock(cid string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[cid]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[cid] = lock
	}
	return lock
}
