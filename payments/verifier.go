// Package payments implements the two money-moving pieces of the gateway:
// verification of inbound per-call payments against on-chain state, and
// payout of accrued provider earnings.
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/fluxapi/fluxgate"
	"github.com/fluxapi/fluxgate/ledger"
)

// TransactionSource fetches confirmed transactions by signature. Satisfied
// by *ledger.Client; faked in tests.
type TransactionSource interface {
	Transaction(ctx context.Context, sig solana.Signature) (*ledger.TransactionRecord, error)
}

// Receipt is the evidence produced by a successful verification.
type Receipt struct {
	// Signature is the verified transaction signature.
	Signature string `json:"signature"`

	// Amount is the settlement-token delta actually credited to the
	// recipient account.
	Amount decimal.Decimal `json:"amount"`

	// BlockTime is when the transaction landed on chain.
	BlockTime time.Time `json:"timestamp"`
}

// Verifier confirms that a claimed payment transaction transferred the
// expected settlement-token amount to the expected recipient within a
// freshness window.
type Verifier struct {
	source       TransactionSource
	mint         solana.PublicKey
	recipientATA solana.PublicKey

	// now is swappable for tests.
	now func() time.Time
}

// NewVerifier builds a verifier for payments to the given recipient wallet
// in the given settlement-token mint. The recipient's associated token
// account is derived once up front.
func NewVerifier(source TransactionSource, recipient, mint solana.PublicKey) (*Verifier, error) {
	ata, err := ledger.DeriveAssociatedTokenAccount(recipient, mint)
	if err != nil {
		return nil, err
	}
	return &Verifier{
		source:       source,
		mint:         mint,
		recipientATA: ata,
		now:          time.Now,
	}, nil
}

// Verify checks a payment transaction signature against the expected amount
// and freshness window. The verdict is derived from the token-balance delta
// credited to the recipient's associated token account, which is robust to
// transaction composition differences (batched instructions, fee payer
// variations). Verification is idempotent: finalized transaction state is
// immutable.
func (v *Verifier) Verify(ctx context.Context, signature string, expectedAmount decimal.Decimal, maxAge time.Duration) (*Receipt, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fluxgate.ErrMalformedSignature, err)
	}

	record, err := v.source.Transaction(ctx, sig)
	if err != nil {
		return nil, err
	}

	// A missing block time reads as infinitely old.
	if age := v.now().Sub(record.BlockTime); age > maxAge {
		return nil, fmt.Errorf("%w: age %s exceeds %s", fluxgate.ErrTransactionExpired, age.Truncate(time.Second), maxAge)
	}

	if record.Failed {
		return nil, fluxgate.ErrOnChainFailure
	}

	if len(record.Post) == 0 {
		return nil, fluxgate.ErrNoBalanceData
	}

	delta, err := v.recipientDelta(record)
	if err != nil {
		return nil, err
	}

	if !fluxgate.WithinTolerance(delta, expectedAmount) {
		return nil, fmt.Errorf("%w: expected %s, got %s", fluxgate.ErrAmountMismatch, expectedAmount, delta)
	}

	return &Receipt{
		Signature: signature,
		Amount:    delta,
		BlockTime: record.BlockTime,
	}, nil
}

// recipientDelta computes the settlement-token amount credited to the
// recipient's derived token account. A missing pre-balance entry means the
// account was newly funded and counts as zero. More than one matching
// post-balance entry is an integrity error, never silently tie-broken.
func (v *Verifier) recipientDelta(record *ledger.TransactionRecord) (decimal.Decimal, error) {
	var post decimal.Decimal
	matches := 0
	for _, b := range record.Post {
		if b.Mint.Equals(v.mint) && b.Account.Equals(v.recipientATA) {
			post = b.Amount
			matches++
		}
	}
	if matches > 1 {
		return decimal.Zero, fluxgate.ErrAmbiguousBalance
	}
	if matches == 0 {
		return decimal.Zero, nil
	}

	pre := decimal.Zero
	for _, b := range record.Pre {
		if b.Mint.Equals(v.mint) && b.Account.Equals(v.recipientATA) {
			pre = b.Amount
			break
		}
	}
	return post.Sub(pre), nil
}
