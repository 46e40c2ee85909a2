package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/fluxapi/fluxgate"
)

// TokenBalance is a token-account balance snapshot taken before or after a
// transaction executed.
type TokenBalance struct {
	// Account is the token account the snapshot belongs to.
	Account solana.PublicKey

	// Mint is the token mint the account holds.
	Mint solana.PublicKey

	// Amount is the balance in token units.
	Amount decimal.Decimal
}

// TransactionRecord is the subset of a finalized transaction the payment
// verifier needs: block time, execution outcome, and the token-balance
// snapshots with their account addresses resolved.
type TransactionRecord struct {
	Signature solana.Signature
	Slot      uint64
	BlockTime time.Time

	// Failed reports whether the transaction's execution outcome recorded
	// an error.
	Failed bool

	Pre  []TokenBalance
	Post []TokenBalance
}

// Transaction fetches a confirmed transaction by signature, supporting the
// latest transaction version in use on the network. Returns
// ErrTransactionNotFound when the transaction is absent or unconfirmed.
func (c *Client) Transaction(ctx context.Context, sig solana.Signature) (*TransactionRecord, error) {
	version := uint64(0)
	out, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &version,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fluxgate.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to fetch transaction %s: %w", sig, err)
	}
	if out == nil || out.Meta == nil {
		return nil, fluxgate.ErrTransactionNotFound
	}

	parsed, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction %s: %w", sig, err)
	}

	// Account keys are the static message keys followed by any addresses
	// loaded from lookup tables, writable first.
	keys := make([]solana.PublicKey, 0, len(parsed.Message.AccountKeys))
	keys = append(keys, parsed.Message.AccountKeys...)
	keys = append(keys, out.Meta.LoadedAddresses.Writable...)
	keys = append(keys, out.Meta.LoadedAddresses.ReadOnly...)

	record := &TransactionRecord{
		Signature: sig,
		Slot:      out.Slot,
		Failed:    out.Meta.Err != nil,
		Pre:       resolveBalances(out.Meta.PreTokenBalances, keys),
		Post:      resolveBalances(out.Meta.PostTokenBalances, keys),
	}
	if out.BlockTime != nil {
		record.BlockTime = out.BlockTime.Time()
	}
	return record, nil
}

// resolveBalances maps raw token-balance entries to snapshots with their
// account addresses resolved. Entries whose index falls outside the key set
// are dropped.
func resolveBalances(balances []rpc.TokenBalance, keys []solana.PublicKey) []TokenBalance {
	out := make([]TokenBalance, 0, len(balances))
	for _, b := range balances {
		if int(b.AccountIndex) >= len(keys) || b.UiTokenAmount == nil {
			continue
		}
		amount, err := fluxgate.AmountFromRaw(b.UiTokenAmount.Amount, int32(b.UiTokenAmount.Decimals))
		if err != nil {
			continue
		}
		out = append(out, TokenBalance{
			Account: keys[b.AccountIndex],
			Mint:    b.Mint,
			Amount:  amount,
		})
	}
	return out
}
