// Package ledger wraps Solana network connectivity for the gateway: token
// account derivation, balance reads, payout transfers, and transaction
// lookups against the settlement-token mint.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/fluxapi/fluxgate"
)

// confirmationPollInterval is how often a submitted transfer's signature
// status is re-checked.
const confirmationPollInterval = 500 * time.Millisecond

// confirmationTimeout bounds how long Transfer waits for the network to
// confirm a submitted transfer.
const confirmationTimeout = 60 * time.Second

// Client talks to a Solana cluster for a single settlement-token mint.
// All operations are network I/O and independent; Transfer is the only
// non-idempotent operation and must never be retried blindly.
type Client struct {
	rpc      *rpc.Client
	signer   solana.PrivateKey
	mint     solana.PublicKey
	decimals int32
}

// New creates a ledger client for the given RPC endpoint, operator signing
// key, and settlement-token mint.
func New(rpcURL string, signer solana.PrivateKey, mint solana.PublicKey) *Client {
	return &Client{
		rpc:      rpc.New(rpcURL),
		signer:   signer,
		mint:     mint,
		decimals: fluxgate.SettlementDecimals,
	}
}

// Mint returns the settlement-token mint address.
func (c *Client) Mint() solana.PublicKey {
	return c.mint
}

// SignerAddress returns the operator wallet public key.
func (c *Client) SignerAddress() solana.PublicKey {
	return c.signer.PublicKey()
}

// AssociatedTokenAccount derives the owner's associated account for the
// settlement-token mint. Pure derivation, no network call.
func (c *Client) AssociatedTokenAccount(owner solana.PublicKey) (solana.PublicKey, error) {
	return DeriveAssociatedTokenAccount(owner, c.mint)
}

// DeriveAssociatedTokenAccount derives the associated token account for an
// owner and mint pair.
func DeriveAssociatedTokenAccount(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive ATA: %w", err)
	}
	return ata, nil
}

// TokenBalance reads the confirmed settlement-token balance for an owner.
// Returns ErrAccountNotFound when the owner's token account has never been
// initialized; callers decide whether that means zero or a hard failure.
func (c *Client) TokenBalance(ctx context.Context, owner solana.PublicKey) (decimal.Decimal, error) {
	ata, err := c.AssociatedTokenAccount(owner)
	if err != nil {
		return decimal.Zero, err
	}

	balance, err := c.rpc.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		if isAccountMissing(err) {
			return decimal.Zero, fluxgate.ErrAccountNotFound
		}
		return decimal.Zero, fmt.Errorf("failed to get token balance for %s: %w", ata, err)
	}
	if balance.Value == nil {
		return decimal.Zero, fluxgate.ErrAccountNotFound
	}

	return fluxgate.AmountFromRaw(balance.Value.Amount, int32(balance.Value.Decimals))
}

// Transfer sends the given settlement-token amount from the operator wallet
// to the recipient's associated token account and waits for "confirmed"
// commitment. The amount is floored to smallest units. Fails with
// ErrTransferFailed when the recipient account does not exist, submission is
// rejected, or confirmation does not arrive. Not idempotent.
func (c *Client) Transfer(ctx context.Context, to solana.PublicKey, amount decimal.Decimal) (solana.Signature, error) {
	base, err := fluxgate.BaseUnits(amount, c.decimals)
	if err != nil || base == 0 {
		return solana.Signature{}, fluxgate.ErrInvalidAmount
	}

	source, err := c.AssociatedTokenAccount(c.signer.PublicKey())
	if err != nil {
		return solana.Signature{}, err
	}
	dest, err := c.AssociatedTokenAccount(to)
	if err != nil {
		return solana.Signature{}, err
	}

	// The recipient must hold an initialized token account; creating one on
	// their behalf is a separate, deliberate operation.
	if _, err := c.rpc.GetAccountInfo(ctx, dest); err != nil {
		if errors.Is(err, rpc.ErrNotFound) || isAccountMissing(err) {
			return solana.Signature{}, fmt.Errorf("%w: recipient has no %s token account", fluxgate.ErrTransferFailed, fluxgate.SettlementToken)
		}
		return solana.Signature{}, fmt.Errorf("%w: failed to check recipient account: %v", fluxgate.ErrTransferFailed, err)
	}

	blockhash, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: failed to get latest blockhash: %v", fluxgate.ErrTransferFailed, err)
	}

	instruction := token.NewTransferCheckedInstructionBuilder().
		SetAmount(base).
		SetDecimals(uint8(c.decimals)).
		SetSourceAccount(source).
		SetDestinationAccount(dest).
		SetMintAccount(c.mint).
		SetOwnerAccount(c.signer.PublicKey()).
		Build()

	tx, err := solana.NewTransaction(
		[]solana.Instruction{instruction},
		blockhash.Value.Blockhash,
		solana.TransactionPayer(c.signer.PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: failed to create transaction: %v", fluxgate.ErrTransferFailed, err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if c.signer.PublicKey().Equals(key) {
			return &c.signer
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: failed to sign transaction: %v", fluxgate.ErrTransferFailed, err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: submission rejected: %v", fluxgate.ErrTransferFailed, err)
	}

	if err := c.awaitConfirmation(ctx, sig); err != nil {
		return solana.Signature{}, err
	}
	return sig, nil
}

// awaitConfirmation polls signature statuses until the transaction reaches
// "confirmed" commitment or the timeout elapses.
func (c *Client) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, confirmationTimeout)
	defer cancel()

	ticker := time.NewTicker(confirmationPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: confirmation not received for %s", fluxgate.ErrTransferFailed, sig)
		case <-ticker.C:
			statuses, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
			if err != nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
				continue
			}
			status := statuses.Value[0]
			if status.Err != nil {
				return fmt.Errorf("%w: transaction failed on chain", fluxgate.ErrTransferFailed)
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}
	}
}

// Slot returns the current confirmed slot, as a network liveness probe.
func (c *Client) Slot(ctx context.Context) (uint64, error) {
	slot, err := c.rpc.GetSlot(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("failed to get slot: %w", err)
	}
	return slot, nil
}

// isAccountMissing detects the RPC error shapes an uninitialized account
// produces.
func isAccountMissing(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, rpc.ErrNotFound) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "could not find account") || msg == "not found"
}
