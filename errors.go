package fluxgate

import "errors"

// Standard fluxgate error definitions

var (
	// ErrMissingCid indicates that no content identifier was supplied.
	ErrMissingCid = errors.New("missing cid")

	// ErrAPINotFound indicates that no API metadata exists for the given cid.
	ErrAPINotFound = errors.New("api not found")

	// ErrListingNotFound indicates that no listing record exists for the given cid.
	ErrListingNotFound = errors.New("listing not found")

	// ErrPaymentRequired indicates that payment is required to access the upstream API.
	ErrPaymentRequired = errors.New("payment required")

	// ErrMalformedSignature indicates the claimed payment signature is not valid base58.
	ErrMalformedSignature = errors.New("malformed transaction signature")

	// ErrTransactionNotFound indicates the payment transaction is absent or unconfirmed.
	ErrTransactionNotFound = errors.New("transaction not found or not confirmed")

	// ErrTransactionExpired indicates the payment transaction is older than the freshness window.
	ErrTransactionExpired = errors.New("transaction too old")

	// ErrOnChainFailure indicates the payment transaction failed on chain.
	ErrOnChainFailure = errors.New("transaction failed on chain")

	// ErrNoBalanceData indicates the transaction carries no token balance snapshots.
	ErrNoBalanceData = errors.New("no token balances found in transaction")

	// ErrAmountMismatch indicates the transferred amount doesn't match the expected amount.
	ErrAmountMismatch = errors.New("amount mismatch")

	// ErrAmbiguousBalance indicates multiple post balances matched the recipient account.
	ErrAmbiguousBalance = errors.New("ambiguous token balance entries for recipient account")

	// ErrSignatureConsumed indicates the payment signature was already spent on a prior call.
	ErrSignatureConsumed = errors.New("payment signature already consumed")

	// ErrInvalidAddress indicates a malformed Solana address.
	ErrInvalidAddress = errors.New("invalid solana address")

	// ErrInvalidAmount indicates a malformed or non-positive amount.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidKey indicates an invalid or missing operator private key.
	ErrInvalidKey = errors.New("invalid private key")

	// ErrAccountNotFound indicates the token account has never been initialized.
	ErrAccountNotFound = errors.New("token account not found")

	// ErrTransferFailed indicates submission or confirmation of a transfer failed.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrNothingToClaim indicates a claim on a listing with no accrued earnings.
	ErrNothingToClaim = errors.New("no earnings to claim")

	// ErrEarningConflict indicates the earning changed between claim and reset.
	ErrEarningConflict = errors.New("earning changed concurrently")

	// ErrUpstreamFailure indicates the proxied upstream call itself failed.
	ErrUpstreamFailure = errors.New("upstream api call failed")

	// ErrInvalidMetadata indicates the content store returned malformed metadata.
	ErrInvalidMetadata = errors.New("invalid api metadata")
)
