// Package fluxgate defines the shared domain types for the fluxgate
// marketplace gateway: API listings, content-addressed API metadata, usage
// records, and the settlement-token amount arithmetic used by payment
// verification and payouts.
package fluxgate

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// SettlementToken is the symbol of the token accepted as payment.
	SettlementToken = "USDC"

	// SettlementDecimals is the decimal precision of the settlement token.
	SettlementDecimals = 6

	// DefaultFreshnessWindow is the maximum accepted age of a payment
	// transaction used as proof of payment.
	DefaultFreshnessWindow = 300 * time.Second
)

// AmountTolerance absorbs floating rounding in decimal-to-ui conversions
// when comparing on-chain balance deltas against expected amounts.
var AmountTolerance = decimal.New(1, -SettlementDecimals)

// Listing is a marketplace record for a published API.
type Listing struct {
	// ID is the datastore-assigned identifier of the record.
	ID string `json:"_id"`

	// Cid is the content address of the API metadata.
	Cid string `json:"cid"`

	// OwnerID is the provider's Solana public key, lower-cased and trimmed.
	OwnerID string `json:"ownerId"`

	// Earning is the accrued, not-yet-claimed revenue in settlement-token units.
	Earning decimal.Decimal `json:"earning"`

	// CreatedAt is the listing submission time.
	CreatedAt time.Time `json:"createdAt"`
}

// NormalizeOwner canonicalizes a provider address for storage.
func NormalizeOwner(owner string) string {
	return strings.ToLower(strings.TrimSpace(owner))
}

// Metadata is the API descriptor published under a content address.
// It is immutable once published; the gateway treats it as read-only and
// fails closed when it is unreachable or malformed.
type Metadata struct {
	// Endpoint is the upstream API base URL. Required for proxying.
	Endpoint string `json:"endpoint" validate:"required,url"`

	// CostPerRequest is the per-call price in settlement-token units.
	CostPerRequest decimal.Decimal `json:"costPerRequest"`

	// UUID is the opaque identifier the access credential is derived from.
	UUID string `json:"id"`

	// ListingID is the datastore id of the corresponding listing, if known.
	ListingID string `json:"_id,omitempty"`

	// Display fields.
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// UsageEntry is one append-only record of a proxied call.
type UsageEntry struct {
	APIID            string          `json:"apiId"`
	Timestamp        time.Time       `json:"timestamp"`
	ResponseStatus   int             `json:"responseStatus"`
	ResponseTimeMs   int64           `json:"responseTimeMs"`
	PaymentSignature string          `json:"paymentSignature,omitempty"`
	PaymentAmount    decimal.Decimal `json:"paymentAmount,omitempty"`
}

// BaseUnits converts a settlement-token amount to its integer smallest-unit
// representation, flooring any sub-unit remainder. Negative amounts are
// rejected.
func BaseUnits(amount decimal.Decimal, decimals int32) (uint64, error) {
	if amount.IsNegative() {
		return 0, ErrInvalidAmount
	}
	shifted := amount.Shift(decimals).Floor()
	bi := shifted.BigInt()
	if !bi.IsUint64() {
		return 0, ErrInvalidAmount
	}
	return bi.Uint64(), nil
}

// AmountFromRaw converts a raw on-chain integer amount string into
// settlement-token units for the given decimal precision.
func AmountFromRaw(raw string, decimals int32) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d.Shift(-decimals), nil
}

// WithinTolerance reports whether two amounts differ by no more than
// AmountTolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(AmountTolerance)
}
