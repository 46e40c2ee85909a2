// Package gateway exposes the marketplace HTTP surface: the payment-gated
// proxy flow, listing management, usage reporting, earnings payout, and
// wallet probes. All handlers are thin: state lives in the injected store,
// ledger, verifier, and payout dependencies.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/fluxapi/fluxgate"
	"github.com/fluxapi/fluxgate/payments"
	"github.com/fluxapi/fluxgate/store"
)

// MetadataSource resolves API metadata by content address. Satisfied by
// *ipfs.Client.
type MetadataSource interface {
	Fetch(ctx context.Context, cid string) (*fluxgate.Metadata, error)
}

// PaymentVerifier checks a payment signature against an expected amount.
// Satisfied by *payments.Verifier.
type PaymentVerifier interface {
	Verify(ctx context.Context, signature string, expectedAmount decimal.Decimal, maxAge time.Duration) (*payments.Receipt, error)
}

// Claimer executes an earnings payout. Satisfied by *payments.Payout.
type Claimer interface {
	Claim(ctx context.Context, apiID string) (*payments.Claim, error)
}

// Wallet covers the read-only ledger probes the gateway serves directly.
// Satisfied by *ledger.Client.
type Wallet interface {
	TokenBalance(ctx context.Context, owner solana.PublicKey) (decimal.Decimal, error)
	Slot(ctx context.Context) (uint64, error)
}

// Server wires the HTTP routes to the marketplace dependencies.
type Server struct {
	store    store.Store
	metadata MetadataSource
	verifier PaymentVerifier
	payout   Claimer
	wallet   Wallet
	logger   *slog.Logger

	// recipient is the operator wallet payments must land in.
	recipient string
	mint      string
	cluster   fluxgate.Cluster
	keySecret string
	maxAge    time.Duration

	// upstream issues the proxied calls to provider endpoints.
	upstream *http.Client
}

// Options carries the non-dependency knobs for a Server.
type Options struct {
	Recipient       string
	Mint            string
	Cluster         fluxgate.Cluster
	KeySecret       string
	FreshnessWindow time.Duration
}

// NewServer builds the gateway server. A nil logger falls back to the
// process default.
func NewServer(st store.Store, metadata MetadataSource, verifier PaymentVerifier, payout Claimer, wallet Wallet, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	maxAge := opts.FreshnessWindow
	if maxAge <= 0 {
		maxAge = fluxgate.DefaultFreshnessWindow
	}
	return &Server{
		store:     st,
		metadata:  metadata,
		verifier:  verifier,
		payout:    payout,
		wallet:    wallet,
		logger:    logger,
		recipient: opts.Recipient,
		mint:      opts.Mint,
		cluster:   opts.Cluster,
		keySecret: opts.KeySecret,
		maxAge:    maxAge,
		upstream:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/fluxapi/payment-info", s.paymentInfo)
	r.POST("/fluxapi/", s.invoke)
	r.GET("/fluxapi/health/:cid", s.apiHealth)

	r.POST("/store-listing", s.storeListing)
	r.GET("/listings", s.listings)
	r.POST("/keygen", s.keygenHandler)
	r.GET("/usage/:apiId", s.usage)

	r.POST("/claim", s.claim)
	r.POST("/earnings", s.earnings)
	r.GET("/balance/:address", s.balance)
	r.GET("/health", s.health)

	return r
}

// statusFor maps the error taxonomy onto HTTP statuses. Anything outside
// the taxonomy is an internal failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, fluxgate.ErrMissingCid),
		errors.Is(err, fluxgate.ErrInvalidAddress),
		errors.Is(err, fluxgate.ErrInvalidAmount),
		errors.Is(err, fluxgate.ErrNothingToClaim):
		return http.StatusBadRequest
	case errors.Is(err, fluxgate.ErrAPINotFound),
		errors.Is(err, fluxgate.ErrInvalidMetadata),
		errors.Is(err, fluxgate.ErrListingNotFound):
		return http.StatusNotFound
	case errors.Is(err, fluxgate.ErrPaymentRequired),
		errors.Is(err, fluxgate.ErrMalformedSignature),
		errors.Is(err, fluxgate.ErrTransactionNotFound),
		errors.Is(err, fluxgate.ErrTransactionExpired),
		errors.Is(err, fluxgate.ErrOnChainFailure),
		errors.Is(err, fluxgate.ErrNoBalanceData),
		errors.Is(err, fluxgate.ErrAmountMismatch),
		errors.Is(err, fluxgate.ErrAmbiguousBalance),
		errors.Is(err, fluxgate.ErrSignatureConsumed):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the standard error envelope for err and logs server-side
// failures.
func (s *Server) fail(c *gin.Context, err error, msg string) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error(msg, "error", err, "path", c.Request.URL.Path)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": msg, "details": err.Error()})
}
