package fluxgate

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds the gateway configuration, loaded from the environment.
type Config struct {
	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string `validate:"required"`

	// Cluster selects the Solana network.
	Cluster Cluster `validate:"required"`

	// RPCURL is the Solana JSON-RPC endpoint.
	RPCURL string `validate:"required,url"`

	// PaymentWallet is the operator address that receives per-call payments.
	PaymentWallet string `validate:"required"`

	// PrivateKey is the operator signing key used for payouts: base58,
	// Solana keygen JSON array, or a BIP-39 mnemonic phrase.
	PrivateKey string `validate:"required"`

	// USDCMint is the settlement-token mint address for the cluster.
	USDCMint string `validate:"required"`

	// MetadataGateway is the content-addressed store base URL.
	MetadataGateway string `validate:"required,url"`

	// DatabasePath selects the persistent store. Empty selects the
	// in-memory store (data is lost on restart).
	DatabasePath string

	// KeySecret is the operator secret the upstream access credentials are
	// derived under.
	KeySecret string `validate:"required"`

	// FreshnessWindow bounds the accepted age of payment transactions.
	FreshnessWindow time.Duration `validate:"required"`
}

// LoadConfig reads configuration from a .env file (if present) and the
// process environment. Cluster-specific defaults fill in the RPC endpoint
// and the settlement mint when unset.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cluster := Cluster(envOr("SOLANA_CLUSTER", string(ClusterDevnet)))
	if !cluster.Valid() {
		return nil, fmt.Errorf("unknown SOLANA_CLUSTER %q", cluster)
	}

	cfg := &Config{
		ListenAddr:      envOr("FLUXGATE_ADDR", ":4021"),
		Cluster:         cluster,
		RPCURL:          envOr("SOLANA_RPC_URL", cluster.DefaultRPCURL()),
		PaymentWallet:   os.Getenv("SOLANA_PAYMENT_WALLET"),
		PrivateKey:      os.Getenv("SOLANA_PRIVATE_KEY"),
		USDCMint:        envOr("SOLANA_USDC_MINT", cluster.DefaultUSDCMint()),
		MetadataGateway: os.Getenv("IPFS_GATEWAY_URL"),
		DatabasePath:    os.Getenv("DATABASE_PATH"),
		KeySecret:       os.Getenv("FLUXGATE_KEY_SECRET"),
		FreshnessWindow: DefaultFreshnessWindow,
	}

	if raw := os.Getenv("PAYMENT_MAX_AGE"); raw != "" {
		window, err := time.ParseDuration(raw)
		if err != nil || window <= 0 {
			return nil, fmt.Errorf("invalid PAYMENT_MAX_AGE %q", raw)
		}
		cfg.FreshnessWindow = window
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
