package fluxgate

import "fmt"

// Cluster identifies the Solana network the gateway settles on.
type Cluster string

const (
	ClusterDevnet  Cluster = "devnet"
	ClusterMainnet Cluster = "mainnet-beta"
)

// clusterInfo carries the network-specific defaults for a cluster.
type clusterInfo struct {
	rpcURL   string
	usdcMint string
}

var clusters = map[Cluster]clusterInfo{
	ClusterDevnet: {
		rpcURL:   "https://api.devnet.solana.com",
		usdcMint: "Gh9ZwEmdLJ8DscKNTkTqPbNwLNNBjuSzaG9Vp2KGtKJr",
	},
	ClusterMainnet: {
		rpcURL:   "https://api.mainnet-beta.solana.com",
		usdcMint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	},
}

// Valid reports whether the cluster is a known Solana network.
func (c Cluster) Valid() bool {
	_, ok := clusters[c]
	return ok
}

// DefaultRPCURL returns the public RPC endpoint for the cluster.
func (c Cluster) DefaultRPCURL() string {
	return clusters[c].rpcURL
}

// DefaultUSDCMint returns the settlement-token mint address for the cluster.
func (c Cluster) DefaultUSDCMint() string {
	return clusters[c].usdcMint
}

// ExplorerTxURL returns a human-readable explorer link for a transaction
// signature, for payout audit trails.
func (c Cluster) ExplorerTxURL(signature string) string {
	return fmt.Sprintf("https://explorer.solana.com/tx/%s?cluster=%s", signature, c)
}
