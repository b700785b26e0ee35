// Package networks holds the compiled-in registry of supported EVM networks.
// Each entry carries the canonical stablecoin contract used for membership
// payments on that chain. Token decimals are deliberately absent: precision
// is always read from the contract at payment time, never assumed here.
package networks

import "fmt"

// Info describes one supported network.
type Info struct {
	ChainID         int64
	Name            string
	ExplorerBaseURL string
	TokenContract   string
	TokenSymbol     string
}

// registry is ordered by preference for display purposes.
// Contract addresses are the canonical issuer deployments per network.
var registry = []Info{
	{
		ChainID:         1,
		Name:            "Ethereum",
		ExplorerBaseURL: "https://etherscan.io",
		TokenContract:   "0xdAC17F958D2ee523a2206206994597C13D831ec7",
		TokenSymbol:     "USDT",
	},
	{
		ChainID:         56,
		Name:            "BNB Smart Chain",
		ExplorerBaseURL: "https://bscscan.com",
		TokenContract:   "0x55d398326f99059fF775485246999027B3197955",
		TokenSymbol:     "USDT",
	},
	{
		ChainID:         137,
		Name:            "Polygon",
		ExplorerBaseURL: "https://polygonscan.com",
		TokenContract:   "0xc2132D05D31c914a87C6611C10748AEb04B58e8F",
		TokenSymbol:     "USDT",
	},
	{
		ChainID:         8453,
		Name:            "Base",
		ExplorerBaseURL: "https://basescan.org",
		TokenContract:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		TokenSymbol:     "USDC",
	},
	{
		ChainID:         42161,
		Name:            "Arbitrum One",
		ExplorerBaseURL: "https://arbiscan.io",
		TokenContract:   "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9",
		TokenSymbol:     "USDT",
	},
}

var byChainID = func() map[int64]Info {
	m := make(map[int64]Info, len(registry))
	for _, info := range registry {
		m[info.ChainID] = info
	}
	return m
}()

// Lookup returns the registry entry for a chain id.
func Lookup(chainID int64) (Info, bool) {
	info, ok := byChainID[chainID]
	return info, ok
}

// Supported returns all registry entries in display order.
func Supported() []Info {
	out := make([]Info, len(registry))
	copy(out, registry)
	return out
}

// IsSupported reports whether a chain id is in the registry.
func IsSupported(chainID int64) bool {
	_, ok := byChainID[chainID]
	return ok
}

// ExplorerTxURL builds a block explorer link for a transaction hash.
// The hash and chain id are the stable identifiers a user keeps when a
// payment outlives the UI session.
func (i Info) ExplorerTxURL(txHash string) string {
	return fmt.Sprintf("%s/tx/%s", i.ExplorerBaseURL, txHash)
}
