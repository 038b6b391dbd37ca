package domain

import "strings"

// NetworkAliases maps user-facing chain names to the feed's network ids.
var NetworkAliases = map[string]string{
	"solana":    "solana",
	"sol":       "solana",
	"ethereum":  "eth",
	"eth":       "eth",
	"bsc":       "bsc",
	"binance":   "bsc",
	"polygon":   "polygon",
	"matic":     "polygon",
	"arbitrum":  "arbitrum",
	"optimism":  "optimism",
	"avalanche": "avax",
	"avax":      "avax",
}

// SolanaTokenAddresses maps friendly symbols to well-known Solana mints.
// On-chain price updates for these mints are cached under the symbol too,
// so lookups work by either key.
var SolanaTokenAddresses = map[string]string{
	"sol":  "So11111111111111111111111111111111111111112",
	"usdc": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	"usdt": "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
	"bonk": "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263",
	"jup":  "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN",
	"pyth": "HZ1JovNiVvGrGNiiYvEozEVgZ58xaU3RKwX8eACQBCt3",
	"jto":  "jtojtomepa8beP8AuQc6eXt5FriJwfFMwQx2v2f9mCL",
	"wen":  "WENWENvqqNya429ubCdR81ZmD69brwQaaBYY6p3LCpk",
}

// ResolveNetwork normalizes a chain name to the feed's network id.
// Unknown names pass through lowercased.
func ResolveNetwork(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if id, ok := NetworkAliases[n]; ok {
		return id
	}
	return n
}

// SymbolForAddress returns the friendly symbol for a well-known mint address,
// if there is one. The comparison is case-insensitive.
func SymbolForAddress(address string) (string, bool) {
	for sym, addr := range SolanaTokenAddresses {
		if strings.EqualFold(address, addr) {
			return sym, true
		}
	}
	return "", false
}
