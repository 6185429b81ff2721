// Package chains holds the static chain registry: the networks BioWallet
// knows how to transact on, their native token parameters, and the lookup
// rules that turn a spoken chain name into a chain ID.
package chains

import (
	"fmt"
	"strconv"
	"strings"
)

// Chain IDs for the supported networks.
const (
	SonicChainID        = 64165
	SonicBlazeTestnetID = 57054
	BaseChainID         = 8453
	BaseSepoliaChainID  = 84532
)

// Config describes one supported chain.
type Config struct {
	Name                string
	BlockExplorer       string
	NativeTokenSymbol   string
	NativeTokenName     string
	NativeTokenDecimals int
}

// Registry maps chain ID to its configuration.
var Registry = map[int]Config{
	SonicChainID: {
		Name:                "Sonic Chain",
		BlockExplorer:       "https://explorer.sonic.fan",
		NativeTokenSymbol:   "ETH",
		NativeTokenName:     "Sonic Ether",
		NativeTokenDecimals: 18,
	},
	SonicBlazeTestnetID: {
		Name:                "Sonic Blaze Testnet",
		BlockExplorer:       "https://testnet.sonicscan.org",
		NativeTokenSymbol:   "S",
		NativeTokenName:     "Sonic",
		NativeTokenDecimals: 18,
	},
	BaseChainID: {
		Name:                "Base",
		BlockExplorer:       "https://basescan.org",
		NativeTokenSymbol:   "ETH",
		NativeTokenName:     "Ether",
		NativeTokenDecimals: 18,
	},
	BaseSepoliaChainID: {
		Name:                "Base Sepolia",
		BlockExplorer:       "https://sepolia.basescan.org",
		NativeTokenSymbol:   "ETH",
		NativeTokenName:     "Sepolia Ether",
		NativeTokenDecimals: 18,
	},
}

// Get returns the config for a chain ID, falling back to the Sonic chain
// entry for unknown IDs so display code always has token parameters.
func Get(chainID int) Config {
	if c, ok := Registry[chainID]; ok {
		return c
	}
	return Registry[SonicChainID]
}

// Supported reports whether the chain ID is in the registry.
func Supported(chainID int) bool {
	_, ok := Registry[chainID]
	return ok
}

// nameIndex is lowercased chain name -> ID, built once at init.
var nameIndex = func() map[string]int {
	idx := make(map[string]int, len(Registry))
	for id, cfg := range Registry {
		idx[strings.ToLower(cfg.Name)] = id
	}
	return idx
}()

// Resolve turns a spoken or typed chain identifier into a chain ID.
// Raw numeric strings are taken verbatim when they name a supported
// chain. Otherwise the name index is consulted case-insensitively, with
// substring containment in both directions as a fallback so "base chain"
// still resolves to Base.
func Resolve(identifier string) (int, error) {
	s := strings.TrimSpace(identifier)
	if s == "" {
		return 0, fmt.Errorf("empty chain identifier")
	}

	if id, err := strconv.Atoi(s); err == nil {
		if Supported(id) {
			return id, nil
		}
		return 0, fmt.Errorf("unsupported chain id %d", id)
	}

	lower := strings.ToLower(s)
	if id, ok := nameIndex[lower]; ok {
		return id, nil
	}

	// Containment fallback. "Base" must not swallow "Base Sepolia", so
	// exact-name misses prefer the shortest registered name that matches.
	bestID, bestLen := 0, -1
	for name, id := range nameIndex {
		if strings.Contains(lower, name) || strings.Contains(name, lower) {
			if bestLen == -1 || len(name) < bestLen {
				bestID, bestLen = id, len(name)
			}
		}
	}
	if bestLen >= 0 {
		return bestID, nil
	}

	return 0, fmt.Errorf("unrecognized chain %q", identifier)
}
