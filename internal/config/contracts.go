package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Mainnet deployment of the protocol.
const (
	MainnetFactory = "0x8bF266ED803e474AE7Bf09ADB5ba2566c489223d"
	MainnetOracle  = "0x049ad7Ff0c6BdbaB86baf4b1A5a5cA975e234FCA"
	MainnetSwap    = "0xeb5AD3D93E59eFcbC6934caD2B48EB33BAf29745"
)

var knownTokens = map[string]common.Address{
	"USDC": common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
	"GHO":  common.HexToAddress("0x40D16FC0246aD3160Ccc09B8D0D3A2cD28aE6C2f"),
	"USDT": common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"),
	"DAI":  common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
}

// Contracts is the immutable address set shared by every component.
type Contracts struct {
	Factory common.Address
	Oracle  common.Address
	Swap    common.Address
	// Vault pins the vault and skips discovery when non-zero.
	Vault common.Address
}

// NewContracts builds the address set, falling back to mainnet for blank entries.
func NewContracts(cfg Config) (Contracts, error) {
	factory, err := addressOr(cfg.Factory, MainnetFactory, "factory")
	if err != nil {
		return Contracts{}, err
	}
	oracle, err := addressOr(cfg.Oracle, MainnetOracle, "oracle")
	if err != nil {
		return Contracts{}, err
	}
	swap, err := addressOr(cfg.Swap, MainnetSwap, "swap")
	if err != nil {
		return Contracts{}, err
	}
	c := Contracts{Factory: factory, Oracle: oracle, Swap: swap}
	if strings.TrimSpace(cfg.Vault) != "" {
		c.Vault, err = ParseAddress(cfg.Vault)
		if err != nil {
			return Contracts{}, fmt.Errorf("vault: %w", err)
		}
	}
	return c, nil
}

// VaultPinned reports whether the vault address was configured explicitly.
func (c Contracts) VaultPinned() bool {
	return c.Vault != (common.Address{})
}

func addressOr(input, fallback, name string) (common.Address, error) {
	if strings.TrimSpace(input) == "" {
		input = fallback
	}
	addr, err := ParseAddress(input)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", name, err)
	}
	return addr, nil
}

// ParseAddress converts a hex string into common.Address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %s", input)
	}
	return common.HexToAddress(input), nil
}

// ParseToken accepts either a hex address or a known stablecoin symbol.
func ParseToken(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if addr, ok := knownTokens[strings.ToUpper(input)]; ok {
		return addr, nil
	}
	if common.IsHexAddress(input) {
		return common.HexToAddress(input), nil
	}
	return common.Address{}, fmt.Errorf("unknown token %q (known: %s)", input, strings.Join(KnownSymbols(), ", "))
}

// KnownSymbols lists the symbols accepted by ParseToken.
func KnownSymbols() []string {
	out := make([]string, 0, len(knownTokens))
	for sym := range knownTokens {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
