package model

import "github.com/ethereum/go-ethereum/common"

// TokenMeta captures ERC20 metadata.
type TokenMeta struct {
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
	Symbol   string         `json:"symbol"`
}

// Label returns the symbol, falling back to the short address.
func (m TokenMeta) Label() string {
	if m.Symbol != "" {
		return m.Symbol
	}
	hex := m.Address.Hex()
	return hex[:6] + ".." + hex[len(hex)-4:]
}
