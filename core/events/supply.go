package events

import (
	"math/big"

	"stakeledger/core/types"
)

// TypeTokenSupply is emitted when genesis minting grows the token supply.
const TypeTokenSupply = "token.supply"

// TokenSupply records a mint into To and the supply it produced. The ledger
// never burns, so Supply only grows.
type TokenSupply struct {
	Asset  string
	To     [20]byte
	Minted *big.Int
	Supply *big.Int
}

func (TokenSupply) EventType() string { return TypeTokenSupply }

func (e TokenSupply) Event() *types.Event {
	attrs := map[string]string{
		"to":     formatAddress(e.To),
		"minted": formatAmount(e.Minted),
		"supply": formatAmount(e.Supply),
	}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	return &types.Event{Type: TypeTokenSupply, Attributes: attrs}
}
