package events

import (
	"math/big"
	"strings"

	"stakeledger/crypto"
)

func normalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatAddress(raw [20]byte) string {
	return crypto.AddressFromRaw(raw).String()
}

func zeroAddress(raw [20]byte) bool {
	return raw == [20]byte{}
}
