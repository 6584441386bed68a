package staking

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	coreerrors "stakeledger/core/errors"
)

// precision is the fixed-point scale shared by the accumulator and the
// emission rate.
var precision = uint256.NewInt(1_000_000_000_000_000_000)

func mulDiv(x, y, d *uint256.Int) (uint256.Int, error) {
	var out uint256.Int
	if d.IsZero() {
		return out, nil
	}
	if _, overflow := out.MulDivOverflow(x, y, d); overflow {
		return uint256.Int{}, coreerrors.ErrArithmeticOverflow
	}
	return out, nil
}

func add(x, y *uint256.Int) (uint256.Int, error) {
	var out uint256.Int
	if _, overflow := out.AddOverflow(x, y); overflow {
		return uint256.Int{}, coreerrors.ErrArithmeticOverflow
	}
	return out, nil
}

func sub(x, y *uint256.Int) (uint256.Int, error) {
	var out uint256.Int
	if _, underflow := out.SubOverflow(x, y); underflow {
		return uint256.Int{}, coreerrors.ErrArithmeticOverflow
	}
	return out, nil
}

// toAmount converts a caller supplied amount into the ledger's integer domain.
func toAmount(v *big.Int) (*uint256.Int, error) {
	if v == nil || v.Sign() <= 0 {
		return nil, coreerrors.ErrInvalidAmount
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("amount %s: %w", v, coreerrors.ErrArithmeticOverflow)
	}
	return out, nil
}

func toBig(v uint256.Int) *big.Int {
	return v.ToBig()
}
