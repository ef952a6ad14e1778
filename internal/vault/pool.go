package vault

import (
	"github.com/alanyoungcy/batchsettle/internal/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// FixedRatePool trades TokenA for TokenB at Numerator/Denominator B per A,
// and the reverse at the inverse rate. Amounts paid out round down, amounts
// taken in round up.
type FixedRatePool struct {
	TokenA      common.Address
	TokenB      common.Address
	Numerator   *uint256.Int
	Denominator *uint256.Int
}

// OnSwap implements Pool.
func (p *FixedRatePool) OnSwap(kind SwapKind, tokenIn, tokenOut common.Address, amount, _, _ *uint256.Int) (*uint256.Int, error) {
	var num, den *uint256.Int
	switch {
	case tokenIn == p.TokenA && tokenOut == p.TokenB:
		num, den = p.Numerator, p.Denominator
	case tokenIn == p.TokenB && tokenOut == p.TokenA:
		num, den = p.Denominator, p.Numerator
	default:
		return nil, chain.Revertf("vault: token not in pool")
	}
	if num.IsZero() || den.IsZero() {
		return nil, chain.Revertf("vault: pool rate is zero")
	}

	if kind == GivenIn {
		out, overflow := new(uint256.Int).MulDivOverflow(amount, num, den)
		if overflow {
			return nil, chain.Revertf("vault: swap amount overflow")
		}
		return out, nil
	}

	in, overflow := new(uint256.Int).MulDivOverflow(amount, den, num)
	if overflow {
		return nil, chain.Revertf("vault: swap amount overflow")
	}
	if !new(uint256.Int).MulMod(amount, den, num).IsZero() {
		in.AddUint64(in, 1)
	}
	return in, nil
}
