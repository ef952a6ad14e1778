package vault

import (
	"context"
	"math/big"

	"github.com/alanyoungcy/batchsettle/internal/chain"
	"github.com/alanyoungcy/batchsettle/internal/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SwapKind says which side of each swap step is given.
type SwapKind uint8

const (
	GivenIn SwapKind = iota
	GivenOut
)

// BatchSwapStep is one hop of a batch swap. A zero Amount takes the amount
// calculated by the previous step. Field order follows the ABI tuple.
type BatchSwapStep struct {
	PoolId        [32]byte
	AssetInIndex  *big.Int
	AssetOutIndex *big.Int
	Amount        *big.Int
	UserData      []byte
}

// FundManagement says where swap inputs come from and outputs go to.
type FundManagement struct {
	Sender              common.Address
	FromInternalBalance bool
	Recipient           common.Address
	ToInternalBalance   bool
}

type batchSwapArgs struct {
	Kind     uint8
	Swaps    []BatchSwapStep
	Assets   []common.Address
	Funds    FundManagement
	Limits   []*big.Int
	Deadline *big.Int
}

// BatchSwapCall builds batchSwap calldata.
func BatchSwapCall(kind SwapKind, swaps []BatchSwapStep, assets []common.Address, funds FundManagement, limits []*big.Int, deadline *big.Int) ([]byte, error) {
	return ABI.Pack("batchSwap", uint8(kind), swaps, assets, funds, limits, deadline)
}

// UnpackAssetDeltas decodes the return data of batchSwap.
func UnpackAssetDeltas(ret []byte) ([]*big.Int, error) {
	values, err := ABI.Methods["batchSwap"].Outputs.Unpack(ret)
	if err != nil {
		return nil, err
	}
	return values[0].([]*big.Int), nil
}

// Pool prices a single swap step given its current reserves.
type Pool interface {
	OnSwap(kind SwapKind, tokenIn, tokenOut common.Address, amount, balanceIn, balanceOut *uint256.Int) (*uint256.Int, error)
}

// RegisterPool makes pool tradable under id.
func (v *Vault) RegisterPool(id common.Hash, pool Pool) {
	v.pools[id] = pool
}

// PoolBalance returns the reserve of token held for pool id.
func (v *Vault) PoolBalance(id common.Hash, tok common.Address) *uint256.Int {
	if b, ok := v.poolBalances.Get(poolKey{id, tok}); ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// AddLiquidity credits a pool reserve directly. The vault must hold the
// matching tokens. It is used at genesis and by tests.
func (v *Vault) AddLiquidity(id common.Hash, tok common.Address, amount *uint256.Int) {
	bal := v.PoolBalance(id, tok)
	v.poolBalances.Set(poolKey{id, tok}, bal.Add(bal, amount))
}

func (v *Vault) batchSwap(ctx context.Context, env *chain.Env, in *batchSwapArgs) ([]*big.Int, error) {
	if in.Deadline == nil || in.Deadline.Cmp(new(big.Int).SetUint64(env.Host.Time())) < 0 {
		return nil, chain.NewRevert(ErrSwapDeadline)
	}
	if len(in.Limits) != len(in.Assets) {
		return nil, chain.NewRevert(ErrMalformedSwap)
	}
	if err := v.authenticate(env, in.Funds.Sender); err != nil {
		return nil, err
	}
	kind := SwapKind(in.Kind)
	if kind != GivenIn && kind != GivenOut {
		return nil, chain.NewRevert(ErrMalformedSwap)
	}

	deltas := make([]*big.Int, len(in.Assets))
	for i := range deltas {
		deltas[i] = new(big.Int)
	}

	var (
		prevToken  common.Address
		prevAmount *uint256.Int
	)
	for i, step := range in.Swaps {
		inIdx, outIdx := step.AssetInIndex, step.AssetOutIndex
		if !inIdx.IsUint64() || !outIdx.IsUint64() || inIdx.Uint64() >= uint64(len(in.Assets)) || outIdx.Uint64() >= uint64(len(in.Assets)) {
			return nil, chain.NewRevert(ErrIndexOutOfBounds)
		}
		tokenIn, tokenOut := in.Assets[inIdx.Uint64()], in.Assets[outIdx.Uint64()]
		if tokenIn == tokenOut {
			return nil, chain.NewRevert(ErrSameToken)
		}

		amount := chain.ToU256(step.Amount)
		if amount.IsZero() {
			if i == 0 {
				return nil, chain.NewRevert(ErrUnknownAmountInFirstSwap)
			}
			given := tokenIn
			if kind == GivenOut {
				given = tokenOut
			}
			if given != prevToken {
				return nil, chain.NewRevert(ErrMalformedSwap)
			}
			amount = prevAmount
		}

		id := common.Hash(step.PoolId)
		pool, ok := v.pools[id]
		if !ok {
			return nil, chain.NewRevert(ErrUnknownPool)
		}
		balIn, balOut := v.PoolBalance(id, tokenIn), v.PoolBalance(id, tokenOut)
		calculated, err := pool.OnSwap(kind, tokenIn, tokenOut, amount, balIn, balOut)
		if err != nil {
			return nil, err
		}

		amountIn, amountOut := amount, calculated
		prevToken = tokenOut
		if kind == GivenOut {
			amountIn, amountOut = calculated, amount
			prevToken = tokenIn
		}
		prevAmount = calculated

		if balOut.Lt(amountOut) {
			return nil, chain.NewRevert(ErrInsufficientLiquidity)
		}
		v.poolBalances.Set(poolKey{id, tokenIn}, new(uint256.Int).Add(balIn, amountIn))
		v.poolBalances.Set(poolKey{id, tokenOut}, new(uint256.Int).Sub(balOut, amountOut))
		if err := chain.EmitEvent(env, ABI.Events["Swap"],
			[]common.Hash{id, chain.AddressTopic(tokenIn), chain.AddressTopic(tokenOut)},
			amountIn.ToBig(), amountOut.ToBig()); err != nil {
			return nil, err
		}

		deltas[inIdx.Uint64()].Add(deltas[inIdx.Uint64()], amountIn.ToBig())
		deltas[outIdx.Uint64()].Sub(deltas[outIdx.Uint64()], amountOut.ToBig())
	}

	for i, d := range deltas {
		if d.Cmp(in.Limits[i]) > 0 {
			return nil, chain.NewRevert(ErrSwapLimit)
		}
	}

	for i, d := range deltas {
		asset := in.Assets[i]
		switch d.Sign() {
		case 1:
			amount := chain.ToU256(d)
			if in.Funds.FromInternalBalance {
				if err := v.debitInternal(env, in.Funds.Sender, asset, amount); err != nil {
					return nil, err
				}
			} else if err := token.SafeTransferFrom(ctx, env, asset, in.Funds.Sender, env.Address, amount); err != nil {
				return nil, err
			}
		case -1:
			amount := chain.ToU256(new(big.Int).Neg(d))
			if in.Funds.ToInternalBalance {
				if err := v.creditInternal(env, in.Funds.Recipient, asset, amount); err != nil {
					return nil, err
				}
			} else if err := token.SafeTransfer(ctx, env, asset, in.Funds.Recipient, amount); err != nil {
				return nil, err
			}
		}
	}
	return deltas, nil
}
