package settlement

import (
	"math/big"

	"github.com/alanyoungcy/batchsettle/internal/chain"
	"github.com/alanyoungcy/batchsettle/internal/order"
	"github.com/alanyoungcy/batchsettle/internal/signing"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// InvalidatedFill is the fill state of an invalidated order. No legitimate
// fill reaches it since fills are bounded by order amounts.
var InvalidatedFill = new(uint256.Int).SetAllOne()

// Execution is the outcome of one trade: what the owner pays (fee
// included) and what the receiver gets.
type Execution struct {
	UID        order.UID
	Owner      common.Address
	Receiver   common.Address
	SellToken  common.Address
	BuyToken   common.Address
	SellAmount uint256.Int
	BuyAmount  uint256.Int
	FeeAmount  uint256.Int
}

// limitRespected checks sellAmount*sellPrice >= buyAmount*buyPrice without
// truncating the products.
func limitRespected(o *order.Order, sellPrice, buyPrice *uint256.Int) bool {
	lhs := new(big.Int).Mul(o.SellAmount.ToBig(), sellPrice.ToBig())
	rhs := new(big.Int).Mul(o.BuyAmount.ToBig(), buyPrice.ToBig())
	return lhs.Cmp(rhs) >= 0
}

// mulDiv returns floor(x*y/d), or ceil when roundUp is set.
func mulDiv(x, y, d *uint256.Int, roundUp bool) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, chain.NewRevert(ErrZeroClearingPrice)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, chain.NewRevert(ErrAmountOverflow)
	}
	if roundUp && !new(uint256.Int).MulMod(x, y, d).IsZero() {
		if _, overflow := z.AddOverflow(z, uint256.NewInt(1)); overflow {
			return nil, chain.NewRevert(ErrAmountOverflow)
		}
	}
	return z, nil
}

// partialFee is the pro-rata share of fee for executed out of total.
func partialFee(fee, executed, total *uint256.Int) (*uint256.Int, error) {
	if total.IsZero() {
		return new(uint256.Int), nil
	}
	return mulDiv(fee, executed, total, false)
}

// executeTrade applies one verified trade at the batch's clearing prices,
// records its fill and emits its Trade event.
func (s *Settlement) executeTrade(env *chain.Env, rec *signing.Recovered, t *order.Trade, sellPrice, buyPrice *uint256.Int) (*Execution, error) {
	o := &t.Order
	if uint64(o.ValidTo) < env.Host.Time() {
		return nil, chain.NewRevert(ErrOrderExpired)
	}
	if !limitRespected(o, sellPrice, buyPrice) {
		return nil, chain.NewRevert(ErrLimitPriceNotRespected)
	}

	var (
		executedSell, executedBuy, fee *uint256.Int
		delta, bound                   *uint256.Int
		err                            error
	)
	if o.Kind == order.KindSell {
		bound = &o.SellAmount
		if o.PartiallyFillable {
			executedSell = t.ExecutedAmount.Clone()
			if fee, err = partialFee(&o.FeeAmount, executedSell, bound); err != nil {
				return nil, err
			}
		} else {
			executedSell = o.SellAmount.Clone()
			fee = o.FeeAmount.Clone()
		}
		if executedBuy, err = mulDiv(executedSell, sellPrice, buyPrice, false); err != nil {
			return nil, err
		}
		delta = executedSell
	} else {
		bound = &o.BuyAmount
		if o.PartiallyFillable {
			executedBuy = t.ExecutedAmount.Clone()
			if fee, err = partialFee(&o.FeeAmount, executedBuy, bound); err != nil {
				return nil, err
			}
		} else {
			executedBuy = o.BuyAmount.Clone()
			fee = o.FeeAmount.Clone()
		}
		if executedSell, err = mulDiv(executedBuy, buyPrice, sellPrice, true); err != nil {
			return nil, err
		}
		delta = executedBuy
	}

	if err := s.addFill(rec.UID, delta, bound); err != nil {
		return nil, err
	}

	exec := &Execution{
		UID:       rec.UID,
		Owner:     rec.Owner,
		Receiver:  o.ActualReceiver(rec.Owner),
		SellToken: o.SellToken,
		BuyToken:  o.BuyToken,
	}
	if _, overflow := exec.SellAmount.AddOverflow(executedSell, fee); overflow {
		return nil, chain.NewRevert(ErrAmountOverflow)
	}
	exec.BuyAmount.Set(executedBuy)
	exec.FeeAmount.Set(fee)

	if err := s.emitTrade(env, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// addFill adds delta to the fill state of uid, failing if the result would
// pass bound or the invalidation sentinel.
func (s *Settlement) addFill(uid order.UID, delta, bound *uint256.Int) error {
	filled := s.FilledAmount(uid)
	next, overflow := new(uint256.Int).AddOverflow(filled, delta)
	if overflow || next.Gt(bound) {
		return chain.NewRevert(ErrFillExceedsOrderSize)
	}
	s.filled.Set(uid, next)
	return nil
}
