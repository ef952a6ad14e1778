package settlement

import (
	"context"
	"math/big"

	"github.com/alanyoungcy/batchsettle/internal/chain"
	"github.com/alanyoungcy/batchsettle/internal/order"
	"github.com/alanyoungcy/batchsettle/internal/vault"
	"github.com/ethereum/go-ethereum/common"
)

type swapArgs struct {
	Swaps  []vault.BatchSwapStep
	Tokens []common.Address
	Trade  []byte
}

// swap settles a single order directly against vault liquidity. The order
// must be unfilled and is filled completely: sell orders sell exactly their
// sell amount, buy orders buy exactly their buy amount, and the vault's
// swap limits enforce the order's limit price.
func (s *Settlement) swap(ctx context.Context, env *chain.Env, in *swapArgs) error {
	release, err := s.guard.enter()
	if err != nil {
		return err
	}
	defer release()
	if err := s.onlySolver(ctx, env); err != nil {
		return err
	}

	var t order.Trade
	if err := order.DecodeTrade(in.Tokens, in.Trade, &t); err != nil {
		return chain.NewRevert(err)
	}
	o := &t.Order
	rec, err := s.verifier.Recover(ctx, env, s.domain, o, t.SigningScheme, t.Signature)
	if err != nil {
		return err
	}
	if uint64(o.ValidTo) < env.Host.Time() {
		return chain.NewRevert(ErrOrderExpired)
	}
	if !s.FilledAmount(rec.UID).IsZero() {
		return chain.NewRevert(ErrFillExceedsOrderSize)
	}

	kind := vault.GivenIn
	if o.Kind == order.KindBuy {
		kind = vault.GivenOut
	}
	limits := make([]*big.Int, len(in.Tokens))
	for i := range limits {
		limits[i] = new(big.Int)
	}
	limits[t.SellTokenIndex] = o.SellAmount.ToBig()
	limits[t.BuyTokenIndex] = new(big.Int).Neg(o.BuyAmount.ToBig())

	funds := vault.FundManagement{
		Sender:              rec.Owner,
		FromInternalBalance: o.SellTokenBalance == order.BalanceInternal,
		Recipient:           o.ActualReceiver(rec.Owner),
		ToInternalBalance:   o.BuyTokenBalance == order.BalanceInternal,
	}
	fee := newTransfer(rec.Owner, o.SellToken, &o.FeeAmount, o.SellTokenBalance)

	input, err := batchSwapWithFeeCall(kind, in.Swaps, in.Tokens, funds, limits, new(big.Int).SetUint64(uint64(o.ValidTo)), fee)
	if err != nil {
		return err
	}
	ret, err := env.Call(ctx, s.relayer, nil, input)
	if err != nil {
		return err
	}
	values, err := RelayerABI.Methods["batchSwapWithFee"].Outputs.Unpack(ret)
	if err != nil {
		return chain.Revertf("invalid batchSwapWithFee result")
	}
	deltas := values[0].([]*big.Int)

	executedSell := chain.ToU256(deltas[t.SellTokenIndex])
	executedBuy := chain.ToU256(new(big.Int).Neg(deltas[t.BuyTokenIndex]))
	if o.Kind == order.KindSell {
		if !executedSell.Eq(&o.SellAmount) {
			return chain.NewRevert(ErrSellAmountNotRespected)
		}
		s.filled.Set(rec.UID, o.SellAmount.Clone())
	} else {
		if !executedBuy.Eq(&o.BuyAmount) {
			return chain.NewRevert(ErrBuyAmountNotRespected)
		}
		s.filled.Set(rec.UID, o.BuyAmount.Clone())
	}

	exec := &Execution{
		UID:       rec.UID,
		Owner:     rec.Owner,
		Receiver:  funds.Recipient,
		SellToken: o.SellToken,
		BuyToken:  o.BuyToken,
	}
	exec.SellAmount.Add(executedSell, &o.FeeAmount)
	exec.BuyAmount.Set(executedBuy)
	exec.FeeAmount.Set(&o.FeeAmount)
	if err := s.emitTrade(env, exec); err != nil {
		return err
	}
	return s.emitSettlement(env, env.Caller)
}
