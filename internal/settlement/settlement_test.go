package settlement

import (
	"context"
	"math/big"
	"testing"

	"github.com/alanyoungcy/batchsettle/internal/chain"
	"github.com/alanyoungcy/batchsettle/internal/order"
	"github.com/alanyoungcy/batchsettle/internal/signing"
	"github.com/alanyoungcy/batchsettle/internal/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettleMatchesOrdersAtLimitPrice(t *testing.T) {
	f := newFixture(t)
	f.fund(f.trader.Address(), tokA, 100)
	f.fund(f.other.Address(), tokB, 200)

	tokens := []common.Address{tokA, tokB}
	first := sellOrder(tokA, tokB, 100, 200)
	second := sellOrder(tokB, tokA, 200, 100)

	receipt, err := f.settle(&Batch{
		Tokens:         tokens,
		ClearingPrices: prices(2, 1),
		Trades: [][]byte{
			f.trade(f.trader, first, tokens, 0),
			f.trade(f.other, second, tokens, 0),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, chain.StatusSuccessful, receipt.Status)

	assert.Equal(t, uint64(0), f.balance(tokA, f.trader.Address()))
	assert.Equal(t, uint64(200), f.balance(tokB, f.trader.Address()))
	assert.Equal(t, uint64(100), f.balance(tokA, f.other.Address()))
	assert.Equal(t, uint64(0), f.balance(tokB, f.other.Address()))
	assert.Equal(t, uint64(0), f.balance(tokA, settlementAddr))
	assert.Equal(t, uint64(0), f.balance(tokB, settlementAddr))

	assert.Equal(t, uint64(100), f.s.FilledAmount(f.uid(f.trader, first)).Uint64())
	assert.Equal(t, uint64(200), f.s.FilledAmount(f.uid(f.other, second)).Uint64())
}

func TestSettleRejectsLimitPriceOneUnitShort(t *testing.T) {
	f := newFixture(t)
	f.fund(f.trader.Address(), tokA, 100)
	f.fund(settlementAddr, tokB, 1000)

	tokens := []common.Address{tokA, tokB}
	o := sellOrder(tokA, tokB, 100, 201)

	_, err := f.settle(&Batch{
		Tokens:         tokens,
		ClearingPrices: prices(2, 1),
		Trades:         [][]byte{f.trade(f.trader, o, tokens, 0)},
	})
	require.ErrorIs(t, err, ErrLimitPriceNotRespected)
	assert.Equal(t, uint64(100), f.balance(tokA, f.trader.Address()))
}

func TestSettleRounding(t *testing.T) {
	tokens := []common.Address{tokA, tokB}

	t.Run("sell order rounds buy amount down", func(t *testing.T) {
		f := newFixture(t)
		f.fund(f.trader.Address(), tokA, 10)
		f.fund(settlementAddr, tokB, 1000)

		o := sellOrder(tokA, tokB, 10, 3)
		_, err := f.settle(&Batch{
			Tokens:         tokens,
			ClearingPrices: prices(1, 3),
			Trades:         [][]byte{f.trade(f.trader, o, tokens, 0)},
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(0), f.balance(tokA, f.trader.Address()))
		assert.Equal(t, uint64(3), f.balance(tokB, f.trader.Address()))
	})

	t.Run("buy order rounds sell amount up", func(t *testing.T) {
		f := newFixture(t)
		f.fund(f.trader.Address(), tokA, 10)
		f.fund(settlementAddr, tokB, 1000)

		o := buyOrder(tokA, tokB, 4, 10)
		_, err := f.settle(&Batch{
			Tokens:         tokens,
			ClearingPrices: prices(3, 1),
			Trades:         [][]byte{f.trade(f.trader, o, tokens, 0)},
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(6), f.balance(tokA, f.trader.Address()))
		assert.Equal(t, uint64(10), f.balance(tokB, f.trader.Address()))
		assert.Equal(t, uint64(10), f.s.FilledAmount(f.uid(f.trader, o)).Uint64())
	})
}

func TestSettleFillOrKillIgnoresExecutedAmount(t *testing.T) {
	tokens := []common.Address{tokA, tokB}
	run := func(executed uint64) (*fixture, order.Order) {
		f := newFixture(t)
		f.fund(f.trader.Address(), tokA, 1000)
		f.fund(settlementAddr, tokB, 1000)

		o := sellOrder(tokA, tokB, 100, 50)
		o.FeeAmount = *u(5)
		_, err := f.settle(&Batch{
			Tokens:         tokens,
			ClearingPrices: prices(1, 2),
			Trades:         [][]byte{f.trade(f.trader, o, tokens, executed)},
		})
		require.NoError(t, err)
		return f, o
	}

	zero, o := run(0)
	other, _ := run(12345)
	for _, f := range []*fixture{zero, other} {
		assert.Equal(t, uint64(895), f.balance(tokA, f.trader.Address()))
		assert.Equal(t, uint64(50), f.balance(tokB, f.trader.Address()))
		assert.Equal(t, uint64(105), f.balance(tokA, settlementAddr))
		assert.Equal(t, uint64(100), f.s.FilledAmount(f.uid(f.trader, o)).Uint64())
	}

	_, err := zero.settle(&Batch{
		Tokens:         tokens,
		ClearingPrices: prices(1, 2),
		Trades:         [][]byte{zero.trade(zero.trader, o, tokens, 0)},
	})
	require.ErrorIs(t, err, ErrFillExceedsOrderSize)
}

func TestSettlePartialFills(t *testing.T) {
	f := newFixture(t)
	f.fund(f.trader.Address(), tokA, 200)
	f.fund(settlementAddr, tokB, 1000)

	tokens := []common.Address{tokA, tokB}
	o := sellOrder(tokA, tokB, 100, 100)
	o.FeeAmount = *u(10)
	o.PartiallyFillable = true
	uid := f.uid(f.trader, o)

	var filled, paid uint64
	for _, executed := range []uint64{10, 20, 70} {
		receipt, err := f.settle(&Batch{
			Tokens:         tokens,
			ClearingPrices: prices(1, 1),
			Trades:         [][]byte{f.trade(f.trader, o, tokens, executed)},
		})
		require.NoError(t, err)
		filled += executed
		paid += executed + executed/10

		assert.Equal(t, filled, f.s.FilledAmount(uid).Uint64())
		assert.Equal(t, 200-paid, f.balance(tokA, f.trader.Address()))
		assert.Equal(t, filled, f.balance(tokB, f.trader.Address()))

		ev, err := ParseLog(settlementAddr, tradeLog(t, receipt))
		require.NoError(t, err)
		trade := ev.(*TradeEvent)
		assert.Equal(t, int64(executed+executed/10), trade.SellAmount.Int64())
		assert.Equal(t, int64(executed/10), trade.FeeAmount.Int64())
		assert.Equal(t, uid, trade.OrderUID)
	}

	_, err := f.settle(&Batch{
		Tokens:         tokens,
		ClearingPrices: prices(1, 1),
		Trades:         [][]byte{f.trade(f.trader, o, tokens, 1)},
	})
	require.ErrorIs(t, err, ErrFillExceedsOrderSize)
	assert.Equal(t, uint64(100), f.s.FilledAmount(uid).Uint64())
}

func tradeLog(t *testing.T, receipt *chain.Receipt) *types.Log {
	t.Helper()
	for _, l := range receipt.Logs {
		if l.Address == settlementAddr && l.Topics[0] == ABI.Events["Trade"].ID {
			return l
		}
	}
	t.Fatal("no Trade log")
	return nil
}

func TestSettleIsAtomic(t *testing.T) {
	f := newFixture(t)
	f.fund(f.trader.Address(), tokA, 100)
	f.fund(f.other.Address(), tokA, 100)
	f.fund(settlementAddr, tokB, 1000)

	tokens := []common.Address{tokA, tokB}
	valid := sellOrder(tokA, tokB, 100, 100)
	expired := sellOrder(tokA, tokB, 100, 100)
	expired.ValidTo = now - 1

	receipt, err := f.settle(&Batch{
		Tokens:         tokens,
		ClearingPrices: prices(1, 1),
		Trades: [][]byte{
			f.trade(f.trader, valid, tokens, 0),
			f.trade(f.other, expired, tokens, 0),
		},
	})
	require.ErrorIs(t, err, ErrOrderExpired)
	assert.Equal(t, chain.StatusFailed, receipt.Status)
	assert.Equal(t, chain.EncodeRevertReason(ErrOrderExpired.Error()), receipt.ReturnData)
	assert.Empty(t, receipt.Logs)

	assert.True(t, f.s.FilledAmount(f.uid(f.trader, valid)).IsZero())
	assert.Equal(t, uint64(100), f.balance(tokA, f.trader.Address()))
	assert.Equal(t, uint64(0), f.balance(tokB, f.trader.Address()))
	assert.Equal(t, uint64(1000), f.balance(tokB, settlementAddr))
}

func TestSettleRequiresSolver(t *testing.T) {
	f := newFixture(t)
	_, err := f.settleFrom(f.trader.Address(), &Batch{})
	require.ErrorIs(t, err, ErrNotSolver)

	f.apply(func() { f.allow.AddSolver(f.trader.Address()) })
	_, err = f.settleFrom(f.trader.Address(), &Batch{})
	require.NoError(t, err)
}

func TestSettleValidatesBatchShape(t *testing.T) {
	f := newFixture(t)

	_, err := f.settle(&Batch{Tokens: []common.Address{tokA, tokB}, ClearingPrices: prices(1)})
	require.ErrorIs(t, err, ErrMalformedBatch)

	input, err := ABI.Pack("settle", []common.Address{}, []*big.Int{}, [][]byte{}, [][][]byte{{}, {}}, []byte{})
	require.NoError(t, err)
	_, err = f.host.Transact(context.Background(), solverAddr, settlementAddr, nil, input)
	require.ErrorIs(t, err, ErrMalformedInteractionList)

	_, err = f.settle(&Batch{
		Tokens:         []common.Address{tokA},
		ClearingPrices: prices(1),
		Trades:         [][]byte{{0x01, 0x02}},
	})
	require.ErrorIs(t, err, order.ErrMalformedTrade)
}

func TestSettleNonStandardTokens(t *testing.T) {
	t.Run("token without return value", func(t *testing.T) {
		f := newFixture(t)
		f.fund(f.trader.Address(), tokNoReturn, 100)
		f.fund(settlementAddr, tokB, 100)

		tokens := []common.Address{tokNoReturn, tokB}
		o := sellOrder(tokNoReturn, tokB, 100, 100)
		_, err := f.settle(&Batch{
			Tokens:         tokens,
			ClearingPrices: prices(1, 1),
			Trades:         [][]byte{f.trade(f.trader, o, tokens, 0)},
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(100), f.balance(tokNoReturn, settlementAddr))
	})

	t.Run("token returning false", func(t *testing.T) {
		f := newFixture(t)
		f.fund(f.trader.Address(), tokFalse, 50)
		f.fund(settlementAddr, tokB, 100)

		tokens := []common.Address{tokFalse, tokB}
		o := sellOrder(tokFalse, tokB, 100, 100)
		_, err := f.settle(&Batch{
			Tokens:         tokens,
			ClearingPrices: prices(1, 1),
			Trades:         [][]byte{f.trade(f.trader, o, tokens, 0)},
		})
		require.ErrorIs(t, err, token.ErrTransferFailed)
		assert.Equal(t, uint64(50), f.balance(tokFalse, f.trader.Address()))
	})

	t.Run("reverting token", func(t *testing.T) {
		f := newFixture(t)
		f.fund(f.trader.Address(), tokA, 50)
		f.fund(settlementAddr, tokB, 100)

		tokens := []common.Address{tokA, tokB}
		o := sellOrder(tokA, tokB, 100, 100)
		receipt, err := f.settle(&Batch{
			Tokens:         tokens,
			ClearingPrices: prices(1, 1),
			Trades:         [][]byte{f.trade(f.trader, o, tokens, 0)},
		})
		require.Error(t, err)
		assert.Equal(t, "ERC20: transfer amount exceeds balance", receipt.RevertReason)
		assert.Equal(t, chain.EncodeRevertReason("ERC20: transfer amount exceeds balance"), receipt.ReturnData)
	})
}

func TestSettleInteractions(t *testing.T) {
	f := newFixture(t)
	f.fund(settlementAddr, tokA, 10)
	recipient := common.HexToAddress("0x00000000000000000000000000000000000be11a")

	receipt, err := f.settle(&Batch{
		Interactions: [3][]order.Interaction{
			{{Target: tokA, CallData: token.TransferCall(recipient, u(4))}},
			{{Target: recipient, CallData: []byte{0xab, 0xcd}}},
			{{Target: tokA, CallData: token.TransferCall(recipient, u(6))}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(10), f.balance(tokA, recipient))

	var events []*InteractionEvent
	for _, l := range receipt.Logs {
		ev, err := ParseLog(settlementAddr, l)
		if err != nil {
			continue
		}
		if in, ok := ev.(*InteractionEvent); ok {
			events = append(events, in)
		}
	}
	require.Len(t, events, 3)
	transferSelector := [4]byte(token.TransferCall(recipient, u(1))[:4])
	assert.Equal(t, tokA, events[0].Target)
	assert.Equal(t, transferSelector, events[0].Selector)
	assert.Equal(t, [4]byte{}, events[1].Selector)
	assert.Equal(t, transferSelector, events[2].Selector)

	last, err := ParseLog(settlementAddr, receipt.Logs[len(receipt.Logs)-1])
	require.NoError(t, err)
	assert.Equal(t, &SettlementEvent{Solver: solverAddr}, last)
}

func TestSettleInteractionRevertPropagates(t *testing.T) {
	f := newFixture(t)
	recipient := common.HexToAddress("0x00000000000000000000000000000000000be11a")

	receipt, err := f.settle(&Batch{
		Interactions: [3][]order.Interaction{
			nil,
			{{Target: tokA, CallData: token.TransferCall(recipient, u(1))}},
			nil,
		},
	})
	require.Error(t, err)
	assert.Equal(t, chain.EncodeRevertReason("ERC20: transfer amount exceeds balance"), receipt.ReturnData)
}

func TestSettleRejectsRelayerInteraction(t *testing.T) {
	f := newFixture(t)
	f.fund(f.trader.Address(), tokA, 100)

	for phase := PhasePre; phase <= PhasePost; phase++ {
		t.Run(phase.String(), func(t *testing.T) {
			var interactions [3][]order.Interaction
			call, err := TransferFromAccountsCall([]Transfer{
				newTransfer(f.trader.Address(), tokA, u(100), order.BalanceERC20),
			})
			require.NoError(t, err)
			interactions[phase] = []order.Interaction{{Target: relayerAddr, CallData: call}}

			_, err = f.settle(&Batch{Interactions: interactions})
			require.ErrorIs(t, err, ErrForbiddenInteraction)
			assert.Equal(t, uint64(100), f.balance(tokA, f.trader.Address()))
		})
	}
}

func TestRelayerOnlyServesCreator(t *testing.T) {
	f := newFixture(t)
	f.fund(f.trader.Address(), tokA, 100)

	call, err := TransferFromAccountsCall([]Transfer{
		newTransfer(f.trader.Address(), tokA, u(100), order.BalanceERC20),
	})
	require.NoError(t, err)

	_, err = f.host.Transact(context.Background(), solverAddr, relayerAddr, nil, call)
	require.ErrorIs(t, err, ErrNotCreator)
	assert.Equal(t, uint64(100), f.balance(tokA, f.trader.Address()))
}

// reentrantSolver is an allow-listed contract that calls back into the
// settlement when invoked as an interaction.
type reentrantSolver struct {
	target  common.Address
	payload []byte
	swallow bool
	caught  error
}

func (r *reentrantSolver) Call(ctx context.Context, env *chain.Env) ([]byte, error) {
	_, err := env.Call(ctx, r.target, nil, r.payload)
	if err != nil && r.swallow {
		r.caught = err
		return nil, nil
	}
	return nil, err
}

func TestSettleRejectsReentrancy(t *testing.T) {
	empty, err := (&Batch{}).Pack()
	require.NoError(t, err)

	t.Run("direct", func(t *testing.T) {
		f := newFixture(t)
		receipt, err := f.settle(&Batch{
			Interactions: [3][]order.Interaction{{{Target: settlementAddr, CallData: empty}}},
		})
		require.ErrorIs(t, err, ErrReentrantCall)
		assert.Equal(t, ErrReentrantCall.Error(), receipt.RevertReason)
	})

	t.Run("through solver contract", func(t *testing.T) {
		f := newFixture(t)
		intermediary := common.HexToAddress("0x000000000000000000000000000000000000beef")
		solver := &reentrantSolver{target: settlementAddr, payload: empty}
		f.host.Deploy(intermediary, solver)
		f.apply(func() { f.allow.AddSolver(intermediary) })

		_, err := f.settle(&Batch{
			Interactions: [3][]order.Interaction{nil, {{Target: intermediary}}, nil},
		})
		require.ErrorIs(t, err, ErrReentrantCall)
	})

	t.Run("swallowed failure", func(t *testing.T) {
		f := newFixture(t)
		intermediary := common.HexToAddress("0x000000000000000000000000000000000000beef")
		solver := &reentrantSolver{target: settlementAddr, payload: empty, swallow: true}
		f.host.Deploy(intermediary, solver)
		f.apply(func() { f.allow.AddSolver(intermediary) })

		receipt, err := f.settle(&Batch{
			Interactions: [3][]order.Interaction{nil, nil, {{Target: intermediary}}},
		})
		require.NoError(t, err)
		require.ErrorIs(t, solver.caught, ErrReentrantCall)

		settlements := 0
		for _, l := range receipt.Logs {
			if ev, err := ParseLog(settlementAddr, l); err == nil {
				if _, ok := ev.(*SettlementEvent); ok {
					settlements++
				}
			}
		}
		assert.Equal(t, 1, settlements)
	})

	t.Run("guard released after failure", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.settle(&Batch{
			Interactions: [3][]order.Interaction{{{Target: settlementAddr, CallData: empty}}},
		})
		require.Error(t, err)
		_, err = f.settle(&Batch{})
		require.NoError(t, err)
	})
}

func TestSettleNativeToken(t *testing.T) {
	tokens := []common.Address{tokA, order.NativeToken}

	t.Run("pays out native value", func(t *testing.T) {
		f := newFixture(t)
		f.fund(f.trader.Address(), tokA, 100)
		f.apply(func() { f.host.Mint(settlementAddr, u(1000)) })

		o := sellOrder(tokA, order.NativeToken, 100, 100)
		_, err := f.settle(&Batch{
			Tokens:         tokens,
			ClearingPrices: prices(1, 1),
			Trades:         [][]byte{f.trade(f.trader, o, tokens, 0)},
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(100), f.host.Balance(f.trader.Address()).Uint64())
		assert.Equal(t, uint64(900), f.host.Balance(settlementAddr).Uint64())
	})

	t.Run("rejects internal native payout", func(t *testing.T) {
		f := newFixture(t)
		f.fund(f.trader.Address(), tokA, 100)
		f.apply(func() { f.host.Mint(settlementAddr, u(1000)) })

		o := sellOrder(tokA, order.NativeToken, 100, 100)
		o.BuyTokenBalance = order.BalanceInternal
		_, err := f.settle(&Batch{
			Tokens:         tokens,
			ClearingPrices: prices(1, 1),
			Trades:         [][]byte{f.trade(f.trader, o, tokens, 0)},
		})
		require.ErrorIs(t, err, ErrInternalNativeValue)
	})

	t.Run("rejects native sell token", func(t *testing.T) {
		f := newFixture(t)
		f.fund(settlementAddr, tokA, 100)

		o := sellOrder(order.NativeToken, tokA, 100, 100)
		_, err := f.settle(&Batch{
			Tokens:         tokens,
			ClearingPrices: prices(1, 1),
			Trades:         [][]byte{f.trade(f.trader, o, tokens, 0)},
		})
		require.ErrorIs(t, err, ErrCannotTransferNativeValue)
	})
}

func TestSettleVaultBalances(t *testing.T) {
	tokens := []common.Address{tokA, tokB}

	t.Run("internal to internal", func(t *testing.T) {
		f := newFixture(t)
		owner := f.trader.Address()
		f.fund(vaultAddr, tokA, 100)
		f.fund(settlementAddr, tokB, 100)
		f.apply(func() {
			f.vault.CreditInternal(owner, tokA, u(100))
			f.vault.SetRelayerApproval(owner, relayerAddr, true)
		})

		o := sellOrder(tokA, tokB, 100, 100)
		o.SellTokenBalance = order.BalanceInternal
		o.BuyTokenBalance = order.BalanceInternal
		_, err := f.settle(&Batch{
			Tokens:         tokens,
			ClearingPrices: prices(1, 1),
			Trades:         [][]byte{f.trade(f.trader, o, tokens, 0)},
		})
		require.NoError(t, err)

		assert.True(t, f.vault.InternalBalance(owner, tokA).IsZero())
		assert.Equal(t, uint64(100), f.vault.InternalBalance(owner, tokB).Uint64())
		assert.Equal(t, uint64(100), f.balance(tokA, settlementAddr))
		assert.Equal(t, uint64(0), f.balance(tokB, settlementAddr))
		assert.Equal(t, uint64(100), f.balance(tokB, vaultAddr))
	})

	t.Run("external balance", func(t *testing.T) {
		f := newFixture(t)
		owner := f.trader.Address()
		f.fund(owner, tokA, 100)
		f.fund(settlementAddr, tokB, 100)
		f.apply(func() {
			f.erc20[tokA].Approve(owner, vaultAddr, maxU256)
			f.vault.SetRelayerApproval(owner, relayerAddr, true)
		})

		o := sellOrder(tokA, tokB, 100, 100)
		o.SellTokenBalance = order.BalanceExternal
		_, err := f.settle(&Batch{
			Tokens:         tokens,
			ClearingPrices: prices(1, 1),
			Trades:         [][]byte{f.trade(f.trader, o, tokens, 0)},
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(0), f.balance(tokA, owner))
		assert.Equal(t, uint64(100), f.balance(tokB, owner))
	})

	t.Run("relayer not approved", func(t *testing.T) {
		f := newFixture(t)
		owner := f.trader.Address()
		f.fund(vaultAddr, tokA, 100)
		f.fund(settlementAddr, tokB, 100)
		f.apply(func() { f.vault.CreditInternal(owner, tokA, u(100)) })

		o := sellOrder(tokA, tokB, 100, 100)
		o.SellTokenBalance = order.BalanceInternal
		_, err := f.settle(&Batch{
			Tokens:         tokens,
			ClearingPrices: prices(1, 1),
			Trades:         [][]byte{f.trade(f.trader, o, tokens, 0)},
		})
		require.Error(t, err)
		assert.Equal(t, uint64(100), f.vault.InternalBalance(owner, tokA).Uint64())
	})
}

func TestSettleReceiver(t *testing.T) {
	f := newFixture(t)
	f.fund(f.trader.Address(), tokA, 100)
	f.fund(settlementAddr, tokB, 100)
	receiver := common.HexToAddress("0x000000000000000000000000000000000000face")

	tokens := []common.Address{tokA, tokB}
	o := sellOrder(tokA, tokB, 100, 100)
	o.Receiver = receiver
	_, err := f.settle(&Batch{
		Tokens:         tokens,
		ClearingPrices: prices(1, 1),
		Trades:         [][]byte{f.trade(f.trader, o, tokens, 0)},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), f.balance(tokB, receiver))
	assert.Equal(t, uint64(0), f.balance(tokB, f.trader.Address()))
}

func TestSettleRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	f.fund(f.trader.Address(), tokA, 100)
	f.fund(settlementAddr, tokB, 100)

	tokens := []common.Address{tokA, tokB}
	o := sellOrder(tokA, tokB, 100, 100)
	sig, err := f.trader.SignOrder(f.s.DomainSeparator(), &o, order.SchemeEIP712)
	require.NoError(t, err)
	sig[64] = 29

	_, err = f.settle(&Batch{
		Tokens:         tokens,
		ClearingPrices: prices(1, 1),
		Trades:         [][]byte{f.encode(o, tokens, order.SchemeEIP712, 0, sig)},
	})
	require.ErrorIs(t, err, signing.ErrMalformedSignature)
}

func TestOrderRefunds(t *testing.T) {
	f := newFixture(t)
	expired := sellOrder(tokA, tokB, 100, 100)
	expired.ValidTo = now - 10
	live := sellOrder(tokA, tokB, 100, 100)

	expiredUID := f.uid(f.trader, expired)
	liveUID := f.uid(f.trader, live)
	f.apply(func() {
		f.s.Restore(map[order.UID]*uint256.Int{expiredUID: u(40), liveUID: u(40)}, []order.UID{expiredUID})
	})

	_, err := f.settle(&Batch{OrderRefunds: []order.UID{expiredUID, liveUID}})
	require.ErrorIs(t, err, ErrOrderStillValid)
	assert.Equal(t, uint64(40), f.s.FilledAmount(expiredUID).Uint64())

	_, err = f.settle(&Batch{OrderRefunds: []order.UID{expiredUID}})
	require.NoError(t, err)
	assert.True(t, f.s.FilledAmount(expiredUID).IsZero())
	assert.False(t, f.s.IsPreSigned(expiredUID))
	assert.Equal(t, uint64(40), f.s.FilledAmount(liveUID).Uint64())
}

func TestInvalidateOrder(t *testing.T) {
	f := newFixture(t)
	f.fund(f.trader.Address(), tokA, 100)
	f.fund(settlementAddr, tokB, 100)

	tokens := []common.Address{tokA, tokB}
	o := sellOrder(tokA, tokB, 100, 100)
	uid := f.uid(f.trader, o)

	_, err := f.host.Transact(context.Background(), f.other.Address(), settlementAddr, nil, InvalidateOrderCall(uid))
	require.ErrorIs(t, err, ErrNotOrderOwner)

	receipt, err := f.host.Transact(context.Background(), f.trader.Address(), settlementAddr, nil, InvalidateOrderCall(uid))
	require.NoError(t, err)
	assert.True(t, f.s.FilledAmount(uid).Eq(InvalidatedFill))

	require.Len(t, receipt.Logs, 1)
	ev, err := ParseLog(settlementAddr, receipt.Logs[0])
	require.NoError(t, err)
	assert.Equal(t, &OrderInvalidatedEvent{Owner: f.trader.Address(), OrderUID: uid}, ev)

	ret, err := f.host.Query(context.Background(), settlementAddr, FilledAmountCall(uid))
	require.NoError(t, err)
	assert.Equal(t, InvalidatedFill.Bytes32(), [32]byte(ret))

	_, err = f.settle(&Batch{
		Tokens:         tokens,
		ClearingPrices: prices(1, 1),
		Trades:         [][]byte{f.trade(f.trader, o, tokens, 0)},
	})
	require.ErrorIs(t, err, ErrFillExceedsOrderSize)

	partial := o
	partial.PartiallyFillable = true
	partialUID := f.uid(f.trader, partial)
	_, err = f.host.Transact(context.Background(), f.trader.Address(), settlementAddr, nil, InvalidateOrderCall(partialUID))
	require.NoError(t, err)
	_, err = f.settle(&Batch{
		Tokens:         tokens,
		ClearingPrices: prices(1, 1),
		Trades:         [][]byte{f.trade(f.trader, partial, tokens, 0)},
	})
	require.ErrorIs(t, err, ErrFillExceedsOrderSize)
}

func TestPreSignature(t *testing.T) {
	f := newFixture(t)
	owner := common.HexToAddress("0x0000000000000000000000000000000000c0ffee")
	f.fund(owner, tokA, 100)
	f.fund(settlementAddr, tokB, 100)

	tokens := []common.Address{tokA, tokB}
	o := sellOrder(tokA, tokB, 100, 100)
	uid := order.ComputeUID(f.s.DomainSeparator(), &o, owner)
	batch := &Batch{
		Tokens:         tokens,
		ClearingPrices: prices(1, 1),
		Trades:         [][]byte{f.encode(o, tokens, order.SchemePreSign, 0, owner.Bytes())},
	}

	_, err := f.settle(batch)
	require.ErrorIs(t, err, signing.ErrOrderNotPreAuthorized)

	_, err = f.host.Transact(context.Background(), f.trader.Address(), settlementAddr, nil, SetPreSignatureCall(uid, true))
	require.ErrorIs(t, err, ErrCannotPreSign)

	receipt, err := f.host.Transact(context.Background(), owner, settlementAddr, nil, SetPreSignatureCall(uid, true))
	require.NoError(t, err)
	ev, err := ParseLog(settlementAddr, receipt.Logs[0])
	require.NoError(t, err)
	assert.Equal(t, &PreSignatureEvent{Owner: owner, OrderUID: uid, Signed: true}, ev)

	ret, err := f.host.Query(context.Background(), settlementAddr, PreSignatureCall(uid))
	require.NoError(t, err)
	assert.Equal(t, PreSigned.Bytes32(), [32]byte(ret))

	_, err = f.settle(batch)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), f.balance(tokB, owner))

	_, err = f.host.Transact(context.Background(), owner, settlementAddr, nil, SetPreSignatureCall(uid, false))
	require.NoError(t, err)
	assert.False(t, f.s.IsPreSigned(uid))
}

func TestViews(t *testing.T) {
	f := newFixture(t)

	ret, err := f.host.Query(context.Background(), settlementAddr, mustPack(t, "domainSeparator"))
	require.NoError(t, err)
	assert.Equal(t, f.s.DomainSeparator().Bytes(), ret)

	ret, err = f.host.Query(context.Background(), settlementAddr, mustPack(t, "vaultRelayer"))
	require.NoError(t, err)
	assert.Equal(t, common.LeftPadBytes(relayerAddr.Bytes(), 32), ret)

	_, err = f.host.Transact(context.Background(), solverAddr, settlementAddr, nil, []byte{0xde, 0xad, 0xbe, 0xef})
	require.Error(t, err)
}

func TestParseLogIgnoresForeignLogs(t *testing.T) {
	f := newFixture(t)
	f.fund(settlementAddr, tokA, 10)

	receipt, err := f.settle(&Batch{
		Interactions: [3][]order.Interaction{
			{{Target: tokA, CallData: token.TransferCall(solverAddr, u(1))}},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, receipt.Logs)
	_, err = ParseLog(settlementAddr, receipt.Logs[0])
	require.ErrorIs(t, err, ErrUnknownEvent)
}

func mustPack(t *testing.T, method string, args ...any) []byte {
	t.Helper()
	input, err := ABI.Pack(method, args...)
	require.NoError(t, err)
	return input
}
