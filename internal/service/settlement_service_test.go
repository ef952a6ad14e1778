package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/alanyoungcy/batchsettle/internal/domain"
	"github.com/alanyoungcy/batchsettle/internal/order"
	"github.com/alanyoungcy/batchsettle/internal/settlement"
	"github.com/alanyoungcy/batchsettle/internal/signing"
	sqlitestore "github.com/alanyoungcy/batchsettle/internal/store/sqlite"
	"github.com/alanyoungcy/batchsettle/internal/token"
)

var (
	blockTime = time.Unix(1_700_000_000, 0).UTC()
	validTo   = uint32(blockTime.Unix() + 3600)

	settlementAddr = common.HexToAddress("0x9008D19f58AAbD9eD0D60971565AA8510560ab41")
	relayerAddr    = common.HexToAddress("0xC92E8bdf79f0507f65a392b0ab4667716BFE0110")
	vaultAddr      = common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8")
	allowListAddr  = common.HexToAddress("0x2c4c28DDBdAc9C5E7055b4C863b72eA0149D8aFE")
	solverAddr     = common.HexToAddress("0x0000000000000000000000000000000000005017")
	tokA           = common.HexToAddress("0x000000000000000000000000000000000000aaaa")
	tokB           = common.HexToAddress("0x000000000000000000000000000000000000bbbb")
	pool           = common.HexToHash("0x5a")
)

const (
	traderKey1 = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	traderKey2 = "0x5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"
)

type published struct {
	channel string
	stream  string
	payload []byte
}

type fakeBus struct {
	mu   sync.Mutex
	msgs []published
}

func (b *fakeBus) record(channel, stream string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, published{channel, stream, payload})
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.record(channel, "", payload)
	return nil
}

func (b *fakeBus) PublishDurable(_ context.Context, channel, stream string, payload []byte) error {
	b.record(channel, stream, payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.record("", stream, payload)
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) on(channel string) []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []published
	for _, m := range b.msgs {
		if m.channel == channel {
			out = append(out, m)
		}
	}
	return out
}

type fakeLock struct {
	held     bool
	acquired int
}

func (l *fakeLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.acquired++
	return func() {}, nil
}

type harness struct {
	t      *testing.T
	svc    *SettlementService
	net    *Network
	db     *gorm.DB
	bus    *fakeBus
	lock   *fakeLock
	audit  *sqlitestore.AuditStore
	trader *signing.Signer
	other  *signing.Signer
}

func testGenesis(traders ...common.Address) Genesis {
	g := Genesis{
		ChainID:    1,
		Settlement: settlementAddr,
		Relayer:    relayerAddr,
		Vault:      vaultAddr,
		AllowList:  allowListAddr,
		Manager:    solverAddr,
		Solvers:    []common.Address{solverAddr},
		Tokens: []TokenSpec{
			{Address: tokA, Symbol: "A", Mode: token.ReturnBool},
			{Address: tokB, Symbol: "B", Mode: token.ReturnNothing},
		},
		Pools: []PoolSpec{{
			ID: pool, TokenA: tokA, TokenB: tokB,
			Numerator: 2, Denominator: 1,
			LiquidityA: decimal.NewFromInt(1000), LiquidityB: decimal.NewFromInt(1000),
		}},
	}
	for _, tr := range traders {
		for _, tok := range []common.Address{tokA, tokB} {
			g.Balances = append(g.Balances, BalanceSpec{
				Owner: tr, Token: tok, Amount: decimal.NewFromInt(1000), ApproveRelayer: true,
			})
		}
	}
	return g
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := sqlitestore.Open(sqlitestore.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlitestore.Close(db) })
	return newHarnessOn(t, db)
}

func newHarnessOn(t *testing.T, db *gorm.DB) *harness {
	t.Helper()
	h := &harness{t: t, db: db, bus: &fakeBus{}, lock: &fakeLock{}, audit: sqlitestore.NewAuditStore(db)}
	var err error
	h.trader, err = signing.NewSigner(traderKey1)
	require.NoError(t, err)
	h.other, err = signing.NewSigner(traderKey2)
	require.NoError(t, err)

	h.net, err = NewNetwork(testGenesis(h.trader.Address(), h.other.Address()))
	require.NoError(t, err)

	receipts := sqlitestore.NewReceiptStore(db)
	h.svc = NewSettlementService(h.net, receipts, sqlitestore.NewOrderStateStore(db), receipts,
		h.audit, h.lock, h.bus, slog.Default()).
		WithClock(func() time.Time { return blockTime })
	return h
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func sellOrder(sell, buy common.Address, sellAmount, buyAmount uint64) order.Order {
	return order.Order{
		SellToken:  sell,
		BuyToken:   buy,
		SellAmount: *u(sellAmount),
		BuyAmount:  *u(buyAmount),
		ValidTo:    validTo,
		Kind:       order.KindSell,
	}
}

func (h *harness) trade(signer *signing.Signer, o order.Order, executed uint64) domain.TradeRequest {
	h.t.Helper()
	sig, err := signer.SignOrder(h.svc.DomainSeparator(), &o, order.SchemeEIP712)
	require.NoError(h.t, err)
	return domain.TradeRequest{Order: o, SigningScheme: order.SchemeEIP712, Signature: sig, ExecutedAmount: u(executed)}
}

func (h *harness) balance(tok, owner common.Address) uint64 {
	return h.net.Tokens[tok].BalanceOf(owner).Uint64()
}

func (h *harness) auditEvents() []string {
	entries, err := h.audit.List(context.Background(), domain.ListOpts{})
	require.NoError(h.t, err)
	var out []string
	for _, e := range entries {
		out = append(out, e.Event)
	}
	return out
}

func TestSettle_CoWMatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	o1 := sellOrder(tokA, tokB, 100, 50)
	o2 := sellOrder(tokB, tokA, 50, 100)
	batch := domain.Batch{
		ID:             "batch-1",
		Tokens:         []common.Address{tokA, tokB},
		ClearingPrices: []*uint256.Int{u(1), u(2)},
		Trades:         []domain.TradeRequest{h.trade(h.trader, o1, 0), h.trade(h.other, o2, 0)},
	}

	r, err := h.svc.Settle(ctx, solverAddr, batch)
	require.NoError(t, err)
	assert.True(t, r.Success)
	assert.Equal(t, "batch-1", r.BatchID)
	assert.Equal(t, MethodSettle, r.Method)
	assert.Equal(t, blockTime, r.BlockTime)
	require.Len(t, r.Events, 3)
	assert.Equal(t, domain.EventTrade, r.Events[0].Kind)
	assert.Equal(t, domain.EventTrade, r.Events[1].Kind)
	assert.Equal(t, domain.EventSettlement, r.Events[2].Kind)
	assert.Equal(t, solverAddr, r.Events[2].Subject)

	assert.Equal(t, uint64(900), h.balance(tokA, h.trader.Address()))
	assert.Equal(t, uint64(1050), h.balance(tokB, h.trader.Address()))
	assert.Equal(t, uint64(1100), h.balance(tokA, h.other.Address()))
	assert.Equal(t, uint64(950), h.balance(tokB, h.other.Address()))

	uid1 := h.svc.OrderUID(o1, h.trader.Address())
	st, err := h.svc.OrderState(ctx, uid1)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), st.Filled.Uint64())
	assert.False(t, st.Invalidated)

	stored, err := h.svc.Receipt(ctx, r.TxHash)
	require.NoError(t, err)
	assert.Len(t, stored.Events, 3)

	trades, err := h.svc.Events(ctx, domain.EventFilter{OrderUID: &uid1})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, h.trader.Address(), trades[0].Subject)

	assert.Len(t, h.bus.on(domain.ChannelEvents), 3)
	assert.Equal(t, domain.StreamEvents, h.bus.on(domain.ChannelEvents)[0].stream)
	assert.Equal(t, 1, h.lock.acquired)
}

func TestSettle_RevertPersistsNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	expired := sellOrder(tokA, tokB, 100, 50)
	expired.ValidTo = uint32(blockTime.Unix() - 1)
	batch := domain.Batch{
		Tokens:         []common.Address{tokA, tokB},
		ClearingPrices: []*uint256.Int{u(1), u(2)},
		Trades:         []domain.TradeRequest{h.trade(h.trader, expired, 0)},
	}

	r, err := h.svc.Settle(ctx, solverAddr, batch)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrReverted)
	assert.ErrorIs(t, err, settlement.ErrOrderExpired)
	assert.False(t, r.Success)
	assert.Equal(t, settlement.ErrOrderExpired.Error(), r.RevertReason)
	assert.NotEmpty(t, r.BatchID)

	_, err = h.svc.Receipt(ctx, r.TxHash)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, uint64(1000), h.balance(tokA, h.trader.Address()))
	assert.Empty(t, h.bus.on(domain.ChannelEvents))
	assert.Len(t, h.bus.on(domain.ChannelReverts), 1)
	assert.Equal(t, []string{domain.AuditSettleReverted}, h.auditEvents())
}

func TestSettle_RejectedBeforeExecution(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.Settle(ctx, solverAddr, domain.Batch{Interactions: make([][]domain.InteractionRequest, 4)})
	assert.ErrorIs(t, err, domain.ErrInvalidBatch)

	o := sellOrder(tokA, tokB, 100, 50)
	_, err = h.svc.Settle(ctx, solverAddr, domain.Batch{
		Tokens:         []common.Address{tokA},
		ClearingPrices: []*uint256.Int{u(1)},
		Trades:         []domain.TradeRequest{h.trade(h.trader, o, 0)},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	h.lock.held = true
	_, err = h.svc.Settle(ctx, solverAddr, domain.Batch{})
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Zero(t, h.lock.acquired)
}

func TestSettle_NotSolver(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Settle(context.Background(), h.other.Address(), domain.Batch{})
	assert.ErrorIs(t, err, settlement.ErrNotSolver)
}

func TestSwap(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	o := sellOrder(tokA, tokB, 100, 200)
	r, err := h.svc.Swap(ctx, solverAddr, domain.SwapRequest{
		Swaps:  []domain.SwapStep{{PoolID: pool, AssetInIndex: 0, AssetOutIndex: 1, Amount: u(100)}},
		Tokens: []common.Address{tokA, tokB},
		Trade:  h.trade(h.trader, o, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, MethodSwap, r.Method)
	assert.Equal(t, uint64(900), h.balance(tokA, h.trader.Address()))
	assert.Equal(t, uint64(1200), h.balance(tokB, h.trader.Address()))

	filled, err := h.svc.FilledAmount(ctx, h.svc.OrderUID(o, h.trader.Address()))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), filled.Uint64())
}

func TestOwnerActions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := sellOrder(tokA, tokB, 100, 50)
	uid := h.svc.OrderUID(o, h.trader.Address())

	t.Run("presign requires the owner", func(t *testing.T) {
		sig, err := h.other.SignAction(signing.ActionPreSign, uid)
		require.NoError(t, err)
		_, err = h.svc.SetPreSignature(ctx, uid, domain.OwnerActionRequest{Signature: sig, Signed: true})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)

		_, err = h.svc.SetPreSignature(ctx, uid, domain.OwnerActionRequest{Signature: []byte{1, 2, 3}, Signed: true})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("presign signature cannot revoke", func(t *testing.T) {
		sig, err := h.trader.SignAction(signing.ActionPreSign, uid)
		require.NoError(t, err)
		_, err = h.svc.SetPreSignature(ctx, uid, domain.OwnerActionRequest{Signature: sig, Signed: false})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("presign", func(t *testing.T) {
		sig, err := h.trader.SignAction(signing.ActionPreSign, uid)
		require.NoError(t, err)
		r, err := h.svc.SetPreSignature(ctx, uid, domain.OwnerActionRequest{Signature: sig, Signed: true})
		require.NoError(t, err)
		require.Len(t, r.Events, 1)
		assert.Equal(t, domain.EventPreSignature, r.Events[0].Kind)
		assert.JSONEq(t, `{"signed":true}`, string(r.Events[0].Payload))

		st, err := h.svc.OrderState(ctx, uid)
		require.NoError(t, err)
		assert.True(t, st.PreSigned)
		assert.False(t, st.UpdatedAt.IsZero())
	})

	t.Run("invalidate", func(t *testing.T) {
		sig, err := h.trader.SignAction(signing.ActionInvalidate, uid)
		require.NoError(t, err)
		_, err = h.svc.InvalidateOrder(ctx, uid, domain.OwnerActionRequest{Signature: sig})
		require.NoError(t, err)

		st, err := h.svc.OrderState(ctx, uid)
		require.NoError(t, err)
		assert.True(t, st.Invalidated)
		assert.True(t, st.Filled.Eq(settlement.InvalidatedFill))

		_, err = h.svc.Settle(ctx, solverAddr, domain.Batch{
			Tokens:         []common.Address{tokA, tokB},
			ClearingPrices: []*uint256.Int{u(1), u(2)},
			Trades:         []domain.TradeRequest{h.trade(h.trader, o, 0)},
		})
		assert.ErrorIs(t, err, settlement.ErrFillExceedsOrderSize)
	})

	assert.Contains(t, h.auditEvents(), domain.AuditOwnerAction)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	presigned := sellOrder(tokB, tokA, 10, 5)
	puid := h.svc.OrderUID(presigned, h.trader.Address())
	sig, err := h.trader.SignAction(signing.ActionPreSign, puid)
	require.NoError(t, err)
	_, err = h.svc.SetPreSignature(ctx, puid, domain.OwnerActionRequest{Signature: sig, Signed: true})
	require.NoError(t, err)

	restarted := newHarnessOn(t, h.db)
	n, err := restarted.svc.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, restarted.net.Settlement.IsPreSigned(puid))
	assert.Contains(t, restarted.auditEvents(), domain.AuditRestored)
}

func TestRestore_Fills(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	o1 := sellOrder(tokA, tokB, 100, 50)
	o1.PartiallyFillable = true
	o2 := sellOrder(tokB, tokA, 15, 30)
	_, err := h.svc.Settle(ctx, solverAddr, domain.Batch{
		Tokens:         []common.Address{tokA, tokB},
		ClearingPrices: []*uint256.Int{u(1), u(2)},
		Trades:         []domain.TradeRequest{h.trade(h.trader, o1, 30), h.trade(h.other, o2, 0)},
	})
	require.NoError(t, err)
	uid := h.svc.OrderUID(o1, h.trader.Address())

	restarted := newHarnessOn(t, h.db)
	_, err = restarted.svc.Restore(ctx)
	require.NoError(t, err)

	filled, err := restarted.svc.FilledAmount(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), filled.Uint64())
}

func TestNetwork_Genesis(t *testing.T) {
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	g := testGenesis()
	g.Tokens[0].Decimals = 6
	g.Balances = []BalanceSpec{
		{Owner: owner, Token: tokA, Amount: decimal.RequireFromString("1.5")},
		{Owner: owner, Token: tokB, Amount: decimal.NewFromInt(7), Internal: true, ApproveRelayer: true},
		{Owner: owner, Token: order.NativeToken, Amount: decimal.RequireFromString("0.25")},
	}
	g.Pools[0].LiquidityA = decimal.NewFromInt(1)

	n, err := NewNetwork(g)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000), n.Tokens[tokA].BalanceOf(owner).Uint64())
	assert.Equal(t, uint64(7), n.Vault.InternalBalance(owner, tokB).Uint64())
	assert.True(t, n.Vault.HasApprovedRelayer(owner, relayerAddr))
	assert.Equal(t, uint64(250_000_000_000_000_000), n.Host.Balance(owner).Uint64())
	assert.Equal(t, uint64(1_000_000), n.Vault.PoolBalance(pool, tokA).Uint64())

	ok, err := n.AllowList.IsSolver(context.Background(), solverAddr)
	require.NoError(t, err)
	assert.True(t, ok)

	g.Balances = []BalanceSpec{{Owner: owner, Token: tokA, Amount: decimal.RequireFromString("0.0000001")}}
	_, err = NewNetwork(g)
	assert.Error(t, err)

	g.Balances = []BalanceSpec{{Owner: owner, Token: common.HexToAddress("0x99"), Amount: decimal.NewFromInt(1)}}
	_, err = NewNetwork(g)
	assert.Error(t, err)
}

func TestToUnits(t *testing.T) {
	v, err := toUnits(decimal.RequireFromString("12.345"), 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), v.Uint64())

	_, err = toUnits(decimal.NewFromInt(-1), 0)
	assert.Error(t, err)

	_, err = toUnits(decimal.New(1, 80), 0)
	assert.Error(t, err)
}

type staticAuth bool

func (a staticAuth) IsSolver(context.Context, common.Address) (bool, error) { return bool(a), nil }

func TestNetwork_ExtraAuthenticator(t *testing.T) {
	h := newHarness(t)
	g := testGenesis(h.trader.Address(), h.other.Address())
	g.Solvers = nil
	n, err := NewNetwork(g, staticAuth(true))
	require.NoError(t, err)

	receipts := sqlitestore.NewReceiptStore(h.db)
	svc := NewSettlementService(n, receipts, sqlitestore.NewOrderStateStore(h.db), receipts,
		h.audit, nil, nil, slog.Default())
	r, err := svc.Settle(context.Background(), h.other.Address(), domain.Batch{})
	require.NoError(t, err)
	assert.True(t, r.Success)
	assert.True(t, errors.Is(svc.receipts.Record(context.Background(), r, nil), domain.ErrAlreadyExists))
}
