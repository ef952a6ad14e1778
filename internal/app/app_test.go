package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/batchsettle/internal/config"
	"github.com/alanyoungcy/batchsettle/internal/domain"
	"github.com/alanyoungcy/batchsettle/internal/order"
	"github.com/alanyoungcy/batchsettle/internal/token"
)

const (
	aliceKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	bobKey   = "0x5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"
)

var (
	alice  = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	bob    = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	solver = common.HexToAddress("0x0000000000000000000000000000000000005017")
	tokA   = common.HexToAddress("0x000000000000000000000000000000000000aaaa")
	tokB   = common.HexToAddress("0x000000000000000000000000000000000000bbbb")
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "settled.db")
	cfg.Chain.Tokens = []config.TokenConfig{
		{Address: tokA, Symbol: "A"},
		{Address: tokB, Symbol: "B", ReturnMode: "none"},
	}
	for _, owner := range []common.Address{alice, bob} {
		for _, tok := range []common.Address{tokA, tokB} {
			cfg.Chain.Balances = append(cfg.Chain.Balances, config.BalanceConfig{
				Owner: owner, Token: tok, Amount: decimal.NewFromInt(1000), ApproveRelayer: true,
			})
		}
	}
	cfg.Solver.Allowed = []common.Address{solver}
	require.NoError(t, cfg.Validate())
	return &cfg
}

func orderJSON(sell, buy common.Address, sellAmount, buyAmount int) string {
	return fmt.Sprintf(`{"sellToken":%q,"buyToken":%q,"sellAmount":"%d","buyAmount":"%d","validTo":%d,"kind":"sell"}`,
		sell.Hex(), buy.Hex(), sellAmount, buyAmount, time.Now().Add(time.Hour).Unix())
}

func signOrder(t *testing.T, cfg *config.Config, key, orderJSON string) SignedOrder {
	t.Helper()
	c := *cfg
	c.Mode = "sign"
	c.Wallet.PrivateKey = key

	var out bytes.Buffer
	a := New(&c, Options{OrderFile: "-", Stdin: strings.NewReader(orderJSON), Stdout: &out}, discard())
	require.NoError(t, a.Run(context.Background()))

	var signed SignedOrder
	require.NoError(t, json.Unmarshal(out.Bytes(), &signed))
	return signed
}

func TestSignMode(t *testing.T) {
	cfg := testConfig(t)
	signed := signOrder(t, cfg, aliceKey, orderJSON(tokA, tokB, 100, 50))

	assert.Equal(t, alice, signed.Owner)
	assert.Equal(t, alice, signed.UID.Owner())
	assert.Equal(t, order.SchemeEIP712, signed.Trade.SigningScheme)
	assert.Equal(t, uint64(100), signed.Trade.Order.SellAmount.Uint64())

	c := cfg.Chain
	domainSep := order.DomainSeparator(c.DomainName, c.DomainVersion, new(uint256.Int).SetUint64(c.ChainID).ToBig(), c.Settlement)
	o := signed.Trade.Order
	assert.Equal(t, order.ComputeUID(domainSep, &o, alice), signed.UID)

	sig := bytes.Clone(signed.Trade.Signature)
	require.Len(t, sig, 65)
	sig[64] -= 27
	digest := o.Hash(domainSep)
	pub, err := ethcrypto.SigToPub(digest[:], sig)
	require.NoError(t, err)
	assert.Equal(t, alice, ethcrypto.PubkeyToAddress(*pub))
}

func TestSignMode_Errors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = "sign"

	a := New(cfg, Options{OrderFile: "-", Stdin: strings.NewReader("{}")}, discard())
	assert.ErrorContains(t, a.Run(context.Background()), "no private key")

	cfg.Wallet.PrivateKey = aliceKey
	a = New(cfg, Options{}, discard())
	assert.ErrorContains(t, a.Run(context.Background()), "no order file")

	a = New(cfg, Options{OrderFile: "-", Stdin: strings.NewReader("not json")}, discard())
	assert.ErrorContains(t, a.Run(context.Background()), "decode order")

	a = New(cfg, Options{OrderFile: "-", Scheme: "presign", Stdin: strings.NewReader(orderJSON(tokA, tokB, 1, 1))}, discard())
	assert.Error(t, a.Run(context.Background()))

	path := filepath.Join(t.TempDir(), "order.json")
	require.NoError(t, os.WriteFile(path, []byte(orderJSON(tokA, tokB, 1, 1)), 0o600))
	var out bytes.Buffer
	a = New(cfg, Options{OrderFile: path, Scheme: "ethsign", Stdout: &out}, discard())
	require.NoError(t, a.Run(context.Background()))
	assert.Contains(t, out.String(), `"signingScheme": "ethsign"`)
}

func TestWire_SettleAndRestore(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	deps, cleanup, err := Wire(ctx, cfg, discard())
	require.NoError(t, err)
	assert.Nil(t, deps.Archiver)
	assert.Nil(t, deps.SignalBus)
	require.Contains(t, deps.Checks, "sqlite")
	require.NoError(t, deps.Checks["sqlite"](ctx))
	require.Contains(t, deps.Network.Tokens, tokB)
	assert.Equal(t, "B", deps.Network.Tokens[tokB].Symbol())

	sellA := signOrder(t, cfg, aliceKey, orderJSON(tokA, tokB, 100, 50))
	sellB := signOrder(t, cfg, bobKey, orderJSON(tokB, tokA, 50, 100))
	rcpt, err := deps.Service.Settle(ctx, solver, domain.Batch{
		Tokens:         []common.Address{tokA, tokB},
		ClearingPrices: []*uint256.Int{uint256.NewInt(1), uint256.NewInt(2)},
		Trades:         []domain.TradeRequest{sellA.Trade, sellB.Trade},
	})
	require.NoError(t, err)
	assert.True(t, rcpt.Success)
	cleanup()

	// A restart on the same database picks up the fill.
	deps, cleanup, err = Wire(ctx, cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	filled, err := deps.Service.FilledAmount(ctx, sellA.UID)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), filled.Uint64())

	entries, err := deps.Audit.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	var restored int
	for _, e := range entries {
		if e.Event == domain.AuditRestored {
			restored++
		}
	}
	assert.Equal(t, 2, restored)
}

func TestGenesisFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Chain.Pools = []config.PoolConfig{{
		ID: common.BigToHash(common.Big1), TokenA: tokA, TokenB: tokB,
		Numerator: 2, Denominator: 1, LiquidityA: decimal.NewFromInt(10),
	}}

	g, err := genesisFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.Chain.Settlement, g.Settlement)
	assert.Equal(t, []common.Address{solver}, g.Solvers)
	require.Len(t, g.Tokens, 2)
	assert.Equal(t, token.ReturnBool, g.Tokens[0].Mode)
	assert.Equal(t, token.ReturnNothing, g.Tokens[1].Mode)
	assert.Len(t, g.Balances, 4)
	require.Len(t, g.Pools, 1)
	assert.Equal(t, uint64(2), g.Pools[0].Numerator)

	cfg.Chain.Tokens[0].ReturnMode = "sometimes"
	_, err = genesisFromConfig(cfg)
	assert.Error(t, err)
}

func TestNeedsS3(t *testing.T) {
	cfg := config.Defaults()
	assert.False(t, needsS3(&cfg))
	cfg.Archive.Enabled = true
	assert.True(t, needsS3(&cfg))
	cfg.Archive.Enabled = false
	cfg.Mode = "full"
	assert.True(t, needsS3(&cfg))
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "settled.log")
	var stdout bytes.Buffer
	logger, closer := NewLogger(&stdout, "warn", config.LogFileConfig{Path: path, MaxSizeMB: 1})
	logger.Info("dropped")
	logger.Warn("kept", slog.String("k", "v"))
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, stdout.String(), string(data))
	assert.Contains(t, string(data), `"msg":"kept"`)
	assert.NotContains(t, string(data), "dropped")

	logger, closer = NewLogger(&stdout, "debug", config.LogFileConfig{})
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
	assert.NoError(t, closer.Close())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
