package settlement

import (
	"context"
	"testing"

	"github.com/alanyoungcy/batchsettle/internal/auth"
	"github.com/alanyoungcy/batchsettle/internal/chain"
	"github.com/alanyoungcy/batchsettle/internal/order"
	"github.com/alanyoungcy/batchsettle/internal/signing"
	"github.com/alanyoungcy/batchsettle/internal/token"
	"github.com/alanyoungcy/batchsettle/internal/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

const (
	now     = 1_700_000_000
	validTo = now + 3600
)

var (
	settlementAddr = common.HexToAddress("0x9008D19f58AAbD9eD0D60971565AA8510560ab41")
	relayerAddr    = common.HexToAddress("0xC92E8bdf79f0507f65a392b0ab4667716BFE0110")
	vaultAddr      = common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8")
	allowListAddr  = common.HexToAddress("0x2c4c28DDBdAc9C5E7055b4C863b72eA0149D8aFE")
	solverAddr     = common.HexToAddress("0x0000000000000000000000000000000000005017")

	tokA        = common.HexToAddress("0x000000000000000000000000000000000000aaaa")
	tokB        = common.HexToAddress("0x000000000000000000000000000000000000bbbb")
	tokNoReturn = common.HexToAddress("0x000000000000000000000000000000000000cccc")
	tokFalse    = common.HexToAddress("0x000000000000000000000000000000000000dddd")

	maxU256 = new(uint256.Int).SetAllOne()
)

const (
	traderKey1 = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	traderKey2 = "0x5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"
)

type fixture struct {
	t      *testing.T
	host   *chain.Host
	s      *Settlement
	allow  *auth.AllowList
	vault  *vault.Vault
	erc20  map[common.Address]*token.ERC20
	trader *signing.Signer
	other  *signing.Signer
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := chain.NewHost(1)
	h.SetTime(now)

	f := &fixture{
		t:     t,
		host:  h,
		vault: vault.New(h.Journal()),
		allow: auth.NewAllowList(h.Journal(), solverAddr),
		erc20: make(map[common.Address]*token.ERC20),
	}
	h.Deploy(allowListAddr, f.allow)
	h.Deploy(vaultAddr, f.vault)
	f.s = Deploy(h, Config{Address: settlementAddr, Relayer: relayerAddr, Vault: vaultAddr}, f.allow)

	modes := map[common.Address]token.ReturnMode{
		tokA:        token.ReturnBool,
		tokB:        token.ReturnBool,
		tokNoReturn: token.ReturnNothing,
		tokFalse:    token.ReturnFalse,
	}
	for addr, mode := range modes {
		tok := token.New(h.Journal(), addr.Hex(), "T", 18, mode)
		h.Deploy(addr, tok)
		f.erc20[addr] = tok
	}

	var err error
	f.trader, err = signing.NewSigner(traderKey1)
	require.NoError(t, err)
	f.other, err = signing.NewSigner(traderKey2)
	require.NoError(t, err)

	f.apply(func() {
		f.allow.AddSolver(solverAddr)
		for _, tok := range f.erc20 {
			tok.Approve(settlementAddr, vaultAddr, maxU256)
		}
	})
	return f
}

func (f *fixture) apply(fn func()) {
	f.t.Helper()
	require.NoError(f.t, f.host.Apply(func() error {
		fn()
		return nil
	}))
}

// fund mints tokens to owner and approves the relayer for them.
func (f *fixture) fund(owner, tok common.Address, amount uint64) {
	f.apply(func() {
		f.erc20[tok].Mint(owner, u(amount))
		f.erc20[tok].Approve(owner, relayerAddr, maxU256)
	})
}

func (f *fixture) balance(tok, owner common.Address) uint64 {
	return f.erc20[tok].BalanceOf(owner).Uint64()
}

func (f *fixture) trade(signer *signing.Signer, o order.Order, tokens []common.Address, executed uint64) []byte {
	f.t.Helper()
	sig, err := signer.SignOrder(f.s.DomainSeparator(), &o, order.SchemeEIP712)
	require.NoError(f.t, err)
	return f.encode(o, tokens, order.SchemeEIP712, executed, sig)
}

func (f *fixture) encode(o order.Order, tokens []common.Address, scheme order.SigningScheme, executed uint64, sig []byte) []byte {
	f.t.Helper()
	tr, err := order.NewTrade(tokens, &o, scheme, u(executed), sig)
	require.NoError(f.t, err)
	record, err := tr.Encode()
	require.NoError(f.t, err)
	return record
}

func (f *fixture) uid(signer *signing.Signer, o order.Order) order.UID {
	return order.ComputeUID(f.s.DomainSeparator(), &o, signer.Address())
}

func (f *fixture) settle(b *Batch) (*chain.Receipt, error) {
	return f.settleFrom(solverAddr, b)
}

func (f *fixture) settleFrom(from common.Address, b *Batch) (*chain.Receipt, error) {
	f.t.Helper()
	input, err := b.Pack()
	require.NoError(f.t, err)
	return f.host.Transact(context.Background(), from, settlementAddr, nil, input)
}

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

func buyOrder(sell, buy common.Address, sellAmount, buyAmount uint64) order.Order {
	o := sellOrder(sell, buy, sellAmount, buyAmount)
	o.Kind = order.KindBuy
	return o
}

func prices(ps ...uint64) []*uint256.Int {
	out := make([]*uint256.Int, len(ps))
	for i, p := range ps {
		out[i] = u(p)
	}
	return out
}
