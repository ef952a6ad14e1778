package service

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/batchsettle/internal/auth"
	"github.com/alanyoungcy/batchsettle/internal/chain"
	"github.com/alanyoungcy/batchsettle/internal/order"
	"github.com/alanyoungcy/batchsettle/internal/settlement"
	"github.com/alanyoungcy/batchsettle/internal/token"
	"github.com/alanyoungcy/batchsettle/internal/vault"
)

// nativeDecimals is the precision of the chain's native value.
const nativeDecimals = 18

// TokenSpec deploys an ERC20 at genesis.
type TokenSpec struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
	Mode     token.ReturnMode
}

// BalanceSpec credits an account at genesis. Amount is in whole token
// units and may carry up to the token's decimals. Internal credits the
// vault balance instead of the token balance. ApproveRelayer grants every
// approval an owner needs to sell through the settlement.
type BalanceSpec struct {
	Owner          common.Address
	Token          common.Address
	Amount         decimal.Decimal
	Internal       bool
	ApproveRelayer bool
}

// PoolSpec registers a fixed-rate vault pool trading TokenA for
// Numerator/Denominator TokenB.
type PoolSpec struct {
	ID          common.Hash
	TokenA      common.Address
	TokenB      common.Address
	Numerator   uint64
	Denominator uint64
	LiquidityA  decimal.Decimal
	LiquidityB  decimal.Decimal
}

// Genesis describes the contracts and state a Network starts from.
type Genesis struct {
	ChainID       uint64
	Settlement    common.Address
	Relayer       common.Address
	Vault         common.Address
	AllowList     common.Address
	Manager       common.Address
	DomainName    string
	DomainVersion string
	StrictEIP1271 bool

	Solvers  []common.Address
	Tokens   []TokenSpec
	Balances []BalanceSpec
	Pools    []PoolSpec
}

// Network is a host with the settlement and its supporting contracts
// deployed.
type Network struct {
	Host       *chain.Host
	Settlement *settlement.Settlement
	Vault      *vault.Vault
	AllowList  *auth.AllowList
	Tokens     map[common.Address]*token.ERC20
}

// NewNetwork deploys the contracts of g and applies its genesis state.
// Solvers are authorised by the on-host allow list or by any of extra.
func NewNetwork(g Genesis, extra ...auth.Authenticator) (*Network, error) {
	h := chain.NewHost(g.ChainID)
	n := &Network{
		Host:      h,
		Vault:     vault.New(h.Journal()),
		AllowList: auth.NewAllowList(h.Journal(), g.Manager),
		Tokens:    make(map[common.Address]*token.ERC20, len(g.Tokens)),
	}
	h.Deploy(g.AllowList, n.AllowList)
	h.Deploy(g.Vault, n.Vault)

	var authenticator auth.Authenticator = n.AllowList
	if len(extra) > 0 {
		authenticator = append(auth.Any{n.AllowList}, extra...)
	}
	n.Settlement = settlement.Deploy(h, settlement.Config{
		Address:       g.Settlement,
		Relayer:       g.Relayer,
		Vault:         g.Vault,
		DomainName:    g.DomainName,
		DomainVersion: g.DomainVersion,
		StrictEIP1271: g.StrictEIP1271,
	}, authenticator)

	for _, spec := range g.Tokens {
		if h.HasCode(spec.Address) {
			return nil, fmt.Errorf("service: genesis token %s collides with a deployed contract", spec.Address.Hex())
		}
		tok := token.New(h.Journal(), spec.Symbol, spec.Symbol, spec.Decimals, spec.Mode)
		h.Deploy(spec.Address, tok)
		n.Tokens[spec.Address] = tok
	}

	err := h.Apply(func() error {
		for _, s := range g.Solvers {
			n.AllowList.AddSolver(s)
		}
		for _, tok := range n.Tokens {
			tok.Approve(g.Settlement, g.Vault, maxAmount)
		}
		for _, b := range g.Balances {
			if err := n.credit(g, b); err != nil {
				return err
			}
		}
		for _, p := range g.Pools {
			if err := n.addPool(g, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

var maxAmount = new(uint256.Int).SetAllOne()

func (n *Network) credit(g Genesis, b BalanceSpec) error {
	if b.Token == order.NativeToken {
		amount, err := toUnits(b.Amount, nativeDecimals)
		if err != nil {
			return fmt.Errorf("service: genesis native balance of %s: %w", b.Owner.Hex(), err)
		}
		n.Host.Mint(b.Owner, amount)
		return nil
	}

	tok, ok := n.Tokens[b.Token]
	if !ok {
		return fmt.Errorf("service: genesis balance in unknown token %s", b.Token.Hex())
	}
	amount, err := toUnits(b.Amount, tok.Decimals())
	if err != nil {
		return fmt.Errorf("service: genesis balance of %s in %s: %w", b.Owner.Hex(), tok.Symbol(), err)
	}
	if b.Internal {
		tok.Mint(g.Vault, amount)
		n.Vault.CreditInternal(b.Owner, b.Token, amount)
	} else {
		tok.Mint(b.Owner, amount)
	}
	if b.ApproveRelayer {
		tok.Approve(b.Owner, g.Relayer, maxAmount)
		tok.Approve(b.Owner, g.Vault, maxAmount)
		n.Vault.SetRelayerApproval(b.Owner, g.Relayer, true)
	}
	return nil
}

func (n *Network) addPool(g Genesis, p PoolSpec) error {
	if p.Numerator == 0 || p.Denominator == 0 {
		return fmt.Errorf("service: pool %s has a zero rate", p.ID.Hex())
	}
	n.Vault.RegisterPool(p.ID, &vault.FixedRatePool{
		TokenA:      p.TokenA,
		TokenB:      p.TokenB,
		Numerator:   uint256.NewInt(p.Numerator),
		Denominator: uint256.NewInt(p.Denominator),
	})
	for _, side := range []struct {
		token  common.Address
		amount decimal.Decimal
	}{{p.TokenA, p.LiquidityA}, {p.TokenB, p.LiquidityB}} {
		tok, ok := n.Tokens[side.token]
		if !ok {
			return fmt.Errorf("service: pool %s uses unknown token %s", p.ID.Hex(), side.token.Hex())
		}
		amount, err := toUnits(side.amount, tok.Decimals())
		if err != nil {
			return fmt.Errorf("service: pool %s liquidity: %w", p.ID.Hex(), err)
		}
		tok.Mint(g.Vault, amount)
		n.Vault.AddLiquidity(p.ID, side.token, amount)
	}
	return nil
}

// toUnits converts a whole-unit amount into base units of a token with the
// given decimals.
func toUnits(amount decimal.Decimal, decimals uint8) (*uint256.Int, error) {
	scaled := amount.Shift(int32(decimals))
	if scaled.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %s", amount)
	}
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %s has more than %d decimals", amount, decimals)
	}
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("amount %s overflows uint256", amount)
	}
	return v, nil
}
