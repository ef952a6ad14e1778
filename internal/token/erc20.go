// Package token implements ERC20 contracts for the execution host,
// including tokens that deviate from the standard return-value convention.
package token

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/batchsettle/internal/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ABI is the ERC20 interface.
var ABI = chain.MustParseABI(`[
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"type":"uint8"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"type":"bool"}]},
	{"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"type":"bool"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"type":"bool"}]},
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]},
	{"type":"event","name":"Approval","anonymous":false,"inputs":[{"name":"owner","type":"address","indexed":true},{"name":"spender","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`)

// ReturnMode selects how a token reports the outcome of transfer,
// transferFrom and approve.
type ReturnMode int

const (
	// ReturnBool returns true and reverts on failure.
	ReturnBool ReturnMode = iota
	// ReturnNothing returns no data and reverts on failure.
	ReturnNothing
	// ReturnFalse returns false instead of reverting on failure.
	ReturnFalse
)

// ParseReturnMode parses "bool", "none" or "false".
func ParseReturnMode(s string) (ReturnMode, error) {
	switch s {
	case "", "bool":
		return ReturnBool, nil
	case "none":
		return ReturnNothing, nil
	case "false":
		return ReturnFalse, nil
	}
	return 0, fmt.Errorf("token: unknown return mode %q", s)
}

var maxAllowance = new(uint256.Int).SetAllOne()

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// ERC20 is a fungible token whose state lives in journaled storage.
type ERC20 struct {
	name     string
	symbol   string
	decimals uint8
	mode     ReturnMode

	supply     *chain.StorageMap[struct{}, *uint256.Int]
	balances   *chain.StorageMap[common.Address, *uint256.Int]
	allowances *chain.StorageMap[allowanceKey, *uint256.Int]
}

// New creates a token recording its storage in j.
func New(j *chain.Journal, name, symbol string, decimals uint8, mode ReturnMode) *ERC20 {
	return &ERC20{
		name:       name,
		symbol:     symbol,
		decimals:   decimals,
		mode:       mode,
		supply:     chain.NewStorageMap[struct{}, *uint256.Int](j),
		balances:   chain.NewStorageMap[common.Address, *uint256.Int](j),
		allowances: chain.NewStorageMap[allowanceKey, *uint256.Int](j),
	}
}

// Symbol returns the token symbol.
func (t *ERC20) Symbol() string { return t.symbol }

// Decimals returns the number of decimals amounts are denominated in.
func (t *ERC20) Decimals() uint8 { return t.decimals }

// BalanceOf returns the balance of owner.
func (t *ERC20) BalanceOf(owner common.Address) *uint256.Int {
	if b, ok := t.balances.Get(owner); ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// Allowance returns what spender may move on behalf of owner.
func (t *ERC20) Allowance(owner, spender common.Address) *uint256.Int {
	if a, ok := t.allowances.Get(allowanceKey{owner, spender}); ok {
		return a.Clone()
	}
	return new(uint256.Int)
}

// TotalSupply returns the minted supply.
func (t *ERC20) TotalSupply() *uint256.Int {
	if s, ok := t.supply.Get(struct{}{}); ok {
		return s.Clone()
	}
	return new(uint256.Int)
}

// Mint credits amount to to. It is used at genesis and by tests.
func (t *ERC20) Mint(to common.Address, amount *uint256.Int) {
	bal := t.BalanceOf(to)
	t.balances.Set(to, bal.Add(bal, amount))
	supply := t.TotalSupply()
	t.supply.Set(struct{}{}, supply.Add(supply, amount))
}

// Approve sets an allowance directly. It is used at genesis and by tests.
func (t *ERC20) Approve(owner, spender common.Address, amount *uint256.Int) {
	t.allowances.Set(allowanceKey{owner, spender}, amount.Clone())
}

// Call dispatches ERC20 calldata.
func (t *ERC20) Call(_ context.Context, env *chain.Env) ([]byte, error) {
	m, args, err := chain.UnpackCall(&ABI, env.Input)
	if err != nil {
		return nil, err
	}
	if !env.Value.IsZero() {
		return nil, chain.Revertf("ERC20: non-payable")
	}

	snap := env.Host.Journal().Snapshot()
	switch m.Name {
	case "name":
		return m.Outputs.Pack(t.name)
	case "symbol":
		return m.Outputs.Pack(t.symbol)
	case "decimals":
		return m.Outputs.Pack(t.decimals)
	case "totalSupply":
		return m.Outputs.Pack(t.TotalSupply().ToBig())
	case "balanceOf":
		return m.Outputs.Pack(t.BalanceOf(args[0].(common.Address)).ToBig())
	case "allowance":
		return m.Outputs.Pack(t.Allowance(args[0].(common.Address), args[1].(common.Address)).ToBig())
	case "transfer":
		return t.result(env, snap, t.move(env, env.Caller, args[0].(common.Address), chain.ToU256(args[1])))
	case "transferFrom":
		from, to, value := args[0].(common.Address), args[1].(common.Address), chain.ToU256(args[2])
		if err := t.spend(from, env.Caller, value); err != nil {
			return t.result(env, snap, err)
		}
		return t.result(env, snap, t.move(env, from, to, value))
	case "approve":
		spender, value := args[0].(common.Address), chain.ToU256(args[1])
		t.Approve(env.Caller, spender, value)
		if err := chain.EmitEvent(env, ABI.Events["Approval"],
			[]common.Hash{chain.AddressTopic(env.Caller), chain.AddressTopic(spender)}, value.ToBig()); err != nil {
			return nil, err
		}
		return t.result(env, snap, nil)
	}
	return nil, chain.Revertf("function selector not recognized")
}

func (t *ERC20) spend(owner, spender common.Address, value *uint256.Int) error {
	allowance := t.Allowance(owner, spender)
	if allowance.Eq(maxAllowance) {
		return nil
	}
	if allowance.Lt(value) {
		return chain.Revertf("ERC20: insufficient allowance")
	}
	t.allowances.Set(allowanceKey{owner, spender}, allowance.Sub(allowance, value))
	return nil
}

func (t *ERC20) move(env *chain.Env, from, to common.Address, value *uint256.Int) error {
	if to == (common.Address{}) {
		return chain.Revertf("ERC20: transfer to the zero address")
	}
	fromBal := t.BalanceOf(from)
	if fromBal.Lt(value) {
		return chain.Revertf("ERC20: transfer amount exceeds balance")
	}
	t.balances.Set(from, fromBal.Sub(fromBal, value))
	toBal := t.BalanceOf(to)
	t.balances.Set(to, toBal.Add(toBal, value))
	return chain.EmitEvent(env, ABI.Events["Transfer"],
		[]common.Hash{chain.AddressTopic(from), chain.AddressTopic(to)}, value.ToBig())
}

// result renders the outcome of a state-changing call per the token's
// return mode. Failures in ReturnFalse mode roll back through the journal
// and are reported as false.
func (t *ERC20) result(env *chain.Env, snap int, err error) ([]byte, error) {
	if err != nil {
		if t.mode == ReturnFalse {
			env.Host.Journal().RevertTo(snap)
			return packBool(false), nil
		}
		return nil, err
	}
	if t.mode == ReturnNothing {
		return nil, nil
	}
	return packBool(true), nil
}

func packBool(v bool) []byte {
	out := make([]byte, 32)
	if v {
		out[31] = 1
	}
	return out
}

// BalanceOfCall builds balanceOf calldata.
func BalanceOfCall(owner common.Address) []byte {
	input, _ := ABI.Pack("balanceOf", owner)
	return input
}

// TransferCall builds transfer calldata.
func TransferCall(to common.Address, value *uint256.Int) []byte {
	input, _ := ABI.Pack("transfer", to, value.ToBig())
	return input
}

// TransferFromCall builds transferFrom calldata.
func TransferFromCall(from, to common.Address, value *uint256.Int) []byte {
	input, _ := ABI.Pack("transferFrom", from, to, value.ToBig())
	return input
}

// ApproveCall builds approve calldata.
func ApproveCall(spender common.Address, value *uint256.Int) []byte {
	input, _ := ABI.Pack("approve", spender, value.ToBig())
	return input
}
