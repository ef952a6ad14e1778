// Package vault implements a balance custodian in the manner of the
// Balancer V2 vault: per-user internal token balances, relayer approvals,
// batched user balance operations and batch swaps against registered pools.
package vault

import (
	"context"
	"math/big"

	"github.com/alanyoungcy/batchsettle/internal/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ABI is the subset of the vault interface the settlement relies on.
var ABI = chain.MustParseABI(`[
	{"type":"function","name":"setRelayerApproval","stateMutability":"nonpayable","inputs":[
		{"name":"sender","type":"address"},{"name":"relayer","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]},
	{"type":"function","name":"hasApprovedRelayer","stateMutability":"view","inputs":[
		{"name":"user","type":"address"},{"name":"relayer","type":"address"}],"outputs":[{"type":"bool"}]},
	{"type":"function","name":"getInternalBalance","stateMutability":"view","inputs":[
		{"name":"user","type":"address"},{"name":"tokens","type":"address[]"}],"outputs":[{"type":"uint256[]"}]},
	{"type":"function","name":"manageUserBalance","stateMutability":"payable","inputs":[
		{"name":"ops","type":"tuple[]","components":[
			{"name":"kind","type":"uint8"},
			{"name":"asset","type":"address"},
			{"name":"amount","type":"uint256"},
			{"name":"sender","type":"address"},
			{"name":"recipient","type":"address"}]}],"outputs":[]},
	{"type":"function","name":"batchSwap","stateMutability":"payable","inputs":[
		{"name":"kind","type":"uint8"},
		{"name":"swaps","type":"tuple[]","components":[
			{"name":"poolId","type":"bytes32"},
			{"name":"assetInIndex","type":"uint256"},
			{"name":"assetOutIndex","type":"uint256"},
			{"name":"amount","type":"uint256"},
			{"name":"userData","type":"bytes"}]},
		{"name":"assets","type":"address[]"},
		{"name":"funds","type":"tuple","components":[
			{"name":"sender","type":"address"},
			{"name":"fromInternalBalance","type":"bool"},
			{"name":"recipient","type":"address"},
			{"name":"toInternalBalance","type":"bool"}]},
		{"name":"limits","type":"int256[]"},
		{"name":"deadline","type":"uint256"}],"outputs":[{"name":"assetDeltas","type":"int256[]"}]},
	{"type":"event","name":"InternalBalanceChanged","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"token","type":"address","indexed":true},
		{"name":"delta","type":"int256","indexed":false}]},
	{"type":"event","name":"RelayerApprovalChanged","anonymous":false,"inputs":[
		{"name":"relayer","type":"address","indexed":true},
		{"name":"sender","type":"address","indexed":true},
		{"name":"approved","type":"bool","indexed":false}]},
	{"type":"event","name":"Swap","anonymous":false,"inputs":[
		{"name":"poolId","type":"bytes32","indexed":true},
		{"name":"tokenIn","type":"address","indexed":true},
		{"name":"tokenOut","type":"address","indexed":true},
		{"name":"amountIn","type":"uint256","indexed":false},
		{"name":"amountOut","type":"uint256","indexed":false}]}
]`)

type balanceKey struct {
	user  common.Address
	token common.Address
}

type relayerKey struct {
	user    common.Address
	relayer common.Address
}

type poolKey struct {
	pool  common.Hash
	token common.Address
}

// Vault is the balance custodian contract.
type Vault struct {
	internal     *chain.StorageMap[balanceKey, *uint256.Int]
	relayers     *chain.StorageMap[relayerKey, bool]
	poolBalances *chain.StorageMap[poolKey, *uint256.Int]
	pools        map[common.Hash]Pool
}

// New creates a vault recording its storage in j.
func New(j *chain.Journal) *Vault {
	return &Vault{
		internal:     chain.NewStorageMap[balanceKey, *uint256.Int](j),
		relayers:     chain.NewStorageMap[relayerKey, bool](j),
		poolBalances: chain.NewStorageMap[poolKey, *uint256.Int](j),
		pools:        make(map[common.Hash]Pool),
	}
}

// InternalBalance returns user's internal balance of token.
func (v *Vault) InternalBalance(user, token common.Address) *uint256.Int {
	if b, ok := v.internal.Get(balanceKey{user, token}); ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// HasApprovedRelayer reports whether user lets relayer act for them.
func (v *Vault) HasApprovedRelayer(user, relayer common.Address) bool {
	ok, _ := v.relayers.Get(relayerKey{user, relayer})
	return ok
}

// SetRelayerApproval records an approval directly. It is used at genesis
// and by tests.
func (v *Vault) SetRelayerApproval(user, relayer common.Address, approved bool) {
	v.relayers.Set(relayerKey{user, relayer}, approved)
}

// CreditInternal adds to an internal balance directly. The vault must hold
// the matching tokens. It is used at genesis and by tests.
func (v *Vault) CreditInternal(user, token common.Address, amount *uint256.Int) {
	bal := v.InternalBalance(user, token)
	v.internal.Set(balanceKey{user, token}, bal.Add(bal, amount))
}

// Call dispatches vault calldata.
func (v *Vault) Call(ctx context.Context, env *chain.Env) ([]byte, error) {
	m, args, err := chain.UnpackCall(&ABI, env.Input)
	if err != nil {
		return nil, err
	}
	switch m.Name {
	case "setRelayerApproval":
		sender, relayer, approved := args[0].(common.Address), args[1].(common.Address), args[2].(bool)
		if err := v.authenticate(env, sender); err != nil {
			return nil, err
		}
		v.SetRelayerApproval(sender, relayer, approved)
		return nil, chain.EmitEvent(env, ABI.Events["RelayerApprovalChanged"],
			[]common.Hash{chain.AddressTopic(relayer), chain.AddressTopic(sender)}, approved)
	case "hasApprovedRelayer":
		return m.Outputs.Pack(v.HasApprovedRelayer(args[0].(common.Address), args[1].(common.Address)))
	case "getInternalBalance":
		user, tokens := args[0].(common.Address), args[1].([]common.Address)
		out := make([]*big.Int, len(tokens))
		for i, tok := range tokens {
			out[i] = v.InternalBalance(user, tok).ToBig()
		}
		return m.Outputs.Pack(out)
	case "manageUserBalance":
		var ops []UserBalanceOp
		if err := m.Inputs.Copy(&ops, args[:1]); err != nil {
			return nil, chain.Revertf("invalid calldata for %s", m.Name)
		}
		return nil, v.manageUserBalance(ctx, env, ops)
	case "batchSwap":
		var in batchSwapArgs
		if err := m.Inputs.Copy(&in, args); err != nil {
			return nil, chain.Revertf("invalid calldata for %s", m.Name)
		}
		deltas, err := v.batchSwap(ctx, env, &in)
		if err != nil {
			return nil, err
		}
		return m.Outputs.Pack(deltas)
	}
	return nil, chain.Revertf("function selector not recognized")
}

// authenticate checks that the caller is user or a relayer user approved.
func (v *Vault) authenticate(env *chain.Env, user common.Address) error {
	if env.Caller == user || v.HasApprovedRelayer(user, env.Caller) {
		return nil
	}
	return chain.NewRevert(ErrRelayerNotApproved)
}

func (v *Vault) debitInternal(env *chain.Env, user, token common.Address, amount *uint256.Int) error {
	bal := v.InternalBalance(user, token)
	if bal.Lt(amount) {
		return chain.NewRevert(ErrInsufficientInternalBalance)
	}
	v.internal.Set(balanceKey{user, token}, bal.Sub(bal, amount))
	return v.emitBalanceChanged(env, user, token, new(big.Int).Neg(amount.ToBig()))
}

func (v *Vault) creditInternal(env *chain.Env, user, token common.Address, amount *uint256.Int) error {
	v.CreditInternal(user, token, amount)
	return v.emitBalanceChanged(env, user, token, amount.ToBig())
}

func (v *Vault) emitBalanceChanged(env *chain.Env, user, token common.Address, delta *big.Int) error {
	return chain.EmitEvent(env, ABI.Events["InternalBalanceChanged"],
		[]common.Hash{chain.AddressTopic(user), chain.AddressTopic(token)}, delta)
}
