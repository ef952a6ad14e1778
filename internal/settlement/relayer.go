package settlement

import (
	"context"
	"math/big"

	"github.com/alanyoungcy/batchsettle/internal/chain"
	"github.com/alanyoungcy/batchsettle/internal/vault"
	"github.com/ethereum/go-ethereum/common"
)

// RelayerABI is the interface the settlement uses to reach owner funds.
var RelayerABI = chain.MustParseABI(`[
	{"type":"function","name":"transferFromAccounts","stateMutability":"nonpayable","inputs":[
		{"name":"transfers","type":"tuple[]","components":[
			{"name":"account","type":"address"},
			{"name":"token","type":"address"},
			{"name":"amount","type":"uint256"},
			{"name":"balance","type":"uint8"}]}],"outputs":[]},
	{"type":"function","name":"batchSwapWithFee","stateMutability":"nonpayable","inputs":[
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
		{"name":"deadline","type":"uint256"},
		{"name":"feeTransfer","type":"tuple","components":[
			{"name":"account","type":"address"},
			{"name":"token","type":"address"},
			{"name":"amount","type":"uint256"},
			{"name":"balance","type":"uint8"}]}],"outputs":[{"type":"int256[]"}]}
]`)

type batchSwapWithFeeArgs struct {
	Kind        uint8
	Swaps       []vault.BatchSwapStep
	Assets      []common.Address
	Funds       vault.FundManagement
	Limits      []*big.Int
	Deadline    *big.Int
	FeeTransfer Transfer
}

// Relayer holds the token and vault allowances of order owners. Only the
// settlement that created it may use them, so that funds can never be
// pulled by an arbitrary interaction.
type Relayer struct {
	creator common.Address
	vault   common.Address
}

// NewRelayer creates the relayer of the settlement at creator.
func NewRelayer(creator, vaultAddr common.Address) *Relayer {
	return &Relayer{creator: creator, vault: vaultAddr}
}

// Call dispatches relayer calldata.
func (r *Relayer) Call(ctx context.Context, env *chain.Env) ([]byte, error) {
	if env.Caller != r.creator {
		return nil, chain.NewRevert(ErrNotCreator)
	}
	m, args, err := chain.UnpackCall(&RelayerABI, env.Input)
	if err != nil {
		return nil, err
	}

	switch m.Name {
	case "transferFromAccounts":
		var transfers []Transfer
		if err := m.Inputs.Copy(&transfers, args); err != nil {
			return nil, chain.Revertf("invalid calldata for %s", m.Name)
		}
		return nil, pullFromAccounts(ctx, env, r.vault, env.Caller, transfers)

	case "batchSwapWithFee":
		var in batchSwapWithFeeArgs
		if err := m.Inputs.Copy(&in, args); err != nil {
			return nil, chain.Revertf("invalid calldata for %s", m.Name)
		}
		input, err := vault.BatchSwapCall(vault.SwapKind(in.Kind), in.Swaps, in.Assets, in.Funds, in.Limits, in.Deadline)
		if err != nil {
			return nil, err
		}
		ret, err := env.Call(ctx, r.vault, nil, input)
		if err != nil {
			return nil, err
		}
		deltas, err := vault.UnpackAssetDeltas(ret)
		if err != nil {
			return nil, chain.Revertf("invalid batchSwap result")
		}
		if err := pullFromAccounts(ctx, env, r.vault, env.Caller, []Transfer{in.FeeTransfer}); err != nil {
			return nil, err
		}
		return m.Outputs.Pack(deltas)
	}
	return nil, chain.Revertf("function selector not recognized")
}

// TransferFromAccountsCall builds transferFromAccounts calldata.
func TransferFromAccountsCall(transfers []Transfer) ([]byte, error) {
	if transfers == nil {
		transfers = []Transfer{}
	}
	return RelayerABI.Pack("transferFromAccounts", transfers)
}

func batchSwapWithFeeCall(kind vault.SwapKind, swaps []vault.BatchSwapStep, assets []common.Address, funds vault.FundManagement, limits []*big.Int, deadline *big.Int, fee Transfer) ([]byte, error) {
	return RelayerABI.Pack("batchSwapWithFee", uint8(kind), swaps, assets, funds, limits, deadline, fee)
}
