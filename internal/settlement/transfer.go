package settlement

import (
	"context"
	"math/big"

	"github.com/alanyoungcy/batchsettle/internal/chain"
	"github.com/alanyoungcy/batchsettle/internal/order"
	"github.com/alanyoungcy/batchsettle/internal/token"
	"github.com/alanyoungcy/batchsettle/internal/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Transfer moves Amount of Token between the settlement and Account, using
// the balance kind the order selected. Field order follows the ABI tuple.
type Transfer struct {
	Account common.Address
	Token   common.Address
	Amount  *big.Int
	Balance uint8
}

func newTransfer(account, tok common.Address, amount *uint256.Int, balance order.TokenBalance) Transfer {
	return Transfer{Account: account, Token: tok, Amount: amount.ToBig(), Balance: uint8(balance)}
}

// pullFromAccounts moves sell amounts from their owners to recipient. It
// runs in the relayer's frame: ERC20 balances are pulled with the relayer's
// allowance, vault balances through a single manageUserBalance call for
// which owners approved the relayer.
func pullFromAccounts(ctx context.Context, env *chain.Env, vaultAddr, recipient common.Address, transfers []Transfer) error {
	var ops []vault.UserBalanceOp
	for _, t := range transfers {
		if t.Token == order.NativeToken {
			return chain.NewRevert(ErrCannotTransferNativeValue)
		}
		amount := chain.ToU256(t.Amount)
		switch order.TokenBalance(t.Balance) {
		case order.BalanceERC20:
			if err := token.SafeTransferFrom(ctx, env, t.Token, t.Account, recipient, amount); err != nil {
				return err
			}
		case order.BalanceExternal:
			ops = append(ops, vault.NewUserBalanceOp(vault.TransferExternal, t.Token, amount, t.Account, recipient))
		default:
			ops = append(ops, vault.NewUserBalanceOp(vault.WithdrawInternal, t.Token, amount, t.Account, recipient))
		}
	}
	return manageUserBalance(ctx, env, vaultAddr, ops)
}

// pushToAccounts pays buy amounts out of the settlement's frame. Native
// value is sent directly; internal balances are credited through a single
// manageUserBalance deposit, which spends the settlement's vault allowance.
func pushToAccounts(ctx context.Context, env *chain.Env, vaultAddr common.Address, transfers []Transfer) error {
	var ops []vault.UserBalanceOp
	for _, t := range transfers {
		amount := chain.ToU256(t.Amount)
		internal := order.TokenBalance(t.Balance) == order.BalanceInternal
		switch {
		case t.Token == order.NativeToken:
			if internal {
				return chain.NewRevert(ErrInternalNativeValue)
			}
			if _, err := env.Call(ctx, t.Account, amount, nil); err != nil {
				return err
			}
		case internal:
			ops = append(ops, vault.NewUserBalanceOp(vault.DepositInternal, t.Token, amount, env.Address, t.Account))
		default:
			if err := token.SafeTransfer(ctx, env, t.Token, t.Account, amount); err != nil {
				return err
			}
		}
	}
	return manageUserBalance(ctx, env, vaultAddr, ops)
}

func manageUserBalance(ctx context.Context, env *chain.Env, vaultAddr common.Address, ops []vault.UserBalanceOp) error {
	if len(ops) == 0 {
		return nil
	}
	input, err := vault.ManageUserBalanceCall(ops)
	if err != nil {
		return err
	}
	_, err = env.Call(ctx, vaultAddr, nil, input)
	return err
}
