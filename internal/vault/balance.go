package vault

import (
	"context"
	"math/big"

	"github.com/alanyoungcy/batchsettle/internal/chain"
	"github.com/alanyoungcy/batchsettle/internal/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// UserBalanceOpKind selects what a UserBalanceOp does.
type UserBalanceOpKind uint8

const (
	// DepositInternal pulls ERC20 tokens from sender into recipient's
	// internal balance.
	DepositInternal UserBalanceOpKind = iota
	// WithdrawInternal pays sender's internal balance out to recipient.
	WithdrawInternal
	// TransferInternal moves internal balance from sender to recipient.
	TransferInternal
	// TransferExternal moves ERC20 tokens from sender to recipient using
	// the vault's allowance.
	TransferExternal
)

// UserBalanceOp is one manageUserBalance operation. Field order follows
// the ABI tuple.
type UserBalanceOp struct {
	Kind      uint8
	Asset     common.Address
	Amount    *big.Int
	Sender    common.Address
	Recipient common.Address
}

// NewUserBalanceOp builds an operation.
func NewUserBalanceOp(kind UserBalanceOpKind, asset common.Address, amount *uint256.Int, sender, recipient common.Address) UserBalanceOp {
	return UserBalanceOp{
		Kind:      uint8(kind),
		Asset:     asset,
		Amount:    amount.ToBig(),
		Sender:    sender,
		Recipient: recipient,
	}
}

// ManageUserBalanceCall builds manageUserBalance calldata.
func ManageUserBalanceCall(ops []UserBalanceOp) ([]byte, error) {
	return ABI.Pack("manageUserBalance", ops)
}

// SetRelayerApprovalCall builds setRelayerApproval calldata.
func SetRelayerApprovalCall(sender, relayer common.Address, approved bool) []byte {
	input, _ := ABI.Pack("setRelayerApproval", sender, relayer, approved)
	return input
}

func (v *Vault) manageUserBalance(ctx context.Context, env *chain.Env, ops []UserBalanceOp) error {
	for _, op := range ops {
		if op.Asset == (common.Address{}) {
			return chain.NewRevert(ErrNativeAsset)
		}
		if err := v.authenticate(env, op.Sender); err != nil {
			return err
		}
		amount := chain.ToU256(op.Amount)

		switch UserBalanceOpKind(op.Kind) {
		case DepositInternal:
			if err := token.SafeTransferFrom(ctx, env, op.Asset, op.Sender, env.Address, amount); err != nil {
				return err
			}
			if err := v.creditInternal(env, op.Recipient, op.Asset, amount); err != nil {
				return err
			}
		case WithdrawInternal:
			if err := v.debitInternal(env, op.Sender, op.Asset, amount); err != nil {
				return err
			}
			if err := token.SafeTransfer(ctx, env, op.Asset, op.Recipient, amount); err != nil {
				return err
			}
		case TransferInternal:
			if err := v.debitInternal(env, op.Sender, op.Asset, amount); err != nil {
				return err
			}
			if err := v.creditInternal(env, op.Recipient, op.Asset, amount); err != nil {
				return err
			}
		case TransferExternal:
			if err := token.SafeTransferFrom(ctx, env, op.Asset, op.Sender, op.Recipient, amount); err != nil {
				return err
			}
		default:
			return chain.NewRevert(ErrInvalidOperation)
		}
	}
	return nil
}
