package token

import (
	"bytes"
	"context"
	"errors"

	"github.com/alanyoungcy/batchsettle/internal/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrTransferFailed is matched by every transfer failure that is not a
// revert of the token itself.
var ErrTransferFailed = errors.New("GPv2: failed transfer")

var (
	ErrTransferFromFailed      = chain.NewClassError("GPv2: failed transferFrom", ErrTransferFailed)
	ErrNotAContract            = chain.NewClassError("GPv2: not a contract", ErrTransferFailed)
	ErrMalformedTransferResult = chain.NewClassError("GPv2: malformed transfer result", ErrTransferFailed)
)

var abiTrue = packBool(true)

// SafeTransfer calls transfer on tok from the executing contract. It accepts
// tokens that return nothing as well as ones returning true; an explicit
// false, any other return data or a token without code fails with
// ErrTransferFailed. A revert of the token is returned unchanged.
func SafeTransfer(ctx context.Context, env *chain.Env, tok, to common.Address, amount *uint256.Int) error {
	ret, err := env.Call(ctx, tok, nil, TransferCall(to, amount))
	if err != nil {
		return err
	}
	return checkResult(env, tok, ret, ErrTransferFailed)
}

// SafeTransferFrom is SafeTransfer for transferFrom.
func SafeTransferFrom(ctx context.Context, env *chain.Env, tok, from, to common.Address, amount *uint256.Int) error {
	ret, err := env.Call(ctx, tok, nil, TransferFromCall(from, to, amount))
	if err != nil {
		return err
	}
	return checkResult(env, tok, ret, ErrTransferFromFailed)
}

func checkResult(env *chain.Env, tok common.Address, ret []byte, failed error) error {
	switch {
	case len(ret) == 0:
		if !env.Host.HasCode(tok) {
			return chain.NewRevert(ErrNotAContract)
		}
		return nil
	case len(ret) == 32 && bytes.Equal(ret, abiTrue):
		return nil
	case len(ret) == 32 && isZero(ret):
		return chain.NewRevert(failed)
	default:
		return chain.NewRevert(ErrMalformedTransferResult)
	}
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
