package token

import (
	"context"
	"testing"

	"github.com/alanyoungcy/batchsettle/internal/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedReturn []byte

func (f fixedReturn) Call(context.Context, *chain.Env) ([]byte, error) { return f, nil }

func TestSafeTransfer(t *testing.T) {
	ctx := context.Background()

	t.Run("returns true", func(t *testing.T) {
		h, tok := deploy(t, ReturnBool)
		env := &chain.Env{Host: h, Address: alice}
		require.NoError(t, SafeTransfer(ctx, env, tokenAddr, bob, uint256.NewInt(10)))
		assert.Equal(t, uint64(10), tok.BalanceOf(bob).Uint64())
	})

	t.Run("returns nothing", func(t *testing.T) {
		h, tok := deploy(t, ReturnNothing)
		env := &chain.Env{Host: h, Address: alice}
		require.NoError(t, SafeTransfer(ctx, env, tokenAddr, bob, uint256.NewInt(10)))
		assert.Equal(t, uint64(10), tok.BalanceOf(bob).Uint64())
	})

	t.Run("returns false", func(t *testing.T) {
		h, tok := deploy(t, ReturnFalse)
		env := &chain.Env{Host: h, Address: alice}
		err := SafeTransfer(ctx, env, tokenAddr, bob, uint256.NewInt(1000))
		assert.ErrorIs(t, err, ErrTransferFailed)
		assert.EqualError(t, err, "GPv2: failed transfer")
		assert.True(t, tok.BalanceOf(bob).IsZero())

		err = SafeTransferFrom(ctx, env, tokenAddr, bob, alice, uint256.NewInt(1))
		assert.ErrorIs(t, err, ErrTransferFailed)
		assert.EqualError(t, err, "GPv2: failed transferFrom")
	})

	t.Run("revert propagates", func(t *testing.T) {
		h, _ := deploy(t, ReturnBool)
		env := &chain.Env{Host: h, Address: alice}
		err := SafeTransfer(ctx, env, tokenAddr, bob, uint256.NewInt(1000))
		assert.NotErrorIs(t, err, ErrTransferFailed)
		r, ok := chain.AsRevert(err)
		require.True(t, ok)
		assert.Equal(t, chain.EncodeRevertReason("ERC20: transfer amount exceeds balance"), r.Data)
	})

	t.Run("not a contract", func(t *testing.T) {
		h := chain.NewHost(1)
		env := &chain.Env{Host: h, Address: alice}
		err := SafeTransfer(ctx, env, common.HexToAddress("0x1234"), bob, uint256.NewInt(1))
		assert.ErrorIs(t, err, ErrNotAContract)
	})

	t.Run("malformed result", func(t *testing.T) {
		h := chain.NewHost(1)
		odd := make([]byte, 32)
		odd[31] = 2
		h.Deploy(tokenAddr, fixedReturn(odd))
		env := &chain.Env{Host: h, Address: alice}
		err := SafeTransfer(ctx, env, tokenAddr, bob, uint256.NewInt(1))
		assert.ErrorIs(t, err, ErrMalformedTransferResult)

		h.Deploy(tokenAddr, fixedReturn{0x01})
		err = SafeTransfer(ctx, env, tokenAddr, bob, uint256.NewInt(1))
		assert.ErrorIs(t, err, ErrTransferFailed)
	})
}
