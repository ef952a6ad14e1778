package vault

import "errors"

var (
	ErrRelayerNotApproved          = errors.New("vault: user doesn't allow relayer")
	ErrInsufficientInternalBalance = errors.New("vault: insufficient internal balance")
	ErrInvalidOperation            = errors.New("vault: invalid user balance operation")
	ErrNativeAsset                 = errors.New("vault: native asset not supported")
	ErrUnknownPool                 = errors.New("vault: unknown pool")
	ErrIndexOutOfBounds            = errors.New("vault: asset index out of bounds")
	ErrSameToken                   = errors.New("vault: cannot swap same token")
	ErrUnknownAmountInFirstSwap    = errors.New("vault: unknown amount in first swap")
	ErrMalformedSwap               = errors.New("vault: malformed swap")
	ErrSwapLimit                   = errors.New("vault: swap limit")
	ErrSwapDeadline                = errors.New("vault: swap deadline")
	ErrInsufficientLiquidity       = errors.New("vault: insufficient pool liquidity")
)
