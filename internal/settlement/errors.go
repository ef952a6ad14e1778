package settlement

import "errors"

var (
	ErrReentrantCall             = errors.New("ReentrancyGuard: reentrant call")
	ErrNotSolver                 = errors.New("GPv2: not a solver")
	ErrNotCreator                = errors.New("GPv2: not creator")
	ErrMalformedBatch            = errors.New("GPv2: invalid clearing prices")
	ErrMalformedInteractionList  = errors.New("GPv2: invalid interactions")
	ErrForbiddenInteraction      = errors.New("GPv2: forbidden interaction")
	ErrOrderExpired              = errors.New("GPv2: order expired")
	ErrLimitPriceNotRespected    = errors.New("GPv2: limit price not respected")
	ErrFillExceedsOrderSize      = errors.New("GPv2: order filled")
	ErrAmountOverflow            = errors.New("GPv2: amount overflow")
	ErrZeroClearingPrice         = errors.New("GPv2: zero clearing price")
	ErrCannotTransferNativeValue = errors.New("GPv2: cannot transfer native ETH")
	ErrInternalNativeValue       = errors.New("GPv2: unsupported internal ETH")
	ErrOrderStillValid           = errors.New("GPv2: order still valid")
	ErrNotOrderOwner             = errors.New("GPv2: caller does not own order")
	ErrCannotPreSign             = errors.New("GPv2: cannot presign order")
	ErrSellAmountNotRespected    = errors.New("GPv2: sell amount not respected")
	ErrBuyAmountNotRespected     = errors.New("GPv2: buy amount not respected")
	ErrUnknownEvent              = errors.New("settlement: unknown event")
)
