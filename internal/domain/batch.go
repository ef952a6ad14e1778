package domain

import (
	"github.com/alanyoungcy/batchsettle/internal/order"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// TradeRequest is one signed order of a batch together with the amount the
// solver executes it for.
type TradeRequest struct {
	Order          order.Order         `json:"order"`
	SigningScheme  order.SigningScheme `json:"signingScheme"`
	Signature      hexutil.Bytes       `json:"signature"`
	ExecutedAmount *uint256.Int        `json:"executedAmount,omitempty"`
}

// InteractionRequest is an arbitrary call the settlement makes on behalf of
// the solver.
type InteractionRequest struct {
	Target   common.Address `json:"target"`
	Value    *uint256.Int   `json:"value,omitempty"`
	CallData hexutil.Bytes  `json:"callData"`
}

// Batch is a solver's settlement submission. Interactions holds the pre,
// intra and post lists in that order.
type Batch struct {
	ID             string                 `json:"id,omitempty"`
	Tokens         []common.Address       `json:"tokens"`
	ClearingPrices []*uint256.Int         `json:"clearingPrices"`
	Trades         []TradeRequest         `json:"trades"`
	Interactions   [][]InteractionRequest `json:"interactions"`
	OrderRefunds   []order.UID            `json:"orderRefunds,omitempty"`
}

// SwapStep is one hop of a direct vault swap.
type SwapStep struct {
	PoolID        common.Hash   `json:"poolId"`
	AssetInIndex  uint64        `json:"assetInIndex"`
	AssetOutIndex uint64        `json:"assetOutIndex"`
	Amount        *uint256.Int  `json:"amount"`
	UserData      hexutil.Bytes `json:"userData,omitempty"`
}

// SwapRequest settles a single order against vault liquidity.
type SwapRequest struct {
	ID     string           `json:"id,omitempty"`
	Swaps  []SwapStep       `json:"swaps"`
	Tokens []common.Address `json:"tokens"`
	Trade  TradeRequest     `json:"trade"`
}

// OwnerActionRequest carries an order owner's eth_sign signature over
// keccak256(action ‖ uid). Signed selects between pre-signing and revoking.
type OwnerActionRequest struct {
	Signature hexutil.Bytes `json:"signature"`
	Signed    bool          `json:"signed,omitempty"`
}
