package domain

import (
	"encoding/json"
	"time"

	"github.com/alanyoungcy/batchsettle/internal/order"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// EventKind identifies a settlement event.
type EventKind string

const (
	EventTrade            EventKind = "trade"
	EventInteraction      EventKind = "interaction"
	EventSettlement       EventKind = "settlement"
	EventPreSignature     EventKind = "presignature"
	EventOrderInvalidated EventKind = "order_invalidated"
)

// Event is a decoded settlement log. Subject is the indexed address of the
// log: the order owner, the interaction target or the solver.
type Event struct {
	ID          int64           `json:"id,omitempty"`
	Kind        EventKind       `json:"kind"`
	TxHash      common.Hash     `json:"txHash"`
	BlockNumber uint64          `json:"blockNumber"`
	LogIndex    uint            `json:"logIndex"`
	Subject     common.Address  `json:"subject"`
	OrderUID    *order.UID      `json:"orderUid,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// TradePayload is the payload of a trade event.
type TradePayload struct {
	SellToken  common.Address `json:"sellToken"`
	BuyToken   common.Address `json:"buyToken"`
	SellAmount *uint256.Int   `json:"sellAmount"`
	BuyAmount  *uint256.Int   `json:"buyAmount"`
	FeeAmount  *uint256.Int   `json:"feeAmount"`
}

// InteractionPayload is the payload of an interaction event.
type InteractionPayload struct {
	Value    *uint256.Int  `json:"value"`
	Selector hexutil.Bytes `json:"selector"`
}

// PreSignaturePayload is the payload of a pre-signature event.
type PreSignaturePayload struct {
	Signed bool `json:"signed"`
}

// EventFilter narrows event queries.
type EventFilter struct {
	Kind      EventKind
	Subject   *common.Address
	OrderUID  *order.UID
	FromBlock uint64
	ListOpts
}

// Receipt is the outcome of one settlement transaction as the service
// reports and persists it.
type Receipt struct {
	BatchID      string         `json:"batchId"`
	Method       string         `json:"method"`
	TxHash       common.Hash    `json:"txHash"`
	From         common.Address `json:"from"`
	BlockNumber  uint64         `json:"blockNumber"`
	BlockTime    time.Time      `json:"blockTime"`
	Success      bool           `json:"success"`
	RevertReason string         `json:"revertReason,omitempty"`
	ReturnData   hexutil.Bytes  `json:"returnData,omitempty"`
	Events       []Event        `json:"events,omitempty"`
}

// OrderState is the persisted settlement state of one order UID.
type OrderState struct {
	UID         order.UID      `json:"uid"`
	Owner       common.Address `json:"owner"`
	ValidTo     uint32         `json:"validTo"`
	Filled      *uint256.Int   `json:"filledAmount"`
	Invalidated bool           `json:"invalidated"`
	PreSigned   bool           `json:"preSigned"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}
