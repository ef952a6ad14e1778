package settlement

import (
	"fmt"
	"math/big"

	"github.com/alanyoungcy/batchsettle/internal/chain"
	"github.com/alanyoungcy/batchsettle/internal/order"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TradeEvent is a decoded Trade log.
type TradeEvent struct {
	Owner      common.Address
	SellToken  common.Address
	BuyToken   common.Address
	SellAmount *big.Int
	BuyAmount  *big.Int
	FeeAmount  *big.Int
	OrderUID   order.UID
}

// InteractionEvent is a decoded Interaction log.
type InteractionEvent struct {
	Target   common.Address
	Value    *big.Int
	Selector [4]byte
}

// SettlementEvent is a decoded Settlement log.
type SettlementEvent struct {
	Solver common.Address
}

// PreSignatureEvent is a decoded PreSignature log.
type PreSignatureEvent struct {
	Owner    common.Address
	OrderUID order.UID
	Signed   bool
}

// OrderInvalidatedEvent is a decoded OrderInvalidated log.
type OrderInvalidatedEvent struct {
	Owner    common.Address
	OrderUID order.UID
}

func (s *Settlement) emitTrade(env *chain.Env, e *Execution) error {
	return chain.EmitEvent(env, ABI.Events["Trade"], []common.Hash{chain.AddressTopic(e.Owner)},
		e.SellToken, e.BuyToken, e.SellAmount.ToBig(), e.BuyAmount.ToBig(), e.FeeAmount.ToBig(), e.UID[:])
}

func (s *Settlement) emitInteraction(env *chain.Env, in *order.Interaction) error {
	return chain.EmitEvent(env, ABI.Events["Interaction"], []common.Hash{chain.AddressTopic(in.Target)},
		in.Value.ToBig(), in.Selector())
}

func (s *Settlement) emitSettlement(env *chain.Env, solver common.Address) error {
	return chain.EmitEvent(env, ABI.Events["Settlement"], []common.Hash{chain.AddressTopic(solver)})
}

// ParseLog decodes a settlement log into one of the *Event types. Logs
// emitted by other contracts yield ErrUnknownEvent.
func ParseLog(address common.Address, l *types.Log) (any, error) {
	if l.Address != address || len(l.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	ev, err := ABI.EventByID(l.Topics[0])
	if err != nil {
		return nil, ErrUnknownEvent
	}
	if len(l.Topics) < 2 {
		return nil, fmt.Errorf("settlement: %s log without indexed topic", ev.Name)
	}
	values, err := ev.Inputs.NonIndexed().Unpack(l.Data)
	if err != nil {
		return nil, fmt.Errorf("settlement: decode %s: %w", ev.Name, err)
	}
	indexed := chain.TopicAddress(l.Topics[1])

	switch ev.Name {
	case "Trade":
		uid, err := order.ParseUID(values[5].([]byte))
		if err != nil {
			return nil, err
		}
		return &TradeEvent{
			Owner:      indexed,
			SellToken:  values[0].(common.Address),
			BuyToken:   values[1].(common.Address),
			SellAmount: values[2].(*big.Int),
			BuyAmount:  values[3].(*big.Int),
			FeeAmount:  values[4].(*big.Int),
			OrderUID:   uid,
		}, nil
	case "Interaction":
		return &InteractionEvent{
			Target:   indexed,
			Value:    values[0].(*big.Int),
			Selector: values[1].([4]byte),
		}, nil
	case "Settlement":
		return &SettlementEvent{Solver: indexed}, nil
	case "PreSignature":
		uid, err := order.ParseUID(values[0].([]byte))
		if err != nil {
			return nil, err
		}
		return &PreSignatureEvent{Owner: indexed, OrderUID: uid, Signed: values[1].(bool)}, nil
	case "OrderInvalidated":
		uid, err := order.ParseUID(values[0].([]byte))
		if err != nil {
			return nil, err
		}
		return &OrderInvalidatedEvent{Owner: indexed, OrderUID: uid}, nil
	}
	return nil, ErrUnknownEvent
}
