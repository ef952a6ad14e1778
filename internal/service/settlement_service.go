package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/batchsettle/internal/chain"
	"github.com/alanyoungcy/batchsettle/internal/domain"
	"github.com/alanyoungcy/batchsettle/internal/order"
	"github.com/alanyoungcy/batchsettle/internal/settlement"
	"github.com/alanyoungcy/batchsettle/internal/signing"
	"github.com/alanyoungcy/batchsettle/internal/vault"
)

// Settlement methods as recorded on receipts, and the views the service
// queries.
const (
	MethodSettle          = "settle"
	MethodSwap            = "swap"
	MethodInvalidateOrder = "invalidateOrder"
	MethodSetPreSignature = "setPreSignature"
	MethodFilledAmount    = "filledAmount"
	MethodPreSignature    = "preSignature"
)

const (
	batchLockKey       = "settlement"
	defaultLockTTL     = 30 * time.Second
	defaultPublishWait = 5 * time.Second
)

// SettlementService runs settlement transactions on a Network, persists
// their receipts, events and the order state they touch, and publishes the
// events on the bus. Transactions are serialised locally and, when a lock
// manager is configured, across replicas sharing the same database.
type SettlementService struct {
	net      *Network
	receipts domain.ReceiptStore
	states   domain.OrderStateStore
	events   domain.EventStore
	audit    domain.AuditStore
	lock     domain.LockManager
	bus      domain.SignalBus
	logger   *slog.Logger

	now     func() time.Time
	lockTTL time.Duration

	mu sync.Mutex
}

// NewSettlementService creates a SettlementService. lock and bus may be nil.
func NewSettlementService(
	net *Network,
	receipts domain.ReceiptStore,
	states domain.OrderStateStore,
	events domain.EventStore,
	audit domain.AuditStore,
	lock domain.LockManager,
	bus domain.SignalBus,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		net:      net,
		receipts: receipts,
		states:   states,
		events:   events,
		audit:    audit,
		lock:     lock,
		bus:      bus,
		logger:   logger.With(slog.String("component", "settlement_service")),
		now:      time.Now,
		lockTTL:  defaultLockTTL,
	}
}

// WithClock replaces the clock that stamps block times.
func (s *SettlementService) WithClock(now func() time.Time) *SettlementService {
	s.now = now
	return s
}

// WithLockTTL sets how long the distributed batch lock is held at most.
func (s *SettlementService) WithLockTTL(ttl time.Duration) *SettlementService {
	s.lockTTL = ttl
	return s
}

// DomainSeparator returns the EIP-712 domain orders are signed under.
func (s *SettlementService) DomainSeparator() common.Hash {
	return s.net.Settlement.DomainSeparator()
}

// OrderUID computes the UID of o placed by owner.
func (s *SettlementService) OrderUID(o order.Order, owner common.Address) order.UID {
	return order.ComputeUID(s.DomainSeparator(), &o, owner)
}

// Settle executes b on behalf of solver. A reverted batch changes nothing,
// persists nothing and returns its receipt with an error wrapping both
// domain.ErrReverted and the revert cause.
func (s *SettlementService) Settle(ctx context.Context, solver common.Address, b domain.Batch) (domain.Receipt, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	encoded, err := encodeBatch(b)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("service: settle %s: %w", b.ID, err)
	}
	input, err := encoded.Pack()
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("service: settle %s: %w: %v", b.ID, domain.ErrInvalidBatch, err)
	}

	s.logger.InfoContext(ctx, "settling batch",
		slog.String("batch_id", b.ID),
		slog.String("solver", solver.Hex()),
		slog.Int("trades", len(b.Trades)),
		slog.Int("tokens", len(b.Tokens)),
	)
	return s.transact(ctx, b.ID, MethodSettle, solver, input, b.OrderRefunds)
}

// Swap settles a single order against vault liquidity on behalf of solver.
func (s *SettlementService) Swap(ctx context.Context, solver common.Address, req domain.SwapRequest) (domain.Receipt, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	record, err := encodeTrade(req.Tokens, req.Trade)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("service: swap %s: %w", req.ID, err)
	}
	steps := make([]vault.BatchSwapStep, len(req.Swaps))
	for i, st := range req.Swaps {
		steps[i] = vault.BatchSwapStep{
			PoolId:        st.PoolID,
			AssetInIndex:  new(big.Int).SetUint64(st.AssetInIndex),
			AssetOutIndex: new(big.Int).SetUint64(st.AssetOutIndex),
			Amount:        amountOrZero(st.Amount).ToBig(),
			UserData:      st.UserData,
		}
		if steps[i].UserData == nil {
			steps[i].UserData = []byte{}
		}
	}
	input, err := settlement.SwapCall(steps, req.Tokens, record)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("service: swap %s: %w: %v", req.ID, domain.ErrInvalidBatch, err)
	}

	s.logger.InfoContext(ctx, "settling swap",
		slog.String("batch_id", req.ID),
		slog.String("solver", solver.Hex()),
		slog.Int("steps", len(req.Swaps)),
	)
	return s.transact(ctx, req.ID, MethodSwap, solver, input, nil)
}

// InvalidateOrder cancels uid on behalf of its owner, who authorises the
// action with an eth_sign signature.
func (s *SettlementService) InvalidateOrder(ctx context.Context, uid order.UID, req domain.OwnerActionRequest) (domain.Receipt, error) {
	owner, err := s.authorizeOwner(signing.ActionInvalidate, uid, req.Signature)
	if err != nil {
		return domain.Receipt{}, err
	}
	r, err := s.transact(ctx, uuid.NewString(), MethodInvalidateOrder, owner, settlement.InvalidateOrderCall(uid), []order.UID{uid})
	s.auditOwnerAction(ctx, signing.ActionInvalidate, uid, r, err)
	return r, err
}

// SetPreSignature sets or revokes the pre-signature of uid on behalf of its
// owner.
func (s *SettlementService) SetPreSignature(ctx context.Context, uid order.UID, req domain.OwnerActionRequest) (domain.Receipt, error) {
	action := signing.ActionRevoke
	if req.Signed {
		action = signing.ActionPreSign
	}
	owner, err := s.authorizeOwner(action, uid, req.Signature)
	if err != nil {
		return domain.Receipt{}, err
	}
	r, err := s.transact(ctx, uuid.NewString(), MethodSetPreSignature, owner, settlement.SetPreSignatureCall(uid, req.Signed), []order.UID{uid})
	s.auditOwnerAction(ctx, action, uid, r, err)
	return r, err
}

func (s *SettlementService) authorizeOwner(action string, uid order.UID, signature []byte) (common.Address, error) {
	signer, err := signing.RecoverAction(action, uid, signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("service: %s %s: %w: %v", action, uid, domain.ErrUnauthorized, err)
	}
	if signer != uid.Owner() {
		return common.Address{}, fmt.Errorf("service: %s %s signed by %s: %w", action, uid, signer.Hex(), domain.ErrUnauthorized)
	}
	return signer, nil
}

func (s *SettlementService) auditOwnerAction(ctx context.Context, action string, uid order.UID, r domain.Receipt, txErr error) {
	detail := map[string]any{
		"action":  action,
		"uid":     uid.Hex(),
		"tx_hash": r.TxHash.Hex(),
		"success": txErr == nil,
	}
	if txErr != nil {
		detail["error"] = txErr.Error()
	}
	if err := s.audit.Log(ctx, domain.AuditOwnerAction, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}

// FilledAmount returns the cumulative filled amount of uid as the
// settlement reports it.
func (s *SettlementService) FilledAmount(ctx context.Context, uid order.UID) (*uint256.Int, error) {
	ret, err := s.net.Host.Query(ctx, s.net.Settlement.Address(), settlement.FilledAmountCall(uid))
	if err != nil {
		return nil, fmt.Errorf("service: filled amount %s: %w", uid, err)
	}
	return unpackUint(MethodFilledAmount, ret)
}

// OrderState returns the live settlement state of uid.
func (s *SettlementService) OrderState(ctx context.Context, uid order.UID) (domain.OrderState, error) {
	filled, err := s.FilledAmount(ctx, uid)
	if err != nil {
		return domain.OrderState{}, err
	}
	ret, err := s.net.Host.Query(ctx, s.net.Settlement.Address(), settlement.PreSignatureCall(uid))
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("service: pre-signature %s: %w", uid, err)
	}
	pre, err := unpackUint(MethodPreSignature, ret)
	if err != nil {
		return domain.OrderState{}, err
	}

	st := domain.OrderState{
		UID:         uid,
		Owner:       uid.Owner(),
		ValidTo:     uid.ValidTo(),
		Filled:      filled,
		Invalidated: filled.Eq(settlement.InvalidatedFill),
		PreSigned:   pre.Eq(settlement.PreSigned),
	}
	if stored, err := s.states.Get(ctx, uid); err == nil {
		st.UpdatedAt = stored.UpdatedAt
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.OrderState{}, fmt.Errorf("service: order state %s: %w", uid, err)
	}
	return st, nil
}

func unpackUint(method string, ret []byte) (*uint256.Int, error) {
	values, err := settlement.ABI.Methods[method].Outputs.Unpack(ret)
	if err != nil {
		return nil, fmt.Errorf("service: decode %s: %w", method, err)
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("service: decode %s: unexpected %T", method, values[0])
	}
	return chain.ToU256(v), nil
}

// Events lists persisted settlement events.
func (s *SettlementService) Events(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error) {
	return s.events.List(ctx, filter)
}

// Receipt returns a persisted receipt.
func (s *SettlementService) Receipt(ctx context.Context, txHash common.Hash) (domain.Receipt, error) {
	return s.receipts.Get(ctx, txHash)
}

// Restore loads persisted fill state and pre-signatures into the
// settlement. It runs once at startup, before any transaction.
func (s *SettlementService) Restore(ctx context.Context) (int, error) {
	states, err := s.states.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("service: restore: %w", err)
	}
	filled := make(map[order.UID]*uint256.Int, len(states))
	var preSigned []order.UID
	for _, st := range states {
		if st.Filled != nil && !st.Filled.IsZero() {
			filled[st.UID] = st.Filled
		}
		if st.PreSigned {
			preSigned = append(preSigned, st.UID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.net.Host.Apply(func() error {
		s.net.Settlement.Restore(filled, preSigned)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("service: restore: %w", err)
	}

	s.logger.InfoContext(ctx, "settlement state restored",
		slog.Int("filled", len(filled)),
		slog.Int("pre_signed", len(preSigned)),
	)
	if err := s.audit.Log(ctx, domain.AuditRestored, map[string]any{
		"orders":     len(states),
		"pre_signed": len(preSigned),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
	return len(states), nil
}

// transact runs one settlement transaction from sender and handles its
// outcome. touched lists UIDs whose state may change without a log naming
// them.
func (s *SettlementService) transact(ctx context.Context, id, method string, sender common.Address, input []byte, touched []order.UID) (domain.Receipt, error) {
	if s.lock != nil {
		unlock, err := s.lock.Acquire(ctx, batchLockKey, s.lockTTL)
		if err != nil {
			return domain.Receipt{}, fmt.Errorf("service: %s %s: %w", method, id, err)
		}
		defer unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	blockTime := s.now().UTC().Truncate(time.Second)
	s.net.Host.SetTime(uint64(blockTime.Unix()))

	rcpt, txErr := s.net.Host.Transact(ctx, sender, s.net.Settlement.Address(), nil, input)
	r := domain.Receipt{
		BatchID:      id,
		Method:       method,
		TxHash:       rcpt.TxHash,
		From:         sender,
		BlockNumber:  rcpt.BlockNumber,
		BlockTime:    blockTime,
		Success:      rcpt.Status == chain.StatusSuccessful,
		RevertReason: rcpt.RevertReason,
		ReturnData:   rcpt.ReturnData,
	}

	if txErr != nil {
		s.logger.WarnContext(ctx, "transaction reverted",
			slog.String("batch_id", id),
			slog.String("method", method),
			slog.String("from", sender.Hex()),
			slog.String("reason", rcpt.RevertReason),
		)
		s.reportRevert(ctx, r)
		if ctx.Err() != nil {
			return r, fmt.Errorf("service: %s %s: %w: %w", method, id, domain.ErrContextDone, txErr)
		}
		return r, fmt.Errorf("service: %s %s: %w: %w", method, id, domain.ErrReverted, txErr)
	}

	events, uids, err := s.decodeLogs(rcpt.Logs, blockTime)
	if err != nil {
		return r, fmt.Errorf("service: %s %s: %w", method, id, err)
	}
	r.Events = events

	states := s.orderStates(append(uids, touched...))
	if err := s.receipts.Record(ctx, r, states); err != nil {
		s.logger.ErrorContext(ctx, "receipt not persisted",
			slog.String("batch_id", id),
			slog.String("tx_hash", r.TxHash.Hex()),
			slog.String("error", err.Error()),
		)
		return r, fmt.Errorf("service: record %s: %w", r.TxHash.Hex(), err)
	}
	s.publish(ctx, events)

	s.logger.InfoContext(ctx, "transaction settled",
		slog.String("batch_id", id),
		slog.String("method", method),
		slog.String("tx_hash", r.TxHash.Hex()),
		slog.Uint64("block", r.BlockNumber),
		slog.Int("events", len(events)),
	)
	return r, nil
}

// decodeLogs converts the settlement's logs into domain events and collects
// the order UIDs they name. Logs of other contracts are skipped.
func (s *SettlementService) decodeLogs(logs []*types.Log, blockTime time.Time) ([]domain.Event, []order.UID, error) {
	var (
		events []domain.Event
		uids   []order.UID
	)
	addr := s.net.Settlement.Address()
	for _, l := range logs {
		parsed, err := settlement.ParseLog(addr, l)
		if errors.Is(err, settlement.ErrUnknownEvent) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		ev := domain.Event{
			TxHash:      l.TxHash,
			BlockNumber: l.BlockNumber,
			LogIndex:    l.Index,
			CreatedAt:   blockTime,
		}
		var payload any
		switch e := parsed.(type) {
		case *settlement.TradeEvent:
			ev.Kind = domain.EventTrade
			ev.Subject = e.Owner
			ev.OrderUID = &e.OrderUID
			payload = domain.TradePayload{
				SellToken:  e.SellToken,
				BuyToken:   e.BuyToken,
				SellAmount: chain.ToU256(e.SellAmount),
				BuyAmount:  chain.ToU256(e.BuyAmount),
				FeeAmount:  chain.ToU256(e.FeeAmount),
			}
		case *settlement.InteractionEvent:
			ev.Kind = domain.EventInteraction
			ev.Subject = e.Target
			payload = domain.InteractionPayload{Value: chain.ToU256(e.Value), Selector: e.Selector[:]}
		case *settlement.SettlementEvent:
			ev.Kind = domain.EventSettlement
			ev.Subject = e.Solver
		case *settlement.PreSignatureEvent:
			ev.Kind = domain.EventPreSignature
			ev.Subject = e.Owner
			ev.OrderUID = &e.OrderUID
			payload = domain.PreSignaturePayload{Signed: e.Signed}
		case *settlement.OrderInvalidatedEvent:
			ev.Kind = domain.EventOrderInvalidated
			ev.Subject = e.Owner
			ev.OrderUID = &e.OrderUID
		}
		if payload != nil {
			if ev.Payload, err = json.Marshal(payload); err != nil {
				return nil, nil, fmt.Errorf("encode %s payload: %w", ev.Kind, err)
			}
		}
		if ev.OrderUID != nil {
			uids = append(uids, *ev.OrderUID)
		}
		events = append(events, ev)
	}
	return events, uids, nil
}

// orderStates reads the settlement's current state of each distinct uid.
// It must run with s.mu held.
func (s *SettlementService) orderStates(uids []order.UID) []domain.OrderState {
	seen := make(map[order.UID]bool, len(uids))
	states := make([]domain.OrderState, 0, len(uids))
	for _, uid := range uids {
		if seen[uid] {
			continue
		}
		seen[uid] = true
		filled := s.net.Settlement.FilledAmount(uid)
		states = append(states, domain.OrderState{
			UID:         uid,
			Owner:       uid.Owner(),
			ValidTo:     uid.ValidTo(),
			Filled:      filled,
			Invalidated: filled.Eq(settlement.InvalidatedFill),
			PreSigned:   s.net.Settlement.IsPreSigned(uid),
		})
	}
	return states
}

func (s *SettlementService) publish(ctx context.Context, events []domain.Event) {
	if s.bus == nil || len(events) == 0 {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultPublishWait)
	defer cancel()
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.WarnContext(ctx, "encode event failed", slog.String("error", err.Error()))
			continue
		}
		if err := s.bus.PublishDurable(pubCtx, domain.ChannelEvents, domain.StreamEvents, data); err != nil {
			s.logger.WarnContext(ctx, "publish event failed",
				slog.String("kind", string(ev.Kind)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *SettlementService) reportRevert(ctx context.Context, r domain.Receipt) {
	ctx = context.WithoutCancel(ctx)
	if err := s.audit.Log(ctx, domain.AuditSettleReverted, map[string]any{
		"batch_id": r.BatchID,
		"method":   r.Method,
		"from":     r.From.Hex(),
		"tx_hash":  r.TxHash.Hex(),
		"reason":   r.RevertReason,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, defaultPublishWait)
	defer cancel()
	if err := s.bus.Publish(pubCtx, domain.ChannelReverts, data); err != nil {
		s.logger.WarnContext(ctx, "publish revert failed", slog.String("error", err.Error()))
	}
}

// encodeBatch turns an API batch into settle arguments. Missing
// interaction lists are empty; more than three is malformed.
func encodeBatch(b domain.Batch) (*settlement.Batch, error) {
	if len(b.Interactions) > settlement.NumPhases {
		return nil, fmt.Errorf("%w: %d interaction lists", domain.ErrInvalidBatch, len(b.Interactions))
	}
	out := &settlement.Batch{
		Tokens:         b.Tokens,
		ClearingPrices: make([]*uint256.Int, len(b.ClearingPrices)),
		Trades:         make([][]byte, len(b.Trades)),
		OrderRefunds:   b.OrderRefunds,
	}
	if out.Tokens == nil {
		out.Tokens = []common.Address{}
	}
	for i, p := range b.ClearingPrices {
		out.ClearingPrices[i] = amountOrZero(p)
	}
	for i, t := range b.Trades {
		record, err := encodeTrade(b.Tokens, t)
		if err != nil {
			return nil, fmt.Errorf("trade %d: %w", i, err)
		}
		out.Trades[i] = record
	}
	for phase, list := range b.Interactions {
		out.Interactions[phase] = make([]order.Interaction, len(list))
		for i, in := range list {
			out.Interactions[phase][i] = order.Interaction{
				Target:   in.Target,
				Value:    *amountOrZero(in.Value),
				CallData: in.CallData,
			}
		}
	}
	return out, nil
}

func encodeTrade(tokens []common.Address, t domain.TradeRequest) ([]byte, error) {
	tr, err := order.NewTrade(tokens, &t.Order, t.SigningScheme, amountOrZero(t.ExecutedAmount), t.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidOrder, err)
	}
	record, err := tr.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidOrder, err)
	}
	return record, nil
}

func amountOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
