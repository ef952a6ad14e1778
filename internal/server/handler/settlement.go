package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/batchsettle/internal/domain"
	"github.com/alanyoungcy/batchsettle/internal/order"
)

// SettlementService defines the methods the settlement handler requires
// from the service layer.
type SettlementService interface {
	Settle(ctx context.Context, solver common.Address, b domain.Batch) (domain.Receipt, error)
	Swap(ctx context.Context, solver common.Address, req domain.SwapRequest) (domain.Receipt, error)
}

// SettlementHandler serves batch submission endpoints.
type SettlementHandler struct {
	svc    SettlementService
	logger *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(svc SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{svc: svc, logger: logger}
}

// settleRequest names the solver the batch is submitted as. Whether it may
// settle is decided by the settlement's authenticator.
type settleRequest struct {
	Solver common.Address `json:"solver"`
	Batch  domain.Batch   `json:"batch"`
}

type swapRequest struct {
	Solver common.Address     `json:"solver"`
	Swap   domain.SwapRequest `json:"swap"`
}

// Settle executes a batch.
// POST /api/settle
func (h *SettlementHandler) Settle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Solver == (common.Address{}) {
		writeError(w, http.StatusBadRequest, "solver is required")
		return
	}

	rcpt, err := h.svc.Settle(r.Context(), req.Solver, req.Batch)
	if err != nil {
		writeServiceError(w, r, h.logger, "settle", rcpt, err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}

// Swap settles a single order against vault liquidity.
// POST /api/swap
func (h *SettlementHandler) Swap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Solver == (common.Address{}) {
		writeError(w, http.StatusBadRequest, "solver is required")
		return
	}
	if len(req.Swap.Swaps) == 0 {
		writeError(w, http.StatusBadRequest, "at least one swap step is required")
		return
	}

	rcpt, err := h.svc.Swap(r.Context(), req.Solver, req.Swap)
	if err != nil {
		writeServiceError(w, r, h.logger, "swap", rcpt, err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}

// OrderService defines the methods the order handler requires from the
// service layer.
type OrderService interface {
	OrderState(ctx context.Context, uid order.UID) (domain.OrderState, error)
	InvalidateOrder(ctx context.Context, uid order.UID, req domain.OwnerActionRequest) (domain.Receipt, error)
	SetPreSignature(ctx context.Context, uid order.UID, req domain.OwnerActionRequest) (domain.Receipt, error)
	Events(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error)
}

// OrderHandler serves order state and owner actions.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given service and logger.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

// GetOrder returns the settlement state of an order.
// GET /api/orders/{uid}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	uid, ok := pathUID(w, r)
	if !ok {
		return
	}
	st, err := h.orders.OrderState(r.Context(), uid)
	if err != nil {
		writeServiceError(w, r, h.logger, "get order", domain.Receipt{}, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// InvalidateOrder cancels an order on behalf of its owner.
// POST /api/orders/{uid}/invalidate
func (h *OrderHandler) InvalidateOrder(w http.ResponseWriter, r *http.Request) {
	uid, ok := pathUID(w, r)
	if !ok {
		return
	}
	var req domain.OwnerActionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rcpt, err := h.orders.InvalidateOrder(r.Context(), uid, req)
	if err != nil {
		writeServiceError(w, r, h.logger, "invalidate order", rcpt, err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}

// PreSign sets or revokes the pre-signature of an order.
// POST /api/orders/{uid}/presign
func (h *OrderHandler) PreSign(w http.ResponseWriter, r *http.Request) {
	uid, ok := pathUID(w, r)
	if !ok {
		return
	}
	var req domain.OwnerActionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rcpt, err := h.orders.SetPreSignature(r.Context(), uid, req)
	if err != nil {
		writeServiceError(w, r, h.logger, "presign order", rcpt, err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}

type listEventsResponse struct {
	Events []domain.Event `json:"events"`
}

// ListEvents returns persisted settlement events.
// GET /api/events?kind=trade&subject=0x...&order_uid=0x...&from_block=N&limit=50&offset=0
func (h *OrderHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.orders.Events(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, "list events", domain.Receipt{}, err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: events})
}
