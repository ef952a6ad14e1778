package domain

import (
	"context"
	"time"

	"github.com/alanyoungcy/batchsettle/internal/order"
	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStateStore reads persisted order fill and pre-signature state.
type OrderStateStore interface {
	Get(ctx context.Context, uid order.UID) (OrderState, error)
	ListByOwner(ctx context.Context, owner common.Address, opts ListOpts) ([]OrderState, error)
	All(ctx context.Context) ([]OrderState, error)
}

// EventStore reads the settlement event log.
type EventStore interface {
	List(ctx context.Context, filter EventFilter) ([]Event, error)
}

// ReceiptStore persists settlement receipts. Record writes the receipt, its
// events and the order states it touched in one transaction.
type ReceiptStore interface {
	Record(ctx context.Context, r Receipt, states []OrderState) error
	Get(ctx context.Context, txHash common.Hash) (Receipt, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Receipt, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Audit event names.
const (
	AuditSettleReverted = "settle.reverted"
	AuditOwnerAction    = "order.owner_action"
	AuditArchived       = "archive.receipts"
	AuditRestored       = "settlement.restored"
)

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
