package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/batchsettle/internal/domain"
	"github.com/alanyoungcy/batchsettle/internal/order"
)

// OrderStateStore implements domain.OrderStateStore using PostgreSQL.
type OrderStateStore struct {
	pool *pgxpool.Pool
}

// NewOrderStateStore creates a new OrderStateStore backed by the given pool.
func NewOrderStateStore(pool *pgxpool.Pool) *OrderStateStore {
	return &OrderStateStore{pool: pool}
}

const orderStateSelectCols = `uid, owner, valid_to, filled::text, invalidated, pre_signed, updated_at`

func scanOrderState(row pgx.Row) (domain.OrderState, error) {
	var (
		st         domain.OrderState
		uid, owner []byte
		validTo    int64
		filled     string
	)
	if err := row.Scan(&uid, &owner, &validTo, &filled, &st.Invalidated, &st.PreSigned, &st.UpdatedAt); err != nil {
		return domain.OrderState{}, err
	}
	parsed, err := order.ParseUID(uid)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("postgres: order state uid: %w", err)
	}
	st.UID = parsed
	st.Owner = common.BytesToAddress(owner)
	st.ValidTo = uint32(validTo)
	if st.Filled, err = uint256.FromDecimal(filled); err != nil {
		return domain.OrderState{}, fmt.Errorf("postgres: order state filled %q: %w", filled, err)
	}
	return st, nil
}

func collectOrderStates(rows pgx.Rows) ([]domain.OrderState, error) {
	defer rows.Close()
	var states []domain.OrderState
	for rows.Next() {
		st, err := scanOrderState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// Get returns the state of uid, or domain.ErrNotFound.
func (s *OrderStateStore) Get(ctx context.Context, uid order.UID) (domain.OrderState, error) {
	query := `SELECT ` + orderStateSelectCols + ` FROM order_state WHERE uid = $1`
	st, err := scanOrderState(s.pool.QueryRow(ctx, query, uid[:]))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OrderState{}, domain.ErrNotFound
		}
		return domain.OrderState{}, fmt.Errorf("postgres: get order state %s: %w", uid, err)
	}
	return st, nil
}

// ListByOwner returns the most recently updated orders of owner.
func (s *OrderStateStore) ListByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.OrderState, error) {
	q := newListQuery(`SELECT `+orderStateSelectCols+` FROM order_state WHERE owner = $1`, owner.Bytes())
	q.timeRange("updated_at", opts)
	q.page("updated_at DESC", opts)

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list order states of %s: %w", owner.Hex(), err)
	}
	states, err := collectOrderStates(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan order states: %w", err)
	}
	return states, nil
}

// All returns every persisted order state. It is used to restore the
// settlement contract on boot.
func (s *OrderStateStore) All(ctx context.Context) ([]domain.OrderState, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+orderStateSelectCols+` FROM order_state`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list order states: %w", err)
	}
	states, err := collectOrderStates(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan order states: %w", err)
	}
	return states, nil
}

// queueOrderStates upserts states into batch. A state with nothing filled
// and no pre-signature has been refunded and its row is removed.
func queueOrderStates(batch *pgx.Batch, states []domain.OrderState) {
	const upsert = `
		INSERT INTO order_state (uid, owner, valid_to, filled, invalidated, pre_signed, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, NOW())
		ON CONFLICT (uid) DO UPDATE SET
			filled = EXCLUDED.filled,
			invalidated = EXCLUDED.invalidated,
			pre_signed = EXCLUDED.pre_signed,
			updated_at = NOW()`
	const remove = `DELETE FROM order_state WHERE uid = $1`

	for _, st := range states {
		filled := st.Filled
		if filled == nil {
			filled = new(uint256.Int)
		}
		if filled.IsZero() && !st.PreSigned {
			batch.Queue(remove, st.UID[:])
			continue
		}
		batch.Queue(upsert, st.UID[:], st.Owner.Bytes(), int64(st.ValidTo), filled.Dec(), st.Invalidated, st.PreSigned)
	}
}

// Compile-time interface check.
var _ domain.OrderStateStore = (*OrderStateStore)(nil)
