package sqlitestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alanyoungcy/batchsettle/internal/domain"
	"github.com/alanyoungcy/batchsettle/internal/order"
)

// OrderStateStore implements domain.OrderStateStore on SQLite.
type OrderStateStore struct {
	db *gorm.DB
}

// NewOrderStateStore creates an OrderStateStore.
func NewOrderStateStore(db *gorm.DB) *OrderStateStore {
	return &OrderStateStore{db: db}
}

func (r orderStateRow) toDomain() (domain.OrderState, error) {
	uid, err := order.UIDFromHex(r.UID)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("sqlite: order state uid: %w", err)
	}
	filled, err := uint256.FromDecimal(r.Filled)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("sqlite: order state filled %q: %w", r.Filled, err)
	}
	return domain.OrderState{
		UID:         uid,
		Owner:       common.HexToAddress(r.Owner),
		ValidTo:     r.ValidTo,
		Filled:      filled,
		Invalidated: r.Invalidated,
		PreSigned:   r.PreSigned,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

func toOrderStates(rows []orderStateRow) ([]domain.OrderState, error) {
	out := make([]domain.OrderState, 0, len(rows))
	for _, r := range rows {
		st, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Get returns the state of uid, or domain.ErrNotFound.
func (s *OrderStateStore) Get(ctx context.Context, uid order.UID) (domain.OrderState, error) {
	var row orderStateRow
	err := s.db.WithContext(ctx).First(&row, "uid = ?", uid.Hex()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.OrderState{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("sqlite: get order state %s: %w", uid, err)
	}
	return row.toDomain()
}

// ListByOwner returns the most recently updated orders of owner.
func (s *OrderStateStore) ListByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.OrderState, error) {
	var rows []orderStateRow
	q := s.db.WithContext(ctx).Where("owner = ?", owner.Hex())
	if err := page(q, "updated_at", "updated_at DESC", opts).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list order states of %s: %w", owner.Hex(), err)
	}
	return toOrderStates(rows)
}

// All returns every persisted order state.
func (s *OrderStateStore) All(ctx context.Context) ([]domain.OrderState, error) {
	var rows []orderStateRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list order states: %w", err)
	}
	return toOrderStates(rows)
}

// saveOrderStates upserts states within tx. A state with nothing filled and
// no pre-signature has been refunded and its row is removed.
func saveOrderStates(tx *gorm.DB, states []domain.OrderState) error {
	for _, st := range states {
		filled := st.Filled
		if filled == nil {
			filled = new(uint256.Int)
		}
		if filled.IsZero() && !st.PreSigned {
			if err := tx.Delete(&orderStateRow{}, "uid = ?", st.UID.Hex()).Error; err != nil {
				return fmt.Errorf("delete order state %s: %w", st.UID, err)
			}
			continue
		}
		row := orderStateRow{
			UID:         st.UID.Hex(),
			Owner:       st.Owner.Hex(),
			ValidTo:     st.ValidTo,
			Filled:      filled.Dec(),
			Invalidated: st.Invalidated,
			PreSigned:   st.PreSigned,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "uid"}},
			DoUpdates: clause.AssignmentColumns([]string{"filled", "invalidated", "pre_signed", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("upsert order state %s: %w", st.UID, err)
		}
	}
	return nil
}

var _ domain.OrderStateStore = (*OrderStateStore)(nil)
