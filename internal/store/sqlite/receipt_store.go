package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alanyoungcy/batchsettle/internal/domain"
	"github.com/alanyoungcy/batchsettle/internal/order"
)

// ReceiptStore implements domain.ReceiptStore and domain.EventStore on
// SQLite.
type ReceiptStore struct {
	db *gorm.DB
}

// NewReceiptStore creates a ReceiptStore.
func NewReceiptStore(db *gorm.DB) *ReceiptStore {
	return &ReceiptStore{db: db}
}

// Record persists r, its events and the order states it touched in a single
// transaction. Recording the same transaction twice fails with
// domain.ErrAlreadyExists.
func (s *ReceiptStore) Record(ctx context.Context, r domain.Receipt, states []domain.OrderState) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := receiptRow{
			TxHash:       r.TxHash.Hex(),
			BatchID:      r.BatchID,
			Method:       r.Method,
			Sender:       r.From.Hex(),
			BlockNumber:  r.BlockNumber,
			BlockTime:    r.BlockTime.UTC(),
			Success:      r.Success,
			RevertReason: r.RevertReason,
			ReturnData:   r.ReturnData,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return fmt.Errorf("sqlite: insert receipt %s: %w", r.TxHash.Hex(), res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrAlreadyExists
		}

		if len(r.Events) > 0 {
			events := make([]eventRow, len(r.Events))
			for i, ev := range r.Events {
				events[i] = eventRow{
					TxHash:      ev.TxHash.Hex(),
					BlockNumber: ev.BlockNumber,
					LogIndex:    ev.LogIndex,
					Kind:        string(ev.Kind),
					Subject:     ev.Subject.Hex(),
					Payload:     ev.Payload,
				}
				if ev.OrderUID != nil {
					uid := ev.OrderUID.Hex()
					events[i].OrderUID = &uid
				}
			}
			if err := tx.Create(&events).Error; err != nil {
				return fmt.Errorf("sqlite: insert events of %s: %w", r.TxHash.Hex(), err)
			}
		}

		if err := saveOrderStates(tx, states); err != nil {
			return fmt.Errorf("sqlite: record %s: %w", r.TxHash.Hex(), err)
		}
		return nil
	})
}

func (r receiptRow) toDomain() domain.Receipt {
	return domain.Receipt{
		BatchID:      r.BatchID,
		Method:       r.Method,
		TxHash:       common.HexToHash(r.TxHash),
		From:         common.HexToAddress(r.Sender),
		BlockNumber:  r.BlockNumber,
		BlockTime:    r.BlockTime,
		Success:      r.Success,
		RevertReason: r.RevertReason,
		ReturnData:   r.ReturnData,
	}
}

func (r eventRow) toDomain() (domain.Event, error) {
	ev := domain.Event{
		ID:          r.ID,
		Kind:        domain.EventKind(r.Kind),
		TxHash:      common.HexToHash(r.TxHash),
		BlockNumber: r.BlockNumber,
		LogIndex:    r.LogIndex,
		Subject:     common.HexToAddress(r.Subject),
		Payload:     r.Payload,
		CreatedAt:   r.CreatedAt,
	}
	if r.OrderUID != nil {
		uid, err := order.UIDFromHex(*r.OrderUID)
		if err != nil {
			return domain.Event{}, fmt.Errorf("sqlite: event uid: %w", err)
		}
		ev.OrderUID = &uid
	}
	return ev, nil
}

// Get returns the receipt of txHash with its events.
func (s *ReceiptStore) Get(ctx context.Context, txHash common.Hash) (domain.Receipt, error) {
	var row receiptRow
	err := s.db.WithContext(ctx).First(&row, "tx_hash = ?", txHash.Hex()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Receipt{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("sqlite: get receipt %s: %w", txHash.Hex(), err)
	}
	events, err := s.eventsOf(ctx, []string{row.TxHash})
	if err != nil {
		return domain.Receipt{}, err
	}
	r := row.toDomain()
	r.Events = events[r.TxHash]
	return r, nil
}

// ListBefore returns up to limit receipts of blocks older than before,
// oldest first, with their events. A limit of zero lists all of them.
func (s *ReceiptStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Receipt, error) {
	var rows []receiptRow
	q := s.db.WithContext(ctx).Where("block_time < ?", before.UTC()).Order("block_time ASC, tx_hash")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list receipts before %s: %w", before.Format(time.RFC3339), err)
	}

	hashes := make([]string, len(rows))
	for i, row := range rows {
		hashes[i] = row.TxHash
	}
	events, err := s.eventsOf(ctx, hashes)
	if err != nil {
		return nil, err
	}

	receipts := make([]domain.Receipt, len(rows))
	for i, row := range rows {
		receipts[i] = row.toDomain()
		receipts[i].Events = events[receipts[i].TxHash]
	}
	return receipts, nil
}

// DeleteBefore removes receipts of blocks older than before together with
// their events. Order state is kept.
func (s *ReceiptStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old := tx.Model(&receiptRow{}).Select("tx_hash").Where("block_time < ?", before.UTC())
		if err := tx.Where("tx_hash IN (?)", old).Delete(&eventRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("block_time < ?", before.UTC()).Delete(&receiptRow{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete receipts before %s: %w", before.Format(time.RFC3339), err)
	}
	return deleted, nil
}

func (s *ReceiptStore) eventsOf(ctx context.Context, hashes []string) (map[common.Hash][]domain.Event, error) {
	out := make(map[common.Hash][]domain.Event, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}
	var rows []eventRow
	err := s.db.WithContext(ctx).
		Where("tx_hash IN ?", hashes).
		Order("block_number, log_index").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sqlite: list receipt events: %w", err)
	}
	for _, row := range rows {
		ev, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out[ev.TxHash] = append(out[ev.TxHash], ev)
	}
	return out, nil
}

// List returns events matching filter in log order.
func (s *ReceiptStore) List(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error) {
	q := s.db.WithContext(ctx).Where("block_number >= ?", filter.FromBlock)
	if filter.Kind != "" {
		q = q.Where("kind = ?", string(filter.Kind))
	}
	if filter.Subject != nil {
		q = q.Where("subject = ?", filter.Subject.Hex())
	}
	if filter.OrderUID != nil {
		q = q.Where("order_uid = ?", filter.OrderUID.Hex())
	}

	var rows []eventRow
	if err := page(q, "created_at", "block_number, log_index", filter.ListOpts).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list events: %w", err)
	}
	events := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		ev, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

var (
	_ domain.ReceiptStore = (*ReceiptStore)(nil)
	_ domain.EventStore   = (*ReceiptStore)(nil)
)
