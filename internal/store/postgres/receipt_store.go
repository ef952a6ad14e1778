package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/batchsettle/internal/domain"
	"github.com/alanyoungcy/batchsettle/internal/order"
)

// ReceiptStore implements domain.ReceiptStore and domain.EventStore using
// PostgreSQL.
type ReceiptStore struct {
	pool *pgxpool.Pool
}

// NewReceiptStore creates a new ReceiptStore backed by the given pool.
func NewReceiptStore(pool *pgxpool.Pool) *ReceiptStore {
	return &ReceiptStore{pool: pool}
}

// Record persists r, its events and the order states it touched in a single
// transaction. Recording the same transaction twice fails with
// domain.ErrAlreadyExists.
func (s *ReceiptStore) Record(ctx context.Context, r domain.Receipt, states []domain.OrderState) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin record %s: %w", r.TxHash.Hex(), err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertReceipt = `
		INSERT INTO receipts (
			tx_hash, batch_id, method, sender, block_number, block_time,
			success, revert_reason, return_data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tx_hash) DO NOTHING`
	tag, err := tx.Exec(ctx, insertReceipt,
		r.TxHash.Bytes(), r.BatchID, r.Method, r.From.Bytes(), int64(r.BlockNumber), r.BlockTime,
		r.Success, r.RevertReason, []byte(r.ReturnData),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert receipt %s: %w", r.TxHash.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}

	batch := &pgx.Batch{}
	queueEvents(batch, r.Events)
	queueOrderStates(batch, states)

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: record %s statement %d: %w", r.TxHash.Hex(), i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close record batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit record %s: %w", r.TxHash.Hex(), err)
	}
	return nil
}

func queueEvents(batch *pgx.Batch, events []domain.Event) {
	const query = `
		INSERT INTO settlement_events (
			tx_hash, block_number, log_index, kind, subject, order_uid, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for _, ev := range events {
		var uid []byte
		if ev.OrderUID != nil {
			uid = ev.OrderUID[:]
		}
		var payload []byte
		if len(ev.Payload) > 0 {
			payload = ev.Payload
		}
		batch.Queue(query,
			ev.TxHash.Bytes(), int64(ev.BlockNumber), int32(ev.LogIndex), string(ev.Kind),
			ev.Subject.Bytes(), uid, payload,
		)
	}
}

const receiptSelectCols = `tx_hash, batch_id, method, sender, block_number, block_time,
	success, revert_reason, return_data`

func scanReceipt(row pgx.Row) (domain.Receipt, error) {
	var (
		r              domain.Receipt
		txHash, sender []byte
		returnData     []byte
		blockNumber    int64
	)
	if err := row.Scan(&txHash, &r.BatchID, &r.Method, &sender, &blockNumber, &r.BlockTime,
		&r.Success, &r.RevertReason, &returnData); err != nil {
		return domain.Receipt{}, err
	}
	r.ReturnData = returnData
	r.TxHash = common.BytesToHash(txHash)
	r.From = common.BytesToAddress(sender)
	r.BlockNumber = uint64(blockNumber)
	return r, nil
}

// Get returns the receipt of txHash with its events.
func (s *ReceiptStore) Get(ctx context.Context, txHash common.Hash) (domain.Receipt, error) {
	query := `SELECT ` + receiptSelectCols + ` FROM receipts WHERE tx_hash = $1`
	r, err := scanReceipt(s.pool.QueryRow(ctx, query, txHash.Bytes()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Receipt{}, domain.ErrNotFound
		}
		return domain.Receipt{}, fmt.Errorf("postgres: get receipt %s: %w", txHash.Hex(), err)
	}
	events, err := s.eventsOf(ctx, []common.Hash{txHash})
	if err != nil {
		return domain.Receipt{}, err
	}
	r.Events = events[txHash]
	return r, nil
}

// ListBefore returns up to limit receipts of blocks older than before,
// oldest first, with their events.
func (s *ReceiptStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Receipt, error) {
	query := `SELECT ` + receiptSelectCols + ` FROM receipts WHERE block_time < $1 ORDER BY block_time ASC, tx_hash`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list receipts before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var (
		receipts []domain.Receipt
		hashes   []common.Hash
	)
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan receipt: %w", err)
		}
		receipts = append(receipts, r)
		hashes = append(hashes, r.TxHash)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list receipts rows: %w", err)
	}
	rows.Close()

	events, err := s.eventsOf(ctx, hashes)
	if err != nil {
		return nil, err
	}
	for i := range receipts {
		receipts[i].Events = events[receipts[i].TxHash]
	}
	return receipts, nil
}

// DeleteBefore removes receipts of blocks older than before. Their events
// are removed by cascade; order state is kept.
func (s *ReceiptStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM receipts WHERE block_time < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete receipts before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

const eventSelectCols = `id, tx_hash, block_number, log_index, kind, subject, order_uid, payload, created_at`

func scanEvent(row pgx.Row) (domain.Event, error) {
	var (
		ev              domain.Event
		txHash, subject []byte
		uid, payload    []byte
		blockNumber     int64
		logIndex        int32
		kind            string
	)
	if err := row.Scan(&ev.ID, &txHash, &blockNumber, &logIndex, &kind, &subject, &uid, &payload, &ev.CreatedAt); err != nil {
		return domain.Event{}, err
	}
	ev.TxHash = common.BytesToHash(txHash)
	ev.BlockNumber = uint64(blockNumber)
	ev.LogIndex = uint(logIndex)
	ev.Kind = domain.EventKind(kind)
	ev.Subject = common.BytesToAddress(subject)
	ev.Payload = payload
	if uid != nil {
		parsed, err := order.ParseUID(uid)
		if err != nil {
			return domain.Event{}, fmt.Errorf("postgres: event uid: %w", err)
		}
		ev.OrderUID = &parsed
	}
	return ev, nil
}

func (s *ReceiptStore) eventsOf(ctx context.Context, hashes []common.Hash) (map[common.Hash][]domain.Event, error) {
	out := make(map[common.Hash][]domain.Event, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}
	raw := make([][]byte, len(hashes))
	for i, h := range hashes {
		raw[i] = h.Bytes()
	}

	query := `SELECT ` + eventSelectCols + ` FROM settlement_events WHERE tx_hash = ANY($1) ORDER BY block_number, log_index`
	rows, err := s.pool.Query(ctx, query, raw)
	if err != nil {
		return nil, fmt.Errorf("postgres: list receipt events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		out[ev.TxHash] = append(out[ev.TxHash], ev)
	}
	return out, rows.Err()
}

// List returns events matching filter in log order.
func (s *ReceiptStore) List(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error) {
	q := newListQuery(`SELECT `+eventSelectCols+` FROM settlement_events WHERE block_number >= $1`, int64(filter.FromBlock))
	if filter.Kind != "" {
		q.where("kind = $%d", string(filter.Kind))
	}
	if filter.Subject != nil {
		q.where("subject = $%d", filter.Subject.Bytes())
	}
	if filter.OrderUID != nil {
		q.where("order_uid = $%d", filter.OrderUID[:])
	}
	q.timeRange("created_at", filter.ListOpts)
	q.page("block_number, log_index", filter.ListOpts)

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return events, nil
}

// Compile-time interface checks.
var (
	_ domain.ReceiptStore = (*ReceiptStore)(nil)
	_ domain.EventStore   = (*ReceiptStore)(nil)
)
