// Package sqlitestore implements the settlement stores on an embedded,
// pure-Go SQLite database through GORM. It serves single-node deployments
// and tests that have no PostgreSQL at hand.
package sqlitestore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/alanyoungcy/batchsettle/internal/domain"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Open connects to the database file at path, creating its directory, and
// migrates the schema.
func Open(path string) (*gorm.DB, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	// SQLite has a single writer, and every connection to ":memory:" would
	// otherwise see its own empty database.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite: underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&orderStateRow{}, &receiptRow{}, &eventRow{}, &auditRow{}); err != nil {
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return db, nil
}

// Close closes the database.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type orderStateRow struct {
	UID         string `gorm:"primaryKey;size:114"`
	Owner       string `gorm:"size:42;index:idx_order_state_owner"`
	ValidTo     uint32
	Filled      string `gorm:"size:78"`
	Invalidated bool
	PreSigned   bool
	UpdatedAt   time.Time `gorm:"index:idx_order_state_owner"`
}

func (orderStateRow) TableName() string { return "order_state" }

type receiptRow struct {
	TxHash       string `gorm:"primaryKey;size:66"`
	BatchID      string
	Method       string
	Sender       string `gorm:"size:42"`
	BlockNumber  uint64
	BlockTime    time.Time `gorm:"index"`
	Success      bool
	RevertReason string
	ReturnData   []byte
	CreatedAt    time.Time
}

func (receiptRow) TableName() string { return "receipts" }

type eventRow struct {
	ID          int64   `gorm:"primaryKey;autoIncrement"`
	TxHash      string  `gorm:"size:66;uniqueIndex:idx_event_log"`
	BlockNumber uint64  `gorm:"index:idx_event_order"`
	LogIndex    uint    `gorm:"uniqueIndex:idx_event_log;index:idx_event_order"`
	Kind        string  `gorm:"index"`
	Subject     string  `gorm:"size:42;index"`
	OrderUID    *string `gorm:"size:114;index"`
	Payload     []byte
	CreatedAt   time.Time
}

func (eventRow) TableName() string { return "settlement_events" }

type auditRow struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	Event     string
	Detail    []byte
	CreatedAt time.Time `gorm:"index"`
}

func (auditRow) TableName() string { return "audit_log" }

// page applies ListOpts to a query on a table with the given time column.
func page(q *gorm.DB, timeCol, orderBy string, opts domain.ListOpts) *gorm.DB {
	if opts.Since != nil {
		q = q.Where(timeCol+" >= ?", opts.Since.UTC())
	}
	if opts.Until != nil {
		q = q.Where(timeCol+" <= ?", opts.Until.UTC())
	}
	q = q.Order(orderBy)
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	return q
}
