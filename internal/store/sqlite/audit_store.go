package sqlitestore

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/alanyoungcy/batchsettle/internal/domain"
)

// AuditStore implements domain.AuditStore on SQLite.
type AuditStore struct {
	db *gorm.DB
}

// NewAuditStore creates an AuditStore.
func NewAuditStore(db *gorm.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Log appends an audit entry with detail stored as JSON.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	if err := s.db.WithContext(ctx).Create(&auditRow{Event: event, Detail: detailJSON}).Error; err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries, newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var rows []auditRow
	if err := page(s.db.WithContext(ctx), "created_at", "created_at DESC, id DESC", opts).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	entries := make([]domain.AuditEntry, 0, len(rows))
	for _, row := range rows {
		e := domain.AuditEntry{ID: row.ID, Event: row.Event, CreatedAt: row.CreatedAt}
		if len(row.Detail) > 0 {
			if err := json.Unmarshal(row.Detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
