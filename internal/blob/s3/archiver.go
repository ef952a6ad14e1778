package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/batchsettle/internal/domain"
)

const contentTypeJSONL = "application/x-ndjson"

// ReceiptSource is the part of the receipt store the archiver needs.
type ReceiptSource interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Receipt, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ReceiptArchiver implements domain.Archiver. It moves settlement receipts
// older than a cutoff into a monthly JSONL object and then deletes them
// from the database. Receipts already present in the object are not
// written twice, so a run that uploaded but failed to delete can simply be
// repeated.
type ReceiptArchiver struct {
	writer   domain.ObjectWriter
	reader   domain.ObjectReader
	receipts ReceiptSource
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewReceiptArchiver creates a ReceiptArchiver.
func NewReceiptArchiver(writer domain.ObjectWriter, reader domain.ObjectReader, receipts ReceiptSource, audit domain.AuditStore, logger *slog.Logger) *ReceiptArchiver {
	return &ReceiptArchiver{
		writer:   writer,
		reader:   reader,
		receipts: receipts,
		audit:    audit,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveReceipts archives every receipt of a block older than before and
// returns how many were removed from the database.
func (a *ReceiptArchiver) ArchiveReceipts(ctx context.Context, before time.Time) (int64, error) {
	receipts, err := a.receipts.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive receipts query: %w", err)
	}
	if len(receipts) == 0 {
		return 0, nil
	}

	path := archivePath("settlements", before)
	existing, seen, err := a.load(ctx, path)
	if err != nil {
		return 0, err
	}

	fresh := receipts[:0:0]
	for _, r := range receipts {
		if !seen[r.TxHash] {
			fresh = append(fresh, r)
		}
	}
	if len(fresh) > 0 {
		lines, err := marshalJSONL(fresh)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive receipts marshal: %w", err)
		}
		body := append(existing, lines...)
		if int64(len(body)) > minPartSize {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(body), minPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(body), contentTypeJSONL)
		}
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive receipts upload: %w", err)
		}
	}

	deleted, err := a.receipts.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive receipts delete: %w", err)
	}
	a.logger.InfoContext(ctx, "receipts archived",
		slog.String("path", path),
		slog.Int("uploaded", len(fresh)),
		slog.Int64("deleted", deleted),
	)

	if err := a.audit.Log(ctx, domain.AuditArchived, map[string]any{
		"path":     path,
		"uploaded": len(fresh),
		"deleted":  deleted,
		"before":   before.UTC().Format(time.RFC3339),
	}); err != nil {
		return deleted, fmt.Errorf("s3blob: archive receipts audit log: %w", err)
	}
	return deleted, nil
}

// Load returns the receipts archived for the month containing t.
func (a *ReceiptArchiver) Load(ctx context.Context, t time.Time) ([]domain.Receipt, error) {
	body, err := a.reader.Get(ctx, archivePath("settlements", t))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var out []domain.Receipt
	err = scanJSONL(body, func(line []byte) error {
		var r domain.Receipt
		if err := json.Unmarshal(line, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("s3blob: decode archive: %w", err)
	}
	return out, nil
}

// load fetches the current archive object, if any, and the tx hashes it
// already holds.
func (a *ReceiptArchiver) load(ctx context.Context, path string) ([]byte, map[common.Hash]bool, error) {
	seen := make(map[common.Hash]bool)
	body, err := a.reader.Get(ctx, path)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, seen, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("s3blob: archive receipts read: %w", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, nil, fmt.Errorf("s3blob: archive receipts read %s: %w", path, err)
	}
	err = scanJSONL(bytes.NewReader(data), func(line []byte) error {
		var r struct {
			TxHash common.Hash `json:"txHash"`
		}
		if err := json.Unmarshal(line, &r); err != nil {
			return err
		}
		seen[r.TxHash] = true
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("s3blob: archive receipts decode %s: %w", path, err)
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	return data, seen, nil
}

// archivePath partitions archives by the year and month of t:
//
//	archive/settlements/2025-01.jsonl
func archivePath(kind string, t time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, t.UTC().Format("2006-01"))
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func scanJSONL(r io.Reader, fn func(line []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return sc.Err()
}

var _ domain.Archiver = (*ReceiptArchiver)(nil)
