package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/alanyoungcy/polywager/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// multipartThreshold is the object size above which uploads go through
	// the multipart manager.
	multipartThreshold = 64 * 1024 * 1024
)

// ArchiveImpl implements domain.Archiver. Settled markets and their positions
// are appended as JSONL to monthly objects keyed by settlement month:
//
//	archive/markets/2026-01.jsonl
//	archive/positions/2026-01.jsonl
//
// Records are not removed from the ledger store; the caller flags them as
// archived once the upload succeeded.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
}

// NewArchiver creates an ArchiveImpl. audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, reader: reader, audit: audit}
}

// ArchiveSettled uploads batch and returns the number of markets written.
func (a *ArchiveImpl) ArchiveSettled(ctx context.Context, batch []domain.SettledMarket) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]domain.SettledMarket)
	for _, sm := range batch {
		month := settledMonth(sm.Market)
		byMonth[month] = append(byMonth[month], sm)
	}
	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Strings(months)

	var count int64
	for _, month := range months {
		group := byMonth[month]
		markets := make([]domain.Market, 0, len(group))
		var positions []domain.Position
		for _, sm := range group {
			markets = append(markets, sm.Market)
			positions = append(positions, sm.Positions...)
		}

		marketsPath := archivePath("markets", month)
		if err := appendJSONL(ctx, a, marketsPath, markets); err != nil {
			return count, err
		}
		if len(positions) > 0 {
			if err := appendJSONL(ctx, a, archivePath("positions", month), positions); err != nil {
				return count, err
			}
		}
		count += int64(len(markets))

		if a.audit != nil {
			if err := a.audit.Log(ctx, "archive.markets", map[string]any{
				"path":      marketsPath,
				"markets":   len(markets),
				"positions": len(positions),
			}); err != nil {
				return count, fmt.Errorf("s3blob: archive audit log: %w", err)
			}
		}
	}
	return count, nil
}

// appendJSONL adds records to the object at path, keeping what is already
// stored there.
func appendJSONL[T any](ctx context.Context, a *ArchiveImpl, path string, records []T) error {
	body, err := a.load(ctx, path)
	if err != nil {
		return err
	}
	if len(body) > 0 && body[len(body)-1] != '\n' {
		body = append(body, '\n')
	}
	lines, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s marshal: %w", path, err)
	}
	body = append(body, lines...)

	if len(body) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(body), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(body), jsonlContentType)
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive %s upload: %w", path, err)
	}
	return nil
}

func (a *ArchiveImpl) load(ctx context.Context, path string) ([]byte, error) {
	if a.reader == nil {
		return nil, nil
	}
	ok, err := a.reader.Exists(ctx, path)
	if err != nil || !ok {
		return nil, err
	}
	rc, err := a.reader.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read %s: %w", path, err)
	}
	return data, nil
}

func settledMonth(m domain.Market) string {
	t := m.UpdatedAt
	if m.SettledAt != nil {
		t = *m.SettledAt
	}
	return t.UTC().Format("2006-01")
}

// archivePath builds the object key of a monthly archive file.
func archivePath(kind, month string) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month)
}

// marshalJSONL encodes each record as one compact JSON line.
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
