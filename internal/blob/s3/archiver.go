package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/alanyoungcy/mmlab/internal/domain"
)

// ResultArchiver uploads finished backtest-run artifacts (summary JSON,
// per-snapshot rows, raw CSV output) to object storage under the
// domain.RunArtifactPath layout, which the status API reads back from.
type ResultArchiver struct {
	writer domain.BlobWriter
}

// NewResultArchiver creates a ResultArchiver.
func NewResultArchiver(writer domain.BlobWriter) *ResultArchiver {
	return &ResultArchiver{writer: writer}
}

// ArchiveRun uploads the run summary as JSON plus the retained metric rows as
// JSONL. Rows may be empty; the summary is always written.
func (a *ResultArchiver) ArchiveRun(ctx context.Context, run domain.BacktestRun, rows []domain.MetricRow) error {
	summary, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal run %s: %w", run.ID, err)
	}
	path := domain.RunArtifactPath(run.Market, run.ID, domain.ArtifactSummary)
	if err := a.writer.Put(ctx, path, bytes.NewReader(summary), "application/json"); err != nil {
		return fmt.Errorf("s3blob: upload summary %s: %w", path, err)
	}

	if len(rows) == 0 {
		return nil
	}
	buf, err := marshalJSONL(rows)
	if err != nil {
		return fmt.Errorf("s3blob: marshal rows for %s: %w", run.ID, err)
	}
	rowsPath := domain.RunArtifactPath(run.Market, run.ID, domain.ArtifactRows)
	if err := a.writer.Put(ctx, rowsPath, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: upload rows %s: %w", rowsPath, err)
	}
	return nil
}

// ArchiveFile uploads an arbitrary run artifact, e.g. the engine's full CSV
// output streamed from disk.
func (a *ResultArchiver) ArchiveFile(ctx context.Context, run domain.BacktestRun, name, contentType string, data io.Reader) error {
	path := domain.RunArtifactPath(run.Market, run.ID, name)
	if err := a.writer.Put(ctx, path, data, contentType); err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", path, err)
	}
	return nil
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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
