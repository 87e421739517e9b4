package export

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"mercator-hq/callisto/pkg/journal"
)

// CSVExporter writes one row per entry.
type CSVExporter struct {
	IncludeHeader bool
}

// NewCSVExporter creates a CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{IncludeHeader: includeHeader}
}

// Header returns the column names in row order.
func Header() []string {
	return []string{
		"id", "time", "connection_id", "sequence", "client_id",
		"method", "path", "target", "admission",
		"rule_action", "rule_root", "rule_token",
		"kind", "status", "bytes", "duration_ms",
		"worker_id", "worker_exit", "error",
	}
}

// Export writes entries to w.
func (e *CSVExporter) Export(ctx context.Context, entries []*journal.Entry, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(Header()); err != nil {
			return journal.NewExportError("csv", len(entries), err)
		}
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writer.Write(row(entry)); err != nil {
			return journal.NewExportError("csv", len(entries), err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return journal.NewExportError("csv", len(entries), err)
	}
	return nil
}

func row(e *journal.Entry) []string {
	return []string{
		e.ID,
		e.Time.UTC().Format(time.RFC3339Nano),
		e.ConnectionID,
		strconv.Itoa(e.Sequence),
		e.ClientID,
		e.Method,
		e.Path,
		e.Target,
		e.Admission,
		e.RuleAction,
		e.RuleRoot,
		e.RuleToken,
		e.Kind,
		strconv.Itoa(e.Status),
		strconv.FormatInt(e.Bytes, 10),
		strconv.FormatFloat(float64(e.Duration.Microseconds())/1000, 'f', 3, 64),
		e.WorkerID,
		strconv.Itoa(e.WorkerExit),
		e.Error,
	}
}
