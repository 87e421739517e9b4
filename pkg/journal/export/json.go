// Package export writes journal entries as JSON or CSV.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"mercator-hq/callisto/pkg/journal"
)

// JSONExporter writes entries as a JSON array, or as one object per line
// when Lines is set.
type JSONExporter struct {
	Pretty bool
	Lines  bool
}

// NewJSONExporter creates a JSON exporter.
func NewJSONExporter(pretty bool) *JSONExporter {
	return &JSONExporter{Pretty: pretty}
}

// Export writes entries to w.
func (e *JSONExporter) Export(ctx context.Context, entries []*journal.Entry, w io.Writer) error {
	if e.Lines {
		enc := json.NewEncoder(w)
		for i, entry := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := enc.Encode(entry); err != nil {
				return journal.NewExportError("jsonl", i, err)
			}
		}
		return nil
	}

	if entries == nil {
		entries = []*journal.Entry{}
	}

	var (
		data []byte
		err  error
	)
	if e.Pretty {
		data, err = json.MarshalIndent(entries, "", "  ")
	} else {
		data, err = json.Marshal(entries)
	}
	if err != nil {
		return journal.NewExportError("json", len(entries), err)
	}

	if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
		return journal.NewExportError("json", len(entries), err)
	}
	return nil
}
