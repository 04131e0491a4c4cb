package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"mercator-hq/ratchet/pkg/retention"
)

// Exporter writes audit records in a reporting format.
type Exporter interface {
	Export(ctx context.Context, records []retention.AuditRecord, w io.Writer) error
	ContentType() string
}

// NewExporter returns the exporter for format ("json" or "csv").
func NewExporter(format string) (Exporter, error) {
	switch format {
	case "", "json":
		return &JSONExporter{}, nil
	case "csv":
		return &CSVExporter{IncludeHeader: true}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// ExportError represents an error during audit export.
type ExportError struct {
	Format      string // Export format ("json", "csv")
	RecordCount int    // Number of records being exported
	Cause       error  // Underlying error
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	return fmt.Sprintf("export error [format=%s, record_count=%d]: %v", e.Format, e.RecordCount, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *ExportError) Unwrap() error {
	return e.Cause
}

// JSONExporter writes records as a JSON array.
type JSONExporter struct {
	// Pretty enables indentation.
	Pretty bool
}

// Export writes records as a JSON array. An empty slice yields "[]".
func (e *JSONExporter) Export(ctx context.Context, records []retention.AuditRecord, w io.Writer) error {
	if records == nil {
		records = []retention.AuditRecord{}
	}
	enc := json.NewEncoder(w)
	if e.Pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(records); err != nil {
		return &ExportError{Format: "json", RecordCount: len(records), Cause: err}
	}
	return nil
}

// ContentType implements Exporter.
func (e *JSONExporter) ContentType() string { return "application/json" }

// CSVExporter writes one row per record. Copy states are flattened to
// their retention rule, lock flag and version.
type CSVExporter struct {
	// IncludeHeader includes a header row with column names.
	IncludeHeader bool
}

var csvHeader = []string{
	"id", "timestamp", "actor", "copy_id", "plan_id", "operation", "result", "code", "reason",
	"prior_retention", "prior_locked", "prior_version",
	"new_retention", "new_locked", "new_version",
}

// Export writes records as CSV.
func (e *CSVExporter) Export(ctx context.Context, records []retention.AuditRecord, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(csvHeader); err != nil {
			return &ExportError{Format: "csv", RecordCount: len(records), Cause: err}
		}
	}

	for i, rec := range records {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := writer.Write(recordToRow(rec)); err != nil {
			return &ExportError{Format: "csv", RecordCount: len(records), Cause: err}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return &ExportError{Format: "csv", RecordCount: len(records), Cause: err}
	}
	return nil
}

// ContentType implements Exporter.
func (e *CSVExporter) ContentType() string { return "text/csv" }

func recordToRow(rec retention.AuditRecord) []string {
	row := []string{
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.Actor,
		rec.CopyID,
		rec.PlanID,
		rec.Operation,
		string(rec.Result),
		string(rec.Code),
		rec.Reason,
	}
	row = append(row, stateColumns(rec.PriorState)...)
	row = append(row, stateColumns(rec.NewState)...)
	return row
}

func stateColumns(s *retention.CopyState) []string {
	if s == nil {
		return []string{"", "", ""}
	}
	return []string{
		s.RetentionRule.String(),
		strconv.FormatBool(s.LockState.Locked),
		strconv.FormatUint(s.Version, 10),
	}
}
