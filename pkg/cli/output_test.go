package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

type testTable [][]string

func (t testTable) Header() []string { return []string{"COPY", "RETENTION"} }
func (t testTable) Rows() [][]string { return t }

// summaryTable is a table that also has a one-line text form.
type summaryTable struct{ testTable }

func (s summaryTable) String() string { return "c1: version 3" }

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"JSON", FormatJSON, false},
		{"csv", FormatCSV, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTextFormatter(t *testing.T) {
	var buf bytes.Buffer
	table := testTable{{"c1", "30 days"}, {"copy-two", "4 cycles"}}
	if err := NewFormatter(FormatText).FormatTo(&buf, table); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), buf.String())
	}
	// Columns are aligned on the widest cell.
	if strings.Index(lines[1], "30 days") != strings.Index(lines[2], "4 cycles") {
		t.Errorf("columns not aligned:\n%s", buf.String())
	}

	buf.Reset()
	NewFormatter(FormatText).FormatTo(&buf, "plain")
	if buf.String() != "plain\n" {
		t.Errorf("non-table output = %q", buf.String())
	}

	buf.Reset()
	NewFormatter(FormatText).FormatTo(&buf, summaryTable{table})
	if buf.String() != "c1: version 3\n" {
		t.Errorf("Stringer output = %q", buf.String())
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	data := map[string]uint64{"version": 3}
	if err := NewFormatter(FormatJSON).FormatTo(&buf, data); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}
	var got map[string]uint64
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil || got["version"] != 3 {
		t.Errorf("output = %q (%v)", buf.String(), err)
	}
	if !strings.Contains(buf.String(), "\n  ") {
		t.Error("JSON output should be indented")
	}
}

func TestCSVFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFormatter(FormatCSV).FormatTo(&buf, testTable{{"c1", "30 days"}}); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}
	if got, want := buf.String(), "COPY,RETENTION\nc1,30 days\n"; got != want {
		t.Errorf("csv = %q, want %q", got, want)
	}

	if err := NewFormatter(FormatCSV).FormatTo(&buf, 42); err == nil {
		t.Error("csv output of a non-table should fail")
	}
}
