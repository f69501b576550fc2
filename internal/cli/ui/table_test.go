package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, []string{"Column", "Type", "Nullable"}, &TableOptions{NoColor: true})

	table.AddRow("id", "integer", "no")
	table.AddRow("email", "character varying", "no")
	table.AddRow("deleted_at", "timestamp with time zone", "yes")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("Expected 5 lines (header, separator, 3 rows), got %d:\n%s", len(lines), buf.String())
	}

	if !strings.HasPrefix(lines[0], "Column      Type") {
		t.Errorf("Header not padded to widest cell: %q", lines[0])
	}
	if !strings.Contains(lines[1], "──────────") {
		t.Errorf("Separator missing: %q", lines[1])
	}
	if !strings.HasPrefix(lines[4], "deleted_at  timestamp with time zone  yes") {
		t.Errorf("Row misaligned: %q", lines[4])
	}
}

func TestTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, []string{}, nil)
	table.Render()

	if buf.Len() != 0 {
		t.Errorf("Expected no output for a table without headers, got %q", buf.String())
	}
}

func TestRenderRows(t *testing.T) {
	var buf bytes.Buffer
	RenderRows(&buf, []string{"id", "label", "meta"}, []map[string]interface{}{
		{"id": float64(1), "label": "go", "meta": map[string]interface{}{"k": "v"}},
		{"id": float64(2), "label": nil},
	}, true)

	output := buf.String()
	for _, want := range []string{"id", "label", "go", "NULL", `{"k":"v"}`} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected output to contain %q:\n%s", want, output)
		}
	}
}

func TestFormatCell(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input interface{}
		want  string
	}{
		{"nil", nil, "NULL"},
		{"string", "hello", "hello"},
		{"bytes", []byte("raw"), "raw"},
		{"time", ts, "2024-03-01T12:00:00Z"},
		{"whole float", float64(42), "42"},
		{"fraction", 1.5, "1.5"},
		{"int64", int64(7), "7"},
		{"bool", true, "true"},
		{"list", []interface{}{"a", float64(1)}, `["a",1]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatCell(tt.input); got != tt.want {
				t.Errorf("FormatCell(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestKeyValueTable(t *testing.T) {
	var buf bytes.Buffer
	table := NewKeyValueTable(&buf, true)
	table.AddRow("Table", "users")
	table.AddRow("Primary key", "id")
	table.Render()

	output := buf.String()
	if !strings.Contains(output, "Table:       users") {
		t.Errorf("Keys not aligned:\n%s", output)
	}
	if !strings.Contains(output, "Primary key: id") {
		t.Errorf("Missing primary key row:\n%s", output)
	}
}

func TestKeyValueTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	NewKeyValueTable(&buf, true).Render()

	if buf.Len() != 0 {
		t.Errorf("Expected no output, got %q", buf.String())
	}
}

func TestHeader(t *testing.T) {
	var buf bytes.Buffer
	Header(&buf, "users", true)

	if buf.String() != "users\n─────\n" {
		t.Errorf("Unexpected header: %q", buf.String())
	}
}

func TestPadRight(t *testing.T) {
	tests := []struct {
		input string
		width int
		want  string
	}{
		{"abc", 5, "abc  "},
		{"abcdef", 3, "abcdef"},
		{"ü", 3, "ü  "},
		{"", 2, "  "},
	}

	for _, tt := range tests {
		if got := padRight(tt.input, tt.width); got != tt.want {
			t.Errorf("padRight(%q, %d) = %q, want %q", tt.input, tt.width, got, tt.want)
		}
	}
}
