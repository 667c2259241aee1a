package scan

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jfvault/migrator/internal/idcodec"
)

func sampleResults() []Result {
	return []Result{
		{Table: "ItemImages", Column: "Path", Findings: []Finding{{Variant: idcodec.Str, Tag: "embedded"}}},
		{Table: "TypedBaseItems", Column: "guid", Findings: []Finding{{Variant: idcodec.Bin, Tag: "pure"}}},
	}
}

func TestWriteTableIncludesHeaderAndRows(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTable(&buf, sampleResults()); err != nil {
		t.Fatalf("WriteTable: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Table") || !strings.Contains(out, "Column") {
		t.Fatalf("missing header: %q", out)
	}
	if !strings.Contains(out, "TypedBaseItems") || !strings.Contains(out, "bin (pure)") {
		t.Fatalf("missing row content: %q", out)
	}
}

func TestWriteYAMLRoundTripsStructure(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteYAML(&buf, sampleResults()); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "table: TypedBaseItems") {
		t.Fatalf("unexpected yaml: %q", out)
	}
	if !strings.Contains(out, "bin (pure)") {
		t.Fatalf("unexpected yaml findings: %q", out)
	}
}
