package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/mj1618/smartscript/internal/model"
)

func sampleResult() SnapshotResult {
	return SnapshotResult{
		Package: "com.example.shop",
		Page:    model.PageList,
		TS:      1707500000,
		Elements: []model.FlatElement{
			{ID: 1, Role: "btn", Text: "OK", Bounds: [4]int{10, 20, 100, 30}},
		},
	}
}

// capture redirects Out for the duration of fn.
func capture(t *testing.T, format Format, pretty bool, fn func() error) string {
	t.Helper()
	var buf bytes.Buffer
	oldOut, oldFormat, oldPretty := Out, OutputFormat, PrettyOutput
	Out, OutputFormat, PrettyOutput = &buf, format, pretty
	defer func() { Out, OutputFormat, PrettyOutput = oldOut, oldFormat, oldPretty }()

	if err := fn(); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func TestPrint_YAML(t *testing.T) {
	out := capture(t, FormatYAML, false, func() error { return Print(sampleResult()) })

	if strings.Count(out, "\n") <= 1 {
		t.Errorf("YAML output should be multi-line, got:\n%s", out)
	}
	var decoded SnapshotResult
	if err := yaml.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid YAML: %v", err)
	}
	if decoded.Package != "com.example.shop" {
		t.Errorf("package: got %q, want %q", decoded.Package, "com.example.shop")
	}
	if decoded.Page != model.PageList {
		t.Errorf("page: got %q, want %q", decoded.Page, model.PageList)
	}
}

func TestPrint_CompactJSON(t *testing.T) {
	out := capture(t, FormatJSON, false, func() error { return Print(sampleResult()) })

	if strings.Count(out, "\n") > 1 {
		t.Errorf("compact output should be single line, got:\n%s", out)
	}
	var decoded SnapshotResult
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(decoded.Elements) != 1 {
		t.Errorf("elements: got %d, want 1", len(decoded.Elements))
	}
}

func TestPrint_PrettyJSON(t *testing.T) {
	out := capture(t, FormatJSON, true, func() error { return Print(sampleResult()) })

	if !strings.Contains(out, "\n  \"package\"") {
		t.Errorf("pretty output should be indented, got:\n%s", out)
	}
}

func TestPrint_NoHTMLEscape(t *testing.T) {
	out := capture(t, FormatJSON, false, func() error { return Print(map[string]string{"t": "<a & b>"}) })
	if !strings.Contains(out, "<a & b>") {
		t.Errorf("expected raw text, got %s", out)
	}
}

func TestSnapshotResult_OmitEmpty(t *testing.T) {
	out := capture(t, FormatYAML, false, func() error { return Print(SnapshotResult{TS: 123}) })
	for _, key := range []string{"package:", "activity:", "saved:"} {
		if strings.Contains(out, key) {
			t.Errorf("empty %s should be omitted, got:\n%s", key, out)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("json"); err != nil || f != FormatJSON {
		t.Errorf("json: got %q, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}
