package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTextFormatIncludesFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	Info("importing boot images", KeySources, 2, KeySourceURL, "http://images.example/")

	out := buf.String()
	if !strings.Contains(out, "importing boot images") {
		t.Errorf("output missing message: %q", out)
	}
	if !strings.Contains(out, "sources=2") {
		t.Errorf("output missing sources field: %q", out)
	}
	if !strings.Contains(out, "source_url=http://images.example/") {
		t.Errorf("output missing source_url field: %q", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text", false)

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("levels below WARN leaked through: %q", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("WARN and ERROR should be emitted: %q", out)
	}

	// Restore a permissive level for other tests.
	SetLevel("DEBUG")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json", false)

	Info("finalized boot image", KeyResource, "ubuntu/amd64/generic/focal")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if record["msg"] != "finalized boot image" {
		t.Errorf("msg = %v", record["msg"])
	}
	if record[KeyResource] != "ubuntu/amd64/generic/focal" {
		t.Errorf("resource = %v", record[KeyResource])
	}
}

func TestErrAttrHandlesNil(t *testing.T) {
	attr := Err(nil)
	if attr.Key != "" {
		t.Errorf("Err(nil) should produce an empty attr, got key %q", attr.Key)
	}
}
