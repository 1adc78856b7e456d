package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerWritesKeyValues(t *testing.T) {
	var buf bytes.Buffer
	l := &logger{inner: newTestSlogger(&buf)}
	l.Info("object cached", "digest", "abc123", "ttl", 60)

	out := buf.String()
	if !strings.Contains(out, "object cached") {
		t.Fatalf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "digest=abc123") {
		t.Fatalf("expected key=value pair in output, got %q", out)
	}
}

func TestWithAttachesContext(t *testing.T) {
	var buf bytes.Buffer
	base := &logger{inner: newTestSlogger(&buf)}
	child := base.With("component", "expiry")
	child.Warn("heap root stale")

	if !strings.Contains(buf.String(), "component=expiry") {
		t.Fatalf("expected inherited context, got %q", buf.String())
	}
}
