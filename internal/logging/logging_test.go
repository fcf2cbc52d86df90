package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("signaling")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("connected", "peer", "host-1")

	out := buf.String()
	if strings.Contains(out, `msg="INFO connected`) {
		t.Fatalf("unexpected nested severity prefix in message: %s", out)
	}
	if !strings.Contains(out, "msg=connected") {
		t.Fatalf("expected plain connected message, got: %s", out)
	}
	if !strings.Contains(out, "component=signaling") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "peer=host-1") {
		t.Fatalf("expected peer field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("signaling")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestInitJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "info", &buf)

	L("transport").Info("handshake complete", "peerId", "abc123")

	out := buf.String()
	if !strings.Contains(out, `"component":"transport"`) {
		t.Fatalf("expected JSON component field, got: %s", out)
	}
	if !strings.Contains(out, `"peerId":"abc123"`) {
		t.Fatalf("expected JSON peerId field, got: %s", out)
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	logger := FromContext(context.Background())
	if logger == nil {
		t.Fatal("expected a non-nil default logger")
	}
}

func TestNewContextRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	Init("text", "info", &buf)

	tagged := L("session").With("sessionId", "s-1")
	ctx := NewContext(context.Background(), tagged)

	FromContext(ctx).Info("state changed")

	if !strings.Contains(buf.String(), "sessionId=s-1") {
		t.Fatalf("expected sessionId field carried via context, got: %s", buf.String())
	}
}
