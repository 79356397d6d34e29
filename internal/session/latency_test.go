package session

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLatencyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latency.jsonl")
	tr := NewLatencyTracker(path, discardLogger())

	if _, ok := tr.AgentSpeechStarted("room-a"); ok {
		t.Fatal("expected no pending measurement before user speech")
	}

	tr.UserSpeechEnded("room-a")
	time.Sleep(10 * time.Millisecond)
	lat, ok := tr.AgentSpeechStarted("room-a")
	if !ok {
		t.Fatal("expected a completed measurement")
	}
	if lat < 10*time.Millisecond {
		t.Fatalf("latency = %v, want >= 10ms", lat)
	}
	if _, ok := tr.AgentSpeechStarted("room-a"); ok {
		t.Fatal("measurement should be consumed by the first read")
	}

	tr.UserSpeechEnded("room-b")
	tr.AgentSpeechStarted("room-b")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading latency log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("log has %d lines, want 2", len(lines))
	}

	var entry latencyEntry
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("unmarshalling entry: %v", err)
	}
	if entry.RoomName != "room-a" {
		t.Fatalf("entry room = %q, want room-a", entry.RoomName)
	}
	if entry.LatencyMS < 10 {
		t.Fatalf("entry latency = %v ms, want >= 10", entry.LatencyMS)
	}
	if _, err := time.Parse(time.RFC3339Nano, entry.Timestamp); err != nil {
		t.Fatalf("entry timestamp %q not RFC3339Nano: %v", entry.Timestamp, err)
	}
}

func TestLatencyRestartOverwritesPending(t *testing.T) {
	tr := NewLatencyTracker("", discardLogger())

	tr.UserSpeechEnded("room-a")
	time.Sleep(20 * time.Millisecond)
	tr.UserSpeechEnded("room-a")
	lat, ok := tr.AgentSpeechStarted("room-a")
	if !ok {
		t.Fatal("expected a measurement")
	}
	if lat >= 20*time.Millisecond {
		t.Fatalf("latency = %v, want measurement restarted by second call", lat)
	}
}

func TestLatencyForget(t *testing.T) {
	tr := NewLatencyTracker("", discardLogger())

	tr.UserSpeechEnded("room-a")
	tr.Forget("room-a")
	if _, ok := tr.AgentSpeechStarted("room-a"); ok {
		t.Fatal("forgotten measurement should not complete")
	}
}
