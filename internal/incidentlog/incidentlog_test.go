package incidentlog

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestAppendWritesExpectedLineFormat(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	now := time.Date(2026, 1, 10, 15, 30, 42, 0, time.UTC)
	if err := l.Append(now, "DELIVERY_FAILED", "widgets", "session agent-default-bill not found"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		t.Fatal(err)
	}
	want := "[2026-01-10 15:30:42] DELIVERY_FAILED | widgets | session agent-default-bill not found\n"
	if string(data) != want {
		t.Fatalf("got %q, want %q", string(data), want)
	}
}

func TestAppendAccumulatesLines(t *testing.T) {
	dir := t.TempDir()
	l, _ := Open(dir)
	now := time.Now()
	l.Append(now, "A", "p1", "x")
	l.Append(now, "B", "p2", "y")

	data, _ := os.ReadFile(l.path)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
}
