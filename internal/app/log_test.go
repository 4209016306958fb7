package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSbHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		opID    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			opID:    "op-123",
			level:   slog.LevelInfo,
			message: "task created",
			want:    "2024-06-15T14:30:45Z\tINFO\top-123\ttask created\n",
		},
		{
			name:    "debug level",
			opID:    "op-456",
			level:   slog.LevelDebug,
			message: "ingesting chunk",
			want:    "2024-06-15T14:30:45Z\tDEBUG\top-456\tingesting chunk\n",
		},
		{
			name:    "with record attrs",
			opID:    "op-789",
			level:   slog.LevelInfo,
			message: "task shared",
			attrs:   []slog.Attr{slog.String("owner", "alice"), slog.Int("id", 42)},
			want:    "2024-06-15T14:30:45Z\tINFO\top-789\ttask shared\towner=alice\tid=42\n",
		},
		{
			name:    "quotes values with tabs",
			opID:    "op-1",
			level:   slog.LevelWarn,
			message: "odd title",
			attrs:   []slog.Attr{slog.String("title", "a\tb")},
			want:    "2024-06-15T14:30:45Z\tWARN\top-1\todd title\ttitle=\"a\\tb\"\n",
		},
		{
			name:    "flattens groups",
			opID:    "op-2",
			level:   slog.LevelInfo,
			message: "box stats",
			attrs:   []slog.Attr{slog.Group("box", slog.String("owner", "bob"), slog.Int("id", 1))},
			want:    "2024-06-15T14:30:45Z\tINFO\top-2\tbox stats\tbox.owner=bob\tbox.id=1\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &sbHandler{w: &buf, opID: tt.opID, min: slog.LevelDebug}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			r.AddAttrs(tt.attrs...)

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestSbHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	h := &sbHandler{w: &buf, opID: "op-1"}

	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "vault")}).WithGroup("req")

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := slog.NewRecord(ts, slog.LevelInfo, "upload", 0)
	r.AddAttrs(slog.String("key", "abc"))

	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "\tcomponent=vault") {
		t.Errorf("expected pre-set attr component=vault, got: %q", got)
	}
	if !strings.Contains(got, "\treq.key=abc") {
		t.Errorf("expected grouped attr req.key=abc, got: %q", got)
	}
}

func TestSbHandler_WithAttrs_doesNotMutateOriginal(t *testing.T) {
	h := &sbHandler{opID: "op-1", attrs: []slog.Attr{slog.String("a", "1")}}

	h2 := h.WithAttrs([]slog.Attr{slog.String("b", "2")}).(*sbHandler)

	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}
	if len(h2.attrs) != 2 {
		t.Errorf("new handler attrs: got %d, want 2", len(h2.attrs))
	}
}

func TestSbHandler_Enabled(t *testing.T) {
	h := &sbHandler{min: slog.LevelWarn}
	tests := []struct {
		level slog.Level
		want  bool
	}{
		{slog.LevelDebug, false},
		{slog.LevelInfo, false},
		{slog.LevelWarn, true},
		{slog.LevelError, true},
	}
	for _, tt := range tests {
		if got := h.Enabled(context.Background(), tt.level); got != tt.want {
			t.Errorf("Enabled(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestFanoutHandler(t *testing.T) {
	var all, warn bytes.Buffer
	logger := slog.New(fanoutHandler{
		&sbHandler{w: &all, min: slog.LevelDebug, opID: "op"},
		&sbHandler{w: &warn, min: slog.LevelWarn, opID: "op"},
	})

	logger.Info("task created", "id", 1)
	logger.Warn("grant skipped", "id", 2)

	if n := strings.Count(all.String(), "\n"); n != 2 {
		t.Errorf("debug handler got %d lines, want 2: %q", n, all.String())
	}
	if n := strings.Count(warn.String(), "\n"); n != 1 {
		t.Errorf("warn handler got %d lines, want 1: %q", n, warn.String())
	}
	if !strings.Contains(warn.String(), "grant skipped") {
		t.Errorf("warn handler missing warning: %q", warn.String())
	}
}

func TestNewLogger(t *testing.T) {
	dir := t.TempDir()

	logger, f, err := newLogger(dir, "test-op")
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}

	logger.Debug("hello", "k", "v")
	f.Close()

	data, err := os.ReadFile(filepath.Join(dir, "sealbox.log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "\tDEBUG\ttest-op\thello\tk=v\n") {
		t.Errorf("log file = %q", data)
	}
}
