package db

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/tracelog"
)

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.MaxConns != 10 || o.MinConns != 1 || o.MaxConnLifetime != 30*time.Minute || o.MaxConnIdleTime != 5*time.Minute {
		t.Fatalf("unexpected defaults %+v", o)
	}
	o = Options{MaxConns: 2, MinConns: 5}.withDefaults()
	if o.MinConns != 2 {
		t.Fatalf("expected MinConns clamped to MaxConns, got %d", o.MinConns)
	}
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slogAdapter(logger).Log(context.Background(), tracelog.LogLevelWarn, "Query", map[string]any{"sql": "select 1"})
	out := buf.String()
	if !strings.Contains(out, `"level":"WARN"`) || !strings.Contains(out, "pgx: Query") || !strings.Contains(out, "select 1") {
		t.Fatalf("unexpected log line %q", out)
	}
}

func TestReadyCheckWithoutPool(t *testing.T) {
	if err := ReadyCheck(nil)(context.Background()); err == nil {
		t.Fatal("expected error without pool")
	}
}
