package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPort(t *testing.T) {
	t.Setenv("PORT", "8083")
	if p, err := Port("PORT", "1"); err != nil || p != "8083" {
		t.Fatalf("expected 8083, got %q (%v)", p, err)
	}
	t.Setenv("PORT", "70000")
	if _, err := Port("PORT", "1"); err == nil {
		t.Fatal("expected error for out of range port")
	}
}

func TestIntAndDuration(t *testing.T) {
	t.Setenv("LIMIT", "")
	if n, err := Int("LIMIT", 60); err != nil || n != 60 {
		t.Fatalf("expected fallback 60, got %d (%v)", n, err)
	}
	t.Setenv("LIMIT", "abc")
	if _, err := Int("LIMIT", 60); err == nil {
		t.Fatal("expected error for non-integer")
	}
	t.Setenv("TTL", "90s")
	if d, err := Duration("TTL", time.Minute); err != nil || d != 90*time.Second {
		t.Fatalf("expected 90s, got %s (%v)", d, err)
	}
	t.Setenv("TTL", "-1s")
	if _, err := Duration("TTL", time.Minute); err == nil {
		t.Fatal("expected error for negative duration")
	}
}

func TestList(t *testing.T) {
	t.Setenv("ORIGINS", " https://a.example, ,https://b.example ")
	got := List("ORIGINS")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected list %v", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("COACHBOOK_DOTENV_TEST=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("COACHBOOK_DOTENV_TEST", "")
	os.Unsetenv("COACHBOOK_DOTENV_TEST")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("COACHBOOK_DOTENV_TEST"); got != "from-file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("expected missing file to be ignored, got %v", err)
	}
}
