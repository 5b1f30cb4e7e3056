package env

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFallbacks(t *testing.T) {
	t.Setenv("QA_TEST_INT", "not-a-number")
	t.Setenv("QA_TEST_DURATION", "-5s")
	t.Setenv("QA_TEST_BOOL", "yes please")

	if got := Int("QA_TEST_INT", 7); got != 7 {
		t.Fatalf("Int fallback = %d, want 7", got)
	}
	if got := Duration("QA_TEST_DURATION", time.Second); got != time.Second {
		t.Fatalf("Duration fallback = %s, want 1s", got)
	}
	if got := Bool("QA_TEST_BOOL", true); !got {
		t.Fatalf("Bool fallback = %v, want true", got)
	}
	if got := String("QA_TEST_UNSET_KEY", "x"); got != "x" {
		t.Fatalf("String fallback = %q, want x", got)
	}
}

func TestParsedValues(t *testing.T) {
	t.Setenv("QA_TEST_INT", " 42 ")
	t.Setenv("QA_TEST_DURATION", "1500ms")
	t.Setenv("QA_TEST_BOOL", "false")

	if got := Int("QA_TEST_INT", 0); got != 42 {
		t.Fatalf("Int = %d, want 42", got)
	}
	if got := Duration("QA_TEST_DURATION", 0); got != 1500*time.Millisecond {
		t.Fatalf("Duration = %s", got)
	}
	if got := Bool("QA_TEST_BOOL", true); got {
		t.Fatalf("Bool = %v, want false", got)
	}
}

func TestLoad_DotenvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("QA_TEST_FROM_FILE=file\nQA_TEST_PRESET=file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("QA_TEST_PRESET", "process")
	t.Cleanup(func() { _ = os.Unsetenv("QA_TEST_FROM_FILE") })

	if err := Load(path); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got := os.Getenv("QA_TEST_FROM_FILE"); got != "file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if got := os.Getenv("QA_TEST_PRESET"); got != "process" {
		t.Fatalf("expected process env to win, got %q", got)
	}
}

func TestLoad_MissingFileIgnored(t *testing.T) {
	if err := Load(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("expected missing file to be ignored, got %v", err)
	}
}

func TestFloat(t *testing.T) {
	t.Setenv("QA_TEST_FLOAT", "0.25")
	if got := Float("QA_TEST_FLOAT", 1); got != 0.25 {
		t.Fatalf("Float = %v, want 0.25", got)
	}
	t.Setenv("QA_TEST_FLOAT", "-1")
	if got := Float("QA_TEST_FLOAT", 1); got != 1 {
		t.Fatalf("Float fallback = %v, want 1", got)
	}
}
