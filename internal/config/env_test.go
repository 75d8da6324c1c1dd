package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	return path
}

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		// Setenv registers the restore; Unsetenv then removes it for the test body.
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}

func TestLoadEnvKrakenSecrets(t *testing.T) {
	clearEnv(t, "KRAKEN_API_KEY", "KRAKEN_API_SECRET", "HOP_TELEGRAM_TOKEN", "HOP_TELEGRAM_CHAT_ID", "HOP_TIMESCALE_DSN")
	path := writeEnvFile(t, "# kraken\n"+
		"KRAKEN_API_KEY=key123\n"+
		"KRAKEN_API_SECRET=\"c2VjcmV0==\"\n"+
		"export HOP_TELEGRAM_TOKEN='123:abc'\n"+
		"HOP_TELEGRAM_CHAT_ID=\n"+
		"not a pair\n"+
		"HOP_TIMESCALE_DSN = postgres://hop@localhost/hop\n")

	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	want := map[string]string{
		"KRAKEN_API_KEY":     "key123",
		"KRAKEN_API_SECRET":  "c2VjcmV0==",
		"HOP_TELEGRAM_TOKEN": "123:abc",
		"HOP_TIMESCALE_DSN":  "postgres://hop@localhost/hop",
	}
	for key, val := range want {
		if got := os.Getenv(key); got != val {
			t.Fatalf("%s expected %q, got %q", key, val, got)
		}
	}
	if got, ok := os.LookupEnv("HOP_TELEGRAM_CHAT_ID"); !ok || got != "" {
		t.Fatalf("expected empty chat id to be set, got %q ok=%v", got, ok)
	}
}

func TestLoadEnvKeepsProcessEnv(t *testing.T) {
	t.Setenv("KRAKEN_API_KEY", "from-shell")
	path := writeEnvFile(t, "KRAKEN_API_KEY='from-file'\n")
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("KRAKEN_API_KEY"); got != "from-shell" {
		t.Fatalf("expected shell value to win, got %q", got)
	}
}

func TestLoadEnvMissingFile(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("expected missing file to be ignored, got %v", err)
	}
}
