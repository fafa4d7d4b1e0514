package cli

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestEnvLoaderLoad_UsesFlagValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.env")
	if err := os.WriteFile(path, []byte("PW_TEST_ENV_LOADER=from-flag\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv(EnvFileVar, "")
	t.Setenv("PW_TEST_ENV_LOADER", "")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	loader := AddEnvFlag(fs, ".env", "")
	if err := fs.Parse([]string{"--env", path}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	used, err := loader.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if used != path {
		t.Fatalf("expected %s, got %s", path, used)
	}
	if got := os.Getenv("PW_TEST_ENV_LOADER"); got != "from-flag" {
		t.Fatalf("expected env var to be loaded, got %q", got)
	}
}

func TestEnvLoaderLoad_MissingFileFails(t *testing.T) {
	t.Setenv(EnvFileVar, "")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	loader := AddEnvFlag(fs, filepath.Join(t.TempDir(), "missing.env"), "")
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := loader.Load(); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}

func TestEnvLoaderCandidates_OverrideFirstAndDeduped(t *testing.T) {
	t.Setenv(EnvFileVar, "/etc/procurewatch.env")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	loader := AddEnvFlag(fs, ".env", "")
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	got := loader.candidates()
	want := []string{"/etc/procurewatch.env", ".env"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
