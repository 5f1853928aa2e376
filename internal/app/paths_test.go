package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolvePaths_ResolvesConfigAndCacheDirectories(t *testing.T) {
	configHome := filepath.Join(t.TempDir(), "cfg")
	cacheHome := filepath.Join(t.TempDir(), "cache")
	t.Setenv("XDG_CONFIG_HOME", configHome)
	t.Setenv("XDG_CACHE_HOME", cacheHome)

	paths, err := ResolvePaths()
	if err != nil {
		t.Fatalf("resolve paths: %v", err)
	}

	if paths.RootDir != filepath.Join(configHome, Name) {
		t.Fatalf("unexpected root dir: %q", paths.RootDir)
	}
	if paths.DBFile != filepath.Join(configHome, Name, DBFilename) {
		t.Fatalf("unexpected catalog path: %q", paths.DBFile)
	}
	if paths.BuffersDir != filepath.Join(cacheHome, Name, BuffersDir) {
		t.Fatalf("unexpected buffers dir: %q", paths.BuffersDir)
	}
	for _, dir := range []string{paths.BuffersDir, paths.RecordingsDir} {
		if _, err := os.Stat(dir); err != nil {
			t.Fatalf("expected %s to exist: %v", dir, err)
		}
	}

	if got := paths.OutputDir(""); got != paths.RecordingsDir {
		t.Fatalf("expected default output dir, got %q", got)
	}
	if got := paths.OutputDir("/mnt/data"); got != "/mnt/data" {
		t.Fatalf("expected configured output dir, got %q", got)
	}
}
