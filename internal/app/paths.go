package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths stores resolved runtime file locations for config, catalog, logs,
// session buffers, and saved recordings.
type Paths struct {
	RootDir       string
	ConfigFile    string
	DBFile        string
	LogFile       string
	CacheDir      string
	BuffersDir    string
	RecordingsDir string
}

func ResolvePaths() (Paths, error) {
	cfgRoot, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve config dir: %w", err)
	}
	cacheRoot, err := os.UserCacheDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve cache dir: %w", err)
	}

	root := filepath.Join(cfgRoot, Name)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return Paths{}, fmt.Errorf("create app config dir: %w", err)
	}
	cache := filepath.Join(cacheRoot, Name)
	buffers := filepath.Join(cache, BuffersDir)
	if err := os.MkdirAll(buffers, 0o750); err != nil {
		return Paths{}, fmt.Errorf("create session buffer dir: %w", err)
	}
	recordings := filepath.Join(root, RecordingsDir)
	if err := os.MkdirAll(recordings, 0o750); err != nil {
		return Paths{}, fmt.Errorf("create recordings dir: %w", err)
	}

	return Paths{
		RootDir:       root,
		ConfigFile:    filepath.Join(root, ConfigFilename),
		DBFile:        filepath.Join(root, DBFilename),
		LogFile:       filepath.Join(root, LogFilename),
		CacheDir:      cache,
		BuffersDir:    buffers,
		RecordingsDir: recordings,
	}, nil
}

// OutputDir returns where finalized record files go: the configured
// directory when set, the default recordings directory otherwise.
func (p Paths) OutputDir(configured string) string {
	if configured != "" {
		return configured
	}
	return p.RecordingsDir
}
