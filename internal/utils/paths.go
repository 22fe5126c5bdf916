// Package utils contains utility types for logging and filesystem path
// management used throughout llmdash.
package utils

import (
	"os"
	"path/filepath"
)

// Paths resolves filesystem locations used by the admin backend.
type Paths struct {
	RootPath string `json:"root_path"`
}

// NewPaths constructs Paths rooted at the specified directory.
func NewPaths(rootPath string) *Paths {
	return &Paths{RootPath: rootPath}
}

// DataDir returns the directory holding mutable state (database, logs).
func (p *Paths) DataDir() string {
	return filepath.Join(p.RootPath, "data")
}

// DatabaseFile returns the path of the SQLite fleet database.
func (p *Paths) DatabaseFile() string {
	return filepath.Join(p.DataDir(), "llmdash.db")
}

// LogFile returns the path of the llmdash log file.
func (p *Paths) LogFile() string {
	return filepath.Join(p.DataDir(), "llmdash.log")
}

// EnsureDataDir creates the data directory when missing.
func (p *Paths) EnsureDataDir() error {
	return os.MkdirAll(p.DataDir(), 0o755)
}
