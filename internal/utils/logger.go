package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Logger writes timestamped lines to a log file.
type Logger struct {
	writeFile *os.File
}

// defaultLogPath returns the path to the default llmdash log file, rooted
// next to the running executable.
func defaultLogPath() string {
	exe, err := os.Executable()
	if err == nil {
		if resolved, rerr := filepath.EvalSymlinks(exe); rerr == nil && resolved != "" {
			exe = resolved
		}
		return NewPaths(filepath.Dir(exe)).LogFile()
	}
	// Fallback to a safe temp location
	return NewPaths(filepath.Join(os.TempDir(), "llmdash")).LogFile()
}

// writeToDefaultLog attempts to write a single timestamped line to the default
// llmdash log. If it fails, it falls back to stderr.
func writeToDefaultLog(message string) {
	path := defaultLogPath()
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", time.Now().Format("2006-01-02 15:04:05"), message)
		return
	}
	defer f.Close()
	ts := time.Now().Format("2006-01-02 15:04:05")
	_, _ = f.WriteString(fmt.Sprintf("%s: %s\n", ts, message))
}

// NewLogger opens the given log file for appending. If the file cannot be
// opened, logs will be written to stdout.
func NewLogger(logFile string) *Logger {
	logger := &Logger{}
	if logFile == "" {
		logFile = defaultLogPath()
	}

	_ = os.MkdirAll(filepath.Dir(logFile), 0o755)

	var err error
	logger.writeFile, err = os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		writeToDefaultLog(fmt.Sprintf("Error opening log file (%s): %v", logFile, err))
	}
	return logger
}

// Write appends a timestamped message to the log (or stdout when no file).
func (l *Logger) Write(message string) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	logMessage := fmt.Sprintf("%s: %s\n", timestamp, message)
	if l.writeFile != nil {
		l.writeFile.WriteString(logMessage)
		l.writeFile.Sync()
	} else {
		fmt.Print(logMessage)
	}
}

// Close flushes and closes the underlying file handle.
func (l *Logger) Close() {
	if l.writeFile != nil {
		l.writeFile.Close()
	}
}
