// Package logging sets up structured, daily-rotating JSON logging. It
// grounds the teacher's glog-style global logger shape (Infof/Warningf/
// Errorf convenience, level-gated output) on log/slog, writing one
// JSON-Lines file per UTC day -- the Go-native analogue of
// tracing_appender::rolling::daily from the original implementation.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// dailyFile is an io.Writer that reopens a new file named for the
// current UTC date whenever the date rolls over between writes.
type dailyFile struct {
	mu      sync.Mutex
	dir     string
	current string
	f       *os.File
}

func newDailyFile(dir string) (*dailyFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	d := &dailyFile{dir: dir}
	if err := d.rollIfNeeded(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *dailyFile) rollIfNeeded() error {
	day := time.Now().UTC().Format("2006-01-02")
	if day == d.current && d.f != nil {
		return nil
	}
	if d.f != nil {
		d.f.Close()
	}
	path := filepath.Join(d.dir, fmt.Sprintf("zdmr-%s.log", day))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	d.f = f
	d.current = day
	return nil
}

func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.rollIfNeeded(); err != nil {
		return 0, err
	}
	return d.f.Write(p)
}

// Default is the package-level logger; no package in this module reads
// it, and components are handed *slog.Logger explicitly rather than reach
// for a singleton (per the "no global singletons beyond the logger"
// design note).
var Default = slog.Default()

// Init creates a daily-rotating JSON-lines logger rooted at dir and
// installs it as the process default, returning it for explicit
// threading into engine/job/store constructors.
func Init(dir, level string) (*slog.Logger, error) {
	w, err := newDailyFile(dir)
	if err != nil {
		return nil, err
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelFromString(level)})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	Default = logger
	return logger, nil
}

func levelFromString(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
