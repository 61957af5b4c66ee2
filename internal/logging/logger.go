// Package logging configures the process-wide logrus logger, the operator console,
// and the Gin middleware used by the serve mode.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	setupOnce sync.Once
	fileOut   *lumberjack.Logger
	outMu     sync.Mutex
)

// FileConfig describes an optional rotating log file.
type FileConfig struct {
	// Path of the log file. Empty keeps logging on stderr only.
	Path string
	// MaxSizeMB rotates the file once it reaches this size.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept.
	MaxBackups int
	// MaxAgeDays removes rotated files older than this.
	MaxAgeDays int
	// Compress gzips rotated files.
	Compress bool
}

// SetupBaseLogger installs the text formatter, the stderr output and the in-memory
// ring buffer hook. It is safe to call more than once.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
		log.SetOutput(os.Stderr)
		log.SetLevel(log.InfoLevel)
		log.AddHook(GlobalBuffer)
	})
}

// SetLogLevel maps a human friendly level name onto a logrus level.
// Unknown names fall back to info.
func SetLogLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "verbose":
		log.SetLevel(log.DebugLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "quiet", "silent":
		log.SetLevel(log.FatalLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// ConfigureLogOutput tees log output into a lumberjack-rotated file when cfg.Path is set.
func ConfigureLogOutput(cfg FileConfig) error {
	outMu.Lock()
	defer outMu.Unlock()

	if fileOut != nil {
		_ = fileOut.Close()
		fileOut = nil
	}
	if strings.TrimSpace(cfg.Path) == "" {
		log.SetOutput(os.Stderr)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return err
	}
	fileOut = &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, fileOut))
	return nil
}

// CloseLogOutput flushes and closes the rotating file, if any.
func CloseLogOutput() {
	outMu.Lock()
	defer outMu.Unlock()
	if fileOut != nil {
		if err := fileOut.Close(); err != nil {
			log.Errorf("close log file: %v", err)
		}
		fileOut = nil
	}
	log.SetOutput(os.Stderr)
}
