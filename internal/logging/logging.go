// Package logging wraps logrus with the rotation and call-site
// conventions the token pool proxy's teacher codebases use: structured
// fields via logrus, file rotation via lumberjack, and a small set of
// package-level helpers (Infof/Warnf/Errorf/Debugf/Fatalf/WithError) so
// call sites read the same as `log "github.com/nghyane/llm-mux/internal/logging"`.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var base = logrus.New()

func init() {
	base.SetOutput(os.Stdout)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	base.SetLevel(logrus.InfoLevel)
}

// SetupBaseLogger resets the logger to its default stdout configuration.
// Call once at process start, before ConfigureLogOutput.
func SetupBaseLogger() {
	base.SetOutput(os.Stdout)
}

// FileConfig controls lumberjack-backed log rotation.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultFileConfig mirrors the rotation defaults used elsewhere in the
// pack for long-running proxy processes.
func DefaultFileConfig(path string) FileConfig {
	return FileConfig{
		Path:       path,
		MaxSizeMB:  100,
		MaxBackups: 7,
		MaxAgeDays: 30,
		Compress:   true,
	}
}

// ConfigureLogOutput switches the logger to write to a rotating file (in
// addition to stdout) when toFile is true.
func ConfigureLogOutput(toFile bool, cfg FileConfig) error {
	if !toFile {
		base.SetOutput(os.Stdout)
		return nil
	}
	if cfg.Path == "" {
		return nil
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	base.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return nil
}

// SetLevel parses and applies a logrus level name ("debug", "info", ...).
func SetLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	base.SetLevel(parsed)
	return nil
}

func Debugf(format string, args ...any) { base.Debugf(format, args...) }
func Infof(format string, args ...any)  { base.Infof(format, args...) }
func Warnf(format string, args ...any)  { base.Warnf(format, args...) }
func Errorf(format string, args ...any) { base.Errorf(format, args...) }
func Fatalf(format string, args ...any) { base.Fatalf(format, args...) }

// WithError returns a logrus entry pre-populated with the "error" field,
// matching the teacher's log.WithError(err).Warn(...) call shape.
func WithError(err error) *logrus.Entry {
	return base.WithError(err)
}

// WithField returns a logrus entry with a single structured field.
func WithField(key string, value any) *logrus.Entry {
	return base.WithField(key, value)
}

// Base returns the underlying logrus logger for callers (e.g. the Gin
// middleware) that need direct access.
func Base() *logrus.Logger { return base }
