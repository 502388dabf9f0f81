package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

var root = logrus.New()

// Log returns a logger tagged with the owning package name.
func Log(pkg string) *logrus.Entry {
	return root.WithField("pkg", pkg)
}

// Err attaches err to the entry under the "error" key.
func Err(l *logrus.Entry, err error) *logrus.Entry {
	return l.WithError(err)
}

type Options struct {
	Level string
	File  string
	JSON  bool
}

// Setup configures the shared logger. The returned closer releases the log
// file, if one was opened.
func Setup(opts Options) (io.Closer, error) {
	level := strings.TrimSpace(opts.Level)
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	root.SetLevel(lvl)

	if opts.JSON {
		root.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
	} else {
		root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	}

	file := strings.TrimSpace(opts.File)
	if file == "" {
		root.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	root.SetOutput(io.MultiWriter(os.Stderr, f))
	return f, nil
}

// SetOutput redirects the shared logger; tests use it to silence or capture logs.
func SetOutput(w io.Writer) {
	root.SetOutput(w)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
