// Package logger builds the process logger: nested-format lines written to a
// daily file and, optionally, the terminal.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/shiena/ansicolor"
	"github.com/sirupsen/logrus"
)

// Options selects the log destinations and level.
type Options struct {
	// Dir receives one file per day, 2006-01-02.log. Empty disables file output.
	Dir string
	// Terminal also writes to Stdout.
	Terminal bool
	// Level is parsed with logrus.ParseLevel; invalid values mean info.
	Level string
}

// New returns a logger for opts. The returned closer releases the log file.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()
	log.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	var (
		outputs []io.Writer
		closer  io.Closer = nopCloser{}
	)
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		name := filepath.Join(opts.Dir, time.Now().Format("2006-01-02.log"))
		file, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		outputs = append(outputs, file)
		closer = file
	}
	if opts.Terminal {
		outputs = append(outputs, os.Stdout)
	}
	if len(outputs) == 0 {
		outputs = append(outputs, io.Discard)
	}
	log.SetOutput(ansicolor.NewAnsiColorWriter(io.MultiWriter(outputs...)))

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
