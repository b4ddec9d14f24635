// Package logging sets up the process-wide google/logger instance.
package logging

import (
	"io"
	"log"

	"github.com/google/logger"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where log lines go.
type Options struct {
	Name       string
	File       string
	Verbose    bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init installs the default logger. With a File set, output is written to a
// size-rotated file; console output is kept when Verbose is set or when there
// is no file at all. The returned logger must be closed on shutdown.
func Init(opts Options) *logger.Logger {
	out := Writer(opts)
	verbose := opts.Verbose || opts.File == ""
	l := logger.Init(opts.Name, verbose, false, out)
	logger.SetFlags(log.LstdFlags | log.Lmicroseconds | log.LUTC)
	return l
}

// Writer returns the file sink for opts, or io.Discard without a file.
func Writer(opts Options) io.Writer {
	if opts.File == "" {
		return io.Discard
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
}
