// Package logging builds the component loggers used across taskd.
//
// Every component gets a standard *log.Logger with a "[component] " prefix.
// When a log file is configured, output goes to a size-rotated file and to
// stderr.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the log sink.
type Options struct {
	// File is the rotating log file path. Empty logs to Console only.
	File string

	// MaxSizeMB is the size at which the file is rotated (default: 10)
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept (default: 3)
	MaxBackups int

	// Console receives every line as well (default: os.Stderr)
	Console io.Writer
}

// Sink is the shared destination of all component loggers.
type Sink struct {
	out  io.Writer
	file *lumberjack.Logger
}

// New creates a sink from opts.
func New(opts Options) *Sink {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	if opts.File == "" {
		return &Sink{out: console}
	}

	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 3
	}
	file := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	}
	return &Sink{out: io.MultiWriter(console, file), file: file}
}

// Logger returns a logger whose lines start with "[component] ".
func (s *Sink) Logger(component string) *log.Logger {
	return log.New(s.out, "["+component+"] ", log.LstdFlags)
}

// Rotate starts a new log file. It is a no-op without a file.
func (s *Sink) Rotate() error {
	if s.file == nil {
		return nil
	}
	return s.file.Rotate()
}

// Close closes the log file, if any.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
