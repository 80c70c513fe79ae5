// Package logging implements the event log of the filesystem.
package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	timestampFormat = "2006-01-02 15:04:05"

	logFileMaxSizeMB  = 10
	logFileMaxBackups = 3
	logFileMaxAgeDays = 28
)

// RingBuffer keeps the most recent event lines in memory (for the dashboard)
// and mirrors every line to an output stream as it is added.
type RingBuffer struct {
	mu    sync.Mutex
	out   io.Writer
	lines []string
	next  int
	full  bool
	size  int
}

// NewRingBuffer returns a pointer to a new [RingBuffer] holding at most size
// lines. A non-positive size is raised to one line.
func NewRingBuffer(size int, out io.Writer) *RingBuffer {
	if size < 1 {
		size = 1
	}
	if out == nil {
		out = io.Discard
	}

	return &RingBuffer{
		out:   out,
		lines: make([]string, size),
		size:  size,
	}
}

// NewFileWriter returns a size-rotated log file writer for the given path.
// The caller owns the returned writer and must Close() it when done.
func NewFileWriter(path string) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    logFileMaxSizeMB,
		MaxBackups: logFileMaxBackups,
		MaxAge:     logFileMaxAgeDays,
		Compress:   true,
	}
}

// Size returns the capacity of the ring-buffer in lines.
func (b *RingBuffer) Size() int {
	return b.size
}

// Lines returns a copy of the buffered lines, oldest first.
func (b *RingBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		out := make([]string, b.next)
		copy(out, b.lines[:b.next])

		return out
	}

	out := make([]string, b.size)
	n := copy(out, b.lines[b.next:])
	copy(out[n:], b.lines[:b.next])

	return out
}

// Reset drops all buffered lines.
func (b *RingBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = make([]string, b.size)
	b.next = 0
	b.full = false
}

// Printf formats and records an event line.
func (b *RingBuffer) Printf(format string, args ...any) {
	b.record(fmt.Sprintf(format, args...))
}

// Println records an event line built from the operands.
func (b *RingBuffer) Println(args ...any) {
	b.record(fmt.Sprintln(args...))
}

func (b *RingBuffer) record(msg string) {
	line := time.Now().Format(timestampFormat) + " " + strings.TrimRight(msg, "\n")

	b.mu.Lock()
	b.lines[b.next] = line
	b.next = (b.next + 1) % b.size
	if b.next == 0 {
		b.full = true
	}
	b.mu.Unlock()

	fmt.Fprintln(b.out, line) //nolint:errcheck
}
