package helpers

import (
	"fmt"
	"os"
	"sync"
	"time"

	"sjsage522/marketworker/logger"
)

// Reporter receives free-text progress lines
type Reporter interface {
	Report(format string, args ...interface{})
}

// NopReporter discards every line
type NopReporter struct{}

// Report implements Reporter
func (NopReporter) Report(string, ...interface{}) {}

// ChannelReporter forwards lines to a buffered channel and drops them when
// the consumer falls behind, so reporting never stalls extraction.
type ChannelReporter struct {
	lines   chan string
	mu      sync.Mutex
	dropped int
	closed  bool
}

// NewChannelReporter creates a reporter with the given buffer size
func NewChannelReporter(buffer int) *ChannelReporter {
	return &ChannelReporter{lines: make(chan string, buffer)}
}

// Report implements Reporter
func (r *ChannelReporter) Report(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.dropped++
		return
	}
	select {
	case r.lines <- fmt.Sprintf(format, args...):
	default:
		r.dropped++
	}
}

// Close ends the stream. Lines reported afterwards count as dropped.
func (r *ChannelReporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.lines)
	}
}

// Lines returns the receive side of the stream
func (r *ChannelReporter) Lines() <-chan string {
	return r.lines
}

// Dropped returns how many lines were discarded
func (r *ChannelReporter) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// FileReporter appends timestamped lines to a file
type FileReporter struct {
	path string
	mu   sync.Mutex
}

// NewFileReporter creates a new file reporter
func NewFileReporter(path string) *FileReporter {
	return &FileReporter{path: path}
}

// Report implements Reporter
func (r *FileReporter) Report(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logger.LogError("reporter", err, "failed to open %s", r.path)
		return
	}
	defer f.Close()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(f, "[%s] %s\n", timestamp, fmt.Sprintf(format, args...))
}

// LogReporter writes lines to the structured logger at debug level
type LogReporter struct{}

// Report implements Reporter
func (LogReporter) Report(format string, args ...interface{}) {
	logger.Debug(format, args...)
}

// MultiReporter fans a line out to every reporter
type MultiReporter []Reporter

// Report implements Reporter
func (m MultiReporter) Report(format string, args ...interface{}) {
	for _, r := range m {
		if r != nil {
			r.Report(format, args...)
		}
	}
}
