package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// StepLog represents a single DAG step's log entry: one function
// invocation within a schedule, with the causal-mode snapshot interval
// and retry counters needed to diagnose resolver stalls.
type StepLog struct {
	Timestamp    time.Time `json:"timestamp"`
	ScheduleID   string    `json:"schedule_id"`
	TraceID      string    `json:"trace_id,omitempty"`
	SpanID       string    `json:"span_id,omitempty"`
	Function     string    `json:"function"`
	Consistency  string    `json:"consistency"`
	TLow         uint64    `json:"t_low,omitempty"`
	THigh        uint64    `json:"t_high,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	InputSize    int       `json:"input_size"`
	OutputSize   int       `json:"output_size,omitempty"`
	ReadRetries  int       `json:"read_retries,omitempty"`
	FromCache    bool      `json:"from_cache,omitempty"`
	InvalidAbort bool      `json:"invalid_abort,omitempty"`
}

// Logger handles request logging
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultLogger = &Logger{enabled: true, console: true}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// SetOutput sets the log output file
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes a step log entry
func (l *Logger) Log(entry *StepLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	// Console output (human-readable)
	if l.console {
		status := "✓"
		if !entry.Success {
			status = "✗"
		}
		abort := ""
		if entry.InvalidAbort {
			abort = " [invalid-abort]"
		}
		cache := ""
		if entry.FromCache {
			cache = " [cached]"
		}
		retry := ""
		if entry.ReadRetries > 0 {
			retry = fmt.Sprintf(" [retry:%d]", entry.ReadRetries)
		}
		fmt.Printf("[step] %s %s %s %dms%s%s%s\n",
			status, entry.ScheduleID, entry.Function, entry.DurationMs, abort, cache, retry)
		if entry.Error != "" {
			fmt.Printf("[step]   error: %s\n", entry.Error)
		}
	}

	// File output (JSON)
	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
