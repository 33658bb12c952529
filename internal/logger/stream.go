package logger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StreamLogEntry is a single log record delivered to live subscribers.
type StreamLogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogStream keeps a bounded buffer of recent log entries and fans new
// entries out to subscribers.
type LogStream struct {
	mu          sync.RWMutex
	entries     []StreamLogEntry
	maxSize     int
	subscribers map[chan StreamLogEntry]struct{}
	closed      bool
}

// NewLogStream creates a log stream holding at most maxSize entries.
func NewLogStream(maxSize int) *LogStream {
	return &LogStream{
		entries:     make([]StreamLogEntry, 0, maxSize),
		maxSize:     maxSize,
		subscribers: make(map[chan StreamLogEntry]struct{}),
	}
}

// Add appends an entry to the buffer and publishes it to subscribers.
// Subscribers with full channels are skipped rather than blocked on.
func (ls *LogStream) Add(entry StreamLogEntry) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.closed {
		return
	}

	ls.entries = append(ls.entries, entry)
	if len(ls.entries) > ls.maxSize {
		ls.entries = ls.entries[1:]
	}

	for ch := range ls.subscribers {
		select {
		case ch <- entry:
		default:
		}
	}
}

// Subscribe registers a new subscriber channel for live entries.
func (ls *LogStream) Subscribe() chan StreamLogEntry {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ch := make(chan StreamLogEntry, 100)
	ls.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (ls *LogStream) Unsubscribe(ch chan StreamLogEntry) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if _, ok := ls.subscribers[ch]; !ok {
		return
	}
	close(ch)
	delete(ls.subscribers, ch)
}

// GetEntries returns up to limit of the most recent buffered entries.
// A limit of zero or less returns the whole buffer.
func (ls *LogStream) GetEntries(limit int) []StreamLogEntry {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	if limit <= 0 || limit > len(ls.entries) {
		limit = len(ls.entries)
	}

	start := len(ls.entries) - limit
	result := make([]StreamLogEntry, limit)
	copy(result, ls.entries[start:])
	return result
}

// Close stops the stream and closes all subscriber channels.
func (ls *LogStream) Close() {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.closed {
		return
	}
	ls.closed = true

	for ch := range ls.subscribers {
		close(ch)
	}
	ls.subscribers = make(map[chan StreamLogEntry]struct{})
}

var (
	globalLogStream *LogStream
	onceStream      sync.Once
)

// InitLogStream initializes the global log stream. Entries logged through
// the package logger are published to it once initialized.
func InitLogStream(maxSize int) {
	onceStream.Do(func() {
		globalLogStream = NewLogStream(maxSize)
	})
}

// GetLogStream returns the global log stream, initializing it on first use.
func GetLogStream() *LogStream {
	if globalLogStream == nil {
		InitLogStream(1000)
	}
	return globalLogStream
}

// StreamLogFile reads entries from a log file on disk and delivers them on
// a channel. With fromBeginning false only lines appended after the call
// would be seen, so the reader starts at the end of the file.
func StreamLogFile(logPath string, fromBeginning bool) (<-chan StreamLogEntry, error) {
	file, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	ch := make(chan StreamLogEntry, 100)

	go func() {
		defer close(ch)
		defer file.Close()

		if !fromBeginning {
			if _, err := file.Seek(0, io.SeekEnd); err != nil {
				return
			}
		}

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			if entry := parseLogLine(scanner.Text()); entry != nil {
				ch <- *entry
			}
		}
	}()

	return ch, nil
}

// GetLatestLogFile returns the path of the active log file for a mode,
// matching the naming used by the file writer.
func GetLatestLogFile(logDir string, mode string) (string, error) {
	if logDir == "" {
		return "", fmt.Errorf("log directory not configured")
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}

	return filepath.Join(logDir, fmt.Sprintf("pyvidia-%s.log", mode)), nil
}

// parseLogLine converts a raw log line into a stream entry.
func parseLogLine(line string) *StreamLogEntry {
	parsed := parseLogLineToEntry(line)
	if parsed == nil {
		return nil
	}
	return &StreamLogEntry{
		Timestamp: parsed.Timestamp,
		Level:     parsed.Level,
		Message:   parsed.Message,
		Fields:    parsed.Fields,
	}
}
