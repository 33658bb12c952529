package logger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// LogFileInfo describes a log file on disk.
type LogFileInfo struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"createdAt"`
}

// ParsedLogEntry is a log record parsed back out of a file.
type ParsedLogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Raw       string                 `json:"raw"`
}

// LogFileFilter narrows the entries returned by ReadLogFile.
type LogFileFilter struct {
	Level     string    `json:"level"`
	Search    string    `json:"search"`
	Offset    int       `json:"offset"`
	Limit     int       `json:"limit"` // 0 = unlimited
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

var (
	// Matches files written by setupFileWriter: pyvidia-{mode}.log
	logFilePattern = regexp.MustCompile(`^pyvidia-([a-z]+)\.log$`)

	// Text output format: [2006-01-02 15:04:05] LEVEL message
	textLinePattern = regexp.MustCompile(`^\[(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})\] (\w+) (.+)$`)

	// key=value or key="quoted value" pairs appended to text messages
	fieldPattern = regexp.MustCompile(`(\w+)=("[^"]*"|[\w\-./:]+)`)
)

// IsLogFileName reports whether name is a plain log file name produced by
// this package. Names with path separators or unexpected formats are
// rejected, so it is safe to use on names taken from request paths.
func IsLogFileName(name string) bool {
	return logFilePattern.MatchString(name)
}

// ListLogFiles lists log files in logDir, optionally restricted to one mode.
func ListLogFiles(logDir string, mode string) ([]LogFileInfo, error) {
	if logDir == "" {
		return nil, fmt.Errorf("log directory not configured")
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to access log directory: %w", err)
	}

	files, err := os.ReadDir(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read log directory: %w", err)
	}

	var logFiles []LogFileInfo
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		matches := logFilePattern.FindStringSubmatch(file.Name())
		if matches == nil {
			continue
		}

		fileMode := matches[1]
		if mode != "" && mode != fileMode {
			continue
		}

		info, err := file.Info()
		if err != nil {
			continue
		}

		logFiles = append(logFiles, LogFileInfo{
			Name:      file.Name(),
			Path:      filepath.Join(logDir, file.Name()),
			Size:      info.Size(),
			Mode:      fileMode,
			CreatedAt: info.ModTime(),
		})
	}

	// Newest first
	sort.Slice(logFiles, func(i, j int) bool {
		return logFiles[i].CreatedAt.After(logFiles[j].CreatedAt)
	})

	return logFiles, nil
}

// ReadLogFile reads a log file and returns entries matching the filter.
func ReadLogFile(logPath string, filter LogFileFilter) ([]ParsedLogEntry, error) {
	file, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	var entries []ParsedLogEntry
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		entry := parseLogLineToEntry(scanner.Text())
		if entry == nil {
			continue
		}

		if !matchesFilter(entry, filter) {
			continue
		}

		entries = append(entries, *entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(entries) {
			return []ParsedLogEntry{}, nil
		}
		entries = entries[filter.Offset:]
	}

	if filter.Limit > 0 && filter.Limit < len(entries) {
		entries = entries[:filter.Limit]
	}

	return entries, nil
}

// GetLogFileStats returns per-level entry counts for a log file.
func GetLogFileStats(logPath string) (map[string]int, error) {
	entries, err := ReadLogFile(logPath, LogFileFilter{})
	if err != nil {
		return nil, err
	}

	stats := make(map[string]int)
	total := 0

	for _, entry := range entries {
		stats[strings.ToUpper(entry.Level)]++
		total++
	}

	stats["total"] = total
	return stats, nil
}

// parseLogLineToEntry parses one line in either of the logger's output
// formats. Unrecognized lines still surface as INFO entries with the raw
// line as the message.
func parseLogLineToEntry(line string) *ParsedLogEntry {
	if line == "" {
		return nil
	}

	entry := &ParsedLogEntry{
		Fields: make(map[string]interface{}),
		Raw:    line,
	}

	if strings.HasPrefix(line, "{") {
		if err := parseJSONLogLine(line, entry); err == nil {
			return entry
		}
	}

	matches := textLinePattern.FindStringSubmatch(line)
	if matches != nil {
		if timestamp, err := time.Parse("2006-01-02 15:04:05", matches[1]); err == nil {
			entry.Timestamp = timestamp
		}
		entry.Level = strings.ToUpper(matches[2])
		entry.Message = matches[3]
		parseTextFields(entry.Message, entry.Fields)
		return entry
	}

	entry.Level = "INFO"
	entry.Message = line
	entry.Timestamp = time.Now()

	return entry
}

// parseJSONLogLine parses a JSON format log line:
// {"time":"...","level":"...","msg":"...",...}
func parseJSONLogLine(line string, entry *ParsedLogEntry) error {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return err
	}

	if t, ok := raw["time"].(string); ok {
		formats := []string{
			"2006-01-02 15:04:05",
			time.RFC3339,
		}
		for _, format := range formats {
			if timestamp, err := time.Parse(format, t); err == nil {
				entry.Timestamp = timestamp
				break
			}
		}
	}
	if l, ok := raw["level"].(string); ok {
		entry.Level = strings.ToUpper(l)
	}
	if m, ok := raw["msg"].(string); ok {
		entry.Message = m
	}

	for k, v := range raw {
		switch k {
		case "time", "level", "msg":
		default:
			entry.Fields[k] = v
		}
	}

	return nil
}

// parseTextFields extracts key=value pairs appended to a text message.
func parseTextFields(message string, fields map[string]interface{}) {
	matches := fieldPattern.FindAllStringSubmatch(message, -1)
	for _, match := range matches {
		if len(match) == 3 {
			fields[match[1]] = strings.Trim(match[2], `"`)
		}
	}
}

// matchesFilter reports whether a log entry passes the given filter.
func matchesFilter(entry *ParsedLogEntry, filter LogFileFilter) bool {
	if filter.Level != "" && !strings.EqualFold(entry.Level, filter.Level) {
		return false
	}

	if filter.Search != "" {
		if !strings.Contains(strings.ToLower(entry.Message), strings.ToLower(filter.Search)) {
			return false
		}
	}

	if !filter.StartTime.IsZero() && entry.Timestamp.Before(filter.StartTime) {
		return false
	}
	if !filter.EndTime.IsZero() && entry.Timestamp.After(filter.EndTime) {
		return false
	}

	return true
}
