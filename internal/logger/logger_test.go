package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ntpeters/pyvidia/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("Initialize with stdout output", func(t *testing.T) {
		cfg := &config.LogConfig{
			Level:  "debug",
			Format: "json",
			Output: "stdout",
		}

		logger, err := NewLogger(cfg, "query")
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.Equal(t, DEBUG, logger.level)
	})

	t.Run("Initialize with file output", func(t *testing.T) {
		tmpDir := t.TempDir()
		cfg := &config.LogConfig{
			Level:     "info",
			Format:    "text",
			Output:    "file",
			Directory: tmpDir,
		}

		logger, err := NewLogger(cfg, "query")
		require.NoError(t, err)
		assert.NotNil(t, logger)

		logger.log(INFO, "test message", nil)
		logger.Close()

		logFile := filepath.Join(tmpDir, "pyvidia-query.log")
		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})

	t.Run("Initialize with both outputs", func(t *testing.T) {
		tmpDir := t.TempDir()
		cfg := &config.LogConfig{
			Level:     "warn",
			Format:    "json",
			Output:    "both",
			Directory: tmpDir,
		}

		logger, err := NewLogger(cfg, "serve")
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.Equal(t, WARN, logger.level)

		logger.Close()
	})

	t.Run("Invalid log level defaults to info", func(t *testing.T) {
		cfg := &config.LogConfig{
			Level:  "invalid",
			Format: "text",
			Output: "stdout",
		}

		logger, err := NewLogger(cfg, "query")
		require.NoError(t, err)
		assert.Equal(t, INFO, logger.level)
	})
}

func TestLogLevels(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &config.LogConfig{
		Level:     "debug",
		Format:    "text",
		Output:    "file",
		Directory: tmpDir,
	}

	logger, err := NewLogger(cfg, "query")
	require.NoError(t, err)

	logger.log(DEBUG, "debug message", nil)
	logger.log(INFO, "info message", nil)
	logger.log(WARN, "warn message", nil)
	logger.log(ERROR, "error message", nil)

	logger.Close()

	logFile := filepath.Join(tmpDir, "pyvidia-query.log")
	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "debug message")
	assert.Contains(t, string(content), "info message")
	assert.Contains(t, string(content), "warn message")
	assert.Contains(t, string(content), "error message")
}

func TestLogFormats(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("JSON format", func(t *testing.T) {
		jsonDir := filepath.Join(tmpDir, "json")
		cfg := &config.LogConfig{
			Level:     "info",
			Format:    "json",
			Output:    "file",
			Directory: jsonDir,
		}

		logger, err := NewLogger(cfg, "query")
		require.NoError(t, err)

		logger.log(INFO, "test json message", nil)
		logger.Close()

		logFile := filepath.Join(jsonDir, "pyvidia-query.log")
		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "\"level\":")
		assert.Contains(t, string(content), "\"msg\":")
		assert.Contains(t, string(content), "test json message")
	})

	t.Run("Text format", func(t *testing.T) {
		textDir := filepath.Join(tmpDir, "text")
		cfg := &config.LogConfig{
			Level:     "info",
			Format:    "text",
			Output:    "file",
			Directory: textDir,
		}

		logger, err := NewLogger(cfg, "query")
		require.NoError(t, err)

		logger.log(INFO, "test text message", nil)
		logger.Close()

		logFile := filepath.Join(textDir, "pyvidia-query.log")
		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		logContent := string(content)
		assert.Contains(t, logContent, "test text message")
		assert.Contains(t, logContent, "INFO")
	})
}

func TestLogWithFields(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &config.LogConfig{
		Level:     "info",
		Format:    "json",
		Output:    "file",
		Directory: tmpDir,
	}

	logger, err := NewLogger(cfg, "query")
	require.NoError(t, err)

	fields := []Field{
		{Key: "series", Value: "390"},
		{Key: "devices", Value: 42},
	}
	logger.log(INFO, "message with fields", fields)

	logger.Close()

	logFile := filepath.Join(tmpDir, "pyvidia-query.log")
	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "series")
	assert.Contains(t, string(content), "390")
	assert.Contains(t, string(content), "devices")
	assert.Contains(t, string(content), "42")
}

func TestLogWithError(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &config.LogConfig{
		Level:     "info",
		Format:    "json",
		Output:    "file",
		Directory: tmpDir,
	}

	logger, err := NewLogger(cfg, "query")
	require.NoError(t, err)

	testErr := assert.AnError
	logger.WithError(testErr).Error("operation failed")

	logger.Close()

	logFile := filepath.Join(tmpDir, "pyvidia-query.log")
	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "error")
	assert.Contains(t, string(content), "operation failed")
}

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{FATAL, "FATAL"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", DEBUG},
		{"DEBUG", DEBUG},
		{"info", INFO},
		{"INFO", INFO},
		{"warn", WARN},
		{"WARN", WARN},
		{"warning", WARN},
		{"error", ERROR},
		{"ERROR", ERROR},
		{"fatal", FATAL},
		{"FATAL", FATAL},
		{"invalid", INFO},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := parseLevel(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestGlobalLogger(t *testing.T) {
	logger := GetLogger()
	assert.NotNil(t, logger)

	logger2 := GetLogger()
	assert.Same(t, logger, logger2)

	assert.NotPanics(t, func() {
		Info("test message from global logger")
	})
}

func TestLogLevelFiltering(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &config.LogConfig{
		Level:     "warn",
		Format:    "text",
		Output:    "file",
		Directory: tmpDir,
	}

	logger, err := NewLogger(cfg, "query")
	require.NoError(t, err)

	logger.log(DEBUG, "debug message - should not appear", nil)
	logger.log(INFO, "info message - should not appear", nil)
	logger.log(WARN, "warn message - should appear", nil)
	logger.log(ERROR, "error message - should appear", nil)

	logger.Close()

	logFile := filepath.Join(tmpDir, "pyvidia-query.log")
	content, err := os.ReadFile(logFile)
	require.NoError(t, err)

	logContent := string(content)
	assert.NotContains(t, logContent, "debug message - should not appear")
	assert.NotContains(t, logContent, "info message - should not appear")
	assert.Contains(t, logContent, "warn message - should appear")
	assert.Contains(t, logContent, "error message - should appear")
}

func TestLogEntryChaining(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &config.LogConfig{
		Level:     "info",
		Format:    "json",
		Output:    "file",
		Directory: tmpDir,
	}

	logger, err := NewLogger(cfg, "query")
	require.NoError(t, err)

	logger.WithField("page", "legacy").
		WithField("series", "96").
		WithField("rows", 118).
		Info("parsed device table")

	logger.Close()

	logFile := filepath.Join(tmpDir, "pyvidia-query.log")
	content, err := os.ReadFile(logFile)
	require.NoError(t, err)

	logContent := string(content)
	assert.Contains(t, logContent, "page")
	assert.Contains(t, logContent, "legacy")
	assert.Contains(t, logContent, "series")
	assert.Contains(t, logContent, "96")
	assert.Contains(t, logContent, "rows")
	assert.Contains(t, logContent, "118")
}

func TestConcurrency(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &config.LogConfig{
		Level:     "info",
		Format:    "text",
		Output:    "file",
		Directory: tmpDir,
	}

	logger, err := NewLogger(cfg, "query")
	require.NoError(t, err)

	done := make(chan bool)
	for i := 0; i < 100; i++ {
		go func(n int) {
			logger.log(INFO, fmt.Sprintf("Concurrent log message %d", n), nil)
			done <- true
		}(i)
	}

	for i := 0; i < 100; i++ {
		<-done
	}

	logger.Close()

	logFile := filepath.Join(tmpDir, "pyvidia-query.log")
	content, err := os.ReadFile(logFile)
	require.NoError(t, err)

	logContent := string(content)
	for i := 0; i < 100; i++ {
		assert.Contains(t, logContent, fmt.Sprintf("Concurrent log message %d", i))
	}
}
