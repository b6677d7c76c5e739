package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, done, err := New(Config{Level: "warn", Format: "json", Output: &buf})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	done()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "warn", entry["level"])
	assert.Contains(t, entry, "timestamp")
}

func TestNew_FileCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "refinery.log")
	var buf bytes.Buffer

	logger, done, err := New(Config{Level: "info", Format: "console", File: path, Output: &buf})
	require.NoError(t, err)
	logger, id := WithRunID(logger)
	logger.Info("refined")
	done()

	assert.Contains(t, buf.String(), "refined")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id":"`+id+`"`)
}

func TestNew_RejectsBadSettings(t *testing.T) {
	_, _, err := New(Config{Level: "chatty"})
	assert.Error(t, err)

	_, _, err = New(Config{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
