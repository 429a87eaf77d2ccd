package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "json")
	SetLevel("WARN")
	t.Cleanup(func() {
		SetLevel("INFO")
		SetOutput(os.Stdout, "text")
	})

	Info("hidden %d", 1)
	Warn("shown %d", 2)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &record))
	assert.Equal(t, "warn", record["level"])
	assert.Equal(t, "shown 2", record["message"])
}

func TestStructuredEvent(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "json")
	SetLevel("DEBUG")
	t.Cleanup(func() {
		SetLevel("INFO")
		SetOutput(os.Stdout, "text")
	})

	With(LevelDebug).Str("operation", "stat").Msg("done")
	assert.Contains(t, buf.String(), `"operation":"stat"`)

	SetLevel("ERROR")
	assert.Nil(t, With(LevelDebug))
}

func TestConfigureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "dittostore.log")
	require.NoError(t, Configure(Config{Level: "INFO", Format: "json", Output: path, MaxSizeMB: 1}))
	t.Cleanup(func() {
		_ = Configure(Config{Level: "INFO", Output: "stdout"})
	})

	Info("to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}
