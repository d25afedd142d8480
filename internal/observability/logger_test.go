// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/bddtriage/internal/config"
)

func TestNew(t *testing.T) {
	t.Run("console logger colors levels", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "bddtriage",
			Colors:      config.ColorConfig{Info: "green"},
		}, zapcore.AddSync(&buf))

		logger.Named("parser").Info("Parsed failure.")
		logger.Debug("Debug line.")
		require.NoError(t, logger.Sync())

		out := buf.String()
		assert.Contains(t, out, colorGreen+"INFO"+colorReset)
		assert.Contains(t, out, colorGray+"DEBUG"+colorReset, "unset colors fall back to defaults")
		assert.Contains(t, out, "[bddtriage.parser]")
		assert.Contains(t, out, "Parsed failure.")
	})

	t.Run("json logger", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"}, zapcore.AddSync(&buf))
		logger.Warn("Analysis skipped.", zap.String("reason", "not_configured"))
		require.NoError(t, logger.Sync())

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log output should be valid JSON")
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "Analysis skipped.", entry["msg"])
		assert.Equal(t, "not_configured", entry["reason"])
	})

	t.Run("level filtering", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(config.LoggerConfig{Level: "warn", Format: "json"}, zapcore.AddSync(&buf))
		logger.Info("hidden")
		require.NoError(t, logger.Sync())
		assert.Empty(t, buf.String())
	})

	t.Run("file output", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "triage.log")
		var console bytes.Buffer
		logger := New(config.LoggerConfig{Level: "debug", Format: "console", LogFile: path, MaxSize: 1}, zapcore.AddSync(&console))
		logger.Error("This should go to the file.")
		_ = logger.Sync()

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), "This should go to the file.")
		assert.Contains(t, string(content), `"level":"ERROR"`, "file output is always JSON")
	})
}

func TestInitialize(t *testing.T) {
	t.Run("only initializes once", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)

		var buf bytes.Buffer
		Initialize(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "First"}, zapcore.AddSync(&buf))
		first := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", Format: "console", ServiceName: "Second"}, zapcore.AddSync(&buf))
		second := GetLogger()

		assert.Same(t, first, second)
		second.Info("test")
		Sync()
		assert.Contains(t, buf.String(), "First")
		assert.NotContains(t, buf.String(), "Second")
	})

	t.Run("fallback before initialization", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		assert.NotNil(t, GetLogger())
		assert.Nil(t, globalLogger.Load())
	})
}
