package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewJSON(t *testing.T) {
	t.Setenv("ENV", "production")
	var buf bytes.Buffer
	log, lv := New(&buf, slog.LevelInfo)

	log.Debug("hidden")
	assert.Zero(t, buf.Len())

	log.Info("armed", "channel", "ctr0")
	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "armed", rec["msg"])
	assert.Equal(t, "ctr0", rec["channel"])
	assert.Contains(t, rec, "ts")

	buf.Reset()
	lv.Set(slog.LevelDebug)
	log.Debug("shown")
	assert.NotZero(t, buf.Len())
}
