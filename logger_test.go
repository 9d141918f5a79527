package funk

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level slog.Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level})), &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_Levels(t *testing.T) {
	l, buf := newBufferLogger(slog.LevelInfo)

	l.LogPrepare(RootXID, xid(1), nil)
	l.LogCancel("cancel", 2, nil)
	l.LogMerge(xid(1), 3, nil)
	l.LogVerify(1, 2, nil)
	assert.Empty(t, buf.String())

	l.LogPublish(xid(1), 2, nil)
	l.LogVerify(1, 2, errors.New("boom"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "publish completed", lines[0]["msg"])
	assert.Equal(t, float64(2), lines[0]["published"])
	assert.Equal(t, "verify failed", lines[1]["msg"])
	assert.Equal(t, "WARN", lines[1]["level"])
}

func TestLogger_WithStoreAndXID(t *testing.T) {
	l, buf := newBufferLogger(slog.LevelDebug)

	l.WithStore(4096).WithXID(xid(7)).Debug("hello")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, float64(4096), lines[0]["funk_gaddr"])
	assert.Equal(t, xid(7).String(), lines[0]["xid"])
}

func TestLogger_Corruption(t *testing.T) {
	l, buf := newBufferLogger(slog.LevelError)
	s := newTestStore(t, 2, 2, WithLogger(l))

	requireCorruption(t, func() { s.corrupt("test", "broken %d", 1) })

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "memory corruption detected", lines[0]["msg"])
	assert.Equal(t, "test", lines[0]["op"])
	assert.Equal(t, "broken 1", lines[0]["reason"])
}

func TestNoopLogger(t *testing.T) {
	l := NoopLogger()
	assert.False(t, l.Enabled(t.Context(), slog.LevelError))
}
