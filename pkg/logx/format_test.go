package logx

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatLineSortsFields(t *testing.T) {
	got := formatLine([]byte(`{"level":"warn","message":"relay failed","z":1,"a":"x","time":"t"}`))
	assert.Equal(t, "[WARN] relay failed\n- a=x\n- z=1", got)
}

func TestFormatLineNonJSON(t *testing.T) {
	assert.Equal(t, "plain text", formatLine([]byte("  plain text\n")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	s := strings.Repeat("x", 20)
	assert.Equal(t, strings.Repeat("x", 12)+"...", truncate(s, 15))
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "relay"))
	log.Info("forwarded", Int64("sender_id", 42))

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"comp":"relay"`)
	assert.Contains(t, out, `"sender_id":42`)
	assert.Contains(t, out, `"message":"forwarded"`)
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	l.Error("discarded")
	assert.False(t, Nop().IsZero())
}
