package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	previous := out
	buf := &bytes.Buffer{}
	out = buf
	t.Cleanup(func() { out = previous })
	return buf
}

func TestLevelsCarryTheirTags(t *testing.T) {
	buf := capture(t)

	Info("hello %s", "world")
	Warn("watch out")
	Error("boom: %d", 42)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "[INFO]")
	assert.Contains(t, lines[0], "hello world")
	assert.Contains(t, lines[1], "[WARN]")
	assert.Contains(t, lines[1], "watch out")
	assert.Contains(t, lines[2], "[ERROR]")
	assert.Contains(t, lines[2], "boom: 42")
}

func TestDumpCarriesLabelAndValue(t *testing.T) {
	buf := capture(t)

	Dump("settings", struct{ Port int }{Port: 8080})

	assert.Contains(t, buf.String(), "settings:")
	assert.Contains(t, buf.String(), "8080")
}
