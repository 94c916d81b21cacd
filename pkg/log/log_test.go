package log

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldLog(t *testing.T) {
	assert.True(t, ShouldLog(ErrorLevel, InfoLevel))
	assert.True(t, ShouldLog(InfoLevel, InfoLevel))
	assert.False(t, ShouldLog(DebugLevel, InfoLevel))
	assert.False(t, ShouldLog(FatalLevel, DisabledLevel))
	assert.False(t, ShouldLog("bogus", InfoLevel))
}

func TestLogWriterSplitsLines(t *testing.T) {
	out := bytes.Buffer{}
	SetOutput(&out)
	defer SetOutput(os.Stdout)

	w := NewLogWriter(InfoLevel, "[exp]")
	w.Write([]byte("first line\nsecond "))
	assert.Contains(t, out.String(), "[exp] first line")
	assert.NotContains(t, out.String(), "second")

	w.Write([]byte("half\r\n"))
	assert.Contains(t, out.String(), "[exp] second half")

	w.Write([]byte("tail"))
	assert.NoError(t, w.Close())
	assert.Contains(t, out.String(), "[exp] tail")
	assert.Equal(t, 3, strings.Count(out.String(), "[exp]"))
}

func TestLogWriterRespectsLevel(t *testing.T) {
	out := bytes.Buffer{}
	SetOutput(&out)
	defer SetOutput(os.Stdout)

	w := NewLogWriter(DebugLevel, "")
	n, err := w.Write([]byte("hidden\n"))
	assert.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Empty(t, out.String())
}
