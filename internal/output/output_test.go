package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_Status_PrintsIconAndMessage(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a status message
	w.Status("→", "Connecting to daemon...")

	// Then: output contains icon and message
	assert.Equal(t, "→ Connecting to daemon...\n", buf.String())
}

func TestWriter_Status_NoIconIndents(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Status("", "detail")

	assert.Equal(t, "   detail\n", buf.String())
}

func TestWriter_Levels(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		want  string
	}{
		{"success", func(w *Writer) { w.Successf("Index [%s] created", "demo") }, "✓ Index [demo] created\n"},
		{"warning", func(w *Writer) { w.Warningf("daemon not running") }, "! daemon not running\n"},
		{"error", func(w *Writer) { w.Errorf("failed: %d", 3) }, "✗ failed: 3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.write(New(buf))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestNew_BufferIsPlain(t *testing.T) {
	// Given: a non-terminal writer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing styled output
	w.Header("Status")

	// Then: no escape sequences are emitted
	assert.NotContains(t, buf.String(), "\x1b[")
	assert.False(t, IsTTY(buf))
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
}

func TestWriter_KeyValue_Aligns(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.KeyValue("pid", 42)
	w.KeyValue("queue depth", 0)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Index(lines[0], "42"), strings.Index(lines[1], "0"))
}

func TestWriter_Table(t *testing.T) {
	// Given: rows wider than their headers
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: rendering a table
	w.Table([]string{"id", "title"}, [][]string{
		{"a1", "hello world"},
		{"b22", "x"},
	})

	// Then: columns line up on the widest cell
	assert.Equal(t, "id   title\na1   hello world\nb22  x\n", buf.String())
}

func TestWriter_Table_ShortRows(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Table([]string{"id", "age"}, [][]string{{"a1"}})

	assert.Equal(t, "id  age\na1\n", buf.String())
}

func TestWriter_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, New(buf).JSON(map[string]int{"num_hits": 2}))

	assert.Equal(t, "{\n  \"num_hits\": 2\n}\n", buf.String())
}
