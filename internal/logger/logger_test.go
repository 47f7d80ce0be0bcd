package logger

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T, v bool) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbose(v)
	now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 6000000, time.UTC) }
	t.Cleanup(func() {
		SetVerbose(false)
		SetOutput(os.Stderr)
		now = time.Now
	})
	return &buf
}

func TestDebug_Verbose(t *testing.T) {
	buf := capture(t, true)
	Debug("embedded %d chunks", 3)
	assert.Equal(t, "03:04:05.006 [DEBUG] embedded 3 chunks\n", buf.String())
}

func TestDebugAndInfo_Quiet(t *testing.T) {
	buf := capture(t, false)
	Debug("hidden")
	Info("hidden")
	Section("hidden")
	assert.Empty(t, buf.String())
}

func TestWarnAndError_AlwaysWritten(t *testing.T) {
	buf := capture(t, false)
	Warn("slow backend")
	Error("turn failed: %s", "boom")
	assert.Equal(t,
		"03:04:05.006 [WARN] slow backend\n03:04:05.006 [ERROR] turn failed: boom\n",
		buf.String())
}

func TestSection(t *testing.T) {
	buf := capture(t, true)
	Section("Retrieval")
	assert.Equal(t, "\n=== Retrieval ===\n", buf.String())
}

func TestSetVerbose(t *testing.T) {
	capture(t, false)
	assert.False(t, IsVerbose())
	SetVerbose(true)
	assert.True(t, IsVerbose())
}
