package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureDefault(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(DEBUG)
	SetRedactPII(true)
	t.Cleanup(func() {
		SetOutput(nopWriter{})
		SetLevel(INFO)
	})
	return &buf
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}

func TestWith_AddsFieldsAndRedacts(t *testing.T) {
	buf := captureDefault(t)

	With("component", "dispatcher").Info("sent", "email", "reader@example.com", "note", "cc admin@example.com")

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "sent", entry["msg"])
	assert.Equal(t, "dispatcher", entry["component"])
	assert.Equal(t, "re***@example.com", entry["email"])
	assert.Equal(t, "cc ad***@example.com", entry["note"])
}

func TestLevelFiltering(t *testing.T) {
	buf := captureDefault(t)
	SetLevel(WARN)

	Info("dropped")
	Warn("kept")

	out := buf.String()
	assert.False(t, strings.Contains(out, "dropped"))
	assert.True(t, strings.Contains(out, "kept"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel(""))
}

func TestRedactPIIValue(t *testing.T) {
	assert.Equal(t, "***", redactPIIValue("unsubscribe_token", "YW5uQGV4YW1wbGUuY29t.sig"))
	assert.Equal(t, "an***@example.com", redactPIIValue("Customer_Email", "ann@example.com"))
	assert.Equal(t, "***@***", redactPIIValue("recipient", "a@b@c"))
	assert.Equal(t, "step 2", redactPIIValue("note", "step 2"))
}
