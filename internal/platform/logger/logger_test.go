package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New("warn", "json", &buf)
	log.Info("dropped")
	log.Warn("kept", "registration_id", "r1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "roster", line["service"])
	assert.Equal(t, "r1", line["registration_id"])
}

func TestUnknownLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	New("loud", "text", &buf).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}
