package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatMap(t *testing.T) {
	m := NewFormatMap(map[string]string{
		"CommandSent": "Command sent to {0}",
		"Pair":        "{1} then {0}",
	})

	assert.Equal(t, "Command sent to lobby", m.Format("commandsent", "lobby"))
	assert.Equal(t, "b then a", m.Format("Pair", "a", "b"))
	assert.Equal(t, "Command sent to {0}", m.Format("CommandSent"))
	assert.Equal(t, "Missing format for 'Nope'", m.Format("Nope"))
}

func TestFormatMap_merge(t *testing.T) {
	m := NewFormatMap(map[string]string{"Usage": "Usage: {0}"})
	m.Merge(map[string]string{"usage": "Try: {0}"})

	assert.Equal(t, "Try: /runcmd", m.Format("Usage", "/runcmd"))
}
