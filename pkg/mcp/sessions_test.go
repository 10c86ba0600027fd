package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistry(t *testing.T) {
	r := NewSessionRegistry()

	_, ok := r.SessionFor("d1")
	assert.False(t, ok)

	r.Register("d1", "sess-a")
	r.Register("d2", "sess-a")
	r.Register("d3", "sess-b")

	sid, ok := r.SessionFor("d1")
	assert.True(t, ok)
	assert.Equal(t, "sess-a", sid)

	// Reconnect overwrites.
	r.Register("d1", "sess-c")
	sid, _ = r.SessionFor("d1")
	assert.Equal(t, "sess-c", sid)

	// Removing a session drops every dialog it drove.
	r.Remove("sess-a")
	_, ok = r.SessionFor("d2")
	assert.False(t, ok)
	_, ok = r.SessionFor("d3")
	assert.True(t, ok)
}
