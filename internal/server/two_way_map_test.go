package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTwoWayMap_SetAndLookupBothDirections(t *testing.T) {
	m := NewTwoWayMap()
	m.Set("token1", "Alice")

	name, ok := m.Get("token1")
	assert.True(t, ok)
	assert.Equal(t, "Alice", name)

	token, ok := m.RevGet("Alice")
	assert.True(t, ok)
	assert.Equal(t, "token1", token)
}

func TestTwoWayMap_OverwriteReleasesOldValue(t *testing.T) {
	m := NewTwoWayMap()
	m.Set("token1", "Alice")
	m.Set("token1", "Alicia")

	// The old name must be free for someone else.
	assert.False(t, m.HasValue("Alice"))
	assert.True(t, m.HasValue("Alicia"))

	token, ok := m.RevGet("Alicia")
	assert.True(t, ok)
	assert.Equal(t, "token1", token)
}

func TestTwoWayMap_RemoveByEitherSide(t *testing.T) {
	m := NewTwoWayMap()
	m.Set("token1", "Alice")
	m.Set("token2", "Bob")

	m.RemoveKey("token1")
	assert.False(t, m.HasKey("token1"))
	assert.False(t, m.HasValue("Alice"))

	m.RemoveValue("Bob")
	assert.False(t, m.HasKey("token2"))
	assert.Equal(t, 0, m.Len())
}

func TestTwoWayMap_ForwardReturnsCopy(t *testing.T) {
	m := NewTwoWayMap()
	m.Set("token1", "Alice")

	snapshot := m.Forward()
	snapshot["token1"] = "Mallory"

	name, _ := m.Get("token1")
	assert.Equal(t, "Alice", name)
}
