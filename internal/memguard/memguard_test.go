package memguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanupZeroesBuffer(t *testing.T) {
	m := NewManager()
	buf := []byte{1, 2, 3, 4}
	m.RegisterBuffer("doc-1", &buf)

	called := false
	m.RegisterCleanup("doc-1", func() { called = true })

	m.Cleanup("doc-1")
	assert.True(t, called)
	assert.Nil(t, buf)
	assert.Equal(t, 0, m.PendingCount())
}

func TestCleanupAllHandlesMultipleKeys(t *testing.T) {
	m := NewManager()
	a := []byte{9, 9}
	b := []byte{8, 8}
	m.RegisterBuffer("a", &a)
	m.RegisterBuffer("b", &b)

	m.CleanupAll()
	assert.Nil(t, a)
	assert.Nil(t, b)
	assert.Equal(t, 0, m.PendingCount())
}

func TestCleanupUnknownKeyIsNoop(t *testing.T) {
	m := NewManager()
	assert.NotPanics(t, func() { m.Cleanup("missing") })
}
