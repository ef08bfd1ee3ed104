package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceIDs(t *testing.T) {
	g := NewSequenceIDs("user")
	assert.Equal(t, "user-1", g.Generate())
	assert.Equal(t, "user-2", g.Generate())

	assert.Equal(t, "id-1", NewSequenceIDs("").Generate())
}

func TestFixedIDs(t *testing.T) {
	g := NewFixedIDs("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestOpenStore(t *testing.T) {
	s := OpenStore(t)
	assert.NotNil(t, s.DB())
}
