package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_AddRemoveLen(t *testing.T) {
	r := NewRegistry()
	s1 := New(nil, silentLog())
	s2 := New(nil, silentLog())

	r.Add(s1)
	r.Add(s2)
	assert.Equal(t, 2, r.Len())

	r.Remove(s1)
	assert.Equal(t, 1, r.Len())

	var seen []*Session
	r.Each(func(s *Session) { seen = append(seen, s) })
	assert.Equal(t, []*Session{s2}, seen)
}

func TestRegistry_RemoveUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	s1 := New(nil, silentLog())
	r.Remove(s1)
	assert.Equal(t, 0, r.Len())
}
