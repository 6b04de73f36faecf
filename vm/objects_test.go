package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectManagerStringRoundTrip(t *testing.T) {
	m := newObjectManager()
	v := m.registerString("hello")
	s, ok := m.lookupString(v)
	require.True(t, ok)
	assert.Equal(t, "hello", s)
	assert.Equal(t, ObjectString, m.guessType(v))
}

func TestObjectManagerFunctionRefRoundTrip(t *testing.T) {
	m := newObjectManager()
	parent := &Activation{Slots: make([]Value, 1)}
	v := m.createFunctionRef(parent, 42)
	ref, ok := m.lookupFunctionRef(v)
	require.True(t, ok)
	assert.Same(t, parent, ref.ParentActivation)
	assert.Equal(t, uint64(42), ref.InstructionIndex)
	assert.Equal(t, ObjectFunctionRef, m.guessType(v))
}

func TestObjectManagerGuessTypePrimitives(t *testing.T) {
	m := newObjectManager()
	assert.Equal(t, ObjectInt, m.guessType(ivalue(1)))
	assert.Equal(t, ObjectDecimal, m.guessType(dvalue(1.5)))
	assert.Equal(t, ObjectBoolean, m.guessType(bvalue(true)))
}

func TestObjectManagerHandlesAreEightByteAligned(t *testing.T) {
	m := newObjectManager()
	for i := 0; i < 10; i++ {
		h := m.allocHandle()
		assert.Zero(t, h%8)
	}
}

func TestObjectManagerUnknownHandleIsUnknown(t *testing.T) {
	m := newObjectManager()
	assert.Equal(t, ObjectUnknown, m.guessType(pvalue(800)))
}
