package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueIntRoundTrip(t *testing.T) {
	for _, n := range []int32{0, 1, -1, 42, -42, 2147483647, -2147483648} {
		v := ivalue(n)
		assert.True(t, v.isPrimitive())
		assert.Equal(t, primitiveInt, v.primitiveKind())
		assert.Equal(t, n, v.asInt())
	}
}

func TestValueBoolRoundTrip(t *testing.T) {
	assert.Equal(t, true, bvalue(true).asBool())
	assert.Equal(t, false, bvalue(false).asBool())
	assert.Equal(t, primitiveBoolean, bvalue(true).primitiveKind())
}

func TestValueDecimalRoundTrip(t *testing.T) {
	for _, f := range []float32{0, 1.5, -1.5, 3.14159} {
		v := dvalue(f)
		assert.Equal(t, primitiveDecimal, v.primitiveKind())
		assert.Equal(t, f, v.asDecimal())
	}
}

func TestValuePointerIsNotPrimitive(t *testing.T) {
	v := pvalue(8)
	assert.False(t, v.isPrimitive())
	assert.Equal(t, uint64(8), v.asPointer())
}

func TestValueEqualityIsWordEquality(t *testing.T) {
	assert.Equal(t, ivalue(5), ivalue(5))
	assert.NotEqual(t, ivalue(5), ivalue(6))
	assert.NotEqual(t, ivalue(1), bvalue(true))
}
