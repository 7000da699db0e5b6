package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
)

func TestParse_PrimitiveAliases_MapToSameKind(t *testing.T) {
	for _, tok := range []string{"Int", "Integer", "Int32", "int", "INTEGER"} {
		d, err := Parse(tok)
		require.NoError(t, err, tok)
		assert.Equal(t, KindInt32, d.Kind, tok)
		assert.False(t, d.Optional)
		assert.False(t, d.List)
	}
	d, err := Parse("Double")
	require.NoError(t, err)
	assert.Equal(t, KindFloat64, d.Kind)
}

func TestParse_NestedOptionalList(t *testing.T) {
	// GIVEN the token List<Double?>?
	d, err := Parse("List<Double?>?")
	require.NoError(t, err)

	// THEN the outer node is an optional list of optional doubles
	assert.True(t, d.Optional)
	assert.True(t, d.List)
	require.NotNil(t, d.Elem)
	assert.True(t, d.Elem.Optional)
	assert.False(t, d.Elem.List)
	assert.Equal(t, KindFloat64, d.Elem.Kind)
	assert.Equal(t, "List<Float64?>?", d.String())
}

func TestParse_ListOfOptionalList(t *testing.T) {
	d, err := Parse("List<List<Double>?>")
	require.NoError(t, err)
	assert.False(t, d.Optional)
	assert.Equal(t, 2, d.Depth())
	assert.True(t, d.Elem.Optional)
	assert.Equal(t, KindFloat64, d.Leaf().Kind)
}

func TestParse_Twice_StructurallyEqual(t *testing.T) {
	a, err := Parse("List<Double?>?")
	require.NoError(t, err)
	b, err := Parse("List<Double?>?")
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.Equal(t, a, b)
	assert.NotSame(t, a, b)
}

func TestParse_CustomName_KeptUnresolved(t *testing.T) {
	d, err := Parse("StructFoo")
	require.NoError(t, err)
	assert.Equal(t, KindCustom, d.Kind)
	assert.Equal(t, "StructFoo", d.Name)
	assert.False(t, d.IsResolved())
}

func TestParse_Malformed_ReturnsConfigurationError(t *testing.T) {
	for _, tok := range []string{"", "?", "List<Double", "List<>", "Double??", "Map<A,B>"} {
		_, err := Parse(tok)
		require.Error(t, err, "token %q", tok)
		assert.True(t, bridgeerrors.IsClass(err, bridgeerrors.ClassConfiguration), "token %q", tok)
		assert.ErrorIs(t, err, bridgeerrors.ErrUnknownType)
	}
}

func TestDescriptor_Equal_DiffersOnOptional(t *testing.T) {
	assert.False(t, MustParse("Int32").Equal(MustParse("Int32?")))
	assert.False(t, MustParse("List<Int32>").Equal(MustParse("List<Int64>")))
	assert.True(t, MustParse("list<bool>").Equal(MustParse("List<Boolean>")))
}
