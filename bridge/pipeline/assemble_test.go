package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
	"github.com/fmubridge/fmubridge/bridge/fmi"
	"github.com/fmubridge/fmubridge/bridge/naming"
	"github.com/fmubridge/fmubridge/bridge/transform"
	"github.com/fmubridge/fmubridge/bridge/types"
)

// variable builds a scalar ConfiguredVariable without a model description.
func variable(name string, k types.Kind) *ConfiguredVariable {
	cv := &ConfiguredVariable{
		Variable: &fmi.Variable{Name: name, Kind: k, Causality: fmi.CausalityOutput},
		Path:     naming.MustParse(name),
		Unit:     transform.Identity,
	}
	if k != types.KindClock {
		cv.Type = types.Primitive(k)
	}
	return cv
}

func declare(t *testing.T, def *types.StructDefinition) *types.Descriptor {
	t.Helper()
	reg := types.NewRegistry()
	require.NoError(t, reg.AddStruct(def, "test"))
	require.NoError(t, reg.ResolveAll())
	d := types.MustParse(def.Name)
	require.NoError(t, reg.Resolve(d, "test"))
	return d
}

func TestAssemble_NestedUndeclared(t *testing.T) {
	// GIVEN variables sharing the root "v", two of them below "v.body"
	vars := []*ConfiguredVariable{
		variable("v.body.speed", types.KindFloat64),
		variable("v.id", types.KindInt32),
		variable("v.body.mass", types.KindFloat32),
		variable("flat", types.KindBool),
	}

	// WHEN they are assembled without a declared type
	structs, err := Assemble(vars, nil)

	// THEN one structure with a nested structure is built, slots in model order
	require.NoError(t, err)
	require.Len(t, structs, 1)
	v := structs[0]
	assert.Equal(t, "v", v.Def.Name)
	require.Len(t, v.Slots, 2)
	assert.Equal(t, "body", v.Slots[0].Name)
	assert.Equal(t, "id", v.Slots[1].Name)

	body := v.Slots[0].Structure
	require.NotNil(t, body)
	assert.Equal(t, "v.body", body.Def.Name)
	assert.Equal(t, []string{"speed", "mass"}, []string{body.Def.Members[0].Name, body.Def.Members[1].Name})
	assert.True(t, v.Def.Members[0].Type.IsStruct())
	assert.Len(t, v.Variables(), 3)
}

func TestAssemble_QuotedSegments(t *testing.T) {
	structs, err := Assemble([]*ConfiguredVariable{
		variable("a.'b.c'", types.KindFloat64),
		variable("a.d", types.KindFloat64),
	}, nil)
	require.NoError(t, err)
	require.Len(t, structs[0].Slots, 2)
	assert.Equal(t, "b.c", structs[0].Slots[0].Name)
}

func TestAssemble_DeclaredOrderAndClock(t *testing.T) {
	// GIVEN a declared struct whose member order differs from the model order
	d := declare(t, &types.StructDefinition{Name: "Pose", Members: []types.Member{
		{Name: "id", Type: types.MustParse("Int64")},
		{Name: "x", Type: types.MustParse("Double")},
	}})
	vars := []*ConfiguredVariable{
		variable("pose.x", types.KindFloat64),
		variable("pose.tick", types.KindClock),
		variable("pose.id", types.KindInt32),
	}

	// WHEN assembled
	structs, err := Assemble(vars, map[string]*types.Descriptor{"pose": d})

	// THEN slots follow the declaration, the clock is kept aside and the
	// variables adopt the member types
	require.NoError(t, err)
	s := structs[0]
	assert.Equal(t, "id", s.Slots[0].Name)
	assert.Equal(t, "pose.id", s.Slots[0].Variable.Name())
	assert.Equal(t, types.KindInt64, s.Slots[0].Variable.Type.Kind)
	require.Len(t, s.Clocks, 1)
	assert.Equal(t, "pose.tick", s.Clocks[0].Name())
	assert.Equal(t, "Pose", s.Descriptor().Name)
}

func TestAssemble_Errors(t *testing.T) {
	pose := &types.StructDefinition{Name: "Pose", Members: []types.Member{
		{Name: "x", Type: types.MustParse("Double")},
		{Name: "y", Type: types.MustParse("Double")},
	}}
	tests := []struct {
		name     string
		vars     []*ConfiguredVariable
		declared bool
		want     error
	}{
		{
			name:     "unexpected member",
			vars:     []*ConfiguredVariable{variable("p.x", types.KindFloat64), variable("p.y", types.KindFloat64), variable("p.z", types.KindFloat64)},
			declared: true,
			want:     bridgeerrors.ErrUnexpectedMember,
		},
		{
			name:     "missing member",
			vars:     []*ConfiguredVariable{variable("p.x", types.KindFloat64)},
			declared: true,
			want:     bridgeerrors.ErrIncompleteStruct,
		},
		{
			name: "variable and structure share a name",
			vars: []*ConfiguredVariable{variable("p.x", types.KindFloat64), variable("p.x.y", types.KindFloat64)},
			want: bridgeerrors.ErrDuplicateName,
		},
		{
			name: "structure then variable with the same name",
			vars: []*ConfiguredVariable{variable("p.x.y", types.KindFloat64), variable("p.x", types.KindFloat64)},
			want: bridgeerrors.ErrUnexpectedMember,
		},
		{
			name:     "incompatible member type",
			vars:     []*ConfiguredVariable{variable("p.x", types.KindString), variable("p.y", types.KindFloat64)},
			declared: true,
			want:     bridgeerrors.ErrInvalidConfig,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var declared map[string]*types.Descriptor
			if tc.declared {
				declared = map[string]*types.Descriptor{"p": declare(t, pose)}
			}
			_, err := Assemble(tc.vars, declared)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, bridgeerrors.IsClass(err, bridgeerrors.ClassConfiguration))
		})
	}
}
