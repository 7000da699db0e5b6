package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
)

func TestRegistry_Resolve_ForwardReference(t *testing.T) {
	// GIVEN a struct whose member references a struct declared later
	r := NewRegistry()
	require.NoError(t, r.AddStruct(&StructDefinition{
		Name:    "Pose",
		Members: []Member{{Name: "position", Type: MustParse("Vec3")}, {Name: "gear", Type: MustParse("Gear?")}},
	}, "structs[0]"))
	require.NoError(t, r.AddStruct(&StructDefinition{
		Name:    "Vec3",
		Members: []Member{{Name: "x", Type: MustParse("Double")}, {Name: "y", Type: MustParse("Double")}, {Name: "z", Type: MustParse("Double")}},
	}, "structs[1]"))
	require.NoError(t, r.AddEnum(&EnumDefinition{Name: "Gear", Items: []EnumItem{{"P", 0}, {"D", 1}}}, "enums[0]"))

	// WHEN all declarations are resolved
	require.NoError(t, r.ResolveAll())

	// THEN members are bound to their definitions
	pose, _ := r.Struct("Pose")
	assert.True(t, pose.Members[0].Type.IsStruct())
	assert.Equal(t, "Vec3", pose.Members[0].Type.Struct.Name)
	assert.Equal(t, KindEnum, pose.Members[1].Type.Kind)
	assert.Equal(t, "Gear", pose.Members[1].Type.Enum.Name)
	assert.Equal(t, "Gear?", pose.Members[1].Type.String())
}

func TestRegistry_Resolve_StructPreferredOverEnum(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddStruct(&StructDefinition{Name: "Mode", Members: []Member{{Name: "v", Type: MustParse("Int")}}}, "structs[0]"))
	require.NoError(t, r.AddEnum(&EnumDefinition{Name: "Mode"}, "enums[0]"))

	d := MustParse("Mode")
	require.NoError(t, r.Resolve(d, "publishers[mode]"))
	assert.True(t, d.IsStruct())
}

func TestRegistry_Resolve_Unknown_NamesOrigin(t *testing.T) {
	r := NewRegistry()
	d := MustParse("List<Bogus>")

	err := r.Resolve(d, "variables[speed].type")

	require.Error(t, err)
	assert.ErrorIs(t, err, bridgeerrors.ErrUnresolvedType)
	assert.True(t, bridgeerrors.IsClass(err, bridgeerrors.ClassConfiguration))
	assert.Contains(t, err.Error(), "variables[speed].type")
	assert.Contains(t, err.Error(), "Bogus")
}

func TestRegistry_ResolveAll_RejectsCycle(t *testing.T) {
	// GIVEN A -> B -> List<A?>
	r := NewRegistry()
	require.NoError(t, r.AddStruct(&StructDefinition{Name: "A", Members: []Member{{Name: "b", Type: MustParse("B")}}}, "structs[0]"))
	require.NoError(t, r.AddStruct(&StructDefinition{Name: "B", Members: []Member{{Name: "a", Type: MustParse("List<A?>")}}}, "structs[1]"))

	err := r.ResolveAll()

	require.Error(t, err)
	assert.ErrorIs(t, err, bridgeerrors.ErrCyclicType)
}

func TestRegistry_AddStruct_DuplicateMember(t *testing.T) {
	r := NewRegistry()
	err := r.AddStruct(&StructDefinition{Name: "S", Members: []Member{
		{Name: "x", Type: MustParse("Int")},
		{Name: "x", Type: MustParse("Double")},
	}}, "structs[0]")
	require.Error(t, err)
	assert.ErrorIs(t, err, bridgeerrors.ErrDuplicateName)
	assert.Contains(t, err.Error(), "structs[0].members[x]")
}

func TestRegistry_AddEnum_IdenticalRedeclarationAccepted(t *testing.T) {
	r := NewRegistry()
	def := &EnumDefinition{Name: "Gear", Items: []EnumItem{{"P", 0}}}
	require.NoError(t, r.AddEnum(def, "modelDescription"))
	require.NoError(t, r.AddEnum(&EnumDefinition{Name: "Gear", Items: []EnumItem{{"P", 0}}}, "enums[0]"))

	err := r.AddEnum(&EnumDefinition{Name: "Gear", Items: []EnumItem{{"R", -1}}}, "enums[1]")
	assert.ErrorIs(t, err, bridgeerrors.ErrDuplicateName)
}
