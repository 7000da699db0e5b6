package fmi

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
	"github.com/fmubridge/fmubridge/bridge/internal/testutil"
	"github.com/fmubridge/fmubridge/bridge/transform"
	"github.com/fmubridge/fmubridge/bridge/types"
)

func TestLoadModelDescription_FMI3(t *testing.T) {
	// GIVEN the FMI 3 thermal fixture
	md, err := LoadModelDescription(testutil.ModelPath(t, "thermal"))
	require.NoError(t, err)

	// THEN header, experiment and type definitions are read
	assert.Equal(t, "thermal", md.ModelName)
	assert.Equal(t, 3, md.MajorVersion())
	assert.Equal(t, 8, md.EnumWidth())
	assert.Equal(t, 0.1, md.DefaultStepSize)
	assert.Equal(t, 1.0, md.StopTime)

	mode, ok := md.Enum("Mode")
	require.True(t, ok)
	assert.Len(t, mode.Items, 3)
	v, ok := mode.ValueOf("Cool")
	assert.True(t, ok)
	assert.Equal(t, int64(2), v)

	// AND variables carry kind, causality and unit
	raw, ok := md.Variable("raw")
	require.True(t, ok)
	assert.Equal(t, types.KindFloat64, raw.Kind)
	assert.Equal(t, CausalityOutput, raw.Causality)
	assert.Equal(t, transform.Unit{Factor: 2, Offset: 10}, md.UnitOf(raw))

	setpoint, _ := md.Variable("setpoint")
	assert.Equal(t, transform.Unit{Factor: 1, Offset: 273.15}, md.UnitOf(setpoint), "unit comes from the declared type")

	modeVar, _ := md.Variable("mode")
	assert.Equal(t, types.KindEnum, modeVar.Kind)
	assert.Equal(t, "Mode", modeVar.DeclaredType)

	tick, _ := md.Variable("call.tick")
	assert.Equal(t, types.KindClock, tick.Kind)

	blob, _ := md.Variable("blob")
	assert.Equal(t, "0a0b0c", blob.Start)

	byRef, ok := md.ByReference(17)
	require.True(t, ok)
	assert.Equal(t, "label", byRef.Name)
}

func TestShape_FixedAndStructural(t *testing.T) {
	md, err := LoadModelDescription(testutil.ModelPath(t, "thermal"))
	require.NoError(t, err)

	grid, _ := md.Variable("grid")
	shape, err := md.Shape(grid)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, shape)
	assert.Equal(t, 6, ElementCount(shape))

	profile, _ := md.Variable("profile")
	shape, err = md.Shape(profile)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, shape, "size comes from structural parameter n")

	raw, _ := md.Variable("raw")
	shape, err = md.Shape(raw)
	require.NoError(t, err)
	assert.Empty(t, shape)
	assert.Equal(t, 1, ElementCount(shape))
}

func TestLoadModelDescription_FMI2(t *testing.T) {
	md, err := LoadModelDescription(testutil.ModelPath(t, "legacy"))
	require.NoError(t, err)

	assert.Equal(t, 2, md.MajorVersion())
	assert.Equal(t, 4, md.EnumWidth())
	assert.Equal(t, "{8c4e810f-3df3-4a00-8276-176fa3c9f000}", md.InstantiationToken)

	kinds := map[string]types.Kind{
		"speed": types.KindFloat64,
		"gear":  types.KindEnum,
		"count": types.KindInt32,
		"on":    types.KindBool,
	}
	for name, want := range kinds {
		v, ok := md.Variable(name)
		require.True(t, ok, name)
		assert.Equal(t, want, v.Kind, name)
	}

	odo, _ := md.Variable("odo")
	assert.Equal(t, transform.Unit{Factor: 1000}, md.UnitOf(odo))

	gear, ok := md.Enum("Gear")
	require.True(t, ok)
	assert.Equal(t, []types.EnumItem{{Name: "P", Value: 1}, {Name: "D", Value: 2}}, gear.Items)
}

func TestParseModelDescription_Errors(t *testing.T) {
	tests := []struct {
		name string
		xml  string
		want string
	}{
		{"wrong root", `<model/>`, "unexpected root element"},
		{"no version", `<fmiModelDescription modelName="m"/>`, "fmiVersion"},
		{"bad causality", `<fmiModelDescription fmiVersion="3.0"><ModelVariables><Float64 name="x" valueReference="1" causality="sideways"/></ModelVariables></fmiModelDescription>`, "unknown causality"},
		{"duplicate name", `<fmiModelDescription fmiVersion="3.0"><ModelVariables><Float64 name="x" valueReference="1"/><Float64 name="x" valueReference="2"/></ModelVariables></fmiModelDescription>`, "declared twice"},
		{"bad dimension", `<fmiModelDescription fmiVersion="3.0"><ModelVariables><Float64 name="x" valueReference="1"><Dimension/></Float64></ModelVariables></fmiModelDescription>`, "exactly one of"},
		{"unsupported element", `<fmiModelDescription fmiVersion="3.0"><ModelVariables><Quaternion name="q" valueReference="1"/></ModelVariables></fmiModelDescription>`, "unsupported variable element"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseModelDescription(strings.NewReader(tt.xml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseModelDescription_ZeroUnitFactor(t *testing.T) {
	// GIVEN a unit whose base unit factor is zero
	xml := `<fmiModelDescription fmiVersion="3.0"><UnitDefinitions><Unit name="broken"><BaseUnit factor="0" offset="1"/></Unit></UnitDefinitions><ModelVariables><Float64 name="x" valueReference="1" unit="broken"/></ModelVariables></fmiModelDescription>`

	// WHEN the model description is parsed
	_, err := ParseModelDescription(strings.NewReader(xml))

	// THEN it is rejected as a configuration error naming the unit
	require.Error(t, err)
	assert.True(t, bridgeerrors.IsClass(err, bridgeerrors.ClassConfiguration))
	assert.ErrorIs(t, err, bridgeerrors.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "broken")
}

func TestCausality_StringRoundTrip(t *testing.T) {
	for _, name := range []string{"local", "input", "output", "parameter", "calculatedParameter", "structuralParameter", "independent"} {
		c, err := ParseCausality(name)
		require.NoError(t, err)
		assert.Equal(t, name, c.String())
	}
	assert.Equal(t, "Causality(42)", Causality(42).String())
}
