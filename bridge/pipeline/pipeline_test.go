package pipeline

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
	"github.com/fmubridge/fmubridge/bridge/fmi"
	"github.com/fmubridge/fmubridge/bridge/fmi/loopback"
	"github.com/fmubridge/fmubridge/bridge/internal/testutil"
	"github.com/fmubridge/fmubridge/bridge/transform"
	"github.com/fmubridge/fmubridge/bridge/types"
	"github.com/fmubridge/fmubridge/bridge/wire"
)

func ptr(v float64) *float64 { return &v }

type fixture struct {
	md     *fmi.ModelDescription
	inst   *loopback.Instance
	layout *Layout
	p      *Pipeline
}

func newFixture(t *testing.T, model string, opts Options) *fixture {
	t.Helper()
	md, err := fmi.LoadModelDescription(testutil.ModelPath(t, model))
	require.NoError(t, err)
	inst, err := loopback.New(md)
	require.NoError(t, err)
	layout, err := Configure(md, opts)
	require.NoError(t, err)
	return &fixture{md: md, inst: inst, layout: layout, p: New(layout, fmi.NewBinding(inst))}
}

// value reads the native values of a variable straight from the instance.
func (f *fixture) value(t *testing.T, name string) []any {
	t.Helper()
	v, ok := f.md.Variable(name)
	require.True(t, ok, name)
	nv, s := f.inst.GetValues([]fmi.ValueReference{v.ValueReference}, v.Kind)
	require.Equal(t, fmi.StatusOK, s)
	out, err := nv.Unpack()
	require.NoError(t, err)
	return out
}

func encode(t *testing.T, d *types.Descriptor, v any) []byte {
	t.Helper()
	w := wire.NewWriter(0)
	require.NoError(t, wire.Encode(w, d, v))
	return w.Bytes()
}

func decode(t *testing.T, d *types.Descriptor, payload []byte) any {
	t.Helper()
	r := wire.NewReader(payload)
	v, err := wire.Decode(r, d)
	require.NoError(t, err)
	assert.Zero(t, r.Remaining())
	return v
}

func topicNames(topics []*Topic) []string {
	var names []string
	for _, t := range topics {
		names = append(names, t.Name)
	}
	return names
}

func TestConfigure_Topics(t *testing.T) {
	f := newFixture(t, "thermal", Options{})

	assert.ElementsMatch(t,
		[]string{"raw", "echo", "modeOut", "profile", "grid", "blob", "label", "canTx", "pose", "call", "resp"},
		topicNames(f.layout.Publications))
	assert.ElementsMatch(t,
		[]string{"setpoint", "mode", "profileIn", "canRx", "cmd", "reply", "req"},
		topicNames(f.layout.Subscriptions))

	pose, ok := f.layout.Publication("pose")
	require.True(t, ok)
	assert.Equal(t, "pose", pose.Type.String())
	require.Len(t, pose.Type.Struct.Members, 3)
	assert.Equal(t, "id", pose.Type.Struct.Members[2].Name)
	assert.Equal(t, types.KindInt32, pose.Type.Struct.Members[2].Type.Kind)

	mode, ok := f.layout.Subscription("mode")
	require.True(t, ok)
	assert.Equal(t, "Mode", mode.Type.String())
	require.NotNil(t, mode.Type.Enum)

	grid, _ := f.layout.Publication("grid")
	assert.Equal(t, "List<List<Float64>>", grid.Type.String())

	call, _ := f.layout.Publication("call")
	require.Len(t, call.Clocks, 1)
	assert.Equal(t, "call.tick", call.Clocks[0].Name())
}

func TestConfigure_Reserved(t *testing.T) {
	f := newFixture(t, "thermal", Options{Reserved: []string{"canTx", "canRx", "call", "reply", "req", "resp"}})

	assert.NotContains(t, topicNames(f.layout.Publications), "call")
	assert.NotContains(t, topicNames(f.layout.Subscriptions), "canRx")
	_, ok := f.layout.Structure("call")
	assert.True(t, ok)
	_, ok = f.layout.Variable("canRx")
	assert.True(t, ok)
}

func TestConfigure_Overrides(t *testing.T) {
	f := newFixture(t, "thermal", Options{
		Variables: []VariableOverride{
			{Name: "echo", Topic: "temperature", Type: "Float32?"},
			{Name: "label", Skip: true},
		},
		Structures: []StructureOverride{{Name: "pose", Topic: "vehicle/pose"}},
	})

	temp, ok := f.layout.Publication("temperature")
	require.True(t, ok)
	assert.Equal(t, "Float32?", temp.Type.String())
	_, ok = f.layout.Publication("label")
	assert.False(t, ok)
	_, ok = f.layout.Publication("vehicle/pose")
	assert.True(t, ok)
}

func TestConfigure_Errors(t *testing.T) {
	md, err := fmi.LoadModelDescription(testutil.ModelPath(t, "thermal"))
	require.NoError(t, err)

	tests := []struct {
		name string
		opts Options
		want error
	}{
		{"unknown variable", Options{Variables: []VariableOverride{{Name: "nope"}}}, bridgeerrors.ErrInvalidConfig},
		{"configured twice", Options{Variables: []VariableOverride{{Name: "raw"}, {Name: "raw"}}}, bridgeerrors.ErrDuplicateName},
		{"list depth mismatch", Options{Variables: []VariableOverride{{Name: "profile", Type: "Double"}}}, bridgeerrors.ErrInvalidConfig},
		{"unresolved type", Options{Variables: []VariableOverride{{Name: "raw", Type: "Speed"}}}, bridgeerrors.ErrUnresolvedType},
		{"transform on string", Options{Variables: []VariableOverride{{Name: "label", Transform: transform.New(ptr(2), nil, false, "")}}}, bridgeerrors.ErrInvalidConfig},
		{"zero factor", Options{Variables: []VariableOverride{{Name: "raw", Transform: transform.New(ptr(0), nil, false, "")}}}, bridgeerrors.ErrInvalidConfig},
		{"topic on member", Options{Variables: []VariableOverride{{Name: "pose.x", Topic: "x"}}}, bridgeerrors.ErrInvalidConfig},
		{"structure without variables", Options{Structures: []StructureOverride{{Name: "ghost"}}}, bridgeerrors.ErrInvalidConfig},
		{"duplicate topic", Options{Variables: []VariableOverride{{Name: "echo", Topic: "raw"}}}, bridgeerrors.ErrDuplicateName},
		{"parameter not exchanged", Options{Variables: []VariableOverride{{Name: "n", Topic: "n"}}}, bridgeerrors.ErrInvalidConfig},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Configure(md, tc.opts)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, bridgeerrors.IsClass(err, bridgeerrors.ClassConfiguration), "%v", err)
		})
	}
}

func TestExport_UnitAndTransformation(t *testing.T) {
	// GIVEN raw = 20 in a unit with factor 2 and offset 10, and a
	// transformation with factor 0.5
	f := newFixture(t, "thermal", Options{Variables: []VariableOverride{
		{Name: "raw", Transform: transform.New(ptr(0.5), nil, false, "")},
	}})
	topic, _ := f.layout.Publication("raw")

	// WHEN the topic is exported
	payload, err := f.p.Export(topic)

	// THEN the bus sees (20 - 10) / 2 * 0.5
	require.NoError(t, err)
	testutil.AssertFloat64Equal(t, "raw", 2.5, decode(t, topic.Type, payload).(float64), 1e-12)
}

func TestExport_TransmissionType(t *testing.T) {
	f := newFixture(t, "thermal", Options{Variables: []VariableOverride{
		{Name: "raw", Transform: transform.New(nil, nil, false, "Float32")},
	}})
	topic, _ := f.layout.Publication("raw")
	assert.Equal(t, "Float32", topic.Type.String())

	payload, err := f.p.Export(topic)
	require.NoError(t, err)
	assert.Len(t, payload, 4)
	assert.Equal(t, float32(5), decode(t, topic.Type, payload))
}

func TestImport_UnitAndReverseTransformation(t *testing.T) {
	// GIVEN setpoint in degC (offset 273.15) with a reversed factor-2 transformation
	f := newFixture(t, "thermal", Options{Variables: []VariableOverride{
		{Name: "setpoint", Transform: transform.New(ptr(2), nil, true, "")},
	}})
	topic, _ := f.layout.Subscription("setpoint")

	// WHEN 10 arrives
	require.NoError(t, f.p.Import(topic, encode(t, topic.Type, 10.0)))

	// THEN the FMU holds 10 / 2 + 273.15
	testutil.AssertFloat64Equal(t, "setpoint", 278.15, f.value(t, "setpoint")[0].(float64), 1e-12)
}

func TestExportImport_Structures(t *testing.T) {
	f := newFixture(t, "thermal", Options{})

	// GIVEN pose = {1.5, -2, 7}
	pose, _ := f.layout.Publication("pose")
	payload, err := f.p.Export(pose)
	require.NoError(t, err)

	// THEN the members are encoded back to back in model order
	w := wire.NewWriter(0)
	w.WriteFloat64(1.5)
	w.WriteFloat64(-2)
	w.WriteInt32(7)
	assert.Equal(t, w.Bytes(), payload)

	// WHEN the same bytes arrive for cmd, which has the same shape
	cmd, _ := f.layout.Subscription("cmd")
	require.NoError(t, f.p.Import(cmd, payload))

	// THEN every cmd member is written
	assert.Equal(t, []any{1.5}, f.value(t, "cmd.x"))
	assert.Equal(t, []any{-2.0}, f.value(t, "cmd.y"))
	assert.Equal(t, []any{int32(7)}, f.value(t, "cmd.id"))
}

func TestExport_DeclaredStruct(t *testing.T) {
	reg := types.NewRegistry()
	require.NoError(t, reg.AddStruct(&types.StructDefinition{Name: "Pose", Members: []types.Member{
		{Name: "id", Type: types.MustParse("Int64")},
		{Name: "x", Type: types.MustParse("Double")},
		{Name: "y", Type: types.MustParse("Double?")},
	}}, "types.structs[0]"))
	f := newFixture(t, "thermal", Options{
		Registry:   reg,
		Structures: []StructureOverride{{Name: "pose", Type: "Pose"}},
	})
	pose, _ := f.layout.Publication("pose")
	assert.Equal(t, "Pose", pose.Type.String())

	payload, err := f.p.Export(pose)
	require.NoError(t, err)

	w := wire.NewWriter(0)
	w.WriteInt64(7)
	w.WriteFloat64(1.5)
	w.WriteOptional(true)
	w.WriteFloat64(-2)
	assert.Equal(t, w.Bytes(), payload)
}

func TestImport_ClockedStructureTicks(t *testing.T) {
	f := newFixture(t, "thermal", Options{})
	reply, _ := f.layout.Subscription("reply")

	require.NoError(t, f.p.Import(reply, encode(t, reply.Type, wire.Record{"sum": 5.0})))

	assert.Equal(t, []any{5.0}, f.value(t, "reply.sum"))
	assert.Equal(t, []any{true}, f.value(t, "reply.tick"))
}

func TestActive_FollowsClock(t *testing.T) {
	f := newFixture(t, "thermal", Options{})
	call, _ := f.layout.Publication("call")
	raw, _ := f.layout.Publication("raw")

	on, err := f.p.Active(call)
	require.NoError(t, err)
	assert.False(t, on)
	on, err = f.p.Active(raw)
	require.NoError(t, err)
	assert.True(t, on, "topics without clocks are always active")

	tick, _ := f.md.Variable("call.tick")
	nv, err := fmi.Pack(types.KindClock, 8, true)
	require.NoError(t, err)
	require.Equal(t, fmi.StatusOK, f.inst.SetValues(tick.ValueReference, types.KindClock, nv))

	on, err = f.p.Active(call)
	require.NoError(t, err)
	assert.True(t, on)
}

func TestExportImport_Arrays(t *testing.T) {
	f := newFixture(t, "thermal", Options{})

	grid, _ := f.layout.Publication("grid")
	payload, err := f.p.Export(grid)
	require.NoError(t, err)
	want := encode(t, grid.Type, []any{[]any{1.0, 2.0, 3.0}, []any{4.0, 5.0, 6.0}})
	assert.Equal(t, want, payload)

	profile, _ := f.layout.Publication("profile")
	payload, err = f.p.Export(profile)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0, 3.0}, decode(t, profile.Type, payload))

	in, _ := f.layout.Subscription("profileIn")
	require.NoError(t, f.p.Import(in, payload))
	assert.Equal(t, []any{1.0, 2.0, 3.0}, f.value(t, "profileIn"))

	err = f.p.Import(in, encode(t, in.Type, []any{1.0, 2.0}))
	assert.ErrorIs(t, err, bridgeerrors.ErrShape)
}

func TestImport_AbsentElementsKeepValue(t *testing.T) {
	f := newFixture(t, "thermal", Options{Variables: []VariableOverride{
		{Name: "profileIn", Type: "List<Double?>"},
	}})
	in, _ := f.layout.Subscription("profileIn")
	require.NoError(t, f.p.Import(in, encode(t, in.Type, []any{1.0, 2.0, 3.0})))

	require.NoError(t, f.p.Import(in, encode(t, in.Type, []any{nil, 9.0, nil})))

	assert.Equal(t, []any{1.0, 9.0, 3.0}, f.value(t, "profileIn"))
}

func TestImport_AbsentOptionalLeavesFMU(t *testing.T) {
	f := newFixture(t, "thermal", Options{Variables: []VariableOverride{
		{Name: "setpoint", Type: "Double?"},
	}})
	in, _ := f.layout.Subscription("setpoint")
	require.NoError(t, f.p.Import(in, encode(t, in.Type, 1.0)))

	require.NoError(t, f.p.Import(in, []byte{0}))

	testutil.AssertFloat64Equal(t, "setpoint", 274.15, f.value(t, "setpoint")[0].(float64), 1e-12)
}

func TestImport_TrailingBytes(t *testing.T) {
	f := newFixture(t, "thermal", Options{})
	in, _ := f.layout.Subscription("setpoint")

	err := f.p.Import(in, append(encode(t, in.Type, 1.0), 0))

	assert.ErrorIs(t, err, bridgeerrors.ErrShape)
}

func TestExportImport_BinaryStringEnum(t *testing.T) {
	f := newFixture(t, "thermal", Options{})

	blob, _ := f.layout.Publication("blob")
	payload, err := f.p.Export(blob)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0a, 0x0b, 0x0c}, decode(t, blob.Type, payload))

	label, _ := f.layout.Publication("label")
	payload, err = f.p.Export(label)
	require.NoError(t, err)
	assert.Equal(t, "hello", decode(t, label.Type, payload))

	modeOut, _ := f.layout.Publication("modeOut")
	payload, err = f.p.Export(modeOut)
	require.NoError(t, err)
	assert.Equal(t, int64(2), decode(t, modeOut.Type, payload))

	mode, _ := f.layout.Subscription("mode")
	require.NoError(t, f.p.Import(mode, payload))
	assert.Equal(t, []any{int64(2)}, f.value(t, "mode"))
}

func TestImport_EnumRange(t *testing.T) {
	// GIVEN an FMI 2 model, whose enumerations are 32 bits wide
	f := newFixture(t, "legacy", Options{})
	gear, ok := f.layout.Subscription("gear")
	require.True(t, ok)
	assert.Equal(t, "Gear", gear.Type.String())

	// WHEN a value beyond 32 bits arrives
	err := f.p.Import(gear, encode(t, gear.Type, int64(1)<<40))

	// THEN it is rejected
	assert.ErrorIs(t, err, bridgeerrors.ErrEnumRange)
}

func TestImport_FMI2BooleanWidth(t *testing.T) {
	// GIVEN an FMI 2 boolean input that starts true
	f := newFixture(t, "legacy", Options{})
	on, ok := f.layout.Subscription("on")
	require.True(t, ok)
	assert.Equal(t, []any{true}, f.value(t, "on"))

	// WHEN false arrives from the bus
	require.NoError(t, f.p.Import(on, encode(t, on.Type, false)))

	// THEN the FMU holds a single fmi2Boolean of four bytes
	v, _ := f.md.Variable("on")
	nv, s := f.inst.GetValues([]fmi.ValueReference{v.ValueReference}, v.Kind)
	require.Equal(t, fmi.StatusOK, s)
	assert.Len(t, nv.Data, 4)
	assert.Equal(t, []any{false}, f.value(t, "on"))
}

func TestBinaryAccess(t *testing.T) {
	f := newFixture(t, "thermal", Options{})
	rx, _ := f.layout.Variable("canRx")

	require.NoError(t, f.p.WriteBinary(rx, []byte{1, 2, 3}))
	got, err := f.p.ReadBinary(rx)

	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestWriteReport(t *testing.T) {
	f := newFixture(t, "thermal", Options{Variables: []VariableOverride{{Name: "echo", Topic: "temperature"}}})
	var buf bytes.Buffer

	require.NoError(t, f.layout.WriteReport(&buf))

	out := buf.String()
	assert.Contains(t, out, "publications:\n")
	assert.Contains(t, out, "  pose: pose\n")
	assert.Contains(t, out, "    x: Float64 <- pose.x\n")
	assert.Contains(t, out, "  temperature: Float64\n    <- echo\n")
	assert.Contains(t, out, "  call: call (clocked by call.tick)\n")
}
