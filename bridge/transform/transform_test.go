package transform

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

func TestEffective_Reverse_InvertsParameters(t *testing.T) {
	// GIVEN factor=2, offset=1 with reverse transform
	tr := New(ptr(2), ptr(1), true, "")

	// WHEN the effective parameters are computed
	f, o := tr.Effective()

	// THEN they are the inverse map
	assert.Equal(t, 0.5, f)
	assert.Equal(t, -0.5, o)
}

func TestApplyInvert_InverseLaw(t *testing.T) {
	for _, tr := range []*Transformation{
		New(ptr(2), ptr(1), true, ""),
		New(ptr(2), ptr(1), false, ""),
		New(ptr(-0.1), nil, false, ""),
		New(nil, ptr(273.15), false, ""),
		nil,
	} {
		for _, v := range []float64{0, -1, 1e-9, 3.75, 1e12, -273.15} {
			assert.InDelta(t, v, tr.Invert(tr.Apply(v)), 1e-9*math.Max(1, math.Abs(v)))
		}
	}
}

func TestEffective_Unset_IsIdentity(t *testing.T) {
	tr := &Transformation{}
	assert.True(t, tr.IsLinearIdentity())

	var nilTr *Transformation
	assert.True(t, nilTr.IsLinearIdentity())
	assert.Equal(t, "", nilTr.Transmission())
	assert.Equal(t, 3.0, nilTr.Apply(3))
}

func TestEffective_ConcurrentFirstUse(t *testing.T) {
	tr := New(ptr(4), ptr(2), true, "")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, o := tr.Effective()
			assert.Equal(t, 0.25, f)
			assert.Equal(t, -0.5, o)
		}()
	}
	wg.Wait()
}

func TestValidate(t *testing.T) {
	assert.NoError(t, New(ptr(2), ptr(1), true, "").Validate())
	assert.Error(t, New(ptr(0), nil, true, "").Validate())
	assert.Error(t, New(ptr(math.Inf(1)), nil, false, "").Validate())
	assert.Error(t, New(nil, ptr(math.NaN()), false, "").Validate())
}

func TestUnit_ToBusFromBus(t *testing.T) {
	u := Unit{Factor: 2, Offset: 10}

	assert.Equal(t, 5.0, u.ToBus(20))
	assert.Equal(t, 20.0, u.FromBus(5))
	assert.True(t, Identity.IsIdentity())
	assert.False(t, u.IsIdentity())
}

func TestUnit_Validate(t *testing.T) {
	assert.NoError(t, Identity.Validate())
	assert.NoError(t, Unit{Factor: -0.5, Offset: 273.15}.Validate())
	assert.Error(t, Unit{Factor: 0}.Validate())
	assert.Error(t, Unit{Factor: math.NaN()}.Validate())
	assert.Error(t, Unit{Factor: 1, Offset: math.Inf(-1)}.Validate())
}
