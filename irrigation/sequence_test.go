package irrigation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldList(t *testing.T) {
	l := NewFieldList(3, 1, 3, 0, 13)
	assert.Equal(t, []int{3, 1}, l.Fields())
	assert.Equal(t, 3, l.Lead())
	assert.True(t, l.Contains(1))
	assert.False(t, l.Contains(2))

	full := NewFieldList(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12)
	assert.Equal(t, FieldCount, full.Len())
	assert.False(t, full.Add(5))

	l.Clear()
	assert.Zero(t, l.Len())
	assert.Zero(t, l.Lead())
}

func TestFieldListDifference(t *testing.T) {
	prior := NewFieldList(2, 5, 9)
	active := NewFieldList(5, 7)

	assert.Equal(t, []int{2, 9}, prior.Difference(active).Fields(), "deactivated")
	assert.Equal(t, []int{7}, active.Difference(prior).Fields(), "activated")
	assert.Zero(t, active.Difference(active).Len())
}

func TestInjectorExhaustsAfterCycles(t *testing.T) {
	inj := NewInjector(InjectorConfig{OnPeriod: 2, OffPeriod: 3, Cycles: 3})
	inj.Start()
	assert.True(t, inj.On())

	var onTicks, transitions int
	was := inj.On()
	for range 100 {
		on := inj.Tick()
		if on {
			onTicks++
		}
		if on != was {
			transitions++
		}
		was = on
	}

	assert.Equal(t, InjectorExhausted, inj.Mode())
	assert.Equal(t, uint8(3), inj.Cycles())
	// The first on period starts before the first tick.
	assert.Equal(t, 3*2-1, onTicks)
	// on->off three times and off->on twice.
	assert.Equal(t, 5, transitions)
}

func TestInjectorSequence(t *testing.T) {
	inj := NewInjector(InjectorConfig{OnPeriod: 1, OffPeriod: 1, Cycles: 2})
	inj.Start()

	expected := []InjectorMode{InjectorOff, InjectorOn, InjectorOff, InjectorExhausted, InjectorExhausted}
	for i, mode := range expected {
		inj.Tick()
		assert.Equal(t, mode, inj.Mode(), "tick %d", i+1)
	}

	inj.Start()
	assert.Equal(t, InjectorOn, inj.Mode(), "restart")
	assert.Zero(t, inj.Cycles())
}

func TestInjectorZeroCycles(t *testing.T) {
	inj := NewInjector(InjectorConfig{OnPeriod: 1, OffPeriod: 1})
	inj.Start()
	assert.Equal(t, InjectorExhausted, inj.Mode())
	assert.False(t, inj.Tick())
}

func TestFiltrationSequence(t *testing.T) {
	f := NewFiltration(FiltrationConfig{
		Enabled: true, Delay1: 2, Delay2: 3, Delay3: 9, OnTime: 1, Separation: 4,
	})
	assert.Equal(t, StageDisabled, f.Stage())
	assert.False(t, f.Tick())

	f.Start()
	steps := []struct {
		ticks  int
		stage  Stage
		filter int
	}{
		{2, StageOn1, 1},
		{1, StageDelay2, 0},
		{3, StageOn2, 2},
		{1, StageDelay3, 0},
		// Delay3 runs on the Delay2 budget.
		{3, StageOn3, 3},
		{1, StageSeparation, 0},
		{4, StageDelay1, 0},
		{2, StageOn1, 1},
	}
	for _, step := range steps {
		for i := 0; i < step.ticks-1; i++ {
			assert.False(t, f.Tick(), "early change before %v", step.stage)
		}
		assert.True(t, f.Tick())
		assert.Equal(t, step.stage, f.Stage())
		assert.Equal(t, step.filter, f.Filter())
	}

	f.Stop()
	assert.Equal(t, StageDisabled, f.Stage())
}

func TestFiltrationDisabledConfig(t *testing.T) {
	f := NewFiltration(FiltrationConfig{Delay1: 1, OnTime: 1})
	f.Start()
	assert.Equal(t, StageDisabled, f.Stage())
}
