package irrigation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i4.energy/across/fieldctl/tick"
)

type timersRig struct {
	timers  *Timers
	outputs *fakeOutputs
	ticks   *tick.Manual
	cancel  context.CancelFunc
	done    chan error
}

func newTimersRig(t *testing.T) *timersRig {
	t.Helper()
	r := &timersRig{
		outputs: &fakeOutputs{},
		ticks:   tick.NewManual(),
		done:    make(chan error, 1),
	}
	r.timers = NewTimers(r.outputs, r.ticks, nil)

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go func() { r.done <- r.timers.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-r.done
	})
	return r
}

// step fires one tick and returns its event.
func (r *timersRig) step(t *testing.T) TimerEvent {
	t.Helper()
	require.True(t, r.ticks.Fire())
	select {
	case ev := <-r.timers.Events():
		return ev
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no timer event")
		return TimerEvent{}
	}
}

func TestTimersCountdown(t *testing.T) {
	r := newTimersRig(t)
	ctx := context.Background()

	require.NoError(t, r.timers.Arm(ctx, 3))
	assert.Equal(t, 3, r.timers.Status().Countdown)
	assert.True(t, r.timers.Status().Armed)

	assert.False(t, r.step(t).Expired)
	assert.False(t, r.step(t).Expired)
	assert.True(t, r.step(t).Expired)
	assert.False(t, r.step(t).Expired, "expires once")

	require.NoError(t, r.timers.Arm(ctx, 0))
	assert.True(t, r.step(t).Expired, "zero expires on the next tick")

	require.NoError(t, r.timers.Arm(ctx, 2))
	require.NoError(t, r.timers.Disarm(ctx))
	assert.False(t, r.step(t).Expired)
	assert.False(t, r.step(t).Expired)
}

func TestTimersMergeUnreadEvents(t *testing.T) {
	r := newTimersRig(t)
	require.NoError(t, r.timers.Arm(context.Background(), 1))

	r.ticks.FireN(3)
	require.Eventually(t, func() bool { return r.timers.Status().Ticks == 3 }, time.Second, time.Millisecond)

	ev := <-r.timers.Events()
	assert.True(t, ev.Expired, "expiry survives the merge")
	select {
	case ev := <-r.timers.Events():
		t.Fatalf("unexpected second event %+v", ev)
	default:
	}
}

func TestTimersArmDropsUnreadExpiry(t *testing.T) {
	r := newTimersRig(t)
	ctx := context.Background()
	require.NoError(t, r.timers.Arm(ctx, 1))

	r.ticks.Fire()
	require.Eventually(t, func() bool { return r.timers.Status().Ticks == 1 }, time.Second, time.Millisecond)
	require.NoError(t, r.timers.Arm(ctx, 2))

	ev := <-r.timers.Events()
	assert.False(t, ev.Expired, "expiry of the replaced countdown")
	assert.False(t, r.step(t).Expired)
	assert.True(t, r.step(t).Expired)

	r.ticks.Fire()
	require.Eventually(t, func() bool { return r.timers.Status().Ticks == 4 }, time.Second, time.Millisecond)
	require.NoError(t, r.timers.Arm(ctx, 0))
	require.NoError(t, r.timers.Disarm(ctx))
	select {
	case ev := <-r.timers.Events():
		assert.False(t, ev.Expired)
	default:
	}
}

func TestTimersMotorTicks(t *testing.T) {
	r := newTimersRig(t)
	require.NoError(t, r.timers.Motor(context.Background(), true))

	var counts []int
	for range 5 {
		counts = append(counts, r.step(t).MotorTicks)
	}
	assert.Equal(t, []int{1, 2, 3, 3, 3}, counts)

	require.NoError(t, r.timers.Motor(context.Background(), false))
	assert.Zero(t, r.step(t).MotorTicks)
}

func TestTimersFertigation(t *testing.T) {
	r := newTimersRig(t)
	ctx := context.Background()

	injectors := [InjectorCount]InjectorConfig{{OnPeriod: 1, OffPeriod: 1, Cycles: 2}}
	require.NoError(t, r.timers.Configure(ctx, FiltrationConfig{}, injectors, true))
	require.NoError(t, r.timers.Motor(ctx, true))
	require.NoError(t, r.timers.StartFertigation(ctx, Fertigation{Enabled: true, Delay: 2, OnPeriod: 4}))

	expected := []struct {
		fertigation bool
		injector    bool
	}{
		{false, false},
		{true, true},
		{true, false},
		{true, true},
		{true, false},
		{false, false},
	}
	for i, want := range expected {
		r.step(t)
		s := r.outputs.snapshot()
		assert.Equal(t, want.fertigation, s.fertigation, "fertigation after tick %d", i+1)
		assert.Equal(t, want.injector, s.injectors[1], "injector 1 after tick %d", i+1)
		assert.False(t, s.injectors[2], "unconfigured injector after tick %d", i+1)
	}
	assert.False(t, r.timers.Status().Fertigation)
}

func TestTimersInjectorsDisabled(t *testing.T) {
	r := newTimersRig(t)
	ctx := context.Background()

	injectors := [InjectorCount]InjectorConfig{{OnPeriod: 5, OffPeriod: 5, Cycles: 2}}
	require.NoError(t, r.timers.Configure(ctx, FiltrationConfig{}, injectors, false))
	require.NoError(t, r.timers.Motor(ctx, true))
	require.NoError(t, r.timers.StartFertigation(ctx, Fertigation{Enabled: true, OnPeriod: 3}))

	assert.True(t, r.outputs.snapshot().fertigation, "zero delay doses at once")
	r.step(t)
	assert.False(t, r.outputs.snapshot().injectors[1], "shared outputs stay with the valves")

	require.NoError(t, r.timers.Motor(ctx, false))
	assert.False(t, r.outputs.snapshot().fertigation, "motor stop ends dosing")
}

func TestTimersFiltration(t *testing.T) {
	r := newTimersRig(t)
	ctx := context.Background()

	cfg := FiltrationConfig{Enabled: true, Delay1: 1, Delay2: 1, Delay3: 7, OnTime: 1, Separation: 2}
	require.NoError(t, r.timers.Configure(ctx, cfg, [InjectorCount]InjectorConfig{}, true))

	r.step(t)
	assert.Equal(t, "disabled", r.timers.Status().Filtration, "filtration waits for the motor")

	require.NoError(t, r.timers.Motor(ctx, true))
	expected := []int{1, 0, 2, 0, 3, 0, 0, 0, 1}
	for i, filter := range expected {
		r.step(t)
		s := r.outputs.snapshot()
		for f := 1; f <= 3; f++ {
			assert.Equal(t, f == filter, s.filters[f], "filter %d after tick %d", f, i+1)
		}
	}

	require.NoError(t, r.timers.Motor(ctx, false))
	assert.Equal(t, [4]bool{}, r.outputs.snapshot().filters)
	assert.Equal(t, "disabled", r.timers.Status().Filtration)
}

func TestTimersStop(t *testing.T) {
	r := newTimersRig(t)
	ctx := context.Background()

	require.NoError(t, r.timers.Motor(ctx, true))
	require.NoError(t, r.timers.StartFertigation(ctx, Fertigation{Enabled: true, OnPeriod: 10}))
	require.True(t, r.outputs.snapshot().fertigation)

	r.cancel()
	assert.ErrorIs(t, <-r.done, context.Canceled)
	r.done <- nil

	assert.False(t, r.outputs.snapshot().fertigation)
	assert.ErrorIs(t, r.timers.Arm(ctx, 1), ErrEngineStopped)
}
