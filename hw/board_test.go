package hw

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"

	"i4.energy/across/fieldctl/irrigation"
	"i4.energy/across/fieldctl/tick"
)

// fakePin implements the subset of gpio.PinIO the board uses. Other
// methods panic through the nil embedded interface.
type fakePin struct {
	gpio.PinIO
	name  string
	mu    sync.Mutex
	level gpio.Level
	edge  gpio.Edge
	edges chan gpio.Level
}

func newFakePin(name string) *fakePin {
	return &fakePin{name: name, edges: make(chan gpio.Level, 4)}
}

func (p *fakePin) String() string { return p.name }
func (p *fakePin) Name() string   { return p.name }

func (p *fakePin) In(_ gpio.Pull, edge gpio.Edge) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edge = edge
	return nil
}

func (p *fakePin) Out(l gpio.Level) error {
	p.set(l)
	return nil
}

func (p *fakePin) Read() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *fakePin) WaitForEdge(timeout time.Duration) bool {
	select {
	case l := <-p.edges:
		p.set(l)
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *fakePin) set(l gpio.Level) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = l
}

type fakeADC struct {
	analog.PinADC
	raw int32
}

func (a *fakeADC) Read() (analog.Sample, error) {
	return analog.Sample{Raw: a.raw}, nil
}

type testBoard struct {
	*Board
	motor    *fakePin
	valves   [irrigation.FieldCount]*fakePin
	filters  [FilterCount]*fakePin
	fert     *fakePin
	phases   [3]*fakePin
	battery  *fakePin
	moisture *fakePin
}

func newTestBoard(t *testing.T, current analog.PinADC) *testBoard {
	t.Helper()
	tb := &testBoard{
		motor:    newFakePin("motor"),
		fert:     newFakePin("fertigation"),
		battery:  newFakePin("battery"),
		moisture: newFakePin("moisture1"),
	}
	pins := Pins{
		Motor:       tb.motor,
		Fertigation: tb.fert,
		RTCBattery:  tb.battery,
		Current:     current,
	}
	pins.Moisture[0] = tb.moisture
	for i := range tb.valves {
		tb.valves[i] = newFakePin("valve")
		pins.Valves[i] = tb.valves[i]
	}
	for i := range tb.filters {
		tb.filters[i] = newFakePin("filter")
		pins.Filters[i] = tb.filters[i]
	}
	for i := range tb.phases {
		tb.phases[i] = newFakePin("phase")
		pins.Phases[i] = tb.phases[i]
	}
	// Outputs start energized to check that NewBoard clears them.
	tb.motor.set(gpio.High)
	tb.valves[3].set(gpio.High)

	b, err := NewBoard(BoardConfig{Pins: pins, ProbeTick: time.Millisecond, ProbeWindow: 5})
	require.NoError(t, err)
	tb.Board = b
	return tb
}

func TestBoardOutputs(t *testing.T) {
	tb := newTestBoard(t, nil)
	assert.Equal(t, gpio.Low, tb.motor.Read())
	assert.Equal(t, gpio.Low, tb.valves[3].Read())
	assert.Equal(t, gpio.BothEdges, tb.moisture.edge)

	require.NoError(t, tb.SetMotor(true))
	require.NoError(t, tb.SetValve(2, true))
	require.NoError(t, tb.SetFiltration(3, true))
	require.NoError(t, tb.SetFertigation(true))
	require.NoError(t, tb.SetInjector(1, true))

	assert.Equal(t, gpio.High, tb.motor.Read())
	assert.Equal(t, gpio.High, tb.valves[1].Read())
	assert.Equal(t, gpio.High, tb.filters[2].Read())
	assert.Equal(t, gpio.High, tb.fert.Read())
	assert.Equal(t, gpio.High, tb.valves[8].Read(), "injector 1 shares field 9")

	assert.ErrorIs(t, tb.SetValve(0, true), ErrOutOfRange)
	assert.ErrorIs(t, tb.SetValve(13, true), ErrOutOfRange)
	assert.ErrorIs(t, tb.SetFiltration(4, true), ErrOutOfRange)
	assert.ErrorIs(t, tb.SetInjector(5, true), ErrOutOfRange)

	require.NoError(t, tb.Off())
	assert.Equal(t, gpio.Low, tb.valves[8].Read())
	assert.Equal(t, gpio.Low, tb.filters[2].Read())
}

func TestBoardPhaseEdges(t *testing.T) {
	tb := newTestBoard(t, nil)
	assert.True(t, tb.PhasesPresent())

	ticks := tick.NewManual()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tb.Run(ctx, ticks) }()
	defer func() {
		cancel()
		<-done
	}()

	ticks.Fire()
	select {
	case <-tb.PhaseEdges():
		t.Fatal("edge without a change")
	default:
	}

	tb.phases[1].set(gpio.High)
	ticks.Fire()
	select {
	case <-tb.PhaseEdges():
	case <-time.After(time.Second):
		t.Fatal("no edge after phase loss")
	}
	assert.False(t, tb.PhasesPresent())
}

func TestBoardRTCBattery(t *testing.T) {
	tb := newTestBoard(t, nil)
	assert.False(t, tb.RTCBatteryLow())
	tb.battery.set(gpio.High)
	assert.True(t, tb.RTCBatteryLow())
}

func TestBoardMoisture(t *testing.T) {
	tb := newTestBoard(t, nil)
	ctx := context.Background()

	tb.moisture.edges <- gpio.High
	tb.moisture.edges <- gpio.Low
	_, err := tb.Moisture(ctx, 1)
	require.NoError(t, err)

	_, err = tb.Moisture(ctx, 1)
	assert.ErrorIs(t, err, irrigation.ErrSensorFailure, "no pulse within the window")

	_, err = tb.Moisture(ctx, 2)
	assert.ErrorIs(t, err, ErrNoProbe)
	assert.NotErrorIs(t, err, irrigation.ErrSensorFailure)
}

func TestBoardMotorCurrent(t *testing.T) {
	tb := newTestBoard(t, nil)
	_, err := tb.MotorCurrent(context.Background())
	assert.ErrorIs(t, err, ErrNoCurrentSensor)

	tb = newTestBoard(t, &fakeADC{raw: 712})
	current, err := tb.MotorCurrent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(712), current)

	tb = newTestBoard(t, &fakeADC{raw: -4})
	current, err = tb.MotorCurrent(context.Background())
	require.NoError(t, err)
	assert.Zero(t, current)
}

func TestSim(t *testing.T) {
	s := NewSim(480)
	ctx := context.Background()

	current, err := s.MotorCurrent(ctx)
	require.NoError(t, err)
	assert.Zero(t, current, "stopped motor draws nothing")

	require.NoError(t, s.SetMotor(true))
	require.NoError(t, s.SetInjector(4, true))
	current, err = s.MotorCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(480), current)
	assert.True(t, s.State().Valves[11])

	s.SetMoisture(5, 640)
	level, err := s.Moisture(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, uint32(640), level)

	s.FailProbe(true)
	_, err = s.Moisture(ctx, 5)
	assert.ErrorIs(t, err, irrigation.ErrSensorFailure)

	s.SetPhases(true)
	select {
	case <-s.PhaseEdges():
		t.Fatal("edge without a change")
	default:
	}
	s.SetPhases(false)
	<-s.PhaseEdges()
	assert.False(t, s.PhasesPresent())
}
