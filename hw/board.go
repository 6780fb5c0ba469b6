// Package hw connects the irrigation engine to the controller hardware.
//
// Board drives relays and reads inputs through periph.io GPIO pins. Sim is
// an in-memory board for bench runs and demos.
package hw

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"

	"i4.energy/across/fieldctl/irrigation"
	"i4.energy/across/fieldctl/tick"
	"i4.energy/across/fieldctl/watchdog"
)

// Pins holds the resolved pins. Nil entries are unconnected.
type Pins struct {
	Motor       gpio.PinOut
	Valves      [irrigation.FieldCount]gpio.PinOut
	Filters     [FilterCount]gpio.PinOut
	Fertigation gpio.PinOut
	// Phases read low while the phase is present.
	Phases [3]gpio.PinIn
	// RTCBattery reads high when the backup cell is drained.
	RTCBattery gpio.PinIn
	// Moisture probes output a pulse whose width grows with soil
	// moisture.
	Moisture [irrigation.FieldCount]gpio.PinIn
	// Current samples the motor current transformer.
	Current analog.PinADC
}

// BoardConfig configures a Board.
type BoardConfig struct {
	Pins Pins
	// ProbeTick is how long one probe wait lasts.
	ProbeTick time.Duration
	// ProbeWindow is the number of probe ticks a pulse may take before the
	// probe is declared failed.
	ProbeWindow int
	Logger      *slog.Logger
}

// Board implements irrigation.Outputs and irrigation.Sensors on GPIO pins.
type Board struct {
	pins   Pins
	logger *slog.Logger

	probeTick   time.Duration
	probeWindow int

	probe sync.Mutex
	edges chan struct{}

	mu     sync.Mutex
	phases bool
}

// NewBoard configures the input pins and switches every output off.
func NewBoard(config BoardConfig) (*Board, error) {
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.ProbeTick == 0 {
		config.ProbeTick = 10 * time.Millisecond
	}
	if config.ProbeWindow == 0 {
		config.ProbeWindow = 50
	}

	b := &Board{
		pins:        config.Pins,
		logger:      config.Logger.With("component", "board"),
		probeTick:   config.ProbeTick,
		probeWindow: config.ProbeWindow,
		edges:       make(chan struct{}, 1),
	}

	for _, p := range config.Pins.Phases {
		if err := input(p, gpio.NoEdge); err != nil {
			return nil, err
		}
	}
	if err := input(config.Pins.RTCBattery, gpio.NoEdge); err != nil {
		return nil, err
	}
	for _, p := range config.Pins.Moisture {
		if err := input(p, gpio.BothEdges); err != nil {
			return nil, err
		}
	}
	if err := b.Off(); err != nil {
		return nil, err
	}
	b.phases = b.readPhases()
	return b, nil
}

func input(p gpio.PinIn, edge gpio.Edge) error {
	if p == nil {
		return nil
	}
	if err := p.In(gpio.PullNoChange, edge); err != nil {
		return fmt.Errorf("configure %s: %w", p, err)
	}
	return nil
}

func output(p gpio.PinOut, on bool) error {
	if p == nil {
		return nil
	}
	if err := p.Out(gpio.Level(on)); err != nil {
		return fmt.Errorf("drive %s: %w", p, err)
	}
	return nil
}

// Off switches every output off.
func (b *Board) Off() error {
	outs := []gpio.PinOut{b.pins.Motor, b.pins.Fertigation}
	outs = append(outs, b.pins.Valves[:]...)
	outs = append(outs, b.pins.Filters[:]...)
	for _, p := range outs {
		if err := output(p, false); err != nil {
			return err
		}
	}
	return nil
}

func (b *Board) SetMotor(on bool) error {
	return output(b.pins.Motor, on)
}

func (b *Board) SetValve(field int, on bool) error {
	if field < 1 || field > irrigation.FieldCount {
		return fmt.Errorf("%w: field %d", ErrOutOfRange, field)
	}
	return output(b.pins.Valves[field-1], on)
}

func (b *Board) SetFiltration(filter int, on bool) error {
	if filter < 1 || filter > FilterCount {
		return fmt.Errorf("%w: filter %d", ErrOutOfRange, filter)
	}
	return output(b.pins.Filters[filter-1], on)
}

func (b *Board) SetFertigation(on bool) error {
	return output(b.pins.Fertigation, on)
}

// SetInjector drives the relay shared with the valve of field
// FieldCount-InjectorCount+injector.
func (b *Board) SetInjector(injector int, on bool) error {
	if injector < 1 || injector > irrigation.InjectorCount {
		return fmt.Errorf("%w: injector %d", ErrOutOfRange, injector)
	}
	return b.SetValve(irrigation.FieldCount-irrigation.InjectorCount+injector, on)
}

// PhasesPresent reports whether all connected phase inputs read low.
func (b *Board) PhasesPresent() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phases
}

func (b *Board) readPhases() bool {
	for _, p := range b.pins.Phases {
		if p != nil && p.Read() != gpio.Low {
			return false
		}
	}
	return true
}

// PhaseEdges delivers a value whenever PhasesPresent changes. Run must be
// active for edges to be detected.
func (b *Board) PhaseEdges() <-chan struct{} {
	return b.edges
}

// Run polls the phase inputs on every tick of source until ctx is done.
func (b *Board) Run(ctx context.Context, source tick.Source) error {
	defer source.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-source.C():
			present := b.readPhases()
			b.mu.Lock()
			changed := present != b.phases
			b.phases = present
			b.mu.Unlock()
			if !changed {
				continue
			}
			b.logger.Info("Phase change", "present", present)
			select {
			case b.edges <- struct{}{}:
			default:
			}
		}
	}
}

func (b *Board) RTCBatteryLow() bool {
	return b.pins.RTCBattery != nil && b.pins.RTCBattery.Read() == gpio.High
}

// Moisture measures the width of one probe pulse in microseconds. A probe
// that produces no complete pulse within the probe window has failed.
func (b *Board) Moisture(ctx context.Context, field int) (uint32, error) {
	if field < 1 || field > irrigation.FieldCount {
		return 0, fmt.Errorf("%w: field %d", ErrOutOfRange, field)
	}
	pin := b.pins.Moisture[field-1]
	if pin == nil {
		return 0, fmt.Errorf("%w: field %d", ErrNoProbe, field)
	}

	b.probe.Lock()
	defer b.probe.Unlock()

	var guard watchdog.Guard
	guard.Arm(b.probeWindow, true)

	var rise time.Time
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if pin.WaitForEdge(b.probeTick) {
			now := time.Now()
			switch {
			case pin.Read() == gpio.High:
				rise = now
			case !rise.IsZero():
				guard.Tick(true)
				return uint32(min(now.Sub(rise).Microseconds(), 1<<32-1)), nil
			}
		}
		if guard.Tick(false) == watchdog.Forced {
			b.logger.Warn("Moisture probe timed out", "field", field)
			return 0, fmt.Errorf("field %d: %w", field, irrigation.ErrSensorFailure)
		}
	}
}

// MotorCurrent returns the raw current transformer sample.
func (b *Board) MotorCurrent(context.Context) (uint16, error) {
	if b.pins.Current == nil {
		return 0, ErrNoCurrentSensor
	}
	s, err := b.pins.Current.Read()
	if err != nil {
		return 0, fmt.Errorf("read motor current: %w", err)
	}
	return uint16(min(max(s.Raw, 0), 1<<16-1)), nil
}
