package hw

import (
	"context"
	"fmt"
	"sync"

	"i4.energy/across/fieldctl/irrigation"
)

var (
	_ irrigation.Outputs = (*Board)(nil)
	_ irrigation.Sensors = (*Board)(nil)
	_ irrigation.Outputs = (*Sim)(nil)
	_ irrigation.Sensors = (*Sim)(nil)
)

// SimState is a snapshot of a Sim board.
type SimState struct {
	Motor       bool                          `json:"motor"`
	Valves      [irrigation.FieldCount]bool   `json:"valves"`
	Filters     [FilterCount]bool             `json:"filters"`
	Fertigation bool                          `json:"fertigation"`
	Phases      bool                          `json:"phases"`
	RTCBattery  bool                          `json:"rtc_battery_low"`
	Moisture    [irrigation.FieldCount]uint32 `json:"moisture"`
	ProbeFailed bool                          `json:"probe_failed"`
	Current     uint16                        `json:"current"`
}

// Sim is a board held in memory. Its motor draws Current while running and
// nothing while stopped.
type Sim struct {
	mu    sync.Mutex
	state SimState
	edges chan struct{}
}

// NewSim returns a Sim with all phases present and the given running
// current.
func NewSim(current uint16) *Sim {
	return &Sim{
		state: SimState{Phases: true, Current: current},
		edges: make(chan struct{}, 1),
	}
}

// State returns a snapshot.
func (s *Sim) State() SimState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sim) update(fn func(st *SimState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

func (s *Sim) SetMotor(on bool) error {
	s.update(func(st *SimState) {
		st.Motor = on
	})
	return nil
}

func (s *Sim) SetValve(field int, on bool) error {
	if field < 1 || field > irrigation.FieldCount {
		return fmt.Errorf("%w: field %d", ErrOutOfRange, field)
	}
	s.update(func(st *SimState) {
		st.Valves[field-1] = on
	})
	return nil
}

func (s *Sim) SetFiltration(filter int, on bool) error {
	if filter < 1 || filter > FilterCount {
		return fmt.Errorf("%w: filter %d", ErrOutOfRange, filter)
	}
	s.update(func(st *SimState) {
		st.Filters[filter-1] = on
	})
	return nil
}

func (s *Sim) SetFertigation(on bool) error {
	s.update(func(st *SimState) {
		st.Fertigation = on
	})
	return nil
}

func (s *Sim) SetInjector(injector int, on bool) error {
	if injector < 1 || injector > irrigation.InjectorCount {
		return fmt.Errorf("%w: injector %d", ErrOutOfRange, injector)
	}
	return s.SetValve(irrigation.FieldCount-irrigation.InjectorCount+injector, on)
}

func (s *Sim) PhasesPresent() bool {
	return s.State().Phases
}

func (s *Sim) PhaseEdges() <-chan struct{} {
	return s.edges
}

func (s *Sim) RTCBatteryLow() bool {
	return s.State().RTCBattery
}

func (s *Sim) Moisture(_ context.Context, field int) (uint32, error) {
	if field < 1 || field > irrigation.FieldCount {
		return 0, fmt.Errorf("%w: field %d", ErrOutOfRange, field)
	}
	st := s.State()
	if st.ProbeFailed {
		return 0, fmt.Errorf("field %d: %w", field, irrigation.ErrSensorFailure)
	}
	return st.Moisture[field-1], nil
}

func (s *Sim) MotorCurrent(context.Context) (uint16, error) {
	st := s.State()
	if !st.Motor {
		return 0, nil
	}
	return st.Current, nil
}

// SetPhases changes the supply and raises a phase edge on change.
func (s *Sim) SetPhases(present bool) {
	s.mu.Lock()
	changed := s.state.Phases != present
	s.state.Phases = present
	s.mu.Unlock()
	if !changed {
		return
	}
	select {
	case s.edges <- struct{}{}:
	default:
	}
}

// SetMoisture sets the reading of a field probe.
func (s *Sim) SetMoisture(field int, level uint32) {
	if field < 1 || field > irrigation.FieldCount {
		return
	}
	s.update(func(st *SimState) {
		st.Moisture[field-1] = level
	})
}

// SetCurrent sets the running motor current.
func (s *Sim) SetCurrent(current uint16) {
	s.update(func(st *SimState) {
		st.Current = current
	})
}

// SetRTCBatteryLow sets the backup cell state.
func (s *Sim) SetRTCBatteryLow(low bool) {
	s.update(func(st *SimState) {
		st.RTCBattery = low
	})
}

// FailProbe makes every moisture read fail.
func (s *Sim) FailProbe(failed bool) {
	s.update(func(st *SimState) {
		st.ProbeFailed = failed
	})
}
