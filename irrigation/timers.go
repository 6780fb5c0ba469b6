package irrigation

import (
	"context"
	"log/slog"
	"sync/atomic"

	"i4.energy/across/fieldctl/tick"
)

// DryRunTicks is the number of motor ticks after which the motor current
// is checked.
const DryRunTicks = 3

// TimerEvent is posted to the engine after every tick. Events that the
// engine has not picked up yet are merged.
type TimerEvent struct {
	// Expired is set when the armed countdown reached zero.
	Expired bool
	// MotorTicks counts the ticks since the motor started, up to
	// DryRunTicks.
	MotorTicks int
}

// TimerStatus is a snapshot of the timers goroutine.
type TimerStatus struct {
	Ticks            uint64                      `json:"ticks"`
	Armed            bool                        `json:"armed"`
	Countdown        int                         `json:"countdown"`
	Motor            bool                        `json:"motor"`
	Filtration       string                      `json:"filtration"`
	Fertigation      bool                        `json:"fertigation"`
	InjectorsEnabled bool                        `json:"injectors_enabled"`
	Injectors        [InjectorCount]InjectorMode `json:"injectors"`
}

type fertigationPhase uint8

const (
	fertigationIdle fertigationPhase = iota
	fertigationDelay
	fertigationDosing
)

type timerState struct {
	countdown int
	armed     bool

	motor      bool
	motorTicks int

	filtration Filtration

	fertigation      Fertigation
	fertigationPhase fertigationPhase
	fertigationCount uint16

	injectors        [InjectorCount]Injector
	injectorsEnabled bool
}

type timerRequest struct {
	apply func(s *timerState)
	done  chan struct{}
}

// Timers owns everything that advances on the periodic tick: the engine
// countdown, the motor tick count, the filtration sequence, fertigation
// and the injectors. It writes the filtration, fertigation and injector
// outputs; the engine never does.
type Timers struct {
	outputs Outputs
	source  tick.Source
	logger  *slog.Logger

	requests chan timerRequest
	events   chan TimerEvent
	stopped  chan struct{}
	ticks    tick.Counter
	status   atomic.Pointer[TimerStatus]
}

// NewTimers returns Timers driven by source. Run must be called before any
// other method.
func NewTimers(outputs Outputs, source tick.Source, logger *slog.Logger) *Timers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	t := &Timers{
		outputs:  outputs,
		source:   source,
		logger:   logger,
		requests: make(chan timerRequest),
		events:   make(chan TimerEvent, 1),
		stopped:  make(chan struct{}),
	}
	t.status.Store(&TimerStatus{Filtration: StageDisabled.String()})
	return t
}

// Run processes ticks and requests until ctx is done. All outputs it owns
// are switched off on return.
func (t *Timers) Run(ctx context.Context) error {
	defer close(t.stopped)
	defer t.source.Stop()

	s := &timerState{}
	for i := range s.injectors {
		s.injectors[i] = NewInjector(InjectorConfig{})
	}

	for {
		select {
		case <-ctx.Done():
			t.stopFertigation(s)
			s.filtration.Stop()
			t.applyFilters(s)
			t.publish(s)
			return ctx.Err()

		case req := <-t.requests:
			req.apply(s)
			t.publish(s)
			close(req.done)

		case <-t.source.C():
			t.post(t.tick(s))
			t.publish(s)
		}
	}
}

// Events delivers one TimerEvent per tick, merged while unread.
func (t *Timers) Events() <-chan TimerEvent {
	return t.events
}

// Status returns the latest snapshot.
func (t *Timers) Status() TimerStatus {
	return *t.status.Load()
}

// Arm starts the countdown. It expires after the given number of ticks;
// zero or less expires on the next tick. An unread expiry of the previous
// countdown is dropped.
func (t *Timers) Arm(ctx context.Context, ticks int) error {
	return t.do(ctx, func(s *timerState) {
		s.countdown = max(ticks, 0)
		s.armed = true
		t.dropExpired()
	})
}

// Disarm stops the countdown and drops an unread expiry.
func (t *Timers) Disarm(ctx context.Context) error {
	return t.do(ctx, func(s *timerState) {
		s.countdown, s.armed = 0, false
		t.dropExpired()
	})
}

// Motor tells the timers the motor started or stopped. Filtration runs
// only with the motor; stopping the motor also ends fertigation.
func (t *Timers) Motor(ctx context.Context, running bool) error {
	return t.do(ctx, func(s *timerState) {
		s.motor = running
		s.motorTicks = 0
		if running {
			s.filtration.Start()
		} else {
			s.filtration.Stop()
			t.stopFertigation(s)
		}
		t.applyFilters(s)
	})
}

// StartFertigation starts dosing after f.Delay ticks for f.OnPeriod ticks.
func (t *Timers) StartFertigation(ctx context.Context, f Fertigation) error {
	return t.do(ctx, func(s *timerState) {
		t.stopFertigation(s)
		s.fertigation = f
		s.fertigationPhase = fertigationDelay
		s.fertigationCount = 0
		if f.Delay == 0 {
			t.startDosing(s)
		}
	})
}

// StopFertigation ends dosing.
func (t *Timers) StopFertigation(ctx context.Context) error {
	return t.do(ctx, t.stopFertigation)
}

// Configure replaces the filtration and injector timing. Injectors only
// run when injectorsEnabled is set, that is while the fields sharing
// their outputs are unconfigured.
func (t *Timers) Configure(ctx context.Context, filtration FiltrationConfig, injectors [InjectorCount]InjectorConfig, injectorsEnabled bool) error {
	return t.do(ctx, func(s *timerState) {
		s.filtration = NewFiltration(filtration)
		if s.motor {
			s.filtration.Start()
		}
		t.applyFilters(s)

		dosing := s.fertigationPhase == fertigationDosing
		t.stopInjectors(s)
		for i, cfg := range injectors {
			s.injectors[i] = NewInjector(cfg)
		}
		s.injectorsEnabled = injectorsEnabled
		if dosing {
			t.startInjectors(s)
		}
	})
}

func (t *Timers) do(ctx context.Context, apply func(s *timerState)) error {
	req := timerRequest{apply: apply, done: make(chan struct{})}
	select {
	case t.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stopped:
		return ErrEngineStopped
	}
	<-req.done
	return nil
}

func (t *Timers) tick(s *timerState) TimerEvent {
	t.ticks.Inc()

	var ev TimerEvent
	if s.armed {
		if s.countdown > 0 {
			s.countdown--
		}
		if s.countdown == 0 {
			s.armed = false
			ev.Expired = true
		}
	}

	if s.motor && s.motorTicks < DryRunTicks {
		s.motorTicks++
	}
	ev.MotorTicks = s.motorTicks

	switch s.fertigationPhase {
	case fertigationDelay:
		s.fertigationCount++
		if s.fertigationCount >= s.fertigation.Delay {
			t.startDosing(s)
		}
	case fertigationDosing:
		s.fertigationCount++
		t.tickInjectors(s)
		if s.fertigationCount >= s.fertigation.OnPeriod {
			t.stopFertigation(s)
		}
	}

	if s.filtration.Tick() {
		t.logger.Debug("Filtration stage", "stage", s.filtration.Stage())
		t.applyFilters(s)
	}
	return ev
}

// post hands ev to the engine without blocking, merging it with an unread
// event.
func (t *Timers) post(ev TimerEvent) {
	select {
	case t.events <- ev:
		return
	default:
	}
	select {
	case old := <-t.events:
		ev.Expired = ev.Expired || old.Expired
	default:
	}
	select {
	case t.events <- ev:
	default:
	}
}

// dropExpired clears the expiry of an unread event. Only the timers
// goroutine sends on events, so the put back cannot block.
func (t *Timers) dropExpired() {
	select {
	case old := <-t.events:
		old.Expired = false
		t.events <- old
	default:
	}
}

func (t *Timers) startDosing(s *timerState) {
	s.fertigationPhase = fertigationDosing
	s.fertigationCount = 0
	t.set("fertigation", 0, t.outputs.SetFertigation(true))
	t.startInjectors(s)
}

func (t *Timers) stopFertigation(s *timerState) {
	if s.fertigationPhase == fertigationDosing {
		t.set("fertigation", 0, t.outputs.SetFertigation(false))
		t.stopInjectors(s)
	}
	s.fertigationPhase = fertigationIdle
	s.fertigationCount = 0
}

func (t *Timers) startInjectors(s *timerState) {
	if !s.injectorsEnabled {
		return
	}
	for i := range s.injectors {
		s.injectors[i].Start()
		t.set("injector", i+1, t.outputs.SetInjector(i+1, s.injectors[i].On()))
	}
}

func (t *Timers) stopInjectors(s *timerState) {
	if !s.injectorsEnabled {
		return
	}
	for i := range s.injectors {
		if s.injectors[i].On() {
			t.set("injector", i+1, t.outputs.SetInjector(i+1, false))
		}
		s.injectors[i].Stop()
	}
}

func (t *Timers) tickInjectors(s *timerState) {
	if !s.injectorsEnabled {
		return
	}
	for i := range s.injectors {
		was := s.injectors[i].On()
		if on := s.injectors[i].Tick(); on != was {
			t.set("injector", i+1, t.outputs.SetInjector(i+1, on))
		}
	}
}

func (t *Timers) applyFilters(s *timerState) {
	active := s.filtration.Filter()
	for filter := 1; filter <= 3; filter++ {
		t.set("filtration", filter, t.outputs.SetFiltration(filter, filter == active))
	}
}

func (t *Timers) set(output string, n int, err error) {
	if err != nil {
		t.logger.Error("Failed to set output", "output", output, "number", n, "error", err)
	}
}

func (t *Timers) publish(s *timerState) {
	st := &TimerStatus{
		Ticks:            t.ticks.Load(),
		Armed:            s.armed,
		Countdown:        s.countdown,
		Motor:            s.motor,
		Filtration:       s.filtration.Stage().String(),
		Fertigation:      s.fertigationPhase == fertigationDosing,
		InjectorsEnabled: s.injectorsEnabled,
	}
	for i := range s.injectors {
		st.Injectors[i] = s.injectors[i].Mode()
	}
	t.status.Store(st)
}
