// Package irrigation schedules the field valves and drives the pump.
//
// The Engine is the single foreground loop. Each wake cycle it scans the
// valve schedule, starts every valve tied for the earliest due time as one
// batch, and idles until the batch countdown expires, a message arrives, a
// supply phase changes or a local command is submitted. Everything that
// advances on the periodic tick lives in Timers, which runs in its own
// goroutine and reports back through TimerEvent.
package irrigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"i4.energy/across/fieldctl/notify"
	"i4.energy/across/fieldctl/store"
	"i4.energy/across/fieldctl/tick"
)

const (
	// MaxSleepTicks caps an idle period. One tick is one minute.
	MaxSleepTicks = 24 * 60
	// RecheckTicks is the idle period while scheduling is suspended by a
	// supply fault.
	RecheckTicks = 15
)

const settingsKey = "settings"

func valveKey(field int) string {
	return fmt.Sprintf("valve/%02d", field)
}

// Settings holds the controller-wide configuration.
type Settings struct {
	User           string
	Admin          string
	NoLoadCutOff   uint16
	FullLoadCutOff uint16
	Filtration     FiltrationConfig
	Injectors      [InjectorCount]InjectorConfig
}

// Faults are the latched fault conditions.
type Faults struct {
	PhaseFailure    bool `json:"phase_failure"`
	LowPhaseCurrent bool `json:"low_phase_current"`
	DryRun          bool `json:"dry_run"`
	SensorFailure   bool `json:"sensor_failure"`
	RTCBatteryLow   bool `json:"rtc_battery_low"`
}

// suspended reports whether scheduling is held until the supply recovers.
func (f Faults) suspended() bool {
	return f.PhaseFailure || f.LowPhaseCurrent
}

// ValveStatus is the schedule of one configured field.
type ValveStatus struct {
	Field int `json:"field"`
	Valve
}

// Status is a snapshot of the engine.
type Status struct {
	Updated time.Time     `json:"updated"`
	Motor   bool          `json:"motor"`
	Active  []int         `json:"active"`
	Faults  Faults        `json:"faults"`
	Timers  TimerStatus   `json:"timers"`
	Valves  []ValveStatus `json:"valves"`
}

// Config holds the engine collaborators.
type Config struct {
	Clock    Clock
	Store    Store
	Outputs  Outputs
	Sensors  Sensors
	Notifier Notifier
	Inbox    Inbox
	Decoder  Decoder
	// Ticks drives Timers. One tick is one minute in production.
	Ticks tick.Source
	// Reporter is optional.
	Reporter Reporter
	Logger   *slog.Logger

	// FactorySecret authorizes admin registration and factory reset.
	FactorySecret string
	// PhaseSettle is the wait before a phase recovery is confirmed.
	PhaseSettle time.Duration
	// CalibrationSettle is the motor run time before the calibration
	// current is read.
	CalibrationSettle time.Duration
}

func (c *Config) validate() error {
	switch {
	case c.Clock == nil:
		return errors.New("irrigation: clock is required")
	case c.Store == nil:
		return errors.New("irrigation: store is required")
	case c.Outputs == nil:
		return errors.New("irrigation: outputs are required")
	case c.Sensors == nil:
		return errors.New("irrigation: sensors are required")
	case c.Notifier == nil:
		return errors.New("irrigation: notifier is required")
	case c.Inbox == nil:
		return errors.New("irrigation: inbox is required")
	case c.Decoder == nil:
		return errors.New("irrigation: decoder is required")
	case c.Ticks == nil:
		return errors.New("irrigation: tick source is required")
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.PhaseSettle == 0 {
		c.PhaseSettle = 5 * time.Second
	}
	if c.CalibrationSettle == 0 {
		c.CalibrationSettle = 10 * time.Second
	}
}

type localRequest struct {
	cmd   Command
	reply chan localResult
}

type localResult struct {
	text string
	err  error
}

// Engine sequences the valves. All fields below are owned by the Run
// goroutine.
type Engine struct {
	config Config
	logger *slog.Logger
	timers *Timers

	settings Settings
	valves   [FieldCount]Valve
	active   FieldList
	motor    bool
	faults   Faults
	rescan   bool

	rtcNotified    bool
	sensorNotified bool

	local   chan localRequest
	running atomic.Bool
	done    chan struct{}
	status  atomic.Pointer[Status]
}

// New validates config and returns an Engine.
func New(config Config) (*Engine, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	logger := config.Logger.With("component", "engine")
	e := &Engine{
		config: config,
		logger: logger,
		timers: NewTimers(config.Outputs, config.Ticks, config.Logger.With("component", "timers")),
		local:  make(chan localRequest),
		done:   make(chan struct{}),
	}
	e.status.Store(&Status{})
	return e, nil
}

// Status returns the latest snapshot. It is safe to call from any
// goroutine.
func (e *Engine) Status() Status {
	return *e.status.Load()
}

// Submit runs cmd as the local operator and returns the reply text. It is
// safe to call from any goroutine while Run is active.
func (e *Engine) Submit(ctx context.Context, cmd Command) (string, error) {
	req := localRequest{cmd: cmd, reply: make(chan localResult, 1)}
	select {
	case e.local <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-e.done:
		return "", ErrEngineStopped
	}
	select {
	case res := <-req.reply:
		return res.text, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-e.done:
		return "", ErrEngineStopped
	}
}

// Run loads the schedule and runs the engine until ctx is done. It may be
// called once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("irrigation: engine already running")
	}
	defer close(e.done)

	timersCtx, cancelTimers := context.WithCancel(ctx)
	timersDone := make(chan struct{})
	go func() {
		defer close(timersDone)
		_ = e.timers.Run(timersCtx)
	}()
	defer func() {
		cancelTimers()
		<-timersDone
	}()

	if err := e.start(ctx); err != nil {
		return err
	}

	for {
		if e.rescan && e.active.Len() == 0 {
			e.rescan = false
			e.schedule(ctx)
		}
		e.publish()

		if err := e.wait(ctx); err != nil {
			e.shutdown()
			return err
		}
	}
}

// start brings the outputs to a known state and loads the schedule.
func (e *Engine) start(ctx context.Context) error {
	e.setMotor(false)
	for f := 1; f <= FieldCount; f++ {
		e.setValve(f, false)
	}
	e.load()
	if err := e.configureTimers(ctx); err != nil {
		return err
	}
	// Messages stored while the controller was down are never announced.
	if err := e.config.Inbox.DeleteMessages(ctx); err != nil && ctx.Err() == nil {
		e.logger.Warn("Failed to clear message storage", "error", err)
	}
	e.logger.Info("Engine started", "configured", e.configuredFields().Len())
	e.notifyUser(ctx, notify.Text{Message: msgBoot})
	e.checkPhases(ctx)
	e.rescan = true
	return nil
}

func (e *Engine) shutdown() {
	if e.motor {
		e.setMotor(false)
	}
	for _, f := range e.active.Fields() {
		e.setValve(f, false)
	}
	e.active.Clear()
	e.publish()
	e.logger.Info("Engine stopped")
}

func (e *Engine) load() {
	if err := e.config.Store.Load(settingsKey, &e.settings); err != nil && !errors.Is(err, store.ErrNotFound) {
		e.logger.Error("Failed to load settings", "error", err)
	}
	for f := 1; f <= FieldCount; f++ {
		var v Valve
		err := e.config.Store.Load(valveKey(f), &v)
		switch {
		case err == nil:
			e.valves[f-1] = v
		case errors.Is(err, store.ErrNotFound):
			e.valves[f-1] = Valve{}
		default:
			e.logger.Error("Failed to load valve", "field", f, "error", err)
			e.valves[f-1] = Valve{}
		}
	}
}

func (e *Engine) saveValve(field int) {
	v := e.valves[field-1]
	var err error
	if v.Configured {
		err = e.config.Store.Save(valveKey(field), v)
	} else {
		err = e.config.Store.Erase(valveKey(field))
	}
	if err != nil {
		e.logger.Error("Failed to save valve", "field", field, "error", err)
	}
}

func (e *Engine) saveSettings() {
	if err := e.config.Store.Save(settingsKey, e.settings); err != nil {
		e.logger.Error("Failed to save settings", "error", err)
	}
}

// injectorsEnabled reports whether the fields sharing the injector outputs
// are all unconfigured.
func (e *Engine) injectorsEnabled() bool {
	for f := FieldCount - InjectorCount + 1; f <= FieldCount; f++ {
		if e.valves[f-1].Configured {
			return false
		}
	}
	return true
}

func (e *Engine) configureTimers(ctx context.Context) error {
	return e.timers.Configure(ctx, e.settings.Filtration, e.settings.Injectors, e.injectorsEnabled())
}

func (e *Engine) configuredFields() FieldList {
	var l FieldList
	for f := 1; f <= FieldCount; f++ {
		if e.valves[f-1].Configured {
			l.Add(f)
		}
	}
	return l
}

// scan returns the fields tied for the earliest due time. When none is due
// yet, it returns an empty list and the number of ticks to idle.
func (e *Engine) scan(now Timestamp) (FieldList, int) {
	var due FieldList
	best := -1
	for f := 1; f <= FieldCount; f++ {
		v := e.valves[f-1]
		if !v.Configured {
			continue
		}
		delta := v.dueIn(now)
		switch {
		case best < 0 || delta < best:
			best = delta
			due.Clear()
			due.Add(f)
		case delta == best:
			due.Add(f)
		}
	}
	switch {
	case best < 0:
		return FieldList{}, MaxSleepTicks
	case best == 0:
		return due, 0
	default:
		return FieldList{}, min(best, MaxSleepTicks)
	}
}

// schedule runs with no batch active. It starts a due batch or arms the
// idle countdown.
func (e *Engine) schedule(ctx context.Context) {
	if e.faults.suspended() {
		e.arm(ctx, RecheckTicks)
		return
	}
	now, err := e.config.Clock.Now(ctx)
	if err != nil {
		e.logger.Error("Failed to read clock", "error", err)
		e.arm(ctx, 1)
		return
	}
	due, idle := e.scan(now)
	if due.Len() == 0 {
		e.logger.Debug("Idle", "ticks", idle)
		e.arm(ctx, idle)
		return
	}
	e.startBatch(ctx, now, due, FieldList{})
}

func (e *Engine) arm(ctx context.Context, ticks int) {
	if err := e.timers.Arm(ctx, ticks); err != nil && ctx.Err() == nil {
		e.logger.Error("Failed to arm countdown", "error", err)
	}
}

// startBatch opens the due fields as one batch. prior holds the fields of
// the batch that just ended: fields in both stay open, fields only in prior
// are closed.
func (e *Engine) startBatch(ctx context.Context, now Timestamp, due, prior FieldList) {
	e.active.Clear()
	for _, f := range due.Fields() {
		v := &e.valves[f-1]
		wet := e.isWet(ctx, f)
		v.advance(now.Date)
		e.saveValve(f)
		if wet {
			e.logger.Info("Field already wet", "field", f)
			e.notifyUser(ctx, notify.Field{Message: msgWetSkip, Number: f})
			continue
		}
		e.active.Add(f)
	}

	if e.active.Len() == 0 {
		e.stopBatch(ctx, prior)
		e.rescan = true
		return
	}

	stopped := prior.Difference(e.active)
	started := e.active.Difference(prior)
	for _, f := range stopped.Fields() {
		e.setValve(f, false)
	}
	for _, f := range started.Fields() {
		e.setValve(f, true)
	}
	if stopped.Len() > 0 {
		e.notifyUser(ctx, notify.Fields{Message: msgStopped, Numbers: stopped.Fields()})
	}
	if started.Len() > 0 {
		e.notifyUser(ctx, notify.Fields{Message: msgStarted, Numbers: started.Fields()})
	}

	if !e.motor {
		e.setMotor(true)
		if err := e.timers.Motor(ctx, true); err != nil {
			e.logger.Error("Failed to start motor timers", "error", err)
		}
	}
	e.faults.DryRun = false

	lead := e.active.Lead()
	e.arm(ctx, int(e.valves[lead-1].OnPeriod))
	e.startFertigation(ctx, lead)

	e.logger.Info("Batch started", "fields", e.active, "lead", lead)
	e.report(EventBatchStarted, e.active.Fields(), "")
}

func (e *Engine) startFertigation(ctx context.Context, lead int) {
	v := &e.valves[lead-1]
	if !v.Fertigation.Enabled {
		if err := e.timers.StopFertigation(ctx); err != nil {
			e.logger.Error("Failed to stop fertigation", "error", err)
		}
		return
	}
	if err := e.timers.StartFertigation(ctx, v.Fertigation); err != nil {
		e.logger.Error("Failed to start fertigation", "error", err)
		return
	}
	if v.Fertigation.Iterations > 0 {
		v.Fertigation.Iterations--
	}
	if v.Fertigation.Iterations == 0 {
		v.Fertigation.Enabled = false
	}
	e.saveValve(lead)
}

// finishBatch ends the running batch when its countdown expires or every
// field is wet, and chains straight into the next batch if one is due.
func (e *Engine) finishBatch(ctx context.Context) {
	prior := e.active
	e.active.Clear()

	if !e.faults.suspended() {
		now, err := e.config.Clock.Now(ctx)
		if err != nil {
			e.logger.Error("Failed to read clock", "error", err)
		} else if due, idle := e.scan(now); due.Len() > 0 {
			e.startBatch(ctx, now, due, prior)
			return
		} else {
			e.stopBatch(ctx, prior)
			e.arm(ctx, idle)
			return
		}
	}
	e.stopBatch(ctx, prior)
	e.rescan = true
}

// stopBatch switches the motor off, then closes fields.
func (e *Engine) stopBatch(ctx context.Context, fields FieldList) {
	e.active.Clear()
	if err := e.timers.Disarm(ctx); err != nil && ctx.Err() == nil {
		e.logger.Error("Failed to disarm countdown", "error", err)
	}
	if e.motor {
		e.setMotor(false)
		if err := e.timers.Motor(ctx, false); err != nil && ctx.Err() == nil {
			e.logger.Error("Failed to stop motor timers", "error", err)
		}
	}
	for _, f := range fields.Fields() {
		e.setValve(f, false)
	}
	if fields.Len() == 0 {
		return
	}
	e.logger.Info("Batch stopped", "fields", fields)
	e.notifyUser(ctx, notify.Fields{Message: msgStopped, Numbers: fields.Fields()})
	e.notifyUser(ctx, notify.Text{Message: msgMotorOff})
	e.report(EventBatchStopped, fields.Fields(), "")
}

// abortBatch stops the running batch because of a fault.
func (e *Engine) abortBatch(ctx context.Context) {
	fields := e.active
	e.stopBatch(ctx, fields)
}

// isWet reports whether the field's moisture reading has reached its wet
// mark. A failed sensor counts as dry.
func (e *Engine) isWet(ctx context.Context, field int) bool {
	if e.faults.SensorFailure {
		return false
	}
	v := e.valves[field-1]
	if v.WetValue == 0 {
		return false
	}
	level, err := e.config.Sensors.Moisture(ctx, field)
	if err != nil {
		if errors.Is(err, ErrSensorFailure) {
			e.sensorFailed(ctx, field)
		} else {
			e.logger.Warn("Moisture read failed", "field", field, "error", err)
		}
		return false
	}
	return level >= uint32(v.WetValue)
}

func (e *Engine) sensorFailed(ctx context.Context, field int) {
	e.faults.SensorFailure = true
	if e.sensorNotified {
		return
	}
	e.sensorNotified = true
	e.logger.Warn("Moisture sensor failed", "field", field)
	e.notifyUser(ctx, notify.Text{Message: msgSensorFailure})
	e.report(EventFault, []int{field}, "sensor_failure")
}

// onTick handles a timer event while a batch is running.
func (e *Engine) onTick(ctx context.Context, ev TimerEvent) {
	if ev.Expired {
		e.finishBatch(ctx)
		return
	}
	if ev.MotorTicks >= DryRunTicks && e.checkMotorLoad(ctx) {
		return
	}
	if e.faults.SensorFailure {
		return
	}
	for _, f := range e.active.Fields() {
		if !e.isWet(ctx, f) {
			return
		}
	}
	e.logger.Info("All active fields wet", "fields", e.active)
	e.finishBatch(ctx)
}

// checkMotorLoad compares the motor current with the calibrated cut-offs
// and aborts the batch on a dry run or low phase current.
func (e *Engine) checkMotorLoad(ctx context.Context) bool {
	noLoad, fullLoad := e.settings.NoLoadCutOff, e.settings.FullLoadCutOff
	if noLoad == 0 && fullLoad == 0 {
		return false
	}
	current, err := e.config.Sensors.MotorCurrent(ctx)
	if err != nil {
		e.logger.Warn("Motor current read failed", "error", err)
		return false
	}
	switch {
	case noLoad > 0 && current < noLoad:
		e.logger.Warn("Dry run detected", "current", current, "cutoff", noLoad)
		e.faults.DryRun = true
		e.abortBatch(ctx)
		e.notifyUser(ctx, notify.Text{Message: msgDryRun})
		e.report(EventFault, nil, "dry_run")
		e.rescan = true
		return true
	case fullLoad > 0 && current > fullLoad:
		e.logger.Warn("Low phase current detected", "current", current, "cutoff", fullLoad)
		e.faults.LowPhaseCurrent = true
		e.abortBatch(ctx)
		e.notifyUser(ctx, notify.Text{Message: msgLowPhase})
		e.report(EventFault, nil, "low_phase_current")
		e.rescan = true
		return true
	}
	return false
}

// checkPhases runs at start-up and on every phase edge.
func (e *Engine) checkPhases(ctx context.Context) {
	if !e.config.Sensors.PhasesPresent() {
		if e.faults.PhaseFailure {
			return
		}
		e.logger.Warn("Phase failure detected")
		e.faults.PhaseFailure = true
		e.abortBatch(ctx)
		e.notifyUser(ctx, notify.Text{Message: msgPhaseFailure})
		e.report(EventFault, nil, "phase_failure")
		e.rescan = true
		return
	}
	if e.faults.suspended() {
		e.recheckPhases(ctx)
	}
}

// recheckPhases clears a supply fault once all phases are still present
// after the settle delay.
func (e *Engine) recheckPhases(ctx context.Context) {
	select {
	case <-time.After(e.config.PhaseSettle):
	case <-ctx.Done():
		return
	}
	if !e.config.Sensors.PhasesPresent() {
		return
	}
	e.logger.Info("Supply restored")
	e.faults.PhaseFailure = false
	e.faults.LowPhaseCurrent = false
	e.notifyUser(ctx, notify.Text{Message: msgPhaseRestored})
	e.rescan = true
}

// housekeeping runs when an idle countdown expires.
func (e *Engine) housekeeping(ctx context.Context) {
	if e.faults.suspended() {
		e.recheckPhases(ctx)
	}
	if !e.rtcNotified && e.config.Sensors.RTCBatteryLow() {
		e.rtcNotified = true
		e.faults.RTCBatteryLow = true
		e.logger.Warn("RTC battery low")
		e.notifyUser(ctx, notify.Text{Message: msgRTCBattery})
		e.report(EventFault, nil, "rtc_battery_low")
	}
	e.rescan = true
}

// wait blocks until the next thing the engine must act on.
func (e *Engine) wait(ctx context.Context) error {
	e.config.Inbox.SetSleeping(e.active.Len() == 0)

	select {
	case <-ctx.Done():
		return ctx.Err()

	case ev := <-e.timers.Events():
		if e.active.Len() > 0 {
			e.onTick(ctx, ev)
		} else if ev.Expired {
			e.housekeeping(ctx)
		}

	case n, ok := <-e.config.Inbox.Notifications():
		if !ok {
			return errors.New("irrigation: inbox closed")
		}
		e.handleMessage(ctx, n.Index)

	case req := <-e.local:
		p, err := e.execute(ctx, roleLocal, "", req.cmd)
		var text string
		if p != nil {
			text = string(notify.Render(p))
		}
		e.publish()
		req.reply <- localResult{text: text, err: err}

	case <-e.config.Sensors.PhaseEdges():
		e.checkPhases(ctx)
	}
	return ctx.Err()
}

func (e *Engine) handleMessage(ctx context.Context, index byte) {
	defer func() {
		if err := e.config.Inbox.DeleteMessage(ctx, index); err != nil && ctx.Err() == nil {
			e.logger.Warn("Failed to delete message", "index", string(index), "error", err)
		}
	}()

	msg, err := e.config.Inbox.ReadMessage(ctx, index)
	if err != nil {
		e.logger.Error("Failed to read message", "index", string(index), "error", err)
		return
	}
	role := e.roleOf(msg.Sender)
	e.logger.Info("Message received", "sender", msg.Sender, "role", role)

	cmd, err := e.config.Decoder(strings.TrimSpace(msg.Text))
	if err != nil {
		e.logger.Warn("Undecodable message", "sender", msg.Sender, "error", err)
		if role != roleNone {
			e.notify(ctx, msg.Sender, notify.Text{Message: msgUnknownCommand})
		}
		return
	}

	reply, err := e.execute(ctx, role, msg.Sender, cmd)
	if err != nil {
		e.logger.Warn("Command failed", "sender", msg.Sender, "command", fmt.Sprintf("%T", cmd), "error", err)
		if role == roleNone {
			return
		}
		reply = notify.Text{Message: failureText(err)}
	}
	e.notify(ctx, msg.Sender, reply)
}

func (e *Engine) notifyUser(ctx context.Context, p notify.Payload) {
	to := e.settings.User
	if to == "" {
		to = e.settings.Admin
	}
	if to == "" {
		e.logger.Debug("No user registered, notification dropped")
		return
	}
	e.notify(ctx, to, p)
}

func (e *Engine) notify(ctx context.Context, to string, p notify.Payload) {
	if err := e.config.Notifier.Notify(ctx, to, p); err != nil && ctx.Err() == nil {
		e.logger.Error("Failed to notify", "to", to, "error", err)
	}
}

func (e *Engine) setMotor(on bool) {
	e.motor = on
	if err := e.config.Outputs.SetMotor(on); err != nil {
		e.logger.Error("Failed to set motor", "on", on, "error", err)
	}
}

func (e *Engine) setValve(field int, on bool) {
	if err := e.config.Outputs.SetValve(field, on); err != nil {
		e.logger.Error("Failed to set valve", "field", field, "on", on, "error", err)
	}
}

func (e *Engine) report(kind string, fields []int, detail string) {
	if e.config.Reporter == nil {
		return
	}
	e.config.Reporter.Report(Event{Kind: kind, Fields: fields, Detail: detail, At: time.Now()})
}

func (e *Engine) publish() {
	st := &Status{
		Updated: time.Now(),
		Motor:   e.motor,
		Active:  e.active.Fields(),
		Faults:  e.faults,
		Timers:  e.timers.Status(),
	}
	for f := 1; f <= FieldCount; f++ {
		if v := e.valves[f-1]; v.Configured {
			st.Valves = append(st.Valves, ValveStatus{Field: f, Valve: v})
		}
	}
	e.status.Store(st)
}
