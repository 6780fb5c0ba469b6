package irrigation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"i4.energy/across/fieldctl/notify"
)

// Command is a decoded user request. The set of commands is closed.
type Command interface {
	isCommand()
}

// ConfigureValve sets the schedule of a field. A zero Start schedules the
// first run today at MotorOn, or tomorrow if that time has passed.
type ConfigureValve struct {
	Field     int
	OnPeriod  uint16
	OffPeriod uint8
	DryValue  uint16
	WetValue  uint16
	MotorOn   TimeOfDay
	Start     Date
}

// DeleteValve removes the schedule of a field.
type DeleteValve struct{ Field int }

// ConfigureFertigation attaches dosing to a configured field.
type ConfigureFertigation struct {
	Field      int
	Delay      uint16
	OnPeriod   uint16
	Iterations uint8
}

// DisableFertigation removes dosing from a field.
type DisableFertigation struct{ Field int }

// ConfigureFiltration enables the filtration sequence with new timing.
type ConfigureFiltration struct {
	Delay1     uint8
	Delay2     uint8
	Delay3     uint8
	OnTime     uint8
	Separation uint16
}

// DisableFiltration turns the filtration sequence off.
type DisableFiltration struct{}

// ConfigureInjector sets the timing of one injector.
type ConfigureInjector struct {
	Injector  int
	OnPeriod  uint16
	OffPeriod uint16
	Cycles    uint8
}

// Hold postpones every schedule by a number of days.
type Hold struct{ Days int }

// QueryValve reports the schedule of a field.
type QueryValve struct{ Field int }

// QueryFiltration reports the filtration settings.
type QueryFiltration struct{}

// QueryActive reports the fields being irrigated.
type QueryActive struct{}

// QueryTime reports the controller clock.
type QueryTime struct{}

// QueryMoisture reports a field's moisture reading.
type QueryMoisture struct{ Field int }

// QueryMotorLoad reports the motor cut-off currents.
type QueryMotorLoad struct{}

// CalibrateMotor runs the motor through a field and derives the cut-off
// currents from the measured load.
type CalibrateMotor struct{ Field int }

// ChangeAdmin registers a new admin number. An empty Number registers the
// sender.
type ChangeAdmin struct {
	Number string
	Secret string
}

// ChangeUser registers the user number that receives notifications.
type ChangeUser struct{ Number string }

// QuerySecret reports the factory secret.
type QuerySecret struct{}

// ResetValves deletes every field schedule.
type ResetValves struct{}

// FactoryReset deletes all schedules and settings.
type FactoryReset struct{ Secret string }

func (ConfigureValve) isCommand()       {}
func (DeleteValve) isCommand()          {}
func (ConfigureFertigation) isCommand() {}
func (DisableFertigation) isCommand()   {}
func (ConfigureFiltration) isCommand()  {}
func (DisableFiltration) isCommand()    {}
func (ConfigureInjector) isCommand()    {}
func (Hold) isCommand()                 {}
func (QueryValve) isCommand()           {}
func (QueryFiltration) isCommand()      {}
func (QueryActive) isCommand()          {}
func (QueryTime) isCommand()            {}
func (QueryMoisture) isCommand()        {}
func (QueryMotorLoad) isCommand()       {}
func (CalibrateMotor) isCommand()       {}
func (ChangeAdmin) isCommand()          {}
func (ChangeUser) isCommand()           {}
func (QuerySecret) isCommand()          {}
func (ResetValves) isCommand()          {}
func (FactoryReset) isCommand()         {}

type role int

const (
	roleNone role = iota
	roleUser
	roleAdmin
	// roleLocal is the operator on the HTTP endpoint.
	roleLocal
)

func (r role) String() string {
	switch r {
	case roleUser:
		return "user"
	case roleAdmin:
		return "admin"
	case roleLocal:
		return "local"
	default:
		return "unknown"
	}
}

func (e *Engine) roleOf(sender string) role {
	switch {
	case sameNumber(sender, e.settings.Admin):
		return roleAdmin
	case sameNumber(sender, e.settings.User):
		return roleUser
	default:
		return roleNone
	}
}

// sameNumber compares phone numbers on their last ten digits so that
// "+919876543210" matches "9876543210".
func sameNumber(a, b string) bool {
	a, b = digitsOnly(a), digitsOnly(b)
	if a == "" || b == "" {
		return false
	}
	const national = 10
	if len(a) > national {
		a = a[len(a)-national:]
	}
	if len(b) > national {
		b = b[len(b)-national:]
	}
	return a == b
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func validNumber(s string) bool {
	s = strings.TrimPrefix(s, "+")
	if len(s) < 3 || len(s) > 15 {
		return false
	}
	return digitsOnly(s) == s
}

func authorize(r role, cmd Command) error {
	switch cmd.(type) {
	case ChangeAdmin:
		return nil
	case ChangeUser, QuerySecret, ResetValves, FactoryReset:
		if r == roleAdmin || r == roleLocal {
			return nil
		}
		return ErrUnauthorized
	default:
		if r == roleNone {
			return ErrUnauthorized
		}
		return nil
	}
}

func commandName(cmd Command) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", cmd), "irrigation.")
}

// execute runs cmd on behalf of sender and returns the acknowledgement.
func (e *Engine) execute(ctx context.Context, r role, sender string, cmd Command) (notify.Payload, error) {
	if err := authorize(r, cmd); err != nil {
		return nil, fmt.Errorf("%s from %s: %w", commandName(cmd), r, err)
	}
	e.logger.Info("Executing command", "command", commandName(cmd), "role", r)
	e.report(EventCommand, nil, commandName(cmd))

	switch c := cmd.(type) {
	case ConfigureValve:
		return e.configureValve(ctx, c)
	case DeleteValve:
		return e.deleteValve(ctx, c)
	case ConfigureFertigation:
		return e.configureFertigation(c)
	case DisableFertigation:
		return e.disableFertigation(c)
	case ConfigureFiltration:
		return e.configureFiltration(ctx, c)
	case DisableFiltration:
		e.settings.Filtration.Enabled = false
		e.saveSettings()
		return notify.Text{Message: msgFiltrationDisabled}, e.configureTimers(ctx)
	case ConfigureInjector:
		return e.configureInjector(ctx, c)
	case Hold:
		return e.hold(c)
	case QueryValve:
		if err := validField(c.Field); err != nil {
			return nil, err
		}
		v := e.valves[c.Field-1]
		if !v.Configured {
			return nil, ErrNotConfigured
		}
		return valveReport(c.Field, v), nil
	case QueryFiltration:
		f := e.settings.Filtration
		return notify.FiltrationReport{
			Message: msgFiltrationReport, Delay1: f.Delay1, Delay2: f.Delay2, Delay3: f.Delay3,
			OnTime: f.OnTime, Separation: f.Separation,
		}, nil
	case QueryActive:
		if e.active.Len() == 0 {
			return notify.Text{Message: msgNoActive}, nil
		}
		return notify.Fields{Message: msgActive, Numbers: e.active.Fields()}, nil
	case QueryTime:
		now, err := e.config.Clock.Now(ctx)
		if err != nil {
			return nil, err
		}
		return notify.Time{Message: msgTime, At: now.Time(time.UTC)}, nil
	case QueryMoisture:
		return e.queryMoisture(ctx, c)
	case QueryMotorLoad:
		return e.motorLoad(), nil
	case CalibrateMotor:
		return e.calibrateMotor(ctx, c)
	case ChangeAdmin:
		return e.changeAdmin(ctx, sender, c)
	case ChangeUser:
		if !validNumber(c.Number) {
			return nil, fmt.Errorf("%w: number %q", ErrInvalidSetting, c.Number)
		}
		e.settings.User = c.Number
		e.saveSettings()
		return notify.Admin{Message: msgUserChanged, Number: c.Number}, nil
	case QuerySecret:
		return notify.Secret{Message: msgSecret, Code: e.config.FactorySecret}, nil
	case ResetValves:
		e.resetValves(ctx)
		return notify.Text{Message: msgValvesReset}, e.configureTimers(ctx)
	case FactoryReset:
		return e.factoryReset(ctx, c)
	default:
		return nil, fmt.Errorf("%w: unsupported command %T", ErrInvalidSetting, cmd)
	}
}

func (e *Engine) configureValve(ctx context.Context, c ConfigureValve) (notify.Payload, error) {
	if err := validField(c.Field); err != nil {
		return nil, err
	}
	if c.OnPeriod == 0 || c.OnPeriod > MaxOnPeriod || c.OffPeriod > MaxOffPeriod ||
		c.DryValue > MaxSensorMark || c.WetValue > MaxSensorMark || !c.MotorOn.Valid() {
		return nil, ErrInvalidSetting
	}
	if e.active.Contains(c.Field) {
		return nil, ErrBusy
	}

	due := c.Start
	if due == (Date{}) {
		now, err := e.config.Clock.Now(ctx)
		if err != nil {
			return nil, err
		}
		due = now.Date
		if c.MotorOn.Minutes() < now.Minutes() {
			due = due.AddDays(1)
		}
	} else if !due.Valid() {
		return nil, fmt.Errorf("%w: start date %v", ErrInvalidSetting, due)
	}

	v := &e.valves[c.Field-1]
	*v = Valve{
		Configured:  true,
		OnPeriod:    c.OnPeriod,
		OffPeriod:   c.OffPeriod,
		DryValue:    c.DryValue,
		WetValue:    c.WetValue,
		Due:         due,
		MotorOn:     c.MotorOn,
		Fertigation: v.Fertigation,
	}
	e.saveValve(c.Field)
	e.rescan = true
	return notify.Field{Message: msgValveConfigured, Number: c.Field}, e.configureTimers(ctx)
}

func (e *Engine) deleteValve(ctx context.Context, c DeleteValve) (notify.Payload, error) {
	if err := validField(c.Field); err != nil {
		return nil, err
	}
	if e.active.Contains(c.Field) {
		return nil, ErrBusy
	}
	if !e.valves[c.Field-1].Configured {
		return nil, ErrNotConfigured
	}
	e.valves[c.Field-1] = Valve{}
	e.saveValve(c.Field)
	e.rescan = true
	return notify.Field{Message: msgValveDeleted, Number: c.Field}, e.configureTimers(ctx)
}

func (e *Engine) configureFertigation(c ConfigureFertigation) (notify.Payload, error) {
	if err := validField(c.Field); err != nil {
		return nil, err
	}
	v := &e.valves[c.Field-1]
	if !v.Configured {
		return nil, ErrNotConfigured
	}
	if c.OnPeriod == 0 || c.Iterations == 0 || c.Iterations > 99 ||
		uint32(c.Delay)+uint32(c.OnPeriod) > uint32(v.OnPeriod) {
		return nil, ErrInvalidSetting
	}
	v.Fertigation = Fertigation{Enabled: true, Delay: c.Delay, OnPeriod: c.OnPeriod, Iterations: c.Iterations}
	e.saveValve(c.Field)
	return notify.Field{Message: msgFertigationConfigured, Number: c.Field}, nil
}

func (e *Engine) disableFertigation(c DisableFertigation) (notify.Payload, error) {
	if err := validField(c.Field); err != nil {
		return nil, err
	}
	v := &e.valves[c.Field-1]
	if !v.Configured {
		return nil, ErrNotConfigured
	}
	v.Fertigation = Fertigation{}
	e.saveValve(c.Field)
	return notify.Field{Message: msgFertigationDisabled, Number: c.Field}, nil
}

func (e *Engine) configureFiltration(ctx context.Context, c ConfigureFiltration) (notify.Payload, error) {
	if c.Delay1 > 99 || c.Delay2 > 99 || c.Delay3 > 99 || c.OnTime == 0 || c.OnTime > 99 || c.Separation > 999 {
		return nil, ErrInvalidSetting
	}
	e.settings.Filtration = FiltrationConfig{
		Enabled:    true,
		Delay1:     c.Delay1,
		Delay2:     c.Delay2,
		Delay3:     c.Delay3,
		OnTime:     c.OnTime,
		Separation: c.Separation,
	}
	e.saveSettings()
	return notify.Text{Message: msgFiltrationConfigured}, e.configureTimers(ctx)
}

func (e *Engine) configureInjector(ctx context.Context, c ConfigureInjector) (notify.Payload, error) {
	if c.Injector < 1 || c.Injector > InjectorCount {
		return nil, fmt.Errorf("%w: injector %d", ErrInvalidInjector, c.Injector)
	}
	if c.OnPeriod == 0 || c.OnPeriod > 999 || c.OffPeriod == 0 || c.OffPeriod > 999 || c.Cycles > 99 {
		return nil, ErrInvalidSetting
	}
	e.settings.Injectors[c.Injector-1] = InjectorConfig{OnPeriod: c.OnPeriod, OffPeriod: c.OffPeriod, Cycles: c.Cycles}
	e.saveSettings()
	return notify.Field{Message: msgInjectorConfigured, Number: c.Injector}, e.configureTimers(ctx)
}

func (e *Engine) hold(c Hold) (notify.Payload, error) {
	if c.Days < 1 || c.Days > 99 {
		return nil, ErrInvalidSetting
	}
	for f := 1; f <= FieldCount; f++ {
		v := &e.valves[f-1]
		if !v.Configured {
			continue
		}
		v.Due = v.Due.AddDays(c.Days)
		e.saveValve(f)
	}
	e.rescan = true
	return notify.Field{Message: msgHold, Number: c.Days}, nil
}

func (e *Engine) queryMoisture(ctx context.Context, c QueryMoisture) (notify.Payload, error) {
	if err := validField(c.Field); err != nil {
		return nil, err
	}
	level, err := e.config.Sensors.Moisture(ctx, c.Field)
	if err != nil {
		if errors.Is(err, ErrSensorFailure) {
			e.sensorFailed(ctx, c.Field)
		}
		return nil, err
	}
	return notify.Moisture{Message: msgMoisture, Field: c.Field, Level: level}, nil
}

func (e *Engine) motorLoad() notify.MotorLoad {
	return notify.MotorLoad{
		Message:  msgMotorLoad,
		NoLoad:   e.settings.NoLoadCutOff,
		FullLoad: e.settings.FullLoadCutOff,
	}
}

// Calibration derives the dry-run cut-off at 60% and the overload cut-off
// at 130% of the measured running current.
const (
	noLoadPercent   = 60
	fullLoadPercent = 130
	maxCutOff       = 9999
)

func (e *Engine) calibrateMotor(ctx context.Context, c CalibrateMotor) (notify.Payload, error) {
	if err := validField(c.Field); err != nil {
		return nil, err
	}
	if e.active.Len() > 0 || e.motor {
		return nil, ErrBusy
	}

	e.setValve(c.Field, true)
	e.setMotor(true)
	var current uint16
	var err error
	select {
	case <-time.After(e.config.CalibrationSettle):
		current, err = e.config.Sensors.MotorCurrent(ctx)
	case <-ctx.Done():
		err = ctx.Err()
	}
	e.setMotor(false)
	e.setValve(c.Field, false)
	if err != nil {
		return nil, fmt.Errorf("calibrate motor: %w", err)
	}

	e.settings.NoLoadCutOff = uint16(min(uint32(current)*noLoadPercent/100, maxCutOff))
	e.settings.FullLoadCutOff = uint16(min(uint32(current)*fullLoadPercent/100, maxCutOff))
	e.saveSettings()
	e.logger.Info("Motor calibrated", "current", current,
		"no_load", e.settings.NoLoadCutOff, "full_load", e.settings.FullLoadCutOff)
	return e.motorLoad(), nil
}

func (e *Engine) checkSecret(secret string) error {
	if e.config.FactorySecret == "" || secret != e.config.FactorySecret {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) changeAdmin(ctx context.Context, sender string, c ChangeAdmin) (notify.Payload, error) {
	if err := e.checkSecret(c.Secret); err != nil {
		return nil, err
	}
	number := c.Number
	if number == "" {
		number = sender
	}
	if !validNumber(number) {
		return nil, fmt.Errorf("%w: number %q", ErrInvalidSetting, number)
	}

	previous := e.settings.Admin
	e.settings.Admin = number
	e.saveSettings()
	if previous != "" && !sameNumber(previous, number) {
		e.notify(ctx, previous, notify.Admin{Message: msgAdminReplaced, Number: number})
	}
	return notify.Admin{Message: msgAdminChanged, Number: number}, nil
}

func (e *Engine) resetValves(ctx context.Context) {
	if e.active.Len() > 0 {
		e.abortBatch(ctx)
	}
	keys := make([]string, 0, FieldCount)
	for f := 1; f <= FieldCount; f++ {
		e.valves[f-1] = Valve{}
		keys = append(keys, valveKey(f))
	}
	if err := e.config.Store.Erase(keys...); err != nil {
		e.logger.Error("Failed to erase valves", "error", err)
	}
	e.rescan = true
}

func (e *Engine) factoryReset(ctx context.Context, c FactoryReset) (notify.Payload, error) {
	if err := e.checkSecret(c.Secret); err != nil {
		return nil, err
	}
	e.resetValves(ctx)
	e.settings = Settings{}
	if err := e.config.Store.Erase(settingsKey); err != nil {
		e.logger.Error("Failed to erase settings", "error", err)
	}
	e.faults.DryRun = false
	e.faults.SensorFailure = false
	e.sensorNotified = false
	return notify.Text{Message: msgFactoryReset}, e.configureTimers(ctx)
}
