package irrigation

import (
	"context"
	"time"

	"i4.energy/across/fieldctl/modem"
	"i4.energy/across/fieldctl/notify"
)

// Store persists records by key. Load returns an error wrapping
// store.ErrNotFound for a missing key.
type Store interface {
	Load(key string, v any) error
	Save(key string, v any) error
	Erase(keys ...string) error
}

// Outputs drives the board outputs. Injector n shares its output with
// field FieldCount-InjectorCount+n.
type Outputs interface {
	SetMotor(on bool) error
	SetValve(field int, on bool) error
	SetFiltration(filter int, on bool) error
	SetFertigation(on bool) error
	SetInjector(injector int, on bool) error
}

// Sensors reads the board inputs.
type Sensors interface {
	// PhasesPresent reports whether all three supply phases are present.
	PhasesPresent() bool
	// PhaseEdges delivers a value whenever a phase input changes. It may
	// return nil if edges are not detected.
	PhaseEdges() <-chan struct{}
	// RTCBatteryLow reports whether the clock backup battery is drained.
	RTCBatteryLow() bool
	// Moisture returns the moisture reading of a field. A sensor that does
	// not answer returns an error wrapping ErrSensorFailure.
	Moisture(ctx context.Context, field int) (uint32, error)
	// MotorCurrent returns the motor current in the calibration units.
	MotorCurrent(ctx context.Context) (uint16, error)
}

// Notifier sends a notification to a phone number.
type Notifier interface {
	Notify(ctx context.Context, to string, p notify.Payload) error
}

// Inbox gives access to received SMS. *modem.Modem implements it.
type Inbox interface {
	Notifications() <-chan modem.Notification
	ReadMessage(ctx context.Context, index byte) (modem.SMS, error)
	DeleteMessage(ctx context.Context, index byte) error
	DeleteMessages(ctx context.Context) error
	SetSleeping(sleeping bool)
}

// Decoder turns an SMS body into a command.
type Decoder func(text string) (Command, error)

// Event describes something the engine did, for mirroring to a dashboard.
type Event struct {
	Kind   string    `json:"kind"`
	Fields []int     `json:"fields,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Event kinds.
const (
	EventBatchStarted = "batch_started"
	EventBatchStopped = "batch_stopped"
	EventFault        = "fault"
	EventCommand      = "command"
)

// Reporter receives engine events. Report must not block.
type Reporter interface {
	Report(e Event)
}
