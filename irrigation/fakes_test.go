package irrigation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"i4.energy/across/fieldctl/modem"
	"i4.energy/across/fieldctl/notify"
	"i4.energy/across/fieldctl/store"
	"i4.energy/across/fieldctl/tick"
)

type fakeClock struct {
	mu  sync.Mutex
	now Timestamp
}

func (c *fakeClock) Now(context.Context) (Timestamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now, nil
}

func (c *fakeClock) set(ts Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ts
}

type fakeOutputs struct {
	mu          sync.Mutex
	motor       bool
	valves      [FieldCount + 1]bool
	filters     [4]bool
	fertigation bool
	injectors   [InjectorCount + 1]bool
}

func (o *fakeOutputs) SetMotor(on bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.motor = on
	return nil
}

func (o *fakeOutputs) SetValve(field int, on bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.valves[field] = on
	return nil
}

func (o *fakeOutputs) SetFiltration(filter int, on bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.filters[filter] = on
	return nil
}

func (o *fakeOutputs) SetFertigation(on bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fertigation = on
	return nil
}

func (o *fakeOutputs) SetInjector(injector int, on bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.injectors[injector] = on
	return nil
}

func (o *fakeOutputs) motorOn() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.motor
}

// open returns the open field valves.
func (o *fakeOutputs) open() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	var fields []int
	for f := 1; f <= FieldCount; f++ {
		if o.valves[f] {
			fields = append(fields, f)
		}
	}
	return fields
}

type outputState struct {
	motor       bool
	valves      [FieldCount + 1]bool
	filters     [4]bool
	fertigation bool
	injectors   [InjectorCount + 1]bool
}

func (o *fakeOutputs) snapshot() outputState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return outputState{
		motor:       o.motor,
		valves:      o.valves,
		filters:     o.filters,
		fertigation: o.fertigation,
		injectors:   o.injectors,
	}
}

type fakeSensors struct {
	mu       sync.Mutex
	phases   bool
	battery  bool
	moisture map[int]uint32
	failed   bool
	current  uint16
	edges    chan struct{}
}

func newFakeSensors() *fakeSensors {
	return &fakeSensors{
		phases:   true,
		moisture: make(map[int]uint32),
		edges:    make(chan struct{}, 1),
	}
}

func (s *fakeSensors) PhasesPresent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phases
}

func (s *fakeSensors) PhaseEdges() <-chan struct{} { return s.edges }

func (s *fakeSensors) RTCBatteryLow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.battery
}

func (s *fakeSensors) Moisture(_ context.Context, field int) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return 0, ErrSensorFailure
	}
	return s.moisture[field], nil
}

func (s *fakeSensors) MotorCurrent(context.Context) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

func (s *fakeSensors) setPhases(present bool) {
	s.mu.Lock()
	s.phases = present
	s.mu.Unlock()
	s.edges <- struct{}{}
}

type sentNotification struct {
	to   string
	text string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	gate *notifyGate
}

// notifyGate holds the engine inside Notify for one message text.
type notifyGate struct {
	text    string
	held    chan struct{}
	release chan struct{}
}

func (n *fakeNotifier) Notify(_ context.Context, to string, p notify.Payload) error {
	text := string(notify.Render(p))

	n.mu.Lock()
	n.sent = append(n.sent, sentNotification{to: to, text: text})
	gate := n.gate
	if gate != nil && gate.text == text {
		n.gate = nil
	} else {
		gate = nil
	}
	n.mu.Unlock()

	if gate != nil {
		close(gate.held)
		<-gate.release
	}
	return nil
}

// hold makes the next Notify with text block until the gate is released.
func (n *fakeNotifier) hold(text string) *notifyGate {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gate = &notifyGate{text: text, held: make(chan struct{}), release: make(chan struct{})}
	return n.gate
}

func (n *fakeNotifier) texts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	for i, s := range n.sent {
		out[i] = s.text
	}
	return out
}

func (n *fakeNotifier) all() []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentNotification(nil), n.sent...)
}

func (n *fakeNotifier) has(text string) bool {
	for _, s := range n.texts() {
		if s == text {
			return true
		}
	}
	return false
}

func (n *fakeNotifier) count(text string) int {
	c := 0
	for _, s := range n.texts() {
		if s == text {
			c++
		}
	}
	return c
}

type fakeInbox struct {
	mu       sync.Mutex
	notes    chan modem.Notification
	messages map[byte]modem.SMS
	deleted  []byte
	cleared  int
	sleeping atomic.Bool
}

func newFakeInbox() *fakeInbox {
	return &fakeInbox{
		notes:    make(chan modem.Notification, 4),
		messages: make(map[byte]modem.SMS),
	}
}

func (i *fakeInbox) Notifications() <-chan modem.Notification { return i.notes }

func (i *fakeInbox) ReadMessage(_ context.Context, index byte) (modem.SMS, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	msg, ok := i.messages[index]
	if !ok {
		return modem.SMS{}, modem.ErrMalformedReply
	}
	return msg, nil
}

func (i *fakeInbox) DeleteMessage(_ context.Context, index byte) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.deleted = append(i.deleted, index)
	delete(i.messages, index)
	return nil
}

func (i *fakeInbox) DeleteMessages(context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cleared++
	i.messages = make(map[byte]modem.SMS)
	return nil
}

func (i *fakeInbox) SetSleeping(sleeping bool) { i.sleeping.Store(sleeping) }

// deliver stores a message and raises its new-message notification.
func (i *fakeInbox) deliver(index byte, sender, text string) {
	i.mu.Lock()
	i.messages[index] = modem.SMS{Sender: sender, Text: text}
	i.mu.Unlock()
	i.notes <- modem.Notification{Index: index}
}

func (i *fakeInbox) deletedCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.deleted)
}

func (i *fakeInbox) deletedIndexes() []byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]byte(nil), i.deleted...)
}

func (i *fakeInbox) clearedCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cleared
}

// decodeTable is a Decoder backed by a lookup table.
type decodeTable map[string]Command

func (d decodeTable) decode(text string) (Command, error) {
	cmd, ok := d[text]
	if !ok {
		return nil, errors.New("unknown command")
	}
	return cmd, nil
}

const (
	userNumber  = "9876543210"
	adminNumber = "9123456789"
	secret      = "483920"
)

var today = Date{Day: 19, Month: 10, Year: 2026}

func at(d Date, hour, minute int) Timestamp {
	return Timestamp{Date: d, Hour: uint8(hour), Minute: uint8(minute)}
}

// rig runs an Engine against fakes.
type rig struct {
	engine   *Engine
	clock    *fakeClock
	store    *store.Memory
	outputs  *fakeOutputs
	sensors  *fakeSensors
	notifier *fakeNotifier
	inbox    *fakeInbox
	ticks    *tick.Manual
	commands decodeTable
}

type rigOption func(r *rig, cfg *Config)

func withValve(field int, v Valve) rigOption {
	return func(r *rig, _ *Config) {
		v.Configured = true
		if err := r.store.Save(valveKey(field), v); err != nil {
			panic(err)
		}
	}
}

func withSettings(s Settings) rigOption {
	return func(r *rig, _ *Config) {
		if err := r.store.Save(settingsKey, s); err != nil {
			panic(err)
		}
	}
}

func newRig(t *testing.T, now Timestamp, opts ...rigOption) *rig {
	t.Helper()

	r := &rig{
		clock:    &fakeClock{now: now},
		store:    store.NewMemory(),
		outputs:  &fakeOutputs{},
		sensors:  newFakeSensors(),
		notifier: &fakeNotifier{},
		inbox:    newFakeInbox(),
		ticks:    tick.NewManual(),
		commands: decodeTable{},
	}
	cfg := Config{
		Clock:             r.clock,
		Store:             r.store,
		Outputs:           r.outputs,
		Sensors:           r.sensors,
		Notifier:          r.notifier,
		Inbox:             r.inbox,
		Decoder:           r.commands.decode,
		Ticks:             r.ticks,
		FactorySecret:     secret,
		PhaseSettle:       time.Millisecond,
		CalibrationSettle: time.Millisecond,
	}
	for _, opt := range opts {
		opt(r, &cfg)
	}

	engine, err := New(cfg)
	require.NoError(t, err)
	r.engine = engine

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

func (r *rig) eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond, msg)
}

// waitIdle waits until the engine has armed the countdown and is waiting
// with no batch running.
func (r *rig) waitIdle(t *testing.T) {
	t.Helper()
	r.eventually(t, func() bool {
		st := r.engine.Status()
		return st.Timers.Armed && len(st.Active) == 0 && !st.Updated.IsZero()
	}, "engine did not go idle")
}

// waitActive waits until the engine reports the given active fields.
func (r *rig) waitActive(t *testing.T, fields ...int) {
	t.Helper()
	r.eventually(t, func() bool {
		st := r.engine.Status()
		if len(st.Active) != len(fields) {
			return false
		}
		for i := range fields {
			if st.Active[i] != fields[i] {
				return false
			}
		}
		return true
	}, "unexpected active fields")
}
