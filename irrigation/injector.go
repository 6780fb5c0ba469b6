package irrigation

import "fmt"

// InjectorMode is the state of a fertigation injector.
type InjectorMode uint8

const (
	InjectorOff InjectorMode = iota
	InjectorOn
	// InjectorExhausted follows the off period of the last cycle. The
	// injector stays off until it is started again.
	InjectorExhausted
)

func (m InjectorMode) String() string {
	switch m {
	case InjectorOff:
		return "off"
	case InjectorOn:
		return "on"
	case InjectorExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

func (m InjectorMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *InjectorMode) UnmarshalText(text []byte) error {
	for _, mode := range []InjectorMode{InjectorOff, InjectorOn, InjectorExhausted} {
		if string(text) == mode.String() {
			*m = mode
			return nil
		}
	}
	return fmt.Errorf("unknown injector mode %q", text)
}

// InjectorConfig holds the injector timing in ticks.
type InjectorConfig struct {
	OnPeriod  uint16
	OffPeriod uint16
	Cycles    uint8
}

// Injector cycles a dosing output on and off for a fixed number of cycles.
// A cycle is one on period followed by one off period.
type Injector struct {
	config   InjectorConfig
	mode     InjectorMode
	onCount  uint16
	offCount uint16
	cycles   uint8
}

// NewInjector returns an exhausted injector with the given timing. Call
// Start to begin dosing.
func NewInjector(config InjectorConfig) Injector {
	return Injector{config: config, mode: InjectorExhausted}
}

// Start begins the first cycle with the output on. An injector configured
// for zero cycles stays exhausted.
func (i *Injector) Start() {
	i.onCount, i.offCount, i.cycles = 0, 0, 0
	if i.config.Cycles == 0 {
		i.mode = InjectorExhausted
		return
	}
	i.mode = InjectorOn
}

// Stop turns the output off and ends the sequence.
func (i *Injector) Stop() {
	i.onCount, i.offCount = 0, 0
	i.mode = InjectorExhausted
}

// Tick advances the injector by one tick and reports whether its output
// is on afterwards.
func (i *Injector) Tick() bool {
	switch i.mode {
	case InjectorOn:
		i.onCount++
		if i.onCount >= i.config.OnPeriod {
			i.mode = InjectorOff
			i.onCount, i.offCount = 0, 0
			i.cycles++
		}
	case InjectorOff:
		i.offCount++
		if i.offCount >= i.config.OffPeriod {
			i.onCount, i.offCount = 0, 0
			if i.cycles < i.config.Cycles {
				i.mode = InjectorOn
			} else {
				i.mode = InjectorExhausted
			}
		}
	}
	return i.mode == InjectorOn
}

// On reports whether the output is on.
func (i *Injector) On() bool {
	return i.mode == InjectorOn
}

// Mode returns the current mode.
func (i *Injector) Mode() InjectorMode {
	return i.mode
}

// Cycles returns the number of completed on periods.
func (i *Injector) Cycles() uint8 {
	return i.cycles
}

// Config returns the injector timing.
func (i *Injector) Config() InjectorConfig {
	return i.config
}
