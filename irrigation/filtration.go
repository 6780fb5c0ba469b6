package irrigation

// Stage is a step of the filtration backflush sequence.
type Stage uint8

const (
	StageDisabled Stage = iota
	StageDelay1
	StageOn1
	StageDelay2
	StageOn2
	StageDelay3
	StageOn3
	StageSeparation
)

var stageNames = [...]string{"disabled", "delay1", "on1", "delay2", "on2", "delay3", "on3", "separation"}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

// FiltrationConfig holds the filtration timing in ticks.
type FiltrationConfig struct {
	Enabled bool
	Delay1  uint8
	Delay2  uint8
	// Delay3 is reported back to the user but the third delay stage runs
	// on Delay2.
	Delay3     uint8
	OnTime     uint8
	Separation uint16
}

// Filtration flushes the three filters in turn while the motor runs:
// wait Delay1, flush filter 1 for OnTime, wait Delay2, flush filter 2,
// wait Delay2 again, flush filter 3, then rest for Separation and repeat.
type Filtration struct {
	config FiltrationConfig
	stage  Stage
	count  uint16
}

// NewFiltration returns a disabled sequence with the given timing.
func NewFiltration(config FiltrationConfig) Filtration {
	return Filtration{config: config}
}

// Config returns the timing.
func (f *Filtration) Config() FiltrationConfig {
	return f.config
}

// Start begins the sequence at Delay1 if filtration is enabled.
func (f *Filtration) Start() {
	f.count = 0
	if f.config.Enabled {
		f.stage = StageDelay1
	} else {
		f.stage = StageDisabled
	}
}

// Stop disables the sequence.
func (f *Filtration) Stop() {
	f.stage, f.count = StageDisabled, 0
}

// Stage returns the current stage.
func (f *Filtration) Stage() Stage {
	return f.stage
}

// Filter returns the filter being flushed, 1 to 3, or zero.
func (f *Filtration) Filter() int {
	switch f.stage {
	case StageOn1:
		return 1
	case StageOn2:
		return 2
	case StageOn3:
		return 3
	default:
		return 0
	}
}

func (f *Filtration) target() uint16 {
	switch f.stage {
	case StageDelay1:
		return uint16(f.config.Delay1)
	case StageOn1, StageOn2, StageOn3:
		return uint16(f.config.OnTime)
	case StageDelay2, StageDelay3:
		return uint16(f.config.Delay2)
	case StageSeparation:
		return f.config.Separation
	default:
		return 0
	}
}

// Tick advances the sequence by one tick and reports whether the stage
// changed.
func (f *Filtration) Tick() bool {
	if f.stage == StageDisabled {
		f.count = 0
		return false
	}
	f.count++
	if f.count < f.target() {
		return false
	}
	f.count = 0
	if f.stage == StageSeparation {
		f.stage = StageDelay1
	} else {
		f.stage++
	}
	return true
}
