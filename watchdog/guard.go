// Package watchdog bounds a wait by a budget of ticks.
//
// A Guard does not own a timer. Whoever owns the tick source calls Tick once
// per period and acts on the returned Outcome, so the guard can live inside
// any single goroutine that already selects on a ticker.
package watchdog

// Outcome is the result of one Tick.
type Outcome int

const (
	// Idle means the guard was not armed.
	Idle Outcome = iota
	// Counting means the window is still open.
	Counting
	// Released means the wait completed on its own and the guard disarmed.
	Released
	// Forced means the window lapsed and completion must be forced.
	Forced
)

func (o Outcome) String() string {
	switch o {
	case Idle:
		return "idle"
	case Counting:
		return "counting"
	case Released:
		return "released"
	case Forced:
		return "forced"
	default:
		return "unknown"
	}
}

// Guard counts ticks against a window.
type Guard struct {
	window    int
	count     int
	armed     bool
	sensitive bool
	failed    bool
}

// Arm starts a new window of the given number of ticks. The count always
// restarts from zero. When failureSensitive is set, a forced completion
// latches the Failed flag.
func (g *Guard) Arm(window int, failureSensitive bool) {
	g.window = window
	g.count = 0
	g.armed = true
	g.sensitive = failureSensitive
}

// Release disarms the guard after a natural completion.
func (g *Guard) Release() {
	g.count = 0
	g.armed = false
}

// Tick advances the guard by one period. completed reports whether the
// guarded wait finished since the previous tick.
//
// Forced is returned on the first tick where the count exceeds the window,
// that is after window+1 ticks.
func (g *Guard) Tick(completed bool) Outcome {
	if !g.armed {
		return Idle
	}
	if completed {
		g.Release()
		return Released
	}
	g.count++
	if g.count > g.window {
		g.count = 0
		g.armed = false
		if g.sensitive {
			g.failed = true
		}
		return Forced
	}
	return Counting
}

// Armed reports whether a window is open.
func (g *Guard) Armed() bool {
	return g.armed
}

// Count returns the ticks elapsed in the current window.
func (g *Guard) Count() int {
	return g.count
}

// Failed reports whether a failure-sensitive window was ever forced.
// The flag is sticky until Reset.
func (g *Guard) Failed() bool {
	return g.failed
}

// Reset clears the failure flag.
func (g *Guard) Reset() {
	g.failed = false
}
