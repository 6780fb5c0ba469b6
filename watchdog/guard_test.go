package watchdog_test

import (
	"testing"

	"i4.energy/across/fieldctl/watchdog"
)

func TestGuardForced(t *testing.T) {
	tests := []struct {
		name   string
		window int
	}{
		{name: "Config window", window: 15},
		{name: "SMS window", window: 30},
		{name: "Zero window", window: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var g watchdog.Guard
			g.Arm(tt.window, false)

			for i := 1; i <= tt.window; i++ {
				if out := g.Tick(false); out != watchdog.Counting {
					t.Fatalf("tick %d: expected counting, got %v", i, out)
				}
			}
			if out := g.Tick(false); out != watchdog.Forced {
				t.Fatalf("tick %d: expected forced, got %v", tt.window+1, out)
			}
			if g.Count() != 0 {
				t.Errorf("expected count reset to 0, got %d", g.Count())
			}
			if g.Armed() {
				t.Error("guard should disarm after forcing")
			}
			if out := g.Tick(false); out != watchdog.Idle {
				t.Errorf("expected idle after forcing, got %v", out)
			}
			if g.Failed() {
				t.Error("insensitive guard must not latch failure")
			}
		})
	}
}

func TestGuardReleased(t *testing.T) {
	var g watchdog.Guard
	g.Arm(15, true)

	g.Tick(false)
	g.Tick(false)
	if out := g.Tick(true); out != watchdog.Released {
		t.Fatalf("expected released, got %v", out)
	}
	if g.Count() != 0 || g.Armed() {
		t.Errorf("expected disarmed with zero count, got armed=%v count=%d", g.Armed(), g.Count())
	}
	if g.Failed() {
		t.Error("released guard must not latch failure")
	}
}

func TestGuardRearmDiscardsStaleCount(t *testing.T) {
	var g watchdog.Guard
	g.Arm(5, false)
	for range 4 {
		g.Tick(false)
	}

	g.Arm(5, false)
	for i := 1; i <= 5; i++ {
		if out := g.Tick(false); out != watchdog.Counting {
			t.Fatalf("tick %d after re-arm: expected counting, got %v", i, out)
		}
	}
	if out := g.Tick(false); out != watchdog.Forced {
		t.Fatalf("expected forced on sixth tick, got %v", out)
	}
}

func TestGuardFailureSensitive(t *testing.T) {
	var g watchdog.Guard
	g.Arm(1, true)
	g.Tick(false)
	if out := g.Tick(false); out != watchdog.Forced {
		t.Fatalf("expected forced, got %v", out)
	}
	if !g.Failed() {
		t.Fatal("expected failure to latch")
	}

	// Sticky across later successful windows.
	g.Arm(1, true)
	g.Tick(true)
	if !g.Failed() {
		t.Error("failure flag should survive a released window")
	}

	g.Reset()
	if g.Failed() {
		t.Error("Reset should clear the failure flag")
	}
}

func TestGuardManualRelease(t *testing.T) {
	var g watchdog.Guard
	g.Arm(3, false)
	g.Tick(false)
	g.Release()
	if out := g.Tick(false); out != watchdog.Idle {
		t.Errorf("expected idle after Release, got %v", out)
	}
}
