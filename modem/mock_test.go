package modem_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	gomock "go.uber.org/mock/gomock"
	"i4.energy/across/fieldctl/modem"
	"i4.energy/across/fieldctl/tick"
)

// expectIdleReads lets the Loop's reader block until closed is closed.
func expectIdleReads(transport *modem.MockTransport, closed <-chan struct{}) *gomock.Call {
	return transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
		<-closed
		return 0, io.EOF
	}).AnyTimes()
}

// harness runs a Modem over a TestTransport with a hand-driven watchdog.
type harness struct {
	t         *testing.T
	modem     *modem.Modem
	transport *modem.TestTransport
	watchdog  *tick.Manual
	loopErr   chan error
	cancel    context.CancelFunc
}

func newHarness(t *testing.T, configure func(*modem.ConfigBuilder)) *harness {
	t.Helper()

	transport := modem.NewTestTransport()
	watchdog := tick.NewManual()
	builder := modem.NewConfigBuilder().
		WithDialer(modem.TestDialer{Transport: transport}).
		WithWatchdogSource(watchdog).
		WithRetryInterval(time.Hour).
		WithPace(time.Microsecond).
		WithPromptDelay(time.Microsecond)
	if configure != nil {
		configure(builder)
	}
	config, err := builder.Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m, err := modem.New(ctx, config)
	if err != nil {
		cancel()
		t.Fatalf("failed to create modem: %v", err)
	}

	h := &harness{
		t:         t,
		modem:     m,
		transport: transport,
		watchdog:  watchdog,
		loopErr:   make(chan error, 1),
		cancel:    cancel,
	}
	go func() {
		h.loopErr <- m.Loop(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		watchdog.Stop()
		m.Close()
		select {
		case <-h.loopErr:
		case <-time.After(time.Second):
			t.Error("modem loop did not stop")
		}
	})
	return h
}

// respond answers every write that ends with suffix.
func (h *harness) respond(suffix, reply string) {
	h.transport.OnWrite(func(tr *modem.TestTransport, written []byte) {
		if strings.HasSuffix(string(written), suffix) {
			tr.SendData(reply)
		}
	})
}

// waitWrites blocks until at least n writes were recorded.
func (h *harness) waitWrites(n int) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.transport.Writes() < n {
		if time.Now().After(deadline) {
			h.t.Fatalf("expected %d writes, got %d", n, h.transport.Writes())
		}
		time.Sleep(time.Millisecond)
	}
}

// expire fires enough watchdog ticks to force a window.
func (h *harness) expire(window int) {
	h.watchdog.FireN(window + 1)
}
