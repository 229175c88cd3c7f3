package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"mpu6050-ng/internal/axis"
	"mpu6050-ng/internal/rate"
)

type hwCall struct {
	op  string
	ch  axis.Channel
	on  bool
	val uint8
}

type fakeHW struct {
	mu    sync.Mutex
	calls []hwCall

	// Optional failures.
	powerErr   error
	resetErr   error
	restoreErr error
	engineErr  error
	divErr     error
	lpfErr     error
}

func (f *fakeHW) record(c hwCall) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeHW) PowerSet(on bool) error {
	f.record(hwCall{op: "power", on: on})
	f.mu.Lock()
	defer f.mu.Unlock()
	if on {
		return f.powerErr
	}
	return nil
}

func (f *fakeHW) ChipReset() error {
	f.record(hwCall{op: "reset"})
	return f.resetErr
}

func (f *fakeHW) RestoreContext() error {
	f.record(hwCall{op: "restore"})
	return f.restoreErr
}

func (f *fakeHW) EngineSwitch(ch axis.Channel, on bool) error {
	f.record(hwCall{op: "engine", ch: ch, on: on})
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engineErr
}

func (f *fakeHW) WriteRateDivisor(div uint8) error {
	f.mu.Lock()
	err := f.divErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.record(hwCall{op: "divisor", val: div})
	return nil
}

func (f *fakeHW) WriteLPF(lpf rate.LPF) error {
	f.mu.Lock()
	err := f.lpfErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.record(hwCall{op: "lpf", val: uint8(lpf)})
	return nil
}

func (f *fakeHW) setEngineErr(err error) {
	f.mu.Lock()
	f.engineErr = err
	f.mu.Unlock()
}

func (f *fakeHW) setDivErr(err error) {
	f.mu.Lock()
	f.divErr = err
	f.mu.Unlock()
}

func (f *fakeHW) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.op)
	}
	return out
}

func (f *fakeHW) powerCalls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []bool
	for _, c := range f.calls {
		if c.op == "power" {
			out = append(out, c.on)
		}
	}
	return out
}

func (f *fakeHW) values(op string) []uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uint8
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c.val)
		}
	}
	return out
}

func (f *fakeHW) engineCalls(ch axis.Channel) []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []bool
	for _, c := range f.calls {
		if c.op == "engine" && c.ch == ch {
			out = append(out, c.on)
		}
	}
	return out
}

type fakeTimer struct {
	clk     *fakeClock
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) afterFunc(d time.Duration, f func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clk: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) created() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *fakeClock) live() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

func (c *fakeClock) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

func newTestCore(t *testing.T, opts Options) (*Core, *fakeHW, *fakeClock, chan Sample) {
	t.Helper()

	clk := &fakeClock{}
	oldAfter, oldSettle := afterFunc, settle
	afterFunc = clk.afterFunc
	settle = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	t.Cleanup(func() {
		afterFunc = oldAfter
		settle = oldSettle
	})

	hw := &fakeHW{}
	out := make(chan Sample, 64)
	c := New(hw, PublisherFunc(func(s Sample) { out <- s }), opts)
	t.Cleanup(func() { _ = c.Close() })
	return c, hw, clk, out
}

func recvSample(t *testing.T, out <-chan Sample) Sample {
	t.Helper()
	select {
	case s := <-out:
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for sample")
	}
	return Sample{}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitPowerTask(c *Core) {
	c.mu.Lock()
	t := c.task
	c.mu.Unlock()
	if t != nil {
		<-t.done
	}
}

func boolsEq(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
