package core

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"mpu6050-ng/internal/axis"
	"mpu6050-ng/internal/rate"
)

func TestEnable_PowersUpBeforeEngine(t *testing.T) {
	c, hw, _, _ := newTestCore(t, DefaultOptions())

	if err := c.Enable(axis.Accel, true); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	got := strings.Join(hw.ops(), ",")
	if want := "power,reset,restore,engine,divisor"; got != want {
		t.Fatalf("calls=%s want %s", got, want)
	}
	if div := hw.values("divisor"); len(div) != 1 || div[0] != 199 {
		t.Fatalf("divisor writes=%v want [199]", div)
	}
	s := c.Snapshot()
	if !s.PowerOn || !s.Powered {
		t.Fatalf("power_on=%v powered=%v want true,true", s.PowerOn, s.Powered)
	}
	if s.Channels[axis.Accel].State != "enabled" {
		t.Fatalf("state=%s want enabled", s.Channels[axis.Accel].State)
	}
}

func TestEnable_TwiceDoesNotDoubleArm(t *testing.T) {
	c, hw, clk, _ := newTestCore(t, DefaultOptions())

	for i := 0; i < 2; i++ {
		if err := c.Enable(axis.Gyro, true); err != nil {
			t.Fatalf("Enable #%d: %v", i, err)
		}
	}
	if n := clk.created(); n != 1 {
		t.Fatalf("timers created=%d want 1", n)
	}
	if n := len(clk.live()); n != 1 {
		t.Fatalf("live timers=%d want 1", n)
	}
	if got := hw.powerCalls(); !boolsEq(got, []bool{true}) {
		t.Fatalf("power calls=%v want [true]", got)
	}
}

func TestScenario_SharedDivisorWrittenOnce(t *testing.T) {
	opts := DefaultOptions()
	opts.LPF = rate.NoLpf
	c, hw, _, _ := newTestCore(t, opts)

	if err := c.Enable(axis.Gyro, true); err != nil {
		t.Fatalf("Enable gyro: %v", err)
	}
	if err := c.Enable(axis.Accel, true); err != nil {
		t.Fatalf("Enable accel: %v", err)
	}
	div := hw.values("divisor")
	if len(div) != 1 || div[0] != rate.Negotiate(200*time.Millisecond, 200*time.Millisecond, rate.NoLpf) {
		t.Fatalf("divisor writes=%v want exactly one of 255", div)
	}

	if err := c.Enable(axis.Gyro, false); err != nil {
		t.Fatalf("Disable gyro: %v", err)
	}
	s := c.Snapshot()
	if !s.PowerOn || !s.Powered {
		t.Fatalf("power_on=%v powered=%v want true,true", s.PowerOn, s.Powered)
	}
	if got := hw.powerCalls(); !boolsEq(got, []bool{true}) {
		t.Fatalf("power calls=%v want [true]", got)
	}
}

func TestDisable_LastChannelPowersDown(t *testing.T) {
	c, hw, clk, _ := newTestCore(t, DefaultOptions())

	if err := c.Enable(axis.Accel, true); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := c.Enable(axis.Accel, false); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if got := hw.engineCalls(axis.Accel); !boolsEq(got, []bool{true, false}) {
		t.Fatalf("engine calls=%v want [true false]", got)
	}
	if got := hw.powerCalls(); !boolsEq(got, []bool{true, false}) {
		t.Fatalf("power calls=%v want [true false]", got)
	}
	if n := len(clk.live()); n != 0 {
		t.Fatalf("live timers=%d want 0", n)
	}
	s := c.Snapshot()
	if s.PowerOn || s.Powered {
		t.Fatalf("power_on=%v powered=%v want false,false", s.PowerOn, s.Powered)
	}

	// Disabling again is a no-op.
	if err := c.Enable(axis.Accel, false); err != nil {
		t.Fatalf("second Disable: %v", err)
	}
	if got := hw.powerCalls(); len(got) != 2 {
		t.Fatalf("power calls=%v want 2 entries", got)
	}
}

func TestEnable_PowerFailureRollsBack(t *testing.T) {
	c, hw, clk, _ := newTestCore(t, DefaultOptions())
	hw.powerErr = errors.New("regulator")

	err := c.Enable(axis.Gyro, true)
	if !errors.Is(err, ErrPower) {
		t.Fatalf("err=%v want ErrPower", err)
	}
	if st := c.State(axis.Gyro); st != Disabled {
		t.Fatalf("state=%v want disabled", st)
	}
	s := c.Snapshot()
	if s.PowerOn || s.Powered {
		t.Fatalf("power_on=%v powered=%v want false,false", s.PowerOn, s.Powered)
	}
	if clk.created() != 0 {
		t.Fatalf("timer armed after failed enable")
	}
	if len(hw.engineCalls(axis.Gyro)) != 0 {
		t.Fatalf("engine switched without power")
	}
}

func TestEnable_RestoreFailurePowersOff(t *testing.T) {
	c, hw, _, _ := newTestCore(t, DefaultOptions())
	hw.restoreErr = errors.New("nack")

	err := c.Enable(axis.Accel, true)
	if KindOf(err) != ErrConfig {
		t.Fatalf("kind=%q want %q (err=%v)", KindOf(err), ErrConfig, err)
	}
	if got := hw.powerCalls(); !boolsEq(got, []bool{true, false}) {
		t.Fatalf("power calls=%v want [true false]", got)
	}
	if c.Snapshot().PowerOn {
		t.Fatalf("power_on=true after failed enable")
	}
}

func TestEnable_ResetNotConfirmedIsNotFatal(t *testing.T) {
	c, hw, _, _ := newTestCore(t, DefaultOptions())
	hw.resetErr = errors.New("reset bit stuck")

	if err := c.Enable(axis.Accel, true); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if c.State(axis.Accel) != Enabled {
		t.Fatalf("state=%v want enabled", c.State(axis.Accel))
	}
}

func TestEnable_EngineFailureRollsBack(t *testing.T) {
	c, hw, clk, _ := newTestCore(t, DefaultOptions())
	hw.setEngineErr(errors.New("i2c timeout"))

	if err := c.Enable(axis.Gyro, true); !errors.Is(err, ErrBus) {
		t.Fatalf("err=%v want ErrBus", err)
	}
	if got := hw.powerCalls(); !boolsEq(got, []bool{true, false}) {
		t.Fatalf("power calls=%v want [true false]", got)
	}
	if clk.created() != 0 {
		t.Fatalf("timer armed after failed enable")
	}
}

func TestEnable_RateFailureIsNotFatal(t *testing.T) {
	c, hw, clk, _ := newTestCore(t, DefaultOptions())
	hw.setDivErr(errors.New("nack"))

	if err := c.Enable(axis.Accel, true); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if clk.created() != 1 {
		t.Fatalf("timers created=%d want 1", clk.created())
	}
	if d := c.Snapshot().Divisor; d != rate.InitialDivisor {
		t.Fatalf("divisor=%d want %d", d, rate.InitialDivisor)
	}
}

func TestDisable_CancelsInflightPowerUp(t *testing.T) {
	c, hw, clk, _ := newTestCore(t, DefaultOptions())

	entered := make(chan struct{}, 1)
	settle = func(ctx context.Context, _ time.Duration) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}

	errc := make(chan error, 1)
	go func() { errc <- c.Enable(axis.Gyro, true) }()
	<-entered

	if err := c.Enable(axis.Gyro, false); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if err := <-errc; !errors.Is(err, ErrBusy) {
		t.Fatalf("enable err=%v want ErrBusy", err)
	}

	s := c.Snapshot()
	if s.PowerOn || s.Powered {
		t.Fatalf("power_on=%v powered=%v want false,false", s.PowerOn, s.Powered)
	}
	if s.Channels[axis.Gyro].State != "disabled" {
		t.Fatalf("state=%s want disabled", s.Channels[axis.Gyro].State)
	}
	if got := hw.powerCalls(); !boolsEq(got, []bool{true, false}) {
		t.Fatalf("power calls=%v want [true false]", got)
	}
	if len(hw.engineCalls(axis.Gyro)) != 0 {
		t.Fatalf("engine switched during canceled enable")
	}
	if clk.created() != 0 {
		t.Fatalf("timer armed during canceled enable")
	}
}

func TestDisable_KeepsPowerUpNeededByOtherChannel(t *testing.T) {
	c, hw, _, _ := newTestCore(t, DefaultOptions())

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	settle = func(ctx context.Context, _ time.Duration) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
			return nil
		}
	}

	accelErr := make(chan error, 1)
	go func() { accelErr <- c.Enable(axis.Accel, true) }()
	<-entered

	gyroErr := make(chan error, 1)
	go func() { gyroErr <- c.Enable(axis.Gyro, true) }()
	waitFor(t, "gyro enabling", func() bool { return c.State(axis.Gyro) == Enabling })

	disErr := make(chan error, 1)
	go func() { disErr <- c.Enable(axis.Accel, false) }()
	waitFor(t, "accel abort", func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.abort[axis.Accel]
	})
	close(release)

	if err := <-accelErr; !errors.Is(err, ErrBusy) {
		t.Fatalf("accel enable err=%v want ErrBusy", err)
	}
	if err := <-disErr; err != nil {
		t.Fatalf("accel disable: %v", err)
	}
	if err := <-gyroErr; err != nil {
		t.Fatalf("gyro enable: %v", err)
	}
	if c.State(axis.Gyro) != Enabled || c.State(axis.Accel) != Disabled {
		t.Fatalf("states accel=%v gyro=%v", c.State(axis.Accel), c.State(axis.Gyro))
	}
	if got := hw.powerCalls(); !boolsEq(got, []bool{true}) {
		t.Fatalf("power calls=%v want [true]", got)
	}
}

func TestDisable_EngineOffFailureStillCompletes(t *testing.T) {
	c, hw, clk, _ := newTestCore(t, DefaultOptions())

	if err := c.Enable(axis.Accel, true); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	hw.setEngineErr(errors.New("nack"))

	if err := c.Enable(axis.Accel, false); !errors.Is(err, ErrBus) {
		t.Fatalf("err=%v want ErrBus", err)
	}
	if c.State(axis.Accel) != Disabled {
		t.Fatalf("state=%v want disabled", c.State(axis.Accel))
	}
	if n := len(clk.live()); n != 0 {
		t.Fatalf("live timers=%d want 0", n)
	}
	if c.Snapshot().Powered {
		t.Fatalf("still powered after disable")
	}
}

func TestSetPollInterval_ClampsAndRearms(t *testing.T) {
	c, _, clk, out := newTestCore(t, DefaultOptions())

	if err := c.Enable(axis.Gyro, true); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	first := clk.last()
	if first.d != 200*time.Millisecond {
		t.Fatalf("armed %v want 200ms", first.d)
	}
	first.f()
	recvSample(t, out)
	waitFor(t, "pending consumed", func() bool { return !c.Snapshot().Channels[axis.Gyro].Pending })

	if err := c.SetPollInterval(axis.Gyro, 5*time.Millisecond); err != nil {
		t.Fatalf("SetPollInterval: %v", err)
	}
	if got := c.PollInterval(axis.Gyro); got != rate.MinPollInterval {
		t.Fatalf("interval=%v want %v", got, rate.MinPollInterval)
	}
	st := c.Snapshot().Channels[axis.Gyro]
	if !st.Pending {
		t.Fatalf("pending=false want true")
	}
	live := clk.live()
	if len(live) != 1 || live[0].d != 10*time.Millisecond {
		t.Fatalf("live timers=%d want one at 10ms", len(live))
	}

	live[0].f()
	recvSample(t, out)
	if next := clk.last(); next.d != 10*time.Millisecond {
		t.Fatalf("re-armed at %v want 10ms", next.d)
	}
	waitFor(t, "fast wake", func() bool { return c.Snapshot().Channels[axis.Gyro].FastWake })
}

func TestSetPollInterval_DisabledTakesEffectAtEnable(t *testing.T) {
	c, hw, clk, _ := newTestCore(t, DefaultOptions())

	if err := c.SetPollInterval(axis.Accel, 50*time.Millisecond); err != nil {
		t.Fatalf("SetPollInterval: %v", err)
	}
	if clk.created() != 0 || len(hw.ops()) != 0 {
		t.Fatalf("disabled channel touched timer or hardware")
	}
	if err := c.Enable(axis.Accel, true); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if d := clk.last().d; d != 50*time.Millisecond {
		t.Fatalf("armed %v want 50ms", d)
	}
	if div := hw.values("divisor"); len(div) != 1 || div[0] != 49 {
		t.Fatalf("divisor writes=%v want [49]", div)
	}
}

func TestSetPollInterval_UnchangedIsNoOp(t *testing.T) {
	c, hw, clk, _ := newTestCore(t, DefaultOptions())

	if err := c.Enable(axis.Accel, true); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	before, calls := clk.created(), len(hw.ops())
	if err := c.SetPollInterval(axis.Accel, 200*time.Millisecond); err != nil {
		t.Fatalf("SetPollInterval: %v", err)
	}
	if clk.created() != before || len(hw.ops()) != calls {
		t.Fatalf("unchanged interval re-armed or wrote hardware")
	}
}

func TestSetPollInterval_RateRegisterRollsBack(t *testing.T) {
	opts := DefaultOptions()
	opts.Mode = ModeRateRegister
	c, hw, clk, out := newTestCore(t, opts)

	if err := c.Enable(axis.Accel, true); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	// Let one sample consume the pending flag set by Enable.
	clk.last().f()
	recvSample(t, out)
	waitFor(t, "pending cleared", func() bool {
		return !c.Snapshot().Channels[axis.Accel].Pending
	})
	hw.setDivErr(errors.New("nack"))

	if err := c.SetPollInterval(axis.Accel, 50*time.Millisecond); !errors.Is(err, ErrBus) {
		t.Fatalf("err=%v want ErrBus", err)
	}
	if got := c.PollInterval(axis.Accel); got != 200*time.Millisecond {
		t.Fatalf("interval=%v want 200ms after rollback", got)
	}
	if c.Snapshot().Channels[axis.Accel].Pending {
		t.Fatalf("pending left set after rollback")
	}

	hw.setDivErr(nil)
	if err := c.SetPollInterval(axis.Accel, 50*time.Millisecond); err != nil {
		t.Fatalf("SetPollInterval: %v", err)
	}
	if d := c.Snapshot().Divisor; d != 49 {
		t.Fatalf("divisor=%d want 49", d)
	}
}

func TestSetLPF_RenegotiatesAndRollsBack(t *testing.T) {
	c, hw, _, _ := newTestCore(t, DefaultOptions())

	if err := c.Enable(axis.Accel, true); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := c.SetLPF(rate.NoLpf); err != nil {
		t.Fatalf("SetLPF: %v", err)
	}
	if got := hw.values("lpf"); len(got) != 1 || got[0] != uint8(rate.NoLpf) {
		t.Fatalf("lpf writes=%v want [0]", got)
	}
	s := c.Snapshot()
	if s.Divisor != 255 || s.LPF != "256hz" {
		t.Fatalf("divisor=%d lpf=%s want 255,256hz", s.Divisor, s.LPF)
	}

	hw.lpfErr = errors.New("nack")
	if err := c.SetLPF(rate.Lpf5); !errors.Is(err, ErrBus) {
		t.Fatalf("err=%v want ErrBus", err)
	}
	if got := c.Snapshot().LPF; got != "256hz" {
		t.Fatalf("lpf=%s want 256hz after rollback", got)
	}
	if err := c.SetLPF(rate.LPF(9)); KindOf(err) != ErrConfig {
		t.Fatalf("kind=%q want config", KindOf(err))
	}
}

func TestSetLPF_UnpoweredIsDeferred(t *testing.T) {
	c, hw, _, _ := newTestCore(t, DefaultOptions())

	if err := c.SetLPF(rate.Lpf98); err != nil {
		t.Fatalf("SetLPF: %v", err)
	}
	if len(hw.ops()) != 0 {
		t.Fatalf("wrote hardware while unpowered: %v", hw.ops())
	}
	if err := c.Enable(axis.Gyro, true); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if got := hw.values("lpf"); len(got) != 1 || got[0] != uint8(rate.Lpf98) {
		t.Fatalf("lpf writes=%v want [2]", got)
	}
}

func TestSetCalibration_MalformedKeepsState(t *testing.T) {
	c, _, _, _ := newTestCore(t, DefaultOptions())

	if err := c.SetCalibration([]byte("1,2,3")); err != nil {
		t.Fatalf("SetCalibration: %v", err)
	}
	c.EnableCalibration(true)

	err := c.SetCalibration([]byte("1,two,3"))
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("err=%v want ErrFormat", err)
	}
	off, on := c.Calibration()
	if off.String() != "1,2,3" || !on {
		t.Fatalf("calibration=%v,%v want 1,2,3,true", off, on)
	}
}

func TestSetLowPowerWakeFreq_StoresOnly(t *testing.T) {
	c, hw, _, _ := newTestCore(t, DefaultOptions())

	c.SetLowPowerWakeFreq(20)
	if got := c.LowPowerWakeFreq(); got != 20 {
		t.Fatalf("freq=%d want 20", got)
	}
	if len(hw.ops()) != 0 {
		t.Fatalf("hardware touched: %v", hw.ops())
	}
}

func TestSetBatch_SuppressesTimer(t *testing.T) {
	opts := DefaultOptions()
	opts.Batch[axis.Accel] = true
	c, _, clk, _ := newTestCore(t, opts)

	if err := c.Enable(axis.Accel, true); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if clk.created() != 0 {
		t.Fatalf("batch channel armed a timer")
	}
	if err := c.SetBatch(axis.Accel, false); err != nil {
		t.Fatalf("SetBatch: %v", err)
	}
	if len(clk.live()) != 1 {
		t.Fatalf("live timers=%d want 1", len(clk.live()))
	}
	if err := c.SetBatch(axis.Accel, true); err != nil {
		t.Fatalf("SetBatch: %v", err)
	}
	if len(clk.live()) != 0 {
		t.Fatalf("live timers=%d want 0", len(clk.live()))
	}
}

func TestSuspendResume(t *testing.T) {
	c, hw, clk, _ := newTestCore(t, DefaultOptions())

	if err := c.Enable(axis.Accel, true); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := c.Suspend(); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if got := hw.powerCalls(); !boolsEq(got, []bool{true, false}) {
		t.Fatalf("power calls=%v want [true false]", got)
	}
	if len(clk.live()) != 0 {
		t.Fatalf("timer still armed while asleep")
	}
	if c.State(axis.Accel) != Enabled {
		t.Fatalf("suspend changed channel state to %v", c.State(axis.Accel))
	}

	if err := c.Enable(axis.Gyro, true); !errors.Is(err, ErrBusy) {
		t.Fatalf("enable err=%v want ErrBusy", err)
	}
	if err := c.SetPollInterval(axis.Accel, time.Second); !errors.Is(err, ErrBusy) {
		t.Fatalf("set interval err=%v want ErrBusy", err)
	}
	if err := c.SetLPF(rate.Lpf5); !errors.Is(err, ErrBusy) {
		t.Fatalf("set lpf err=%v want ErrBusy", err)
	}
	if c.State(axis.Gyro) != Disabled || c.PollInterval(axis.Accel) != 200*time.Millisecond {
		t.Fatalf("busy call mutated state")
	}

	if err := c.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitPowerTask(c)

	if got := hw.powerCalls(); !boolsEq(got, []bool{true, false, true}) {
		t.Fatalf("power calls=%v want [true false true]", got)
	}
	if got := hw.engineCalls(axis.Accel); !boolsEq(got, []bool{true, false, true}) {
		t.Fatalf("engine calls=%v want [true false true]", got)
	}
	if len(clk.live()) != 1 {
		t.Fatalf("live timers=%d want 1 after resume", len(clk.live()))
	}
	s := c.Snapshot()
	if s.Asleep || !s.Powered {
		t.Fatalf("asleep=%v powered=%v after resume", s.Asleep, s.Powered)
	}
}

func TestDisable_CancelsPendingResume(t *testing.T) {
	c, hw, clk, _ := newTestCore(t, DefaultOptions())

	if err := c.Enable(axis.Accel, true); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := c.Suspend(); err != nil {
		t.Fatalf("Suspend: %v", err)
	}

	entered := make(chan struct{}, 1)
	settle = func(ctx context.Context, _ time.Duration) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}
	if err := c.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	<-entered

	if err := c.Enable(axis.Accel, false); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	s := c.Snapshot()
	if s.PowerOn || s.Powered || s.Asleep {
		t.Fatalf("power_on=%v powered=%v asleep=%v want all false", s.PowerOn, s.Powered, s.Asleep)
	}
	if got := hw.powerCalls(); !boolsEq(got, []bool{true, false, true, false}) {
		t.Fatalf("power calls=%v want [true false true false]", got)
	}
	if len(clk.live()) != 0 {
		t.Fatalf("timer armed after canceled resume")
	}
}

func TestDisable_WhileSuspendedIsBookkeepingOnly(t *testing.T) {
	c, hw, _, _ := newTestCore(t, DefaultOptions())

	if err := c.Enable(axis.Gyro, true); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := c.Suspend(); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	n := len(hw.ops())
	if err := c.Enable(axis.Gyro, false); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if len(hw.ops()) != n {
		t.Fatalf("hardware touched while suspended: %v", hw.ops()[n:])
	}
	if c.Snapshot().PowerOn {
		t.Fatalf("power_on=true with both channels disabled")
	}
}

func TestPowerOnTracksStates_Sequential(t *testing.T) {
	c, _, _, _ := newTestCore(t, DefaultOptions())
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 400; i++ {
		ch := axis.Channel(rng.Intn(2))
		var err error
		switch rng.Intn(3) {
		case 0:
			err = c.Enable(ch, true)
		case 1:
			err = c.Enable(ch, false)
		case 2:
			err = c.SetPollInterval(ch, time.Duration(1+rng.Intn(300))*time.Millisecond)
		}
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		checkPowerInvariant(t, c)
		if s := c.Snapshot(); s.Powered != s.PowerOn {
			t.Fatalf("step %d: powered=%v power_on=%v", i, s.Powered, s.PowerOn)
		}
	}
}

func TestPowerOnTracksStates_Concurrent(t *testing.T) {
	c, _, _, _ := newTestCore(t, DefaultOptions())

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				ch := axis.Channel(rng.Intn(2))
				switch rng.Intn(3) {
				case 0:
					_ = c.Enable(ch, true)
				case 1:
					_ = c.Enable(ch, false)
				case 2:
					_ = c.SetPollInterval(ch, time.Duration(1+rng.Intn(300))*time.Millisecond)
				}
				checkPowerInvariant(t, c)
			}
		}(int64(w))
	}
	wg.Wait()

	for ch := axis.Accel; ch < axis.NumChannels; ch++ {
		if err := c.Enable(ch, false); err != nil {
			t.Fatalf("Disable %v: %v", ch, err)
		}
	}
	if s := c.Snapshot(); s.PowerOn || s.Powered {
		t.Fatalf("power_on=%v powered=%v want false,false", s.PowerOn, s.Powered)
	}
}

func checkPowerInvariant(t *testing.T, c *Core) {
	t.Helper()
	s := c.Snapshot()
	active := false
	for _, st := range s.Channels {
		if st.State == "enabling" || st.State == "enabled" {
			active = true
		}
	}
	if s.PowerOn != active {
		t.Errorf("power_on=%v but active=%v (%+v)", s.PowerOn, active, s.Channels)
	}
}

func TestClose_IsIdempotentAndRejectsEnable(t *testing.T) {
	c, hw, clk, _ := newTestCore(t, DefaultOptions())

	if err := c.Enable(axis.Accel, true); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := hw.powerCalls(); !boolsEq(got, []bool{true, false}) {
		t.Fatalf("power calls=%v want [true false]", got)
	}
	if len(clk.live()) != 0 {
		t.Fatalf("timers left armed after Close")
	}
	if err := c.Enable(axis.Gyro, true); !errors.Is(err, ErrBusy) {
		t.Fatalf("err=%v want ErrBusy", err)
	}
}

func TestEnable_InvalidChannel(t *testing.T) {
	c, _, _, _ := newTestCore(t, DefaultOptions())
	if err := c.Enable(axis.Channel(7), true); KindOf(err) != ErrConfig {
		t.Fatalf("kind=%q want config", KindOf(err))
	}
}
