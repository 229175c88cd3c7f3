// Package core coordinates the accelerometer and gyroscope channels of one
// sensor: their enable state, the shared power domain, the shared rate
// divisor and the per-channel sampling cadence.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"mpu6050-ng/internal/axis"
	"mpu6050-ng/internal/calibration"
	"mpu6050-ng/internal/placement"
	"mpu6050-ng/internal/rate"
)

// PowerUpDelay is how long the supply needs before the chip answers.
const PowerUpDelay = 100 * time.Millisecond

// Intervals at or below this put the worker in fast-wake (>= 100 Hz).
const fastWakeInterval = 10 * time.Millisecond

// settle waits d unless ctx is canceled first.
var settle = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Hardware is the chip-facing collaborator.
type Hardware interface {
	PowerSet(on bool) error
	// ChipReset is best effort; a returned error is logged and ignored.
	ChipReset() error
	RestoreContext() error
	EngineSwitch(ch axis.Channel, on bool) error
	WriteRateDivisor(div uint8) error
}

// LPFWriter is implemented by hardware that can program the filter.
type LPFWriter interface {
	WriteLPF(lpf rate.LPF) error
}

// AxisReader reads both engines in one transaction.
type AxisReader interface {
	ReadAxes() (axis.Raw, error)
}

type Sample struct {
	Channel axis.Channel `json:"channel"`
	Values  axis.Vector  `json:"values"`
	Time    time.Time    `json:"time"`
}

type Publisher interface {
	Publish(s Sample)
}

type PublisherFunc func(Sample)

func (f PublisherFunc) Publish(s Sample) { f(s) }

type State int

const (
	Disabled State = iota
	Enabling
	Enabled
	Disabling
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Enabling:
		return "enabling"
	case Enabled:
		return "enabled"
	case Disabling:
		return "disabling"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Mode selects how an interval change on an enabled channel takes effect.
type Mode int

const (
	// ModePolling re-arms the channel timer at once.
	ModePolling Mode = iota
	// ModeRateRegister relies on the negotiated divisor; a failed write
	// rolls the interval back.
	ModeRateRegister
)

type Options struct {
	Placement placement.Orientation
	Mode      Mode
	LPF       rate.LPF

	// Zero means rate.DefaultPollInterval.
	AccelInterval time.Duration
	GyroInterval  time.Duration

	// Batch suppresses timer arming for a channel.
	Batch [axis.NumChannels]bool
}

func DefaultOptions() Options {
	return Options{
		LPF:           rate.DefaultLPF,
		AccelInterval: rate.DefaultPollInterval,
		GyroInterval:  rate.DefaultPollInterval,
	}
}

type powerTask struct {
	ctx    context.Context
	cancel context.CancelFunc
	prev   <-chan struct{}
	gate   chan struct{}
	done   chan struct{}
	resume bool
	err    error // valid after done is closed
}

type Core struct {
	hw        Hardware
	pub       Publisher
	log       *log.Entry
	now       func() time.Time
	mode      Mode
	placement placement.Orientation

	ops    [axis.NumChannels]sync.Mutex
	rateMu sync.Mutex
	lpfMu  sync.Mutex

	mu        sync.Mutex
	state     [axis.NumChannels]State
	abort     [axis.NumChannels]bool
	interval  [axis.NumChannels]time.Duration
	pending   [axis.NumChannels]bool
	fastWake  [axis.NumChannels]bool
	batch     [axis.NumChannels]bool
	published [axis.NumChannels]uint64
	powerOn   bool
	hwPowered bool
	powerGate chan struct{}
	task      *powerTask
	divisor   uint8
	lpf       rate.LPF
	hwLPF     rate.LPF
	lpaFreq   int
	asleep    bool
	axes      axis.Raw
	cal       calibration.Offsets
	calOn     bool
	closed    bool
	sched     [axis.NumChannels]*scheduler
}

// New creates a core with both channels disabled and the domain unpowered,
// and starts the two sampling workers.
func New(hw Hardware, pub Publisher, opts Options) *Core {
	if opts.AccelInterval == 0 {
		opts.AccelInterval = rate.DefaultPollInterval
	}
	if opts.GyroInterval == 0 {
		opts.GyroInterval = rate.DefaultPollInterval
	}
	gate := make(chan struct{})
	close(gate)

	c := &Core{
		hw:        hw,
		pub:       pub,
		log:       log.WithField("component", "core"),
		now:       time.Now,
		mode:      opts.Mode,
		placement: opts.Placement,
		powerGate: gate,
		divisor:   rate.InitialDivisor,
		lpf:       opts.LPF,
		hwLPF:     opts.LPF,
		batch:     opts.Batch,
	}
	c.interval[axis.Accel] = rate.ClampPollInterval(opts.AccelInterval)
	c.interval[axis.Gyro] = rate.ClampPollInterval(opts.GyroInterval)
	for ch := axis.Accel; ch < axis.NumChannels; ch++ {
		c.sched[ch] = newScheduler(ch)
		go c.runWorker(c.sched[ch])
	}
	return c
}

// Enable switches one channel on or off. Enabling an enabled channel and
// disabling a disabled one are no-ops.
func (c *Core) Enable(ch axis.Channel, on bool) error {
	if !ch.Valid() {
		return wrap(ErrConfig, "enable", fmt.Errorf("invalid channel %d", int(ch)))
	}
	if on {
		return c.enable(ch)
	}
	return c.disable(ch)
}

func (c *Core) enable(ch axis.Channel) error {
	c.ops[ch].Lock()
	defer c.ops[ch].Unlock()

	l := c.log.WithField("channel", ch)

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return wrap(ErrBusy, "enable", errClosed)
	case c.asleep:
		c.mu.Unlock()
		return wrap(ErrBusy, "enable", errAsleep)
	case c.state[ch] == Enabled:
		c.mu.Unlock()
		return nil
	}
	c.state[ch] = Enabling
	c.abort[ch] = false
	c.syncPowerLocked()
	c.mu.Unlock()

	if err := c.ensurePower(ch); err != nil {
		l.WithError(err).Warn("enable: power up failed")
		c.rollbackEnable(ch, false)
		return err
	}

	if err := c.hw.EngineSwitch(ch, true); err != nil {
		l.WithError(err).Warn("enable: engine on failed")
		c.rollbackEnable(ch, false)
		return wrap(ErrBus, "enable", err)
	}

	if err := c.syncRegisters(); err != nil {
		l.WithError(err).Warn("enable: rate negotiation failed")
	}

	c.mu.Lock()
	if c.abort[ch] || c.closed {
		c.mu.Unlock()
		c.rollbackEnable(ch, true)
		return wrap(ErrBusy, "enable", errCanceled)
	}
	c.state[ch] = Enabled
	c.pending[ch] = true
	if !c.batch[ch] {
		c.armLocked(ch, c.interval[ch])
	}
	c.mu.Unlock()

	l.Info("channel enabled")
	return nil
}

func (c *Core) rollbackEnable(ch axis.Channel, engineOn bool) {
	if engineOn {
		if err := c.hw.EngineSwitch(ch, false); err != nil {
			c.log.WithField("channel", ch).WithError(err).Warn("enable rollback: engine off failed")
		}
	}
	c.mu.Lock()
	c.state[ch] = Disabled
	c.syncPowerLocked()
	c.mu.Unlock()
	c.maybePowerDown()
}

// ensurePower returns once the domain is powered and restored, running the
// power-up task itself when no other caller already is.
func (c *Core) ensurePower(ch axis.Channel) error {
	for {
		c.mu.Lock()
		if c.abort[ch] {
			c.mu.Unlock()
			return wrap(ErrBusy, "enable", errCanceled)
		}
		if c.closed {
			c.mu.Unlock()
			return wrap(ErrBusy, "enable", errClosed)
		}
		if c.hwPowered && c.task == nil {
			c.mu.Unlock()
			return nil
		}
		t := c.task
		owner := t == nil
		if owner {
			t = c.newPowerTaskLocked(false)
		}
		c.mu.Unlock()

		if owner {
			c.runPowerTask(t)
		} else {
			<-t.done
		}
		if t.err == nil {
			continue
		}
		if errors.Is(t.err, context.Canceled) {
			c.mu.Lock()
			retry := !c.abort[ch] && !c.closed
			c.mu.Unlock()
			if retry {
				// Canceled on behalf of the other channel.
				continue
			}
			return wrap(ErrBusy, "enable", errCanceled)
		}
		return t.err
	}
}

func (c *Core) disable(ch axis.Channel) error {
	// Preempt an in-flight enable before queuing behind it.
	c.mu.Lock()
	if c.state[ch] == Enabling {
		c.abort[ch] = true
		if c.task != nil && !c.activeLocked(ch.Other()) {
			c.task.cancel()
		}
	}
	c.mu.Unlock()

	c.ops[ch].Lock()
	defer c.ops[ch].Unlock()

	c.mu.Lock()
	if c.state[ch] == Disabled {
		c.mu.Unlock()
		return nil
	}
	for c.task != nil {
		t := c.task
		if !c.activeLocked(ch.Other()) {
			t.cancel()
		}
		c.mu.Unlock()
		<-t.done
		c.mu.Lock()
	}
	c.state[ch] = Disabling
	c.syncPowerLocked()
	c.stopTimerLocked(ch)
	powered := c.hwPowered && !c.asleep
	c.mu.Unlock()

	var err error
	if powered {
		if e := c.hw.EngineSwitch(ch, false); e != nil {
			c.log.WithField("channel", ch).WithError(e).Warn("disable: engine off failed")
			err = wrap(ErrBus, "disable", e)
		}
	}

	c.mu.Lock()
	c.state[ch] = Disabled
	c.syncPowerLocked()
	c.mu.Unlock()
	c.maybePowerDown()

	c.log.WithField("channel", ch).Info("channel disabled")
	return err
}

func (c *Core) activeLocked(ch axis.Channel) bool {
	return c.state[ch] == Enabling || c.state[ch] == Enabled
}

func (c *Core) syncPowerLocked() {
	c.powerOn = c.activeLocked(axis.Accel) || c.activeLocked(axis.Gyro)
}

// nextPowerGateLocked queues a physical power transition. The caller waits
// on prev, applies its transition, then closes gate.
func (c *Core) nextPowerGateLocked() (prev <-chan struct{}, gate chan struct{}) {
	prev = c.powerGate
	gate = make(chan struct{})
	c.powerGate = gate
	return prev, gate
}

func (c *Core) newPowerTaskLocked(resume bool) *powerTask {
	ctx, cancel := context.WithCancel(context.Background())
	prev, gate := c.nextPowerGateLocked()
	t := &powerTask{
		ctx:    ctx,
		cancel: cancel,
		prev:   prev,
		gate:   gate,
		done:   make(chan struct{}),
		resume: resume,
	}
	c.task = t
	c.hwPowered = true
	return t
}

func (c *Core) runPowerTask(t *powerTask) {
	defer close(t.done)

	err := c.powerUp(t)
	if err == nil && t.resume {
		c.restoreChannels()
	}

	c.mu.Lock()
	c.task = nil
	t.err = err
	if err != nil {
		c.hwPowered = false
		if t.resume {
			// A canceled resume means every channel was disabled meanwhile.
			c.asleep = !errors.Is(err, context.Canceled)
		}
	}
	c.mu.Unlock()
	t.cancel()
	close(t.gate)
}

func (c *Core) powerUp(t *powerTask) error {
	<-t.prev
	if err := t.ctx.Err(); err != nil {
		return err
	}
	if err := c.hw.PowerSet(true); err != nil {
		return wrap(ErrPower, "power up", err)
	}
	fail := func(err error) error {
		if e := c.hw.PowerSet(false); e != nil {
			c.log.WithError(e).Warn("power up: power off after failure")
		}
		return err
	}
	if err := settle(t.ctx, PowerUpDelay); err != nil {
		return fail(err)
	}
	if err := c.hw.ChipReset(); err != nil {
		c.log.WithError(err).Warn("chip reset not confirmed, continuing")
	}
	if err := c.hw.RestoreContext(); err != nil {
		return fail(wrap(ErrConfig, "restore context", err))
	}
	return nil
}

func (c *Core) maybePowerDown() {
	c.mu.Lock()
	if c.powerOn || !c.hwPowered || c.task != nil {
		c.mu.Unlock()
		return
	}
	c.hwPowered = false
	prev, gate := c.nextPowerGateLocked()
	c.mu.Unlock()
	c.applyPowerOff(prev, gate)
}

func (c *Core) applyPowerOff(prev <-chan struct{}, gate chan struct{}) {
	<-prev
	if err := c.hw.PowerSet(false); err != nil {
		c.log.WithError(err).Warn("power down failed")
	}
	close(gate)
	c.log.Debug("power domain off")
}

// syncRegisters programs the filter and the negotiated divisor when they
// differ from what the chip holds. Nothing is written while unpowered.
func (c *Core) syncRegisters() error {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()

	c.mu.Lock()
	if !c.hwPowered || c.asleep {
		c.mu.Unlock()
		return nil
	}
	lpf := c.lpf
	div := rate.Negotiate(c.interval[axis.Accel], c.interval[axis.Gyro], lpf)
	writeLPF := lpf != c.hwLPF
	writeDiv := div != c.divisor
	c.mu.Unlock()

	if writeLPF {
		if w, ok := c.hw.(LPFWriter); ok {
			if err := w.WriteLPF(lpf); err != nil {
				return wrap(ErrBus, "write lpf", err)
			}
		}
		c.mu.Lock()
		c.hwLPF = lpf
		c.mu.Unlock()
	}
	if writeDiv {
		if err := c.hw.WriteRateDivisor(div); err != nil {
			return wrap(ErrBus, "write divisor", err)
		}
		c.mu.Lock()
		c.divisor = div
		c.mu.Unlock()
		c.log.WithFields(log.Fields{
			"divisor": div,
			"lpf":     lpf,
			"odr_hz":  rate.OutputRateHz(div, lpf),
		}).Debug("rate divisor programmed")
	}
	return nil
}

// SetPollInterval changes a channel's requested interval, clamped to
// [rate.MinPollInterval, rate.MaxPollInterval]. A disabled channel picks it
// up at the next enable.
func (c *Core) SetPollInterval(ch axis.Channel, d time.Duration) error {
	if !ch.Valid() {
		return wrap(ErrConfig, "set interval", fmt.Errorf("invalid channel %d", int(ch)))
	}
	c.ops[ch].Lock()
	defer c.ops[ch].Unlock()

	d = rate.ClampPollInterval(d)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return wrap(ErrBusy, "set interval", errClosed)
	}
	if c.asleep {
		c.mu.Unlock()
		return wrap(ErrBusy, "set interval", errAsleep)
	}
	if d == c.interval[ch] {
		c.mu.Unlock()
		return nil
	}
	old, oldPending := c.interval[ch], c.pending[ch]
	c.interval[ch] = d
	c.pending[ch] = true
	enabled := c.state[ch] == Enabled
	if enabled && c.mode == ModePolling && !c.batch[ch] {
		c.armLocked(ch, d)
	}
	c.mu.Unlock()

	if !enabled {
		return nil
	}
	err := c.syncRegisters()
	if err == nil {
		return nil
	}
	if c.mode == ModePolling {
		c.log.WithField("channel", ch).WithError(err).Warn("set interval: rate negotiation failed")
		return nil
	}
	c.mu.Lock()
	c.interval[ch] = old
	c.pending[ch] = oldPending
	c.mu.Unlock()
	return err
}

// SetLPF changes the filter mode and renegotiates the divisor, since the
// filter selects the base rate. On a failed write the old mode is kept.
func (c *Core) SetLPF(lpf rate.LPF) error {
	if lpf > rate.Reserved {
		return wrap(ErrConfig, "set lpf", fmt.Errorf("invalid lpf %d", uint8(lpf)))
	}
	c.lpfMu.Lock()
	defer c.lpfMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return wrap(ErrBusy, "set lpf", errClosed)
	}
	if c.asleep {
		c.mu.Unlock()
		return wrap(ErrBusy, "set lpf", errAsleep)
	}
	old := c.lpf
	if old == lpf {
		c.mu.Unlock()
		return nil
	}
	c.lpf = lpf
	c.mu.Unlock()

	if err := c.syncRegisters(); err != nil {
		c.mu.Lock()
		c.lpf = old
		c.mu.Unlock()
		return err
	}
	return nil
}

// SetBatch marks a channel as batch-driven, which keeps its timer disarmed.
func (c *Core) SetBatch(ch axis.Channel, on bool) error {
	if !ch.Valid() {
		return wrap(ErrConfig, "set batch", fmt.Errorf("invalid channel %d", int(ch)))
	}
	c.ops[ch].Lock()
	defer c.ops[ch].Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.batch[ch] == on {
		return nil
	}
	c.batch[ch] = on
	if c.state[ch] == Enabled && !c.asleep {
		if on {
			c.stopTimerLocked(ch)
		} else {
			c.armLocked(ch, c.interval[ch])
		}
	}
	return nil
}

// SetLowPowerWakeFreq only records the value; it has no hardware effect.
func (c *Core) SetLowPowerWakeFreq(hz int) {
	c.mu.Lock()
	c.lpaFreq = hz
	c.mu.Unlock()
}

func (c *Core) LowPowerWakeFreq() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lpaFreq
}

// UpdateAxes stores the latest reading of both engines.
func (c *Core) UpdateAxes(raw axis.Raw) {
	c.mu.Lock()
	c.axes = raw
	c.mu.Unlock()
}

// SetCalibration replaces the accelerometer bias. A malformed record leaves
// the current bias in place.
func (c *Core) SetCalibration(buf []byte) error {
	off, err := calibration.Parse(buf)
	if err != nil {
		return wrap(ErrFormat, "set calibration", err)
	}
	c.mu.Lock()
	c.cal = off
	c.mu.Unlock()
	return nil
}

func (c *Core) EnableCalibration(on bool) {
	c.mu.Lock()
	c.calOn = on
	c.mu.Unlock()
}

func (c *Core) Calibration() (calibration.Offsets, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cal, c.calOn
}

func (c *Core) Placement() placement.Orientation { return c.placement }

// Close disables both channels, stops the workers and cancels the timers.
// It is safe to call more than once.
func (c *Core) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.task != nil && c.task.resume {
		c.task.cancel()
	}
	c.mu.Unlock()

	var errs []error
	for ch := axis.Accel; ch < axis.NumChannels; ch++ {
		if err := c.disable(ch); err != nil {
			errs = append(errs, err)
		}
	}
	for _, s := range c.sched {
		c.stopScheduler(s)
	}
	return errors.Join(errs...)
}
