package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"mpu6050-ng/internal/axis"
	"mpu6050-ng/internal/config"
	"mpu6050-ng/internal/core"
	"mpu6050-ng/internal/feed"
	"mpu6050-ng/internal/i2c"
	"mpu6050-ng/internal/mpu6050"
	"mpu6050-ng/internal/power"
	"mpu6050-ng/internal/publish"
	"mpu6050-ng/internal/sim"
	"mpu6050-ng/internal/web"
)

// Seams for tests.
var (
	openDevice = i2c.OpenDevice
	openPower  = power.Open
	newUDP     = publish.NewUDPSink
	newMQTT    = publish.NewMQTTSink
)

// hardware is what the runtime needs from the chip: the core's collaborator
// plus the register reads that feed it.
type hardware interface {
	core.Hardware
	core.AxisReader
}

type runtime struct {
	cfg    config.Config
	status *web.Status
	bc     *publish.Broadcaster
	core   *core.Core
	feed   *feed.Service
	chip   *sim.Chip

	// Closed in reverse order after the core is down.
	closers []io.Closer
}

func newRuntime(cfg config.Config) (_ *runtime, err error) {
	r := &runtime{
		cfg:    cfg,
		status: web.NewStatus(),
		bc:     publish.NewBroadcaster(),
	}
	defer func() {
		if err != nil {
			_ = r.Close()
		}
	}()

	hw, err := r.openHardware()
	if err != nil {
		return nil, err
	}
	pub, err := r.openSinks()
	if err != nil {
		return nil, err
	}

	r.core = core.New(hw, pub, coreOptions(cfg.Sensor))
	if rec := strings.TrimSpace(cfg.Sensor.Calibration); rec != "" {
		if err := r.core.SetCalibration([]byte(rec)); err != nil {
			return nil, err
		}
	}
	r.core.EnableCalibration(cfg.Sensor.CalibrationEnable)
	r.core.SetLowPowerWakeFreq(cfg.Sensor.LowPowerWakeHz)

	r.feed = feed.New(hw, r.core)
	r.feed.SetMinPeriod(cfg.Bus.MinReadPeriod)
	r.status.SetFeed(r.feed)
	r.status.SetDrops(r.bc.Drops)
	return r, nil
}

func (r *runtime) openHardware() (hardware, error) {
	if r.cfg.Sim.Enable {
		m := sim.Motion{Period: r.cfg.Sim.Period, TiltDeg: r.cfg.Sim.TiltDeg}
		copy(m.GyroBias[:], r.cfg.Sim.GyroBias)
		r.chip = sim.NewChip(m, r.cfg.Sensor.LPF)
		r.status.SetSource("sim")
		return r.chip, nil
	}

	dev, bus, err := openDevice(r.cfg.Bus.Transport, r.cfg.Bus.Path, r.cfg.Bus.Address)
	if err != nil {
		return nil, fmt.Errorf("open i2c: %w", err)
	}
	r.closers = append(r.closers, bus)

	sw, err := openPower(power.Config{GPIO: r.cfg.Power.GPIO, ActiveLow: r.cfg.Power.ActiveLow})
	if err != nil {
		return nil, fmt.Errorf("open power switch: %w", err)
	}
	r.closers = append(r.closers, sw)

	chip, err := mpu6050.New(dev, sw, r.cfg.Sensor.LPF)
	if err != nil {
		return nil, err
	}
	r.status.SetSource(fmt.Sprintf("i2c:%s:%s@0x%02x", r.cfg.Bus.Transport, r.cfg.Bus.Path, r.cfg.Bus.Address))
	return chip, nil
}

func (r *runtime) openSinks() (core.Publisher, error) {
	sinks := publish.Multi{r.bc}
	pc := r.cfg.Publish
	if pc.Log {
		sinks = append(sinks, publish.NewLogSink())
	}
	if pc.UDP.Enable {
		u, err := newUDP(pc.UDP.Dest)
		if err != nil {
			return nil, fmt.Errorf("udp sink: %w", err)
		}
		r.closers = append(r.closers, u)
		sinks = append(sinks, u)
	}
	if pc.MQTT.Enable {
		m, err := newMQTT(publish.MQTTConfig{
			Broker:   pc.MQTT.Broker,
			ClientID: pc.MQTT.ClientID,
			Topic:    pc.MQTT.Topic,
			QoS:      pc.MQTT.QoS,
			Retain:   pc.MQTT.Retain,
			Queue:    pc.MQTT.Queue,
			Timeout:  pc.MQTT.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("mqtt sink: %w", err)
		}
		r.closers = append(r.closers, m)
		sinks = append(sinks, m)
	}
	return sinks, nil
}

func coreOptions(s config.SensorConfig) core.Options {
	opts := core.DefaultOptions()
	opts.Placement = s.Placement
	opts.LPF = s.LPF
	opts.AccelInterval = s.AccelInterval
	opts.GyroInterval = s.GyroInterval
	opts.Batch[axis.Accel] = s.AccelBatch
	opts.Batch[axis.Gyro] = s.GyroBatch
	if s.Mode == config.ModeRateRegister {
		opts.Mode = core.ModeRateRegister
	}
	return opts
}

// Start enables the configured channels and begins reading the chip.
func (r *runtime) Start(ctx context.Context) error {
	if err := r.feed.Start(ctx); err != nil {
		return err
	}
	for _, name := range r.cfg.Sensor.Enable {
		ch, err := axis.ParseChannel(name)
		if err != nil {
			return err
		}
		if err := r.core.Enable(ch, true); err != nil {
			return fmt.Errorf("enable %s: %w", ch, err)
		}
	}
	return nil
}

func (r *runtime) Handler(logs *web.LogBuffer) http.Handler {
	return web.Handler(r.core, r.status, web.NewStream(r.bc), logs)
}

func (r *runtime) Close() error {
	var errs []error
	if r.feed != nil {
		r.feed.Close()
	}
	if r.core != nil {
		errs = append(errs, r.core.Close())
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i].Close())
	}
	r.closers = nil
	return errors.Join(errs...)
}
