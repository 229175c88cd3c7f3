package core

import (
	"sync"
	"time"

	"mpu6050-ng/internal/axis"
	"mpu6050-ng/internal/placement"
)

type timer interface {
	Stop() bool
}

var afterFunc = func(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

// scheduler is one channel's single-shot timer plus its worker. The timer
// callback only wakes the worker and re-arms; the worker does the sampling.
type scheduler struct {
	ch   axis.Channel
	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	stopOnce sync.Once

	// Guarded by Core.mu. gen invalidates callbacks of canceled timers.
	timer timer
	gen   uint64
}

func newScheduler(ch axis.Channel) *scheduler {
	return &scheduler{
		ch:   ch,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (c *Core) armLocked(ch axis.Channel, d time.Duration) {
	s := c.sched[ch]
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = afterFunc(d, func() { c.fire(ch, gen) })
}

func (c *Core) stopTimerLocked(ch axis.Channel) {
	s := c.sched[ch]
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (c *Core) fire(ch axis.Channel, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sched[ch]
	if gen != s.gen || c.state[ch] != Enabled || c.asleep {
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	c.armLocked(ch, c.interval[ch])
}

func (c *Core) runWorker(s *scheduler) {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}
		select {
		case <-s.stop:
			return
		default:
		}
		c.sampleOnce(s.ch)
	}
}

func (c *Core) sampleOnce(ch axis.Channel) {
	c.mu.Lock()
	if c.state[ch] != Enabled {
		c.mu.Unlock()
		return
	}
	if c.pending[ch] {
		c.pending[ch] = false
		fast := c.interval[ch] <= fastWakeInterval
		if fast != c.fastWake[ch] {
			c.log.WithField("channel", ch).WithField("fast_wake", fast).Debug("idle wake hint changed")
		}
		c.fastWake[ch] = fast
	}
	v := c.axes.Vector(ch)
	cal, calOn := c.cal, c.calOn
	c.mu.Unlock()

	v = placement.Remap(v, c.placement, ch)
	if ch == axis.Accel && calOn {
		v = cal.Apply(v)
	}
	c.pub.Publish(Sample{Channel: ch, Values: v, Time: c.now()})

	c.mu.Lock()
	c.published[ch]++
	c.mu.Unlock()
}

// stopScheduler marks stop, wakes the worker, joins it, then cancels the
// timer.
func (c *Core) stopScheduler(s *scheduler) {
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case s.wake <- struct{}{}:
	default:
	}
	<-s.done

	c.mu.Lock()
	c.stopTimerLocked(s.ch)
	c.mu.Unlock()
}
