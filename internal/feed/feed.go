// Package feed keeps the core's latest axis reading current by reading the
// chip at its output data rate.
package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"mpu6050-ng/internal/axis"
	"mpu6050-ng/internal/core"
)

var afterFn = time.After

const (
	// MinPeriod caps the bus load when the chip runs at kHz rates.
	MinPeriod = 2 * time.Millisecond
	// idlePeriod is the recheck interval while the chip is unpowered.
	idlePeriod = 50 * time.Millisecond
)

type Target interface {
	UpdateAxes(raw axis.Raw)
	Snapshot() core.Snapshot
}

type Snapshot struct {
	Reads      uint64    `json:"reads"`
	Errors     uint64    `json:"errors"`
	PeriodUS   int64     `json:"period_us"`
	LastReadAt time.Time `json:"last_read_utc,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

type Service struct {
	src core.AxisReader
	dst Target
	log *log.Entry
	min time.Duration

	mu   sync.RWMutex
	snap Snapshot

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(src core.AxisReader, dst Target) *Service {
	return &Service{
		src:    src,
		dst:    dst,
		log:    log.WithField("component", "feed"),
		min:    MinPeriod,
		stopCh: make(chan struct{}),
	}
}

// SetMinPeriod raises the floor between reads. Values below MinPeriod are
// ignored. Call before Start.
func (s *Service) SetMinPeriod(d time.Duration) {
	if d > MinPeriod {
		s.min = d
	}
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.src == nil || s.dst == nil {
		return fmt.Errorf("feed: source and target required")
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			wait := s.step()
			select {
			case <-afterFn(wait):
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
		}
	}()
	return nil
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// step performs one read when the chip is up and returns the wait until the
// next one.
func (s *Service) step() time.Duration {
	cs := s.dst.Snapshot()
	if !cs.Powered || cs.Asleep || !cs.PowerOn {
		return idlePeriod
	}
	period := time.Duration(cs.SampleIntervalUS) * time.Microsecond
	if period < s.min {
		period = s.min
	}

	raw, err := s.src.ReadAxes()
	if err != nil {
		s.log.WithError(err).Debug("axis read failed")
		s.mu.Lock()
		s.snap.Errors++
		s.snap.LastError = err.Error()
		s.snap.PeriodUS = period.Microseconds()
		s.mu.Unlock()
		return period
	}
	s.dst.UpdateAxes(raw)

	s.mu.Lock()
	s.snap.Reads++
	s.snap.LastReadAt = time.Now().UTC()
	s.snap.PeriodUS = period.Microseconds()
	s.mu.Unlock()
	return period
}
