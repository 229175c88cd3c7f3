package web

import (
	"sync/atomic"
	"time"

	"mpu6050-ng/internal/core"
	"mpu6050-ng/internal/feed"
)

// Status carries the process-level facts shown next to the core snapshot.
type Status struct {
	startUnixNano int64
	source        atomic.Value // string
	feed          atomic.Pointer[feed.Service]
	drops         atomic.Value // func() uint64
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.source.Store("")
	return s
}

// SetSource records where samples come from, e.g. "i2c:/dev/i2c-1@0x68" or "sim".
func (s *Status) SetSource(source string) {
	s.source.Store(source)
}

func (s *Status) SetFeed(f *feed.Service) {
	s.feed.Store(f)
}

// SetDrops installs a counter of samples the stream dropped for slow clients.
func (s *Status) SetDrops(fn func() uint64) {
	s.drops.Store(fn)
}

type StatusSnapshot struct {
	Service   string         `json:"service"`
	NowUTC    string         `json:"now_utc"`
	UptimeSec int64          `json:"uptime_sec"`
	Source    string         `json:"source,omitempty"`
	Sensor    core.Snapshot  `json:"sensor"`
	Feed      *feed.Snapshot `json:"feed,omitempty"`
	Dropped   uint64         `json:"stream_dropped"`
}

func (s *Status) Snapshot(nowUTC time.Time, sensor core.Snapshot) StatusSnapshot {
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	out := StatusSnapshot{
		Service:   "mpu6050-ng",
		NowUTC:    nowUTC.Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Sensor:    sensor,
	}
	out.Source, _ = s.source.Load().(string)
	if f := s.feed.Load(); f != nil {
		snap := f.Snapshot()
		out.Feed = &snap
	}
	if fn, ok := s.drops.Load().(func() uint64); ok && fn != nil {
		out.Dropped = fn()
	}
	return out
}
