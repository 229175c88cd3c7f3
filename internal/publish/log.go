package publish

import (
	log "github.com/sirupsen/logrus"

	"mpu6050-ng/internal/core"
)

// LogSink writes each sample at debug level.
type LogSink struct {
	Entry *log.Entry
}

func NewLogSink() *LogSink {
	return &LogSink{Entry: log.WithField("component", "sample")}
}

func (l *LogSink) Publish(s core.Sample) {
	if !l.Entry.Logger.IsLevelEnabled(log.DebugLevel) {
		return
	}
	l.Entry.WithFields(log.Fields{
		"channel": s.Channel,
		"x":       s.Values[0],
		"y":       s.Values[1],
		"z":       s.Values[2],
	}).Debug("sample")
}
