// Package publish delivers core samples to consumers: the log, MQTT, UDP
// datagrams and in-process subscribers.
package publish

import (
	"encoding/json"
	"time"

	"mpu6050-ng/internal/core"
)

// Payload is the wire form of one sample.
type Payload struct {
	Channel string `json:"channel"`
	X       int16  `json:"x"`
	Y       int16  `json:"y"`
	Z       int16  `json:"z"`
	Time    string `json:"time"`
}

func NewPayload(s core.Sample) Payload {
	return Payload{
		Channel: s.Channel.String(),
		X:       s.Values[0],
		Y:       s.Values[1],
		Z:       s.Values[2],
		Time:    s.Time.UTC().Format(time.RFC3339Nano),
	}
}

func Marshal(s core.Sample) ([]byte, error) {
	return json.Marshal(NewPayload(s))
}

// Multi publishes to every non-nil sink in order.
type Multi []core.Publisher

func (m Multi) Publish(s core.Sample) {
	for _, p := range m {
		if p != nil {
			p.Publish(s)
		}
	}
}
