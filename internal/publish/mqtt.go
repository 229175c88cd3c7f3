package publish

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"mpu6050-ng/internal/axis"
	"mpu6050-ng/internal/core"
)

type MQTTConfig struct {
	Broker   string
	ClientID string
	// Topic prefix; samples go to <prefix>/accel and <prefix>/gyro.
	Topic   string
	QoS     byte
	Retain  bool
	Queue   int
	Timeout time.Duration
}

type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes from its own goroutine so a slow broker never stalls
// the sampling workers. When the queue is full the sample is dropped.
type MQTTSink struct {
	cfg    MQTTConfig
	client mqttClient
	log    *log.Entry
	topics [axis.NumChannels]string

	queue chan core.Sample
	wg    sync.WaitGroup
	once  sync.Once

	mu      sync.Mutex
	dropped uint64
	failed  uint64
}

var connectMQTT = func(cfg MQTTConfig) (mqttClient, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out after %s", cfg.Broker, cfg.Timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	return client, nil
}

func NewMQTTSink(cfg MQTTConfig) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "mpu6050-ng"
	}
	if cfg.Topic == "" {
		cfg.Topic = "mpu6050"
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client, err := connectMQTT(cfg)
	if err != nil {
		return nil, err
	}
	return newMQTTSink(cfg, client), nil
}

func newMQTTSink(cfg MQTTConfig, client mqttClient) *MQTTSink {
	m := &MQTTSink{
		cfg:    cfg,
		client: client,
		log:    log.WithFields(log.Fields{"component": "publish", "sink": "mqtt", "broker": cfg.Broker}),
		queue:  make(chan core.Sample, cfg.Queue),
	}
	for ch := axis.Accel; ch < axis.NumChannels; ch++ {
		m.topics[ch] = cfg.Topic + "/" + ch.String()
	}
	m.wg.Add(1)
	go m.run()
	return m
}

func (m *MQTTSink) Publish(s core.Sample) {
	if !s.Channel.Valid() {
		return
	}
	select {
	case m.queue <- s:
	default:
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
	}
}

func (m *MQTTSink) run() {
	defer m.wg.Done()
	for s := range m.queue {
		payload, err := Marshal(s)
		if err != nil {
			continue
		}
		token := m.client.Publish(m.topics[s.Channel], m.cfg.QoS, m.cfg.Retain, payload)
		if !token.WaitTimeout(m.cfg.Timeout) || token.Error() != nil {
			m.mu.Lock()
			m.failed++
			m.mu.Unlock()
			m.log.WithError(token.Error()).Debug("publish failed")
		}
	}
}

// Stats returns how many samples were dropped on a full queue and how many
// publishes failed.
func (m *MQTTSink) Stats() (dropped, failed uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped, m.failed
}

// Close drains the queue and disconnects. Publish must not be called after.
func (m *MQTTSink) Close() error {
	m.once.Do(func() {
		close(m.queue)
		m.wg.Wait()
		m.client.Disconnect(250)
	})
	return nil
}
