package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mpu6050-ng/internal/feed"
	"mpu6050-ng/internal/i2c"
	"mpu6050-ng/internal/placement"
	"mpu6050-ng/internal/rate"
)

type Config struct {
	Log     LogConfig     `yaml:"log"`
	Sensor  SensorConfig  `yaml:"sensor"`
	Bus     BusConfig     `yaml:"bus"`
	Power   PowerConfig   `yaml:"power"`
	Sim     SimConfig     `yaml:"sim"`
	Publish PublishConfig `yaml:"publish"`
	Web     WebConfig     `yaml:"web"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// JSON switches logrus to the JSON formatter.
	JSON bool `yaml:"json"`
}

const (
	ModePolling      = "polling"
	ModeRateRegister = "rate_register"
)

type SensorConfig struct {
	Placement placement.Orientation `yaml:"placement"`
	Mode      string                `yaml:"mode"`
	LPF       rate.LPF              `yaml:"lpf"`

	AccelInterval time.Duration `yaml:"accel_interval"`
	GyroInterval  time.Duration `yaml:"gyro_interval"`
	AccelBatch    bool          `yaml:"accel_batch"`
	GyroBatch     bool          `yaml:"gyro_batch"`

	// Enable lists the channels switched on at startup.
	Enable []string `yaml:"enable"`

	Calibration       string `yaml:"calibration"`
	CalibrationEnable bool   `yaml:"calibration_enable"`
	LowPowerWakeHz    int    `yaml:"low_power_wake_hz"`
}

type BusConfig struct {
	Transport string `yaml:"transport"`
	// Path is /dev/i2c-N for the dev transport and a bus name for periph.
	Path    string `yaml:"path"`
	Address uint16 `yaml:"address"`
	// MinReadPeriod is the shortest gap between axis register reads.
	MinReadPeriod time.Duration `yaml:"min_read_period"`
}

type PowerConfig struct {
	GPIO      string `yaml:"gpio"`
	ActiveLow bool   `yaml:"active_low"`
}

type SimConfig struct {
	Enable   bool          `yaml:"enable"`
	Period   time.Duration `yaml:"period"`
	TiltDeg  float64       `yaml:"tilt_deg"`
	GyroBias []int16       `yaml:"gyro_bias"`
}

type PublishConfig struct {
	Log  bool       `yaml:"log"`
	UDP  UDPConfig  `yaml:"udp"`
	MQTT MQTTConfig `yaml:"mqtt"`
}

type UDPConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
}

type MQTTConfig struct {
	Enable   bool          `yaml:"enable"`
	Broker   string        `yaml:"broker"`
	ClientID string        `yaml:"client_id"`
	Topic    string        `yaml:"topic"`
	QoS      byte          `yaml:"qos"`
	Retain   bool          `yaml:"retain"`
	Queue    int           `yaml:"queue"`
	Timeout  time.Duration `yaml:"timeout"`
}

type WebConfig struct {
	Enable  bool   `yaml:"enable"`
	Listen  string `yaml:"listen"`
	LogTail int    `yaml:"log_tail"`
}

// Default returns the configuration used when no file is given: simulated
// sensor, web API on :8080.
func Default() Config {
	cfg := Config{Sensor: SensorConfig{LPF: rate.DefaultLPF}}
	cfg.Sim.Enable = true
	cfg.Web.Enable = true
	if err := cfg.applyDefaults(); err != nil {
		panic(err)
	}
	return cfg
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML, applies defaults and validates. Unknown keys are
// rejected so typos do not silently fall back to defaults.
func Parse(b []byte) (Config, error) {
	cfg := Config{Sensor: SensorConfig{LPF: rate.DefaultLPF}}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() error {
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	switch cfg.Log.Level {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level is invalid")
	}

	s := &cfg.Sensor
	if !s.Placement.Valid() {
		return fmt.Errorf("sensor.placement is invalid")
	}
	if s.Mode == "" {
		s.Mode = ModePolling
	}
	if s.Mode != ModePolling && s.Mode != ModeRateRegister {
		return fmt.Errorf("sensor.mode must be %q or %q", ModePolling, ModeRateRegister)
	}
	if s.LPF == rate.Reserved {
		return fmt.Errorf("sensor.lpf is invalid")
	}
	if s.AccelInterval <= 0 {
		s.AccelInterval = rate.DefaultPollInterval
	}
	if s.GyroInterval <= 0 {
		s.GyroInterval = rate.DefaultPollInterval
	}
	for _, ch := range s.Enable {
		switch strings.ToLower(ch) {
		case "accel", "gyro":
		default:
			return fmt.Errorf("sensor.enable: unknown channel %q", ch)
		}
	}
	if s.LowPowerWakeHz < 0 {
		return fmt.Errorf("sensor.low_power_wake_hz must be >= 0")
	}

	if !cfg.Sim.Enable {
		if cfg.Bus.Transport == "" {
			cfg.Bus.Transport = i2c.TransportDev
		}
		if cfg.Bus.Transport != i2c.TransportDev && cfg.Bus.Transport != i2c.TransportPeriph {
			return fmt.Errorf("bus.transport must be %q or %q", i2c.TransportDev, i2c.TransportPeriph)
		}
		if cfg.Bus.Path == "" {
			if cfg.Bus.Transport == i2c.TransportPeriph {
				cfg.Bus.Path = "1"
			} else {
				cfg.Bus.Path = "/dev/i2c-1"
			}
		}
	}
	if cfg.Bus.Address == 0 {
		cfg.Bus.Address = 0x68
	}
	if cfg.Bus.Address != 0x68 && cfg.Bus.Address != 0x69 {
		return fmt.Errorf("bus.address must be 0x68 or 0x69")
	}
	if cfg.Bus.MinReadPeriod <= 0 {
		cfg.Bus.MinReadPeriod = feed.MinPeriod
	}

	if cfg.Sim.Period <= 0 {
		cfg.Sim.Period = 10 * time.Second
	}
	if cfg.Sim.TiltDeg == 0 {
		cfg.Sim.TiltDeg = 15
	}
	if n := len(cfg.Sim.GyroBias); n != 0 && n != 3 {
		return fmt.Errorf("sim.gyro_bias must have 3 values")
	}

	if cfg.Publish.UDP.Enable && cfg.Publish.UDP.Dest == "" {
		return fmt.Errorf("publish.udp.dest is required when publish.udp.enable is true")
	}
	m := &cfg.Publish.MQTT
	if m.Enable {
		if m.Broker == "" {
			return fmt.Errorf("publish.mqtt.broker is required when publish.mqtt.enable is true")
		}
		if m.QoS > 2 {
			return fmt.Errorf("publish.mqtt.qos must be 0, 1 or 2")
		}
	}
	if m.Topic == "" {
		m.Topic = "mpu6050"
	}
	if m.ClientID == "" {
		m.ClientID = "mpu6050-ng"
	}
	if m.Queue <= 0 {
		m.Queue = 64
	}
	if m.Timeout <= 0 {
		m.Timeout = 5 * time.Second
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}
	if cfg.Web.LogTail <= 0 {
		cfg.Web.LogTail = 2000
	}
	return nil
}
