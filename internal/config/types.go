// Package config resolves, parses, validates, and defaults griprig configuration.
package config

import "time"

// Config is the fully materialized runtime configuration used by griprig.
type Config struct {
	Serial    SerialConfig    `toml:"serial"`
	Protocol  ProtocolConfig  `toml:"protocol"`
	Trial     TrialConfig     `toml:"trial"`
	Device    DeviceConfig    `toml:"device"`
	Recording RecordingConfig `toml:"recording"`
	Cues      CuesConfig      `toml:"cues"`
	Log       LogConfig       `toml:"log"`
	Health    HealthConfig    `toml:"health"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// SerialConfig selects and configures the controller port.
type SerialConfig struct {
	// Port pins one device path; empty means discover among Candidates.
	Port                string   `toml:"port"`
	Candidates          []string `toml:"candidates"`
	Baud                int      `toml:"baud"`
	ReadTimeoutMS       int      `toml:"read_timeout_ms"`
	DiscoveryIntervalMS int      `toml:"discovery_interval_ms"`
}

// ProtocolConfig controls framing and reply correlation.
type ProtocolConfig struct {
	PacketSize     int `toml:"packet_size"`
	MaxReplyBytes  int `toml:"max_reply_bytes"`
	ReplyTimeoutMS int `toml:"reply_timeout_ms"`
	MaxQueue       int `toml:"max_queue"`
}

// TrialConfig controls stimulus sequencing.
type TrialConfig struct {
	Stimuli     int    `toml:"stimuli"`
	Repetitions int    `toml:"repetitions"`
	RestMS      int    `toml:"rest_ms"`
	ActiveMS    int    `toml:"active_ms"`
	ReactionMS  int    `toml:"reaction_ms"`
	RestLabel   string `toml:"rest_label"`
}

// DeviceConfig controls the sensor liveness poll.
type DeviceConfig struct {
	PollMS int `toml:"poll_ms"`
}

// RecordingConfig controls where participant data is written.
type RecordingConfig struct {
	ResultsDir string `toml:"results_dir"`
}

// CuesConfig controls stimulus audio cues.
type CuesConfig struct {
	Enable bool `toml:"enable"`
}

// LogConfig controls the runtime log level.
type LogConfig struct {
	Level string `toml:"level"`
}

// HealthConfig controls the gRPC health endpoint.
type HealthConfig struct {
	GRPCAddr string `toml:"grpc_addr"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func (c SerialConfig) ReadTimeout() time.Duration       { return ms(c.ReadTimeoutMS) }
func (c SerialConfig) DiscoveryInterval() time.Duration { return ms(c.DiscoveryIntervalMS) }
func (c ProtocolConfig) ReplyTimeout() time.Duration    { return ms(c.ReplyTimeoutMS) }
func (c TrialConfig) Rest() time.Duration               { return ms(c.RestMS) }
func (c TrialConfig) Active() time.Duration             { return ms(c.ActiveMS) }
func (c TrialConfig) Reaction() time.Duration           { return ms(c.ReactionMS) }
func (c DeviceConfig) Poll() time.Duration              { return ms(c.PollMS) }
