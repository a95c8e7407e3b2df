package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Serial: SerialConfig{
			Port:                "",
			Candidates:          []string{"/dev/ttyACM*", "/dev/ttyUSB*"},
			Baud:                115200,
			ReadTimeoutMS:       100,
			DiscoveryIntervalMS: 5000,
		},
		Protocol: ProtocolConfig{
			PacketSize:     50,
			MaxReplyBytes:  256,
			ReplyTimeoutMS: 2000,
			MaxQueue:       8,
		},
		Trial: TrialConfig{
			Stimuli:     6,
			Repetitions: 2,
			RestMS:      12000,
			ActiveMS:    5000,
			ReactionMS:  2000,
			RestLabel:   "0",
		},
		Device:    DeviceConfig{PollMS: 1000},
		Recording: RecordingConfig{ResultsDir: "Results"},
		Cues:      CuesConfig{Enable: true},
		Log:       LogConfig{Level: "info"},
	}
}
