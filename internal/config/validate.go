package config

import (
	"fmt"
	"net"
	"strings"
)

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Serial.Port) == "" && len(cfg.Serial.Candidates) == 0 {
		return nil, fmt.Errorf("serial.candidates must not be empty when serial.port is unset")
	}
	if cfg.Serial.Baud <= 0 {
		return nil, fmt.Errorf("serial.baud must be > 0")
	}
	if cfg.Serial.ReadTimeoutMS <= 0 {
		return nil, fmt.Errorf("serial.read_timeout_ms must be > 0")
	}
	if cfg.Serial.DiscoveryIntervalMS <= 0 {
		return nil, fmt.Errorf("serial.discovery_interval_ms must be > 0")
	}

	if cfg.Protocol.PacketSize <= 0 || cfg.Protocol.PacketSize%2 != 0 {
		return nil, fmt.Errorf("protocol.packet_size must be a positive even number")
	}
	if cfg.Protocol.MaxReplyBytes <= 0 {
		return nil, fmt.Errorf("protocol.max_reply_bytes must be > 0")
	}
	if cfg.Protocol.ReplyTimeoutMS < 0 {
		return nil, fmt.Errorf("protocol.reply_timeout_ms must be >= 0")
	}
	if cfg.Protocol.ReplyTimeoutMS == 0 {
		warnings = append(warnings, Warning{Message: "protocol.reply_timeout_ms=0 disables reply timeouts; a lost reply stalls the command queue"})
	}
	if cfg.Protocol.MaxQueue <= 0 {
		return nil, fmt.Errorf("protocol.max_queue must be > 0")
	}

	if cfg.Trial.Stimuli <= 0 {
		return nil, fmt.Errorf("trial.stimuli must be > 0")
	}
	if cfg.Trial.Repetitions <= 0 {
		return nil, fmt.Errorf("trial.repetitions must be > 0")
	}
	if cfg.Trial.RestMS <= 0 || cfg.Trial.ActiveMS <= 0 {
		return nil, fmt.Errorf("trial.rest_ms and trial.active_ms must be > 0")
	}
	if cfg.Trial.ReactionMS < 0 {
		return nil, fmt.Errorf("trial.reaction_ms must be >= 0")
	}
	if cfg.Trial.ReactionMS >= cfg.Trial.RestMS {
		warnings = append(warnings, Warning{Message: "trial.reaction_ms >= trial.rest_ms; impedance reads will land in the next active interval"})
	}
	if strings.TrimSpace(cfg.Trial.RestLabel) == "" {
		return nil, fmt.Errorf("trial.rest_label must not be empty")
	}

	if cfg.Device.PollMS <= 0 {
		return nil, fmt.Errorf("device.poll_ms must be > 0")
	}
	if strings.TrimSpace(cfg.Recording.ResultsDir) == "" {
		return nil, fmt.Errorf("recording.results_dir must not be empty")
	}
	if !logLevels[strings.ToLower(strings.TrimSpace(cfg.Log.Level))] {
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	for key, addr := range map[string]string{"health.grpc_addr": cfg.Health.GRPCAddr, "metrics.addr": cfg.Metrics.Addr} {
		if strings.TrimSpace(addr) == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, fmt.Errorf("%s must be host:port: %w", key, err)
		}
	}

	return warnings, nil
}
