// Package doctor runs readiness diagnostics for config, serial ports, the
// results directory, and the optional network endpoints.
package doctor

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/griprig/internal/config"
	"github.com/rbright/griprig/internal/indicator"
	"github.com/rbright/griprig/internal/serialport"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config checks for a loaded config.
func Run(cfg config.Loaded) Report {
	return run(cfg, serialport.DefaultScanner, indicator.DefaultSink)
}

func run(cfg config.Loaded, scanner serialport.Scanner, sink func() (string, error)) Report {
	checks := []Check{}

	message := fmt.Sprintf("loaded %q", cfg.Path)
	if !cfg.Exists {
		message = fmt.Sprintf("%q not found; using defaults", cfg.Path)
	}
	if n := len(cfg.Warnings); n > 0 && cfg.Exists {
		message = fmt.Sprintf("%s (%d warning(s))", message, n)
	}
	checks = append(checks, Check{Name: "config", Pass: true, Message: message})

	checks = append(checks, checkSerial(cfg.Config.Serial, scanner))
	checks = append(checks, checkResultsDir(cfg.Config.Recording.ResultsDir))

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "session runtime dir is set", "XDG_RUNTIME_DIR is empty; the operator console socket cannot be created"))
	if cfg.Config.Cues.Enable {
		checks = append(checks, checkCueSink(sink))
	}

	if addr := strings.TrimSpace(cfg.Config.Health.GRPCAddr); addr != "" {
		checks = append(checks, checkListenAddr("health.grpc_addr", addr))
	}
	if addr := strings.TrimSpace(cfg.Config.Metrics.Addr); addr != "" {
		checks = append(checks, checkListenAddr("metrics.addr", addr))
	}

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkCueSink resolves the playback sink used for stimulus cues.
func checkCueSink(sink func() (string, error)) Check {
	id, err := sink()
	if err != nil {
		return Check{Name: "cues.sink", Pass: false, Message: err.Error()}
	}
	return Check{Name: "cues.sink", Pass: true, Message: fmt.Sprintf("playing on %q", id)}
}

// checkSerial reports matching ports. Discovery only opens recognized
// Arduino boards, so a scan without one fails.
func checkSerial(cfg config.SerialConfig, scanner serialport.Scanner) Check {
	if pinned := strings.TrimSpace(cfg.Port); pinned != "" {
		if _, err := os.Stat(pinned); err != nil {
			return Check{Name: "serial.port", Pass: false, Message: fmt.Sprintf("pinned port %s: %v", pinned, err)}
		}
		return Check{Name: "serial.port", Pass: true, Message: fmt.Sprintf("pinned to %s", pinned)}
	}

	ports, err := scanner.List(cfg.Candidates)
	if err != nil {
		return Check{Name: "serial.port", Pass: false, Message: err.Error()}
	}
	if len(ports) == 0 {
		return Check{
			Name:    "serial.port",
			Pass:    false,
			Message: fmt.Sprintf("no ports match %s", strings.Join(cfg.Candidates, ", ")),
		}
	}

	names := make([]string, 0, len(ports))
	arduino := 0
	for _, p := range ports {
		name := p.Path
		if p.Known {
			arduino++
			name += " (arduino)"
		}
		names = append(names, name)
	}
	message := strings.Join(names, ", ")
	if arduino == 0 {
		message += "; no recognized Arduino board (pin one with serial.port)"
	}
	return Check{Name: "serial.port", Pass: arduino > 0, Message: message}
}

// checkResultsDir verifies that participant directories can be created.
func checkResultsDir(dir string) Check {
	const name = "recording.results_dir"

	target := dir
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		target = filepath.Dir(filepath.Clean(dir))
		if info, err = os.Stat(target); err != nil || !info.IsDir() {
			return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s does not exist and %s is not a directory", dir, target)}
		}
	case err != nil:
		return Check{Name: name, Pass: false, Message: err.Error()}
	case !info.IsDir():
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s is not a directory", dir)}
	}

	probe, err := os.CreateTemp(target, ".griprig-doctor-*")
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s is not writable: %v", target, err)}
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())

	if target != dir {
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s will be created", dir)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s is writable", dir)}
}

// checkListenAddr verifies that addr can be bound, or is already held by a
// running daemon.
func checkListenAddr(name, addr string) Check {
	listener, err := net.Listen("tcp", addr)
	if err == nil {
		_ = listener.Close()
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s is available", addr)}
	}

	conn, dialErr := net.DialTimeout("tcp", addr, 300*time.Millisecond)
	if dialErr == nil {
		_ = conn.Close()
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s is in use (daemon running?)", addr)}
	}
	return Check{Name: name, Pass: false, Message: fmt.Sprintf("cannot listen on %s: %v", addr, err)}
}
