package rig

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rbright/griprig/internal/ipc"
	"github.com/rbright/griprig/internal/trial"
)

// Handle serves operator console requests on the loop.
func (r *Rig) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	respCh := make(chan ipc.Response, 1)
	if !r.post(func() { respCh <- r.dispatch(req) }) {
		return ipc.Response{OK: false, Error: ErrStopped.Error()}
	}
	select {
	case resp := <-respCh:
		return resp
	case <-ctx.Done():
		return ipc.Response{OK: false, Error: ctx.Err().Error()}
	case <-r.done:
		select {
		case resp := <-respCh:
			return resp
		default:
			return ipc.Response{OK: false, Error: ErrStopped.Error()}
		}
	}
}

func (r *Rig) dispatch(req ipc.Request) ipc.Response {
	r.logger.Debug("console request", "command", req.Command, "args", req.Args)
	switch req.Command {
	case ipc.CommandStatus:
		return r.ok(r.statusText())
	case ipc.CommandStart:
		if len(req.Args) != 0 {
			return r.fail(errors.New("usage: start"))
		}
		if err := r.trial.StartNextTask(); err != nil {
			return r.fail(err)
		}
		return r.ok(fmt.Sprintf("task %s started", r.trial.Snapshot().TaskName))
	case ipc.CommandParticipant:
		return r.handleParticipant(req.Args)
	case ipc.CommandPoll:
		on, err := parseSwitch("poll", req.Args)
		if err != nil {
			return r.fail(err)
		}
		if err := r.trial.SetPolling(on); err != nil {
			return r.fail(err)
		}
		return r.ok("periodic sampling " + switchText(on))
	case ipc.CommandDebug:
		on, err := parseSwitch("debug", req.Args)
		if err != nil {
			return r.fail(err)
		}
		if err := r.trial.SetDebug(on); err != nil {
			return r.fail(err)
		}
		return r.ok("debug recording " + switchText(on))
	case ipc.CommandPorts:
		return r.handlePorts()
	default:
		return r.fail(fmt.Errorf("unknown command: %s", req.Command))
	}
}

func (r *Rig) handleParticipant(args []string) ipc.Response {
	force := false
	var rest []string
	for _, arg := range args {
		if arg == "--force" {
			force = true
			continue
		}
		rest = append(rest, arg)
	}
	if len(rest) != 1 {
		return r.fail(errors.New("usage: participant <id> [--force]"))
	}
	id, err := strconv.Atoi(rest[0])
	if err != nil {
		return r.fail(fmt.Errorf("participant id %q is not a number", rest[0]))
	}
	dir, err := r.trial.SetParticipant(id, force)
	if err != nil {
		return r.fail(err)
	}
	return r.ok("recording to " + dir)
}

func (r *Rig) handlePorts() ipc.Response {
	ports, err := r.scanner.List(r.cfg.Serial.Candidates)
	if err != nil {
		return r.fail(err)
	}
	if len(ports) == 0 {
		return r.ok("no serial ports found")
	}
	var b strings.Builder
	for i, p := range ports {
		if i > 0 {
			b.WriteByte('\n')
		}
		mark := " "
		if p.Path == r.port {
			mark = "*"
		}
		fmt.Fprintf(&b, "%s %s | usb=%04x:%04x | arduino=%t", mark, p.Path, p.VendorID, p.ProductID, p.Known)
	}
	return r.ok(b.String())
}

func (r *Rig) statusText() string {
	snap := r.trial.Snapshot()
	dev := r.monitor.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "phase: %s\n", snap.Phase)
	fmt.Fprintf(&b, "task: %s (%d/%d)\n", snap.TaskName, snap.Task, len(trial.Tasks))
	fmt.Fprintf(&b, "stimulus: %d (%s) repetition: %d\n", snap.Stimulus, r.console.Grip(), snap.Repetition)
	fmt.Fprintf(&b, "progress: %.0f%%\n", snap.Progress*100)
	port := r.port
	if port == "" {
		port = "-"
	}
	fmt.Fprintf(&b, "port: %s (%s)\n", port, dev.Connection)
	fmt.Fprintf(&b, "sensors: %s ready=%t\n", dev.Sensors, snap.Ready)
	participant := snap.Participant
	if participant == "" {
		participant = "-"
	}
	fmt.Fprintf(&b, "participant: %s polling=%t debug=%t recording=%t\n", participant, snap.Polling, snap.Debug, snap.Recording)
	if snap.DataLoss > 0 {
		fmt.Fprintf(&b, "data loss warnings: %d\n", snap.DataLoss)
	}
	if rd := dev.LastReading; rd != nil {
		fmt.Fprintf(&b, "FCU %.2f°C imp %.0fΩ/%.0f° %.0fΩ/%.0f°\n",
			rd.Temperatures[0], rd.Magnitudes[0], rd.Phases[0], rd.Magnitudes[1], rd.Phases[1])
		fmt.Fprintf(&b, "ECR %.2f°C imp %.0fΩ/%.0f° %.0fΩ/%.0f°\n",
			rd.Temperatures[1], rd.Magnitudes[2], rd.Phases[2], rd.Magnitudes[3], rd.Phases[3])
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Rig) ok(message string) ipc.Response {
	return ipc.Response{OK: true, State: string(r.trial.Snapshot().Phase), Message: message}
}

func (r *Rig) fail(err error) ipc.Response {
	return ipc.Response{OK: false, State: string(r.trial.Snapshot().Phase), Error: err.Error()}
}

func parseSwitch(command string, args []string) (bool, error) {
	if len(args) == 1 {
		switch args[0] {
		case "on":
			return true, nil
		case "off":
			return false, nil
		}
	}
	return false, fmt.Errorf("usage: %s on|off", command)
}

func switchText(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
