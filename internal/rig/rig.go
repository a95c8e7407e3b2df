// Package rig owns the orchestration goroutine. Link I/O, timers and operator
// requests are all turned into closures executed one at a time on that
// goroutine, so the device monitor and trial orchestrator never race.
package rig

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rbright/griprig/internal/calibration"
	"github.com/rbright/griprig/internal/clock"
	"github.com/rbright/griprig/internal/config"
	"github.com/rbright/griprig/internal/device"
	"github.com/rbright/griprig/internal/health"
	"github.com/rbright/griprig/internal/indicator"
	"github.com/rbright/griprig/internal/link"
	"github.com/rbright/griprig/internal/protocol"
	"github.com/rbright/griprig/internal/recording"
	"github.com/rbright/griprig/internal/serialport"
	"github.com/rbright/griprig/internal/trial"
)

// eventBuffer bounds closures waiting for the loop.
const eventBuffer = 256

// ErrStopped reports a request made after the loop has exited.
var ErrStopped = errors.New("rig: stopped")

// Opener opens the transport for one candidate port path.
type Opener func(path string) (link.Transport, error)

// Options overrides the hardware-facing collaborators.
type Options struct {
	// Open defaults to serialport.Open with the serial config.
	Open Opener
	// Scanner defaults to serialport.DefaultScanner.
	Scanner *serialport.Scanner
	// Displays receive stimulus events after the built-in console.
	Displays []trial.Display
	// Health, when set, tracks sensor readiness.
	Health *health.Server
}

// Rig wires the controller link, device monitor, trial orchestrator and
// recording store to a single event loop.
type Rig struct {
	cfg     config.Config
	logger  *slog.Logger
	open    Opener
	scanner serialport.Scanner

	session *link.Session
	monitor *device.Monitor
	trial   *trial.Orchestrator
	store   *recording.Store
	console *indicator.Console

	events chan func()
	done   chan struct{}

	// port is the open device path, owned by the loop.
	port string
	// silent holds ports that opened but never identified; discovery skips
	// them until every candidate has been tried.
	silent map[string]bool
}

// New builds a rig from cfg. Nothing is opened until Run.
func New(cfg config.Config, logger *slog.Logger, opts Options) *Rig {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Rig{
		cfg:     cfg,
		logger:  logger.With("component", "rig"),
		open:    opts.Open,
		scanner: serialport.DefaultScanner,
		events:  make(chan func(), eventBuffer),
		done:    make(chan struct{}),
	}
	if opts.Scanner != nil {
		r.scanner = *opts.Scanner
	}
	if r.open == nil {
		r.open = func(path string) (link.Transport, error) {
			return serialport.Open(serialport.Config{
				Path:        path,
				Baud:        cfg.Serial.Baud,
				ReadTimeout: cfg.Serial.ReadTimeout(),
			})
		}
	}

	sched := clock.NewLoop(func(fn func()) { r.post(fn) })

	r.session = link.NewSession(link.Config{
		Decoder: protocol.DecoderConfig{
			PacketSize:    cfg.Protocol.PacketSize,
			MaxReplyBytes: cfg.Protocol.MaxReplyBytes,
		},
		ReplyTimeout: cfg.Protocol.ReplyTimeout(),
		MaxQueue:     cfg.Protocol.MaxQueue,
	}, logger)

	r.monitor = device.NewMonitor(device.Config{
		PollInterval:    cfg.Device.Poll(),
		IdentifyTimeout: cfg.Protocol.ReplyTimeout(),
	}, r.session, sched, logger)
	r.store = recording.NewStore(cfg.Recording.ResultsDir, logger)
	r.trial = trial.New(trialConfig(cfg.Trial), r.session, r.store, sched, logger)

	r.console = indicator.NewConsole(logger)
	r.monitor.AddListener(r.trial)
	r.monitor.AddListener(r.console)
	r.monitor.AddListener(portGuard{rig: r})
	if opts.Health != nil {
		r.monitor.AddListener(readiness{server: opts.Health})
	}
	r.trial.AddDisplay(r.console)
	for _, d := range opts.Displays {
		r.trial.AddDisplay(d)
	}

	r.subscribe()
	return r
}

func trialConfig(c config.TrialConfig) trial.Config {
	return trial.Config{
		Stimuli:     c.Stimuli,
		Repetitions: c.Repetitions,
		Rest:        c.Rest(),
		Active:      c.Active(),
		Reaction:    c.Reaction(),
		RestLabel:   c.RestLabel,
	}
}

// subscribe forwards link events, which arrive on the link's I/O goroutines,
// to the loop.
func (r *Rig) subscribe() {
	r.session.OnOpened(func() { r.post(r.monitor.HandleOpened) })
	r.session.OnClosed(func() {
		r.post(func() {
			r.port = ""
			r.monitor.HandleClosed()
		})
	})
	r.session.OnError(func(err error) {
		r.post(func() {
			r.logger.Warn("controller connection lost", "port", r.port, "error", err.Error())
			r.port = ""
			r.monitor.HandleError(err)
		})
	})
	r.session.OnReply(func(rep link.Reply) {
		r.post(func() { r.monitor.HandleReply(rep) })
	})
	r.session.OnPacket(func(p protocol.Packet) {
		r.post(func() {
			r.monitor.HandlePacket(p)
			r.trial.HandlePacket(p)
		})
	})
}

// post queues fn for the loop. It reports false once the loop has exited.
func (r *Rig) post(fn func()) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.events <- fn:
		return true
	case <-r.done:
		return false
	}
}

// Run executes the loop until ctx is cancelled. Device discovery runs
// immediately and then every serial.discovery_interval_ms while no port is open.
func (r *Rig) Run(ctx context.Context) error {
	defer close(r.done)

	interval := r.cfg.Serial.DiscoveryInterval()
	if interval <= 0 {
		interval = config.Default().Serial.DiscoveryInterval()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("rig loop started", "results_dir", r.cfg.Recording.ResultsDir)
	r.discover()
	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			r.logger.Info("rig loop stopped")
			return nil
		case fn := <-r.events:
			fn()
		case <-ticker.C:
			r.discover()
		}
	}
}

// shutdown closes the link and runs the events that produces.
func (r *Rig) shutdown() {
	if err := r.session.Close(); err != nil && !errors.Is(err, link.ErrNotOpen) {
		r.logger.Warn("close controller link", "error", err.Error())
	}
	for {
		select {
		case fn := <-r.events:
			fn()
		default:
			return
		}
	}
}

// discover opens the first usable candidate port when the link is idle.
func (r *Rig) discover() {
	// port is cleared only once the loop has seen the close or error event.
	if r.port != "" {
		return
	}

	paths, err := r.scanner.Candidates(r.cfg.Serial.Port, r.cfg.Serial.Candidates)
	if err != nil {
		r.logger.Warn("serial discovery failed", "error", err.Error())
		return
	}
	for _, path := range r.untried(paths) {
		t, err := r.open(path)
		if err != nil {
			r.logger.Debug("serial port unavailable", "port", path, "error", err.Error())
			continue
		}
		r.port = path
		if err := r.session.Open(t); err != nil {
			r.port = ""
			_ = t.Close()
			r.logger.Warn("open controller link", "port", path, "error", err.Error())
			return
		}
		r.logger.Info("controller port opened", "port", path)
		return
	}
}

// untried drops ports that stayed silent, starting over once none remain.
func (r *Rig) untried(paths []string) []string {
	var out []string
	for _, path := range paths {
		if !r.silent[path] {
			out = append(out, path)
		}
	}
	if len(out) == 0 && len(r.silent) > 0 {
		r.silent = nil
		return paths
	}
	return out
}

// dropSilentPort closes a port that never identified as the rig controller.
func (r *Rig) dropSilentPort() {
	if r.port == "" {
		return
	}
	r.logger.Warn("port did not identify as the rig controller", "port", r.port)
	if r.silent == nil {
		r.silent = make(map[string]bool)
	}
	r.silent[r.port] = true
	if err := r.session.Close(); err != nil && !errors.Is(err, link.ErrNotOpen) {
		r.logger.Warn("close controller link", "error", err.Error())
	}
}

// portGuard releases ports that do not answer OPEN.
type portGuard struct {
	rig *Rig
}

func (g portGuard) ConnectionChanged(status device.ConnectionStatus) {
	switch status {
	case device.ConnectionUnidentified:
		g.rig.dropSilentPort()
	case device.ConnectionArduinoConnected:
		g.rig.silent = nil
	}
}

func (portGuard) SensorChanged(device.SensorStatus) {}
func (portGuard) SensorsReady()                     {}
func (portGuard) Reading(calibration.Reading)       {}

// readiness mirrors sensor readiness into the health service.
type readiness struct {
	server *health.Server
}

func (h readiness) ConnectionChanged(status device.ConnectionStatus) {
	switch status {
	case device.ConnectionLost, device.ConnectionClosed:
		h.server.SetReady(false)
	}
}

func (h readiness) SensorChanged(status device.SensorStatus) {
	if status != device.SensorsConnected {
		h.server.SetReady(false)
	}
}

func (h readiness) SensorsReady()               { h.server.SetReady(true) }
func (h readiness) Reading(calibration.Reading) {}
