// Package device tracks controller and sensor presence and republishes
// calibrated impedance/temperature readings.
package device

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/griprig/internal/calibration"
	"github.com/rbright/griprig/internal/clock"
	"github.com/rbright/griprig/internal/link"
	"github.com/rbright/griprig/internal/protocol"
)

// ConnectionStatus is the operator-facing controller connection status.
type ConnectionStatus string

const (
	ConnectionClosed           ConnectionStatus = "Closed"
	ConnectionOpened           ConnectionStatus = "Opened"
	ConnectionArduinoConnected ConnectionStatus = "Arduino Connected"
	ConnectionLost             ConnectionStatus = "Connection Lost"
	// ConnectionUnidentified means the port never answered OPEN with "HI".
	ConnectionUnidentified ConnectionStatus = "No Reply"
)

// SensorStatus is the operator-facing sensor presence status.
type SensorStatus string

const (
	SensorsUnknown      SensorStatus = "Unknown"
	SensorsConnected    SensorStatus = "Connected"
	Sensor1Disconnected SensorStatus = "Sen 1 disconnected"
	Sensor2Disconnected SensorStatus = "Sen 2 disconnected"
	SensorsDisconnected SensorStatus = "Sensors Disconnected"
)

// replyArduinoConnected is the OPEN reply identifying the rig firmware.
const replyArduinoConnected = "HI"

// sensorReplies maps CHECK_SEN reply text to sensor presence.
var sensorReplies = map[string]SensorStatus{
	"Y": SensorsConnected,
	"N": SensorsDisconnected,
	"1": Sensor2Disconnected,
	"2": Sensor1Disconnected,
}

// Listener receives monitor events on the orchestration goroutine.
type Listener interface {
	ConnectionChanged(ConnectionStatus)
	SensorChanged(SensorStatus)
	SensorsReady()
	Reading(calibration.Reading)
}

// Sender issues commands to the controller.
type Sender interface {
	Send(protocol.Command) error
}

// Config controls the liveness poll and how long an opened port has to
// identify itself.
type Config struct {
	PollInterval    time.Duration
	IdentifyTimeout time.Duration
}

// DefaultConfig returns a one second liveness poll and a two second
// identify window.
func DefaultConfig() Config {
	return Config{PollInterval: time.Second, IdentifyTimeout: 2 * time.Second}
}

// Snapshot is a point-in-time view of monitor state.
type Snapshot struct {
	Connection  ConnectionStatus
	Sensors     SensorStatus
	Ready       bool
	Polling     bool
	LastReading *calibration.Reading
}

// Monitor turns link events into status transitions. Its Handle methods must
// be called from a single goroutine.
type Monitor struct {
	cfg    Config
	sender Sender
	sched  clock.Scheduler
	logger *slog.Logger

	listeners []Listener

	// mu guards the fields read by Snapshot from other goroutines.
	mu      sync.RWMutex
	conn    ConnectionStatus
	sensors SensorStatus
	ready   bool
	poll    clock.Timer
	last    *calibration.Reading

	identify clock.Timer
}

// NewMonitor constructs a monitor in the Closed state.
func NewMonitor(cfg Config, sender Sender, sched clock.Scheduler, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.IdentifyTimeout <= 0 {
		cfg.IdentifyTimeout = DefaultConfig().IdentifyTimeout
	}
	return &Monitor{
		cfg:     cfg,
		sender:  sender,
		sched:   sched,
		logger:  logger.With("component", "device"),
		conn:    ConnectionClosed,
		sensors: SensorsUnknown,
	}
}

// AddListener registers l for all monitor events, in registration order.
func (m *Monitor) AddListener(l Listener) {
	m.listeners = append(m.listeners, l)
}

// Snapshot returns the current status.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := Snapshot{
		Connection: m.conn,
		Sensors:    m.sensors,
		Ready:      m.ready,
		Polling:    m.poll != nil,
	}
	if m.last != nil {
		r := *m.last
		snap.LastReading = &r
	}
	return snap
}

// HandleOpened marks the port open and asks the controller to identify itself.
// Without a "HI" within IdentifyTimeout the connection becomes
// ConnectionUnidentified.
func (m *Monitor) HandleOpened() {
	m.setConnection(ConnectionOpened)
	m.stopIdentify()
	m.identify = m.sched.AfterFunc(m.cfg.IdentifyTimeout, m.identifyExpired)
	if err := m.sender.Send(protocol.CommandOpen); err != nil {
		m.logger.Error("identify controller", "error", err)
	}
}

func (m *Monitor) identifyExpired() {
	m.identify = nil
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn != ConnectionOpened {
		return
	}
	m.logger.Warn("controller did not identify", "timeout", m.cfg.IdentifyTimeout.String())
	m.setConnection(ConnectionUnidentified)
}

func (m *Monitor) stopIdentify() {
	if m.identify != nil {
		m.identify.Stop()
		m.identify = nil
	}
}

// HandleClosed resets presence after an orderly close.
func (m *Monitor) HandleClosed() {
	m.reset()
	m.setConnection(ConnectionClosed)
}

// HandleError resets presence after a transport failure.
func (m *Monitor) HandleError(err error) {
	var terr *link.TransportError
	if errors.As(err, &terr) {
		m.logger.Warn("connection lost", "error", terr.Err)
	} else {
		m.logger.Warn("connection lost", "error", err)
	}
	m.reset()
	m.setConnection(ConnectionLost)
}

// HandleReply interprets controller replies.
func (m *Monitor) HandleReply(r link.Reply) {
	if r.Text == replyArduinoConnected {
		m.stopIdentify()
		m.setConnection(ConnectionArduinoConnected)
		m.startPoll()
		return
	}

	status, ok := sensorReplies[r.Text]
	if !ok {
		m.logger.Warn("unrecognized reply", "command", r.Command.String(), "text", r.Text)
		return
	}
	m.setSensors(status)
	if status != SensorsConnected {
		return
	}

	m.stopPoll()
	m.mu.Lock()
	already := m.ready
	m.ready = true
	m.mu.Unlock()
	if already {
		return
	}
	m.logger.Info("sensors ready")
	for _, l := range m.listeners {
		l.SensorsReady()
	}
}

// HandlePacket calibrates impedance/temperature packets and republishes them.
// EMG batches are ignored.
func (m *Monitor) HandlePacket(p protocol.Packet) {
	raw, ok := p.(protocol.ImpedanceTemp)
	if !ok {
		return
	}
	reading := calibration.Calibrate(raw)

	m.mu.Lock()
	m.last = &reading
	m.mu.Unlock()

	m.logger.Info("impedance reading",
		"magnitudes", reading.Magnitudes,
		"phases", reading.Phases,
		"temperatures", reading.Temperatures,
	)
	m.logger.Debug("impedance raw", "raw", reading.Raw)
	for _, l := range m.listeners {
		l.Reading(reading)
	}
}

func (m *Monitor) startPoll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.poll != nil {
		return
	}
	m.armPollLocked()
}

func (m *Monitor) armPollLocked() {
	m.poll = m.sched.AfterFunc(m.cfg.PollInterval, m.pollTick)
}

func (m *Monitor) pollTick() {
	m.mu.Lock()
	if m.poll == nil {
		m.mu.Unlock()
		return
	}
	m.armPollLocked()
	m.mu.Unlock()

	if err := m.sender.Send(protocol.CommandCheckSensors); err != nil {
		m.logger.Warn("sensor poll", "error", err)
	}
}

func (m *Monitor) stopPoll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.poll != nil {
		m.poll.Stop()
		m.poll = nil
	}
}

func (m *Monitor) reset() {
	m.stopIdentify()
	m.stopPoll()
	m.mu.Lock()
	m.ready = false
	m.mu.Unlock()
	m.setSensors(SensorsUnknown)
}

func (m *Monitor) setConnection(status ConnectionStatus) {
	m.mu.Lock()
	m.conn = status
	m.mu.Unlock()

	m.logger.Info("connection status", "status", string(status))
	for _, l := range m.listeners {
		l.ConnectionChanged(status)
	}
}

func (m *Monitor) setSensors(status SensorStatus) {
	m.mu.Lock()
	changed := m.sensors != status
	m.sensors = status
	m.mu.Unlock()
	if !changed {
		return
	}

	m.logger.Info("sensor status", "status", string(status))
	for _, l := range m.listeners {
		l.SensorChanged(status)
	}
}
