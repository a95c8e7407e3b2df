// Package trial sequences timed rest/active stimulus intervals and labels
// incoming EMG data for recording.
package trial

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/rbright/griprig/internal/calibration"
	"github.com/rbright/griprig/internal/clock"
	"github.com/rbright/griprig/internal/device"
	"github.com/rbright/griprig/internal/fsm"
	"github.com/rbright/griprig/internal/metrics"
	"github.com/rbright/griprig/internal/protocol"
)

var (
	ErrTaskInProgress   = errors.New("trial: task in progress")
	ErrNotReady         = errors.New("trial: sensors not ready")
	ErrNoParticipant    = errors.New("trial: no participant selected")
	ErrPolling          = errors.New("trial: periodic sampling is running")
	ErrDebugActive      = errors.New("trial: debug recording is active")
	ErrNoTasksRemaining = errors.New("trial: all tasks complete")
)

// Config holds the protocol timing.
type Config struct {
	Stimuli     int
	Repetitions int
	Rest        time.Duration
	Active      time.Duration
	Reaction    time.Duration
	RestLabel   string
}

// DefaultConfig returns six stimuli with two repetitions each, 12s rest,
// 5s active and a 2s reaction delay.
func DefaultConfig() Config {
	return Config{
		Stimuli:     6,
		Repetitions: 2,
		Rest:        12 * time.Second,
		Active:      5 * time.Second,
		Reaction:    2 * time.Second,
		RestLabel:   "0",
	}
}

// Intervals returns the number of active intervals in one task.
func (c Config) Intervals() int {
	return c.Stimuli * c.Repetitions
}

// Display receives stimulus presentation events.
type Display interface {
	StimulusOn()
	StimulusOff()
	StimulusChanged(n int)
	StimulusReset()
	Progress(ratio float64)
	TaskChanged(name string)
}

// Sender issues commands to the controller.
type Sender interface {
	Send(protocol.Command) error
}

// Storage selects a participant directory and appends rows to keyed files.
type Storage interface {
	Open(id int, force bool) (string, error)
	AppendRows(key string, rows [][]string) error
}

// Snapshot is a point-in-time view of the trial state.
type Snapshot struct {
	Phase       fsm.State
	Task        int
	TaskName    string
	Stimulus    int
	Repetition  int
	Progress    float64
	InTask      bool
	Recording   bool
	Ready       bool
	Polling     bool
	Debug       bool
	Participant string
	Pending     bool
	DataLoss    int
}

// Orchestrator owns the trial state. Every method except Snapshot must be
// called from the orchestration goroutine, which is also where scheduler
// callbacks run.
type Orchestrator struct {
	cfg      Config
	sender   Sender
	storage  Storage
	sched    clock.Scheduler
	logger   *slog.Logger
	now      func() time.Time
	displays []Display

	mu    sync.RWMutex
	state state

	phaseTimer    clock.Timer
	reactionTimer clock.Timer
}

type state struct {
	phase       fsm.State
	task        int
	stimulus    int
	repetition  int
	progress    float64
	inTask      bool
	recording   bool
	ready       bool
	polling     bool
	debug       bool
	participant string
	pending     *calibration.Reading
	dataLoss    int
}

// New builds an orchestrator in the Inactive phase with no task started.
func New(cfg Config, sender Sender, storage Storage, sched clock.Scheduler, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		cfg:     cfg,
		sender:  sender,
		storage: storage,
		sched:   sched,
		logger:  logger.With("component", "trial"),
		now:     time.Now,
		state: state{
			phase:      fsm.StateInactive,
			stimulus:   1,
			repetition: 1,
			// The controller boots with periodic sampling on.
			polling: true,
		},
	}
}

// AddDisplay registers d for stimulus events, in registration order.
func (o *Orchestrator) AddDisplay(d Display) {
	o.displays = append(o.displays, d)
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s := o.state
	return Snapshot{
		Phase:       s.phase,
		Task:        s.task,
		TaskName:    TaskName(s.task),
		Stimulus:    s.stimulus,
		Repetition:  s.repetition,
		Progress:    s.progress,
		InTask:      s.inTask,
		Recording:   s.recording,
		Ready:       s.ready,
		Polling:     s.polling,
		Debug:       s.debug,
		Participant: s.participant,
		Pending:     s.pending != nil,
		DataLoss:    s.dataLoss,
	}
}

// SetParticipant selects the results directory for participant id and stops
// periodic sampling. Choosing a different participant restarts the task list.
func (o *Orchestrator) SetParticipant(id int, force bool) (string, error) {
	o.mu.RLock()
	inTask, ready, current := o.state.inTask, o.state.ready, o.state.participant
	o.mu.RUnlock()
	if inTask {
		return "", ErrTaskInProgress
	}
	if !ready {
		return "", ErrNotReady
	}

	dir, err := o.storage.Open(id, force)
	if err != nil {
		return "", err
	}
	o.send(protocol.CommandStopPeriodic)

	o.mu.Lock()
	if dir != current {
		o.state.task = 0
	}
	o.state.participant = dir
	o.state.polling = false
	o.mu.Unlock()

	o.logger.Info("participant set", "dir", dir)
	return dir, nil
}

// SetPolling toggles the controller's periodic impedance/temperature sampling.
func (o *Orchestrator) SetPolling(on bool) error {
	o.mu.RLock()
	inTask, participant := o.state.inTask, o.state.participant
	o.mu.RUnlock()
	if inTask {
		return ErrTaskInProgress
	}
	if participant == "" {
		return ErrNoParticipant
	}

	cmd := protocol.CommandStopPeriodic
	if on {
		cmd = protocol.CommandStartPeriodic
	}
	if err := o.sender.Send(cmd); err != nil {
		return fmt.Errorf("set periodic sampling: %w", err)
	}

	o.mu.Lock()
	o.state.polling = on
	o.mu.Unlock()
	o.logger.Info("periodic sampling", "on", on)
	return nil
}

// SetDebug routes recording to the debug file outside of any task.
func (o *Orchestrator) SetDebug(on bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.inTask {
		return ErrTaskInProgress
	}
	if o.state.participant == "" {
		return ErrNoParticipant
	}
	o.state.debug = on
	o.state.recording = on
	if !on {
		o.state.pending = nil
	}
	o.logger.Info("debug recording", "on", on)
	return nil
}

// StartNextTask advances to the next task and begins its first rest interval.
func (o *Orchestrator) StartNextTask() error {
	o.mu.Lock()
	if err := o.startableLocked(); err != nil {
		o.mu.Unlock()
		return err
	}
	next, err := fsm.Transition(o.state.phase, fsm.EventStart)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	o.state.phase = next
	o.state.polling = false
	o.state.inTask = true
	o.state.task++
	o.state.stimulus = 1
	o.state.repetition = 1
	o.state.progress = 0
	o.state.recording = true
	o.state.pending = nil
	task := o.state.task
	o.mu.Unlock()

	o.send(protocol.CommandStopPeriodic)
	metrics.SetProgress(0)

	name := TaskName(task)
	o.logger.Info("task started", "task", name)
	for _, d := range o.displays {
		d.TaskChanged(name)
		d.StimulusChanged(1)
		d.StimulusOff()
	}
	o.phaseTimer = o.sched.AfterFunc(o.cfg.Rest, o.phaseElapsed)
	return nil
}

func (o *Orchestrator) startableLocked() error {
	switch {
	case o.state.inTask:
		return ErrTaskInProgress
	case !o.state.ready:
		return ErrNotReady
	case o.state.participant == "":
		return ErrNoParticipant
	case o.state.polling:
		return ErrPolling
	case o.state.debug:
		return ErrDebugActive
	case o.state.task >= len(Tasks):
		return ErrNoTasksRemaining
	}
	return nil
}

// phaseElapsed handles expiry of the rest or active interval.
func (o *Orchestrator) phaseElapsed() {
	o.phaseTimer = nil

	o.mu.RLock()
	phase := o.state.phase
	o.mu.RUnlock()

	switch phase {
	case fsm.StateResting:
		o.restElapsed()
	case fsm.StateActive:
		o.activeElapsed()
	default:
		o.logger.Warn("phase timer fired while inactive")
	}
}

func (o *Orchestrator) restElapsed() {
	o.mu.Lock()
	if o.state.stimulus > o.cfg.Stimuli {
		o.state.phase = o.transitionLocked(fsm.EventComplete)
		o.state.stimulus = 1
		o.state.recording = false
		o.state.inTask = false
		o.state.pending = nil
		task := o.state.task
		o.mu.Unlock()

		o.logger.Info("task complete", "task", TaskName(task))
		for _, d := range o.displays {
			d.StimulusReset()
		}
		return
	}
	o.state.phase = o.transitionLocked(fsm.EventRestElapsed)
	stimulus := o.state.stimulus
	o.mu.Unlock()

	o.logger.Info("stimulus on", "stimulus", stimulus)
	for _, d := range o.displays {
		d.StimulusOn()
	}
	o.phaseTimer = o.sched.AfterFunc(o.cfg.Active, o.phaseElapsed)
}

func (o *Orchestrator) activeElapsed() {
	o.reactionTimer = o.sched.AfterFunc(o.cfg.Reaction, o.requestReading)

	o.mu.Lock()
	o.state.phase = o.transitionLocked(fsm.EventActiveElapsed)
	done := (o.state.stimulus-1)*o.cfg.Repetitions + o.state.repetition
	progress := float64(done) / float64(o.cfg.Intervals())
	o.state.progress = progress
	o.state.repetition++
	advanced := false
	if o.state.repetition > o.cfg.Repetitions {
		o.state.repetition = 1
		o.state.stimulus++
		advanced = true
	}
	stimulus := o.state.stimulus
	o.mu.Unlock()

	o.logger.Info("stimulus off", "stimulus", stimulus, "progress", progress)
	metrics.SetProgress(progress)
	for _, d := range o.displays {
		if advanced {
			d.StimulusChanged(stimulus)
		}
		d.StimulusOff()
		d.Progress(progress)
	}
	o.phaseTimer = o.sched.AfterFunc(o.cfg.Rest, o.phaseElapsed)
}

// requestReading fires after the reaction delay; the next impedance packet is
// attributed to this moment.
func (o *Orchestrator) requestReading() {
	o.reactionTimer = nil
	o.send(protocol.CommandReadImpTemp)
}

func (o *Orchestrator) transitionLocked(event fsm.Event) fsm.State {
	next, err := fsm.Transition(o.state.phase, event)
	if err != nil {
		o.logger.Error("trial transition", "error", err)
		return o.state.phase
	}
	return next
}

// stopTimers disarms the phase and reaction timers.
func (o *Orchestrator) stopTimers() {
	if o.phaseTimer != nil {
		o.phaseTimer.Stop()
		o.phaseTimer = nil
	}
	if o.reactionTimer != nil {
		o.reactionTimer.Stop()
		o.reactionTimer = nil
	}
}

// timersArmed reports whether any trial timer is armed.
func (o *Orchestrator) timersArmed() bool {
	return o.phaseTimer != nil || o.reactionTimer != nil
}

// ConnectionChanged rolls back an interrupted task on connection loss.
func (o *Orchestrator) ConnectionChanged(status device.ConnectionStatus) {
	if status != device.ConnectionLost && status != device.ConnectionClosed {
		return
	}
	o.stopTimers()

	o.mu.Lock()
	o.state.ready = false
	if !o.state.inTask {
		o.mu.Unlock()
		return
	}
	o.state.phase = o.transitionLocked(fsm.EventAbort)
	o.state.recording = false
	o.state.inTask = false
	o.state.pending = nil
	o.state.task--
	task := o.state.task
	o.mu.Unlock()

	o.logger.Warn("task interrupted by connection loss", "resume_task", TaskName(task+1))
	for _, d := range o.displays {
		d.StimulusReset()
	}
}

func (o *Orchestrator) SensorChanged(device.SensorStatus) {}

// SensorsReady re-enables participant selection and task start.
func (o *Orchestrator) SensorsReady() {
	o.mu.Lock()
	o.state.ready = true
	o.mu.Unlock()
}

// Reading caches a calibrated reading for the next EMG batch. Readings are
// dropped while not recording.
func (o *Orchestrator) Reading(r calibration.Reading) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.state.recording {
		return
	}
	if o.state.pending != nil {
		o.state.dataLoss++
		metrics.RecordDataLoss()
		o.logger.Warn("impedance reading overwritten before it was recorded")
	}
	o.state.pending = &r
}

// HandlePacket records EMG batches while recording is enabled.
func (o *Orchestrator) HandlePacket(p protocol.Packet) {
	batch, ok := p.(protocol.EMGBatch)
	if !ok || batch.Len() == 0 {
		return
	}

	o.mu.Lock()
	if !o.state.recording {
		o.mu.Unlock()
		return
	}
	label := o.cfg.RestLabel
	if o.state.phase != fsm.StateResting {
		label = strconv.Itoa(o.state.stimulus)
	}
	pending := o.state.pending
	o.state.pending = nil
	key := FileKey(o.state.task)
	if o.state.debug {
		key = DebugKey
	}
	o.mu.Unlock()

	rows := LabelRows(o.now(), batch, label, pending)
	if err := o.storage.AppendRows(key, rows); err != nil {
		o.logger.Error("append rows", "file", key, "error", err)
	}
}

func (o *Orchestrator) send(c protocol.Command) {
	if err := o.sender.Send(c); err != nil {
		o.logger.Warn("send command", "command", c.String(), "error", err)
	}
}
