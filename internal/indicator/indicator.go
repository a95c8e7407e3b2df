// Package indicator presents trial and device events to the operator:
// audio cues for the participant and a structured log for the console.
package indicator

import (
	"log/slog"
	"sync"

	"github.com/rbright/griprig/internal/calibration"
	"github.com/rbright/griprig/internal/device"
)

// Cues plays an audible cue whenever the stimulus switches on or off.
type Cues struct {
	player Player
	logger *slog.Logger

	soundMu sync.Mutex
	wg      sync.WaitGroup
}

// NewCues builds a cue display. A nil player uses PulsePlayer.
func NewCues(player Player, logger *slog.Logger) *Cues {
	if player == nil {
		player = PulsePlayer{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cues{player: player, logger: logger}
}

// StimulusOn plays the high-pitched pickup cue.
func (c *Cues) StimulusOn() { c.playCue(cueStimulusOn) }

// StimulusOff plays the low-pitched release cue.
func (c *Cues) StimulusOff() { c.playCue(cueStimulusOff) }

func (c *Cues) StimulusChanged(int) {}
func (c *Cues) StimulusReset()      {}
func (c *Cues) Progress(float64)    {}
func (c *Cues) TaskChanged(string)  {}

// Wait blocks until queued cues have finished.
func (c *Cues) Wait() {
	c.wg.Wait()
}

// playCue serializes cue playback and emits audio asynchronously so the
// orchestration loop never blocks on the sound server.
func (c *Cues) playCue(kind cueKind) {
	samples := cueSamples(kind)
	if len(samples) == 0 {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.soundMu.Lock()
		defer c.soundMu.Unlock()
		if err := c.player.Play(samples); err != nil {
			c.logger.Debug("indicator audio cue failed", "error", err.Error())
		}
	}()
}

// Console logs every trial and device event with operator-facing wording.
type Console struct {
	logger   *slog.Logger
	messages messages

	mu       sync.Mutex
	stimulus int
}

// NewConsole builds a log-backed display.
func NewConsole(logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Console{
		logger:   logger.With("component", "display"),
		messages: indicatorMessagesFromEnv(),
		stimulus: 1,
	}
}

// Grip returns the grip name currently presented.
func (c *Console) Grip() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages.gripName(c.stimulus)
}

func (c *Console) StimulusOn() {
	c.logger.Info(c.messages.active, "grip", c.Grip())
}

func (c *Console) StimulusOff() {
	c.logger.Info(c.messages.rest, "grip", c.Grip())
}

func (c *Console) StimulusChanged(n int) {
	c.mu.Lock()
	c.stimulus = n
	c.mu.Unlock()
	c.logger.Info("stimulus changed", "stimulus", n, "grip", c.Grip())
}

func (c *Console) StimulusReset() {
	c.mu.Lock()
	c.stimulus = 0
	c.mu.Unlock()
	c.logger.Info("stimulus reset", "grip", c.messages.neutral)
}

func (c *Console) Progress(ratio float64) {
	c.logger.Info("progress", "ratio", ratio)
}

func (c *Console) TaskChanged(name string) {
	c.logger.Info("current task", "task", name)
}

func (c *Console) ConnectionChanged(status device.ConnectionStatus) {
	c.logger.Info("port", "status", string(status))
}

func (c *Console) SensorChanged(status device.SensorStatus) {
	c.logger.Info("sensors", "status", string(status))
}

func (c *Console) SensorsReady() {
	c.logger.Info("sensors ready; participant id may be entered")
}

func (c *Console) Reading(r calibration.Reading) {
	c.logger.Info("reading",
		"fcu_temp", r.Temperatures[0],
		"fcu_imp", []float64{r.Magnitudes[0], r.Magnitudes[1]},
		"fcu_phase", []float64{r.Phases[0], r.Phases[1]},
		"ecr_temp", r.Temperatures[1],
		"ecr_imp", []float64{r.Magnitudes[2], r.Magnitudes[3]},
		"ecr_phase", []float64{r.Phases[2], r.Phases[3]},
	)
}
