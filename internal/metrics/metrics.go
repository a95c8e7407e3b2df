// Package metrics exposes rig counters and gauges for Prometheus scraping.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once
	registry     = prometheus.NewRegistry()

	framesDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "griprig",
			Subsystem: "link",
			Name:      "packets_decoded_total",
			Help:      "Decoded inbound packets by kind.",
		},
		[]string{"kind"},
	)
	framingErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "griprig",
			Subsystem: "link",
			Name:      "framing_errors_total",
			Help:      "Dropped malformed or unmatched frames by frame type.",
		},
		[]string{"frame"},
	)
	unsolicitedReplies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "griprig",
			Subsystem: "link",
			Name:      "unsolicited_replies_total",
			Help:      "Reply frames received while no command awaited a reply.",
		},
	)
	impedanceOverwrites = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "griprig",
			Subsystem: "link",
			Name:      "impedance_overwrites_total",
			Help:      "IMP blocks replaced by a newer IMP block before a TMP block completed them.",
		},
	)
	commandsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "griprig",
			Subsystem: "link",
			Name:      "commands_total",
			Help:      "Outbound commands by name and outcome.",
		},
		[]string{"command", "outcome"},
	)
	linkState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "griprig",
			Subsystem: "link",
			Name:      "state",
			Help:      "1 for the current link state, 0 otherwise.",
		},
		[]string{"state"},
	)
	dataLossWarnings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "griprig",
			Subsystem: "trial",
			Name:      "data_loss_warnings_total",
			Help:      "Pending impedance/temperature readings overwritten before being recorded.",
		},
	)
	trialProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "griprig",
			Subsystem: "trial",
			Name:      "progress_ratio",
			Help:      "Completed active intervals over total active intervals for the current task.",
		},
	)
	rowsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "griprig",
			Subsystem: "recording",
			Name:      "rows_total",
			Help:      "Rows appended to recording files by file key.",
		},
		[]string{"file"},
	)
)

// Link states tracked by the state gauge.
var linkStates = []string{"closed", "opening", "open", "error"}

// RegisterMetrics registers all collectors once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		registry.MustRegister(
			framesDecoded,
			framingErrors,
			unsolicitedReplies,
			impedanceOverwrites,
			commandsSent,
			linkState,
			dataLossWarnings,
			trialProgress,
			rowsRecorded,
		)
	})
}

// Handler serves the rig registry in the Prometheus exposition format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func RecordPacket(kind string) {
	RegisterMetrics()
	framesDecoded.WithLabelValues(kind).Inc()
}

func RecordFramingError(frame string) {
	RegisterMetrics()
	framingErrors.WithLabelValues(frame).Inc()
}

func RecordUnsolicitedReply() {
	RegisterMetrics()
	unsolicitedReplies.Inc()
}

func RecordImpedanceOverwrites(n int) {
	RegisterMetrics()
	impedanceOverwrites.Add(float64(n))
}

// RecordCommand counts one outbound command; outcome is sent, queued, or rejected.
func RecordCommand(command, outcome string) {
	RegisterMetrics()
	commandsSent.WithLabelValues(command, outcome).Inc()
}

// SetLinkState marks state as the only active link state.
func SetLinkState(state string) {
	RegisterMetrics()
	for _, s := range linkStates {
		v := 0.0
		if s == state {
			v = 1
		}
		linkState.WithLabelValues(s).Set(v)
	}
}

func RecordDataLoss() {
	RegisterMetrics()
	dataLossWarnings.Inc()
}

func SetProgress(ratio float64) {
	RegisterMetrics()
	trialProgress.Set(ratio)
}

func RecordRows(file string, n int) {
	RegisterMetrics()
	rowsRecorded.WithLabelValues(file).Add(float64(n))
}
