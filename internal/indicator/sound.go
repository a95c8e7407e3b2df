package indicator

import (
	"fmt"
	"math"
	"time"

	"github.com/jfreymuth/pulse"
)

type cueKind int

const (
	cueStimulusOn cueKind = iota + 1
	cueStimulusOff
)

const cueSampleRate = 16000

type toneSpec struct {
	frequencyHz float64
	duration    time.Duration
	volume      float64
}

var (
	stimulusOnPCM = synthesizeCue([]toneSpec{
		{frequencyHz: 2000, duration: 250 * time.Millisecond, volume: 0.25},
	})
	stimulusOffPCM = synthesizeCue([]toneSpec{
		{frequencyHz: 1000, duration: 250 * time.Millisecond, volume: 0.25},
	})
)

// Player plays mono 16-bit PCM at cueSampleRate.
type Player interface {
	Play(samples []int16) error
}

// PulsePlayer plays cues on the default PulseAudio/PipeWire sink.
type PulsePlayer struct{}

func (PulsePlayer) Play(samples []int16) error {
	return playSynthCue(samples)
}

func playSynthCue(samples []int16) error {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("griprig"),
		pulse.ClientApplicationIconName("dialog-information"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	cursor := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if cursor >= len(samples) {
			return 0, pulse.EndOfData
		}

		n := copy(buf, samples[cursor:])
		cursor += n
		if cursor >= len(samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(cueSampleRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("griprig stimulus cue"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play cue stream: %w", err)
	}

	return nil
}

func cueSamples(kind cueKind) []int16 {
	switch kind {
	case cueStimulusOn:
		return stimulusOnPCM
	case cueStimulusOff:
		return stimulusOffPCM
	default:
		return nil
	}
}

func synthesizeCue(parts []toneSpec) []int16 {
	if len(parts) == 0 {
		return nil
	}
	gapSamples := samplesForDuration(22 * time.Millisecond)
	total := 0
	for i, part := range parts {
		total += samplesForDuration(part.duration)
		if i < len(parts)-1 {
			total += gapSamples
		}
	}

	pcm := make([]int16, 0, total)
	for i, part := range parts {
		pcm = append(pcm, synthesizeTone(part)...)
		if i < len(parts)-1 && gapSamples > 0 {
			pcm = append(pcm, make([]int16, gapSamples)...)
		}
	}

	return pcm
}

func synthesizeTone(spec toneSpec) []int16 {
	n := samplesForDuration(spec.duration)
	if n <= 0 || spec.frequencyHz <= 0 || spec.volume <= 0 {
		return nil
	}

	attackRelease := min(n/10, cueSampleRate/200) // at most 5ms
	if attackRelease < 1 {
		attackRelease = 1
	}

	pcm := make([]int16, n)
	for i := range n {
		envelope := 1.0
		if i < attackRelease {
			envelope = float64(i) / float64(attackRelease)
		}
		releaseIndex := n - i - 1
		if releaseIndex < attackRelease {
			envelope = min(envelope, float64(releaseIndex)/float64(attackRelease))
		}
		t := float64(i) / cueSampleRate
		sample := math.Sin(2 * math.Pi * spec.frequencyHz * t)
		pcm[i] = int16(math.Round(sample * spec.volume * envelope * 32767))
	}

	return pcm
}

func samplesForDuration(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueSampleRate))
}

// DefaultSink reports the sink cues will play on.
func DefaultSink() (string, error) {
	client, err := pulse.NewClient(pulse.ClientApplicationName("griprig"))
	if err != nil {
		return "", fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	sink, err := client.DefaultSink()
	if err != nil {
		return "", fmt.Errorf("read default sink: %w", err)
	}
	return sink.ID(), nil
}
