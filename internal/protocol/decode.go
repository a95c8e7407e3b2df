package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
)

// Frame markers are ASCII and always markerLen bytes long.
const markerLen = 4

var (
	markerEMGStart = []byte("EMG:")
	markerEMGEnd   = []byte(":GME")
	markerIMPStart = []byte("IMP:")
	markerIMPEnd   = []byte(":PMI")
	markerTMPStart = []byte("TMP:")
	markerTMPEnd   = []byte(":PMT")
	markerREPStart = []byte("REP:")
	markerREPEnd   = []byte(":PER")
)

const (
	impPayloadLen = 2 * ImpedanceComponents
	tmpPayloadLen = 4
)

// ErrIncomplete means the buffered bytes do not yet hold a complete frame.
var ErrIncomplete = errors.New("protocol: incomplete frame")

// FramingError describes a candidate frame that was dropped. Decoding can continue.
type FramingError struct {
	Frame  string
	Reason string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("protocol: framing: %s: %s", e.Frame, e.Reason)
}

type frameKind int

const (
	frameEMG frameKind = iota + 1
	frameIMP
	frameTMP
	frameREP
)

type frameSpec struct {
	kind  frameKind
	name  string
	start []byte
	end   []byte
}

var frameSpecs = []frameSpec{
	{kind: frameEMG, name: "emg", start: markerEMGStart, end: markerEMGEnd},
	{kind: frameIMP, name: "imp", start: markerIMPStart, end: markerIMPEnd},
	{kind: frameTMP, name: "tmp", start: markerTMPStart, end: markerTMPEnd},
	{kind: frameREP, name: "rep", start: markerREPStart, end: markerREPEnd},
}

// DecoderConfig sizes the frame types whose length is configured.
type DecoderConfig struct {
	// PacketSize is the number of EMG samples per frame (both channels together).
	PacketSize int
	// MaxReplyBytes bounds a REP payload while searching for its end marker.
	MaxReplyBytes int
}

// DefaultDecoderConfig matches the controller firmware defaults.
func DefaultDecoderConfig() DecoderConfig {
	return DecoderConfig{PacketSize: 50, MaxReplyBytes: 256}
}

// Decoder turns a continuously fed byte stream into packets.
//
// Bytes are accumulated, scanned for the earliest start marker, and consumed
// once a frame is matched or rejected. An IMP block is held until the next TMP
// block arrives; a newer IMP block replaces an unconsumed one.
type Decoder struct {
	emgPayload int
	maxReply   int

	buf        []byte
	pendingImp *[ImpedanceComponents]int16
	overwrites int
}

// NewDecoder builds a decoder, falling back to defaults for non-positive sizes.
func NewDecoder(cfg DecoderConfig) *Decoder {
	def := DefaultDecoderConfig()
	if cfg.PacketSize <= 0 {
		cfg.PacketSize = def.PacketSize
	}
	if cfg.MaxReplyBytes <= 0 {
		cfg.MaxReplyBytes = def.MaxReplyBytes
	}
	return &Decoder{
		emgPayload: 2 * cfg.PacketSize,
		maxReply:   cfg.MaxReplyBytes,
	}
}

// Feed appends raw bytes read from the transport.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// buffered reports how many bytes are waiting to be framed.
func (d *Decoder) buffered() int {
	return len(d.buf)
}

// ImpedanceOverwrites counts IMP blocks replaced before a TMP block consumed them.
func (d *Decoder) ImpedanceOverwrites() int {
	return d.overwrites
}

// Reset drops buffered bytes and any pending impedance block.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.pendingImp = nil
}

// Next decodes the next packet from buffered bytes.
//
// It returns ErrIncomplete when more input is needed and a *FramingError when
// a candidate frame was dropped; in the latter case Next may be called again.
func (d *Decoder) Next() (Packet, error) {
	for {
		idx, spec := d.findStart(d.buf)
		if idx < 0 {
			// Keep a possible partial marker at the tail.
			if keep := markerLen - 1; len(d.buf) > keep {
				d.discard(len(d.buf) - keep)
			}
			return nil, ErrIncomplete
		}
		if idx > 0 {
			d.discard(idx)
		}

		if spec.kind == frameREP {
			return d.nextReply(spec)
		}

		payload, err := d.fixedPayload(spec)
		if err != nil {
			return nil, err
		}

		switch spec.kind {
		case frameEMG:
			return decodeEMG(payload), nil
		case frameIMP:
			imp := decodeImpedance(payload)
			if d.pendingImp != nil {
				d.overwrites++
			}
			d.pendingImp = &imp
		case frameTMP:
			if d.pendingImp == nil {
				return nil, &FramingError{Frame: spec.name, Reason: "temperature block without preceding impedance block"}
			}
			pkt := ImpedanceTemp{Impedance: *d.pendingImp, Temperature: decodeTemperature(payload)}
			d.pendingImp = nil
			return pkt, nil
		}
	}
}

// Packets yields decoded packets and framing errors until more input is needed.
func (d *Decoder) Packets() iter.Seq2[Packet, error] {
	return func(yield func(Packet, error) bool) {
		for {
			pkt, err := d.Next()
			if errors.Is(err, ErrIncomplete) {
				return
			}
			if !yield(pkt, err) {
				return
			}
		}
	}
}

func (d *Decoder) payloadLen(kind frameKind) int {
	switch kind {
	case frameEMG:
		return d.emgPayload
	case frameIMP:
		return impPayloadLen
	case frameTMP:
		return tmpPayloadLen
	default:
		return 0
	}
}

// fixedPayload consumes a fixed-length frame at the head of the buffer.
func (d *Decoder) fixedPayload(spec frameSpec) ([]byte, error) {
	n := d.payloadLen(spec.kind)
	total := markerLen + n + markerLen
	if len(d.buf) < total {
		return nil, ErrIncomplete
	}
	if !bytes.Equal(d.buf[markerLen+n:total], spec.end) {
		d.discard(1)
		return nil, &FramingError{Frame: spec.name, Reason: "end marker not found at expected offset"}
	}
	payload := make([]byte, n)
	copy(payload, d.buf[markerLen:markerLen+n])
	d.discard(total)
	return payload, nil
}

// nextReply consumes a variable-length REP frame at the head of the buffer.
func (d *Decoder) nextReply(spec frameSpec) (Packet, error) {
	body := d.buf[markerLen:]
	end := bytes.Index(body, spec.end)
	other, _ := d.findStart(body)

	switch {
	case other >= 0 && (end < 0 || other < end):
		d.discard(1)
		return nil, &FramingError{Frame: spec.name, Reason: "next frame started before reply end marker"}
	case end < 0 && len(body) > d.maxReply:
		d.discard(1)
		return nil, &FramingError{Frame: spec.name, Reason: fmt.Sprintf("reply longer than %d bytes", d.maxReply)}
	case end < 0:
		return nil, ErrIncomplete
	case end > d.maxReply:
		d.discard(1)
		return nil, &FramingError{Frame: spec.name, Reason: fmt.Sprintf("reply longer than %d bytes", d.maxReply)}
	}

	text := string(body[:end])
	d.discard(markerLen + end + markerLen)
	return Reply{Text: text}, nil
}

// findStart returns the offset of the earliest start marker in b.
func (d *Decoder) findStart(b []byte) (int, frameSpec) {
	best := -1
	var found frameSpec
	for _, spec := range frameSpecs {
		i := bytes.Index(b, spec.start)
		if i >= 0 && (best < 0 || i < best) {
			best = i
			found = spec
		}
	}
	return best, found
}

func (d *Decoder) discard(n int) {
	if n >= len(d.buf) {
		d.buf = d.buf[:0]
		return
	}
	d.buf = append(d.buf[:0], d.buf[n:]...)
}

func decodeEMG(payload []byte) EMGBatch {
	samples := len(payload) / 2
	batch := EMGBatch{
		ChannelA: make([]uint16, 0, (samples+1)/2),
		ChannelB: make([]uint16, 0, samples/2),
	}
	for i := 0; i < samples; i++ {
		v := binary.BigEndian.Uint16(payload[2*i:])
		if i%2 == 0 {
			batch.ChannelA = append(batch.ChannelA, v)
		} else {
			batch.ChannelB = append(batch.ChannelB, v)
		}
	}
	return batch
}

func decodeImpedance(payload []byte) [ImpedanceComponents]int16 {
	var out [ImpedanceComponents]int16
	for i := range out {
		out[i] = int16(binary.BigEndian.Uint16(payload[2*i:]))
	}
	return out
}

func decodeTemperature(payload []byte) [2]uint16 {
	return [2]uint16{
		binary.BigEndian.Uint16(payload[0:]),
		binary.BigEndian.Uint16(payload[2:]),
	}
}
