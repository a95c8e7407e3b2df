package protocol

import "fmt"

// Packet is one decoded inbound unit: EMGBatch, ImpedanceTemp, or Reply.
type Packet interface {
	packet()
}

// EMGBatch carries one EMG frame split by sample parity into two channels.
type EMGBatch struct {
	ChannelA []uint16
	ChannelB []uint16
}

// Len returns the number of samples per channel.
func (b EMGBatch) Len() int {
	return len(b.ChannelA)
}

// ImpedanceComponents is the number of signed components in an IMP block.
const ImpedanceComponents = 8

// ImpedanceTemp pairs the most recent impedance block with a temperature block.
//
// Impedance holds (real, imag) pairs for FCU sensor 1, FCU sensor 2,
// ECR sensor 1 and ECR sensor 2, in that order.
type ImpedanceTemp struct {
	Impedance   [ImpedanceComponents]int16
	Temperature [2]uint16
}

// Reply is the text payload of a REP frame.
type Reply struct {
	Text string
}

func (EMGBatch) packet()      {}
func (ImpedanceTemp) packet() {}
func (Reply) packet()         {}

// Kind returns a short label for metrics and logs.
func Kind(p Packet) string {
	switch p.(type) {
	case EMGBatch:
		return "emg"
	case ImpedanceTemp:
		return "imp_tmp"
	case Reply:
		return "reply"
	default:
		return fmt.Sprintf("%T", p)
	}
}
