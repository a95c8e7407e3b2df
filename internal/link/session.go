// Package link owns one device connection: the outbound command queue, reply
// correlation, and fan-out of decoded packets and lifecycle events.
package link

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/griprig/internal/metrics"
	"github.com/rbright/griprig/internal/protocol"
)

// State is the connection lifecycle state.
type State string

const (
	StateClosed  State = "closed"
	StateOpening State = "opening"
	StateOpen    State = "open"
	StateError   State = "error"
)

var (
	// ErrNotOpen reports a send or close against a link without a connection.
	ErrNotOpen = errors.New("link: not open")
	// ErrAlreadyOpen reports an Open while a connection is active.
	ErrAlreadyOpen = errors.New("link: already open")
	// ErrQueueFull reports that the outbound FIFO reached its configured depth.
	ErrQueueFull = errors.New("link: outbound queue full")
	// ErrUnsolicitedReply marks a reply that arrived with no command outstanding.
	ErrUnsolicitedReply = errors.New("link: unsolicited reply")
)

// TransportError wraps an I/O failure that terminated a connection.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("link: transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transport is the byte pipe to the controller. It is driven only by the
// session's I/O goroutines once handed to Open.
type Transport = io.ReadWriteCloser

// Reply is a REP payload attributed to the command that was awaiting it.
type Reply struct {
	Command protocol.Command
	Text    string
}

// Config sizes the session.
type Config struct {
	Decoder      protocol.DecoderConfig
	ReplyTimeout time.Duration
	MaxQueue     int
	ReadBuffer   int
}

// DefaultConfig returns the firmware-matching session settings.
func DefaultConfig() Config {
	return Config{
		Decoder:      protocol.DefaultDecoderConfig(),
		ReplyTimeout: 2 * time.Second,
		MaxQueue:     8,
		ReadBuffer:   512,
	}
}

// Session is the single active device connection.
type Session struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	gen         uint64
	transport   Transport
	outbound    chan []byte
	done        chan struct{}
	awaiting    bool
	outstanding protocol.Command
	awaitSeq    uint64
	replyTimer  *time.Timer
	queue       []protocol.Command

	subs subscribers
}

// NewSession builds a closed session.
func NewSession(cfg Config, logger *slog.Logger) *Session {
	def := DefaultConfig()
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = def.MaxQueue
	}
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = def.ReadBuffer
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	closed := make(chan struct{})
	close(closed)
	return &Session{
		cfg:    cfg,
		logger: logger.With("component", "link"),
		state:  StateClosed,
		done:   closed,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// awaitingCommand reports whether a sent command still expects its reply.
func (s *Session) awaitingCommand() (protocol.Command, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding, s.awaiting
}

// queued returns the commands held behind an outstanding reply.
func (s *Session) queued() []protocol.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Command(nil), s.queue...)
}

// Done is closed when the current connection ends by Close or transport error.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Open takes ownership of t and starts its I/O goroutines. All
// session-local state from any previous connection is discarded.
func (s *Session) Open(t Transport) error {
	s.mu.Lock()
	if s.state == StateOpen || s.state == StateOpening {
		s.mu.Unlock()
		return ErrAlreadyOpen
	}
	s.setStateLocked(StateOpening)
	s.resetLocked()
	s.gen++
	gen := s.gen
	s.transport = t
	s.outbound = make(chan []byte, s.cfg.MaxQueue+4)
	s.done = make(chan struct{})
	outbound, done := s.outbound, s.done
	s.setStateLocked(StateOpen)
	s.mu.Unlock()

	s.logger.Info("link opened")
	s.subs.emitOpened()

	go s.writeLoop(gen, t, outbound, done)
	go s.readLoop(gen, t, done)
	return nil
}

// Close ends the current connection and emits a closed event.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return ErrNotOpen
	}
	t := s.transport
	s.endLocked(StateClosed)
	s.mu.Unlock()

	err := t.Close()
	s.logger.Info("link closed")
	s.subs.emitClosed()
	return err
}

// Send encodes c and transmits it, or queues it behind an outstanding reply.
func (s *Session) Send(c protocol.Command) error {
	frame, err := protocol.Encode(c)
	if err != nil {
		s.logger.Error("command rejected", "command", int(c), "error", err.Error())
		metrics.RecordCommand(c.String(), "rejected")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return ErrNotOpen
	}
	if s.awaiting || len(s.queue) > 0 {
		if len(s.queue) >= s.cfg.MaxQueue {
			metrics.RecordCommand(c.String(), "rejected")
			return ErrQueueFull
		}
		s.queue = append(s.queue, c)
		metrics.RecordCommand(c.String(), "queued")
		s.logger.Debug("command queued", "command", c.String(), "awaiting", s.outstanding.String(), "depth", len(s.queue))
		return nil
	}
	return s.transmitLocked(c, frame)
}

// transmitLocked marks the reply expectation before handing frame to the writer.
func (s *Session) transmitLocked(c protocol.Command, frame []byte) error {
	if c.ExpectsReply() {
		s.awaiting = true
		s.outstanding = c
		s.awaitSeq++
		s.armReplyTimerLocked(s.gen, s.awaitSeq)
	}

	select {
	case s.outbound <- frame:
		metrics.RecordCommand(c.String(), "sent")
		s.logger.Debug("command sent", "command", c.String())
		return nil
	default:
		if c.ExpectsReply() {
			s.clearAwaitLocked()
		}
		metrics.RecordCommand(c.String(), "rejected")
		return fmt.Errorf("link: outbound buffer full, dropped %s", c)
	}
}

func (s *Session) armReplyTimerLocked(gen, seq uint64) {
	if s.cfg.ReplyTimeout <= 0 {
		return
	}
	s.replyTimer = time.AfterFunc(s.cfg.ReplyTimeout, func() {
		s.replyTimedOut(gen, seq)
	})
}

func (s *Session) replyTimedOut(gen, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || !s.awaiting || seq != s.awaitSeq {
		return
	}
	s.logger.Warn("reply timed out", "command", s.outstanding.String(), "timeout", s.cfg.ReplyTimeout.String())
	s.clearAwaitLocked()
	s.drainQueueLocked()
}

func (s *Session) clearAwaitLocked() {
	s.awaiting = false
	if s.replyTimer != nil {
		s.replyTimer.Stop()
		s.replyTimer = nil
	}
}

// drainQueueLocked transmits queued commands until one awaits a reply.
func (s *Session) drainQueueLocked() {
	for len(s.queue) > 0 && !s.awaiting {
		c := s.queue[0]
		s.queue = s.queue[1:]
		frame, err := protocol.Encode(c)
		if err != nil {
			continue
		}
		if err := s.transmitLocked(c, frame); err != nil {
			s.logger.Error("queued command not sent", "command", c.String(), "error", err.Error())
		}
	}
}

func (s *Session) resetLocked() {
	s.clearAwaitLocked()
	s.queue = nil
}

// endLocked tears down the current connection's session-local state.
func (s *Session) endLocked(next State) {
	s.setStateLocked(next)
	s.resetLocked()
	close(s.done)
}

func (s *Session) setStateLocked(state State) {
	s.state = state
	metrics.SetLinkState(string(state))
}

// fail transitions the connection generation gen to the error state.
func (s *Session) fail(gen uint64, cause error) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	t := s.transport
	s.endLocked(StateError)
	s.mu.Unlock()

	_ = t.Close()
	err := &TransportError{Err: cause}
	s.logger.Error("link failed", "error", err.Error())
	s.subs.emitError(err)
}

func (s *Session) readLoop(gen uint64, t Transport, done <-chan struct{}) {
	decoder := protocol.NewDecoder(s.cfg.Decoder)
	buf := make([]byte, s.cfg.ReadBuffer)
	overwrites := 0

	for {
		n, err := t.Read(buf)
		if n > 0 {
			decoder.Feed(buf[:n])
			for pkt, ferr := range decoder.Packets() {
				overwrites = s.noteOverwrites(decoder, overwrites)
				if ferr != nil {
					s.logFramingError(ferr)
					continue
				}
				s.dispatch(gen, pkt)
			}
			overwrites = s.noteOverwrites(decoder, overwrites)
		}
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			s.fail(gen, err)
			return
		}
	}
}

// noteOverwrites reports IMP blocks the decoder replaced since seen.
func (s *Session) noteOverwrites(d *protocol.Decoder, seen int) int {
	total := d.ImpedanceOverwrites()
	if total > seen {
		s.logger.Warn("impedance block overwritten before its temperature block", "dropped", total-seen, "total", total)
		metrics.RecordImpedanceOverwrites(total - seen)
	}
	return total
}

func (s *Session) writeLoop(gen uint64, t Transport, outbound <-chan []byte, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case frame := <-outbound:
			if _, err := t.Write(frame); err != nil {
				s.fail(gen, err)
				return
			}
		}
	}
}

func (s *Session) logFramingError(err error) {
	var framing *protocol.FramingError
	if errors.As(err, &framing) {
		metrics.RecordFramingError(framing.Frame)
	}
	s.logger.Warn("frame dropped", "error", err.Error())
}

// dispatch routes one decoded packet from connection generation gen.
func (s *Session) dispatch(gen uint64, pkt protocol.Packet) {
	reply, isReply := pkt.(protocol.Reply)
	if !isReply {
		metrics.RecordPacket(protocol.Kind(pkt))
		s.subs.emitPacket(pkt)
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if !s.awaiting {
		s.mu.Unlock()
		metrics.RecordUnsolicitedReply()
		s.logger.Warn("reply dropped", "text", reply.Text, "error", ErrUnsolicitedReply.Error())
		return
	}
	correlated := Reply{Command: s.outstanding, Text: reply.Text}
	s.clearAwaitLocked()
	s.drainQueueLocked()
	s.mu.Unlock()

	metrics.RecordPacket(protocol.Kind(pkt))
	s.logger.Debug("reply received", "command", correlated.Command.String(), "text", correlated.Text)
	s.subs.emitReply(correlated)
}
