package link

import (
	"sync"

	"github.com/rbright/griprig/internal/protocol"
)

// subscribers holds registered listeners per event category.
type subscribers struct {
	mu      sync.RWMutex
	packets []func(protocol.Packet)
	replies []func(Reply)
	opened  []func()
	closed  []func()
	errors  []func(error)
}

// OnPacket registers fn for EMG batches and combined impedance/temperature packets.
func (s *Session) OnPacket(fn func(protocol.Packet)) {
	s.subs.mu.Lock()
	defer s.subs.mu.Unlock()
	s.subs.packets = append(s.subs.packets, fn)
}

// OnReply registers fn for replies attributed to their outstanding command.
func (s *Session) OnReply(fn func(Reply)) {
	s.subs.mu.Lock()
	defer s.subs.mu.Unlock()
	s.subs.replies = append(s.subs.replies, fn)
}

func (s *Session) OnOpened(fn func()) {
	s.subs.mu.Lock()
	defer s.subs.mu.Unlock()
	s.subs.opened = append(s.subs.opened, fn)
}

func (s *Session) OnClosed(fn func()) {
	s.subs.mu.Lock()
	defer s.subs.mu.Unlock()
	s.subs.closed = append(s.subs.closed, fn)
}

// OnError registers fn for transport failures. fn receives a *TransportError.
func (s *Session) OnError(fn func(error)) {
	s.subs.mu.Lock()
	defer s.subs.mu.Unlock()
	s.subs.errors = append(s.subs.errors, fn)
}

func (s *subscribers) emitPacket(p protocol.Packet) {
	s.mu.RLock()
	fns := s.packets
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(p)
	}
}

func (s *subscribers) emitReply(r Reply) {
	s.mu.RLock()
	fns := s.replies
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(r)
	}
}

func (s *subscribers) emitOpened() {
	s.mu.RLock()
	fns := s.opened
	s.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *subscribers) emitClosed() {
	s.mu.RLock()
	fns := s.closed
	s.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *subscribers) emitError(err error) {
	s.mu.RLock()
	fns := s.errors
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(err)
	}
}
