package socket

import (
	"errors"
	"sync"

	"github.com/adi-253/fellowship/internal/models"
)

type registration struct {
	name string
	id   uint64
}

// Scope is a subscription handle on a shared Conn. Views open one scope each
// and close it when they go away; rooms stay joined while any scope holds them.
type Scope struct {
	conn *Conn

	mu       sync.Mutex
	rooms    []string
	handlers []registration
	closed   bool
}

// Join subscribes the scope to room. The hub is only told about the first
// scope joining a room.
func (s *Scope) Join(room string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	for _, r := range s.rooms {
		if r == room {
			s.mu.Unlock()
			return nil
		}
	}
	s.rooms = append(s.rooms, room)
	s.mu.Unlock()

	if !s.conn.acquire(room) {
		return nil
	}
	if err := s.conn.Emit(models.EventJoinRoom, room, nil); err != nil {
		s.conn.release(room)
		s.mu.Lock()
		for i, r := range s.rooms {
			if r == room {
				s.rooms = append(s.rooms[:i], s.rooms[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// On registers h for events called name until the scope closes.
func (s *Scope) On(name string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	id := s.conn.addHandler(name, h)
	s.handlers = append(s.handlers, registration{name: name, id: id})
}

// Emit sends an event through the shared connection.
func (s *Scope) Emit(name, room string, payload interface{}) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return s.conn.Emit(name, room, payload)
}

// Close removes the scope's handlers and leaves the rooms no other scope
// holds. Calling it again does nothing.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	rooms, handlers := s.rooms, s.handlers
	s.rooms, s.handlers = nil, nil
	s.mu.Unlock()

	for _, reg := range handlers {
		s.conn.removeHandler(reg.name, reg.id)
	}

	var errs []error
	for _, room := range rooms {
		if s.conn.release(room) {
			if err := s.conn.Emit(models.EventLeaveRoom, room, nil); err != nil && !errors.Is(err, ErrClosed) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
