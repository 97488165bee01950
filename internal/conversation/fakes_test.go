package conversation

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/adi-253/fellowship/internal/models"
	"github.com/adi-253/fellowship/internal/socket"
)

// fakeClock fires timers synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward by d, running due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
		var next *fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				next = t
				break
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()

		next.f()
	}
}

type emitted struct {
	name    string
	room    string
	payload interface{}
}

// fakeSub records what a Conversation does with its subscription.
type fakeSub struct {
	mu       sync.Mutex
	joined   []string
	emits    []emitted
	handlers map[string][]socket.Handler
	closed   int
	joinErr  error
}

func newFakeSub() *fakeSub {
	return &fakeSub{handlers: make(map[string][]socket.Handler)}
}

func (s *fakeSub) Join(room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joinErr != nil {
		return s.joinErr
	}
	s.joined = append(s.joined, room)
	return nil
}

func (s *fakeSub) On(name string, h socket.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = append(s.handlers[name], h)
}

func (s *fakeSub) Emit(name, room string, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emits = append(s.emits, emitted{name: name, room: room, payload: payload})
	return nil
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	s.handlers = make(map[string][]socket.Handler)
	return nil
}

func (s *fakeSub) setJoinErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joinErr = err
}

// fire dispatches an event the way the socket read loop does.
func (s *fakeSub) fire(ev models.Event) {
	s.mu.Lock()
	handlers := append([]socket.Handler(nil), s.handlers[ev.Name]...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (s *fakeSub) named(name string) []emitted {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []emitted
	for _, e := range s.emits {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

func (s *fakeSub) joinedRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.joined...)
}

// fakeAPI answers sends from a script. When gate is set, SendMessage waits
// for a value on it before answering.
type fakeAPI struct {
	mu       sync.Mutex
	history  []models.Message
	loadErr  error
	sendErr  error
	requests []models.SendMessageRequest
	nextID   int
	gate     chan struct{}
	entered  chan struct{}
}

func (a *fakeAPI) LoadHistory(ctx context.Context, conversationID string) ([]models.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loadErr != nil {
		return nil, a.loadErr
	}
	return append([]models.Message(nil), a.history...), nil
}

func (a *fakeAPI) SendMessage(ctx context.Context, req models.SendMessageRequest) (*models.Message, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	gate, entered := a.gate, a.entered
	a.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return nil, a.sendErr
	}
	a.nextID++
	convID := req.ConversationID
	if convID == "" {
		convID = "conv-new"
	}
	return &models.Message{
		ID:             serverID(a.nextID),
		ConversationID: convID,
		SenderID:       req.SenderID,
		Content:        req.Content,
		ClientToken:    req.ClientToken,
		Status:         models.StatusConfirmed,
		CreatedAt:      time.Date(2024, 5, 1, 9, 0, a.nextID, 0, time.UTC),
	}, nil
}

func (a *fakeAPI) setSendErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sendErr = err
}

func serverID(n int) string {
	return "srv-" + strconv.Itoa(n)
}
