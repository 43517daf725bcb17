package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"dutylog/internal/activity"
	"dutylog/internal/platform/logger"
)

// fakeClock drives the inactivity deadline deterministically.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Time
	f        func()
	stopped  bool
	fired    bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and fires due timers outside the clock lock.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.deadline.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

// armed counts timers that are pending (neither stopped nor fired).
func (c *fakeClock) armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// recordingEmitter captures everything the manager ships.
type recordingEmitter struct {
	mu     sync.Mutex
	normal []activity.Event
	final  []activity.Event
}

func (e *recordingEmitter) Emit(_ context.Context, events ...activity.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.normal = append(e.normal, events...)
}

func (e *recordingEmitter) EmitFinal(_ context.Context, events ...activity.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.final = append(e.final, events...)
}

func (e *recordingEmitter) all() []activity.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := append([]activity.Event{}, e.normal...)
	return append(out, e.final...)
}

func (e *recordingEmitter) countKind(k activity.Kind) int {
	n := 0
	for _, ev := range e.all() {
		if ev.Kind == k {
			n++
		}
	}
	return n
}

// fakeIdentityProvider lets tests script sign-in and sign-out.
type fakeIdentityProvider struct {
	mu    sync.Mutex
	ident *Identity
	err   error
	cb    func(*Identity)
}

func (p *fakeIdentityProvider) CurrentIdentity(context.Context) (*Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ident, p.err
}

func (p *fakeIdentityProvider) OnIdentityChange(fn func(*Identity)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb = fn
}

func (p *fakeIdentityProvider) signIn(ident *Identity) {
	p.mu.Lock()
	p.ident = ident
	cb := p.cb
	p.mu.Unlock()
	if cb != nil {
		cb(ident)
	}
}

func (p *fakeIdentityProvider) signOut() {
	p.mu.Lock()
	p.ident = nil
	cb := p.cb
	p.mu.Unlock()
	if cb != nil {
		cb(nil)
	}
}

type ManagerSuite struct {
	suite.Suite
	clock    *fakeClock
	emitter  *recordingEmitter
	idp      *fakeIdentityProvider
	slots    *InMemorySlotStore
	manager  *Manager
	observed []*Session
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.clock = newFakeClock()
	s.emitter = &recordingEmitter{}
	s.idp = &fakeIdentityProvider{}
	s.slots = NewInMemorySlotStore()
	s.observed = nil
	s.manager = NewManager(s.idp, s.slots, s.emitter, logger.NewNop(),
		WithClock(s.clock),
	)
}

func (s *ManagerSuite) signIn() *Identity {
	ident := &Identity{SubjectID: "uid-1", Email: "agent.smith@example.org", Name: "Agent Smith"}
	s.manager.Start(context.Background())
	s.idp.signIn(ident)
	return ident
}

func (s *ManagerSuite) TestSessionOpen() {
	s.Run("sign-in creates session and emits session_start once", func() {
		s.signIn()

		sess := s.manager.Current()
		s.Require().NotNil(sess)
		s.Equal("uid-1", sess.SubjectID)
		s.Equal("agent.smith", sess.Login)
		s.NotEmpty(sess.SessionID)
		s.Equal(1, s.emitter.countKind(activity.KindSessionStart))
		s.Equal(StateActive, s.manager.State())
	})

	s.Run("slot is persisted for the new session", func() {
		slot, err := s.slots.Load(context.Background())
		s.Require().NoError(err)
		s.Require().NotNil(slot)
		s.Equal(s.manager.Current().SessionID, slot.SessionID)
	})

	s.Run("repeated sign-in for the same subject is a no-op", func() {
		before := s.manager.Current().SessionID
		s.idp.signIn(&Identity{SubjectID: "uid-1", Email: "agent.smith@example.org"})
		s.Equal(before, s.manager.Current().SessionID)
		s.Equal(1, s.emitter.countKind(activity.KindSessionStart))
	})
}

func (s *ManagerSuite) TestSessionResume() {
	startedAt := s.clock.Now().Add(-30 * time.Minute)
	err := s.slots.Save(context.Background(), &Slot{
		UID:       "uid-1",
		Login:     "agent.smith",
		SessionID: "sess-resumed",
		StartedAt: startedAt,
	})
	s.Require().NoError(err)

	s.signIn()

	sess := s.manager.Current()
	s.Require().NotNil(sess)
	s.Equal("sess-resumed", sess.SessionID, "sessionId preserved on resume")
	s.True(sess.StartedAt.Equal(startedAt), "startedAt preserved on resume")
	s.Equal(0, s.emitter.countKind(activity.KindSessionStart), "no session_start on resume")
}

func (s *ManagerSuite) TestSlotForOtherSubjectIsIgnored() {
	err := s.slots.Save(context.Background(), &Slot{
		UID:       "uid-other",
		Login:     "someone.else",
		SessionID: "sess-other",
		StartedAt: s.clock.Now(),
	})
	s.Require().NoError(err)

	s.signIn()

	sess := s.manager.Current()
	s.Require().NotNil(sess)
	s.NotEqual("sess-other", sess.SessionID)
	s.Equal(1, s.emitter.countKind(activity.KindSessionStart))
}

// TestTimerHygiene covers the single-armed-timer invariant: bursts of
// activity leave exactly one pending timer, and advancing past the deadline
// fires the timeout exactly once.
func (s *ManagerSuite) TestTimerHygiene() {
	s.signIn()

	for i := 0; i < 25; i++ {
		s.manager.Activity()
	}
	s.Equal(1, s.clock.armed(), "exactly one inactivity timer armed")

	s.clock.Advance(DefaultInactivityTimeout)

	s.Equal(1, s.emitter.countKind(activity.KindSessionEnd), "timeout fires once")
	s.Nil(s.manager.Current())
	s.Equal(0, s.clock.armed())
}

func (s *ManagerSuite) TestActivityDefersTimeout() {
	s.signIn()

	s.clock.Advance(10 * time.Minute)
	s.manager.Activity()
	s.clock.Advance(10 * time.Minute)

	s.Equal(0, s.emitter.countKind(activity.KindSessionEnd), "deadline was pushed out")

	s.clock.Advance(5 * time.Minute)
	s.Equal(1, s.emitter.countKind(activity.KindSessionEnd))
}

// TestSingleFinalize covers the one-shot guard: any interleaving of timeout,
// logout and teardown yields exactly one session_end.
func (s *ManagerSuite) TestSingleFinalize() {
	s.Run("logout then timeout", func() {
		s.SetupTest()
		s.signIn()

		s.manager.EndSession(context.Background(), activity.ReasonLogout)
		s.clock.Advance(DefaultInactivityTimeout)

		s.Equal(1, s.emitter.countKind(activity.KindSessionEnd))
	})

	s.Run("timeout then teardown", func() {
		s.SetupTest()
		s.signIn()

		s.clock.Advance(DefaultInactivityTimeout)
		s.manager.Teardown(context.Background())

		s.Equal(1, s.emitter.countKind(activity.KindSessionEnd))
		s.Empty(s.emitter.final, "teardown after finalize ships nothing")
	})

	s.Run("concurrent logout and teardown", func() {
		s.SetupTest()
		s.signIn()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.manager.EndSession(context.Background(), activity.ReasonLogout)
		}()
		go func() {
			defer wg.Done()
			s.manager.Teardown(context.Background())
		}()
		wg.Wait()

		s.Equal(1, s.emitter.countKind(activity.KindSessionEnd))
	})
}

func (s *ManagerSuite) TestLogoutEmitsLogoutBeforeSessionEnd() {
	s.signIn()
	s.clock.Advance(5 * time.Second)

	s.manager.EndSession(context.Background(), activity.ReasonLogout)

	events := s.emitter.all()
	s.Require().Len(events, 3) // session_start, logout, session_end
	s.Equal(activity.KindLogout, events[1].Kind)
	s.Equal(activity.KindSessionEnd, events[2].Kind)
	s.Equal("logout", events[2].Payload["reason"])
	s.EqualValues(5000, events[2].Payload["duration_ms"])
}

func (s *ManagerSuite) TestTeardownUsesUnloadSafePath() {
	s.signIn()

	s.manager.Teardown(context.Background())

	s.Require().Len(s.emitter.final, 1)
	s.Equal(activity.KindSessionEnd, s.emitter.final[0].Kind)
	s.Equal("window_closed", s.emitter.final[0].Payload["reason"])

	slot, err := s.slots.Load(context.Background())
	s.Require().NoError(err)
	s.Nil(slot, "durable slot cleared on finalize")
}

func (s *ManagerSuite) TestIdentityLossClearsSilently() {
	s.signIn()

	s.idp.signOut()

	s.Nil(s.manager.Current())
	s.Equal(0, s.emitter.countKind(activity.KindSessionEnd), "no session_end on external sign-out")

	// A teardown racing in afterwards must stay silent too.
	s.manager.Teardown(context.Background())
	s.Equal(0, s.emitter.countKind(activity.KindSessionEnd))
}

func (s *ManagerSuite) TestIdentityLookupFailureIsSignedOut() {
	s.idp.err = errors.New("token refresh failed")
	s.manager.Start(context.Background())

	s.Nil(s.manager.Current())
	s.Equal(StateNoSession, s.manager.State())
}

func (s *ManagerSuite) TestSubscribe() {
	s.manager.Subscribe(func(sess *Session) {
		s.observed = append(s.observed, sess)
	})
	s.Require().Len(s.observed, 1)
	s.Nil(s.observed[0], "initial callback reports no session")

	s.signIn()
	s.Require().Len(s.observed, 2)
	s.NotNil(s.observed[1])

	s.manager.EndSession(context.Background(), activity.ReasonLogout)
	s.Require().Len(s.observed, 3)
	s.Nil(s.observed[2])
}

// blockingSlotStore stalls Load until released so tests can probe what stays
// responsive while the slot read is in flight.
type blockingSlotStore struct {
	*InMemorySlotStore
	loading chan struct{}
	release chan struct{}
}

func (b *blockingSlotStore) Load(ctx context.Context) (*Slot, error) {
	close(b.loading)
	<-b.release
	return b.InMemorySlotStore.Load(ctx)
}

func (s *ManagerSuite) TestSlowSlotLoadDoesNotBlockManager() {
	slots := &blockingSlotStore{
		InMemorySlotStore: NewInMemorySlotStore(),
		loading:           make(chan struct{}),
		release:           make(chan struct{}),
	}
	m := NewManager(s.idp, slots, s.emitter, logger.NewNop(), WithClock(s.clock))
	m.Start(context.Background())

	go s.idp.signIn(&Identity{SubjectID: "uid-1", Email: "agent.smith@example.org"})
	<-slots.loading

	done := make(chan struct{})
	go func() {
		m.Activity()
		m.Current()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.FailNow("manager stayed locked across the slot load")
	}

	close(slots.release)
	s.Eventually(func() bool { return m.Current() != nil }, 2*time.Second, 10*time.Millisecond)
	s.Equal(1, s.emitter.countKind(activity.KindSessionStart))
}
