package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dutylog/internal/activity"
)

// State is the lifecycle position of the manager.
type State int

const (
	StateNoSession State = iota
	StateActive
	StateEnding
)

// Identity is what the identity provider reports for a signed-in subject.
type Identity struct {
	SubjectID string
	Email     string
	Name      string
}

// Login derives the human-readable handle from the email local part.
func (i Identity) Login() string {
	if at := strings.IndexByte(i.Email, '@'); at > 0 {
		return i.Email[:at]
	}
	return i.Email
}

// IdentityProvider is the external authentication observer.
type IdentityProvider interface {
	// CurrentIdentity returns nil when nobody is signed in.
	CurrentIdentity(ctx context.Context) (*Identity, error)
	// OnIdentityChange registers a callback invoked on every sign-in and
	// sign-out observed in this context.
	OnIdentityChange(fn func(*Identity))
}

// Emitter ships activity events. EmitFinal is the page-teardown path: the
// transport behind it must attempt delivery even as the context dies.
// Both are fire-and-forget from the manager's perspective.
type Emitter interface {
	Emit(ctx context.Context, events ...activity.Event)
	EmitFinal(ctx context.Context, events ...activity.Event)
}

// Session is one continuous authenticated interaction period.
// SessionID and StartedAt are immutable once created.
type Session struct {
	SessionID string
	SubjectID string
	Login     string
	Name      string
	StartedAt time.Time
}

// Manager is the session lifecycle state machine. One instance per browsing
// context. It opens a session when the identity provider reports a subject,
// re-arms an inactivity deadline on every activity signal, and finalizes the
// session exactly once on logout, timeout or teardown - whichever wins.
type Manager struct {
	clock      Clock
	identity   IdentityProvider
	slot       SlotStore
	emitter    Emitter
	logger     *slog.Logger
	inactivity time.Duration

	mu          sync.Mutex
	state       State
	current     *Session
	timer       Timer
	finalized   bool
	subscribers []func(*Session)
}

// Option configures the Manager.
type Option func(*Manager)

// WithClock injects a clock; tests use a manual one.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithInactivityTimeout overrides the 15-minute default deadline.
func WithInactivityTimeout(d time.Duration) Option {
	return func(m *Manager) { m.inactivity = d }
}

// DefaultInactivityTimeout is how long a session survives without activity.
const DefaultInactivityTimeout = 15 * time.Minute

// NewManager wires the lifecycle state machine. Call Start to begin observing
// the identity provider.
func NewManager(identity IdentityProvider, slot SlotStore, emitter Emitter, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		clock:      NewClock(),
		identity:   identity,
		slot:       slot,
		emitter:    emitter,
		logger:     logger,
		inactivity: DefaultInactivityTimeout,
		state:      StateNoSession,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Start registers the identity observer and processes the current identity.
// Identity retrieval failures are non-fatal: logged and treated as signed-out.
func (m *Manager) Start(ctx context.Context) {
	m.identity.OnIdentityChange(func(ident *Identity) {
		m.handleIdentity(context.Background(), ident)
	})

	ident, err := m.identity.CurrentIdentity(ctx)
	if err != nil {
		m.logger.Warn("identity lookup failed, treating as signed out", "error", err)
		ident = nil
	}
	m.handleIdentity(ctx, ident)
}

// Subscribe registers a callback fired on every lifecycle transition. The
// callback receives the current session (nil when there is none) immediately
// on registration.
func (m *Manager) Subscribe(fn func(*Session)) {
	m.mu.Lock()
	m.subscribers = append(m.subscribers, fn)
	current := m.snapshotLocked()
	m.mu.Unlock()
	fn(current)
}

// Current returns a copy of the active session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Activity is the self-loop: any qualifying user signal re-arms the
// inactivity deadline. Arming always cancels the previous timer first, so at
// most one timer is pending at any instant.
func (m *Manager) Activity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive {
		return
	}
	m.armTimerLocked()
}

// Record forwards an application event through the delivery pipeline.
// Fire-and-forget for the caller.
func (m *Manager) Record(ctx context.Context, kind activity.Kind, payload map[string]any) {
	m.emitter.Emit(ctx, activity.Event{Kind: kind, Payload: payload})
}

// EndSession finalizes the session for an explicit logout or an externally
// detected timeout.
func (m *Manager) EndSession(ctx context.Context, reason activity.SessionEndReason) {
	m.finalize(ctx, reason, false)
}

// Teardown finalizes the session because the hosting context is going away.
// Uses the unload-safe delivery path.
func (m *Manager) Teardown(ctx context.Context) {
	m.finalize(ctx, activity.ReasonWindowClosed, true)
}

func (m *Manager) handleIdentity(ctx context.Context, ident *Identity) {
	if ident == nil {
		m.clearWithoutEnd(ctx)
		return
	}
	m.open(ctx, *ident)
}

// open transitions NoSession → Active. A slot held for the same subject is
// resumed with its original sessionId and startedAt; session_start is emitted
// only for genuinely new sessions.
func (m *Manager) open(ctx context.Context, ident Identity) {
	m.mu.Lock()
	if m.current != nil && m.current.SubjectID == ident.SubjectID {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	// Load outside the lock: a slow slot read must not block Activity or a
	// firing inactivity timer.
	slot, err := m.slot.Load(ctx)
	if err != nil {
		m.logger.Warn("session slot load failed, starting fresh", "error", err)
		slot = nil
	}

	m.mu.Lock()
	if m.current != nil && m.current.SubjectID == ident.SubjectID {
		m.mu.Unlock()
		return
	}

	resumed := slot != nil && slot.UID == ident.SubjectID
	if resumed {
		m.current = &Session{
			SessionID: slot.SessionID,
			SubjectID: slot.UID,
			Login:     slot.Login,
			Name:      slot.Name,
			StartedAt: slot.StartedAt,
		}
	} else {
		m.current = &Session{
			SessionID: uuid.NewString(),
			SubjectID: ident.SubjectID,
			Login:     ident.Login(),
			Name:      ident.Name,
			StartedAt: m.clock.Now(),
		}
	}
	m.state = StateActive
	m.finalized = false
	m.armTimerLocked()
	sess := m.snapshotLocked()
	subs := append([]func(*Session){}, m.subscribers...)
	m.mu.Unlock()

	if !resumed {
		if err := m.slot.Save(ctx, &Slot{
			UID:       sess.SubjectID,
			Login:     sess.Login,
			Name:      sess.Name,
			SessionID: sess.SessionID,
			StartedAt: sess.StartedAt,
		}); err != nil {
			m.logger.Warn("session slot save failed", "error", err)
		}
		m.emitter.Emit(ctx, activity.Event{Kind: activity.KindSessionStart})
	}

	for _, fn := range subs {
		fn(sess)
	}
}

// finalize runs the Active → Ending → NoSession tail of the state machine.
// The one-shot flag guarantees that racing triggers (timeout, logout,
// teardown) produce exactly one session_end; later arrivals no-op.
func (m *Manager) finalize(ctx context.Context, reason activity.SessionEndReason, unload bool) {
	m.mu.Lock()
	if m.finalized || m.current == nil {
		m.mu.Unlock()
		return
	}
	m.finalized = true
	m.state = StateEnding
	m.stopTimerLocked()
	startedAt := m.current.StartedAt
	m.mu.Unlock()

	durationMs := m.clock.Now().Sub(startedAt).Milliseconds()
	events := make([]activity.Event, 0, 2)
	if reason == activity.ReasonLogout {
		events = append(events, activity.Event{Kind: activity.KindLogout})
	}
	events = append(events, activity.Event{
		Kind: activity.KindSessionEnd,
		Payload: map[string]any{
			"reason":      string(reason),
			"duration_ms": durationMs,
		},
	})

	// Emit while the session is still current so enrichment can see it.
	if unload {
		m.emitter.EmitFinal(ctx, events...)
	} else {
		m.emitter.Emit(ctx, events...)
	}

	if err := m.slot.Clear(ctx); err != nil {
		m.logger.Warn("session slot clear failed", "error", err)
	}

	m.mu.Lock()
	m.current = nil
	m.state = StateNoSession
	subs := append([]func(*Session){}, m.subscribers...)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(nil)
	}
}

// clearWithoutEnd handles the identity provider reporting sign-out elsewhere:
// state is dropped synchronously and no session_end is emitted. The finalized
// flag is set so a teardown arriving later stays a no-op.
func (m *Manager) clearWithoutEnd(ctx context.Context) {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return
	}
	m.finalized = true
	m.stopTimerLocked()
	m.current = nil
	m.state = StateNoSession
	subs := append([]func(*Session){}, m.subscribers...)
	m.mu.Unlock()

	if err := m.slot.Clear(ctx); err != nil {
		m.logger.Warn("session slot clear failed", "error", err)
	}

	for _, fn := range subs {
		fn(nil)
	}
}

func (m *Manager) armTimerLocked() {
	m.stopTimerLocked()
	m.timer = m.clock.AfterFunc(m.inactivity, func() {
		m.finalize(context.Background(), activity.ReasonTimeout, false)
	})
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) snapshotLocked() *Session {
	if m.current == nil {
		return nil
	}
	copied := *m.current
	return &copied
}
