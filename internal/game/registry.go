package game

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tuneclash/server/internal/countdown"
	"github.com/tuneclash/server/internal/domain"
	"github.com/tuneclash/server/internal/errors"
	"github.com/tuneclash/server/internal/event"
	"github.com/tuneclash/server/internal/quiz"
)

type Config struct {
	Store       Store
	Catalog     Catalog
	Broadcaster Broadcaster
	EventBus    *event.Bus
	Clock       clockwork.Clock
	Timers      *countdown.Runner
	Selector    *quiz.Selector
	Rules       Rules

	// SweepInterval is how often retired and expired sessions are
	// collected. Zero means once a minute.
	SweepInterval time.Duration
}

// Registry maps room codes to live sessions and owns their lifecycle.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(c Config) *Registry {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Timers == nil {
		c.Timers = countdown.NewRunner(c.Clock)
	}
	if c.Selector == nil {
		c.Selector = quiz.NewSelector(nil)
	}
	if c.Rules == (Rules{}) {
		c.Rules = DefaultRules()
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}

	return &Registry{
		cfg:      c,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the live session for a room, reviving it from the
// store when none is resident. Concurrent callers for the same code get
// the same session.
func (r *Registry) GetOrCreate(ctx context.Context, code string) (*Session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[code]; ok && !s.Closed() {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	room, roster, err := r.load(ctx, code)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have revived the session while we were reading
	// the store.
	if s, ok := r.sessions[code]; ok && !s.Closed() {
		return s, nil
	}

	return r.install(*room, roster), nil
}

// Create builds the session for a freshly created room. Unlike
// GetOrCreate it refuses rooms that already have a live session or have
// moved past the waiting state.
func (r *Registry) Create(ctx context.Context, code string) (*Session, error) {
	if _, ok := r.Get(code); ok {
		return nil, errDuplicateSession(code)
	}

	room, roster, err := r.load(ctx, code)
	if err != nil {
		return nil, err
	}
	if room.Status != domain.RoomStatusWaiting {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("room is not accepting a new game: %s", code))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[code]; ok && !s.Closed() {
		return nil, errDuplicateSession(code)
	}

	return r.install(*room, roster), nil
}

func errDuplicateSession(code string) error {
	return errors.New(errors.CodeAlreadyExists,
		errors.WithMessagef("session already live for room: %s", code))
}

func (r *Registry) load(ctx context.Context, code string) (*domain.Room, []domain.Player, error) {
	room, err := r.cfg.Store.GetRoomByCode(ctx, code)
	if err != nil {
		return nil, nil, upstream(err)
	}

	roster, err := r.cfg.Store.PlayersByRoom(ctx, code)
	if err != nil {
		return nil, nil, upstream(err)
	}

	return room, roster, nil
}

// install must be called with r.mu held.
func (r *Registry) install(room domain.Room, roster []domain.Player) *Session {
	s := newSession(room, roster, r.cfg)
	r.sessions[room.Code] = s
	activeSessions.Inc()
	return s
}

// Get returns the resident session for a room, if any.
func (r *Registry) Get(code string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[code]
	if !ok || s.Closed() {
		return nil, false
	}
	return s, true
}

func (r *Registry) remove(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[code]
	if !ok {
		return
	}

	s.Close()
	delete(r.sessions, code)
	activeSessions.Dec()
}

// Run sweeps retired sessions and expired room rows until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	ticker := r.cfg.Clock.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			r.sweep(ctx)
		}
	}
}

func (r *Registry) sweep(ctx context.Context) {
	now := r.cfg.Clock.Now()

	r.mu.Lock()
	var retire []string
	for code, s := range r.sessions {
		if s.retireEligible(now) {
			retire = append(retire, code)
		}
	}
	r.mu.Unlock()

	for _, code := range retire {
		r.remove(code)
		slog.Info("game: session retired", "room", code)
	}

	n, err := r.cfg.Store.DeleteExpiredRooms(ctx)
	if err != nil {
		slog.Error("game: expired room sweep failed", "error", errors.Convert(err))
		return
	}
	if n > 0 {
		slog.Info("game: expired rooms deleted", "count", n)
	}
}

// Shutdown closes every resident session and stops all countdowns.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for code, s := range r.sessions {
		s.Close()
		delete(r.sessions, code)
		activeSessions.Dec()
	}

	r.cfg.Timers.CancelAll()
}
