package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuneclash/server/internal/domain"
	"github.com/tuneclash/server/internal/errors"
	"github.com/tuneclash/server/internal/event"
)

func newRegistryFixture(t *testing.T, store *memStore) (*Registry, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClock()
	bus := event.NewBus()
	t.Cleanup(bus.Stop)

	r := NewRegistry(Config{
		Store:       store,
		Catalog:     &fakeCatalog{tracks: trackPool(8)},
		Broadcaster: &recorder{},
		EventBus:    bus,
		Clock:       clock,
	})
	t.Cleanup(r.Shutdown)

	return r, clock
}

func waitingRoom(code string, clock clockwork.Clock) *domain.Room {
	return &domain.Room{
		Code:       code,
		HostID:     "host-1",
		PlaylistID: "pl-1",
		Status:     domain.RoomStatusWaiting,
		CreateTime: clock.Now(),
		ExpireTime: clock.Now().Add(24 * time.Hour),
	}
}

func TestRegistry_GetOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("revives room from store", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		store := newMemStore(waitingRoom("AAAAAA", clock))
		r, _ := newRegistryFixture(t, store)

		s, err := r.GetOrCreate(ctx, "AAAAAA")
		require.NoError(t, err)
		assert.Equal(t, "AAAAAA", s.RoomCode())
		assert.Equal(t, "host-1", s.HostID())

		again, err := r.GetOrCreate(ctx, "AAAAAA")
		require.NoError(t, err)
		assert.Same(t, s, again)
	})

	t.Run("unknown room", func(t *testing.T) {
		r, _ := newRegistryFixture(t, newMemStore())

		_, err := r.GetOrCreate(ctx, "NOPE01")
		assert.True(t, errors.Is(err, errors.CodeNotFound), "got %v", err)
	})

	t.Run("concurrent callers share one session", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		store := newMemStore(waitingRoom("BBBBBB", clock))
		r, _ := newRegistryFixture(t, store)

		const callers = 16
		sessions := make([]*Session, callers)

		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				s, err := r.GetOrCreate(ctx, "BBBBBB")
				assert.NoError(t, err)
				sessions[i] = s
			}(i)
		}
		wg.Wait()

		for i := 1; i < callers; i++ {
			assert.Same(t, sessions[0], sessions[i])
		}
	})
}

func TestRegistry_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects a live duplicate", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		store := newMemStore(waitingRoom("FFFFFF", clock))
		r, _ := newRegistryFixture(t, store)

		_, err := r.Create(ctx, "FFFFFF")
		require.NoError(t, err)

		_, err = r.Create(ctx, "FFFFFF")
		assert.True(t, errors.Is(err, errors.CodeAlreadyExists), "got %v", err)
	})

	t.Run("rejects rooms past waiting", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		room := waitingRoom("GGGGGG", clock)
		room.Status = domain.RoomStatusPlaying
		r, _ := newRegistryFixture(t, newMemStore(room))

		_, err := r.Create(ctx, "GGGGGG")
		assert.True(t, errors.Is(err, errors.CodeFailedPrecondition), "got %v", err)
	})
}

func TestRegistry_GetOrCreateRestoresRoster(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := newMemStore(waitingRoom("HHHHHH", clock))

	require.NoError(t, store.AddPlayerRecord(ctx, "HHHHHH", domain.Player{
		ID: "p1", Name: "Alice", Score: 910,
	}))

	r, _ := newRegistryFixture(t, store)

	s, err := r.GetOrCreate(ctx, "HHHHHH")
	require.NoError(t, err)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Players, 1)
	assert.Equal(t, "Alice", snap.Players[0].Name)
	assert.Equal(t, 910, snap.Players[0].Score)
}

func TestRegistry_Get(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newMemStore(waitingRoom("CCCCCC", clock))
	r, _ := newRegistryFixture(t, store)

	_, ok := r.Get("CCCCCC")
	assert.False(t, ok, "not resident until GetOrCreate")

	s, err := r.GetOrCreate(context.Background(), "CCCCCC")
	require.NoError(t, err)

	got, ok := r.Get("CCCCCC")
	require.True(t, ok)
	assert.Same(t, s, got)

	s.Close()
	_, ok = r.Get("CCCCCC")
	assert.False(t, ok, "closed sessions are not returned")
}

func TestRegistry_SweepRetiresFinishedSessions(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := newMemStore(waitingRoom("DDDDDD", clock))

	bus := event.NewBus()
	t.Cleanup(bus.Stop)

	r := NewRegistry(Config{
		Store:       store,
		Catalog:     &fakeCatalog{tracks: trackPool(8)},
		Broadcaster: &recorder{},
		EventBus:    bus,
		Clock:       clock,
		Rules: Rules{
			QuestionsPerGame:   1,
			QuestionSeconds:    2,
			PostRoundDelay:     time.Second,
			MaxPlayers:         50,
			ChoicesPerQuestion: 4,
			RetireGrace:        time.Minute,
			Scoring:            DefaultRules().Scoring,
		},
	})
	t.Cleanup(r.Shutdown)

	s, err := r.GetOrCreate(ctx, "DDDDDD")
	require.NoError(t, err)

	_, err = s.AddPlayer(ctx, "Alice")
	require.NoError(t, err)
	require.NoError(t, s.StartGame(ctx, "token"))

	// Run the game to completion on the fake clock.
	for _, d := range []time.Duration{time.Second, time.Second, time.Second} {
		clock.BlockUntil(1)
		clock.Advance(d)
		time.Sleep(20 * time.Millisecond)
	}

	snap, err := s.Snapshot()
	require.NoError(t, err)
	require.Equal(t, domain.RoomStatusFinished, snap.Status)

	// Inside the grace period the session stays resident.
	r.sweep(ctx)
	_, ok := r.Get("DDDDDD")
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	r.sweep(ctx)
	_, ok = r.Get("DDDDDD")
	assert.False(t, ok, "finished session past grace is retired")
	assert.True(t, s.Closed())
}

func TestRegistry_Shutdown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newMemStore(waitingRoom("EEEEEE", clock))
	r, _ := newRegistryFixture(t, store)

	s, err := r.GetOrCreate(context.Background(), "EEEEEE")
	require.NoError(t, err)

	r.Shutdown()

	assert.True(t, s.Closed())
	_, ok := r.Get("EEEEEE")
	assert.False(t, ok)
}
