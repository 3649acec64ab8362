package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tuneclash/server/internal/domain"
	"github.com/tuneclash/server/internal/errors"
	"github.com/tuneclash/server/internal/event"
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
	TTL      time.Duration
}

// Service maintains a redis sorted-set mirror of each room's standings.
// The session ledger stays authoritative; this is a derived read model
// serving the REST leaderboard endpoint without touching live sessions.
type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
		ttl:    c.TTL,
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.UpdateScore(ctx, e.(domain.EventScoreUpdated))
	})

	s.eb.Subscribe(domain.EventNameGameFinished, func(ctx context.Context, e event.Event) error {
		return s.SealRoom(ctx, e.(domain.EventGameFinished))
	})

	return s
}

type GetLeaderboardRequest struct {
	RoomCode string
}

// GetLeaderboard returns the mirrored standings for a room, ranked by
// score descending.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.boardKey(req.RoomCode), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("leaderboard not found: room=%s", req.RoomCode))
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for i, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			PlayerName: z.Member.(string),
			Score:      int(z.Score),
			Rank:       i + 1,
		})
	}

	return &domain.Leaderboard{
		RoomCode: req.RoomCode,
		Entries:  entries,
	}, nil
}

// UpdateScore overwrites the player's mirrored score.
func (s *Service) UpdateScore(ctx context.Context, e domain.EventScoreUpdated) error {
	if err := s.redis.ZAdd(ctx, s.boardKey(e.RoomCode), redis.Z{
		Score:  float64(e.Score),
		Member: e.PlayerName,
	}).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return nil
}

// SealRoom bounds the lifetime of a finished room's mirror so keys do
// not accumulate after the game ends.
func (s *Service) SealRoom(ctx context.Context, e domain.EventGameFinished) error {
	if s.ttl <= 0 {
		return nil
	}

	if err := s.redis.Expire(ctx, s.boardKey(e.RoomCode), s.ttl).Err(); err != nil {
		return fmt.Errorf("seal leaderboard: %w", err)
	}

	return nil
}

func (s *Service) boardKey(room string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, room)
}
