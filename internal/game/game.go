// Package game owns the live quiz sessions: one state machine per room,
// a registry mapping room codes to sessions, and the countdown-driven
// round progression. All mutable session state is confined to a single
// goroutine per session; commands for different rooms run in parallel.
package game

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/tuneclash/server/internal/domain"
	"github.com/tuneclash/server/internal/errors"
	"github.com/tuneclash/server/internal/scoring"
)

// Store is the persistence collaborator. Failures are fatal to the
// issuing command and surfaced to the originating client; the core does
// not retry.
type Store interface {
	GetRoomByCode(ctx context.Context, code string) (*domain.Room, error)
	UpdateRoomStatus(ctx context.Context, code string, status domain.RoomStatus) error
	AddPlayerRecord(ctx context.Context, roomCode string, p domain.Player) error
	PlayersByRoom(ctx context.Context, roomCode string) ([]domain.Player, error)
	UpdatePlayerScore(ctx context.Context, playerID string, score int) error
	RemovePlayerRecord(ctx context.Context, playerID string) error
	DeleteExpiredRooms(ctx context.Context) (int64, error)
}

// Catalog fetches the playable tracks backing a room's track pool.
type Catalog interface {
	FetchPlayableTracks(ctx context.Context, token, playlistID string) ([]domain.Track, error)
}

// Broadcaster fans a session event out to the room's connected clients,
// preserving emission order within the room.
type Broadcaster interface {
	Broadcast(roomCode, event string, data any)
}

// Rules are the per-game tuning knobs.
type Rules struct {
	QuestionsPerGame   int
	QuestionSeconds    int
	PostRoundDelay     time.Duration
	MaxPlayers         int
	ChoicesPerQuestion int
	RetireGrace        time.Duration
	Scoring            scoring.Config
}

func DefaultRules() Rules {
	return Rules{
		QuestionsPerGame:   10,
		QuestionSeconds:    10,
		PostRoundDelay:     3 * time.Second,
		MaxPlayers:         50,
		ChoicesPerQuestion: 4,
		RetireGrace:        time.Minute,
		Scoring:            scoring.DefaultConfig(),
	}
}

// Client-facing event names, broadcast per room.
const (
	EventRoomUpdated     = "roomUpdated"
	EventPlayerJoined    = "playerJoined"
	EventPlayerLeft      = "playerLeft"
	EventGameStarted     = "gameStarted"
	EventQuestionStarted = "questionStarted"
	EventTimerTick       = "timerTick"
	EventQuestionEnded   = "questionEnded"
	EventGameFinished    = "gameFinished"
	EventError           = "error"
)

type PlayerLeftPayload struct {
	PlayerID string `json:"player_id"`
}

type QuestionStartedPayload struct {
	Question domain.Question `json:"question"`
	Duration int             `json:"duration"`
}

type TimerTickPayload struct {
	SecondsRemaining int `json:"seconds_remaining"`
}

type QuestionEndedPayload struct {
	Answers     []domain.Answer    `json:"answers"`
	Leaderboard domain.Leaderboard `json:"leaderboard"`
}

type GameFinishedPayload struct {
	Leaderboard domain.Leaderboard `json:"leaderboard"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// upstream passes through coded errors and wraps everything else as a
// collaborator failure.
func upstream(err error) error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e
	}

	return errors.New(errors.CodeUnavailable,
		errors.WithMessagef("storage failure"),
		errors.WithCause(err))
}
