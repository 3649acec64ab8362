package domain

import "time"

const (
	EventNameScoreUpdated = "score.updated"
	EventNameGameFinished = "game.finished"
)

// EventScoreUpdated is published on the internal bus whenever a player's
// cumulative score changes. Projections (redis leaderboard mirror, store
// write-behind) consume it.
type EventScoreUpdated struct {
	RoomCode   string
	PlayerID   string
	PlayerName string
	Score      int
	UpdateTime time.Time
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

// EventGameFinished is published when a session reaches its terminal
// state, carrying the final ranked leaderboard.
type EventGameFinished struct {
	RoomCode    string
	Leaderboard Leaderboard
}

func (EventGameFinished) Name() string { return EventNameGameFinished }
