package domain

import (
	"time"
)

type RoomStatus string

const (
	RoomStatusWaiting  RoomStatus = "waiting"
	RoomStatusPlaying  RoomStatus = "playing"
	RoomStatusFinished RoomStatus = "finished"
)

// Room is one logical game instance, identified by a short join code.
type Room struct {
	Code         string     `json:"code"`
	HostID       string     `json:"host_id"`
	HostName     string     `json:"host_name"`
	PlaylistID   string     `json:"playlist_id"`
	PlaylistName string     `json:"playlist_name"`
	Status       RoomStatus `json:"status"`
	CreateTime   time.Time  `json:"create_time"`
	ExpireTime   time.Time  `json:"expire_time"`
}

func (r Room) Expired(now time.Time) bool {
	return now.After(r.ExpireTime)
}

type Player struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Score    int       `json:"score"`
	JoinTime time.Time `json:"join_time"`
}

// Track is a playable catalog entry.
type Track struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Artists    []string `json:"artists"`
	PreviewURL string   `json:"preview_url"`
	DurationMS int      `json:"duration_ms"`
}

// Question pairs a correct track with distractor choices. CorrectIndex is
// the position of Track within Choices. A Question is never mutated after
// it becomes current; advancing replaces it.
type Question struct {
	Track        Track     `json:"track"`
	Choices      []Track   `json:"choices"`
	CorrectIndex int       `json:"correct_index"`
	StartTime    time.Time `json:"start_time"`
	Duration     int       `json:"duration"` // seconds
}

// Answer is one ledger entry. At most one exists per (player, question
// index); the first submission wins.
type Answer struct {
	PlayerID      string        `json:"player_id"`
	PlayerName    string        `json:"player_name"`
	QuestionIndex int           `json:"question_index"`
	Choice        int           `json:"choice"`
	Correct       bool          `json:"correct"`
	Latency       time.Duration `json:"latency"`
	Points        int           `json:"points"`
	SubmitTime    time.Time     `json:"submit_time"`
}

// Leaderboard is a ranked projection of players by cumulative score.
// Entries are sorted by score descending, ties broken by join order.
type Leaderboard struct {
	RoomCode string             `json:"room_code"`
	Entries  []LeaderboardEntry `json:"entries"`
}

type LeaderboardEntry struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	Score      int    `json:"score"`
	Rank       int    `json:"rank"`
}

// GameSnapshot is the session state visible to clients.
type GameSnapshot struct {
	RoomCode       string     `json:"room_code"`
	Status         RoomStatus `json:"status"`
	QuestionIndex  int        `json:"question_index"`
	TotalQuestions int        `json:"total_questions"`
	Players        []Player   `json:"players"`
	TimeRemaining  int        `json:"time_remaining"`
}
