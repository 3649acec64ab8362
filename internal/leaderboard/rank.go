package leaderboard

import (
	"sort"

	"github.com/tuneclash/server/internal/domain"
)

// Rank projects the roster into a ranked leaderboard. Players are sorted
// by cumulative score descending; ties keep join order, so ranking is
// deterministic regardless of when the tying scores arrived. Ranks are
// 1-based and contiguous, ties included.
func Rank(roomCode string, players []*domain.Player) domain.Leaderboard {
	ordered := make([]*domain.Player, len(players))
	copy(ordered, players)

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score > ordered[j].Score
	})

	entries := make([]domain.LeaderboardEntry, 0, len(ordered))
	for i, p := range ordered {
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID:   p.ID,
			PlayerName: p.Name,
			Score:      p.Score,
			Rank:       i + 1,
		})
	}

	return domain.Leaderboard{
		RoomCode: roomCode,
		Entries:  entries,
	}
}
