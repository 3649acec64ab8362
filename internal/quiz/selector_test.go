package quiz_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuneclash/server/internal/domain"
	"github.com/tuneclash/server/internal/errors"
	"github.com/tuneclash/server/internal/quiz"
)

func makePool(n int) []domain.Track {
	pool := make([]domain.Track, 0, n)
	for i := 0; i < n; i++ {
		pool = append(pool, domain.Track{
			ID:      fmt.Sprintf("track_%d", i),
			Title:   fmt.Sprintf("Track %d", i),
			Artists: []string{fmt.Sprintf("Artist %d", i)},
		})
	}
	return pool
}

func TestSelector_SelectQuestions(t *testing.T) {
	const (
		count       = 5
		distractors = 3
	)

	s := quiz.NewSelector(rand.NewSource(42))

	questions, err := s.SelectQuestions(makePool(count+distractors), count, distractors)
	require.NoError(t, err)
	require.Len(t, questions, count)

	seen := make(map[string]bool)
	for _, q := range questions {
		assert.False(t, seen[q.Track.ID], "correct track %s repeated", q.Track.ID)
		seen[q.Track.ID] = true

		require.Len(t, q.Choices, distractors+1)
		assert.Equal(t, q.Track.ID, q.Choices[q.CorrectIndex].ID)

		ids := make(map[string]bool)
		for _, c := range q.Choices {
			assert.False(t, ids[c.ID], "choice %s repeated", c.ID)
			ids[c.ID] = true
		}
	}
}

func TestSelector_SelectQuestions_Deterministic(t *testing.T) {
	pool := makePool(12)

	a, err := quiz.NewSelector(rand.NewSource(7)).SelectQuestions(pool, 4, 3)
	require.NoError(t, err)
	b, err := quiz.NewSelector(rand.NewSource(7)).SelectQuestions(pool, 4, 3)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestSelector_SelectQuestions_InsufficientTracks(t *testing.T) {
	s := quiz.NewSelector(rand.NewSource(1))

	tests := map[string]struct {
		poolSize    int
		count       int
		distractors int
	}{
		"pool smaller than question count": {poolSize: 2, count: 3, distractors: 1},
		"pool one short of distractors":    {poolSize: 3, count: 1, distractors: 3},
		"single track, single question":    {poolSize: 1, count: 1, distractors: 1},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := s.SelectQuestions(makePool(tt.poolSize), tt.count, tt.distractors)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.CodeResourceExhausted))
		})
	}
}

func TestSelector_BuildChoices_CorrectIndexCoversAllPositions(t *testing.T) {
	const distractors = 3

	s := quiz.NewSelector(rand.NewSource(99))
	pool := makePool(10)

	positions := make(map[int]bool)
	for i := 0; i < 200; i++ {
		choices, idx, err := s.BuildChoices(pool[0], pool, distractors)
		require.NoError(t, err)
		require.Len(t, choices, distractors+1)
		require.Equal(t, pool[0].ID, choices[idx].ID)
		positions[idx] = true
	}

	for p := 0; p <= distractors; p++ {
		assert.True(t, positions[p], "correct answer never placed at position %d", p)
	}
}
