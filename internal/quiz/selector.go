package quiz

import (
	"math/rand"
	"time"

	"github.com/tuneclash/server/internal/domain"
	"github.com/tuneclash/server/internal/errors"
)

// Selector derives quiz questions from a pool of candidate tracks. The
// randomness source is injectable so question generation is
// deterministic under test.
type Selector struct {
	rng *rand.Rand
}

// NewSelector creates a selector. A nil source falls back to a
// time-seeded one.
func NewSelector(src rand.Source) *Selector {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}

	return &Selector{rng: rand.New(src)}
}

// SelectQuestions draws count non-repeating correct tracks from the pool
// and builds a question around each. Fails with resource exhausted when
// the pool cannot cover count questions or distractorCount choices.
func (s *Selector) SelectQuestions(pool []domain.Track, count, distractorCount int) ([]domain.Question, error) {
	if len(pool) < count {
		return nil, insufficientTracks(len(pool), count)
	}

	order := s.rng.Perm(len(pool))

	questions := make([]domain.Question, 0, count)
	for _, i := range order[:count] {
		choices, correctIdx, err := s.BuildChoices(pool[i], pool, distractorCount)
		if err != nil {
			return nil, err
		}

		questions = append(questions, domain.Question{
			Track:        pool[i],
			Choices:      choices,
			CorrectIndex: correctIdx,
		})
	}

	return questions, nil
}

// BuildChoices draws distractorCount tracks distinct from the correct
// one and from each other, then places the correct track at a uniformly
// random position. Returns the choices and the correct track's index.
func (s *Selector) BuildChoices(correct domain.Track, pool []domain.Track, distractorCount int) ([]domain.Track, int, error) {
	candidates := make([]domain.Track, 0, len(pool))
	for _, t := range pool {
		if t.ID != correct.ID {
			candidates = append(candidates, t)
		}
	}

	if len(candidates) < distractorCount {
		return nil, 0, insufficientTracks(len(candidates), distractorCount)
	}

	s.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	choices := make([]domain.Track, 0, distractorCount+1)
	choices = append(choices, candidates[:distractorCount]...)

	correctIdx := s.rng.Intn(distractorCount + 1)
	choices = append(choices[:correctIdx], append([]domain.Track{correct}, choices[correctIdx:]...)...)

	return choices, correctIdx, nil
}

func insufficientTracks(have, want int) error {
	return errors.New(errors.CodeResourceExhausted,
		errors.WithMessagef("insufficient tracks: have %d, want %d", have, want))
}
