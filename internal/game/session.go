package game

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/tuneclash/server/internal/countdown"
	"github.com/tuneclash/server/internal/domain"
	"github.com/tuneclash/server/internal/errors"
	"github.com/tuneclash/server/internal/event"
	"github.com/tuneclash/server/internal/leaderboard"
	"github.com/tuneclash/server/internal/quiz"
	"github.com/tuneclash/server/internal/scoring"
)

// actQueueSize bounds pending session work. It dwarfs the player cap, so
// command submitters never wait long; timer ticks are dropped rather
// than queued when the session falls behind.
const actQueueSize = 1024

// Session is the state machine for one room's game. Every mutation runs
// on the session's own goroutine, so commands from different connections
// and timer callbacks are serialized without shared locks. Effects of a
// command (state change plus event emission) are therefore atomic from
// an observer's point of view.
type Session struct {
	rules    Rules
	store    Store
	catalog  Catalog
	bc       Broadcaster
	bus      *event.Bus
	timers   *countdown.Runner
	clock    clockwork.Clock
	selector *quiz.Selector

	acts      chan func()
	closed    chan struct{}
	closeOnce sync.Once

	finishedAt   atomic.Int64 // unix nanos, 0 until finished
	lastActivity atomic.Int64 // unix nanos of the last client command

	// Owned by the session goroutine.
	room           domain.Room
	players        []*domain.Player
	answers        []domain.Answer
	questions      []domain.Question
	qIndex         int
	current        *domain.Question
	timeRemaining  int
	timerGen       uint64
	pendingAdvance clockwork.Timer
}

func newSession(room domain.Room, roster []domain.Player, c Config) *Session {
	s := &Session{
		rules:    c.Rules,
		store:    c.Store,
		catalog:  c.Catalog,
		bc:       c.Broadcaster,
		bus:      c.EventBus,
		timers:   c.Timers,
		clock:    c.Clock,
		selector: c.Selector,
		acts:     make(chan func(), actQueueSize),
		closed:   make(chan struct{}),
		room:     room,
	}

	// A revived session restores its roster from the store.
	for _, p := range roster {
		p := p
		s.players = append(s.players, &p)
	}

	s.lastActivity.Store(s.clock.Now().UnixNano())

	go s.loop()
	return s
}

func (s *Session) loop() {
	for {
		select {
		case f := <-s.acts:
			f()
		case <-s.closed:
			return
		}
	}
}

var errSessionGone = errors.New(errors.CodeNotFound,
	errors.WithMessagef("session is gone"))

// do runs f on the session goroutine and waits for it.
func (s *Session) do(f func()) error {
	s.lastActivity.Store(s.clock.Now().UnixNano())

	done := make(chan struct{})
	select {
	case s.acts <- func() { defer close(done); f() }:
	case <-s.closed:
		return errSessionGone
	}

	select {
	case <-done:
		return nil
	case <-s.closed:
		return errSessionGone
	}
}

// post queues f without waiting for it. Used by timer expiry, which must
// not be lost.
func (s *Session) post(f func()) {
	select {
	case s.acts <- f:
	case <-s.closed:
	}
}

// tryPost queues f unless the session is backlogged. A tick that cannot
// be queued is already stale and is dropped.
func (s *Session) tryPost(f func()) {
	select {
	case s.acts <- f:
	case <-s.closed:
	default:
	}
}

// RoomCode and HostID read construction-time fields, safe from any
// goroutine.
func (s *Session) RoomCode() string { return s.room.Code }
func (s *Session) HostID() string   { return s.room.HostID }

func (s *Session) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Close retires the session and cancels its countdown. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.timers.Cancel(s.room.Code)
	})
}

// retireEligible reports whether the janitor may remove this session.
func (s *Session) retireEligible(now time.Time) bool {
	if s.Closed() {
		return true
	}

	if s.room.Expired(now) {
		return true
	}

	ft := s.finishedAt.Load()
	if ft == 0 {
		return false
	}

	idle := now.Sub(time.Unix(0, max64(ft, s.lastActivity.Load())))
	return idle >= s.rules.RetireGrace
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// AddPlayer joins a player to the room. Late joins during play are
// allowed; they simply score nothing for rounds already gone.
func (s *Session) AddPlayer(ctx context.Context, name string) (domain.Player, error) {
	var (
		p   domain.Player
		err error
	)
	if doErr := s.do(func() { p, err = s.addPlayer(ctx, name) }); doErr != nil {
		return domain.Player{}, doErr
	}
	return p, err
}

func (s *Session) addPlayer(ctx context.Context, name string) (domain.Player, error) {
	if s.room.Status == domain.RoomStatusFinished {
		return domain.Player{}, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("game already finished"))
	}

	for _, p := range s.players {
		if p.Name == name {
			return domain.Player{}, errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("player name already taken: %s", name))
		}
	}

	if len(s.players) >= s.rules.MaxPlayers {
		return domain.Player{}, errors.New(errors.CodeResourceExhausted,
			errors.WithMessagef("room is full"))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return domain.Player{}, errors.Internal(err)
	}

	p := domain.Player{
		ID:       id.String(),
		Name:     name,
		JoinTime: s.clock.Now(),
	}

	if err := s.store.AddPlayerRecord(ctx, s.room.Code, p); err != nil {
		return domain.Player{}, upstream(err)
	}

	s.players = append(s.players, &p)
	s.emit(EventPlayerJoined, p)
	s.emit(EventRoomUpdated, s.room)

	return p, nil
}

// RemovePlayer takes a player out of the roster. Unknown players are a
// no-op. The player's ledger entries stay; only future scoring stops.
func (s *Session) RemovePlayer(ctx context.Context, playerID string) error {
	var err error
	if doErr := s.do(func() { err = s.removePlayer(ctx, playerID) }); doErr != nil {
		return doErr
	}
	return err
}

func (s *Session) removePlayer(ctx context.Context, playerID string) error {
	idx := -1
	for i, p := range s.players {
		if p.ID == playerID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	if err := s.store.RemovePlayerRecord(ctx, playerID); err != nil {
		return upstream(err)
	}

	s.players = append(s.players[:idx], s.players[idx+1:]...)
	s.emit(EventPlayerLeft, PlayerLeftPayload{PlayerID: playerID})

	return nil
}

// StartGame moves the room into play: fetches the track pool, derives
// the quiz, and kicks off the first question. Nothing mutates unless
// every precondition and collaborator call succeeds.
func (s *Session) StartGame(ctx context.Context, hostToken string) error {
	var err error
	if doErr := s.do(func() { err = s.startGame(ctx, hostToken) }); doErr != nil {
		return doErr
	}
	return err
}

func (s *Session) startGame(ctx context.Context, hostToken string) error {
	if s.room.Status != domain.RoomStatusWaiting {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("game already in progress"))
	}
	if s.room.PlaylistID == "" {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no playlist selected"))
	}
	if len(s.players) == 0 {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no players in room"))
	}

	tracks, err := s.catalog.FetchPlayableTracks(ctx, hostToken, s.room.PlaylistID)
	if err != nil {
		return upstream(err)
	}

	questions, err := s.selector.SelectQuestions(tracks, s.rules.QuestionsPerGame, s.rules.ChoicesPerQuestion-1)
	if err != nil {
		return err
	}

	if err := s.store.UpdateRoomStatus(ctx, s.room.Code, domain.RoomStatusPlaying); err != nil {
		return upstream(err)
	}

	s.room.Status = domain.RoomStatusPlaying
	s.questions = questions
	s.qIndex = 0
	s.answers = nil

	gamesStarted.Inc()
	s.emit(EventGameStarted, s.snapshot())

	return s.advance(ctx)
}

// AdvanceQuestion forces progression to the next question, or finishes
// the game when none remain.
func (s *Session) AdvanceQuestion(ctx context.Context) error {
	var err error
	if doErr := s.do(func() { err = s.advance(ctx) }); doErr != nil {
		return doErr
	}
	return err
}

func (s *Session) advance(ctx context.Context) error {
	if s.room.Status != domain.RoomStatusPlaying {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("game is not in progress"))
	}

	s.stopPendingAdvance()

	if s.qIndex >= len(s.questions) {
		return s.finish(ctx)
	}

	q := s.questions[s.qIndex]
	q.StartTime = s.clock.Now()
	q.Duration = s.rules.QuestionSeconds

	s.current = &q
	s.timeRemaining = q.Duration

	// Starting the countdown implicitly cancels any prior one; the
	// generation guard drops callbacks a canceled countdown managed to
	// queue first.
	s.timerGen++
	gen := s.timerGen
	s.timers.Start(s.room.Code, q.Duration,
		func(remaining int) { s.tryPost(func() { s.handleTick(gen, remaining) }) },
		func() { s.post(func() { s.handleExpire(gen) }) },
	)

	s.emit(EventQuestionStarted, QuestionStartedPayload{
		Question: q,
		Duration: q.Duration,
	})

	return nil
}

func (s *Session) handleTick(gen uint64, remaining int) {
	if gen != s.timerGen || s.room.Status != domain.RoomStatusPlaying {
		return
	}

	s.timeRemaining = remaining
	s.emit(EventTimerTick, TimerTickPayload{SecondsRemaining: remaining})
}

// handleExpire finalizes the current question: reveals the round's
// answers with the standings, then schedules the next advance after the
// post-round delay.
func (s *Session) handleExpire(gen uint64) {
	if gen != s.timerGen || s.room.Status != domain.RoomStatusPlaying || s.current == nil {
		return
	}

	roundAnswers := make([]domain.Answer, 0)
	for _, a := range s.answers {
		if a.QuestionIndex == s.qIndex {
			roundAnswers = append(roundAnswers, a)
		}
	}

	s.emit(EventQuestionEnded, QuestionEndedPayload{
		Answers:     roundAnswers,
		Leaderboard: leaderboard.Rank(s.room.Code, s.players),
	})

	s.current = nil
	s.timeRemaining = 0
	s.qIndex++

	expect := s.qIndex
	s.pendingAdvance = s.clock.AfterFunc(s.rules.PostRoundDelay, func() {
		s.post(func() { s.autoAdvance(expect) })
	})
}

func (s *Session) autoAdvance(expect int) {
	if s.room.Status != domain.RoomStatusPlaying || s.current != nil || s.qIndex != expect {
		return
	}

	if err := s.advance(context.Background()); err != nil {
		slog.Error("game: auto-advance failed",
			"room", s.room.Code, "question", expect, "error", err)
		s.emit(EventError, ErrorPayload{Message: errors.Convert(err).Message})
	}
}

// SubmitAnswer records a player's answer for the current question. The
// first submission per (player, question) wins; repeats and answers from
// unknown players are silently dropped, which is the expected race under
// concurrent play, not an error. No event is emitted for an individual
// submission so a round's answers stay hidden until it ends.
func (s *Session) SubmitAnswer(ctx context.Context, playerID string, choice int, latency time.Duration) error {
	var err error
	if doErr := s.do(func() { err = s.submitAnswer(ctx, playerID, choice, latency) }); doErr != nil {
		return doErr
	}
	return err
}

func (s *Session) submitAnswer(ctx context.Context, playerID string, choice int, latency time.Duration) error {
	if s.room.Status != domain.RoomStatusPlaying || s.current == nil {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no active question"))
	}

	var player *domain.Player
	for _, p := range s.players {
		if p.ID == playerID {
			player = p
			break
		}
	}
	if player == nil {
		return nil
	}

	for _, a := range s.answers {
		if a.PlayerID == playerID && a.QuestionIndex == s.qIndex {
			return nil
		}
	}

	if latency < 0 {
		latency = 0
	}

	correct := choice == s.current.CorrectIndex
	points := scoring.Points(s.rules.Scoring, correct, latency)
	newScore := player.Score + points

	if err := s.store.UpdatePlayerScore(ctx, playerID, newScore); err != nil {
		return upstream(err)
	}

	s.answers = append(s.answers, domain.Answer{
		PlayerID:      playerID,
		PlayerName:    player.Name,
		QuestionIndex: s.qIndex,
		Choice:        choice,
		Correct:       correct,
		Latency:       latency,
		Points:        points,
		SubmitTime:    s.clock.Now(),
	})
	player.Score = newScore

	answersSubmitted.Inc()
	s.bus.Publish(ctx, domain.EventScoreUpdated{
		RoomCode:   s.room.Code,
		PlayerID:   player.ID,
		PlayerName: player.Name,
		Score:      player.Score,
		UpdateTime: s.clock.Now(),
	})

	return nil
}

func (s *Session) finish(ctx context.Context) error {
	if err := s.store.UpdateRoomStatus(ctx, s.room.Code, domain.RoomStatusFinished); err != nil {
		return upstream(err)
	}

	s.room.Status = domain.RoomStatusFinished
	s.timerGen++
	s.timers.Cancel(s.room.Code)
	s.stopPendingAdvance()
	s.current = nil
	s.timeRemaining = 0

	final := leaderboard.Rank(s.room.Code, s.players)
	s.emit(EventGameFinished, GameFinishedPayload{Leaderboard: final})
	s.bus.Publish(ctx, domain.EventGameFinished{
		RoomCode:    s.room.Code,
		Leaderboard: final,
	})

	s.finishedAt.Store(s.clock.Now().UnixNano())
	gamesFinished.Inc()

	return nil
}

func (s *Session) stopPendingAdvance() {
	if s.pendingAdvance != nil {
		s.pendingAdvance.Stop()
		s.pendingAdvance = nil
	}
}

// Snapshot returns the client-visible view of the session.
func (s *Session) Snapshot() (domain.GameSnapshot, error) {
	var snap domain.GameSnapshot
	if err := s.do(func() { snap = s.snapshot() }); err != nil {
		return domain.GameSnapshot{}, err
	}
	return snap, nil
}

func (s *Session) snapshot() domain.GameSnapshot {
	players := make([]domain.Player, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, *p)
	}

	return domain.GameSnapshot{
		RoomCode:       s.room.Code,
		Status:         s.room.Status,
		QuestionIndex:  s.qIndex,
		TotalQuestions: len(s.questions),
		Players:        players,
		TimeRemaining:  s.timeRemaining,
	}
}

func (s *Session) emit(event string, data any) {
	s.bc.Broadcast(s.room.Code, event, data)
}
