package game

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tuneclash_active_sessions",
		Help: "Number of live game sessions.",
	})

	gamesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tuneclash_games_started_total",
		Help: "Games that transitioned from waiting to playing.",
	})

	gamesFinished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tuneclash_games_finished_total",
		Help: "Games that reached the finished state.",
	})

	answersSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tuneclash_answers_submitted_total",
		Help: "Answers accepted into the ledger.",
	})
)
