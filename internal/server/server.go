package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/tuneclash/server/internal/api"
	"github.com/tuneclash/server/internal/broadcast"
	"github.com/tuneclash/server/internal/catalog"
	"github.com/tuneclash/server/internal/countdown"
	"github.com/tuneclash/server/internal/event"
	"github.com/tuneclash/server/internal/game"
	"github.com/tuneclash/server/internal/leaderboard"
	"github.com/tuneclash/server/internal/store"
	"github.com/tuneclash/server/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
			TTL    time.Duration
		}
	}

	Postgres struct {
		Rooms struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	Spotify struct {
		BaseURL string
	}

	Game struct {
		QuestionsPerGame   int
		QuestionSeconds    int
		PostRoundDelaySec  int
		MaxPlayers         int
		ChoicesPerQuestion int
		RoomTTL            time.Duration
		SweepInterval      time.Duration
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
		}

		postgres struct {
			rooms *pgxpool.Pool
		}
	}

	service struct {
		store       *store.Store
		catalog     *catalog.Client
		hub         *broadcast.Hub
		leaderboard *leaderboard.Service
		games       *game.Registry
	}

	http *http.Server

	stopJanitor context.CancelFunc
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Leaderboard.Addrs,
		Password: s.c.Redis.Leaderboard.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.leaderboard = r
	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := s.c.Postgres.Rooms
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", p.User, p.Pass, p.Addr, p.Name))
	if err != nil {
		return fmt.Errorf("rooms: %w", err)
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return fmt.Errorf("rooms: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("rooms: %w", err)
	}

	s.infra.postgres.rooms = db
	return nil
}

func (s *Server) initService() {
	s.service.store = store.New(store.Config{
		DB:      s.infra.postgres.rooms,
		RoomTTL: s.c.Game.RoomTTL,
	})

	s.service.catalog = catalog.NewClient(catalog.Config{
		BaseURL: s.c.Spotify.BaseURL,
	})

	s.service.hub = broadcast.NewHub()

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
		TTL:      s.c.Redis.Leaderboard.TTL,
	})

	s.service.games = game.NewRegistry(game.Config{
		Store:         s.service.store,
		Catalog:       s.service.catalog,
		Broadcaster:   s.service.hub,
		EventBus:      s.eb,
		Timers:        countdown.NewRunner(nil),
		Rules:         s.gameRules(),
		SweepInterval: s.c.Game.SweepInterval,
	})
}

func (s *Server) gameRules() game.Rules {
	r := game.DefaultRules()

	if s.c.Game.QuestionsPerGame > 0 {
		r.QuestionsPerGame = s.c.Game.QuestionsPerGame
	}
	if s.c.Game.QuestionSeconds > 0 {
		r.QuestionSeconds = s.c.Game.QuestionSeconds
	}
	if s.c.Game.PostRoundDelaySec > 0 {
		r.PostRoundDelay = time.Duration(s.c.Game.PostRoundDelaySec) * time.Second
	}
	if s.c.Game.MaxPlayers > 0 {
		r.MaxPlayers = s.c.Game.MaxPlayers
	}
	if s.c.Game.ChoicesPerQuestion > 0 {
		r.ChoicesPerQuestion = s.c.Game.ChoicesPerQuestion
	}

	return r
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), telemetry.HTTPLogger())

	api.New(api.Config{
		Router:      e,
		Rooms:       s.service.store,
		Games:       s.service.games,
		Hub:         s.service.hub,
		Catalog:     s.service.catalog,
		Leaderboard: s.service.leaderboard,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopJanitor = cancel

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		if err := s.service.games.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.stopJanitor != nil {
		s.stopJanitor()
	}

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.service.games.Shutdown()
	s.eb.Stop()

	slog.InfoContext(ctx, "server: shutdown completed")
}
