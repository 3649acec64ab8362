// Package api is the HTTP surface: a small REST layer for room and
// playlist management, and the websocket endpoint carrying the live game
// protocol. It translates transport concerns to and from the session
// layer and holds no game state of its own.
package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/tuneclash/server/internal/broadcast"
	"github.com/tuneclash/server/internal/catalog"
	"github.com/tuneclash/server/internal/domain"
	"github.com/tuneclash/server/internal/game"
	"github.com/tuneclash/server/internal/leaderboard"
)

type RoomStore interface {
	CreateRoom(ctx context.Context, hostID, hostName, playlistID, playlistName string) (*domain.Room, error)
}

type Config struct {
	Router      gin.IRouter
	Rooms       RoomStore
	Games       *game.Registry
	Hub         *broadcast.Hub
	Catalog     *catalog.Client
	Leaderboard *leaderboard.Service
}

type API struct {
	rooms   RoomStore
	games   *game.Registry
	hub     *broadcast.Hub
	catalog *catalog.Client
	ls      *leaderboard.Service
}

func New(c Config) *API {
	a := &API{
		rooms:   c.Rooms,
		games:   c.Games,
		hub:     c.Hub,
		catalog: c.Catalog,
		ls:      c.Leaderboard,
	}

	c.Router.GET("/healthz", a.healthz)
	c.Router.GET("/ws", a.serveWS)

	r := c.Router.Group("/api")
	r.POST("/rooms", a.createRoom)
	r.GET("/rooms/:code", a.getRoom)
	r.GET("/rooms/:code/leaderboard", a.getLeaderboard)
	r.GET("/playlists", a.listPlaylists)

	return a
}
