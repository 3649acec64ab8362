package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tuneclash/server/internal/errors"
	"github.com/tuneclash/server/internal/leaderboard"
)

func (a *API) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createRoomRequest struct {
	HostName     string `json:"host_name" binding:"required"`
	PlaylistID   string `json:"playlist_id" binding:"required"`
	PlaylistName string `json:"playlist_name"`
}

func (a *API) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	hostID, err := uuid.NewV7()
	if err != nil {
		abortWithError(c, errors.Internal(err))
		return
	}

	room, err := a.rooms.CreateRoom(c.Request.Context(), hostID.String(), req.HostName, req.PlaylistID, req.PlaylistName)
	if err != nil {
		abortWithError(c, err)
		return
	}

	// Warm the session so the host's websocket finds it live. Lookup
	// revives it anyway, so a failure here is not fatal to the room.
	if _, err := a.games.Create(c.Request.Context(), room.Code); err != nil {
		slog.Warn("api: warm session failed", "room", room.Code, "error", err)
	}

	c.JSON(http.StatusCreated, room)
}

func (a *API) getRoom(c *gin.Context) {
	s, err := a.games.GetOrCreate(c.Request.Context(), c.Param("code"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	snap, err := s.Snapshot()
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

func (a *API) getLeaderboard(c *gin.Context) {
	l, err := a.ls.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		RoomCode: c.Param("code"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, l)
}

func (a *API) listPlaylists(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "missing bearer token"})
		return
	}

	playlists, err := a.catalog.UserPlaylists(c.Request.Context(), token)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"playlists": playlists})
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}

	return strings.TrimPrefix(h, "Bearer ")
}

func abortWithError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{"message": e.Message})
}
