package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tuneclash/server/internal/broadcast"
	"github.com/tuneclash/server/internal/errors"
	"github.com/tuneclash/server/internal/game"
)

const (
	maxMessageSize = 4096
	pongWait       = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// command is one client-to-server message on the game socket.
type command struct {
	Action     string `json:"action"`
	PlayerName string `json:"player_name,omitempty"`
	PlayerID   string `json:"player_id,omitempty"`
	HostID     string `json:"host_id,omitempty"`
	Token      string `json:"token,omitempty"`
	Choice     int    `json:"choice"`
	LatencyMS  int64  `json:"latency_ms"`
}

// joinedPayload is sent only to the joining client, carrying its
// assigned player identity.
type joinedPayload struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	RoomCode   string `json:"room_code"`
}

func (a *API) serveWS(c *gin.Context) {
	code := c.Query("room")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "missing room parameter"})
		return
	}

	s, err := a.games.GetOrCreate(c.Request.Context(), code)
	if err != nil {
		abortWithError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("api: websocket upgrade failed", "room", code, "error", err)
		return
	}

	client := a.hub.Register(code, conn)
	go client.WritePump()

	a.readLoop(conn, client, s)
}

// readLoop pumps commands from one socket into its session until the
// connection drops. A player joined over this socket leaves the room
// when the socket does.
func (a *API) readLoop(conn *websocket.Conn, client *broadcast.Client, s *game.Session) {
	var playerID string

	defer func() {
		a.hub.Unregister(client)
		if playerID != "" {
			if err := s.RemovePlayer(context.Background(), playerID); err != nil {
				slog.Error("api: remove player on disconnect",
					"room", s.RoomCode(), "player", playerID, "error", err)
			}
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("api: websocket read failed", "room", s.RoomCode(), "error", err)
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(msg, &cmd); err != nil {
			a.hub.SendTo(client, game.EventError, game.ErrorPayload{Message: "malformed command"})
			continue
		}

		if id, done := a.dispatch(client, s, cmd, playerID); done {
			return
		} else if id != "" {
			playerID = id
		}
	}
}

// dispatch runs one command. It returns the player ID bound to the
// socket by a join, and whether the loop should end.
func (a *API) dispatch(client *broadcast.Client, s *game.Session, cmd command, playerID string) (string, bool) {
	ctx := context.Background()

	switch cmd.Action {
	case "join":
		p, err := s.AddPlayer(ctx, cmd.PlayerName)
		if err != nil {
			a.sendError(client, err)
			return "", false
		}
		a.hub.SendTo(client, "joined", joinedPayload{
			PlayerID:   p.ID,
			PlayerName: p.Name,
			RoomCode:   s.RoomCode(),
		})
		return p.ID, false

	case "leave":
		id := cmd.PlayerID
		if id == "" {
			id = playerID
		}
		if id == "" {
			return "", true
		}
		if err := s.RemovePlayer(ctx, id); err != nil {
			a.sendError(client, err)
		}
		return "", true

	case "start":
		if cmd.HostID != s.HostID() {
			a.sendError(client, errHostOnly)
			return "", false
		}
		if err := s.StartGame(ctx, cmd.Token); err != nil {
			a.sendError(client, err)
		}
		return "", false

	case "next":
		if cmd.HostID != s.HostID() {
			a.sendError(client, errHostOnly)
			return "", false
		}
		if err := s.AdvanceQuestion(ctx); err != nil {
			a.sendError(client, err)
		}
		return "", false

	case "answer":
		id := cmd.PlayerID
		if id == "" {
			id = playerID
		}
		latency := time.Duration(cmd.LatencyMS) * time.Millisecond
		if err := s.SubmitAnswer(ctx, id, cmd.Choice, latency); err != nil {
			a.sendError(client, err)
		}
		return "", false

	default:
		a.hub.SendTo(client, game.EventError, game.ErrorPayload{
			Message: "unknown action: " + cmd.Action,
		})
		return "", false
	}
}

var errHostOnly = errors.New(errors.CodeFailedPrecondition,
	errors.WithMessagef("only the host can do that"))

func (a *API) sendError(client *broadcast.Client, err error) {
	a.hub.SendTo(client, game.EventError, game.ErrorPayload{
		Message: errors.Convert(err).Message,
	})
}
