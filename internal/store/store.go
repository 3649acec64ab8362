// Package store is the persistence provider for rooms and players. The
// session core treats any failure here as fatal to the issuing command;
// retries are the caller's problem, not ours.
package store

import (
	"context"
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tuneclash/server/internal/domain"
	"github.com/tuneclash/server/internal/errors"
)

const (
	codeUniqueViolation = "23505"

	roomCodeLength   = 6
	roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAttempts  = 10
)

type Config struct {
	DB      *pgxpool.Pool
	RoomTTL time.Duration
}

type Store struct {
	db  *pgxpool.Pool
	ttl time.Duration
}

func New(c Config) *Store {
	if c.RoomTTL <= 0 {
		c.RoomTTL = 24 * time.Hour
	}

	return &Store{
		db:  c.DB,
		ttl: c.RoomTTL,
	}
}

// CreateRoom inserts a new waiting room under a fresh unique code,
// retrying code collisions a bounded number of times.
func (s *Store) CreateRoom(ctx context.Context, hostID, hostName, playlistID, playlistName string) (*domain.Room, error) {
	const stmt = `
INSERT INTO rooms (code, host_id, host_name, playlist_id, playlist_name, status, create_time, expire_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := randomCode()
		if err != nil {
			return nil, fmt.Errorf("generate room code: %w", err)
		}

		now := time.Now().UTC()
		room := &domain.Room{
			Code:         code,
			HostID:       hostID,
			HostName:     hostName,
			PlaylistID:   playlistID,
			PlaylistName: playlistName,
			Status:       domain.RoomStatusWaiting,
			CreateTime:   now,
			ExpireTime:   now.Add(s.ttl),
		}

		_, err = s.db.Exec(ctx, stmt,
			room.Code, room.HostID, room.HostName, room.PlaylistID, room.PlaylistName,
			room.Status, room.CreateTime, room.ExpireTime)

		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert room: %w", err)
		}

		return room, nil
	}

	return nil, errors.New(errors.CodeResourceExhausted,
		errors.WithMessagef("could not allocate a unique room code"))
}

// GetRoomByCode returns the live room for the code. Expired rooms are
// purged and reported as absent.
func (s *Store) GetRoomByCode(ctx context.Context, code string) (*domain.Room, error) {
	const stmt = `
SELECT code, host_id, host_name, playlist_id, playlist_name, status, create_time, expire_time
FROM rooms WHERE code = $1;`

	var r domain.Room
	err := s.db.QueryRow(ctx, stmt, code).Scan(
		&r.Code, &r.HostID, &r.HostName, &r.PlaylistID, &r.PlaylistName,
		&r.Status, &r.CreateTime, &r.ExpireTime)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("room not found: %s", code))
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}

	if r.Expired(time.Now().UTC()) {
		if err := s.DeleteRoom(ctx, code); err != nil {
			return nil, err
		}
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("room expired: %s", code))
	}

	return &r, nil
}

func (s *Store) UpdateRoomStatus(ctx context.Context, code string, status domain.RoomStatus) error {
	const stmt = `UPDATE rooms SET status = $2 WHERE code = $1;`

	tag, err := s.db.Exec(ctx, stmt, code, status)
	if err != nil {
		return fmt.Errorf("update room status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("room not found: %s", code))
	}

	return nil
}

// DeleteRoom removes the room and its players in one transaction.
func (s *Store) DeleteRoom(ctx context.Context, code string) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM players WHERE room_code = $1;`, code); err != nil {
		return fmt.Errorf("delete players: %w", err)
	}
	if _, err = tx.Exec(ctx, `DELETE FROM rooms WHERE code = $1;`, code); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}

	return tx.Commit(ctx)
}

// DeleteExpiredRooms sweeps rooms whose expiry has passed, returning the
// number removed. Player rows go with them via the FK cascade.
func (s *Store) DeleteExpiredRooms(ctx context.Context) (int64, error) {
	const stmt = `DELETE FROM rooms WHERE expire_time < $1;`

	tag, err := s.db.Exec(ctx, stmt, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired rooms: %w", err)
	}

	return tag.RowsAffected(), nil
}

// AddPlayerRecord inserts the player; a duplicate (room, name) pair maps
// to an already-exists error.
func (s *Store) AddPlayerRecord(ctx context.Context, roomCode string, p domain.Player) error {
	const stmt = `
INSERT INTO players (id, room_code, name, score, join_time)
VALUES ($1, $2, $3, $4, $5);`

	_, err := s.db.Exec(ctx, stmt, p.ID, roomCode, p.Name, p.Score, p.JoinTime)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("player name already taken in room %s: %s", roomCode, p.Name),
			errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert player: %w", err)
	}

	return nil
}

func (s *Store) PlayersByRoom(ctx context.Context, roomCode string) ([]domain.Player, error) {
	const stmt = `
SELECT id, name, score, join_time
FROM players
WHERE room_code = $1
ORDER BY join_time ASC;`

	rows, err := s.db.Query(ctx, stmt, roomCode)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}

	players, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Player, error) {
		var p domain.Player
		if err := r.Scan(&p.ID, &p.Name, &p.Score, &p.JoinTime); err != nil {
			return domain.Player{}, err
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	return players, nil
}

func (s *Store) UpdatePlayerScore(ctx context.Context, playerID string, score int) error {
	const stmt = `UPDATE players SET score = $2 WHERE id = $1;`

	if _, err := s.db.Exec(ctx, stmt, playerID, score); err != nil {
		return fmt.Errorf("update player score: %w", err)
	}

	return nil
}

func (s *Store) RemovePlayerRecord(ctx context.Context, playerID string) error {
	const stmt = `DELETE FROM players WHERE id = $1;`

	if _, err := s.db.Exec(ctx, stmt, playerID); err != nil {
		return fmt.Errorf("remove player: %w", err)
	}

	return nil
}

func randomCode() (string, error) {
	b := make([]byte, roomCodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(roomCodeAlphabet))))
		if err != nil {
			return "", err
		}
		b[i] = roomCodeAlphabet[n.Int64()]
	}

	return string(b), nil
}
