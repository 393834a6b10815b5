package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("empty postgres dsn")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensurePostgresStoreSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) CreateGame(ctx context.Context, g Game) error {
	nowMs := g.CreatedAtMs
	if nowMs == 0 {
		nowMs = time.Now().UTC().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO games (id, status, max_players, rng_seed, created_by, winner_user_id, created_at_ms)
VALUES ($1, $2, $3, $4, $5, 0, $6)
`, g.ID, g.Status, g.MaxPlayers, g.RngSeed, g.CreatedBy, nowMs)
	return err
}

const pgGameColumns = `id, status, max_players, rng_seed, created_by, winner_user_id, created_at_ms`

func (s *PostgresStore) GameByID(ctx context.Context, id string) (Game, error) {
	var g Game
	err := s.db.QueryRowContext(ctx,
		`SELECT `+pgGameColumns+` FROM games WHERE id = $1`, id,
	).Scan(&g.ID, &g.Status, &g.MaxPlayers, &g.RngSeed, &g.CreatedBy, &g.WinnerUserID, &g.CreatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Game{}, ErrGameNotFound
	}
	return g, err
}

func (s *PostgresStore) GamesForUser(ctx context.Context, userID int64) ([]Game, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+pgGameColumns+`
FROM games
WHERE id IN (SELECT game_id FROM game_players WHERE user_id = $1)
ORDER BY created_at_ms DESC
`, userID)
	if err != nil {
		return nil, err
	}
	return scanGames(rows)
}

func (s *PostgresStore) GamesByStatus(ctx context.Context, status string) ([]Game, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pgGameColumns+` FROM games WHERE status = $1 ORDER BY created_at_ms`, status)
	if err != nil {
		return nil, err
	}
	return scanGames(rows)
}

func (s *PostgresStore) SetGameStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE games SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	return requireRow(res, ErrGameNotFound)
}

func (s *PostgresStore) FinishGame(ctx context.Context, id string, winnerUserID int64, points map[int64]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
UPDATE games SET status = $1, winner_user_id = $2 WHERE id = $3
`, StatusFinished, winnerUserID, id)
	if err != nil {
		return err
	}
	if err := requireRow(res, ErrGameNotFound); err != nil {
		return err
	}
	for userID, pts := range points {
		if _, err := tx.ExecContext(ctx, `
UPDATE game_players SET points = $1 WHERE game_id = $2 AND user_id = $3
`, pts, id, userID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) DeleteGame(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM games WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, ErrGameNotFound)
}

func (s *PostgresStore) AddMember(ctx context.Context, gameID string, userID int64, seat int) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO game_players (game_id, user_id, seat, points) VALUES ($1, $2, $3, 0)
`, gameID, userID, seat)
	return err
}

func (s *PostgresStore) RemoveMember(ctx context.Context, gameID string, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM game_players WHERE game_id = $1 AND user_id = $2`, gameID, userID)
	return err
}

func (s *PostgresStore) Members(ctx context.Context, gameID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT game_id, user_id, seat, points FROM game_players WHERE game_id = $1 ORDER BY seat
`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.GameID, &m.UserID, &m.Seat, &m.Points); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev Event) error {
	nowMs := ev.CreatedAtMs
	if nowMs == 0 {
		nowMs = time.Now().UTC().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO game_events (game_id, seq, type, actor_user_id, payload, created_at_ms)
VALUES ($1, $2, $3, $4, $5, $6)
`, ev.GameID, ev.Seq, ev.Type, ev.ActorUserID, string(ev.Payload), nowMs)
	if err != nil && isPostgresStoreUniqueViolation(err) {
		return ErrDuplicateSeq
	}
	return err
}

func (s *PostgresStore) Events(ctx context.Context, gameID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT game_id, seq, type, actor_user_id, payload, created_at_ms
FROM game_events
WHERE game_id = $1
ORDER BY seq
`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var payload string
		if err := rows.Scan(&ev.GameID, &ev.Seq, &ev.Type, &ev.ActorUserID, &payload, &ev.CreatedAtMs); err != nil {
			return nil, err
		}
		ev.Payload = []byte(payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RequestFriend(ctx context.Context, from, to int64) error {
	nowMs := time.Now().UTC().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO friendships (user_id, friend_id, status, created_at_ms)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, friend_id) DO NOTHING
`, from, to, FriendPending, nowMs)
	return err
}

func (s *PostgresStore) AcceptFriend(ctx context.Context, from, to int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	nowMs := time.Now().UTC().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
UPDATE friendships SET status = $1 WHERE user_id = $2 AND friend_id = $3
`, FriendAccepted, from, to); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO friendships (user_id, friend_id, status, created_at_ms)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, friend_id) DO UPDATE SET status = EXCLUDED.status
`, to, from, FriendAccepted, nowMs); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) BlockFriend(ctx context.Context, from, to int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	nowMs := time.Now().UTC().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO friendships (user_id, friend_id, status, created_at_ms)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, friend_id) DO UPDATE SET status = EXCLUDED.status
`, from, to, FriendBlocked, nowMs); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
DELETE FROM friendships WHERE user_id = $1 AND friend_id = $2
`, to, from); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) FriendshipsBetween(ctx context.Context, a, b int64) ([]Friendship, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, friend_id, status, created_at_ms
FROM friendships
WHERE (user_id = $1 AND friend_id = $2) OR (user_id = $3 AND friend_id = $4)
`, a, b, b, a)
	if err != nil {
		return nil, err
	}
	return scanFriendships(rows)
}

func (s *PostgresStore) FriendsOf(ctx context.Context, userID int64) ([]Friendship, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, friend_id, status, created_at_ms
FROM friendships
WHERE user_id = $1 OR friend_id = $1
ORDER BY created_at_ms
`, userID)
	if err != nil {
		return nil, err
	}
	return scanFriendships(rows)
}

func (s *PostgresStore) AddNotification(ctx context.Context, n Notification) (int64, error) {
	nowMs := n.CreatedAtMs
	if nowMs == 0 {
		nowMs = time.Now().UTC().UnixMilli()
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO notifications (user_id, kind, payload, read, created_at_ms)
VALUES ($1, $2, $3, FALSE, $4)
RETURNING id
`, n.UserID, n.Kind, string(n.Payload), nowMs).Scan(&id)
	return id, err
}

func (s *PostgresStore) NotificationsForUser(ctx context.Context, userID int64) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, kind, payload, read, created_at_ms
FROM notifications
WHERE user_id = $1
ORDER BY created_at_ms DESC, id DESC
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var payload string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &payload, &n.Read, &n.CreatedAtMs); err != nil {
			return nil, err
		}
		n.Payload = []byte(payload)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, userID, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	return requireRow(res, ErrNotificationNotFound)
}

func (s *PostgresStore) DeleteNotification(ctx context.Context, userID, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	return requireRow(res, ErrNotificationNotFound)
}

func (s *PostgresStore) UserStats(ctx context.Context, userID int64) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN g.winner_user_id = gp.user_id THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(gp.points), 0)
FROM game_players AS gp
JOIN games AS g ON g.id = gp.game_id
WHERE gp.user_id = $1 AND g.status = $2
`, userID, StatusFinished).Scan(&st.GamesPlayed, &st.GamesWon, &st.TotalPoints)
	return st, err
}

func ensurePostgresStoreSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`
CREATE TABLE IF NOT EXISTS games (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    max_players INTEGER NOT NULL,
    rng_seed BIGINT NOT NULL,
    created_by BIGINT NOT NULL,
    winner_user_id BIGINT NOT NULL DEFAULT 0,
    created_at_ms BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_games_status ON games(status)`,
		`
CREATE TABLE IF NOT EXISTS game_players (
    game_id TEXT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
    user_id BIGINT NOT NULL,
    seat INTEGER NOT NULL,
    points INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (game_id, user_id)
)`,
		`
CREATE TABLE IF NOT EXISTS game_events (
    game_id TEXT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
    seq BIGINT NOT NULL,
    type TEXT NOT NULL,
    actor_user_id BIGINT NOT NULL,
    payload TEXT NOT NULL,
    created_at_ms BIGINT NOT NULL,
    PRIMARY KEY (game_id, seq)
)`,
		`
CREATE TABLE IF NOT EXISTS friendships (
    user_id BIGINT NOT NULL,
    friend_id BIGINT NOT NULL,
    status TEXT NOT NULL,
    created_at_ms BIGINT NOT NULL,
    PRIMARY KEY (user_id, friend_id)
)`,
		`
CREATE TABLE IF NOT EXISTS notifications (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    kind TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '',
    read BOOLEAN NOT NULL DEFAULT FALSE,
    created_at_ms BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at_ms DESC)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func isPostgresStoreUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
