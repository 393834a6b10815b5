package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("empty sqlite database path")
	}
	if dbPath != ":memory:" {
		parent := filepath.Dir(dbPath)
		if parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := ensureSQLiteStoreSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) CreateGame(ctx context.Context, g Game) error {
	nowMs := g.CreatedAtMs
	if nowMs == 0 {
		nowMs = time.Now().UTC().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO games (id, status, max_players, rng_seed, created_by, winner_user_id, created_at_ms)
VALUES (?, ?, ?, ?, ?, 0, ?)
`, g.ID, g.Status, g.MaxPlayers, g.RngSeed, g.CreatedBy, nowMs)
	return err
}

const sqliteGameColumns = `id, status, max_players, rng_seed, created_by, winner_user_id, created_at_ms`

func (s *SQLiteStore) GameByID(ctx context.Context, id string) (Game, error) {
	var g Game
	err := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteGameColumns+` FROM games WHERE id = ?`, id,
	).Scan(&g.ID, &g.Status, &g.MaxPlayers, &g.RngSeed, &g.CreatedBy, &g.WinnerUserID, &g.CreatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Game{}, ErrGameNotFound
	}
	return g, err
}

func (s *SQLiteStore) GamesForUser(ctx context.Context, userID int64) ([]Game, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+sqliteGameColumns+`
FROM games
WHERE id IN (SELECT game_id FROM game_players WHERE user_id = ?)
ORDER BY created_at_ms DESC
`, userID)
	if err != nil {
		return nil, err
	}
	return scanGames(rows)
}

func (s *SQLiteStore) GamesByStatus(ctx context.Context, status string) ([]Game, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteGameColumns+` FROM games WHERE status = ? ORDER BY created_at_ms`, status)
	if err != nil {
		return nil, err
	}
	return scanGames(rows)
}

func (s *SQLiteStore) SetGameStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE games SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	return requireRow(res, ErrGameNotFound)
}

func (s *SQLiteStore) FinishGame(ctx context.Context, id string, winnerUserID int64, points map[int64]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
UPDATE games SET status = ?, winner_user_id = ? WHERE id = ?
`, StatusFinished, winnerUserID, id)
	if err != nil {
		return err
	}
	if err := requireRow(res, ErrGameNotFound); err != nil {
		return err
	}
	for userID, pts := range points {
		if _, err := tx.ExecContext(ctx, `
UPDATE game_players SET points = ? WHERE game_id = ? AND user_id = ?
`, pts, id, userID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteGame(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM games WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res, ErrGameNotFound)
}

func (s *SQLiteStore) AddMember(ctx context.Context, gameID string, userID int64, seat int) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO game_players (game_id, user_id, seat, points) VALUES (?, ?, ?, 0)
`, gameID, userID, seat)
	return err
}

func (s *SQLiteStore) RemoveMember(ctx context.Context, gameID string, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM game_players WHERE game_id = ? AND user_id = ?`, gameID, userID)
	return err
}

func (s *SQLiteStore) Members(ctx context.Context, gameID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT game_id, user_id, seat, points FROM game_players WHERE game_id = ? ORDER BY seat
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

func (s *SQLiteStore) AppendEvent(ctx context.Context, ev Event) error {
	nowMs := ev.CreatedAtMs
	if nowMs == 0 {
		nowMs = time.Now().UTC().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO game_events (game_id, seq, type, actor_user_id, payload, created_at_ms)
VALUES (?, ?, ?, ?, ?, ?)
`, ev.GameID, ev.Seq, ev.Type, ev.ActorUserID, string(ev.Payload), nowMs)
	if err != nil && isSQLiteStoreUniqueViolation(err) {
		return ErrDuplicateSeq
	}
	return err
}

func (s *SQLiteStore) Events(ctx context.Context, gameID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT game_id, seq, type, actor_user_id, payload, created_at_ms
FROM game_events
WHERE game_id = ?
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

func (s *SQLiteStore) RequestFriend(ctx context.Context, from, to int64) error {
	nowMs := time.Now().UTC().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO friendships (user_id, friend_id, status, created_at_ms)
SELECT ?, ?, ?, ?
WHERE NOT EXISTS (
    SELECT 1 FROM friendships WHERE user_id = ? AND friend_id = ?
)
`, from, to, FriendPending, nowMs, from, to)
	return err
}

func (s *SQLiteStore) AcceptFriend(ctx context.Context, from, to int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	nowMs := time.Now().UTC().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
UPDATE friendships SET status = ? WHERE user_id = ? AND friend_id = ?
`, FriendAccepted, from, to); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO friendships (user_id, friend_id, status, created_at_ms)
SELECT ?, ?, ?, ?
WHERE NOT EXISTS (
    SELECT 1 FROM friendships WHERE user_id = ? AND friend_id = ?
)
`, to, from, FriendAccepted, nowMs, to, from); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE friendships SET status = ? WHERE user_id = ? AND friend_id = ?
`, FriendAccepted, to, from); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) BlockFriend(ctx context.Context, from, to int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	nowMs := time.Now().UTC().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO friendships (user_id, friend_id, status, created_at_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT(user_id, friend_id) DO UPDATE SET status = excluded.status
`, from, to, FriendBlocked, nowMs); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
DELETE FROM friendships WHERE user_id = ? AND friend_id = ?
`, to, from); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) FriendshipsBetween(ctx context.Context, a, b int64) ([]Friendship, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, friend_id, status, created_at_ms
FROM friendships
WHERE (user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)
`, a, b, b, a)
	if err != nil {
		return nil, err
	}
	return scanFriendships(rows)
}

func (s *SQLiteStore) FriendsOf(ctx context.Context, userID int64) ([]Friendship, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, friend_id, status, created_at_ms
FROM friendships
WHERE user_id = ? OR friend_id = ?
ORDER BY created_at_ms
`, userID, userID)
	if err != nil {
		return nil, err
	}
	return scanFriendships(rows)
}

func (s *SQLiteStore) AddNotification(ctx context.Context, n Notification) (int64, error) {
	nowMs := n.CreatedAtMs
	if nowMs == 0 {
		nowMs = time.Now().UTC().UnixMilli()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO notifications (user_id, kind, payload, read, created_at_ms)
VALUES (?, ?, ?, 0, ?)
`, n.UserID, n.Kind, string(n.Payload), nowMs)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) NotificationsForUser(ctx context.Context, userID int64) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, kind, payload, read, created_at_ms
FROM notifications
WHERE user_id = ?
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

func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, userID, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	return requireRow(res, ErrNotificationNotFound)
}

func (s *SQLiteStore) DeleteNotification(ctx context.Context, userID, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	return requireRow(res, ErrNotificationNotFound)
}

func (s *SQLiteStore) UserStats(ctx context.Context, userID int64) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN g.winner_user_id = gp.user_id THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(gp.points), 0)
FROM game_players AS gp
JOIN games AS g ON g.id = gp.game_id
WHERE gp.user_id = ? AND g.status = ?
`, userID, StatusFinished).Scan(&st.GamesPlayed, &st.GamesWon, &st.TotalPoints)
	return st, err
}

func scanGames(rows *sql.Rows) ([]Game, error) {
	defer rows.Close()
	var out []Game
	for rows.Next() {
		var g Game
		if err := rows.Scan(&g.ID, &g.Status, &g.MaxPlayers, &g.RngSeed, &g.CreatedBy, &g.WinnerUserID, &g.CreatedAtMs); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanFriendships(rows *sql.Rows) ([]Friendship, error) {
	defer rows.Close()
	var out []Friendship
	for rows.Next() {
		var f Friendship
		if err := rows.Scan(&f.UserID, &f.FriendID, &f.Status, &f.CreatedAtMs); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

func ensureSQLiteStoreSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`
CREATE TABLE IF NOT EXISTS games (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    max_players INTEGER NOT NULL,
    rng_seed INTEGER NOT NULL,
    created_by INTEGER NOT NULL,
    winner_user_id INTEGER NOT NULL DEFAULT 0,
    created_at_ms INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_games_status ON games(status)`,
		`
CREATE TABLE IF NOT EXISTS game_players (
    game_id TEXT NOT NULL,
    user_id INTEGER NOT NULL,
    seat INTEGER NOT NULL,
    points INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (game_id, user_id),
    FOREIGN KEY(game_id) REFERENCES games(id) ON DELETE CASCADE
)`,
		`
CREATE TABLE IF NOT EXISTS game_events (
    game_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    type TEXT NOT NULL,
    actor_user_id INTEGER NOT NULL,
    payload TEXT NOT NULL,
    created_at_ms INTEGER NOT NULL,
    PRIMARY KEY (game_id, seq),
    FOREIGN KEY(game_id) REFERENCES games(id) ON DELETE CASCADE
)`,
		`
CREATE TABLE IF NOT EXISTS friendships (
    user_id INTEGER NOT NULL,
    friend_id INTEGER NOT NULL,
    status TEXT NOT NULL,
    created_at_ms INTEGER NOT NULL,
    PRIMARY KEY (user_id, friend_id)
)`,
		`
CREATE TABLE IF NOT EXISTS notifications (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    kind TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '',
    read INTEGER NOT NULL DEFAULT 0,
    created_at_ms INTEGER NOT NULL
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

func isSQLiteStoreUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
