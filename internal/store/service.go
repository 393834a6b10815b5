// Package store persists everything outside the accounts domain: games and
// their memberships, the append-only per-game event log, friendships and
// notifications. Two backends (sqlite, postgres) behind one interface,
// selected by database URL.
package store

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrGameNotFound         = errors.New("game not found")
	ErrDuplicateSeq         = errors.New("duplicate event seq")
	ErrNotificationNotFound = errors.New("notification not found")
)

// Game statuses, mirrored from the engine's lifecycle.
const (
	StatusLobby    = "lobby"
	StatusActive   = "active"
	StatusFinished = "finished"
)

// Friendship statuses.
const (
	FriendPending  = "pending"
	FriendAccepted = "accepted"
	FriendBlocked  = "blocked"
)

type Game struct {
	ID           string
	Status       string
	MaxPlayers   int
	RngSeed      int64
	CreatedBy    int64
	WinnerUserID int64 // 0 until finished
	CreatedAtMs  int64
}

type Member struct {
	GameID string
	UserID int64
	Seat   int
	Points int
}

// Event is one appended game event. Seq is gap-free per game, assigned by
// the room actor before persisting.
type Event struct {
	GameID      string
	Seq         int64
	Type        string
	ActorUserID int64
	Payload     []byte
	CreatedAtMs int64
}

// Friendship is a directed row; an accepted friendship is stored as two
// accepted rows, one in each direction.
type Friendship struct {
	UserID      int64
	FriendID    int64
	Status      string
	CreatedAtMs int64
}

type Notification struct {
	ID          int64
	UserID      int64
	Kind        string
	Payload     []byte
	Read        bool
	CreatedAtMs int64
}

// Stats summarizes a user's finished games.
type Stats struct {
	GamesPlayed int
	GamesWon    int
	TotalPoints int
}

type Service interface {
	CreateGame(ctx context.Context, g Game) error
	GameByID(ctx context.Context, id string) (Game, error)
	GamesForUser(ctx context.Context, userID int64) ([]Game, error)
	GamesByStatus(ctx context.Context, status string) ([]Game, error)
	SetGameStatus(ctx context.Context, id, status string) error
	// FinishGame marks the game finished, records the winner and writes the
	// final per-member points in one transaction.
	FinishGame(ctx context.Context, id string, winnerUserID int64, points map[int64]int) error
	DeleteGame(ctx context.Context, id string) error

	AddMember(ctx context.Context, gameID string, userID int64, seat int) error
	RemoveMember(ctx context.Context, gameID string, userID int64) error
	Members(ctx context.Context, gameID string) ([]Member, error)

	// AppendEvent fails with ErrDuplicateSeq when (game_id, seq) exists.
	AppendEvent(ctx context.Context, ev Event) error
	// Events returns the full log ordered by seq.
	Events(ctx context.Context, gameID string) ([]Event, error)

	// RequestFriend inserts a pending row from→to unless any row already
	// links the pair in that direction.
	RequestFriend(ctx context.Context, from, to int64) error
	// AcceptFriend flips the pending row to accepted and inserts the
	// reciprocal accepted row.
	AcceptFriend(ctx context.Context, from, to int64) error
	// BlockFriend upserts a blocked row from→to and drops the reverse row.
	BlockFriend(ctx context.Context, from, to int64) error
	// FriendshipsBetween returns every row linking a and b, both directions.
	FriendshipsBetween(ctx context.Context, a, b int64) ([]Friendship, error)
	FriendsOf(ctx context.Context, userID int64) ([]Friendship, error)

	AddNotification(ctx context.Context, n Notification) (int64, error)
	NotificationsForUser(ctx context.Context, userID int64) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id int64) error
	DeleteNotification(ctx context.Context, userID, id int64) error

	UserStats(ctx context.Context, userID int64) (Stats, error)

	Close() error
}

// New picks a backend from the database URL, same convention as the auth
// factory.
func New(databaseURL string) (Service, error) {
	url := strings.TrimSpace(databaseURL)
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return NewPostgres(url)
	}
	return NewSQLite(url)
}

// Accepted reports whether any row in rows carries an accepted friendship.
func Accepted(rows []Friendship) bool {
	for _, f := range rows {
		if f.Status == FriendAccepted {
			return true
		}
	}
	return false
}

// Blocked reports whether any row in rows carries a block.
func Blocked(rows []Friendship) bool {
	for _, f := range rows {
		if f.Status == FriendBlocked {
			return true
		}
	}
	return false
}
