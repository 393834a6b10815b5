package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGameLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := uuid.NewString()
	require.NoError(t, s.CreateGame(ctx, Game{
		ID: id, Status: StatusLobby, MaxPlayers: 4, RngSeed: 99, CreatedBy: 1,
	}))

	g, err := s.GameByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusLobby, g.Status)
	assert.Equal(t, int64(99), g.RngSeed)
	assert.NotZero(t, g.CreatedAtMs)

	require.NoError(t, s.AddMember(ctx, id, 1, 0))
	require.NoError(t, s.AddMember(ctx, id, 2, 1))

	mine, err := s.GamesForUser(ctx, 2)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, id, mine[0].ID)

	require.NoError(t, s.SetGameStatus(ctx, id, StatusActive))
	active, err := s.GamesByStatus(ctx, StatusActive)
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, s.FinishGame(ctx, id, 2, map[int64]int{1: 87, 2: 45}))
	g, err = s.GameByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, g.Status)
	assert.Equal(t, int64(2), g.WinnerUserID)

	members, err := s.Members(ctx, id)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, 87, members[0].Points)
	assert.Equal(t, 45, members[1].Points)

	stats, err := s.UserStats(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, Stats{GamesPlayed: 1, GamesWon: 1, TotalPoints: 45}, stats)
	stats, err = s.UserStats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, Stats{GamesPlayed: 1, GamesWon: 0, TotalPoints: 87}, stats)

	require.NoError(t, s.DeleteGame(ctx, id))
	_, err = s.GameByID(ctx, id)
	assert.ErrorIs(t, err, ErrGameNotFound)
	assert.ErrorIs(t, s.DeleteGame(ctx, id), ErrGameNotFound)
}

func TestEventLogSeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := uuid.NewString()
	require.NoError(t, s.CreateGame(ctx, Game{
		ID: id, Status: StatusActive, MaxPlayers: 2, RngSeed: 1, CreatedBy: 1,
	}))

	for seq := int64(0); seq < 5; seq++ {
		require.NoError(t, s.AppendEvent(ctx, Event{
			GameID:      id,
			Seq:         seq,
			Type:        "cmd.draw",
			ActorUserID: 1,
			Payload:     []byte(`{"source":"stock"}`),
		}))
	}

	// Re-using a seq must fail loudly, never overwrite.
	err := s.AppendEvent(ctx, Event{GameID: id, Seq: 3, Type: "cmd.discard", ActorUserID: 2})
	assert.ErrorIs(t, err, ErrDuplicateSeq)

	events, err := s.Events(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, int64(i), ev.Seq, "log must be gap-free and ordered")
		assert.Equal(t, "cmd.draw", ev.Type)
	}
	assert.JSONEq(t, `{"source":"stock"}`, string(events[0].Payload))
}

func TestFriendshipTwoRowAcceptance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RequestFriend(ctx, 1, 2))
	// Repeat request stays a single row.
	require.NoError(t, s.RequestFriend(ctx, 1, 2))

	rows, err := s.FriendshipsBetween(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, FriendPending, rows[0].Status)
	assert.False(t, Accepted(rows))

	require.NoError(t, s.AcceptFriend(ctx, 1, 2))
	rows, err = s.FriendshipsBetween(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, rows, 2, "acceptance is stored as two directed rows")
	for _, f := range rows {
		assert.Equal(t, FriendAccepted, f.Status)
	}
	assert.True(t, Accepted(rows))

	friends, err := s.FriendsOf(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, friends, 2)
}

func TestFriendshipBlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RequestFriend(ctx, 1, 2))
	require.NoError(t, s.AcceptFriend(ctx, 1, 2))
	require.NoError(t, s.BlockFriend(ctx, 2, 1))

	rows, err := s.FriendshipsBetween(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, rows, 1, "block drops the reverse row")
	assert.Equal(t, FriendBlocked, rows[0].Status)
	assert.Equal(t, int64(2), rows[0].UserID)
	assert.True(t, Blocked(rows))
	assert.False(t, Accepted(rows))
}

func TestNotifications(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.AddNotification(ctx, Notification{
		UserID: 5, Kind: "gameInvitation", Payload: []byte(`{"gameId":"g1"}`),
	})
	require.NoError(t, err)
	id2, err := s.AddNotification(ctx, Notification{UserID: 5, Kind: "friendRequest"})
	require.NoError(t, err)
	_, err = s.AddNotification(ctx, Notification{UserID: 6, Kind: "friendRequest"})
	require.NoError(t, err)

	list, err := s.NotificationsForUser(ctx, 5)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, id2, list[0].ID, "newest first")
	assert.False(t, list[0].Read)

	require.NoError(t, s.MarkNotificationRead(ctx, 5, id1))
	list, err = s.NotificationsForUser(ctx, 5)
	require.NoError(t, err)
	assert.True(t, list[1].Read)

	// Only the owner may touch a notification.
	assert.ErrorIs(t, s.MarkNotificationRead(ctx, 6, id2), ErrNotificationNotFound)
	assert.ErrorIs(t, s.DeleteNotification(ctx, 6, id2), ErrNotificationNotFound)

	require.NoError(t, s.DeleteNotification(ctx, 5, id2))
	list, err = s.NotificationsForUser(ctx, 5)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id1, list[0].ID)
}
