package lobby_test

import (
	"encoding/json"
	"errors"
	"testing"

	"maca-service/internal/service/lobby"
	appErr "maca-service/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*lobby.Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return lobby.NewService(rdb), mr
}

func TestCreateValidates(t *testing.T) {
	svc := lobby.NewService(nil)

	_, err := svc.Create("u1", lobby.CreateRequest{Name: "ab", MaxPlayers: 4})
	assert.True(t, errors.Is(err, appErr.ErrInvalidTableName))

	_, err = svc.Create("u1", lobby.CreateRequest{Name: "high rollers", MaxPlayers: 9})
	assert.True(t, errors.Is(err, appErr.ErrInvalidSeats))

	change, err := svc.Create("u1", lobby.CreateRequest{Name: "  high rollers  ", MaxPlayers: 4})
	require.NoError(t, err)
	assert.Len(t, change.Table.ID, 8)
	assert.Equal(t, "high rollers", change.Table.Name)
	assert.Equal(t, "u1", change.Table.OwnerID)
	assert.Equal(t, []string{"u1"}, change.Table.Players)
	assert.Empty(t, change.Table.InviteCode)
}

func TestCreateMovesOwnerOutOfOtherTables(t *testing.T) {
	svc, mr := newTestService(t)

	first, err := svc.Create("u1", lobby.CreateRequest{Name: "first", MaxPlayers: 2})
	require.NoError(t, err)
	second, err := svc.Create("u1", lobby.CreateRequest{Name: "second", MaxPlayers: 2})
	require.NoError(t, err)

	assert.Equal(t, []string{first.Table.ID}, second.Deleted)
	_, ok := svc.Get(first.Table.ID)
	assert.False(t, ok, "emptied table should be deleted")
	assert.Equal(t, []string{second.Table.ID}, svc.TableIDsForUser("u1"))

	assert.Empty(t, mr.HGet(lobby.MirrorKey, first.Table.ID))
	raw := mr.HGet(lobby.MirrorKey, second.Table.ID)
	require.NotEmpty(t, raw)
	var mirrored lobby.Table
	require.NoError(t, json.Unmarshal([]byte(raw), &mirrored))
	assert.Equal(t, "second", mirrored.Name)
}

func TestJoinAndCapacity(t *testing.T) {
	svc := lobby.NewService(nil)
	created, err := svc.Create("u1", lobby.CreateRequest{Name: "duo", MaxPlayers: 2})
	require.NoError(t, err)
	id := created.Table.ID

	change, err := svc.Join(id, "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, change.Table.Players)

	_, err = svc.Join(id, "u2")
	assert.NoError(t, err, "rejoining is idempotent")

	_, err = svc.Join(id, "u3")
	assert.True(t, errors.Is(err, appErr.ErrTableFull))

	_, err = svc.Join("missing", "u3")
	assert.True(t, errors.Is(err, appErr.ErrTableNotFound))
}

func TestPrivateTablesAndInviteCodes(t *testing.T) {
	svc := lobby.NewService(nil)
	created, err := svc.Create("u1", lobby.CreateRequest{Name: "secret", MaxPlayers: 4, IsPrivate: true})
	require.NoError(t, err)
	code := created.Table.InviteCode
	require.Len(t, code, 6)

	assert.Empty(t, svc.VisibleTables("u2"))
	assert.Len(t, svc.VisibleTables("u1"), 1)
	assert.Empty(t, created.Table.Public("u2").InviteCode)
	assert.Equal(t, code, created.Table.Public("u1").InviteCode)

	change, err := svc.JoinByInvite(" "+code+" ", "u2")
	require.NoError(t, err)
	assert.Equal(t, created.Table.ID, change.Table.ID)
	assert.True(t, svc.IsMember(created.Table.ID, "u2"))

	_, err = svc.JoinByInvite("ZZZZZZ", "u3")
	assert.True(t, errors.Is(err, appErr.ErrTableNotFound))
}

func TestLeaveReassignsOwnerAndDeletesEmptyTable(t *testing.T) {
	svc, mr := newTestService(t)
	created, err := svc.Create("u1", lobby.CreateRequest{Name: "trio", MaxPlayers: 3})
	require.NoError(t, err)
	id := created.Table.ID
	_, err = svc.Join(id, "u2")
	require.NoError(t, err)

	table, exists := svc.Leave(id, "u1")
	require.True(t, exists)
	assert.Equal(t, "u2", table.OwnerID)

	_, exists = svc.Leave(id, "u2")
	assert.False(t, exists)
	_, ok := svc.Get(id)
	assert.False(t, ok)
	assert.Empty(t, mr.HGet(lobby.MirrorKey, id))
}

func TestJoinMovesUserBetweenTables(t *testing.T) {
	svc := lobby.NewService(nil)
	a, _ := svc.Create("u1", lobby.CreateRequest{Name: "table a", MaxPlayers: 4})
	b, _ := svc.Create("u2", lobby.CreateRequest{Name: "table b", MaxPlayers: 4})
	_, err := svc.Join(a.Table.ID, "u3")
	require.NoError(t, err)

	change, err := svc.Join(b.Table.ID, "u3")
	require.NoError(t, err)
	assert.Equal(t, []string{a.Table.ID}, change.Left)
	assert.Empty(t, change.Deleted)
	assert.False(t, svc.IsMember(a.Table.ID, "u3"))
	assert.True(t, svc.IsMember(b.Table.ID, "u3"))
}

func TestClose(t *testing.T) {
	svc := lobby.NewService(nil)
	created, _ := svc.Create("u1", lobby.CreateRequest{Name: "closing", MaxPlayers: 4})

	closed, ok := svc.Close(created.Table.ID)
	assert.True(t, ok)
	assert.Equal(t, created.Table.ID, closed.ID)
	_, ok = svc.Close(created.Table.ID)
	assert.False(t, ok)
	assert.Empty(t, svc.List())
}
