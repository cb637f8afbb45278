package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgorLis/roomnet/internal/protocol"
)

func rosterRoom(actors ...int32) *Room {
	r := New("r1", nil, nil, nil)
	for _, a := range actors {
		r.StorePlayer(NewPlayer(a, false, nil))
	}
	return r
}

func TestMasterIsLowestActor(t *testing.T) {
	r := rosterRoom(3, 5, 2)
	assert.Equal(t, int32(2), r.MasterClientID())

	r.RemovePlayer(2)
	assert.Equal(t, int32(3), r.MasterClientID())
	assert.True(t, r.Player(3).IsMasterClient())
}

func TestMasterSwitchNotifiedOnlyOnChange(t *testing.T) {
	r := New("r1", nil, nil, nil)
	var switches [][2]int32
	r.MasterChanged = func(prev, next *Player) {
		var a, b int32
		if prev != nil {
			a = prev.ActorNumber()
		}
		if next != nil {
			b = next.ActorNumber()
		}
		switches = append(switches, [2]int32{a, b})
	}

	r.StorePlayer(NewPlayer(3, false, nil))
	r.StorePlayer(NewPlayer(5, false, nil))
	r.StorePlayer(NewPlayer(2, false, nil))
	r.RemovePlayer(5)
	r.RemovePlayer(2)

	assert.Equal(t, [][2]int32{{0, 3}, {3, 2}, {2, 3}}, switches)
}

func TestExplicitMasterSticksWhilePresent(t *testing.T) {
	r := rosterRoom(1, 4, 7)
	r.CacheProperties(protocol.Hashtable{KeyMasterClientID: int32(7)})
	assert.Equal(t, int32(7), r.MasterClientID())

	// новый игрок с меньшим номером не отбирает роль
	r.StorePlayer(NewPlayer(2, false, nil))
	assert.Equal(t, int32(7), r.MasterClientID())

	r.RemovePlayer(7)
	assert.Equal(t, int32(1), r.MasterClientID())
}

func TestInactivePlayerIsNotMaster(t *testing.T) {
	r := rosterRoom(1, 2)
	r.MarkInactive(1, true)
	assert.Equal(t, int32(2), r.MasterClientID())
	assert.Equal(t, 2, r.PlayerCount())
}

func TestPropertyIngestion(t *testing.T) {
	r := New("r1", nil, nil, nil)

	changed := r.CacheProperties(protocol.Hashtable{
		KeyMaxPlayers: byte(8),
		KeyIsOpen:     false,
		"map":         "dust",
		"score":       int32(1),
		int32(99):     "stripped",
	})
	require.True(t, changed)
	assert.Equal(t, int32(8), r.MaxPlayers)
	assert.False(t, r.IsOpen)
	assert.Equal(t, Properties{"map": "dust", "score": int32(1)}, r.CustomProperties())

	// те же значения — ничего не меняется
	assert.False(t, r.CacheProperties(protocol.Hashtable{"map": "dust", KeyMaxPlayers: byte(8)}))

	// nil удаляет ключ
	assert.True(t, r.CacheProperties(protocol.Hashtable{"score": nil}))
	assert.Equal(t, Properties{"map": "dust"}, r.CustomProperties())

	assert.False(t, r.CacheProperties(nil))
}

func TestNameIsImmutable(t *testing.T) {
	r := New("first", protocol.Hashtable{"name": "other"}, nil, nil)
	assert.Equal(t, "first", r.Name())
}

type recordingOps struct {
	room  []protocol.Hashtable
	cas   []protocol.Hashtable
	actor []int32
}

func (o *recordingOps) SetRoomProperties(props, expected protocol.Hashtable) bool {
	o.room = append(o.room, props)
	o.cas = append(o.cas, expected)
	return true
}

func (o *recordingOps) SetActorProperties(actor int32, props, expected protocol.Hashtable) bool {
	o.actor = append(o.actor, actor)
	o.room = append(o.room, props)
	return true
}

func TestOnlineSetGoesThroughServer(t *testing.T) {
	ops := &recordingOps{}
	r := New("r1", nil, ops, nil)
	r.StorePlayer(NewPlayer(1, true, nil))

	require.True(t, r.SetCustomProperties(Properties{"k": "v"}, Properties{"k": "old"}))
	assert.Empty(t, r.CustomProperties(), "applied only when the server echoes it")
	require.Len(t, ops.room, 1)
	assert.Equal(t, protocol.Hashtable{"k": "v"}, ops.room[0])
	assert.Equal(t, protocol.Hashtable{"k": "old"}, ops.cas[0])

	require.True(t, r.Player(1).SetCustomProperties(Properties{"hp": int32(3)}, nil))
	assert.Equal(t, []int32{1}, ops.actor)

	assert.False(t, r.SetCustomProperties(nil, nil))
}

func TestOfflineSetAppliesImmediately(t *testing.T) {
	r := rosterRoom(1)
	require.True(t, r.Offline())

	require.True(t, r.SetCustomProperties(Properties{"k": "v"}, nil))
	assert.Equal(t, Properties{"k": "v"}, r.CustomProperties())

	require.True(t, r.SetIsOpen(false))
	assert.False(t, r.IsOpen)

	require.True(t, r.Player(1).SetNickName("neo"))
	assert.Equal(t, "neo", r.Player(1).NickName())

	assert.False(t, r.SetMaxPlayers(300))
}

func TestSetMasterClientSendsCAS(t *testing.T) {
	ops := &recordingOps{}
	r := New("r1", nil, ops, nil)
	r.StorePlayer(NewPlayer(1, true, nil))
	r.StorePlayer(NewPlayer(2, false, nil))

	require.True(t, r.SetMasterClient(r.Player(2)))
	assert.Equal(t, protocol.Hashtable{KeyMasterClientID: int32(2)}, ops.room[0])
	assert.Equal(t, protocol.Hashtable{KeyMasterClientID: int32(1)}, ops.cas[0])

	assert.False(t, r.SetMasterClient(NewPlayer(9, false, nil)))
}

func TestLobbyApply(t *testing.T) {
	l := NewLobby()
	l.Apply(protocol.Hashtable{
		"a": protocol.Hashtable{KeyPlayerCount: byte(2), KeyMaxPlayers: byte(4)},
		"b": protocol.Hashtable{KeyPlayerCount: byte(1)},
	}, true)
	require.Len(t, l.Rooms(), 2)
	assert.Equal(t, int32(2), l.Rooms()[0].PlayerCount)

	changed := l.Apply(protocol.Hashtable{
		"a": protocol.Hashtable{KeyRemoved: true},
		"b": protocol.Hashtable{KeyPlayerCount: byte(3)},
	}, false)
	assert.Len(t, changed, 2)
	require.Len(t, l.Rooms(), 1)
	assert.Equal(t, "b", l.Rooms()[0].Name())
	assert.Equal(t, int32(3), l.Rooms()[0].PlayerCount)
}

func TestOptionsGameProperties(t *testing.T) {
	o := DefaultOptions()
	o.MaxPlayers = 4
	o.CustomProperties = Properties{"mode": "ctf"}
	h := o.GameProperties()
	assert.Equal(t, byte(4), h[KeyMaxPlayers])
	assert.Equal(t, true, h[KeyIsOpen])
	assert.Equal(t, "ctf", h["mode"])
}

func TestRejoinWithoutPropertiesKeepsIdentity(t *testing.T) {
	r := New("r1", nil, nil, nil)
	r.StorePlayer(NewPlayer(4, false, protocol.Hashtable{
		ActorKeyPlayerName: "alice",
		ActorKeyUserID:     "u-4",
	}))
	r.MarkInactive(4, true)

	p := r.StorePlayer(NewPlayer(4, false, nil))
	assert.Equal(t, "alice", p.NickName())
	assert.Equal(t, "u-4", p.UserID())
	assert.False(t, p.IsInactive())

	r.StorePlayer(NewPlayer(4, false, protocol.Hashtable{ActorKeyPlayerName: "bob"}))
	assert.Equal(t, "bob", r.Player(4).NickName())
	assert.Equal(t, "u-4", r.Player(4).UserID())
}
