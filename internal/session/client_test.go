package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgorLis/roomnet/internal/config"
	"github.com/EgorLis/roomnet/internal/peer"
	"github.com/EgorLis/roomnet/internal/peer/peertest"
	"github.com/EgorLis/roomnet/internal/protocol"
	"github.com/EgorLis/roomnet/internal/regions"
	"github.com/EgorLis/roomnet/internal/room"
	"github.com/EgorLis/roomnet/internal/session"
	"github.com/EgorLis/roomnet/internal/transport"
)

const (
	nsAddr     = "ns:9090"
	masterAddr = "master:5055"
	gameAddr   = "game:5056"
)

// ========================= scripted server =========================

type server struct {
	mu             sync.Mutex
	authFail       int16
	masterJoinFail int16
	silent         map[byte]bool // операции, на которые сервер не отвечает
	gameAuth       []protocol.ParameterMap
	nsAuth         []protocol.ParameterMap
	gameEnter      []*protocol.OperationRequest
}

func (s *server) serve(tr *peertest.Transport, req *protocol.OperationRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.silent[req.Code] {
		return
	}
	ok := func(params protocol.ParameterMap) {
		if params == nil {
			params = protocol.ParameterMap{}
		}
		tr.Respond(&protocol.OperationResponse{Code: req.Code, Parameters: params})
	}
	fail := func(rc int16) {
		tr.Respond(&protocol.OperationResponse{Code: req.Code, ReturnCode: rc, DebugMessage: "denied", Parameters: protocol.ParameterMap{}})
	}

	switch tr.Address() {
	case nsAddr:
		switch req.Code {
		case session.OpAuthenticate:
			s.nsAuth = append(s.nsAuth, req.Parameters)
			if s.authFail != 0 {
				fail(s.authFail)
				return
			}
			ok(protocol.ParameterMap{
				session.ParamAddress: masterAddr,
				session.ParamSecret:  "token-1",
				session.ParamUserID:  "user-1",
			})
		case session.OpGetRegions:
			ok(protocol.ParameterMap{
				regions.ParamRegionCodes: []string{"eu", "us"},
				regions.ParamAddresses:   []string{"eu.host:5055", "us.host:5055"},
			})
		}

	case masterAddr:
		switch req.Code {
		case session.OpAuthenticate, session.OpJoinLobby, session.OpLeaveLobby:
			ok(nil)
		case session.OpCreateGame, session.OpJoinGame, session.OpJoinRandomGame:
			if s.masterJoinFail != 0 {
				fail(s.masterJoinFail)
				return
			}
			name, _ := protocol.Get[string](req.Parameters, session.ParamRoomName)
			if name == "" {
				name = "generated"
			}
			ok(protocol.ParameterMap{session.ParamAddress: gameAddr, session.ParamRoomName: name})
		case session.OpFindFriends:
			ok(protocol.ParameterMap{
				session.ParamFindFriendsResponseOnline: []any{true, false},
				session.ParamFindFriendsResponseRooms:  []any{"arena", ""},
			})
		}

	case gameAddr:
		switch req.Code {
		case session.OpAuthenticate:
			s.gameAuth = append(s.gameAuth, req.Parameters)
			ok(nil)
		case session.OpCreateGame, session.OpJoinGame:
			s.gameEnter = append(s.gameEnter, req)
			ok(protocol.ParameterMap{
				session.ParamActorNr: int32(2),
				session.ParamPlayerProperties: protocol.Hashtable{
					int32(1): protocol.Hashtable{room.ActorKeyPlayerName: "host"},
				},
				session.ParamActorList: []int32{1, 2},
				session.ParamGameProperties: protocol.Hashtable{
					room.KeyMaxPlayers: byte(4),
					"mode":             "ctf",
				},
			})
		case session.OpSetProperties:
			actor, _ := protocol.Get[int32](req.Parameters, session.ParamActorNr)
			props, _ := protocol.Get[protocol.Hashtable](req.Parameters, session.ParamProperties)
			tr.Event(&protocol.EventData{Code: session.EvPropertiesChanged, Parameters: protocol.ParameterMap{
				session.ParamTargetActorNr: actor,
				session.ParamProperties:    props,
			}})
			ok(nil)
		case session.OpLeave:
			ok(nil)
		}
	}
}

// ========================= callback recorder =========================

type recorder struct {
	mu      sync.Mutex
	calls   []string
	cause   session.DisconnectCause
	friends []session.FriendInfo
	failRC  int16
	master  *room.Player
	events  []*protocol.EventData
	onCall  func(name string)
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	f := r.onCall
	r.mu.Unlock()
	if f != nil {
		f(name)
	}
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) Has(name string) bool {
	for _, c := range r.Calls() {
		if c == name {
			return true
		}
	}
	return false
}

func (r *recorder) OnConnected()         { r.add("OnConnected") }
func (r *recorder) OnConnectedToMaster() { r.add("OnConnectedToMaster") }
func (r *recorder) OnDisconnected(c session.DisconnectCause) {
	r.mu.Lock()
	r.cause = c
	r.mu.Unlock()
	r.add("OnDisconnected")
}
func (r *recorder) OnRegionListReceived(*regions.Handler) { r.add("OnRegionListReceived") }
func (r *recorder) OnCustomAuthenticationFailed(string)   { r.add("OnCustomAuthenticationFailed") }
func (r *recorder) OnFriendListUpdate(f []session.FriendInfo) {
	r.mu.Lock()
	r.friends = f
	r.mu.Unlock()
	r.add("OnFriendListUpdate")
}
func (r *recorder) OnCreatedRoom()                   { r.add("OnCreatedRoom") }
func (r *recorder) OnCreateRoomFailed(int16, string) { r.add("OnCreateRoomFailed") }
func (r *recorder) OnJoinedRoom()                    { r.add("OnJoinedRoom") }
func (r *recorder) OnJoinRoomFailed(rc int16, _ string) {
	r.mu.Lock()
	r.failRC = rc
	r.mu.Unlock()
	r.add("OnJoinRoomFailed")
}
func (r *recorder) OnJoinRandomFailed(int16, string)            { r.add("OnJoinRandomFailed") }
func (r *recorder) OnLeftRoom()                                 { r.add("OnLeftRoom") }
func (r *recorder) OnJoinedLobby()                              { r.add("OnJoinedLobby") }
func (r *recorder) OnLeftLobby()                                { r.add("OnLeftLobby") }
func (r *recorder) OnRoomListUpdate([]*room.RoomInfo)           { r.add("OnRoomListUpdate") }
func (r *recorder) OnLobbyStatisticsUpdate([]session.LobbyInfo) { r.add("OnLobbyStatisticsUpdate") }
func (r *recorder) OnPlayerEnteredRoom(*room.Player)            { r.add("OnPlayerEnteredRoom") }
func (r *recorder) OnPlayerLeftRoom(*room.Player)               { r.add("OnPlayerLeftRoom") }
func (r *recorder) OnRoomPropertiesUpdate(protocol.Hashtable)   { r.add("OnRoomPropertiesUpdate") }
func (r *recorder) OnPlayerPropertiesUpdate(*room.Player, protocol.Hashtable) {
	r.add("OnPlayerPropertiesUpdate")
}
func (r *recorder) OnMasterClientSwitched(p *room.Player) {
	r.mu.Lock()
	r.master = p
	r.mu.Unlock()
	r.add("OnMasterClientSwitched")
}
func (r *recorder) OnErrorInfo(string) { r.add("OnErrorInfo") }
func (r *recorder) OnEvent(ev *protocol.EventData) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.add(fmt.Sprintf("OnEvent(%d)", ev.Code))
}

// ========================= fixtures =========================

type fakePinger map[string]time.Duration

func (f fakePinger) Ping(ctx context.Context, address string) (time.Duration, error) {
	if d, ok := f[address]; ok {
		return d, nil
	}
	<-ctx.Done()
	return 0, ctx.Err()
}

func settings() config.AppSettings {
	s := config.Default()
	s.AppID = "app"
	s.NameServer = nsAddr
	s.FixedRegion = "eu"
	s.Protocol = transport.TCP
	return s
}

func newClient(t *testing.T, opts ...session.Option) (*session.Client, *recorder, *peertest.Network, *server) {
	t.Helper()
	net := peertest.NewNetwork()
	srv := &server{silent: map[byte]bool{}}
	net.Handle(srv.serve)
	opts = append([]session.Option{
		session.WithPeerOptions(peer.WithTransportFactory(net.Factory), peer.WithCodec(net.Codec)),
		session.WithPinger(fakePinger{"eu.host:5055": 10 * time.Millisecond, "us.host:5055": 50 * time.Millisecond}),
	}, opts...)
	c := session.New(opts...)
	rec := &recorder{}
	c.AddCallbackTarget(rec)
	return c, rec, net, srv
}

func serviceUntil(t *testing.T, c *session.Client, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		c.Service()
		return cond()
	}, 2*time.Second, time.Millisecond)
}

func inState(c *session.Client, s session.ClientState) func() bool {
	return func() bool { return c.State() == s }
}

func joinedRoom(t *testing.T) (*session.Client, *recorder, *peertest.Network, *server) {
	t.Helper()
	c, rec, net, srv := newClient(t)
	require.True(t, c.ConnectUsingSettings(settings()))
	serviceUntil(t, c, inState(c, session.ConnectedToMasterServer))
	require.True(t, c.OpCreateRoom("arena", room.DefaultOptions(), nil))
	serviceUntil(t, c, inState(c, session.Joined))
	return c, rec, net, srv
}

// ========================= tests =========================

func TestNameServerHandsOffToMaster(t *testing.T) {
	c, _, net, srv := newClient(t)
	assert.Equal(t, session.PeerCreated, c.State())

	require.True(t, c.ConnectUsingSettings(settings()))
	assert.Equal(t, session.ConnectingToNameServer, c.State())

	serviceUntil(t, c, inState(c, session.DisconnectingFromNameServer))
	ns := net.Last()
	assert.Equal(t, nsAddr, ns.Address())
	assert.False(t, ns.Connected(), "name server socket is closed before the hop")

	serviceUntil(t, c, inState(c, session.ConnectingToMasterServer))
	assert.Equal(t, masterAddr, c.MasterServerAddress())
	assert.Equal(t, session.MasterServer, c.Server())

	serviceUntil(t, c, inState(c, session.ConnectedToMasterServer))
	trs := net.Transports()
	require.Len(t, trs, 2)
	assert.Equal(t, masterAddr, trs[1].Address())
	assert.Equal(t, "user-1", c.UserID())

	require.Len(t, srv.nsAuth, 1)
	assert.Equal(t, "eu", srv.nsAuth[0][session.ParamRegion])
	assert.Equal(t, "app", srv.nsAuth[0][session.ParamApplicationID])
}

func TestCreateRoomHopsToGameServer(t *testing.T) {
	c, rec, net, srv := joinedRoom(t)

	// на игровом сервере — только токен
	require.Len(t, srv.gameAuth, 1)
	assert.Equal(t, protocol.ParameterMap{session.ParamSecret: "token-1"}, srv.gameAuth[0])
	require.Len(t, srv.gameEnter, 1)
	assert.Equal(t, session.OpCreateGame, srv.gameEnter[0].Code)
	assert.Equal(t, "arena", srv.gameEnter[0].Parameters[session.ParamRoomName])

	r := c.CurrentRoom()
	require.NotNil(t, r)
	assert.Equal(t, "arena", r.Name())
	assert.Equal(t, 2, r.PlayerCount())
	assert.Equal(t, int32(1), r.MasterClientID())
	assert.Equal(t, int32(4), r.MaxPlayers)
	assert.Equal(t, "ctf", r.CustomProperties()["mode"])
	assert.Equal(t, "host", r.Player(1).NickName())
	assert.True(t, c.LocalPlayer().IsLocal())
	assert.Equal(t, int32(2), c.LocalPlayer().ActorNumber())

	assert.Subset(t, rec.Calls(), []string{"OnConnected", "OnConnectedToMaster", "OnCreatedRoom", "OnJoinedRoom"})
	assert.Len(t, net.Transports(), 3)

	require.True(t, c.OpLeaveRoom(false))
	serviceUntil(t, c, inState(c, session.ConnectedToMasterServer))
	assert.Nil(t, c.CurrentRoom())
	assert.True(t, rec.Has("OnLeftRoom"))
	trs := net.Transports()
	require.Len(t, trs, 4)
	assert.Equal(t, masterAddr, trs[3].Address())
}

func TestRegionSelectedByPing(t *testing.T) {
	c, rec, _, srv := newClient(t)
	s := settings()
	s.FixedRegion = ""
	require.True(t, c.ConnectUsingSettings(s))

	serviceUntil(t, c, inState(c, session.ConnectedToMasterServer))
	assert.Equal(t, "eu", c.CloudRegion())
	assert.Equal(t, "eu;10;eu,us", c.BestRegionSummary())
	assert.True(t, rec.Has("OnRegionListReceived"))

	require.Len(t, srv.nsAuth, 1)
	assert.Equal(t, "eu", srv.nsAuth[0][session.ParamRegion])
}

func TestProtocolFallbackOnce(t *testing.T) {
	c, rec, net, _ := newClient(t)
	net.Refuse(transport.WebSocketSecure)
	s := settings()
	s.Protocol = transport.WebSocketSecure

	require.True(t, c.ConnectUsingSettings(s))
	serviceUntil(t, c, inState(c, session.ConnectedToMasterServer))

	trs := net.Transports()
	require.Len(t, trs, 3)
	assert.Equal(t, transport.WebSocketSecure, trs[0].Protocol)
	assert.Equal(t, transport.TCP, trs[1].Protocol)
	assert.Equal(t, transport.TCP, trs[2].Protocol, "master uses the protocol that worked")
	assert.False(t, rec.Has("OnDisconnected"))
}

func TestFallbackFailsWithCause(t *testing.T) {
	c, rec, net, _ := newClient(t)
	net.Refuse(transport.WebSocketSecure)
	net.Refuse(transport.TCP)
	s := settings()
	s.Protocol = transport.WebSocketSecure

	require.True(t, c.ConnectUsingSettings(s))
	serviceUntil(t, c, inState(c, session.Disconnected))
	assert.Len(t, net.Transports(), 2)
	assert.Equal(t, session.CauseExceptionOnConnect, c.DisconnectCause())
	assert.True(t, rec.Has("OnDisconnected"))
}

func TestAuthFailureBecomesDisconnectCause(t *testing.T) {
	c, rec, _, srv := newClient(t)
	srv.authFail = session.CodeCustomAuthenticationFailed

	require.True(t, c.ConnectUsingSettings(settings()))
	serviceUntil(t, c, inState(c, session.Disconnected))
	assert.Equal(t, session.CauseCustomAuthenticationFailed, c.DisconnectCause())
	assert.True(t, rec.Has("OnCustomAuthenticationFailed"))
	rec.mu.Lock()
	assert.Equal(t, session.CauseCustomAuthenticationFailed, rec.cause)
	rec.mu.Unlock()
}

func TestSecondRequestRefusedWhileAwaitingResponse(t *testing.T) {
	c, _, _, srv := newClient(t)
	require.True(t, c.ConnectUsingSettings(settings()))
	serviceUntil(t, c, inState(c, session.ConnectedToMasterServer))

	srv.mu.Lock()
	srv.silent[session.OpFindFriends] = true
	srv.mu.Unlock()
	assert.True(t, c.OpFindFriends([]string{"a", "b"}))
	assert.False(t, c.OpFindFriends([]string{"a"}), "one outstanding FindFriends at a time")
}

func TestFindFriends(t *testing.T) {
	c, rec, _, _ := newClient(t)
	require.True(t, c.ConnectUsingSettings(settings()))
	serviceUntil(t, c, inState(c, session.ConnectedToMasterServer))

	require.True(t, c.OpFindFriends([]string{"a", "b"}))
	serviceUntil(t, c, func() bool { return rec.Has("OnFriendListUpdate") })
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []session.FriendInfo{
		{UserID: "a", IsOnline: true, Room: "arena"},
		{UserID: "b"},
	}, rec.friends)
}

func TestJoinFailureOnMasterKeepsConnection(t *testing.T) {
	c, rec, net, srv := newClient(t)
	srv.masterJoinFail = session.CodeGameDoesNotExist
	require.True(t, c.ConnectUsingSettings(settings()))
	serviceUntil(t, c, inState(c, session.ConnectedToMasterServer))

	require.True(t, c.OpJoinRoom("missing", nil))
	serviceUntil(t, c, func() bool { return rec.Has("OnJoinRoomFailed") })
	assert.Equal(t, session.ConnectedToMasterServer, c.State())
	assert.Len(t, net.Transports(), 2)
	rec.mu.Lock()
	assert.Equal(t, session.CodeGameDoesNotExist, rec.failRC)
	rec.mu.Unlock()
}

func TestLocalValidationFailsFast(t *testing.T) {
	c, _, _, _ := newClient(t)
	assert.False(t, c.OpCreateRoom("x", room.DefaultOptions(), nil), "not connected")
	assert.False(t, c.OpRaiseEvent(1, nil, session.RaiseEventOptions{}, peer.SendReliable))
	assert.False(t, c.OpLeaveRoom(false))
	assert.False(t, c.ConnectUsingSettings(config.Default()), "no app id")

	require.True(t, c.ConnectUsingSettings(settings()))
	serviceUntil(t, c, inState(c, session.ConnectedToMasterServer))
	assert.False(t, c.OpJoinRoom("", nil))
	assert.False(t, c.OpFindFriends(nil))
	assert.False(t, c.ConnectUsingSettings(settings()), "already connected")
}

func TestCallbackTargetAddedDuringDispatch(t *testing.T) {
	c, rec, _, _ := newClient(t)
	late := &recorder{}
	rec.onCall = func(name string) {
		if name == "OnConnected" {
			c.AddCallbackTarget(late)
		}
	}
	require.True(t, c.ConnectUsingSettings(settings()))
	serviceUntil(t, c, inState(c, session.ConnectedToMasterServer))

	assert.False(t, late.Has("OnConnected"), "added during the pass")
	assert.True(t, late.Has("OnConnectedToMaster"))

	c.RemoveCallbackTarget(late)
	c.Disconnect()
	serviceUntil(t, c, inState(c, session.Disconnected))
	assert.False(t, late.Has("OnDisconnected"))
	assert.True(t, rec.Has("OnDisconnected"))
	assert.Equal(t, session.CauseDisconnectByClientLogic, c.DisconnectCause())
}

func TestRoomEvents(t *testing.T) {
	c, rec, net, _ := joinedRoom(t)
	game := net.Last()
	r := c.CurrentRoom()

	game.Event(&protocol.EventData{Code: session.EvJoin, Parameters: protocol.ParameterMap{
		session.ParamActorNr:          int32(3),
		session.ParamPlayerProperties: protocol.Hashtable{room.ActorKeyPlayerName: "third"},
	}})
	serviceUntil(t, c, func() bool { return rec.Has("OnPlayerEnteredRoom") })
	assert.Equal(t, "third", r.Player(3).NickName())

	game.Event(&protocol.EventData{Code: session.EvLeave, Parameters: protocol.ParameterMap{
		session.ParamActorNr: int32(1),
	}})
	serviceUntil(t, c, func() bool { return rec.Has("OnPlayerLeftRoom") })
	assert.Nil(t, r.Player(1))
	assert.Equal(t, int32(2), r.MasterClientID())
	assert.True(t, rec.Has("OnMasterClientSwitched"))
	rec.mu.Lock()
	assert.Same(t, c.LocalPlayer(), rec.master)
	rec.mu.Unlock()

	game.Event(&protocol.EventData{Code: 7, Sender: 3, Parameters: protocol.ParameterMap{session.ParamData: "hi"}})
	serviceUntil(t, c, func() bool { return rec.Has("OnEvent(7)") })

	game.Event(&protocol.EventData{Code: session.EvErrorInfo, Parameters: protocol.ParameterMap{session.ParamInfo: "oops"}})
	serviceUntil(t, c, func() bool { return rec.Has("OnErrorInfo") })
}

func TestPropertiesAppliedFromServerEcho(t *testing.T) {
	c, rec, net, _ := joinedRoom(t)
	game := net.Last()
	local := c.LocalPlayer()

	require.True(t, local.SetCustomProperties(room.Properties{"score": int32(5)}, nil))
	serviceUntil(t, c, func() bool { return rec.Has("OnPlayerPropertiesUpdate") })
	assert.Equal(t, int32(5), local.CustomProperties()["score"])

	require.True(t, c.OpSetPropertiesOfRoom(room.Properties{"round": int32(2)}, room.Properties{"round": nil}))
	serviceUntil(t, c, func() bool { return rec.Has("OnRoomPropertiesUpdate") })
	assert.Equal(t, int32(2), c.CurrentRoom().CustomProperties()["round"])

	reqs := game.Requests()
	last := reqs[len(reqs)-1]
	assert.Equal(t, session.OpSetProperties, last.Code)
	assert.Contains(t, last.Parameters, session.ParamExpectedValues)
}

func TestRaiseEventParameters(t *testing.T) {
	c, _, net, _ := joinedRoom(t)
	game := net.Last()

	require.True(t, c.OpRaiseEvent(9, "payload", session.RaiseEventOptions{
		Receivers: session.ReceiversAll,
		Caching:   session.CacheAddToRoomCache,
	}, peer.SendOptions{}))
	reqs := game.Requests()
	ev := reqs[len(reqs)-1]
	assert.Equal(t, session.OpRaiseEvent, ev.Code)
	assert.Equal(t, byte(9), ev.Parameters[session.ParamCode])
	assert.Equal(t, "payload", ev.Parameters[session.ParamData])
	assert.Equal(t, byte(session.ReceiversAll), ev.Parameters[session.ParamReceiverGroup])
	assert.Equal(t, byte(session.CacheAddToRoomCache), ev.Parameters[session.ParamCache])
}

func TestOfflineMode(t *testing.T) {
	c, rec, net, _ := newClient(t)
	require.True(t, c.EnableOfflineMode())
	serviceUntil(t, c, func() bool { return rec.Has("OnConnectedToMaster") })

	require.True(t, c.OpCreateRoom("solo", room.DefaultOptions(), nil))
	serviceUntil(t, c, func() bool { return rec.Has("OnJoinedRoom") })
	assert.True(t, rec.Has("OnCreatedRoom"))
	assert.True(t, c.InRoom())
	assert.True(t, c.LocalPlayer().IsMasterClient())

	r := c.CurrentRoom()
	assert.False(t, r.SetCustomProperties(room.Properties{"k": "v"}, room.Properties{"k": "other"}), "CAS mismatch")
	require.True(t, r.SetCustomProperties(room.Properties{"k": "v"}, nil))
	assert.Equal(t, "v", r.CustomProperties()["k"], "applied before Service")
	assert.False(t, rec.Has("OnRoomPropertiesUpdate"), "callback waits for Service")
	serviceUntil(t, c, func() bool { return rec.Has("OnRoomPropertiesUpdate") })
	assert.True(t, r.SetCustomProperties(room.Properties{"k": "w"}, room.Properties{"k": "v"}), "CAS against the fresh value")
	assert.Equal(t, "w", r.CustomProperties()["k"])

	me := c.LocalPlayer()
	require.True(t, me.SetCustomProperties(room.Properties{"hp": int32(10)}, nil))
	assert.Equal(t, int32(10), me.CustomProperties()["hp"])
	serviceUntil(t, c, func() bool { return rec.Has("OnPlayerPropertiesUpdate") })

	require.True(t, c.OpRaiseEvent(5, "x", session.RaiseEventOptions{Receivers: session.ReceiversOthers}, peer.SendReliable))
	require.True(t, c.OpRaiseEvent(6, "y", session.RaiseEventOptions{Receivers: session.ReceiversAll}, peer.SendReliable))
	serviceUntil(t, c, func() bool { return rec.Has("OnEvent(6)") })
	assert.False(t, rec.Has("OnEvent(5)"))

	require.True(t, c.OpLeaveRoom(false))
	serviceUntil(t, c, func() bool { return rec.Has("OnLeftRoom") })
	assert.Equal(t, session.ConnectedToMasterServer, c.State())

	c.Disconnect()
	serviceUntil(t, c, inState(c, session.Disconnected))
	assert.False(t, c.OfflineMode())
	assert.Empty(t, net.Transports())
}
