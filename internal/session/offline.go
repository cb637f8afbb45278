package session

import (
	"reflect"

	"go.uber.org/zap"

	"github.com/EgorLis/roomnet/internal/protocol"
	"github.com/EgorLis/roomnet/internal/room"
)

// offlineActor — номер локального игрока в комнате без сервера.
const offlineActor int32 = 1

// EnableOfflineMode переводит клиент в режим без сервера: мастер
// «подключён» сразу, комнаты создаются локально, свойства применяются
// немедленно. Колбэки приходят через Service, как и в обычном режиме.
func (c *Client) EnableOfflineMode() bool {
	if c.state != PeerCreated && c.state != Disconnected {
		c.log.Warn("EnableOfflineMode: disconnect first", zap.Stringer("state", c.state))
		return false
	}
	c.offline = true
	c.cause = CauseNone
	c.server = MasterServer
	c.setState(ConnectedToMasterServer)
	c.peer.Post(func() {
		c.onConnection(func(cb ConnectionCallbacks) { cb.OnConnectedToMaster() })
	})
	return true
}

// DisableOfflineMode выходит из режима без сервера.
func (c *Client) DisableOfflineMode() {
	if !c.offline {
		return
	}
	c.offlineDisconnect()
}

func (c *Client) offlineDisconnect() {
	if c.currentRoom != nil {
		c.leaveOffline()
	}
	c.offline = false
	c.cause = CauseDisconnectByClientLogic
	c.setState(Disconnected)
	c.peer.Post(func() {
		c.onConnection(func(cb ConnectionCallbacks) { cb.OnDisconnected(CauseDisconnectByClientLogic) })
	})
}

func (c *Client) enterOffline(name string, props protocol.Hashtable, created bool) bool {
	r := room.New(name, props, c, c.log)
	c.localActor = offlineActor
	r.StorePlayer(room.NewPlayer(offlineActor, true, c.localPlayerProps()))
	r.MasterChanged = c.onMasterChanged
	c.currentRoom = r
	c.setState(Joined)
	c.peer.Post(func() {
		c.onMatchmaking(func(cb MatchmakingCallbacks) {
			if created {
				cb.OnCreatedRoom()
			}
			cb.OnJoinedRoom()
		})
	})
	return true
}

func (c *Client) leaveOffline() {
	if c.currentRoom == nil {
		return
	}
	c.currentRoom = nil
	c.setState(ConnectedToMasterServer)
	c.peer.Post(func() {
		c.onMatchmaking(func(cb MatchmakingCallbacks) { cb.OnLeftRoom() })
	})
}

func (c *Client) setRoomPropertiesOffline(props, expected protocol.Hashtable) bool {
	r := c.currentRoom
	if r == nil {
		return false
	}
	current := func(k any) any {
		switch k {
		case room.KeyMasterClientID:
			return r.MasterClientID()
		}
		if s, ok := k.(string); ok {
			return r.CustomProperties()[s]
		}
		return nil
	}
	if !matchExpected(expected, current) {
		c.log.Debug("offline CAS mismatch on room properties")
		return false
	}
	if len(props) == 0 {
		return true
	}
	r.CacheProperties(props)
	c.peer.Post(func() {
		c.onInRoom(func(cb InRoomCallbacks) { cb.OnRoomPropertiesUpdate(props) })
	})
	return true
}

func (c *Client) setActorPropertiesOffline(actor int32, props, expected protocol.Hashtable) bool {
	r := c.currentRoom
	if r == nil || r.Player(actor) == nil {
		return false
	}
	p := r.Player(actor)
	current := func(k any) any {
		if s, ok := k.(string); ok {
			return p.CustomProperties()[s]
		}
		return nil
	}
	if !matchExpected(expected, current) {
		c.log.Debug("offline CAS mismatch on player properties", zap.Int32("actor", actor))
		return false
	}
	if len(props) == 0 {
		return true
	}
	p.CacheProperties(props)
	c.peer.Post(func() {
		c.onInRoom(func(cb InRoomCallbacks) { cb.OnPlayerPropertiesUpdate(p, props) })
	})
	return true
}

func matchExpected(expected protocol.Hashtable, current func(any) any) bool {
	for k, v := range expected {
		if !reflect.DeepEqual(current(k), v) {
			return false
		}
	}
	return true
}

// raiseOffline доставляет событие себе, если оно адресовано локальному
// игроку.
func (c *Client) raiseOffline(code byte, content any, o RaiseEventOptions) {
	toSelf := false
	if len(o.TargetActors) > 0 {
		for _, id := range o.TargetActors {
			if id == c.localActor {
				toSelf = true
			}
		}
	} else {
		toSelf = o.Receivers == ReceiversAll || o.Receivers == ReceiversMasterClient
	}
	if !toSelf {
		return
	}
	ev := &protocol.EventData{
		Code:   code,
		Sender: c.localActor,
		Parameters: protocol.ParameterMap{
			ParamData:    content,
			ParamActorNr: c.localActor,
		},
	}
	c.peer.Post(func() { c.handleEvent(ev) })
}
