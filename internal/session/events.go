package session

import (
	"go.uber.org/zap"

	"github.com/EgorLis/roomnet/internal/protocol"
	"github.com/EgorLis/roomnet/internal/room"
)

// handleEvent — события сервера; неизвестные коды уходят EventCallback.
func (c *Client) handleEvent(ev *protocol.EventData) {
	switch ev.Code {
	case EvGameList, EvGameListUpdate:
		list, _ := protocol.Get[protocol.Hashtable](ev.Parameters, ParamGameList)
		changed := c.lobbyCache.Apply(list, ev.Code == EvGameList)
		c.onLobby(func(cb LobbyCallbacks) { cb.OnRoomListUpdate(changed) })

	case EvAppStats:
		c.stats.PeersInGames, _ = protocol.Get[int32](ev.Parameters, ParamPeerCount)
		c.stats.PeersOnMaster, _ = protocol.Get[int32](ev.Parameters, ParamMasterPeerCount)
		c.stats.Games, _ = protocol.Get[int32](ev.Parameters, ParamGameCount)

	case EvLobbyStats:
		c.onLobbyStats(ev)

	case EvErrorInfo:
		info, _ := protocol.Get[string](ev.Parameters, ParamInfo)
		c.log.Warn("server error info", zap.String("info", info))
		c.onErrorInfo(info)

	case EvJoin:
		c.onPlayerJoined(ev)

	case EvLeave:
		c.onPlayerLeft(ev)

	case EvPropertiesChanged:
		c.onPropertiesChanged(ev)

	default:
		c.onEvent(ev)
	}
}

func (c *Client) onLobbyStats(ev *protocol.EventData) {
	names := stringList(ev.Parameters[ParamLobbyName])
	types, _ := protocol.Get[[]byte](ev.Parameters, ParamLobbyType)
	peers := actorList(ev.Parameters[ParamPeerCount])
	games := actorList(ev.Parameters[ParamGameCount])

	out := make([]LobbyInfo, len(names))
	for i, n := range names {
		out[i].Name = n
		if i < len(types) {
			out[i].Type = types[i]
		}
		if i < len(peers) {
			out[i].PlayerCount = peers[i]
		}
		if i < len(games) {
			out[i].RoomCount = games[i]
		}
	}
	c.onLobby(func(cb LobbyCallbacks) { cb.OnLobbyStatisticsUpdate(out) })
}

func (c *Client) onPlayerJoined(ev *protocol.EventData) {
	r := c.currentRoom
	if r == nil {
		return
	}
	actor, ok := protocol.Get[int32](ev.Parameters, ParamActorNr)
	if !ok {
		actor = ev.Sender
	}
	props, _ := protocol.Get[protocol.Hashtable](ev.Parameters, ParamPlayerProperties)

	if actor == c.localActor {
		// эхо собственного входа: только свойства и остальной ростер
		if p := r.Player(actor); p != nil {
			p.CacheProperties(props)
		}
		for _, id := range actorList(ev.Parameters[ParamActorList]) {
			if r.Player(id) == nil {
				r.StorePlayer(room.NewPlayer(id, false, nil))
			}
		}
		return
	}

	existing := r.Player(actor)
	rejoined := existing != nil && existing.IsInactive()
	p := r.StorePlayer(room.NewPlayer(actor, false, props))
	if existing != nil && !rejoined {
		return
	}
	c.onInRoom(func(cb InRoomCallbacks) { cb.OnPlayerEnteredRoom(p) })
}

func (c *Client) onPlayerLeft(ev *protocol.EventData) {
	r := c.currentRoom
	if r == nil {
		return
	}
	actor, ok := protocol.Get[int32](ev.Parameters, ParamActorNr)
	if !ok {
		actor = ev.Sender
	}
	p := r.Player(actor)
	if p == nil {
		c.log.Debug("leave event for unknown actor", zap.Int32("actor", actor))
		return
	}
	if inactive, _ := protocol.Get[bool](ev.Parameters, ParamIsInactive); inactive {
		r.MarkInactive(actor, true)
	} else {
		r.RemovePlayer(actor)
	}
	if id, ok := protocol.Get[int32](ev.Parameters, ParamMasterClientID); ok && id != 0 && id != r.MasterClientID() {
		r.CacheProperties(protocol.Hashtable{room.KeyMasterClientID: id})
	}
	c.onInRoom(func(cb InRoomCallbacks) { cb.OnPlayerLeftRoom(p) })
}

// onPropertiesChanged — единый путь применения свойств: сервер рассылает
// изменение и самому отправителю.
func (c *Client) onPropertiesChanged(ev *protocol.EventData) {
	r := c.currentRoom
	if r == nil {
		return
	}
	target, _ := protocol.Get[int32](ev.Parameters, ParamTargetActorNr)
	props, _ := protocol.Get[protocol.Hashtable](ev.Parameters, ParamProperties)
	c.applyProperties(r, target, props)
}

func (c *Client) applyProperties(r *room.Room, target int32, props protocol.Hashtable) {
	if len(props) == 0 {
		return
	}
	if target == 0 {
		r.CacheProperties(props)
		c.onInRoom(func(cb InRoomCallbacks) { cb.OnRoomPropertiesUpdate(props) })
		return
	}
	p := r.Player(target)
	if p == nil {
		p = r.StorePlayer(room.NewPlayer(target, target == c.localActor, nil))
	}
	p.CacheProperties(props)
	c.onInRoom(func(cb InRoomCallbacks) { cb.OnPlayerPropertiesUpdate(p, props) })
}
