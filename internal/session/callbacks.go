package session

import (
	"github.com/EgorLis/roomnet/internal/protocol"
	"github.com/EgorLis/roomnet/internal/regions"
	"github.com/EgorLis/roomnet/internal/room"
)

// Группы колбэков. Цель может реализовать любое их подмножество и
// регистрируется одним AddCallbackTarget.

type ConnectionCallbacks interface {
	OnConnected()
	OnConnectedToMaster()
	OnDisconnected(cause DisconnectCause)
	OnRegionListReceived(h *regions.Handler)
	OnCustomAuthenticationFailed(debugMessage string)
}

type MatchmakingCallbacks interface {
	OnFriendListUpdate(friends []FriendInfo)
	OnCreatedRoom()
	OnCreateRoomFailed(code int16, message string)
	OnJoinedRoom()
	OnJoinRoomFailed(code int16, message string)
	OnJoinRandomFailed(code int16, message string)
	OnLeftRoom()
}

type LobbyCallbacks interface {
	OnJoinedLobby()
	OnLeftLobby()
	OnRoomListUpdate(rooms []*room.RoomInfo)
	OnLobbyStatisticsUpdate(lobbies []LobbyInfo)
}

type InRoomCallbacks interface {
	OnPlayerEnteredRoom(p *room.Player)
	OnPlayerLeftRoom(p *room.Player)
	OnRoomPropertiesUpdate(changed protocol.Hashtable)
	OnPlayerPropertiesUpdate(p *room.Player, changed protocol.Hashtable)
	OnMasterClientSwitched(master *room.Player)
}

type ErrorInfoCallback interface {
	OnErrorInfo(info string)
}

// EventCallback получает события, которые клиент не обработал сам.
type EventCallback interface {
	OnEvent(ev *protocol.EventData)
}

// FriendInfo — ответ FindFriends.
type FriendInfo struct {
	UserID   string
	IsOnline bool
	Room     string
}

// LobbyInfo — статистика лобби.
type LobbyInfo struct {
	Name        string
	Type        byte
	PlayerCount int32
	RoomCount   int32
}

// ========================= multicast =========================

// callbackList — список целей; изменения копятся в pending и применяются
// только в settle, между проходами диспетчеризации.
type callbackList[T any] struct {
	targets []T
	pending []targetChange
}

type targetChange struct {
	target any
	add    bool
}

func (l *callbackList[T]) queue(target any, add bool) {
	if _, ok := target.(T); ok {
		l.pending = append(l.pending, targetChange{target: target, add: add})
	}
}

func (l *callbackList[T]) settle() {
	for _, ch := range l.pending {
		idx := -1
		for i, t := range l.targets {
			if any(t) == ch.target {
				idx = i
				break
			}
		}
		switch {
		case ch.add && idx < 0:
			l.targets = append(l.targets, ch.target.(T))
		case !ch.add && idx >= 0:
			l.targets = append(l.targets[:idx:idx], l.targets[idx+1:]...)
		}
	}
	l.pending = nil
}

func (l *callbackList[T]) each(f func(T)) {
	for _, t := range l.targets {
		f(t)
	}
}

func (l *callbackList[T]) len() int { return len(l.targets) }

type callbackGroups struct {
	connection  callbackList[ConnectionCallbacks]
	matchmaking callbackList[MatchmakingCallbacks]
	lobby       callbackList[LobbyCallbacks]
	inRoom      callbackList[InRoomCallbacks]
	errorInfo   callbackList[ErrorInfoCallback]
	event       callbackList[EventCallback]
}

func (g *callbackGroups) queue(target any, add bool) {
	g.connection.queue(target, add)
	g.matchmaking.queue(target, add)
	g.lobby.queue(target, add)
	g.inRoom.queue(target, add)
	g.errorInfo.queue(target, add)
	g.event.queue(target, add)
}

func (g *callbackGroups) settle() {
	g.connection.settle()
	g.matchmaking.settle()
	g.lobby.settle()
	g.inRoom.settle()
	g.errorInfo.settle()
	g.event.settle()
}
