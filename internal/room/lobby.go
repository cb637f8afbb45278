package room

import (
	"sort"

	"github.com/EgorLis/roomnet/internal/protocol"
)

// Lobby — кэш списка комнат, который присылает мастер-сервер.
type Lobby struct {
	rooms map[string]*RoomInfo
}

func NewLobby() *Lobby { return &Lobby{rooms: map[string]*RoomInfo{}} }

// Apply применяет список комнат: full — полный список (GameList),
// иначе обновление (GameListUpdate), где Removed убирает комнату.
// Возвращает изменённые записи, включая удалённые.
func (l *Lobby) Apply(list protocol.Hashtable, full bool) []*RoomInfo {
	if full {
		l.rooms = map[string]*RoomInfo{}
	}
	changed := make([]*RoomInfo, 0, len(list))
	for k, v := range list {
		name, ok := k.(string)
		if !ok {
			continue
		}
		props, _ := v.(protocol.Hashtable)
		info, exists := l.rooms[name]
		if !exists {
			info = NewRoomInfo(name, props)
		} else {
			info.CacheProperties(props)
		}
		if info.RemovedFromList {
			delete(l.rooms, name)
		} else {
			l.rooms[name] = info
		}
		changed = append(changed, info)
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].name < changed[j].name })
	return changed
}

// Rooms — видимые комнаты по имени.
func (l *Lobby) Rooms() []*RoomInfo {
	out := make([]*RoomInfo, 0, len(l.rooms))
	for _, ri := range l.rooms {
		out = append(out, ri)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (l *Lobby) Clear() { l.rooms = map[string]*RoomInfo{} }
