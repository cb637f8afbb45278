package room

import (
	"reflect"

	"github.com/EgorLis/roomnet/internal/protocol"
)

// RoomInfo — то, что видно о комнате из лобби.
type RoomInfo struct {
	name string

	MaxPlayers          int32
	PlayerCount         int32
	IsOpen              bool
	IsVisible           bool
	RemovedFromList     bool
	CleanupCacheOnLeave bool
	MasterClientID      int32
	ExpectedUsers       []string
	PlayerTTL           int32
	EmptyRoomTTL        int32
	PropsListedInLobby  []string

	custom Properties
}

func NewRoomInfo(name string, props protocol.Hashtable) *RoomInfo {
	ri := &RoomInfo{name: name, IsOpen: true, IsVisible: true, custom: Properties{}}
	ri.CacheProperties(props)
	return ri
}

func (ri *RoomInfo) Name() string { return ri.name }

// CustomProperties возвращает копию пользовательских свойств.
func (ri *RoomInfo) CustomProperties() Properties { return ri.custom.clone() }

// CacheProperties применяет пришедшие свойства: известные байтовые ключи
// попадают в поля, строковые — в пользовательские свойства (nil удаляет
// ключ), прочие ключи отбрасываются. Возвращает true, если что-то изменилось.
func (ri *RoomInfo) CacheProperties(props protocol.Hashtable) bool {
	if len(props) == 0 {
		return false
	}
	changed := false
	for k, v := range props {
		switch key := k.(type) {
		case byte:
			if ri.applyWellKnown(key, v) {
				changed = true
			}
		case string:
			if mergeCustom(ri.custom, key, v) {
				changed = true
			}
		}
	}
	return changed
}

func (ri *RoomInfo) applyWellKnown(key byte, v any) bool {
	before := *ri
	switch key {
	case KeyMaxPlayers:
		if n, ok := asInt32(v); ok {
			ri.MaxPlayers = n
		}
	case KeyPlayerCount:
		if n, ok := asInt32(v); ok {
			ri.PlayerCount = n
		}
	case KeyIsOpen:
		if b, ok := v.(bool); ok {
			ri.IsOpen = b
		}
	case KeyIsVisible:
		if b, ok := v.(bool); ok {
			ri.IsVisible = b
		}
	case KeyRemoved:
		if b, ok := v.(bool); ok {
			ri.RemovedFromList = b
		}
	case KeyCleanupCacheOnLeave:
		if b, ok := v.(bool); ok {
			ri.CleanupCacheOnLeave = b
		}
	case KeyMasterClientID:
		if n, ok := asInt32(v); ok {
			ri.MasterClientID = n
		}
	case KeyExpectedUsers:
		if s, ok := asStrings(v); ok {
			ri.ExpectedUsers = s
		} else if v == nil {
			ri.ExpectedUsers = nil
		}
	case KeyPlayerTTL:
		if n, ok := asInt32(v); ok {
			ri.PlayerTTL = n
		}
	case KeyEmptyRoomTTL:
		if n, ok := asInt32(v); ok {
			ri.EmptyRoomTTL = n
		}
	case KeyPropsListedInLobby:
		if s, ok := asStrings(v); ok {
			ri.PropsListedInLobby = s
		}
	default:
		return false
	}
	return !reflect.DeepEqual(before, *ri)
}

// mergeCustom кладёт значение в карту; nil удаляет ключ.
func mergeCustom(dst Properties, key string, v any) bool {
	old, had := dst[key]
	if v == nil {
		if had {
			delete(dst, key)
			return true
		}
		return false
	}
	if had && reflect.DeepEqual(old, v) {
		return false
	}
	dst[key] = v
	return true
}
