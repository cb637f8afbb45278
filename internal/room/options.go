package room

import "github.com/EgorLis/roomnet/internal/protocol"

// Options — параметры создания комнаты.
type Options struct {
	MaxPlayers          byte
	IsVisible           bool
	IsOpen              bool
	CleanupCacheOnLeave bool
	PlayerTTL           int32 // мс; -1 — бесконечно
	EmptyRoomTTL        int32
	PublishUserID       bool

	CustomProperties   Properties
	PropsListedInLobby []string
}

func DefaultOptions() Options {
	return Options{IsVisible: true, IsOpen: true, CleanupCacheOnLeave: true}
}

// GameProperties — свойства комнаты для операции создания.
func (o Options) GameProperties() protocol.Hashtable {
	h := protocol.Hashtable{
		KeyIsOpen:              o.IsOpen,
		KeyIsVisible:           o.IsVisible,
		KeyCleanupCacheOnLeave: o.CleanupCacheOnLeave,
	}
	if o.MaxPlayers > 0 {
		h[KeyMaxPlayers] = o.MaxPlayers
	}
	if len(o.PropsListedInLobby) > 0 {
		h[KeyPropsListedInLobby] = o.PropsListedInLobby
	}
	for k, v := range o.CustomProperties {
		h[k] = v
	}
	return h
}
