// Package room — кэш состояния комнаты: свойства, ростер игроков и выбор
// мастер-клиента. Пакет не потокобезопасен: им пользуется только горутина
// диспетчеризации клиента.
package room

import (
	"sort"

	"go.uber.org/zap"

	"github.com/EgorLis/roomnet/internal/protocol"
)

// Operations отправляет изменения свойств на сервер.
// Nil означает комнату без сервера: изменения применяются сразу.
type Operations interface {
	SetRoomProperties(props, expected protocol.Hashtable) bool
	SetActorProperties(actor int32, props, expected protocol.Hashtable) bool
}

type Room struct {
	RoomInfo

	players        map[int32]*Player
	masterExplicit bool // мастер назначен явно и ещё в комнате

	ops Operations
	log *zap.Logger

	// MasterChanged вызывается, только когда мастер действительно сменился.
	MasterChanged func(prev, next *Player)
}

func New(name string, props protocol.Hashtable, ops Operations, log *zap.Logger) *Room {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Room{
		RoomInfo: RoomInfo{name: name, IsOpen: true, IsVisible: true, custom: Properties{}},
		players:  map[int32]*Player{},
		ops:      ops,
		log:      log.Named("room"),
	}
	r.CacheProperties(props)
	return r
}

// Offline — комната без сервера.
func (r *Room) Offline() bool { return r.ops == nil }

func (r *Room) MasterClientID() int32 { return r.RoomInfo.MasterClientID }

func (r *Room) MasterClient() *Player { return r.players[r.RoomInfo.MasterClientID] }

func (r *Room) Player(actor int32) *Player { return r.players[actor] }

func (r *Room) PlayerCount() int { return len(r.players) }

// Players — игроки по возрастанию номера.
func (r *Room) Players() []*Player {
	out := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].actor < out[j].actor })
	return out
}

// CacheProperties применяет свойства комнаты; смена мастера через свойство
// считается явным назначением.
func (r *Room) CacheProperties(props protocol.Hashtable) bool {
	prev := r.RoomInfo.MasterClientID
	changed := r.RoomInfo.CacheProperties(props)
	if v, ok := props[KeyMasterClientID]; ok {
		if id, ok := asInt32(v); ok && id != 0 {
			r.RoomInfo.MasterClientID = prev
			r.assignMaster(id, true, nil)
		}
	}
	return changed
}

// StorePlayer добавляет игрока или обновляет существующего и
// пересчитывает мастера.
func (r *Room) StorePlayer(p *Player) *Player {
	if existing, ok := r.players[p.actor]; ok {
		known := protocol.Hashtable{}
		if p.nickName != "" {
			known[ActorKeyPlayerName] = p.nickName
		}
		if p.userID != "" {
			known[ActorKeyUserID] = p.userID
		}
		existing.CacheProperties(known)
		existing.inactive = p.inactive
		for k, v := range p.custom {
			existing.custom[k] = v
		}
		p = existing
	} else {
		p.room = r
		r.players[p.actor] = p
	}
	r.updateMaster(nil)
	return p
}

// RemovePlayer убирает игрока навсегда.
func (r *Room) RemovePlayer(actor int32) *Player {
	p, ok := r.players[actor]
	if !ok {
		return nil
	}
	delete(r.players, actor)
	p.room = nil
	r.updateMaster(p)
	return p
}

// MarkInactive — мягкое отключение: игрок остаётся в ростере, но не
// может быть мастером.
func (r *Room) MarkInactive(actor int32, inactive bool) {
	if p, ok := r.players[actor]; ok {
		p.inactive = inactive
		r.updateMaster(nil)
	}
}

// updateMaster: явно назначенный мастер держится, пока он активен;
// иначе мастер — наименьший номер среди активных игроков.
// gone — только что удалённый игрок, чтобы передать его в MasterChanged.
func (r *Room) updateMaster(gone *Player) {
	cur := r.RoomInfo.MasterClientID
	if r.masterExplicit {
		if p, ok := r.players[cur]; ok && !p.inactive {
			return
		}
		r.masterExplicit = false
	}
	r.assignMaster(r.lowestActive(), false, gone)
}

func (r *Room) lowestActive() int32 {
	var best int32
	for id, p := range r.players {
		if p.inactive {
			continue
		}
		if best == 0 || id < best {
			best = id
		}
	}
	return best
}

func (r *Room) assignMaster(id int32, explicit bool, gone *Player) {
	prev := r.RoomInfo.MasterClientID
	r.masterExplicit = explicit
	if id == prev {
		return
	}
	r.RoomInfo.MasterClientID = id
	r.log.Debug("master client switched", zap.Int32("from", prev), zap.Int32("to", id))
	if r.MasterChanged != nil {
		old := r.players[prev]
		if old == nil && gone != nil && gone.actor == prev {
			old = gone
		}
		r.MasterChanged(old, r.players[id])
	}
}

// SetMasterClient просит сервер назначить мастера. CAS по текущему мастеру.
func (r *Room) SetMasterClient(p *Player) bool {
	if p == nil || r.players[p.actor] != p {
		r.log.Warn("SetMasterClient: player is not in this room")
		return false
	}
	return r.setProperties(
		protocol.Hashtable{KeyMasterClientID: p.actor},
		protocol.Hashtable{KeyMasterClientID: r.RoomInfo.MasterClientID},
	)
}

// SetCustomProperties меняет свойства комнаты; expected — для CAS.
func (r *Room) SetCustomProperties(set Properties, expected Properties) bool {
	if len(set) == 0 {
		r.log.Warn("SetCustomProperties: empty property set", zap.String("room", r.name))
		return false
	}
	props := make(protocol.Hashtable, len(set))
	for k, v := range set {
		props[k] = v
	}
	return r.setProperties(props, toHashtable(expected))
}

func (r *Room) SetIsOpen(v bool) bool {
	return r.setProperties(protocol.Hashtable{KeyIsOpen: v}, nil)
}

func (r *Room) SetIsVisible(v bool) bool {
	return r.setProperties(protocol.Hashtable{KeyIsVisible: v}, nil)
}

func (r *Room) SetMaxPlayers(n int) bool {
	if n < 0 || n > 255 {
		r.log.Warn("SetMaxPlayers: out of range", zap.Int("max", n))
		return false
	}
	return r.setProperties(protocol.Hashtable{KeyMaxPlayers: byte(n)}, nil)
}

// SetPropsListedInLobby задаёт, какие свойства видны в лобби.
func (r *Room) SetPropsListedInLobby(keys []string) bool {
	return r.setProperties(protocol.Hashtable{KeyPropsListedInLobby: keys}, nil)
}

func (r *Room) setProperties(props, expected protocol.Hashtable) bool {
	if r.ops == nil {
		r.CacheProperties(props)
		return true
	}
	return r.ops.SetRoomProperties(props, expected)
}
