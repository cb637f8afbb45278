package room

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/EgorLis/roomnet/internal/protocol"
)

// Player — участник комнаты. Комнатой владеет ростер, у игрока только
// обратная ссылка.
type Player struct {
	actor    int32
	isLocal  bool
	nickName string
	userID   string
	inactive bool
	custom   Properties

	room *Room
}

func NewPlayer(actor int32, isLocal bool, props protocol.Hashtable) *Player {
	p := &Player{actor: actor, isLocal: isLocal, custom: Properties{}}
	p.CacheProperties(props)
	return p
}

func (p *Player) ActorNumber() int32 { return p.actor }
func (p *Player) IsLocal() bool      { return p.isLocal }
func (p *Player) NickName() string   { return p.nickName }
func (p *Player) UserID() string     { return p.userID }
func (p *Player) IsInactive() bool   { return p.inactive }
func (p *Player) Room() *Room        { return p.room }

func (p *Player) CustomProperties() Properties { return p.custom.clone() }

func (p *Player) IsMasterClient() bool {
	return p.room != nil && p.room.MasterClientID() == p.actor
}

func (p *Player) String() string {
	return fmt.Sprintf("#%02d '%s'", p.actor, p.nickName)
}

// CacheProperties — единый путь применения свойств игрока (и для эха
// локальной установки, и для событий сервера).
func (p *Player) CacheProperties(props protocol.Hashtable) bool {
	if len(props) == 0 {
		return false
	}
	changed := false
	for k, v := range props {
		switch key := k.(type) {
		case byte:
			switch key {
			case ActorKeyPlayerName:
				if s, ok := v.(string); ok && s != p.nickName {
					p.nickName, changed = s, true
				}
			case ActorKeyUserID:
				if s, ok := v.(string); ok && s != p.userID {
					p.userID, changed = s, true
				}
			case ActorKeyIsInactive:
				if b, ok := v.(bool); ok && b != p.inactive {
					p.inactive, changed = b, true
				}
			}
		case string:
			if mergeCustom(p.custom, key, v) {
				changed = true
			}
		}
	}
	return changed
}

// SetInactive помечает мягко отключившегося игрока.
func (p *Player) SetInactive(v bool) { p.inactive = v }

// SetCustomProperties меняет свойства игрока. В комнате с сервером
// изменение уходит операцией и применяется, когда сервер его разошлёт;
// без сервера применяется сразу. expected — значения для сравнения-и-замены.
func (p *Player) SetCustomProperties(set Properties, expected Properties) bool {
	if len(set) == 0 {
		p.logger().Warn("SetCustomProperties: empty property set", zap.Int32("actor", p.actor))
		return false
	}
	props := make(protocol.Hashtable, len(set))
	for k, v := range set {
		props[k] = v
	}
	return p.setProperties(props, toHashtable(expected))
}

// SetNickName меняет имя; локальному игроку вне комнаты — сразу.
func (p *Player) SetNickName(name string) bool {
	if name == p.nickName {
		return true
	}
	if p.room == nil {
		p.nickName = name
		return true
	}
	return p.setProperties(protocol.Hashtable{ActorKeyPlayerName: name}, nil)
}

func (p *Player) setProperties(props, expected protocol.Hashtable) bool {
	if p.room == nil || p.room.ops == nil {
		p.CacheProperties(props)
		return true
	}
	return p.room.ops.SetActorProperties(p.actor, props, expected)
}

func (p *Player) logger() *zap.Logger {
	if p.room != nil {
		return p.room.log
	}
	return zap.NewNop()
}

func toHashtable(p Properties) protocol.Hashtable {
	if len(p) == 0 {
		return nil
	}
	out := make(protocol.Hashtable, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
