package room

// Ключи свойств комнаты, которые сервер понимает сам (байтовые).
const (
	KeyMaxPlayers          byte = 255
	KeyIsVisible           byte = 254
	KeyIsOpen              byte = 253
	KeyPlayerCount         byte = 252
	KeyRemoved             byte = 251
	KeyPropsListedInLobby  byte = 250
	KeyCleanupCacheOnLeave byte = 249
	KeyMasterClientID      byte = 248
	KeyExpectedUsers       byte = 247
	KeyPlayerTTL           byte = 246
	KeyEmptyRoomTTL        byte = 245
)

// Ключи свойств игрока.
const (
	ActorKeyPlayerName byte = 255
	ActorKeyIsInactive byte = 254
	ActorKeyUserID     byte = 253
)

// Properties — пользовательские свойства со строковыми ключами.
type Properties map[string]any

func (p Properties) clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// asInt32 принимает любые целые, которые может вернуть декодер.
func asInt32(v any) (int32, bool) {
	switch n := v.(type) {
	case byte:
		return int32(n), true
	case int16:
		return int32(n), true
	case int32:
		return n, true
	case int64:
		return int32(n), true
	case int:
		return int32(n), true
	}
	return 0, false
}

func asStrings(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			str, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}
