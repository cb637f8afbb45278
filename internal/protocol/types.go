package protocol

import (
	"fmt"
	"sort"
)

// Теги типов на проводе (один байт перед каждым значением).
const (
	TypeUnknown           byte = 0x00 // то же, что null; встречается в «смешанных» контейнерах
	TypeNull              byte = 0x2A // '*'
	TypeDictionary        byte = 0x44 // 'D'
	TypeStringArray       byte = 0x61 // 'a'
	TypeByte              byte = 0x62 // 'b'
	TypeCustom            byte = 0x63 // 'c'
	TypeDouble            byte = 0x64 // 'd'
	TypeEventData         byte = 0x65 // 'e'
	TypeFloat             byte = 0x66 // 'f'
	TypeHashtable         byte = 0x68 // 'h'
	TypeInteger           byte = 0x69 // 'i'
	TypeShort             byte = 0x6B // 'k'
	TypeLong              byte = 0x6C // 'l'
	TypeIntArray          byte = 0x6E // 'n'
	TypeBoolean           byte = 0x6F // 'o'
	TypeOperationResponse byte = 0x70 // 'p'
	TypeOperationRequest  byte = 0x71 // 'q'
	TypeString            byte = 0x73 // 's'
	TypeByteArray         byte = 0x78 // 'x'
	TypeArray             byte = 0x79 // 'y'
	TypeObjectArray       byte = 0x7A // 'z'
)

// MaxStringLength — предел длины строки в байтах UTF-8 (int16 префикс).
const MaxStringLength = 32767

// Hashtable — смешанная таблица: у каждого ключа и значения свой тег.
type Hashtable map[any]any

// ParameterMap — параметры операции/события: байтовый ключ → значение.
type ParameterMap map[byte]any

// Get возвращает параметр, приведённый к T, и признак успеха.
func Get[T any](p ParameterMap, key byte) (T, bool) {
	v, ok := p[key].(T)
	return v, ok
}

func (p ParameterMap) sortedKeys() []byte {
	keys := make([]byte, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// OperationRequest — запрос клиента: код операции и параметры.
type OperationRequest struct {
	Code       byte
	Parameters ParameterMap
}

// OperationResponse — ответ сервера. ReturnCode 0 означает успех.
type OperationResponse struct {
	Code         byte
	ReturnCode   int16
	DebugMessage string
	Parameters   ParameterMap
}

func (r *OperationResponse) String() string {
	return fmt.Sprintf("OperationResponse %d: ReturnCode: %d (%s)", r.Code, r.ReturnCode, r.DebugMessage)
}

// Get — сокращение для Parameters[key].
func (r *OperationResponse) Get(key byte) any {
	return r.Parameters[key]
}

// EventData — событие от сервера или другого игрока.
// Sender не кодируется: его выставляет диспетчер при приёме.
type EventData struct {
	Code       byte
	Sender     int32
	Parameters ParameterMap
}

func (e *EventData) String() string {
	return fmt.Sprintf("Event %d from %d", e.Code, e.Sender)
}

// Get — сокращение для Parameters[key].
func (e *EventData) Get(key byte) any {
	return e.Parameters[key]
}
