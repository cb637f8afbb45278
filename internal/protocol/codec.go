// Package protocol реализует бинарный формат обмена с серверами: каждое
// значение предваряется однобайтовым тегом типа, целые числа — big-endian,
// строки и контейнеры несут префикс длины.
//
// Поддерживаемые Go-типы: nil, byte, bool, int16, int32 (и int в пределах
// int32), int64, float32, float64, string, []byte, []int32, []string, []any,
// Hashtable, любой срез поддерживаемого типа (типизированный массив), любой
// map (типизированный словарь; any-ключ или any-значение — тег у каждой
// записи), *OperationRequest, *OperationResponse, *EventData и типы из
// Registry (Vector2, Vector3, Quaternion, protobuf-сообщения).
//
// Вложенные массивы несут тег элемента только во внутренних массивах,
// поэтому пустой массив массивов (например [][]int16{}) декодируется как
// []any{}. Непустой сохраняет тип, если все внутренние массивы одного типа.
//
// Пример:
//
//	c := protocol.NewCodec(nil)
//	b, _ := c.Marshal(protocol.Hashtable{"hp": int32(100)})
//	v, _ := c.Unmarshal(b)
package protocol

import "bytes"

// Codec — кодек без собственного состояния, кроме реестра типов.
// Буферы выделяются на каждый вызов, поэтому Codec безопасен для
// одновременного использования.
type Codec struct {
	reg *Registry
}

// NewCodec создаёт кодек; reg == nil — реестр со встроенными типами.
func NewCodec(reg *Registry) *Codec {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Codec{reg: reg}
}

func (c *Codec) Registry() *Registry { return c.reg }

// Marshal кодирует v вместе с тегом.
func (c *Codec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf, c.reg).Encode(v, true); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalTo дописывает закодированное значение в buf.
func (c *Codec) MarshalTo(buf *bytes.Buffer, v any) error {
	return NewEncoder(buf, c.reg).Encode(v, true)
}

// Unmarshal декодирует одно значение с тегом.
func (c *Codec) Unmarshal(data []byte) (any, error) {
	return NewDecoder(data, c.reg).DecodeValue()
}
