package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sync"

	"google.golang.org/protobuf/proto"
)

// Коды встроенных пользовательских типов.
const (
	CodeVector2    byte = 'W'
	CodeVector3    byte = 'V'
	CodeQuaternion byte = 'Q'
)

type Vector2 struct{ X, Y float32 }

type Vector3 struct{ X, Y, Z float32 }

type Quaternion struct{ W, X, Y, Z float32 }

// CustomType описывает тип, который передаётся как 'c' + код + байты.
type CustomType struct {
	Code      byte
	Type      reflect.Type
	Marshal   func(v any) ([]byte, error)
	Unmarshal func(b []byte) (any, error)
}

// Registry хранит пользовательские типы. Обычно заполняется при старте,
// но допускает регистрацию и во время работы.
type Registry struct {
	mu     sync.RWMutex
	byCode map[byte]*CustomType
	byType map[reflect.Type]*CustomType
}

// NewRegistry создаёт реестр со встроенными типами Vector2/Vector3/Quaternion.
func NewRegistry() *Registry {
	r := &Registry{
		byCode: make(map[byte]*CustomType),
		byType: make(map[reflect.Type]*CustomType),
	}
	_ = r.Register(CodeVector2, Vector2{}, marshalFloats(2), unmarshalVector2)
	_ = r.Register(CodeVector3, Vector3{}, marshalFloats(3), unmarshalVector3)
	_ = r.Register(CodeQuaternion, Quaternion{}, marshalFloats(4), unmarshalQuaternion)
	return r
}

// Register добавляет тип sample под кодом code.
func (r *Registry) Register(code byte, sample any, marshal func(any) ([]byte, error), unmarshal func([]byte) (any, error)) error {
	if sample == nil || marshal == nil || unmarshal == nil {
		return fmt.Errorf("register custom type %q: %w", code, ErrUnsupportedType)
	}
	t := reflect.TypeOf(sample)

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byCode[code]; ok && prev.Type != t {
		return fmt.Errorf("custom type code %q already used by %v", code, prev.Type)
	}
	ct := &CustomType{Code: code, Type: t, Marshal: marshal, Unmarshal: unmarshal}
	r.byCode[code] = ct
	r.byType[t] = ct
	return nil
}

// RegisterProto регистрирует protobuf-сообщение как пользовательский тип.
// Декодирование возвращает новый экземпляр того же типа, что и msg.
func (r *Registry) RegisterProto(code byte, msg proto.Message) error {
	if msg == nil {
		return fmt.Errorf("register proto %q: %w", code, ErrUnsupportedType)
	}
	return r.Register(code, msg,
		func(v any) ([]byte, error) {
			m, ok := v.(proto.Message)
			if !ok {
				return nil, fmt.Errorf("%T is not a proto.Message: %w", v, ErrUnsupportedType)
			}
			return proto.Marshal(m)
		},
		func(b []byte) (any, error) {
			m := msg.ProtoReflect().New().Interface()
			if err := proto.Unmarshal(b, m); err != nil {
				return nil, err
			}
			return m, nil
		})
}

func (r *Registry) byGoType(t reflect.Type) (*CustomType, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ct, ok := r.byType[t]
	return ct, ok
}

func (r *Registry) byWireCode(code byte) (*CustomType, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ct, ok := r.byCode[code]
	return ct, ok
}

// ========================= встроенные типы =========================

// Встроенные типы — несколько float32 подряд, big-endian.
func marshalFloats(n int) func(any) ([]byte, error) {
	return func(v any) ([]byte, error) {
		var fs []float32
		switch t := v.(type) {
		case Vector2:
			fs = []float32{t.X, t.Y}
		case Vector3:
			fs = []float32{t.X, t.Y, t.Z}
		case Quaternion:
			fs = []float32{t.W, t.X, t.Y, t.Z}
		default:
			return nil, fmt.Errorf("%T: %w", v, ErrUnsupportedType)
		}
		out := make([]byte, 4*n)
		for i, f := range fs {
			binary.BigEndian.PutUint32(out[i*4:], math.Float32bits(f))
		}
		return out, nil
	}
}

func readFloats(b []byte, n int) ([]float32, error) {
	if len(b) != 4*n {
		return nil, fmt.Errorf("custom type: want %d bytes, got %d: %w", 4*n, len(b), ErrProtocol)
	}
	fs := make([]float32, n)
	for i := range fs {
		fs[i] = math.Float32frombits(binary.BigEndian.Uint32(b[i*4:]))
	}
	return fs, nil
}

func unmarshalVector2(b []byte) (any, error) {
	fs, err := readFloats(b, 2)
	if err != nil {
		return nil, err
	}
	return Vector2{fs[0], fs[1]}, nil
}

func unmarshalVector3(b []byte) (any, error) {
	fs, err := readFloats(b, 3)
	if err != nil {
		return nil, err
	}
	return Vector3{fs[0], fs[1], fs[2]}, nil
}

func unmarshalQuaternion(b []byte) (any, error) {
	fs, err := readFloats(b, 4)
	if err != nil {
		return nil, err
	}
	return Quaternion{fs[0], fs[1], fs[2], fs[3]}, nil
}
