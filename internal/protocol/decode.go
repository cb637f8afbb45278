package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
)

// Decoder читает значения из data. Как и Encoder, владеет своим scratch.
type Decoder struct {
	data    []byte
	pos     int
	reg     *Registry
	scratch [8]byte
}

func NewDecoder(data []byte, reg *Registry) *Decoder {
	return &Decoder{data: data, reg: reg}
}

// Remaining — сколько байт ещё не прочитано.
func (d *Decoder) Remaining() int { return len(d.data) - d.pos }

// DecodeValue читает тег и значение.
func (d *Decoder) DecodeValue() (any, error) {
	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}
	return d.Decode(tag)
}

// Decode читает значение, тег которого уже известен.
func (d *Decoder) Decode(tag byte) (any, error) {
	switch tag {
	case TypeNull, TypeUnknown:
		return nil, nil
	case TypeByte:
		return d.readByte()
	case TypeBoolean:
		b, err := d.readByte()
		return b != 0, err
	case TypeShort:
		return d.readInt16()
	case TypeInteger:
		return d.readInt32()
	case TypeLong:
		b, err := d.readFixed(8)
		if err != nil {
			return nil, err
		}
		return int64(binary.NativeEndian.Uint64(b)), nil
	case TypeFloat:
		b, err := d.readFixed(4)
		if err != nil {
			return nil, err
		}
		return math.Float32frombits(binary.NativeEndian.Uint32(b)), nil
	case TypeDouble:
		b, err := d.readFixed(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.NativeEndian.Uint64(b)), nil
	case TypeString:
		return d.readString()
	case TypeByteArray:
		n, err := d.readCount32(1)
		if err != nil {
			return nil, err
		}
		out := make([]byte, n)
		copy(out, d.data[d.pos:d.pos+n])
		d.pos += n
		return out, nil
	case TypeIntArray:
		n, err := d.readCount32(4)
		if err != nil {
			return nil, err
		}
		out := make([]int32, n)
		for i := range out {
			if out[i], err = d.readInt32(); err != nil {
				return nil, err
			}
		}
		return out, nil
	case TypeStringArray:
		n, err := d.readCount16(2)
		if err != nil {
			return nil, err
		}
		out := make([]string, n)
		for i := range out {
			if out[i], err = d.readString(); err != nil {
				return nil, err
			}
		}
		return out, nil
	case TypeObjectArray:
		n, err := d.readCount16(1)
		if err != nil {
			return nil, err
		}
		out := make([]any, n)
		for i := range out {
			if out[i], err = d.DecodeValue(); err != nil {
				return nil, err
			}
		}
		return out, nil
	case TypeHashtable:
		return d.readHashtable()
	case TypeDictionary:
		return d.readDictionary()
	case TypeArray:
		return d.readArray()
	case TypeCustom:
		code, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return d.readCustom(code)
	case TypeOperationRequest:
		code, err := d.readByte()
		if err != nil {
			return nil, err
		}
		params, err := d.readParameters()
		if err != nil {
			return nil, err
		}
		return &OperationRequest{Code: code, Parameters: params}, nil
	case TypeOperationResponse:
		return d.readOperationResponse()
	case TypeEventData:
		code, err := d.readByte()
		if err != nil {
			return nil, err
		}
		params, err := d.readParameters()
		if err != nil {
			return nil, err
		}
		return &EventData{Code: code, Parameters: params}, nil
	}
	return nil, fmt.Errorf("unknown type tag %#x at %d: %w", tag, d.pos-1, ErrProtocol)
}

// ========================= low-level =========================

func (d *Decoder) need(n int) error {
	if n < 0 || d.Remaining() < n {
		return fmt.Errorf("need %d bytes at %d, have %d: %w", n, d.pos, d.Remaining(), ErrProtocol)
	}
	return nil
}

func (d *Decoder) readByte() (byte, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *Decoder) readFixed(n int) ([]byte, error) {
	if err := d.need(n); err != nil {
		return nil, err
	}
	b := fromWire(d.scratch[:n], d.data[d.pos:d.pos+n])
	d.pos += n
	return b, nil
}

func (d *Decoder) readUint16() (uint16, error) {
	b, err := d.readFixed(2)
	if err != nil {
		return 0, err
	}
	return binary.NativeEndian.Uint16(b), nil
}

func (d *Decoder) readInt16() (int16, error) {
	v, err := d.readUint16()
	return int16(v), err
}

func (d *Decoder) readInt32() (int32, error) {
	b, err := d.readFixed(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.NativeEndian.Uint32(b)), nil
}

// readCount16 читает int16 длину; minSize — минимальный размер элемента,
// чтобы не выделять память под заведомо невозможную длину.
func (d *Decoder) readCount16(minSize int) (int, error) {
	n, err := d.readInt16()
	if err != nil {
		return 0, err
	}
	return d.checkCount(int(n), minSize)
}

func (d *Decoder) readCount32(minSize int) (int, error) {
	n, err := d.readInt32()
	if err != nil {
		return 0, err
	}
	return d.checkCount(int(n), minSize)
}

func (d *Decoder) checkCount(n, minSize int) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("negative length %d: %w", n, ErrProtocol)
	}
	if err := d.need(n * minSize); err != nil {
		return 0, err
	}
	return n, nil
}

func (d *Decoder) readString() (string, error) {
	n, err := d.readCount16(1)
	if err != nil {
		return "", err
	}
	s := string(d.data[d.pos : d.pos+n])
	d.pos += n
	return s, nil
}

func (d *Decoder) readCustom(code byte) (any, error) {
	ct, ok := d.reg.byWireCode(code)
	if !ok {
		return nil, fmt.Errorf("unknown custom type %q: %w", code, ErrProtocol)
	}
	return d.readCustomData(ct)
}

func (d *Decoder) readCustomData(ct *CustomType) (any, error) {
	n, err := d.readCount16(1)
	if err != nil {
		return nil, err
	}
	data := d.data[d.pos : d.pos+n]
	d.pos += n
	v, err := ct.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("custom type %q: %w", ct.Code, err)
	}
	return v, nil
}

// ========================= containers =========================

// goTypeForTag — Go-тип для статически типизированного контейнера.
// false означает, что тип зависит от содержимого (вложенные массивы и т.п.).
func (d *Decoder) goTypeForTag(tag byte) (reflect.Type, bool) {
	switch tag {
	case TypeUnknown, TypeNull:
		return anyType, true
	case TypeByte:
		return byteType, true
	case TypeBoolean:
		return boolType, true
	case TypeShort:
		return int16Type, true
	case TypeInteger:
		return int32Type, true
	case TypeLong:
		return int64Type, true
	case TypeFloat:
		return float32Type, true
	case TypeDouble:
		return float64Type, true
	case TypeString:
		return stringType, true
	case TypeByteArray:
		return bytesType, true
	case TypeIntArray:
		return int32sType, true
	case TypeStringArray:
		return stringsType, true
	case TypeObjectArray:
		return objectsType, true
	case TypeHashtable:
		return hashtableType, true
	case TypeOperationRequest:
		return requestType, true
	case TypeOperationResponse:
		return responseType, true
	case TypeEventData:
		return eventType, true
	}
	return nil, false
}

func (d *Decoder) readArray() (any, error) {
	n, err := d.readCount16(0)
	if err != nil {
		return nil, err
	}
	elemTag, err := d.readByte()
	if err != nil {
		return nil, err
	}

	switch elemTag {
	case TypeDictionary:
		return nil, fmt.Errorf("array of dictionaries: %w", ErrUnsupportedType)
	case TypeUnknown, TypeNull:
		return nil, fmt.Errorf("array without element type: %w", ErrProtocol)
	case TypeCustom:
		code, err := d.readByte()
		if err != nil {
			return nil, err
		}
		ct, ok := d.reg.byWireCode(code)
		if !ok {
			return nil, fmt.Errorf("unknown custom type %q: %w", code, ErrProtocol)
		}
		out := reflect.MakeSlice(reflect.SliceOf(ct.Type), n, n)
		for i := 0; i < n; i++ {
			v, err := d.readCustomData(ct)
			if err != nil {
				return nil, err
			}
			out.Index(i).Set(reflect.ValueOf(v))
		}
		return out.Interface(), nil
	}

	if t, ok := d.goTypeForTag(elemTag); ok {
		out := reflect.MakeSlice(reflect.SliceOf(t), n, n)
		for i := 0; i < n; i++ {
			v, err := d.Decode(elemTag)
			if err != nil {
				return nil, err
			}
			if v != nil {
				out.Index(i).Set(reflect.ValueOf(v))
			}
		}
		return out.Interface(), nil
	}

	if elemTag != TypeArray {
		return nil, fmt.Errorf("unknown array element tag %#x: %w", elemTag, ErrProtocol)
	}
	// вложенные массивы: тип элемента на проводе только у внутренних
	items := make([]reflect.Value, n)
	for i := range items {
		v, err := d.readArray()
		if err != nil {
			return nil, err
		}
		items[i] = reflect.ValueOf(v)
	}
	return sliceOf(items), nil
}

// sliceOf — тип внешнего среза по элементам; пустой — []any.
func sliceOf(items []reflect.Value) any {
	if len(items) == 0 {
		return []any{}
	}
	out := reflect.MakeSlice(reflect.SliceOf(items[0].Type()), len(items), len(items))
	for i, v := range items {
		if v.Type() != items[0].Type() {
			generic := make([]any, len(items))
			for j, w := range items {
				generic[j] = w.Interface()
			}
			return generic
		}
		out.Index(i).Set(v)
	}
	return out.Interface()
}

func (d *Decoder) readHashtable() (Hashtable, error) {
	n, err := d.readCount16(2)
	if err != nil {
		return nil, err
	}
	h := make(Hashtable, n)
	for i := 0; i < n; i++ {
		k, err := d.DecodeValue()
		if err != nil {
			return nil, err
		}
		if err := checkKey(k); err != nil {
			return nil, err
		}
		v, err := d.DecodeValue()
		if err != nil {
			return nil, err
		}
		h[k] = v
	}
	return h, nil
}

func checkKey(k any) error {
	if k == nil || !reflect.TypeOf(k).Comparable() {
		return fmt.Errorf("invalid map key %T: %w", k, ErrProtocol)
	}
	return nil
}

func (d *Decoder) readEntry(tag byte) (any, error) {
	if tag == TypeUnknown || tag == TypeNull {
		return d.DecodeValue()
	}
	return d.Decode(tag)
}

func (d *Decoder) readDictionary() (any, error) {
	keyTag, err := d.readByte()
	if err != nil {
		return nil, err
	}
	valTag, err := d.readByte()
	if err != nil {
		return nil, err
	}
	n, err := d.readCount16(0)
	if err != nil {
		return nil, err
	}

	keyType, ok := d.goTypeForTag(keyTag)
	if !ok || keyTag == TypeHashtable || !keyType.Comparable() {
		return nil, fmt.Errorf("dictionary key tag %#x: %w", keyTag, ErrProtocol)
	}

	keys := make([]reflect.Value, n)
	vals := make([]reflect.Value, n)
	for i := 0; i < n; i++ {
		k, err := d.readEntry(keyTag)
		if err != nil {
			return nil, err
		}
		if err := checkKey(k); err != nil {
			return nil, err
		}
		v, err := d.readEntry(valTag)
		if err != nil {
			return nil, err
		}
		keys[i] = reflect.ValueOf(k)
		vals[i] = reflect.ValueOf(v)
	}

	valType, ok := d.goTypeForTag(valTag)
	if !ok {
		// словари, массивы и пользовательские типы: по первому значению
		valType = anyType
		if n > 0 {
			valType = vals[0].Type()
			for _, v := range vals {
				if v.Type() != valType {
					valType = anyType
					break
				}
			}
		}
	}

	out := reflect.MakeMapWithSize(reflect.MapOf(keyType, valType), n)
	for i := range keys {
		v := vals[i]
		if !v.IsValid() {
			v = reflect.Zero(valType)
		}
		out.SetMapIndex(keys[i], v)
	}
	return out.Interface(), nil
}

func (d *Decoder) readParameters() (ParameterMap, error) {
	n, err := d.readUint16()
	if err != nil {
		return nil, err
	}
	if err := d.need(int(n) * 2); err != nil {
		return nil, err
	}
	p := make(ParameterMap, n)
	for i := 0; i < int(n); i++ {
		k, err := d.readByte()
		if err != nil {
			return nil, err
		}
		v, err := d.DecodeValue()
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", k, err)
		}
		p[k] = v
	}
	return p, nil
}

func (d *Decoder) readOperationResponse() (*OperationResponse, error) {
	code, err := d.readByte()
	if err != nil {
		return nil, err
	}
	rc, err := d.readInt16()
	if err != nil {
		return nil, err
	}
	msg, err := d.DecodeValue()
	if err != nil {
		return nil, err
	}
	params, err := d.readParameters()
	if err != nil {
		return nil, err
	}
	resp := &OperationResponse{Code: code, ReturnCode: rc, Parameters: params}
	if s, ok := msg.(string); ok {
		resp.DebugMessage = s
	}
	return resp, nil
}
