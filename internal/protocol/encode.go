package protocol

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"sort"
)

var (
	anyType       = reflect.TypeOf((*any)(nil)).Elem()
	byteType      = reflect.TypeOf(byte(0))
	boolType      = reflect.TypeOf(false)
	int16Type     = reflect.TypeOf(int16(0))
	int32Type     = reflect.TypeOf(int32(0))
	intType       = reflect.TypeOf(0)
	int64Type     = reflect.TypeOf(int64(0))
	float32Type   = reflect.TypeOf(float32(0))
	float64Type   = reflect.TypeOf(float64(0))
	stringType    = reflect.TypeOf("")
	bytesType     = reflect.TypeOf([]byte(nil))
	int32sType    = reflect.TypeOf([]int32(nil))
	stringsType   = reflect.TypeOf([]string(nil))
	objectsType   = reflect.TypeOf([]any(nil))
	hashtableType = reflect.TypeOf(Hashtable(nil))
	requestType   = reflect.TypeOf((*OperationRequest)(nil))
	responseType  = reflect.TypeOf((*OperationResponse)(nil))
	eventType     = reflect.TypeOf((*EventData)(nil))
)

// Encoder пишет значения в buf. Scratch-буфер принадлежит экземпляру,
// поэтому один Encoder нельзя использовать из нескольких горутин,
// а разные — можно без блокировок.
type Encoder struct {
	buf     *bytes.Buffer
	reg     *Registry
	scratch [8]byte
}

func NewEncoder(buf *bytes.Buffer, reg *Registry) *Encoder {
	return &Encoder{buf: buf, reg: reg}
}

// Encode пишет v; withTag=false используется только внутри уже
// типизированных контейнеров.
func (e *Encoder) Encode(v any, withTag bool) error {
	tag, err := e.tagOf(v)
	if err != nil {
		return err
	}
	if withTag {
		e.buf.WriteByte(tag)
	} else if tag == TypeNull {
		return fmt.Errorf("untagged null: %w", ErrUnsupportedType)
	}
	return e.writeBody(tag, v)
}

// EncodeOperationRequest, EncodeOperationResponse, EncodeEventData — с тегом.
func (e *Encoder) EncodeOperationRequest(r *OperationRequest) error { return e.Encode(r, true) }

func (e *Encoder) EncodeOperationResponse(r *OperationResponse) error { return e.Encode(r, true) }

func (e *Encoder) EncodeEventData(ev *EventData) error { return e.Encode(ev, true) }

func (e *Encoder) tagOf(v any) (byte, error) {
	switch t := v.(type) {
	case nil:
		return TypeNull, nil
	case byte:
		return TypeByte, nil
	case bool:
		return TypeBoolean, nil
	case int16:
		return TypeShort, nil
	case int32:
		return TypeInteger, nil
	case int:
		if t < math.MinInt32 || t > math.MaxInt32 {
			return 0, fmt.Errorf("int %d overflows int32: %w", t, ErrUnsupportedType)
		}
		return TypeInteger, nil
	case int64:
		return TypeLong, nil
	case float32:
		return TypeFloat, nil
	case float64:
		return TypeDouble, nil
	case string:
		return TypeString, nil
	case []byte:
		return TypeByteArray, nil
	case []int32:
		return TypeIntArray, nil
	case []string:
		return TypeStringArray, nil
	case []any:
		return TypeObjectArray, nil
	case Hashtable:
		return TypeHashtable, nil
	case *OperationRequest:
		return TypeOperationRequest, nil
	case *OperationResponse:
		return TypeOperationResponse, nil
	case *EventData:
		return TypeEventData, nil
	}
	return e.tagForType(reflect.TypeOf(v))
}

// tagForType — тег для статического типа элемента массива или словаря.
// Для interface-типов возвращает TypeUnknown (каждый элемент со своим тегом).
func (e *Encoder) tagForType(t reflect.Type) (byte, error) {
	if _, ok := e.reg.byGoType(t); ok {
		return TypeCustom, nil
	}
	switch t {
	case byteType:
		return TypeByte, nil
	case boolType:
		return TypeBoolean, nil
	case int16Type:
		return TypeShort, nil
	case int32Type, intType:
		return TypeInteger, nil
	case int64Type:
		return TypeLong, nil
	case float32Type:
		return TypeFloat, nil
	case float64Type:
		return TypeDouble, nil
	case stringType:
		return TypeString, nil
	case bytesType:
		return TypeByteArray, nil
	case int32sType:
		return TypeIntArray, nil
	case stringsType:
		return TypeStringArray, nil
	case objectsType:
		return TypeObjectArray, nil
	case hashtableType:
		return TypeHashtable, nil
	case requestType:
		return TypeOperationRequest, nil
	case responseType:
		return TypeOperationResponse, nil
	case eventType:
		return TypeEventData, nil
	}
	switch t.Kind() {
	case reflect.Interface:
		return TypeUnknown, nil
	case reflect.Slice:
		return TypeArray, nil
	case reflect.Map:
		return TypeDictionary, nil
	}
	return 0, fmt.Errorf("encode %v: %w", t, ErrUnsupportedType)
}

func (e *Encoder) writeBody(tag byte, v any) error {
	switch tag {
	case TypeNull, TypeUnknown:
		return nil
	case TypeByte:
		e.buf.WriteByte(v.(byte))
	case TypeBoolean:
		if v.(bool) {
			e.buf.WriteByte(1)
		} else {
			e.buf.WriteByte(0)
		}
	case TypeShort:
		e.buf.Write(putUint16(e.scratch[:], uint16(v.(int16))))
	case TypeInteger:
		switch n := v.(type) {
		case int32:
			e.writeInt32(n)
		case int:
			e.writeInt32(int32(n))
		}
	case TypeLong:
		e.buf.Write(putUint64(e.scratch[:], uint64(v.(int64))))
	case TypeFloat:
		e.buf.Write(putUint32(e.scratch[:], math.Float32bits(v.(float32))))
	case TypeDouble:
		e.buf.Write(putUint64(e.scratch[:], math.Float64bits(v.(float64))))
	case TypeString:
		return e.writeString(v.(string))
	case TypeByteArray:
		b := v.([]byte)
		e.writeInt32(int32(len(b)))
		e.buf.Write(b)
	case TypeIntArray:
		a := v.([]int32)
		e.writeInt32(int32(len(a)))
		for _, n := range a {
			e.writeInt32(n)
		}
	case TypeStringArray:
		a := v.([]string)
		if err := e.writeLength(len(a)); err != nil {
			return err
		}
		for _, s := range a {
			if err := e.writeString(s); err != nil {
				return err
			}
		}
	case TypeObjectArray:
		a := v.([]any)
		if err := e.writeLength(len(a)); err != nil {
			return err
		}
		for _, item := range a {
			if err := e.Encode(item, true); err != nil {
				return err
			}
		}
	case TypeHashtable:
		return e.writeHashtable(v.(Hashtable))
	case TypeDictionary:
		return e.writeDictionary(reflect.ValueOf(v))
	case TypeArray:
		return e.writeArray(reflect.ValueOf(v))
	case TypeCustom:
		ct, ok := e.reg.byGoType(reflect.TypeOf(v))
		if !ok {
			return fmt.Errorf("encode %T: %w", v, ErrUnsupportedType)
		}
		e.buf.WriteByte(ct.Code)
		return e.writeCustomData(ct, v)
	case TypeOperationRequest:
		r := v.(*OperationRequest)
		e.buf.WriteByte(r.Code)
		return e.writeParameters(r.Parameters)
	case TypeOperationResponse:
		r := v.(*OperationResponse)
		e.buf.WriteByte(r.Code)
		e.buf.Write(putUint16(e.scratch[:], uint16(r.ReturnCode)))
		if r.DebugMessage == "" {
			e.buf.WriteByte(TypeNull)
		} else {
			e.buf.WriteByte(TypeString)
			if err := e.writeString(r.DebugMessage); err != nil {
				return err
			}
		}
		return e.writeParameters(r.Parameters)
	case TypeEventData:
		ev := v.(*EventData)
		e.buf.WriteByte(ev.Code)
		return e.writeParameters(ev.Parameters)
	default:
		return fmt.Errorf("encode tag %#x: %w", tag, ErrUnsupportedType)
	}
	return nil
}

func (e *Encoder) writeInt32(n int32) {
	e.buf.Write(putUint32(e.scratch[:], uint32(n)))
}

func (e *Encoder) writeLength(n int) error {
	if n > math.MaxInt16 {
		return fmt.Errorf("length %d: %w", n, ErrUnsupportedLength)
	}
	e.buf.Write(putUint16(e.scratch[:], uint16(n)))
	return nil
}

func (e *Encoder) writeString(s string) error {
	if len(s) > MaxStringLength {
		return fmt.Errorf("string of %d bytes: %w", len(s), ErrUnsupportedLength)
	}
	e.buf.Write(putUint16(e.scratch[:], uint16(len(s))))
	e.buf.WriteString(s)
	return nil
}

func (e *Encoder) writeCustomData(ct *CustomType, v any) error {
	data, err := ct.Marshal(v)
	if err != nil {
		return fmt.Errorf("custom type %q: %w", ct.Code, err)
	}
	if err := e.writeLength(len(data)); err != nil {
		return err
	}
	e.buf.Write(data)
	return nil
}

// writeArray: int16 длина, тег элемента, элементы без тегов.
func (e *Encoder) writeArray(rv reflect.Value) error {
	elemTag, err := e.tagForType(rv.Type().Elem())
	if err != nil {
		return err
	}
	switch elemTag {
	case TypeDictionary:
		return fmt.Errorf("array of dictionaries %v: %w", rv.Type(), ErrUnsupportedType)
	case TypeUnknown:
		return fmt.Errorf("array of %v: %w", rv.Type().Elem(), ErrUnsupportedType)
	}
	n := rv.Len()
	if err := e.writeLength(n); err != nil {
		return err
	}
	e.buf.WriteByte(elemTag)

	if elemTag == TypeCustom {
		ct, _ := e.reg.byGoType(rv.Type().Elem())
		e.buf.WriteByte(ct.Code)
		for i := 0; i < n; i++ {
			if err := e.writeCustomData(ct, rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	}
	for i := 0; i < n; i++ {
		item := rv.Index(i).Interface()
		if item == nil {
			return fmt.Errorf("nil element in %v: %w", rv.Type(), ErrUnsupportedType)
		}
		if err := e.writeBody(elemTag, item); err != nil {
			return err
		}
	}
	return nil
}

type encodedEntry struct {
	key, value []byte
}

// Записи словарей сортируются по байтам ключа: одинаковое значение
// всегда даёт одинаковые байты.
func writeSorted(buf *bytes.Buffer, entries []encodedEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})
	for _, en := range entries {
		buf.Write(en.key)
		buf.Write(en.value)
	}
}

func (e *Encoder) encodePart(v any, withTag bool, tag byte) ([]byte, error) {
	var b bytes.Buffer
	sub := NewEncoder(&b, e.reg)
	var err error
	if withTag {
		err = sub.Encode(v, true)
	} else {
		if v == nil {
			return nil, fmt.Errorf("untagged null: %w", ErrUnsupportedType)
		}
		err = sub.writeBody(tag, v)
	}
	return b.Bytes(), err
}

func (e *Encoder) writeHashtable(h Hashtable) error {
	if err := e.writeLength(len(h)); err != nil {
		return err
	}
	entries := make([]encodedEntry, 0, len(h))
	for k, v := range h {
		kb, err := e.encodePart(k, true, 0)
		if err != nil {
			return err
		}
		vb, err := e.encodePart(v, true, 0)
		if err != nil {
			return err
		}
		entries = append(entries, encodedEntry{kb, vb})
	}
	writeSorted(e.buf, entries)
	return nil
}

// writeDictionary: тег ключа, тег значения (0 — у каждого свой), int16 count.
func (e *Encoder) writeDictionary(rv reflect.Value) error {
	keyTag, err := e.tagForType(rv.Type().Key())
	if err != nil {
		return err
	}
	valTag, err := e.tagForType(rv.Type().Elem())
	if err != nil {
		return err
	}
	e.buf.WriteByte(keyTag)
	e.buf.WriteByte(valTag)
	if err := e.writeLength(rv.Len()); err != nil {
		return err
	}

	entries := make([]encodedEntry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		kb, err := e.encodePart(iter.Key().Interface(), keyTag == TypeUnknown, keyTag)
		if err != nil {
			return err
		}
		vb, err := e.encodePart(iter.Value().Interface(), valTag == TypeUnknown, valTag)
		if err != nil {
			return err
		}
		entries = append(entries, encodedEntry{kb, vb})
	}
	writeSorted(e.buf, entries)
	return nil
}

// writeParameters: uint16 count, затем (ключ, значение с тегом).
func (e *Encoder) writeParameters(p ParameterMap) error {
	if len(p) > math.MaxUint16 {
		return fmt.Errorf("%d parameters: %w", len(p), ErrUnsupportedLength)
	}
	e.buf.Write(putUint16(e.scratch[:], uint16(len(p))))
	for _, k := range p.sortedKeys() {
		e.buf.WriteByte(k)
		if err := e.Encode(p[k], true); err != nil {
			return fmt.Errorf("parameter %d: %w", k, err)
		}
	}
	return nil
}
