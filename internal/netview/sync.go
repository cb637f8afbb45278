package netview

import (
	"math"
	"reflect"

	"go.uber.org/zap"

	"github.com/EgorLis/roomnet/internal/protocol"
)

// SyncMode — как объект рассылает своё состояние.
type SyncMode byte

const (
	SyncOff SyncMode = iota
	// SyncUnreliable — полный снимок каждый раз.
	SyncUnreliable
	// SyncUnreliableOnChange — полный снимок, только если что-то изменилось.
	SyncUnreliableOnChange
	// SyncReliableDeltaCompressed — надёжно, неизменившиеся поля заменены nil.
	SyncReliableDeltaCompressed
)

// Thresholds — пороги «почти равно» для дельта-сжатия.
type Thresholds struct {
	Vector          float32 // квадрат расстояния
	QuaternionAngle float32 // градусы
	Float           float32
}

func DefaultThresholds() Thresholds {
	return Thresholds{Vector: 0.000099, QuaternionAngle: 1.0, Float: 0.01}
}

// Раскладка слота одного объекта в событии:
// [viewID, compressed, nullIndexes, values...].
const (
	slotViewID = iota
	slotCompressed
	slotNulls
	slotHeader
)

// Заголовок события: [timestamp, prefix, slot...].
const batchHeader = 2

// SyncEngine периодически снимает состояние своих объектов и применяет
// чужие снимки.
type SyncEngine struct {
	views  *Views
	sender Sender
	th     Thresholds
	log    *zap.Logger

	// Prefix — префикс уровня; снимки с другим префиксом отбрасываются.
	Prefix int16

	lastSent map[int32][]any // по полям: последнее реально отправленное значение
	lastRecv map[int32][]any // последний восстановленный полный снимок
}

func NewSyncEngine(views *Views, sender Sender, th Thresholds, opts ...Option) *SyncEngine {
	o := buildOptions(opts)
	return &SyncEngine{
		views:    views,
		sender:   sender,
		th:       th,
		log:      o.log,
		lastSent: map[int32][]any{},
		lastRecv: map[int32][]any{},
	}
}

// Reset забывает базовые снимки (смена комнаты).
func (e *SyncEngine) Reset() {
	e.lastSent = map[int32][]any{}
	e.lastRecv = map[int32][]any{}
}

// ResetSent забывает отправленные снимки: следующий Serialize шлёт полные
// слоты. Вызывается, когда в комнату входит игрок без базового снимка.
func (e *SyncEngine) ResetSent() {
	e.lastSent = map[int32][]any{}
}

// Serialize снимает состояние своих объектов и отправляет до двух событий:
// надёжное для дельта-сжатых объектов и ненадёжное для остальных.
// Возвращает число отправленных слотов.
func (e *SyncEngine) Serialize() int {
	local, master := e.sender.LocalActor(), e.sender.IsMasterClient()
	ts := e.sender.ServerTimestamp()

	var reliable, unreliable []any
	for _, v := range e.views.All() {
		if v.Sync == SyncOff || len(v.observed) == 0 || !v.IsMine(local, master) {
			continue
		}
		values := e.snapshot(v, Info{Sender: local, Timestamp: ts, View: v})
		slot := e.slotFor(v, values)
		if slot == nil {
			continue
		}
		if v.Sync == SyncReliableDeltaCompressed {
			reliable = append(reliable, slot)
		} else {
			unreliable = append(unreliable, slot)
		}
	}

	sent := 0
	if len(reliable) > 0 && e.send(EventSerializeReliable, ts, reliable, true) {
		sent += len(reliable)
	}
	if len(unreliable) > 0 && e.send(EventSerialize, ts, unreliable, false) {
		sent += len(unreliable)
	}
	return sent
}

func (e *SyncEngine) snapshot(v *View, info Info) []any {
	s := newWriteStream()
	for _, o := range v.observed {
		o.OnSerialize(s, info)
	}
	return s.values
}

func (e *SyncEngine) send(code byte, ts int32, slots []any, reliable bool) bool {
	batch := make([]any, 0, batchHeader+len(slots))
	batch = append(batch, ts, nil)
	if e.Prefix > 0 {
		batch[1] = e.Prefix
	}
	batch = append(batch, slots...)
	return e.sender.RaiseEvent(code, batch, EventOptions{Receivers: ToOthers, Reliable: reliable})
}

// slotFor — слот для отправки или nil, если отправлять нечего.
func (e *SyncEngine) slotFor(v *View, values []any) []any {
	if len(values) == 0 {
		return nil
	}
	prev, known := e.lastSent[v.ID]
	if known && len(prev) != len(values) {
		known = false
	}

	switch v.Sync {
	case SyncUnreliable:
		e.lastSent[v.ID] = append([]any(nil), values...)
		return makeSlot(v.ID, false, nil, values)

	case SyncUnreliableOnChange:
		if known && e.allAlmostEqual(values, prev) {
			return nil
		}
		e.lastSent[v.ID] = append([]any(nil), values...)
		return makeSlot(v.ID, false, nil, values)

	case SyncReliableDeltaCompressed:
		if !known {
			e.lastSent[v.ID] = append([]any(nil), values...)
			return makeSlot(v.ID, false, nil, values)
		}
		out, nulls, empty := e.compress(values, prev)
		if empty {
			return nil
		}
		return makeSlot(v.ID, true, nulls, out)
	}
	return nil
}

// compress заменяет почти равные поля на nil и обновляет prev только для
// реально отправленных полей. nulls — поля, которые действительно стали nil.
func (e *SyncEngine) compress(values, prev []any) (out []any, nulls []int32, empty bool) {
	out = make([]any, len(values))
	empty = true
	for i, cur := range values {
		switch {
		case cur == nil && prev[i] == nil:
		case cur == nil:
			nulls = append(nulls, int32(i))
			prev[i] = nil
			empty = false
		case e.almostEqual(cur, prev[i]):
		default:
			out[i] = cur
			prev[i] = cur
			empty = false
		}
	}
	return out, nulls, empty
}

func makeSlot(id int32, compressed bool, nulls []int32, values []any) []any {
	slot := make([]any, 0, slotHeader+len(values))
	var n any
	if len(nulls) > 0 {
		n = nulls
	}
	slot = append(slot, id, compressed, n)
	return append(slot, values...)
}

// ========================= receive =========================

// HandleEvent применяет пачку снимков от sender.
func (e *SyncEngine) HandleEvent(sender int32, content any) {
	batch, ok := content.([]any)
	if !ok || len(batch) < batchHeader {
		e.log.Warn("sync: malformed batch", zap.Int32("sender", sender))
		return
	}
	ts, _ := batch[0].(int32)
	prefix, _ := batch[1].(int16)
	if prefix != e.Prefix {
		e.log.Debug("sync: batch for another level", zap.Int16("prefix", prefix))
		return
	}
	for _, raw := range batch[batchHeader:] {
		slot, ok := raw.([]any)
		if !ok || len(slot) < slotHeader {
			e.log.Warn("sync: malformed slot", zap.Int32("sender", sender))
			continue
		}
		e.applySlot(sender, ts, slot)
	}
}

func (e *SyncEngine) applySlot(sender, ts int32, slot []any) {
	id, ok := toInt32(slot[slotViewID])
	if !ok {
		return
	}
	v := e.views.Get(id)
	if v == nil {
		e.log.Debug("sync: unknown view", zap.Int32("view", id))
		return
	}
	if v.Owner != 0 && v.Owner != sender {
		e.log.Warn("sync: snapshot from non-owner", zap.Int32("view", id), zap.Int32("sender", sender))
		return
	}
	compressed, _ := slot[slotCompressed].(bool)
	values := append([]any(nil), slot[slotHeader:]...)

	if compressed {
		base, ok := e.lastRecv[id]
		if !ok || len(base) != len(values) {
			// ждём полного снимка
			e.log.Debug("sync: compressed snapshot without baseline", zap.Int32("view", id))
			return
		}
		genuine := map[int32]bool{}
		for _, i := range nullIndexes(slot[slotNulls]) {
			genuine[i] = true
		}
		for i, x := range values {
			if x == nil && !genuine[int32(i)] {
				values[i] = base[i]
			}
		}
	}
	e.lastRecv[id] = values

	s := newReadStream(append([]any(nil), values...))
	info := Info{Sender: sender, Timestamp: ts, View: v}
	for _, o := range v.observed {
		o.OnSerialize(s, info)
	}
}

func nullIndexes(v any) []int32 {
	switch l := v.(type) {
	case []int32:
		return l
	case []any:
		out := make([]int32, 0, len(l))
		for _, x := range l {
			if i, ok := toInt32(x); ok {
				out = append(out, i)
			}
		}
		return out
	}
	return nil
}

// ========================= almost equal =========================

func (e *SyncEngine) allAlmostEqual(a, b []any) bool {
	for i := range a {
		if a[i] == nil || b[i] == nil {
			if a[i] != b[i] {
				return false
			}
			continue
		}
		if !e.almostEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// almostEqual: векторы — по квадрату расстояния, повороты — по углу,
// float — по модулю разности, остальное — точное равенство.
func (e *SyncEngine) almostEqual(a, b any) bool {
	switch x := a.(type) {
	case protocol.Vector3:
		y, ok := b.(protocol.Vector3)
		if !ok {
			return false
		}
		dx, dy, dz := x.X-y.X, x.Y-y.Y, x.Z-y.Z
		return dx*dx+dy*dy+dz*dz < e.th.Vector
	case protocol.Vector2:
		y, ok := b.(protocol.Vector2)
		if !ok {
			return false
		}
		dx, dy := x.X-y.X, x.Y-y.Y
		return dx*dx+dy*dy < e.th.Vector
	case protocol.Quaternion:
		y, ok := b.(protocol.Quaternion)
		if !ok {
			return false
		}
		return quaternionAngle(x, y) < float64(e.th.QuaternionAngle)
	case float32:
		y, ok := b.(float32)
		return ok && math.Abs(float64(x-y)) < float64(e.th.Float)
	case float64:
		y, ok := b.(float64)
		return ok && math.Abs(x-y) < float64(e.th.Float)
	}
	return reflect.DeepEqual(a, b)
}

// quaternionAngle — угол между поворотами в градусах.
func quaternionAngle(a, b protocol.Quaternion) float64 {
	dot := float64(a.W*b.W + a.X*b.X + a.Y*b.Y + a.Z*b.Z)
	dot = math.Min(math.Abs(dot), 1)
	return 2 * math.Acos(dot) * 180 / math.Pi
}
