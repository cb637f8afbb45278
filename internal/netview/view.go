// Package netview — сетевые объекты комнаты: удалённый вызов методов по
// имени и периодическая синхронизация состояния с дельта-сжатием.
//
// Пакет не потокобезопасен: всё выполняется в горутине диспетчеризации
// клиента (из колбэков Service и из Tick).
package netview

import (
	"errors"
	"fmt"
	"sort"
)

// Коды событий, которыми пакет пользуется поверх OpRaiseEvent.
const (
	EventRPC               byte = 200
	EventSerialize         byte = 201
	EventSerializeReliable byte = 206
)

var (
	ErrBadViewID     = errors.New("netview: view id must be positive")
	ErrDuplicateView = errors.New("netview: view id already registered")
)

// Info — метаданные входящего вызова или снимка.
type Info struct {
	Sender    int32
	Timestamp int32 // серверное время отправки, мс
	View      *View
}

// Observer пишет и читает состояние объекта; направление — s.IsWriting().
type Observer interface {
	OnSerialize(s *Stream, info Info)
}

// View — сетевой объект: id, владелец, режим синхронизации, наблюдаемые
// компоненты и цели удалённых вызовов.
type View struct {
	ID     int32
	Owner  int32 // номер игрока; 0 — объект сцены, им управляет мастер
	Prefix int16 // префикс уровня; вызовы с другим префиксом отбрасываются
	Sync   SyncMode

	observed []Observer
	targets  []any
}

func NewView(id, owner int32) *View {
	return &View{ID: id, Owner: owner, Sync: SyncReliableDeltaCompressed}
}

// Observe добавляет компонент, участвующий в синхронизации.
func (v *View) Observe(o Observer) *View {
	v.observed = append(v.observed, o)
	return v
}

// AddTarget добавляет объект, чьи методы можно вызывать удалённо.
// Методы должны быть описаны в Table.
func (v *View) AddTarget(t any) *View {
	v.targets = append(v.targets, t)
	return v
}

func (v *View) Targets() []any { return append([]any(nil), v.targets...) }

// IsMine — объектом управляет локальный клиент.
func (v *View) IsMine(localActor int32, isMaster bool) bool {
	if v.Owner == 0 {
		return isMaster
	}
	return v.Owner == localActor
}

func (v *View) String() string {
	return fmt.Sprintf("View(%d owner=%d)", v.ID, v.Owner)
}

// Views — реестр сетевых объектов по id.
type Views struct {
	m map[int32]*View
}

func NewViews() *Views { return &Views{m: map[int32]*View{}} }

func (vs *Views) Add(v *View) error {
	if v == nil || v.ID <= 0 {
		return ErrBadViewID
	}
	if _, ok := vs.m[v.ID]; ok {
		return fmt.Errorf("view %d: %w", v.ID, ErrDuplicateView)
	}
	vs.m[v.ID] = v
	return nil
}

func (vs *Views) Remove(id int32) { delete(vs.m, id) }

func (vs *Views) Get(id int32) *View { return vs.m[id] }

func (vs *Views) Len() int { return len(vs.m) }

// All — объекты по возрастанию id.
func (vs *Views) All() []*View {
	out := make([]*View, 0, len(vs.m))
	for _, v := range vs.m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Clear убирает все объекты (выход из комнаты).
func (vs *Views) Clear() { vs.m = map[int32]*View{} }
