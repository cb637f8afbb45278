package netview

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgorLis/roomnet/internal/protocol"
)

type sentEvent struct {
	code    byte
	content any
	opts    EventOptions
}

// fakeSender пропускает содержимое через кодек, как настоящий сервер.
type fakeSender struct {
	t      *testing.T
	codec  *protocol.Codec
	local  int32
	master bool
	ts     int32
	sent   []sentEvent
}

func newSender(t *testing.T, local int32) *fakeSender {
	return &fakeSender{t: t, codec: protocol.NewCodec(nil), local: local, ts: 1000}
}

func (f *fakeSender) LocalActor() int32      { return f.local }
func (f *fakeSender) IsMasterClient() bool   { return f.master }
func (f *fakeSender) ServerTimestamp() int32 { return f.ts }

func (f *fakeSender) RaiseEvent(code byte, content any, o EventOptions) bool {
	b, err := f.codec.Marshal(content)
	require.NoError(f.t, err)
	v, err := f.codec.Unmarshal(b)
	require.NoError(f.t, err)
	f.sent = append(f.sent, sentEvent{code: code, content: v, opts: o})
	return true
}

func (f *fakeSender) last() sentEvent {
	f.t.Helper()
	require.NotEmpty(f.t, f.sent)
	return f.sent[len(f.sent)-1]
}

// ========================= rpc =========================

type gun struct {
	shots []int32
	power []float32
	from  []int32
}

func (g *gun) Fire(shots int32, power float32) {
	g.shots = append(g.shots, shots)
	g.power = append(g.power, power)
}

func (g *gun) Hit(damage int32, info Info) {
	g.shots = append(g.shots, damage)
	g.from = append(g.from, info.Sender)
}

type logger struct{ got [][]any }

func (l *logger) Log(args []any) { l.got = append(l.got, args) }

type turret struct{ calls []string }

func rpcFixture(t *testing.T) (*Dispatcher, *fakeSender, *View, *gun) {
	t.Helper()
	table := NewTable()
	require.NoError(t, table.Register(&gun{}, "Fire", "Hit"))
	views := NewViews()
	g := &gun{}
	v := NewView(7, 1).AddTarget(g)
	require.NoError(t, views.Add(v))
	s := newSender(t, 1)
	return NewDispatcher(views, table, s), s, v, g
}

func TestRPCResolvesByNameAndSignature(t *testing.T) {
	d, _, _, g := rpcFixture(t)

	err := d.execute(2, protocol.Hashtable{
		rpcKeyViewID:    int32(7),
		rpcKeyTimestamp: int32(5),
		rpcKeyMethod:    "Fire",
		rpcKeyArgs:      []any{int32(3), float32(1.5)},
	})
	require.NoError(t, err)
	assert.Equal(t, []int32{3}, g.shots)
	assert.Equal(t, []float32{1.5}, g.power)

	err = d.execute(2, protocol.Hashtable{rpcKeyViewID: int32(7), rpcKeyMethod: "Fire", rpcKeyArgs: []any{int32(3)}})
	assert.ErrorIs(t, err, ErrNoMethod)
	assert.Len(t, g.shots, 1)
}

func TestRPCWithInfoParameter(t *testing.T) {
	d, _, _, g := rpcFixture(t)
	require.NoError(t, d.execute(4, protocol.Hashtable{
		rpcKeyViewID: int32(7),
		rpcKeyMethod: "Hit",
		rpcKeyArgs:   []any{int32(9)},
	}))
	assert.Equal(t, []int32{4}, g.from)
}

func TestRPCOverloadsWithoutExactMatchAreDropped(t *testing.T) {
	table := NewTable()
	tt := reflect.TypeOf(&turret{})
	i32, f32, str := reflect.TypeOf(int32(0)), reflect.TypeOf(float32(0)), reflect.TypeOf("")
	record := func(name string) func(any, []any, Info) {
		return func(target any, _ []any, _ Info) {
			tr := target.(*turret)
			tr.calls = append(tr.calls, name)
		}
	}
	table.Add(tt, Method{Name: "Aim", Params: []reflect.Type{i32, f32}, Invoke: record("Aim/2")})
	table.Add(tt, Method{Name: "Aim", Params: []reflect.Type{i32, f32, str}, Invoke: record("Aim/3")})

	views := NewViews()
	tr := &turret{}
	require.NoError(t, views.Add(NewView(3, 1).AddTarget(tr)))
	d := NewDispatcher(views, table, newSender(t, 1))

	err := d.execute(2, protocol.Hashtable{rpcKeyViewID: int32(3), rpcKeyMethod: "Aim", rpcKeyArgs: []any{int32(1)}})
	assert.ErrorIs(t, err, ErrNoMethod)
	assert.Empty(t, tr.calls)

	require.NoError(t, d.execute(2, protocol.Hashtable{rpcKeyViewID: int32(3), rpcKeyMethod: "Aim", rpcKeyArgs: []any{int32(1), float32(2), "x"}}))
	assert.Equal(t, []string{"Aim/3"}, tr.calls)
}

func TestRPCAmbiguousAcrossTargets(t *testing.T) {
	d, _, v, g := rpcFixture(t)
	v.AddTarget(&gun{})

	err := d.execute(2, protocol.Hashtable{rpcKeyViewID: int32(7), rpcKeyMethod: "Fire", rpcKeyArgs: []any{int32(1), float32(1)}})
	assert.ErrorIs(t, err, ErrAmbiguousMethod)
	assert.Empty(t, g.shots)
}

func TestRPCCatchAll(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Register(&logger{}))
	views := NewViews()
	l := &logger{}
	require.NoError(t, views.Add(NewView(1, 1).AddTarget(l)))
	d := NewDispatcher(views, table, newSender(t, 1))

	require.NoError(t, d.execute(2, protocol.Hashtable{rpcKeyViewID: int32(1), rpcKeyMethod: "Log", rpcKeyArgs: []any{"a", int32(2)}}))
	require.Len(t, l.got, 1)
	assert.Equal(t, []any{"a", int32(2)}, l.got[0])
}

func TestRPCRejectsWrongPrefixAndUnknownView(t *testing.T) {
	d, _, v, g := rpcFixture(t)
	v.Prefix = 2

	err := d.execute(2, protocol.Hashtable{rpcKeyViewID: int32(7), rpcKeyMethod: "Fire", rpcKeyArgs: []any{int32(1), float32(1)}})
	assert.ErrorIs(t, err, ErrWrongPrefix)

	err = d.execute(2, protocol.Hashtable{rpcKeyViewID: int32(99), rpcKeyMethod: "Fire"})
	assert.ErrorIs(t, err, ErrUnknownView)

	err = d.execute(2, "garbage")
	assert.ErrorIs(t, err, ErrBadRPC)
	assert.Empty(t, g.shots)
}

func TestRPCTargets(t *testing.T) {
	d, s, v, g := rpcFixture(t)

	require.True(t, d.Call(v, "Fire", All, int32(1), float32(1)))
	assert.Len(t, g.shots, 1, "All runs locally at once")
	assert.Equal(t, ToOthers, s.last().opts.Receivers)

	require.True(t, d.Call(v, "Fire", AllViaServer, int32(2), float32(1)))
	assert.Len(t, g.shots, 1, "via server waits for the echo")
	assert.Equal(t, ToAll, s.last().opts.Receivers)

	require.True(t, d.Call(v, "Fire", OthersBuffered, int32(3), float32(1)))
	assert.True(t, s.last().opts.Cache)

	sent := len(s.sent)
	s.master = true
	require.True(t, d.Call(v, "Fire", MasterClient, int32(4), float32(1)))
	assert.Len(t, s.sent, sent, "master calls itself without a round trip")
	assert.Equal(t, []int32{1, 4}, g.shots)

	assert.False(t, d.Call(NewView(8, 1), "Fire", All), "unregistered view")
}

func TestRPCShortcutsOnTheWire(t *testing.T) {
	d, s, v, _ := rpcFixture(t)
	d.SetShortcuts([]string{"Reload", "Fire"})
	v.Prefix = 3

	require.True(t, d.Call(v, "Fire", Others, int32(5), float32(0.5)))
	ev := s.last()
	assert.Equal(t, EventRPC, ev.code)
	h := ev.content.(protocol.Hashtable)
	assert.Equal(t, byte(1), h[rpcKeyShortcut])
	assert.NotContains(t, h, rpcKeyMethod)
	assert.Equal(t, int16(3), h[rpcKeyPrefix])
	assert.Equal(t, int32(1000), h[rpcKeyTimestamp])

	// та же таблица на принимающей стороне
	d2, _, v2, g2 := rpcFixture(t)
	d2.SetShortcuts([]string{"Reload", "Fire"})
	v2.Prefix = 3
	d2.HandleEvent(1, ev.content)
	assert.Equal(t, []int32{5}, g2.shots)
}

// ========================= sync =========================

// fields пишет vals и запоминает прочитанное.
type fields struct {
	vals []any
	got  [][]any
	info []Info
}

func (f *fields) OnSerialize(s *Stream, info Info) {
	if s.IsWriting() {
		for _, v := range f.vals {
			s.SendNext(v)
		}
		return
	}
	var row []any
	for i := 0; i < s.Count(); i++ {
		row = append(row, s.ReceiveNext())
	}
	f.got = append(f.got, row)
	f.info = append(f.info, info)
}

func syncPair(t *testing.T, mode SyncMode) (*SyncEngine, *fakeSender, *fields, *SyncEngine, *fields) {
	t.Helper()
	out := &fields{}
	views := NewViews()
	v := NewView(10, 1).Observe(out)
	v.Sync = mode
	require.NoError(t, views.Add(v))
	s := newSender(t, 1)
	tx := NewSyncEngine(views, s, DefaultThresholds())

	in := &fields{}
	rviews := NewViews()
	require.NoError(t, rviews.Add(NewView(10, 1).Observe(in)))
	rx := NewSyncEngine(rviews, newSender(t, 2), DefaultThresholds())
	return tx, s, out, rx, in
}

func slotOf(t *testing.T, ev sentEvent) []any {
	t.Helper()
	batch := ev.content.([]any)
	require.Len(t, batch, batchHeader+1)
	return batch[batchHeader].([]any)
}

func TestDeltaCompressionSuppressesAndReconstructs(t *testing.T) {
	tx, s, out, rx, in := syncPair(t, SyncReliableDeltaCompressed)
	out.vals = []any{protocol.Vector3{X: 0}, int32(100), "alice"}

	require.Equal(t, 1, tx.Serialize())
	full := s.last()
	assert.Equal(t, EventSerializeReliable, full.code)
	assert.True(t, full.opts.Reliable)
	slot := slotOf(t, full)
	assert.Equal(t, int32(10), slot[slotViewID])
	assert.Equal(t, false, slot[slotCompressed])
	rx.HandleEvent(1, full.content)
	require.Len(t, in.got, 1)
	assert.Equal(t, out.vals, in.got[0])

	// ничего не изменилось или изменилось меньше порога
	out.vals[0] = protocol.Vector3{X: 0.001}
	assert.Equal(t, 0, tx.Serialize())
	assert.Len(t, s.sent, 1)

	// сравнение идёт с последним отправленным, а не с последним снятым
	out.vals[0] = protocol.Vector3{X: 0.011}
	out.vals[1] = int32(90)
	require.Equal(t, 1, tx.Serialize())
	delta := s.last()
	slot = slotOf(t, delta)
	assert.Equal(t, true, slot[slotCompressed])
	assert.Equal(t, []any{protocol.Vector3{X: 0.011}, int32(90), nil}, slot[slotHeader:])

	rx.HandleEvent(1, delta.content)
	require.Len(t, in.got, 2)
	assert.Equal(t, []any{protocol.Vector3{X: 0.011}, int32(90), "alice"}, in.got[1])
	assert.Equal(t, int32(1000), in.info[1].Timestamp)
}

func TestDeltaCompressionGenuineNil(t *testing.T) {
	tx, s, out, rx, in := syncPair(t, SyncReliableDeltaCompressed)
	out.vals = []any{int32(1), "target"}
	tx.Serialize()
	rx.HandleEvent(1, s.last().content)

	out.vals[1] = nil
	require.Equal(t, 1, tx.Serialize())
	slot := slotOf(t, s.last())
	assert.Equal(t, []int32{1}, slot[slotNulls])

	rx.HandleEvent(1, s.last().content)
	assert.Equal(t, []any{int32(1), nil}, in.got[1])
}

func TestCompressedSnapshotWithoutBaselineIsDropped(t *testing.T) {
	tx, s, out, _, _ := syncPair(t, SyncReliableDeltaCompressed)
	out.vals = []any{int32(1), int32(2)}
	tx.Serialize()
	out.vals[1] = int32(3)
	tx.Serialize()
	delta := s.last()

	late := &fields{}
	views := NewViews()
	require.NoError(t, views.Add(NewView(10, 1).Observe(late)))
	rx := NewSyncEngine(views, newSender(t, 3), DefaultThresholds())
	rx.HandleEvent(1, delta.content)
	assert.Empty(t, late.got)

	rx.HandleEvent(1, s.sent[0].content)
	rx.HandleEvent(1, delta.content)
	require.Len(t, late.got, 2)
	assert.Equal(t, []any{int32(1), int32(3)}, late.got[1])
}

func TestResetSentGivesLateReceiverFullSnapshot(t *testing.T) {
	tx, s, out, rx, in := syncPair(t, SyncReliableDeltaCompressed)
	out.vals = []any{int32(1), "alice"}
	tx.Serialize()
	rx.HandleEvent(1, s.last().content)

	late := &fields{}
	views := NewViews()
	require.NoError(t, views.Add(NewView(10, 1).Observe(late)))
	lrx := NewSyncEngine(views, newSender(t, 3), DefaultThresholds())

	// без сброса новичок получает только дельту и не может её применить
	out.vals[0] = int32(2)
	require.Equal(t, 1, tx.Serialize())
	lrx.HandleEvent(1, s.last().content)
	rx.HandleEvent(1, s.last().content)
	assert.Empty(t, late.got)

	tx.ResetSent()
	require.Equal(t, 1, tx.Serialize(), "unchanged values still go out in full")
	full := s.last()
	assert.Equal(t, false, slotOf(t, full)[slotCompressed])
	lrx.HandleEvent(1, full.content)
	rx.HandleEvent(1, full.content)
	require.Len(t, late.got, 1)
	assert.Equal(t, []any{int32(2), "alice"}, late.got[0])
	assert.Equal(t, []any{int32(2), "alice"}, in.got[len(in.got)-1])

	// дальше обоим хватает дельт
	out.vals[0] = int32(3)
	require.Equal(t, 1, tx.Serialize())
	delta := s.last()
	assert.Equal(t, true, slotOf(t, delta)[slotCompressed])
	lrx.HandleEvent(1, delta.content)
	rx.HandleEvent(1, delta.content)
	require.Len(t, late.got, 2)
	assert.Equal(t, []any{int32(3), "alice"}, late.got[1])
	assert.Equal(t, []any{int32(3), "alice"}, in.got[len(in.got)-1])
}

func TestUnreliableOnChange(t *testing.T) {
	tx, s, out, _, _ := syncPair(t, SyncUnreliableOnChange)
	out.vals = []any{float32(1)}

	require.Equal(t, 1, tx.Serialize())
	assert.Equal(t, EventSerialize, s.last().code)
	assert.False(t, s.last().opts.Reliable)

	out.vals[0] = float32(1.005)
	assert.Equal(t, 0, tx.Serialize())

	out.vals[0] = float32(2)
	require.Equal(t, 1, tx.Serialize())
	assert.Equal(t, false, slotOf(t, s.last())[slotCompressed])
}

func TestSyncOnlyOwnViewsAndOwnersAccepted(t *testing.T) {
	tx, s, out, rx, in := syncPair(t, SyncUnreliable)
	out.vals = []any{int32(1)}

	tx.sender.(*fakeSender).local = 5
	assert.Equal(t, 0, tx.Serialize(), "someone else's view")
	tx.sender.(*fakeSender).local = 1
	require.Equal(t, 1, tx.Serialize())

	rx.HandleEvent(4, s.last().content)
	assert.Empty(t, in.got, "sender 4 does not own view 10")

	rx.Prefix = 9
	rx.HandleEvent(1, s.last().content)
	assert.Empty(t, in.got, "other level")
}

func TestQuaternionThreshold(t *testing.T) {
	e := NewSyncEngine(NewViews(), newSender(t, 1), DefaultThresholds())
	id := protocol.Quaternion{W: 1}
	// поворот на ~0.5° вокруг X
	small := protocol.Quaternion{W: 0.99999, X: 0.00436}
	big := protocol.Quaternion{W: 0.9962, X: 0.0872}
	assert.True(t, e.almostEqual(id, small))
	assert.False(t, e.almostEqual(id, big))
	assert.False(t, e.almostEqual(id, protocol.Vector3{}))
}
