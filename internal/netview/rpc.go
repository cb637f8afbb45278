package netview

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/EgorLis/roomnet/internal/protocol"
)

// Ключи содержимого события RPC.
const (
	rpcKeyViewID    byte = 0
	rpcKeyPrefix    byte = 1
	rpcKeyTimestamp byte = 2
	rpcKeyMethod    byte = 3
	rpcKeyArgs      byte = 4
	rpcKeyShortcut  byte = 5
)

var (
	ErrUnknownView = errors.New("netview: unknown view")
	ErrBadRPC      = errors.New("netview: malformed rpc")
	ErrWrongPrefix = errors.New("netview: level prefix mismatch")
)

// Target — кому адресован вызов.
type Target byte

const (
	All Target = iota
	Others
	MasterClient
	AllBuffered
	OthersBuffered
	AllViaServer
	AllBufferedViaServer
)

// Receivers — адресация события на уровне комнаты.
type Receivers byte

const (
	ToOthers Receivers = iota
	ToAll
	ToMaster
)

// EventOptions — как Sender должен отправить событие.
type EventOptions struct {
	Receivers Receivers
	Cache     bool // сохранить в кэше комнаты для входящих позже
	Reliable  bool
}

// Sender — связь с комнатой: кто мы, который час на сервере, отправка
// событий.
type Sender interface {
	LocalActor() int32
	IsMasterClient() bool
	ServerTimestamp() int32
	RaiseEvent(code byte, content any, o EventOptions) bool
}

type Option func(*options)

type options struct {
	log *zap.Logger
}

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

func buildOptions(opts []Option) options {
	o := options{log: zap.NewNop()}
	for _, f := range opts {
		f(&o)
	}
	o.log = o.log.Named("netview")
	return o
}

// Dispatcher упаковывает и исполняет удалённые вызовы методов.
type Dispatcher struct {
	views  *Views
	table  *Table
	sender Sender
	log    *zap.Logger

	shortcuts map[string]byte
	names     []string
}

func NewDispatcher(views *Views, table *Table, sender Sender, opts ...Option) *Dispatcher {
	o := buildOptions(opts)
	return &Dispatcher{views: views, table: table, sender: sender, log: o.log, shortcuts: map[string]byte{}}
}

// SetShortcuts задаёт общий для всех клиентов список имён методов: вместо
// имени передаётся его индекс.
func (d *Dispatcher) SetShortcuts(names []string) {
	if len(names) > 256 {
		names = names[:256]
	}
	d.names = append([]string(nil), names...)
	d.shortcuts = make(map[string]byte, len(d.names))
	for i, n := range d.names {
		d.shortcuts[n] = byte(i)
	}
}

// Call вызывает метод на объекте v у адресатов target. Для All и
// MasterClient (когда мастер — мы) локальный вызов выполняется сразу.
func (d *Dispatcher) Call(v *View, method string, target Target, args ...any) bool {
	if v == nil || method == "" {
		d.log.Warn("rpc: view and method are required")
		return false
	}
	if d.views.Get(v.ID) != v {
		d.log.Warn("rpc: view is not registered", zap.Int32("view", v.ID))
		return false
	}
	content := d.pack(v, method, args)

	switch target {
	case All, AllBuffered:
		d.HandleEvent(d.sender.LocalActor(), content)
		return d.sender.RaiseEvent(EventRPC, content, EventOptions{Receivers: ToOthers, Cache: target == AllBuffered, Reliable: true})
	case Others, OthersBuffered:
		return d.sender.RaiseEvent(EventRPC, content, EventOptions{Receivers: ToOthers, Cache: target == OthersBuffered, Reliable: true})
	case MasterClient:
		if d.sender.IsMasterClient() {
			d.HandleEvent(d.sender.LocalActor(), content)
			return true
		}
		return d.sender.RaiseEvent(EventRPC, content, EventOptions{Receivers: ToMaster, Reliable: true})
	case AllViaServer, AllBufferedViaServer:
		return d.sender.RaiseEvent(EventRPC, content, EventOptions{Receivers: ToAll, Cache: target == AllBufferedViaServer, Reliable: true})
	}
	d.log.Warn("rpc: unknown target", zap.Uint8("target", uint8(target)))
	return false
}

func (d *Dispatcher) pack(v *View, method string, args []any) protocol.Hashtable {
	h := protocol.Hashtable{
		rpcKeyViewID:    v.ID,
		rpcKeyTimestamp: d.sender.ServerTimestamp(),
	}
	if v.Prefix > 0 {
		h[rpcKeyPrefix] = v.Prefix
	}
	if idx, ok := d.shortcuts[method]; ok {
		h[rpcKeyShortcut] = idx
	} else {
		h[rpcKeyMethod] = method
	}
	if len(args) > 0 {
		h[rpcKeyArgs] = append([]any(nil), args...)
	}
	return h
}

// HandleEvent исполняет входящий вызов. Ошибки не фатальны: вызов
// отбрасывается с записью в лог.
func (d *Dispatcher) HandleEvent(sender int32, content any) {
	if err := d.execute(sender, content); err != nil {
		d.log.Error("rpc dropped", zap.Int32("sender", sender), zap.Error(err))
	}
}

func (d *Dispatcher) execute(sender int32, content any) error {
	h, ok := content.(protocol.Hashtable)
	if !ok {
		return fmt.Errorf("content %T: %w", content, ErrBadRPC)
	}
	id, ok := toInt32(h[rpcKeyViewID])
	if !ok {
		return fmt.Errorf("no view id: %w", ErrBadRPC)
	}
	v := d.views.Get(id)
	if v == nil {
		return fmt.Errorf("view %d: %w", id, ErrUnknownView)
	}
	prefix, _ := h[rpcKeyPrefix].(int16)
	if prefix != v.Prefix {
		return fmt.Errorf("view %d prefix %d, call %d: %w", id, v.Prefix, prefix, ErrWrongPrefix)
	}

	name, err := d.methodName(h)
	if err != nil {
		return err
	}
	var args []any
	switch a := h[rpcKeyArgs].(type) {
	case nil:
	case []any:
		args = a
	default:
		return fmt.Errorf("args %T: %w", a, ErrBadRPC)
	}
	ts, _ := h[rpcKeyTimestamp].(int32)

	m, err := d.table.Resolve(v.targets, name, args)
	if err != nil {
		return fmt.Errorf("view %d: %w", id, err)
	}
	m.Method.Invoke(m.Target, args, Info{Sender: sender, Timestamp: ts, View: v})
	return nil
}

func (d *Dispatcher) methodName(h protocol.Hashtable) (string, error) {
	if s, ok := h[rpcKeyMethod].(string); ok && s != "" {
		return s, nil
	}
	idx, ok := h[rpcKeyShortcut].(byte)
	if !ok {
		return "", fmt.Errorf("no method name: %w", ErrBadRPC)
	}
	if int(idx) >= len(d.names) {
		return "", fmt.Errorf("unknown shortcut %d: %w", idx, ErrBadRPC)
	}
	return d.names[idx], nil
}

func toInt32(v any) (int32, bool) {
	switch n := v.(type) {
	case int32:
		return n, true
	case int16:
		return int32(n), true
	case byte:
		return int32(n), true
	case int:
		return int32(n), true
	}
	return 0, false
}
