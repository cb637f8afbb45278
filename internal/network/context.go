// Package network связывает клиент сессии, сетевые объекты, RPC и
// синхронизацию состояния в один владеющий объект. Хост вызывает Tick из
// своего цикла; всё остальное происходит внутри Tick.
package network

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/EgorLis/roomnet/internal/config"
	"github.com/EgorLis/roomnet/internal/netview"
	"github.com/EgorLis/roomnet/internal/peer"
	"github.com/EgorLis/roomnet/internal/protocol"
	"github.com/EgorLis/roomnet/internal/regions"
	"github.com/EgorLis/roomnet/internal/room"
	"github.com/EgorLis/roomnet/internal/session"
)

// MaxViewIDs — сколько объектов может создать один игрок.
const MaxViewIDs = 1000

var (
	ErrClosed         = errors.New("network: context closed")
	ErrNotInRoom      = errors.New("network: not in room")
	ErrViewsExhausted = errors.New("network: no free view ids")
)

type Option func(*options)

type options struct {
	log     *zap.Logger
	session []session.Option
}

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

// WithSessionOptions передаёт опции клиенту сессии (пир, пинг, метрики).
func WithSessionOptions(opts ...session.Option) Option {
	return func(o *options) { o.session = append(o.session, opts...) }
}

// Context — один сетевой клиент со своими объектами. Не потокобезопасен:
// все вызовы из потока хоста.
type Context struct {
	log      *zap.Logger
	settings config.AppSettings

	client *session.Client
	views  *netview.Views
	table  *netview.Table
	rpc    *netview.Dispatcher
	sync   *netview.SyncEngine

	serializeEvery int64 // мс
	lastSerialize  int64
	serialized     bool
	nextView       int32
	closed         bool
}

// New проверяет настройки и собирает контекст. Подключение — Connect.
func New(settings config.AppSettings, opts ...Option) (*Context, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	o := options{log: zap.NewNop()}
	for _, f := range opts {
		f(&o)
	}

	pc := peer.DefaultConfig()
	pc.KeepAliveInterval = settings.KeepAliveInterval()
	pc.DisconnectTimeout = settings.DisconnectTimeout()

	c := &Context{
		log:            o.log.Named("network"),
		settings:       settings,
		views:          netview.NewViews(),
		table:          netview.NewTable(),
		serializeEvery: int64(1000 / settings.Sync.SerializationRate),
	}
	c.client = session.New(append([]session.Option{
		session.WithLogger(o.log),
		session.WithPeerOptions(peer.WithConfig(pc)),
	}, o.session...)...)
	c.rpc = netview.NewDispatcher(c.views, c.table, c, netview.WithLogger(o.log))
	c.sync = netview.NewSyncEngine(c.views, c, netview.Thresholds{
		Vector:          settings.Sync.VectorThreshold,
		QuaternionAngle: settings.Sync.QuaternionAngle,
		Float:           settings.Sync.FloatThreshold,
	}, netview.WithLogger(o.log))
	c.client.AddCallbackTarget(c)
	return c, nil
}

func (c *Context) Client() *session.Client      { return c.client }
func (c *Context) Views() *netview.Views        { return c.views }
func (c *Context) Table() *netview.Table        { return c.table }
func (c *Context) Settings() config.AppSettings { return c.settings }

// Connect подключается к name server с настройками контекста.
func (c *Context) Connect() bool {
	if c.closed {
		c.log.Warn("connect after close")
		return false
	}
	return c.client.ConnectUsingSettings(c.settings)
}

// SetRPCShortcuts — общий для всех клиентов список имён методов.
func (c *Context) SetRPCShortcuts(names []string) { c.rpc.SetShortcuts(names) }

// SetLevelPrefix задаёт префикс уровня для синхронизации и новых объектов.
func (c *Context) SetLevelPrefix(prefix int16) { c.sync.Prefix = prefix }

// RPC вызывает метод на объекте v у адресатов target.
func (c *Context) RPC(v *netview.View, method string, target netview.Target, args ...any) bool {
	if c.closed {
		return false
	}
	if !c.client.InRoom() {
		c.log.Warn("rpc outside of room", zap.String("method", method))
		return false
	}
	return c.rpc.Call(v, method, target, args...)
}

// AllocateView создаёт объект, принадлежащий локальному игроку.
func (c *Context) AllocateView() (*netview.View, error) {
	if c.closed {
		return nil, ErrClosed
	}
	actor := c.LocalActor()
	if actor == 0 {
		return nil, ErrNotInRoom
	}
	for i := 0; i < MaxViewIDs-1; i++ {
		c.nextView = c.nextView%(MaxViewIDs-1) + 1
		id := actor*MaxViewIDs + c.nextView
		if c.views.Get(id) != nil {
			continue
		}
		v := netview.NewView(id, actor)
		v.Prefix = c.sync.Prefix
		if err := c.views.Add(v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, fmt.Errorf("actor %d: %w", actor, ErrViewsExhausted)
}

// Tick обслуживает входящий трафик и, если пора, рассылает снимки
// состояния. nowMillis — монотонное время хоста.
func (c *Context) Tick(nowMillis int64) int {
	if c.closed {
		return 0
	}
	n := c.client.Service()
	if !c.client.InRoom() {
		return n
	}
	if c.serialized && nowMillis-c.lastSerialize < c.serializeEvery {
		return n
	}
	c.serialized, c.lastSerialize = true, nowMillis
	c.sync.Serialize()
	return n
}

// Close отключается и закрывает цели объектов, реализующие io.Closer.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.client.RemoveCallbackTarget(c)
	if c.client.State() != session.Disconnected && c.client.State() != session.PeerCreated {
		c.client.Disconnect()
	}
	c.client.Service()

	err := c.closeViews()
	c.log.Info("closed", zap.Error(err))
	return err
}

func (c *Context) closeViews() error {
	var err error
	for _, v := range c.views.All() {
		for _, t := range v.Targets() {
			if cl, ok := t.(io.Closer); ok {
				err = multierr.Append(err, cl.Close())
			}
		}
	}
	c.views.Clear()
	c.sync.Reset()
	return err
}

// ========================= netview.Sender =========================

func (c *Context) LocalActor() int32 {
	if p := c.client.LocalPlayer(); p != nil {
		return p.ActorNumber()
	}
	return 0
}

func (c *Context) IsMasterClient() bool {
	p := c.client.LocalPlayer()
	return p != nil && p.IsMasterClient()
}

func (c *Context) ServerTimestamp() int32 { return c.client.ServerTimestamp() }

func (c *Context) RaiseEvent(code byte, content any, o netview.EventOptions) bool {
	ro := session.RaiseEventOptions{}
	switch o.Receivers {
	case netview.ToAll:
		ro.Receivers = session.ReceiversAll
	case netview.ToMaster:
		ro.Receivers = session.ReceiversMasterClient
	}
	if o.Cache {
		ro.Caching = session.CacheAddToRoomCache
	}
	return c.client.OpRaiseEvent(code, content, ro, peer.SendOptions{Reliable: o.Reliable})
}

// ========================= callbacks =========================

func (c *Context) OnEvent(ev *protocol.EventData) {
	switch ev.Code {
	case netview.EventRPC:
		c.rpc.HandleEvent(ev.Sender, ev.Get(session.ParamData))
	case netview.EventSerialize, netview.EventSerializeReliable:
		c.sync.HandleEvent(ev.Sender, ev.Get(session.ParamData))
	}
}

func (c *Context) OnJoinedRoom() {
	c.serialized = false
	c.sync.Reset()
}

// OnLeftRoom — объекты живут не дольше комнаты.
func (c *Context) OnLeftRoom() {
	if err := c.closeViews(); err != nil {
		c.log.Warn("close views", zap.Error(err))
	}
	c.nextView = 0
}

func (c *Context) OnFriendListUpdate([]session.FriendInfo) {}
func (c *Context) OnCreatedRoom()                          {}
func (c *Context) OnCreateRoomFailed(int16, string)        {}
func (c *Context) OnJoinRoomFailed(int16, string)          {}
func (c *Context) OnJoinRandomFailed(int16, string)        {}

// OnPlayerEnteredRoom — у вошедшего нет базы для дельт, следующий снимок
// уходит полным.
func (c *Context) OnPlayerEnteredRoom(*room.Player) { c.sync.ResetSent() }

// OnPlayerLeftRoom убирает объекты ушедшего игрока.
func (c *Context) OnPlayerLeftRoom(p *room.Player) {
	if p == nil || p.IsInactive() {
		return
	}
	for _, v := range c.views.All() {
		if v.Owner == p.ActorNumber() {
			c.views.Remove(v.ID)
		}
	}
}

func (c *Context) OnRoomPropertiesUpdate(protocol.Hashtable)                 {}
func (c *Context) OnPlayerPropertiesUpdate(*room.Player, protocol.Hashtable) {}
func (c *Context) OnMasterClientSwitched(*room.Player)                       {}

func (c *Context) OnConnected()                              {}
func (c *Context) OnConnectedToMaster()                      {}
func (c *Context) OnRegionListReceived(*regions.Handler)     {}
func (c *Context) OnCustomAuthenticationFailed(string)       {}

func (c *Context) OnDisconnected(cause session.DisconnectCause) {
	c.log.Info("disconnected", zap.Stringer("cause", cause))
}
