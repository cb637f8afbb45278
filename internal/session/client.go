// Package session — конечный автомат сессии: name-сервер → мастер →
// игровой сервер, аутентификация, лобби, вход в комнату и переходы между
// серверами.
//
// Все колбэки вызываются из Service(), который хост крутит в своём цикле.
// Колбэкам нельзя рекурсивно вызывать Service; операции, отправленные из
// колбэка, обработаются в следующих вызовах.
//
// Протокол не знает идентификаторов запросов: на каждый код операции, чей
// ответ меняет состояние, допускается ровно одно ожидание. Повторный такой
// запрос до ответа отклоняется.
package session

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/EgorLis/roomnet/internal/config"
	"github.com/EgorLis/roomnet/internal/peer"
	"github.com/EgorLis/roomnet/internal/protocol"
	"github.com/EgorLis/roomnet/internal/regions"
	"github.com/EgorLis/roomnet/internal/room"
	"github.com/EgorLis/roomnet/internal/transport"
)

type Option func(*Client)

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = l } }

// WithPeerOptions передаёт опции пиру (транспорт, кодек, метрики, часы).
func WithPeerOptions(opts ...peer.Option) Option {
	return func(c *Client) { c.peerOpts = append(c.peerOpts, opts...) }
}

// WithPinger подменяет UDP-пинг регионов.
func WithPinger(p regions.Pinger) Option { return func(c *Client) { c.pinger = p } }

func WithRegionMetrics(m *regions.Metrics) Option {
	return func(c *Client) { c.regionMetrics = m }
}

// TypedLobby — лобби по имени и типу; пустое имя — лобби по умолчанию.
type TypedLobby struct {
	Name string
	Type byte
}

// AppStats — счётчики из события AppStats.
type AppStats struct {
	PeersOnMaster int32
	PeersInGames  int32
	Games         int32
}

type Client struct {
	log           *zap.Logger
	peer          *peer.Peer
	peerOpts      []peer.Option
	pinger        regions.Pinger
	regionMetrics *regions.Metrics
	regions       *regions.Handler

	settings config.AppSettings
	proto    transport.Protocol
	// fallbackUsed — повторная попытка другим протоколом уже была
	fallbackUsed bool

	state  ClientState
	server ServerConnection
	cause  DisconnectCause

	userID        string
	nickName      string
	region        string
	token         string
	masterAddress string
	gameAddress   string
	summary       string

	lobby      TypedLobby
	inLobby    bool
	lobbyCache *room.Lobby
	stats      AppStats

	enter       *enterRoom
	currentRoom *room.Room
	localActor  int32
	offline     bool

	inFlight       map[byte]bool
	friendsRequest []string

	targetsMu sync.Mutex
	cb        callbackGroups
}

func New(opts ...Option) *Client {
	c := &Client{
		log:        zap.NewNop(),
		state:      PeerCreated,
		lobbyCache: room.NewLobby(),
		inFlight:   map[byte]bool{},
		settings:   config.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.Named("session")
	c.peer = peer.New(peerListener{c}, append([]peer.Option{peer.WithLogger(c.log)}, c.peerOpts...)...)
	if c.pinger == nil {
		c.pinger = &regions.UDPPinger{}
	}
	c.regions = c.newRegionHandler()
	return c
}

func (c *Client) newRegionHandler() *regions.Handler {
	return regions.NewHandler(c.pinger,
		regions.WithLogger(c.log),
		regions.WithMetrics(c.regionMetrics),
		regions.WithConfig(regions.Config{
			Attempts:          c.settings.Ping.Attempts,
			PerAttemptTimeout: c.settings.PerAttemptTimeout(),
		}),
	)
}

// ========================= accessors =========================

func (c *Client) State() ClientState               { return c.state }
func (c *Client) Server() ServerConnection         { return c.server }
func (c *Client) DisconnectCause() DisconnectCause { return c.cause }
func (c *Client) Peer() *peer.Peer                 { return c.peer }
func (c *Client) UserID() string                   { return c.userID }
func (c *Client) NickName() string                 { return c.nickName }
func (c *Client) CloudRegion() string              { return c.region }
func (c *Client) RegionHandler() *regions.Handler  { return c.regions }
func (c *Client) CurrentRoom() *room.Room          { return c.currentRoom }
func (c *Client) InLobby() bool                    { return c.inLobby }
func (c *Client) CurrentLobby() TypedLobby         { return c.lobby }
func (c *Client) RoomList() []*room.RoomInfo       { return c.lobbyCache.Rooms() }
func (c *Client) Stats() AppStats                  { return c.stats }
func (c *Client) OfflineMode() bool                { return c.offline }
func (c *Client) MasterServerAddress() string      { return c.masterAddress }
func (c *Client) GameServerAddress() string        { return c.gameAddress }

// BestRegionSummary — строка для PickBest в следующий раз; хранит хост.
func (c *Client) BestRegionSummary() string { return c.summary }

func (c *Client) InRoom() bool { return c.state == Joined && c.currentRoom != nil }

func (c *Client) LocalPlayer() *room.Player {
	if c.currentRoom == nil {
		return nil
	}
	return c.currentRoom.Player(c.localActor)
}

// IsConnectedAndReady — можно отправлять операции мастеру или в комнату.
func (c *Client) IsConnectedAndReady() bool {
	switch c.state {
	case ConnectedToNameServer, ConnectedToMasterServer, JoinedLobby, Joined:
		return true
	}
	return false
}

// SetNickName меняет имя; в комнате — через свойства игрока.
func (c *Client) SetNickName(name string) {
	c.nickName = name
	if p := c.LocalPlayer(); p != nil {
		p.SetNickName(name)
	}
}

// ServerTimestamp — оценка серверного времени в мс.
func (c *Client) ServerTimestamp() int32 { return c.peer.ServerTimestamp() }

// ========================= callbacks =========================

// AddCallbackTarget регистрирует цель во всех группах, которые она
// реализует. Вступает в силу перед следующей диспетчеризацией.
func (c *Client) AddCallbackTarget(target any) {
	c.targetsMu.Lock()
	c.cb.queue(target, true)
	c.targetsMu.Unlock()
}

func (c *Client) RemoveCallbackTarget(target any) {
	c.targetsMu.Lock()
	c.cb.queue(target, false)
	c.targetsMu.Unlock()
}

func (c *Client) settleTargets() {
	c.targetsMu.Lock()
	c.cb.settle()
	c.targetsMu.Unlock()
}

func (c *Client) onConnection(f func(ConnectionCallbacks)) {
	c.settleTargets()
	c.cb.connection.each(f)
}

func (c *Client) onMatchmaking(f func(MatchmakingCallbacks)) {
	c.settleTargets()
	c.cb.matchmaking.each(f)
}

func (c *Client) onLobby(f func(LobbyCallbacks)) {
	c.settleTargets()
	c.cb.lobby.each(f)
}

func (c *Client) onInRoom(f func(InRoomCallbacks)) {
	c.settleTargets()
	c.cb.inRoom.each(f)
}

func (c *Client) onErrorInfo(info string) {
	c.settleTargets()
	c.cb.errorInfo.each(func(cb ErrorInfoCallback) { cb.OnErrorInfo(info) })
}

func (c *Client) onEvent(ev *protocol.EventData) {
	c.settleTargets()
	c.cb.event.each(func(cb EventCallback) { cb.OnEvent(ev) })
}

// ========================= loop =========================

// Service применяет отложенные регистрации колбэков и выполняет всё, что
// накопилось в очереди пира. Возвращает число обработанных элементов.
func (c *Client) Service() int {
	c.settleTargets()
	return c.peer.Service()
}

func (c *Client) setState(s ClientState) {
	if s == c.state {
		return
	}
	c.log.Debug("state", zap.Stringer("from", c.state), zap.Stringer("to", s))
	c.state = s
}

// ========================= connect =========================

// ConnectUsingSettings подключается к name-серверу; с FixedRegion
// аутентифицируется сразу с этим регионом, иначе сначала выбирает регион.
func (c *Client) ConnectUsingSettings(s config.AppSettings) bool {
	if c.state != PeerCreated && c.state != Disconnected {
		c.log.Warn("ConnectUsingSettings: already connected", zap.Stringer("state", c.state))
		return false
	}
	if err := s.Validate(); err != nil {
		c.log.Error("ConnectUsingSettings: bad settings", zap.Error(err))
		return false
	}
	c.settings = s
	c.proto = s.Protocol
	c.fallbackUsed = false
	c.userID = s.UserID
	if c.nickName == "" {
		c.nickName = s.NickName
	}
	c.region = s.FixedRegion
	c.summary = s.BestRegionSummary
	c.token = ""
	c.regions = c.newRegionHandler()
	return c.ConnectToNameServer()
}

func (c *Client) ConnectToNameServer() bool {
	if c.settings.AppID == "" {
		c.log.Error("ConnectToNameServer: AppID is not set, call ConnectUsingSettings")
		return false
	}
	switch c.state {
	case PeerCreated, Disconnected, ConnectWithFallbackProtocol:
	default:
		c.log.Warn("ConnectToNameServer: wrong state", zap.Stringer("state", c.state))
		return false
	}
	c.cause = CauseNone
	return c.connectTo(NameServer, c.settings.NameServer, ConnectingToNameServer)
}

// ConnectToRegionMaster подключается к мастеру заданного региона через
// name-сервер.
func (c *Client) ConnectToRegionMaster(region string) bool {
	region = strings.ToLower(strings.TrimSpace(region))
	if region == "" {
		c.log.Warn("ConnectToRegionMaster: empty region")
		return false
	}
	c.region = region
	if c.server == NameServer && c.state == ConnectedToNameServer {
		return c.authenticate()
	}
	return c.ConnectToNameServer()
}

func (c *Client) connectTo(server ServerConnection, address string, next ClientState) bool {
	c.server = server
	c.setState(next)
	if !c.peer.Connect(address, c.proto) {
		c.log.Error("connect failed", zap.Stringer("server", server), zap.String("address", address))
		c.setState(Disconnected)
		return false
	}
	return true
}

// Disconnect рвёт соединение; OnDisconnected придёт из Service.
func (c *Client) Disconnect() {
	if c.offline {
		c.offlineDisconnect()
		return
	}
	if c.state == Disconnected || c.state == PeerCreated {
		return
	}
	c.disconnectWith(CauseDisconnectByClientLogic)
}

func (c *Client) disconnectWith(cause DisconnectCause) {
	c.cause = cause
	c.setState(Disconnecting)
	c.regions.Cancel()
	c.peer.Disconnect()
}

// ========================= peer listener =========================

type peerListener struct{ c *Client }

func (l peerListener) OnStatusChanged(s peer.StatusCode)                 { l.c.onStatus(s) }
func (l peerListener) OnOperationResponse(r *protocol.OperationResponse) { l.c.onResponse(r) }
func (l peerListener) OnEvent(ev *protocol.EventData)                    { l.c.handleEvent(ev) }

func (c *Client) onStatus(s peer.StatusCode) {
	c.log.Debug("peer status", zap.Stringer("status", s), zap.Stringer("state", c.state))
	switch s {
	case peer.StatusConnect:
		c.onConnected()

	case peer.StatusExceptionOnConnect, peer.StatusTimeoutDisconnect:
		if c.state == ConnectingToNameServer && c.settings.EnableProtocolFallback && !c.fallbackUsed {
			c.log.Info("name server unreachable, retrying with fallback protocol",
				zap.Stringer("from", c.proto), zap.Stringer("to", c.proto.Fallback()))
			c.setState(ConnectWithFallbackProtocol)
			return
		}
		if s == peer.StatusExceptionOnConnect {
			c.cause = CauseExceptionOnConnect
		} else {
			c.cause = CauseClientTimeout
		}
	case peer.StatusException, peer.StatusSendError:
		c.cause = CauseException
	case peer.StatusDisconnectByServer:
		c.cause = CauseServerTimeout

	case peer.StatusDisconnect:
		c.onDisconnected()
	}
}

func (c *Client) onConnected() {
	switch c.state {
	case ConnectingToNameServer:
		c.setState(ConnectedToNameServer)
		c.onConnection(func(cb ConnectionCallbacks) { cb.OnConnected() })
		if c.region != "" {
			c.authenticate()
			return
		}
		c.OpGetRegions()
	case ConnectingToMasterServer, ConnectingToGameServer:
		// аутентификация раньше, чем состояние станет «подключён»
		c.authenticate()
	default:
		c.log.Warn("unexpected connect", zap.Stringer("state", c.state))
	}
}

func (c *Client) onDisconnected() {
	c.clearInFlight()
	switch c.state {
	case ConnectWithFallbackProtocol:
		c.fallbackUsed = true
		c.proto = c.proto.Fallback()
		c.connectTo(NameServer, c.settings.NameServer, ConnectingToNameServer)
	case DisconnectingFromNameServer:
		c.connectTo(MasterServer, c.masterAddress, ConnectingToMasterServer)
	case DisconnectingFromMasterServer:
		c.connectTo(GameServer, c.gameAddress, ConnectingToGameServer)
	case DisconnectingFromGameServer:
		c.connectTo(MasterServer, c.masterAddress, ConnectingToMasterServer)
	default:
		c.regions.Cancel()
		if c.cause == CauseNone {
			c.cause = CauseDisconnectByServerReasonUnknown
		}
		c.inLobby = false
		c.enter = nil
		wasInRoom := c.currentRoom != nil
		c.currentRoom = nil
		c.setState(Disconnected)
		if wasInRoom {
			c.onMatchmaking(func(cb MatchmakingCallbacks) { cb.OnLeftRoom() })
		}
		cause := c.cause
		c.onConnection(func(cb ConnectionCallbacks) { cb.OnDisconnected(cause) })
	}
}

func (c *Client) clearInFlight() {
	for k := range c.inFlight {
		delete(c.inFlight, k)
	}
}

// ========================= send =========================

// correlated — операции, ответ на которые двигает автомат.
func correlated(code byte) bool {
	switch code {
	case OpAuthenticate, OpGetRegions, OpJoinLobby, OpLeaveLobby,
		OpCreateGame, OpJoinGame, OpJoinRandomGame, OpLeave, OpFindFriends:
		return true
	}
	return false
}

func (c *Client) send(code byte, params protocol.ParameterMap, opts peer.SendOptions) bool {
	if correlated(code) && c.inFlight[code] {
		c.log.Warn("operation already awaiting response", zap.Uint8("code", code))
		return false
	}
	if !c.peer.SendOperation(code, params, opts) {
		return false
	}
	if correlated(code) {
		c.inFlight[code] = true
	}
	return true
}

// ========================= region flow =========================

func (c *Client) onRegionList(resp *protocol.OperationResponse) {
	if resp.ReturnCode != CodeOk {
		c.log.Error("GetRegions failed", zap.Int16("code", resp.ReturnCode), zap.String("msg", resp.DebugMessage))
		c.disconnectWith(causeForAuthError(resp.ReturnCode))
		return
	}
	if err := c.regions.SetRegions(resp); err != nil {
		c.log.Error("GetRegions: bad response", zap.Error(err))
		c.disconnectWith(CauseDisconnectByServerReasonUnknown)
		return
	}
	h := c.regions
	c.onConnection(func(cb ConnectionCallbacks) { cb.OnRegionListReceived(h) })

	if c.region != "" {
		// регион выбрал колбэк (ConnectToRegionMaster)
		return
	}
	p := c.peer
	err := h.PickBest(context.Background(), c.summary, func(*regions.Handler) {
		// результат возвращаем в горутину диспетчеризации
		p.Post(c.onBestRegion)
	})
	if err != nil {
		c.log.Error("PickBest", zap.Error(err))
	}
}

func (c *Client) onBestRegion() {
	if c.state != ConnectedToNameServer || c.region != "" {
		return
	}
	best, ok := c.regions.BestRegion()
	if !ok {
		c.log.Error("no region could be selected")
		c.disconnectWith(CauseInvalidRegion)
		return
	}
	c.summary = c.regions.Summary()
	c.region = best.Code
	c.log.Info("selected region", zap.String("region", best.Code), zap.Int("ping", best.Ping))
	c.authenticate()
}
