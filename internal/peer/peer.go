// Package peer — диспетчер операций: превращает (код, параметры) в кадры,
// отправляет их через transport.Transport и превращает входящие кадры в
// OperationResponse/EventData для Listener.
//
// Входящие кадры и смены статуса не вызывают Listener напрямую из горутины
// транспорта: они копятся в очереди и выполняются в Service(), который
// хост вызывает из своего цикла. Колбэки никогда не вызываются повторно
// изнутри Service — всё, что они ставят в очередь, выполнится в следующем
// вызове.
//
// В протоколе нет идентификатора запроса: ответы сопоставляются по коду
// операции на стороне вызывающего и могут приходить не в порядке запросов.
package peer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/EgorLis/roomnet/internal/protocol"
	"github.com/EgorLis/roomnet/internal/transport"
)

// Listener получает результаты диспетчеризации (в горутине Service).
type Listener interface {
	OnStatusChanged(status StatusCode)
	OnOperationResponse(resp *protocol.OperationResponse)
	OnEvent(ev *protocol.EventData)
}

// Encryptor шифрует payload кадров с SendOptions.Encrypt.
type Encryptor interface {
	Encrypt(plain []byte) ([]byte, error)
	Decrypt(cipher []byte) ([]byte, error)
}

type SendOptions struct {
	Reliable bool
	Encrypt  bool
	Channel  byte
}

// SendReliable — опции по умолчанию для операций лобби и комнаты.
var SendReliable = SendOptions{Reliable: true}

type Config struct {
	// KeepAliveInterval — как часто слать ping при отсутствии исходящего трафика.
	KeepAliveInterval time.Duration
	// DisconnectTimeout — через сколько без входящего трафика соединение считается потерянным.
	DisconnectTimeout time.Duration
	ConnectTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		KeepAliveInterval: time.Second,
		DisconnectTimeout: 10 * time.Second,
		ConnectTimeout:    10 * time.Second,
	}
}

// TransportFactory создаёт транспорт для очередного подключения.
type TransportFactory func(transport.Protocol, transport.Handler) (transport.Transport, error)

type Option func(*Peer)

func WithLogger(l *zap.Logger) Option { return func(p *Peer) { p.log = l.Named("peer") } }

func WithClock(c clock.Clock) Option { return func(p *Peer) { p.clock = c } }

func WithMetrics(m *Metrics) Option { return func(p *Peer) { p.metrics = m } }

func WithCodec(c *protocol.Codec) Option { return func(p *Peer) { p.codec = c } }

func WithEncryptor(e Encryptor) Option { return func(p *Peer) { p.enc = e } }

func WithConfig(c Config) Option { return func(p *Peer) { p.cfg = c } }

func WithTransportFactory(f TransportFactory) Option {
	return func(p *Peer) { p.newTransport = f }
}

type connState int32

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
	stateDisconnecting
)

type Peer struct {
	listener     Listener
	codec        *protocol.Codec
	log          *zap.Logger
	clock        clock.Clock
	metrics      *Metrics
	enc          Encryptor
	cfg          Config
	newTransport TransportFactory

	mu       sync.Mutex
	tr       transport.Transport
	state    connState
	gen      uint64 // номер подключения: колбэки старых транспортов игнорируются
	cancel   context.CancelFunc
	proto    transport.Protocol
	address  string
	timedOut bool
	lastErr  error
	queue    []func()

	kmu      sync.Mutex
	keepStop chan struct{} // стоп-канал keep-alive горутины

	dispatching  atomic.Bool
	lastReceive  atomic.Int64 // unix nanos последнего входящего кадра
	lastSend     atomic.Int64
	rtt          atomic.Int64 // мс
	serverOffset atomic.Int64 // мс, серверное время минус локальное
}

func New(listener Listener, opts ...Option) *Peer {
	p := &Peer{
		listener:     listener,
		codec:        protocol.NewCodec(nil),
		log:          zap.NewNop(),
		clock:        clock.New(),
		cfg:          DefaultConfig(),
		newTransport: transport.New,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Peer) Codec() *protocol.Codec { return p.codec }

// Connect начинает асинхронное подключение. Результат придёт статусом
// Connect или ExceptionOnConnect. false — пир уже подключён или подключается.
func (p *Peer) Connect(address string, proto transport.Protocol) bool {
	p.mu.Lock()
	if p.state != stateDisconnected {
		p.mu.Unlock()
		p.log.Warn("connect ignored: peer is not disconnected", zap.String("address", address))
		return false
	}
	p.gen++
	gen := p.gen
	tr, err := p.newTransport(proto, p.handlerFor(gen))
	if err != nil {
		p.mu.Unlock()
		p.log.Error("create transport", zap.Stringer("protocol", proto), zap.Error(err))
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectTimeout)
	p.tr, p.state, p.cancel = tr, stateConnecting, cancel
	p.proto, p.address = proto, address
	p.timedOut, p.lastErr = false, nil
	p.mu.Unlock()

	p.log.Debug("connecting", zap.String("address", address), zap.Stringer("protocol", proto))
	go p.dial(ctx, gen, tr, address)
	return true
}

func (p *Peer) dial(ctx context.Context, gen uint64, tr transport.Transport, address string) {
	err := tr.Connect(ctx, address)

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		if err == nil {
			_ = tr.Close()
		}
		return
	}
	p.cancel()
	if p.state == stateDisconnecting {
		// Disconnect во время подключения
		p.state, p.tr = stateDisconnected, nil
		p.mu.Unlock()
		if err == nil {
			_ = tr.Close()
		}
		p.enqueueStatus(StatusDisconnect)
		return
	}
	if err != nil {
		p.state, p.tr = stateDisconnected, nil
		p.mu.Unlock()
		p.log.Warn("connect failed", zap.String("address", address), zap.Error(err))
		p.enqueueStatus(StatusExceptionOnConnect, StatusDisconnect)
		return
	}
	p.state = stateConnected
	p.mu.Unlock()

	now := p.clock.Now().UnixNano()
	p.lastReceive.Store(now)
	p.lastSend.Store(now)
	p.startKeepAlive(gen)
	p.enqueueStatus(StatusConnect)
}

// Disconnect закрывает транспорт; статус Disconnect придёт через Service.
func (p *Peer) Disconnect() {
	p.mu.Lock()
	switch p.state {
	case stateDisconnected, stateDisconnecting:
		p.mu.Unlock()
		return
	case stateConnecting:
		p.state = stateDisconnecting
		cancel := p.cancel
		p.mu.Unlock()
		cancel()
		return
	}
	p.state = stateDisconnecting
	tr := p.tr
	p.mu.Unlock()

	p.stopKeepAlive()
	if err := tr.Close(); err != nil {
		p.log.Debug("transport close", zap.Error(err))
	}
}

func (p *Peer) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateConnected
}

func (p *Peer) Address() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.address
}

func (p *Peer) Protocol() transport.Protocol {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.proto
}

// RoundTripTime — последнее измеренное время ping в мс.
func (p *Peer) RoundTripTime() int { return int(p.rtt.Load()) }

// ServerTimestamp — оценка серверного времени в мс (переполняется, как int32 на сервере).
func (p *Peer) ServerTimestamp() int32 {
	return int32(p.clock.Now().UnixMilli() + p.serverOffset.Load())
}

// SendOperation кодирует и отправляет операцию. false — канал не открыт
// или запрос не удалось закодировать/отправить (причина в логе).
func (p *Peer) SendOperation(code byte, params protocol.ParameterMap, opts SendOptions) bool {
	p.mu.Lock()
	tr := p.tr
	connected := p.state == stateConnected
	p.mu.Unlock()
	if !connected || tr == nil {
		p.log.Warn("cannot send operation: not connected", zap.Uint8("code", code))
		return false
	}

	var enc Encryptor
	if opts.Encrypt {
		if p.enc == nil {
			p.log.Error("cannot send encrypted operation: no encryptor", zap.Uint8("code", code))
			return false
		}
		enc = p.enc
	}

	frame, err := buildFrame(p.codec, kindOperationRequest, &protocol.OperationRequest{Code: code, Parameters: params}, enc)
	if err != nil {
		p.log.Error("encode operation", zap.Uint8("code", code), zap.Error(err))
		return false
	}
	if err := tr.Send(frame, opts.Reliable); err != nil {
		p.log.Error("send operation", zap.Uint8("code", code), zap.Error(err))
		p.enqueueStatus(StatusSendError)
		return false
	}
	p.lastSend.Store(p.clock.Now().UnixNano())
	p.metrics.operationSent(code, len(frame))
	return true
}

// Post ставит f в очередь диспетчеризации: так результаты фоновых
// горутин попадают в горутину Service.
func (p *Peer) Post(f func()) {
	p.mu.Lock()
	p.queue = append(p.queue, f)
	p.mu.Unlock()
}

// Service выполняет всё, что накопилось в очереди к моменту вызова.
// Возвращает число обработанных элементов.
func (p *Peer) Service() int {
	if !p.dispatching.CompareAndSwap(false, true) {
		p.log.Error("Service called from inside a callback; ignored")
		return 0
	}
	defer p.dispatching.Store(false)

	p.mu.Lock()
	items := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, f := range items {
		f()
	}
	return len(items)
}

// ========================= inbound =========================

func (p *Peer) enqueueStatus(codes ...StatusCode) {
	for _, c := range codes {
		c := c
		p.Post(func() { p.listener.OnStatusChanged(c) })
	}
}

func (p *Peer) handlerFor(gen uint64) transport.Handler {
	return transport.Handler{
		OnFrame: func(b []byte) {
			if p.isCurrent(gen) {
				p.onFrame(b)
			}
		},
		OnError: func(err error) {
			p.mu.Lock()
			if gen == p.gen {
				p.lastErr = err
			}
			p.mu.Unlock()
			p.log.Warn("transport error", zap.Error(err))
		},
		OnClosed: func() { p.onClosed(gen) },
	}
}

func (p *Peer) isCurrent(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen == p.gen && p.state == stateConnected
}

func (p *Peer) onClosed(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || p.state == stateDisconnected || p.state == stateConnecting {
		p.mu.Unlock()
		return
	}
	var codes []StatusCode
	switch {
	case p.state == stateDisconnecting:
		codes = []StatusCode{StatusDisconnect}
	case p.timedOut:
		codes = []StatusCode{StatusTimeoutDisconnect, StatusDisconnect}
	case p.lastErr != nil:
		codes = []StatusCode{StatusException, StatusDisconnect}
	default:
		codes = []StatusCode{StatusDisconnectByServer, StatusDisconnect}
	}
	p.state, p.tr = stateDisconnected, nil
	p.mu.Unlock()

	p.stopKeepAlive()
	p.enqueueStatus(codes...)
}

func (p *Peer) onFrame(b []byte) {
	p.lastReceive.Store(p.clock.Now().UnixNano())
	p.metrics.frameReceived(len(b))

	kind, payload, err := parseFrame(b, p.enc)
	if err != nil {
		p.log.Warn("drop frame", zap.Error(err))
		return
	}

	switch kind {
	case kindAck:
		return
	case kindInternalResponse:
		p.onPong(payload)
		return
	case kindOperationResponse, kindEvent:
	default:
		p.log.Debug("unknown frame kind", zap.Uint8("kind", uint8(kind)))
		return
	}

	// ответ или событие определяется тегом в начале payload
	v, err := p.codec.Unmarshal(payload)
	if err != nil {
		p.log.Error("decode frame", zap.Error(err))
		return
	}
	switch m := v.(type) {
	case *protocol.OperationResponse:
		p.metrics.response(m.Code, m.ReturnCode)
		p.Post(func() { p.listener.OnOperationResponse(m) })
	case *protocol.EventData:
		if sender, ok := m.Parameters[senderParameterKey].(int32); ok {
			m.Sender = sender
		}
		p.metrics.event(m.Code)
		p.Post(func() { p.listener.OnEvent(m) })
	default:
		p.log.Warn("unexpected payload", zap.String("type", typeName(v)))
	}
}

func (p *Peer) onPong(payload []byte) {
	v, err := p.codec.Unmarshal(payload)
	if err != nil {
		p.log.Warn("decode pong", zap.Error(err))
		return
	}
	resp, ok := v.(*protocol.OperationResponse)
	if !ok || resp.Code != internalPing {
		return
	}
	sent, ok1 := protocol.Get[int32](resp.Parameters, pingKeyClientTime)
	server, ok2 := protocol.Get[int32](resp.Parameters, pingKeyServerTime)
	if !ok1 || !ok2 {
		return
	}
	now := int32(p.clock.Now().UnixMilli())
	rtt := now - sent
	if rtt < 0 {
		rtt = 0
	}
	p.rtt.Store(int64(rtt))
	p.serverOffset.Store(int64(server + rtt/2 - now))
	p.metrics.rtt(int64(rtt))
}

func typeName(v any) string { return fmt.Sprintf("%T", v) }
