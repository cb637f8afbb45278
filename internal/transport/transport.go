// Package transport — двунаправленный канал байтовых кадров до сервера.
// Ядру клиента нужен только контракт Transport: подключиться, отправить
// кадр, закрыть; входящие кадры, ошибки и закрытие приходят асинхронно
// через колбэки Handler (аналог OnMessage/OnError/OnDisconnected).
//
// Встроены две реализации: WebSocket (ws/wss, gorilla/websocket) и TCP с
// кадрами, предварёнными 4-байтовой длиной.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrNotConnected    = errors.New("transport: not connected")
	ErrUnknownProtocol = errors.New("transport: unknown protocol")
	ErrFrameTooLarge   = errors.New("transport: frame too large")
)

// Protocol — вид транспорта.
type Protocol byte

const (
	TCP Protocol = iota
	WebSocket
	WebSocketSecure
)

func (p Protocol) String() string {
	switch p {
	case TCP:
		return "tcp"
	case WebSocket:
		return "ws"
	case WebSocketSecure:
		return "wss"
	}
	return fmt.Sprintf("protocol(%d)", byte(p))
}

// ParseProtocol разбирает "tcp", "ws", "wss".
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tcp":
		return TCP, nil
	case "ws", "websocket":
		return WebSocket, nil
	case "wss", "websocketsecure":
		return WebSocketSecure, nil
	}
	return 0, fmt.Errorf("%q: %w", s, ErrUnknownProtocol)
}

func (p Protocol) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Protocol) UnmarshalText(b []byte) error {
	v, err := ParseProtocol(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Fallback — протокол для единственной повторной попытки подключения:
// TCP ↔ WebSocket, WSS → TCP.
func (p Protocol) Fallback() Protocol {
	if p == TCP {
		return WebSocket
	}
	return TCP
}

// Handler — колбэки транспорта. Вызываются из горутины чтения.
type Handler struct {
	OnFrame  func([]byte)
	OnError  func(error)
	OnClosed func()
}

func (h Handler) frame(b []byte) {
	if h.OnFrame != nil {
		h.OnFrame(b)
	}
}

func (h Handler) error(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func (h Handler) closed() {
	if h.OnClosed != nil {
		h.OnClosed()
	}
}

// Transport — контракт, от которого зависит ядро.
// После успешного Connect ровно один раз будет вызван OnClosed.
type Transport interface {
	Connect(ctx context.Context, address string) error
	// Send отправляет кадр. reliable — подсказка для датаграммных
	// транспортов; потоковые всегда надёжны.
	Send(frame []byte, reliable bool) error
	Close() error
}

// Factory создаёт транспорт с заданными колбэками.
type Factory func(h Handler) Transport

var (
	factoriesMu sync.RWMutex
	factories   = map[Protocol]Factory{
		TCP:             func(h Handler) Transport { return NewTCP(h) },
		WebSocket:       func(h Handler) Transport { return NewWebSocket(false, h) },
		WebSocketSecure: func(h Handler) Transport { return NewWebSocket(true, h) },
	}
)

// Register подменяет фабрику для протокола (например, в тестах).
func Register(p Protocol, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[p] = f
}

// New создаёт транспорт для протокола p.
func New(p Protocol, h Handler) (Transport, error) {
	factoriesMu.RLock()
	f, ok := factories[p]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%v: %w", p, ErrUnknownProtocol)
	}
	return f(h), nil
}
