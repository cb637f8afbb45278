// Package peertest — транспорт в памяти для тестов пира и сессии.
// Network выдаёт транспорты через Factory и позволяет сценарию «сервера»
// отвечать на каждую отправленную операцию.
package peertest

import (
	"context"
	"errors"
	"sync"

	"github.com/EgorLis/roomnet/internal/protocol"
	"github.com/EgorLis/roomnet/internal/transport"
)

var ErrRefused = errors.New("peertest: connection refused")

// Serve вызывается на каждую отправленную операцию (кадр вида 2).
type Serve func(t *Transport, req *protocol.OperationRequest)

type Network struct {
	Codec *protocol.Codec

	mu         sync.Mutex
	transports []*Transport
	refuse     map[transport.Protocol]bool
	serve      Serve
}

func NewNetwork() *Network {
	return &Network{Codec: protocol.NewCodec(nil), refuse: map[transport.Protocol]bool{}}
}

// Refuse заставляет Connect по протоколу p завершаться ошибкой.
func (n *Network) Refuse(p transport.Protocol) {
	n.mu.Lock()
	n.refuse[p] = true
	n.mu.Unlock()
}

func (n *Network) Handle(s Serve) {
	n.mu.Lock()
	n.serve = s
	n.mu.Unlock()
}

// Factory совместима с peer.TransportFactory.
func (n *Network) Factory(p transport.Protocol, h transport.Handler) (transport.Transport, error) {
	t := &Transport{net: n, h: h, Protocol: p}
	n.mu.Lock()
	n.transports = append(n.transports, t)
	n.mu.Unlock()
	return t, nil
}

// Last — последний созданный транспорт.
func (n *Network) Last() *Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.transports) == 0 {
		return nil
	}
	return n.transports[len(n.transports)-1]
}

func (n *Network) Transports() []*Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Transport(nil), n.transports...)
}

type Transport struct {
	Protocol transport.Protocol

	net *Network
	h   transport.Handler

	mu        sync.Mutex
	address   string
	connected bool
	sent      [][]byte
}

func (t *Transport) Connect(_ context.Context, address string) error {
	t.net.mu.Lock()
	refused := t.net.refuse[t.Protocol]
	t.net.mu.Unlock()
	if refused {
		return ErrRefused
	}
	t.mu.Lock()
	t.address, t.connected = address, true
	t.mu.Unlock()
	return nil
}

func (t *Transport) Send(frame []byte, _ bool) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return transport.ErrNotConnected
	}
	t.sent = append(t.sent, append([]byte(nil), frame...))
	t.mu.Unlock()

	t.net.mu.Lock()
	serve := t.net.serve
	t.net.mu.Unlock()
	if serve == nil || len(frame) < 2 || frame[1] != 2 {
		return nil
	}
	if req, ok := t.decodeRequest(frame); ok {
		serve(t, req)
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	was := t.connected
	t.connected = false
	t.mu.Unlock()
	if was {
		t.h.OnClosed()
	}
	return nil
}

func (t *Transport) Address() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.address
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Sent — копии всех отправленных кадров.
func (t *Transport) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.sent...)
}

// Requests декодирует отправленные операции (без внутренних ping).
func (t *Transport) Requests() []*protocol.OperationRequest {
	var out []*protocol.OperationRequest
	for _, f := range t.Sent() {
		if len(f) < 2 || f[1] != 2 {
			continue
		}
		if req, ok := t.decodeRequest(f); ok {
			out = append(out, req)
		}
	}
	return out
}

func (t *Transport) decodeRequest(frame []byte) (*protocol.OperationRequest, bool) {
	v, err := t.net.Codec.Unmarshal(frame[2:])
	if err != nil {
		return nil, false
	}
	req, ok := v.(*protocol.OperationRequest)
	return req, ok
}

// Deliver передаёт сырой кадр так, будто он пришёл от сервера.
func (t *Transport) Deliver(frame []byte) { t.h.OnFrame(frame) }

func (t *Transport) Respond(resp *protocol.OperationResponse) {
	t.Deliver(t.frame(3, resp))
}

func (t *Transport) Event(ev *protocol.EventData) {
	t.Deliver(t.frame(4, ev))
}

// Pong отвечает на внутренний ping заданным серверным временем.
func (t *Transport) Pong(clientTime, serverTime int32) {
	t.Deliver(t.frame(7, &protocol.OperationResponse{
		Code:       1,
		Parameters: protocol.ParameterMap{1: clientTime, 2: serverTime},
	}))
}

// Drop — сервер оборвал соединение.
func (t *Transport) Drop() {
	t.mu.Lock()
	was := t.connected
	t.connected = false
	t.mu.Unlock()
	if was {
		t.h.OnClosed()
	}
}

func (t *Transport) frame(kind byte, v any) []byte {
	b, err := t.net.Codec.Marshal(v)
	if err != nil {
		panic(err)
	}
	return append([]byte{0xF3, kind}, b...)
}
