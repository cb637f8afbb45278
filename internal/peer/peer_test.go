package peer_test

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgorLis/roomnet/internal/peer"
	"github.com/EgorLis/roomnet/internal/peer/peertest"
	"github.com/EgorLis/roomnet/internal/protocol"
	"github.com/EgorLis/roomnet/internal/transport"
)

type listener struct {
	mu        sync.Mutex
	statuses  []peer.StatusCode
	responses []*protocol.OperationResponse
	events    []*protocol.EventData
	onStatus  func(peer.StatusCode)
}

func (l *listener) OnStatusChanged(s peer.StatusCode) {
	l.mu.Lock()
	l.statuses = append(l.statuses, s)
	f := l.onStatus
	l.mu.Unlock()
	if f != nil {
		f(s)
	}
}

func (l *listener) OnOperationResponse(r *protocol.OperationResponse) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.responses = append(l.responses, r)
}

func (l *listener) OnEvent(e *protocol.EventData) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *listener) Statuses() []peer.StatusCode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]peer.StatusCode(nil), l.statuses...)
}

// serviceUntil крутит Service, пока cond не станет истинным.
func serviceUntil(t *testing.T, p *peer.Peer, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		p.Service()
		return cond()
	}, 2*time.Second, time.Millisecond)
}

func connected(t *testing.T, opts ...peer.Option) (*peer.Peer, *listener, *peertest.Network) {
	t.Helper()
	net := peertest.NewNetwork()
	l := &listener{}
	opts = append([]peer.Option{peer.WithTransportFactory(net.Factory)}, opts...)
	p := peer.New(l, opts...)

	require.True(t, p.Connect("game:5055", transport.WebSocket))
	serviceUntil(t, p, func() bool { return len(l.Statuses()) > 0 })
	require.Equal(t, []peer.StatusCode{peer.StatusConnect}, l.Statuses())
	require.True(t, p.IsConnected())
	return p, l, net
}

func TestSendOperationFrame(t *testing.T) {
	p, _, net := connected(t)

	ok := p.SendOperation(226, protocol.ParameterMap{255: "room"}, peer.SendReliable)
	require.True(t, ok)

	sent := net.Last().Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []byte{0xF3, 2}, sent[0][:2])

	reqs := net.Last().Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, byte(226), reqs[0].Code)
	assert.Equal(t, "room", reqs[0].Parameters[255])
}

func TestSendWhenDisconnectedFails(t *testing.T) {
	p := peer.New(&listener{})
	assert.False(t, p.SendOperation(1, nil, peer.SendReliable))
}

func TestConnectTwiceIsRejected(t *testing.T) {
	p, _, _ := connected(t)
	assert.False(t, p.Connect("other:1", transport.TCP))
}

func TestInboundDispatchedOnlyFromService(t *testing.T) {
	p, l, net := connected(t)
	tr := net.Last()

	tr.Respond(&protocol.OperationResponse{Code: 230, ReturnCode: -2, DebugMessage: "nope"})
	tr.Event(&protocol.EventData{Code: 255, Parameters: protocol.ParameterMap{254: int32(3), 1: "x"}})

	l.mu.Lock()
	assert.Empty(t, l.responses, "callbacks must wait for Service")
	l.mu.Unlock()

	assert.Equal(t, 2, p.Service())
	require.Len(t, l.responses, 1)
	assert.Equal(t, int16(-2), l.responses[0].ReturnCode)
	assert.Equal(t, "nope", l.responses[0].DebugMessage)
	require.Len(t, l.events, 1)
	assert.Equal(t, int32(3), l.events[0].Sender)
}

func TestMalformedFrameIsDropped(t *testing.T) {
	p, l, net := connected(t)
	tr := net.Last()

	tr.Deliver([]byte{0xF3, 3, 0xEE, 1, 2})
	tr.Deliver([]byte{0x00})

	assert.Equal(t, 0, p.Service())
	assert.Empty(t, l.responses)
	assert.True(t, p.IsConnected())
}

func TestReentrantServiceIsIgnored(t *testing.T) {
	net := peertest.NewNetwork()
	l := &listener{}
	p := peer.New(l, peer.WithTransportFactory(net.Factory))

	var inner []int
	l.onStatus = func(peer.StatusCode) {
		inner = append(inner, p.Service())
		p.Post(func() {})
	}

	require.True(t, p.Connect("x:1", transport.TCP))
	serviceUntil(t, p, func() bool { return len(l.Statuses()) > 0 })
	assert.Equal(t, []int{0}, inner)
	// поставленное из колбэка выполняется в следующем вызове
	assert.Equal(t, 1, p.Service())
}

func TestDisconnectReportsStatus(t *testing.T) {
	p, l, net := connected(t)

	p.Disconnect()
	p.Service()
	assert.Equal(t, []peer.StatusCode{peer.StatusConnect, peer.StatusDisconnect}, l.Statuses())
	assert.False(t, p.IsConnected())
	assert.False(t, net.Last().Connected())
}

func TestServerDrop(t *testing.T) {
	p, l, net := connected(t)

	net.Last().Drop()
	p.Service()
	assert.Equal(t, []peer.StatusCode{
		peer.StatusConnect, peer.StatusDisconnectByServer, peer.StatusDisconnect,
	}, l.Statuses())
}

func TestConnectFailure(t *testing.T) {
	net := peertest.NewNetwork()
	net.Refuse(transport.TCP)
	l := &listener{}
	p := peer.New(l, peer.WithTransportFactory(net.Factory))

	require.True(t, p.Connect("x:1", transport.TCP))
	serviceUntil(t, p, func() bool { return len(l.Statuses()) >= 2 })
	assert.Equal(t, []peer.StatusCode{peer.StatusExceptionOnConnect, peer.StatusDisconnect}, l.Statuses())

	// после неудачи можно подключаться снова
	assert.True(t, p.Connect("x:1", transport.WebSocket))
}

func TestKeepAlivePingAndTimeout(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1000, 0))
	cfg := peer.Config{
		KeepAliveInterval: time.Second,
		DisconnectTimeout: 5 * time.Second,
		ConnectTimeout:    time.Second,
	}
	p, l, net := connected(t, peer.WithClock(mock), peer.WithConfig(cfg))
	tr := net.Last()

	var ping []byte
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		for _, f := range tr.Sent() {
			if f[1] == 6 {
				ping = f
			}
		}
		return ping != nil
	}, 2*time.Second, 5*time.Millisecond)

	v, err := net.Codec.Unmarshal(ping[2:])
	require.NoError(t, err)
	req := v.(*protocol.OperationRequest)
	sentAt := req.Parameters[1].(int32)

	mock.Add(40 * time.Millisecond)
	rtt := int32(mock.Now().UnixMilli()) - sentAt
	require.GreaterOrEqual(t, rtt, int32(40))
	tr.Pong(sentAt, 500)
	assert.Equal(t, int(rtt), p.RoundTripTime())
	assert.Equal(t, 500+rtt/2, p.ServerTimestamp())

	serviceUntil(t, p, func() bool {
		mock.Add(time.Second)
		s := l.Statuses()
		return len(s) >= 3
	})
	assert.Equal(t, []peer.StatusCode{
		peer.StatusConnect, peer.StatusTimeoutDisconnect, peer.StatusDisconnect,
	}, l.Statuses())
}

type xor byte

func (x xor) Encrypt(b []byte) ([]byte, error) { return x.apply(b), nil }
func (x xor) Decrypt(b []byte) ([]byte, error) { return x.apply(b), nil }

func (x xor) apply(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[i] ^ byte(x)
	}
	return out
}

func TestEncryptedSend(t *testing.T) {
	p, _, net := connected(t, peer.WithEncryptor(xor(0x5A)))

	require.True(t, p.SendOperation(230, protocol.ParameterMap{221: "secret"}, peer.SendOptions{Reliable: true, Encrypt: true}))
	f := net.Last().Sent()[0]
	assert.Equal(t, byte(0x82), f[1])
	assert.NotContains(t, string(f), "secret")

	plain, _ := xor(0x5A).Decrypt(f[2:])
	v, err := net.Codec.Unmarshal(plain)
	require.NoError(t, err)
	assert.Equal(t, "secret", v.(*protocol.OperationRequest).Parameters[221])
}

func TestEncryptWithoutEncryptorFails(t *testing.T) {
	p, _, _ := connected(t)
	assert.False(t, p.SendOperation(230, nil, peer.SendOptions{Encrypt: true}))
}

func TestMetricsCountTraffic(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, _, net := connected(t, peer.WithMetrics(peer.NewMetrics(reg, "test")))

	require.True(t, p.SendOperation(253, nil, peer.SendReliable))
	net.Last().Event(&protocol.EventData{Code: 7})

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["test_peer_operations_sent_total"])
	assert.True(t, names["test_peer_events_total"])
	assert.True(t, names["test_peer_bytes_out_total"])
}
