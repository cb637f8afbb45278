package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Подпротокол, который сервер ожидает в рукопожатии.
const wsSubprotocol = "GpBinaryV16"

// WSConn — кадры как бинарные сообщения websocket (ws/wss).
type WSConn struct {
	secure bool
	h      Handler

	Dialer       *websocket.Dialer
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64

	mu       sync.Mutex
	conn     *websocket.Conn
	wmu      sync.Mutex    // сериализует запись в websocket
	pingStop chan struct{} // стоп-канал для ping-горутины
	closed   atomic.Bool
}

func NewWebSocket(secure bool, h Handler) *WSConn {
	return &WSConn{
		secure:       secure,
		h:            h,
		Dialer:       websocket.DefaultDialer,
		PingInterval: 10 * time.Second,
		WriteTimeout: 5 * time.Second,
		ReadLimit:    8 << 20,
	}
}

// формирует адрес ws/wss; адрес со схемой используется как есть
func (ws *WSConn) url(address string) string {
	if strings.Contains(address, "://") {
		return address
	}
	if ws.secure {
		return "wss://" + address
	}
	return "ws://" + address
}

func (ws *WSConn) Connect(ctx context.Context, address string) error {
	header := http.Header{}
	header.Set("Sec-WebSocket-Protocol", wsSubprotocol)

	conn, _, err := ws.Dialer.DialContext(ctx, ws.url(address), header)
	if err != nil {
		return fmt.Errorf("ws dial %s: %w", address, err)
	}
	conn.SetReadLimit(ws.ReadLimit)

	ws.mu.Lock()
	ws.conn = conn
	ws.mu.Unlock()
	ws.closed.Store(false)

	ws.startPing(conn)
	go ws.readLoop(conn)
	return nil
}

func (ws *WSConn) readLoop(conn *websocket.Conn) {
	defer func() {
		ws.closeConn()
		ws.h.closed()
	}()
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !ws.closed.Load() {
				ws.h.error(err)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		ws.h.frame(data)
	}
}

func (ws *WSConn) Send(frame []byte, _ bool) error {
	ws.mu.Lock()
	conn := ws.conn
	ws.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	// запись строго через один мьютекс + write‑deadline
	ws.wmu.Lock()
	defer ws.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(ws.WriteTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (ws *WSConn) Close() error {
	ws.closed.Store(true)
	ws.closeConn()
	return nil
}

// безопасно закрыть текущее соединение
func (ws *WSConn) closeConn() {
	ws.stopPing()

	ws.mu.Lock()
	conn := ws.conn
	ws.conn = nil
	ws.mu.Unlock()
	if conn == nil {
		return
	}

	ws.wmu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
		time.Now().Add(500*time.Millisecond))
	ws.wmu.Unlock()
	_ = conn.Close()
}

func (ws *WSConn) startPing(c *websocket.Conn) {
	ws.stopPing() // на всякий — останавливаем предыдущие
	if ws.PingInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	ws.mu.Lock()
	ws.pingStop = stop
	ws.mu.Unlock()

	go func() {
		t := time.NewTicker(ws.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				ws.wmu.Lock()
				_ = c.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
				ws.wmu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func (ws *WSConn) stopPing() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.pingStop != nil {
		close(ws.pingStop)
		ws.pingStop = nil
	}
}
