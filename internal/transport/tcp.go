package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// MaxFrameSize — предел размера одного кадра TCP.
const MaxFrameSize = 16 << 20

// TCPConn — кадры вида [4 len big-endian][payload] поверх net.Conn.
type TCPConn struct {
	h Handler

	DialTimeout  time.Duration
	WriteTimeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	wmu    sync.Mutex
	closed atomic.Bool
}

func NewTCP(h Handler) *TCPConn {
	return &TCPConn{
		h:            h,
		DialTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

func (t *TCPConn) Connect(ctx context.Context, address string) error {
	d := net.Dialer{Timeout: t.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("tcp dial %s: %w", address, err)
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.closed.Store(false)

	go t.readLoop(conn)
	return nil
}

func (t *TCPConn) readLoop(conn net.Conn) {
	defer func() {
		t.closeConn()
		t.h.closed()
	}()

	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			t.readFailed(err)
			return
		}
		n := binary.BigEndian.Uint32(header)
		if n > MaxFrameSize {
			t.readFailed(fmt.Errorf("frame of %d bytes: %w", n, ErrFrameTooLarge))
			return
		}
		frame := make([]byte, n)
		if _, err := io.ReadFull(conn, frame); err != nil {
			t.readFailed(err)
			return
		}
		t.h.frame(frame)
	}
}

func (t *TCPConn) readFailed(err error) {
	if !t.closed.Load() {
		t.h.error(err)
	}
}

func (t *TCPConn) Send(frame []byte, _ bool) error {
	if len(frame) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	buf := make([]byte, 4+len(frame))
	binary.BigEndian.PutUint32(buf, uint32(len(frame)))
	copy(buf[4:], frame)

	t.wmu.Lock()
	defer t.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(t.WriteTimeout))
	_, err := conn.Write(buf)
	return err
}

func (t *TCPConn) Close() error {
	t.closed.Store(true)
	return t.closeConn()
}

func (t *TCPConn) closeConn() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
