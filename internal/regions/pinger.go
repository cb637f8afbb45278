package regions

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Pinger — одна попытка измерить задержку до адреса.
type Pinger interface {
	Ping(ctx context.Context, address string) (time.Duration, error)
}

// ========================= region pinger =========================

// regionPinger делает несколько попыток и усредняет успешные, отбрасывая
// первую (холодный старт).
type regionPinger struct {
	region   *Region
	pinger   Pinger
	attempts int
	timeout  time.Duration
	aborted  *atomic.Bool
}

func (rp *regionPinger) ceiling() int {
	return rp.attempts * int(rp.timeout/time.Millisecond)
}

// run возвращает среднее в мс; регион без успешных попыток получает потолок.
func (rp *regionPinger) run(ctx context.Context) int {
	sum, n := 0, 0
	for i := 0; i < rp.attempts; i++ {
		if rp.aborted.Load() || ctx.Err() != nil {
			break
		}
		actx, cancel := context.WithTimeout(ctx, rp.timeout)
		d, err := rp.pinger.Ping(actx, rp.region.HostAndPort)
		cancel()
		if err != nil || d > rp.timeout {
			continue
		}
		if i == 0 && rp.attempts > 1 {
			continue
		}
		sum += int(d / time.Millisecond)
		n++
	}
	if n == 0 {
		return rp.ceiling()
	}
	return sum / n
}

// ========================= UDP =========================

// Размер датаграммы эхо-пинга; последний байт — id попытки.
const probeSize = 13

// DefaultPingPort — UDP-порт эха на серверах региона.
const DefaultPingPort = 5055

var errWrongEcho = errors.New("regions: echo with foreign probe id")

// UDPPinger шлёт 13-байтовую датаграмму и ждёт эхо с тем же id.
type UDPPinger struct {
	Clock clock.Clock
	// Port — порт эха; 0 — DefaultPingPort.
	Port int
}

func (u *UDPPinger) Ping(ctx context.Context, address string) (time.Duration, error) {
	clk := u.Clock
	if clk == nil {
		clk = clock.New()
	}
	addr, err := u.target(address)
	if err != nil {
		return 0, err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	probe := make([]byte, probeSize)
	id := byte(rand.Intn(256))
	probe[probeSize-1] = id

	start := clk.Now()
	if _, err := conn.Write(probe); err != nil {
		return 0, fmt.Errorf("write probe: %w", err)
	}
	buf := make([]byte, 64)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return 0, fmt.Errorf("read echo: %w", err)
		}
		if n == probeSize && buf[probeSize-1] == id {
			return clk.Since(start), nil
		}
		if ctx.Err() != nil {
			return 0, errWrongEcho
		}
	}
}

// target отрезает схему и путь и подставляет порт эха.
func (u *UDPPinger) target(address string) (string, error) {
	host := address
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		return "", fmt.Errorf("regions: bad address %q", address)
	}
	port := u.Port
	if port == 0 {
		port = DefaultPingPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}
