package peer

import (
	"time"

	"go.uber.org/zap"

	"github.com/EgorLis/roomnet/internal/protocol"
)

// ========================= keep-alive =========================

func (p *Peer) startKeepAlive(gen uint64) {
	p.stopKeepAlive() // на всякий
	stop := make(chan struct{})
	p.kmu.Lock()
	p.keepStop = stop
	p.kmu.Unlock()

	tick := p.clock.Ticker(p.cfg.KeepAliveInterval)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				if !p.keepAliveTick(gen) {
					return
				}
			}
		}
	}()
}

func (p *Peer) stopKeepAlive() {
	p.kmu.Lock()
	defer p.kmu.Unlock()
	if p.keepStop != nil {
		close(p.keepStop)
		p.keepStop = nil
	}
}

// keepAliveTick возвращает false, когда соединение признано потерянным.
func (p *Peer) keepAliveTick(gen uint64) bool {
	if p.since(p.lastReceive.Load()) > p.cfg.DisconnectTimeout {
		p.timeout(gen)
		return false
	}
	// давно ничего не слали — пульнём ping, заодно померим RTT
	if p.since(p.lastSend.Load()) >= p.cfg.KeepAliveInterval {
		p.sendPing()
	}
	return true
}

func (p *Peer) since(unixNano int64) time.Duration {
	return p.clock.Now().Sub(time.Unix(0, unixNano))
}

// timeout закрывает транспорт; OnClosed превратит это в TimeoutDisconnect.
func (p *Peer) timeout(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || p.state != stateConnected {
		p.mu.Unlock()
		return
	}
	p.timedOut = true
	tr := p.tr
	p.mu.Unlock()

	p.log.Warn("no traffic from server, disconnecting",
		zap.Duration("timeout", p.cfg.DisconnectTimeout))
	if err := tr.Close(); err != nil {
		p.log.Debug("transport close", zap.Error(err))
	}
}

func (p *Peer) sendPing() {
	p.mu.Lock()
	tr := p.tr
	connected := p.state == stateConnected
	p.mu.Unlock()
	if !connected {
		return
	}

	req := &protocol.OperationRequest{
		Code:       internalPing,
		Parameters: protocol.ParameterMap{pingKeyClientTime: int32(p.clock.Now().UnixMilli())},
	}
	frame, err := buildFrame(p.codec, kindInternalRequest, req, nil)
	if err != nil {
		p.log.Error("encode ping", zap.Error(err))
		return
	}
	if err := tr.Send(frame, true); err != nil {
		p.log.Debug("send ping", zap.Error(err))
		return
	}
	p.lastSend.Store(p.clock.Now().UnixNano())
}
