// Package runner крутит сетевой контекст в отдельной горутине с заданной
// частотой. Все обращения к контексту идут через Do, в той же горутине.
package runner

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

var (
	ErrRunning    = errors.New("runner: already running")
	ErrNoTarget   = errors.New("runner: nothing to run")
	ErrNotRunning = errors.New("runner: not running")
)

// Ticker — то, что обслуживается циклом; network.Context подходит.
type Ticker interface {
	Tick(nowMillis int64) int
}

type Option func(*Runner)

func WithLogger(l *zap.Logger) Option { return func(r *Runner) { r.log = l } }

func WithClock(c clock.Clock) Option { return func(r *Runner) { r.clock = c } }

// WithAfterTick — хук хоста, вызывается в горутине цикла после каждого тика.
func WithAfterTick(f func()) Option { return func(r *Runner) { r.afterTick = f } }

type Runner struct {
	target    Ticker
	every     time.Duration
	log       *zap.Logger
	clock     clock.Clock
	afterTick func()

	calls chan func()

	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// New — цикл с частотой rate тиков в секунду.
func New(target Ticker, rate int, opts ...Option) *Runner {
	if rate <= 0 {
		rate = 30
	}
	r := &Runner{
		target: target,
		every:  time.Second / time.Duration(rate),
		log:    zap.NewNop(),
		clock:  clock.New(),
		calls:  make(chan func(), 64),
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.Named("runner")
	return r
}

func (r *Runner) Start() error {
	if r == nil || r.target == nil {
		return ErrNoTarget
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopCh != nil {
		return ErrRunning
	}
	stop := make(chan struct{})
	r.stopCh = stop

	t := r.clock.Ticker(r.every)
	start := r.clock.Now()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case f := <-r.calls:
				f()
			case <-t.C:
				r.target.Tick(r.clock.Since(start).Milliseconds())
				if r.afterTick != nil {
					r.afterTick()
				}
			}
		}
	}()
	r.log.Debug("started", zap.Duration("every", r.every))
	return nil
}

// Stop останавливает цикл и ждёт его завершения. Повторный Stop ничего
// не делает.
func (r *Runner) Stop() {
	r.mu.Lock()
	ch := r.stopCh
	r.stopCh = nil
	r.mu.Unlock()

	if ch != nil {
		close(ch)
		r.wg.Wait()
		r.log.Debug("stopped")
	}
}

func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopCh != nil
}

// Do выполняет f в горутине цикла и ждёт результата. Из самого цикла
// (колбэков, хука) не вызывать.
func (r *Runner) Do(f func()) error {
	r.mu.Lock()
	stop := r.stopCh
	r.mu.Unlock()
	if stop == nil {
		return ErrNotRunning
	}
	done := make(chan struct{})
	select {
	case r.calls <- func() { defer close(done); f() }:
	case <-stop:
		return ErrNotRunning
	}
	select {
	case <-done:
		return nil
	case <-stop:
		return ErrNotRunning
	}
}
