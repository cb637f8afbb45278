package regions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/EgorLis/roomnet/internal/protocol"
)

// Параметры ответа GetRegions.
const (
	ParamRegionCodes byte = 210
	ParamAddresses   byte = 230
)

var (
	ErrNoRegions  = errors.New("regions: no regions in response")
	ErrInProgress = errors.New("regions: pinging already in progress")
)

// Перепроверка прошлого лучшего региона проходит, если пинг вырос не
// больше чем в полтора раза.
const fastPathFactor = 1.5

type Config struct {
	Attempts          int
	PerAttemptTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{Attempts: 5, PerAttemptTimeout: 800 * time.Millisecond}
}

// Ceiling — пинг, который получает недоступный регион.
func (c Config) Ceiling() int { return c.Attempts * int(c.PerAttemptTimeout/time.Millisecond) }

type Option func(*Handler)

func WithLogger(l *zap.Logger) Option { return func(h *Handler) { h.log = l.Named("regions") } }

func WithMetrics(m *Metrics) Option { return func(h *Handler) { h.metrics = m } }

func WithConfig(c Config) Option { return func(h *Handler) { h.cfg = c } }

// Handler хранит список регионов и результат их пинга.
type Handler struct {
	pinger  Pinger
	cfg     Config
	log     *zap.Logger
	metrics *Metrics

	mu        sync.Mutex
	regions   []*Region
	available string // коды через запятую, по алфавиту
	best      *Region
	running   bool
	aborted   *atomic.Bool
	cancel    context.CancelFunc
}

func NewHandler(pinger Pinger, opts ...Option) *Handler {
	h := &Handler{
		pinger:  pinger,
		cfg:     DefaultConfig(),
		log:     zap.NewNop(),
		aborted: new(atomic.Bool),
	}
	for _, o := range opts {
		o(h)
	}
	if h.cfg.Attempts <= 0 {
		h.cfg.Attempts = DefaultConfig().Attempts
	}
	if h.cfg.PerAttemptTimeout <= 0 {
		h.cfg.PerAttemptTimeout = DefaultConfig().PerAttemptTimeout
	}
	return h
}

// SetRegions читает параллельные массивы кодов и адресов из ответа
// GetRegions. Пустые элементы пропускаются. Сбрасывает лучший регион.
func (h *Handler) SetRegions(resp *protocol.OperationResponse) error {
	codes, _ := protocol.Get[[]string](resp.Parameters, ParamRegionCodes)
	addrs, _ := protocol.Get[[]string](resp.Parameters, ParamAddresses)
	if len(codes) == 0 || len(codes) != len(addrs) {
		return fmt.Errorf("%d codes, %d addresses: %w", len(codes), len(addrs), ErrNoRegions)
	}

	list := make([]*Region, 0, len(codes))
	for i, code := range codes {
		if code == "" || addrs[i] == "" {
			continue
		}
		list = append(list, NewRegion(code, addrs[i]))
	}
	if len(list) == 0 {
		return ErrNoRegions
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Code < list[j].Code })

	names := make([]string, len(list))
	for i, r := range list {
		names[i] = r.Code
	}

	h.mu.Lock()
	h.regions = list
	h.available = strings.Join(names, ",")
	h.best = nil
	h.mu.Unlock()
	return nil
}

// Regions — копии регионов по коду.
func (h *Handler) Regions() []Region {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Region, len(h.regions))
	for i, r := range h.regions {
		out[i] = *r
	}
	return out
}

// AvailableRegionCodes — отсортированные коды через запятую.
func (h *Handler) AvailableRegionCodes() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.available
}

// BestRegion — регион с минимальным пингом; считается лениво и
// кэшируется до следующего SetRegions.
func (h *Handler) BestRegion() (Region, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.bestLocked()
	if b == nil {
		return Region{}, false
	}
	return *b, true
}

func (h *Handler) bestLocked() *Region {
	if h.best != nil {
		return h.best
	}
	for _, r := range h.regions {
		if r.Ping == PingUnknown {
			continue
		}
		if h.best == nil || r.Ping < h.best.Ping {
			h.best = r
		}
	}
	return h.best
}

// Summary — "лучший;пинг;все,коды". Пусто, пока лучший не известен.
func (h *Handler) Summary() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.bestLocked()
	if b == nil {
		return ""
	}
	return fmt.Sprintf("%s;%d;%s", b.Code, b.Ping, h.available)
}

// IsPinging — идёт ли сейчас пинг.
func (h *Handler) IsPinging() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// PickBest пингует регионы в фоне и вызывает onComplete (из фоновой
// горутины) после завершения всех проб. previous — Summary прошлого запуска:
// если он годится, сначала перепроверяется только прошлый лучший регион.
// После Cancel onComplete не вызывается.
func (h *Handler) PickBest(ctx context.Context, previous string, onComplete func(*Handler)) error {
	h.mu.Lock()
	if len(h.regions) == 0 {
		h.mu.Unlock()
		return ErrNoRegions
	}
	if h.running {
		h.mu.Unlock()
		return ErrInProgress
	}
	ctx, cancel := context.WithCancel(ctx)
	aborted := new(atomic.Bool)
	h.running, h.cancel, h.aborted = true, cancel, aborted
	prev := h.parsePrevious(previous)
	h.mu.Unlock()

	go func() {
		defer cancel()
		if prev != nil && h.fastPath(ctx, prev, aborted) {
			h.finish(aborted, onComplete)
			return
		}
		if err := h.pingAll(ctx, aborted); err != nil {
			h.log.Debug("region pinging aborted", zap.Error(err))
		}
		h.finish(aborted, onComplete)
	}()
	return nil
}

// Cancel прерывает пинг; пробы, уже ждущие эхо, доживают и выбрасываются.
func (h *Handler) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.aborted.Store(true)
	h.cancel()
	h.running = false
}

type previousBest struct {
	region *Region
	ping   int
}

// parsePrevious проверяет сохранённый Summary против текущего списка.
func (h *Handler) parsePrevious(s string) *previousBest {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ";")
	if len(parts) != 3 {
		h.log.Debug("ignoring malformed region summary", zap.String("summary", s))
		return nil
	}
	ping, err := strconv.Atoi(parts[1])
	if err != nil || ping < 0 || ping >= h.cfg.Ceiling() {
		return nil
	}
	if parts[2] != h.available {
		h.log.Debug("region list changed since last summary",
			zap.String("was", parts[2]), zap.String("now", h.available))
		return nil
	}
	for _, r := range h.regions {
		if r.Code == parts[0] {
			return &previousBest{region: r, ping: ping}
		}
	}
	return nil
}

func (h *Handler) fastPath(ctx context.Context, prev *previousBest, aborted *atomic.Bool) bool {
	fresh := h.newRegionPinger(prev.region, aborted).run(ctx)
	if aborted.Load() {
		return true
	}
	if float64(fresh) > fastPathFactor*float64(prev.ping) {
		h.log.Info("previous best region got slower, pinging all",
			zap.String("region", prev.region.Code), zap.Int("was", prev.ping), zap.Int("now", fresh))
		return false
	}
	h.mu.Lock()
	prev.region.Ping = fresh
	h.best = prev.region
	h.mu.Unlock()
	h.metrics.observe(prev.region.Code, fresh)
	return true
}

func (h *Handler) pingAll(ctx context.Context, aborted *atomic.Bool) error {
	h.mu.Lock()
	list := append([]*Region(nil), h.regions...)
	h.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range list {
		r := r
		g.Go(func() error {
			ping := h.newRegionPinger(r, aborted).run(gctx)
			if aborted.Load() {
				return context.Canceled
			}
			h.mu.Lock()
			r.Ping = ping
			h.best = nil
			h.mu.Unlock()
			h.metrics.observe(r.Code, ping)
			return nil
		})
	}
	return g.Wait()
}

func (h *Handler) newRegionPinger(r *Region, aborted *atomic.Bool) *regionPinger {
	return &regionPinger{
		region:   r,
		pinger:   h.pinger,
		attempts: h.cfg.Attempts,
		timeout:  h.cfg.PerAttemptTimeout,
		aborted:  aborted,
	}
}

func (h *Handler) finish(aborted *atomic.Bool, onComplete func(*Handler)) {
	if aborted.Load() {
		return
	}
	h.mu.Lock()
	h.running = false
	h.mu.Unlock()

	if b, ok := h.BestRegion(); ok {
		h.log.Info("best region", zap.Stringer("region", &b))
	}
	if onComplete != nil {
		onComplete(h)
	}
}
