package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"pricehub/internal/application/port"
	"pricehub/internal/domain"
)

// AlertEngineConfig controls the evaluation worker pool.
type AlertEngineConfig struct {
	Workers            int           // ticks are sharded by symbol across workers
	WorkerBuffer       int           // per-worker channel size
	SymbolSyncInterval time.Duration // 0 disables periodic registry sync
}

func DefaultAlertEngineConfig() AlertEngineConfig {
	return AlertEngineConfig{
		Workers:            4,
		WorkerBuffer:       256,
		SymbolSyncInterval: 30 * time.Second,
	}
}

// AlertEngineStats are cumulative counters.
type AlertEngineStats struct {
	TicksEvaluated  int64 `json:"ticks_evaluated"`
	AlertsEvaluated int64 `json:"alerts_evaluated"`
	Triggered       int64 `json:"triggered"`
	LostRaces       int64 `json:"lost_races"`
	Errors          int64 `json:"errors"`
	HeldSymbols     int   `json:"held_symbols"`
}

// AlertEngine evaluates every tick against the active alerts of its symbol.
// The only duplicate-trigger guard is the repository's compare-and-swap.
type AlertEngine struct {
	cfg      AlertEngineConfig
	repo     port.AlertRepository
	sink     port.TriggerSink
	registry port.Registry
	now      func() time.Time

	heldMu sync.Mutex
	held   map[string]struct{}

	ticks     atomic.Int64
	evaluated atomic.Int64
	triggered atomic.Int64
	lost      atomic.Int64
	errs      atomic.Int64
}

// NewAlertEngine wires the engine. registry may be nil when symbol sync is not wanted.
func NewAlertEngine(cfg AlertEngineConfig, repo port.AlertRepository, sink port.TriggerSink, registry port.Registry) *AlertEngine {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.WorkerBuffer <= 0 {
		cfg.WorkerBuffer = 256
	}
	return &AlertEngine{
		cfg:      cfg,
		repo:     repo,
		sink:     sink,
		registry: registry,
		now:      time.Now,
		held:     make(map[string]struct{}),
	}
}

// Run consumes q until ctx is cancelled or q is closed and drained. Once ctx is
// cancelled no new tick is taken; evaluations already handed to a worker finish.
func (e *AlertEngine) Run(ctx context.Context, q *TickQueue) error {
	if e.registry != nil {
		e.SyncSymbols(ctx)
	}

	// queue Receive is not context-aware
	stop := context.AfterFunc(ctx, q.Close)
	defer stop()

	workers := make([]chan domain.PriceTick, e.cfg.Workers)
	var wg sync.WaitGroup
	for i := range workers {
		workers[i] = make(chan domain.PriceTick, e.cfg.WorkerBuffer)
		wg.Add(1)
		go func(in <-chan domain.PriceTick) {
			defer wg.Done()
			// detached so a shutdown does not abort a CAS halfway
			evalCtx := context.WithoutCancel(ctx)
			for t := range in {
				e.Evaluate(evalCtx, t)
			}
		}(workers[i])
	}

	syncCtx, cancelSync := context.WithCancel(ctx)
	defer cancelSync()
	if e.registry != nil && e.cfg.SymbolSyncInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.syncLoop(syncCtx)
		}()
	}

	log.Info().Int("workers", e.cfg.Workers).Msg("alert engine started")

	for {
		t, ok := q.Receive()
		if !ok || ctx.Err() != nil {
			break
		}
		workers[e.shard(t.Symbol)] <- t
	}

	cancelSync()
	for _, w := range workers {
		close(w)
	}
	wg.Wait()

	if e.registry != nil {
		e.heldMu.Lock()
		e.registry.ReleaseAll(HolderAlertEngine)
		e.held = make(map[string]struct{})
		e.heldMu.Unlock()
	}
	log.Info().Msg("alert engine stopped")
	return nil
}

func (e *AlertEngine) shard(symbol string) int {
	return int(xxhash.Sum64String(symbol) % uint64(e.cfg.Workers))
}

// Evaluate checks one tick and returns the number of alerts it triggered.
func (e *AlertEngine) Evaluate(ctx context.Context, t domain.PriceTick) int {
	e.ticks.Add(1)

	rules, err := e.repo.FindActiveAlertsForSymbol(ctx, t.Symbol)
	if err != nil {
		e.errs.Add(1)
		log.Error().Err(err).Str("symbol", t.Symbol).Msg("load active alerts failed")
		return 0
	}

	fired := 0
	for _, rule := range rules {
		if e.evaluateRule(ctx, rule, t) {
			fired++
		}
	}
	return fired
}

func (e *AlertEngine) evaluateRule(ctx context.Context, rule domain.AlertRule, t domain.PriceTick) bool {
	e.evaluated.Add(1)

	if rule.Symbol != "" && rule.Symbol != t.Symbol {
		return false
	}

	hit, err := rule.ShouldTrigger(t.Price)
	if err != nil {
		e.errs.Add(1)
		log.Warn().Err(err).Str("alert_id", rule.ID).Str("symbol", t.Symbol).Msg("alert evaluation failed")
		return false
	}
	if !hit {
		return false
	}

	at := e.now()
	won, err := e.repo.TryMarkTriggered(ctx, rule.ID, t.Price, at)
	if err != nil {
		e.errs.Add(1)
		log.Error().Err(err).Str("alert_id", rule.ID).Msg("mark triggered failed")
		return false
	}
	if !won {
		e.lost.Add(1)
		log.Debug().Str("alert_id", rule.ID).Msg("alert already triggered elsewhere")
		return false
	}

	e.triggered.Add(1)
	ev := domain.NewTriggerEvent(rule, t.Price, at)
	log.Info().
		Str("alert_id", rule.ID).
		Str("user_id", rule.UserID).
		Str("symbol", rule.Symbol).
		Str("condition", string(rule.Condition)).
		Str("target", rule.TargetValue.String()).
		Str("price", t.Price.String()).
		Msg("alert triggered")

	if e.sink != nil {
		if err := e.sink.PublishTrigger(ctx, ev); err != nil {
			e.errs.Add(1)
			log.Error().Err(err).Str("alert_id", rule.ID).Msg("publish trigger failed")
		}
	}
	return true
}

func (e *AlertEngine) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SymbolSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.SyncSymbols(ctx)
		}
	}
}

// SyncSymbols makes the engine's registry holdings match the symbols with active alerts.
func (e *AlertEngine) SyncSymbols(ctx context.Context) {
	if e.registry == nil {
		return
	}

	symbols, err := e.repo.ActiveSymbols(ctx)
	if err != nil {
		e.errs.Add(1)
		log.Error().Err(err).Msg("load active alert symbols failed")
		return
	}

	want := make(map[string]struct{}, len(symbols))
	for _, s := range domain.CanonicalSymbols(symbols) {
		want[s] = struct{}{}
	}

	e.heldMu.Lock()
	defer e.heldMu.Unlock()

	var acquire, release []string
	for s := range want {
		if _, ok := e.held[s]; !ok {
			acquire = append(acquire, s)
		}
	}
	for s := range e.held {
		if _, ok := want[s]; !ok {
			release = append(release, s)
		}
	}

	if len(acquire) > 0 {
		e.registry.Acquire(HolderAlertEngine, acquire)
	}
	if len(release) > 0 {
		e.registry.Release(HolderAlertEngine, release)
	}
	e.held = want

	if len(acquire) > 0 || len(release) > 0 {
		log.Info().Strs("acquired", acquire).Strs("released", release).Msg("alert symbols synced")
	}
}

func (e *AlertEngine) Stats() AlertEngineStats {
	e.heldMu.Lock()
	held := len(e.held)
	e.heldMu.Unlock()

	return AlertEngineStats{
		TicksEvaluated:  e.ticks.Load(),
		AlertsEvaluated: e.evaluated.Load(),
		Triggered:       e.triggered.Load(),
		LostRaces:       e.lost.Load(),
		Errors:          e.errs.Load(),
		HeldSymbols:     held,
	}
}
