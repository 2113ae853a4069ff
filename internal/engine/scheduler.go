package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opentracing/opentracing-go"

	"trade_engine/internal/indicator"
	"trade_engine/internal/models"
	"trade_engine/internal/modules/config"
	healthsvc "trade_engine/internal/modules/health/service"
	strategy "trade_engine/internal/modules/strategy/service"
	"trade_engine/internal/notify"
	"trade_engine/internal/router"
	"trade_engine/pkg/logger"
)

// Scheduler — кооперативный цикл решений: один тик раз в PollInterval,
// внутри тика — fan-out по символам, fan-in до старта следующего тика.
// Тики строго последовательны, перекрытия ордеров между тиками исключены.
type Scheduler struct {
	cfg    *config.Config
	rt     *router.Router
	gen    strategy.Generator
	met    *healthsvc.Metrics
	notify notify.Notifier

	enabled atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	mu         sync.Mutex
	reports    map[string]models.TickReport
	unroutable map[string]bool   // символы, исключённые из расписания
	deadBroker map[string]string // имя брокера -> причина отключения (auth)
}

func NewScheduler(cfg *config.Config, rt *router.Router, gen strategy.Generator, met *healthsvc.Metrics) *Scheduler {
	s := &Scheduler{
		cfg:        cfg,
		rt:         rt,
		gen:        gen,
		met:        met,
		done:       make(chan struct{}),
		reports:    make(map[string]models.TickReport),
		unroutable: make(map[string]bool),
		deadBroker: make(map[string]string),
		notify:     notify.Noop{},
	}
	s.enabled.Store(cfg.StartEnabled)
	return s
}

// SetNotifier подключает канал уведомлений о сделках (телеграм и т.п.).
// Дефолт — Noop, звать обязательно до Start.
func (s *Scheduler) SetNotifier(n notify.Notifier) {
	if n != nil {
		s.notify = n
	}
}

// SetEnabled — единственная рантайм-мутация конфигурации. Действует с
// границы следующего тика; уже ушедшие брокерские вызовы не прерывает.
func (s *Scheduler) SetEnabled(v bool) {
	s.enabled.Store(v)
	if v {
		s.met.Enabled.Set(1)
	} else {
		s.met.Enabled.Set(0)
	}
}

func (s *Scheduler) Enabled() bool { return s.enabled.Load() }

func (s *Scheduler) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	go s.loop(ctx)
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	logger.Info("scheduler started: %d symbols, every %s", len(s.cfg.Symbols), s.cfg.PollInterval)
	s.SetEnabled(s.enabled.Load())

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	// первый тик сразу, дальше по расписанию
	s.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	if !s.enabled.Load() {
		// стоп-режим: никакой мутации у брокеров, только ждём start
		return
	}

	span := opentracing.StartSpan("engine.tick")
	defer span.Finish()
	start := time.Now()

	symbols := s.scheduledSymbols()
	span.SetTag("symbols", len(symbols))

	var wg sync.WaitGroup
	for _, sym := range symbols {
		sym := sym
		wg.Add(1)
		go func() {
			defer wg.Done()
			rep := s.runSymbol(ctx, span, sym)
			s.storeReport(rep)
		}()
	}
	wg.Wait()

	s.met.TicksTotal.Inc()
	s.met.TickDuration.Observe(time.Since(start).Seconds())
	s.met.TouchTick(time.Now())
}

// scheduledSymbols — конфигурированный список минус исключённые из роутинга.
func (s *Scheduler) scheduledSymbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.cfg.Symbols))
	for _, sym := range s.cfg.Symbols {
		if !s.unroutable[sym] {
			out = append(out, sym)
		}
	}
	return out
}

func (s *Scheduler) storeReport(rep models.TickReport) {
	if rep.ErrKind != "" {
		s.met.ErrorsTotal.WithLabelValues(rep.ErrKind).Inc()
	}
	s.mu.Lock()
	s.reports[rep.Symbol] = rep
	s.mu.Unlock()

	switch rep.Action {
	case models.ActionOpened:
		s.notify.Sendf("📈 %s: открыта %s qty=%.6f\n%s", rep.Symbol, rep.Direction, rep.Qty, rep.Detail)
	case models.ActionClosed:
		s.notify.Sendf("📉 %s: позиция закрыта, qty=%.6f", rep.Symbol, rep.Qty)
	}
}

// Reports — последний результат по каждому символу, для команды status.
func (s *Scheduler) Reports() []models.TickReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TickReport, 0, len(s.reports))
	for _, sym := range s.cfg.Symbols {
		if rep, ok := s.reports[sym]; ok {
			out = append(out, rep)
		}
	}
	return out
}

// DisabledBrokers — брокеры, выключенные из-за auth-ошибок (до рестарта).
func (s *Scheduler) DisabledBrokers() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.deadBroker))
	for k, v := range s.deadBroker {
		out[k] = v
	}
	return out
}

func (s *Scheduler) markUnroutable(symbol string) {
	s.mu.Lock()
	s.unroutable[symbol] = true
	s.mu.Unlock()
}

func (s *Scheduler) markBrokerDead(name, reason string) {
	s.mu.Lock()
	s.deadBroker[name] = reason
	s.mu.Unlock()
	logger.Error("broker %s disabled: %s", name, reason)
	s.notify.Sendf("⛔ Брокер %s отключён до рестарта: %s", name, reason)
}

func (s *Scheduler) brokerDead(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reason, ok := s.deadBroker[name]
	return reason, ok
}

func (s *Scheduler) indicatorParams() indicator.Params {
	return indicator.Params{
		FastSpan:  s.cfg.EMAFast,
		SlowSpan:  s.cfg.EMASlow,
		RSIPeriod: s.cfg.RSIPeriod,
		ATRPeriod: s.cfg.ATRPeriod,
	}
}
