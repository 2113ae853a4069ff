package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"trade_engine/internal/broker"
	"trade_engine/internal/indicator"
	"trade_engine/internal/models"
	"trade_engine/internal/modules/config"
	healthsvc "trade_engine/internal/modules/health/service"
	"trade_engine/internal/router"
)

// --- фейковый брокер для юнитов шедулера ---

type placedOrder struct {
	symbol string
	side   models.OrderSide
	qty    float64
}

type fakeBroker struct {
	mu sync.Mutex

	name      string
	claim     func(string) bool
	candles   map[string][]models.Candle
	callErr   map[string]error // ошибка на Candles по символу
	positions []models.Position
	account   models.Account

	orders   []placedOrder
	orderErr error
	closes   []string
}

func (f *fakeBroker) Name() string                { return f.name }
func (f *fakeBroker) InstrumentOk(s string) bool  { return f.claim(s) }
func (f *fakeBroker) MinOrderSize(string) float64 { return 0.0001 }
func (f *fakeBroker) PricePrecision(string) int   { return 2 }

func (f *fakeBroker) Account(context.Context) (models.Account, error) {
	return f.account, nil
}

func (f *fakeBroker) Positions(context.Context) ([]models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Position(nil), f.positions...), nil
}

func (f *fakeBroker) Candles(_ context.Context, symbol, _ string, _ int) ([]models.Candle, error) {
	if err := f.callErr[symbol]; err != nil {
		return nil, err
	}
	return f.candles[symbol], nil
}

func (f *fakeBroker) MarketOrder(_ context.Context, symbol string, side models.OrderSide, qty float64) (models.OrderResult, error) {
	if f.orderErr != nil {
		return models.OrderResult{}, f.orderErr
	}
	f.mu.Lock()
	f.orders = append(f.orders, placedOrder{symbol, side, qty})
	f.mu.Unlock()
	return models.OrderResult{ID: "ord-1", Status: "filled", FilledQty: qty}, nil
}

func (f *fakeBroker) CloseAll(_ context.Context, symbol string) ([]models.Closure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, symbol)

	var out []models.Closure
	kept := f.positions[:0]
	for _, p := range f.positions {
		if symbol == "" || p.Symbol == symbol {
			out = append(out, models.Closure{Symbol: p.Symbol, Qty: p.Qty, Status: "closed"})
		} else {
			kept = append(kept, p)
		}
	}
	f.positions = kept
	if symbol != "" && len(out) == 0 {
		out = append(out, models.Closure{Symbol: symbol, Status: "flat"})
	}
	return out, nil
}

// --- скриптованный генератор: сигнал задаётся тестом, панику тоже можно ---

type scriptGen struct {
	sigs  map[string]models.Signal
	panic map[string]bool
}

func (g *scriptGen) Name() string { return "script" }

func (g *scriptGen) Generate(symbol string, _, _ indicator.Frame, entry float64, _ int) models.Signal {
	if g.panic[symbol] {
		panic("scripted strategy panic")
	}
	sig, ok := g.sigs[symbol]
	if !ok {
		return models.Signal{Symbol: symbol, Direction: models.DirFlat}
	}
	sig.Symbol = symbol
	if sig.Entry == 0 {
		sig.Entry = entry
	}
	if sig.Stop == 0 && sig.Actionable() {
		sig.Stop = sig.Entry - 50
		if sig.Direction == models.DirShort {
			sig.Stop = sig.Entry + 50
		}
	}
	return sig
}

// --- обвязка ---

func testConfig(symbols ...string) *config.Config {
	return &config.Config{
		Symbols:             symbols,
		Timeframe:           "1m",
		CandleLimit:         16,
		PollInterval:        time.Hour,
		CallTimeout:         time.Second,
		StartEnabled:        true,
		Strategy:            "script",
		EMAFast:             2,
		EMASlow:             3,
		RSIPeriod:           2,
		ATRPeriod:           2,
		RiskPct:             1,
		MaxPositionNotional: 1e9,
		MaxOpenPositions:    5,
	}
}

func risingCandles(n int) []models.Candle {
	out := make([]models.Candle, n)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		c := 1000.0 + float64(i)
		out[i] = models.Candle{
			Time: start.Add(time.Duration(i) * time.Minute),
			Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1,
		}
	}
	return out
}

func newTestScheduler(cfg *config.Config, gen *scriptGen, brokers ...broker.Broker) *Scheduler {
	return NewScheduler(cfg, router.New(brokers...), gen, healthsvc.NewMetrics())
}

func reportFor(s *Scheduler, symbol string) models.TickReport {
	for _, r := range s.Reports() {
		if r.Symbol == symbol {
			return r
		}
	}
	return models.TickReport{}
}

// --- тесты ---

func TestTick_OpensOnLongSignal(t *testing.T) {
	fb := &fakeBroker{
		name:    "fake",
		claim:   func(s string) bool { return s == "BTC/USD" },
		candles: map[string][]models.Candle{"BTC/USD": risingCandles(8)},
		account: models.Account{Equity: 10000},
	}
	gen := &scriptGen{sigs: map[string]models.Signal{
		"BTC/USD": {Direction: models.DirLong},
	}}
	s := newTestScheduler(testConfig("BTC/USD"), gen, fb)

	s.runTick(context.Background())

	if len(fb.orders) != 1 {
		t.Fatalf("orders=%d, want 1", len(fb.orders))
	}
	got := fb.orders[0]
	if got.side != models.OrderBuy {
		t.Errorf("side=%s, want buy", got.side)
	}
	// equity=10000, risk=1%, stop dist 50 => qty=2
	if got.qty < 1.99 || got.qty > 2.01 {
		t.Errorf("qty=%.4f, want 2", got.qty)
	}
	if rep := reportFor(s, "BTC/USD"); rep.Action != models.ActionOpened {
		t.Errorf("action=%s, want opened", rep.Action)
	}
}

func TestTick_NoPyramiding(t *testing.T) {
	fb := &fakeBroker{
		name:      "fake",
		claim:     func(string) bool { return true },
		candles:   map[string][]models.Candle{"BTC/USD": risingCandles(8)},
		account:   models.Account{Equity: 10000},
		positions: []models.Position{{Symbol: "BTC/USD", Side: models.DirLong, Qty: 2, AvgEntry: 1000}},
	}
	gen := &scriptGen{sigs: map[string]models.Signal{
		"BTC/USD": {Direction: models.DirLong},
	}}
	s := newTestScheduler(testConfig("BTC/USD"), gen, fb)

	s.runTick(context.Background())

	if len(fb.orders) != 0 {
		t.Fatalf("orders=%d, want 0 (no pyramiding)", len(fb.orders))
	}
	if rep := reportFor(s, "BTC/USD"); rep.Action != models.ActionHold {
		t.Errorf("action=%s, want hold", rep.Action)
	}
}

func TestTick_OppositeSignalCloses(t *testing.T) {
	fb := &fakeBroker{
		name:      "fake",
		claim:     func(string) bool { return true },
		candles:   map[string][]models.Candle{"BTC/USD": risingCandles(8)},
		account:   models.Account{Equity: 10000},
		positions: []models.Position{{Symbol: "BTC/USD", Side: models.DirShort, Qty: 2, AvgEntry: 1000}},
	}
	gen := &scriptGen{sigs: map[string]models.Signal{
		"BTC/USD": {Direction: models.DirLong},
	}}
	s := newTestScheduler(testConfig("BTC/USD"), gen, fb)

	s.runTick(context.Background())

	if rep := reportFor(s, "BTC/USD"); rep.Action != models.ActionClosed {
		t.Fatalf("action=%s, want closed", rep.Action)
	}
	if len(fb.closes) != 1 || fb.closes[0] != "BTC/USD" {
		t.Fatalf("closes=%v, want [BTC/USD]", fb.closes)
	}
	// закрыли, но в этот же тик заново не входим
	if len(fb.orders) != 0 {
		t.Fatalf("orders=%d, want 0", len(fb.orders))
	}
}

func TestTick_EMARevertClosesHeldLong(t *testing.T) {
	// падающие свечи: fast уходит под slow, держать лонг нельзя даже без
	// встречного сигнала
	falling := risingCandles(8)
	for i := range falling {
		c := 1000.0 - float64(i)*10
		falling[i].Open, falling[i].High, falling[i].Low, falling[i].Close = c, c+1, c-1, c
	}
	fb := &fakeBroker{
		name:      "fake",
		claim:     func(string) bool { return true },
		candles:   map[string][]models.Candle{"BTC/USD": falling},
		account:   models.Account{Equity: 10000},
		positions: []models.Position{{Symbol: "BTC/USD", Side: models.DirLong, Qty: 1, AvgEntry: 1000}},
	}
	gen := &scriptGen{} // сигналов нет вообще
	s := newTestScheduler(testConfig("BTC/USD"), gen, fb)

	s.runTick(context.Background())

	if rep := reportFor(s, "BTC/USD"); rep.Action != models.ActionClosed {
		t.Fatalf("action=%s, want closed on EMA revert", rep.Action)
	}
}

func TestTick_FailureIsolatedPerSymbol(t *testing.T) {
	fb := &fakeBroker{
		name:  "fake",
		claim: func(string) bool { return true },
		candles: map[string][]models.Candle{
			"ETH/USD": risingCandles(8),
		},
		callErr: map[string]error{
			"BTC/USD": broker.E(broker.KindUnavailable, "fake.candles", "BTC/USD", fmt.Errorf("timeout")),
		},
		account: models.Account{Equity: 10000},
	}
	gen := &scriptGen{sigs: map[string]models.Signal{
		"ETH/USD": {Direction: models.DirLong},
	}}
	s := newTestScheduler(testConfig("BTC/USD", "ETH/USD"), gen, fb)

	s.runTick(context.Background())

	if rep := reportFor(s, "BTC/USD"); rep.ErrKind != string(broker.KindUnavailable) {
		t.Errorf("BTC: kind=%q, want broker_unavailable", rep.ErrKind)
	}
	// сосед по тику обработан несмотря на отказ BTC
	if rep := reportFor(s, "ETH/USD"); rep.Action != models.ActionOpened {
		t.Errorf("ETH: action=%s, want opened", rep.Action)
	}
}

func TestTick_NoDataIsFlatAndRetryable(t *testing.T) {
	fb := &fakeBroker{
		name:    "fake",
		claim:   func(string) bool { return true },
		callErr: map[string]error{"BTC/USD": broker.E(broker.KindNoData, "fake.candles", "BTC/USD", fmt.Errorf("empty"))},
	}
	s := newTestScheduler(testConfig("BTC/USD"), &scriptGen{}, fb)

	s.runTick(context.Background())

	rep := reportFor(s, "BTC/USD")
	if rep.Direction != models.DirFlat || rep.ErrKind != string(broker.KindNoData) {
		t.Fatalf("rep=%+v, want flat/no_data", rep)
	}
	// символ не исключён — на следующем тике будет повтор
	if got := len(s.scheduledSymbols()); got != 1 {
		t.Fatalf("scheduled=%d, want 1", got)
	}
}

func TestTick_UnroutableExcludedOnce(t *testing.T) {
	fb := &fakeBroker{
		name:    "fake",
		claim:   func(s string) bool { return s != "XYZ" },
		candles: map[string][]models.Candle{"BTC/USD": risingCandles(8)},
		account: models.Account{Equity: 10000},
	}
	s := newTestScheduler(testConfig("XYZ", "BTC/USD"), &scriptGen{}, fb)

	s.runTick(context.Background())

	if rep := reportFor(s, "XYZ"); rep.ErrKind != string(broker.KindUnroutable) {
		t.Fatalf("XYZ kind=%q, want unroutable_symbol", rep.ErrKind)
	}
	// из расписания выкинут, повторных репортов не будет
	for _, sym := range s.scheduledSymbols() {
		if sym == "XYZ" {
			t.Fatal("XYZ must be excluded from scheduling")
		}
	}
}

func TestTick_InsufficientSizeSkipsOrder(t *testing.T) {
	fb := &fakeBroker{
		name:    "fake",
		claim:   func(string) bool { return true },
		candles: map[string][]models.Candle{"BTC/USD": risingCandles(8)},
		account: models.Account{Equity: 0}, // пустой счёт — сайзинг обязан отказать
	}
	gen := &scriptGen{sigs: map[string]models.Signal{
		"BTC/USD": {Direction: models.DirLong},
	}}
	s := newTestScheduler(testConfig("BTC/USD"), gen, fb)

	s.runTick(context.Background())

	if len(fb.orders) != 0 {
		t.Fatalf("orders=%d, want 0", len(fb.orders))
	}
	rep := reportFor(s, "BTC/USD")
	if rep.ErrKind != string(broker.KindInsufficientSize) || rep.Action != models.ActionSkip {
		t.Fatalf("rep=%+v, want skip/insufficient_size", rep)
	}
}

func TestTick_DisabledDoesNothing(t *testing.T) {
	fb := &fakeBroker{
		name:    "fake",
		claim:   func(string) bool { return true },
		candles: map[string][]models.Candle{"BTC/USD": risingCandles(8)},
		account: models.Account{Equity: 10000},
	}
	gen := &scriptGen{sigs: map[string]models.Signal{
		"BTC/USD": {Direction: models.DirLong},
	}}
	cfg := testConfig("BTC/USD")
	cfg.StartEnabled = false
	s := newTestScheduler(cfg, gen, fb)

	s.runTick(context.Background())

	if len(fb.orders) != 0 || len(fb.closes) != 0 {
		t.Fatal("disabled tick must not touch the broker")
	}

	s.SetEnabled(true)
	s.runTick(context.Background())
	if len(fb.orders) != 1 {
		t.Fatalf("after enable: orders=%d, want 1", len(fb.orders))
	}
}

func TestTick_PanicContained(t *testing.T) {
	fb := &fakeBroker{
		name:  "fake",
		claim: func(string) bool { return true },
		candles: map[string][]models.Candle{
			"BTC/USD": risingCandles(8),
			"ETH/USD": risingCandles(8),
		},
		account: models.Account{Equity: 10000},
	}
	gen := &scriptGen{
		sigs:  map[string]models.Signal{"ETH/USD": {Direction: models.DirLong}},
		panic: map[string]bool{"BTC/USD": true},
	}
	s := newTestScheduler(testConfig("BTC/USD", "ETH/USD"), gen, fb)

	s.runTick(context.Background())

	if rep := reportFor(s, "BTC/USD"); rep.ErrKind != "panic" {
		t.Errorf("BTC kind=%q, want panic", rep.ErrKind)
	}
	if rep := reportFor(s, "ETH/USD"); rep.Action != models.ActionOpened {
		t.Errorf("ETH action=%s, want opened", rep.Action)
	}
}

func TestTick_AuthFailureDisablesBroker(t *testing.T) {
	fb := &fakeBroker{
		name:    "fake",
		claim:   func(string) bool { return true },
		callErr: map[string]error{"BTC/USD": broker.E(broker.KindAuthInvalid, "fake.candles", "BTC/USD", fmt.Errorf("401"))},
	}
	s := newTestScheduler(testConfig("BTC/USD"), &scriptGen{}, fb)

	s.runTick(context.Background())
	if _, dead := s.DisabledBrokers()["fake"]; !dead {
		t.Fatal("broker must be disabled after auth failure")
	}

	// следующий тик символ скипается без обращения к брокеру
	s.runTick(context.Background())
	if rep := reportFor(s, "BTC/USD"); rep.Action != models.ActionSkip {
		t.Fatalf("action=%s, want skip", rep.Action)
	}
}

type recNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recNotifier) Send(msg string) {
	n.mu.Lock()
	n.msgs = append(n.msgs, msg)
	n.mu.Unlock()
}

func (n *recNotifier) Sendf(format string, args ...any) { n.Send(fmt.Sprintf(format, args...)) }

func TestTick_NotifiesOnOpen(t *testing.T) {
	fb := &fakeBroker{
		name:    "fake",
		claim:   func(string) bool { return true },
		candles: map[string][]models.Candle{"BTC/USD": risingCandles(8)},
		account: models.Account{Equity: 10000},
	}
	gen := &scriptGen{sigs: map[string]models.Signal{
		"BTC/USD": {Direction: models.DirLong},
	}}
	s := newTestScheduler(testConfig("BTC/USD"), gen, fb)
	rec := &recNotifier{}
	s.SetNotifier(rec)

	s.runTick(context.Background())

	if len(rec.msgs) != 1 {
		t.Fatalf("notifications=%d, want 1", len(rec.msgs))
	}
}

func TestCloseAllIdempotent(t *testing.T) {
	fb := &fakeBroker{name: "fake", claim: func(string) bool { return true }}

	closures, err := fb.CloseAll(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(closures) != 1 || closures[0].Status != "flat" {
		t.Fatalf("closures=%+v, want single flat", closures)
	}
}
