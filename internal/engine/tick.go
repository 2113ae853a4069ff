package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"trade_engine/internal/broker"
	"trade_engine/internal/indicator"
	"trade_engine/internal/models"
	"trade_engine/internal/risk"
	"trade_engine/pkg/logger"
)

// runSymbol обрабатывает один символ за тик. Любая ошибка (и паника) здесь
// сворачивается в TickReport — соседние символы того же тика не страдают.
func (s *Scheduler) runSymbol(ctx context.Context, parent opentracing.Span, symbol string) (rep models.TickReport) {
	rep = models.TickReport{Symbol: symbol, Action: models.ActionNone, At: time.Now()}

	defer func() {
		if r := recover(); r != nil {
			rep.Action = models.ActionFailed
			rep.ErrKind = "panic"
			rep.Detail = fmt.Sprint(r)
			logger.Error("[%s] symbol unit panic: %v", symbol, r)
		}
	}()

	span := opentracing.StartSpan("engine.symbol", opentracing.ChildOf(parent.Context()))
	span.SetTag("symbol", symbol)
	defer span.Finish()

	b, err := s.rt.Route(symbol)
	if err != nil {
		// конфигурационная ошибка: репортим один раз и выкидываем из расписания
		s.markUnroutable(symbol)
		logger.Error("[%s] excluded from schedule: %v", symbol, err)
		return s.failed(rep, err)
	}
	rep.Broker = b.Name()

	if reason, dead := s.brokerDead(b.Name()); dead {
		rep.Action = models.ActionSkip
		rep.ErrKind = string(broker.KindAuthInvalid)
		rep.Detail = "broker disabled: " + reason
		return rep
	}

	candles, err := s.fetchCandles(ctx, b, symbol)
	if err != nil {
		return s.brokerFailure(rep, b, err)
	}

	frames := indicator.Compute(candles, s.indicatorParams())
	if len(frames) < 2 {
		rep.Direction = models.DirFlat
		return rep
	}
	prev, last := frames[len(frames)-2], frames[len(frames)-1]
	entry := candles[len(candles)-1].Close

	sig := s.gen.Generate(symbol, prev, last, entry, b.PricePrecision(symbol))
	rep.Direction = sig.Direction
	if sig.Actionable() {
		s.met.SignalsTotal.WithLabelValues(string(sig.Direction)).Inc()
		logger.Info("%s", sig)
	}

	positions, err := s.positions(ctx, b)
	if err != nil {
		return s.brokerFailure(rep, b, err)
	}
	held := findPosition(positions, symbol)

	if held != nil {
		return s.applyHeld(ctx, b, rep, sig, last, held)
	}
	return s.applyFlat(ctx, b, rep, sig, len(positions))
}

// applyHeld — политика при открытой позиции: встречный сигнал или разворот
// EMA против стороны — закрываем; совпадение стороны или flat — держим
// (никакого пирамидинга).
func (s *Scheduler) applyHeld(ctx context.Context, b broker.Broker, rep models.TickReport,
	sig models.Signal, last indicator.Frame, held *models.Position) models.TickReport {

	reverted := (held.Side == models.DirLong && last.EMAFast < last.EMASlow) ||
		(held.Side == models.DirShort && last.EMAFast > last.EMASlow)
	opposite := sig.Actionable() && sig.Direction == held.Side.Opposite()

	if !opposite && !reverted {
		rep.Action = models.ActionHold
		return rep
	}

	closures, err := s.closeAll(ctx, b, held.Symbol)
	if err != nil {
		return s.brokerFailure(rep, b, err)
	}
	rep.Action = models.ActionClosed
	rep.Qty = held.Qty
	rep.Detail = fmt.Sprintf("closed %d position(s): opposite=%v reverted=%v", len(closures), opposite, reverted)
	logger.Info("[%s] close %s qty=%.6f (opposite=%v reverted=%v)", held.Symbol, held.Side, held.Qty, opposite, reverted)
	return rep
}

// applyFlat — политика без позиции: действующий сигнал открывает рынок,
// размер считается от риска и дистанции до стопа.
func (s *Scheduler) applyFlat(ctx context.Context, b broker.Broker, rep models.TickReport,
	sig models.Signal, openCount int) models.TickReport {

	if !sig.Actionable() {
		return rep
	}

	if s.cfg.MaxOpenPositions > 0 && openCount >= s.cfg.MaxOpenPositions {
		rep.Action = models.ActionSkip
		rep.Detail = fmt.Sprintf("open positions limit reached (%d)", s.cfg.MaxOpenPositions)
		return rep
	}

	account, err := s.account(ctx, b)
	if err != nil {
		return s.brokerFailure(rep, b, err)
	}

	qty, err := risk.SizeByRisk(risk.Input{
		Equity:       account.Equity,
		RiskPct:      s.cfg.RiskPct,
		EntryPrice:   sig.Entry,
		StopDistance: math.Abs(sig.Entry - sig.Stop),
		MaxNotional:  s.cfg.MaxPositionNotional,
		MinQty:       b.MinOrderSize(sig.Symbol),
	})
	if err != nil {
		if errors.Is(err, risk.ErrInsufficientSize) {
			rep.Action = models.ActionSkip
			rep.ErrKind = string(broker.KindInsufficientSize)
			rep.Detail = err.Error()
			logger.Info("[%s] sizing skipped: %v", sig.Symbol, err)
			return rep
		}
		return s.failed(rep, err)
	}

	// снять возможные висящие ордера прошлых тиков; позиции нет — идемпотентно
	if _, err := s.closeAll(ctx, b, sig.Symbol); err != nil {
		return s.brokerFailure(rep, b, err)
	}

	side := models.OrderBuy
	if sig.Direction == models.DirShort {
		side = models.OrderSell
	}

	res, err := s.marketOrder(ctx, b, sig.Symbol, side, qty)
	if err != nil {
		return s.brokerFailure(rep, b, err)
	}

	s.met.OrdersTotal.WithLabelValues(b.Name(), string(side)).Inc()
	rep.Action = models.ActionOpened
	rep.OrderID = res.ID
	rep.Qty = qty
	rep.Detail = fmt.Sprintf("%s %.6f @ %.5f SL=%.5f TP=%.5f status=%s",
		side, qty, sig.Entry, sig.Stop, sig.Target, res.Status)
	logger.Info("[%s] OPEN %s qty=%.6f orderId=%s", sig.Symbol, sig.Direction, qty, res.ID)
	return rep
}

// --- обёртки брокерских вызовов с пер-вызовным таймаутом ---

func (s *Scheduler) fetchCandles(ctx context.Context, b broker.Broker, symbol string) ([]models.Candle, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return b.Candles(cctx, symbol, s.cfg.Timeframe, s.cfg.CandleLimit)
}

func (s *Scheduler) positions(ctx context.Context, b broker.Broker) ([]models.Position, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return b.Positions(cctx)
}

func (s *Scheduler) account(ctx context.Context, b broker.Broker) (models.Account, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return b.Account(cctx)
}

func (s *Scheduler) closeAll(ctx context.Context, b broker.Broker, symbol string) ([]models.Closure, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return b.CloseAll(cctx, symbol)
}

func (s *Scheduler) marketOrder(ctx context.Context, b broker.Broker, symbol string, side models.OrderSide, qty float64) (models.OrderResult, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return b.MarketOrder(cctx, symbol, side, qty)
}

// brokerFailure сводит ошибку адаптера в отчёт; auth-ошибки дополнительно
// гасят брокера до рестарта.
func (s *Scheduler) brokerFailure(rep models.TickReport, b broker.Broker, err error) models.TickReport {
	kind := broker.KindOf(err)
	if kind.Fatal() {
		s.markBrokerDead(b.Name(), err.Error())
	}
	if kind == broker.KindNoData {
		// пустые свечи — это flat на этот тик, ретрай на следующем
		rep.Direction = models.DirFlat
		rep.Action = models.ActionSkip
	} else {
		rep.Action = models.ActionFailed
	}
	rep.ErrKind = string(kind)
	if rep.ErrKind == "" {
		rep.ErrKind = string(broker.KindUnavailable)
	}
	rep.Detail = err.Error()
	logger.Error("[%s] %s: %v", rep.Symbol, rep.ErrKind, err)
	return rep
}

func (s *Scheduler) failed(rep models.TickReport, err error) models.TickReport {
	rep.Action = models.ActionFailed
	rep.ErrKind = string(broker.KindOf(err))
	rep.Detail = err.Error()
	return rep
}

func findPosition(positions []models.Position, symbol string) *models.Position {
	for i := range positions {
		if positions[i].Symbol == symbol {
			return &positions[i]
		}
	}
	return nil
}
