package service

import (
	"fmt"
	"math"

	"trade_engine/internal/indicator"
	"trade_engine/internal/models"
	"trade_engine/internal/modules/config"
)

// EMARSI — кроссовер EMA fast/slow с RSI-фильтром и ATR-стопом.
// Бычий вход: prevFast<=prevSlow && lastFast>lastSlow && RSI < overbought.
// Медвежий — зеркально. Иначе flat.
type EMARSI struct {
	overbought float64
	oversold   float64
	atrMult    float64
	rewardRisk float64
	minBuffer  float64
	timeframe  string
}

func NewEMARSI(cfg *config.Config) *EMARSI {
	return &EMARSI{
		overbought: cfg.RSIOverbought,
		oversold:   cfg.RSIOversold,
		atrMult:    cfg.ATRMultiplier,
		rewardRisk: cfg.RewardRisk,
		minBuffer:  cfg.MinSpreadBuffer,
		timeframe:  cfg.Timeframe,
	}
}

func (e *EMARSI) Name() string { return "emarsi" }

func (e *EMARSI) Generate(symbol string, prev, last indicator.Frame, entry float64, precision int) models.Signal {
	flat := models.Signal{Symbol: symbol, Timeframe: e.timeframe, Direction: models.DirFlat}

	// недогретые индикаторы — не сигнал и не ошибка
	if !prev.Defined() || !last.Defined() || entry <= 0 {
		return flat
	}

	var dir models.Direction
	switch {
	case prev.EMAFast <= prev.EMASlow && last.EMAFast > last.EMASlow && last.RSI < e.overbought:
		dir = models.DirLong
	case prev.EMAFast >= prev.EMASlow && last.EMAFast < last.EMASlow && last.RSI > e.oversold:
		dir = models.DirShort
	default:
		return flat
	}

	stopDist := last.ATR * e.atrMult
	if stopDist < e.minBuffer {
		stopDist = e.minBuffer
	}
	if stopDist <= 0 {
		return flat
	}

	var stop, target float64
	if dir == models.DirLong {
		stop = entry - stopDist
		target = entry + stopDist*e.rewardRisk
	} else {
		stop = entry + stopDist
		target = entry - stopDist*e.rewardRisk
	}

	return models.Signal{
		Symbol:    symbol,
		Timeframe: e.timeframe,
		Direction: dir,
		Entry:     roundTo(entry, precision),
		Stop:      roundTo(stop, precision),
		Target:    roundTo(target, precision),
		Reason: fmt.Sprintf("EMA cross %s, RSI=%.1f, ATR=%.5f",
			dir, last.RSI, last.ATR),
	}
}

func roundTo(px float64, precision int) float64 {
	if precision < 0 {
		return px
	}
	pow := math.Pow10(precision)
	return math.Round(px*pow) / pow
}
