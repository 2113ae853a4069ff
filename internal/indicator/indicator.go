package indicator

import (
	"math"

	"trade_engine/internal/models"
)

const rsiEps = 1e-12

// Frame — производные значения по одной свече, выровнены 1:1 с входной серией.
// До прогрева все поля NaN; генератор сигналов обязан это проверять.
type Frame struct {
	EMAFast float64
	EMASlow float64
	RSI     float64
	ATR     float64
}

type Params struct {
	FastSpan  int
	SlowSpan  int
	RSIPeriod int
	ATRPeriod int
}

func (p Params) valid() bool {
	return p.FastSpan > 0 && p.SlowSpan > 0 && p.RSIPeriod > 0 && p.ATRPeriod > 0
}

// Warmup — сколько свечей нужно, прежде чем фреймы становятся определёнными.
func (p Params) Warmup() int {
	w := p.FastSpan
	for _, n := range []int{p.SlowSpan, p.RSIPeriod, p.ATRPeriod} {
		if n > w {
			w = n
		}
	}
	return w + 1
}

func (f Frame) Defined() bool {
	return !math.IsNaN(f.EMAFast) && !math.IsNaN(f.EMASlow) &&
		!math.IsNaN(f.RSI) && !math.IsNaN(f.ATR)
}

// Compute — чистая функция: одинаковый вход всегда даёт одинаковый выход,
// без заглядывания вперёд и без скрытого состояния.
//
// EMA:  ema[0]=close[0]; ema[t]=a*close[t]+(1-a)*ema[t-1], a=2/(span+1).
// RSI:  сглаживание Уайлдера avgGain/avgLoss с alpha=1/period.
// ATR:  экспоненциальное среднее true range с тем же alpha.
func Compute(candles []models.Candle, p Params) []Frame {
	frames := make([]Frame, len(candles))
	if len(candles) == 0 || !p.valid() {
		nan := math.NaN()
		for i := range frames {
			frames[i] = Frame{EMAFast: nan, EMASlow: nan, RSI: nan, ATR: nan}
		}
		return frames
	}

	aFast := 2.0 / float64(p.FastSpan+1)
	aSlow := 2.0 / float64(p.SlowSpan+1)
	aRSI := 1.0 / float64(p.RSIPeriod)
	aATR := 1.0 / float64(p.ATRPeriod)

	emaFast := candles[0].Close
	emaSlow := candles[0].Close
	avgGain, avgLoss := 0.0, 0.0
	atr := candles[0].High - candles[0].Low

	warm := p.Warmup()
	nan := math.NaN()

	for i, c := range candles {
		if i > 0 {
			emaFast = aFast*c.Close + (1-aFast)*emaFast
			emaSlow = aSlow*c.Close + (1-aSlow)*emaSlow

			delta := c.Close - candles[i-1].Close
			gain, loss := 0.0, 0.0
			if delta > 0 {
				gain = delta
			} else {
				loss = -delta
			}
			if i == 1 {
				avgGain, avgLoss = gain, loss
			} else {
				avgGain = (1-aRSI)*avgGain + aRSI*gain
				avgLoss = (1-aRSI)*avgLoss + aRSI*loss
			}

			tr := trueRange(c, candles[i-1].Close)
			atr = (1-aATR)*atr + aATR*tr
		}

		if i+1 < warm {
			frames[i] = Frame{EMAFast: nan, EMASlow: nan, RSI: nan, ATR: nan}
			continue
		}

		rs := avgGain / (avgLoss + rsiEps)
		frames[i] = Frame{
			EMAFast: emaFast,
			EMASlow: emaSlow,
			RSI:     100 - 100/(1+rs),
			ATR:     atr,
		}
	}
	return frames
}

func trueRange(c models.Candle, prevClose float64) float64 {
	tr := c.High - c.Low
	if v := math.Abs(c.High - prevClose); v > tr {
		tr = v
	}
	if v := math.Abs(c.Low - prevClose); v > tr {
		tr = v
	}
	return tr
}
