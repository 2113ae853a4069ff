package risk

import (
	"math"

	"github.com/pkg/errors"
)

// ErrInsufficientSize — расчёт дал неторгуемый размер; вызывающий обязан
// пропустить ордер, а не отправлять нулевой/отрицательный.
var ErrInsufficientSize = errors.New("insufficient position size")

// Input для расчёта размера позиции на одну сделку.
type Input struct {
	Equity       float64
	RiskPct      float64 // 1.0 => 1% of equity
	EntryPrice   float64
	StopDistance float64 // абсолютная дистанция до стопа
	MaxNotional  float64 // максимальная стоимость позиции; 0 = без лимита
	MinQty       float64 // минимальный торгуемый размер у брокера
	QtyStep      float64 // шаг размера; 0 = без шага
}

// SizeByRisk считает количество так, чтобы убыток при срабатывании стопа был
// равен RiskPct от equity. При нулевой дистанции до стопа — фолбэк на плоскую
// долю депозита. Результат обрезается по MaxNotional и приводится к шагу.
func SizeByRisk(in Input) (float64, error) {
	if in.Equity <= 0 {
		return 0, errors.Wrap(ErrInsufficientSize, "equity <= 0")
	}
	if in.RiskPct <= 0 {
		return 0, errors.Wrap(ErrInsufficientSize, "risk pct <= 0")
	}
	if in.EntryPrice <= 0 {
		return 0, errors.Wrap(ErrInsufficientSize, "entry price <= 0")
	}

	riskAmount := in.Equity * in.RiskPct / 100.0

	var qty float64
	if in.StopDistance > 0 {
		qty = riskAmount / in.StopDistance
	} else {
		// нет стопа — рискуем плоской долей депозита как notional
		qty = riskAmount / in.EntryPrice
	}

	if in.MaxNotional > 0 {
		if maxQty := in.MaxNotional / in.EntryPrice; qty > maxQty {
			qty = maxQty
		}
	}

	if in.QtyStep > 0 {
		qty = math.Floor(qty/in.QtyStep+1e-9) * in.QtyStep
	}

	if qty <= 0 {
		return 0, errors.Wrap(ErrInsufficientSize, "rounded size <= 0")
	}
	if in.MinQty > 0 && qty < in.MinQty {
		return 0, errors.Wrapf(ErrInsufficientSize, "size %.8f below broker minimum %.8f", qty, in.MinQty)
	}
	return qty, nil
}
