package service

import (
	"trade_engine/internal/indicator"
	"trade_engine/internal/models"
)

// Generator выдаёт свежий сигнал по хвосту индикаторной серии. Сигнал живёт
// один тик; кроссовер детектится строгим сравнением prev/last, поэтому один и
// тот же кроссовер не перестреливает на следующих тиках без встречного.
type Generator interface {
	Name() string
	Generate(symbol string, prev, last indicator.Frame, entry float64, precision int) models.Signal
}
