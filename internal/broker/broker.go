package broker

import (
	"context"

	"trade_engine/internal/models"
)

// Broker — единый набор способностей для всех вариантов (крипта, FX/металлы).
// Новый брокер добавляется реализацией интерфейса, а не ветвлением по имени.
// Адаптеры stateless per call: никакого сессионного кеша позиций.
type Broker interface {
	Name() string

	// Account — снимок счёта. KindUnavailable при сетевой/HTTP ошибке,
	// KindAuthInvalid при отказе аутентификации.
	Account(ctx context.Context) (models.Account, error)

	Positions(ctx context.Context) ([]models.Position, error)

	// InstrumentOk — чистая проверка формата символа, без I/O. По ней роутер
	// решает, чей это инструмент.
	InstrumentOk(symbol string) bool

	// Candles возвращает только закрытые свечи по возрастанию времени.
	// KindNoData, если апстрим вернул пусто.
	Candles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)

	MarketOrder(ctx context.Context, symbol string, side models.OrderSide, qty float64) (models.OrderResult, error)

	// CloseAll закрывает позицию по символу, а при symbol=="" — все открытые.
	// Идемпотентно: закрытие уже плоского символа — тривиальный успех.
	CloseAll(ctx context.Context, symbol string) ([]models.Closure, error)

	// Метаданные инструмента для сайзинга/округления. Без I/O.
	MinOrderSize(symbol string) float64
	PricePrecision(symbol string) int
}
