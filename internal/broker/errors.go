package broker

import (
	stderrors "errors"
	"fmt"
)

// Kind — классификация отказов брокерского слоя (§ таксономия ошибок).
// Каждая пер-символьная ошибка тика сводится к одному из этих видов.
type Kind string

const (
	KindUnavailable      Kind = "broker_unavailable" // сеть/таймаут/5xx — ретрай на следующем тике
	KindAuthMissing      Kind = "auth_missing"       // нет кредов — брокер выключается из роутинга
	KindAuthInvalid      Kind = "auth_invalid"       // креды отвергнуты — аналогично
	KindNoData           Kind = "no_data"            // пустой ответ по свечам — flat на этот тик
	KindUnroutable       Kind = "unroutable_symbol"  // ни один адаптер не признал символ
	KindInsufficientSize Kind = "insufficient_size"  // сайзинг дал неторгуемый размер
	KindOrderRejected    Kind = "order_rejected"     // отказ брокера; автоматически не ретраим
)

// Retryable — можно ли молча повторить на следующем тике.
func (k Kind) Retryable() bool {
	return k == KindUnavailable || k == KindNoData
}

// Fatal — брокер отключается до перезапуска процесса.
func (k Kind) Fatal() bool {
	return k == KindAuthMissing || k == KindAuthInvalid
}

type Error struct {
	Kind   Kind
	Op     string // например "alpaca.candles"
	Symbol string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Symbol != "" {
		msg += " [" + e.Symbol + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func E(kind Kind, op, symbol string, err error) *Error {
	return &Error{Kind: kind, Op: op, Symbol: symbol, Err: err}
}

// KindOf вытаскивает Kind из цепочки ошибок; пустая строка — не брокерская ошибка.
func KindOf(err error) Kind {
	var be *Error
	if stderrors.As(err, &be) {
		return be.Kind
	}
	return ""
}
