package router

import (
	"fmt"

	"trade_engine/internal/broker"
)

// Router раздаёт символы брокерам по формату инструмента. Чистая функция от
// зарегистрированного набора адаптеров: никакого I/O, детерминированный выбор
// первого признавшего адаптера.
type Router struct {
	brokers []broker.Broker
}

func New(brokers ...broker.Broker) *Router {
	return &Router{brokers: brokers}
}

func (r *Router) Route(symbol string) (broker.Broker, error) {
	for _, b := range r.brokers {
		if b.InstrumentOk(symbol) {
			return b, nil
		}
	}
	return nil, broker.E(broker.KindUnroutable, "router.route", symbol,
		fmt.Errorf("no adapter claims %q", symbol))
}

func (r *Router) Brokers() []broker.Broker { return r.brokers }
