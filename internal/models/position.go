package models

// Position — снимок позиции у брокера. Единственный источник правды — сам брокер,
// движок только читает (никакого локального кеша позиций).
type Position struct {
	Symbol   string
	Side     Direction // long/short
	Qty      float64
	AvgEntry float64
}
