package models

import "time"

// Candle — закрытая свеча. Потребители никогда не видят текущую (формирующуюся).
type Candle struct {
	Time   time.Time // начало свечи, UTC
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}
