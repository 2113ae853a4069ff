package models

// Account — read-only снимок счёта, запрашивается заново на каждый цикл решения.
type Account struct {
	Equity      float64
	Cash        float64
	BuyingPower float64
}
