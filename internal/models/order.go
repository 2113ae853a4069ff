package models

type OrderSide string

const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

type OrderResult struct {
	ID        string
	Status    string
	FilledQty float64
}

// Closure — результат закрытия по одному символу.
// Закрытие уже плоского символа — тривиальный успех (Status="flat").
type Closure struct {
	Symbol string
	Qty    float64
	Status string
}
