package models

import "time"

// TickAction — что сделал движок по символу за тик.
type TickAction string

const (
	ActionNone   TickAction = "none"
	ActionHold   TickAction = "hold"
	ActionOpened TickAction = "opened"
	ActionClosed TickAction = "closed"
	ActionSkip   TickAction = "skip"
	ActionFailed TickAction = "failed"
)

// TickReport — структурированный исход обработки одного символа за один тик.
// Ошибка любого шага конвертируется сюда, а не роняет весь тик.
type TickReport struct {
	Symbol    string
	Broker    string
	Direction Direction
	Action    TickAction
	OrderID   string
	Qty       float64
	ErrKind   string // пусто, если ошибки не было
	Detail    string
	At        time.Time
}
