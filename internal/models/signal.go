package models

import "fmt"

type Direction string

const (
	DirFlat  Direction = "flat"
	DirLong  Direction = "long"
	DirShort Direction = "short"
)

// Opposite — противоположная сторона для проверки конфликта с открытой позицией.
func (d Direction) Opposite() Direction {
	switch d {
	case DirLong:
		return DirShort
	case DirShort:
		return DirLong
	}
	return DirFlat
}

// Signal живёт один тик: генерится заново по каждой паре фреймов,
// никогда не переиспользуется между тиками.
type Signal struct {
	Symbol    string
	Timeframe string
	Direction Direction
	Entry     float64
	Stop      float64
	Target    float64
	Reason    string
}

func (s Signal) Actionable() bool { return s.Direction == DirLong || s.Direction == DirShort }

func (s Signal) String() string {
	if !s.Actionable() {
		return fmt.Sprintf("[%s] flat", s.Symbol)
	}
	return fmt.Sprintf("[%s] %s @ %.5f SL=%.5f TP=%.5f", s.Symbol, s.Direction, s.Entry, s.Stop, s.Target)
}
