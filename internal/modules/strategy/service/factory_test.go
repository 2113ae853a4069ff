package service

import (
	"testing"

	"trade_engine/internal/modules/config"
)

func TestNewGenerator(t *testing.T) {
	cfg := &config.Config{
		Timeframe: "1m",
		EMAFast:   9, EMASlow: 21, RSIPeriod: 14, ATRPeriod: 14,
		RSIOverbought: 70, RSIOversold: 30,
		ATRMultiplier: 1.5, RewardRisk: 2.0,
	}

	for _, name := range []string{"", "emarsi"} {
		cfg.Strategy = name
		if got := NewGenerator(cfg); got.Name() != "emarsi" {
			t.Fatalf("strategy %q: got generator %q", name, got.Name())
		}
	}

	// незнакомое имя режется валидацией конфига; фабрика всё равно
	// не имеет права вернуть nil
	cfg.Strategy = "emarsl"
	if got := NewGenerator(cfg); got == nil || got.Name() != "emarsi" {
		t.Fatal("fallback generator expected for unknown name")
	}
}
