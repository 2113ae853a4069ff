package router

import (
	"testing"

	"trade_engine/internal/broker"
)

func TestRoute(t *testing.T) {
	crypto := broker.NewAlpaca(broker.AlpacaConfig{KeyID: "k", Secret: "s"})
	fx := broker.NewOanda(broker.OandaConfig{Token: "t", AccountID: "a"})
	r := New(crypto, fx)

	b, err := r.Route("BTC/USD")
	if err != nil || b.Name() != "alpaca" {
		t.Fatalf("BTC/USD -> %v, %v; want alpaca", b, err)
	}

	b, err = r.Route("EUR_USD")
	if err != nil || b.Name() != "oanda" {
		t.Fatalf("EUR_USD -> %v, %v; want oanda", b, err)
	}

	_, err = r.Route("XYZ")
	if broker.KindOf(err) != broker.KindUnroutable {
		t.Fatalf("XYZ: kind=%q, want %q", broker.KindOf(err), broker.KindUnroutable)
	}
}

func TestRouteEmpty(t *testing.T) {
	r := New()
	if _, err := r.Route("BTC/USD"); broker.KindOf(err) != broker.KindUnroutable {
		t.Fatal("empty router must report unroutable")
	}
}
