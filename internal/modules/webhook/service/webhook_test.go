package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"trade_engine/internal/broker"
	"trade_engine/internal/commands"
	"trade_engine/internal/engine"
	"trade_engine/internal/indicator"
	"trade_engine/internal/models"
	"trade_engine/internal/modules/config"
	healthsvc "trade_engine/internal/modules/health/service"
	"trade_engine/internal/router"
)

type noopBroker struct{}

func (noopBroker) Name() string                { return "noop" }
func (noopBroker) InstrumentOk(string) bool    { return true }
func (noopBroker) MinOrderSize(string) float64 { return 0.001 }
func (noopBroker) PricePrecision(string) int   { return 2 }
func (noopBroker) Account(context.Context) (models.Account, error) {
	return models.Account{Equity: 1000}, nil
}
func (noopBroker) Positions(context.Context) ([]models.Position, error) { return nil, nil }
func (noopBroker) Candles(context.Context, string, string, int) ([]models.Candle, error) {
	return nil, nil
}
func (noopBroker) MarketOrder(context.Context, string, models.OrderSide, float64) (models.OrderResult, error) {
	return models.OrderResult{ID: "x", Status: "filled"}, nil
}
func (noopBroker) CloseAll(context.Context, string) ([]models.Closure, error) { return nil, nil }

type noopGen struct{}

func (noopGen) Name() string { return "noop" }
func (noopGen) Generate(symbol string, _, _ indicator.Frame, _ float64, _ int) models.Signal {
	return models.Signal{Symbol: symbol, Direction: models.DirFlat}
}

func newTestWebhook(accessKey string) *Webhook {
	cfg := &config.Config{
		Symbols:      []string{"BTC/USD"},
		Timeframe:    "1m",
		CandleLimit:  10,
		PollInterval: time.Hour,
		CallTimeout:  time.Second,
		Mode:         "paper",
		AccessKey:    accessKey,
		EMAFast:      2, EMASlow: 3, RSIPeriod: 2, ATRPeriod: 2,
		RiskPct: 1,
	}
	var _ broker.Broker = noopBroker{}
	rt := router.New(noopBroker{})
	sched := engine.NewScheduler(cfg, rt, noopGen{}, healthsvc.NewMetrics())
	return NewWebhook(cfg, commands.NewDispatcher(cfg, rt, sched))
}

func postWebhook(t *testing.T, wh *Webhook, setAuth func(*http.Request), body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	if setAuth != nil {
		setAuth(req)
	}
	rec := httptest.NewRecorder()
	wh.Mux().ServeHTTP(rec, req)
	return rec
}

func TestWebhook_RejectsWithoutKey(t *testing.T) {
	wh := newTestWebhook("secret")

	rec := postWebhook(t, wh, nil, `{"message":{"text":"help"}}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("code=%d, want 403", rec.Code)
	}
}

func TestWebhook_RejectsWrongKey(t *testing.T) {
	wh := newTestWebhook("secret")

	rec := postWebhook(t, wh, func(r *http.Request) {
		r.Header.Set("x-access-key", "nope")
	}, `{"message":{"text":"help"}}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("code=%d, want 403", rec.Code)
	}
}

func TestWebhook_RejectsWhenKeyUnset(t *testing.T) {
	// без настроенного ключа вебхук закрыт наглухо, а не открыт всем
	wh := newTestWebhook("")

	rec := postWebhook(t, wh, func(r *http.Request) {
		r.Header.Set("x-access-key", "")
	}, `{"message":{"text":"help"}}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("code=%d, want 403", rec.Code)
	}
}

func TestWebhook_AcceptsAllKeyHeaderSpellings(t *testing.T) {
	wh := newTestWebhook("secret")

	auths := []func(*http.Request){
		func(r *http.Request) { r.Header.Set("poe-access-key", "secret") },
		func(r *http.Request) { r.Header.Set("x-poe-access-key", "secret") },
		func(r *http.Request) { r.Header.Set("x-access-key", "secret") },
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret") },
	}
	for i, setAuth := range auths {
		rec := postWebhook(t, wh, setAuth, `{"message":{"text":"help"}}`)
		if rec.Code != http.StatusOK {
			t.Errorf("auth variant %d: code=%d, want 200", i, rec.Code)
		}
	}
}

func TestWebhook_CommandRoundTrip(t *testing.T) {
	wh := newTestWebhook("secret")

	rec := postWebhook(t, wh, func(r *http.Request) {
		r.Header.Set("poe-access-key", "secret")
	}, `{"message":{"text":"/help"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code=%d, want 200", rec.Code)
	}

	var reply struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := sonic.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("bad reply json: %v", err)
	}
	if reply.Type != "text" || !strings.Contains(reply.Text, "/status") {
		t.Fatalf("reply=%+v, want help text", reply)
	}
}

func TestWebhook_EmptyTextGetsDefaultReply(t *testing.T) {
	wh := newTestWebhook("secret")

	rec := postWebhook(t, wh, func(r *http.Request) {
		r.Header.Set("poe-access-key", "secret")
	}, `{}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code=%d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Webhook OK") {
		t.Fatalf("body=%s, want default reply", rec.Body.String())
	}
}

func TestWebhook_Health(t *testing.T) {
	wh := newTestWebhook("secret")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	wh.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("code=%d, want 200", rec.Code)
	}
	var resp map[string]string
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if resp["status"] != "ok" || resp["mode"] != "paper" {
		t.Fatalf("resp=%v", resp)
	}
}
