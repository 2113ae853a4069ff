package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"trade_engine/internal/models"
)

// Alpaca — крипто-адаптер (paper trading API). Признаёт символы вида "BTC/USD".
type Alpaca struct {
	baseURL string // trading API, например https://paper-api.alpaca.markets/v2
	dataURL string // market data API
	keyID   string
	secret  string
	http    *http.Client

	prices *priceCache // последняя цена из WS-стрима, только для отображения
}

type AlpacaConfig struct {
	BaseURL string
	DataURL string
	KeyID   string
	Secret  string
	Timeout time.Duration
}

func NewAlpaca(cfg AlpacaConfig) *Alpaca {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://paper-api.alpaca.markets/v2"
	}
	if cfg.DataURL == "" {
		cfg.DataURL = "https://data.alpaca.markets"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Alpaca{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		dataURL: strings.TrimRight(cfg.DataURL, "/"),
		keyID:   cfg.KeyID,
		secret:  cfg.Secret,
		http:    &http.Client{Timeout: cfg.Timeout},
		prices:  newPriceCache(),
	}
}

func (a *Alpaca) Name() string { return "alpaca" }

// InstrumentOk: крипто-пары пишутся через слэш — "BTC/USD", "ETH/USDT".
func (a *Alpaca) InstrumentOk(symbol string) bool {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return false
	}
	return symbol == strings.ToUpper(symbol)
}

func (a *Alpaca) MinOrderSize(string) float64 { return 0.0001 }

func (a *Alpaca) PricePrecision(symbol string) int {
	// у крупных пар хватает двух знаков, у дешёвых монет нужно больше
	switch strings.Split(symbol, "/")[0] {
	case "BTC", "ETH":
		return 2
	default:
		return 4
	}
}

func (a *Alpaca) request(ctx context.Context, method, rawURL string, body []byte) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("APCA-API-KEY-ID", a.keyID)
	req.Header.Set("APCA-API-SECRET-KEY", a.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do выполняет запрос и сводит HTTP-статусы к таксономии Kind.
func (a *Alpaca) do(req *http.Request, op, symbol string) ([]byte, error) {
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, E(KindUnavailable, op, symbol, err)
	}
	defer resp.Body.Close()

	rb, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode/100 == 2:
		return rb, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, E(KindAuthInvalid, op, symbol, fmt.Errorf("http %d: %s", resp.StatusCode, string(rb)))
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, E(KindOrderRejected, op, symbol, fmt.Errorf("http %d: %s", resp.StatusCode, string(rb)))
	default:
		return nil, E(KindUnavailable, op, symbol, fmt.Errorf("http %d: %s", resp.StatusCode, string(rb)))
	}
}

func (a *Alpaca) Account(ctx context.Context) (models.Account, error) {
	req, err := a.request(ctx, http.MethodGet, a.baseURL+"/account", nil)
	if err != nil {
		return models.Account{}, E(KindUnavailable, "alpaca.account", "", err)
	}
	rb, err := a.do(req, "alpaca.account", "")
	if err != nil {
		return models.Account{}, err
	}

	var d struct {
		Equity      string `json:"equity"`
		Cash        string `json:"cash"`
		BuyingPower string `json:"buying_power"`
	}
	if err := json.Unmarshal(rb, &d); err != nil {
		return models.Account{}, E(KindUnavailable, "alpaca.account", "", errors.Wrap(err, "decode"))
	}
	return models.Account{
		Equity:      parseF(d.Equity),
		Cash:        parseF(d.Cash),
		BuyingPower: parseF(d.BuyingPower),
	}, nil
}

func (a *Alpaca) Positions(ctx context.Context) ([]models.Position, error) {
	req, err := a.request(ctx, http.MethodGet, a.baseURL+"/positions", nil)
	if err != nil {
		return nil, E(KindUnavailable, "alpaca.positions", "", err)
	}
	rb, err := a.do(req, "alpaca.positions", "")
	if err != nil {
		return nil, err
	}

	var data []struct {
		Symbol        string `json:"symbol"`
		Side          string `json:"side"` // "long"/"short"
		Qty           string `json:"qty"`
		AvgEntryPrice string `json:"avg_entry_price"`
	}
	if err := json.Unmarshal(rb, &data); err != nil {
		return nil, E(KindUnavailable, "alpaca.positions", "", errors.Wrap(err, "decode"))
	}

	out := make([]models.Position, 0, len(data))
	for _, d := range data {
		side := models.DirLong
		if d.Side == "short" {
			side = models.DirShort
		}
		qty := parseF(d.Qty)
		if qty < 0 {
			qty = -qty
		}
		out = append(out, models.Position{
			Symbol:   normalizeAlpacaSymbol(d.Symbol),
			Side:     side,
			Qty:      qty,
			AvgEntry: parseF(d.AvgEntryPrice),
		})
	}
	return out, nil
}

func (a *Alpaca) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	tf, tfDur, err := alpacaTimeframe(timeframe)
	if err != nil {
		return nil, E(KindNoData, "alpaca.candles", symbol, err)
	}

	q := url.Values{}
	q.Set("symbols", symbol)
	q.Set("timeframe", tf)
	q.Set("limit", strconv.Itoa(limit))
	reqURL := a.dataURL + "/v1beta3/crypto/us/bars?" + q.Encode()

	req, err := a.request(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, E(KindUnavailable, "alpaca.candles", symbol, err)
	}
	rb, err := a.do(req, "alpaca.candles", symbol)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Bars map[string][]struct {
			T time.Time `json:"t"`
			O float64   `json:"o"`
			H float64   `json:"h"`
			L float64   `json:"l"`
			C float64   `json:"c"`
			V float64   `json:"v"`
		} `json:"bars"`
	}
	if err := json.Unmarshal(rb, &payload); err != nil {
		return nil, E(KindUnavailable, "alpaca.candles", symbol, errors.Wrap(err, "decode"))
	}

	bars := payload.Bars[symbol]
	candles := make([]models.Candle, 0, len(bars))
	for _, b := range bars {
		candles = append(candles, models.Candle{
			Time: b.T.UTC(), Open: b.O, High: b.H, Low: b.L, Close: b.C, Volume: b.V,
		})
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	candles = DropForming(candles, tfDur, time.Now().UTC())

	if len(candles) == 0 {
		return nil, E(KindNoData, "alpaca.candles", symbol, fmt.Errorf("empty bars for %s %s", symbol, tf))
	}
	return candles, nil
}

func (a *Alpaca) MarketOrder(ctx context.Context, symbol string, side models.OrderSide, qty float64) (models.OrderResult, error) {
	body, err := sonic.Marshal(map[string]string{
		"symbol":        symbol,
		"qty":           strconv.FormatFloat(qty, 'f', -1, 64),
		"side":          string(side),
		"type":          "market",
		"time_in_force": "gtc",
	})
	if err != nil {
		return models.OrderResult{}, E(KindOrderRejected, "alpaca.order", symbol, errors.Wrap(err, "marshal"))
	}

	req, err := a.request(ctx, http.MethodPost, a.baseURL+"/orders", body)
	if err != nil {
		return models.OrderResult{}, E(KindUnavailable, "alpaca.order", symbol, err)
	}
	rb, err := a.do(req, "alpaca.order", symbol)
	if err != nil {
		return models.OrderResult{}, err
	}

	var d struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		FilledQty string `json:"filled_qty"`
	}
	if err := json.Unmarshal(rb, &d); err != nil {
		return models.OrderResult{}, E(KindUnavailable, "alpaca.order", symbol, errors.Wrap(err, "decode"))
	}
	return models.OrderResult{ID: d.ID, Status: d.Status, FilledQty: parseF(d.FilledQty)}, nil
}

func (a *Alpaca) CloseAll(ctx context.Context, symbol string) ([]models.Closure, error) {
	if err := a.cancelOpenOrders(ctx, symbol); err != nil {
		return nil, err
	}

	positions, err := a.Positions(ctx)
	if err != nil {
		return nil, err
	}

	var out []models.Closure
	for _, p := range positions {
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		if err := a.closePosition(ctx, p.Symbol); err != nil {
			return out, err
		}
		out = append(out, models.Closure{Symbol: p.Symbol, Qty: p.Qty, Status: "closed"})
	}
	if symbol != "" && len(out) == 0 {
		// уже плоско — идемпотентный успех
		out = append(out, models.Closure{Symbol: symbol, Status: "flat"})
	}
	return out, nil
}

func (a *Alpaca) closePosition(ctx context.Context, symbol string) error {
	// слэш в BTC/USD обязан уехать как %2F, иначе разломится путь
	req, err := a.request(ctx, http.MethodDelete, a.baseURL+"/positions/"+url.PathEscape(symbol), nil)
	if err != nil {
		return E(KindUnavailable, "alpaca.close", symbol, err)
	}
	_, err = a.do(req, "alpaca.close", symbol)
	if KindOf(err) == KindOrderRejected {
		// 422 на закрытие уже пустой позиции считаем успехом
		return nil
	}
	return err
}

// cancelOpenOrders снимает висящие ордера по символу (или все при symbol=="").
func (a *Alpaca) cancelOpenOrders(ctx context.Context, symbol string) error {
	q := url.Values{}
	q.Set("status", "open")
	if symbol != "" {
		q.Set("symbols", symbol)
	}
	req, err := a.request(ctx, http.MethodGet, a.baseURL+"/orders?"+q.Encode(), nil)
	if err != nil {
		return E(KindUnavailable, "alpaca.cancel", symbol, err)
	}
	rb, err := a.do(req, "alpaca.cancel", symbol)
	if err != nil {
		return err
	}

	var orders []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rb, &orders); err != nil {
		return E(KindUnavailable, "alpaca.cancel", symbol, errors.Wrap(err, "decode"))
	}
	for _, o := range orders {
		dreq, err := a.request(ctx, http.MethodDelete, a.baseURL+"/orders/"+o.ID, nil)
		if err != nil {
			return E(KindUnavailable, "alpaca.cancel", symbol, err)
		}
		if _, err := a.do(dreq, "alpaca.cancel", symbol); err != nil {
			return err
		}
	}
	return nil
}

// LastPrice — последняя цена из WS-стрима (0, если стрим не запущен/не успел).
func (a *Alpaca) LastPrice(symbol string) float64 { return a.prices.Get(symbol) }

func alpacaTimeframe(tf string) (string, time.Duration, error) {
	switch strings.ToLower(tf) {
	case "1m":
		return "1Min", time.Minute, nil
	case "5m":
		return "5Min", 5 * time.Minute, nil
	case "15m":
		return "15Min", 15 * time.Minute, nil
	case "1h", "60m":
		return "1Hour", time.Hour, nil
	case "1d":
		return "1Day", 24 * time.Hour, nil
	}
	return "", 0, fmt.Errorf("unsupported timeframe %q", tf)
}

// normalizeAlpacaSymbol: позиции приходят как "BTCUSD", свечи/ордеры ходят как "BTC/USD".
func normalizeAlpacaSymbol(s string) string {
	if strings.Contains(s, "/") {
		return s
	}
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return s[:len(s)-len(quote)] + "/" + quote
		}
	}
	return s
}

func parseF(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// DropForming отрезает последнюю, ещё не закрытую свечу: потребители видят
// только завершённые бары.
func DropForming(candles []models.Candle, tf time.Duration, now time.Time) []models.Candle {
	for len(candles) > 0 {
		last := candles[len(candles)-1]
		if !last.Time.Add(tf).After(now) {
			break
		}
		candles = candles[:len(candles)-1]
	}
	return candles
}
