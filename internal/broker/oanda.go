package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"trade_engine/internal/models"
)

// Oanda — адаптер FX/металлов (v20 practice API). Признаёт символы вида "EUR_USD".
type Oanda struct {
	baseURL   string
	token     string
	accountID string
	http      *http.Client
}

type OandaConfig struct {
	BaseURL   string
	Token     string
	AccountID string
	Timeout   time.Duration
}

func NewOanda(cfg OandaConfig) *Oanda {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api-fxpractice.oanda.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Oanda{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		token:     cfg.Token,
		accountID: cfg.AccountID,
		http:      &http.Client{Timeout: cfg.Timeout},
	}
}

func (o *Oanda) Name() string { return "oanda" }

// InstrumentOk: инструменты v20 пишутся через подчёркивание — "EUR_USD", "XAU_USD".
func (o *Oanda) InstrumentOk(symbol string) bool {
	parts := strings.Split(symbol, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return false
	}
	return symbol == strings.ToUpper(symbol)
}

func (o *Oanda) MinOrderSize(string) float64 { return 1 }

func (o *Oanda) PricePrecision(symbol string) int {
	switch {
	case strings.HasPrefix(symbol, "XAU_"), strings.HasPrefix(symbol, "XAG_"):
		return 2
	case strings.HasSuffix(symbol, "_JPY"):
		return 3
	default:
		return 5
	}
}

func (o *Oanda) do(ctx context.Context, method, path string, body []byte, op, symbol string) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, rd)
	if err != nil {
		return nil, E(KindUnavailable, op, symbol, errors.Wrap(err, "build request"))
	}
	req.Header.Set("Authorization", "Bearer "+o.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := o.http.Do(req)
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
	case resp.StatusCode == http.StatusBadRequest:
		return nil, E(KindOrderRejected, op, symbol, fmt.Errorf("http %d: %s", resp.StatusCode, string(rb)))
	default:
		return nil, E(KindUnavailable, op, symbol, fmt.Errorf("http %d: %s", resp.StatusCode, string(rb)))
	}
}

func (o *Oanda) Account(ctx context.Context) (models.Account, error) {
	rb, err := o.do(ctx, http.MethodGet, "/v3/accounts/"+o.accountID+"/summary", nil, "oanda.account", "")
	if err != nil {
		return models.Account{}, err
	}

	var d struct {
		Account struct {
			NAV             string `json:"NAV"`
			Balance         string `json:"balance"`
			MarginAvailable string `json:"marginAvailable"`
		} `json:"account"`
	}
	if err := json.Unmarshal(rb, &d); err != nil {
		return models.Account{}, E(KindUnavailable, "oanda.account", "", errors.Wrap(err, "decode"))
	}
	return models.Account{
		Equity:      parseF(d.Account.NAV),
		Cash:        parseF(d.Account.Balance),
		BuyingPower: parseF(d.Account.MarginAvailable),
	}, nil
}

func (o *Oanda) Positions(ctx context.Context) ([]models.Position, error) {
	rb, err := o.do(ctx, http.MethodGet, "/v3/accounts/"+o.accountID+"/openPositions", nil, "oanda.positions", "")
	if err != nil {
		return nil, err
	}

	var d struct {
		Positions []struct {
			Instrument string `json:"instrument"`
			Long       struct {
				Units        string `json:"units"`
				AveragePrice string `json:"averagePrice"`
			} `json:"long"`
			Short struct {
				Units        string `json:"units"`
				AveragePrice string `json:"averagePrice"`
			} `json:"short"`
		} `json:"positions"`
	}
	if err := json.Unmarshal(rb, &d); err != nil {
		return nil, E(KindUnavailable, "oanda.positions", "", errors.Wrap(err, "decode"))
	}

	var out []models.Position
	for _, p := range d.Positions {
		if units := parseF(p.Long.Units); units > 0 {
			out = append(out, models.Position{
				Symbol: p.Instrument, Side: models.DirLong,
				Qty: units, AvgEntry: parseF(p.Long.AveragePrice),
			})
		}
		if units := parseF(p.Short.Units); units < 0 {
			out = append(out, models.Position{
				Symbol: p.Instrument, Side: models.DirShort,
				Qty: -units, AvgEntry: parseF(p.Short.AveragePrice),
			})
		}
	}
	return out, nil
}

func (o *Oanda) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	gran, err := oandaGranularity(timeframe)
	if err != nil {
		return nil, E(KindNoData, "oanda.candles", symbol, err)
	}

	path := fmt.Sprintf("/v3/instruments/%s/candles?granularity=%s&count=%d&price=M", symbol, gran, limit)
	rb, err := o.do(ctx, http.MethodGet, path, nil, "oanda.candles", symbol)
	if err != nil {
		return nil, err
	}

	var d struct {
		Candles []struct {
			Complete bool      `json:"complete"`
			Time     time.Time `json:"time"`
			Volume   float64   `json:"volume"`
			Mid      struct {
				O string `json:"o"`
				H string `json:"h"`
				L string `json:"l"`
				C string `json:"c"`
			} `json:"mid"`
		} `json:"candles"`
	}
	if err := json.Unmarshal(rb, &d); err != nil {
		return nil, E(KindUnavailable, "oanda.candles", symbol, errors.Wrap(err, "decode"))
	}

	candles := make([]models.Candle, 0, len(d.Candles))
	for _, c := range d.Candles {
		if !c.Complete {
			// формирующаяся свеча — наружу не отдаём
			continue
		}
		candles = append(candles, models.Candle{
			Time:   c.Time.UTC(),
			Open:   parseF(c.Mid.O),
			High:   parseF(c.Mid.H),
			Low:    parseF(c.Mid.L),
			Close:  parseF(c.Mid.C),
			Volume: c.Volume,
		})
	}
	if len(candles) == 0 {
		return nil, E(KindNoData, "oanda.candles", symbol, fmt.Errorf("no complete candles for %s %s", symbol, gran))
	}
	return candles, nil
}

func (o *Oanda) MarketOrder(ctx context.Context, symbol string, side models.OrderSide, qty float64) (models.OrderResult, error) {
	units := math.Floor(qty)
	if units < 1 {
		return models.OrderResult{}, E(KindOrderRejected, "oanda.order", symbol, fmt.Errorf("units %.4f < 1", qty))
	}
	if side == models.OrderSell {
		units = -units
	}

	body, err := sonic.Marshal(map[string]any{
		"order": map[string]string{
			"type":         "MARKET",
			"instrument":   symbol,
			"units":        strconv.FormatFloat(units, 'f', 0, 64),
			"timeInForce":  "FOK",
			"positionFill": "DEFAULT",
		},
	})
	if err != nil {
		return models.OrderResult{}, E(KindOrderRejected, "oanda.order", symbol, errors.Wrap(err, "marshal"))
	}

	rb, err := o.do(ctx, http.MethodPost, "/v3/accounts/"+o.accountID+"/orders", body, "oanda.order", symbol)
	if err != nil {
		return models.OrderResult{}, err
	}

	var d struct {
		OrderFillTransaction *struct {
			ID    string `json:"id"`
			Units string `json:"units"`
		} `json:"orderFillTransaction"`
		OrderCancelTransaction *struct {
			Reason string `json:"reason"`
		} `json:"orderCancelTransaction"`
	}
	if err := json.Unmarshal(rb, &d); err != nil {
		return models.OrderResult{}, E(KindUnavailable, "oanda.order", symbol, errors.Wrap(err, "decode"))
	}
	if d.OrderCancelTransaction != nil {
		return models.OrderResult{}, E(KindOrderRejected, "oanda.order", symbol,
			fmt.Errorf("order cancelled: %s", d.OrderCancelTransaction.Reason))
	}
	if d.OrderFillTransaction == nil {
		return models.OrderResult{}, E(KindOrderRejected, "oanda.order", symbol, fmt.Errorf("no fill in response"))
	}

	filled := parseF(d.OrderFillTransaction.Units)
	if filled < 0 {
		filled = -filled
	}
	return models.OrderResult{ID: d.OrderFillTransaction.ID, Status: "filled", FilledQty: filled}, nil
}

func (o *Oanda) CloseAll(ctx context.Context, symbol string) ([]models.Closure, error) {
	positions, err := o.Positions(ctx)
	if err != nil {
		return nil, err
	}

	var out []models.Closure
	for _, p := range positions {
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		body := map[string]string{"longUnits": "ALL"}
		if p.Side == models.DirShort {
			body = map[string]string{"shortUnits": "ALL"}
		}
		payload, err := sonic.Marshal(body)
		if err != nil {
			return out, E(KindOrderRejected, "oanda.close", p.Symbol, errors.Wrap(err, "marshal"))
		}
		path := "/v3/accounts/" + o.accountID + "/positions/" + p.Symbol + "/close"
		if _, err := o.do(ctx, http.MethodPut, path, payload, "oanda.close", p.Symbol); err != nil {
			return out, err
		}
		out = append(out, models.Closure{Symbol: p.Symbol, Qty: p.Qty, Status: "closed"})
	}
	if symbol != "" && len(out) == 0 {
		out = append(out, models.Closure{Symbol: symbol, Status: "flat"})
	}
	return out, nil
}

func oandaGranularity(tf string) (string, error) {
	switch strings.ToLower(tf) {
	case "1m":
		return "M1", nil
	case "5m":
		return "M5", nil
	case "15m":
		return "M15", nil
	case "1h", "60m":
		return "H1", nil
	case "1d":
		return "D", nil
	}
	return "", fmt.Errorf("unsupported timeframe %q", tf)
}
