package broker

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// priceCache — последняя сделка по символу из WS. Используется только для
// отображения (status/позиции), решения движка всегда идут по закрытым свечам.
type priceCache struct {
	mu     sync.RWMutex
	prices map[string]float64
}

func newPriceCache() *priceCache {
	return &priceCache{prices: make(map[string]float64)}
}

func (p *priceCache) Set(symbol string, px float64) {
	p.mu.Lock()
	p.prices[symbol] = px
	p.mu.Unlock()
}

func (p *priceCache) Get(symbol string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.prices[symbol]
}

const alpacaStreamURL = "wss://stream.data.alpaca.markets/v1beta3/crypto/us"

// StreamTrades держит WS-подписку на сделки и обновляет кеш последних цен.
// Переподключается с нарастающей паузой; гаснет вместе с ctx.
func (a *Alpaca) StreamTrades(ctx context.Context, symbols []string) {
	if len(symbols) == 0 {
		return
	}

	go func() {
		dialer := &websocket.Dialer{}
		retry := 0
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			conn, _, err := dialer.DialContext(ctx, alpacaStreamURL, nil)
			if err != nil {
				retry++
				if retry > 8 {
					log.Printf("[WS] alpaca stream: giving up after %d retries: %v", retry, err)
					return
				}
				time.Sleep(time.Duration(300*retry) * time.Millisecond)
				continue
			}
			retry = 0

			_ = conn.WriteJSON(map[string]string{"action": "auth", "key": a.keyID, "secret": a.secret})
			_ = conn.WriteJSON(map[string]any{"action": "subscribe", "trades": symbols})

			a.readTrades(ctx, conn)
			_ = conn.Close()

			select {
			case <-ctx.Done():
				return
			default:
				time.Sleep(time.Second)
			}
		}
	}()
}

func (a *Alpaca) readTrades(ctx context.Context, conn *websocket.Conn) {
	// keepalive: дата-стрим режет молчащие соединения
	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		t := time.NewTicker(20 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopPing:
				return
			case <-t.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frames []struct {
			T string  `json:"T"` // тип сообщения, "t" = trade
			S string  `json:"S"`
			P float64 `json:"p"`
		}
		if err := json.Unmarshal(msg, &frames); err != nil {
			continue
		}
		for _, f := range frames {
			if f.T == "t" && f.P > 0 {
				a.prices.Set(f.S, f.P)
			}
		}
	}
}
