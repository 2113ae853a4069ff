package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"trade_engine/internal/broker"
	"trade_engine/internal/engine"
	"trade_engine/internal/models"
	"trade_engine/internal/modules/config"
	"trade_engine/internal/router"
	"trade_engine/pkg/logger"
)

// Dispatcher — единая точка входа для текстовых команд. Телеграм и вебхук
// оба ходят сюда, чтобы поведение не расползалось по транспортам.
type Dispatcher struct {
	cfg   *config.Config
	rt    *router.Router
	sched *engine.Scheduler
}

func NewDispatcher(cfg *config.Config, rt *router.Router, sched *engine.Scheduler) *Dispatcher {
	return &Dispatcher{cfg: cfg, rt: rt, sched: sched}
}

// lastPricer — опциональная способность адаптера: живая цена из WS-стрима.
// Только для отображения, решения движка всегда идут по закрытым свечам.
type lastPricer interface {
	LastPrice(symbol string) float64
}

func (d *Dispatcher) livePrice(brokerName, symbol string) (float64, bool) {
	for _, br := range d.rt.Brokers() {
		if br.Name() != brokerName {
			continue
		}
		if lp, ok := br.(lastPricer); ok {
			if px := lp.LastPrice(symbol); px > 0 {
				return px, true
			}
		}
	}
	return 0, false
}

const helpText = `Команды:
/status — счёт, состояние движка, последний тик
/positions — открытые позиции по всем брокерам
/buy <символ> <кол-во> — рыночная покупка
/sell <символ> <кол-во> — рыночная продажа
/close [символ] — закрыть позиции (все или по символу)
/start — включить движок
/stop — выключить движок
/config — текущие настройки
/help — это сообщение`

// Handle разбирает одну текстовую команду и возвращает готовый ответ.
// Ошибки брокеров не всплывают наружу — они часть ответа пользователю.
func (d *Dispatcher) Handle(ctx context.Context, text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return helpText
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	args := fields[1:]

	switch cmd {
	case "status", "account":
		return d.status(ctx)
	case "positions", "pos":
		return d.positions(ctx)
	case "buy":
		return d.manualOrder(ctx, models.OrderBuy, args)
	case "sell":
		return d.manualOrder(ctx, models.OrderSell, args)
	case "close":
		return d.close(ctx, args)
	case "start":
		d.sched.SetEnabled(true)
		logger.Info("engine enabled by command")
		return "✅ Движок включён, сделки открываются со следующего тика."
	case "stop":
		d.sched.SetEnabled(false)
		logger.Info("engine disabled by command")
		return "🛑 Движок выключен. Открытые позиции не тронуты, /close закроет их."
	case "config":
		return d.configDump()
	case "help":
		return helpText
	default:
		return "🤔 Не знаю команду «" + cmd + "».\n\n" + helpText
	}
}

func (d *Dispatcher) status(ctx context.Context) string {
	var b strings.Builder

	if d.sched.Enabled() {
		b.WriteString("📊 Движок: ▶️ работает\n")
	} else {
		b.WriteString("📊 Движок: ⏹ остановлен\n")
	}

	for _, br := range d.rt.Brokers() {
		cctx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
		acc, err := br.Account(cctx)
		cancel()
		if err != nil {
			fmt.Fprintf(&b, "\n%s: ⚠️ %v\n", br.Name(), err)
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n  equity: %.2f\n  cash: %.2f\n  buying power: %.2f\n",
			br.Name(), acc.Equity, acc.Cash, acc.BuyingPower)
	}

	if dead := d.sched.DisabledBrokers(); len(dead) > 0 {
		b.WriteString("\n⛔ Отключены до рестарта:\n")
		for name, reason := range dead {
			fmt.Fprintf(&b, "  %s — %s\n", name, reason)
		}
	}

	if reports := d.sched.Reports(); len(reports) > 0 {
		b.WriteString("\nПоследний тик:\n")
		for _, r := range reports {
			fmt.Fprintf(&b, "  %s [%s] %s", r.Symbol, r.Broker, r.Action)
			if r.ErrKind != "" {
				fmt.Fprintf(&b, " (%s)", r.ErrKind)
			}
			if px, ok := d.livePrice(r.Broker, r.Symbol); ok {
				fmt.Fprintf(&b, " px=%.5f", px)
			}
			fmt.Fprintf(&b, " %s\n", r.At.Format(time.TimeOnly))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func (d *Dispatcher) positions(ctx context.Context) string {
	var b strings.Builder
	total := 0

	for _, br := range d.rt.Brokers() {
		cctx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
		positions, err := br.Positions(cctx)
		cancel()
		if err != nil {
			fmt.Fprintf(&b, "%s: ⚠️ %v\n", br.Name(), err)
			continue
		}
		for _, p := range positions {
			total++
			fmt.Fprintf(&b, "%s [%s] %s qty=%.6f avg=%.5f",
				p.Symbol, br.Name(), p.Side, p.Qty, p.AvgEntry)
			if lp, ok := br.(lastPricer); ok {
				if px := lp.LastPrice(p.Symbol); px > 0 {
					fmt.Fprintf(&b, " last=%.5f", px)
				}
			}
			b.WriteString("\n")
		}
	}

	if total == 0 && b.Len() == 0 {
		return "📭 Открытых позиций нет."
	}
	return strings.TrimRight(b.String(), "\n")
}

func (d *Dispatcher) manualOrder(ctx context.Context, side models.OrderSide, args []string) string {
	if len(args) != 2 {
		return fmt.Sprintf("Формат: /%s <символ> <кол-во>", side)
	}
	symbol := strings.ToUpper(args[0])
	qty, err := strconv.ParseFloat(args[1], 64)
	if err != nil || qty <= 0 {
		return "⚠️ Количество должно быть положительным числом."
	}

	b, err := d.rt.Route(symbol)
	if err != nil {
		return fmt.Sprintf("⚠️ Символ %s никуда не маршрутизируется.", symbol)
	}
	if qty < b.MinOrderSize(symbol) {
		return fmt.Sprintf("⚠️ Минимальный размер для %s на %s — %g.", symbol, b.Name(), b.MinOrderSize(symbol))
	}

	cctx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()
	res, err := b.MarketOrder(cctx, symbol, side, qty)
	if err != nil {
		return fmt.Sprintf("❌ Ордер не прошёл (%s): %v", broker.KindOf(err), err)
	}

	logger.Info("manual %s %s qty=%.6f orderId=%s", side, symbol, qty, res.ID)
	return fmt.Sprintf("✅ %s %s qty=%.6f\nid=%s status=%s", side, symbol, qty, res.ID, res.Status)
}

func (d *Dispatcher) close(ctx context.Context, args []string) string {
	symbol := ""
	if len(args) > 0 {
		symbol = strings.ToUpper(args[0])
	}

	var b strings.Builder
	closed := 0

	for _, br := range d.rt.Brokers() {
		if symbol != "" && !br.InstrumentOk(symbol) {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
		closures, err := br.CloseAll(cctx, symbol)
		cancel()
		if err != nil {
			fmt.Fprintf(&b, "%s: ⚠️ %v\n", br.Name(), err)
			continue
		}
		for _, c := range closures {
			if c.Status == "flat" {
				continue
			}
			closed++
			fmt.Fprintf(&b, "%s [%s] закрыто qty=%.6f\n", c.Symbol, br.Name(), c.Qty)
		}
	}

	if symbol != "" && closed == 0 && b.Len() == 0 {
		return fmt.Sprintf("📭 По %s закрывать нечего.", symbol)
	}
	if closed == 0 && b.Len() == 0 {
		return "📭 Закрывать нечего, позиций нет."
	}
	return strings.TrimRight(b.String(), "\n")
}

// configDump — снимок настроек в yaml. Креды помечены yaml:"-" и в дамп
// не попадают.
func (d *Dispatcher) configDump() string {
	out, err := yaml.Marshal(d.cfg)
	if err != nil {
		return "⚠️ Не удалось сериализовать настройки: " + err.Error()
	}
	return "⚙️ Настройки:\n" + string(out)
}
