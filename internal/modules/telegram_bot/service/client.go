package service

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"trade_engine/internal/commands"
	"trade_engine/internal/modules/config"
	"trade_engine/pkg/logger"
)

// Telegram — опциональный чат-канал управления. Без токена сервис
// создаётся, но нигде не подключается: движок и вебхук живут сами.
type Telegram struct {
	bot    *tgbot.BotAPI
	cfg    *config.Config
	disp   *commands.Dispatcher
	runCtx context.Context
}

func NewTelegram(cfg *config.Config, disp *commands.Dispatcher) (*Telegram, error) {
	t := &Telegram{cfg: cfg, disp: disp}
	if cfg.TelegramToken == "" {
		logger.Info("telegram disabled: no token")
		return t, nil
	}

	b, err := tgbot.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, err
	}
	t.bot = b
	return t, nil
}

func (t *Telegram) Enabled() bool { return t.bot != nil }

// Send — пассивные уведомления о сделках в основной чат. Nil-safe:
// без бота или чата просто молчим.
func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.cfg.TelegramChatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.cfg.TelegramChatID, msg)); err != nil {
		logger.Error("telegram notify: %v", err)
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// Start запускает цикл апдейтов. ctx обязан жить всё время работы
// приложения: из него деривятся таймауты брокерских вызовов команд,
// stop-контекст OnStart-хука сюда не годится.
func (t *Telegram) Start(ctx context.Context) {
	t.runCtx = ctx
	if t.bot == nil {
		return
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		logger.Info("telegram bot started: @%s", t.bot.Self.UserName)
		for update := range updates {
			t.handleUpdate(t.runCtx, update)
		}
	}()
}

func (t *Telegram) Stop() {
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbot.Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" {
		return
	}

	// один хозяин у бота: чужие чаты молча игнорируем
	if t.cfg.TelegramChatID != 0 && msg.Chat.ID != t.cfg.TelegramChatID {
		logger.Error("telegram: message from foreign chat %d ignored", msg.Chat.ID)
		return
	}

	reply := t.disp.Handle(ctx, msg.Text)
	if _, err := t.bot.Send(tgbot.NewMessage(msg.Chat.ID, reply)); err != nil {
		logger.Error("telegram send: %v", err)
	}
}
