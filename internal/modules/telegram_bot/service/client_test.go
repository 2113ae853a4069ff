package service

import (
	"context"
	"testing"
	"time"

	"trade_engine/internal/modules/config"
)

func TestTelegram_DisabledWithoutToken(t *testing.T) {
	tg, err := NewTelegram(&config.Config{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tg.Enabled() {
		t.Fatal("must be disabled without token")
	}

	// nil-safe: уведомления без бота не падают
	tg.Send("ping")
	tg.Sendf("ping %d", 1)
	tg.Stop()
}

func TestTelegram_LoopContextOutlivesStartup(t *testing.T) {
	tg, err := NewTelegram(&config.Config{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	appCtx := context.Background()
	startCtx, cancel := context.WithCancel(context.Background())
	tg.Start(appCtx)
	cancel() // контекст OnStart-хука fx истекает вскоре после старта
	<-startCtx.Done()

	if tg.runCtx != appCtx {
		t.Fatal("update loop must run on the app context")
	}
	// таймауты брокерских вызовов команд деривятся отсюда
	cctx, ccancel := context.WithTimeout(tg.runCtx, time.Second)
	defer ccancel()
	if cctx.Err() != nil {
		t.Fatal("command call context must stay alive after startup")
	}
}
