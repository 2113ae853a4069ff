package service

import (
	"trade_engine/internal/modules/config"
	"trade_engine/pkg/logger"
)

func NewGenerator(cfg *config.Config) Generator {
	// пока стратегия одна; ветка оставлена под следующие
	switch cfg.Strategy {
	case "", "emarsi":
		return NewEMARSI(cfg)
	default:
		// конфиг режет незнакомые имена на старте; сюда — только мимо него
		logger.Error("unknown strategy %q, falling back to emarsi", cfg.Strategy)
		return NewEMARSI(cfg)
	}
}
