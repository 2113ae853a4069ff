package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	log *zap.Logger
	mu  sync.RWMutex

	serviceName = "trade_engine"
)

func SetServiceName(newName string) string {
	mu.Lock()
	defer mu.Unlock()

	oldName := serviceName
	serviceName = newName
	return oldName
}

// Init ставит основной логгер процесса. Вызывается один раз из main.
func Init(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
}

// get никогда не возвращает nil: до Init (в юнитах, в ранних ошибках
// старта) работает дефолтный production-логгер.
func get() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if log == nil {
		var err error
		if log, err = zap.NewProduction(); err != nil {
			log = zap.NewNop()
		}
	}
	return log
}

func Info(format string, args ...interface{}) {
	get().With(
		zap.String("service", serviceName),
	).Info(fmt.Sprintf(format, args...))
}

func Error(format string, args ...interface{}) {
	get().With(
		zap.String("service", serviceName),
	).Error(fmt.Sprintf(format, args...))
}

func Fatal(format string, args ...interface{}) {
	get().With(
		zap.String("service", serviceName),
	).Fatal(fmt.Sprintf(format, args...))
}
