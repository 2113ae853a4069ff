package notify

// Notifier — пассивный канал уведомлений о сделках. Реализация обязана
// быть nil-safe: без настроенного канала движок работает молча.
type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

type Noop struct{}

func (Noop) Send(string)          {}
func (Noop) Sendf(string, ...any) {}

var _ Notifier = Noop{}
