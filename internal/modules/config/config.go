package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config собирается один раз на старте из configs/<CONFIG_FILE>.yaml и ENV
// (ENV перекрывает файл). Единственное поле, меняющееся в рантайме — enabled,
// и живёт оно не здесь, а в шедулере как atomic.
type Config struct {
	// Расписание
	Symbols      []string      `yaml:"symbols"`
	Timeframe    string        `yaml:"timeframe"`
	CandleLimit  int           `yaml:"candle_limit"`
	PollInterval time.Duration `yaml:"poll_interval"`
	CallTimeout  time.Duration `yaml:"call_timeout"`
	StartEnabled bool          `yaml:"start_enabled"`

	// Стратегия
	Strategy      string  `yaml:"strategy"`
	EMAFast       int     `yaml:"ema_fast"`
	EMASlow       int     `yaml:"ema_slow"`
	RSIPeriod     int     `yaml:"rsi_period"`
	ATRPeriod     int     `yaml:"atr_period"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	RSIOversold   float64 `yaml:"rsi_oversold"`

	// Стоп/тейк
	ATRMultiplier   float64 `yaml:"atr_multiplier"`
	RewardRisk      float64 `yaml:"reward_risk"`
	MinSpreadBuffer float64 `yaml:"min_spread_buffer"`

	// Риск
	RiskPct             float64 `yaml:"risk_pct"`              // 1.0 => 1% equity на сделку
	MaxPositionNotional float64 `yaml:"max_position_notional"` // кеп стоимости позиции
	MaxOpenPositions    int     `yaml:"max_open_positions"`

	// Сервис
	WebhookAddr string `yaml:"webhook_addr"`
	AdminAddr   string `yaml:"admin_addr"`
	AccessKey   string `yaml:"-"` // только из ENV, в конфиг-файл не кладём
	Mode        string `yaml:"mode"`

	// Telegram (опционально)
	TelegramToken  string `yaml:"-"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`

	// Брокеры
	AlpacaBaseURL string `yaml:"alpaca_base_url"`
	AlpacaDataURL string `yaml:"alpaca_data_url"`
	AlpacaKeyID   string `yaml:"-"`
	AlpacaSecret  string `yaml:"-"`
	OandaBaseURL  string `yaml:"oanda_base_url"`
	OandaToken    string `yaml:"-"`
	OandaAccount  string `yaml:"oanda_account"`

	// Jaeger
	JaegerHost string `yaml:"jaeger_host"`
	JaegerPort int    `yaml:"jaeger_port"`
}

func (c *Config) HasAlpaca() bool { return c.AlpacaKeyID != "" && c.AlpacaSecret != "" }
func (c *Config) HasOanda() bool  { return c.OandaToken != "" && c.OandaAccount != "" }

func NewConfig() (*Config, error) {
	// .env удобен локально; в проде переменные приходят из окружения
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigName(getenvDefault(v, "config_file", "values_local"))
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	v.AddConfigPath(".")

	v.SetDefault("symbols", "BTC/USD,ETH/USD,EUR_USD")
	v.SetDefault("timeframe", "1m")
	v.SetDefault("candle_limit", 120)
	v.SetDefault("poll_interval", "60s")
	v.SetDefault("call_timeout", "15s")
	v.SetDefault("start_enabled", true)

	v.SetDefault("strategy", "emarsi")
	v.SetDefault("ema_fast", 9)
	v.SetDefault("ema_slow", 21)
	v.SetDefault("rsi_period", 14)
	v.SetDefault("atr_period", 14)
	v.SetDefault("rsi_overbought", 70)
	v.SetDefault("rsi_oversold", 30)

	v.SetDefault("atr_multiplier", 1.5)
	v.SetDefault("reward_risk", 2.0)
	v.SetDefault("min_spread_buffer", 0.0)

	v.SetDefault("risk_pct", 1.0)
	v.SetDefault("max_position_notional", 10000.0)
	v.SetDefault("max_open_positions", 5)

	v.SetDefault("webhook_addr", ":10000")
	v.SetDefault("admin_addr", ":8080")
	v.SetDefault("mode", "paper")
	v.SetDefault("jaeger_host", "127.0.0.1")
	v.SetDefault("jaeger_port", 6831)

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, errors.Wrap(err, "read config file")
		}
		// файла может не быть — всё придёт из ENV/дефолтов
	}

	cfg := &Config{
		Symbols:      splitSymbols(v.GetStringSlice("symbols")),
		Timeframe:    v.GetString("timeframe"),
		CandleLimit:  v.GetInt("candle_limit"),
		PollInterval: v.GetDuration("poll_interval"),
		CallTimeout:  v.GetDuration("call_timeout"),
		StartEnabled: v.GetBool("start_enabled"),

		Strategy:      v.GetString("strategy"),
		EMAFast:       v.GetInt("ema_fast"),
		EMASlow:       v.GetInt("ema_slow"),
		RSIPeriod:     v.GetInt("rsi_period"),
		ATRPeriod:     v.GetInt("atr_period"),
		RSIOverbought: v.GetFloat64("rsi_overbought"),
		RSIOversold:   v.GetFloat64("rsi_oversold"),

		ATRMultiplier:   v.GetFloat64("atr_multiplier"),
		RewardRisk:      v.GetFloat64("reward_risk"),
		MinSpreadBuffer: v.GetFloat64("min_spread_buffer"),

		RiskPct:             v.GetFloat64("risk_pct"),
		MaxPositionNotional: v.GetFloat64("max_position_notional"),
		MaxOpenPositions:    v.GetInt("max_open_positions"),

		WebhookAddr: v.GetString("webhook_addr"),
		AdminAddr:   v.GetString("admin_addr"),
		AccessKey:   v.GetString("key"), // оригинальный вебхук читает KEY
		Mode:        v.GetString("mode"),

		TelegramToken:  v.GetString("telegram_bot_token"),
		TelegramChatID: v.GetInt64("telegram_chat_id"),

		AlpacaBaseURL: v.GetString("alpaca_base_url"),
		AlpacaDataURL: v.GetString("alpaca_data_url"),
		AlpacaKeyID:   v.GetString("alpaca_key_id"),
		AlpacaSecret:  v.GetString("alpaca_secret_key"),
		OandaBaseURL:  v.GetString("oanda_base_url"),
		OandaToken:    v.GetString("oanda_token"),
		OandaAccount:  v.GetString("oanda_account_id"),

		JaegerHost: v.GetString("jaeger_host"),
		JaegerPort: v.GetInt("jaeger_port"),
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.Strategy {
	case "", "emarsi":
	default:
		// опечатка в имени не должна молча давать дефолтную стратегию
		return errors.Errorf("unknown strategy %q", c.Strategy)
	}
	if c.EMAFast >= c.EMASlow {
		return errors.New("EMA_FAST must be < EMA_SLOW")
	}
	if c.RiskPct <= 0 {
		return errors.New("RISK_PCT must be > 0")
	}
	if c.PollInterval <= 0 {
		return errors.New("POLL_INTERVAL must be > 0")
	}
	if len(c.Symbols) == 0 {
		return errors.New("SYMBOLS is empty")
	}
	if !c.HasAlpaca() && !c.HasOanda() {
		// без единого брокера движку нечего делать — фаталим на старте
		return errors.New("no broker credentials configured (ALPACA_* or OANDA_*)")
	}
	return nil
}

func splitSymbols(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, chunk := range raw {
		for _, s := range strings.Split(chunk, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func getenvDefault(v *viper.Viper, key, def string) string {
	if val := v.GetString(key); val != "" {
		return val
	}
	return def
}
