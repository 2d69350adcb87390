// Package notify sends trading alerts (signals, trades, errors) to an
// operator-facing channel. Scoped to alert-sending only — interactive
// bot commands (/status, /pause) are an outer-surface concern the spec
// excludes from the core, so only the notification half of the
// teacher's Telegram bot survives here.
//
// Grounded on the teacher's bot/telegram.go (NotifySignal/NotifyTrade/
// NotifyPnL/NotifyError Markdown-formatted message builders, sendMarkdown
// wrapping tgbotapi.NewMessage) generalized from Polymarket YES/NO
// asset alerts to KIS symbol/side/strategy alerts.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/kisquant/tradebot/types"
)

// Notifier is the alert-sending surface the rest of the system depends
// on, so callers never need to know whether alerts go to Telegram, logs,
// or nowhere at all.
type Notifier interface {
	Signal(sig types.Signal)
	TradeOpened(symbol types.Symbol, side types.Side, price decimal.Decimal, qty int64, strategyTag string)
	TradeClosed(rec types.TradeRecord)
	Error(context string, err error)
	Startup(mode string)
}

// LogNotifier is the default Notifier: structured zerolog output, no
// external dependency required. Used when no Telegram credentials are
// configured.
type LogNotifier struct{}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (LogNotifier) Signal(sig types.Signal) {
	log.Info().Str("symbol", string(sig.Symbol)).Str("side", string(sig.Side)).
		Str("strategy", sig.StrategyTag).Float64("strength", sig.Strength).
		Str("reason", sig.Reason).Msg("signal detected")
}

func (LogNotifier) TradeOpened(symbol types.Symbol, side types.Side, price decimal.Decimal, qty int64, strategyTag string) {
	log.Info().Str("symbol", string(symbol)).Str("side", string(side)).
		Str("price", price.StringFixed(0)).Int64("qty", qty).
		Str("strategy", strategyTag).Msg("trade opened")
}

func (LogNotifier) TradeClosed(rec types.TradeRecord) {
	log.Info().Str("symbol", string(rec.Symbol)).Str("pnl", rec.RealizedPnL.StringFixed(0)).
		Str("strategy", rec.StrategyTag).Msg("trade closed")
}

func (LogNotifier) Error(context string, err error) {
	log.Error().Err(err).Str("context", context).Msg("notifier error event")
}

func (LogNotifier) Startup(mode string) {
	log.Info().Str("mode", mode).Msg("tradebot started")
}

// TelegramNotifier sends alerts to a single chat via the Telegram Bot
// API, mirroring the teacher's sendMarkdown wrapper.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier builds a TelegramNotifier bound to token/chatID.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramNotifier{api: api, chatID: chatID}, nil
}

func (t *TelegramNotifier) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := t.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("failed to send telegram message")
	}
}

func (t *TelegramNotifier) Signal(sig types.Signal) {
	msg := fmt.Sprintf("🎯 *SIGNAL*\n\n📊 *%s* — %s\n📝 strategy: %s strength: %.2f\n%s",
		sig.Symbol, sig.Side, sig.StrategyTag, sig.Strength, sig.Reason)
	t.sendMarkdown(msg)
}

func (t *TelegramNotifier) TradeOpened(symbol types.Symbol, side types.Side, price decimal.Decimal, qty int64, strategyTag string) {
	msg := fmt.Sprintf("✅ *TRADE OPENED*\n\n📊 %s %s\n💵 price: %s qty: %d\n🧭 strategy: %s",
		symbol, side, price.StringFixed(0), qty, strategyTag)
	t.sendMarkdown(msg)
}

func (t *TelegramNotifier) TradeClosed(rec types.TradeRecord) {
	emoji := "📈"
	if rec.RealizedPnL.IsNegative() {
		emoji = "📉"
	}
	msg := fmt.Sprintf("%s *TRADE CLOSED*\n\n📊 %s\n💵 P&L: %s", emoji, rec.Symbol, rec.RealizedPnL.StringFixed(0))
	t.sendMarkdown(msg)
}

func (t *TelegramNotifier) Error(context string, err error) {
	msg := fmt.Sprintf("⚠️ *ERROR* (%s)\n\n`%s`", context, err.Error())
	t.sendMarkdown(msg)
}

func (t *TelegramNotifier) Startup(mode string) {
	msg := fmt.Sprintf("🚀 *TRADEBOT STARTED*\n\nmode: %s", mode)
	t.sendMarkdown(msg)
}
