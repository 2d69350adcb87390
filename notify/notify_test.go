package notify

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kisquant/tradebot/types"
)

func TestLogNotifier_ImplementsNotifier(t *testing.T) {
	var n Notifier = NewLogNotifier()
	n.Signal(types.Signal{Symbol: "005930", Side: types.SideBuy, StrategyTag: "gap", Strength: 0.7})
	n.TradeOpened("005930", types.SideBuy, decimal.NewFromInt(70000), 10, "gap")
	n.TradeClosed(types.TradeRecord{Symbol: "005930", RealizedPnL: decimal.NewFromInt(5000)})
	n.Error("test", errors.New("boom"))
	n.Startup("paper")
}
