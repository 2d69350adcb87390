// Package orders is the Order Execution Manager (spec §4.9): owns the
// Pending Order set, matches inbound Fill Events against it, and sweeps
// expired orders on a timer.
//
// Grounded on the teacher's execution/executor.go order-lifecycle state
// machine (mutex-guarded map[id]*Order, onFill/onReject callbacks,
// metrics counters) generalized from Polymarket's immediate-fill paper
// mode to KIS's asynchronous WebSocket fill confirmations, with the
// matching algorithm from
// original_source/core/trading/order_execution_manager.py (ccld_yn/
// rejected field checks, temporary-id correlation window, partial-fill
// residual handling).
package orders

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kisquant/tradebot/types"
)

const (
	// defaultTimeout is the Pending Order expiry window (spec §4.9).
	defaultTimeout = 300 * time.Second
	// tempMatchWindow bounds how long a synthetic-id order can still be
	// matched to a fill by (symbol, side) alone.
	tempMatchWindow = 10 * time.Minute
)

// Hooks lets callers observe fill/timeout events without the manager
// depending on the position or journal packages directly.
type Hooks struct {
	OnBuyFill   func(order types.PendingOrder, fill types.Fill)
	OnSellFill  func(order types.PendingOrder, fill types.Fill)
	OnTimeout   func(order types.PendingOrder)
}

// Manager owns the Pending Order set and processes Fill Events against
// it. Each order_id is processed under a per-order lock so concurrent
// duplicate fill notices for the same order never interleave.
type Manager struct {
	mu      sync.Mutex
	byID    map[string]*types.PendingOrder
	locks   map[string]*sync.Mutex
	hooks   Hooks
	timeout time.Duration
}

// New builds a Manager with the given fill/timeout hooks.
func New(hooks Hooks) *Manager {
	return &Manager{
		byID:    make(map[string]*types.PendingOrder),
		locks:   make(map[string]*sync.Mutex),
		hooks:   hooks,
		timeout: defaultTimeout,
	}
}

// Register enrolls a freshly submitted order (real or temporary id) for
// fill/timeout tracking.
func (m *Manager) Register(order types.PendingOrder) {
	if order.Timeout == 0 {
		order.Timeout = m.timeout
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := order
	m.byID[order.OrderID] = &cp
	if _, ok := m.locks[order.OrderID]; !ok {
		m.locks[order.OrderID] = &sync.Mutex{}
	}
}

// Pending returns a snapshot of all pending orders.
func (m *Manager) Pending() []types.PendingOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.PendingOrder, 0, len(m.byID))
	for _, o := range m.byID {
		out = append(out, *o)
	}
	return out
}

// orderLock returns (creating if absent) the serialization lock for id.
func (m *Manager) orderLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// HandleFill implements the spec §4.9 matching algorithm:
//  1. Ignore if cngt_yn != "2" (not a real execution record) — callers
//     filter that before calling HandleFill, so a zero-value ExecQty
//     here is also treated as a no-op.
//  2. Ignore if Reject is set.
//  3. Exact order_id match: qty_exec must not exceed qty_ordered; an
//     excess fill is rejected (ok=false) and the order stays registered.
//  4. On miss, try a temporary-id match: same symbol+side, oldest
//     matching pending order first, only if age <= 10 minutes.
//  5. On a match, invoke the buy/sell hook then either remove the order
//     (exec_qty == remaining qty) or leave it registered with the
//     residual qty (partial fill); a miss returns ok=false.
func (m *Manager) HandleFill(fill types.Fill, now time.Time) (matchedID string, ok bool) {
	if fill.ExecQty <= 0 || fill.Reject {
		return "", false
	}

	if order, found := m.takeExact(fill.OrderID); found {
		if fill.ExecQty > order.Qty {
			return "", false
		}
		return m.applyFill(order, fill)
	}

	if order, found := m.takeTemporary(fill.Symbol, fill.Side, now); found {
		return m.applyFill(order, fill)
	}

	return "", false
}

func (m *Manager) takeExact(orderID string) (types.PendingOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[orderID]
	if !ok {
		return types.PendingOrder{}, false
	}
	return *o, true
}

// takeTemporary finds the oldest temporary-id pending order for
// symbol+side still within the 10-minute correlation window.
func (m *Manager) takeTemporary(symbol types.Symbol, side types.Side, now time.Time) (types.PendingOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *types.PendingOrder
	for _, o := range m.byID {
		if !o.IsTemporary || o.Symbol != symbol || o.Side != side {
			continue
		}
		if now.Sub(o.CreatedAt) > tempMatchWindow {
			continue
		}
		if best == nil || o.CreatedAt.Before(best.CreatedAt) {
			best = o
		}
	}
	if best == nil {
		return types.PendingOrder{}, false
	}
	return *best, true
}

func (m *Manager) applyFill(order types.PendingOrder, fill types.Fill) (string, bool) {
	lock := m.orderLock(order.OrderID)
	lock.Lock()
	defer lock.Unlock()

	if order.Side == types.SideBuy {
		if m.hooks.OnBuyFill != nil {
			m.hooks.OnBuyFill(order, fill)
		}
	} else {
		if m.hooks.OnSellFill != nil {
			m.hooks.OnSellFill(order, fill)
		}
	}

	if fill.ExecQty < order.Qty {
		m.updateResidual(order.OrderID, order.Qty-fill.ExecQty)
	} else {
		m.remove(order.OrderID)
	}
	return order.OrderID, true
}

func (m *Manager) remove(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, orderID)
	delete(m.locks, orderID)
}

// updateResidual leaves a partially-filled order registered with its
// remaining (unfilled) quantity, per the broker's "partial fills also
// allowed" matching behavior.
func (m *Manager) updateResidual(orderID string, residualQty int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[orderID]
	if !ok {
		return
	}
	o.Qty = residualQty
}

// SweepExpired scans for pending orders that have outlived their
// timeout, invokes the timeout hook, and removes them.
func (m *Manager) SweepExpired(now time.Time) []types.PendingOrder {
	m.mu.Lock()
	var expired []types.PendingOrder
	for id, o := range m.byID {
		if o.Expired(now) {
			expired = append(expired, *o)
			delete(m.byID, id)
			delete(m.locks, id)
		}
	}
	m.mu.Unlock()

	for _, o := range expired {
		if m.hooks.OnTimeout != nil {
			m.hooks.OnTimeout(o)
		}
	}
	return expired
}

// RunSweeper blocks, sweeping expired orders every interval, until ctx
// (passed via stop channel) signals shutdown. Kept as a plain channel
// rather than context.Context so the caller can close it from any
// cancellation cascade without importing this package's internals.
func (m *Manager) RunSweeper(interval time.Duration, stop <-chan struct{}, clock func() time.Time) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case t := <-ticker.C:
			now := t
			if clock != nil {
				now = clock()
			}
			m.SweepExpired(now)
		}
	}
}

// FIFOMatcher tracks open BUY lots per symbol in FIFO order so SELL
// fills can be matched against them for realized P&L.
type FIFOMatcher struct {
	mu   sync.Mutex
	lots map[types.Symbol][]lot
}

type lot struct {
	qty  int64
	cost decimal.Decimal
	ts   time.Time
}

// NewFIFOMatcher builds an empty FIFOMatcher.
func NewFIFOMatcher() *FIFOMatcher {
	return &FIFOMatcher{lots: make(map[types.Symbol][]lot)}
}

// AddBuy records a filled BUY lot available for future SELL matching.
func (f *FIFOMatcher) AddBuy(symbol types.Symbol, qty int64, price decimal.Decimal, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lots[symbol] = append(f.lots[symbol], lot{qty: qty, cost: price, ts: ts})
}

// MatchSell consumes sellQty from the oldest BUY lots first and returns
// the realized P&L for the matched quantity (sellQty · price − cost
// basis of the consumed lots). If sellQty exceeds available lots, only
// the matched portion contributes.
func (f *FIFOMatcher) MatchSell(symbol types.Symbol, sellQty int64, sellPrice decimal.Decimal) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()

	lots := f.lots[symbol]
	pnl := decimal.Zero
	remaining := sellQty

	i := 0
	for remaining > 0 && i < len(lots) {
		l := &lots[i]
		take := remaining
		if take > l.qty {
			take = l.qty
		}
		proceeds := sellPrice.Mul(decimal.NewFromInt(take))
		cost := l.cost.Mul(decimal.NewFromInt(take))
		pnl = pnl.Add(proceeds.Sub(cost))

		l.qty -= take
		remaining -= take
		if l.qty == 0 {
			i++
		}
	}
	f.lots[symbol] = lots[i:]

	return pnl
}
