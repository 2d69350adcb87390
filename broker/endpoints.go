package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kisquant/tradebot/kiserr"
	"github.com/kisquant/tradebot/types"
)

// ═══════════════════════════════════════════════════════════════════════
// MARKET DATA (read-only, no hashkey header)
// ═══════════════════════════════════════════════════════════════════════

type quoteOutput struct {
	Last      string `json:"stck_prpr"`
	Open      string `json:"stck_oprc"`
	High      string `json:"stck_hgpr"`
	Low       string `json:"stck_lwpr"`
	PrevClose string `json:"stck_sdpr"`
	Volume    string `json:"acml_vol"`
}

// CurrentPrice fetches a single-symbol quote snapshot.
func (c *Client) CurrentPrice(ctx context.Context, symbol types.Symbol) (types.Quote, error) {
	req := c.http.R().SetContext(ctx).
		SetQueryParam("FID_COND_MRKT_DIV_CODE", "J").
		SetQueryParam("FID_INPUT_ISCD", string(symbol))
	if err := c.buildHeaders(ctx, req, "FHKST01010100", nil); err != nil {
		return types.Quote{}, err
	}

	env, err := c.doRequest(ctx, "current_price", req.Get, req, "/uapi/domestic-stock/v1/quotations/inquire-price")
	if err != nil {
		return types.Quote{}, err
	}
	if len(env.Output) == 0 || string(env.Output) == "[]" || string(env.Output) == "{}" {
		return types.Quote{}, classifyEmptyOutput(env)
	}

	var out quoteOutput
	if err := json.Unmarshal(env.Output, &out); err != nil {
		return types.Quote{}, kiserr.New(kiserr.InvalidResponse, "current_price", "malformed output", err)
	}
	return types.Quote{
		Symbol:    symbol,
		Last:      parseDecimal(out.Last),
		Open:      parseDecimal(out.Open),
		High:      parseDecimal(out.High),
		Low:       parseDecimal(out.Low),
		PrevClose: parseDecimal(out.PrevClose),
		Volume:    parseInt(out.Volume),
		Ts:        time.Now(),
	}, nil
}

// Orderbook fetches a depth-10 book snapshot. The broker returns 10 flat
// askp1..askp10/bidp1..bidp10 fields rather than an array, so the levels
// are assembled by indexed field name.
func (c *Client) Orderbook(ctx context.Context, symbol types.Symbol) (types.Orderbook, error) {
	req := c.http.R().SetContext(ctx).
		SetQueryParam("FID_COND_MRKT_DIV_CODE", "J").
		SetQueryParam("FID_INPUT_ISCD", string(symbol))
	if err := c.buildHeaders(ctx, req, "FHKST01010200", nil); err != nil {
		return types.Orderbook{}, err
	}

	env, err := c.doRequest(ctx, "orderbook", req.Get, req, "/uapi/domestic-stock/v1/quotations/inquire-asking-price-exp-ccn")
	if err != nil {
		return types.Orderbook{}, err
	}
	if len(env.Output) == 0 {
		return types.Orderbook{}, classifyEmptyOutput(env)
	}

	var raw map[string]string
	if err := json.Unmarshal(env.Output, &raw); err != nil {
		return types.Orderbook{}, kiserr.New(kiserr.InvalidResponse, "orderbook", "malformed output", err)
	}

	book := types.Orderbook{Symbol: symbol, Ts: time.Now()}
	for i := 0; i < types.BookDepth; i++ {
		rung := i + 1
		book.Asks[i] = types.Level{
			Price: parseDecimal(raw[fmt.Sprintf("askp%d", rung)]),
			Qty:   parseInt(raw[fmt.Sprintf("askp_rsqn%d", rung)]),
		}
		book.Bids[i] = types.Level{
			Price: parseDecimal(raw[fmt.Sprintf("bidp%d", rung)]),
			Qty:   parseInt(raw[fmt.Sprintf("bidp_rsqn%d", rung)]),
		}
		book.TotalAskQty += book.Asks[i].Qty
		book.TotalBidQty += book.Bids[i].Qty
	}
	return book, nil
}

type barOutput struct {
	Date  string `json:"stck_bsop_date"`
	Open  string `json:"stck_oprc"`
	High  string `json:"stck_hgpr"`
	Low   string `json:"stck_lwpr"`
	Close string `json:"stck_clpr"`
	Vol   string `json:"acml_vol"`
}

// Bar is an OHLCV candle, daily or intraday.
type Bar struct {
	Ts     time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}

// DailyBars fetches the last `period` daily candles for symbol.
func (c *Client) DailyBars(ctx context.Context, symbol types.Symbol, period int) ([]Bar, error) {
	req := c.http.R().SetContext(ctx).
		SetQueryParam("FID_COND_MRKT_DIV_CODE", "J").
		SetQueryParam("FID_INPUT_ISCD", string(symbol)).
		SetQueryParam("FID_PERIOD_DIV_CODE", "D").
		SetQueryParam("FID_ORG_ADJ_PRC", "0")
	if err := c.buildHeaders(ctx, req, "FHKST03010100", nil); err != nil {
		return nil, err
	}
	env, err := c.doRequest(ctx, "daily_bars", req.Get, req, "/uapi/domestic-stock/v1/quotations/inquire-daily-itemchartprice")
	if err != nil {
		return nil, err
	}
	return decodeBars(env, period)
}

// IntradayBars fetches minute candles at the given unit (e.g. "1", "5").
func (c *Client) IntradayBars(ctx context.Context, symbol types.Symbol, unit string) ([]Bar, error) {
	req := c.http.R().SetContext(ctx).
		SetQueryParam("FID_ETC_CLS_CODE", "").
		SetQueryParam("FID_COND_MRKT_DIV_CODE", "J").
		SetQueryParam("FID_INPUT_ISCD", string(symbol)).
		SetQueryParam("FID_INPUT_HOUR_1", unit)
	if err := c.buildHeaders(ctx, req, "FHKST03010200", nil); err != nil {
		return nil, err
	}
	env, err := c.doRequest(ctx, "intraday_bars", req.Get, req, "/uapi/domestic-stock/v1/quotations/inquire-time-itemchartprice")
	if err != nil {
		return nil, err
	}
	return decodeBars(env, 0)
}

func decodeBars(env envelope, limit int) ([]Bar, error) {
	if len(env.Output) == 0 || string(env.Output) == "[]" {
		return nil, classifyEmptyOutput(env)
	}
	var raw []barOutput
	if err := json.Unmarshal(env.Output, &raw); err != nil {
		return nil, kiserr.New(kiserr.InvalidResponse, "decodeBars", "malformed output", err)
	}
	if limit > 0 && limit < len(raw) {
		raw = raw[:limit]
	}
	bars := make([]Bar, 0, len(raw))
	for _, r := range raw {
		ts, _ := time.Parse("20060102", r.Date)
		bars = append(bars, Bar{
			Ts: ts, Open: parseDecimal(r.Open), High: parseDecimal(r.High),
			Low: parseDecimal(r.Low), Close: parseDecimal(r.Close), Volume: parseInt(r.Vol),
		})
	}
	return bars, nil
}

// RankingEntry is one row of a ranking scan.
type RankingEntry struct {
	Symbol     types.Symbol
	Value      decimal.Decimal
	ChangePct  decimal.Decimal
	Volume     int64
}

func (c *Client) ranking(ctx context.Context, op, trID, path string) ([]RankingEntry, error) {
	req := c.http.R().SetContext(ctx).
		SetQueryParam("FID_COND_MRKT_DIV_CODE", "J").
		SetQueryParam("FID_COND_SCR_DIV_CODE", "20171")
	if err := c.buildHeaders(ctx, req, trID, nil); err != nil {
		return nil, err
	}
	env, err := c.doRequest(ctx, op, req.Get, req, path)
	if err != nil {
		return nil, err
	}
	if len(env.Output) == 0 || string(env.Output) == "[]" {
		return nil, classifyEmptyOutput(env)
	}
	var raw []map[string]string
	if err := json.Unmarshal(env.Output, &raw); err != nil {
		return nil, kiserr.New(kiserr.InvalidResponse, op, "malformed output", err)
	}
	out := make([]RankingEntry, 0, len(raw))
	for _, r := range raw {
		out = append(out, RankingEntry{
			Symbol:    types.Symbol(r["mksc_shrn_iscd"]),
			Value:     parseDecimal(r["stck_prpr"]),
			ChangePct: parseDecimal(r["prdy_ctrt"]),
			Volume:    parseInt(r["acml_vol"]),
		})
	}
	return out, nil
}

// VolumeRanking returns symbols ranked by traded volume.
func (c *Client) VolumeRanking(ctx context.Context) ([]RankingEntry, error) {
	return c.ranking(ctx, "volume_ranking", "FHPST01710000", "/uapi/domestic-stock/v1/ranking/volume-rank")
}

// ChangeRanking returns symbols ranked by % change.
func (c *Client) ChangeRanking(ctx context.Context) ([]RankingEntry, error) {
	return c.ranking(ctx, "change_ranking", "FHPST01700000", "/uapi/domestic-stock/v1/ranking/fluctuation")
}

// BidAskRanking returns symbols ranked by bid/ask imbalance.
func (c *Client) BidAskRanking(ctx context.Context) ([]RankingEntry, error) {
	return c.ranking(ctx, "bid_ask_ranking", "FHPST01720000", "/uapi/domestic-stock/v1/ranking/quote-balance")
}

// ═══════════════════════════════════════════════════════════════════════
// ACCOUNT / TRADING (mutating, hashkey header required)
// ═══════════════════════════════════════════════════════════════════════

// PlaceOrderResult is the broker's ack for a submitted order.
type PlaceOrderResult struct {
	OrderID string
	Ts      time.Time
}

// PlaceOrder submits a buy or sell. price zero means market order.
func (c *Client) PlaceOrder(ctx context.Context, symbol types.Symbol, side types.Side, qty int64, price decimal.Decimal) (PlaceOrderResult, error) {
	trID := "TTTC0802U"
	if side == types.SideSell {
		trID = "TTTC0801U"
	}
	ordDvsn := "01" // market
	priceStr := "0"
	if !price.IsZero() {
		ordDvsn = "00" // limit
		priceStr = price.String()
	}

	body := map[string]string{
		"CANO":         c.cfg.AccountNo,
		"ACNT_PRDT_CD": "01",
		"PDNO":         string(symbol),
		"ORD_DVSN":     ordDvsn,
		"ORD_QTY":      fmt.Sprintf("%d", qty),
		"ORD_UNPR":     priceStr,
	}

	req := c.http.R().SetContext(ctx)
	if err := c.buildHeaders(ctx, req, trID, body); err != nil {
		return PlaceOrderResult{}, err
	}

	env, err := c.doRequest(ctx, "place_order", req.Post, req, "/uapi/domestic-stock/v1/trading/order-cash")
	if err != nil {
		return PlaceOrderResult{}, err
	}
	var out struct {
		OrderID string `json:"ODNO"`
		OrdTime string `json:"ORD_TMD"`
	}
	if err := json.Unmarshal(env.Output, &out); err != nil {
		return PlaceOrderResult{}, kiserr.New(kiserr.InvalidResponse, "place_order", "malformed output", err)
	}
	return PlaceOrderResult{OrderID: out.OrderID, Ts: time.Now()}, nil
}

// CancelOrder withdraws a previously placed order.
func (c *Client) CancelOrder(ctx context.Context, orderID string, symbol types.Symbol, qty int64) error {
	body := map[string]string{
		"CANO":              c.cfg.AccountNo,
		"ACNT_PRDT_CD":      "01",
		"KRX_FWDG_ORD_ORGNO": "",
		"ORGN_ODNO":         orderID,
		"ORD_DVSN":          "00",
		"RVSE_CNCL_DVSN_CD": "02",
		"ORD_QTY":           fmt.Sprintf("%d", qty),
		"ORD_UNPR":          "0",
		"QTY_ALL_ORD_YN":    "Y",
	}
	req := c.http.R().SetContext(ctx)
	if err := c.buildHeaders(ctx, req, "TTTC0803U", body); err != nil {
		return err
	}
	_, err := c.doRequest(ctx, "cancel_order", req.Post, req, "/uapi/domestic-stock/v1/trading/order-rvsecncl")
	return err
}

// Holding is a single account position line.
type Holding struct {
	Symbol  types.Symbol
	Qty     int64
	AvgCost decimal.Decimal
}

// Balance is the account cash + holdings snapshot.
type Balance struct {
	Cash     decimal.Decimal
	Holdings []Holding
}

// Balance fetches current cash and holdings.
func (c *Client) Balance(ctx context.Context) (Balance, error) {
	req := c.http.R().SetContext(ctx).
		SetQueryParam("CANO", c.cfg.AccountNo).
		SetQueryParam("ACNT_PRDT_CD", "01").
		SetQueryParam("AFHR_FLPR_YN", "N").
		SetQueryParam("OFL_YN", "").
		SetQueryParam("INQR_DVSN", "02").
		SetQueryParam("UNPR_DVSN", "01").
		SetQueryParam("FUND_STTL_ICLD_YN", "N").
		SetQueryParam("FNCG_AMT_AUTO_RDPT_YN", "N").
		SetQueryParam("PRCS_DVSN", "01").
		SetQueryParam("CTX_AREA_FK100", "").
		SetQueryParam("CTX_AREA_NK100", "")
	if err := c.buildHeaders(ctx, req, "TTTC8434R", nil); err != nil {
		return Balance{}, err
	}
	env, err := c.doRequest(ctx, "balance", req.Get, req, "/uapi/domestic-stock/v1/trading/inquire-balance")
	if err != nil {
		return Balance{}, err
	}

	var out struct {
		Cash string `json:"dnca_tot_amt"`
	}
	_ = json.Unmarshal(env.Output, &out)
	return Balance{Cash: parseDecimal(out.Cash)}, nil
}

// BuyPowerQuote reports available buying power for a hypothetical order.
type BuyPowerQuote struct {
	MaxQty      int64
	MaxAmount   decimal.Decimal
	AvailCash   decimal.Decimal
}

// BuyPower evaluates how much of symbol could be bought at price with
// orderKind ("00" limit / "01" market).
func (c *Client) BuyPower(ctx context.Context, symbol types.Symbol, price decimal.Decimal, orderKind string) (BuyPowerQuote, error) {
	req := c.http.R().SetContext(ctx).
		SetQueryParam("CANO", c.cfg.AccountNo).
		SetQueryParam("ACNT_PRDT_CD", "01").
		SetQueryParam("PDNO", string(symbol)).
		SetQueryParam("ORD_UNPR", price.String()).
		SetQueryParam("ORD_DVSN", orderKind).
		SetQueryParam("CMA_EVLU_AMT_ICLD_YN", "N").
		SetQueryParam("OVRS_ICLD_YN", "N")
	if err := c.buildHeaders(ctx, req, "TTTC8908R", nil); err != nil {
		return BuyPowerQuote{}, err
	}
	env, err := c.doRequest(ctx, "buy_power", req.Get, req, "/uapi/domestic-stock/v1/trading/inquire-psbl-order")
	if err != nil {
		return BuyPowerQuote{}, err
	}
	var out struct {
		MaxQty    string `json:"max_buy_qty"`
		MaxAmount string `json:"max_buy_amt"`
		AvailCash string `json:"ord_psbl_cash"`
	}
	_ = json.Unmarshal(env.Output, &out)
	return BuyPowerQuote{
		MaxQty:    parseInt(out.MaxQty),
		MaxAmount: parseDecimal(out.MaxAmount),
		AvailCash: parseDecimal(out.AvailCash),
	}, nil
}

// WebsocketApprovalKey exchanges app credentials for the short-lived key
// used to open the realtime WebSocket connection (spec §4.2).
func (c *Client) WebsocketApprovalKey(ctx context.Context) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := c.http.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{
			"grant_type": "client_credentials",
			"appkey":     c.cfg.AppKey,
			"secretkey":  c.cfg.AppSecret,
		}).
		Post("/oauth2/Approval")
	if err != nil {
		return "", kiserr.New(kiserr.Transport, "websocket_approval_key", "request failed", err)
	}
	if resp.StatusCode() != 200 {
		return "", kiserr.New(kiserr.Auth, "websocket_approval_key", "rejected", nil)
	}
	var out struct {
		ApprovalKey string `json:"approval_key"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", kiserr.New(kiserr.InvalidResponse, "websocket_approval_key", "malformed body", err)
	}
	return out.ApprovalKey, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseInt(s string) int64 {
	var n int64
	fmt.Sscanf(s, "%d", &n)
	return n
}
