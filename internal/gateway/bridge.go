package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Bridge talks JSON-over-HTTP to a terminal-side bridge process that fronts
// the MT5 terminal API. One request per gateway call, rate limited so a tight
// poll interval cannot flood the terminal.
type Bridge struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter

	mu      sync.Mutex
	lastErr string
}

// BridgeConfig configures the bridge client.
type BridgeConfig struct {
	BaseURL            string
	TimeoutSeconds     int
	RateLimitPerSecond float64
	Burst              int
}

func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("bridge base URL is required")
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return &Bridge{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.Burst),
	}, nil
}

// Wire shapes. The bridge mirrors the venue's order_send result: a retcode
// plus an optional order ticket.

type wireSymbolInfo struct {
	Symbol      string  `json:"symbol"`
	Digits      int     `json:"digits"`
	Point       float64 `json:"point"`
	StopsLevel  int     `json:"stops_level"`
	FreezeLevel int     `json:"freeze_level"`
	VolumeMin   float64 `json:"volume_min"`
	VolumeMax   float64 `json:"volume_max"`
	VolumeStep  float64 `json:"volume_step"`
	Visible     bool    `json:"visible"`
}

type wireQuote struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
	TimeMs int64   `json:"time_ms"`
}

type wirePosition struct {
	Ticket     int64   `json:"ticket"`
	Symbol     string  `json:"symbol"`
	Type       int     `json:"type"` // 0 buy, 1 sell
	Volume     float64 `json:"volume"`
	PriceOpen  float64 `json:"price_open"`
	StopLoss   float64 `json:"sl"`
	TakeProfit float64 `json:"tp"`
	Profit     float64 `json:"profit"`
}

type wireOrder struct {
	Ticket     int64   `json:"ticket"`
	Symbol     string  `json:"symbol"`
	Type       int     `json:"type"` // 0 buy-stop, 1 sell-stop
	Price      float64 `json:"price"`
	Volume     float64 `json:"volume"`
	StopLoss   float64 `json:"sl"`
	TakeProfit float64 `json:"tp"`
	Comment    string  `json:"comment"`
}

type wireDeal struct {
	Ticket int64   `json:"ticket"`
	TimeMs int64   `json:"time_ms"`
	Entry  int     `json:"entry"` // 0 in, 1 out
	Profit float64 `json:"profit"`
}

type wireResult struct {
	OK      bool   `json:"ok"`
	Retcode int    `json:"retcode"`
	Order   int64  `json:"order"`
	Error   string `json:"error"`
}

func (b *Bridge) setLastError(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastErr = msg
}

func (b *Bridge) get(ctx context.Context, path string, query map[string]string, out any) error {
	if err := b.rateLimiter.Wait(ctx); err != nil {
		return err
	}
	u, err := url.Parse(b.baseURL + path)
	if err != nil {
		return err
	}
	q := u.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		b.setLastError(err.Error())
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := fmt.Sprintf("bridge %s: http %d: %s", path, resp.StatusCode, bytes.TrimSpace(body))
		b.setLastError(msg)
		return fmt.Errorf("%s", msg)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (b *Bridge) post(ctx context.Context, path string, payload any) Result {
	res := Result{}
	if err := b.rateLimiter.Wait(ctx); err != nil {
		b.setLastError(err.Error())
		return res
	}
	body, err := json.Marshal(payload)
	if err != nil {
		b.setLastError(err.Error())
		return res
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		b.setLastError(err.Error())
		return res
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.httpClient.Do(req)
	if err != nil {
		b.setLastError(err.Error())
		return res
	}
	defer resp.Body.Close()

	var wr wireResult
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		b.setLastError(err.Error())
		return res
	}
	if wr.Error != "" {
		b.setLastError(wr.Error)
	}
	return Result{OK: wr.OK, Code: wr.Retcode, OrderID: wr.Order}
}

func (b *Bridge) Connected(ctx context.Context) bool {
	var out struct {
		Connected bool `json:"connected"`
	}
	if err := b.get(ctx, "/connected", nil, &out); err != nil {
		return false
	}
	return out.Connected
}

func (b *Bridge) SymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	var w wireSymbolInfo
	if err := b.get(ctx, "/symbol_info", map[string]string{"symbol": symbol}, &w); err != nil {
		return nil, fmt.Errorf("symbol info %s: %w", symbol, err)
	}
	if w.Symbol == "" {
		return nil, fmt.Errorf("symbol info %s: not found", symbol)
	}
	return &SymbolInfo{
		Symbol:      w.Symbol,
		Digits:      w.Digits,
		Point:       w.Point,
		StopsLevel:  w.StopsLevel,
		FreezeLevel: w.FreezeLevel,
		VolumeMin:   w.VolumeMin,
		VolumeMax:   w.VolumeMax,
		VolumeStep:  w.VolumeStep,
		Visible:     w.Visible,
	}, nil
}

func (b *Bridge) Quote(ctx context.Context, symbol string) (*Quote, error) {
	var w wireQuote
	if err := b.get(ctx, "/tick", map[string]string{"symbol": symbol}, &w); err != nil {
		return nil, fmt.Errorf("tick %s: %w", symbol, err)
	}
	q := &Quote{
		Symbol: w.Symbol,
		Bid:    w.Bid,
		Ask:    w.Ask,
		Last:   w.Last,
		Time:   time.UnixMilli(w.TimeMs).UTC(),
	}
	if err := ValidateQuote(q); err != nil {
		return nil, fmt.Errorf("tick %s: %w", symbol, err)
	}
	return q, nil
}

func (b *Bridge) SelectSymbol(ctx context.Context, symbol string) bool {
	return b.post(ctx, "/select", map[string]any{"symbol": symbol}).OK
}

func (b *Bridge) OpenPositions(ctx context.Context) ([]Position, error) {
	var ws []wirePosition
	if err := b.get(ctx, "/positions", nil, &ws); err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	out := make([]Position, 0, len(ws))
	for _, w := range ws {
		side := Long
		if w.Type == 1 {
			side = Short
		}
		out = append(out, Position{
			Ticket:     w.Ticket,
			Symbol:     w.Symbol,
			Side:       side,
			Volume:     w.Volume,
			OpenPrice:  w.PriceOpen,
			StopLoss:   w.StopLoss,
			TakeProfit: w.TakeProfit,
			Profit:     w.Profit,
		})
	}
	return out, nil
}

func (b *Bridge) PendingOrders(ctx context.Context) ([]Order, error) {
	return b.listOrders(ctx, nil)
}

func (b *Bridge) PendingOrder(ctx context.Context, ticket int64) (*Order, error) {
	orders, err := b.listOrders(ctx, map[string]string{"ticket": strconv.FormatInt(ticket, 10)})
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("pending order %d: not found", ticket)
	}
	return &orders[0], nil
}

func (b *Bridge) listOrders(ctx context.Context, query map[string]string) ([]Order, error) {
	var ws []wireOrder
	if err := b.get(ctx, "/orders", query, &ws); err != nil {
		return nil, fmt.Errorf("orders: %w", err)
	}
	out := make([]Order, 0, len(ws))
	for _, w := range ws {
		kind := BuyStop
		if w.Type == 1 {
			kind = SellStop
		}
		out = append(out, Order{
			Ticket:     w.Ticket,
			Symbol:     w.Symbol,
			Kind:       kind,
			Price:      w.Price,
			Volume:     w.Volume,
			StopLoss:   w.StopLoss,
			TakeProfit: w.TakeProfit,
			Tag:        w.Comment,
		})
	}
	return out, nil
}

func (b *Bridge) MarketClose(ctx context.Context, pos Position, price float64) Result {
	return b.post(ctx, "/close", map[string]any{
		"ticket":  pos.Ticket,
		"symbol":  pos.Symbol,
		"volume":  pos.Volume,
		"price":   price,
		"comment": TagEndOfDay,
	})
}

func (b *Bridge) ModifyStops(ctx context.Context, ticket int64, sl, tp float64) Result {
	return b.post(ctx, "/modify_stops", map[string]any{
		"ticket": ticket,
		"sl":     sl,
		"tp":     tp,
	})
}

func (b *Bridge) PlacePending(ctx context.Context, kind PendingKind, symbol string, price, volume, sl, tp float64, tag string) Result {
	orderType := 0
	if kind == SellStop {
		orderType = 1
	}
	return b.post(ctx, "/pending", map[string]any{
		"type":    orderType,
		"symbol":  symbol,
		"price":   price,
		"volume":  volume,
		"sl":      sl,
		"tp":      tp,
		"comment": tag,
	})
}

func (b *Bridge) ModifyPending(ctx context.Context, ticket int64, price, sl, tp float64) Result {
	return b.post(ctx, "/modify_pending", map[string]any{
		"ticket": ticket,
		"price":  price,
		"sl":     sl,
		"tp":     tp,
	})
}

func (b *Bridge) CancelOrder(ctx context.Context, ticket int64) Result {
	return b.post(ctx, "/cancel", map[string]any{"ticket": ticket})
}

func (b *Bridge) RealizedDeals(ctx context.Context, from, to time.Time) ([]Deal, error) {
	var ws []wireDeal
	query := map[string]string{
		"from_ms": strconv.FormatInt(from.UnixMilli(), 10),
		"to_ms":   strconv.FormatInt(to.UnixMilli(), 10),
	}
	if err := b.get(ctx, "/deals", query, &ws); err != nil {
		return nil, fmt.Errorf("deals: %w", err)
	}
	out := make([]Deal, 0, len(ws))
	for _, w := range ws {
		entry := DealEntryIn
		if w.Entry == 1 {
			entry = DealEntryOut
		}
		out = append(out, Deal{
			Ticket: w.Ticket,
			Time:   time.UnixMilli(w.TimeMs).UTC(),
			Entry:  entry,
			Profit: w.Profit,
		})
	}
	return out, nil
}

func (b *Bridge) LastError() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}
