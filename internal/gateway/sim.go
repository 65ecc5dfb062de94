package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Sim is an in-memory venue. Tests script it directly; the runner's sim mode
// seeds it with a few symbols and drifts the quotes.
type Sim struct {
	mu        sync.Mutex
	connected bool
	symbols   map[string]SymbolInfo
	quotes    map[string]Quote
	positions map[int64]*Position
	orders    map[int64]*Order
	deals     []Deal
	next      int64
	lastErr   string
	failOnce  map[string]int // op -> venue code for a single injected failure

	// Now supplies deal timestamps; overridable for day-boundary tests.
	Now func() time.Time
}

func NewSim() *Sim {
	return &Sim{
		connected: true,
		symbols:   map[string]SymbolInfo{},
		quotes:    map[string]Quote{},
		positions: map[int64]*Position{},
		orders:    map[int64]*Order{},
		next:      1000,
		failOnce:  map[string]int{},
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// --- scripting surface (not part of TradeGateway) ---

func (s *Sim) SetConnected(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = ok
}

func (s *Sim) AddSymbol(info SymbolInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols[info.Symbol] = info
}

func (s *Sim) RemoveSymbol(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.symbols, symbol)
	delete(s.quotes, symbol)
}

func (s *Sim) SetQuote(q Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[q.Symbol] = q
}

// OpenPosition seeds an open position and returns its ticket.
func (s *Sim) OpenPosition(p Position) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	p.Ticket = s.next
	s.positions[p.Ticket] = &p
	return p.Ticket
}

func (s *Sim) PositionByTicket(ticket int64) (Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[ticket]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

func (s *Sim) AddDeal(d Deal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deals = append(s.deals, d)
}

// FailNext makes the next command of the given kind fail with a venue code.
// Kinds: market_close, modify_stops, place_pending, cancel_order.
func (s *Sim) FailNext(op string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOnce[op] = code
}

func (s *Sim) takeFailure(op string) (int, bool) {
	code, ok := s.failOnce[op]
	if ok {
		delete(s.failOnce, op)
		s.lastErr = fmt.Sprintf("injected %s failure", op)
	}
	return code, ok
}

// Advance random-walks every quote by up to one point; used by the demo mode.
func (s *Sim) Advance(rng *rand.Rand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sym, q := range s.quotes {
		info, ok := s.symbols[sym]
		if !ok || info.Point <= 0 {
			continue
		}
		step := info.Point * float64(rng.Intn(21)-10)
		q.Bid += step
		q.Ask += step
		if q.Last != 0 {
			q.Last += step
		}
		q.Time = s.Now()
		s.quotes[sym] = q
	}
}

// --- TradeGateway ---

func (s *Sim) Connected(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Sim) SymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.symbols[symbol]
	if !ok {
		s.lastErr = "unknown symbol " + symbol
		return nil, fmt.Errorf("sim: unknown symbol %q", symbol)
	}
	out := info
	return &out, nil
}

func (s *Sim) Quote(ctx context.Context, symbol string) (*Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[symbol]
	if !ok {
		s.lastErr = "no tick for " + symbol
		return nil, fmt.Errorf("sim: no tick for %q", symbol)
	}
	out := q
	return &out, nil
}

func (s *Sim) SelectSymbol(ctx context.Context, symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.symbols[symbol]
	if !ok {
		return false
	}
	info.Visible = true
	s.symbols[symbol] = info
	return true
}

func (s *Sim) OpenPositions(ctx context.Context) ([]Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

func (s *Sim) PendingOrders(ctx context.Context) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

func (s *Sim) PendingOrder(ctx context.Context, ticket int64) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[ticket]
	if !ok {
		return nil, fmt.Errorf("sim: no pending order %d", ticket)
	}
	out := *o
	return &out, nil
}

func (s *Sim) MarketClose(ctx context.Context, pos Position, price float64) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code, fail := s.takeFailure("market_close"); fail {
		return Result{OK: false, Code: code}
	}
	p, ok := s.positions[pos.Ticket]
	if !ok {
		s.lastErr = fmt.Sprintf("position %d not found", pos.Ticket)
		return Result{OK: false, Code: 10013}
	}
	delete(s.positions, pos.Ticket)
	s.deals = append(s.deals, Deal{
		Ticket: p.Ticket,
		Time:   s.Now(),
		Entry:  DealEntryOut,
		Profit: p.Profit,
	})
	return Result{OK: true}
}

func (s *Sim) ModifyStops(ctx context.Context, ticket int64, sl, tp float64) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code, fail := s.takeFailure("modify_stops"); fail {
		return Result{OK: false, Code: code}
	}
	p, ok := s.positions[ticket]
	if !ok {
		s.lastErr = fmt.Sprintf("position %d not found", ticket)
		return Result{OK: false, Code: 10013}
	}
	p.StopLoss = sl
	p.TakeProfit = tp
	return Result{OK: true}
}

func (s *Sim) PlacePending(ctx context.Context, kind PendingKind, symbol string, price, volume, sl, tp float64, tag string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code, fail := s.takeFailure("place_pending"); fail {
		return Result{OK: false, Code: code}
	}
	s.next++
	s.orders[s.next] = &Order{
		Ticket:     s.next,
		Symbol:     symbol,
		Kind:       kind,
		Price:      price,
		Volume:     volume,
		StopLoss:   sl,
		TakeProfit: tp,
		Tag:        tag,
	}
	return Result{OK: true, OrderID: s.next}
}

func (s *Sim) ModifyPending(ctx context.Context, ticket int64, price, sl, tp float64) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[ticket]
	if !ok {
		s.lastErr = fmt.Sprintf("order %d not found", ticket)
		return Result{OK: false, Code: 10013}
	}
	o.Price = price
	o.StopLoss = sl
	o.TakeProfit = tp
	return Result{OK: true, OrderID: ticket}
}

func (s *Sim) CancelOrder(ctx context.Context, ticket int64) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code, fail := s.takeFailure("cancel_order"); fail {
		return Result{OK: false, Code: code}
	}
	if _, ok := s.orders[ticket]; !ok {
		s.lastErr = fmt.Sprintf("order %d not found", ticket)
		return Result{OK: false, Code: 10013}
	}
	delete(s.orders, ticket)
	return Result{OK: true}
}

func (s *Sim) RealizedDeals(ctx context.Context, from, to time.Time) ([]Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Deal
	for _, d := range s.deals {
		if d.Time.Before(from) || !d.Time.Before(to) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Sim) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
