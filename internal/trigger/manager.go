// Package trigger owns the operator-defined price-crossing rules. A rule
// waits for the market to cross its target price P, then places one or two
// conditional stop orders exactly once and retires.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/minhvd/mt5-guardian/internal/gateway"
	"github.com/minhvd/mt5-guardian/internal/notice"
	"github.com/minhvd/mt5-guardian/internal/observ"
	"github.com/minhvd/mt5-guardian/internal/symbols"
)

// OrderKind selects which side(s) a crossing places.
type OrderKind int

const (
	DoubleStop OrderKind = iota
	BuyStopOnly
	SellStopOnly
)

func (k OrderKind) String() string {
	switch k {
	case BuyStopOnly:
		return "buy-stop"
	case SellStopOnly:
		return "sell-stop"
	}
	return "double-stop"
}

func (k OrderKind) wantsBuy() bool  { return k == DoubleStop || k == BuyStopOnly }
func (k OrderKind) wantsSell() bool { return k == DoubleStop || k == SellStopOnly }

// Two rules are duplicates when their symbols match and their target prices
// differ by less than this.
const priceEpsilon = 1e-6

// ErrDuplicate rejects a rule matching an existing one's symbol and price.
var ErrDuplicate = errors.New("trigger: duplicate rule")

// Rule statuses published to the observation stream.
const (
	StatusWaiting     = "waiting"
	StatusFirstSample = "waiting (first sample)"
	StatusSymbolError = "symbol error"
	StatusActivated   = "activated"
)

// Spec is operator input for a new rule, validated at this boundary so the
// cycle never sees malformed values.
type Spec struct {
	Symbol         string
	Price          float64 // target price P
	Kind           OrderKind
	BuyOffsetPips  float64 // buy-stop distance above P
	SellOffsetPips float64 // sell-stop distance below P
	Volume         float64
	TakeProfitPips float64 // 0 = no TP on placed orders
	StopLossPips   float64 // 0 = no SL on placed orders
}

func (s *Spec) validate() error {
	s.Symbol = strings.TrimSpace(s.Symbol)
	if s.Symbol == "" {
		return fmt.Errorf("trigger: empty symbol")
	}
	if s.Price <= 0 {
		return fmt.Errorf("trigger: target price must be positive, got %v", s.Price)
	}
	if s.Volume <= 0 {
		return fmt.Errorf("trigger: volume must be positive, got %v", s.Volume)
	}
	if s.BuyOffsetPips < 0 || s.SellOffsetPips < 0 {
		return fmt.Errorf("trigger: offsets must not be negative")
	}
	if s.TakeProfitPips < 0 || s.StopLossPips < 0 {
		return fmt.Errorf("trigger: tp/sl pips must not be negative")
	}
	return nil
}

type rule struct {
	id   int
	spec Spec

	// prev is the last-observed price; nil until the first sample arms the
	// rule. It advances every cycle the symbol resolves, crossed or not.
	prev      *float64
	activated bool
}

// Status is the published view of one non-activated rule.
type Status struct {
	ID           int
	Symbol       string
	TargetPrice  float64
	CurrentPrice float64
	State        string
	Kind         OrderKind
}

// Manager owns the rule set. The control surface and the monitor worker both
// call in; every mutation is funneled through the mutex and applies fully or
// not at all.
type Manager struct {
	mu     sync.Mutex
	gw     gateway.TradeGateway
	rules  []*rule
	nextID int

	// placed maps venue order ticket -> the trigger price P that caused it,
	// for display and audit.
	placed map[int64]float64

	symErrors *notice.Tracker
}

func NewManager(gw gateway.TradeGateway) *Manager {
	return &Manager{
		gw:        gw,
		nextID:    1,
		placed:    map[int64]float64{},
		symErrors: notice.NewTracker(),
	}
}

// Add creates a rule from the spec and returns its id. A rule whose symbol
// and price match an existing rule within epsilon is rejected.
func (m *Manager) Add(s Spec) (int, error) {
	if err := s.validate(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.spec.Symbol == s.Symbol && math.Abs(r.spec.Price-s.Price) < priceEpsilon {
			return 0, fmt.Errorf("%w: %s @ %v", ErrDuplicate, s.Symbol, s.Price)
		}
	}
	r := &rule{id: m.nextID, spec: s}
	m.nextID++
	m.rules = append(m.rules, r)
	observ.Log("trigger_added", map[string]any{
		"id":     r.id,
		"symbol": s.Symbol,
		"price":  s.Price,
		"kind":   s.Kind.String(),
	})
	observ.SetGauge("trigger_rules", float64(len(m.rules)), nil)
	return r.id, nil
}

// Remove deletes a rule and its activation record. Returns false when the id
// is unknown.
func (m *Manager) Remove(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.rules {
		if r.id == id {
			m.rules = append(m.rules[:i], m.rules[i+1:]...)
			observ.Log("trigger_removed", map[string]any{"id": id})
			observ.SetGauge("trigger_rules", float64(len(m.rules)), nil)
			return true
		}
	}
	return false
}

// Clear removes every rule regardless of state, wipes the activation/audit
// history, and resets the id counter. Returns the number of rules removed.
func (m *Manager) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.rules)
	m.rules = nil
	m.placed = map[int64]float64{}
	m.nextID = 1
	observ.Log("triggers_cleared", map[string]any{"count": n})
	observ.SetGauge("trigger_rules", 0, nil)
	return n
}

// Symbols lists the symbols of armed (non-activated) rules; the monitor
// unions these with open-position symbols when resolving quotes.
func (m *Manager) Symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, r := range m.rules {
		if r.activated || seen[r.spec.Symbol] {
			continue
		}
		seen[r.spec.Symbol] = true
		out = append(out, r.spec.Symbol)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of rules in the set, activated included.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rules)
}

// TriggerPrice returns the target price P recorded against a placed order.
func (m *Manager) TriggerPrice(orderID int64) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.placed[orderID]
	return p, ok
}

// Evaluate runs one cycle of crossing detection over every non-activated
// rule whose symbol resolved, placing orders on a crossing, and returns the
// status view (activated rules omitted).
func (m *Manager) Evaluate(ctx context.Context, infos map[string]gateway.SymbolInfo, quotes map[string]gateway.Quote) []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Status
	for _, r := range m.rules {
		if r.activated {
			continue
		}

		st := Status{
			ID:          r.id,
			Symbol:      r.spec.Symbol,
			TargetPrice: r.spec.Price,
			Kind:        r.spec.Kind,
			State:       StatusWaiting,
		}

		info, haveInfo := infos[r.spec.Symbol]
		q, haveQuote := quotes[r.spec.Symbol]
		if !haveInfo || !haveQuote {
			st.State = StatusSymbolError
			if m.symErrors.Report(r.spec.Symbol) {
				observ.Log("trigger_symbol_unavailable", map[string]any{
					"id":     r.id,
					"symbol": r.spec.Symbol,
				})
			}
			out = append(out, st)
			continue
		}
		if m.symErrors.Resolve(r.spec.Symbol) {
			observ.Log("trigger_symbol_resolved", map[string]any{"symbol": r.spec.Symbol})
		}

		curr := q.Representative()
		st.CurrentPrice = curr

		if r.prev == nil {
			v := curr
			r.prev = &v
			st.State = StatusFirstSample
			observ.Log("trigger_armed", map[string]any{
				"id":     r.id,
				"symbol": r.spec.Symbol,
				"price":  curr,
			})
			out = append(out, st)
			continue
		}

		prev := *r.prev
		crossedUp := prev < r.spec.Price && curr >= r.spec.Price
		crossedDown := prev > r.spec.Price && curr <= r.spec.Price
		if crossedUp || crossedDown {
			direction := "up"
			if crossedDown {
				direction = "down"
			}
			observ.Log("trigger_crossed", map[string]any{
				"id":        r.id,
				"symbol":    r.spec.Symbol,
				"target":    r.spec.Price,
				"direction": direction,
			})
			if m.fire(ctx, r, info) {
				r.activated = true
				st.State = StatusActivated
				observ.Log("trigger_activated", map[string]any{
					"id":     r.id,
					"symbol": r.spec.Symbol,
				})
				observ.IncCounter("trigger_activations_total", map[string]string{"symbol": r.spec.Symbol})
			} else {
				observ.Log("trigger_placement_failed", map[string]any{
					"id":     r.id,
					"symbol": r.spec.Symbol,
				})
			}
		}

		// Advance regardless of outcome so only a fresh crossing retries.
		v := curr
		r.prev = &v

		if !r.activated {
			out = append(out, st)
		}
	}
	return out
}

// fire places the order(s) the rule's kind requires. Activation needs the
// buy side for BuyStopOnly, the sell side for SellStopOnly, and either side
// for DoubleStop; a half-failed double is abandoned alongside its successful
// half rather than re-fired on the same crossing.
func (m *Manager) fire(ctx context.Context, r *rule, info gateway.SymbolInfo) bool {
	pip := symbols.PipSize(info)
	if pip <= 0 {
		return false
	}

	placedBuy := false
	placedSell := false
	if r.spec.Kind.wantsBuy() {
		placedBuy = m.placeSide(ctx, r, info, pip, gateway.BuyStop)
	}
	if r.spec.Kind.wantsSell() {
		placedSell = m.placeSide(ctx, r, info, pip, gateway.SellStop)
	}

	switch r.spec.Kind {
	case BuyStopOnly:
		return placedBuy
	case SellStopOnly:
		return placedSell
	default:
		return placedBuy || placedSell
	}
}

func (m *Manager) placeSide(ctx context.Context, r *rule, info gateway.SymbolInfo, pip float64, kind gateway.PendingKind) bool {
	var price, tp, sl float64
	tag := gateway.TagTriggerBuy
	if kind == gateway.BuyStop {
		price = r.spec.Price + r.spec.BuyOffsetPips*pip
		if r.spec.TakeProfitPips > 0 {
			tp = price + r.spec.TakeProfitPips*pip
		}
		if r.spec.StopLossPips > 0 {
			sl = price - r.spec.StopLossPips*pip
		}
	} else {
		tag = gateway.TagTriggerSell
		price = r.spec.Price - r.spec.SellOffsetPips*pip
		if r.spec.TakeProfitPips > 0 {
			tp = price - r.spec.TakeProfitPips*pip
		}
		if r.spec.StopLossPips > 0 {
			sl = price + r.spec.StopLossPips*pip
		}
	}
	price = symbols.RoundToDigits(price, info.Digits)
	tp = symbols.RoundToDigits(tp, info.Digits)
	sl = symbols.RoundToDigits(sl, info.Digits)

	res := m.gw.PlacePending(ctx, kind, r.spec.Symbol, price, r.spec.Volume, sl, tp, tag)
	if !res.OK {
		observ.Log("trigger_order_failed", map[string]any{
			"id":     r.id,
			"symbol": r.spec.Symbol,
			"kind":   kind.String(),
			"code":   res.Code,
			"venue":  m.gw.LastError(),
		})
		observ.IncCounter("trigger_order_failures_total", map[string]string{"symbol": r.spec.Symbol})
		return false
	}

	m.placed[res.OrderID] = r.spec.Price
	observ.Log("trigger_order_placed", map[string]any{
		"id":     r.id,
		"symbol": r.spec.Symbol,
		"kind":   kind.String(),
		"ticket": res.OrderID,
		"price":  price,
	})
	observ.IncCounter("trigger_orders_total", map[string]string{"symbol": r.spec.Symbol})
	return true
}
