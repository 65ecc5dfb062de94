// Package gateway defines the narrow interface the guardian uses to talk to
// the trading venue, plus the normalized types that cross it. Everything the
// core knows about the venue comes through TradeGateway; the sim and bridge
// implementations live alongside.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Side is the direction of an open position.
type Side int

const (
	Long Side = iota
	Short
)

func (s Side) String() string {
	if s == Short {
		return "sell"
	}
	return "buy"
}

// PendingKind identifies the conditional order types the guardian places.
type PendingKind int

const (
	BuyStop PendingKind = iota
	SellStop
)

func (k PendingKind) String() string {
	if k == SellStop {
		return "sell-stop"
	}
	return "buy-stop"
}

// DealEntry marks whether a realized deal opened or closed exposure.
type DealEntry int

const (
	DealEntryIn DealEntry = iota
	DealEntryOut
)

// Order comment tags so venue history shows why an order exists.
const (
	TagTriggerBuy  = "trigger-buy"
	TagTriggerSell = "trigger-sell"
	TagEndOfDay    = "eod-cleanup"
)

// SymbolInfo holds the per-symbol tradable parameters. StopsLevel and
// FreezeLevel are in points, not pips.
type SymbolInfo struct {
	Symbol      string
	Digits      int
	Point       float64
	StopsLevel  int
	FreezeLevel int
	VolumeMin   float64
	VolumeMax   float64
	VolumeStep  float64
	Visible     bool
}

// Quote is a bid/ask/last snapshot for one symbol.
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
	Last   float64
	Time   time.Time
}

// Representative returns the last trade price, or the bid/ask midpoint for
// venues that report last as zero outside the trading session.
func (q Quote) Representative() float64 {
	if q.Last != 0 {
		return q.Last
	}
	return (q.Bid + q.Ask) / 2
}

// ValidateQuote rejects quotes the cycle must not act on (fail-closed).
func ValidateQuote(q *Quote) error {
	if q == nil {
		return fmt.Errorf("quote is nil")
	}
	q.Symbol = strings.TrimSpace(q.Symbol)
	if q.Symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	if q.Bid <= 0 || q.Ask <= 0 {
		return fmt.Errorf("invalid quote prices: bid=%.5f ask=%.5f", q.Bid, q.Ask)
	}
	if q.Ask < q.Bid {
		return fmt.Errorf("invalid spread: ask(%.5f) < bid(%.5f)", q.Ask, q.Bid)
	}
	return nil
}

// Position is an open position as reported by the venue. The venue owns it;
// the guardian never stores positions across cycles.
type Position struct {
	Ticket     int64
	Symbol     string
	Side       Side
	Volume     float64
	OpenPrice  float64
	StopLoss   float64 // 0 = not set
	TakeProfit float64 // 0 = not set
	Profit     float64 // unrealized, account currency
}

// Order is a pending order as reported by the venue.
type Order struct {
	Ticket     int64
	Symbol     string
	Kind       PendingKind
	Price      float64
	Volume     float64
	StopLoss   float64
	TakeProfit float64
	Tag        string
}

// Deal is a realized execution from venue history.
type Deal struct {
	Ticket int64
	Time   time.Time
	Entry  DealEntry
	Profit float64
}

// Result is the outcome of a trade command. Code is venue-specific; the core
// only branches on OK.
type Result struct {
	OK      bool
	Code    int
	OrderID int64
}

// TradeGateway is the guardian's whole view of the trading venue.
//
// Calls have no timeout of their own beyond what the implementation enforces;
// a call that blocks, blocks the monitor cycle.
type TradeGateway interface {
	// Connected reports venue connectivity; the monitor waits on it.
	Connected(ctx context.Context) bool

	SymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)
	Quote(ctx context.Context, symbol string) (*Quote, error)
	// SelectSymbol asks the venue to make an invisible symbol tradable.
	SelectSymbol(ctx context.Context, symbol string) bool

	OpenPositions(ctx context.Context) ([]Position, error)
	PendingOrders(ctx context.Context) ([]Order, error)
	PendingOrder(ctx context.Context, ticket int64) (*Order, error)

	MarketClose(ctx context.Context, pos Position, price float64) Result
	ModifyStops(ctx context.Context, ticket int64, sl, tp float64) Result
	PlacePending(ctx context.Context, kind PendingKind, symbol string, price, volume, sl, tp float64, tag string) Result
	ModifyPending(ctx context.Context, ticket int64, price, sl, tp float64) Result
	CancelOrder(ctx context.Context, ticket int64) Result

	// RealizedDeals lists executed deals in [from, to).
	RealizedDeals(ctx context.Context, from, to time.Time) ([]Deal, error)

	// LastError returns the venue's description of the most recent failure.
	LastError() string
}
