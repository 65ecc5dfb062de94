// Package eod detects the UTC calendar-day rollover and, when enabled, runs
// the end-of-day sweep: flatten every position, cancel every pending order,
// clear the trigger rule set.
package eod

import (
	"context"
	"time"

	"github.com/minhvd/mt5-guardian/internal/gateway"
	"github.com/minhvd/mt5-guardian/internal/observ"
	"github.com/minhvd/mt5-guardian/internal/trigger"
)

type Scheduler struct {
	gw       gateway.TradeGateway
	triggers *trigger.Manager

	// current is the UTC date being tracked; zero until the first cycle
	// establishes the baseline.
	current time.Time
}

func New(gw gateway.TradeGateway, triggers *trigger.Manager) *Scheduler {
	return &Scheduler{gw: gw, triggers: triggers}
}

func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Observe advances the tracked date and runs the sweep on a rollover when
// cleanup is enabled. The first observation only sets the baseline. Returns
// true when a sweep ran.
func (s *Scheduler) Observe(ctx context.Context, now time.Time, cleanup bool) bool {
	today := utcDate(now)
	if s.current.IsZero() {
		s.current = today
		observ.Log("eod_baseline", map[string]any{"date": today.Format("2006-01-02")})
		return false
	}
	if !today.After(s.current) {
		return false
	}
	observ.Log("eod_rollover", map[string]any{
		"from": s.current.Format("2006-01-02"),
		"to":   today.Format("2006-01-02"),
	})
	s.current = today
	if !cleanup {
		observ.Log("eod_cleanup_disabled", nil)
		return false
	}
	s.sweep(ctx)
	return true
}

// sweep attempts every close and cancel independently; one failure never
// stops the rest of the sweep.
func (s *Scheduler) sweep(ctx context.Context) {
	observ.Log("eod_cleanup_start", nil)

	closed, failed := 0, 0
	positions, err := s.gw.OpenPositions(ctx)
	if err != nil {
		observ.Log("eod_positions_unavailable", map[string]any{"err": err.Error()})
	}
	for _, pos := range positions {
		q, err := s.gw.Quote(ctx, pos.Symbol)
		if err != nil {
			observ.Log("eod_close_failed", map[string]any{
				"ticket": pos.Ticket,
				"symbol": pos.Symbol,
				"err":    err.Error(),
			})
			failed++
			continue
		}
		price := q.Bid
		if pos.Side == gateway.Short {
			price = q.Ask
		}
		res := s.gw.MarketClose(ctx, pos, price)
		if res.OK {
			observ.Log("eod_closed", map[string]any{"ticket": pos.Ticket, "symbol": pos.Symbol})
			closed++
		} else {
			observ.Log("eod_close_failed", map[string]any{
				"ticket": pos.Ticket,
				"symbol": pos.Symbol,
				"code":   res.Code,
				"venue":  s.gw.LastError(),
			})
			failed++
		}
	}

	cancelled, cancelFailed := 0, 0
	orders, err := s.gw.PendingOrders(ctx)
	if err != nil {
		observ.Log("eod_orders_unavailable", map[string]any{"err": err.Error()})
	}
	for _, o := range orders {
		res := s.gw.CancelOrder(ctx, o.Ticket)
		if res.OK {
			observ.Log("eod_cancelled", map[string]any{"ticket": o.Ticket, "symbol": o.Symbol})
			cancelled++
		} else {
			observ.Log("eod_cancel_failed", map[string]any{
				"ticket": o.Ticket,
				"symbol": o.Symbol,
				"code":   res.Code,
				"venue":  s.gw.LastError(),
			})
			cancelFailed++
		}
	}

	rules := s.triggers.Clear()

	observ.Log("eod_cleanup_done", map[string]any{
		"closed":        closed,
		"close_failed":  failed,
		"cancelled":     cancelled,
		"cancel_failed": cancelFailed,
		"rules_cleared": rules,
	})
	observ.IncCounter("eod_cleanups_total", nil)
}
