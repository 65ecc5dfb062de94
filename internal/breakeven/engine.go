// Package breakeven relocates a profitable position's stop-loss to its entry
// price plus a small offset, removing downside risk while respecting the
// broker's minimum-stop and freeze-zone constraints.
package breakeven

import (
	"context"
	"math"
	"strconv"

	"github.com/minhvd/mt5-guardian/internal/gateway"
	"github.com/minhvd/mt5-guardian/internal/notice"
	"github.com/minhvd/mt5-guardian/internal/observ"
	"github.com/minhvd/mt5-guardian/internal/symbols"
)

// Config is the per-cycle snapshot of the breakeven parameters.
type Config struct {
	TriggerPips float64 // profit required before the stop moves
	OffsetPips  float64 // distance past the open price the stop lands at
}

// Engine evaluates one position at a time. Stop-modify failures are logged
// once per ticket per episode; the record clears on success or when the
// position disappears.
type Engine struct {
	gw       gateway.TradeGateway
	failures *notice.Tracker
}

func New(gw gateway.TradeGateway) *Engine {
	return &Engine{gw: gw, failures: notice.NewTracker()}
}

// Prune drops failure-suppression records for tickets no longer open.
func (e *Engine) Prune(open map[int64]bool) {
	for _, key := range e.failures.Keys() {
		ticket, err := strconv.ParseInt(key, 10, 64)
		if err == nil && !open[ticket] {
			e.failures.Forget(key)
		}
	}
}

func ticketKey(ticket int64) string {
	return strconv.FormatInt(ticket, 10)
}

// Process decides whether the position's stop should move to breakeven and
// submits the modification. Returns true when a modification succeeded.
func (e *Engine) Process(ctx context.Context, pos gateway.Position, info gateway.SymbolInfo, q gateway.Quote, cfg Config) bool {
	pip := symbols.PipSize(info)
	if pip <= 0 {
		return false
	}

	curr := q.Ask
	if pos.Side == gateway.Short {
		curr = q.Bid
	}

	// Profit gate uses the unsigned pip distance from the open price.
	profitPips := math.Abs((curr - pos.OpenPrice) / pip)

	candidate := pos.OpenPrice + cfg.OffsetPips*pip
	if pos.Side == gateway.Short {
		candidate = pos.OpenPrice - cfg.OffsetPips*pip
	}

	// The stop never crosses past the open price against the position.
	if pos.Side == gateway.Long && candidate < pos.OpenPrice {
		candidate = pos.OpenPrice
	}
	if pos.Side == gateway.Short && candidate > pos.OpenPrice {
		candidate = pos.OpenPrice
	}

	stopDist := float64(info.StopsLevel) * info.Point
	freezeDist := float64(info.FreezeLevel) * info.Point

	farEnough := true
	if pos.Side == gateway.Long {
		if stopDist > 0 && candidate >= curr-stopDist {
			farEnough = false
		}
		if pos.StopLoss != 0 && pos.StopLoss >= candidate {
			farEnough = false
		}
	} else {
		if stopDist > 0 && candidate <= curr+stopDist {
			farEnough = false
		}
		if pos.StopLoss != 0 && pos.StopLoss <= candidate {
			farEnough = false
		}
	}

	inFreeze := freezeDist > 0 && math.Abs(curr-pos.OpenPrice) < freezeDist

	if profitPips < cfg.TriggerPips || !farEnough || inFreeze {
		return false
	}

	improves := pos.StopLoss == 0 ||
		(pos.Side == gateway.Long && pos.StopLoss < candidate) ||
		(pos.Side == gateway.Short && pos.StopLoss > candidate)
	if !improves {
		return false
	}

	newSL := symbols.RoundToDigits(candidate, info.Digits)
	res := e.gw.ModifyStops(ctx, pos.Ticket, newSL, pos.TakeProfit)
	key := ticketKey(pos.Ticket)
	if !res.OK {
		if e.failures.Report(key) {
			observ.Log("breakeven_modify_failed", map[string]any{
				"ticket": pos.Ticket,
				"symbol": pos.Symbol,
				"code":   res.Code,
				"venue":  e.gw.LastError(),
			})
		}
		observ.IncCounter("breakeven_failures_total", map[string]string{"symbol": pos.Symbol})
		return false
	}

	e.failures.Forget(key)
	observ.Log("breakeven_moved", map[string]any{
		"ticket":      pos.Ticket,
		"symbol":      pos.Symbol,
		"side":        pos.Side.String(),
		"old_sl":      pos.StopLoss,
		"new_sl":      newSL,
		"profit_pips": profitPips,
	})
	observ.IncCounter("breakeven_moves_total", map[string]string{"symbol": pos.Symbol})
	return true
}
