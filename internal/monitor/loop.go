// Package monitor runs the guardian's watch cycle: a single worker goroutine
// that polls the venue and, in a fixed order, handles day rollover, breakeven
// protection, trigger evaluation, and the daily-loss guard. All trading
// decisions happen on this one goroutine; the control surface only mutates
// shared state through synchronized components.
package monitor

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/minhvd/mt5-guardian/internal/breakeven"
	"github.com/minhvd/mt5-guardian/internal/eod"
	"github.com/minhvd/mt5-guardian/internal/gateway"
	"github.com/minhvd/mt5-guardian/internal/lossguard"
	"github.com/minhvd/mt5-guardian/internal/notice"
	"github.com/minhvd/mt5-guardian/internal/observ"
	"github.com/minhvd/mt5-guardian/internal/symbols"
	"github.com/minhvd/mt5-guardian/internal/trigger"
)

// connectivityPoll is how often the cycle re-checks a disconnected venue.
const connectivityPoll = time.Second

// Config is the monitor's runtime settings. The loop reads an immutable
// snapshot at the top of each cycle; UpdateConfig swaps the whole value so a
// cycle never sees a half-applied change.
type Config struct {
	PollInterval         time.Duration
	BreakevenTriggerPips float64
	BreakevenOffsetPips  float64
	MaxDailyLoss         float64 // zero or negative, account currency
	EndOfDayCleanup      bool
}

// PositionView is the per-cycle snapshot of one open position published to
// observers. ProfitPips is signed from the position's perspective.
type PositionView struct {
	Ticket       int64
	Symbol       string
	Side         gateway.Side
	Volume       float64
	OpenPrice    float64
	CurrentPrice float64
	StopLoss     float64
	TakeProfit   float64
	ProfitUSD    float64
	ProfitPips   float64
}

// Loop is the monitor worker plus its control surface.
type Loop struct {
	gw       gateway.TradeGateway
	cache    *symbols.Cache
	be       *breakeven.Engine
	triggers *trigger.Manager
	eod      *eod.Scheduler
	guard    *lossguard.Guard

	cfg         atomic.Pointer[Config]
	breakevenOn atomic.Bool
	running     atomic.Bool

	stopCh chan struct{}
	doneCh chan struct{}

	positionsCh chan []PositionView
	triggersCh  chan []trigger.Status

	symWarn     *notice.Tracker
	pipWarn     *notice.Tracker
	supportInfo *notice.Tracker
	connWarn    *notice.Tracker
	lossWarn    *notice.Tracker

	now func() time.Time
}

func New(gw gateway.TradeGateway, cache *symbols.Cache, triggers *trigger.Manager, cfg Config) *Loop {
	l := &Loop{
		gw:          gw,
		cache:       cache,
		be:          breakeven.New(gw),
		triggers:    triggers,
		eod:         eod.New(gw, triggers),
		guard:       lossguard.New(gw),
		positionsCh: make(chan []PositionView, 1),
		triggersCh:  make(chan []trigger.Status, 1),
		symWarn:     notice.NewTracker(),
		pipWarn:     notice.NewTracker(),
		supportInfo: notice.NewTracker(),
		connWarn:    notice.NewTracker(),
		lossWarn:    notice.NewTracker(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	l.cfg.Store(&cfg)
	l.breakevenOn.Store(true)
	return l
}

// Start launches the worker. It is an error to start a running loop.
func (l *Loop) Start(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("monitor: already running")
	}
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	observ.Log("monitor_start", map[string]any{
		"poll_interval": l.cfg.Load().PollInterval.String(),
	})
	go l.run(ctx)
	return nil
}

// Stop signals the worker and waits for the in-flight cycle to finish. The
// cycle is never interrupted mid-way; the stop takes effect at the next wait
// point.
func (l *Loop) Stop() {
	if !l.running.CompareAndSwap(true, false) {
		return
	}
	close(l.stopCh)
	<-l.doneCh
	observ.Log("monitor_stop", nil)
}

// Running reports whether the worker goroutine is active.
func (l *Loop) Running() bool { return l.running.Load() }

// SetBreakevenEnabled toggles the breakeven engine. Triggers, the loss guard,
// and day rollover keep running either way.
func (l *Loop) SetBreakevenEnabled(on bool) {
	if l.breakevenOn.Swap(on) != on {
		observ.Log("breakeven_toggled", map[string]any{"enabled": on})
	}
}

// BreakevenEnabled reports the current toggle state.
func (l *Loop) BreakevenEnabled() bool { return l.breakevenOn.Load() }

// Config returns the settings snapshot the next cycle will use.
func (l *Loop) Config() Config { return *l.cfg.Load() }

// UpdateConfig atomically replaces the settings; the running cycle finishes
// on the old snapshot.
func (l *Loop) UpdateConfig(cfg Config) error {
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("monitor: poll interval must be positive")
	}
	if cfg.MaxDailyLoss > 0 {
		return fmt.Errorf("monitor: max daily loss must be zero or negative")
	}
	l.cfg.Store(&cfg)
	observ.Log("monitor_config_updated", map[string]any{
		"poll_interval":  cfg.PollInterval.String(),
		"trigger_pips":   cfg.BreakevenTriggerPips,
		"offset_pips":    cfg.BreakevenOffsetPips,
		"max_daily_loss": cfg.MaxDailyLoss,
		"eod_cleanup":    cfg.EndOfDayCleanup,
	})
	return nil
}

// AddTrigger registers a crossing rule; safe while the worker runs.
func (l *Loop) AddTrigger(s trigger.Spec) (int, error) { return l.triggers.Add(s) }

// RemoveTrigger deletes a rule by id.
func (l *Loop) RemoveTrigger(id int) bool { return l.triggers.Remove(id) }

// ClearAllTriggers removes every rule and returns how many were dropped.
func (l *Loop) ClearAllTriggers() int { return l.triggers.Clear() }

// TriggerPrice reports the crossing price that produced a placed order.
func (l *Loop) TriggerPrice(orderID int64) (float64, bool) {
	return l.triggers.TriggerPrice(orderID)
}

// Positions is the observation stream of per-cycle position snapshots. Only
// the latest snapshot is retained; slow consumers see the freshest state.
func (l *Loop) Positions() <-chan []PositionView { return l.positionsCh }

// Triggers is the observation stream of per-cycle trigger statuses.
func (l *Loop) Triggers() <-chan []trigger.Status { return l.triggersCh }

// publish replaces any stale unconsumed snapshot with the current one.
func publish[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.doneCh)
	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		if !l.waitConnected(ctx) {
			return
		}
		cfg := *l.cfg.Load()
		l.cycle(ctx, cfg)
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(cfg.PollInterval):
		}
	}
}

// waitConnected blocks until the venue reports connected, polling every
// second. Returns false when stopped while waiting.
func (l *Loop) waitConnected(ctx context.Context) bool {
	for {
		if l.gw.Connected(ctx) {
			if l.connWarn.Resolve("venue") {
				observ.Log("venue_reconnected", nil)
			}
			return true
		}
		if l.connWarn.Report("venue") {
			observ.Log("venue_disconnected", nil)
		}
		select {
		case <-l.stopCh:
			return false
		case <-ctx.Done():
			return false
		case <-time.After(connectivityPoll):
		}
	}
}

func (l *Loop) cycle(ctx context.Context, cfg Config) {
	now := l.now()
	observ.IncCounter("monitor_cycles_total", nil)

	l.eod.Observe(ctx, now, cfg.EndOfDayCleanup)

	positions, err := l.gw.OpenPositions(ctx)
	if err != nil {
		if l.symWarn.Report("positions") {
			observ.Log("positions_unavailable", map[string]any{"err": err.Error()})
		}
		positions = nil
	} else {
		if l.symWarn.Resolve("positions") {
			observ.Log("positions_available", nil)
		}
		open := make(map[int64]bool, len(positions))
		for _, p := range positions {
			open[p.Ticket] = true
		}
		l.be.Prune(open)
	}
	observ.SetGauge("open_positions", float64(len(positions)), nil)

	infos, quotes := l.resolveSymbols(ctx, positions)

	views := l.positionViews(positions, infos, quotes)
	publish(l.positionsCh, views)

	if l.breakevenOn.Load() {
		beCfg := breakeven.Config{
			TriggerPips: cfg.BreakevenTriggerPips,
			OffsetPips:  cfg.BreakevenOffsetPips,
		}
		for _, pos := range positions {
			info, okInfo := infos[pos.Symbol]
			q, okQuote := quotes[pos.Symbol]
			if !okInfo || !okQuote {
				continue
			}
			l.be.Process(ctx, pos, info, q, beCfg)
		}
	}

	statuses := l.triggers.Evaluate(ctx, infos, quotes)
	publish(l.triggersCh, statuses)

	l.checkDailyLoss(ctx, now, cfg.MaxDailyLoss)
}

// resolveSymbols fetches SymbolInfo and a valid quote for every symbol the
// cycle touches: open positions plus armed trigger rules. A symbol that fails
// any step is absent from both maps for this cycle.
func (l *Loop) resolveSymbols(ctx context.Context, positions []gateway.Position) (map[string]gateway.SymbolInfo, map[string]gateway.Quote) {
	want := map[string]bool{}
	for _, p := range positions {
		want[p.Symbol] = true
	}
	for _, s := range l.triggers.Symbols() {
		want[s] = true
	}

	infos := make(map[string]gateway.SymbolInfo, len(want))
	quotes := make(map[string]gateway.Quote, len(want))
	for sym := range want {
		info, err := l.cache.Info(ctx, sym)
		if err != nil {
			if l.symWarn.Report(sym) {
				observ.Log("symbol_unavailable", map[string]any{"symbol": sym, "err": err.Error()})
			}
			continue
		}
		if pip := symbols.PipSize(info); pip <= 0 {
			if l.pipWarn.Report(sym) {
				observ.Log("symbol_pip_invalid", map[string]any{
					"symbol": sym,
					"digits": info.Digits,
					"point":  info.Point,
				})
			}
			continue
		}
		q, err := l.gw.Quote(ctx, sym)
		if err != nil {
			if l.symWarn.Report(sym) {
				observ.Log("symbol_quote_failed", map[string]any{"symbol": sym, "err": err.Error()})
			}
			continue
		}
		if err := gateway.ValidateQuote(q); err != nil {
			if l.symWarn.Report(sym) {
				observ.Log("symbol_quote_invalid", map[string]any{"symbol": sym, "err": err.Error()})
			}
			continue
		}
		if l.symWarn.Resolve(sym) {
			observ.Log("symbol_available", map[string]any{"symbol": sym})
		}
		l.pipWarn.Resolve(sym)
		if info.StopsLevel == 0 && info.FreezeLevel == 0 && l.supportInfo.Report(sym) {
			observ.Log("symbol_levels_unreported", map[string]any{"symbol": sym})
		}
		infos[sym] = info
		quotes[sym] = *q
	}
	return infos, quotes
}

// positionViews builds the published snapshot. A position whose symbol did
// not resolve still appears, with the pip-derived fields zeroed.
func (l *Loop) positionViews(positions []gateway.Position, infos map[string]gateway.SymbolInfo, quotes map[string]gateway.Quote) []PositionView {
	views := make([]PositionView, 0, len(positions))
	for _, p := range positions {
		v := PositionView{
			Ticket:     p.Ticket,
			Symbol:     p.Symbol,
			Side:       p.Side,
			Volume:     p.Volume,
			OpenPrice:  p.OpenPrice,
			StopLoss:   p.StopLoss,
			TakeProfit: p.TakeProfit,
			ProfitUSD:  p.Profit,
		}
		info, okInfo := infos[p.Symbol]
		q, okQuote := quotes[p.Symbol]
		if okInfo && okQuote {
			curr := q.Ask
			if p.Side == gateway.Short {
				curr = q.Bid
			}
			v.CurrentPrice = curr
			if pip := symbols.PipSize(info); pip > 0 {
				pips := (curr - p.OpenPrice) / pip
				if p.Side == gateway.Short {
					pips = -pips
				}
				v.ProfitPips = pips
			}
		}
		views = append(views, v)
	}
	return views
}

// checkDailyLoss runs the realized-loss guard and reports a breach once per
// UTC day. A guard that cannot read deal history logs and moves on; it never
// halts the cycle.
func (l *Loop) checkDailyLoss(ctx context.Context, now time.Time, maxDailyLoss float64) {
	total, breached, err := l.guard.Check(ctx, now, maxDailyLoss)
	if err != nil {
		if l.lossWarn.Report("history") {
			observ.Log("daily_loss_check_failed", map[string]any{"err": err.Error()})
		}
		return
	}
	l.lossWarn.Resolve("history")
	observ.SetGauge("daily_realized_pnl", total, nil)

	day := now.UTC().Format("2006-01-02")
	if breached {
		if l.lossWarn.Report(day) {
			observ.Log("daily_loss_breach", map[string]any{
				"date":  day,
				"total": total,
				"limit": maxDailyLoss,
				"over":  math.Abs(total) - math.Abs(maxDailyLoss),
			})
			observ.IncCounter("daily_loss_breaches_total", nil)
		}
	} else {
		l.lossWarn.Resolve(day)
	}
}
