// Command guardian runs the trade guardian against a venue gateway: it
// watches open positions, moves stops to breakeven, fires price-crossing
// trigger rules, and enforces the daily realized-loss limit.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minhvd/mt5-guardian/internal/config"
	"github.com/minhvd/mt5-guardian/internal/gateway"
	"github.com/minhvd/mt5-guardian/internal/journal"
	"github.com/minhvd/mt5-guardian/internal/monitor"
	"github.com/minhvd/mt5-guardian/internal/observ"
	"github.com/minhvd/mt5-guardian/internal/symbols"
	"github.com/minhvd/mt5-guardian/internal/trigger"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML config (optional)")
		gatewayKind = flag.String("gateway", "sim", "venue gateway: sim or bridge")
		journalPath = flag.String("journal", "", "sqlite command journal path (overrides config)")
		breakeven   = flag.Bool("breakeven", true, "enable breakeven protection")
	)
	flag.Parse()

	if err := run(*configPath, *gatewayKind, *journalPath, *breakeven); err != nil {
		fmt.Fprintln(os.Stderr, "guardian:", err)
		os.Exit(1)
	}
}

func run(configPath, gatewayKind, journalPath string, breakeven bool) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	}

	var gw gateway.TradeGateway
	switch gatewayKind {
	case "sim":
		sim := gateway.NewSim()
		seedSim(sim)
		go advanceSim(sim)
		gw = sim
	case "bridge":
		b, err := gateway.NewBridge(gateway.BridgeConfig{
			BaseURL:            cfg.Bridge.BaseURL,
			TimeoutSeconds:     cfg.Bridge.TimeoutSeconds,
			RateLimitPerSecond: cfg.Bridge.RateLimitPerSecond,
		})
		if err != nil {
			return err
		}
		gw = b
	default:
		return fmt.Errorf("unknown gateway %q", gatewayKind)
	}

	if journalPath == "" {
		journalPath = cfg.Journal.Path
	}
	if journalPath != "" {
		rec, err := journal.NewSQLite(journalPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer rec.Close()
		gw = journal.WrapGateway(gw, rec)
		observ.Log("journal_open", map[string]any{"path": journalPath})
	}

	cache := symbols.NewCache(gw, time.Duration(cfg.Monitor.SymbolTTLSeconds*float64(time.Second)))
	triggers := trigger.NewManager(gw)
	loop := monitor.New(gw, cache, triggers, monitor.Config{
		PollInterval:         time.Duration(cfg.Monitor.PollIntervalSeconds * float64(time.Second)),
		BreakevenTriggerPips: cfg.Monitor.BreakevenTriggerPips,
		BreakevenOffsetPips:  cfg.Monitor.BreakevenOffsetPips,
		MaxDailyLoss:         cfg.Monitor.MaxDailyLoss,
		EndOfDayCleanup:      cfg.Monitor.EndOfDayCleanup,
	})
	loop.SetBreakevenEnabled(breakeven)

	if gatewayKind == "sim" {
		if id, err := loop.AddTrigger(trigger.Spec{
			Symbol:         "EURUSD",
			Price:          1.1000,
			Kind:           trigger.DoubleStop,
			BuyOffsetPips:  2,
			SellOffsetPips: 2,
			Volume:         0.10,
			TakeProfitPips: 20,
			StopLossPips:   10,
		}); err == nil {
			observ.Log("demo_trigger_added", map[string]any{"id": id})
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := loop.Start(ctx); err != nil {
		return err
	}

	go drainObservations(loop)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	observ.Log("shutdown_signal", map[string]any{"signal": sig.String()})

	loop.Stop()
	return nil
}

// drainObservations logs each cycle's snapshots so the sim run is visible
// without a UI.
func drainObservations(loop *monitor.Loop) {
	for {
		select {
		case views := <-loop.Positions():
			for _, v := range views {
				observ.Log("position", map[string]any{
					"ticket":      v.Ticket,
					"symbol":      v.Symbol,
					"side":        v.Side.String(),
					"open":        v.OpenPrice,
					"current":     v.CurrentPrice,
					"sl":          v.StopLoss,
					"profit_usd":  v.ProfitUSD,
					"profit_pips": v.ProfitPips,
				})
			}
		case statuses := <-loop.Triggers():
			for _, st := range statuses {
				observ.Log("trigger_status", map[string]any{
					"id":      st.ID,
					"symbol":  st.Symbol,
					"target":  st.TargetPrice,
					"current": st.CurrentPrice,
					"state":   st.State,
					"kind":    st.Kind.String(),
				})
			}
		}
	}
}

func seedSim(sim *gateway.Sim) {
	sim.AddSymbol(gateway.SymbolInfo{
		Symbol:      "EURUSD",
		Digits:      5,
		Point:       0.00001,
		StopsLevel:  10,
		FreezeLevel: 5,
		VolumeMin:   0.01,
		VolumeMax:   100,
		VolumeStep:  0.01,
		Visible:     true,
	})
	sim.SetQuote(gateway.Quote{
		Symbol: "EURUSD",
		Bid:    1.09980,
		Ask:    1.09995,
		Last:   1.09990,
		Time:   time.Now().UTC(),
	})
	sim.OpenPosition(gateway.Position{
		Symbol:    "EURUSD",
		Side:      gateway.Long,
		Volume:    0.10,
		OpenPrice: 1.09950,
	})
}

// advanceSim random-walks the sim quotes so breakeven and triggers have
// something to react to.
func advanceSim(sim *gateway.Sim) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for range time.Tick(500 * time.Millisecond) {
		sim.Advance(rng)
	}
}
