package trigger

import (
	"context"
	"errors"
	"testing"

	"github.com/minhvd/mt5-guardian/internal/gateway"
)

func eurusdInfo() gateway.SymbolInfo {
	return gateway.SymbolInfo{Symbol: "EURUSD", Digits: 5, Point: 0.00001, Visible: true}
}

func marketAt(price float64) (map[string]gateway.SymbolInfo, map[string]gateway.Quote) {
	infos := map[string]gateway.SymbolInfo{"EURUSD": eurusdInfo()}
	quotes := map[string]gateway.Quote{"EURUSD": {Symbol: "EURUSD", Bid: price, Ask: price, Last: price}}
	return infos, quotes
}

func doubleStopSpec() Spec {
	return Spec{
		Symbol:         "EURUSD",
		Price:          1.1000,
		Kind:           DoubleStop,
		BuyOffsetPips:  2,
		SellOffsetPips: 2,
		Volume:         0.10,
		TakeProfitPips: 20,
		StopLossPips:   10,
	}
}

func TestAddValidation(t *testing.T) {
	m := NewManager(gateway.NewSim())
	tests := []struct {
		name   string
		mutate func(*Spec)
	}{
		{"empty symbol", func(s *Spec) { s.Symbol = "  " }},
		{"zero price", func(s *Spec) { s.Price = 0 }},
		{"negative price", func(s *Spec) { s.Price = -1 }},
		{"zero volume", func(s *Spec) { s.Volume = 0 }},
		{"negative offset", func(s *Spec) { s.BuyOffsetPips = -1 }},
		{"negative tp", func(s *Spec) { s.TakeProfitPips = -5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := doubleStopSpec()
			tt.mutate(&s)
			if _, err := m.Add(s); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestAddRejectsDuplicate(t *testing.T) {
	m := NewManager(gateway.NewSim())
	if _, err := m.Add(doubleStopSpec()); err != nil {
		t.Fatalf("first add: %v", err)
	}

	dup := doubleStopSpec()
	dup.Price = 1.1000 + 1e-7 // inside epsilon
	if _, err := m.Add(dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}

	near := doubleStopSpec()
	near.Price = 1.1001 // outside epsilon
	if _, err := m.Add(near); err != nil {
		t.Fatalf("distinct price should be accepted: %v", err)
	}
}

func TestFirstSampleArmsWithoutFiring(t *testing.T) {
	sim := gateway.NewSim()
	m := NewManager(sim)
	m.Add(doubleStopSpec())

	// First observation lands exactly on the target. Must not fire.
	infos, quotes := marketAt(1.1000)
	statuses := m.Evaluate(context.Background(), infos, quotes)
	if len(statuses) != 1 || statuses[0].State != StatusFirstSample {
		t.Fatalf("statuses = %+v, want one first-sample entry", statuses)
	}
	orders, _ := sim.PendingOrders(context.Background())
	if len(orders) != 0 {
		t.Fatalf("orders placed on first sample: %d", len(orders))
	}
}

func TestCrossingUpFiresDoubleStop(t *testing.T) {
	sim := gateway.NewSim()
	m := NewManager(sim)
	id, _ := m.Add(doubleStopSpec())

	ctx := context.Background()
	infos, quotes := marketAt(1.0990)
	m.Evaluate(ctx, infos, quotes) // arm below target

	infos, quotes = marketAt(1.1005) // crosses up through 1.1000
	statuses := m.Evaluate(ctx, infos, quotes)
	if len(statuses) != 0 {
		t.Fatalf("activated rule should drop from status output, got %+v", statuses)
	}

	orders, _ := sim.PendingOrders(ctx)
	if len(orders) != 2 {
		t.Fatalf("orders = %d, want buy-stop and sell-stop", len(orders))
	}
	var buy, sell *gateway.Order
	for i := range orders {
		switch orders[i].Kind {
		case gateway.BuyStop:
			buy = &orders[i]
		case gateway.SellStop:
			sell = &orders[i]
		}
	}
	if buy == nil || sell == nil {
		t.Fatalf("missing a side: %+v", orders)
	}
	if buy.Price != 1.10020 {
		t.Fatalf("buy price = %v, want target + 2 pips", buy.Price)
	}
	if sell.Price != 1.09980 {
		t.Fatalf("sell price = %v, want target - 2 pips", sell.Price)
	}
	if buy.TakeProfit != 1.10220 || buy.StopLoss != 1.09920 {
		t.Fatalf("buy tp/sl = %v/%v", buy.TakeProfit, buy.StopLoss)
	}
	if sell.TakeProfit != 1.09780 || sell.StopLoss != 1.10080 {
		t.Fatalf("sell tp/sl = %v/%v", sell.TakeProfit, sell.StopLoss)
	}
	if buy.Tag != gateway.TagTriggerBuy || sell.Tag != gateway.TagTriggerSell {
		t.Fatalf("tags = %q/%q", buy.Tag, sell.Tag)
	}

	// Audit: both placed orders map back to the trigger price.
	for _, o := range orders {
		p, ok := m.TriggerPrice(o.Ticket)
		if !ok || p != 1.1000 {
			t.Fatalf("TriggerPrice(%d) = %v,%v", o.Ticket, p, ok)
		}
	}

	if m.Remove(id) != true {
		t.Fatal("activated rule should still be removable by id")
	}
}

func TestCrossingDownFires(t *testing.T) {
	sim := gateway.NewSim()
	m := NewManager(sim)
	m.Add(doubleStopSpec())

	ctx := context.Background()
	infos, quotes := marketAt(1.1010)
	m.Evaluate(ctx, infos, quotes)

	infos, quotes = marketAt(1.0995)
	m.Evaluate(ctx, infos, quotes)

	orders, _ := sim.PendingOrders(ctx)
	if len(orders) != 2 {
		t.Fatalf("downward crossing should fire, got %d orders", len(orders))
	}
}

func TestLandingExactlyOnTargetCrosses(t *testing.T) {
	sim := gateway.NewSim()
	m := NewManager(sim)
	m.Add(doubleStopSpec())

	ctx := context.Background()
	infos, quotes := marketAt(1.0990)
	m.Evaluate(ctx, infos, quotes)

	infos, quotes = marketAt(1.1000) // curr == target counts as crossed
	m.Evaluate(ctx, infos, quotes)

	orders, _ := sim.PendingOrders(ctx)
	if len(orders) != 2 {
		t.Fatalf("touch of the target from below should fire, got %d orders", len(orders))
	}
}

func TestRestingOnTargetNeverCrosses(t *testing.T) {
	sim := gateway.NewSim()
	m := NewManager(sim)
	m.Add(doubleStopSpec())

	ctx := context.Background()
	infos, quotes := marketAt(1.1000)
	m.Evaluate(ctx, infos, quotes) // arms at the target
	m.Evaluate(ctx, infos, quotes) // prev == target, no strict approach side
	m.Evaluate(ctx, infos, quotes)

	orders, _ := sim.PendingOrders(ctx)
	if len(orders) != 0 {
		t.Fatalf("price resting on the target must not fire, got %d orders", len(orders))
	}
}

func TestNoRefireAfterActivation(t *testing.T) {
	sim := gateway.NewSim()
	m := NewManager(sim)
	m.Add(doubleStopSpec())

	ctx := context.Background()
	infos, quotes := marketAt(1.0990)
	m.Evaluate(ctx, infos, quotes)
	infos, quotes = marketAt(1.1005)
	m.Evaluate(ctx, infos, quotes)

	// Price whipsaws back through the target; the retired rule stays quiet.
	infos, quotes = marketAt(1.0990)
	m.Evaluate(ctx, infos, quotes)
	infos, quotes = marketAt(1.1010)
	m.Evaluate(ctx, infos, quotes)

	orders, _ := sim.PendingOrders(ctx)
	if len(orders) != 2 {
		t.Fatalf("orders = %d, want the original 2 only", len(orders))
	}
}

func TestSingleSideKinds(t *testing.T) {
	tests := []struct {
		name string
		kind OrderKind
		want gateway.PendingKind
	}{
		{"buy stop only", BuyStopOnly, gateway.BuyStop},
		{"sell stop only", SellStopOnly, gateway.SellStop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := gateway.NewSim()
			m := NewManager(sim)
			s := doubleStopSpec()
			s.Kind = tt.kind
			m.Add(s)

			ctx := context.Background()
			infos, quotes := marketAt(1.0990)
			m.Evaluate(ctx, infos, quotes)
			infos, quotes = marketAt(1.1005)
			m.Evaluate(ctx, infos, quotes)

			orders, _ := sim.PendingOrders(ctx)
			if len(orders) != 1 {
				t.Fatalf("orders = %d, want 1", len(orders))
			}
			if orders[0].Kind != tt.want {
				t.Fatalf("kind = %v, want %v", orders[0].Kind, tt.want)
			}
		})
	}
}

func TestPlacementFailureRetriesOnNextCrossing(t *testing.T) {
	sim := gateway.NewSim()
	m := NewManager(sim)
	s := doubleStopSpec()
	s.Kind = BuyStopOnly
	m.Add(s)

	ctx := context.Background()
	infos, quotes := marketAt(1.0990)
	m.Evaluate(ctx, infos, quotes)

	sim.FailNext("place_pending", 10018)
	infos, quotes = marketAt(1.1005)
	statuses := m.Evaluate(ctx, infos, quotes)
	if len(statuses) != 1 || statuses[0].State != StatusWaiting {
		t.Fatalf("failed rule should stay waiting, got %+v", statuses)
	}

	// Same side of the target: no fresh crossing, no retry.
	infos, quotes = marketAt(1.1008)
	m.Evaluate(ctx, infos, quotes)
	orders, _ := sim.PendingOrders(ctx)
	if len(orders) != 0 {
		t.Fatal("no retry without a fresh crossing")
	}

	// Dip back under and cross again: retries and succeeds.
	infos, quotes = marketAt(1.0995)
	m.Evaluate(ctx, infos, quotes)
	infos, quotes = marketAt(1.1002)
	m.Evaluate(ctx, infos, quotes)
	orders, _ = sim.PendingOrders(ctx)
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want 1 after retry", len(orders))
	}
}

func TestHalfFailedDoubleStillActivates(t *testing.T) {
	sim := gateway.NewSim()
	m := NewManager(sim)
	m.Add(doubleStopSpec())

	ctx := context.Background()
	infos, quotes := marketAt(1.0990)
	m.Evaluate(ctx, infos, quotes)

	// The buy side is placed first and fails; the sell side succeeds.
	sim.FailNext("place_pending", 10018)
	infos, quotes = marketAt(1.1005)
	m.Evaluate(ctx, infos, quotes)

	orders, _ := sim.PendingOrders(ctx)
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want the surviving sell side", len(orders))
	}

	// Another crossing must not re-fire the retired rule.
	infos, quotes = marketAt(1.0990)
	m.Evaluate(ctx, infos, quotes)
	infos, quotes = marketAt(1.1005)
	m.Evaluate(ctx, infos, quotes)
	orders, _ = sim.PendingOrders(ctx)
	if len(orders) != 1 {
		t.Fatalf("orders = %d after whipsaw, want still 1", len(orders))
	}
}

func TestSymbolErrorHoldsPriceMemory(t *testing.T) {
	sim := gateway.NewSim()
	m := NewManager(sim)
	m.Add(doubleStopSpec())

	ctx := context.Background()
	infos, quotes := marketAt(1.0990)
	m.Evaluate(ctx, infos, quotes)

	// Symbol vanishes for a cycle; prev stays 1.0990.
	statuses := m.Evaluate(ctx, map[string]gateway.SymbolInfo{}, map[string]gateway.Quote{})
	if len(statuses) != 1 || statuses[0].State != StatusSymbolError {
		t.Fatalf("statuses = %+v, want symbol error", statuses)
	}

	// When it returns above the target, that is still a crossing from 1.0990.
	infos, quotes = marketAt(1.1005)
	m.Evaluate(ctx, infos, quotes)
	orders, _ := sim.PendingOrders(ctx)
	if len(orders) != 2 {
		t.Fatalf("orders = %d, want 2 after the symbol recovers", len(orders))
	}
}

func TestClearResetsCounterAndAudit(t *testing.T) {
	sim := gateway.NewSim()
	m := NewManager(sim)
	m.Add(doubleStopSpec())

	ctx := context.Background()
	infos, quotes := marketAt(1.0990)
	m.Evaluate(ctx, infos, quotes)
	infos, quotes = marketAt(1.1005)
	m.Evaluate(ctx, infos, quotes)
	orders, _ := sim.PendingOrders(ctx)

	if n := m.Clear(); n != 1 {
		t.Fatalf("Clear = %d, want 1", n)
	}
	if m.Count() != 0 {
		t.Fatal("rules should be gone after Clear")
	}
	if _, ok := m.TriggerPrice(orders[0].Ticket); ok {
		t.Fatal("audit map should be wiped by Clear")
	}

	id, err := m.Add(doubleStopSpec())
	if err != nil {
		t.Fatalf("re-add after clear: %v", err)
	}
	if id != 1 {
		t.Fatalf("id = %d, want counter reset to 1", id)
	}
}

func TestSymbolsListsArmedOnly(t *testing.T) {
	sim := gateway.NewSim()
	m := NewManager(sim)
	m.Add(doubleStopSpec())
	s := doubleStopSpec()
	s.Symbol = "GBPUSD"
	m.Add(s)

	got := m.Symbols()
	if len(got) != 2 || got[0] != "EURUSD" || got[1] != "GBPUSD" {
		t.Fatalf("Symbols = %v", got)
	}

	ctx := context.Background()
	infos, quotes := marketAt(1.0990)
	m.Evaluate(ctx, infos, quotes)
	infos, quotes = marketAt(1.1005)
	m.Evaluate(ctx, infos, quotes) // EURUSD rule activates

	got = m.Symbols()
	if len(got) != 1 || got[0] != "GBPUSD" {
		t.Fatalf("Symbols after activation = %v, want GBPUSD only", got)
	}
}
