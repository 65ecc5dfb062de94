package journal

import (
	"context"
	"time"

	"github.com/minhvd/mt5-guardian/internal/gateway"
	"github.com/minhvd/mt5-guardian/internal/observ"
)

// Gateway decorates a TradeGateway, recording every command and its outcome.
// Reads pass straight through via the embedded interface. A journal write
// failure is logged and otherwise ignored: audit must never block trading.
type Gateway struct {
	gateway.TradeGateway
	rec Recorder
	now func() time.Time
}

func WrapGateway(gw gateway.TradeGateway, rec Recorder) *Gateway {
	return &Gateway{
		TradeGateway: gw,
		rec:          rec,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (g *Gateway) record(c Command) {
	c.At = g.now()
	c.ID = NewID(c.At)
	if err := g.rec.RecordCommand(c); err != nil {
		observ.Log("journal_write_failed", map[string]any{"kind": c.Kind, "err": err.Error()})
	}
}

func (g *Gateway) MarketClose(ctx context.Context, pos gateway.Position, price float64) gateway.Result {
	res := g.TradeGateway.MarketClose(ctx, pos, price)
	g.record(Command{
		Kind:   "market_close",
		Symbol: pos.Symbol,
		Ticket: pos.Ticket,
		Price:  price,
		Volume: pos.Volume,
		Tag:    gateway.TagEndOfDay,
		OK:     res.OK,
		Code:   res.Code,
	})
	return res
}

func (g *Gateway) ModifyStops(ctx context.Context, ticket int64, sl, tp float64) gateway.Result {
	res := g.TradeGateway.ModifyStops(ctx, ticket, sl, tp)
	g.record(Command{
		Kind:   "modify_stops",
		Ticket: ticket,
		Price:  sl,
		OK:     res.OK,
		Code:   res.Code,
	})
	return res
}

func (g *Gateway) PlacePending(ctx context.Context, kind gateway.PendingKind, symbol string, price, volume, sl, tp float64, tag string) gateway.Result {
	res := g.TradeGateway.PlacePending(ctx, kind, symbol, price, volume, sl, tp, tag)
	g.record(Command{
		Kind:    "place_pending",
		Symbol:  symbol,
		Price:   price,
		Volume:  volume,
		Tag:     tag,
		OK:      res.OK,
		Code:    res.Code,
		OrderID: res.OrderID,
	})
	return res
}

func (g *Gateway) CancelOrder(ctx context.Context, ticket int64) gateway.Result {
	res := g.TradeGateway.CancelOrder(ctx, ticket)
	g.record(Command{
		Kind:   "cancel_order",
		Ticket: ticket,
		OK:     res.OK,
		Code:   res.Code,
	})
	return res
}
