// Package lossguard computes the day's realized loss and raises an advisory
// when it breaches the configured ceiling. Advisory only: a human decides
// what to do about it.
package lossguard

import (
	"context"
	"fmt"
	"time"

	"github.com/minhvd/mt5-guardian/internal/gateway"
)

type Guard struct {
	gw gateway.TradeGateway
}

func New(gw gateway.TradeGateway) *Guard {
	return &Guard{gw: gw}
}

// Check sums realized profit of closing deals since 00:00 UTC and reports
// whether the (negative) ceiling is breached. Deals that open exposure and
// deals dated before midnight are excluded.
func (g *Guard) Check(ctx context.Context, now time.Time, maxDailyLoss float64) (total float64, breached bool, err error) {
	now = now.UTC()
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	deals, err := g.gw.RealizedDeals(ctx, midnight, now)
	if err != nil {
		return 0, false, fmt.Errorf("realized deals: %w", err)
	}
	for _, deal := range deals {
		if deal.Entry != gateway.DealEntryOut {
			continue
		}
		if deal.Time.Before(midnight) {
			continue
		}
		total += deal.Profit
	}
	return total, total < 0 && total <= maxDailyLoss, nil
}
