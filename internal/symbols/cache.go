// Package symbols resolves and caches per-symbol tradable parameters and
// derives the pip size every other component prices in.
package symbols

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/minhvd/mt5-guardian/internal/gateway"
)

// PipSize derives the pip increment from the symbol's decimal-digit
// convention. 5-digit and 3-digit symbols quote in tenths of a pip; 2-digit
// symbols (JPY-style metals/indices) in tenths of a point.
func PipSize(info gateway.SymbolInfo) float64 {
	switch info.Digits {
	case 5:
		return 0.0001
	case 3:
		return 0.001
	case 2:
		return 0.1
	}
	return 10 * info.Point
}

// RoundToDigits snaps a price to the symbol's quoting precision before it is
// sent to the venue.
func RoundToDigits(price float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Round(price*p) / p
}

// Cache is a TTL cache over gateway.SymbolInfo. Invisible symbols are
// selected on the venue before being handed out; a symbol that cannot be made
// visible resolves as an error for this cycle.
type Cache struct {
	gw  gateway.TradeGateway
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

type entry struct {
	info      gateway.SymbolInfo
	fetchedAt time.Time
}

func NewCache(gw gateway.TradeGateway, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{
		gw:      gw,
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
		entries: map[string]entry{},
	}
}

// Info returns the cached SymbolInfo, refreshing on miss or staleness.
func (c *Cache) Info(ctx context.Context, symbol string) (gateway.SymbolInfo, error) {
	c.mu.Lock()
	e, ok := c.entries[symbol]
	now := c.now()
	c.mu.Unlock()
	if ok && now.Sub(e.fetchedAt) < c.ttl {
		return e.info, nil
	}

	info, err := c.gw.SymbolInfo(ctx, symbol)
	if err != nil {
		return gateway.SymbolInfo{}, err
	}
	if !info.Visible {
		if !c.gw.SelectSymbol(ctx, symbol) {
			return gateway.SymbolInfo{}, fmt.Errorf("symbol %s not visible and select failed", symbol)
		}
		info, err = c.gw.SymbolInfo(ctx, symbol)
		if err != nil {
			return gateway.SymbolInfo{}, fmt.Errorf("refetch after select: %w", err)
		}
	}

	c.mu.Lock()
	c.entries[symbol] = entry{info: *info, fetchedAt: now}
	c.mu.Unlock()
	return *info, nil
}

// Invalidate drops a symbol so the next Info call refetches.
func (c *Cache) Invalidate(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, symbol)
}
