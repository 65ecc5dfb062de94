package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestBridge(t *testing.T, handler http.Handler) *Bridge {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	b, err := NewBridge(BridgeConfig{BaseURL: srv.URL, RateLimitPerSecond: 1000, Burst: 100})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestBridgeQuote(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tick", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "EURUSD" {
			http.Error(w, "wrong symbol", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"symbol": "EURUSD", "bid": 1.0999, "ask": 1.1001, "last": 1.1000,
			"time_ms": int64(1776000000000),
		})
	})
	b := newTestBridge(t, mux)

	q, err := b.Quote(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.Bid != 1.0999 || q.Ask != 1.1001 || q.Last != 1.1000 {
		t.Fatalf("quote = %+v", q)
	}
	if q.Time.UnixMilli() != 1776000000000 {
		t.Fatalf("time = %v", q.Time)
	}
}

func TestBridgeQuoteRejectsBadTick(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tick", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"symbol": "EURUSD", "bid": 1.2, "ask": 1.1,
		})
	})
	b := newTestBridge(t, mux)

	if _, err := b.Quote(context.Background(), "EURUSD"); err == nil {
		t.Fatal("inverted spread must be rejected")
	}
}

func TestBridgePlacePending(t *testing.T) {
	var gotBody map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/pending", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "retcode": 10009, "order": int64(5551)})
	})
	b := newTestBridge(t, mux)

	res := b.PlacePending(context.Background(), SellStop, "EURUSD", 1.0998, 0.1, 1.1008, 1.0978, TagTriggerSell)
	if !res.OK || res.OrderID != 5551 || res.Code != 10009 {
		t.Fatalf("result = %+v", res)
	}
	if gotBody["type"] != float64(1) || gotBody["symbol"] != "EURUSD" || gotBody["comment"] != TagTriggerSell {
		t.Fatalf("posted body = %v", gotBody)
	}
}

func TestBridgeVenueErrorSetsLastError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/modify_stops", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ok": false, "retcode": 10016, "error": "invalid stops",
		})
	})
	b := newTestBridge(t, mux)

	res := b.ModifyStops(context.Background(), 1001, 1.1, 0)
	if res.OK {
		t.Fatal("venue rejection must not report OK")
	}
	if b.LastError() != "invalid stops" {
		t.Fatalf("last error = %q", b.LastError())
	}
}

func TestBridgeConnected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/connected", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]bool{"connected": true})
	})
	b := newTestBridge(t, mux)

	if !b.Connected(context.Background()) {
		t.Fatal("expected connected")
	}

	bad := newTestBridge(t, http.NotFoundHandler())
	if bad.Connected(context.Background()) {
		t.Fatal("a failing endpoint must read as disconnected")
	}
}
