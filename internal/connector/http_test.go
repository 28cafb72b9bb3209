package connector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPFetchMapsQuotes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quotes" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("sku") != "SKU1" || r.URL.Query().Get("market") != "us" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"quotes":[
			{"our_price":100,"competitor_price":98,"observed_at":"2026-08-29T10:00:00Z"},
			{"our_price":100,"competitor_price":97.5},
			{"our_price":100,"competitor_price":99}
		]}`))
	}))
	defer srv.Close()

	conn := NewHTTP("alpha", srv.URL, 2*time.Second)
	quotes, err := conn.Fetch(context.Background(), "SKU1", "us", 2)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("depth not honored: got %d quotes", len(quotes))
	}
	if quotes[0].CompetitorPrice != 98 {
		t.Fatalf("unexpected first quote: %+v", quotes[0])
	}
	if quotes[0].ObservedAt.Format(time.RFC3339) != "2026-08-29T10:00:00Z" {
		t.Fatalf("observed_at not parsed: %v", quotes[0].ObservedAt)
	}
	if quotes[1].ObservedAt.IsZero() {
		t.Fatalf("missing observed_at should default to now")
	}
}

func TestHTTPFetchErrorStatusIsSourceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	conn := NewHTTP("alpha", srv.URL, 2*time.Second)
	_, err := conn.Fetch(context.Background(), "SKU1", "us", 1)
	if err == nil {
		t.Fatalf("expected error for 502")
	}
	var serr *SourceError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SourceError, got %T", err)
	}
	if serr.Source != "alpha" {
		t.Fatalf("error not attributed to source: %+v", serr)
	}
}

func TestStaticConnectorDepth(t *testing.T) {
	conn := NewStatic("fixture", []Quote{
		{OurPrice: 100, CompetitorPrice: 98, ObservedAt: time.Now()},
		{OurPrice: 100, CompetitorPrice: 97, ObservedAt: time.Now()},
	})
	quotes, err := conn.Fetch(context.Background(), "SKU1", "us", 5)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("expected all fixture quotes, got %d", len(quotes))
	}
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry(NewStatic("alpha", nil))
	if _, ok := reg.Lookup("alpha"); !ok {
		t.Fatalf("registered connector not found")
	}
	if _, ok := reg.Lookup("ghost"); ok {
		t.Fatalf("unknown connector resolved")
	}
}
