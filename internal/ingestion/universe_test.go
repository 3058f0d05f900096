package ingestion

import (
	"context"
	"errors"
	"net/url"
	"reflect"
	"testing"
	"time"

	"github.com/guttosm/equitypanel/internal/domain/errs"
	"github.com/guttosm/equitypanel/internal/transport"
)

const screenerBase = "https://screener.test/screener/liquid"

func universeOpts(ceiling int) UniverseOptions {
	return UniverseOptions{BaseURL: screenerBase, PageSize: 2, FailureCeiling: ceiling}
}

func offsetOf(u *url.URL) string { return u.Query().Get("offset") }

func TestFetchSymbolUniverse_PagesUntilEmpty(t *testing.T) {
	g := &scriptedGetter{handle: func(u *url.URL) (*transport.Response, error) {
		switch offsetOf(u) {
		case "0":
			return ok(screenerTable("MSFT", "AAPL"))
		case "2":
			return ok(screenerTable("AAPL", "IBM"))
		default:
			return ok(screenerTable())
		}
	}}
	sink := &memUniverse{}
	f := NewUniverseFetcher(testPool, g, sink)
	f.now = func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }

	u, err := f.FetchSymbolUniverse(context.Background(), universeOpts(3))
	if err != nil {
		t.Fatalf("FetchSymbolUniverse err: %v", err)
	}
	if want := []string{"AAPL", "IBM", "MSFT"}; !reflect.DeepEqual(u.Symbols, want) {
		t.Fatalf("symbols=%v, want %v", u.Symbols, want)
	}
	if n := g.count(func(u *url.URL) bool { return offsetOf(u) == "4" }); n != 3 {
		t.Fatalf("expected empty page retried up to the ceiling, got %d requests", n)
	}
	if len(sink.saved) != 1 || !reflect.DeepEqual(sink.saved[0].Symbols, u.Symbols) {
		t.Fatalf("expected universe persisted once, got %+v", sink.saved)
	}
}

func TestFetchSymbolUniverse_EmptyFirstPageFailsFast(t *testing.T) {
	for name, handle := range map[string]func(*url.URL) (*transport.Response, error){
		"empty table":  func(*url.URL) (*transport.Response, error) { return ok(screenerTable()) },
		"server error": func(*url.URL) (*transport.Response, error) { return status(503) },
		"dead proxy":   func(*url.URL) (*transport.Response, error) { return nil, errors.New("connection refused") },
		"consent page": func(*url.URL) (*transport.Response, error) { return ok("<html>accept cookies</html>") },
	} {
		t.Run(name, func(t *testing.T) {
			g := &scriptedGetter{handle: handle}
			sink := &memUniverse{}
			u, err := NewUniverseFetcher(testPool, g, sink).FetchSymbolUniverse(context.Background(), universeOpts(4))
			if err != nil {
				t.Fatalf("expected no error for an empty universe, got %v", err)
			}
			if !u.Empty() {
				t.Fatalf("expected empty universe, got %v", u.Symbols)
			}
			if len(g.calls) != 4 || g.count(func(u *url.URL) bool { return offsetOf(u) != "0" }) != 0 {
				t.Fatalf("expected 4 requests at offset 0, got %v", g.calls)
			}
			if len(sink.saved) != 0 {
				t.Fatalf("empty universe must not be persisted")
			}
		})
	}
}

func TestFetchSymbolUniverse_SuccessResetsFailures(t *testing.T) {
	tries := map[string]int{}
	g := &scriptedGetter{handle: func(u *url.URL) (*transport.Response, error) {
		off := offsetOf(u)
		tries[off]++
		switch {
		case off == "0" && tries[off] < 3:
			return status(429)
		case off == "0":
			return ok(screenerTable("A", "B"))
		case off == "2" && tries[off] < 3:
			return status(429)
		case off == "2":
			return ok(screenerTable("C"))
		default:
			return status(404)
		}
	}}
	u, err := NewUniverseFetcher(testPool, g, &memUniverse{}).FetchSymbolUniverse(context.Background(), universeOpts(3))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if want := []string{"A", "B", "C"}; !reflect.DeepEqual(u.Symbols, want) {
		t.Fatalf("symbols=%v, want %v", u.Symbols, want)
	}
	if tries["4"] != 3 {
		t.Fatalf("expected 3 tries at the final offset, got %d", tries["4"])
	}
}

func TestFetchSymbolUniverse_PoolExhausted(t *testing.T) {
	g := &scriptedGetter{handle: func(*url.URL) (*transport.Response, error) { return ok(screenerTable("A")) }}
	_, err := NewUniverseFetcher(staticPool{empty: true}, g, &memUniverse{}).FetchSymbolUniverse(context.Background(), universeOpts(3))
	if !errors.Is(err, errs.ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
	if len(g.calls) != 0 {
		t.Fatalf("no request should be sent without a proxy")
	}
}

func TestFetchSymbolUniverse_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := &scriptedGetter{handle: func(*url.URL) (*transport.Response, error) {
		cancel()
		return ok(screenerTable("A"))
	}}
	opts := universeOpts(3)
	opts.Delay = time.Hour
	_, err := NewUniverseFetcher(testPool, g, &memUniverse{}).FetchSymbolUniverse(ctx, opts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFetchSymbolUniverse_InvalidPageSize(t *testing.T) {
	g := &scriptedGetter{handle: func(*url.URL) (*transport.Response, error) { return ok("") }}
	opts := universeOpts(3)
	opts.PageSize = 0
	if _, err := NewUniverseFetcher(testPool, g, &memUniverse{}).FetchSymbolUniverse(context.Background(), opts); !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestFetchSymbolUniverse_RejectsInvalidSymbols(t *testing.T) {
	g := &scriptedGetter{handle: func(u *url.URL) (*transport.Response, error) {
		if offsetOf(u) == "0" {
			return ok(screenerTable("MSFT", "BRK/B", "AAPL", ".."))
		}
		return ok(screenerTable())
	}}
	sink := &memUniverse{}
	f := NewUniverseFetcher(testPool, g, sink)

	u, err := f.FetchSymbolUniverse(context.Background(), universeOpts(1))
	if err != nil {
		t.Fatalf("FetchSymbolUniverse err: %v", err)
	}
	if want := []string{"AAPL", "MSFT"}; !reflect.DeepEqual(u.Symbols, want) {
		t.Fatalf("symbols=%v, want %v", u.Symbols, want)
	}
	if len(sink.saved) != 1 || !reflect.DeepEqual(sink.saved[0].Symbols, u.Symbols) {
		t.Fatalf("expected only valid symbols persisted, got %+v", sink.saved)
	}
}
