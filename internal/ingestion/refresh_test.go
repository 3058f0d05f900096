package ingestion

import (
	"context"
	"errors"
	"net/url"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/guregu/null/v6"

	"github.com/guttosm/equitypanel/internal/domain/errs"
	"github.com/guttosm/equitypanel/internal/domain/models"
	"github.com/guttosm/equitypanel/internal/storage"
	"github.com/guttosm/equitypanel/internal/transport"
)

type fakeMeta map[string]time.Time

func (m fakeMeta) LastModified(symbol string) (time.Time, bool, error) {
	if symbol == "ERR" {
		return time.Time{}, false, errors.New("permission denied")
	}
	t, found := m[symbol]
	return t, found, nil
}

func TestAgeDays(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		modified time.Time
		want     int
	}{
		{now, 0},
		{now.Add(-23 * time.Hour), 0},
		{now.Add(-24 * time.Hour), 1},
		{now.Add(-7*24*time.Hour - time.Minute), 7},
		{now.Add(-8 * 24 * time.Hour), 8},
		{now.Add(time.Hour), 0},
	}
	for _, tt := range tests {
		if got := AgeDays(tt.modified, now); got != tt.want {
			t.Fatalf("AgeDays(%v)=%d, want %d", now.Sub(tt.modified), got, tt.want)
		}
	}
}

func TestSelectStale(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	meta := fakeMeta{
		"FRESH":    now.Add(-24 * time.Hour),
		"BOUNDARY": now.Add(-7*24*time.Hour - time.Hour),
		"OLD":      now.Add(-8 * 24 * time.Hour),
	}
	u := models.NewUniverse(now, []string{"OLD", "MISSING", "FRESH", "BOUNDARY"})

	got, unreadable := SelectStale(u, meta, 7, now)
	if len(unreadable) != 0 {
		t.Fatalf("unexpected unreadable symbols: %+v", unreadable)
	}
	// exactly max age is fresh; strictly older or missing is stale
	if want := []string{"MISSING", "OLD"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("stale=%v, want %v", got, want)
	}

	got, _ = SelectStale(u, meta, 0, now)
	if want := []string{"BOUNDARY", "FRESH", "MISSING", "OLD"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("with max age 0: stale=%v, want %v", got, want)
	}

	got, unreadable = SelectStale(models.NewUniverse(now, []string{"ERR", "MISSING"}), meta, 7, now)
	if want := []string{"MISSING"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("stale=%v, want %v", got, want)
	}
	if len(unreadable) != 1 || unreadable[0].Symbol != "ERR" {
		t.Fatalf("expected ERR reported unreadable, got %+v", unreadable)
	}
}

type fixedUniverse struct {
	u   models.Universe
	err error
}

func (f fixedUniverse) LatestUniverse() (models.Universe, error) { return f.u, f.err }

func TestRefresh_FetchesOnlyStaleSymbols(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()

	prior := []models.RawObservation{{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Close: null.FloatFrom(50), Volume: null.FloatFrom(1)}}
	if err := store.WriteSeries("A", prior); err != nil {
		t.Fatal(err)
	}
	pathA, _ := store.SeriesPath("A")
	dayAgo := now.Add(-24 * time.Hour)
	if err := os.Chtimes(pathA, dayAgo, dayAgo); err != nil {
		t.Fatal(err)
	}

	g := &scriptedGetter{handle: func(u *url.URL) (*transport.Response, error) { return ok(chartBody(jan2, 10, 11)) }}
	u := models.NewUniverse(now, []string{"A", "B"})
	r := NewRefresher(fixedUniverse{u: u}, store, NewSeriesFetcher(testPool, g, store))

	rep, err := r.Refresh(context.Background(), RefreshOptions{MaxAgeDays: 7, Series: seriesOpts(3, 1)})
	if err != nil {
		t.Fatalf("Refresh err: %v", err)
	}
	if rep.Requested != 1 || rep.Succeeded != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if g.count(func(u *url.URL) bool { return symbolOf(u) == "A" }) != 0 {
		t.Fatalf("fresh symbol A must not be fetched")
	}
	if rows, err := store.ReadSeries("B"); err != nil || len(rows) != 2 {
		t.Fatalf("expected B artifact, rows=%v err=%v", rows, err)
	}
	if rows, _ := store.ReadSeries("A"); !reflect.DeepEqual(rows, prior) {
		t.Fatalf("A artifact should be untouched, got %+v", rows)
	}
}

func TestRefresh_NoUniverse(t *testing.T) {
	g := &scriptedGetter{handle: func(*url.URL) (*transport.Response, error) { return status(500) }}
	r := NewRefresher(fixedUniverse{err: errs.Configf("no universe snapshot")}, fakeMeta{}, NewSeriesFetcher(testPool, g, &memSeries{}))
	if _, err := r.Refresh(context.Background(), RefreshOptions{MaxAgeDays: 7}); !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestRefresh_InvalidSymbolDoesNotStopRun(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	g := &scriptedGetter{handle: func(u *url.URL) (*transport.Response, error) { return ok(chartBody(jan2, 10, 11)) }}
	r := NewRefresher(nil, store, NewSeriesFetcher(testPool, g, store))

	// a snapshot written before symbols were validated at discovery
	u := models.Universe{Date: time.Now(), Symbols: []string{"AAPL", "BRK/B", "MSFT"}}
	rep, err := r.RefreshUniverse(context.Background(), u, RefreshOptions{MaxAgeDays: 7, Series: seriesOpts(3, 1)})
	if err != nil {
		t.Fatalf("RefreshUniverse err: %v", err)
	}
	if rep.Requested != 3 || rep.Succeeded != 2 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if want := []string{"BRK/B"}; !reflect.DeepEqual(rep.FailedSymbols(), want) {
		t.Fatalf("failed=%v, want %v", rep.FailedSymbols(), want)
	}
	for _, s := range []string{"AAPL", "MSFT"} {
		if rows, err := store.ReadSeries(s); err != nil || len(rows) != 2 {
			t.Fatalf("expected %s artifact, rows=%v err=%v", s, rows, err)
		}
	}
}
