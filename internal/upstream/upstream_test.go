package upstream

import (
	"errors"
	"math"
	"net/url"
	"reflect"
	"testing"
	"time"

	"github.com/guttosm/equitypanel/internal/domain/errs"
)

const screenerPage = `<html><body>
<div id="scr-res-table"><table>
<thead><tr><th>Symbol</th><th>Name</th><th>Price (Intraday)</th></tr></thead>
<tbody>
<tr><td><a href="/quote/MSFT">MSFT</a></td><td>Microsoft Corporation</td><td>415.10</td></tr>
<tr><td><a href="/quote/AAPL">AAPL</a></td><td>Apple Inc.</td><td>189.84</td></tr>
<tr><td> </td><td>blank row</td><td></td></tr>
</tbody></table>
<table><thead><tr><th>Symbol</th></tr></thead><tbody><tr><td>IGNORED</td></tr></tbody></table>
</div></body></html>`

func TestParseScreenerPage(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    []string
		wantErr bool
	}{
		{"first table symbols", screenerPage, []string{"MSFT", "AAPL"}, false},
		{"header without thead", `<table><tr><th>Name</th><th>Symbol</th></tr><tr><td>Visa</td><td>V</td></tr></table>`, []string{"V"}, false},
		{"empty table", `<table><thead><tr><th>Symbol</th></tr></thead><tbody></tbody></table>`, []string{}, false},
		{"no table", `<html><body>Please enable cookies</body></html>`, nil, true},
		{"no symbol column", `<table><tr><th>Ticker</th></tr><tr><td>V</td></tr></table>`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScreenerPage([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, errs.ErrTransientFetch) {
					t.Fatalf("expected ErrTransientFetch, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPageURL(t *testing.T) {
	got, err := PageURL("https://finance.example.com/screener/abc?lang=en", 500, 250)
	if err != nil {
		t.Fatalf("PageURL err: %v", err)
	}
	u, _ := url.Parse(got)
	q := u.Query()
	if q.Get("offset") != "500" || q.Get("count") != "250" || q.Get("lang") != "en" {
		t.Fatalf("unexpected query: %s", u.RawQuery)
	}
	if _, err := PageURL("://bad", 0, 1); !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestScreenerHeaders(t *testing.T) {
	h := ScreenerHeaders("https://finance.example.com/screener/abc")
	if h["Origin"] != "https://finance.example.com" {
		t.Fatalf("origin=%q", h["Origin"])
	}
	if h["Referer"] != "https://finance.example.com/screener/abc" {
		t.Fatalf("referer=%q", h["Referer"])
	}
}

func TestHistoryURL(t *testing.T) {
	got, err := HistoryURL("https://chart.example.com/v8/finance/chart", "BRK-B")
	if err != nil {
		t.Fatalf("HistoryURL err: %v", err)
	}
	u, _ := url.Parse(got)
	if u.Path != "/v8/finance/chart/BRK-B" {
		t.Fatalf("path=%q", u.Path)
	}
	if u.Query().Get("range") != "max" || u.Query().Get("interval") != "1d" {
		t.Fatalf("query=%q", u.RawQuery)
	}
}

const chartBody = `{"chart":{"result":[{
  "meta":{"symbol":"AAPL","gmtoffset":-14400},
  "timestamp":[1704292200,1704205800],
  "indicators":{"quote":[{
    "open":[184.22,187.15],
    "high":[185.88,188.44],
    "low":[183.43,183.89],
    "close":[184.25,null],
    "volume":[58414500,82488700]
  }]}
}],"error":null}}`

func TestParseChart(t *testing.T) {
	rows, err := ParseChart([]byte(chartBody))
	if err != nil {
		t.Fatalf("ParseChart err: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows", len(rows))
	}
	// sorted ascending and truncated to the exchange-local date
	if want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC); !rows[0].Date.Equal(want) {
		t.Fatalf("first date %v, want %v", rows[0].Date, want)
	}
	if want := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC); !rows[1].Date.Equal(want) {
		t.Fatalf("second date %v, want %v", rows[1].Date, want)
	}
	if rows[0].Close.Valid {
		t.Fatalf("expected null close on first row, got %v", rows[0].Close.Float64)
	}
	if !rows[1].Close.Valid || math.Abs(rows[1].Close.Float64-184.25) > 1e-9 {
		t.Fatalf("unexpected close %+v", rows[1].Close)
	}
	if rows[1].Volume.Float64 != 58414500 {
		t.Fatalf("unexpected volume %v", rows[1].Volume.Float64)
	}
}

func TestParseChart_Failures(t *testing.T) {
	bodies := map[string]string{
		"not json":     `<html>rate limited</html>`,
		"upstream err": `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`,
		"no rows":      `{"chart":{"result":[{"meta":{},"timestamp":[],"indicators":{"quote":[{}]}}],"error":null}}`,
		"no quote":     `{"chart":{"result":[{"meta":{},"timestamp":[1704205800],"indicators":{"quote":[]}}],"error":null}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseChart([]byte(body)); !errors.Is(err, errs.ErrTransientFetch) {
				t.Fatalf("expected ErrTransientFetch, got %v", err)
			}
		})
	}
}
