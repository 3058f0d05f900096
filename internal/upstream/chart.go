package upstream

import (
	"encoding/json"
	"net/url"
	"sort"
	"time"

	"github.com/guregu/null/v6"

	"github.com/guttosm/equitypanel/internal/domain/errs"
	"github.com/guttosm/equitypanel/internal/domain/models"
)

// DefaultHistoryURL is the chart endpoint; the symbol is appended as a path segment.
const DefaultHistoryURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// HistoryURL returns the full daily history URL for symbol.
func HistoryURL(base, symbol string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", errs.Configf("history url %q: %v", base, err)
	}
	u = u.JoinPath(symbol)
	q := u.Query()
	q.Set("range", "max")
	q.Set("interval", "1d")
	q.Set("events", "div,split")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol    string `json:"symbol"`
				GMTOffset int64  `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []null.Float `json:"open"`
					High   []null.Float `json:"high"`
					Low    []null.Float `json:"low"`
					Close  []null.Float `json:"close"`
					Volume []null.Float `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// ParseChart decodes a chart payload into daily observations sorted by date.
//
// Timestamps are shifted by the exchange GMT offset and truncated to the
// calendar date. Null cells stay null. An upstream error object, a payload
// with no rows, or undecodable JSON is an errs.ErrTransientFetch.
func ParseChart(body []byte) ([]models.RawObservation, error) {
	var chart chartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, errs.Transientf("decode chart: %v (%s)", err, describe(body))
	}
	if e := chart.Chart.Error; e != nil {
		return nil, errs.Transientf("chart error %s: %s", e.Code, e.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 {
		return nil, errs.Transientf("chart has no rows")
	}

	res := chart.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return nil, errs.Transientf("chart has no quote block")
	}
	q := res.Indicators.Quote[0]

	out := make([]models.RawObservation, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		local := time.Unix(ts+res.Meta.GMTOffset, 0).UTC()
		out = append(out, models.RawObservation{
			Date:   time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC),
			Open:   at(q.Open, i),
			High:   at(q.High, i),
			Low:    at(q.Low, i),
			Close:  at(q.Close, i),
			Volume: at(q.Volume, i),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// at tolerates quote columns shorter than the timestamp axis.
func at(col []null.Float, i int) null.Float {
	if i < len(col) {
		return col[i]
	}
	return null.Float{}
}
