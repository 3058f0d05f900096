// Package upstream decodes the two upstream payloads the pipeline consumes:
// screener result pages (HTML) and per-symbol chart history (JSON).
package upstream

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/guttosm/equitypanel/internal/domain/errs"
)

// DefaultScreenerURL lists NYSE/NASDAQ stocks with >1M average volume and a share price above $10.
const DefaultScreenerURL = "https://finance.yahoo.com/screener/e571efd8-2e40-41be-8401-0aef2dcd52b3"

// PageURL returns the screener URL for one page of results.
func PageURL(base string, offset, count int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", errs.Configf("screener url %q: %v", base, err)
	}
	q := u.Query()
	q.Set("offset", strconv.Itoa(offset))
	q.Set("count", strconv.Itoa(count))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ScreenerHeaders returns the browser-like headers the screener expects.
// Origin is derived from base; the referer is the screener page itself.
func ScreenerHeaders(base string) map[string]string {
	h := map[string]string{
		"Accept":             "*/*",
		"Accept-Language":    "en-US,en;q=0.9",
		"Referer":            base,
		"Sec-Ch-Ua-Mobile":   "?0",
		"Sec-Ch-Ua-Platform": "Windows",
		"Sec-Fetch-Dest":     "empty",
		"Sec-Fetch-Mode":     "cors",
		"Sec-Fetch-Site":     "same-site",
	}
	if u, err := url.Parse(base); err == nil && u.Host != "" {
		h["Origin"] = u.Scheme + "://" + u.Host
	}
	return h
}

// ParseScreenerPage extracts the Symbol column of the first table in body.
//
// Behavior:
//   - A page with a table but no data rows returns an empty slice and no error;
//     callers treat it as a soft end-of-data signal.
//   - A page without a table or without a Symbol column is an errs.ErrTransientFetch
//     (the upstream occasionally serves consent or error pages).
func ParseScreenerPage(body []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, errs.Transientf("parse screener page: %v", err)
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, errs.Transientf("screener page has no table")
	}

	col := -1
	table.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.Find("th").Length() > 0
	}).First().Find("th").EachWithBreak(func(i int, th *goquery.Selection) bool {
		if strings.EqualFold(strings.TrimSpace(th.Text()), "Symbol") {
			col = i
			return false
		}
		return true
	})
	if col < 0 {
		return nil, errs.Transientf("screener table has no Symbol column")
	}

	symbols := make([]string, 0, 256)
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() <= col {
			return
		}
		if s := strings.TrimSpace(cells.Eq(col).Text()); s != "" {
			symbols = append(symbols, s)
		}
	})
	return symbols, nil
}

// describe shortens a body for error messages.
func describe(body []byte) string {
	const limit = 120
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return fmt.Sprintf("%s...(%d bytes)", s[:limit], len(body))
	}
	return s
}
