package ingestion

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/guttosm/equitypanel/internal/domain/errs"
	"github.com/guttosm/equitypanel/internal/domain/models"
	"github.com/guttosm/equitypanel/internal/transport"
)

type staticPool struct {
	proxy models.Proxy
	empty bool
}

func (p staticPool) Random() (models.Proxy, error) {
	if p.empty {
		return models.Proxy{}, errs.ErrPoolExhausted
	}
	return p.proxy, nil
}

var testPool = staticPool{proxy: models.Proxy{Host: "10.0.0.1", Port: "8080"}}

// scriptedGetter answers requests with handle and records every URL it saw.
type scriptedGetter struct {
	mu     sync.Mutex
	calls  []string
	handle func(u *url.URL) (*transport.Response, error)
}

func (g *scriptedGetter) Get(_ context.Context, _ models.Proxy, rawURL string, _ map[string]string) (*transport.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.calls = append(g.calls, rawURL)
	g.mu.Unlock()
	return g.handle(u)
}

func (g *scriptedGetter) count(match func(u *url.URL) bool) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		u, _ := url.Parse(c)
		if match(u) {
			n++
		}
	}
	return n
}

func ok(body string) (*transport.Response, error) {
	return &transport.Response{StatusCode: 200, Body: []byte(body)}, nil
}

func status(code int) (*transport.Response, error) {
	return &transport.Response{StatusCode: code}, nil
}

func screenerTable(symbols ...string) string {
	var b strings.Builder
	b.WriteString("<table><thead><tr><th>Symbol</th><th>Name</th></tr></thead><tbody>")
	for _, s := range symbols {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s Corp</td></tr>", s, s)
	}
	b.WriteString("</tbody></table>")
	return b.String()
}

// chartBody renders a chart payload with one row per close, one day apart.
func chartBody(start int64, closes ...float64) string {
	ts := make([]string, len(closes))
	cs := make([]string, len(closes))
	vs := make([]string, len(closes))
	for i, c := range closes {
		ts[i] = fmt.Sprint(start + int64(i)*86400)
		cs[i] = fmt.Sprint(c)
		vs[i] = "1000"
	}
	return fmt.Sprintf(`{"chart":{"result":[{"meta":{"gmtoffset":0},"timestamp":[%s],"indicators":{"quote":[{"close":[%s],"volume":[%s]}]}}],"error":null}}`,
		strings.Join(ts, ","), strings.Join(cs, ","), strings.Join(vs, ","))
}

func symbolOf(u *url.URL) string { return path.Base(u.Path) }

// memSeries is an in-memory SeriesWriter.
type memSeries struct {
	mu   sync.Mutex
	rows map[string][]models.RawObservation
	err  error
}

func (m *memSeries) WriteSeries(symbol string, rows []models.RawObservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.rows == nil {
		m.rows = map[string][]models.RawObservation{}
	}
	m.rows[symbol] = rows
	return nil
}

type memUniverse struct {
	saved []models.Universe
}

func (m *memUniverse) WriteUniverse(u models.Universe) (string, error) {
	m.saved = append(m.saved, u)
	return "mem://" + u.Date.Format("2006-01-02"), nil
}
