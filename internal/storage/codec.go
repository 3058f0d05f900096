package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v6"

	"github.com/guttosm/equitypanel/internal/domain/errs"
	"github.com/guttosm/equitypanel/internal/domain/models"
)

const dateLayout = "2006-01-02"

// seriesHeader is the column order written for raw per-symbol artifacts.
var seriesHeader = []string{"Date", "Open", "High", "Low", "Close", "Volume"}

// panelHeader is the column order of the consolidated panel snapshot.
var panelHeader = []string{"Symbol", "Period", "Date", "Price", "Volume", "Monthly Log Return"}

func encodeSeries(w io.Writer, rows []models.RawObservation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(seriesHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.Date.Format(dateLayout),
			formatNull(r.Open),
			formatNull(r.High),
			formatNull(r.Low),
			formatNull(r.Close),
			formatNull(r.Volume),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// decodeSeries reads a raw series artifact.
//
// Columns are located by header name, so exports carrying extra columns
// (Dividends, Stock Splits) still load. Date, Close and Volume are required.
// Empty cells become null; a date with a time-of-day or zone suffix is
// truncated to its calendar date. Malformed cells fail with errs.ErrDataIntegrity.
func decodeSeries(r io.Reader) ([]models.RawObservation, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, errs.Integrityf("read header: %v", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, req := range []string{"Date", "Close", "Volume"} {
		if _, ok := idx[req]; !ok {
			return nil, errs.Integrityf("missing column %q", req)
		}
	}

	col := func(rec []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []models.RawObservation
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Integrityf("read line after %d: %v", line, err)
		}
		line++

		d, err := parseDay(col(rec, "Date"))
		if err != nil {
			return nil, errs.Integrityf("line %d: %v", line, err)
		}
		obs := models.RawObservation{Date: d}
		for _, f := range []struct {
			name string
			dst  *null.Float
		}{
			{"Open", &obs.Open},
			{"High", &obs.High},
			{"Low", &obs.Low},
			{"Close", &obs.Close},
			{"Volume", &obs.Volume},
		} {
			v, err := parseNull(col(rec, f.name))
			if err != nil {
				return nil, errs.Integrityf("line %d: invalid %s: %v", line, f.name, err)
			}
			*f.dst = v
		}
		out = append(out, obs)
	}
	return out, nil
}

func encodePanel(w io.Writer, records []models.CleanRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(panelHeader); err != nil {
		return err
	}
	for _, r := range records {
		rec := []string{
			r.Symbol,
			r.Period,
			r.Date.Format(dateLayout),
			strconv.FormatFloat(r.Price, 'f', -1, 64),
			strconv.FormatFloat(r.Volume, 'f', -1, 64),
			formatNull(r.MonthlyLogReturn),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// decodePanel is strict: the header must match panelHeader exactly.
func decodePanel(r io.Reader) ([]models.CleanRecord, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		return nil, errs.Integrityf("read header: %v", err)
	}
	if len(header) != len(panelHeader) {
		return nil, errs.Integrityf("invalid header length: expected %d, got %d", len(panelHeader), len(header))
	}
	for i, h := range header {
		if strings.TrimSpace(h) != panelHeader[i] {
			return nil, errs.Integrityf("invalid header at col %d: expected %q, got %q", i+1, panelHeader[i], h)
		}
	}

	var out []models.CleanRecord
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Integrityf("read line after %d: %v", line, err)
		}
		line++

		c, err := recordToClean(rec)
		if err != nil {
			return nil, errs.Integrityf("line %d: %v", line, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func recordToClean(rec []string) (models.CleanRecord, error) {
	var c models.CleanRecord
	c.Symbol = strings.TrimSpace(rec[0])
	c.Period = strings.TrimSpace(rec[1])

	d, err := parseDay(rec[2])
	if err != nil {
		return c, err
	}
	c.Date = d

	if c.Price, err = strconv.ParseFloat(strings.TrimSpace(rec[3]), 64); err != nil {
		return c, fmt.Errorf("invalid Price: %v", err)
	}
	if c.Volume, err = strconv.ParseFloat(strings.TrimSpace(rec[4]), 64); err != nil {
		return c, fmt.Errorf("invalid Volume: %v", err)
	}
	if c.MonthlyLogReturn, err = parseNull(rec[5]); err != nil {
		return c, fmt.Errorf("invalid Monthly Log Return: %v", err)
	}
	return c, nil
}

// parseDay accepts "2006-01-02" optionally followed by a time part
// ("2006-01-02 00:00:00-05:00", "2006-01-02T15:04:05Z").
func parseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " T"); i >= 0 {
		s = s[:i]
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid Date: %v", err)
	}
	return d, nil
}

func parseNull(s string) (null.Float, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return null.Float{}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return null.Float{}, err
	}
	return null.FloatFrom(v), nil
}

func formatNull(v null.Float) string {
	if !v.Valid || math.IsNaN(v.Float64) {
		return ""
	}
	return strconv.FormatFloat(v.Float64, 'f', -1, 64)
}
