// Package panel turns raw daily series into the monthly (symbol, month) panel.
package panel

import (
	"math"
	"sort"
	"time"

	"github.com/guregu/null/v6"

	"github.com/guttosm/equitypanel/internal/domain/models"
)

// PeriodLayout formats a calendar month.
const PeriodLayout = "2006-01"

type month struct {
	start  time.Time // first day, UTC
	price  float64
	volume float64
}

// monthIndex counts months since year 0 so consecutive months differ by one.
func monthIndex(t time.Time) int { return t.Year()*12 + int(t.Month()) - 1 }

func monthFromIndex(i int) time.Time {
	return time.Date(i/12, time.Month(i%12+1), 1, 0, 0, 0, 0, time.UTC)
}

// monthEnd returns the last calendar day of the month starting at start.
func monthEnd(start time.Time) time.Time { return start.AddDate(0, 1, -1) }

// resample keeps, per calendar month, the last non-null close and the last
// non-null volume in date order. Months without any close are omitted; a
// month whose volumes are all null gets volume 0.
func resample(rows []models.RawObservation) []month {
	sorted := append([]models.RawObservation(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	var out []month
	cur := -1
	var m month
	var hasClose bool
	flush := func() {
		if cur >= 0 && hasClose {
			out = append(out, m)
		}
	}
	for _, r := range sorted {
		d := time.Date(r.Date.Year(), r.Date.Month(), r.Date.Day(), 0, 0, 0, 0, time.UTC)
		idx := monthIndex(d)
		if idx != cur {
			flush()
			cur = idx
			m = month{start: monthFromIndex(idx)}
			hasClose = false
		}
		if valid(r.Close) {
			m.price = r.Close.Float64
			hasClose = true
		}
		if valid(r.Volume) {
			m.volume = r.Volume.Float64
		}
	}
	flush()
	return out
}

func valid(f null.Float) bool { return f.Valid && !math.IsNaN(f.Float64) }

// fillGaps inserts the calendar months missing between the first and last
// month, interpolating price and volume linearly over the month index.
func fillGaps(months []month) ([]month, error) {
	if len(months) < 2 {
		return months, nil
	}
	first, last := monthIndex(months[0].start), monthIndex(months[len(months)-1].start)
	n := last - first + 1
	if n == len(months) {
		return months, nil
	}

	x := make([]float64, n)
	price := make([]float64, n)
	volume := make([]float64, n)
	for i := range x {
		x[i] = float64(first + i)
		price[i], volume[i] = math.NaN(), math.NaN()
	}
	for _, m := range months {
		i := monthIndex(m.start) - first
		price[i], volume[i] = m.price, m.volume
	}

	var err error
	if price, err = Interpolate(x, price); err != nil {
		return nil, err
	}
	if volume, err = Interpolate(x, volume); err != nil {
		return nil, err
	}

	out := make([]month, n)
	for i := range out {
		out[i] = month{start: monthFromIndex(first + i), price: price[i], volume: volume[i]}
	}
	return out, nil
}

// Options tunes BuildSymbol.
type Options struct {
	// FillGaps interpolates calendar months with no observation.
	FillGaps bool
}

// BuildSymbol derives the monthly records of one symbol from its raw rows.
//
// Behavior:
//   - Dates are truncated to calendar dates and resampled to one row per month.
//     Months without any valid close produce no row unless opts.FillGaps is
//     set; a plain calendar resample would emit them with a missing price.
//   - The final month of the series is dropped as possibly incomplete.
//   - MonthlyLogReturn is ln(price_t / price_{t-1}) when month t-1 is the
//     previous calendar month and both prices are positive; otherwise null.
func BuildSymbol(symbol string, rows []models.RawObservation, opts Options) ([]models.CleanRecord, error) {
	months := resample(rows)
	if len(months) == 0 {
		return nil, nil
	}
	months = months[:len(months)-1]

	if opts.FillGaps {
		var err error
		if months, err = fillGaps(months); err != nil {
			return nil, err
		}
	}

	out := make([]models.CleanRecord, 0, len(months))
	for i, m := range months {
		rec := models.CleanRecord{
			Symbol: symbol,
			Period: m.start.Format(PeriodLayout),
			Date:   monthEnd(m.start),
			Price:  m.price,
			Volume: m.volume,
		}
		if i > 0 {
			prev := months[i-1]
			if monthIndex(prev.start) == monthIndex(m.start)-1 && prev.price > 0 && m.price > 0 {
				rec.MonthlyLogReturn = null.FloatFrom(math.Log(m.price / prev.price))
			}
		}
		out = append(out, rec)
	}
	return out, nil
}
