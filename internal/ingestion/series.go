package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/guttosm/equitypanel/internal/domain/errs"
	"github.com/guttosm/equitypanel/internal/domain/models"
	"github.com/guttosm/equitypanel/internal/logger"
	"github.com/guttosm/equitypanel/internal/proxypool"
	"github.com/guttosm/equitypanel/internal/transport"
	"github.com/guttosm/equitypanel/internal/upstream"
)

// SeriesWriter atomically replaces the raw artifact of a symbol.
type SeriesWriter interface {
	WriteSeries(symbol string, rows []models.RawObservation) error
}

// SeriesOptions controls per-symbol history downloads.
type SeriesOptions struct {
	BaseURL        string
	FailureCeiling int
	Delay          time.Duration
	// Parallel bounds concurrent symbols in FetchAll. Values below 1 mean 1.
	Parallel int
}

// SeriesFetcher downloads full daily histories through the proxy pool.
//
// Requests through one proxy never overlap: an attempt holds its proxy's
// lane for the request and the Delay that follows it, whatever the number
// of symbols fetched in parallel.
type SeriesFetcher struct {
	pool   proxypool.Selector
	getter transport.Getter
	sink   SeriesWriter
	lanes  sync.Map // proxy URL -> *sync.Mutex
	log    *zerolog.Logger
}

func NewSeriesFetcher(pool proxypool.Selector, getter transport.Getter, sink SeriesWriter) *SeriesFetcher {
	return &SeriesFetcher{
		pool:   pool,
		getter: getter,
		sink:   sink,
		log:    logger.Component("series"),
	}
}

// FetchSeries downloads the full history of symbol and replaces its artifact.
//
// Each attempt uses a fresh random proxy; Delay is observed after every
// attempt, on that proxy's lane. Transport, status and decode failures are
// retried until FailureCeiling consecutive failures, after which an
// *errs.SymbolFailure is returned. errs.ErrPoolExhausted, context errors and artifact write errors
// are returned as-is and are not retried.
func (f *SeriesFetcher) FetchSeries(ctx context.Context, symbol string, opts SeriesOptions) error {
	attempt := NewAttempt(opts.FailureCeiling)

	for !attempt.Done() {
		if err := ctx.Err(); err != nil {
			return err
		}

		rows, err := f.download(ctx, symbol, opts)
		switch {
		case errors.Is(err, errs.ErrPoolExhausted), errors.Is(err, errs.ErrConfig):
			return err
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt.Fail(err)
			f.log.Debug().Str("symbol", symbol).Int("failures", attempt.Failures()).Err(err).Msg("history attempt failed")
		default:
			if err := f.sink.WriteSeries(symbol, rows); err != nil {
				return fmt.Errorf("persist %s: %w", symbol, err)
			}
			attempt.Succeed()
			f.log.Debug().Str("symbol", symbol).Int("rows", len(rows)).Int("attempts", attempt.Total()).Msg("history saved")
		}
	}

	if attempt.State() == Exhausted {
		return &errs.SymbolFailure{Symbol: symbol, Attempts: attempt.Total(), Last: attempt.Last()}
	}
	return nil
}

func (f *SeriesFetcher) lane(proxy models.Proxy) *sync.Mutex {
	l, _ := f.lanes.LoadOrStore(proxy.URL().String(), &sync.Mutex{})
	return l.(*sync.Mutex)
}

// download runs one attempt on a random proxy's lane. A pause cut short by
// cancellation surfaces through ctx on the next loop check.
func (f *SeriesFetcher) download(ctx context.Context, symbol string, opts SeriesOptions) ([]models.RawObservation, error) {
	u, err := upstream.HistoryURL(opts.BaseURL, symbol)
	if err != nil {
		return nil, err
	}
	proxy, err := f.pool.Random()
	if err != nil {
		return nil, err
	}

	lane := f.lane(proxy)
	lane.Lock()
	defer lane.Unlock()

	rows, err := f.get(ctx, proxy, u, symbol)
	_ = pause(ctx, opts.Delay)
	return rows, err
}

func (f *SeriesFetcher) get(ctx context.Context, proxy models.Proxy, u, symbol string) ([]models.RawObservation, error) {
	res, err := f.getter.Get(ctx, proxy, u, nil)
	if err != nil {
		return nil, errs.Transientf("%v", err)
	}
	if !res.OK() {
		return nil, errs.Transientf("history %s status %d via %s", symbol, res.StatusCode, proxy)
	}
	return upstream.ParseChart(res.Body)
}

// FetchAll runs FetchSeries for every symbol and returns the tally.
//
// Behavior:
//   - Up to opts.Parallel symbols are fetched at once; each symbol owns its
//     own failure counter.
//   - A symbol that exhausts its ceiling is recorded in the report and the
//     run continues with the others.
//   - Pool exhaustion, cancellation and artifact I/O errors stop the run;
//     the partial report is returned along with the error.
func (f *SeriesFetcher) FetchAll(ctx context.Context, symbols []string, opts SeriesOptions) (models.RunReport, error) {
	report := models.RunReport{Requested: len(symbols)}
	if len(symbols) == 0 {
		return report, nil
	}

	parallel := opts.Parallel
	if parallel < 1 {
		parallel = 1
	}

	var (
		succeeded atomic.Int64
		mu        sync.Mutex
		failed    []models.SymbolOutcome
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	n := len(symbols)

	for i, symbol := range symbols {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			f.log.Info().Int("idx", i+1).Int("total", n).Str("symbol", symbol).Msgf("%d / %d - %s", i+1, n, symbol)

			err := f.FetchSeries(gctx, symbol, opts)
			var sf *errs.SymbolFailure
			switch {
			case err == nil:
				succeeded.Add(1)
				return nil
			case errors.As(err, &sf):
				f.log.Warn().Str("symbol", symbol).Int("attempts", sf.Attempts).Err(sf.Last).Msg("giving up on symbol")
				mu.Lock()
				failed = append(failed, models.SymbolOutcome{Symbol: symbol, Attempts: sf.Attempts, LastError: errString(sf.Last)})
				mu.Unlock()
				return nil
			default:
				return err
			}
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	report.Succeeded = int(succeeded.Load())
	report.Failed = sortOutcomes(failed)

	ev := f.log.Info()
	if err != nil {
		ev = f.log.Error().Err(err)
	}
	ev.Int("requested", report.Requested).
		Int("succeeded", report.Succeeded).
		Int("failed", len(report.Failed)).
		Strs("skipped", report.FailedSymbols()).
		Msg("series fetch finished")
	return report, err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// sortOutcomes orders failures by symbol so reports are deterministic under concurrency.
func sortOutcomes(in []models.SymbolOutcome) []models.SymbolOutcome {
	sort.Slice(in, func(i, j int) bool { return in[i].Symbol < in[j].Symbol })
	return in
}
