package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/guttosm/equitypanel/internal/domain/errs"
	"github.com/guttosm/equitypanel/internal/domain/models"
	"github.com/guttosm/equitypanel/internal/logger"
	"github.com/guttosm/equitypanel/internal/proxypool"
	"github.com/guttosm/equitypanel/internal/transport"
	"github.com/guttosm/equitypanel/internal/upstream"
)

// UniverseWriter persists a dated universe snapshot.
type UniverseWriter interface {
	WriteUniverse(u models.Universe) (string, error)
}

// UniverseOptions controls one paginated discovery run.
type UniverseOptions struct {
	BaseURL        string
	PageSize       int
	FailureCeiling int
	Delay          time.Duration
}

// UniverseFetcher walks the paged screener and builds the symbol universe.
type UniverseFetcher struct {
	pool   proxypool.Selector
	getter transport.Getter
	sink   UniverseWriter
	now    func() time.Time
	log    *zerolog.Logger
}

func NewUniverseFetcher(pool proxypool.Selector, getter transport.Getter, sink UniverseWriter) *UniverseFetcher {
	return &UniverseFetcher{
		pool:   pool,
		getter: getter,
		sink:   sink,
		now:    time.Now,
		log:    logger.Component("universe"),
	}
}

// FetchSymbolUniverse pages through the screener until FailureCeiling
// consecutive failures.
//
// Behavior:
//   - Each page goes through a fresh random proxy.
//   - Transport errors, non-2xx responses, unparseable pages and empty pages
//     count as failures and do not advance the offset.
//   - A page with rows resets the failure count and advances the offset by PageSize.
//   - Delay is observed after every request.
//   - The merged symbols are deduplicated, sorted and persisted as a dated
//     snapshot. An empty universe is returned without being persisted.
//
// Returns:
//   - errs.ErrPoolExhausted when no proxy is left, ctx.Err() on cancellation,
//     or the snapshot write error. Per-page failures are never returned.
func (f *UniverseFetcher) FetchSymbolUniverse(ctx context.Context, opts UniverseOptions) (models.Universe, error) {
	if opts.PageSize < 1 {
		return models.Universe{}, errs.Configf("page size must be positive, got %d", opts.PageSize)
	}
	headers := upstream.ScreenerHeaders(opts.BaseURL)

	var symbols []string
	offset, pages := 0, 0
	attempt := NewAttempt(opts.FailureCeiling)

	for !attempt.Done() {
		if err := ctx.Err(); err != nil {
			return models.Universe{}, err
		}

		rows, err := f.fetchPage(ctx, opts, headers, offset)
		switch {
		case errors.Is(err, errs.ErrPoolExhausted), errors.Is(err, errs.ErrConfig):
			return models.Universe{}, err
		case err != nil:
			if ctx.Err() != nil {
				return models.Universe{}, ctx.Err()
			}
			attempt.Fail(err)
			f.log.Debug().Int("offset", offset).Int("failures", attempt.Failures()).Err(err).Msg("screener page failed")
		case len(rows) == 0:
			attempt.Fail(errs.Transientf("empty page at offset %d", offset))
			f.log.Debug().Int("offset", offset).Int("failures", attempt.Failures()).Msg("screener page empty")
		default:
			attempt.Progress()
			symbols = append(symbols, f.acceptSymbols(offset, rows)...)
			pages++
			f.log.Debug().Int("offset", offset).Int("rows", len(rows)).Msg("screener page")
			offset += opts.PageSize
		}

		if err := pause(ctx, opts.Delay); err != nil {
			return models.Universe{}, err
		}
	}

	u := models.NewUniverse(f.now(), symbols)
	if u.Empty() {
		f.log.Warn().Int("failures", attempt.Failures()).Err(attempt.Last()).Msg("symbol universe is empty; nothing to do")
		return u, nil
	}

	path, err := f.sink.WriteUniverse(u)
	if err != nil {
		return u, fmt.Errorf("persist universe: %w", err)
	}
	f.log.Info().Int("symbols", len(u.Symbols)).Int("pages", pages).Str("path", path).Msg("symbol universe saved")
	return u, nil
}

// acceptSymbols drops screener rows that cannot name an artifact.
func (f *UniverseFetcher) acceptSymbols(offset int, rows []string) []string {
	out := rows[:0:0]
	for _, s := range rows {
		if !models.ValidSymbol(strings.TrimSpace(s)) {
			f.log.Warn().Int("offset", offset).Str("symbol", s).Msg("rejecting invalid symbol")
			continue
		}
		out = append(out, s)
	}
	return out
}

func (f *UniverseFetcher) fetchPage(ctx context.Context, opts UniverseOptions, headers map[string]string, offset int) ([]string, error) {
	proxy, err := f.pool.Random()
	if err != nil {
		return nil, err
	}
	pageURL, err := upstream.PageURL(opts.BaseURL, offset, opts.PageSize)
	if err != nil {
		return nil, err
	}
	res, err := f.getter.Get(ctx, proxy, pageURL, headers)
	if err != nil {
		return nil, errs.Transientf("%v", err)
	}
	if !res.OK() {
		return nil, errs.Transientf("screener status %d via %s", res.StatusCode, proxy)
	}
	return upstream.ParseScreenerPage(res.Body)
}
