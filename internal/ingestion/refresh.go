package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/guttosm/equitypanel/internal/domain/models"
	"github.com/guttosm/equitypanel/internal/logger"
)

// ArtifactMetadata exposes the last successful fetch time of a symbol's raw artifact.
type ArtifactMetadata interface {
	LastModified(symbol string) (time.Time, bool, error)
}

// UniverseSource returns the current symbol universe.
type UniverseSource interface {
	LatestUniverse() (models.Universe, error)
}

// AgeDays returns the whole days elapsed between modified and now, rounded
// down. Timestamps in the future count as age 0.
func AgeDays(modified, now time.Time) int {
	d := now.Sub(modified)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// SelectStale returns, in universe order, the symbols that have no raw
// artifact or whose artifact is strictly older than maxAgeDays whole days.
// An artifact exactly maxAgeDays old is fresh. Only metadata is read.
//
// A symbol whose metadata cannot be read is neither stale nor fresh; it is
// reported in unreadable and the selection continues with the others.
func SelectStale(u models.Universe, meta ArtifactMetadata, maxAgeDays int, now time.Time) (stale []string, unreadable []models.SymbolOutcome) {
	for _, symbol := range u.Symbols {
		modified, ok, err := meta.LastModified(symbol)
		if err != nil {
			unreadable = append(unreadable, models.SymbolOutcome{Symbol: symbol, LastError: fmt.Sprintf("artifact metadata: %v", err)})
			continue
		}
		if !ok || AgeDays(modified, now) > maxAgeDays {
			stale = append(stale, symbol)
		}
	}
	return stale, unreadable
}

// RefreshOptions configures Refresher.Refresh.
type RefreshOptions struct {
	MaxAgeDays int
	Series     SeriesOptions
}

// Refresher re-downloads the stale part of the latest universe.
type Refresher struct {
	source  UniverseSource
	meta    ArtifactMetadata
	fetcher *SeriesFetcher
	now     func() time.Time
	log     *zerolog.Logger
}

func NewRefresher(source UniverseSource, meta ArtifactMetadata, fetcher *SeriesFetcher) *Refresher {
	return &Refresher{
		source:  source,
		meta:    meta,
		fetcher: fetcher,
		now:     time.Now,
		log:     logger.Component("refresh"),
	}
}

// Refresh loads the latest universe, selects stale symbols and fetches them.
// A missing or empty universe snapshot is an errs.ErrConfig.
func (r *Refresher) Refresh(ctx context.Context, opts RefreshOptions) (models.RunReport, error) {
	u, err := r.source.LatestUniverse()
	if err != nil {
		return models.RunReport{}, err
	}
	return r.RefreshUniverse(ctx, u, opts)
}

// RefreshUniverse is Refresh against an explicit universe. Symbols with
// unreadable metadata are added to the report as failures.
func (r *Refresher) RefreshUniverse(ctx context.Context, u models.Universe, opts RefreshOptions) (models.RunReport, error) {
	stale, unreadable := SelectStale(u, r.meta, opts.MaxAgeDays, r.now())
	for _, o := range unreadable {
		r.log.Warn().Str("symbol", o.Symbol).Str("error", o.LastError).Msg("skipping symbol")
	}
	r.log.Info().
		Int("universe", len(u.Symbols)).
		Int("stale", len(stale)).
		Int("unreadable", len(unreadable)).
		Int("max_age_days", opts.MaxAgeDays).
		Msg("selected stale symbols")

	rep, err := r.fetcher.FetchAll(ctx, stale, opts.Series)
	if len(unreadable) > 0 {
		rep.Requested += len(unreadable)
		rep.Failed = sortOutcomes(append(rep.Failed, unreadable...))
	}
	return rep, err
}
