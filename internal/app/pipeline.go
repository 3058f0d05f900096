package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/guttosm/equitypanel/config"
	"github.com/guttosm/equitypanel/internal/domain/models"
	"github.com/guttosm/equitypanel/internal/ingestion"
	"github.com/guttosm/equitypanel/internal/logger"
	"github.com/guttosm/equitypanel/internal/panel"
	"github.com/guttosm/equitypanel/internal/proxypool"
	"github.com/guttosm/equitypanel/internal/recorder"
	"github.com/guttosm/equitypanel/internal/storage"
	"github.com/guttosm/equitypanel/internal/transport"
)

// Run modes recorded in the run ledger.
const (
	ModeUniverse  = "universe"
	ModeRefresh   = "refresh"
	ModeAggregate = "aggregate"
)

// Pipeline holds every acquisition stage wired from one configuration.
//
// All stages share the same proxy pool, so proxies removed by a prune are
// no longer handed out to the fetchers.
type Pipeline struct {
	cfg config.Config

	Store     *storage.FileStore
	Pool      *proxypool.Pool
	Universe  *ingestion.UniverseFetcher
	Series    *ingestion.SeriesFetcher
	Refresher *ingestion.Refresher
	Builder   *panel.Builder
	Recorder  recorder.Recorder

	// Repo is nil unless POSTGRES_ENABLED; the panel is then only written to disk.
	Repo storage.PanelRepository
	db   *sql.DB

	log *zerolog.Logger
}

// recorderOpener is an indirection for tests.
var recorderOpener = func(path string) (recorder.Recorder, error) {
	if path == "" {
		return recorder.NewNoopRecorder(), nil
	}
	return recorder.NewSQLiteRecorder(path)
}

// BuildPipeline wires the pipeline against the real network.
//
// Behavior:
//   - Opens the artifact store under cfg.DataDir (creating its folders).
//   - Loads the proxy list; a missing or malformed list is errs.ErrConfig.
//   - Builds one resty-backed transport shared by every stage; proxies
//     dropped by the pool also drop their cached client.
//   - Opens the run ledger and, when enabled, the panel database.
//
// The caller must Close the returned pipeline.
func BuildPipeline(cfg config.Config) (*Pipeline, error) {
	client := transport.NewClient(
		transport.WithTimeout(cfg.Proxy.HTTPTimeout),
		transport.WithRatePerProxy(cfg.Proxy.RatePerSec),
	)
	return newPipeline(cfg, client, client.Forget)
}

func newPipeline(cfg config.Config, getter transport.Getter, forget func(models.Proxy)) (*Pipeline, error) {
	store, err := storage.NewFileStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	proxies, err := proxypool.LoadFile(cfg.Proxy.ListPath)
	if err != nil {
		return nil, err
	}
	pool := proxypool.New(proxies, getter,
		proxypool.WithEchoURL(cfg.Proxy.EchoURL),
		proxypool.WithCheckDelay(cfg.Proxy.CheckDelay),
		proxypool.WithCheckParallelism(cfg.Proxy.CheckParallel),
		proxypool.WithRemoveHook(forget),
	)

	rec, err := recorderOpener(cfg.Recorder.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open run recorder: %w", err)
	}

	series := ingestion.NewSeriesFetcher(pool, getter, store)
	p := &Pipeline{
		cfg:       cfg,
		Store:     store,
		Pool:      pool,
		Universe:  ingestion.NewUniverseFetcher(pool, getter, store),
		Series:    series,
		Refresher: ingestion.NewRefresher(store, store, series),
		Builder:   panel.NewBuilder(store, store, panel.Options{FillGaps: cfg.Panel.FillGaps}),
		Recorder:  rec,
		log:       logger.Component("pipeline"),
	}

	if cfg.Postgres.Enabled {
		db, err := openPanelDB(cfg)
		if err != nil {
			_ = rec.Close()
			return nil, err
		}
		p.db = db
		p.Repo = storage.NewPanelRepository(db)
	}

	p.log.Info().
		Int("proxies", pool.Size()).
		Str("data_dir", store.Root()).
		Bool("postgres", p.Repo != nil).
		Msg("pipeline ready")
	return p, nil
}

// Close releases the run ledger and the panel database.
func (p *Pipeline) Close() error {
	var errs []error
	if p.Recorder != nil {
		errs = append(errs, p.Recorder.Close())
	}
	if p.db != nil {
		errs = append(errs, p.db.Close())
	}
	return errors.Join(errs...)
}

func (p *Pipeline) universeOptions() ingestion.UniverseOptions {
	return ingestion.UniverseOptions{
		BaseURL:        p.cfg.Screener.URL,
		PageSize:       p.cfg.Screener.PageSize,
		FailureCeiling: p.cfg.Screener.FailureCeiling,
		Delay:          p.cfg.Screener.Delay,
	}
}

func (p *Pipeline) refreshOptions() ingestion.RefreshOptions {
	return ingestion.RefreshOptions{
		MaxAgeDays: p.cfg.History.MaxAgeDays,
		Series: ingestion.SeriesOptions{
			BaseURL:        p.cfg.History.URL,
			FailureCeiling: p.cfg.History.FailureCeiling,
			Delay:          p.cfg.History.Delay,
			Parallel:       p.cfg.History.Parallel,
		},
	}
}

// record wraps one stage in a ledger entry. The stage fills the report
// tallies; recorder failures are logged and never fail the stage.
func (p *Pipeline) record(mode string, stage func(rep *models.RunReport) error) (models.RunReport, error) {
	rep, err := p.Recorder.StartRun(mode)
	if err != nil {
		p.log.Warn().Err(err).Str("mode", mode).Msg("run recorder unavailable")
		rep = models.RunReport{Mode: mode}
	}

	runErr := stage(&rep)

	if rep.RunID != "" {
		if err := p.Recorder.FinishRun(rep, runErr); err != nil {
			p.log.Warn().Err(err).Str("run_id", rep.RunID).Msg("failed to record run")
		}
	}
	return rep, runErr
}

// RunVerify echoes the identity of the first PROXY_VERIFY_SAMPLE members.
func (p *Pipeline) RunVerify(ctx context.Context) ([]proxypool.Observation, error) {
	return p.Pool.VerifyLive(ctx, p.cfg.Proxy.VerifySample)
}

// RunPrune drops members failing the identity echo.
func (p *Pipeline) RunPrune(ctx context.Context) (proxypool.PruneReport, error) {
	return p.Pool.PruneDead(ctx)
}

// RestorePool reloads the proxy list from disk and prunes it, so members
// dropped by an earlier prune get another health check.
func (p *Pipeline) RestorePool(ctx context.Context) (proxypool.PruneReport, error) {
	if err := p.Pool.Reload(p.cfg.Proxy.ListPath); err != nil {
		return proxypool.PruneReport{}, err
	}
	return p.Pool.PruneDead(ctx)
}

// RunUniverse discovers and persists the symbol universe.
func (p *Pipeline) RunUniverse(ctx context.Context) (models.Universe, error) {
	var u models.Universe
	_, err := p.record(ModeUniverse, func(rep *models.RunReport) error {
		var err error
		u, err = p.Universe.FetchSymbolUniverse(ctx, p.universeOptions())
		rep.Requested = len(u.Symbols)
		rep.Succeeded = len(u.Symbols)
		return err
	})
	return u, err
}

// RunRefresh re-downloads the stale symbols of the latest universe snapshot.
func (p *Pipeline) RunRefresh(ctx context.Context) (models.RunReport, error) {
	return p.refresh(ctx, nil)
}

func (p *Pipeline) refresh(ctx context.Context, u *models.Universe) (models.RunReport, error) {
	return p.record(ModeRefresh, func(rep *models.RunReport) error {
		var (
			res models.RunReport
			err error
		)
		if u != nil {
			res, err = p.Refresher.RefreshUniverse(ctx, *u, p.refreshOptions())
		} else {
			res, err = p.Refresher.Refresh(ctx, p.refreshOptions())
		}
		rep.Requested, rep.Succeeded, rep.Failed = res.Requested, res.Succeeded, res.Failed
		return err
	})
}

// RunAggregate rebuilds the monthly panel from the latest universe
// snapshot and, when Postgres is enabled, publishes it.
func (p *Pipeline) RunAggregate(ctx context.Context) (panel.Result, error) {
	return p.aggregate(ctx, nil, false)
}

// aggregate rebuilds the panel. With unchanged set, publishing is skipped
// when a snapshot for the same date is already in Postgres.
func (p *Pipeline) aggregate(ctx context.Context, u *models.Universe, unchanged bool) (panel.Result, error) {
	var res panel.Result
	_, err := p.record(ModeAggregate, func(rep *models.RunReport) error {
		universe := u
		if universe == nil {
			latest, err := p.Store.LatestUniverse()
			if err != nil {
				return err
			}
			universe = &latest
		}
		rep.Requested = len(universe.Symbols)

		var err error
		res, err = p.Builder.BuildPanel(ctx, *universe)
		rep.Succeeded = res.Symbols
		for _, s := range res.Corrupt {
			rep.Failed = append(rep.Failed, models.SymbolOutcome{Symbol: s, LastError: "unreadable artifact"})
		}
		if err != nil {
			return err
		}
		return p.publish(ctx, res, unchanged)
	})
	return res, err
}

func (p *Pipeline) publish(ctx context.Context, res panel.Result, unchanged bool) error {
	if p.Repo == nil {
		return nil
	}
	if unchanged {
		done, err := p.Repo.HasSnapshotForDate(ctx, res.Date)
		switch {
		case err != nil:
			p.log.Warn().Err(err).Msg("snapshot log lookup failed; publishing anyway")
		case done:
			p.log.Info().Str("snapshot", res.Date.Format("2006-01-02")).Msg("nothing refreshed and snapshot already published")
			return nil
		}
	}
	if err := p.Repo.ReplacePanel(ctx, res.Date, res.Records); err != nil {
		return fmt.Errorf("publish panel: %w", err)
	}
	p.log.Info().Int("records", len(res.Records)).Str("snapshot", res.Date.Format("2006-01-02")).Msg("panel published")
	return nil
}

// RunAll runs the whole acquisition in order: prune the pool, discover the
// universe, refresh stale series and rebuild the panel.
//
// When discovery yields nothing the previous universe snapshot is used, so
// a screener outage does not stop the refresh of already known symbols.
func (p *Pipeline) RunAll(ctx context.Context) (panel.Result, error) {
	if _, err := p.RunPrune(ctx); err != nil {
		return panel.Result{}, err
	}

	u, err := p.RunUniverse(ctx)
	if err != nil {
		return panel.Result{}, err
	}
	if u.Empty() {
		prev, err := p.Store.LatestUniverse()
		if err != nil {
			return panel.Result{}, fmt.Errorf("no universe discovered and no previous snapshot: %w", err)
		}
		p.log.Warn().Str("snapshot", prev.Date.Format("2006-01-02")).Msg("falling back to previous universe snapshot")
		u = prev
	}

	rep, err := p.refresh(ctx, &u)
	if err != nil {
		return panel.Result{}, err
	}
	if len(rep.Failed) > 0 {
		p.log.Warn().Str("skipped", strings.Join(rep.FailedSymbols(), ",")).Msg("some symbols were not refreshed")
	}

	return p.aggregate(ctx, &u, rep.Succeeded == 0)
}

// UniverseJob is the scheduled discovery run: restore the pool, then
// rediscover the universe.
func (p *Pipeline) UniverseJob(ctx context.Context) error {
	rep, err := p.RestorePool(ctx)
	if err != nil {
		return err
	}
	p.log.Info().Int("checked", rep.Checked).Int("removed", rep.Removed).Int("kept", rep.Kept).Msg("proxy pool restored")

	_, err = p.RunUniverse(ctx)
	return err
}

// RefreshJob is the scheduled refresh run. When the pool runs dry mid-run
// it is restored once and the refresh retried; the panel is rebuilt after.
func (p *Pipeline) RefreshJob(ctx context.Context) error {
	rep, err := p.RunRefresh(ctx)
	if proxypool.IsExhausted(err) {
		p.log.Warn().Msg("proxy pool exhausted; reloading proxy list")
		if _, rerr := p.RestorePool(ctx); rerr != nil {
			return errors.Join(err, rerr)
		}
		rep, err = p.RunRefresh(ctx)
	}
	if err != nil {
		return err
	}
	_, err = p.aggregate(ctx, nil, rep.Succeeded == 0)
	return err
}
