package main

//
//  @title           equitypanel API
//  @version         1.0
//  @description     Equity price acquisition pipeline and monthly panel API.
//  @termsOfService  https://github.com/guttosm/equitypanel
//  @contact.name    API Support
//  @contact.url     https://github.com/guttosm/equitypanel
//  @contact.email   support@example.com
//  @license.name    MIT
//  @license.url     https://opensource.org/licenses/MIT
//  @host            localhost:8080
//  @BasePath        /
//  @schemes         http
//
//  @tag.name        panel
//  @tag.description Monthly equity panel queries
//
//  @tag.name        runs
//  @tag.description Acquisition run history
//
//  @tag.name        health
//  @tag.description Liveness and readiness probes

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guttosm/equitypanel/config"
	_ "github.com/guttosm/equitypanel/docs" // swagger docs
	"github.com/guttosm/equitypanel/internal/app"
	"github.com/guttosm/equitypanel/internal/logger"
	"github.com/guttosm/equitypanel/internal/scheduler"
)

// startServer initializes and starts the HTTP server in a separate goroutine.
//
// Parameters:
//   - router (http.Handler): The HTTP router (Gin Engine) configured with all routes.
//   - port (string): The port where the server will listen for incoming requests.
//
// Returns:
//   - *http.Server: The initialized HTTP server instance.
func startServer(router http.Handler, port string) *http.Server {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.L().Info().Str("port", port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Fatal().Err(err).Msg("server failed to start")
		}
	}()

	return server
}

// gracefulShutdown blocks until SIGINT or SIGTERM, then shuts the server
// down within 10 seconds and runs cleanup.
func gracefulShutdown(ctx context.Context, server *http.Server, cleanup func()) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	logger.L().Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.L().Fatal().Err(err).Msg("server forced to shutdown")
	}

	cleanup()
	logger.L().Info().Msg("server exited gracefully")
}

// runDaemon runs the pipeline on the configured cron schedules until ctx
// is cancelled. With runNow the universe and refresh jobs run once first.
// Each universe job reloads the proxy list before pruning it.
func runDaemon(ctx context.Context, p *app.Pipeline, cfg config.Config, runNow bool) error {
	s := scheduler.NewScheduler(ctx, p.UniverseJob, p.RefreshJob)
	if err := s.RegisterAll(cfg.Schedule.UniverseCron, cfg.Schedule.RefreshCron); err != nil {
		return err
	}
	if runNow {
		s.RunNow()
	}
	s.Start()
	logger.L().Info().
		Str("universe_cron", cfg.Schedule.UniverseCron).
		Str("refresh_cron", cfg.Schedule.RefreshCron).
		Msg("daemon waiting for schedule")

	<-ctx.Done()
	s.Stop()
	return nil
}

// main is the entry point of the equitypanel application.
//
// Modes (selected via --mode flag):
//   - verify:    Echo the public IP seen through a sample of proxies.
//   - prune:     Drop proxies failing the identity echo and report the survivors.
//   - universe:  Discover the liquid symbol universe and save a dated snapshot.
//   - refresh:   Re-download stale series of the latest universe.
//   - aggregate: Rebuild the monthly panel (and publish it when Postgres is enabled).
//   - run:       prune, universe, refresh and aggregate in one go.
//   - daemon:    Run the pipeline on the SCHEDULE_* cron expressions.
//   - api:       Serve the panel and run history over HTTP.
//
// Flags:
//   - --mode: Execution mode. Default: "run".
//   - --port: Port for the API server. Defaults to value from config (SERVER_PORT).
//   - --now:  In daemon mode, run every job once before waiting for the schedule.
func main() {
	config.LoadConfig()
	logger.Init()

	mode := flag.String("mode", "run", "Mode: verify|prune|universe|refresh|aggregate|run|daemon|api")
	port := flag.String("port", config.AppConfig.Server.Port, "Port for API mode")
	now := flag.Bool("now", false, "Daemon mode: run all jobs once at startup")
	flag.Parse()

	if *mode == "api" {
		logger.L().Info().Msg("starting API server")

		router, cleanup, err := app.InitializeApp()
		if err != nil {
			logger.L().Fatal().Err(err).Msg("app init error")
		}

		server := startServer(router, *port)
		gracefulShutdown(context.Background(), server, cleanup)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := app.BuildPipeline(config.AppConfig)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("pipeline init error")
	}

	err = runMode(ctx, p, *mode, *now)
	_ = p.Close()
	if err != nil {
		logger.L().Fatal().Err(err).Str("mode", *mode).Msg("run failed")
	}
}

// runMode executes one acquisition mode against p and logs its outcome.
func runMode(ctx context.Context, p *app.Pipeline, mode string, runNow bool) error {
	log := logger.L().With().Str("mode", mode).Logger()

	switch mode {
	case "verify":
		obs, err := p.RunVerify(ctx)
		if err != nil {
			return err
		}
		alive := 0
		for _, o := range obs {
			if o.Err == nil {
				alive++
			}
		}
		log.Info().Int("checked", len(obs)).Int("answered", alive).Msg("verify completed")

	case "prune":
		rep, err := p.RunPrune(ctx)
		if err != nil {
			return err
		}
		log.Info().Int("checked", rep.Checked).Int("removed", rep.Removed).Int("kept", rep.Kept).Msg("prune completed")

	case "universe":
		u, err := p.RunUniverse(ctx)
		if err != nil {
			return err
		}
		log.Info().Int("symbols", len(u.Symbols)).Msg("universe completed")

	case "refresh":
		rep, err := p.RunRefresh(ctx)
		if err != nil {
			return err
		}
		log.Info().Int("requested", rep.Requested).Int("succeeded", rep.Succeeded).Strs("skipped", rep.FailedSymbols()).Msg("refresh completed")

	case "aggregate":
		res, err := p.RunAggregate(ctx)
		if err != nil {
			return err
		}
		log.Info().Int("records", len(res.Records)).Int("symbols", res.Symbols).Str("path", res.Path).Msg("aggregate completed")

	case "run":
		res, err := p.RunAll(ctx)
		if err != nil {
			return err
		}
		log.Info().Int("records", len(res.Records)).Int("symbols", res.Symbols).Str("path", res.Path).Msg("pipeline completed")

	case "daemon":
		return runDaemon(ctx, p, config.AppConfig, runNow)

	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	return nil
}
