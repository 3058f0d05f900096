package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/guttosm/equitypanel/config"
	"github.com/guttosm/equitypanel/internal/api"
	"github.com/guttosm/equitypanel/internal/service"
	"github.com/guttosm/equitypanel/internal/storage"
)

// InitializeApp wires the read-only panel API and returns the router, a
// cleanup function for graceful shutdown, and any initialization error.
//
// Responsibilities:
//   - Serves panel queries from Postgres when POSTGRES_ENABLED (running
//     migrations first), otherwise from the latest panel file under DATA_DIR.
//   - Exposes the run ledger through /api/v1/runs.
//   - Registers /healthz and /readyz; readiness probes the panel source.
//
// Returns:
//   - *gin.Engine: the configured Gin HTTP router.
//   - func(): cleanup function to be executed on shutdown.
//   - error: any initialization error that occurred.
func InitializeApp() (*gin.Engine, func(), error) {
	cfg := config.AppConfig

	var (
		reader  service.PanelReader
		probes  = map[string]api.Probe{}
		closers []func() error
	)
	cleanup := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	if cfg.Postgres.Enabled {
		db, err := openPanelDB(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize postgres: %w", err)
		}
		closers = append(closers, db.Close)
		reader = storage.NewPanelRepository(db)
		probes["postgres"] = db.PingContext
	} else {
		store, err := storage.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open artifact store: %w", err)
		}
		reader = store
		probes["panel"] = func(context.Context) error {
			_, err := store.LatestPanelDate()
			if errors.Is(err, storage.ErrNoArtifact) {
				return errors.New("no panel snapshot yet")
			}
			return err
		}
	}

	rec, err := recorderOpener(cfg.Recorder.SQLitePath)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to open run recorder: %w", err)
	}
	closers = append(closers, rec.Close)

	handler := api.NewHandler(service.NewPanelService(reader), rec)
	router := api.NewRouter(handler)
	api.NewHealthHandler(probes).Register(router)

	return router, cleanup, nil
}
