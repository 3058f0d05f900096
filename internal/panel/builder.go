package panel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/guttosm/equitypanel/internal/domain/errs"
	"github.com/guttosm/equitypanel/internal/domain/models"
	"github.com/guttosm/equitypanel/internal/logger"
	"github.com/guttosm/equitypanel/internal/storage"
)

// SeriesReader loads a symbol's raw artifact. A missing artifact must wrap storage.ErrNoArtifact.
type SeriesReader interface {
	ReadSeries(symbol string) ([]models.RawObservation, error)
}

// SnapshotWriter persists a dated panel snapshot, replacing any previous one for that date.
type SnapshotWriter interface {
	WritePanel(date time.Time, records []models.CleanRecord) (string, error)
}

// Result describes one BuildPanel run.
type Result struct {
	Date    time.Time
	Path    string
	Records []models.CleanRecord
	// Symbols counts symbols that contributed at least one record.
	Symbols int
	Missing []string
	Corrupt []string
}

// Builder recomputes the full panel from whatever raw artifacts exist.
type Builder struct {
	reader SeriesReader
	writer SnapshotWriter
	opts   Options
	now    func() time.Time
	log    *zerolog.Logger
}

func NewBuilder(reader SeriesReader, writer SnapshotWriter, opts Options) *Builder {
	return &Builder{
		reader: reader,
		writer: writer,
		opts:   opts,
		now:    time.Now,
		log:    logger.Component("panel"),
	}
}

// BuildPanel builds records for every symbol of u in universe order and
// writes them as one dated snapshot.
//
// Symbols without an artifact are skipped silently. Symbols whose artifact
// cannot be decoded or interpolated, or whose name cannot address an
// artifact, are logged and skipped. Any other read error, cancellation, or
// a failed snapshot write aborts the build.
func (b *Builder) BuildPanel(ctx context.Context, u models.Universe) (Result, error) {
	res := Result{Date: b.now()}
	n := len(u.Symbols)

	for i, symbol := range u.Symbols {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		b.log.Debug().Int("idx", i+1).Int("total", n).Str("symbol", symbol).Msgf("%d / %d - %s", i+1, n, symbol)

		rows, err := b.reader.ReadSeries(symbol)
		switch {
		case errors.Is(err, storage.ErrNoArtifact):
			res.Missing = append(res.Missing, symbol)
			continue
		case errors.Is(err, errs.ErrDataIntegrity), errors.Is(err, errs.ErrConfig):
			b.log.Warn().Str("symbol", symbol).Err(err).Msg("skipping unreadable artifact")
			res.Corrupt = append(res.Corrupt, symbol)
			continue
		case err != nil:
			return res, fmt.Errorf("read %s: %w", symbol, err)
		}

		records, err := BuildSymbol(symbol, rows, b.opts)
		if err != nil {
			b.log.Warn().Str("symbol", symbol).Err(err).Msg("skipping symbol")
			res.Corrupt = append(res.Corrupt, symbol)
			continue
		}
		if len(records) > 0 {
			res.Symbols++
			res.Records = append(res.Records, records...)
		}
	}

	path, err := b.writer.WritePanel(res.Date, res.Records)
	if err != nil {
		return res, fmt.Errorf("write panel: %w", err)
	}
	res.Path = path

	b.log.Info().
		Int("universe", n).
		Int("symbols", res.Symbols).
		Int("records", len(res.Records)).
		Int("missing", len(res.Missing)).
		Int("corrupt", len(res.Corrupt)).
		Str("path", path).
		Msg("panel written")
	return res, nil
}
