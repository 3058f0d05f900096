package storage

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/guttosm/equitypanel/internal/domain/errs"
	"github.com/guttosm/equitypanel/internal/domain/models"
)

const (
	universeSuffix = "_liquid_us_stocks.txt"
	panelSuffix    = "_stock_data_clean.csv"
)

// ErrNoArtifact is returned when a requested artifact does not exist.
var ErrNoArtifact = errors.New("artifact not found")

// FileStore keeps every pipeline artifact under one data directory:
//
//	<root>/tickers/<YYYY-MM-DD>_liquid_us_stocks.txt   universe snapshots
//	<root>/tickers/raw/<SYMBOL>.csv                    raw per-symbol series
//	<root>/tickers/clean/<YYYY-MM-DD>_stock_data_clean.csv  panel snapshots
//
// Series and panel writes go to a temp file in the target directory and are
// renamed into place, so readers see either the previous or the new content.
type FileStore struct {
	root string
}

// NewFileStore creates the directory layout under root if missing.
func NewFileStore(root string) (*FileStore, error) {
	s := &FileStore{root: root}
	for _, dir := range []string{s.tickersDir(), s.rawDir(), s.cleanDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return s, nil
}

// Root returns the data directory.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) tickersDir() string { return filepath.Join(s.root, "tickers") }
func (s *FileStore) rawDir() string     { return filepath.Join(s.root, "tickers", "raw") }
func (s *FileStore) cleanDir() string   { return filepath.Join(s.root, "tickers", "clean") }

// SeriesPath returns where the raw artifact of symbol lives.
func (s *FileStore) SeriesPath(symbol string) (string, error) {
	if err := validSymbol(symbol); err != nil {
		return "", err
	}
	return filepath.Join(s.rawDir(), symbol+".csv"), nil
}

// WriteUniverse persists u as a dated snapshot, one symbol per line.
// An existing snapshot for the same date is replaced.
func (s *FileStore) WriteUniverse(u models.Universe) (string, error) {
	if u.Empty() {
		return "", errs.Configf("refusing to persist an empty universe")
	}
	path := filepath.Join(s.tickersDir(), u.Date.Format(dateLayout)+universeSuffix)
	err := writeAtomic(path, func(w io.Writer) error {
		for _, sym := range u.Symbols {
			if _, err := io.WriteString(w, sym+"\n"); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("write universe: %w", err)
	}
	return path, nil
}

// LatestUniverse loads the newest universe snapshot by filename order.
// A missing or empty snapshot is an errs.ErrConfig.
func (s *FileStore) LatestUniverse() (models.Universe, error) {
	name, date, err := latestDated(s.tickersDir(), universeSuffix)
	if err != nil {
		return models.Universe{}, err
	}
	if name == "" {
		return models.Universe{}, errs.Configf("no universe snapshot in %s", s.tickersDir())
	}

	f, err := os.Open(filepath.Join(s.tickersDir(), name))
	if err != nil {
		return models.Universe{}, fmt.Errorf("open universe: %w", err)
	}
	defer func() { _ = f.Close() }()

	var symbols []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		symbols = append(symbols, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return models.Universe{}, fmt.Errorf("read universe: %w", err)
	}

	u := models.NewUniverse(date, symbols)
	if u.Empty() {
		return u, errs.Configf("universe snapshot %s is empty", name)
	}
	return u, nil
}

// WriteSeries replaces the raw artifact of symbol.
func (s *FileStore) WriteSeries(symbol string, rows []models.RawObservation) error {
	path, err := s.SeriesPath(symbol)
	if err != nil {
		return err
	}
	if err := writeAtomic(path, func(w io.Writer) error { return encodeSeries(w, rows) }); err != nil {
		return fmt.Errorf("write series %s: %w", symbol, err)
	}
	return nil
}

// ReadSeries loads the raw artifact of symbol. A missing artifact wraps ErrNoArtifact.
func (s *FileStore) ReadSeries(symbol string) ([]models.RawObservation, error) {
	path, err := s.SeriesPath(symbol)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("series %s: %w", symbol, ErrNoArtifact)
	}
	if err != nil {
		return nil, fmt.Errorf("read series %s: %w", symbol, err)
	}
	rows, err := decodeSeries(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("series %s: %w", symbol, err)
	}
	return rows, nil
}

// LastModified reports the modification time of symbol's raw artifact.
// ok is false when there is no artifact.
func (s *FileStore) LastModified(symbol string) (time.Time, bool, error) {
	path, err := s.SeriesPath(symbol)
	if err != nil {
		return time.Time{}, false, err
	}
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("stat series %s: %w", symbol, err)
	}
	return fi.ModTime(), true, nil
}

// WritePanel replaces the panel snapshot for date.
func (s *FileStore) WritePanel(date time.Time, records []models.CleanRecord) (string, error) {
	path := filepath.Join(s.cleanDir(), date.Format(dateLayout)+panelSuffix)
	if err := writeAtomic(path, func(w io.Writer) error { return encodePanel(w, records) }); err != nil {
		return "", fmt.Errorf("write panel: %w", err)
	}
	return path, nil
}

// LatestPanel loads the newest panel snapshot. Without any snapshot it
// returns ErrNoArtifact.
func (s *FileStore) LatestPanel() (time.Time, []models.CleanRecord, error) {
	name, date, err := latestDated(s.cleanDir(), panelSuffix)
	if err != nil {
		return time.Time{}, nil, err
	}
	if name == "" {
		return time.Time{}, nil, fmt.Errorf("panel snapshot: %w", ErrNoArtifact)
	}
	f, err := os.Open(filepath.Join(s.cleanDir(), name))
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("open panel: %w", err)
	}
	defer func() { _ = f.Close() }()

	records, err := decodePanel(f)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("panel %s: %w", name, err)
	}
	return date, records, nil
}

// LatestPanelDate reports the date of the newest panel snapshot without
// reading it. Without any snapshot it returns ErrNoArtifact.
func (s *FileStore) LatestPanelDate() (time.Time, error) {
	name, date, err := latestDated(s.cleanDir(), panelSuffix)
	if err != nil {
		return time.Time{}, err
	}
	if name == "" {
		return time.Time{}, fmt.Errorf("panel snapshot: %w", ErrNoArtifact)
	}
	return date, nil
}

// GetSymbolPanel serves panel queries from the latest file snapshot.
// from and to are inclusive "YYYY-MM" bounds; empty means unbounded.
func (s *FileStore) GetSymbolPanel(_ context.Context, symbol, from, to string) ([]models.CleanRecord, error) {
	_, records, err := s.LatestPanel()
	if errors.Is(err, ErrNoArtifact) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []models.CleanRecord
	for _, r := range records {
		if r.Symbol != symbol {
			continue
		}
		if (from != "" && r.Period < from) || (to != "" && r.Period > to) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

// latestDated picks the last "<YYYY-MM-DD><suffix>" entry of dir by name.
func latestDated(dir, suffix string) (string, time.Time, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		if _, err := time.Parse(dateLayout, strings.TrimSuffix(e.Name(), suffix)); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return "", time.Time{}, nil
	}
	sort.Strings(names)
	name := names[len(names)-1]
	date, _ := time.Parse(dateLayout, strings.TrimSuffix(name, suffix))
	return name, date, nil
}

// writeAtomic writes through a temp file in the destination directory and
// renames it over path once fully flushed.
func writeAtomic(path string, fill func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = fill(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func validSymbol(symbol string) error {
	if !models.ValidSymbol(symbol) {
		return errs.Configf("invalid symbol %q", symbol)
	}
	return nil
}
