// Package recorder keeps a ledger of pipeline runs: when they ran, their
// tallies, and which symbols were given up on.
package recorder

import (
	"time"

	"github.com/google/uuid"

	"github.com/guttosm/equitypanel/internal/domain/models"
)

// Recorder persists run history.
type Recorder interface {
	// StartRun opens a run and returns a report stub carrying its id.
	StartRun(mode string) (models.RunReport, error)
	// FinishRun stores the final tally; runErr marks the run as failed.
	FinishRun(report models.RunReport, runErr error) error
	// RecentRuns returns the latest finished or open runs, newest first.
	RecentRuns(limit int) ([]models.RunReport, error)
	Close() error
}

func newRun(mode string) models.RunReport {
	return models.RunReport{
		RunID:     uuid.NewString(),
		Mode:      mode,
		StartedAt: time.Now().UTC(),
	}
}

// NoopRecorder is used when no ledger is configured. It still hands out run ids.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) StartRun(mode string) (models.RunReport, error) { return newRun(mode), nil }
func (n *NoopRecorder) FinishRun(_ models.RunReport, _ error) error { return nil }
func (n *NoopRecorder) RecentRuns(_ int) ([]models.RunReport, error) { return nil, nil }
func (n *NoopRecorder) Close() error { return nil }
