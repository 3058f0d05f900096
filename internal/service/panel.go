package service

import (
	"context"

	"github.com/guttosm/equitypanel/internal/domain/dto"
	"github.com/guttosm/equitypanel/internal/domain/models"
)

// PanelReader is the read side of a published panel snapshot. Both the
// Postgres repository and the file store satisfy it.
type PanelReader interface {
	GetSymbolPanel(ctx context.Context, symbol, from, to string) ([]models.CleanRecord, error)
}

// PanelService defines the read operations exposed over HTTP.
type PanelService interface {
	GetSymbolPanel(ctx context.Context, symbol, from, to string) (*dto.PanelResponse, error)
}

type panelService struct {
	reader PanelReader
}

func NewPanelService(reader PanelReader) PanelService {
	return &panelService{reader: reader}
}

// GetSymbolPanel returns the monthly rows for symbol within [from, to]
// (inclusive "YYYY-MM" bounds, either may be empty) together with the
// cumulative log return over the non-null returns. A nil response means
// the symbol has no rows in range.
func (s *panelService) GetSymbolPanel(ctx context.Context, symbol, from, to string) (*dto.PanelResponse, error) {
	records, err := s.reader.GetSymbolPanel(ctx, symbol, from, to)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	var cum float64
	for _, r := range records {
		if r.MonthlyLogReturn.Valid {
			cum += r.MonthlyLogReturn.Float64
		}
	}

	return &dto.PanelResponse{
		Symbol:              symbol,
		Months:              len(records),
		CumulativeLogReturn: cum,
		Records:             records,
	}, nil
}
