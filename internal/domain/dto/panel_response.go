package dto

import "github.com/guttosm/equitypanel/internal/domain/models"

// PanelResponse represents the JSON structure returned by the
// GET /api/v1/panel endpoint.
//
// Fields:
//   - Symbol: ticker requested.
//   - Months: number of monthly rows returned.
//   - CumulativeLogReturn: sum of the non-null monthly log returns in range.
//   - Records: the monthly rows, oldest first.
type PanelResponse struct {
	Symbol              string               `json:"symbol" example:"AAPL"`
	Months              int                  `json:"months" example:"12"`
	CumulativeLogReturn float64              `json:"cumulative_log_return" example:"0.1832"`
	Records             []models.CleanRecord `json:"records"`
}
