package models

import (
	"time"

	"github.com/guregu/null/v6"
)

// RawObservation is one row of a symbol's raw daily history.
//
// Upstream series carry holes (holidays, halted sessions), so every
// numeric column is nullable.
type RawObservation struct {
	Date   time.Time
	Open   null.Float
	High   null.Float
	Low    null.Float
	Close  null.Float
	Volume null.Float
}

// CleanRecord is one (symbol, month) row of the consolidated panel.
//
// Fields:
//   - Period: calendar month, "YYYY-MM".
//   - Date: last calendar day of Period.
//   - Price: last close observed in the month.
//   - Volume: last volume observed in the month.
//   - MonthlyLogReturn: ln(Price_t / Price_{t-1}); null for the first month
//     of a symbol and for months whose previous calendar month is missing.
//
// swagger:model CleanRecord
type CleanRecord struct {
	Symbol           string     `json:"symbol" example:"AAPL"`
	Period           string     `json:"period" example:"2024-01"`
	Date             time.Time  `json:"date" example:"2024-01-31T00:00:00Z"`
	Price            float64    `json:"price" example:"184.40"`
	Volume           float64    `json:"volume" example:"42355100"`
	MonthlyLogReturn null.Float `json:"monthly_log_return" swaggertype:"number" example:"-0.0425"`
}
