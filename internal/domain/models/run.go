package models

import "time"

// SymbolOutcome summarizes a symbol that exhausted its retry ceiling.
type SymbolOutcome struct {
	Symbol    string `json:"symbol"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error"`
}

// RunReport is the user-visible result of one acquisition run.
//
// swagger:model RunReport
type RunReport struct {
	RunID      string          `json:"run_id"`
	Mode       string          `json:"mode" example:"refresh"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Requested  int             `json:"requested"`
	Succeeded  int             `json:"succeeded"`
	Failed     []SymbolOutcome `json:"failed"`
}

// FailedSymbols lists the symbols that were skipped.
func (r RunReport) FailedSymbols() []string {
	out := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		out = append(out, f.Symbol)
	}
	return out
}
