package model

// CoverageResult is the outcome of one coverage computation. Bands is always
// populated; HexAccessibility is nil unless an H3 resolution was requested;
// HexPopulation is nil unless a population table was supplied. Warnings
// accumulate across stages and never imply failure.
type CoverageResult struct {
	RunID            string               `json:"run_id"`
	Bands            []Band               `json:"bands"`
	HexAccessibility []CellLevel          `json:"hex_accessibility,omitempty"`
	HexPopulation    []PopulationCoverage `json:"hex_population,omitempty"`
	Warnings         []Warning            `json:"warnings,omitempty"`
}

// Warn appends a warning to the result.
func (r *CoverageResult) Warn(w Warning) {
	r.Warnings = append(r.Warnings, w)
}
