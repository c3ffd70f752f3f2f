// Package store caches expensive artifacts between runs: simplified street
// graphs, population grids aggregated to H3, and finished coverage results.
// The engine never touches it; the CLI owns the lifecycle and passes
// materialized inputs into the core.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/urbanatlas/coverage-cli/internal/coverage"
	"github.com/urbanatlas/coverage-cli/internal/graph"
	"github.com/urbanatlas/coverage-cli/internal/model"
)

// ErrNotFound reports a missing graph or population dataset. Wrapped errors
// satisfy eris.Is against it.
var ErrNotFound = eris.New("store: not found")

// Store is the persistence interface for cached artifacts.
type Store interface {
	// Graphs. SaveGraph replaces any graph cached under the same name.
	SaveGraph(ctx context.Context, name string, g *graph.Graph) error
	LoadGraph(ctx context.Context, name string) (*graph.Graph, error)

	// Population grids, keyed by dataset and H3 resolution. Saves merge by
	// cell: re-saving a dataset updates matching cells and keeps the rest,
	// so incremental extracts accumulate. A new dataset name starts clean.
	SavePopulation(ctx context.Context, dataset string, resolution int, cells []model.PopulationCell) error
	LoadPopulation(ctx context.Context, dataset string, resolution int) ([]model.PopulationCell, error)

	// Coverage runs: one run row plus band rows and optional hex rows.
	SaveCoverage(ctx context.Context, result *model.CoverageResult, params coverage.Params) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
