package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	h3 "github.com/uber/h3-go/v4"
	_ "modernc.org/sqlite"

	"github.com/urbanatlas/coverage-cli/internal/coverage"
	"github.com/urbanatlas/coverage-cli/internal/graph"
	"github.com/urbanatlas/coverage-cli/internal/model"
)

// SQLiteStore implements Store on a local modernc.org/sqlite file, the
// default cache.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS graphs (
	name       TEXT PRIMARY KEY,
	proj4      TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS graph_nodes (
	graph_name TEXT NOT NULL REFERENCES graphs(name) ON DELETE CASCADE,
	id         INTEGER NOT NULL,
	x          REAL NOT NULL,
	y          REAL NOT NULL,
	PRIMARY KEY (graph_name, id)
);

CREATE TABLE IF NOT EXISTS graph_edges (
	graph_name TEXT NOT NULL REFERENCES graphs(name) ON DELETE CASCADE,
	u          INTEGER NOT NULL,
	v          INTEGER NOT NULL,
	edge_key   INTEGER NOT NULL,
	length     REAL NOT NULL,
	geom       BLOB,
	PRIMARY KEY (graph_name, u, v, edge_key)
);

CREATE TABLE IF NOT EXISTS population_cells (
	dataset    TEXT NOT NULL,
	resolution INTEGER NOT NULL,
	cell       TEXT NOT NULL,
	population REAL NOT NULL,
	PRIMARY KEY (dataset, resolution, cell)
);

CREATE TABLE IF NOT EXISTS coverage_runs (
	id         TEXT PRIMARY KEY,
	params     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS coverage_bands (
	run_id TEXT NOT NULL REFERENCES coverage_runs(id) ON DELETE CASCADE,
	rank   INTEGER NOT NULL,
	label  TEXT NOT NULL,
	level  REAL NOT NULL,
	geom   BLOB,
	PRIMARY KEY (run_id, rank)
);

CREATE TABLE IF NOT EXISTS coverage_cells (
	run_id TEXT NOT NULL REFERENCES coverage_runs(id) ON DELETE CASCADE,
	cell   TEXT NOT NULL,
	level  REAL NOT NULL,
	PRIMARY KEY (run_id, cell)
);

CREATE TABLE IF NOT EXISTS coverage_population (
	run_id        TEXT NOT NULL REFERENCES coverage_runs(id) ON DELETE CASCADE,
	cell          TEXT NOT NULL,
	population    REAL NOT NULL,
	accessibility REAL NOT NULL,
	PRIMARY KEY (run_id, cell)
);

CREATE INDEX IF NOT EXISTS idx_graph_edges_u ON graph_edges(graph_name, u);
CREATE INDEX IF NOT EXISTS idx_population_dataset ON population_cells(dataset, resolution);
CREATE INDEX IF NOT EXISTS idx_coverage_bands_run ON coverage_bands(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveGraph(ctx context.Context, name string, g *graph.Graph) error {
	if g == nil {
		return eris.New("sqlite: nil graph")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save graph")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO graphs (name, proj4, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET proj4 = excluded.proj4, created_at = excluded.created_at`,
		name, g.Proj(), time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert graph %q", name)
	}
	for _, table := range []string{"graph_nodes", "graph_edges"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE graph_name = ?`, name); err != nil {
			return eris.Wrapf(err, "sqlite: clear %s for %q", table, name)
		}
	}

	nodeStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO graph_nodes (graph_name, id, x, y) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare node insert")
	}
	defer nodeStmt.Close()
	for _, n := range g.Nodes() {
		if _, err := nodeStmt.ExecContext(ctx, name, n.ID, n.X, n.Y); err != nil {
			return eris.Wrapf(err, "sqlite: insert node %d", n.ID)
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO graph_edges (graph_name, u, v, edge_key, length, geom) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare edge insert")
	}
	defer edgeStmt.Close()
	for _, e := range g.Edges() {
		blob, err := marshalWKB(e.Geom)
		if err != nil {
			return eris.Wrapf(err, "sqlite: encode edge %d-%d", e.U, e.V)
		}
		if _, err := edgeStmt.ExecContext(ctx, name, e.U, e.V, e.Key, e.Length, blob); err != nil {
			return eris.Wrapf(err, "sqlite: insert edge %d-%d", e.U, e.V)
		}
	}

	return eris.Wrapf(tx.Commit(), "sqlite: commit graph %q", name)
}

func (s *SQLiteStore) LoadGraph(ctx context.Context, name string) (*graph.Graph, error) {
	var proj4 string
	err := s.db.QueryRowContext(ctx,
		`SELECT proj4 FROM graphs WHERE name = ?`, name,
	).Scan(&proj4)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: graph %q", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get graph %q", name)
	}

	g := graph.New(proj4)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, x, y FROM graph_nodes WHERE graph_name = ? ORDER BY id`, name)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load nodes for %q", name)
	}
	defer rows.Close()
	for rows.Next() {
		var n graph.Node
		if err := rows.Scan(&n.ID, &n.X, &n.Y); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan node")
		}
		g.AddNode(n)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate nodes")
	}

	edgeRows, err := s.db.QueryContext(ctx,
		`SELECT u, v, edge_key, length, geom FROM graph_edges WHERE graph_name = ? ORDER BY u, v, edge_key`, name)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load edges for %q", name)
	}
	defer edgeRows.Close()
	for edgeRows.Next() {
		var e graph.Edge
		var blob []byte
		if err := edgeRows.Scan(&e.U, &e.V, &e.Key, &e.Length, &blob); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan edge")
		}
		if e.Geom, err = unmarshalWKBLine(blob); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode edge %d-%d", e.U, e.V)
		}
		g.AddEdge(&e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate edges")
	}

	return g, nil
}

func (s *SQLiteStore) SavePopulation(ctx context.Context, dataset string, resolution int, cells []model.PopulationCell) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save population")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO population_cells (dataset, resolution, cell, population) VALUES (?, ?, ?, ?)
		 ON CONFLICT(dataset, resolution, cell) DO UPDATE SET population = excluded.population`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare population insert")
	}
	defer stmt.Close()
	for _, pc := range cells {
		if _, err := stmt.ExecContext(ctx, dataset, resolution, pc.Cell.String(), pc.Population); err != nil {
			return eris.Wrapf(err, "sqlite: insert population cell %s", pc.Cell)
		}
	}

	return eris.Wrapf(tx.Commit(), "sqlite: commit population %q", dataset)
}

func (s *SQLiteStore) LoadPopulation(ctx context.Context, dataset string, resolution int) ([]model.PopulationCell, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cell, population FROM population_cells WHERE dataset = ? AND resolution = ? ORDER BY cell`,
		dataset, resolution)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load population %q", dataset)
	}
	defer rows.Close()

	var cells []model.PopulationCell
	for rows.Next() {
		var id string
		var pop float64
		if err := rows.Scan(&id, &pop); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan population cell")
		}
		cell := h3.Cell(h3.IndexFromString(id))
		if !cell.IsValid() {
			return nil, eris.Errorf("sqlite: corrupt cell id %q in dataset %q", id, dataset)
		}
		cells = append(cells, model.PopulationCell{Cell: cell, Population: pop})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate population")
	}
	if len(cells) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: population dataset %q at resolution %d", dataset, resolution)
	}
	return cells, nil
}

func (s *SQLiteStore) SaveCoverage(ctx context.Context, result *model.CoverageResult, params coverage.Params) error {
	if result == nil || result.RunID == "" {
		return eris.New("sqlite: coverage result missing run id")
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal params")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save coverage")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO coverage_runs (id, params, created_at) VALUES (?, ?, ?)`,
		result.RunID, string(paramsJSON), time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert run %s", result.RunID)
	}

	for _, b := range result.Bands {
		blob, err := marshalWKB(b.Geom)
		if err != nil {
			return eris.Wrapf(err, "sqlite: encode band %d", b.Rank)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO coverage_bands (run_id, rank, label, level, geom) VALUES (?, ?, ?, ?, ?)`,
			result.RunID, b.Rank, b.Label, b.Level, blob,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert band %d", b.Rank)
		}
	}

	if len(result.HexAccessibility) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO coverage_cells (run_id, cell, level) VALUES (?, ?, ?)`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare cell insert")
		}
		defer stmt.Close()
		for _, cl := range result.HexAccessibility {
			if _, err := stmt.ExecContext(ctx, result.RunID, cl.Cell.String(), cl.Level); err != nil {
				return eris.Wrapf(err, "sqlite: insert coverage cell %s", cl.Cell)
			}
		}
	}

	if len(result.HexPopulation) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO coverage_population (run_id, cell, population, accessibility) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare population coverage insert")
		}
		defer stmt.Close()
		for _, pc := range result.HexPopulation {
			if _, err := stmt.ExecContext(ctx, result.RunID, pc.Cell.String(), pc.Population, pc.Accessibility); err != nil {
				return eris.Wrapf(err, "sqlite: insert population coverage %s", pc.Cell)
			}
		}
	}

	return eris.Wrapf(tx.Commit(), "sqlite: commit coverage run %s", result.RunID)
}

// Geometries are stored as little-endian WKB blobs.

func marshalWKB(g geom.T) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	return wkb.Marshal(g, wkb.NDR)
}

func unmarshalWKBLine(blob []byte) (*geom.LineString, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	g, err := wkb.Unmarshal(blob)
	if err != nil {
		return nil, eris.Wrap(err, "decode wkb")
	}
	ls, ok := g.(*geom.LineString)
	if !ok {
		return nil, eris.Errorf("expected linestring, got %T", g)
	}
	return ls, nil
}
