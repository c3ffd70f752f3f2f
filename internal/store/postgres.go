package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkbhex"
	h3 "github.com/uber/h3-go/v4"

	"github.com/urbanatlas/coverage-cli/internal/coverage"
	"github.com/urbanatlas/coverage-cli/internal/db"
	"github.com/urbanatlas/coverage-cli/internal/graph"
	"github.com/urbanatlas/coverage-cli/internal/model"
)

// PostgresStore implements Store using pgxpool. Geometries are stored as
// EWKB hex text so the schema works on stock Postgres; a PostGIS database
// can cast the columns to geometry without re-encoding.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlLoadGraphNodes = `SELECT id, x, y FROM graph_nodes WHERE graph_name = $1 ORDER BY id`
	sqlLoadGraphEdges = `SELECT u, v, edge_key, length, geom FROM graph_edges WHERE graph_name = $1 ORDER BY u, v, edge_key`
	sqlLoadPopulation = `SELECT cell, population FROM population_cells WHERE dataset = $1 AND resolution = $2 ORDER BY cell`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"load_graph_nodes": sqlLoadGraphNodes,
	"load_graph_edges": sqlLoadGraphEdges,
	"load_population":  sqlLoadPopulation,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS graphs (
	name       TEXT PRIMARY KEY,
	proj4      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS graph_nodes (
	graph_name TEXT NOT NULL REFERENCES graphs(name) ON DELETE CASCADE,
	id         BIGINT NOT NULL,
	x          DOUBLE PRECISION NOT NULL,
	y          DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (graph_name, id)
);

CREATE TABLE IF NOT EXISTS graph_edges (
	graph_name TEXT NOT NULL REFERENCES graphs(name) ON DELETE CASCADE,
	u          BIGINT NOT NULL,
	v          BIGINT NOT NULL,
	edge_key   INTEGER NOT NULL,
	length     DOUBLE PRECISION NOT NULL,
	geom       TEXT,
	PRIMARY KEY (graph_name, u, v, edge_key)
);

CREATE TABLE IF NOT EXISTS population_cells (
	dataset    TEXT NOT NULL,
	resolution INTEGER NOT NULL,
	cell       TEXT NOT NULL,
	population DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (dataset, resolution, cell)
);

CREATE TABLE IF NOT EXISTS coverage_runs (
	id         TEXT PRIMARY KEY,
	params     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS coverage_bands (
	run_id TEXT NOT NULL REFERENCES coverage_runs(id) ON DELETE CASCADE,
	rank   INTEGER NOT NULL,
	label  TEXT NOT NULL,
	level  DOUBLE PRECISION NOT NULL,
	geom   TEXT,
	PRIMARY KEY (run_id, rank)
);

CREATE TABLE IF NOT EXISTS coverage_cells (
	run_id TEXT NOT NULL REFERENCES coverage_runs(id) ON DELETE CASCADE,
	cell   TEXT NOT NULL,
	level  DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, cell)
);

CREATE TABLE IF NOT EXISTS coverage_population (
	run_id        TEXT NOT NULL REFERENCES coverage_runs(id) ON DELETE CASCADE,
	cell          TEXT NOT NULL,
	population    DOUBLE PRECISION NOT NULL,
	accessibility DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, cell)
);

CREATE INDEX IF NOT EXISTS idx_graph_edges_u ON graph_edges(graph_name, u);
CREATE INDEX IF NOT EXISTS idx_population_dataset ON population_cells(dataset, resolution);
CREATE INDEX IF NOT EXISTS idx_coverage_bands_run ON coverage_bands(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveGraph(ctx context.Context, name string, g *graph.Graph) error {
	if g == nil {
		return eris.New("postgres: nil graph")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save graph")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	_, err = tx.Exec(ctx,
		`INSERT INTO graphs (name, proj4, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET proj4 = EXCLUDED.proj4, created_at = EXCLUDED.created_at`,
		name, g.Proj(), time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert graph %q", name)
	}
	for _, table := range []string{"graph_nodes", "graph_edges"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE graph_name = $1`, name); err != nil {
			return eris.Wrapf(err, "postgres: clear %s for %q", table, name)
		}
	}

	nodes := g.Nodes()
	nodeRows := make([][]any, 0, len(nodes))
	for _, n := range nodes {
		nodeRows = append(nodeRows, []any{name, n.ID, n.X, n.Y})
	}
	if _, err := db.CopyFrom(ctx, tx, "graph_nodes", []string{"graph_name", "id", "x", "y"}, nodeRows); err != nil {
		return eris.Wrapf(err, "postgres: copy nodes for %q", name)
	}

	edges := g.Edges()
	edgeRows := make([][]any, 0, len(edges))
	for _, e := range edges {
		hexGeom, err := encodeEWKBHex(e.Geom)
		if err != nil {
			return eris.Wrapf(err, "postgres: encode edge %d-%d", e.U, e.V)
		}
		edgeRows = append(edgeRows, []any{name, e.U, e.V, e.Key, e.Length, hexGeom})
	}
	if _, err := db.CopyFrom(ctx, tx, "graph_edges", []string{"graph_name", "u", "v", "edge_key", "length", "geom"}, edgeRows); err != nil {
		return eris.Wrapf(err, "postgres: copy edges for %q", name)
	}

	return eris.Wrapf(tx.Commit(ctx), "postgres: commit graph %q", name)
}

func (s *PostgresStore) LoadGraph(ctx context.Context, name string) (*graph.Graph, error) {
	var proj4 string
	err := s.pool.QueryRow(ctx,
		`SELECT proj4 FROM graphs WHERE name = $1`, name,
	).Scan(&proj4)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: graph %q", name)
		}
		return nil, eris.Wrapf(err, "postgres: get graph %q", name)
	}

	g := graph.New(proj4)

	rows, err := s.pool.Query(ctx, sqlLoadGraphNodes, name)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load nodes for %q", name)
	}
	defer rows.Close()
	for rows.Next() {
		var n graph.Node
		if err := rows.Scan(&n.ID, &n.X, &n.Y); err != nil {
			return nil, eris.Wrap(err, "postgres: scan node")
		}
		g.AddNode(n)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate nodes")
	}

	edgeRows, err := s.pool.Query(ctx, sqlLoadGraphEdges, name)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load edges for %q", name)
	}
	defer edgeRows.Close()
	for edgeRows.Next() {
		var e graph.Edge
		var hexGeom *string
		if err := edgeRows.Scan(&e.U, &e.V, &e.Key, &e.Length, &hexGeom); err != nil {
			return nil, eris.Wrap(err, "postgres: scan edge")
		}
		if e.Geom, err = decodeEWKBHexLine(hexGeom); err != nil {
			return nil, eris.Wrapf(err, "postgres: decode edge %d-%d", e.U, e.V)
		}
		g.AddEdge(&e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate edges")
	}

	return g, nil
}

func (s *PostgresStore) SavePopulation(ctx context.Context, dataset string, resolution int, cells []model.PopulationCell) error {
	rows := make([][]any, 0, len(cells))
	for _, pc := range cells {
		rows = append(rows, []any{dataset, resolution, pc.Cell.String(), pc.Population})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "population_cells",
		Columns:      []string{"dataset", "resolution", "cell", "population"},
		ConflictKeys: []string{"dataset", "resolution", "cell"},
	}, rows)
	return eris.Wrapf(err, "postgres: save population %q", dataset)
}

func (s *PostgresStore) LoadPopulation(ctx context.Context, dataset string, resolution int) ([]model.PopulationCell, error) {
	rows, err := s.pool.Query(ctx, sqlLoadPopulation, dataset, resolution)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load population %q", dataset)
	}
	defer rows.Close()

	var cells []model.PopulationCell
	for rows.Next() {
		var id string
		var pop float64
		if err := rows.Scan(&id, &pop); err != nil {
			return nil, eris.Wrap(err, "postgres: scan population cell")
		}
		cell := h3.Cell(h3.IndexFromString(id))
		if !cell.IsValid() {
			return nil, eris.Errorf("postgres: corrupt cell id %q in dataset %q", id, dataset)
		}
		cells = append(cells, model.PopulationCell{Cell: cell, Population: pop})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate population")
	}
	if len(cells) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "postgres: population dataset %q at resolution %d", dataset, resolution)
	}
	return cells, nil
}

func (s *PostgresStore) SaveCoverage(ctx context.Context, result *model.CoverageResult, params coverage.Params) error {
	if result == nil || result.RunID == "" {
		return eris.New("postgres: coverage result missing run id")
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal params")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save coverage")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	_, err = tx.Exec(ctx,
		`INSERT INTO coverage_runs (id, params, created_at) VALUES ($1, $2, $3)`,
		result.RunID, paramsJSON, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert run %s", result.RunID)
	}

	for _, b := range result.Bands {
		hexGeom, err := encodeEWKBHex(b.Geom)
		if err != nil {
			return eris.Wrapf(err, "postgres: encode band %d", b.Rank)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO coverage_bands (run_id, rank, label, level, geom) VALUES ($1, $2, $3, $4, $5)`,
			result.RunID, b.Rank, b.Label, b.Level, hexGeom,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert band %d", b.Rank)
		}
	}

	if len(result.HexAccessibility) > 0 {
		cellRows := make([][]any, 0, len(result.HexAccessibility))
		for _, cl := range result.HexAccessibility {
			cellRows = append(cellRows, []any{result.RunID, cl.Cell.String(), cl.Level})
		}
		if _, err := db.CopyFrom(ctx, tx, "coverage_cells", []string{"run_id", "cell", "level"}, cellRows); err != nil {
			return eris.Wrapf(err, "postgres: copy coverage cells for %s", result.RunID)
		}
	}

	if len(result.HexPopulation) > 0 {
		popRows := make([][]any, 0, len(result.HexPopulation))
		for _, pc := range result.HexPopulation {
			popRows = append(popRows, []any{result.RunID, pc.Cell.String(), pc.Population, pc.Accessibility})
		}
		if _, err := db.CopyFrom(ctx, tx, "coverage_population", []string{"run_id", "cell", "population", "accessibility"}, popRows); err != nil {
			return eris.Wrapf(err, "postgres: copy population coverage for %s", result.RunID)
		}
	}

	return eris.Wrapf(tx.Commit(ctx), "postgres: commit coverage run %s", result.RunID)
}

// Geometries are stored as EWKB hex text; NULL means no geometry.

func encodeEWKBHex(g geom.T) (*string, error) {
	if g == nil {
		return nil, nil
	}
	s, err := ewkbhex.Encode(g, ewkbhex.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "encode ewkb")
	}
	return &s, nil
}

func decodeEWKBHexLine(s *string) (*geom.LineString, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	g, err := ewkbhex.Decode(*s)
	if err != nil {
		return nil, eris.Wrap(err, "decode ewkb")
	}
	ls, ok := g.(*geom.LineString)
	if !ok {
		return nil, eris.Errorf("expected linestring, got %T", g)
	}
	return ls, nil
}
