// Package postgis is the PostGIS-backed feature repository.
package postgis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/survey-spatial-api/internal/core/model"
	"github.com/mohammed-shakir/survey-spatial-api/internal/core/observability"
	"github.com/mohammed-shakir/survey-spatial-api/internal/features"
)

const (
	storeLabel   = "postgis"
	DefaultTable = "features"
)

type Store struct {
	db    *sql.DB
	table string
}

// Open connects with lib/pq and verifies the connection.
func Open(ctx context.Context, dsn, table string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgis: DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgis open: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := New(db, table)
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func New(db *sql.DB, table string) *Store {
	if table == "" {
		table = DefaultTable
	}
	return &Store{db: db, table: table}
}

func (s *Store) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.db.PingContext(ctx)
	observability.ObserveStoreOp(storeLabel, "ping", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("postgis ping: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("postgis close: %w", err)
	}
	return nil
}

func (s *Store) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.table) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgis schema: %w", describe(err))
		}
	}
	return nil
}

// Insert upserts features in one transaction.
func (s *Store) Insert(ctx context.Context, fs []model.Feature) (int, error) {
	start := time.Now()
	n, err := s.insert(ctx, fs)
	observability.ObserveStoreOp(storeLabel, "insert", err, time.Since(start).Seconds())
	return n, err
}

func (s *Store) insert(ctx context.Context, fs []model.Feature) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("postgis begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertSQL(s.table))
	if err != nil {
		return 0, fmt.Errorf("postgis prepare: %w", describe(err))
	}
	defer func() { _ = stmt.Close() }()

	n := 0
	for _, f := range fs {
		geom, err := json.Marshal(geojson.NewGeometry(f.Geometry))
		if err != nil {
			return n, fmt.Errorf("feature %q geometry: %w", f.ID, err)
		}
		props := f.Properties
		if props == nil {
			props = map[string]any{}
		}
		pb, err := json.Marshal(props)
		if err != nil {
			return n, fmt.Errorf("feature %q properties: %w", f.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, f.ID, string(geom), string(pb)); err != nil {
			return n, fmt.Errorf("feature %q upsert: %w", f.ID, describe(err))
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("postgis commit: %w", err)
	}
	return n, nil
}

func (s *Store) QueryByBoundingBox(ctx context.Context, bb model.BBox, f features.Filter) ([]model.Feature, error) {
	q, args := bboxQuery(s.table, bb, f)
	return s.query(ctx, "bbox", q, args)
}

func (s *Store) QueryByPoint(ctx context.Context, p model.Point, f features.Filter) ([]model.Feature, error) {
	q, args := pointQuery(s.table, p, f)
	return s.query(ctx, "point", q, args)
}

func (s *Store) query(ctx context.Context, op, q string, args []any) ([]model.Feature, error) {
	start := time.Now()
	out, err := s.scan(ctx, q, args)
	observability.ObserveStoreOp(storeLabel, op, err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("postgis %s query: %w", op, err)
	}
	return out, nil
}

func (s *Store) scan(ctx context.Context, q string, args []any) ([]model.Feature, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, describe(err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.Feature{}
	for rows.Next() {
		var id, geom, props string
		if err := rows.Scan(&id, &geom, &props); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		f, err := decodeRow(id, geom, props)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func decodeRow(id, geom, props string) (model.Feature, error) {
	g, err := geojson.UnmarshalGeometry([]byte(geom))
	if err != nil {
		return model.Feature{}, fmt.Errorf("feature %q geometry: %w", id, err)
	}
	f := model.Feature{ID: id, Geometry: g.Geometry(), Properties: map[string]any{}}
	if props != "" {
		if err := json.Unmarshal([]byte(props), &f.Properties); err != nil {
			return model.Feature{}, fmt.Errorf("feature %q properties: %w", id, err)
		}
	}
	return f, nil
}

// --- SQL ---

func schemaStatements(table string) []string {
	t := pq.QuoteIdentifier(table)
	idx := pq.QuoteIdentifier(table + "_geom_gist")
	return []string{
		`CREATE EXTENSION IF NOT EXISTS postgis`,
		`CREATE TABLE IF NOT EXISTS ` + t + ` (
	id         TEXT PRIMARY KEY,
	geom       geometry(Geometry, 4326) NOT NULL,
	properties JSONB NOT NULL DEFAULT '{}'::jsonb
)`,
		`CREATE INDEX IF NOT EXISTS ` + idx + ` ON ` + t + ` USING GIST (geom)`,
	}
}

func upsertSQL(table string) string {
	return `INSERT INTO ` + pq.QuoteIdentifier(table) + ` (id, geom, properties)
VALUES ($1, ST_SetSRID(ST_GeomFromGeoJSON($2), 4326), $3::jsonb)
ON CONFLICT (id) DO UPDATE SET geom = EXCLUDED.geom, properties = EXCLUDED.properties`
}

func selectPrefix(table string) string {
	return `SELECT id, ST_AsGeoJSON(geom), properties::text FROM ` + pq.QuoteIdentifier(table) + ` WHERE `
}

func bboxQuery(table string, bb model.BBox, f features.Filter) (string, []any) {
	args := []any{bb.MinLon, bb.MinLat, bb.MaxLon, bb.MaxLat}
	where := []string{`ST_Intersects(geom, ST_MakeEnvelope($1, $2, $3, $4, 4326))`}
	where, args = appendFilter(where, args, f)
	return selectPrefix(table) + strings.Join(where, " AND ") + ` ORDER BY id`, args
}

func pointQuery(table string, p model.Point, f features.Filter) (string, []any) {
	args := []any{p.Lon, p.Lat}
	where := []string{
		`GeometryType(geom) IN ('POLYGON', 'MULTIPOLYGON')`,
		`ST_Contains(geom, ST_SetSRID(ST_MakePoint($1, $2), 4326))`,
	}
	where, args = appendFilter(where, args, f)
	return selectPrefix(table) + strings.Join(where, " AND ") + ` ORDER BY id`, args
}

func appendFilter(where []string, args []any, f features.Filter) ([]string, []any) {
	if f.Type != "" {
		args = append(args, f.Type)
		where = append(where, `properties->>'type' = $`+strconv.Itoa(len(args)))
	}
	if f.Source != "" {
		args = append(args, f.Source)
		where = append(where, `properties->>'source' = $`+strconv.Itoa(len(args)))
	}
	return where, args
}

// describe adds the SQLSTATE of server errors.
func describe(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%s (sqlstate %s): %w", pqErr.Message, pqErr.Code, err)
	}
	return err
}
