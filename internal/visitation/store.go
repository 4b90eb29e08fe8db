// Package visitation holds the origin-destination visitation table in an
// in-memory SQLite database and runs the weighted-sum aggregation over it
// as SQL. The table is read-only after load.
package visitation

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/geohealth-lab/tractindex/internal/tract"
)

// WeightColumn is the per-row visitation weight. Rows where it is null or
// zero contribute nothing to any aggregation.
const WeightColumn = "perc_visit"

const zscoreSuffix = "_zscore_d"

// Store is the loaded visitation table.
type Store struct {
	db      *sql.DB
	columns []string
	colSet  map[string]struct{}
	rows    int
}

// Open creates an empty in-memory store.
func Open() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, eris.Wrap(err, "visitation: open sqlite")
	}
	// A second pool connection would see a different :memory: database.
	db.SetMaxOpenConns(1)
	return &Store{db: db, colSet: make(map[string]struct{})}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Columns returns the current schema, in ingest order.
func (s *Store) Columns() []string {
	return append([]string(nil), s.columns...)
}

// MissingColumns returns which of the given columns are absent from the
// current schema. Availability here is never pre-cached: the table is large
// and immutable, so the live schema is the answer.
func (s *Store) MissingColumns(cols []string) []string {
	var missing []string
	for _, c := range cols {
		if _, ok := s.colSet[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

// Rows returns the number of ingested rows.
func (s *Store) Rows() int {
	return s.rows
}

// ingest creates the visits table from a header row and bulk-inserts records.
// Schema is declared, not sniffed: the tract key, the visitation weight, and
// every *_zscore_d column are kept; anything else in the source is dropped.
// Numeric cells that fail to parse, and ±Inf, become NULL.
func (s *Store) ingest(ctx context.Context, header []string, rows func() ([]string, error)) error {
	keyIdx := -1
	weightIdx := -1
	type keptCol struct {
		name string
		idx  int
	}
	var zscores []keptCol
	for i, h := range header {
		h = strings.TrimSpace(h)
		switch {
		case h == tract.KeyColumn:
			keyIdx = i
		case h == WeightColumn:
			weightIdx = i
		case strings.HasSuffix(h, zscoreSuffix):
			zscores = append(zscores, keptCol{name: h, idx: i})
		}
	}
	if keyIdx < 0 {
		return eris.Errorf("visitation: source missing %s column", tract.KeyColumn)
	}
	if weightIdx < 0 {
		return eris.Errorf("visitation: source missing %s column", WeightColumn)
	}

	cols := []string{tract.KeyColumn, WeightColumn}
	defs := []string{quoteIdent(tract.KeyColumn) + " TEXT", quoteIdent(WeightColumn) + " REAL"}
	for _, z := range zscores {
		cols = append(cols, z.name)
		defs = append(defs, quoteIdent(z.name)+" REAL")
	}

	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS visits"); err != nil {
		return eris.Wrap(err, "visitation: drop table")
	}
	create := fmt.Sprintf("CREATE TABLE visits (%s)", strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return eris.Wrap(err, "visitation: create table")
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(cols)), ",")
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	insert := fmt.Sprintf("INSERT INTO visits (%s) VALUES (%s)", strings.Join(quoted, ", "), placeholders)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "visitation: begin tx")
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		_ = tx.Rollback()
		return eris.Wrap(err, "visitation: prepare insert")
	}

	var inserted, badKeys int
	for {
		record, err := rows()
		if err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return err
		}
		if record == nil {
			break
		}

		args := make([]any, 0, len(cols))
		key := tract.NormalizeKey(cell(record, keyIdx))
		if key == "" {
			badKeys++
		}
		args = append(args, key, parseNullFloat(cell(record, weightIdx)))
		for _, z := range zscores {
			args = append(args, parseNullFloat(cell(record, z.idx)))
		}

		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return eris.Wrap(err, "visitation: insert row")
		}
		inserted++
	}
	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return eris.Wrap(err, "visitation: close insert stmt")
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "visitation: commit")
	}

	if badKeys > 0 {
		zap.L().Warn("visitation: rows with null-normalized tract keys will never join",
			zap.Int("count", badKeys),
			zap.Int("total", inserted),
		)
	}

	s.columns = cols
	s.colSet = make(map[string]struct{}, len(cols))
	for _, c := range cols {
		s.colSet[c] = struct{}{}
	}
	s.rows = inserted

	zap.L().Info("visitation: table loaded",
		zap.Int("rows", inserted),
		zap.Int("zscore_columns", len(zscores)),
	)
	return nil
}

// WeightedSum computes, per origin tract, the sum over rows of
// col*weight summed across the selected columns, excluding rows with null or
// zero weight. A row whose selected z-scores include a NULL contributes NULL,
// which SUM skips, matching the SQL semantics the index was defined against.
func (s *Store) WeightedSum(ctx context.Context, cols []string) (*tract.IndexResult, error) {
	if len(cols) == 0 {
		return nil, eris.Wrap(ErrNoColumns, "weighted sum")
	}
	if missing := s.MissingColumns(cols); len(missing) > 0 {
		return nil, eris.Errorf("visitation: columns not in schema: %s", strings.Join(missing, ", "))
	}

	terms := make([]string, len(cols))
	for i, c := range cols {
		terms[i] = fmt.Sprintf("%s * %s", quoteIdent(c), quoteIdent(WeightColumn))
	}
	query := fmt.Sprintf(`
		SELECT %[1]s, SUM(%[2]s) AS total_weighted_sum
		FROM visits
		WHERE %[3]s IS NOT NULL AND %[3]s != 0
		GROUP BY %[1]s`,
		quoteIdent(tract.KeyColumn),
		strings.Join(terms, " + "),
		quoteIdent(WeightColumn),
	)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "visitation: weighted sum query")
	}
	defer rows.Close()

	result := &tract.IndexResult{}
	for rows.Next() {
		var key string
		var sum sql.NullFloat64
		if err := rows.Scan(&key, &sum); err != nil {
			return nil, eris.Wrap(err, "visitation: scan weighted sum row")
		}
		result.Keys = append(result.Keys, tract.NormalizeKey(key))
		if sum.Valid && !math.IsInf(sum.Float64, 0) && !math.IsNaN(sum.Float64) {
			v := sum.Float64
			result.Values = append(result.Values, &v)
		} else {
			result.Values = append(result.Values, nil)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "visitation: iterate weighted sum rows")
	}
	return result, nil
}

// ErrNoColumns guards against an empty selection reaching the engine; the
// resolver is supposed to make that impossible.
var ErrNoColumns = eris.New("visitation: no columns selected")

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return record[idx]
}

func parseNullFloat(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
