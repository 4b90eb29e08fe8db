package tract

import (
	"context"
	"runtime"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/geohealth-lab/tractindex/internal/catalog"
)

// VisitationSource is the read-only visitation table the activity index
// aggregates over.
type VisitationSource interface {
	Columns() []string
	MissingColumns(cols []string) []string
	WeightedSum(ctx context.Context, cols []string) (*IndexResult, error)
	Rows() int
}

// Service owns the shared mutable base geo table. Index generation is a full
// read-modify-write cycle (resolve, aggregate, drop old column, merge,
// register, snapshot); one mutex guards the whole cycle so a concurrent
// reader can never observe a torn schema mid-drop.
type Service struct {
	mu sync.Mutex

	geo      *GeoTable
	visits   VisitationSource
	cat      *catalog.Catalog
	registry *Registry

	// Frontend-required columns confirmed present in the geo table at load.
	verifiedCols []string
}

// NewService wires the loaded tables together. Either table may be nil: the
// process serves a degraded state (every data route fails with
// ErrDataNotLoaded) rather than refusing to start.
func NewService(geo *GeoTable, visits VisitationSource, cat *catalog.Catalog) *Service {
	s := &Service{
		geo:      geo,
		visits:   visits,
		cat:      cat,
		registry: NewRegistry(),
	}
	if geo == nil {
		return s
	}

	var missing []string
	for _, col := range cat.FrontendColumns() {
		if geo.HasColumn(col) {
			s.verifiedCols = append(s.verifiedCols, col)
		} else {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		zap.L().Warn("tract: frontend columns missing from geo table",
			zap.Strings("columns", missing),
		)
	}
	cat.VerifyResidential(geo.HasColumn)
	return s
}

// Loaded reports whether both source tables are available.
func (s *Service) Loaded() bool {
	return s.geo != nil && s.visits != nil
}

// GeoLoaded reports whether the base geo table is available.
func (s *Service) GeoLoaded() bool {
	return s.geo != nil
}

// IndexFields returns the user-facing variable names selectable for index
// generation.
func (s *Service) IndexFields() []string {
	return s.cat.Variables()
}

// SnapshotGeoJSON returns the column-filtered, WGS84 view of the current geo
// table.
func (s *Service) SnapshotGeoJSON() (*geojson.FeatureCollection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.geo == nil {
		return nil, eris.Wrap(ErrDataNotLoaded, "geo table")
	}
	return s.snapshotLocked()
}

// snapshotLocked builds the externalized view: key, geometry, verified
// frontend columns, and every live generated index column.
func (s *Service) snapshotLocked() (*geojson.FeatureCollection, error) {
	cols := append([]string(nil), s.verifiedCols...)
	cols = append(cols, s.registry.Names()...)
	return s.geo.Snapshot(cols)
}

// GenerateActivityIndex computes a visitation-weighted activity index over
// the selected variables, merges it into the geo table as {name}_ACT, and
// returns the updated snapshot plus any variable names that failed
// resolution.
func (s *Service) GenerateActivityIndex(ctx context.Context, name string, variables []string) (*geojson.FeatureCollection, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.geo == nil || s.visits == nil {
		return nil, nil, eris.Wrap(ErrDataNotLoaded, notLoadedDetail(s.geo == nil, s.visits == nil))
	}
	column, resolved, rejected, err := s.validateRequest(name, variables, ActivitySuffix, catalog.Activity)
	if err != nil {
		return nil, nil, err
	}

	if missing := s.visits.MissingColumns(resolved); len(missing) > 0 {
		return nil, nil, eris.Wrapf(ErrMissingColumn, "visitation table lacks %s", strings.Join(missing, ", "))
	}

	result, err := s.visits.WeightedSum(ctx, resolved)
	if err != nil {
		return nil, nil, eris.Wrap(ErrAggregationFailure, err.Error())
	}

	// Final index value: grouped weighted sum divided by the number of
	// requested variables, scaled by 100. The divisor is the requested
	// count, not the per-row non-null count; the residential path differs
	// intentionally.
	divisor := float64(len(resolved))
	for i, v := range result.Values {
		if v == nil {
			continue
		}
		scaled := *v / divisor * 100.0
		result.Values[i] = &scaled
	}
	result.Keys = NormalizeKeys("activity aggregation", anySlice(result.Keys))

	s.dropGeneratedLocked(column)
	if err := s.geo.MergeColumn(column, result); err != nil {
		return nil, nil, err
	}
	s.registry.Register(column)

	s.logTableState("activity index generated", column)

	fc, err := s.snapshotLocked()
	if err != nil {
		return nil, nil, err
	}
	return fc, rejected, nil
}

// GenerateResidentialIndex computes an unweighted mean over the selected
// residential z-score columns, attaches it as {name}_RES, and returns the
// updated snapshot plus rejected variable names.
func (s *Service) GenerateResidentialIndex(ctx context.Context, name string, variables []string) (*geojson.FeatureCollection, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.geo == nil {
		return nil, nil, eris.Wrap(ErrDataNotLoaded, "geo table")
	}
	column, resolved, rejected, err := s.validateRequest(name, variables, ResidentialSuffix, catalog.Residential)
	if err != nil {
		return nil, nil, err
	}

	// The availability view was cached at load time; the live schema must
	// still agree, or something dropped columns out from under us.
	for _, col := range resolved {
		if !s.geo.HasColumn(col) {
			return nil, nil, eris.Wrapf(ErrMissingColumn, "geo table lacks %s", col)
		}
	}

	// Per-tract mean over whichever selected columns are non-null, scaled by
	// 100. All-null rows stay null.
	values := make([]*float64, s.geo.Len())
	for i := 0; i < s.geo.Len(); i++ {
		var sum float64
		var n int
		for _, col := range resolved {
			if f, ok := s.geo.FloatAt(i, col); ok {
				sum += f
				n++
			}
		}
		if n > 0 {
			mean := sum / float64(n) * 100.0
			values[i] = &mean
		}
	}

	s.dropGeneratedLocked(column)
	if err := s.geo.SetColumn(column, values); err != nil {
		return nil, nil, err
	}
	s.registry.Register(column)

	s.logTableState("residential index generated", column)

	fc, err := s.snapshotLocked()
	if err != nil {
		return nil, nil, err
	}
	return fc, rejected, nil
}

// validateRequest handles the shared input validation and resolution for both
// generation paths.
func (s *Service) validateRequest(name string, variables []string, suffix string, src catalog.Source) (column string, resolved, rejected []string, err error) {
	if strings.TrimSpace(name) == "" {
		return "", nil, nil, eris.Wrap(ErrInvalidInput, "index name required")
	}
	if len(variables) == 0 {
		return "", nil, nil, eris.Wrap(ErrInvalidInput, "no variables selected")
	}

	base, err := SanitizeIndexName(name)
	if err != nil {
		return "", nil, nil, err
	}
	column = base + suffix

	resolved, rejected = s.cat.Resolve(variables, src)
	if len(rejected) > 0 {
		zap.L().Warn("tract: ignoring unresolvable variables",
			zap.String("column", column),
			zap.Strings("variables", rejected),
		)
	}
	if len(resolved) == 0 {
		return "", nil, nil, eris.Wrapf(ErrNoValidVariables, "requested %s", strings.Join(variables, ", "))
	}
	return column, resolved, rejected, nil
}

// dropGeneratedLocked removes a prior generation under the same name so at
// most one live column per name exists. Drop and unregister happen in the
// same step to hold the registry/column equivalence.
func (s *Service) dropGeneratedLocked(column string) {
	if !s.geo.HasColumn(column) {
		return
	}
	zap.L().Info("tract: replacing existing generated column", zap.String("column", column))
	s.geo.DropColumn(column)
	s.registry.Unregister(column)
}

// Stats summarizes the in-memory datasets for diagnostics.
type Stats struct {
	GeoRows         int      `json:"geo_rows"`
	GeoColumns      int      `json:"geo_columns"`
	VisitationRows  int      `json:"visitation_rows"`
	GeneratedCols   []string `json:"generated_columns"`
	ResidentialVars []string `json:"residential_variables"`
	HeapMB          float64  `json:"heap_mb"`
}

// Snapshot of table sizes and live generated columns.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		GeneratedCols:   s.registry.Names(),
		ResidentialVars: s.cat.ResidentialVariables(),
	}
	if s.geo != nil {
		st.GeoRows = s.geo.Len()
		st.GeoColumns = len(s.geo.Columns())
	}
	if s.visits != nil {
		st.VisitationRows = s.visits.Rows()
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	st.HeapMB = float64(ms.HeapAlloc) / (1 << 20)
	return st
}

func (s *Service) logTableState(msg, column string) {
	zap.L().Info(msg,
		zap.String("column", column),
		zap.Int("geo_rows", s.geo.Len()),
		zap.Int("geo_columns", len(s.geo.Columns())),
		zap.Int("generated", s.registry.Len()),
	)
}

func notLoadedDetail(geoMissing, visitsMissing bool) string {
	var parts []string
	if geoMissing {
		parts = append(parts, "geo table")
	}
	if visitsMissing {
		parts = append(parts, "visitation table")
	}
	return strings.Join(parts, " and ")
}

func anySlice(keys []string) []any {
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}
