package main

import (
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/geohealth-lab/tractindex/internal/catalog"
	"github.com/geohealth-lab/tractindex/internal/config"
	"github.com/geohealth-lab/tractindex/internal/fetcher"
	"github.com/geohealth-lab/tractindex/internal/tract"
	"github.com/geohealth-lab/tractindex/internal/visitation"
)

// loadService fetches both source tables and assembles the tract service.
// Either load may fail without aborting: the service then runs degraded,
// answering errors on data routes, rather than refusing to start. That is a
// deliberate availability-over-correctness choice.
func loadService(ctx context.Context, dataCfg config.DataConfig) (*tract.Service, error) {
	cat, err := catalog.Load(dataCfg.CatalogPath)
	if err != nil {
		return nil, err
	}

	f, err := fetcher.New(dataCfg.Backend, dataCfg.Base)
	if err != nil {
		return nil, err
	}

	var geo *tract.GeoTable
	var visits *visitation.Store

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := loadGeoTable(gCtx, f, dataCfg)
		if err != nil {
			zap.L().Error("startup: geo table load failed, serving degraded", zap.Error(err))
			return nil
		}
		geo = t
		return nil
	})
	g.Go(func() error {
		v, err := loadVisitation(gCtx, f, dataCfg)
		if err != nil {
			zap.L().Error("startup: visitation load failed, serving degraded", zap.Error(err))
			return nil
		}
		visits = v
		return nil
	})
	_ = g.Wait()

	svc := tract.NewService(geo, toSource(visits), cat)
	st := svc.Stats()
	zap.L().Info("startup: data load finished",
		zap.Int("geo_rows", st.GeoRows),
		zap.Int("geo_columns", st.GeoColumns),
		zap.Int("visitation_rows", st.VisitationRows),
		zap.Int("residential_variables", len(st.ResidentialVars)),
		zap.Float64("heap_mb", st.HeapMB),
		zap.Bool("degraded", !svc.Loaded()),
	)
	return svc, nil
}

func toSource(v *visitation.Store) tract.VisitationSource {
	if v == nil {
		return nil
	}
	return v
}

func loadGeoTable(ctx context.Context, f fetcher.Fetcher, dataCfg config.DataConfig) (*tract.GeoTable, error) {
	key := dataCfg.GeoKey
	if strings.HasSuffix(strings.ToLower(key), ".shp") {
		local, ok := f.(*fetcher.Local)
		if !ok {
			return nil, eris.New("startup: shapefile geo source requires the local backend")
		}
		return tract.LoadShapefile(local.Path(key), dataCfg.SourceSRID)
	}

	rc, err := f.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return tract.LoadGeoJSON(rc, dataCfg.SourceSRID)
}

func loadVisitation(ctx context.Context, f fetcher.Fetcher, dataCfg config.DataConfig) (*visitation.Store, error) {
	rc, err := f.Fetch(ctx, dataCfg.VisitationKey)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	store, err := visitation.Open()
	if err != nil {
		return nil, err
	}

	if strings.HasSuffix(strings.ToLower(dataCfg.VisitationKey), ".xlsx") {
		data, err := io.ReadAll(rc)
		if err != nil {
			_ = store.Close()
			return nil, eris.Wrap(err, "startup: read visitation xlsx")
		}
		if err := store.LoadXLSX(ctx, data); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	}

	if err := store.LoadCSV(ctx, rc, dataCfg.CSVCharset); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
