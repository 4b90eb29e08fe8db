// Package catalog maps user-facing index variable names to the backend
// z-score columns backing them in the two source tables.
package catalog

import (
	_ "embed"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Source selects which table an index variable resolves against.
type Source int

const (
	// Residential resolves to {stem}_zscore_o columns in the base geo table.
	Residential Source = iota
	// Activity resolves to {stem}_zscore_d columns in the visitation table.
	Activity
)

const (
	residentialZScoreSuffix = "_zscore_o"
	activityZScoreSuffix    = "_zscore_d"
)

type catalogFile struct {
	Variables       map[string]string `yaml:"variables"`
	FrontendColumns []string          `yaml:"frontend_columns"`
}

// Catalog is the fixed, startup-defined variable mapping plus the
// residential availability view computed once against the loaded geo table.
type Catalog struct {
	stems            map[string]string
	frontend         []string
	residentialAvail map[string]struct{}
}

// Load reads the catalog definition. An empty path loads the embedded
// default; otherwise the file at path replaces it wholesale.
func Load(path string) (*Catalog, error) {
	raw := defaultCatalogYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: read %s", path)
		}
		raw = b
	}

	var cf catalogFile
	if err := yaml.Unmarshal(raw, &cf); err != nil {
		return nil, eris.Wrap(err, "catalog: parse yaml")
	}
	if len(cf.Variables) == 0 {
		return nil, eris.New("catalog: no variables defined")
	}

	return &Catalog{
		stems:            cf.Variables,
		frontend:         cf.FrontendColumns,
		residentialAvail: make(map[string]struct{}),
	}, nil
}

// Variables returns every selectable user-facing variable name, sorted.
func (c *Catalog) Variables() []string {
	out := make([]string, 0, len(c.stems))
	for v := range c.stems {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// FrontendColumns returns the geo table columns the frontend reads directly.
func (c *Catalog) FrontendColumns() []string {
	return append([]string(nil), c.frontend...)
}

// ZScoreColumn resolves one variable to its backend column for the given
// source. Returns false for names not in the catalog.
func (c *Catalog) ZScoreColumn(name string, src Source) (string, bool) {
	stem, ok := c.stems[name]
	if !ok {
		return "", false
	}
	if src == Activity {
		return stem + activityZScoreSuffix, true
	}
	return stem + residentialZScoreSuffix, true
}

// VerifyResidential computes the load-time availability view: which catalog
// variables have their _zscore_o column present in the geo table. It is the
// source of truth for residential resolution and is not recomputed per
// request.
func (c *Catalog) VerifyResidential(hasColumn func(string) bool) []string {
	avail := make(map[string]struct{})
	var names []string
	for name := range c.stems {
		col, _ := c.ZScoreColumn(name, Residential)
		if hasColumn(col) {
			avail[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	c.residentialAvail = avail
	zap.L().Info("catalog: residential availability verified",
		zap.Int("available", len(names)),
		zap.Int("catalog", len(c.stems)),
	)
	return names
}

// ResidentialVariables returns the variables usable for residential indices,
// per the load-time availability view.
func (c *Catalog) ResidentialVariables() []string {
	out := make([]string, 0, len(c.residentialAvail))
	for v := range c.residentialAvail {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Resolve partitions the requested names into resolved backend columns and
// rejected names, preserving request order. Unknown names are always
// rejected. Residential names additionally require load-time availability;
// activity availability is the caller's to check against the visitation
// table's current schema.
func (c *Catalog) Resolve(names []string, src Source) (resolved, rejected []string) {
	for _, name := range names {
		col, ok := c.ZScoreColumn(name, src)
		if !ok {
			rejected = append(rejected, name)
			continue
		}
		if src == Residential {
			if _, avail := c.residentialAvail[name]; !avail {
				rejected = append(rejected, name)
				continue
			}
		}
		resolved = append(resolved, col)
	}
	return resolved, rejected
}
