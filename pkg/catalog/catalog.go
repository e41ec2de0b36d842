// Package catalog holds the immutable model catalog: the mapping from
// externally-visible model ids to upstream model names, modes, and
// per-model behavior flags. The catalog is loaded once at startup from a
// YAML data file and swapped atomically on reload; alias resolution is a
// pure lookup.
package catalog

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Tier is the credential class a model requires.
type Tier string

const (
	// TierBasic models run on standard credentials.
	TierBasic Tier = "basic"

	// TierSuper models require elevated credentials.
	TierSuper Tier = "super"
)

// Cost is the quota weight of a model.
type Cost string

const (
	CostLow  Cost = "low"
	CostHigh Cost = "high"
)

// Model describes one externally-visible model.
type Model struct {
	// ID is the externally-visible model id (e.g. "grok-4").
	ID string `yaml:"id"`

	// UpstreamModel is the provider-side model name.
	UpstreamModel string `yaml:"upstream_model"`

	// Mode is the provider-side model mode flag.
	// Default: "MODEL_MODE_FAST"
	Mode string `yaml:"mode"`

	// Tier selects the credential kind (basic or super).
	Tier Tier `yaml:"tier"`

	// Cost is the quota weight (low or high).
	Cost Cost `yaml:"cost"`

	// DisplayName is shown in model listings.
	DisplayName string `yaml:"display_name"`

	// IsVideo marks video-generation models.
	IsVideo bool `yaml:"is_video"`

	// IsImage marks image-generation models.
	IsImage bool `yaml:"is_image"`
}

// Elevated reports whether the model requires an elevated credential.
func (m Model) Elevated() bool {
	return m.Tier == TierSuper
}

// Catalog is an immutable snapshot of the model table plus its alias map.
// Lookups never mutate it; Reload builds a fresh snapshot and swaps it in.
type Catalog struct {
	path    string
	current atomic.Pointer[snapshot]
}

type snapshot struct {
	models  map[string]Model
	ordered []Model
	aliases map[string]string
}

// fileFormat is the on-disk shape of the catalog file.
type fileFormat struct {
	Aliases map[string]string `yaml:"aliases"`
	Models  []Model           `yaml:"models"`
}

// Load reads the catalog file and returns a ready Catalog.
// An unreadable or empty catalog is a startup error.
func Load(path string) (*Catalog, error) {
	c := &Catalog{path: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the catalog file and atomically replaces the current
// snapshot. On error the previous snapshot stays in effect.
func (c *Catalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read model catalog %q: %w", c.path, err)
	}

	var raw fileFormat
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse model catalog %q: %w", c.path, err)
	}
	if len(raw.Models) == 0 {
		return fmt.Errorf("model catalog %q contains no models", c.path)
	}

	snap := &snapshot{
		models:  make(map[string]Model, len(raw.Models)),
		ordered: make([]Model, 0, len(raw.Models)),
		aliases: raw.Aliases,
	}
	if snap.aliases == nil {
		snap.aliases = map[string]string{}
	}

	for _, m := range raw.Models {
		if m.ID == "" || m.UpstreamModel == "" {
			return fmt.Errorf("model catalog %q: model entry missing id or upstream_model", c.path)
		}
		if m.Mode == "" {
			m.Mode = "MODEL_MODE_FAST"
		}
		if m.Tier == "" {
			m.Tier = TierBasic
		}
		if m.Cost == "" {
			m.Cost = CostLow
		}
		snap.models[m.ID] = m
		snap.ordered = append(snap.ordered, m)
	}

	c.current.Store(snap)
	return nil
}

// Normalize resolves a model alias to its canonical id. Unknown ids pass
// through unchanged.
func (c *Catalog) Normalize(modelID string) string {
	snap := c.current.Load()
	if canonical, ok := snap.aliases[modelID]; ok {
		return canonical
	}
	return modelID
}

// Get returns the model for an id (after alias resolution) and whether it
// exists.
func (c *Catalog) Get(modelID string) (Model, bool) {
	snap := c.current.Load()
	m, ok := snap.models[c.Normalize(modelID)]
	return m, ok
}

// List returns all models in file order.
func (c *Catalog) List() []Model {
	snap := c.current.Load()
	out := make([]Model, len(snap.ordered))
	copy(out, snap.ordered)
	return out
}

// Elevated reports whether the model requires an elevated credential.
func (c *Catalog) Elevated(modelID string) bool {
	m, ok := c.Get(modelID)
	return ok && m.Elevated()
}
