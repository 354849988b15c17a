// Package registry holds the pipeline definitions loaded from disk.
// Definitions are immutable once published; only Load and Reload mutate the
// set.
package registry

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"pipelined/internal/errs"
	"pipelined/pkg/types"
)

type Registry struct {
	mu    sync.RWMutex
	roots []string
	defs  map[string]map[string]types.PipelineDefinition
	log   zerolog.Logger
}

func New(log zerolog.Logger) *Registry {
	return &Registry{defs: make(map[string]map[string]types.PipelineDefinition), log: log}
}

// Load scans root and adds its definitions. A definition already present
// under the same name and version is replaced.
func (r *Registry) Load(root string) ([]types.PipelineDefinition, error) {
	defs, err := r.scan(root)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roots = appendUnique(r.roots, root)
	index(r.defs, defs)
	return defs, nil
}

// Reload rescans the roots passed to Load and replaces the whole set. If any
// root fails to scan the previous definitions stay in place.
func (r *Registry) Reload() error {
	r.mu.RLock()
	roots := append([]string(nil), r.roots...)
	r.mu.RUnlock()
	next := make(map[string]map[string]types.PipelineDefinition)
	for _, root := range roots {
		defs, err := r.scan(root)
		if err != nil {
			r.log.Error().Str("event", "pipelines_reload_failed").Str("root", root).Err(err).Msg("keeping previous pipeline definitions")
			return err
		}
		index(next, defs)
	}
	r.mu.Lock()
	r.defs = next
	r.mu.Unlock()
	return nil
}

func (r *Registry) scan(root string) ([]types.PipelineDefinition, error) {
	defs, skipped, err := LoadDir(root)
	if err != nil {
		return nil, err
	}
	for _, s := range skipped {
		r.log.Warn().Str("event", "pipeline_skipped").Str("path", s.Path).Err(s.Err).Msg("skipping pipeline definition")
	}
	r.log.Info().Str("event", "pipelines_loaded").Str("root", root).Int("count", len(defs)).Msg("pipeline definitions loaded")
	return defs, nil
}

func index(into map[string]map[string]types.PipelineDefinition, defs []types.PipelineDefinition) {
	for _, d := range defs {
		if into[d.Name] == nil {
			into[d.Name] = make(map[string]types.PipelineDefinition)
		}
		into[d.Name][d.Version] = d
	}
}

// Get returns the definition for name and version; "" or "latest" selects
// the highest version.
func (r *Registry) Get(name, version string) (types.PipelineDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.defs[name]
	if !ok || len(versions) == 0 {
		return types.PipelineDefinition{}, errs.NotFound("pipeline", name)
	}
	if types.IsLatest(version) {
		keys := make([]string, 0, len(versions))
		for v := range versions {
			keys = append(keys, v)
		}
		version = types.Highest(keys)
	}
	d, ok := versions[version]
	if !ok {
		return types.PipelineDefinition{}, errs.NotFound("pipeline", name+"/"+version)
	}
	return d, nil
}

// List returns every definition ordered by name then version.
func (r *Registry) List() []types.PipelineDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.PipelineDefinition
	for _, versions := range r.defs {
		for _, d := range versions {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return types.VersionLess(out[i].Version, out[j].Version)
	})
	return out
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
