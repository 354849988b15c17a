// Package models resolves (name, version, device) to network files under a
// read-only model directory laid out as <root>/<model>/<version>/<variant>/.
package models

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"pipelined/internal/common/fsutil"
	"pipelined/internal/errs"
	"pipelined/pkg/types"
)

const (
	labelsPattern = "*.txt"
	procPattern   = "*.json"
)

// Precision classes each device prefers, in order, when no variant is named
// after the device itself.
var devicePrecisions = map[string][]string{
	types.DeviceGPU: {"FP16"},
	types.DeviceNPU: {"FP16", "INT8"},
	types.DeviceCPU: {"FP32", "INT8"},
}

// networkExts orders the primary network file within a variant directory.
var networkExts = []string{".xml", ".onnx", ".tflite", ".pb", ".blob"}

type versionEntry struct {
	model types.Model
	err   error
}

type Resolver struct {
	root string
	log  zerolog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]map[string]versionEntry // model -> version -> entry
}

func New(root string, log zerolog.Logger) *Resolver {
	return &Resolver{root: root, log: log, cache: make(map[string]map[string]versionEntry)}
}

func (r *Resolver) Root() string { return r.root }

// Reload drops every cached subtree; the next lookup rescans.
func (r *Resolver) Reload() {
	r.mu.Lock()
	r.cache = make(map[string]map[string]versionEntry)
	r.mu.Unlock()
}

// Resolve returns the model version for device ("" means AUTO). Version ""
// or "latest" selects the highest version that resolved cleanly.
func (r *Resolver) Resolve(name, version, device string) (types.Model, error) {
	versions, err := r.load(name)
	if err != nil {
		return types.Model{}, err
	}
	if types.IsLatest(version) {
		var ok []string
		for v, e := range versions {
			if e.err == nil {
				ok = append(ok, v)
			}
		}
		if len(ok) == 0 {
			return types.Model{}, errs.NotFound("model", name)
		}
		version = types.Highest(ok)
	}
	e, found := versions[version]
	if !found {
		return types.Model{}, errs.NotFound("model", name+"/"+version)
	}
	if e.err != nil {
		return types.Model{}, e.err
	}
	m := cloneModel(e.model)
	m.Device = normalizeDevice(device)
	return m, nil
}

// List returns every model version that resolves cleanly, sorted by name and
// version. Versions with ambiguous artifacts are logged and left out.
func (r *Resolver) List() []types.Model {
	root, err := fsutil.ResolveDir(r.root)
	if err != nil {
		r.log.Warn().Str("event", "models_root_unavailable").Str("root", r.root).Err(err).Msg("cannot list models")
		return nil
	}
	names, err := fsutil.SubDirs(root)
	if err != nil {
		r.log.Warn().Str("event", "models_root_unavailable").Str("root", root).Err(err).Msg("cannot list models")
		return nil
	}
	var out []types.Model
	for _, name := range names {
		versions, err := r.load(name)
		if err != nil {
			continue
		}
		for v, e := range versions {
			if e.err != nil {
				r.log.Warn().Str("event", "model_skipped").Str("model", name).Str("version", v).Err(e.err).Msg("omitting model")
				continue
			}
			m := cloneModel(e.model)
			m.Device = types.DeviceAuto
			out = append(out, m)
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

// NetworkForDevice picks the network files for a device hint such as "GPU"
// or "GPU.1": exact variant, then the device's preferred precisions, then
// the default variant.
func NetworkForDevice(m types.Model, hint string) []string {
	hint = strings.ToUpper(strings.TrimSpace(hint))
	if hint != "" {
		if n, ok := m.Networks[hint]; ok {
			return n
		}
		class := hint
		if i := strings.IndexByte(class, '.'); i > 0 {
			class = class[:i]
		}
		if n, ok := m.Networks[class]; ok {
			return n
		}
		for _, p := range devicePrecisions[class] {
			if n, ok := m.Networks[p]; ok {
				return n
			}
		}
	}
	return m.Networks[types.DefaultNetwork]
}

// Lookup resolves one template field of a model: "network" (device policy
// applied), "labels", "proc", or an explicit variant key.
func (r *Resolver) Lookup(name, version, field, device string) (string, error) {
	m, err := r.Resolve(name, version, device)
	if err != nil {
		return "", err
	}
	var files []string
	switch strings.ToLower(field) {
	case "network":
		files = NetworkForDevice(m, m.Device)
	case "labels":
		if m.Labels == "" {
			return "", errs.NotFound("model labels", name+"/"+m.Version)
		}
		return m.Labels, nil
	case "proc":
		if m.Proc == "" {
			return "", errs.NotFound("model proc", name+"/"+m.Version)
		}
		return m.Proc, nil
	default:
		files = m.Networks[strings.ToUpper(field)]
		if files == nil {
			files = m.Networks[field]
		}
	}
	if len(files) == 0 {
		return "", errs.NotFound("model network", name+"/"+m.Version+"/"+field)
	}
	return primaryNetwork(files), nil
}

func (r *Resolver) load(name string) (map[string]versionEntry, error) {
	r.mu.RLock()
	versions, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return versions, nil
	}
	v, err, _ := r.group.Do(name, func() (any, error) {
		versions, err := r.scanModel(name)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[name] = versions
		r.mu.Unlock()
		r.log.Debug().Str("event", "model_scanned").Str("model", name).Int("versions", len(versions)).Msg("model subtree scanned")
		return versions, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]versionEntry), nil
}

func (r *Resolver) scanModel(name string) (map[string]versionEntry, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == ".." {
		return nil, errs.NotFound("model", name)
	}
	root, err := fsutil.ResolveDir(r.root)
	if err != nil {
		return nil, errs.NotFound("model", name)
	}
	mdir := filepath.Join(root, name)
	if fi, err := os.Stat(mdir); err != nil || !fi.IsDir() {
		return nil, errs.NotFound("model", name)
	}
	versions, err := fsutil.SubDirs(mdir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]versionEntry, len(versions))
	for _, v := range versions {
		m, err := scanVersion(filepath.Join(mdir, v), name, v)
		out[v] = versionEntry{model: m, err: err}
	}
	return out, nil
}

func scanVersion(dir, name, version string) (types.Model, error) {
	m := types.Model{Name: name, Version: version, Networks: make(map[string][]string)}
	var err error
	if m.Labels, err = fsutil.FindSingle(dir, labelsPattern); err != nil {
		return m, err
	}
	if m.Proc, err = fsutil.FindSingle(dir, procPattern); err != nil {
		return m, err
	}
	variants, err := fsutil.SubDirs(dir)
	if err != nil {
		return m, err
	}
	for _, variant := range variants {
		files := regularFiles(filepath.Join(dir, variant))
		if len(files) > 0 {
			m.Networks[variantKey(variant)] = files
		}
	}
	// Networks stored directly in the version directory form the default.
	if direct := networkFiles(dir); len(direct) > 0 {
		if _, ok := m.Networks[types.DefaultNetwork]; !ok {
			m.Networks[types.DefaultNetwork] = direct
		}
	}
	if len(m.Networks) == 0 {
		return m, errs.NotFound("model network", name+"/"+version)
	}
	if _, ok := m.Networks[types.DefaultNetwork]; !ok {
		if fp32, ok := m.Networks["FP32"]; ok {
			m.Networks[types.DefaultNetwork] = fp32
		} else {
			m.Networks[types.DefaultNetwork] = m.Networks[m.Variants()[0]]
		}
	}
	return m, nil
}

func variantKey(dir string) string {
	if strings.EqualFold(dir, types.DefaultNetwork) {
		return types.DefaultNetwork
	}
	return strings.ToUpper(dir)
}

func regularFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out
}

func networkFiles(dir string) []string {
	var out []string
	for _, f := range regularFiles(dir) {
		if hasNetworkExt(f) || strings.EqualFold(filepath.Ext(f), ".bin") {
			out = append(out, f)
		}
	}
	return out
}

func hasNetworkExt(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range networkExts {
		if ext == e {
			return true
		}
	}
	return false
}

// primaryNetwork picks the file an engine element should be pointed at,
// e.g. the .xml of an .xml/.bin pair.
func primaryNetwork(files []string) string {
	for _, ext := range networkExts {
		for _, f := range files {
			if strings.EqualFold(filepath.Ext(f), ext) {
				return f
			}
		}
	}
	return files[0]
}

func normalizeDevice(d string) string {
	d = strings.ToUpper(strings.TrimSpace(d))
	if d == "" {
		return types.DeviceAuto
	}
	return d
}

func cloneModel(m types.Model) types.Model {
	nets := make(map[string][]string, len(m.Networks))
	for k, v := range m.Networks {
		nets[k] = append([]string(nil), v...)
	}
	m.Networks = nets
	return m
}
