package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"pipelined/internal/common/fsutil"
	"pipelined/internal/errs"
	"pipelined/pkg/types"
)

// definitionFiles are the accepted definition file names inside
// <root>/<name>/<version>/, in lookup order.
var definitionFiles = []string{"pipeline.json", "pipeline.yaml", "pipeline.yml", "pipeline.toml"}

// rawDefinition mirrors the on-disk document. Template is either a string or
// a list of strings joined with single spaces.
type rawDefinition struct {
	Type        string `json:"type" yaml:"type" toml:"type"`
	Description string `json:"description" yaml:"description" toml:"description"`
	Template    any    `json:"template" yaml:"template" toml:"template"`
	Parameters  struct {
		Properties map[string]map[string]any `json:"properties" yaml:"properties" toml:"properties"`
		Required   []string                  `json:"required" yaml:"required" toml:"required"`
	} `json:"parameters" yaml:"parameters" toml:"parameters"`
}

// Skipped describes a definition file that could not be loaded.
type Skipped struct {
	Path string
	Err  error
}

// LoadDir scans dir for <name>/<version>/pipeline.* definitions.
// Malformed definitions are returned in skipped; they never fail the scan.
func LoadDir(dir string) (defs []types.PipelineDefinition, skipped []Skipped, err error) {
	abs, err := fsutil.ResolveDir(dir)
	if err != nil {
		return nil, nil, err
	}
	names, err := fsutil.SubDirs(abs)
	if err != nil {
		return nil, nil, err
	}
	for _, name := range names {
		versions, err := fsutil.SubDirs(filepath.Join(abs, name))
		if err != nil {
			skipped = append(skipped, Skipped{Path: filepath.Join(abs, name), Err: err})
			continue
		}
		for _, version := range versions {
			vdir := filepath.Join(abs, name, version)
			path := findDefinitionFile(vdir)
			if path == "" {
				continue
			}
			def, err := ReadDefinition(path, name, version)
			if err != nil {
				skipped = append(skipped, Skipped{Path: path, Err: err})
				continue
			}
			defs = append(defs, def)
		}
	}
	return defs, skipped, nil
}

func findDefinitionFile(dir string) string {
	for _, f := range definitionFiles {
		p := filepath.Join(dir, f)
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

// ReadDefinition reads one definition file; name and version come from its
// directory.
func ReadDefinition(path, name, version string) (types.PipelineDefinition, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return types.PipelineDefinition{}, err
	}
	def, err := ParseDefinition(b, filepath.Ext(path), name, version)
	if err != nil {
		return def, err
	}
	def.Path = path
	return def, nil
}

// ParseDefinition decodes a definition document in the format named by ext.
func ParseDefinition(b []byte, ext, name, version string) (types.PipelineDefinition, error) {
	var raw rawDefinition
	var err error
	switch strings.TrimPrefix(strings.ToLower(ext), ".") {
	case "json":
		err = json.Unmarshal(b, &raw)
	case "yaml", "yml":
		err = yaml.Unmarshal(b, &raw)
	case "toml":
		err = toml.Unmarshal(b, &raw)
	default:
		return types.PipelineDefinition{}, errs.Configuration("unsupported definition format: " + ext)
	}
	if err != nil {
		return types.PipelineDefinition{}, errs.Configuration(fmt.Sprintf("%s/%s: %v", name, version, err))
	}
	tmpl, err := joinTemplate(raw.Template)
	if err != nil {
		return types.PipelineDefinition{}, errs.Configuration(fmt.Sprintf("%s/%s: %v", name, version, err))
	}
	def := types.PipelineDefinition{
		Name:        name,
		Version:     version,
		Type:        raw.Type,
		Description: raw.Description,
		Template:    tmpl,
		Required:    raw.Parameters.Required,
	}
	for slot, prop := range raw.Parameters.Properties {
		v, ok := prop["default"]
		if !ok {
			continue
		}
		if def.Defaults == nil {
			def.Defaults = make(map[string]any)
		}
		def.Defaults[slot] = v
	}
	return def, nil
}

func joinTemplate(v any) (string, error) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return "", fmt.Errorf("empty template")
		}
		return strings.TrimSpace(t), nil
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			s, ok := p.(string)
			if !ok {
				return "", fmt.Errorf("template list entries must be strings")
			}
			parts = append(parts, strings.TrimSpace(s))
		}
		if len(parts) == 0 {
			return "", fmt.Errorf("empty template")
		}
		return strings.Join(parts, " "), nil
	case nil:
		return "", fmt.Errorf("missing template")
	default:
		return "", fmt.Errorf("template must be a string or a list of strings")
	}
}
