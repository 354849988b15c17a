package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"pipelined/internal/errs"
)

var (
	slotRe  = regexp.MustCompile(`\{([A-Za-z_][\w\-]*(?:\.[\w\-]+)*)\}`)
	modelRe = regexp.MustCompile(`\{models\[([^\]]+)\]\[([^\]]+)\]\[([^\]]+)\]\}`)
)

// ModelLookup resolves one field ("network", "labels", "proc" or a variant
// key) of a model version for a device.
type ModelLookup interface {
	Lookup(name, version, field, device string) (string, error)
}

// SubstituteModels replaces {models[name][version][field]} slots with file
// paths from lookup.
func SubstituteModels(template string, lookup ModelLookup, device string) (string, error) {
	var firstErr error
	out := modelRe.ReplaceAllStringFunc(template, func(m string) string {
		sub := modelRe.FindStringSubmatch(m)
		if lookup == nil {
			if firstErr == nil {
				firstErr = errs.Configuration("template references models but no model directory is configured")
			}
			return m
		}
		p, err := lookup.Lookup(unquote(sub[1]), unquote(sub[2]), unquote(sub[3]), device)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("model slot %s: %w", m, err)
			}
			return m
		}
		return p
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// Render fills every {slot} in template from params. Dotted slots such as
// {source.uri} walk nested maps. Any slot without a value is a
// configuration error.
func Render(template string, params map[string]any) (string, error) {
	var missing []string
	var bad error
	out := slotRe.ReplaceAllStringFunc(template, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := lookupPath(params, key)
		if !ok {
			missing = append(missing, key)
			return m
		}
		s, err := formatValue(v)
		if err != nil {
			if bad == nil {
				bad = errs.Configuration(fmt.Sprintf("parameter %s: %v", key, err))
			}
			return m
		}
		return s
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", errs.Configuration("missing parameter: " + strings.Join(dedupe(missing), ", "))
	}
	if bad != nil {
		return "", bad
	}
	return out, nil
}

// CheckRequired verifies that every required parameter has a value.
func CheckRequired(required []string, params map[string]any) error {
	var missing []string
	for _, r := range required {
		if _, ok := lookupPath(params, r); !ok {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		return errs.Configuration("missing required parameter: " + strings.Join(missing, ", "))
	}
	return nil
}

// Merge returns defaults overlaid with overrides. Nested maps merge key by
// key; neither input is modified.
func Merge(defaults, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = cloneValue(v)
	}
	for k, v := range overrides {
		if om, ok := v.(map[string]any); ok {
			if dm, ok := out[k].(map[string]any); ok {
				out[k] = Merge(dm, om)
				continue
			}
		}
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	if m, ok := v.(map[string]any); ok {
		return Merge(m, nil)
	}
	return v
}

func lookupPath(params map[string]any, key string) (any, bool) {
	var cur any = params
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func formatValue(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32), nil
	case bool:
		return strconv.FormatBool(t), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(t), nil
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			if _, nested := e.([]any); nested {
				return "", fmt.Errorf("nested list in template value")
			}
			p, err := formatValue(e)
			if err != nil {
				return "", err
			}
			parts[i] = p
		}
		return strings.Join(parts, ","), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

func unquote(s string) string { return strings.Trim(strings.TrimSpace(s), `"'`) }

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
