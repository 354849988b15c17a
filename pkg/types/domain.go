package types

import "sort"

// PipelineDefinition is an immutable, versioned processing template loaded
// from the pipelines directory.
type PipelineDefinition struct {
	// example: object_detection
	Name string `json:"name" example:"object_detection"`
	// example: 1
	Version string `json:"version" example:"1"`
	// Engine family the template targets.
	// example: GStreamer
	Type string `json:"type,omitempty" example:"GStreamer"`
	// example: Person and vehicle detection
	Description string `json:"description,omitempty" example:"Person and vehicle detection"`
	// Processing graph with {slot} placeholders.
	Template string `json:"template"`
	// Default value per slot.
	Defaults map[string]any `json:"default_parameters,omitempty"`
	// Slots that must be resolvable before the instance is built.
	Required []string `json:"required,omitempty"`
	// File the definition was read from.
	Path string `json:"-"`
}

// ParameterNames returns the sorted names of all slots that carry a default.
func (d PipelineDefinition) ParameterNames() []string {
	out := make([]string, 0, len(d.Defaults))
	for k := range d.Defaults {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Device classes a model can be resolved for.
const (
	DeviceCPU  = "CPU"
	DeviceGPU  = "GPU"
	DeviceNPU  = "NPU"
	DeviceAuto = "AUTO"
)

// DefaultNetwork is the variant key that is always present in Model.Networks.
const DefaultNetwork = "default"

// Model is a resolved model version with its network files on local disk.
type Model struct {
	// example: yolo
	Name string `json:"name" example:"yolo"`
	// example: 1
	Version string `json:"version" example:"1"`
	// example: GPU
	Device string `json:"device" example:"GPU"`
	// Variant key (default, FP16, INT8, CPU, ...) to resolved file paths.
	Networks map[string][]string `json:"networks"`
	// Label list file, empty when the model ships none.
	Labels string `json:"labels,omitempty"`
	// Post-processing descriptor file, empty when the model ships none.
	Proc string `json:"proc,omitempty"`
}

// Variants lists the network keys sorted, default first.
func (m Model) Variants() []string {
	out := make([]string, 0, len(m.Networks))
	for k := range m.Networks {
		if k != DefaultNetwork {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	if _, ok := m.Networks[DefaultNetwork]; ok {
		out = append([]string{DefaultNetwork}, out...)
	}
	return out
}
