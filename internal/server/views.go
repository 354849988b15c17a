package server

import (
	"context"

	"pipelined/internal/engine"
	"pipelined/internal/manager"
	"pipelined/pkg/types"
)

// ModelView is a read-only view of one resolved model version.
type ModelView struct{ m types.Model }

func (v ModelView) Name() string    { return v.m.Name }
func (v ModelView) Version() string { return v.m.Version }
func (v ModelView) Device() string  { return v.m.Device }
func (v ModelView) Labels() string  { return v.m.Labels }
func (v ModelView) Proc() string    { return v.m.Proc }

// Networks returns a copy of the variant → files table.
func (v ModelView) Networks() map[string][]string {
	out := make(map[string][]string, len(v.m.Networks))
	for k, files := range v.m.Networks {
		out[k] = append([]string(nil), files...)
	}
	return out
}

func (v ModelView) Summary() types.ModelSummary {
	return types.ModelSummary{
		Name:     v.m.Name,
		Version:  v.m.Version,
		Networks: v.m.Variants(),
		Labels:   v.m.Labels,
		Proc:     v.m.Proc,
	}
}

// PipelineView is a read-only view of one pipeline definition.
type PipelineView struct {
	def types.PipelineDefinition
	srv *Server
}

func (v PipelineView) Name() string        { return v.def.Name }
func (v PipelineView) Version() string     { return v.def.Version }
func (v PipelineView) Type() string        { return v.def.Type }
func (v PipelineView) Description() string { return v.def.Description }
func (v PipelineView) Template() string    { return v.def.Template }

// Defaults returns a copy of the default parameters.
func (v PipelineView) Defaults() map[string]any { return engine.Merge(v.def.Defaults, nil) }

func (v PipelineView) Summary() types.PipelineSummary {
	return types.PipelineSummary{
		Name:        v.def.Name,
		Version:     v.def.Version,
		Type:        v.def.Type,
		Description: v.def.Description,
		Parameters:  v.def.ParameterNames(),
		Required:    append([]string(nil), v.def.Required...),
	}
}

// Start creates and starts an instance of this pipeline.
func (v PipelineView) Start(req types.InstanceRequest) (InstanceView, error) {
	return v.srv.CreateInstance(v.def.Name, v.def.Version, req)
}

// InstanceView refers to an instance by id; every call is resolved against
// the manager at call time.
type InstanceView struct {
	id  string
	srv *Server
}

func (v InstanceView) ID() string { return v.id }

func (v InstanceView) Status() (types.InstanceStatus, error) {
	if err := v.srv.live(); err != nil {
		return types.InstanceStatus{}, err
	}
	return v.srv.manager.Status(v.id)
}

func (v InstanceView) Info() (types.InstanceSummary, error) {
	if err := v.srv.live(); err != nil {
		return types.InstanceSummary{}, err
	}
	return v.srv.manager.Info(v.id)
}

// Stop stops the instance; stopping a stopped instance succeeds.
func (v InstanceView) Stop() error {
	if err := v.srv.live(); err != nil {
		return err
	}
	return v.srv.manager.StopInstance(v.id)
}

// Wait blocks until the instance stops running or ctx is done.
func (v InstanceView) Wait(ctx context.Context) (manager.State, error) {
	if err := v.srv.live(); err != nil {
		return "", err
	}
	return v.srv.manager.Wait(ctx, v.id)
}

// Start starts an instance that was created but not started.
func (v InstanceView) Start() error {
	if err := v.srv.live(); err != nil {
		return err
	}
	return v.srv.manager.Start(v.id)
}
