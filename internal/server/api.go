package server

import (
	"context"

	"pipelined/internal/errs"
	"pipelined/pkg/types"
)

// API adapts Server to the DTO-shaped service the REST layer consumes.
type API struct{ srv *Server }

func (s *Server) API() API { return API{srv: s} }

func (a API) ListModels() (types.ModelsResponse, error) {
	views, err := a.srv.Models()
	if err != nil {
		return types.ModelsResponse{}, err
	}
	resp := types.ModelsResponse{Models: make([]types.ModelSummary, 0, len(views))}
	for _, v := range views {
		resp.Models = append(resp.Models, v.Summary())
	}
	return resp, nil
}

func (a API) ListPipelines() (types.PipelinesResponse, error) {
	views, err := a.srv.Pipelines()
	if err != nil {
		return types.PipelinesResponse{}, err
	}
	resp := types.PipelinesResponse{Pipelines: make([]types.PipelineSummary, 0, len(views))}
	for _, v := range views {
		resp.Pipelines = append(resp.Pipelines, v.Summary())
	}
	return resp, nil
}

func (a API) Pipeline(name, version string) (types.PipelineSummary, error) {
	v, err := a.srv.Pipeline(name, version)
	if err != nil {
		return types.PipelineSummary{}, err
	}
	return v.Summary(), nil
}

func (a API) CreateInstance(name, version string, req types.InstanceRequest) (string, error) {
	v, err := a.srv.CreateInstance(name, version, req)
	if err != nil {
		return "", err
	}
	return v.ID(), nil
}

func (a API) Status() (types.StatusResponse, error) { return a.srv.Snapshot() }

// Instances lists every tracked instance; one removed while listing is
// left out.
func (a API) Instances() ([]types.InstanceSummary, error) {
	if err := a.srv.live(); err != nil {
		return nil, err
	}
	views := a.srv.Instances()
	out := make([]types.InstanceSummary, 0, len(views))
	for _, v := range views {
		info, err := v.Info()
		if errs.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

func (a API) Instance(id string) (types.InstanceSummary, error) {
	v, err := a.srv.Instance(id)
	if err != nil {
		return types.InstanceSummary{}, err
	}
	return v.Info()
}

func (a API) InstanceStatus(id string) (types.InstanceStatus, error) {
	v, err := a.srv.Instance(id)
	if err != nil {
		return types.InstanceStatus{}, err
	}
	return v.Status()
}

// StopInstance stops id and returns its status afterwards.
func (a API) StopInstance(id string) (types.InstanceStatus, error) {
	v, err := a.srv.Instance(id)
	if err != nil {
		return types.InstanceStatus{}, err
	}
	if err := v.Stop(); err != nil {
		return types.InstanceStatus{}, err
	}
	return v.Status()
}

func (a API) ConnectViewer(ctx context.Context, peer, offer string) (string, error) {
	return a.srv.ConnectViewer(ctx, peer, offer)
}

func (a API) Ready() bool { return a.srv.Running() }
