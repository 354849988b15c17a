package types

// ModelSummary describes one resolvable model version for GET /models.
type ModelSummary struct {
	// example: yolo
	Name string `json:"name" example:"yolo"`
	// example: 1
	Version string `json:"version" example:"1"`
	// Available network variants, default first.
	// example: ["default","FP16","INT8"]
	Networks []string `json:"networks" example:"default,FP16,INT8"`
	Labels   string   `json:"labels,omitempty"`
	Proc     string   `json:"proc,omitempty"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []ModelSummary `json:"models"`
}

// PipelineSummary describes one pipeline definition for GET /pipelines.
type PipelineSummary struct {
	// example: object_detection
	Name string `json:"name" example:"object_detection"`
	// example: 1
	Version string `json:"version" example:"1"`
	// example: GStreamer
	Type        string `json:"type,omitempty" example:"GStreamer"`
	Description string `json:"description,omitempty"`
	// Parameter slots that carry defaults.
	// example: ["threshold","device"]
	Parameters []string `json:"parameters" example:"threshold,device"`
	Required   []string `json:"required,omitempty"`
}

// PipelinesResponse wraps the list returned by GET /pipelines.
type PipelinesResponse struct {
	Pipelines []PipelineSummary `json:"pipelines"`
}

// InstanceRequest is the body of POST /pipelines/{name}/{version}.
// Source and Destination are passed to the template as the "source" and
// "destination" parameters; Parameters override the definition defaults.
type InstanceRequest struct {
	Source      map[string]any `json:"source,omitempty"`
	Destination map[string]any `json:"destination,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// InstanceCreated is returned by POST /pipelines/{name}/{version}.
type InstanceCreated struct {
	// example: 6f1c2f9e-4f3a-4a57-9f59-0f0b9c2f7e11
	ID string `json:"id" example:"6f1c2f9e-4f3a-4a57-9f59-0f0b9c2f7e11"`
}

// InstanceStatus is the status snapshot of one pipeline instance.
// AvgLatency and AvgFPS are null when the engine has not reported them.
type InstanceStatus struct {
	// example: 6f1c2f9e-4f3a-4a57-9f59-0f0b9c2f7e11
	ID string `json:"id" example:"6f1c2f9e-4f3a-4a57-9f59-0f0b9c2f7e11"`
	// example: RUNNING
	State string `json:"state" example:"RUNNING"`
	// Average per-frame latency in seconds.
	AvgLatency *float64 `json:"avg_latency"`
	// Average frames per second since start.
	AvgFPS *float64 `json:"avg_fps"`
	// Unix seconds; zero before the instance started.
	// example: 1700000000
	StartTime int64 `json:"start_time" example:"1700000000"`
	// Seconds between start and now (or end, once terminal).
	// example: 12.5
	ElapsedTime float64 `json:"elapsed_time" example:"12.5"`
	Error       string  `json:"message,omitempty"`
}

// InstanceSummary is returned by GET /pipelines/instances/{id} and, as a
// list, by GET /pipelines/instances.
type InstanceSummary struct {
	ID         string         `json:"id"`
	Pipeline   string         `json:"pipeline"`
	Version    string         `json:"version"`
	State      string         `json:"state"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// StatusResponse is returned by GET /pipelines/status.
type StatusResponse struct {
	Instances []InstanceStatus `json:"instances"`
	// example: 4
	MaxRunning int `json:"max_running_pipelines" example:"4"`
	// example: 1
	Running int `json:"running" example:"1"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// example: pipeline not found: detect/9
	Error string `json:"error" example:"pipeline not found: detect/9"`
	// example: 404
	Code int `json:"code" example:"404"`
}
