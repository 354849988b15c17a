package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pipelined/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() (types.ModelsResponse, error)
	ListPipelines() (types.PipelinesResponse, error)
	Pipeline(name, version string) (types.PipelineSummary, error)
	CreateInstance(name, version string, req types.InstanceRequest) (string, error)
	Status() (types.StatusResponse, error)
	Instances() ([]types.InstanceSummary, error)
	Instance(id string) (types.InstanceSummary, error)
	InstanceStatus(id string) (types.InstanceStatus, error)
	StopInstance(id string) (types.InstanceStatus, error)
	ConnectViewer(ctx context.Context, peer, offer string) (string, error)
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsOpts != nil {
		r.Use(cors.Handler(*corsOpts))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	h := handlers{svc: svc}
	r.Get("/models", h.listModels)
	r.Route("/pipelines", func(r chi.Router) {
		r.Get("/", h.listPipelines)
		r.Get("/status", h.status)
		r.Get("/instances", h.instances)
		r.Get("/instances/{id}", h.instance)
		r.Get("/instances/{id}/status", h.instanceStatus)
		r.Delete("/instances/{id}", h.stopInstance)
		r.Get("/{name}/{version}", h.pipeline)
		r.Post("/{name}/{version}", h.createInstance)
	})
	r.Post("/webrtc/{peer}", h.connectViewer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("stopped"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

type handlers struct{ svc Service }

// listModels godoc
// @Summary  List models
// @Tags     models
// @Produce  json
// @Success  200 {object} types.ModelsResponse
// @Router   /models [get]
func (h handlers) listModels(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.ListModels()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// listPipelines godoc
// @Summary  List pipeline definitions
// @Tags     pipelines
// @Produce  json
// @Success  200 {object} types.PipelinesResponse
// @Router   /pipelines [get]
func (h handlers) listPipelines(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.ListPipelines()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// pipeline godoc
// @Summary  Describe a pipeline version ("latest" selects the highest)
// @Tags     pipelines
// @Produce  json
// @Param    name    path string true "pipeline name"
// @Param    version path string true "pipeline version"
// @Success  200 {object} types.PipelineSummary
// @Failure  404 {object} types.ErrorResponse
// @Router   /pipelines/{name}/{version} [get]
func (h handlers) pipeline(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Pipeline(chi.URLParam(r, "name"), chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// createInstance godoc
// @Summary  Start a pipeline instance
// @Tags     pipelines
// @Accept   json
// @Produce  json
// @Param    name    path string                true "pipeline name"
// @Param    version path string                true "pipeline version"
// @Param    request body types.InstanceRequest false "source, destination and parameter overrides"
// @Success  201 {object} types.InstanceCreated
// @Failure  400 {object} types.ErrorResponse
// @Failure  404 {object} types.ErrorResponse
// @Failure  409 {object} types.ErrorResponse
// @Failure  429 {object} types.ErrorResponse
// @Failure  503 {object} types.ErrorResponse
// @Router   /pipelines/{name}/{version} [post]
func (h handlers) createInstance(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req types.InstanceRequest
	if r.ContentLength != 0 {
		ct := r.Header.Get("Content-Type")
		if ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil && err != io.EOF {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		normalizeNumbers(req.Parameters)
		normalizeNumbers(req.Source)
		normalizeNumbers(req.Destination)
	}
	id, err := h.svc.CreateInstance(chi.URLParam(r, "name"), chi.URLParam(r, "version"), req)
	if err != nil {
		logOp(r, "create_instance", writeError(w, err), start, err)
		return
	}
	w.Header().Set("Location", "/pipelines/instances/"+id)
	writeJSON(w, http.StatusCreated, types.InstanceCreated{ID: id})
	logOp(r, "create_instance", http.StatusCreated, start, nil)
}

// status godoc
// @Summary  Status of every instance
// @Tags     instances
// @Produce  json
// @Success  200 {object} types.StatusResponse
// @Router   /pipelines/status [get]
func (h handlers) status(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Status()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// instances godoc
// @Summary  List instances in creation order
// @Tags     instances
// @Produce  json
// @Success  200 {array} types.InstanceSummary
// @Failure  503 {object} types.ErrorResponse
// @Router   /pipelines/instances [get]
func (h handlers) instances(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Instances()
	if err != nil {
		writeError(w, err)
		return
	}
	if resp == nil {
		resp = []types.InstanceSummary{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// instance godoc
// @Summary  Describe an instance
// @Tags     instances
// @Produce  json
// @Param    id path string true "instance id"
// @Success  200 {object} types.InstanceSummary
// @Failure  404 {object} types.ErrorResponse
// @Router   /pipelines/instances/{id} [get]
func (h handlers) instance(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Instance(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// instanceStatus godoc
// @Summary  Status of an instance
// @Tags     instances
// @Produce  json
// @Param    id path string true "instance id"
// @Success  200 {object} types.InstanceStatus
// @Failure  404 {object} types.ErrorResponse
// @Router   /pipelines/instances/{id}/status [get]
func (h handlers) instanceStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.InstanceStatus(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// stopInstance godoc
// @Summary  Stop an instance (idempotent)
// @Tags     instances
// @Produce  json
// @Param    id path string true "instance id"
// @Success  200 {object} types.InstanceStatus
// @Failure  404 {object} types.ErrorResponse
// @Failure  504 {object} types.ErrorResponse
// @Router   /pipelines/instances/{id} [delete]
func (h handlers) stopInstance(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp, err := h.svc.StopInstance(chi.URLParam(r, "id"))
	if err != nil {
		logOp(r, "stop_instance", writeError(w, err), start, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	logOp(r, "stop_instance", http.StatusOK, start, nil)
}

// connectViewer godoc
// @Summary  Attach a WebRTC viewer to a peer-mounted stream
// @Tags     streams
// @Accept   application/sdp
// @Produce  application/sdp
// @Param    peer path string true "peer id the instance streams to"
// @Success  201 {string} string "SDP answer"
// @Failure  404 {object} types.ErrorResponse
// @Failure  409 {object} types.ErrorResponse
// @Router   /webrtc/{peer} [post]
func (h handlers) connectViewer(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.HasPrefix(ct, "application/sdp") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/sdp")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil || len(strings.TrimSpace(string(body))) == 0 {
		writeJSONError(w, http.StatusBadRequest, "SDP offer is required")
		return
	}
	base, cancel := withBase(r.Context())
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(base, offerTimeout)
	defer cancelTimeout()
	answer, err := h.svc.ConnectViewer(ctx, chi.URLParam(r, "peer"), string(body))
	countNegotiation(err)
	if err != nil {
		logOp(r, "connect_viewer", writeError(w, err), start, err)
		return
	}
	w.Header().Set("Content-Type", "application/sdp")
	w.WriteHeader(http.StatusCreated)
	_, _ = io.WriteString(w, answer)
	logOp(r, "connect_viewer", http.StatusCreated, start, nil)
}

// normalizeNumbers turns json.Number values into int64 when integral and
// float64 otherwise, descending into objects and arrays.
func normalizeNumbers(m map[string]any) {
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
	case map[string]any:
		normalizeNumbers(t)
	case []any:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}
	}
	return v
}
