//go:build !gst

package engine

import "pipelined/internal/errs"

// Default returns the engine compiled into this binary. This build carries
// no media runtime; rebuild with -tags gst for GStreamer.
func Default() Engine { return unavailable{} }

type unavailable struct{}

func (unavailable) Name() string { return "none" }

func (unavailable) Build(string, map[string]any) (Session, error) {
	return nil, errs.EngineUnavailable("built without gstreamer support (rebuild with -tags gst)")
}
