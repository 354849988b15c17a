package manager

import (
	"fmt"
	"strings"

	"pipelined/internal/errs"
)

// FrameSink is the element a pipeline template must name for its frames to
// be forwarded to a live stream destination.
const FrameSink = "destination"

// FrameDestination is the live output requested for an instance, taken from
// the "destination" parameter:
//
//	{"frame": {"type": "rtsp", "path": "cam1"}}
//	{"frame": {"type": "webrtc", "peer-id": "viewer1", "cache-length": 60}}
type FrameDestination struct {
	Protocol    string
	Key         string
	CacheLength int
}

// parseFrameDestination returns nil when params carry no frame destination.
func parseFrameDestination(params map[string]any) (*FrameDestination, error) {
	dst, ok := params["destination"].(map[string]any)
	if !ok {
		return nil, nil
	}
	raw, ok := dst["frame"]
	if !ok || raw == nil {
		return nil, nil
	}
	frame, ok := raw.(map[string]any)
	if !ok {
		return nil, errs.Configuration("destination.frame must be an object")
	}
	proto := strings.ToLower(stringField(frame, "type"))
	fd := &FrameDestination{Protocol: proto}
	switch proto {
	case "rtsp":
		fd.Key = strings.Trim(stringField(frame, "path"), "/")
		if fd.Key == "" {
			return nil, errs.Configuration("rtsp frame destination requires a path")
		}
	case "webrtc":
		fd.Key = stringField(frame, "peer-id")
		if fd.Key == "" {
			return nil, errs.Configuration("webrtc frame destination requires a peer-id")
		}
	case "":
		return nil, errs.Configuration("frame destination requires a type")
	default:
		return nil, errs.Configuration("unsupported frame destination type: " + proto)
	}
	switch v := frame["cache-length"].(type) {
	case nil:
	case int:
		fd.CacheLength = v
	case int64:
		fd.CacheLength = int(v)
	case float64:
		fd.CacheLength = int(v)
	default:
		return nil, errs.Configuration(fmt.Sprintf("cache-length must be a number, got %T", v))
	}
	if fd.CacheLength < 0 {
		return nil, errs.Configuration("cache-length must not be negative")
	}
	return fd, nil
}

func stringField(m map[string]any, k string) string {
	s, _ := m[k].(string)
	return strings.TrimSpace(s)
}
