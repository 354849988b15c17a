package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the pipeline server.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	Addr                string `json:"addr" yaml:"addr" toml:"addr"`
	PipelinesDir        string `json:"pipelines_dir" yaml:"pipelines_dir" toml:"pipelines_dir"`
	ModelsDir           string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	MaxRunningPipelines int    `json:"max_running_pipelines" yaml:"max_running_pipelines" toml:"max_running_pipelines"`
	// StopTimeout bounds how long stop waits for an engine session, e.g. "10s".
	StopTimeout Duration `json:"stop_timeout" yaml:"stop_timeout" toml:"stop_timeout"`
	LogLevel    string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogJSON     bool     `json:"log_json" yaml:"log_json" toml:"log_json"`

	Stream StreamConfig `json:"stream" yaml:"stream" toml:"stream"`
	RTSP   RTSPConfig   `json:"rtsp" yaml:"rtsp" toml:"rtsp"`
	WebRTC WebRTCConfig `json:"webrtc" yaml:"webrtc" toml:"webrtc"`
	CORS   CORSConfig   `json:"cors" yaml:"cors" toml:"cors"`
}

// StreamConfig tunes the live output path shared by both protocols.
type StreamConfig struct {
	// CacheLength is the injection buffer budget in frames.
	CacheLength int `json:"cache_length" yaml:"cache_length" toml:"cache_length"`
	// FrameQueueSize bounds the last-writer-wins buffer between an instance and its destination.
	FrameQueueSize int `json:"frame_queue_size" yaml:"frame_queue_size" toml:"frame_queue_size"`
	// Template is the engine template used by each stream session; {caps} is substituted.
	Template string `json:"template" yaml:"template" toml:"template"`
}

type RTSPConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Addr    string `json:"addr" yaml:"addr" toml:"addr"`
}

type WebRTCConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	ICEServers []string `json:"ice_servers" yaml:"ice_servers" toml:"ice_servers"`
}

type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
}

// Defaults applied by WithDefaults.
const (
	DefaultAddr           = ":8080"
	DefaultPipelinesDir   = "./pipelines"
	DefaultModelsDir      = "./models"
	DefaultStopTimeout    = 10 * time.Second
	DefaultCacheLength    = 30
	DefaultFrameQueueSize = 1000
	DefaultRTSPAddr       = ":8554"
	DefaultStreamTemplate = "appsrc name=source is-live=true format=time caps=\"{caps}\" " +
		"! videoconvert ! x264enc tune=zerolatency speed-preset=ultrafast key-int-max=30 " +
		"! video/x-h264,profile=baseline ! rtph264pay name=pay0 pt=96 config-interval=1 " +
		"! appsink name=sink sync=false"
)

// WithDefaults returns a copy of c with unset fields filled in.
func (c Config) WithDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.PipelinesDir == "" {
		c.PipelinesDir = DefaultPipelinesDir
	}
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = Duration(DefaultStopTimeout)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Stream.CacheLength <= 0 {
		c.Stream.CacheLength = DefaultCacheLength
	}
	if c.Stream.FrameQueueSize <= 0 {
		c.Stream.FrameQueueSize = DefaultFrameQueueSize
	}
	if strings.TrimSpace(c.Stream.Template) == "" {
		c.Stream.Template = DefaultStreamTemplate
	}
	if c.RTSP.Addr == "" {
		c.RTSP.Addr = DefaultRTSPAddr
	}
	return c
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b, filepath.Ext(path))
}

// Parse decodes raw configuration bytes in the format named by ext
// (".yaml", ".json", ".toml"; the leading dot is optional).
func Parse(b []byte, ext string) (Config, error) {
	var cfg Config
	switch strings.TrimPrefix(strings.ToLower(ext), ".") {
	case "yaml", "yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case "json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case "toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
