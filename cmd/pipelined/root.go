package main

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pipelined/internal/config"
)

// options collects the persistent flags. Flags that were set explicitly
// win over the configuration source.
type options struct {
	source       string
	addr         string
	pipelinesDir string
	modelsDir    string
	maxRunning   int
	logLevel     string
	logJSON      bool
	corsOrigins  string

	// set by load from cmd.Flags().Changed
	maxRunningSet bool
	logJSONSet    bool

	cfg config.Config
	src config.Source
	log zerolog.Logger
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "pipelined",
		Short:         "Media pipeline server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.source, "config", envOr("PIPELINED_CONFIG", ""), "Config file (yaml|json|toml) or redis:// URL")
	pf.StringVar(&opts.addr, "addr", envOr("PIPELINED_ADDR", ""), "HTTP listen address, e.g. :8080")
	pf.StringVar(&opts.pipelinesDir, "pipelines-dir", "", "Pipeline definition tree")
	pf.StringVar(&opts.modelsDir, "models-dir", "", "Model tree")
	pf.IntVar(&opts.maxRunning, "max-running", 0, "Maximum concurrently running instances (0=unbounded)")
	pf.StringVar(&opts.logLevel, "log-level", envOr("PIPELINED_LOG_LEVEL", ""), "Log level: debug|info|warn|error")
	pf.BoolVar(&opts.logJSON, "log-json", false, "Emit JSON logs instead of console output")
	pf.StringVar(&opts.corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins (enables CORS)")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return opts.load(cmd)
	}

	root.AddCommand(newServeCmd(opts), newPipelinesCmd(opts), newModelsCmd(opts))
	return root
}

// load reads the configuration source, applies flag overrides and sets up
// logging.
func (o *options) load(cmd *cobra.Command) error {
	o.maxRunningSet = cmd.Flags().Changed("max-running")
	o.logJSONSet = cmd.Flags().Changed("log-json")
	var cfg config.Config
	if o.source != "" {
		src, err := config.NewSource(o.source)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		cfg, err = src.Load(ctx)
		if err != nil {
			return err
		}
		o.src = src
	}
	o.cfg = o.override(cfg).WithDefaults()
	o.log = newLogger(o.cfg.LogLevel, o.cfg.LogJSON, os.Stderr)
	return nil
}

// override applies explicitly set flags on top of cfg.
func (o *options) override(cfg config.Config) config.Config {
	if o.addr != "" {
		cfg.Addr = o.addr
	}
	if o.pipelinesDir != "" {
		cfg.PipelinesDir = o.pipelinesDir
	}
	if o.modelsDir != "" {
		cfg.ModelsDir = o.modelsDir
	}
	if o.maxRunningSet {
		cfg.MaxRunningPipelines = o.maxRunning
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logJSONSet {
		cfg.LogJSON = o.logJSON
	}
	if origins := splitCSV(o.corsOrigins); len(origins) > 0 {
		cfg.CORS.Enabled = true
		cfg.CORS.Origins = origins
	}
	return cfg
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
