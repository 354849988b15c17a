package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pipelined/internal/common/fsutil"
	"pipelined/internal/models"
	"pipelined/internal/registry"
	"pipelined/pkg/types"
)

func newPipelinesCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "pipelines",
		Short:   "List the pipeline definitions found in the pipelines directory",
		Example: "  pipelined pipelines --pipelines-dir ./pipelines --json",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := fsutil.ExpandHome(opts.cfg.PipelinesDir)
			if err != nil {
				return err
			}
			reg := registry.New(opts.log)
			if _, err := reg.Load(dir); err != nil {
				return fmt.Errorf("load pipelines: %w", err)
			}
			defs := reg.List()
			sums := make([]types.PipelineSummary, 0, len(defs))
			for _, d := range defs {
				sums = append(sums, types.PipelineSummary{
					Name: d.Name, Version: d.Version, Type: d.Type, Description: d.Description,
					Parameters: d.ParameterNames(), Required: d.Required,
				})
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), types.PipelinesResponse{Pipelines: sums})
			}
			return printPipelines(cmd.OutOrStdout(), sums)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newModelsCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "models",
		Short:   "List the models found in the models directory",
		Example: "  pipelined models --models-dir ./models",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := fsutil.ExpandHome(opts.cfg.ModelsDir)
			if err != nil {
				return err
			}
			if !fsutil.PathExists(dir) {
				return fmt.Errorf("models directory not found: %s", dir)
			}
			list := models.New(dir, opts.log).List()
			sums := make([]types.ModelSummary, 0, len(list))
			for _, m := range list {
				sums = append(sums, types.ModelSummary{Name: m.Name, Version: m.Version, Networks: m.Variants(), Labels: m.Labels, Proc: m.Proc})
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), types.ModelsResponse{Models: sums})
			}
			return printModels(cmd.OutOrStdout(), sums)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printPipelines(w io.Writer, sums []types.PipelineSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tTYPE\tPARAMETERS")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, s.Version, s.Type, strings.Join(s.Parameters, ","))
	}
	return tw.Flush()
}

func printModels(w io.Writer, sums []types.ModelSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tNETWORKS")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, s.Version, strings.Join(s.Networks, ","))
	}
	return tw.Flush()
}
