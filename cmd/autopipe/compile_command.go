package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"autopipe/internal/appdag"
	"autopipe/internal/backend/docker"
	"autopipe/internal/backend/kubeflow"
	"autopipe/internal/compiler"
	"autopipe/internal/config"
	"autopipe/internal/orchestrator"
)

func newCompileCommand(ctx *commandContext) *cobra.Command {
	var dot bool
	var showPackage bool
	var backend string

	cmd := &cobra.Command{
		Use:   "compile <dag-file>",
		Short: "Compile a pipeline document without touching any backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cmd, cfg)
			if err != nil {
				return err
			}

			spec, err := appdag.Load(args[0])
			if err != nil {
				return err
			}
			pipeline, err := compiler.New(cfg, logger).Compile(spec)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case dot:
				return pipeline.WriteDOT(out)
			case showPackage:
				if backend == "" {
					backend = cfg.Execution.Backend
				}
				pkg, err := packageFor(cfg, strings.ToLower(strings.TrimSpace(backend)), pipeline)
				if err != nil {
					return err
				}
				_, err = out.Write(pkg.Body)
				return err
			default:
				fmt.Fprintln(out, renderPlan(pipeline))
				if unscheduled := pipeline.Unscheduled(); len(unscheduled) > 0 {
					fmt.Fprintln(out, renderStatusLine("Unscheduled", statusWarn, strings.Join(unscheduled, ", "), shouldColorize(out)))
				}
				return nil
			}
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "Print the dependency graph in Graphviz DOT format")
	cmd.Flags().BoolVar(&showPackage, "package", false, "Print the backend run package")
	cmd.Flags().StringVar(&backend, "backend", "", "Backend whose package format --package prints")
	cmd.MarkFlagsMutuallyExclusive("dot", "package")
	return cmd
}

func packageFor(cfg *config.Config, backend string, p *compiler.Pipeline) (orchestrator.Package, error) {
	switch backend {
	case config.BackendKubeflow:
		return kubeflow.BuildIR(p, cfg.Kubeflow.EnableCaching)
	case config.BackendDocker:
		return docker.BuildPlan(p)
	default:
		return orchestrator.Package{}, fmt.Errorf("unsupported execution backend %q", backend)
	}
}

func renderPlan(p *compiler.Pipeline) string {
	rows := make([][]string, 0, p.Len())
	for i, step := range p.Steps() {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			step.Name,
			step.Descriptor.Image,
			step.InputPath,
			step.OutputPath,
			strings.Join(step.After, ", "),
		})
	}
	return renderTable(planColumns, rows)
}
