package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"autopipe/internal/config"
	"autopipe/internal/services"
	"autopipe/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var outputDir string
	var timeoutFlag durationFlag
	var executionBackend string
	var volumeBackend string

	cmd := &cobra.Command{
		Use:   "run <dag-file>",
		Short: "Compile a pipeline document and run it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := applyBackendOverrides(cfg, executionBackend, volumeBackend); err != nil {
				return err
			}

			runner, _, closeStore, err := ctx.newRunner(cmd, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			req := workflow.Request{SpecPath: args[0], OutputDir: strings.TrimSpace(outputDir)}
			if timeoutFlag.set {
				req.Timeout = &timeoutFlag.value
			}
			result, runErr := runner.Invoke(cmd.Context(), req)
			printRunSummary(cmd, result, runErr)
			return runErr
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Local directory that receives the volume contents")
	cmd.Flags().Var(&timeoutFlag, "timeout", "Run timeout such as 30m (0 times out right after submission)")
	cmd.Flags().StringVar(&executionBackend, "backend", "", "Execution backend override (kubeflow or docker)")
	cmd.Flags().StringVar(&volumeBackend, "volume-backend", "", "Volume backend override (kubectl or docker)")
	return cmd
}

func applyBackendOverrides(cfg *config.Config, execution, volume string) error {
	if execution = strings.ToLower(strings.TrimSpace(execution)); execution != "" {
		cfg.Execution.Backend = execution
	}
	if volume = strings.ToLower(strings.TrimSpace(volume)); volume != "" {
		cfg.Storage.Backend = volume
	}
	if err := cfg.Validate(); err != nil {
		return services.Wrap(services.ErrConfiguration, "config", "validate", "", err)
	}
	return nil
}

func printRunSummary(cmd *cobra.Command, result *workflow.Result, runErr error) {
	if result == nil {
		return
	}
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	lines := renderSectionHeader("Run", colorize)

	if p := result.Pipeline; p != nil {
		lines = append(lines, renderStatusLine("Pipeline", statusInfo, fmt.Sprintf("%s (%d steps)", p.Name, p.Len()), colorize))
		if unscheduled := p.Unscheduled(); len(unscheduled) > 0 {
			lines = append(lines, renderStatusLine("Unscheduled", statusWarn, strings.Join(unscheduled, ", "), colorize))
		}
	}
	if result.Volume.Name != "" {
		lines = append(lines, renderStatusLine("Volume", statusInfo, result.Volume.Name, colorize))
	}
	if run := result.Run; run != nil {
		message := fmt.Sprintf("%s in %s", stateLabel(string(run.State)), run.Duration().Round(time.Second))
		if run.Detail != "" {
			message += " (" + run.Detail + ")"
		}
		lines = append(lines, renderStatusLine("Run "+run.ID, stateKind(string(run.State)), message, colorize))
		if run.ResultLocation != "" {
			lines = append(lines, renderStatusLine("Result", statusInfo, run.ResultLocation, colorize))
		}
		fetchKind := statusOK
		fetchMessage := result.OutputDir
		if !result.Fetched {
			fetchKind, fetchMessage = statusError, "outputs not copied"
		}
		lines = append(lines, renderStatusLine("Fetched", fetchKind, fetchMessage, colorize))
	}
	if result.Volume.Name != "" {
		releaseKind := statusOK
		if !result.Released {
			releaseKind = statusError
		}
		lines = append(lines, renderStatusLine("Released", releaseKind, yesNo(result.Released), colorize))
	}

	outcomeKind := statusOK
	switch {
	case services.IsPartialSuccess(runErr):
		outcomeKind = statusWarn
	case runErr != nil:
		outcomeKind = statusError
	}
	lines = append(lines, renderStatusLine("Outcome", outcomeKind, services.Describe(runErr), colorize))
	fmt.Fprintln(out, strings.Join(lines, "\n"))
}
