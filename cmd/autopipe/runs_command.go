package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"autopipe/internal/history"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded invocations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.openHistory(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return encodeRunViews(cmd.OutOrStdout(), runViews(runs))
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			fmt.Fprintln(out, renderRunsTable(runs))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print runs as JSON")

	cmd.AddCommand(newRunsShowCommand(ctx))
	return cmd
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one recorded invocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.openHistory(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if asJSON {
				return encodeRunViews(cmd.OutOrStdout(), newRunView(run))
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderRunDetail(run, shouldColorize(cmd.OutOrStdout())))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run as JSON")
	return cmd
}

type runView struct {
	ID               int64      `json:"id"`
	Pipeline         string     `json:"pipeline"`
	SpecPath         string     `json:"spec_path,omitempty"`
	ExecutionBackend string     `json:"execution_backend"`
	VolumeBackend    string     `json:"volume_backend"`
	Volume           string     `json:"volume,omitempty"`
	BackendRunID     string     `json:"backend_run_id,omitempty"`
	State            string     `json:"state"`
	Detail           string     `json:"detail,omitempty"`
	ResultLocation   string     `json:"result_location,omitempty"`
	OutputDir        string     `json:"output_dir,omitempty"`
	Error            string     `json:"error,omitempty"`
	ExitCode         int        `json:"exit_code"`
	Fetched          bool       `json:"fetched"`
	Released         bool       `json:"released"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
}

func newRunView(run *history.Run) runView {
	return runView{
		ID:               run.ID,
		Pipeline:         run.Pipeline,
		SpecPath:         run.SpecPath,
		ExecutionBackend: run.ExecutionBackend,
		VolumeBackend:    run.VolumeBackend,
		Volume:           run.Volume,
		BackendRunID:     run.BackendRunID,
		State:            run.State,
		Detail:           run.Detail,
		ResultLocation:   run.ResultLocation,
		OutputDir:        run.OutputDir,
		Error:            run.ErrorMessage,
		ExitCode:         run.ExitCode,
		Fetched:          run.Fetched,
		Released:         run.Released,
		StartedAt:        run.StartedAt,
		EndedAt:          run.EndedAt,
	}
}

// encodeRunViews writes indented JSON. Error text and paths stay unescaped.
func encodeRunViews(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func runViews(runs []*history.Run) []runView {
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, newRunView(run))
	}
	return views
}

func renderRunsTable(runs []*history.Run) string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			strconv.FormatInt(run.ID, 10),
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.Pipeline,
			run.ExecutionBackend + "/" + run.VolumeBackend,
			stateLabel(run.State),
			formatDuration(run.Duration()),
			strconv.Itoa(run.ExitCode),
		})
	}
	return renderTable(runColumns, rows)
}

func renderRunDetail(run *history.Run, colorize bool) string {
	lines := renderSectionHeader(fmt.Sprintf("Run %d", run.ID), colorize)
	lines = append(lines,
		renderStatusLine("State", stateKind(run.State), stateLabel(run.State), colorize),
		renderStatusLine("Pipeline", statusInfo, run.Pipeline, colorize),
	)
	if run.SpecPath != "" {
		lines = append(lines, renderStatusLine("Document", statusInfo, run.SpecPath, colorize))
	}
	lines = append(lines, renderStatusLine("Backends", statusInfo, run.ExecutionBackend+"/"+run.VolumeBackend, colorize))
	if run.BackendRunID != "" {
		lines = append(lines, renderStatusLine("Backend run", statusInfo, run.BackendRunID, colorize))
	}
	if run.Volume != "" {
		releaseKind := statusOK
		if !run.Released {
			releaseKind = statusError
		}
		lines = append(lines, renderStatusLine("Volume", releaseKind, fmt.Sprintf("%s (released: %s)", run.Volume, yesNo(run.Released)), colorize))
	}
	if run.OutputDir != "" {
		fetchKind := statusOK
		if !run.Fetched {
			fetchKind = statusWarn
		}
		lines = append(lines, renderStatusLine("Output", fetchKind, fmt.Sprintf("%s (fetched: %s)", run.OutputDir, yesNo(run.Fetched)), colorize))
	}
	if run.ResultLocation != "" {
		lines = append(lines, renderStatusLine("Result", statusInfo, run.ResultLocation, colorize))
	}
	if run.Detail != "" {
		lines = append(lines, renderStatusLine("Detail", statusInfo, run.Detail, colorize))
	}
	if run.ErrorMessage != "" {
		lines = append(lines, renderStatusLine("Error", statusError, run.ErrorMessage, colorize))
	}
	lines = append(lines,
		renderStatusLine("Started", statusInfo, run.StartedAt.Local().Format(time.RFC3339), colorize),
		renderStatusLine("Duration", statusInfo, formatDuration(run.Duration()), colorize),
		renderStatusLine("Exit code", statusInfo, strconv.Itoa(run.ExitCode), colorize),
	)
	return strings.Join(lines, "\n")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}
