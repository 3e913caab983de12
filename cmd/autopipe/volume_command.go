package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"autopipe/internal/storage"
	"autopipe/internal/workflow"
)

func newVolumeCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "volume",
		Short: "Manage shared volumes left behind by failed cleanups",
	}
	cmd.AddCommand(newVolumeReleaseCommand(ctx))
	cmd.AddCommand(newVolumeLeakedCommand(ctx))
	return cmd
}

func newVolumeReleaseCommand(ctx *commandContext) *cobra.Command {
	var volumeBackend string

	cmd := &cobra.Command{
		Use:   "release <name>",
		Short: "Delete a shared volume and mark it released in history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := applyBackendOverrides(cfg, "", volumeBackend); err != nil {
				return err
			}
			logger, err := ctx.logger(cmd, cfg)
			if err != nil {
				return err
			}
			backends, err := workflow.NewBackends(cfg, ctx.executor, logger)
			if err != nil {
				return err
			}
			manager := storage.NewManager(backends.Volumes, storage.OptionsFromConfig(cfg), logger)
			if err := manager.Release(cmd.Context(), storage.Volume{Name: args[0]}); err != nil {
				return err
			}

			store, err := ctx.openHistory(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			marked, err := store.MarkReleased(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Released %s (%d history records updated)\n", args[0], marked)
			return nil
		},
	}
	cmd.Flags().StringVar(&volumeBackend, "volume-backend", "", "Volume backend override (kubectl or docker)")
	return cmd
}

func newVolumeLeakedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "leaked",
		Short: "List volumes whose release failed",
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

			runs, err := store.Unreleased(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No leaked volumes")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{run.Volume, run.VolumeBackend, strconv.FormatInt(run.ID, 10), stateLabel(run.State)})
			}
			fmt.Fprintln(out, renderTable(leakedColumns, rows))
			return nil
		},
	}
}
