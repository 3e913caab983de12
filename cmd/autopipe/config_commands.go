package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"autopipe/internal/config"
	"autopipe/internal/logging"
	"autopipe/internal/services"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Create and check autopipe configuration",
	}
	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigValidateCommand(ctx))
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var pathFlag string
	var overwrite bool
	var local bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a sample configuration file",
		Long:        "Write a sample configuration to --path (default ~/.config/autopipe/config.toml).\nWith --local the sample uses docker volumes and docker execution.",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := configTarget(pathFlag)
			if err != nil {
				return services.Wrap(services.ErrConfiguration, "config", "init", "resolve path", err)
			}
			if !overwrite {
				_, statErr := os.Stat(target)
				switch {
				case statErr == nil:
					return services.Wrap(services.ErrConfiguration, "config", "init",
						fmt.Sprintf("%s already exists (use --overwrite to replace it)", target), nil)
				case !errors.Is(statErr, fs.ErrNotExist):
					return services.Wrap(services.ErrConfiguration, "config", "init", "check path", statErr)
				}
			}
			if err := config.CreateSample(target, local); err != nil {
				return services.Wrap(services.ErrConfiguration, "config", "init", "", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			if local {
				fmt.Fprintln(out, "Set images.registry_prefix (or export DOCKER_USERNAME) so step images resolve.")
			} else {
				fmt.Fprintln(out, "Set images.registry_prefix and kubeflow.api_url (or DOCKER_USERNAME and KFP_API_URL), then run autopipe preflight.")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&pathFlag, "path", "p", "", "Destination for the sample file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	cmd.Flags().BoolVar(&local, "local", false, "Select the docker backends for volumes and execution")
	return cmd
}

func configTarget(flagValue string) (string, error) {
	if value := strings.TrimSpace(flagValue); value != "" {
		return config.ExpandPath(value)
	}
	return config.DefaultConfigPath()
}

// newConfigValidateCommand loads the configuration the way every other
// command does and reports the settings a run will actually use.
func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Validate configuration and show the effective settings",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(strings.TrimSpace(ctx.configFlag))
			if err != nil {
				return services.Wrap(services.ErrConfiguration, "config", "validate", "", err)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			lines := renderSectionHeader("Configuration", colorize)
			lines = append(lines, configReport(cfg, path, exists, colorize)...)
			lines = append(lines, renderStatusLine("Result", statusOK, "Configuration valid", colorize))
			fmt.Fprintln(out, strings.Join(lines, "\n"))
			return nil
		},
	}
}

func configReport(cfg *config.Config, path string, exists bool, colorize bool) []string {
	var lines []string
	if exists {
		lines = append(lines, renderStatusLine("File", statusInfo, path, colorize))
	} else {
		lines = append(lines, renderStatusLine("File", statusWarn, path+" not found; defaults in use", colorize))
	}

	prefix := cfg.Images.RegistryPrefix
	switch {
	case prefix == "":
		lines = append(lines, renderStatusLine("Registry prefix", statusWarn,
			"unset; images resolve as <component>:"+cfg.Images.Tag, colorize))
	case prefix == strings.Trim(strings.TrimSpace(os.Getenv("DOCKER_USERNAME")), "/"):
		lines = append(lines, renderStatusLine("Registry prefix", statusOK, prefix+" (from DOCKER_USERNAME)", colorize))
	default:
		lines = append(lines, renderStatusLine("Registry prefix", statusOK, prefix, colorize))
	}

	switch cfg.Storage.Backend {
	case config.BackendKubectl:
		where := "namespace " + cfg.Storage.Namespace
		if cfg.Kubectl.Context != "" {
			where += ", context " + cfg.Kubectl.Context
		}
		lines = append(lines, renderStatusLine("Volumes", statusInfo,
			fmt.Sprintf("kubectl PVC %s (%s, class %s)", cfg.Storage.Size, where, cfg.Storage.StorageClass), colorize))
	case config.BackendDocker:
		lines = append(lines, renderStatusLine("Volumes", statusInfo, "local docker volumes", colorize))
	}

	switch cfg.Execution.Backend {
	case config.BackendKubeflow:
		lines = append(lines, renderStatusLine("Execution", statusInfo,
			fmt.Sprintf("kubeflow %s (experiment %s)", cfg.Kubeflow.APIURL, cfg.Kubeflow.Experiment), colorize))
		switch {
		case cfg.Kubeflow.AuthToken != "":
			lines = append(lines, renderStatusLine("Kubeflow auth", statusOK, "bearer token", colorize))
		case cfg.Kubeflow.SessionCookie != "":
			lines = append(lines, renderStatusLine("Kubeflow auth", statusOK, "session cookie", colorize))
		default:
			lines = append(lines, renderStatusLine("Kubeflow auth", statusWarn,
				"none; set kubeflow.auth_token or KFP_TOKEN if the API is protected", colorize))
		}
	case config.BackendDocker:
		lines = append(lines, renderStatusLine("Execution", statusInfo,
			fmt.Sprintf("local docker, %d steps in parallel", cfg.Docker.Parallelism), colorize))
	}

	lines = append(lines,
		renderStatusLine("Run timeout", statusInfo, cfg.RunTimeout().String(), colorize),
		renderStatusLine("Output", statusInfo, cfg.Paths.OutputDir, colorize),
		renderStatusLine("History", statusInfo, cfg.Paths.HistoryDB, colorize),
	)
	if cfg.Paths.LogDir == "" {
		lines = append(lines, renderStatusLine("Log file", statusInfo, "terminal only", colorize))
	} else {
		lines = append(lines, renderStatusLine("Log file", statusInfo, filepath.Join(cfg.Paths.LogDir, logging.LogFileName), colorize))
	}
	return lines
}
