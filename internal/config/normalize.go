package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

func (c *Config) normalize() error {
	// A missing .env file is the common case.
	_ = godotenv.Load()

	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeImages()
	c.normalizePipeline()
	c.normalizeStorage()
	c.normalizeExecution()
	c.normalizeKubeflow()
	c.normalizeBinaries()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.HistoryDB) == "" {
		c.Paths.HistoryDB = defaultHistoryDB
	}
	if c.Paths.HistoryDB, err = expandPath(c.Paths.HistoryDB); err != nil {
		return fmt.Errorf("paths.history_db: %w", err)
	}
	return nil
}

func (c *Config) normalizeImages() {
	c.Images.RegistryPrefix = strings.Trim(strings.TrimSpace(c.Images.RegistryPrefix), "/")
	if c.Images.RegistryPrefix == "" {
		if value, ok := os.LookupEnv("DOCKER_USERNAME"); ok {
			c.Images.RegistryPrefix = strings.Trim(strings.TrimSpace(value), "/")
		}
	}
	c.Images.Tag = strings.TrimSpace(c.Images.Tag)
	if c.Images.Tag == "" {
		c.Images.Tag = defaultImageTag
	}
	command := c.Images.Command[:0]
	for _, part := range c.Images.Command {
		if part = strings.TrimSpace(part); part != "" {
			command = append(command, part)
		}
	}
	c.Images.Command = command
	if len(c.Images.Command) == 0 {
		c.Images.Command = append([]string(nil), defaultCommand...)
	}
}

func (c *Config) normalizePipeline() {
	c.Pipeline.Name = strings.TrimSpace(c.Pipeline.Name)
	if c.Pipeline.Name == "" {
		c.Pipeline.Name = defaultPipelineName
	}
	c.Pipeline.MountRoot = strings.TrimSpace(c.Pipeline.MountRoot)
	if c.Pipeline.MountRoot == "" {
		c.Pipeline.MountRoot = defaultMountRoot
	}
	if len(c.Pipeline.MountRoot) > 1 {
		c.Pipeline.MountRoot = strings.TrimRight(c.Pipeline.MountRoot, "/")
	}
	c.Pipeline.IngestComponent = strings.TrimSpace(c.Pipeline.IngestComponent)
	if c.Pipeline.IngestComponent == "" {
		c.Pipeline.IngestComponent = defaultIngestComponent
	}
	c.Pipeline.VolumeParameter = strings.TrimSpace(c.Pipeline.VolumeParameter)
	if c.Pipeline.VolumeParameter == "" {
		c.Pipeline.VolumeParameter = defaultVolumeParameter
	}
}

func (c *Config) normalizeStorage() {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = defaultStorageBackend
	}
	c.Storage.NamePrefix = strings.Trim(strings.TrimSpace(c.Storage.NamePrefix), "-")
	if c.Storage.NamePrefix == "" {
		c.Storage.NamePrefix = defaultVolumeNamePrefix
	}
	c.Storage.Size = strings.TrimSpace(c.Storage.Size)
	if c.Storage.Size == "" {
		c.Storage.Size = defaultVolumeSize
	}
	c.Storage.Namespace = strings.TrimSpace(c.Storage.Namespace)
	if c.Storage.Namespace == "" {
		c.Storage.Namespace = defaultNamespace
	}
	c.Storage.StorageClass = strings.TrimSpace(c.Storage.StorageClass)
	c.Storage.AccessImage = strings.TrimSpace(c.Storage.AccessImage)
	if c.Storage.AccessImage == "" {
		c.Storage.AccessImage = defaultAccessImage
	}
}

func (c *Config) normalizeExecution() {
	c.Execution.Backend = strings.ToLower(strings.TrimSpace(c.Execution.Backend))
	if c.Execution.Backend == "" {
		c.Execution.Backend = defaultExecutionBackend
	}
}

func (c *Config) normalizeKubeflow() {
	c.Kubeflow.APIURL = strings.TrimRight(strings.TrimSpace(c.Kubeflow.APIURL), "/")
	if c.Kubeflow.APIURL == "" {
		if value, ok := os.LookupEnv("KFP_API_URL"); ok {
			c.Kubeflow.APIURL = strings.TrimRight(strings.TrimSpace(value), "/")
		}
	}
	c.Kubeflow.AuthToken = strings.TrimSpace(c.Kubeflow.AuthToken)
	if c.Kubeflow.AuthToken == "" {
		if value, ok := os.LookupEnv("KFP_TOKEN"); ok {
			c.Kubeflow.AuthToken = strings.TrimSpace(value)
		}
	}
	c.Kubeflow.SessionCookie = strings.TrimSpace(c.Kubeflow.SessionCookie)
	c.Kubeflow.Namespace = strings.TrimSpace(c.Kubeflow.Namespace)
	if c.Kubeflow.Namespace == "" {
		c.Kubeflow.Namespace = c.Storage.Namespace
	}
	c.Kubeflow.Experiment = strings.TrimSpace(c.Kubeflow.Experiment)
	if c.Kubeflow.Experiment == "" {
		c.Kubeflow.Experiment = defaultExperiment
	}
}

func (c *Config) normalizeBinaries() {
	c.Docker.Binary = strings.TrimSpace(c.Docker.Binary)
	if c.Docker.Binary == "" {
		c.Docker.Binary = defaultDockerBinary
	}
	c.Kubectl.Binary = strings.TrimSpace(c.Kubectl.Binary)
	if c.Kubectl.Binary == "" {
		c.Kubectl.Binary = defaultKubectlBinary
	}
	c.Kubectl.Context = strings.TrimSpace(c.Kubectl.Context)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
