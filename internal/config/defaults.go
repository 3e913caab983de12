package config

const (
	defaultOutputDir           = "output"
	defaultLogDir              = "~/.local/share/autopipe/logs"
	defaultHistoryDB           = "~/.local/share/autopipe/history.db"
	defaultImageTag            = "latest"
	defaultPipelineName        = "Kubeflow Autopipe"
	defaultPipelineDescription = "Automatically generated pipeline based on the provided configuration file"
	defaultMountRoot           = "/mnt/data"
	defaultIngestComponent     = "save-media"
	defaultVolumeParameter     = "pvc_name"
	defaultStorageBackend      = "kubectl"
	defaultVolumeNamePrefix    = "mypipe-pvc"
	defaultVolumeSize          = "5Gi"
	defaultNamespace           = "team-1"
	defaultStorageClass        = "local-path"
	defaultAccessImage         = "busybox"
	defaultReadyAttempts       = 8
	defaultReadyBackoffMS      = 500
	defaultCopyAttempts        = 3
	defaultTeardownTimeout     = 600
	defaultExecutionBackend    = "kubeflow"
	defaultTimeoutSeconds      = 3600
	defaultPollIntervalSeconds = 10
	defaultMaxPollErrors       = 5
	defaultExperiment          = "auto_kubepipe"
	defaultRequestTimeout      = 30
	defaultDockerBinary        = "docker"
	defaultDockerParallelism   = 4
	defaultKubectlBinary       = "kubectl"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

var defaultCommand = []string{"python", "main.py"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
			HistoryDB: defaultHistoryDB,
		},
		Images: Images{
			Tag:     defaultImageTag,
			Command: append([]string(nil), defaultCommand...),
		},
		Pipeline: Pipeline{
			Name:            defaultPipelineName,
			Description:     defaultPipelineDescription,
			MountRoot:       defaultMountRoot,
			IngestComponent: defaultIngestComponent,
			VolumeParameter: defaultVolumeParameter,
		},
		Storage: Storage{
			Backend:                defaultStorageBackend,
			NamePrefix:             defaultVolumeNamePrefix,
			Size:                   defaultVolumeSize,
			Namespace:              defaultNamespace,
			StorageClass:           defaultStorageClass,
			AccessImage:            defaultAccessImage,
			ReadyAttempts:          defaultReadyAttempts,
			ReadyBackoffMS:         defaultReadyBackoffMS,
			CopyAttempts:           defaultCopyAttempts,
			TeardownTimeoutSeconds: defaultTeardownTimeout,
		},
		Execution: Execution{
			Backend:             defaultExecutionBackend,
			TimeoutSeconds:      defaultTimeoutSeconds,
			PollIntervalSeconds: defaultPollIntervalSeconds,
			MaxPollErrors:       defaultMaxPollErrors,
			CancelOnTimeout:     true,
		},
		Kubeflow: Kubeflow{
			Namespace:             defaultNamespace,
			Experiment:            defaultExperiment,
			RequestTimeoutSeconds: defaultRequestTimeout,
		},
		Docker: Docker{
			Binary:      defaultDockerBinary,
			Parallelism: defaultDockerParallelism,
		},
		Kubectl: Kubectl{
			Binary: defaultKubectlBinary,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
