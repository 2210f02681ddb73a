package config

// Default values applied before a config file is decoded.
const (
	defaultWorkDir               = "~/.local/share/gofanout"
	defaultDistributionFile      = "distribution.toml"
	defaultTargetsFile           = "targets.toml"
	defaultRescanInterval        = 5
	defaultDeferredRescanTime    = 5
	defaultMaxProcess            = 10
	defaultMaxProcessPerDir      = 3
	defaultMaxBatchFiles         = 1000
	defaultMaxBatchBytes         = 512 * 1024 * 1024
	defaultMaxFilesToProcess     = 200
	defaultOneDirCopyTimeout     = 10
	defaultDiskFullRescanTime    = 20
	defaultOldFileSearchInterval = 3600
	defaultTimeJobInterval       = 30
	defaultBufferSize            = 1 * 1024 * 1024
	defaultUnknownFileAge        = 24 * 3600
	defaultQueuedFileAge         = 5 * 24 * 3600
	defaultConsumerKind          = ConsumerFIFO
	defaultFIFOName              = "msg.fifo"
	defaultLogLevel              = "info"
	defaultLogFormat             = "console"
	defaultLogMaxSizeMB          = 100
	defaultLogMaxBackups         = 5
	defaultLogMaxAgeDays         = 14
)

// Consumer kinds.
const (
	ConsumerFIFO = "fifo"
	ConsumerSQS  = "sqs"
)

// Default returns a Config populated with the built-in defaults.
func Default() Config {
	return Config{
		WorkDir:               defaultWorkDir,
		DistributionFile:      defaultDistributionFile,
		TargetsFile:           defaultTargetsFile,
		RescanInterval:        defaultRescanInterval,
		DeferredRescanTime:    defaultDeferredRescanTime,
		MaxProcess:            defaultMaxProcess,
		MaxProcessPerDir:      defaultMaxProcessPerDir,
		MaxBatchFiles:         defaultMaxBatchFiles,
		MaxBatchBytes:         defaultMaxBatchBytes,
		MaxFilesToProcess:     defaultMaxFilesToProcess,
		OneDirCopyTimeout:     defaultOneDirCopyTimeout,
		DiskFullRescanTime:    defaultDiskFullRescanTime,
		OldFileSearchInterval: defaultOldFileSearchInterval,
		TimeJobInterval:       defaultTimeJobInterval,
		BufferSize:            defaultBufferSize,
		Consumer: Consumer{
			Kind: defaultConsumerKind,
		},
		Log: Log{
			Level:      defaultLogLevel,
			Format:     defaultLogFormat,
			MaxSizeMB:  defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
			MaxAgeDays: defaultLogMaxAgeDays,
		},
	}
}
