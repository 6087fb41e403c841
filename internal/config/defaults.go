package config

const (
	defaultDataDir    = "~/.local/share/fivecut/data"
	defaultLogDir     = "~/.local/share/fivecut/logs"
	defaultScratchDir = "~/.local/share/fivecut/scratch"
	defaultAPIBind    = "127.0.0.1:8787"

	defaultLogFormat = "json"
	defaultLogLevel  = "info"

	defaultStorageRegion = "us-east-1"
	defaultUploadsBucket = "videos"
	defaultExportsBucket = "exports"

	defaultWorkers            = 1
	defaultQueuePollInterval  = 2
	defaultErrorRetryInterval = 5
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120
	defaultJobTimeout         = 3 * 60 * 60
	defaultResultRetention    = 24 * 60 * 60
	defaultFailureRetention   = 7 * 24 * 60 * 60
	defaultReapInterval       = 10 * 60

	defaultFFmpegBin        = "ffmpeg"
	defaultFFprobeBin       = "ffprobe"
	defaultPythonBin        = "python"
	defaultDetectImageSize  = 1280
	defaultDetectConfidence = 0.06
	defaultSuperResModel    = "RealESRGAN_x4plus"
	defaultSuperResScale    = 2
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			LogDir:     defaultLogDir,
			ScratchDir: defaultScratchDir,
			APIBind:    defaultAPIBind,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Storage: Storage{
			Region:        defaultStorageRegion,
			UploadsBucket: defaultUploadsBucket,
			ExportsBucket: defaultExportsBucket,
		},
		Workflow: Workflow{
			Workers:            defaultWorkers,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			JobTimeout:         defaultJobTimeout,
			ResultRetention:    defaultResultRetention,
			FailureRetention:   defaultFailureRetention,
			ReapInterval:       defaultReapInterval,
		},
		Tools: Tools{
			FFmpegBin:        defaultFFmpegBin,
			FFprobeBin:       defaultFFprobeBin,
			PythonBin:        defaultPythonBin,
			EnableDetect:     true,
			EnableEnhance:    true,
			DetectImageSize:  defaultDetectImageSize,
			DetectConfidence: defaultDetectConfidence,
			SuperResModel:    defaultSuperResModel,
			SuperResScale:    defaultSuperResScale,
			SuperResHalf:     true,
		},
	}
}
