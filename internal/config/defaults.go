package config

const (
	defaultLogLevel           = "info"
	defaultLogFormat          = "auto"
	defaultFetchSeconds       = 300
	defaultReadySeconds       = 120
	defaultStopSeconds        = 10
	defaultReadinessMode      = ReadinessStdout
	defaultPollIntervalMillis = 500
)

// Default returns a Config populated with launcher defaults.
func Default() Config {
	return Config{
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Timeouts: Timeouts{
			FetchSeconds: defaultFetchSeconds,
			ReadySeconds: defaultReadySeconds,
			StopSeconds:  defaultStopSeconds,
		},
		Readiness: Readiness{
			Mode:           defaultReadinessMode,
			PollIntervalMS: defaultPollIntervalMillis,
		},
	}
}
