package config

const (
	defaultConfigPath              = "~/.config/printlink/config.toml"
	defaultLogDir                  = "~/.local/share/printlink/logs"
	defaultStateDir                = "~/.local/share/printlink"
	defaultOutputDir               = "~/printlink"
	defaultBridgeURL               = "ws://127.0.0.1:8000"
	defaultHandshakeTimeoutSeconds = 10
	defaultConnectTimeoutSeconds   = 30
	defaultCommandTimeoutSeconds   = 120
	defaultScheduleIntervalMS      = 10
	defaultChunkSize               = 4096
	defaultProgressSteps           = 10
	defaultDiscoveryIntervalMS     = 1000
	defaultSlicingEngine           = "slic3r"
	defaultBackendBinary           = "flux_api"
	defaultSlicingPortStart        = 8000
	defaultSlicingPortMax          = 65535
	defaultNotifyRequestTimeout    = 10
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultLogRetentionDays        = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:    defaultLogDir,
			StateDir:  defaultStateDir,
			OutputDir: defaultOutputDir,
		},
		Bridge: Bridge{
			URL:                     defaultBridgeURL,
			HandshakeTimeoutSeconds: defaultHandshakeTimeoutSeconds,
		},
		Session: Session{
			ConnectTimeoutSeconds: defaultConnectTimeoutSeconds,
			CommandTimeoutSeconds: defaultCommandTimeoutSeconds,
		},
		Queue: Queue{
			ScheduleIntervalMS: defaultScheduleIntervalMS,
			ChunkSize:          defaultChunkSize,
			ProgressSteps:      defaultProgressSteps,
		},
		Discovery: Discovery{
			Enabled:    true,
			IntervalMS: defaultDiscoveryIntervalMS,
		},
		Slicing: Slicing{
			Engine:        defaultSlicingEngine,
			BackendBinary: defaultBackendBinary,
			PortStart:     defaultSlicingPortStart,
			PortMax:       defaultSlicingPortMax,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			DeviceErrors:   true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
