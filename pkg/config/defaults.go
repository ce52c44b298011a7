package config

import "time"

const (
	defaultAppendDim        = "time"
	defaultPollingInterval  = 2 * time.Second
	defaultPollingTimeout   = 60 * time.Second
	defaultLockWaitInterval = 2 * time.Second
	defaultLockWaitTimeout  = 60 * time.Second
	defaultZarrVersion      = 2
)

// ApplyDefaults fills unset fields with the defaults named in spec §5/§6.
// Only fields that have a default are filled, and only when they hold
// their zero value; explicit values are kept. Polling defaults apply only
// when slice_polling is set (a nil SlicePolling stays nil), and no boolean
// field is defaulted.
func ApplyDefaults(cfg *Config) {
	if cfg.AppendDim == "" {
		cfg.AppendDim = defaultAppendDim
	}
	if cfg.ZarrVersion == 0 {
		cfg.ZarrVersion = defaultZarrVersion
	}
	if cfg.AttrsUpdateMode == "" {
		cfg.AttrsUpdateMode = "update"
	}
	if cfg.TempDir == "" {
		cfg.TempDir = cfg.TargetDir + ".temp"
	}

	applyLoggingDefaults(&cfg.Logging)
	applyPollingDefaults(cfg)
	applyLockDefaults(cfg)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyPollingDefaults(cfg *Config) {
	if cfg.SlicePolling == nil {
		return
	}
	if cfg.SlicePolling.Interval == 0 {
		cfg.SlicePolling.Interval = defaultPollingInterval
	}
	if cfg.SlicePolling.Timeout == 0 {
		cfg.SlicePolling.Timeout = defaultPollingTimeout
	}
}

func applyLockDefaults(cfg *Config) {
	if cfg.LockWaitInterval == 0 {
		cfg.LockWaitInterval = defaultLockWaitInterval
	}
	if cfg.LockWaitTimeout == 0 {
		cfg.LockWaitTimeout = defaultLockWaitTimeout
	}
}

// setDefaultsOnViper seeds viper with the same defaults so that
// environment-variable overrides (ZAPPEND_APPEND_DIM, etc.) compose
// correctly with an absent config file.
func setDefaultsOnViper(v interface {
	SetDefault(key string, value any)
}) {
	v.SetDefault("append_dim", defaultAppendDim)
	v.SetDefault("zarr_version", defaultZarrVersion)
	v.SetDefault("attrs_update_mode", "update")
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("lock_wait_interval", defaultLockWaitInterval)
	v.SetDefault("lock_wait_timeout", defaultLockWaitTimeout)
}
