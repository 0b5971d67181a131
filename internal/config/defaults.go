package config

// Default returns the baseline configuration before any file overrides.
func Default() *Config {
	return &Config{
		Paths: Paths{
			DataDir: "~/.local/share/curator",
			LogDir:  "~/.local/share/curator/logs",
			APIBind: "127.0.0.1:7333",
		},
		Storage: Storage{
			Backend:   "local",
			LocalDir:  "~/.local/share/curator/objects",
			KeyPrefix: "documents",
		},
		Upload: Upload{
			MaxFileSizeMB:   100,
			GrantTTL:        3600,
			MaxURLFetchMB:   100,
			URLFetchTimeout: 120,
		},
		Extraction: Extraction{
			TimeoutSeconds: 300,
		},
		Embedding: Embedding{
			Model:          "text-embedding-3-small",
			BatchSize:      64,
			TimeoutSeconds: 120,
		},
		Jobs: Jobs{
			DefaultMaxAttempts: 3,
			BackoffBase:        30,
			BackoffCap:         900,
			LeaseDuration:      300,
			StaleAfter:         3600,
		},
		Workers: Workers{
			High:              1,
			Normal:            2,
			Low:               1,
			QueuePollInterval: 2,
			HeartbeatInterval: 15,
			SweepInterval:     30,
		},
		Logging: Logging{
			Format: "console",
			Level:  "info",
		},
	}
}
