package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = int(cfg.Server.RateLimit) + 1
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "compressed"
	}
	if cfg.Index.Directory == "" {
		cfg.Index.Directory = ".cdpindex"
	}
	if cfg.Index.Compression == "" {
		cfg.Index.Compression = "zstd"
	}
	if cfg.Index.BlockCacheSize == 0 {
		cfg.Index.BlockCacheSize = 256
	}
	if cfg.Index.SQLiteDriver == "" {
		cfg.Index.SQLiteDriver = "sqlite3"
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 20
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 200
	}
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = 10000
	}
	if cfg.Search.CacheSize == 0 {
		cfg.Search.CacheSize = 1024
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 400 * time.Millisecond
	}
	if cfg.Migrate.Workers == 0 {
		cfg.Migrate.Workers = 4
	}
}
