package config

import "os"

func loadProductionConfig(cfg *Config) {
	cfg.CoverCacheDir = "/data/covers"
	cfg.DatabaseFilePath = "/data/data.sqlite"

	if dir := os.Getenv("COVER_CACHE_DIR"); dir != "" {
		cfg.CoverCacheDir = dir
	}
	if path := os.Getenv("DATABASE_FILE_PATH"); path != "" {
		cfg.DatabaseFilePath = path
	}
}
