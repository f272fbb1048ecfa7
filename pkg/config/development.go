package config

func loadDevelopmentConfig(cfg *Config) {
	cfg.CoverCacheDir = "./tmp/covers"
	cfg.DatabaseDebug = true
	cfg.DatabaseFilePath = "./tmp/data.sqlite"
}
