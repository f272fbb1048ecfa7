package config

func loadTestConfig(cfg *Config) {
	cfg.CoverCacheDir = "./tmp/test-covers"
	cfg.DatabaseFilePath = "file::memory:?cache=shared"
}
