package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/galley/data/db/projects.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/galley/data/indices/bleve"
	}
	if cfg.Correction.TimeoutSeconds == 0 {
		// Generation against a language model backend can take minutes per
		// paragraph batch.
		cfg.Correction.TimeoutSeconds = 120
	}
	if cfg.Review.PollIntervalSeconds == 0 {
		cfg.Review.PollIntervalSeconds = 10
	}
	if cfg.Review.ActivityIntervalSeconds == 0 {
		cfg.Review.ActivityIntervalSeconds = 1
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".epub", ".txt", ".md", ".pdf", ".docx"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
