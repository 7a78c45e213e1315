package config

// DefaultExtensions are the image extensions accepted by the scanner when
// the config does not override them.
var DefaultExtensions = []string{"jpg", "jpeg", "png", "gif", "bmp", "tiff", "tif", "webp"}

// DefaultExcludedFolders are directory-name tokens pruned during scanning.
// Matching is a case-insensitive substring test against the directory's own name.
var DefaultExcludedFolders = []string{
	"System32", "Windows", "Program Files", "AppData",
	".git", "__pycache__", "temp", "tmp", "cache",
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/usr/local/var/mitsukeru/data"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/mitsukeru/models/clip-vit-b-32-visual.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 512
	}
	if cfg.Embedding.MaxImageDim == 0 {
		cfg.Embedding.MaxImageDim = 1024
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Scan.Extensions == nil {
		cfg.Scan.Extensions = append([]string(nil), DefaultExtensions...)
	}
	if cfg.Scan.ExcludedFolders == nil {
		cfg.Scan.ExcludedFolders = append([]string(nil), DefaultExcludedFolders...)
	}
	if cfg.Scan.MinFileSizeKB == 0 {
		cfg.Scan.MinFileSizeKB = 1
	}
	if cfg.Scan.MaxFileSizeMB == 0 {
		cfg.Scan.MaxFileSizeMB = 50
	}
	if cfg.Watch.DebounceMs == 0 {
		cfg.Watch.DebounceMs = 2000
	}
}
