package config

import (
	"fmt"
	"os"
	"strconv"

	"hls-packager/internal/mpegts"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvUint32 is GetEnvInt for non-negative 32-bit values.
func GetEnvUint32(key string, fallback uint32) uint32 {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.ParseUint(s, 10, 32); err == nil {
			return uint32(n)
		}
	}
	return fallback
}

// Packager overlays the HLS_* environment variables on base:
//
//	HLS_SEGMENT_DURATION_MS  target segment duration
//	HLS_SEGMENT_COUNT        segments kept in memory
//	HLS_DVR_PATH             DVR storage root
//	HLS_DVR_WINDOW_MS        DVR window, 0 disables the archive
//	HLS_SEGMENT_RETENTION    segments kept after eviction
func Packager(base mpegts.Config) mpegts.Config {
	base.TargetDurationMs = GetEnvUint32("HLS_SEGMENT_DURATION_MS", base.TargetDurationMs)
	base.MaxSegmentCount = GetEnvUint32("HLS_SEGMENT_COUNT", base.MaxSegmentCount)
	base.DvrStoragePath = GetEnv("HLS_DVR_PATH", base.DvrStoragePath)
	base.DvrWindowMs = GetEnvUint32("HLS_DVR_WINDOW_MS", base.DvrWindowMs)
	base.SegmentRetentionCount = GetEnvUint32("HLS_SEGMENT_RETENTION", base.SegmentRetentionCount)
	return base
}

// LoadPackagerFile reads a YAML packager profile. Fields missing from the
// file keep their mpegts.DefaultConfig values.
func LoadPackagerFile(path string) (mpegts.Config, error) {
	cfg := mpegts.DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read packager config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse packager config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("packager config %s: %w", path, err)
	}
	return cfg, nil
}
