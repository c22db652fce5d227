package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	apperrors "github.com/chtc/weekly-report/internal/errors"
)

// FileName is the per-user settings file read at startup
const FileName = ".weekly_report.conf"

// Config holds the weekly report settings
type Config struct {
	// Ticket queue (RT REST API)
	RTUsername     string
	RTPasswordFile string
	RTAPIURI       string
	RTQueue        string

	// Repository mirror used by the codebase and versions jobs.
	// The caller is responsible for keeping it fetched; stale
	// mirrors silently produce stale results.
	CondorSrcDir string

	// Download statistics and mailing list archive endpoints
	DownloadStatsURI string
	ListArchiveURI   string
	ListName         string

	// Output
	OutputBaseDir string
	LogLevel      string

	// File is the settings file the config was loaded from
	File string
}

// Path returns the location of the per-user settings file
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	return filepath.Join(home, FileName), nil
}

// Load reads the settings file from the user's home directory
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads the given settings file. Environment variables take
// precedence over values declared in the file.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("settings file %s is missing", path))
	}

	vals, err := godotenv.Read(path)
	if err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("failed to parse %s: %v", path, err))
	}

	get := func(key, defaultValue string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		if v := vals[key]; v != "" {
			return v
		}
		return defaultValue
	}

	return &Config{
		RTUsername:       get("RT_USERNAME", ""),
		RTPasswordFile:   get("RT_PASSWORD_FILE", ""),
		RTAPIURI:         get("RT_API_URI", ""),
		RTQueue:          get("RT_QUEUE", "htcondor-admin"),
		CondorSrcDir:     get("CONDOR_SRC_DIR", ""),
		DownloadStatsURI: get("DOWNLOAD_STATS_URI", "https://research.cs.wisc.edu/htcondor/downloads/stats"),
		ListArchiveURI:   get("LIST_ARCHIVE_URI", "https://lists.cs.wisc.edu/archive"),
		ListName:         get("LIST_NAME", "htcondor-users"),
		OutputBaseDir:    get("OUTPUT_BASE_DIR", "."),
		LogLevel:         get("LOG_LEVEL", "warn"),
		File:             path,
	}, nil
}

// Validate verifies that every required setting is non-empty.
// Configuration is all-or-nothing: the first missing value is fatal.
func (c *Config) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"RT_USERNAME", c.RTUsername},
		{"RT_PASSWORD_FILE", c.RTPasswordFile},
		{"RT_API_URI", c.RTAPIURI},
		{"CONDOR_SRC_DIR", c.CondorSrcDir},
	}
	for _, r := range required {
		if r.value == "" {
			return apperrors.NewConfigError(fmt.Sprintf("%s must be set in %s", r.key, c.File))
		}
	}
	return nil
}
