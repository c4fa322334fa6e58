// Package config loads bootstrap defaults from an optional YAML file.
// Any value also present in the durable store's Settings table overrides
// the file, matching persistence::SettingsStore::ensure_bootstrap_defaults
// in the original implementation this module was distilled from.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Bootstrap holds the handful of values needed before the durable store
// is even open: where it lives, what the default download directory is,
// which port the local control surface should listen on, and the log
// level.
type Bootstrap struct {
	DBPath            string `yaml:"db_path"`
	DefaultDownloadDir string `yaml:"default_download_dir"`
	LogDir            string `yaml:"log_dir"`
	LogLevel          string `yaml:"log_level"`
	LocalAPIPort      int    `yaml:"local_api_port"`
	BandwidthLimitBps int64  `yaml:"bandwidth_limit_bps"`
}

func defaults() Bootstrap {
	return Bootstrap{
		DBPath:             "zdmr.db",
		DefaultDownloadDir: ".",
		LogDir:             "logs",
		LogLevel:           "info",
		LocalAPIPort:       58571,
		BandwidthLimitBps:  0,
	}
}

// Load reads path if it exists, overlaying its fields onto the built-in
// defaults; a missing file is not an error, since every field has a
// usable default.
func Load(path string) (*Bootstrap, error) {
	b := defaults()
	if path == "" {
		return &b, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &b, nil
		}
		return nil, errors.Wrap(err, "read config file")
	}
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, errors.Wrap(err, "parse config file")
	}
	return &b, nil
}
