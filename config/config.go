/*
   Copyright The Soci Snapshotter Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/pelletier/go-toml/v2"
)

const (
	// DefaultConfigPath is the default filesystem path for the configuration file.
	DefaultConfigPath = "/etc/docker-to-squash/config.toml"
)

type Config struct {
	// WorkingDir is the local scratch directory images are pulled and
	// converted in. It must not exist when an operation starts.
	WorkingDir string `toml:"working_dir"`

	// ImageTagToHash is the file name of the tag index at the store root.
	ImageTagToHash string `toml:"image_tag_to_hash"`

	// Force overwrites objects that already exist in the store.
	Force bool `toml:"force"`

	// MaxConcurrentUploads bounds how many layers of one image are converted
	// and uploaded at once.
	MaxConcurrentUploads int `toml:"max_concurrent_uploads"`

	// CheckPreviousIndex makes a publish fail when the index changed since it
	// was loaded instead of overwriting it.
	CheckPreviousIndex bool `toml:"check_previous_index"`

	// MetricsTextfile is written in Prometheus text format when the command
	// exits. Empty disables metrics output.
	MetricsTextfile string `toml:"metrics_textfile"`

	StoreConfig      `toml:"store"`
	FetcherConfig    `toml:"fetcher"`
	PackagerConfig   `toml:"packager"`
	ConversionConfig `toml:"conversion"`
}

type configParser func(*Config) error

var parsers = []configParser{parseRootConfig, parseStoreConfig, parseFetcherConfig, parsePackagerConfig, parseConversionConfig}

// NewConfig returns an initialized Config with default values set.
func NewConfig() *Config {
	cfg := &Config{}
	parseConfig(cfg)
	return cfg
}

func NewConfigFromToml(cfgPath string) (*Config, error) {
	f, err := os.Open(cfgPath)
	if err != nil {
		if os.IsNotExist(err) && cfgPath == DefaultConfigPath {
			return NewConfig(), nil
		}
		return nil, fmt.Errorf("failed to open config file %q: %w", cfgPath, err)
	}
	defer f.Close()

	cfg := &Config{}
	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err = dec.Decode(cfg); err != nil {
		var strictErr *toml.StrictMissingError
		if errors.As(err, &strictErr) {
			return nil, fmt.Errorf("failed to load config file %q: %s: %w", cfgPath, strictErr.String(), errdefs.ErrInvalidArgument)
		}
		return nil, fmt.Errorf("failed to load config file %q: %w", cfgPath, err)
	}
	if err := parseConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config file %q: %w", cfgPath, err)
	}
	return cfg, nil
}

// Validate checks a fully populated config, after command line overrides.
func (cfg *Config) Validate() error {
	return parseConfig(cfg)
}

func parseConfig(cfg *Config) error {
	for _, p := range parsers {
		if err := p(cfg); err != nil {
			return err
		}
	}
	return nil
}

func parseRootConfig(cfg *Config) error {
	if cfg.WorkingDir == "" {
		cfg.WorkingDir = defaultWorkingDir
	}
	if cfg.ImageTagToHash == "" {
		cfg.ImageTagToHash = defaultImageTagToHash
	}
	if strings.Contains(cfg.ImageTagToHash, "/") {
		return fmt.Errorf("image_tag_to_hash %q cannot contain a /: %w", cfg.ImageTagToHash, errdefs.ErrInvalidArgument)
	}
	if cfg.MaxConcurrentUploads <= 0 {
		cfg.MaxConcurrentUploads = defaultMaxConcurrentUploads
	}
	return nil
}
