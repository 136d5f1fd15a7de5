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
	"fmt"

	"github.com/containerd/errdefs"
)

type FetcherType string

const (
	// SkopeoFetcherType pulls images with the skopeo command line.
	SkopeoFetcherType FetcherType = "skopeo"
	// OrasFetcherType pulls images with an in-process registry client.
	OrasFetcherType FetcherType = "oras"
)

// FetcherConfig chooses and configures how images are pulled from registries.
type FetcherConfig struct {
	Type FetcherType `toml:"type"`

	// SkopeoPath is the skopeo executable.
	SkopeoPath string `toml:"skopeo_path"`
	// PullFormat is the skopeo transport images are read from.
	PullFormat string `toml:"pull_format"`
	// SkopeoFormat is the skopeo transport images are written to. Only the
	// "dir" layout can be converted.
	SkopeoFormat string `toml:"skopeo_format"`

	// Platform selects the image of a manifest list, e.g. "linux/amd64".
	// Empty means the platform of this host.
	Platform string `toml:"platform"`

	// PlainHTTP talks to registries over http instead of https.
	PlainHTTP bool `toml:"plain_http"`

	// DockerConfigDir holds config.json with registry credentials.
	// Empty uses the docker default location.
	DockerConfigDir string `toml:"docker_config_dir"`

	// MaxConcurrentDownloads bounds concurrent blob downloads of one image.
	MaxConcurrentDownloads int `toml:"max_concurrent_downloads"`

	RetryableHTTPClientConfig `toml:"retryable_http_client"`
	ResolverConfig            `toml:"resolver"`
}

// RetryConfig represents the settings for retries in a retryable http client.
type RetryConfig struct {
	// MaxRetries is the maximum number of retries before giving up on a retryable request.
	// This does not include the initial request so the total number of attempts will be MaxRetries + 1.
	MaxRetries int `toml:"max_retries"`
	// MinWait is the minimum wait time between attempts. The actual wait time is governed by the BackoffStrategy,
	// but the wait time will never be shorter than this duration.
	MinWaitMsec int64 `toml:"min_wait_msec"`
	// MaxWait is the maximum wait time between attempts. The actual wait time is governed by the BackoffStrategy,
	// but the wait time will never be longer than this duration.
	MaxWaitMsec int64 `toml:"max_wait_msec"`
}

// TimeoutConfig represents the settings for timeout at various points in a request lifecycle in a retryable http client.
type TimeoutConfig struct {
	// DialTimeout is the maximum duration that connection can take before a request attempt is timed out.
	DialTimeoutMsec int64 `toml:"dial_timeout_msec"`
	// ResponseHeaderTimeout is the maximum duration waiting for response headers before a request attempt is timed out.
	ResponseHeaderTimeoutMsec int64 `toml:"response_header_timeout_msec"`
	// RequestTimeout is the maximum duration before the entire request attempt is timed out, body included.
	RequestTimeoutMsec int64 `toml:"request_timeout_msec"`
}

// RetryableHTTPClientConfig is the complete config for a retryable http client
type RetryableHTTPClientConfig struct {
	TimeoutConfig
	RetryConfig
}

// DefaultRetryableHTTPClientConfig returns the http client settings used when
// none are configured.
func DefaultRetryableHTTPClientConfig() RetryableHTTPClientConfig {
	return RetryableHTTPClientConfig{
		TimeoutConfig: TimeoutConfig{
			DialTimeoutMsec:           defaultDialTimeoutMsec,
			ResponseHeaderTimeoutMsec: defaultResponseHeaderTimeoutMsec,
			RequestTimeoutMsec:        defaultRequestTimeoutMsec,
		},
		RetryConfig: RetryConfig{
			MaxRetries:  defaultMaxRetries,
			MinWaitMsec: defaultMinWaitMsec,
			MaxWaitMsec: defaultMaxWaitMsec,
		},
	}
}

func parseFetcherConfig(cfg *Config) error {
	if cfg.FetcherConfig.Type == "" {
		cfg.FetcherConfig.Type = SkopeoFetcherType
	}
	switch cfg.FetcherConfig.Type {
	case SkopeoFetcherType, OrasFetcherType:
	default:
		return fmt.Errorf("unknown fetcher type %q: %w", cfg.FetcherConfig.Type, errdefs.ErrInvalidArgument)
	}
	if cfg.FetcherConfig.SkopeoPath == "" {
		cfg.FetcherConfig.SkopeoPath = defaultSkopeoPath
	}
	if cfg.FetcherConfig.PullFormat == "" {
		cfg.FetcherConfig.PullFormat = defaultPullFormat
	}
	if cfg.FetcherConfig.SkopeoFormat == "" {
		cfg.FetcherConfig.SkopeoFormat = defaultSkopeoFormat
	}
	if cfg.FetcherConfig.SkopeoFormat != defaultSkopeoFormat {
		return fmt.Errorf("skopeo format %q cannot be converted, only %q is supported: %w",
			cfg.FetcherConfig.SkopeoFormat, defaultSkopeoFormat, errdefs.ErrInvalidArgument)
	}
	if cfg.FetcherConfig.MaxConcurrentDownloads <= 0 {
		cfg.FetcherConfig.MaxConcurrentDownloads = defaultMaxConcurrentDownloads
	}
	return parseRetryableHTTPClientConfig(cfg)
}

func parseRetryableHTTPClientConfig(cfg *Config) error {
	defaults := DefaultRetryableHTTPClientConfig()
	c := &cfg.FetcherConfig.RetryableHTTPClientConfig
	if c.TimeoutConfig.DialTimeoutMsec == 0 {
		c.TimeoutConfig.DialTimeoutMsec = defaults.DialTimeoutMsec
	}
	if c.TimeoutConfig.ResponseHeaderTimeoutMsec == 0 {
		c.TimeoutConfig.ResponseHeaderTimeoutMsec = defaults.ResponseHeaderTimeoutMsec
	}
	if c.TimeoutConfig.RequestTimeoutMsec == 0 {
		c.TimeoutConfig.RequestTimeoutMsec = defaults.RequestTimeoutMsec
	}
	if c.RetryConfig.MaxRetries == 0 {
		c.RetryConfig.MaxRetries = defaults.MaxRetries
	}
	if c.RetryConfig.MinWaitMsec == 0 {
		c.RetryConfig.MinWaitMsec = defaults.MinWaitMsec
	}
	if c.RetryConfig.MaxWaitMsec == 0 {
		c.RetryConfig.MaxWaitMsec = defaults.MaxWaitMsec
	}
	return nil
}
