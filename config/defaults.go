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

// Config (root) defaults
const (
	defaultWorkingDir           = "dts-work-dir"
	defaultImageTagToHash       = "image-tag-to-hash"
	defaultMaxConcurrentUploads = 1
)

// StoreConfig defaults
const (
	defaultStoreRoot   = "/mapred/docker"
	defaultReplication = 1

	// HadoopPrefixEnv is consulted when no hadoop prefix is configured.
	HadoopPrefixEnv = "HADOOP_PREFIX"
)

// FetcherConfig defaults
const (
	defaultSkopeoPath   = "skopeo"
	defaultPullFormat   = "docker"
	defaultSkopeoFormat = "dir"

	defaultMaxConcurrentDownloads = 3

	// defaultDialTimeoutMsec is the default number of milliseconds before timeout while connecting to a remote endpoint. See `TimeoutConfig.DialTimeout`.
	defaultDialTimeoutMsec = 3_000
	// defaultResponseHeaderTimeoutMsec is the default number of milliseconds before timeout while waiting for response header from a remote endpoint. See `TimeoutConfig.ResponseHeaderTimeout`.
	defaultResponseHeaderTimeoutMsec = 3_000
	// defaultRequestTimeoutMsec is the default number of milliseconds that the entire request can take before timeout.
	// Whole layers are downloaded in one request, so this is far larger than for range reads.
	defaultRequestTimeoutMsec = 600_000

	// defaults based on a target total retry time of at least 5s. 30*((2^8)-1)>5000

	// defaultMaxRetries is the default number of retries that a retryable request will make. See `RetryConfig.MaxRetries`.
	defaultMaxRetries = 8
	// defaultMinWaitMsec is the default minimum number of milliseconds between attempts. See `RetryConfig.MinWait`.
	defaultMinWaitMsec = 30
	// defaultMaxWaitMsec is the default maximum number of milliseconds between attempts. See `RetryConfig.MaxWait`.
	defaultMaxWaitMsec = 300_000
)

// PackagerConfig defaults
const (
	defaultMksquashfsPath = "mksquashfs"
)

// ConversionConfig defaults
const (
	defaultOverlayOpaqueType = OverlayOpaqueTrusted
)
