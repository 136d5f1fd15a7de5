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
	"os"

	"github.com/containerd/errdefs"
)

type StoreType string

const (
	// HadoopStoreType keeps images in HDFS through the hadoop command line.
	HadoopStoreType StoreType = "hadoop"
	// LocalStoreType keeps images in a directory, usually a shared mount.
	LocalStoreType StoreType = "local"
)

// StoreConfig chooses and configures the remote image store.
type StoreConfig struct {
	Type StoreType `toml:"type"`

	// Root is the store directory holding manifests/, config/, layers/ and
	// the tag index.
	Root string `toml:"root"`

	// Replication is applied to every uploaded object.
	Replication int `toml:"replication"`

	// HadoopPrefix is the hadoop installation directory, used to find the
	// SymlinkTool jar. Defaults to $HADOOP_PREFIX.
	HadoopPrefix string `toml:"hadoop_prefix"`

	// HadoopPath is the hadoop executable.
	HadoopPath string `toml:"hadoop_path"`

	// TolerateUnreachable treats a failed existence check as "does not exist"
	// instead of failing the operation.
	TolerateUnreachable bool `toml:"tolerate_unreachable"`
}

func parseStoreConfig(cfg *Config) error {
	if cfg.StoreConfig.Type == "" {
		cfg.StoreConfig.Type = HadoopStoreType
	}
	switch cfg.StoreConfig.Type {
	case HadoopStoreType, LocalStoreType:
	default:
		return fmt.Errorf("unknown store type %q: %w", cfg.StoreConfig.Type, errdefs.ErrInvalidArgument)
	}
	if cfg.StoreConfig.Root == "" {
		cfg.StoreConfig.Root = defaultStoreRoot
	}
	if cfg.StoreConfig.Replication <= 0 {
		cfg.StoreConfig.Replication = defaultReplication
	}
	if cfg.StoreConfig.HadoopPrefix == "" {
		cfg.StoreConfig.HadoopPrefix = os.Getenv(HadoopPrefixEnv)
	}
	if cfg.StoreConfig.HadoopPath == "" {
		cfg.StoreConfig.HadoopPath = "hadoop"
	}
	return nil
}
