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

package global

import (
	"github.com/awslabs/docker-to-squash/config"
	"github.com/containerd/log"
	"github.com/urfave/cli/v3"
)

// Global flags for the docker-to-squash CLI. Every flag but config, log-level,
// log-format and timeout overrides the value from the config file.

const (
	ConfigFlag               = "config"
	LogLevelFlag             = "log-level"
	LogFormatFlag            = "log-format"
	TimeoutFlag              = "timeout"
	StoreTypeFlag            = "store-type"
	StoreRootFlag            = "store-root"
	ImageTagToHashFlag       = "image-tag-to-hash"
	ReplicationFlag          = "replication"
	WorkingDirFlag           = "working-dir"
	ForceFlag                = "force"
	FetcherFlag              = "fetcher"
	PullFormatFlag           = "pull-format"
	SkopeoFormatFlag         = "skopeo-format"
	PlatformFlag             = "platform"
	PlainHTTPFlag            = "plain-http"
	HadoopPrefixFlag         = "hadoop-prefix"
	TolerateUnreachableFlag  = "tolerate-unreachable"
	CheckPreviousIndexFlag   = "check-previous-index"
	MaxConcurrentUploadsFlag = "max-concurrent-uploads"
	MetricsTextfileFlag      = "metrics-textfile"
)

var Flags = []cli.Flag{
	&cli.StringFlag{
		Name:    ConfigFlag,
		Aliases: []string{"c"},
		Usage:   "path to the configuration file",
		Value:   config.DefaultConfigPath,
		Sources: cli.EnvVars("DOCKER_TO_SQUASH_CONFIG"),
	},
	&cli.StringFlag{
		Name:    LogLevelFlag,
		Aliases: []string{"l", "log"},
		Usage:   "set the logging level [trace, debug, info, warn, error, fatal, panic]",
		Value:   "info",
	},
	&cli.StringFlag{
		Name:  LogFormatFlag,
		Usage: "set the logging format [text, json]",
		Value: string(log.TextFormat),
	},
	&cli.DurationFlag{
		Name:  TimeoutFlag,
		Usage: "timeout for commands",
	},
	&cli.StringFlag{
		Name:  StoreTypeFlag,
		Usage: "image store backend (hadoop or local)",
	},
	&cli.StringFlag{
		Name:    StoreRootFlag,
		Aliases: []string{"hdfs-root"},
		Usage:   "root directory of the image store",
	},
	&cli.StringFlag{
		Name:  ImageTagToHashFlag,
		Usage: "file name of the tag index at the store root",
	},
	&cli.IntFlag{
		Name:    ReplicationFlag,
		Aliases: []string{"r"},
		Usage:   "replication factor of every uploaded file",
	},
	&cli.StringFlag{
		Name:  WorkingDirFlag,
		Usage: "local working directory, which must not exist",
	},
	&cli.BoolFlag{
		Name:    ForceFlag,
		Aliases: []string{"f"},
		Usage:   "overwrite objects that already exist in the store",
	},
	&cli.StringFlag{
		Name:  FetcherFlag,
		Usage: "how images are pulled (skopeo or oras)",
	},
	&cli.StringFlag{
		Name:  PullFormatFlag,
		Usage: "skopeo transport images are pulled from",
	},
	&cli.StringFlag{
		Name:  SkopeoFormatFlag,
		Usage: "skopeo transport images are written to",
	},
	&cli.StringFlag{
		Name:  PlatformFlag,
		Usage: "platform to select from multi-platform images, e.g. linux/arm64",
	},
	&cli.BoolFlag{
		Name:  PlainHTTPFlag,
		Usage: "use plain http to talk to registries",
	},
	&cli.StringFlag{
		Name:    HadoopPrefixFlag,
		Usage:   "hadoop installation directory",
		Sources: cli.EnvVars(config.HadoopPrefixEnv),
	},
	&cli.BoolFlag{
		Name:  TolerateUnreachableFlag,
		Usage: "treat failed existence checks in the store as missing objects",
	},
	&cli.BoolFlag{
		Name:  CheckPreviousIndexFlag,
		Usage: "fail instead of overwriting a tag index changed by someone else",
	},
	&cli.IntFlag{
		Name:  MaxConcurrentUploadsFlag,
		Usage: "number of layers of one image converted and uploaded at once",
	},
	&cli.StringFlag{
		Name:  MetricsTextfileFlag,
		Usage: "write Prometheus metrics to this file when the command exits",
	},
}
