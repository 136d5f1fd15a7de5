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

package internal

import (
	"github.com/awslabs/docker-to-squash/cmd/docker-to-squash/commands/global"
	"github.com/awslabs/docker-to-squash/config"
	"github.com/urfave/cli/v3"
)

// LoadConfig reads the config file named by the global flags and applies the
// flags that were set on top of it.
func LoadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.NewConfigFromToml(cmd.String(global.ConfigFlag))
	if err != nil {
		return nil, err
	}
	overrideString(cmd, global.StoreTypeFlag, (*string)(&cfg.StoreConfig.Type))
	overrideString(cmd, global.StoreRootFlag, &cfg.StoreConfig.Root)
	overrideString(cmd, global.HadoopPrefixFlag, &cfg.StoreConfig.HadoopPrefix)
	overrideInt(cmd, global.ReplicationFlag, &cfg.StoreConfig.Replication)
	overrideBool(cmd, global.TolerateUnreachableFlag, &cfg.StoreConfig.TolerateUnreachable)

	overrideString(cmd, global.ImageTagToHashFlag, &cfg.ImageTagToHash)
	overrideString(cmd, global.WorkingDirFlag, &cfg.WorkingDir)
	overrideString(cmd, global.MetricsTextfileFlag, &cfg.MetricsTextfile)
	overrideBool(cmd, global.ForceFlag, &cfg.Force)
	overrideBool(cmd, global.CheckPreviousIndexFlag, &cfg.CheckPreviousIndex)
	overrideInt(cmd, global.MaxConcurrentUploadsFlag, &cfg.MaxConcurrentUploads)

	overrideString(cmd, global.FetcherFlag, (*string)(&cfg.FetcherConfig.Type))
	overrideString(cmd, global.PullFormatFlag, &cfg.FetcherConfig.PullFormat)
	overrideString(cmd, global.SkopeoFormatFlag, &cfg.FetcherConfig.SkopeoFormat)
	overrideString(cmd, global.PlatformFlag, &cfg.FetcherConfig.Platform)
	overrideBool(cmd, global.PlainHTTPFlag, &cfg.FetcherConfig.PlainHTTP)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overrideString(cmd *cli.Command, name string, dst *string) {
	if cmd.IsSet(name) {
		*dst = cmd.String(name)
	}
}

func overrideInt(cmd *cli.Command, name string, dst *int) {
	if cmd.IsSet(name) {
		*dst = int(cmd.Int(name))
	}
}

func overrideBool(cmd *cli.Command, name string, dst *bool) {
	if cmd.IsSet(name) {
		*dst = cmd.Bool(name)
	}
}
