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
	"context"
	"fmt"

	"github.com/awslabs/docker-to-squash/cmd/docker-to-squash/commands/global"
	clicontext "github.com/awslabs/docker-to-squash/cmd/internal/context"
	"github.com/awslabs/docker-to-squash/config"
	"github.com/awslabs/docker-to-squash/fetcher"
	"github.com/awslabs/docker-to-squash/layer"
	"github.com/awslabs/docker-to-squash/metrics"
	"github.com/awslabs/docker-to-squash/packager"
	"github.com/awslabs/docker-to-squash/service"
	"github.com/awslabs/docker-to-squash/store"
	"github.com/awslabs/docker-to-squash/store/hadoop"
	"github.com/awslabs/docker-to-squash/store/local"
	"github.com/containerd/log"
	"github.com/urfave/cli/v3"
)

// All commands should call NewService once, near the start, and defer the
// returned done function.

// AppContext returns the context for a command with the timeout from the
// global flags applied.
func AppContext(ctx context.Context, cmd *cli.Command) (context.Context, context.CancelFunc) {
	if timeout := cmd.Duration(global.TimeoutFlag); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// NewDriver returns the store driver selected in cfg.
func NewDriver(cfg *config.Config) (store.Driver, error) {
	switch cfg.StoreConfig.Type {
	case config.HadoopStoreType:
		return hadoop.New(cfg.StoreConfig.HadoopPath, cfg.StoreConfig.HadoopPrefix), nil
	case config.LocalStoreType:
		return local.New(), nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.StoreConfig.Type)
	}
}

// NewService builds the service for a command from the config file and the
// global flags. done releases the command context and writes the metrics
// textfile when one is configured.
func NewService(ctx context.Context, cmd *cli.Command) (*service.Service, context.Context, func(), error) {
	cfg, err := LoadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	driver, err := NewDriver(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	f, err := fetcher.New(cfg.FetcherConfig)
	if err != nil {
		return nil, nil, nil, err
	}
	converter, err := layer.NewConverter(cfg.ConversionConfig, packager.NewMksquashfs(cfg.PackagerConfig))
	if err != nil {
		return nil, nil, nil, err
	}

	var opts []service.Option
	m, err := clicontext.GetValue[*metrics.Metrics](ctx, clicontext.MetricsKey)
	if err == nil {
		opts = append(opts, service.WithMetrics(m))
	}
	ctx, cancel := AppContext(ctx, cmd)
	done := func() {
		cancel()
		if cfg.MetricsTextfile == "" || m == nil {
			return
		}
		if err := m.WriteToTextfile(cfg.MetricsTextfile); err != nil {
			log.L.WithError(err).WithField("path", cfg.MetricsTextfile).Warn("failed to write metrics")
		}
	}
	return service.New(cfg, driver, f, converter, opts...), ctx, done, nil
}
