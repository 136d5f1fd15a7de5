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

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/awslabs/docker-to-squash/cmd/docker-to-squash/commands"
	"github.com/awslabs/docker-to-squash/cmd/docker-to-squash/commands/global"
	clicontext "github.com/awslabs/docker-to-squash/cmd/internal/context"
	"github.com/awslabs/docker-to-squash/metrics"
	"github.com/containerd/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "docker-to-squash",
		Usage:   "convert container images to squashfs layers in a shared image store",
		Flags:   global.Flags,
		Version: Version,
		Commands: []*cli.Command{
			commands.PublishCommand,
			commands.PullOnlyCommand,
			commands.PushOnlyCommand,
			commands.RemoveImageCommand,
			commands.AddTagCommand,
			commands.RemoveTagCommand,
			commands.CopyCommand,
			commands.QueryTagCommand,
			commands.ListTagsCommand,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if err := log.SetLevel(cmd.String(global.LogLevelFlag)); err != nil {
				return ctx, err
			}
			switch format := log.OutputFormat(cmd.String(global.LogFormatFlag)); format {
			case log.JSONFormat:
				logrus.SetFormatter(&logrus.JSONFormatter{
					TimestampFormat: log.RFC3339NanoFixed,
				})
			default:
				if err := log.SetFormat(format); err != nil {
					return ctx, err
				}
			}
			return log.WithLogger(ctx, log.L), nil
		},
	}
}

func main() {
	ctx, cancel := context.WithCancel(clicontext.WithValue(context.Background(), clicontext.MetricsKey, metrics.New()))
	if err := newApp().Run(ctx, os.Args); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "docker-to-squash: %v\n", err)
		os.Exit(1)
	}
	cancel()
}
