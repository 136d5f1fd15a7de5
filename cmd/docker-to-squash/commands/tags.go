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

package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/awslabs/docker-to-squash/cmd/docker-to-squash/commands/internal"
	"github.com/awslabs/docker-to-squash/service"
	"github.com/urfave/cli/v3"
)

// RemoveTagCommand unbinds tags without removing any content.
var RemoveTagCommand = &cli.Command{
	Name:      service.OpRemoveTag,
	Usage:     "remove tags from the tag index, leaving image content in place",
	ArgsUsage: "TAG[,TAG...]...",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		tags, err := service.ParseList(cmd.Args().Slice())
		if err != nil {
			return err
		}
		svc, ctx, done, err := internal.NewService(ctx, cmd)
		if err != nil {
			return err
		}
		defer done()
		return svc.RemoveTag(ctx, tags)
	},
}

// QueryTagCommand prints where the content of tagged images is stored.
var QueryTagCommand = &cli.Command{
	Name:      service.OpQueryTag,
	Usage:     "print the manifest, config and layer paths of tags",
	ArgsUsage: "TAG[,TAG...]...",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		tags, err := service.ParseList(cmd.Args().Slice())
		if err != nil {
			return err
		}
		svc, ctx, done, err := internal.NewService(ctx, cmd)
		if err != nil {
			return err
		}
		defer done()

		infos, err := svc.QueryTag(ctx, tags)
		if err != nil {
			return err
		}
		writer := tabwriter.NewWriter(cmd.Root().Writer, 8, 8, 4, ' ', 0)
		for _, info := range infos {
			switch {
			case info.Hash == "":
				fmt.Fprintf(writer, "%s\tno mapping\t\n", info.Tag)
			case info.Manifest == "":
				fmt.Fprintf(writer, "%s\t%s\tmanifest missing\t\n", info.Tag, info.Hash)
			default:
				fmt.Fprintf(writer, "%s\tmanifest\t%s\t\n", info.Tag, info.Manifest)
				fmt.Fprintf(writer, "%s\tconfig\t%s\t\n", info.Tag, info.Config)
				for _, l := range info.Layers {
					fmt.Fprintf(writer, "%s\tlayer\t%s\t\n", info.Tag, l)
				}
			}
		}
		return writer.Flush()
	},
}

// ListTagsCommand prints the tag index as stored.
var ListTagsCommand = &cli.Command{
	Name:  service.OpListTags,
	Usage: "print the tag index",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		svc, ctx, done, err := internal.NewService(ctx, cmd)
		if err != nil {
			return err
		}
		defer done()
		return svc.ListTags(ctx, cmd.Root().Writer)
	},
}
