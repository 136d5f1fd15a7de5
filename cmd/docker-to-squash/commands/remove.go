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

	"github.com/awslabs/docker-to-squash/cmd/docker-to-squash/commands/internal"
	"github.com/awslabs/docker-to-squash/service"
	"github.com/containerd/errdefs"
	"github.com/urfave/cli/v3"
)

// RemoveImageCommand removes images and the content only they reference.
var RemoveImageCommand = &cli.Command{
	Name:      service.OpRemoveImage,
	Usage:     "remove images by tag or manifest hash together with their unshared content",
	ArgsUsage: "TAG_OR_HASH[,TAG_OR_HASH...]...",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		targets, err := service.ParseList(cmd.Args().Slice())
		if err != nil {
			return err
		}
		svc, ctx, done, err := internal.NewService(ctx, cmd)
		if err != nil {
			return err
		}
		defer done()

		res, err := svc.RemoveImage(ctx, targets)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.Root().Writer, "removed %d images, deleted %d objects\n", len(res.Plan.Manifests), res.Deleted)
		if res.Failed > 0 {
			return fmt.Errorf("failed to delete %d objects: %w", res.Failed, errdefs.ErrUnavailable)
		}
		return nil
	},
}

// CopyCommand copies images between two store roots.
var CopyCommand = &cli.Command{
	Name:      service.OpCopy,
	Aliases:   []string{"copy-update"},
	Usage:     "copy images from one store root to another and update the destination tag index",
	ArgsUsage: "SRC_ROOT DEST_ROOT IMAGE[,TAG...]...",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		args := cmd.Args()
		if args.Len() < 3 {
			return fmt.Errorf("need a source root, a destination root and at least one image: %w", errdefs.ErrInvalidArgument)
		}
		images, err := service.ParseImageTags(args.Slice()[2:], false)
		if err != nil {
			return err
		}
		svc, ctx, done, err := internal.NewService(ctx, cmd)
		if err != nil {
			return err
		}
		defer done()

		res, err := svc.Copy(ctx, args.Get(0), args.Get(1), images)
		writeResults(cmd.Root().Writer, res)
		return err
	},
}
