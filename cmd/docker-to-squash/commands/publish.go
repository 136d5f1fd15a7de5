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
	"io"
	"text/tabwriter"

	"github.com/awslabs/docker-to-squash/cmd/docker-to-squash/commands/internal"
	"github.com/awslabs/docker-to-squash/service"
	"github.com/urfave/cli/v3"
)

const imageTagsUsage = "IMAGE,TAG[,TAG...] [IMAGE,TAG[,TAG...]...]"

// PublishCommand pulls, converts and uploads images and binds their tags.
var PublishCommand = &cli.Command{
	Name:      service.OpPublish,
	Aliases:   []string{"pull-build-push-update"},
	Usage:     "pull images, build their squashfs layers, upload them and update the tag index",
	ArgsUsage: imageTagsUsage,
	Action: imageTagsAction(true, func(ctx context.Context, svc *service.Service, images []service.ImageTags) (service.Results, error) {
		return svc.Publish(ctx, images)
	}),
}

// PullOnlyCommand pulls and converts images into the working directory.
var PullOnlyCommand = &cli.Command{
	Name:      service.OpPullOnly,
	Aliases:   []string{"pull-build"},
	Usage:     "pull images and build their squashfs layers in the working directory",
	ArgsUsage: imageTagsUsage,
	Action: imageTagsAction(true, func(ctx context.Context, svc *service.Service, images []service.ImageTags) (service.Results, error) {
		return svc.PullOnly(ctx, images)
	}),
}

// PushOnlyCommand uploads images left in the working directory by pull-only.
var PushOnlyCommand = &cli.Command{
	Name:      service.OpPushOnly,
	Aliases:   []string{"push-update"},
	Usage:     "upload images built by pull-only and update the tag index",
	ArgsUsage: imageTagsUsage,
	Action: imageTagsAction(true, func(ctx context.Context, svc *service.Service, images []service.ImageTags) (service.Results, error) {
		return svc.PushOnly(ctx, images)
	}),
}

// AddTagCommand binds tags to images already in the store.
var AddTagCommand = &cli.Command{
	Name:      service.OpAddTag,
	Usage:     "bind tags to an image in the store, named by hash, tag or registry reference",
	ArgsUsage: imageTagsUsage,
	Action: imageTagsAction(true, func(ctx context.Context, svc *service.Service, images []service.ImageTags) (service.Results, error) {
		return svc.AddTag(ctx, images)
	}),
}

type imageTagsFunc func(context.Context, *service.Service, []service.ImageTags) (service.Results, error)

func imageTagsAction(requireTags bool, run imageTagsFunc) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		images, err := service.ParseImageTags(cmd.Args().Slice(), requireTags)
		if err != nil {
			return err
		}
		svc, ctx, done, err := internal.NewService(ctx, cmd)
		if err != nil {
			return err
		}
		defer done()

		res, err := run(ctx, svc, images)
		writeResults(cmd.Root().Writer, res)
		return err
	}
}

func writeResults(w io.Writer, res service.Results) {
	if len(res) == 0 {
		return
	}
	writer := tabwriter.NewWriter(w, 8, 8, 4, ' ', 0)
	writer.Write([]byte("IMAGE\tHASH\tUPLOADED\tSKIPPED\tSTATUS\t\n"))
	for _, r := range res {
		status := "ok"
		switch {
		case r.Err != nil:
			status = r.Err.Error()
		case r.Missing:
			status = "not found"
		}
		fmt.Fprintf(writer, "%s\t%s\t%d\t%d\t%s\t\n", r.Image, r.Hash, r.Uploaded, r.Skipped, status)
	}
	writer.Flush()
}
