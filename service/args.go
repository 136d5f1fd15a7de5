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

package service

import (
	"fmt"
	"strings"

	"github.com/awslabs/docker-to-squash/tagindex"
	"github.com/containerd/errdefs"
)

// ImageTags is an image and the tags to bind it to.
type ImageTags struct {
	// Image is a registry reference, or a tag or manifest hash already in
	// the index.
	Image string
	Tags  []string
}

func (it ImageTags) String() string {
	return strings.Join(append([]string{it.Image}, it.Tags...), ",")
}

// ParseImageTags parses "image,tag[,tag...]" arguments. When requireTags is
// false an argument may name just an image.
func ParseImageTags(args []string, requireTags bool) ([]ImageTags, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no images given: %w", errdefs.ErrInvalidArgument)
	}
	out := make([]ImageTags, 0, len(args))
	for _, arg := range args {
		fields := splitList(arg)
		if len(fields) == 0 || strings.HasPrefix(strings.TrimSpace(arg), ",") {
			return nil, fmt.Errorf("argument %q has no image: %w", arg, errdefs.ErrInvalidArgument)
		}
		it := ImageTags{Image: fields[0], Tags: fields[1:]}
		if requireTags && len(it.Tags) == 0 {
			return nil, fmt.Errorf("argument %q needs an image and at least one tag: %w", arg, errdefs.ErrInvalidArgument)
		}
		for _, tag := range it.Tags {
			if err := tagindex.ValidateTag(tag); err != nil {
				return nil, fmt.Errorf("argument %q: %w: %w", arg, err, errdefs.ErrInvalidArgument)
			}
		}
		out = append(out, it)
	}
	return out, nil
}

// ParseList parses comma separated tags or hashes spread over any number of
// arguments.
func ParseList(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		out = append(out, splitList(arg)...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no tags or hashes given: %w", errdefs.ErrInvalidArgument)
	}
	return out, nil
}

func splitList(arg string) []string {
	var out []string
	for _, f := range strings.Split(arg, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
