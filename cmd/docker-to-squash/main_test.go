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
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	clicontext "github.com/awslabs/docker-to-squash/cmd/internal/context"
	"github.com/awslabs/docker-to-squash/metrics"
	"github.com/containerd/errdefs"
)

type testCLI struct {
	configPath string
	storeRoot  string
	metrics    string
}

func newTestCLI(t *testing.T) *testCLI {
	t.Helper()
	dir := t.TempDir()
	c := &testCLI{
		configPath: filepath.Join(dir, "config.toml"),
		storeRoot:  filepath.Join(dir, "store"),
		metrics:    filepath.Join(dir, "metrics.prom"),
	}
	cfg := fmt.Sprintf(`working_dir = %q

[store]
type = "local"
root = %q
`, filepath.Join(dir, "work"), c.storeRoot)
	if err := os.WriteFile(c.configPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return c
}

func (c *testCLI) run(args ...string) (string, error) {
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	ctx := clicontext.WithValue(context.Background(), clicontext.MetricsKey, metrics.New())
	argv := append([]string{"docker-to-squash", "--config", c.configPath, "--metrics-textfile", c.metrics}, args...)
	err := app.Run(ctx, argv)
	return out.String(), err
}

func TestTagCommandsOnEmptyStore(t *testing.T) {
	c := newTestCLI(t)

	if _, err := c.run("list-tags"); !errdefs.IsNotFound(err) {
		t.Fatalf("list-tags without an index: expected not found, got %v", err)
	}
	if _, err := c.run("remove-tag", "v1,v2"); err != nil {
		t.Fatalf("remove-tag: %v", err)
	}
	out, err := c.run("list-tags")
	if err != nil {
		t.Fatalf("list-tags: %v", err)
	}
	if out != "" {
		t.Fatalf("list-tags printed %q for an empty index", out)
	}
	out, err = c.run("query-tag", "v1")
	if err != nil {
		t.Fatalf("query-tag: %v", err)
	}
	if !strings.Contains(out, "no mapping") {
		t.Fatalf("query-tag printed %q", out)
	}

	b, err := os.ReadFile(c.metrics)
	if err != nil {
		t.Fatalf("metrics textfile not written: %v", err)
	}
	if !strings.Contains(string(b), `operation="query-tag",result="succeeded"`) {
		t.Fatalf("metrics textfile lacks query-tag:\n%s", b)
	}
}

func TestRemoveImageUnknownTag(t *testing.T) {
	c := newTestCLI(t)
	out, err := c.run("--replication", "2", "remove-image", "missing")
	if err != nil {
		t.Fatalf("remove-image: %v", err)
	}
	if out != "removed 0 images, deleted 0 objects\n" {
		t.Fatalf("remove-image printed %q", out)
	}
}

func TestInvalidArguments(t *testing.T) {
	c := newTestCLI(t)
	for _, args := range [][]string{
		{"publish", "alpine"},
		{"add-tag", "alpine,bad#tag"},
		{"remove-tag"},
		{"copy", "/src", "/dst"},
		{"--store-type", "s3", "list-tags"},
		{"--image-tag-to-hash", "dir/index", "list-tags"},
	} {
		if _, err := c.run(args...); !errdefs.IsInvalidArgument(err) {
			t.Errorf("%v: expected invalid argument, got %v", args, err)
		}
	}
}

func TestMissingConfigFile(t *testing.T) {
	c := newTestCLI(t)
	c.configPath = filepath.Join(t.TempDir(), "missing.toml")
	if _, err := c.run("list-tags"); err == nil {
		t.Fatal("expected an error for a missing non-default config file")
	}
}
