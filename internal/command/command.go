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

// Package command runs the external tools the converter depends on.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	intos "github.com/awslabs/docker-to-squash/internal/os"
	"github.com/containerd/log"
)

// Runner runs a command to completion and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Error is returned when a command exits unsuccessfully.
type Error struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Command, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ExitCode returns the exit code carried by err, or -1 when err did not come
// from a command that ran to completion.
func ExitCode(err error) int {
	var cmdErr *Error
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitCode
	}
	return -1
}

// Exec runs commands on the host.
type Exec struct {
	// Env is appended to the environment of the current process.
	Env []string
}

var _ Runner = &Exec{}

// Run implements Runner.
func (e *Exec) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	path, err := intos.LookExecutable(name)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, path, args...)
	if len(e.Env) > 0 {
		cmd.Env = append(cmd.Environ(), e.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	line := name + " " + strings.Join(args, " ")
	log.G(ctx).WithField("command", line).Debug("running command")
	if err := cmd.Run(); err != nil {
		cmdErr := &Error{
			Command:  line,
			ExitCode: -1,
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cmdErr.ExitCode = exitErr.ExitCode()
		}
		return stdout.Bytes(), cmdErr
	}
	return stdout.Bytes(), nil
}
