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

package os

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var (
	errFilePathContainsInvalidCharacters = errors.New("path contains invalid characters")
	errFilePathIsADirectory              = errors.New("path is a directory, not an executable file")
	errFilePathIsNotExecutable           = errors.New("file is not executable")
)

// SanitizeExecutablePath cleans and validates the path of an external tool
// (skopeo, mksquashfs, hadoop, decompressors) before it is executed. Symlinks
// are resolved and the result must be an executable regular file.
func SanitizeExecutablePath(path string) (string, error) {
	if strings.ContainsAny(path, "#%{}\\|;&$<>") {
		return "", errFilePathContainsInvalidCharacters
	}

	resolved, err := filepath.EvalSymlinks(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve symlinks: %w", err)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("path validation failed: %w", err)
	}
	if info.IsDir() {
		return "", errFilePathIsADirectory
	}
	if info.Mode().Perm()&0111 == 0 {
		return "", errFilePathIsNotExecutable
	}
	return abs, nil
}

// LookExecutable resolves a tool name the way the shell would and sanitizes
// the result. Names containing a path separator are used as they are.
func LookExecutable(name string) (string, error) {
	path := name
	if !strings.ContainsRune(name, filepath.Separator) {
		p, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("%s not found: %w", name, err)
		}
		path = p
	}
	return SanitizeExecutablePath(path)
}
