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

package fetcher

import (
	"github.com/docker/cli/cli/config"
)

// dockerHubAuthKey is the key docker.io credentials are stored under.
const dockerHubAuthKey = "https://index.docker.io/v1/"

// DockerCreds returns the credentials for host from the docker CLI config in
// configDir, or the default location when configDir is empty. An identity
// token is returned as the secret with an empty username.
func DockerCreds(configDir, host string) (string, string, error) {
	cf, err := config.Load(configDir)
	if err != nil {
		// A broken config means anonymous access, like the docker CLI.
		return "", "", nil
	}
	if host == dockerHubDomain || host == dockerHubRegistry {
		host = dockerHubAuthKey
	}
	ac, err := cf.GetAuthConfig(host)
	if err != nil {
		return "", "", err
	}
	if ac.IdentityToken != "" {
		return "", ac.IdentityToken, nil
	}
	return ac.Username, ac.Password, nil
}
