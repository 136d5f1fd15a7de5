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

// Package http builds the HTTP client used to talk to registries.
package http

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/awslabs/docker-to-squash/config"
	"github.com/containerd/log"
	rhttp "github.com/hashicorp/go-retryablehttp"
)

func msec(n int64) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// NewRetryableClient creates a go http.Client which will automatically
// retry on non-fatal errors
func NewRetryableClient(cfg config.RetryableHTTPClientConfig) *http.Client {
	rhttpClient := rhttp.NewClient()
	// Don't log every request
	rhttpClient.Logger = nil

	// set retry config
	rhttpClient.RetryMax = cfg.MaxRetries
	rhttpClient.RetryWaitMin = msec(cfg.MinWaitMsec)
	rhttpClient.RetryWaitMax = msec(cfg.MaxWaitMsec)
	rhttpClient.Backoff = BackoffStrategy
	rhttpClient.CheckRetry = RetryStrategy
	rhttpClient.ErrorHandler = HandleHTTPError
	rhttpClient.HTTPClient.Timeout = msec(cfg.RequestTimeoutMsec)

	// set timeouts
	innerTransport := rhttpClient.HTTPClient.Transport
	if t, ok := innerTransport.(*http.Transport); ok {
		t.DialContext = (&net.Dialer{
			Timeout: msec(cfg.DialTimeoutMsec),
		}).DialContext
		t.ResponseHeaderTimeout = msec(cfg.ResponseHeaderTimeoutMsec)
	}

	return rhttpClient.StandardClient()
}

// Jitter returns a number in the range duration to duration+(duration/divisor)-1, inclusive
func Jitter(duration time.Duration, divisor int64) time.Duration {
	return time.Duration(rand.Int63n(int64(duration)/divisor) + int64(duration))
}

// BackoffStrategy extends retryablehttp's DefaultBackoff to add a random jitter to avoid
// overwhelming the repository when it comes back online
// DefaultBackoff either tries to parse the 'Retry-After' header of the response; or, it uses an
// exponential backoff 2 ^ numAttempts, limited by max
func BackoffStrategy(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	delayTime := rhttp.DefaultBackoff(min, max, attemptNum, resp)
	return Jitter(delayTime, 8)
}

// RetryStrategy extends retryablehttp's DefaultRetryPolicy to log the error and response when retrying
// DefaultRetryPolicy retries whenever err is non-nil (except for some url errors) or if returned
// status code is 429 or 5xx (except 501)
func RetryStrategy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	retry, err2 := rhttp.DefaultRetryPolicy(ctx, resp, err)
	if retry {
		entry := log.G(ctx).WithError(RedactError(err))
		if resp != nil {
			entry = entry.WithField("status", resp.StatusCode)
		}
		entry.Debug("retrying request")
	}
	return retry, err2
}

// HandleHTTPError is called by the retryable client once it gives up. It
// releases the last response and returns an error naming the request with
// its query values redacted.
func HandleHTTPError(resp *http.Response, err error, numTries int) (*http.Response, error) {
	method, target := "unknown", "unknown"
	if resp != nil {
		if resp.Request != nil {
			method = resp.Request.Method
			if resp.Request.URL != nil {
				u := *resp.Request.URL
				RedactURL(&u)
				target = u.Redacted()
			}
		}
		if resp.Body != nil {
			Drain(resp.Body)
		}
	}
	if err == nil {
		return nil, fmt.Errorf("%s %q: giving up request after %d attempt(s)", method, target, numTries)
	}
	return nil, fmt.Errorf("%s %q: giving up request after %d attempt(s): %w", method, target, numTries, RedactError(err))
}

// Drain tries to read and close the response body so the connection can be reused.
// Since it consumes the response body, this should only be used when the response
// body is no longer needed.
func Drain(body io.ReadCloser) {
	defer body.Close()

	// 4KiB is arbitrary but reasonable. Anything bigger would likely get
	// better performance from establishing a new connection.
	const responseReadLimit = int64(4096)
	_, _ = io.Copy(io.Discard, io.LimitReader(body, responseReadLimit))
}
