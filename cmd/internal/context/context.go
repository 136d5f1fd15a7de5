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

package context

import (
	"context"
	"fmt"
)

type key string

const (
	// MetricsKey holds the *metrics.Metrics of a command run.
	MetricsKey key = "metrics"
)

// WithValue returns a copy of ctx carrying value under key.
func WithValue(ctx context.Context, k key, value any) context.Context {
	return context.WithValue(ctx, k, value)
}

func GetValue[T any](ctx context.Context, k key) (T, error) {
	value := ctx.Value(k)
	if value == nil {
		var zero T
		return zero, fmt.Errorf("key %q not found in context", k)
	}
	val, ok := value.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("value for key %q is not of type %T", k, zero)
	}
	return val, nil
}
