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

// Package metrics counts what a docker-to-squash run did. The tool is a
// batch job, so the counters are written once in the node exporter textfile
// format instead of being scraped.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "docker_to_squash"

	// OperationCountKey counts operations by name and result.
	OperationCountKey = "operation_count"
	// ObjectUploadCountKey counts objects written to the store by class.
	ObjectUploadCountKey = "object_upload_count"
	// ObjectSkipCountKey counts objects already present in the store by class.
	ObjectSkipCountKey = "object_skip_count"
	// BytesUploadedKey counts bytes written to the store by class.
	BytesUploadedKey = "bytes_uploaded"
	// GCDeleteCountKey counts objects removed by garbage collection by result.
	GCDeleteCountKey = "gc_delete_count"
	// IndexPublishCountKey counts index publishes by result.
	IndexPublishCountKey = "index_publish_count"
)

// Result labels.
const (
	Succeeded = "succeeded"
	Failed    = "failed"
	Unchanged = "unchanged"
)

// Metrics holds the counters of one run on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	operationCount    *prometheus.CounterVec
	objectUploadCount *prometheus.CounterVec
	objectSkipCount   *prometheus.CounterVec
	bytesUploaded     *prometheus.CounterVec
	gcDeleteCount     *prometheus.CounterVec
	indexPublishCount *prometheus.CounterVec
}

// New creates and registers the counters.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operationCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      OperationCountKey,
				Help:      "The count of docker-to-squash operations. Broken down by operation and result.",
			},
			[]string{"operation", "result"},
		),
		objectUploadCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      ObjectUploadCountKey,
				Help:      "The count of objects uploaded to the store. Broken down by object class.",
			},
			[]string{"class"},
		),
		objectSkipCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      ObjectSkipCountKey,
				Help:      "The count of objects not uploaded because the store already had them. Broken down by object class.",
			},
			[]string{"class"},
		),
		bytesUploaded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      BytesUploadedKey,
				Help:      "The number of bytes uploaded to the store. Broken down by object class.",
			},
			[]string{"class"},
		),
		gcDeleteCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      GCDeleteCountKey,
				Help:      "The count of objects removed by garbage collection. Broken down by result.",
			},
			[]string{"result"},
		),
		indexPublishCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      IndexPublishCountKey,
				Help:      "The count of tag index publishes. Broken down by result.",
			},
			[]string{"result"},
		),
	}
	m.registry.MustRegister(
		m.operationCount,
		m.objectUploadCount,
		m.objectSkipCount,
		m.bytesUploaded,
		m.gcDeleteCount,
		m.indexPublishCount,
	)
	return m
}

// Registry returns the registry the counters are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncOperationCount counts one run of operation. A nil Metrics records
// nothing, like every other method.
func (m *Metrics) IncOperationCount(operation string, err error) {
	if m == nil {
		return
	}
	m.operationCount.WithLabelValues(operation, result(err)).Inc()
}

// AddUpload counts an object of class uploaded with size bytes.
func (m *Metrics) AddUpload(class string, size int64) {
	if m == nil {
		return
	}
	m.objectUploadCount.WithLabelValues(class).Inc()
	m.bytesUploaded.WithLabelValues(class).Add(float64(size))
}

// IncSkip counts an object of class found in the store.
func (m *Metrics) IncSkip(class string) {
	if m == nil {
		return
	}
	m.objectSkipCount.WithLabelValues(class).Inc()
}

// AddGCDeletes counts the outcome of a garbage collection.
func (m *Metrics) AddGCDeletes(deleted, failed int) {
	if m == nil {
		return
	}
	m.gcDeleteCount.WithLabelValues(Succeeded).Add(float64(deleted))
	m.gcDeleteCount.WithLabelValues(Failed).Add(float64(failed))
}

// IncIndexPublish counts one index publish.
func (m *Metrics) IncIndexPublish(published bool, err error) {
	if m == nil {
		return
	}
	r := result(err)
	if err == nil && !published {
		r = Unchanged
	}
	m.indexPublishCount.WithLabelValues(r).Inc()
}

// WriteToTextfile writes all counters to path in the textfile collector
// format. The file is replaced atomically.
func (m *Metrics) WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

func result(err error) string {
	if err != nil {
		return Failed
	}
	return Succeeded
}
