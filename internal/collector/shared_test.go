// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package collector_test

import (
	"context"
	"maps"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/sapcc/go-bits/easypg"

	"github.com/sapcc/tabularium/internal/collector"
	"github.com/sapcc/tabularium/internal/core"
	"github.com/sapcc/tabularium/internal/datamodel"
	"github.com/sapcc/tabularium/internal/test"
)

func TestMain(m *testing.M) {
	easypg.WithTestDB(m, func() int { return m.Run() })
}

func mustT(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func mustFailT(t *testing.T, err error, expected error) {
	t.Helper()
	if err == nil {
		t.Errorf("expected to fail with %q, but got no error", expected.Error())
	} else if err.Error() != expected.Error() {
		t.Errorf("expected to fail with %q, but failed with %q", expected.Error(), err.Error())
	}
}

func getCollector(t *testing.T, s test.Setup) collector.Collector {
	return collector.Collector{
		Service:     s.Service,
		DB:          s.DB,
		Events:      &core.EventLogger{MinLevel: core.LogDebug},
		Metrics:     core.NullMetrics{},
		LogError:    t.Errorf,
		MeasureTime: s.Clock.Now,
		MeasureTimeAtEnd: func() time.Time {
			s.Clock.StepBy(5 * time.Second)
			return s.Clock.Now()
		},
		AddJitter: test.NoJitter,
		Sleep: func(ctx context.Context, d time.Duration) error {
			s.Clock.StepBy(d)
			return nil
		},
		MakeRepo: func(dryRun bool) collector.IngestRepo {
			return &datamodel.Repository{DB: s.DB, DryRun: dryRun}
		},
	}
}

// recordedEvent is one event seen by the capturing sink of an eventRecorder.
type recordedEvent struct {
	Level  core.LogLevel
	Msg    string
	Fields core.Fields
}

// eventRecorder captures structured pipeline events for test assertions.
type eventRecorder struct {
	Events []recordedEvent
}

// captureEvents wires an eventRecorder into the given Collector.
func captureEvents(c *collector.Collector) *eventRecorder {
	recorder := &eventRecorder{}
	c.Events = &core.EventLogger{MinLevel: core.LogDebug, Sink: recorder.record}
	return recorder
}

func (r *eventRecorder) record(level core.LogLevel, msg string, fields core.Fields) {
	r.Events = append(r.Events, recordedEvent{level, msg, fields})
}

func (r *eventRecorder) find(msg string) (recordedEvent, bool) {
	for _, event := range r.Events {
		if event.Msg == msg {
			return event, true
		}
	}
	return recordedEvent{}, false
}

func (r *eventRecorder) count(msg string) int {
	count := 0
	for _, event := range r.Events {
		if event.Msg == msg {
			count++
		}
	}
	return count
}

// metricsRecorder is a core.MetricsSink that captures all emitted values for
// test assertions. Keys look like `items_total{region=US}`.
type metricsRecorder struct {
	Counters map[string]float64
	Timings  map[string][]float64
}

// captureMetrics wires a metricsRecorder into the given Collector.
func captureMetrics(c *collector.Collector) *metricsRecorder {
	recorder := &metricsRecorder{
		Counters: make(map[string]float64),
		Timings:  make(map[string][]float64),
	}
	c.Metrics = recorder
	return recorder
}

// Increment implements the core.MetricsSink interface.
func (r *metricsRecorder) Increment(name string, value float64, tags map[string]string) {
	r.Counters[metricKey(name, tags)] += value
}

// Gauge implements the core.MetricsSink interface.
func (r *metricsRecorder) Gauge(name string, value float64, tags map[string]string) {
}

// Timing implements the core.MetricsSink interface.
func (r *metricsRecorder) Timing(name string, durationMS float64, tags map[string]string) {
	key := metricKey(name, tags)
	r.Timings[key] = append(r.Timings[key], durationMS)
}

func metricKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	keys := slices.Sorted(maps.Keys(tags))
	parts := make([]string, len(keys))
	for idx, key := range keys {
		parts[idx] = key + "=" + tags[key]
	}
	return name + "{" + strings.Join(parts, ",") + "}"
}

// recordingRepo wraps an IngestRepo and keeps a copy of everything committed
// through it.
type recordingRepo struct {
	inner   collector.IngestRepo
	batches [][]core.CatalogItem
	tokens  []string
}

// ProcessItemBatch implements the collector.IngestRepo interface.
func (r *recordingRepo) ProcessItemBatch(items []core.CatalogItem, pipeline, resumeToken string, processedAt time.Time) error {
	r.batches = append(r.batches, slices.Clone(items))
	r.tokens = append(r.tokens, resumeToken)
	return r.inner.ProcessItemBatch(items, pipeline, resumeToken, processedAt)
}

// failingRepo wraps an IngestRepo and fails every commit after the first
// `failAfter` ones, to simulate the database going away mid-run.
type failingRepo struct {
	inner     collector.IngestRepo
	failAfter int
	failWith  error
	calls     int
}

// ProcessItemBatch implements the collector.IngestRepo interface.
func (r *failingRepo) ProcessItemBatch(items []core.CatalogItem, pipeline, resumeToken string, processedAt time.Time) error {
	r.calls++
	if r.calls > r.failAfter {
		return r.failWith
	}
	return r.inner.ProcessItemBatch(items, pipeline, resumeToken, processedAt)
}
