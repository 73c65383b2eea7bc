// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/tabularium/internal/core"
	"github.com/sapcc/tabularium/internal/datamodel"
)

// Collector provides methods that implement the collection jobs performed by
// tabularium-collect. The struct contains references to the service (which
// carries the configuration and the portal drivers), the database, and a few
// other things; basically everything that needs to be replaced by a mock
// implementation for the collector's unit tests.
type Collector struct {
	Service *core.Service
	DB      *gorp.DbMap

	// Events receives the structured events of pipeline runs.
	Events *core.EventLogger
	// Metrics receives the pipeline's counters and timings.
	Metrics core.MetricsSink
	// Usually logg.Error, but can be changed inside unit tests.
	LogError func(msg string, args ...any)
	// Usually time.Now, but can be changed inside unit tests.
	MeasureTime func() time.Time
	// Usually time.Now, but can be changed inside unit tests. This separate
	// closure is used to take the end timestamp when measuring how long an
	// operation took, so tests can simulate time passing during it.
	MeasureTimeAtEnd func() time.Time
	// Usually addJitter, but can be changed inside unit tests.
	AddJitter func(time.Duration) time.Duration
	// Usually sleepContext, but can be changed inside unit tests.
	Sleep func(ctx context.Context, d time.Duration) error
	// MakeRepo builds the persistence layer for one ingest run. Usually
	// backed by datamodel.Repository, but can be changed inside unit tests
	// to script commit failures.
	MakeRepo func(dryRun bool) IngestRepo
}

// NewCollector creates a Collector instance.
func NewCollector(service *core.Service, dbm *gorp.DbMap) *Collector {
	pipeline := service.Config.Pipeline
	minLevel, _ := core.ParseLogLevel(pipeline.LogLevel)
	var metrics core.MetricsSink = core.NullMetrics{}
	if pipeline.IsMetricsEnabled() {
		metrics = PromMetrics{}
	}
	return &Collector{
		Service:          service,
		DB:               dbm,
		Events:           &core.EventLogger{MinLevel: minLevel},
		Metrics:          metrics,
		LogError:         logg.Error,
		MeasureTime:      time.Now,
		MeasureTimeAtEnd: time.Now,
		AddJitter:        addJitter,
		Sleep:            sleepContext,
		MakeRepo: func(dryRun bool) IngestRepo {
			return &datamodel.Repository{DB: dbm, DryRun: dryRun}
		},
	}
}

// addJitter returns a random duration within +/- 10% of the requested value.
// This can be used to even out the load on a scheduled job over time, by
// spreading jobs that would normally be scheduled right next to each other out
// over time without corrupting the individual schedules too much.
func addJitter(duration time.Duration) time.Duration {
	r := rand.Float64() //NOTE: 0 <= r < 1
	return time.Duration(float64(duration) * (0.9 + 0.2*r))
}

// sleepContext waits out the given duration, or returns the context's error
// when the context ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
