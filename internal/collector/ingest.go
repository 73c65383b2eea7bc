// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/jobloop"
	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/tabularium/internal/core"
	"github.com/sapcc/tabularium/internal/datamodel"
)

// IngestPipelineID is the pipeline name under which the catalog ingest
// pipeline checkpoints itself in the resume_states table.
const IngestPipelineID = "socrata_catalog"

// how long to wait between full catalog ingest runs in the collect task
const ingestRunInterval = 6 * time.Hour

// RunOptions are the per-run knobs of the catalog ingest pipeline. Zero
// values select the respective defaults from the pipeline configuration.
type RunOptions struct {
	Regions   []core.Region
	PageSize  int
	Limit     int
	BatchSize int
	DryRun    bool
	// ResumeFrom is an explicit resume token. When set, it takes precedence
	// over the checkpoint stored in the database.
	ResumeFrom string
}

// RunReport is the summary of one ingest run, in the shape that the ingest
// task prints as JSON.
type RunReport struct {
	RunID            string        `json:"runId"`
	StartedAt        time.Time     `json:"startedAt"`
	FinishedAt       time.Time     `json:"finishedAt"`
	PlannedRegions   []core.Region `json:"plannedRegions"`
	PlannedPageSize  int           `json:"plannedPageSize"`
	PlannedLimit     int           `json:"plannedLimit"`
	DryRun           bool          `json:"dryRun"`
	ResumeFrom       string        `json:"resumeFrom,omitempty"`
	TotalProcessed   int           `json:"totalProcessed"`
	LastCursor       string        `json:"lastCursor,omitempty"`
	CompletedRegions []core.Region `json:"completedRegions"`
}

// IngestRepo is the persistence surface that the ingest pipeline writes
// through. The production implementation is datamodel.Repository.
type IngestRepo interface {
	ProcessItemBatch(items []core.CatalogItem, pipeline, resumeToken string, processedAt time.Time) error
}

// resumeToken is the JSON document stored in resume_states.resume_token.
// Processed counts all unique items committed since the checkpoint chain
// began, across resumed runs; Cursor restates it in readable form.
type resumeToken struct {
	Region    core.Region `json:"region"`
	Cursor    string      `json:"cursor"`
	Processed int         `json:"processed"`
}

func parseResumeToken(raw string) (resumeToken, error) {
	var token resumeToken
	err := json.Unmarshal([]byte(raw), &token)
	if err != nil || !token.Region.IsValid() || token.Processed < 0 {
		return resumeToken{}, core.Classifyf(core.ErrClassRuntime, "Invalid resumeFrom format")
	}
	return token, nil
}

func renderResumeToken(region core.Region, processed int) string {
	buf, _ := json.Marshal(resumeToken{
		Region:    region,
		Cursor:    fmt.Sprintf("processed:%d", processed),
		Processed: processed,
	})
	return string(buf)
}

// withDefaults fills unset run options from the pipeline configuration.
func (opts RunOptions) withDefaults(cfg core.PipelineConfiguration) RunOptions {
	if len(opts.Regions) == 0 {
		opts.Regions = cfg.Regions
	}
	if opts.PageSize == 0 {
		opts.PageSize = cfg.PageSize
	}
	if opts.Limit == 0 {
		opts.Limit = cfg.Limit
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = cfg.BatchSize
	}
	return opts
}

func (opts RunOptions) validate() error {
	if len(opts.Regions) == 0 {
		return core.Classifyf(core.ErrClassConfig, "no regions planned")
	}
	for _, region := range opts.Regions {
		if !region.IsValid() {
			return core.Classifyf(core.ErrClassConfig, "invalid region: %q", region)
		}
	}
	if opts.PageSize < 1 {
		return core.Classifyf(core.ErrClassConfig, "invalid page size: %d", opts.PageSize)
	}
	if opts.Limit < 1 {
		return core.Classifyf(core.ErrClassConfig, "invalid limit: %d", opts.Limit)
	}
	if opts.BatchSize < 1 {
		return core.Classifyf(core.ErrClassConfig, "invalid batch size: %d", opts.BatchSize)
	}
	return nil
}

// RunIngest executes one full pass of the catalog ingest pipeline: walk the
// domain discovery of each planned region, deduplicate the stream, and
// commit batches together with their resume checkpoints.
//
// The returned report is meaningful even when the error is non-nil; it then
// describes the progress that was durably committed before the failure.
func (c *Collector) RunIngest(ctx context.Context, opts RunOptions) (RunReport, error) {
	opts = opts.withDefaults(c.Service.Config.Pipeline)
	report := RunReport{
		RunID:           uuid.Must(uuid.NewV4()).String(),
		StartedAt:       c.MeasureTime(),
		PlannedRegions:  opts.Regions,
		PlannedPageSize: opts.PageSize,
		PlannedLimit:    opts.Limit,
		DryRun:          opts.DryRun,
		ResumeFrom:      opts.ResumeFrom,
	}

	err := opts.validate()
	if err != nil {
		report.FinishedAt = c.MeasureTime()
		return report, err
	}

	if _, usesProm := c.Metrics.(PromMetrics); usesProm {
		initRegionCounters(renderRegionList(opts.Regions))
	}
	c.Events.Info("Pipeline started", core.Fields{
		"run_id":  report.RunID,
		"regions": renderRegions(opts.Regions),
		"dry_run": opts.DryRun,
	})

	err = c.executeIngest(ctx, opts, &report)

	report.FinishedAt = c.MeasureTimeAtEnd()
	durationMS := report.FinishedAt.Sub(report.StartedAt).Milliseconds()
	c.Metrics.Timing("pipeline_duration_ms", float64(durationMS), map[string]string{
		"regions": renderRegions(opts.Regions),
		"dry_run": strconv.FormatBool(opts.DryRun),
	})
	if err == nil {
		c.Events.Info("Pipeline completed", core.Fields{
			"run_id":          report.RunID,
			"total_processed": report.TotalProcessed,
			"duration_ms":     durationMS,
		})
	}
	return report, err
}

func (c *Collector) executeIngest(ctx context.Context, opts RunOptions, report *RunReport) error {
	if opts.DryRun {
		// A dry run only echoes the plan: no resume load, no iteration, no
		// repository calls, so the database stays bit-identical.
		if opts.ResumeFrom != "" {
			_, err := parseResumeToken(opts.ResumeFrom)
			if err != nil {
				return err
			}
			report.LastCursor = opts.ResumeFrom
		}
		return nil
	}

	discovery, exists := c.Service.Discovery(core.SourceSocrata)
	if !exists {
		return core.Classifyf(core.ErrClassConfig, "no driver for portal %s", core.SourceSocrata)
	}

	run := &ingestRun{
		c:         c,
		opts:      opts,
		discovery: discovery,
		repo:      c.MakeRepo(opts.DryRun),
		seen:      make(map[string]struct{}),
	}
	err := run.execute(ctx)

	report.TotalProcessed = run.processed
	report.LastCursor = run.lastToken
	report.CompletedRegions = run.completedRegions
	if run.resumedFrom != "" {
		report.ResumeFrom = run.resumedFrom
	}
	return err
}

// ingestRun is the mutable state of one RunIngest call.
type ingestRun struct {
	c         *Collector
	opts      RunOptions
	discovery core.CatalogDiscovery
	repo      IngestRepo

	seen  map[string]struct{}
	batch []core.CatalogItem
	// resume is the parsed token this run continues from, nil for a fresh run.
	resume      *resumeToken
	resumedFrom string
	// processed counts unique items committed so far, including the count
	// carried over in the resume token.
	processed int
	// lastToken is the most recently committed resume token, initialized to
	// the loaded token so that a failure before the first commit reports the
	// prior safe value.
	lastToken        string
	completedRegions []core.Region
}

func (run *ingestRun) execute(ctx context.Context) error {
	err := run.loadResume()
	if err != nil {
		return err
	}

	// Regions planned before the token's region were exhausted by the run
	// that wrote the token; ordered iteration never moves the token forward
	// past an unfinished region.
	resumeIdx := -1
	if run.resume != nil {
		resumeIdx = slices.Index(run.opts.Regions, run.resume.Region)
	}

	for idx, region := range run.opts.Regions {
		if idx < resumeIdx {
			run.completedRegions = append(run.completedRegions, region)
			continue
		}
		if idx == resumeIdx {
			run.c.Events.Info("Resume operation", core.Fields{
				"region":    string(region),
				"processed": run.resume.Processed,
			})
		}
		completed, err := run.executeRegion(ctx, region)
		if err != nil {
			return err
		}
		if !completed {
			// The item limit was reached; later regions stay untouched so that
			// a resumed run picks up exactly here.
			break
		}
		run.completedRegions = append(run.completedRegions, region)
	}
	return nil
}

// loadResume initializes the processed counter and cursor from the explicit
// ResumeFrom option or from the stored checkpoint.
func (run *ingestRun) loadResume() error {
	raw := run.opts.ResumeFrom
	var lastProcessedAt *time.Time
	if raw == "" {
		if !run.c.Service.Config.Pipeline.ResumeEnabled {
			return nil
		}
		state, err := datamodel.GetResumeState(run.c.DB, IngestPipelineID)
		if err != nil {
			return err
		}
		if state == nil {
			return nil
		}
		raw = state.ResumeToken
		lastProcessedAt = &state.LastProcessedAt
	}

	token, err := parseResumeToken(raw)
	if err != nil {
		return err
	}
	if !slices.Contains(run.opts.Regions, token.Region) {
		run.c.Events.Warn("Resume token ignored", core.Fields{
			"pipeline": IngestPipelineID,
			"region":   string(token.Region),
		})
		return nil
	}

	fields := core.Fields{
		"pipeline":     IngestPipelineID,
		"token_length": len(raw),
	}
	if lastProcessedAt != nil {
		fields["last_processed_at"] = lastProcessedAt.UTC().Format(time.RFC3339)
	}
	run.c.Events.Info("Resume from token", fields)
	run.c.Metrics.Increment("resume_restarts_total", 1, nil)

	run.resume = &token
	run.resumedFrom = raw
	run.processed = token.Processed
	run.lastToken = raw
	return nil
}

// executeRegion walks one region's domain discovery until the stream ends or
// the run-wide item limit is reached. It reports whether the region's
// catalog was walked to the end.
func (run *ingestRun) executeRegion(ctx context.Context, region core.Region) (completed bool, err error) {
	remaining := run.opts.Limit - run.processed
	if remaining <= 0 {
		return false, nil
	}

	iter := run.discovery.DiscoverCatalogItems(region, core.DiscoverOpts{
		PageSize: run.opts.PageSize,
		Limit:    remaining,
	})

	retryCfg := run.c.Service.Config.Pipeline.Retry
	emitted := 0
	attempt := 1
	for {
		item, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if core.IsFatal(err) {
				run.c.Events.Error("Fatal error encountered", core.Fields{
					"error_type": "FATAL",
					"error":      err.Error(),
					"attempt":    attempt,
				})
				return false, pipelineError(err)
			}
			if attempt <= retryCfg.MaxAttempts {
				delay := core.BackoffDelay(retryCfg, attempt-1)
				if sleepErr := run.c.Sleep(ctx, delay); sleepErr != nil {
					return false, core.Classify(core.ErrClassCancelled, sleepErr)
				}
				attempt++
				continue
			}
			run.c.Events.Error("Retry exhausted", core.Fields{
				"error_type":     "TRANSIENT",
				"total_attempts": attempt,
				"final_error":    err.Error(),
			})
			return false, pipelineError(err)
		}
		attempt = 1
		emitted++

		key := item.DedupKey()
		if _, duplicate := run.seen[key]; duplicate {
			run.c.Events.Debug("Duplicate discovery record skipped", core.Fields{
				"region": string(region),
				"key":    key,
			})
			run.c.Metrics.Increment("duplicates_skipped_total", 1, map[string]string{"region": string(region)})
			continue
		}
		run.seen[key] = struct{}{}
		run.batch = append(run.batch, item)

		if len(run.batch) >= run.opts.BatchSize {
			err = run.flushBatch(region)
			if err != nil {
				return false, err
			}
		}
	}

	err = run.flushBatch(region)
	if err != nil {
		return false, err
	}
	// An iterator that stopped exactly at its cap may have more items behind
	// it, so only a short stream proves exhaustion.
	return emitted < remaining, nil
}

// flushBatch commits the accumulated batch together with the resume token
// covering it. An empty batch is not a commit; checkpoints only advance with
// data.
func (run *ingestRun) flushBatch(region core.Region) error {
	if len(run.batch) == 0 {
		return nil
	}
	batch := run.batch
	run.batch = nil

	newProcessed := run.processed + len(batch)
	token := renderResumeToken(region, newProcessed)

	start := run.c.MeasureTime()
	err := run.repo.ProcessItemBatch(batch, IngestPipelineID, token, start)
	durationMS := run.c.MeasureTimeAtEnd().Sub(start).Milliseconds()

	if err != nil {
		run.c.Events.Error("Batch rollback", core.Fields{
			"batch_size":       len(batch),
			"duration_ms":      durationMS,
			"error_message":    err.Error(),
			"resume_preserved": true,
		})
		return core.Classifyf(core.ErrClassRuntime, "while committing ingest batch: %w", err)
	}

	run.processed = newProcessed
	run.lastToken = token
	tags := map[string]string{"region": string(region)}
	run.c.Metrics.Increment("batches_total", 1, tags)
	run.c.Metrics.Increment("items_total", float64(len(batch)), tags)
	run.c.Metrics.Timing("batch_duration_ms", float64(durationMS), nil)
	run.c.Events.Info("Batch processed", core.Fields{
		"batch_size":            len(batch),
		"items_total":           newProcessed,
		"duration_ms":           durationMS,
		"resume_token_advanced": true,
	})
	return nil
}

// pipelineError converts driver-level errors into the classes that the
// pipeline's callers see, preserving the cause chain. Caller misuse stays
// CONFIG and cancellation stays itself; everything else is operational.
func pipelineError(err error) error {
	switch core.ClassOf(err) {
	case core.ErrClassConfig, core.ErrClassRuntime, core.ErrClassCancelled:
		return err
	default:
		return core.Classify(core.ErrClassRuntime, err)
	}
}

func renderRegions(regions []core.Region) string {
	return strings.Join(renderRegionList(regions), ",")
}

func renderRegionList(regions []core.Region) []string {
	parts := make([]string, len(regions))
	for idx, region := range regions {
		parts[idx] = string(region)
	}
	return parts
}

// IngestJob is a jobloop.CronJob.
//
// It runs the full catalog ingest pipeline on a fixed interval. This is how
// the collect task keeps the host/domain/agency catalog fresh; one-shot runs
// go through RunIngest directly.
func (c *Collector) IngestJob(registerer prometheus.Registerer) jobloop.Job {
	return (&jobloop.CronJob{
		Metadata: jobloop.JobMetadata{
			ReadableName: "catalog ingest",
			CounterOpts: prometheus.CounterOpts{
				Name: "tabularium_catalog_ingest_runs",
				Help: "Counter for catalog ingest pipeline runs.",
			},
		},
		Interval: ingestRunInterval,
		Task: func(ctx context.Context, _ prometheus.Labels) error {
			report, err := c.RunIngest(ctx, RunOptions{})
			if err != nil {
				return err
			}
			logg.Info("catalog ingest run %s processed %d items", report.RunID, report.TotalProcessed)
			return nil
		},
	}).Setup(registerer)
}
