// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/jobloop"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/tabularium/internal/core"
	"github.com/sapcc/tabularium/internal/datamodel"
	"github.com/sapcc/tabularium/internal/db"
	"github.com/sapcc/tabularium/internal/prune"
)

// how long to wait after a failed sync before retrying the same host
const datasetSyncErrorInterval = 15 * time.Minute

// DatasetSyncJob is a jobloop.Job. Each task refreshes the dataset catalog
// of one host: list the host's catalog through the portal driver, prune it
// when so configured, upsert what remains and retire datasets that have
// fallen out of observation.
func (c *Collector) DatasetSyncJob(registerer prometheus.Registerer) jobloop.Job {
	return (&jobloop.ProducerConsumerJob[datasetSyncTask]{
		Metadata: jobloop.JobMetadata{
			ReadableName: "sync dataset catalog",
			CounterOpts: prometheus.CounterOpts{
				Name: "tabularium_dataset_syncs",
				Help: "Counter for dataset catalog sync operations per region.",
			},
			CounterLabels: []string{"region"},
		},
		DiscoverTask: c.discoverDatasetSyncTask,
		ProcessTask:  c.processDatasetSyncTask,
	}).Setup(registerer)
}

type datasetSyncTask struct {
	Host      db.Host
	StartedAt time.Time
}

// find the next host that needs to have its dataset catalog synced
var findHostForSyncQuery = sqlext.SimplifyWhitespace(`
	SELECT * FROM hosts
	WHERE next_sync_at <= $1
	ORDER BY next_sync_at ASC, host ASC
	LIMIT 1
`)

func (c *Collector) discoverDatasetSyncTask(_ context.Context, _ prometheus.Labels) (task datasetSyncTask, err error) {
	task.StartedAt = c.MeasureTime()
	err = c.DB.SelectOne(&task.Host, findHostForSyncQuery, task.StartedAt)
	return task, err
}

func (c *Collector) processDatasetSyncTask(ctx context.Context, task datasetSyncTask, labels prometheus.Labels) (returnedErr error) {
	host := task.Host
	labels["region"] = host.Region

	defer func() {
		if returnedErr != nil {
			returnedErr = fmt.Errorf("while syncing datasets on %s: %w", host.Host, returnedErr)
		}
	}()

	driver, exists := c.Service.Drivers[core.SourceSocrata]
	if !exists {
		return core.Classifyf(core.ErrClassConfig, "no driver for portal %s", core.SourceSocrata)
	}

	entries, err := driver.ListCatalog(ctx, host.Host, core.ListCatalogOpts{})
	finishedAt := c.MeasureTimeAtEnd()
	if err != nil {
		host.NextSyncAt = finishedAt.Add(c.AddJitter(datasetSyncErrorInterval))
		host.SyncErrorCount++
		host.LastSyncError = err.Error()
		_, updateErr := c.DB.Update(&host)
		if updateErr != nil {
			err = fmt.Errorf("%w (additional error while updating DB: %s)", err, updateErr.Error())
		}
		return err
	}

	pruned := 0
	if c.Service.Config.Sync.PruneEnabled {
		entries, pruned = c.pruneCatalog(entries, finishedAt)
	}

	datasets := make([]db.Dataset, len(entries))
	for idx, entry := range entries {
		datasets[idx] = datasetFromEntry(host.Host, entry)
	}

	tx, err := c.DB.Begin()
	if err != nil {
		return err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	upserts, err := datamodel.UpsertDatasets(tx, datasets, finishedAt)
	if err != nil {
		return err
	}
	cutoff := finishedAt.Add(-c.Service.Config.Sync.Retention.Into())
	retired, err := datamodel.RetireStaleDatasets(tx, host.Host, cutoff)
	if err != nil {
		return err
	}
	err = tx.Commit()
	if err != nil {
		return err
	}

	host.SyncDurationSecs = finishedAt.Sub(task.StartedAt).Seconds()
	host.SyncErrorCount = 0
	host.LastSyncError = ""
	host.NextSyncAt = finishedAt.Add(c.AddJitter(c.Service.Config.Sync.Interval.Into()))
	_, err = c.DB.Update(&host)
	if err != nil {
		return err
	}

	logg.Info("synced datasets on %s: %d inserted, %d updated, %d pruned, %d retired",
		host.Host, upserts.Inserted, upserts.Updated, pruned, retired)
	return nil
}

// pruneCatalog runs the prune/scoring engine over the listed catalog and
// returns the entries that were kept, plus the number dropped.
func (c *Collector) pruneCatalog(entries []core.PortalCatalogEntry, now time.Time) ([]core.PortalCatalogEntry, int) {
	candidates := make([]prune.Candidate, len(entries))
	for idx, entry := range entries {
		candidates[idx] = pruneCandidate(entry)
	}
	engine := prune.NewEngine(c.Service.Config.Prune, func() time.Time { return now })
	result := engine.Evaluate(candidates)

	byID := make(map[string]core.PortalCatalogEntry, len(entries))
	for _, entry := range entries {
		byID[entry.ID] = entry
	}
	kept := make([]core.PortalCatalogEntry, 0, len(result.Kept))
	for _, keep := range result.Kept {
		if entry, exists := byID[keep.Candidate.ID]; exists {
			kept = append(kept, entry)
		}
	}
	for _, drop := range result.Dropped {
		logg.Debug("pruned dataset %s (%s): %s", drop.ID, drop.Name, drop.Reason)
	}
	return kept, len(result.Dropped)
}

func pruneCandidate(entry core.PortalCatalogEntry) prune.Candidate {
	return prune.Candidate{
		ID:          entry.ID,
		Name:        entry.Name,
		Description: entry.Description,
		Type:        entry.Type,
		Category:    entry.Category,
		Tags:        entry.Tags,
		Publisher:   entry.Publisher,
		Permalink:   entry.Permalink,
		UpdatedAt:   entry.UpdatedAt,
	}
}

// RetirementJob is a jobloop.CronJob.
//
// It retires datasets that have not been observed for longer than the
// retention window, across all hosts. The dataset sync job already does this
// per host on success; this job catches hosts whose sync keeps failing.
func (c *Collector) RetirementJob(registerer prometheus.Registerer) jobloop.Job {
	return (&jobloop.CronJob{
		Metadata: jobloop.JobMetadata{
			ReadableName: "retire stale datasets",
			CounterOpts: prometheus.CounterOpts{
				Name: "tabularium_dataset_retirements",
				Help: "Counter for stale dataset retirement runs.",
			},
		},
		Interval: 1 * time.Hour,
		Task:     c.retireStaleDatasets,
	}).Setup(registerer)
}

var retireAllStaleQuery = sqlext.SimplifyWhitespace(`
	UPDATE datasets SET active = FALSE WHERE last_seen < $1 AND active
`)

func (c *Collector) retireStaleDatasets(_ context.Context, _ prometheus.Labels) error {
	cutoff := c.MeasureTime().Add(-c.Service.Config.Sync.Retention.Into())
	result, err := c.DB.Exec(retireAllStaleQuery, cutoff)
	if err != nil {
		return err
	}
	retired, err := result.RowsAffected()
	if err == nil && retired > 0 {
		logg.Info("retired %d stale datasets", retired)
	}
	return err
}

func datasetFromEntry(host string, entry core.PortalCatalogEntry) db.Dataset {
	link := entry.Permalink
	if link == "" {
		link = entry.ResourceURL
	}
	dataset := db.Dataset{
		Host:        host,
		DatasetID:   entry.ID,
		Title:       entry.Name,
		Description: entry.Description,
		Category:    entry.Category,
		Publisher:   entry.Publisher,
		UpdatedAt:   entry.UpdatedAt,
		RowCount:    entry.RowCount,
		ViewCount:   entry.ViewCount,
		Link:        link,
	}
	dataset.SetTags(entry.Tags)
	return dataset
}
