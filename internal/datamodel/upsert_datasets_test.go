// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package datamodel_test

import (
	"testing"
	"time"

	"github.com/sapcc/go-bits/assert"
	"github.com/sapcc/go-bits/easypg"

	"github.com/sapcc/tabularium/internal/datamodel"
	"github.com/sapcc/tabularium/internal/db"
	"github.com/sapcc/tabularium/internal/test"
)

func p2u64(x uint64) *uint64 {
	return &x
}

func minimalDataset(host, datasetID, title string) db.Dataset {
	dataset := db.Dataset{
		Host:      host,
		DatasetID: datasetID,
		Title:     title,
		Link:      "https://" + host + "/d/" + datasetID,
	}
	dataset.SetTags(nil)
	return dataset
}

func TestUpsertDatasets(t *testing.T) {
	s := test.NewSetup(t, test.WithConfig(testConfigYAML))

	tr, tr0 := easypg.NewTracker(t, s.DB.Db)
	tr0.AssertEmpty()

	updatedAt := time.Unix(1700000000, 0)
	permits := db.Dataset{
		Host:        "data.a.gov",
		DatasetID:   "abcd-1234",
		Title:       "Building Permits",
		Description: "Permits issued by year",
		Category:    "Housing",
		Publisher:   "City Hall",
		UpdatedAt:   &updatedAt,
		RowCount:    p2u64(1200),
		ViewCount:   p2u64(45),
		Link:        "https://data.a.gov/d/abcd-1234",
	}
	permits.SetTags([]string{"permit", "housing"})
	trees := minimalDataset("data.a.gov", "efgh-5678", "Street Trees")

	result, err := datamodel.UpsertDatasets(s.DB, []db.Dataset{permits, trees}, s.Clock.Now())
	mustT(t, err)
	assert.DeepEqual(t, "upsert result", result, datamodel.UpsertResult{Inserted: 2})

	tr.DBChanges().AssertEqualf(`
		INSERT INTO datasets (host, dataset_id, title, description, category, tags, publisher, updated_at, row_count, view_count, link, active, first_seen, last_seen) VALUES ('data.a.gov', 'abcd-1234', 'Building Permits', 'Permits issued by year', 'Housing', '["permit","housing"]', 'City Hall', 1700000000, 1200, 45, 'https://data.a.gov/d/abcd-1234', TRUE, 0, 0);
		INSERT INTO datasets (host, dataset_id, title, tags, link, active, first_seen, last_seen) VALUES ('data.a.gov', 'efgh-5678', 'Street Trees', '[]', 'https://data.a.gov/d/efgh-5678', TRUE, 0, 0);
	`)

	// a later sync refreshes metadata in place: first_seen marks the first
	// observation and stays put, last_seen follows the sync
	s.Clock.StepBy(1 * time.Hour)
	permits.Title = "Building Permits (2025)"
	permits.RowCount = p2u64(1300)
	newcomer := minimalDataset("data.a.gov", "ijkl-9012", "Bike Racks")

	result, err = datamodel.UpsertDatasets(s.DB, []db.Dataset{permits, newcomer}, s.Clock.Now())
	mustT(t, err)
	assert.DeepEqual(t, "upsert result", result, datamodel.UpsertResult{Inserted: 1, Updated: 1})

	tr.DBChanges().AssertEqualf(`
		UPDATE datasets SET title = 'Building Permits (2025)', row_count = 1300, last_seen = 3600 WHERE host = 'data.a.gov' AND dataset_id = 'abcd-1234';
		INSERT INTO datasets (host, dataset_id, title, tags, link, active, first_seen, last_seen) VALUES ('data.a.gov', 'ijkl-9012', 'Bike Racks', '[]', TRUE, 3600, 3600);
	`)
}

func TestRetireStaleDatasets(t *testing.T) {
	s := test.NewSetup(t, test.WithConfig(testConfigYAML))

	staleOnA := minimalDataset("data.a.gov", "aaaa-0001", "Stale Dataset")
	freshOnA := minimalDataset("data.a.gov", "bbbb-0002", "Fresh Dataset")
	staleOnB := minimalDataset("data.b.gov", "aaaa-0001", "Other Host Dataset")

	_, err := datamodel.UpsertDatasets(s.DB, []db.Dataset{staleOnA, freshOnA}, s.Clock.Now())
	mustT(t, err)
	_, err = datamodel.UpsertDatasets(s.DB, []db.Dataset{staleOnB}, s.Clock.Now())
	mustT(t, err)

	// two hours later, only one of the datasets on the first host is still
	// being reported by its portal
	s.Clock.StepBy(2 * time.Hour)
	_, err = datamodel.UpsertDatasets(s.DB, []db.Dataset{freshOnA}, s.Clock.Now())
	mustT(t, err)

	tr, tr0 := easypg.NewTracker(t, s.DB.Db)
	tr0.Ignore()

	// retirement only touches active rows on the given host below the cutoff
	cutoff := s.Clock.Now().Add(-1 * time.Hour)
	retired, err := datamodel.RetireStaleDatasets(s.DB, "data.a.gov", cutoff)
	mustT(t, err)
	assert.DeepEqual(t, "retired count", retired, int64(1))

	tr.DBChanges().AssertEqualf(`
		UPDATE datasets SET active = FALSE WHERE host = 'data.a.gov' AND dataset_id = 'aaaa-0001';
	`)

	// a second pass with the same cutoff finds nothing left to retire
	retired, err = datamodel.RetireStaleDatasets(s.DB, "data.a.gov", cutoff)
	mustT(t, err)
	assert.DeepEqual(t, "retired count", retired, int64(0))
	tr.DBChanges().AssertEmpty()

	// when the dataset reappears in a sync, the upsert resurrects it
	result, err := datamodel.UpsertDatasets(s.DB, []db.Dataset{staleOnA}, s.Clock.Now())
	mustT(t, err)
	assert.DeepEqual(t, "upsert result", result, datamodel.UpsertResult{Updated: 1})

	tr.DBChanges().AssertEqualf(`
		UPDATE datasets SET active = TRUE, last_seen = 7200 WHERE host = 'data.a.gov' AND dataset_id = 'aaaa-0001';
	`)
}
