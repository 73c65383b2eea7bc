// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package datamodel

import (
	"time"

	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/tabularium/internal/core"
	"github.com/sapcc/tabularium/internal/db"
)

// UpsertResult reports how an UpsertDatasets call affected the table.
type UpsertResult struct {
	Inserted int
	Updated  int
}

// first_seen is deliberately absent from the update set: it marks the first
// observation and never moves afterwards.
var upsertDatasetQuery = sqlext.SimplifyWhitespace(`
	INSERT INTO datasets
		(host, dataset_id, title, description, category, tags, publisher,
		 updated_at, row_count, view_count, link, active, first_seen, last_seen)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE, $12, $12)
	ON CONFLICT (host, dataset_id) DO UPDATE
	SET title = EXCLUDED.title, description = EXCLUDED.description,
	    category = EXCLUDED.category, tags = EXCLUDED.tags,
	    publisher = EXCLUDED.publisher, updated_at = EXCLUDED.updated_at,
	    row_count = EXCLUDED.row_count, view_count = EXCLUDED.view_count,
	    link = EXCLUDED.link, active = TRUE, last_seen = EXCLUDED.last_seen
	RETURNING (xmax = 0) AS inserted
`)

// UpsertDatasets inserts or refreshes dataset records for one host. Existing
// rows have all non-key columns replaced, are marked active again, and get
// their last_seen bumped to now. The distinction between inserted and
// updated rows comes from the RETURNING clause, so the counts are accurate
// even under concurrent writers.
func UpsertDatasets(dbi db.Interface, datasets []db.Dataset, now time.Time) (UpsertResult, error) {
	var result UpsertResult
	for _, dataset := range datasets {
		var inserted bool
		err := dbi.QueryRow(upsertDatasetQuery,
			dataset.Host, dataset.DatasetID, dataset.Title, dataset.Description,
			dataset.Category, dataset.TagsJSON, dataset.Publisher,
			dataset.UpdatedAt, dataset.RowCount, dataset.ViewCount, dataset.Link,
			now,
		).Scan(&inserted)
		if err != nil {
			return result, core.Classify(core.ErrClassPersistence, err)
		}
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}
	return result, nil
}

var retireStaleDatasetsQuery = sqlext.SimplifyWhitespace(`
	UPDATE datasets SET active = FALSE
	WHERE host = $1 AND last_seen < $2 AND active
`)

// RetireStaleDatasets deactivates datasets on the given host that have not
// been observed since the cutoff. It only ever flips active to false;
// resurrection happens through UpsertDatasets when a dataset reappears.
func RetireStaleDatasets(dbi db.Interface, host string, cutoff time.Time) (retired int64, err error) {
	queryResult, err := dbi.Exec(retireStaleDatasetsQuery, host, cutoff)
	if err != nil {
		return 0, core.Classify(core.ErrClassPersistence, err)
	}
	retired, err = queryResult.RowsAffected()
	return retired, core.Classify(core.ErrClassPersistence, err)
}
