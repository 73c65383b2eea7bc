// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"encoding/json"
	"time"

	"github.com/go-gorp/gorp/v3"
)

// Host contains a record from the `hosts` table: one portal API endpoint.
//
// The sync scheduling columns drive the per-host dataset sync job. They are
// operational state, not catalog data, so the ingest pipeline leaves them
// untouched.
type Host struct {
	Host             string    `db:"host"`
	Region           string    `db:"region"`
	LastSeen         time.Time `db:"last_seen"`
	NextSyncAt       time.Time `db:"next_sync_at"`
	SyncDurationSecs float64   `db:"sync_duration_secs"`
	SyncErrorCount   int       `db:"sync_error_count"`
	LastSyncError    string    `db:"last_sync_error"`
}

// Domain contains a record from the `domains` table: an organizational
// domain associated with a portal.
type Domain struct {
	Domain   string    `db:"domain"`
	Country  *string   `db:"country"` //pointer type to allow for NULL value
	Region   string    `db:"region"`
	LastSeen time.Time `db:"last_seen"`
}

// Agency contains a record from the `agencies` table: a named publisher
// within a host. Agencies are owned by their host and vanish with it.
type Agency struct {
	Host      string    `db:"host"`
	Name      string    `db:"name"`
	Type      *string   `db:"type"` //pointer type to allow for NULL value
	CreatedAt time.Time `db:"created_at"`
}

// Dataset contains a record from the `datasets` table.
type Dataset struct {
	Host        string `db:"host"`
	DatasetID   string `db:"dataset_id"`
	Title       string `db:"title"`
	Description string `db:"description"`
	Category    string `db:"category"`
	// TagsJSON is a JSON array of strings, in the portal's ordering.
	TagsJSON  string     `db:"tags"`
	Publisher string     `db:"publisher"`
	UpdatedAt *time.Time `db:"updated_at"` //as reported by the portal
	RowCount  *uint64    `db:"row_count"`
	ViewCount *uint64    `db:"view_count"`
	Link      string     `db:"link"`
	Active    bool       `db:"active"`
	FirstSeen time.Time  `db:"first_seen"`
	LastSeen  time.Time  `db:"last_seen"`
}

// Tags decodes the TagsJSON column. Malformed contents count as no tags.
func (d Dataset) Tags() []string {
	var tags []string
	_ = json.Unmarshal([]byte(d.TagsJSON), &tags)
	return tags
}

// SetTags encodes the given tags into the TagsJSON column, preserving order.
func (d *Dataset) SetTags(tags []string) {
	if len(tags) == 0 {
		d.TagsJSON = "[]"
		return
	}
	buf, _ := json.Marshal(tags)
	d.TagsJSON = string(buf)
}

// ResumeState contains a record from the `resume_states` table: the durable
// checkpoint of one pipeline.
type ResumeState struct {
	Pipeline        string    `db:"pipeline"`
	ResumeToken     string    `db:"resume_token"`
	LastProcessedAt time.Time `db:"last_processed_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// initGorp is used by InitORM() to set up the ORM part of the database
// connection.
func initGorp(db *gorp.DbMap) {
	db.AddTableWithName(Host{}, "hosts").SetKeys(false, "host")
	db.AddTableWithName(Domain{}, "domains").SetKeys(false, "domain")
	db.AddTableWithName(Agency{}, "agencies").SetKeys(false, "host", "name")
	db.AddTableWithName(Dataset{}, "datasets").SetKeys(false, "host", "dataset_id")
	db.AddTableWithName(ResumeState{}, "resume_states").SetKeys(false, "pipeline")
}
