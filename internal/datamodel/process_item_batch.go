// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package datamodel

import (
	"time"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/tabularium/internal/core"
)

// Repository executes catalog writes for the ingest pipeline. With DryRun
// set, every mutating method returns without touching the database, so a
// dry run leaves all tables bit-identical.
type Repository struct {
	DB     *gorp.DbMap
	DryRun bool
}

var (
	upsertHostQuery = sqlext.SimplifyWhitespace(`
		INSERT INTO hosts (host, region, last_seen, next_sync_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (host) DO UPDATE
		SET region = EXCLUDED.region, last_seen = EXCLUDED.last_seen
	`)

	upsertDomainQuery = sqlext.SimplifyWhitespace(`
		INSERT INTO domains (domain, country, region, last_seen)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (domain) DO UPDATE
		SET country = COALESCE(EXCLUDED.country, domains.country),
		    region = EXCLUDED.region, last_seen = EXCLUDED.last_seen
	`)

	upsertAgencyQuery = sqlext.SimplifyWhitespace(`
		INSERT INTO agencies (host, name, type, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (host, name) DO UPDATE
		SET type = COALESCE(EXCLUDED.type, agencies.type)
	`)

	updateResumeStateQuery = sqlext.SimplifyWhitespace(`
		INSERT INTO resume_states (pipeline, resume_token, last_processed_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (pipeline) DO UPDATE
		SET resume_token = EXCLUDED.resume_token,
		    last_processed_at = EXCLUDED.last_processed_at,
		    updated_at = EXCLUDED.updated_at
	`)
)

// ProcessItemBatch writes one batch of discovery records and the resume
// token describing it in a single transaction. Either the whole batch and
// the token advance become visible together, or neither does and the token
// stays at its previous safe value.
//
// All rows written by one call share the same processedAt timestamp.
func (r *Repository) ProcessItemBatch(items []core.CatalogItem, pipeline, resumeToken string, processedAt time.Time) error {
	if r.DryRun {
		return nil
	}

	tx, err := r.DB.Begin()
	if err != nil {
		return core.Classify(core.ErrClassPersistence, err)
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	for _, item := range items {
		_, err := tx.Exec(upsertHostQuery, item.Host, string(item.Region), processedAt)
		if err != nil {
			return core.Classify(core.ErrClassPersistence, err)
		}
		_, err = tx.Exec(upsertDomainQuery,
			item.Domain, nullableString(item.Meta.Country), string(item.Region), processedAt)
		if err != nil {
			return core.Classify(core.ErrClassPersistence, err)
		}
		if item.Agency != "" {
			_, err = tx.Exec(upsertAgencyQuery,
				item.Host, item.Agency, nullableString(item.Meta.AgencyType), processedAt)
			if err != nil {
				return core.Classify(core.ErrClassPersistence, err)
			}
		}
	}

	_, err = tx.Exec(updateResumeStateQuery, pipeline, resumeToken, processedAt)
	if err != nil {
		return core.Classify(core.ErrClassPersistence, err)
	}
	return core.Classify(core.ErrClassPersistence, tx.Commit())
}

// nullableString maps "" to NULL for columns where absence is meaningful.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
