// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package db

var sqlMigrations = map[string]string{
	"001_initial.down.sql": `
		DROP TABLE resume_states;
		DROP TABLE datasets;
		DROP TABLE agencies;
		DROP TABLE domains;
		DROP TABLE hosts;
	`,
	"001_initial.up.sql": `
		CREATE TABLE hosts (
			host       TEXT         NOT NULL PRIMARY KEY,
			region     TEXT         NOT NULL,
			last_seen  TIMESTAMPTZ  NOT NULL
		);

		CREATE TABLE domains (
			domain     TEXT         NOT NULL PRIMARY KEY,
			country    TEXT         DEFAULT NULL,
			region     TEXT         NOT NULL,
			last_seen  TIMESTAMPTZ  NOT NULL
		);

		CREATE TABLE agencies (
			host        TEXT         NOT NULL REFERENCES hosts ON DELETE CASCADE,
			name        TEXT         NOT NULL,
			type        TEXT         DEFAULT NULL,
			created_at  TIMESTAMPTZ  NOT NULL,
			PRIMARY KEY (host, name)
		);

		-- no foreign key on datasets.host: datasets are keyed by natural
		-- identifiers and must survive host churn
		CREATE TABLE datasets (
			host         TEXT         NOT NULL,
			dataset_id   TEXT         NOT NULL,
			title        TEXT         NOT NULL DEFAULT '',
			description  TEXT         NOT NULL DEFAULT '',
			category     TEXT         NOT NULL DEFAULT '',
			tags         TEXT         NOT NULL DEFAULT '[]',
			publisher    TEXT         NOT NULL DEFAULT '',
			updated_at   TIMESTAMPTZ  DEFAULT NULL,
			row_count    BIGINT       DEFAULT NULL,
			view_count   BIGINT       DEFAULT NULL,
			link         TEXT         NOT NULL DEFAULT '',
			active       BOOLEAN      NOT NULL DEFAULT TRUE,
			first_seen   TIMESTAMPTZ  NOT NULL,
			last_seen    TIMESTAMPTZ  NOT NULL,
			PRIMARY KEY (host, dataset_id)
		);

		CREATE INDEX datasets_stale_idx ON datasets (host, last_seen) WHERE active;

		CREATE TABLE resume_states (
			pipeline           TEXT         NOT NULL PRIMARY KEY,
			resume_token       TEXT         NOT NULL,
			last_processed_at  TIMESTAMPTZ  NOT NULL,
			updated_at         TIMESTAMPTZ  NOT NULL
		);
	`,
	"002_host_sync_scheduling.down.sql": `
		ALTER TABLE hosts
			DROP COLUMN next_sync_at,
			DROP COLUMN sync_duration_secs,
			DROP COLUMN sync_error_count,
			DROP COLUMN last_sync_error;
	`,
	"002_host_sync_scheduling.up.sql": `
		ALTER TABLE hosts
			ADD COLUMN next_sync_at        TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			ADD COLUMN sync_duration_secs  REAL         NOT NULL DEFAULT 0,
			ADD COLUMN sync_error_count    INT          NOT NULL DEFAULT 0,
			ADD COLUMN last_sync_error     TEXT         NOT NULL DEFAULT '';
	`,
}
