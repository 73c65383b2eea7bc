// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package datamodel

import (
	"database/sql"
	"errors"

	"github.com/sapcc/tabularium/internal/core"
	"github.com/sapcc/tabularium/internal/db"
)

// GetResumeState reads the durable checkpoint of the given pipeline.
// A pipeline that never committed a batch has no row; that is reported as
// (nil, nil).
func GetResumeState(dbi db.Interface, pipeline string) (*db.ResumeState, error) {
	var state db.ResumeState
	err := dbi.SelectOne(&state, `SELECT * FROM resume_states WHERE pipeline = $1`, pipeline)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, core.Classify(core.ErrClassPersistence, err)
	}
	return &state, nil
}
