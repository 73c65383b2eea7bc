// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package socrata

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/sapcc/tabularium/internal/codecs"
	"github.com/sapcc/tabularium/internal/core"
)

// FetchMetadata implements the core.PortalDriver interface.
func (d *Driver) FetchMetadata(ctx context.Context, host, id string) (core.NormalizedDatasetMetadata, error) {
	requestURL := fmt.Sprintf("https://%s/api/views/%s.json", host, id)
	var doc viewDocument
	err := d.client.GetJSON(ctx, requestURL, &doc)
	if err != nil {
		return core.NormalizedDatasetMetadata{}, err
	}
	return normalizeView(doc), nil
}

func normalizeView(doc viewDocument) core.NormalizedDatasetMetadata {
	result := core.NormalizedDatasetMetadata{
		ID:          doc.ID,
		Name:        doc.Name,
		Description: doc.Description,
		Category:    doc.Category,
		Tags:        doc.Tags,
	}
	if doc.RowsUpdatedAt > 0 {
		updatedAt := time.Unix(doc.RowsUpdatedAt, 0).UTC()
		result.RowsUpdatedAt = &updatedAt
	}
	for _, col := range doc.Columns {
		result.Columns = append(result.Columns, core.NormalizedColumn{
			ID:          col.ID,
			Name:        col.Name,
			FieldName:   col.FieldName,
			APIType:     col.DataTypeName,
			LogicalType: logicalTypeFor(col.DataTypeName, col.SubColumnTypes),
			Nullable:    !slices.Contains(col.Flags, "required"),
			Hidden:      slices.Contains(col.Flags, "hidden"),
			Description: col.Description,
		})
	}
	return result
}

// logicalTypeFor maps a Socrata dataTypeName into the canonical type set.
// Legacy location columns carry sub-column type hints that select the more
// precise geometry type when present.
func logicalTypeFor(apiType string, subColumns []string) codecs.LogicalType {
	switch apiType {
	case "text":
		return codecs.TypeText
	case "number":
		return codecs.TypeNumber
	case "checkbox":
		return codecs.TypeCheckbox
	case "date":
		return codecs.TypeDate
	case "calendar_date":
		return codecs.TypeDateTime
	case "money":
		return codecs.TypeMoney
	case "percent":
		return codecs.TypePercent
	case "url":
		return codecs.TypeURL
	case "email":
		return codecs.TypeEmail
	case "phone":
		return codecs.TypePhone
	case "location":
		if slices.Contains(subColumns, "polygon") {
			return codecs.TypePolygon
		}
		if slices.Contains(subColumns, "point") {
			return codecs.TypePoint
		}
		return codecs.TypeLocation
	case "point":
		return codecs.TypePoint
	case "polygon", "multipolygon":
		return codecs.TypePolygon
	case "json":
		return codecs.TypeJSON
	default:
		return codecs.TypeUnknown
	}
}

type viewDocument struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Description   string       `json:"description"`
	Category      string       `json:"category"`
	Tags          []string     `json:"tags"`
	RowsUpdatedAt int64        `json:"rowsUpdatedAt"`
	Columns       []viewColumn `json:"columns"`
}

type viewColumn struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	FieldName      string   `json:"fieldName"`
	DataTypeName   string   `json:"dataTypeName"`
	Description    string   `json:"description"`
	Flags          []string `json:"flags"`
	SubColumnTypes []string `json:"subColumnTypes"`
}
