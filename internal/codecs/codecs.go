// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

// Package codecs converts between raw portal values and canonical runtime
// values, per logical column type.
package codecs

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// LogicalType is the canonical column type that all portal-specific type
// names are mapped into.
type LogicalType string

const (
	TypeText     LogicalType = "text"
	TypeNumber   LogicalType = "number"
	TypeCheckbox LogicalType = "checkbox"
	TypeDate     LogicalType = "date"
	TypeDateTime LogicalType = "datetime"
	TypeMoney    LogicalType = "money"
	TypePercent  LogicalType = "percent"
	TypeURL      LogicalType = "url"
	TypeEmail    LogicalType = "email"
	TypePhone    LogicalType = "phone"
	TypeLocation LogicalType = "location"
	TypePoint    LogicalType = "point"
	TypePolygon  LogicalType = "polygon"
	TypeJSON     LogicalType = "json"
	TypeUnknown  LogicalType = "unknown"
)

// Codec converts values of one logical type.
//
// Parse turns a raw portal value into canonical form. Scalar codecs return
// nil (without error) for values they cannot interpret; geometry codecs
// return an error on shape mismatches. Format performs the reverse
// direction and must satisfy parse(format(v)) == v for all canonical v,
// except for the lossy types (location, unknown).
type Codec interface {
	Parse(raw any) (any, error)
	Format(value any) any
}

// ForType returns the codec for the given logical type.
func ForType(t LogicalType) Codec {
	switch t {
	case TypeNumber, TypeMoney, TypePercent:
		return numberCodec{}
	case TypeCheckbox:
		return checkboxCodec{}
	case TypeDate:
		return dateCodec{}
	case TypeDateTime:
		return dateTimeCodec{}
	case TypePoint:
		return geometryCodec{allowed: []string{"Point"}}
	case TypePolygon:
		return geometryCodec{allowed: []string{"Polygon", "MultiPolygon"}}
	case TypeLocation:
		return locationCodec{}
	default:
		// text, url, email, phone, json, unknown
		return passthroughCodec{}
	}
}

////////////////////////////////////////////////////////////////////////////////

type passthroughCodec struct{}

func (passthroughCodec) Parse(raw any) (any, error) { return raw, nil }
func (passthroughCodec) Format(value any) any       { return value }

////////////////////////////////////////////////////////////////////////////////

type numberCodec struct{}

func (numberCodec) Parse(raw any) (any, error) {
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, nil
		}
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case json.Number:
		return numberCodec{}.Parse(string(val))
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
			return nil, nil
		}
		return parsed, nil
	default:
		return nil, nil
	}
}

func (numberCodec) Format(value any) any { return value }

////////////////////////////////////////////////////////////////////////////////

type checkboxCodec struct{}

func (checkboxCodec) Parse(raw any) (any, error) {
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case bool:
		return val, nil
	case float64:
		switch val {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, nil
	case int:
		return checkboxCodec{}.Parse(float64(val))
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "yes", "y", "1":
			return true, nil
		case "false", "no", "n", "0":
			return false, nil
		}
		return nil, nil
	default:
		return nil, nil
	}
}

func (checkboxCodec) Format(value any) any { return value }

////////////////////////////////////////////////////////////////////////////////

// Layouts accepted for timestamp values. Socrata's floating timestamps come
// without a zone suffix.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTimestamp(raw any) any {
	switch val := raw.(type) {
	case time.Time:
		return val
	case string:
		for _, layout := range timestampLayouts {
			if parsed, err := time.ParseInLocation(layout, val, time.UTC); err == nil {
				return parsed
			}
		}
		return nil
	case float64:
		// epoch seconds, as used by older metadata documents
		return time.Unix(int64(val), 0).UTC()
	default:
		return nil
	}
}

type dateCodec struct{}

func (dateCodec) Parse(raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	return parseTimestamp(raw), nil
}

func (dateCodec) Format(value any) any {
	if t, ok := value.(time.Time); ok {
		return t.Format("2006-01-02")
	}
	return value
}

type dateTimeCodec struct{}

func (dateTimeCodec) Parse(raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	return parseTimestamp(raw), nil
}

func (dateTimeCodec) Format(value any) any {
	if t, ok := value.(time.Time); ok {
		return t.Format(time.RFC3339)
	}
	return value
}

////////////////////////////////////////////////////////////////////////////////

// Geometry is the canonical GeoJSON-like shape.
type Geometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

type geometryCodec struct {
	allowed []string
}

func (c geometryCodec) Parse(raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a GeoJSON object, got %T", raw)
	}
	geoType, _ := obj["type"].(string)
	coords, hasCoords := obj["coordinates"]
	if geoType == "" || !hasCoords {
		return nil, fmt.Errorf("expected a GeoJSON object with type and coordinates, got keys %v", mapKeys(obj))
	}
	for _, allowed := range c.allowed {
		if geoType == allowed {
			return Geometry{Type: geoType, Coordinates: coords}, nil
		}
	}
	return nil, fmt.Errorf("expected geometry of type %s, got %q", strings.Join(c.allowed, " or "), geoType)
}

func (geometryCodec) Format(value any) any {
	if g, ok := value.(Geometry); ok {
		return map[string]any{"type": g.Type, "coordinates": g.Coordinates}
	}
	return value
}

// locationCodec handles Socrata's legacy location columns, which appear
// either as GeoJSON points or as {latitude, longitude, human_address}
// objects with stringified numbers. Normalization drops the human-readable
// address part, so this type does not round-trip bit-exactly.
type locationCodec struct{}

func (locationCodec) Parse(raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a location object, got %T", raw)
	}

	if geoType, ok := obj["type"].(string); ok {
		if geoType != "Point" {
			return nil, fmt.Errorf("expected geometry of type Point, got %q", geoType)
		}
		return geometryCodec{allowed: []string{"Point"}}.Parse(raw)
	}

	lat, latOK := coordinateValue(obj["latitude"])
	lon, lonOK := coordinateValue(obj["longitude"])
	if !latOK || !lonOK {
		return nil, fmt.Errorf("expected a location object with latitude and longitude, got keys %v", mapKeys(obj))
	}
	return Geometry{Type: "Point", Coordinates: []any{lon, lat}}, nil
}

func (locationCodec) Format(value any) any {
	return geometryCodec{}.Format(value)
}

func coordinateValue(raw any) (float64, bool) {
	switch val := raw.(type) {
	case float64:
		return val, true
	case string:
		parsed, err := strconv.ParseFloat(val, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

func mapKeys(obj map[string]any) []string {
	return slices.Sorted(maps.Keys(obj))
}
