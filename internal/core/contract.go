// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"net/http"
	"time"

	"github.com/sapcc/go-bits/pluggable"

	"github.com/sapcc/tabularium/internal/codecs"
)

// CatalogItem is one in-flight discovery record, produced by a driver's
// domain discovery and consumed by the ingest pipeline.
type CatalogItem struct {
	Region Region
	Host   string
	Domain string
	// Agency is empty when the domain record lists no publishing agencies.
	Agency string
	Meta   CatalogItemMeta
}

// CatalogItemMeta carries optional attributes of the discovery record that
// persistence consumes.
type CatalogItemMeta struct {
	Country      string
	AgencyType   string
	DatasetCount uint64
}

// DedupKey returns the composite key under which the ingest pipeline
// deduplicates items within a session.
func (i CatalogItem) DedupKey() string {
	agency := i.Agency
	if agency == "" {
		agency = "null"
	}
	return string(i.Region) + ":" + i.Host + ":" + i.Domain + ":" + agency
}

// PortalSource names the backend type that produced a catalog entry.
type PortalSource string

const (
	SourceSocrata PortalSource = "socrata"
	SourceCKAN    PortalSource = "ckan"
	SourceArcGIS  PortalSource = "arcgis"
)

// PortalCatalogEntry is one dataset-level entry of a portal's catalog, in
// the shape shared by all drivers.
type PortalCatalogEntry struct {
	ID          string
	Name        string
	Description string
	Domain      string
	Permalink   string
	ResourceURL string
	Category    string
	Tags        []string
	Source      PortalSource
	// Layer is the sublayer hint for map-service backends, empty elsewhere.
	Layer string
	// Type is the portal-reported asset type (e.g. "dataset", "href").
	Type      string
	Publisher string
	UpdatedAt *time.Time
	RowCount  *uint64
	ViewCount *uint64
}

// NormalizedColumn describes one column of a dataset after type
// normalization.
type NormalizedColumn struct {
	ID          int64
	Name        string
	FieldName   string
	APIType     string
	LogicalType codecs.LogicalType
	Nullable    bool
	Hidden      bool
	Description string
}

// NormalizedDatasetMetadata is the driver-independent shape of a dataset's
// metadata document.
type NormalizedDatasetMetadata struct {
	ID            string
	Name          string
	Description   string
	Category      string
	Tags          []string
	RowsUpdatedAt *time.Time
	Columns       []NormalizedColumn
}

// Row is one record returned by a row query.
type Row map[string]any

// RowQuery describes a row-level query in driver-independent terms. The
// Where expression is passed through to the backend natively, in whatever
// dialect the backend speaks; all other fields are translated by the driver.
type RowQuery struct {
	Select  []string
	Where   string
	OrderBy string
	Limit   int
	Offset  int
}

// ListCatalogOpts controls catalog listing.
type ListCatalogOpts struct {
	// Limit caps the total number of entries (0 = no cap).
	Limit int
	// Offset skips entries at the start of the listing.
	Offset int
	// Cursor restarts a listing at an explicit server-side position.
	Cursor string
}

// DiscoverOpts controls domain discovery.
type DiscoverOpts struct {
	// PageSize is the number of domain records per request.
	PageSize int
	// Limit caps the total number of emitted items (0 = no cap).
	Limit int
}

// CatalogIterator is a pull-based stream of discovery records.
//
// Next returns io.EOF when the stream is exhausted. After a transient error,
// calling Next again repeats the failed page; the caller decides how often
// to do that. Iterators are not safe for concurrent use.
type CatalogIterator interface {
	Next(ctx context.Context) (CatalogItem, error)
}

// CatalogDiscovery produces discovery records for the ingest pipeline.
// The production implementation walks the Socrata discovery API with
// cross-region failover; tests substitute a scripted implementation.
type CatalogDiscovery interface {
	DiscoverCatalogItems(region Region, opts DiscoverOpts) CatalogIterator
}

// PortalDriver is the adapter contract that all portal backends implement.
// Dataset-level operations are bound to the host given per call and never
// fail over across regions; only domain discovery may fail over.
type PortalDriver interface {
	pluggable.Plugin
	// Init is called before any other interface methods. The given client
	// carries the retrying transport and must be used for all requests.
	//
	// Before Init is called, the `portals[].params` from the configuration
	// file are yaml.Unmarshal()ed into the driver object itself.
	Init(client *http.Client, creds *CredentialStore) error
	// DiscoverCatalogItems walks the backend's domain catalog for a region.
	DiscoverCatalogItems(region Region, opts DiscoverOpts) CatalogIterator
	// ListCatalog returns the catalog entries published on the given host.
	ListCatalog(ctx context.Context, host string, opts ListCatalogOpts) ([]PortalCatalogEntry, error)
	// FetchRows retrieves rows of a dataset identified by four-by-four or by
	// full resource URL. A non-zero maxRows truncates the result.
	FetchRows(ctx context.Context, host, idOrURL string, query RowQuery, maxRows int) ([]Row, error)
	// FetchMetadata retrieves and normalizes a dataset's metadata document.
	FetchMetadata(ctx context.Context, host, id string) (NormalizedDatasetMetadata, error)
}

// PortalDriverRegistry is a pluggable.Registry for PortalDriver implementations.
var PortalDriverRegistry pluggable.Registry[PortalDriver]
