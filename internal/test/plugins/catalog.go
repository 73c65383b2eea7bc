// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package plugins

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sapcc/tabularium/internal/core"
)

func init() {
	core.PortalDriverRegistry.Add(func() core.PortalDriver { return &CatalogDriver{} })
}

// CatalogStep is one scripted event in a CatalogDriver's discovery stream:
// either an item or an error. A sticky error repeats on every retry, a
// non-sticky one is consumed by the first retry.
type CatalogStep struct {
	Item   core.CatalogItem
	Err    error
	Sticky bool
}

// CatalogDriver is a core.PortalDriver implementation for unit tests. It
// plays back scripted discovery streams and catalog listings and offers
// several controls to simulate failed operations.
type CatalogDriver struct {
	// behavior flags that can be set by a unit test
	Steps          []CatalogStep                             `yaml:"-"`
	CatalogEntries map[string][]core.PortalCatalogEntry      `yaml:"-"`
	ListCatalogErr error                                     `yaml:"-"`
	Metadata       map[string]core.NormalizedDatasetMetadata `yaml:"-"`
	Rows           map[string][]core.Row                     `yaml:"-"`

	// observations that a unit test can assert on
	DiscoverCalls    int               `yaml:"-"`
	LastDiscoverOpts core.DiscoverOpts `yaml:"-"`
}

// PluginTypeID implements the core.PortalDriver interface.
func (d *CatalogDriver) PluginTypeID() string {
	return "--test-catalog"
}

// Init implements the core.PortalDriver interface.
func (d *CatalogDriver) Init(client *http.Client, creds *core.CredentialStore) error {
	return nil
}

// DiscoverCatalogItems implements the core.PortalDriver interface.
func (d *CatalogDriver) DiscoverCatalogItems(region core.Region, opts core.DiscoverOpts) core.CatalogIterator {
	d.DiscoverCalls++
	d.LastDiscoverOpts = opts
	return &scriptedIterator{driver: d, region: region, opts: opts}
}

// ListCatalog implements the core.PortalDriver interface.
func (d *CatalogDriver) ListCatalog(ctx context.Context, host string, opts core.ListCatalogOpts) ([]core.PortalCatalogEntry, error) {
	if d.ListCatalogErr != nil {
		return nil, d.ListCatalogErr
	}
	entries, exists := d.CatalogEntries[host]
	if !exists {
		return nil, fmt.Errorf("no scripted catalog for host %s", host)
	}
	if opts.Offset > 0 && opts.Offset < len(entries) {
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// FetchRows implements the core.PortalDriver interface.
func (d *CatalogDriver) FetchRows(ctx context.Context, host, idOrURL string, query core.RowQuery, maxRows int) ([]core.Row, error) {
	rows, exists := d.Rows[idOrURL]
	if !exists {
		return nil, fmt.Errorf("no scripted rows for dataset %s", idOrURL)
	}
	if maxRows > 0 && maxRows < len(rows) {
		rows = rows[:maxRows]
	}
	return rows, nil
}

// FetchMetadata implements the core.PortalDriver interface.
func (d *CatalogDriver) FetchMetadata(ctx context.Context, host, id string) (core.NormalizedDatasetMetadata, error) {
	metadata, exists := d.Metadata[id]
	if !exists {
		return core.NormalizedDatasetMetadata{}, fmt.Errorf("no scripted metadata for dataset %s", id)
	}
	return metadata, nil
}

type scriptedIterator struct {
	driver  *CatalogDriver
	region  core.Region
	opts    core.DiscoverOpts
	pos     int
	emitted int
}

// Next implements the core.CatalogIterator interface.
func (i *scriptedIterator) Next(ctx context.Context) (core.CatalogItem, error) {
	if err := ctx.Err(); err != nil {
		return core.CatalogItem{}, err
	}
	if i.opts.Limit > 0 && i.emitted >= i.opts.Limit {
		return core.CatalogItem{}, io.EOF
	}
	for i.pos < len(i.driver.Steps) {
		step := i.driver.Steps[i.pos]
		if step.Err != nil {
			if !step.Sticky {
				i.pos++
			}
			return core.CatalogItem{}, step.Err
		}
		i.pos++
		if step.Item.Region != i.region {
			continue
		}
		i.emitted++
		return step.Item, nil
	}
	return core.CatalogItem{}, io.EOF
}
