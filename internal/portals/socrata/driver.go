// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package socrata

import (
	"context"
	"net/http"

	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/secrets"

	"github.com/sapcc/tabularium/internal/core"
	"github.com/sapcc/tabularium/internal/util"
)

func init() {
	core.PortalDriverRegistry.Add(func() core.PortalDriver { return &Driver{} })
}

// Driver is the core.PortalDriver for Socrata-backed portals.
type Driver struct {
	// configuration, deserialized from the portal's params section
	AppToken         secrets.AuthPassword         `yaml:"app_token"`
	RowPageDelay     util.MarshalableTimeDuration `yaml:"row_page_delay"`
	IncludeSynthetic bool                         `yaml:"include_synthetic"`

	// connections, filled by Init()
	client  *Client
	creds   *core.CredentialStore
	regions *core.RegionResolver
}

// PluginTypeID implements the core.PortalDriver interface.
func (d *Driver) PluginTypeID() string { return "socrata" }

// Init implements the core.PortalDriver interface.
func (d *Driver) Init(client *http.Client, creds *core.CredentialStore) error {
	appToken := string(d.AppToken)
	if appToken == "" {
		appToken = creds.AppToken()
	}
	d.client = &Client{HTTP: client, Creds: creds, AppToken: appToken}
	d.creds = creds
	d.regions = core.NewRegionResolver(creds)
	return nil
}

// DiscoverCatalogItems implements the core.PortalDriver interface.
func (d *Driver) DiscoverCatalogItems(region core.Region, opts core.DiscoverOpts) core.CatalogIterator {
	return newDomainsIterator(d.client, region, opts)
}

// FetchRows implements the core.PortalDriver interface.
//
// Rows come from the v3 query API where the host serves it, with a fallback
// to v2 where it does not. Full resource URLs and queries with an explicit
// offset go straight to v2, whose paging is offset-based. Either way the
// request is bound to the dataset's own host.
func (d *Driver) FetchRows(ctx context.Context, host, idOrURL string, query core.RowQuery, maxRows int) ([]core.Row, error) {
	if isFullURL(idOrURL) || query.Offset > 0 {
		return d.fetchRowsV2(ctx, host, idOrURL, query, maxRows)
	}

	rows, err := d.fetchRowsV3(ctx, host, idOrURL, query, maxRows)
	if err != nil && IsV3Unavailable(err) {
		logg.Debug("dataset %s on %s is not served over v3, falling back to v2", idOrURL, host)
		return d.fetchRowsV2(ctx, host, idOrURL, query, maxRows)
	}
	return rows, err
}
