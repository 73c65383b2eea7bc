// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package socrata

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/sapcc/tabularium/internal/core"
)

// ListCatalog implements the core.PortalDriver interface.
//
// Listing uses offset paging by default. When opts.Cursor is set, it switches
// to the catalog API's scroll mode instead, which stays stable while the
// upstream catalog changes under us.
func (d *Driver) ListCatalog(ctx context.Context, host string, opts core.ListCatalogOpts) ([]core.PortalCatalogEntry, error) {
	region := d.regions.ResolveRegion(host)
	baseURL := core.DiscoveryBaseURL(region) + "/api/catalog/v1"

	pageSize := defaultDiscoveryPageSize
	if opts.Limit > 0 && opts.Limit < pageSize {
		pageSize = opts.Limit
	}

	params := make(url.Values)
	params.Set("domains", host)
	params.Set("limit", strconv.Itoa(pageSize))

	scrollID := opts.Cursor
	offset := opts.Offset

	var entries []core.PortalCatalogEntry
	for {
		if scrollID != "" {
			params.Set("scroll_id", scrollID)
		} else if offset > 0 {
			params.Set("offset", strconv.Itoa(offset))
		}

		var page catalogPage
		err := d.client.GetJSON(ctx, baseURL+"?"+params.Encode(), &page)
		if err != nil {
			return nil, err
		}
		for _, result := range page.Results {
			entries = append(entries, normalizeCatalogResult(result, host))
		}

		if opts.Limit > 0 && len(entries) >= opts.Limit {
			return entries[:opts.Limit], nil
		}
		if len(page.Results) < pageSize {
			return entries, nil
		}
		if opts.Cursor != "" {
			scrollID = page.Results[len(page.Results)-1].Resource.ID
		} else {
			offset += len(page.Results)
		}
	}
}

func normalizeCatalogResult(result catalogResult, host string) core.PortalCatalogEntry {
	entry := core.PortalCatalogEntry{
		ID:          result.Resource.ID,
		Name:        result.Resource.Name,
		Description: result.Resource.Description,
		Domain:      result.Metadata.Domain,
		Permalink:   result.Permalink,
		ResourceURL: result.Link,
		Category:    result.Classification.DomainCategory,
		Tags:        result.Classification.DomainTags,
		Source:      core.SourceSocrata,
		Type:        result.Resource.Type,
		Publisher:   result.Owner.DisplayName,
		ViewCount:   result.Resource.PageViews.Total,
	}
	if entry.Domain == "" {
		entry.Domain = host
	}
	if parsed, err := time.Parse(time.RFC3339, result.Resource.UpdatedAt); err == nil {
		entry.UpdatedAt = &parsed
	}
	return entry
}

type catalogPage struct {
	Results []catalogResult `json:"results"`
}

type catalogResult struct {
	Resource       catalogResource       `json:"resource"`
	Classification catalogClassification `json:"classification"`
	Metadata       catalogMetadata       `json:"metadata"`
	Permalink      string                `json:"permalink"`
	Link           string                `json:"link"`
	Owner          catalogOwner          `json:"owner"`
}

type catalogResource struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	UpdatedAt   string `json:"updatedAt"`
	PageViews   struct {
		Total *uint64 `json:"page_views_total"`
	} `json:"page_views"`
}

type catalogClassification struct {
	DomainCategory string   `json:"domain_category"`
	DomainTags     []string `json:"domain_tags"`
}

type catalogMetadata struct {
	Domain string `json:"domain"`
}

type catalogOwner struct {
	DisplayName string `json:"display_name"`
}
