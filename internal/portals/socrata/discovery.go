// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package socrata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/tabularium/internal/core"
)

const (
	defaultDiscoveryPageSize = 100
	maxPageSize              = 1000
)

// domainsIterator walks the discovery API of one region, following the
// server-returned links.next URL from page to page.
//
// State only advances after a successful page fetch, so calling Next again
// after a transient error repeats the failed page. A failed first page may
// additionally be retried once against the other region when the failure
// looks like a region outage.
type domainsIterator struct {
	client   *Client
	region   core.Region
	pageSize int
	limit    int

	nextURL      string
	buffer       []core.CatalogItem
	emitted      int
	pagesFetched int
	failedOver   bool
	exhausted    bool
	done         bool
}

func newDomainsIterator(client *Client, region core.Region, opts core.DiscoverOpts) *domainsIterator {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultDiscoveryPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return &domainsIterator{
		client:   client,
		region:   region,
		pageSize: pageSize,
		limit:    opts.Limit,
	}
}

// Next implements the core.CatalogIterator interface.
func (it *domainsIterator) Next(ctx context.Context) (core.CatalogItem, error) {
	if it.done {
		return core.CatalogItem{}, io.EOF
	}
	if it.limit > 0 && it.emitted >= it.limit {
		it.done = true
		return core.CatalogItem{}, io.EOF
	}

	for len(it.buffer) == 0 {
		if it.exhausted {
			it.done = true
			return core.CatalogItem{}, io.EOF
		}
		err := it.fetchPage(ctx)
		if err != nil {
			return core.CatalogItem{}, err
		}
	}

	item := it.buffer[0]
	it.buffer = it.buffer[1:]
	it.emitted++
	return item, nil
}

func (it *domainsIterator) fetchPage(ctx context.Context) error {
	requestURL := it.nextURL
	if requestURL == "" {
		requestURL = fmt.Sprintf("%s/api/catalog/v1/domains?limit=%d", core.DiscoveryBaseURL(it.region), it.pageSize)
	}

	var page domainsPage
	err := it.client.GetJSON(ctx, requestURL, &page)
	if err != nil {
		if it.pagesFetched == 0 && !it.failedOver && failoverEligible(err) {
			it.failedOver = true
			it.region = core.OtherRegion(it.region)
			it.nextURL = ""
			logg.Info("domain discovery failing over to region %s: %s", it.region, err.Error())
			return it.fetchPage(ctx)
		}
		return err
	}

	it.pagesFetched++
	for _, rec := range page.Results {
		it.appendItems(rec)
	}
	it.nextURL = page.Links.Next
	if it.nextURL == "" {
		it.exhausted = true
	}
	return nil
}

func (it *domainsIterator) appendItems(rec domainRecord) {
	meta := core.CatalogItemMeta{
		Country:      rec.Country,
		DatasetCount: rec.Count,
	}
	if len(rec.Agencies) == 0 {
		it.buffer = append(it.buffer, core.CatalogItem{
			Region: it.region,
			Host:   rec.Domain,
			Domain: organizationalDomain(rec.Domain),
			Meta:   meta,
		})
		return
	}
	for _, agency := range rec.Agencies {
		agencyMeta := meta
		agencyMeta.AgencyType = agency.Type
		it.buffer = append(it.buffer, core.CatalogItem{
			Region: it.region,
			Host:   rec.Domain,
			Domain: organizationalDomain(rec.Domain),
			Agency: agency.Name,
			Meta:   agencyMeta,
		})
	}
}

// failoverEligible reports whether a first-page discovery failure may be
// retried against the other region. Availability problems qualify; anything
// auth-gated, malformed or cancelled does not.
func failoverEligible(err error) bool {
	switch core.ClassOf(err) {
	case core.ErrClassCancelled, core.ErrClassConfig, core.ErrClassSchema:
		return false
	}
	var httpErr core.HTTPError
	if errors.As(err, &httpErr) {
		return core.ShouldFailover(httpErr.Status, false)
	}
	return core.ShouldFailover(0, true)
}

// organizationalDomain derives the owning domain from a portal host by
// stripping the portal's own DNS label, e.g. "data.sfgov.org" -> "sfgov.org".
// Hosts with fewer than three labels are their own domain.
func organizationalDomain(host string) string {
	labels := strings.Split(host, ".")
	if len(labels) >= 3 {
		return strings.Join(labels[1:], ".")
	}
	return host
}

type domainsPage struct {
	Results []domainRecord `json:"results"`
	Links   pageLinks      `json:"links"`
}

type pageLinks struct {
	Next string `json:"next"`
}

type domainRecord struct {
	Domain   string         `json:"domain"`
	Count    uint64         `json:"count"`
	Country  string         `json:"country"`
	Agencies []agencyRecord `json:"agencies"`
}

type agencyRecord struct {
	Name string `json:"name"`
	Type string `json:"type"`
}
