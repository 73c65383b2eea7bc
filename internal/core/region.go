// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"strings"
	"sync"
)

// Region identifies a Socrata deployment region.
type Region string

const (
	// RegionUS is the United States deployment region.
	RegionUS Region = "US"
	// RegionEU is the European deployment region.
	RegionEU Region = "EU"
)

// AllRegions lists the known regions in canonical order.
var AllRegions = []Region{RegionUS, RegionEU}

// IsValid returns whether this is a known region.
func (r Region) IsValid() bool {
	return r == RegionUS || r == RegionEU
}

// ParseRegion accepts region names case-insensitively.
func ParseRegion(input string) (Region, bool) {
	r := Region(strings.ToUpper(strings.TrimSpace(input)))
	return r, r.IsValid()
}

var discoveryBaseURLs = map[Region]string{
	RegionUS: "https://api.us.socrata.com",
	RegionEU: "https://api.eu.socrata.com",
}

// DiscoveryBaseURL returns the base URL of the catalog discovery API for the
// given region.
func DiscoveryBaseURL(r Region) string {
	return discoveryBaseURLs[r]
}

// OtherRegion returns the alternate region, for discovery failover.
func OtherRegion(r Region) Region {
	if r == RegionEU {
		return RegionUS
	}
	return RegionEU
}

// ShouldFailover decides whether a discovery request may be repeated against
// the other region. Only availability problems qualify; auth-gated and
// not-found responses must stay within their region.
func ShouldFailover(status int, isNetworkError bool) bool {
	if isNetworkError {
		return true
	}
	return status >= 500 && status <= 599
}

// RegionResolver maps portal hosts to their deployment region, honoring
// per-host overrides and a global default from the credential store.
//
// Results are memoized for the lifetime of the resolver. Host-to-region
// assignments are stable, so entries never invalidate; the daemon creates
// exactly one resolver and shares it across all jobs.
type RegionResolver struct {
	Credentials *CredentialStore

	mu   sync.Mutex
	memo map[string]Region
}

// NewRegionResolver builds a RegionResolver on top of the given credential
// store.
func NewRegionResolver(creds *CredentialStore) *RegionResolver {
	return &RegionResolver{Credentials: creds, memo: make(map[string]Region)}
}

// ResolveRegion returns the region serving the given host. Precedence is:
// per-host override, global default, RegionUS. Override values that do not
// name a known region are silently ignored.
func (r *RegionResolver) ResolveRegion(host string) Region {
	r.mu.Lock()
	defer r.mu.Unlock()

	if region, ok := r.memo[host]; ok {
		return region
	}

	region := RegionUS
	if value, ok := ParseRegion(r.Credentials.DefaultRegion()); ok {
		region = value
	}
	if value, ok := ParseRegion(r.Credentials.RegionOverride(host)); ok {
		region = value
	}
	r.memo[host] = region
	return region
}
