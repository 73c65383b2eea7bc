// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package socrata_test

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sapcc/go-bits/assert"

	"github.com/sapcc/tabularium/internal/codecs"
	"github.com/sapcc/tabularium/internal/core"
	"github.com/sapcc/tabularium/internal/portals/socrata"
)

// stubResponse is one scripted outcome for a request.
type stubResponse struct {
	Status int
	Body   string
	Err    error
}

type recordedRequest struct {
	Method        string
	URL           string
	Body          string
	Authorization string
	AppToken      string
}

// portalStub fakes the Socrata HTTP surface at the transport level, so the
// driver's URL construction is exercised exactly as in production.
type portalStub struct {
	t *testing.T
	// Responses maps "METHOD URL" to a queue of outcomes. Each request pops
	// the first entry; the final entry repeats.
	Responses map[string][]stubResponse
	Requests  []recordedRequest
}

func (p *portalStub) RoundTrip(r *http.Request) (*http.Response, error) {
	requestBody := ""
	if r.Body != nil {
		buf, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		r.Body.Close()
		requestBody = string(buf)
	}
	p.Requests = append(p.Requests, recordedRequest{
		Method:        r.Method,
		URL:           r.URL.String(),
		Body:          requestBody,
		Authorization: r.Header.Get("Authorization"),
		AppToken:      r.Header.Get("X-App-Token"),
	})

	key := r.Method + " " + r.URL.String()
	queue := p.Responses[key]
	if len(queue) == 0 {
		p.t.Errorf("no scripted response for %s", key)
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader("{}"))}, nil
	}
	next := queue[0]
	if len(queue) > 1 {
		p.Responses[key] = queue[1:]
	}
	if next.Err != nil {
		return nil, next.Err
	}
	status := next.Status
	if status == 0 {
		status = http.StatusOK
	}
	responseBody := next.Body
	if responseBody == "" {
		responseBody = "{}"
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader(responseBody)),
	}, nil
}

func makeDriver(t *testing.T, stub *portalStub, env map[string]string) *socrata.Driver {
	t.Helper()
	var driver socrata.Driver
	creds := &core.CredentialStore{GetenvFunc: func(key string) string { return env[key] }}
	err := driver.Init(&http.Client{Transport: stub}, creds)
	if err != nil {
		t.Fatal(err)
	}
	return &driver
}

func collectItems(t *testing.T, iter core.CatalogIterator) []core.CatalogItem {
	t.Helper()
	var items []core.CatalogItem
	for {
		item, err := iter.Next(t.Context())
		if errors.Is(err, io.EOF) {
			return items
		}
		if err != nil {
			t.Fatal(err)
		}
		items = append(items, item)
	}
}

const discoveryPage1JSON = `{
	"results": [
		{
			"domain": "data.sfgov.org",
			"count": 400,
			"country": "United States",
			"agencies": [
				{"name": "SFMTA", "type": "city"},
				{"name": "Controller", "type": "city"}
			]
		}
	],
	"links": {"next": "https://api.us.socrata.com/api/catalog/v1/domains?limit=2&scroll_id=abc"}
}`

const discoveryPage2JSON = `{
	"results": [
		{"domain": "data.example.org", "count": 10, "agencies": []}
	],
	"links": {}
}`

func TestDiscoverDomains(t *testing.T) {
	stub := &portalStub{t: t, Responses: map[string][]stubResponse{
		"GET https://api.us.socrata.com/api/catalog/v1/domains?limit=2":               {{Body: discoveryPage1JSON}},
		"GET https://api.us.socrata.com/api/catalog/v1/domains?limit=2&scroll_id=abc": {{Body: discoveryPage2JSON}},
	}}
	driver := makeDriver(t, stub, map[string]string{"SOCRATA_APP_TOKEN": "token-123"})

	iter := driver.DiscoverCatalogItems(core.RegionUS, core.DiscoverOpts{PageSize: 2})
	items := collectItems(t, iter)

	// each listed agency becomes its own item; a domain without agencies
	// yields exactly one item with an empty agency name
	assert.DeepEqual(t, "items", items, []core.CatalogItem{
		{
			Region: core.RegionUS, Host: "data.sfgov.org", Domain: "sfgov.org", Agency: "SFMTA",
			Meta: core.CatalogItemMeta{Country: "United States", AgencyType: "city", DatasetCount: 400},
		},
		{
			Region: core.RegionUS, Host: "data.sfgov.org", Domain: "sfgov.org", Agency: "Controller",
			Meta: core.CatalogItemMeta{Country: "United States", AgencyType: "city", DatasetCount: 400},
		},
		{
			Region: core.RegionUS, Host: "data.example.org", Domain: "example.org",
			Meta: core.CatalogItemMeta{DatasetCount: 10},
		},
	})

	// anonymous requests carry the app token and no Authorization header
	assert.DeepEqual(t, "request count", len(stub.Requests), 2)
	assert.DeepEqual(t, "app token", stub.Requests[0].AppToken, "token-123")
	assert.DeepEqual(t, "authorization", stub.Requests[0].Authorization, "")

	// the iterator stays exhausted
	_, err := iter.Next(t.Context())
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after exhaustion, but got: %v", err)
	}
}

func TestDiscoverRespectsLimit(t *testing.T) {
	stub := &portalStub{t: t, Responses: map[string][]stubResponse{
		"GET https://api.us.socrata.com/api/catalog/v1/domains?limit=2": {{Body: discoveryPage1JSON}},
	}}
	driver := makeDriver(t, stub, nil)

	iter := driver.DiscoverCatalogItems(core.RegionUS, core.DiscoverOpts{PageSize: 2, Limit: 1})
	items := collectItems(t, iter)

	assert.DeepEqual(t, "item count", len(items), 1)
	assert.DeepEqual(t, "agency", items[0].Agency, "SFMTA")
	// the second page is never requested once the limit is reached
	assert.DeepEqual(t, "request count", len(stub.Requests), 1)
}

func TestDiscoverPageSizeClamp(t *testing.T) {
	emptyPage := `{"results": [], "links": {}}`
	stub := &portalStub{t: t, Responses: map[string][]stubResponse{
		"GET https://api.us.socrata.com/api/catalog/v1/domains?limit=1000": {{Body: emptyPage}},
		"GET https://api.us.socrata.com/api/catalog/v1/domains?limit=100":  {{Body: emptyPage}},
	}}
	driver := makeDriver(t, stub, nil)

	// an oversized page request is clamped, an unset one gets the default
	collectItems(t, driver.DiscoverCatalogItems(core.RegionUS, core.DiscoverOpts{PageSize: 5000}))
	collectItems(t, driver.DiscoverCatalogItems(core.RegionUS, core.DiscoverOpts{}))

	assert.DeepEqual(t, "first request", stub.Requests[0].URL, "https://api.us.socrata.com/api/catalog/v1/domains?limit=1000")
	assert.DeepEqual(t, "second request", stub.Requests[1].URL, "https://api.us.socrata.com/api/catalog/v1/domains?limit=100")
}

func TestDiscoverFailsOverOnNetworkError(t *testing.T) {
	stub := &portalStub{t: t, Responses: map[string][]stubResponse{
		"GET https://api.us.socrata.com/api/catalog/v1/domains?limit=100": {
			{Err: errors.New("connect: connection refused")},
		},
		"GET https://api.eu.socrata.com/api/catalog/v1/domains?limit=100": {
			{Body: `{"results": [{"domain": "data.stadt.example", "count": 3, "agencies": []}], "links": {}}`},
		},
	}}
	driver := makeDriver(t, stub, nil)

	items := collectItems(t, driver.DiscoverCatalogItems(core.RegionUS, core.DiscoverOpts{}))

	// the items report the region that actually served them
	assert.DeepEqual(t, "items", items, []core.CatalogItem{
		{
			Region: core.RegionEU, Host: "data.stadt.example", Domain: "stadt.example",
			Meta: core.CatalogItemMeta{DatasetCount: 3},
		},
	})
	assert.DeepEqual(t, "request count", len(stub.Requests), 2)
}

func TestDiscoverNoFailoverOnAuthErrors(t *testing.T) {
	for _, status := range []int{401, 403, 404} {
		stub := &portalStub{t: t, Responses: map[string][]stubResponse{
			"GET https://api.us.socrata.com/api/catalog/v1/domains?limit=100": {{Status: status}},
		}}
		driver := makeDriver(t, stub, nil)

		iter := driver.DiscoverCatalogItems(core.RegionUS, core.DiscoverOpts{})
		_, err := iter.Next(t.Context())
		if err == nil {
			t.Errorf("status %d: expected Next to fail, but it did not", status)
			continue
		}
		if !core.IsClass(err, core.ErrClassFatalHTTP) {
			t.Errorf("status %d: expected a fatal-http error, but got class %q", status, core.ClassOf(err))
		}
		// the other region must not see the request
		assert.DeepEqual(t, fmt.Sprintf("request count for status %d", status), len(stub.Requests), 1)
	}
}

func TestDiscoverRetriesFailedPage(t *testing.T) {
	page1 := `{
		"results": [
			{"domain": "data.one.example", "count": 1, "agencies": []},
			{"domain": "data.two.example", "count": 2, "agencies": []}
		],
		"links": {"next": "https://api.us.socrata.com/api/catalog/v1/domains?limit=2&scroll_id=next"}
	}`
	page2 := `{"results": [{"domain": "data.three.example", "count": 3, "agencies": []}], "links": {}}`
	stub := &portalStub{t: t, Responses: map[string][]stubResponse{
		"GET https://api.us.socrata.com/api/catalog/v1/domains?limit=2": {{Body: page1}},
		"GET https://api.us.socrata.com/api/catalog/v1/domains?limit=2&scroll_id=next": {
			{Status: 502},
			{Body: page2},
		},
	}}
	driver := makeDriver(t, stub, nil)
	iter := driver.DiscoverCatalogItems(core.RegionUS, core.DiscoverOpts{PageSize: 2})

	for _, expectedHost := range []string{"data.one.example", "data.two.example"} {
		item, err := iter.Next(t.Context())
		if err != nil {
			t.Fatal(err)
		}
		assert.DeepEqual(t, "host", item.Host, expectedHost)
	}

	// the failed page does not advance the iterator, and a later page never
	// triggers a region failover
	_, err := iter.Next(t.Context())
	if !core.IsClass(err, core.ErrClassTransientHTTP) {
		t.Fatalf("expected a transient-http error, but got: %v", err)
	}
	item, err := iter.Next(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	assert.DeepEqual(t, "host after retry", item.Host, "data.three.example")
}

const catalogListJSON = `{
	"results": [
		{
			"resource": {
				"id": "abcd-1234",
				"name": "Building Permits",
				"description": "All permits",
				"type": "dataset",
				"updatedAt": "2025-06-01T10:00:00Z",
				"page_views": {"page_views_total": 123}
			},
			"classification": {"domain_category": "Housing", "domain_tags": ["permit", "housing"]},
			"metadata": {"domain": "data.sfgov.org"},
			"permalink": "https://data.sfgov.org/d/abcd-1234",
			"link": "https://data.sfgov.org/resource/abcd-1234",
			"owner": {"display_name": "City Hall"}
		},
		{
			"resource": {"id": "efgh-5678", "name": "Old Map", "type": "href", "updatedAt": "not-a-date"}
		}
	]
}`

func TestListCatalog(t *testing.T) {
	stub := &portalStub{t: t, Responses: map[string][]stubResponse{
		"GET https://api.us.socrata.com/api/catalog/v1?domains=data.sfgov.org&limit=100": {{Body: catalogListJSON}},
	}}
	driver := makeDriver(t, stub, nil)

	entries, err := driver.ListCatalog(t.Context(), "data.sfgov.org", core.ListCatalogOpts{})
	if err != nil {
		t.Fatal(err)
	}

	updatedAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	viewCount := uint64(123)
	assert.DeepEqual(t, "entries", entries, []core.PortalCatalogEntry{
		{
			ID:          "abcd-1234",
			Name:        "Building Permits",
			Description: "All permits",
			Domain:      "data.sfgov.org",
			Permalink:   "https://data.sfgov.org/d/abcd-1234",
			ResourceURL: "https://data.sfgov.org/resource/abcd-1234",
			Category:    "Housing",
			Tags:        []string{"permit", "housing"},
			Source:      core.SourceSocrata,
			Type:        "dataset",
			Publisher:   "City Hall",
			UpdatedAt:   &updatedAt,
			ViewCount:   &viewCount,
		},
		// the second result has no metadata.domain and a broken timestamp,
		// which normalization absorbs
		{
			ID:     "efgh-5678",
			Name:   "Old Map",
			Domain: "data.sfgov.org",
			Source: core.SourceSocrata,
			Type:   "href",
		},
	})
}

func TestListCatalogHonorsRegionOverride(t *testing.T) {
	stub := &portalStub{t: t, Responses: map[string][]stubResponse{
		"GET https://api.eu.socrata.com/api/catalog/v1?domains=data.stadt.example&limit=100": {{Body: `{"results": []}`}},
	}}
	driver := makeDriver(t, stub, map[string]string{
		"SOCRATA__data.stadt.example__REGION": "eu",
	})

	_, err := driver.ListCatalog(t.Context(), "data.stadt.example", core.ListCatalogOpts{})
	if err != nil {
		t.Fatal(err)
	}
	assert.DeepEqual(t, "request count", len(stub.Requests), 1)
}

func sequentialIDs(prefix string, count int) []string {
	ids := make([]string, count)
	for idx := range ids {
		ids[idx] = fmt.Sprintf("%s-%04d", prefix, idx)
	}
	return ids
}

func catalogIDsJSON(ids ...string) string {
	results := make([]string, len(ids))
	for idx, id := range ids {
		results[idx] = fmt.Sprintf(`{"resource": {"id": "%s"}}`, id)
	}
	return `{"results": [` + strings.Join(results, ", ") + `]}`
}

func entryIDs(entries []core.PortalCatalogEntry) []string {
	ids := make([]string, len(entries))
	for idx, entry := range entries {
		ids[idx] = entry.ID
	}
	return ids
}

func TestListCatalogOffsetPaging(t *testing.T) {
	// a full first page keeps the listing going, with the offset advanced by
	// the number of results received
	stub := &portalStub{t: t, Responses: map[string][]stubResponse{
		"GET https://api.us.socrata.com/api/catalog/v1?domains=data.sfgov.org&limit=100&offset=10": {
			{Body: catalogIDsJSON(sequentialIDs("page", 100)...)},
		},
		"GET https://api.us.socrata.com/api/catalog/v1?domains=data.sfgov.org&limit=100&offset=110": {
			{Body: catalogIDsJSON("page-0100", "page-0101")},
		},
	}}
	driver := makeDriver(t, stub, nil)

	entries, err := driver.ListCatalog(t.Context(), "data.sfgov.org", core.ListCatalogOpts{Offset: 10})
	if err != nil {
		t.Fatal(err)
	}
	assert.DeepEqual(t, "entry count", len(entries), 102)
	assert.DeepEqual(t, "first entry", entries[0].ID, "page-0000")
	assert.DeepEqual(t, "last entry", entries[101].ID, "page-0101")
	assert.DeepEqual(t, "request count", len(stub.Requests), 2)
}

func TestListCatalogScrollPaging(t *testing.T) {
	// in scroll mode, the next page is addressed by the last received ID
	// instead of a numeric offset
	stub := &portalStub{t: t, Responses: map[string][]stubResponse{
		"GET https://api.us.socrata.com/api/catalog/v1?domains=data.sfgov.org&limit=100&scroll_id=seed": {
			{Body: catalogIDsJSON(sequentialIDs("scroll", 100)...)},
		},
		"GET https://api.us.socrata.com/api/catalog/v1?domains=data.sfgov.org&limit=100&scroll_id=scroll-0099": {
			{Body: catalogIDsJSON("scroll-0100")},
		},
	}}
	driver := makeDriver(t, stub, nil)

	entries, err := driver.ListCatalog(t.Context(), "data.sfgov.org", core.ListCatalogOpts{Cursor: "seed"})
	if err != nil {
		t.Fatal(err)
	}
	assert.DeepEqual(t, "entry count", len(entries), 101)
	assert.DeepEqual(t, "last entry", entries[100].ID, "scroll-0100")
	assert.DeepEqual(t, "request count", len(stub.Requests), 2)
}

func TestListCatalogLimitTruncates(t *testing.T) {
	stub := &portalStub{t: t, Responses: map[string][]stubResponse{
		"GET https://api.us.socrata.com/api/catalog/v1?domains=data.sfgov.org&limit=3": {
			{Body: catalogIDsJSON("cccc-0001", "cccc-0002", "cccc-0003")},
		},
	}}
	driver := makeDriver(t, stub, nil)

	// the limit caps both the page size and the overall result
	entries, err := driver.ListCatalog(t.Context(), "data.sfgov.org", core.ListCatalogOpts{Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	assert.DeepEqual(t, "entry IDs", entryIDs(entries), []string{"cccc-0001", "cccc-0002", "cccc-0003"})
	assert.DeepEqual(t, "request count", len(stub.Requests), 1)
}

func basicAuth(keyID, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(keyID+":"+secret))
}

func TestFetchRowsV3(t *testing.T) {
	stub := &portalStub{t: t, Responses: map[string][]stubResponse{
		"POST https://data.sfgov.org/api/v3/views/abcd-1234/query.json": {
			{Body: `[{"name": "a"}, {"name": "b"}]`},
			{Body: `[{"name": "c"}]`},
		},
	}}
	driver := makeDriver(t, stub, map[string]string{
		"SOCRATA_V3_KEY_ID":     "key-id",
		"SOCRATA_V3_KEY_SECRET": "super-secret",
	})

	rows, err := driver.FetchRows(t.Context(), "data.sfgov.org", "abcd-1234", core.RowQuery{
		Select:  []string{"name"},
		Where:   "id > 5",
		OrderBy: "id",
		Limit:   2,
	}, 3)
	if err != nil {
		t.Fatal(err)
	}
	assert.DeepEqual(t, "rows", rows, []core.Row{{"name": "a"}, {"name": "b"}, {"name": "c"}})

	// paging is expressed in the page object while the statement stays stable
	assert.DeepEqual(t, "first body", stub.Requests[0].Body,
		`{"query":"SELECT name WHERE id > 5 ORDER BY id","page":{"pageNumber":1,"pageSize":2},"includeSynthetic":false}`)
	assert.DeepEqual(t, "second body", stub.Requests[1].Body,
		`{"query":"SELECT name WHERE id > 5 ORDER BY id","page":{"pageNumber":2,"pageSize":2},"includeSynthetic":false}`)
	assert.DeepEqual(t, "authorization", stub.Requests[0].Authorization, basicAuth("key-id", "super-secret"))
	assert.DeepEqual(t, "app token", stub.Requests[0].AppToken, "")
}

func TestFetchRowsV3FallsBackToV2(t *testing.T) {
	stub := &portalStub{t: t, Responses: map[string][]stubResponse{
		"POST https://data.sfgov.org/api/v3/views/abcd-1234/query.json":               {{Status: 501}},
		"GET https://data.sfgov.org/resource/abcd-1234.json?%24limit=1000&%24offset=0": {{Body: `[{"id": "1"}]`}},
	}}
	driver := makeDriver(t, stub, nil)

	rows, err := driver.FetchRows(t.Context(), "data.sfgov.org", "abcd-1234", core.RowQuery{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	assert.DeepEqual(t, "rows", rows, []core.Row{{"id": "1"}})
	assert.DeepEqual(t, "request count", len(stub.Requests), 2)
	assert.DeepEqual(t, "fallback method", stub.Requests[1].Method, "GET")
}

func TestFetchRowsV2Paging(t *testing.T) {
	stub := &portalStub{t: t, Responses: map[string][]stubResponse{
		"GET https://data.sfgov.org/resource/abcd-1234.json?%24limit=2&%24offset=2": {{Body: `[{"id": "3"}, {"id": "4"}]`}},
		"GET https://data.sfgov.org/resource/abcd-1234.json?%24limit=2&%24offset=4": {{Body: `[{"id": "5"}]`}},
	}}
	driver := makeDriver(t, stub, nil)

	// an explicit offset routes directly to the v2 API, skipping v3 entirely,
	// and paging continues from there until a short page arrives
	rows, err := driver.FetchRows(t.Context(), "data.sfgov.org", "abcd-1234", core.RowQuery{Limit: 2, Offset: 2}, 0)
	if err != nil {
		t.Fatal(err)
	}
	assert.DeepEqual(t, "rows", rows, []core.Row{{"id": "3"}, {"id": "4"}, {"id": "5"}})
	assert.DeepEqual(t, "request count", len(stub.Requests), 2)
	assert.DeepEqual(t, "method", stub.Requests[0].Method, "GET")
}

func TestFetchRowsV2DirectForOffset(t *testing.T) {
	stub := &portalStub{t: t, Responses: map[string][]stubResponse{
		"GET https://data.sfgov.org/resource/abcd-1234.json?%24limit=3&%24offset=7&%24where=id+%3E+5": {{Body: `[{"id": "8"}]`}},
	}}
	driver := makeDriver(t, stub, nil)

	rows, err := driver.FetchRows(t.Context(), "data.sfgov.org", "abcd-1234", core.RowQuery{
		Where:  "id > 5",
		Limit:  3,
		Offset: 7,
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	assert.DeepEqual(t, "rows", rows, []core.Row{{"id": "8"}})
	assert.DeepEqual(t, "request count", len(stub.Requests), 1)
	assert.DeepEqual(t, "method", stub.Requests[0].Method, "GET")
}

func TestFetchRowsFullURL(t *testing.T) {
	stub := &portalStub{t: t, Responses: map[string][]stubResponse{
		"GET https://files.example.org/export.json?%24limit=1&%24offset=0": {{Body: `[{"id": "x"}]`}},
	}}
	driver := makeDriver(t, stub, nil)

	rows, err := driver.FetchRows(t.Context(), "data.sfgov.org", "https://files.example.org/export.json", core.RowQuery{Limit: 1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	assert.DeepEqual(t, "rows", rows, []core.Row{{"id": "x"}})
}

func TestV3AuthUsesMostSpecificKey(t *testing.T) {
	stub := &portalStub{t: t, Responses: map[string][]stubResponse{
		"POST https://data.sfgov.org/api/v3/views/abcd-1234/query.json": {{Body: `[]`}},
		"POST https://data.sfgov.org/api/v3/views/wxyz-9999/query.json": {{Body: `[]`}},
	}}
	driver := makeDriver(t, stub, map[string]string{
		"SOCRATA__data.sfgov.org__abcd1234__V3_KEY_ID":     "dataset-key",
		"SOCRATA__data.sfgov.org__abcd1234__V3_KEY_SECRET": "dataset-secret",
		"SOCRATA__data.sfgov.org__V3_KEY_ID":               "host-key",
		"SOCRATA__data.sfgov.org__V3_KEY_SECRET":           "host-secret",
		"SOCRATA_V3_KEY_ID":                                "global-key",
		"SOCRATA_V3_KEY_SECRET":                            "global-secret",
	})

	_, err := driver.FetchRows(t.Context(), "data.sfgov.org", "abcd-1234", core.RowQuery{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, err = driver.FetchRows(t.Context(), "data.sfgov.org", "wxyz-9999", core.RowQuery{}, 0)
	if err != nil {
		t.Fatal(err)
	}

	assert.DeepEqual(t, "dataset-scoped auth", stub.Requests[0].Authorization, basicAuth("dataset-key", "dataset-secret"))
	assert.DeepEqual(t, "host-scoped auth", stub.Requests[1].Authorization, basicAuth("host-key", "host-secret"))
}

func TestRowCredentialsNeverLeak(t *testing.T) {
	stub := &portalStub{t: t, Responses: map[string][]stubResponse{
		"POST https://data.sfgov.org/api/v3/views/abcd-1234/query.json":               {{Status: 401}},
		"GET https://data.sfgov.org/resource/abcd-1234.json?%24limit=1000&%24offset=0": {{Status: 401}},
	}}
	driver := makeDriver(t, stub, map[string]string{
		"SOCRATA_V3_KEY_ID":     "key-id",
		"SOCRATA_V3_KEY_SECRET": "super-secret",
		"SOCRATA_APP_TOKEN":     "token-123",
	})

	_, err := driver.FetchRows(t.Context(), "data.sfgov.org", "abcd-1234", core.RowQuery{}, 0)
	if err == nil {
		t.Fatal("expected FetchRows to fail, but it did not")
	}
	if !core.IsClass(err, core.ErrClassFatalHTTP) {
		t.Errorf("expected a fatal-http error, but got class %q", core.ClassOf(err))
	}

	// no credential material may surface in the error, in any encoding
	for _, needle := range []string{
		"key-id",
		"super-secret",
		"token-123",
		base64.StdEncoding.EncodeToString([]byte("key-id:super-secret")),
	} {
		if strings.Contains(err.Error(), needle) {
			t.Errorf("error message leaks credential material %q: %s", needle, err.Error())
		}
	}
}

const viewDocumentJSON = `{
	"id": "abcd-1234",
	"name": "Building Permits",
	"description": "All permits",
	"category": "Housing",
	"tags": ["permit"],
	"rowsUpdatedAt": 1748772000,
	"columns": [
		{"id": 1, "name": "Permit ID", "fieldName": "permit_id", "dataTypeName": "text", "flags": ["required"]},
		{"id": 2, "name": "Issued", "fieldName": "issued_at", "dataTypeName": "calendar_date"},
		{"id": 3, "name": "Location", "fieldName": "location", "dataTypeName": "location", "subColumnTypes": ["point"]},
		{"id": 4, "name": "Internal", "fieldName": "internal", "dataTypeName": "text", "flags": ["hidden"]},
		{"id": 5, "name": "Blob", "fieldName": "blob", "dataTypeName": "mystery"}
	]
}`

func TestFetchMetadata(t *testing.T) {
	stub := &portalStub{t: t, Responses: map[string][]stubResponse{
		"GET https://data.sfgov.org/api/views/abcd-1234.json": {{Body: viewDocumentJSON}},
	}}
	driver := makeDriver(t, stub, nil)

	metadata, err := driver.FetchMetadata(t.Context(), "data.sfgov.org", "abcd-1234")
	if err != nil {
		t.Fatal(err)
	}

	rowsUpdatedAt := time.Unix(1748772000, 0).UTC()
	assert.DeepEqual(t, "metadata", metadata, core.NormalizedDatasetMetadata{
		ID:            "abcd-1234",
		Name:          "Building Permits",
		Description:   "All permits",
		Category:      "Housing",
		Tags:          []string{"permit"},
		RowsUpdatedAt: &rowsUpdatedAt,
		Columns: []core.NormalizedColumn{
			{ID: 1, Name: "Permit ID", FieldName: "permit_id", APIType: "text", LogicalType: codecs.TypeText},
			{ID: 2, Name: "Issued", FieldName: "issued_at", APIType: "calendar_date", LogicalType: codecs.TypeDateTime, Nullable: true},
			{ID: 3, Name: "Location", FieldName: "location", APIType: "location", LogicalType: codecs.TypePoint, Nullable: true},
			{ID: 4, Name: "Internal", FieldName: "internal", APIType: "text", LogicalType: codecs.TypeText, Nullable: true, Hidden: true},
			{ID: 5, Name: "Blob", FieldName: "blob", APIType: "mystery", LogicalType: codecs.TypeUnknown, Nullable: true},
		},
	})
}
