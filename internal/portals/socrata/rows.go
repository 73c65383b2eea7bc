// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package socrata

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sapcc/tabularium/internal/core"
)

// fetchRowsV2 pages through the GET-based row API at /resource/{id}.json.
// The query's Where expression is passed through as $where verbatim.
func (d *Driver) fetchRowsV2(ctx context.Context, host, idOrURL string, query core.RowQuery, maxRows int) ([]core.Row, error) {
	baseURL := resourceBaseURL(host, idOrURL)

	params := make(url.Values)
	if len(query.Select) > 0 {
		params.Set("$select", strings.Join(query.Select, ", "))
	}
	if query.Where != "" {
		params.Set("$where", query.Where)
	}
	if query.OrderBy != "" {
		params.Set("$order", query.OrderBy)
	}

	pageSize := clampPageSize(query.Limit)
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	var result []core.Row
	for {
		params.Set("$limit", strconv.Itoa(pageSize))
		params.Set("$offset", strconv.Itoa(offset))

		var page []core.Row
		err := d.client.GetJSON(ctx, joinQuery(baseURL, params), &page)
		if err != nil {
			return nil, err
		}
		result = append(result, page...)

		if maxRows > 0 && len(result) >= maxRows {
			return result[:maxRows], nil
		}
		if len(page) < pageSize {
			return result, nil
		}
		offset += len(page)

		err = sleepCtx(ctx, d.RowPageDelay.Into())
		if err != nil {
			return nil, err
		}
	}
}

// clampPageSize restricts a requested page size to what the row APIs accept.
// A zero or negative request selects the largest page to minimize requests.
func clampPageSize(requested int) int {
	if requested <= 0 || requested > maxPageSize {
		return maxPageSize
	}
	return requested
}

func joinQuery(baseURL string, params url.Values) string {
	separator := "?"
	if strings.Contains(baseURL, "?") {
		separator = "&"
	}
	return baseURL + separator + params.Encode()
}

func sleepCtx(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return core.Classify(core.ErrClassCancelled, ctx.Err())
	case <-timer.C:
		return nil
	}
}
