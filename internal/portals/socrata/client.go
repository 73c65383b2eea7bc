// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

// Package socrata implements the portal driver for Socrata-backed open-data
// portals.
package socrata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sapcc/tabularium/internal/core"
)

// Client executes requests against Socrata API endpoints. It is shared by
// the discovery, row and metadata surfaces of the driver.
type Client struct {
	HTTP  *http.Client
	Creds *core.CredentialStore
	// AppToken is sent in the X-App-Token header on requests that do not
	// carry Basic auth.
	AppToken string
}

// GetJSON executes a GET request and decodes the response body into target.
func (c *Client) GetJSON(ctx context.Context, url string, target any) error {
	return c.doJSON(ctx, http.MethodGet, url, nil, nil, target)
}

// PostJSON executes a POST request with the given body and decodes the
// response into target. When auth is non-nil, the request carries HTTP Basic
// auth instead of the app token.
func (c *Client) PostJSON(ctx context.Context, url string, auth *core.V3Credentials, requestBody, target any) error {
	return c.doJSON(ctx, http.MethodPost, url, auth, requestBody, target)
}

func (c *Client) doJSON(ctx context.Context, method, url string, auth *core.V3Credentials, requestBody, target any) error {
	var bodyReader io.Reader
	if requestBody != nil {
		buf, err := json.Marshal(requestBody)
		if err != nil {
			return core.Classifyf(core.ErrClassConfig, "while serializing request body for %s %s: %s", method, url, err.Error())
		}
		bodyReader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return core.Classify(core.ErrClassConfig, err)
	}
	req.Header.Set("Accept", "application/json")
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// The Authorization header must never be copied into logs or errors.
	if auth != nil {
		req.SetBasicAuth(auth.KeyID, auth.Secret)
	} else if c.AppToken != "" {
		req.Header.Set("X-App-Token", c.AppToken)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return core.NewHTTPError(method, url, resp.StatusCode)
	}

	err = json.NewDecoder(resp.Body).Decode(target)
	if err != nil {
		return core.Classifyf(core.ErrClassSchema, "could not parse response body from %s %s: %s", method, core.SanitizeURL(url), err.Error())
	}
	return nil
}

// resourceBaseURL chooses between a caller-supplied full resource URL and
// the canonical per-host one.
func resourceBaseURL(host, idOrURL string) string {
	if isFullURL(idOrURL) {
		return idOrURL
	}
	return fmt.Sprintf("https://%s/resource/%s.json", host, idOrURL)
}

func isFullURL(s string) bool {
	return len(s) > 8 && (s[:7] == "http://" || s[:8] == "https://")
}
