// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package util

import (
	"net/http"
	"time"

	"github.com/sapcc/go-bits/logg"
)

// AddLoggingRoundTripper adds logging to an http.RoundTripper. This provides
// visibility into slow portal API calls; individual attempts show up on the
// debug level.
func AddLoggingRoundTripper(inner http.RoundTripper) http.RoundTripper {
	return loggingRoundTripper{inner}
}

type loggingRoundTripper struct {
	Inner http.RoundTripper
}

// RoundTrip implements the http.RoundTripper interface.
func (rt loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := rt.Inner.RoundTrip(req)
	duration := time.Since(start)

	if err == nil {
		logg.Debug("%s %s: got %d in %s", req.Method, req.URL.String(), resp.StatusCode, duration.String())
		if duration > 30*time.Second {
			logg.Info("portal API call has taken excessively long (%s): %s %s", duration.String(), req.Method, req.URL.String())
		}
	}

	return resp, err
}
