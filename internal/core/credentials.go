// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"os"
	"strings"
)

// CredentialStore resolves Socrata credentials and per-host settings.
//
// All lookups go through GetenvFunc so tests can substitute a fixed
// environment. Key patterns, in the order they are consulted:
//
//	SOCRATA__<host>__<id>__V3_KEY_ID and _SECRET   (id lowercased, dashes stripped)
//	SOCRATA__<host>__V3_KEY_ID and _SECRET
//	SOCRATA_V3_KEY_ID and _SECRET
//	SOCRATA__<host>__REGION
//	SOCRATA_DEFAULT_REGION
//	SOCRATA_APP_TOKEN
type CredentialStore struct {
	// GetenvFunc defaults to os.Getenv.
	GetenvFunc func(key string) string
	// AppTokenOverride takes precedence over SOCRATA_APP_TOKEN when non-empty.
	// It is filled from the service configuration file.
	AppTokenOverride string
}

func (s *CredentialStore) getenv(key string) string {
	if s.GetenvFunc == nil {
		return os.Getenv(key)
	}
	return s.GetenvFunc(key)
}

// RegionOverride returns the raw per-host region override, or "".
func (s *CredentialStore) RegionOverride(host string) string {
	return s.getenv("SOCRATA__" + host + "__REGION")
}

// DefaultRegion returns the raw global region default, or "".
func (s *CredentialStore) DefaultRegion() string {
	return s.getenv("SOCRATA_DEFAULT_REGION")
}

// AppToken returns the application token sent in the X-App-Token header on
// anonymous requests, or "" if none is configured.
func (s *CredentialStore) AppToken() string {
	if s.AppTokenOverride != "" {
		return s.AppTokenOverride
	}
	return s.getenv("SOCRATA_APP_TOKEN")
}

// V3Credentials is a key pair for the POST-based query API, sent as HTTP
// Basic auth. Instances must never be rendered into logs or error messages.
type V3Credentials struct {
	KeyID  string
	Secret string
}

// V3KeyFor returns the most specific key pair configured for the given
// dataset: dataset-scoped, then host-scoped, then global. The second return
// value is false when no scope has a complete pair.
func (s *CredentialStore) V3KeyFor(host, datasetID string) (V3Credentials, bool) {
	var prefixes []string
	if datasetID != "" {
		prefixes = append(prefixes, "SOCRATA__"+host+"__"+datasetKeySegment(datasetID)+"__V3_KEY")
	}
	prefixes = append(prefixes,
		"SOCRATA__"+host+"__V3_KEY",
		"SOCRATA_V3_KEY",
	)

	for _, prefix := range prefixes {
		keyID := s.getenv(prefix + "_ID")
		secret := s.getenv(prefix + "_SECRET")
		if keyID != "" && secret != "" {
			return V3Credentials{KeyID: keyID, Secret: secret}, true
		}
	}
	return V3Credentials{}, false
}

// datasetKeySegment converts a four-by-four like "abcd-1234" into the form
// used in credential keys.
func datasetKeySegment(datasetID string) string {
	return strings.ReplaceAll(strings.ToLower(datasetID), "-", "")
}
