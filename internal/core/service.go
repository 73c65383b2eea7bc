// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"net/http"

	"github.com/sapcc/go-bits/errext"
	yaml "gopkg.in/yaml.v2"
)

// Service contains all configuration and runtime information for this
// deployment: the instantiated portal drivers and the shared credential and
// region state.
type Service struct {
	Config      ServiceConfiguration
	Credentials *CredentialStore
	Regions     *RegionResolver
	Drivers     map[PortalSource]PortalDriver
}

// NewService creates a Service instance from the given configuration and
// instantiates all configured portal drivers.
func NewService(config ServiceConfiguration) (s *Service, errs errext.ErrorSet) {
	creds := &CredentialStore{}
	s = &Service{
		Config:      config,
		Credentials: creds,
		Regions:     NewRegionResolver(creds),
		Drivers:     make(map[PortalSource]PortalDriver),
	}

	for _, portal := range config.Portals {
		driver := PortalDriverRegistry.Instantiate(portal.DriverType())
		if driver == nil {
			errs.Addf("setup for portal %s failed: no suitable driver found", portal.Source)
			continue
		}
		s.Drivers[portal.Source] = driver
	}

	return s, errs
}

// Connect supplies each driver with its configured parameters and calls
// Init() on it. The given client must already carry the retrying transport;
// it is shared by all drivers.
func (s *Service) Connect(client *http.Client) (errs errext.ErrorSet) {
	for _, portal := range s.Config.Portals {
		driver, exists := s.Drivers[portal.Source]
		if !exists {
			continue
		}
		err := yaml.UnmarshalStrict([]byte(portal.Parameters), driver)
		if err != nil {
			errs.Addf("failed to supply params to portal %s: %w", portal.Source, err)
			continue
		}
		err = driver.Init(client, s.Credentials)
		if err != nil {
			errs.Addf("failed to initialize portal %s: %w", portal.Source, err)
		}
	}
	return errs
}

// Discovery returns the catalog discovery surface of the given portal
// backend, usually SourceSocrata.
func (s *Service) Discovery(source PortalSource) (CatalogDiscovery, bool) {
	driver, exists := s.Drivers[source]
	return driver, exists
}
