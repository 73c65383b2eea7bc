// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package core_test

import (
	"strings"
	"testing"
	"time"

	"github.com/sapcc/go-bits/assert"

	"github.com/sapcc/tabularium/internal/core"
)

func yamlBytes(yamlStr string) []byte {
	return []byte(strings.ReplaceAll(yamlStr, "\t", "  "))
}

func TestConfigDefaults(t *testing.T) {
	cfg, errs := core.NewServiceConfigurationFromYAML(yamlBytes(`
		portals:
			- source: socrata
	`))
	if !errs.IsEmpty() {
		t.Fatal(errs.Join(", "))
	}

	p := cfg.Pipeline
	assert.DeepEqual(t, "regions", p.Regions, []core.Region{core.RegionUS})
	assert.DeepEqual(t, "page size", p.PageSize, 100)
	assert.DeepEqual(t, "limit", p.Limit, 10000)
	assert.DeepEqual(t, "batch size", p.BatchSize, 100)
	assert.DeepEqual(t, "max attempts", p.Retry.MaxAttempts, 3)
	assert.DeepEqual(t, "base delay", p.Retry.BaseDelay.Into(), 1*time.Second)
	assert.DeepEqual(t, "max delay", p.Retry.MaxDelay.Into(), 30*time.Second)
	if !p.Retry.JitterEnabled() {
		t.Error("expected jitter to be enabled by default")
	}
	if !p.IsMetricsEnabled() {
		t.Error("expected metrics to be enabled by default")
	}
	assert.DeepEqual(t, "sync interval", cfg.Sync.Interval.Into(), 24*time.Hour)
	assert.DeepEqual(t, "sync retention", cfg.Sync.Retention.Into(), 90*24*time.Hour)
	assert.DeepEqual(t, "min score", cfg.Prune.MinScore, 60.0)
}

func TestConfigValidation(t *testing.T) {
	// unknown fields are rejected
	_, errs := core.NewServiceConfigurationFromYAML(yamlBytes(`{invalid}`))
	assert.Equal(t, errs.Join(","), "parse configuration: yaml: unmarshal errors:\n  line 1: field invalid not found in type core.ServiceConfiguration")

	// invalid region and batch size
	_, errs = core.NewServiceConfigurationFromYAML(yamlBytes(`
		pipeline:
			regions: [ US, MARS ]
			batch_size: -5
		portals:
			- source: socrata
	`))
	assert.Equal(t, errs.Join(","), `invalid value for pipeline.regions[1]: "MARS",invalid value for pipeline.batch_size: -5 (must be >= 1)`)

	// invalid log level, and no portals at all
	_, errs = core.NewServiceConfigurationFromYAML(yamlBytes(`
		pipeline:
			log_level: shouting
	`))
	assert.Equal(t, errs.Join(","), `invalid log level: "shouting",missing configuration value: portals[]`)

	// portal without a source
	_, errs = core.NewServiceConfigurationFromYAML(yamlBytes(`
		portals:
			- type: --test-catalog
	`))
	assert.Equal(t, errs.Join(","), "missing configuration value: portals[0].source")

	// explicit values survive the defaulting pass
	cfg, errs := core.NewServiceConfigurationFromYAML(yamlBytes(`
		pipeline:
			regions: [ US, EU ]
			page_size: 50
			batch_size: 10
			retry:
				max_attempts: 5
				base_delay: 2s
		sync:
			interval: 12h
		portals:
			- source: socrata
	`))
	assert.Equal(t, errs.Join(","), "")
	assert.DeepEqual(t, "regions", cfg.Pipeline.Regions, []core.Region{core.RegionUS, core.RegionEU})
	assert.DeepEqual(t, "page size", cfg.Pipeline.PageSize, 50)
	assert.DeepEqual(t, "max attempts", cfg.Pipeline.Retry.MaxAttempts, 5)
	assert.DeepEqual(t, "base delay", cfg.Pipeline.Retry.BaseDelay.Into(), 2*time.Second)
	assert.DeepEqual(t, "interval", cfg.Sync.Interval.Into(), 12*time.Hour)
}

func TestPortalDriverType(t *testing.T) {
	portal := core.PortalConfiguration{Source: core.SourceSocrata}
	assert.Equal(t, portal.DriverType(), "socrata")

	portal.PluginType = "--test-catalog"
	assert.Equal(t, portal.DriverType(), "--test-catalog")
}
