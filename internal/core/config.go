// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"fmt"
	"time"

	"github.com/sapcc/go-bits/errext"
	"github.com/sapcc/go-bits/regexpext"
	yaml "gopkg.in/yaml.v2"

	"github.com/sapcc/tabularium/internal/util"
)

// ServiceConfiguration is the root of the configuration file. It is
// instantiated from YAML and then inflated into type Service during the
// startup phase.
type ServiceConfiguration struct {
	Pipeline PipelineConfiguration `yaml:"pipeline"`
	Sync     SyncConfiguration     `yaml:"sync"`
	Prune    PruneConfiguration    `yaml:"prune"`
	Portals  []PortalConfiguration `yaml:"portals"`
}

// PipelineConfiguration configures the catalog ingest pipeline.
type PipelineConfiguration struct {
	Regions       []Region           `yaml:"regions"`
	PageSize      int                `yaml:"page_size"`
	Limit         int                `yaml:"limit"`
	BatchSize     int                `yaml:"batch_size"`
	ResumeEnabled bool               `yaml:"resume_enabled"`
	Retry         RetryConfiguration `yaml:"retry"`
	// MetricsEnabled gates all metrics emission of pipeline runs.
	MetricsEnabled *bool  `yaml:"metrics_enabled"`
	LogLevel       string `yaml:"log_level"`
}

// RetryConfiguration configures the HTTP retry behavior.
type RetryConfiguration struct {
	MaxAttempts  int                          `yaml:"max_attempts"`
	BaseDelay    util.MarshalableTimeDuration `yaml:"base_delay"`
	MaxDelay     util.MarshalableTimeDuration `yaml:"max_delay"`
	EnableJitter *bool                        `yaml:"enable_jitter"`
}

// JitterEnabled reports whether backoff jitter is active. It defaults to
// true; tests disable it for deterministic delays.
func (r RetryConfiguration) JitterEnabled() bool {
	return r.EnableJitter == nil || *r.EnableJitter
}

// SyncConfiguration configures the per-host dataset sync job.
type SyncConfiguration struct {
	Interval util.MarshalableTimeDuration `yaml:"interval"`
	// Retention bounds how long an unobserved dataset stays active before the
	// retirement pass flips it to inactive.
	Retention    util.MarshalableTimeDuration `yaml:"retention"`
	PruneEnabled bool                         `yaml:"prune_enabled"`
}

// PruneConfiguration configures the prune/scoring engine. Empty lists select
// the built-in defaults.
type PruneConfiguration struct {
	MinScore      float64                 `yaml:"min_score"`
	GlobalTokens  []regexpext.PlainRegexp `yaml:"global_tokens"`
	LocalHints    []regexpext.PlainRegexp `yaml:"local_hints"`
	TrustedOwners []string                `yaml:"trusted_owners"`
	// RetentionMonths overrides the default retention table per category.
	RetentionMonths map[string]int `yaml:"retention_months"`
}

// PortalConfiguration describes one portal backend that is enabled for this
// deployment.
type PortalConfiguration struct {
	Source PortalSource `yaml:"source"`
	// PluginType selects the driver implementation and defaults to the
	// source name. Tests use this to substitute scripted drivers.
	PluginType string              `yaml:"type"`
	Parameters util.YamlRawMessage `yaml:"params"`
}

// DriverType returns the plugin type ID of the driver that serves this
// portal.
func (p PortalConfiguration) DriverType() string {
	if p.PluginType != "" {
		return p.PluginType
	}
	return string(p.Source)
}

// IsMetricsEnabled reports the metrics gate, which defaults to on.
func (p PipelineConfiguration) IsMetricsEnabled() bool {
	return p.MetricsEnabled == nil || *p.MetricsEnabled
}

// NewServiceConfigurationFromYAML parses and validates the configuration
// file contents.
func NewServiceConfigurationFromYAML(configBytes []byte) (cfg ServiceConfiguration, errs errext.ErrorSet) {
	err := yaml.UnmarshalStrict(configBytes, &cfg)
	if err != nil {
		errs.Addf("parse configuration: %w", err)
		return ServiceConfiguration{}, errs
	}

	cfg.applyDefaults()
	errs.Append(cfg.validate())
	return cfg, errs
}

func (cfg *ServiceConfiguration) applyDefaults() {
	p := &cfg.Pipeline
	if len(p.Regions) == 0 {
		p.Regions = []Region{RegionUS}
	}
	if p.PageSize == 0 {
		p.PageSize = 100
	}
	if p.Limit == 0 {
		p.Limit = 10000
	}
	if p.BatchSize == 0 {
		p.BatchSize = 100
	}
	r := &p.Retry
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 3
	}
	if r.BaseDelay == 0 {
		r.BaseDelay = util.MarshalableTimeDuration(1 * time.Second)
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = util.MarshalableTimeDuration(30 * time.Second)
	}

	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = util.MarshalableTimeDuration(24 * time.Hour)
	}
	if cfg.Sync.Retention == 0 {
		cfg.Sync.Retention = util.MarshalableTimeDuration(90 * 24 * time.Hour)
	}
	if cfg.Prune.MinScore == 0 {
		cfg.Prune.MinScore = 60
	}
}

func (cfg ServiceConfiguration) validate() (errs errext.ErrorSet) {
	missing := func(key string) {
		errs.Addf("missing configuration value: %s", key)
	}

	for idx, region := range cfg.Pipeline.Regions {
		if !region.IsValid() {
			errs.Addf("invalid value for pipeline.regions[%d]: %q", idx, region)
		}
	}
	if cfg.Pipeline.PageSize < 0 {
		errs.Addf("invalid value for pipeline.page_size: %d (must be positive)", cfg.Pipeline.PageSize)
	}
	if cfg.Pipeline.Limit < 0 {
		errs.Addf("invalid value for pipeline.limit: %d (must be positive)", cfg.Pipeline.Limit)
	}
	if cfg.Pipeline.BatchSize < 1 {
		errs.Addf("invalid value for pipeline.batch_size: %d (must be >= 1)", cfg.Pipeline.BatchSize)
	}
	if cfg.Pipeline.Retry.MaxAttempts < 1 {
		errs.Addf("invalid value for pipeline.retry.max_attempts: %d (must be >= 1)", cfg.Pipeline.Retry.MaxAttempts)
	}
	if _, err := ParseLogLevel(cfg.Pipeline.LogLevel); err != nil {
		errs.Add(err)
	}

	if len(cfg.Portals) == 0 {
		missing("portals[]")
	}
	for idx, portal := range cfg.Portals {
		if portal.Source == "" {
			missing(fmt.Sprintf("portals[%d].source", idx))
		}
	}

	return errs
}
