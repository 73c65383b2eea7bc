// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

// Package prune filters a discovered catalog down to the datasets worth
// keeping. Every candidate either survives with a priority score and its
// score components attached, or is dropped with a recorded reason.
package prune

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/sapcc/go-bits/regexpext"

	"github.com/sapcc/tabularium/internal/core"
)

// Candidate is the engine's view of one dataset.
type Candidate struct {
	ID          string
	Name        string
	Description string
	// Type is the portal-reported asset type; external links ("href") never
	// survive pruning.
	Type      string
	Category  string
	Tags      []string
	Publisher string
	Permalink string
	UpdatedAt *time.Time
}

// KeptDataset is a candidate that survived pruning.
type KeptDataset struct {
	Candidate
	Annotation Annotation
}

// Annotation explains why a dataset was kept and how it scored.
type Annotation struct {
	ReasonsKept     []string
	PriorityScore   float64
	Components      ScoreComponents
	Categories      []string
	RetentionMonths int
}

// DroppedDataset records one pruned dataset. When several rules matched,
// Reason carries all of them, pipe-separated.
type DroppedDataset struct {
	ID     string
	Name   string
	Reason string
}

// Result is the outcome of one Evaluate call.
type Result struct {
	Kept    []KeptDataset
	Dropped []DroppedDataset
}

// Engine applies the drop rules and the priority scoring.
type Engine struct {
	minScore      float64
	globalTokens  []regexpext.PlainRegexp
	localHints    []regexpext.PlainRegexp
	trustedOwners map[string]bool
	retention     map[string]int
	now           func() time.Time
}

// NewEngine builds an Engine from configuration. Empty config lists select
// the built-in defaults.
func NewEngine(cfg core.PruneConfiguration, now func() time.Time) *Engine {
	e := &Engine{
		minScore:      cfg.MinScore,
		globalTokens:  cfg.GlobalTokens,
		localHints:    cfg.LocalHints,
		trustedOwners: make(map[string]bool),
		retention:     make(map[string]int),
		now:           now,
	}
	if e.minScore == 0 {
		e.minScore = 60
	}
	if len(e.globalTokens) == 0 {
		e.globalTokens = defaultGlobalTokens
	}
	if len(e.localHints) == 0 {
		e.localHints = defaultLocalHints
	}
	for _, owner := range cfg.TrustedOwners {
		e.trustedOwners[normalizeName(owner)] = true
	}
	maps.Copy(e.retention, defaultRetentionMonths)
	maps.Copy(e.retention, cfg.RetentionMonths)
	return e
}

// Evaluate runs all drop rules and the scoring over the given candidates.
// Input order is preserved within both result lists.
func (e *Engine) Evaluate(candidates []Candidate) Result {
	// index the names published by trusted owners, for the duplicate check
	trustedNames := make(map[string]bool)
	for _, c := range candidates {
		if e.trustedOwners[normalizeName(c.Publisher)] {
			trustedNames[normalizeName(c.Name)] = true
		}
	}

	type scoredCandidate struct {
		candidate  Candidate
		categories []string
		score      float64
		components ScoreComponents
	}

	var result Result
	var kept []scoredCandidate
	for _, c := range candidates {
		text := searchText(c)
		categories := classify(text)
		reasons := e.dropReasons(c, text, categories, trustedNames)
		if len(reasons) > 0 {
			result.Dropped = append(result.Dropped, DroppedDataset{
				ID: c.ID, Name: c.Name, Reason: strings.Join(reasons, "|"),
			})
			continue
		}

		score, components := e.score(c, categories, text)
		if score < e.minScore {
			result.Dropped = append(result.Dropped, DroppedDataset{
				ID: c.ID, Name: c.Name,
				Reason: fmt.Sprintf("score<%g(%.1f)", e.minScore, score),
			})
			continue
		}
		kept = append(kept, scoredCandidate{c, categories, score, components})
	}

	// Boundary datasets exist in dated versions ("Supervisor Districts 2012",
	// "... 2022"); only the current and the previous version of each family
	// stay in the catalog.
	drop := make(map[int]bool)
	byBoundaryKey := make(map[string][]int)
	for idx, s := range kept {
		if slices.Contains(s.categories, "boundaries") {
			key := boundaryKey(s.candidate.Name)
			byBoundaryKey[key] = append(byBoundaryKey[key], idx)
		}
	}
	for _, idxs := range byBoundaryKey {
		if len(idxs) <= 2 {
			continue
		}
		slices.SortStableFunc(idxs, func(a, b int) int {
			return compareUpdatedAtDesc(kept[a].candidate.UpdatedAt, kept[b].candidate.UpdatedAt)
		})
		for _, idx := range idxs[2:] {
			drop[idx] = true
		}
	}

	for idx, s := range kept {
		if drop[idx] {
			result.Dropped = append(result.Dropped, DroppedDataset{
				ID: s.candidate.ID, Name: s.candidate.Name,
				Reason: "boundaries:exceeds-current+previous",
			})
			continue
		}
		result.Kept = append(result.Kept, KeptDataset{
			Candidate: s.candidate,
			Annotation: Annotation{
				ReasonsKept:     e.keptReasons(s.score, s.categories),
				PriorityScore:   s.score,
				Components:      s.components,
				Categories:      s.categories,
				RetentionMonths: e.retention[s.categories[0]],
			},
		})
	}
	return result
}

// dropReasons evaluates the rule chain. All matching reasons are reported,
// not just the first one, so operators see the full picture per dataset.
func (e *Engine) dropReasons(c Candidate, text string, categories []string, trustedNames map[string]bool) (reasons []string) {
	if c.Type == "href" {
		reasons = append(reasons, "type:href")
	}
	if archivedRx.MatchString(c.Name) || matchesAnyTag(c.Tags, archivedRx) {
		reasons = append(reasons, "archived/deprecated")
	}
	if matchesAny(e.globalTokens, text) && !matchesAny(e.localHints, text) {
		reasons = append(reasons, "global/irrelevant")
	}
	if len(categories) == 0 {
		reasons = append(reasons, "not-in-target-categories")
	}
	if len(categories) > 0 && !slices.Contains(categories, "boundaries") {
		retention := e.retention[categories[0]]
		months := monthsSince(c.UpdatedAt, e.now())
		if retention > 0 && months > float64(retention) {
			reasons = append(reasons, fmt.Sprintf("stale>%dm", retention))
		}
	}
	if trustedNames[normalizeName(c.Name)] && !e.trustedOwners[normalizeName(c.Publisher)] && arcgisRx.MatchString(c.Permalink) {
		reasons = append(reasons, "arcgis-connector-duplicate")
	}
	return reasons
}

func (e *Engine) keptReasons(score float64, categories []string) []string {
	return []string{
		fmt.Sprintf("score %.1f >= %g", score, e.minScore),
		"categories: " + strings.Join(categories, ", "),
	}
}

func classify(text string) (categories []string) {
	for _, category := range categoryOrder {
		if defaultCategoryPatterns[category].MatchString(text) {
			categories = append(categories, category)
		}
	}
	return categories
}

func searchText(c Candidate) string {
	parts := []string{c.Name, c.Description, c.Category}
	parts = append(parts, c.Tags...)
	return strings.Join(parts, " ")
}

func matchesAny(patterns []regexpext.PlainRegexp, text string) bool {
	for _, rx := range patterns {
		if rx.MatchString(text) {
			return true
		}
	}
	return false
}

func matchesAnyTag(tags []string, rx regexpext.PlainRegexp) bool {
	for _, tag := range tags {
		if rx.MatchString(tag) {
			return true
		}
	}
	return false
}

func compareUpdatedAtDesc(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return b.Compare(*a)
	}
}

var (
	nonAlnumRx = regexp.MustCompile(`[^a-z0-9]+`)
	digitRunRx = regexp.MustCompile(`[0-9]+`)
)

// normalizeName canonicalizes a dataset or owner name for identity checks.
func normalizeName(name string) string {
	return strings.TrimSpace(nonAlnumRx.ReplaceAllString(strings.ToLower(name), " "))
}

// boundaryKey groups dated versions of the same boundary family by removing
// digit runs from the normalized name.
func boundaryKey(name string) string {
	return strings.Join(strings.Fields(digitRunRx.ReplaceAllString(normalizeName(name), " ")), " ")
}
