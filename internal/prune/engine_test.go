// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package prune_test

import (
	"testing"
	"time"

	"github.com/sapcc/go-bits/assert"
	"github.com/sapcc/go-bits/regexpext"

	"github.com/sapcc/tabularium/internal/core"
	"github.com/sapcc/tabularium/internal/prune"
)

func fixedNow() time.Time {
	return time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
}

func updatedAt(year int, month time.Month, day int) *time.Time {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestEvaluateDropRules(t *testing.T) {
	engine := prune.NewEngine(core.PruneConfiguration{
		TrustedOwners: []string{"San Francisco Police Department"},
	}, fixedNow)

	keptPermits := prune.Candidate{
		ID: "keep-1", Name: "Building Permits", Description: "Permits issued by year",
		Category: "Housing", Tags: []string{"permit", "housing"},
		Publisher: "City Hall", UpdatedAt: updatedAt(2025, time.June, 1),
	}
	keptIncidents := prune.Candidate{
		ID: "keep-2", Name: "Police Incident Reports", Category: "Public Safety",
		Publisher: "San Francisco Police Department", UpdatedAt: updatedAt(2025, time.June, 15),
	}

	result := engine.Evaluate([]prune.Candidate{
		keptPermits,
		{ID: "href-1", Name: "External Map Link", Type: "href", Category: "Housing"},
		{ID: "arch-1", Name: "Building Permits (Deprecated)", Category: "Housing", UpdatedAt: updatedAt(2025, time.June, 1)},
		{ID: "glob-1", Name: "United States Census Overview", Description: "National population statistics", Category: "Demographics"},
		{ID: "art-1", Name: "Employee Art Collection", Description: "Artworks displayed in public buildings"},
		{ID: "stale-1", Name: "Crime Incidents 2010", Category: "Public Safety", UpdatedAt: updatedAt(2015, time.January, 1)},
		keptIncidents,
		{ID: "dupe-1", Name: "Police Incident Reports", Publisher: "GIS Sync", Permalink: "https://services.arcgis.com/xyz/FeatureServer/0"},
		{ID: "low-1", Name: "Zoning Districts 1998", UpdatedAt: updatedAt(1998, time.June, 1)},
	})

	assert.DeepEqual(t, "evaluation result", result, prune.Result{
		Kept: []prune.KeptDataset{
			{
				Candidate: keptPermits,
				Annotation: prune.Annotation{
					ReasonsKept:     []string{"score 85.0 >= 60", "categories: housing, infrastructure"},
					PriorityScore:   85,
					Components:      prune.ScoreComponents{Relevance: 80, Freshness: 100, OwnerTrust: 70, Joinability: 100, Cadence: 85, SizeSanity: 70},
					Categories:      []string{"housing", "infrastructure"},
					RetentionMonths: 120,
				},
			},
			{
				Candidate: keptIncidents,
				Annotation: prune.Annotation{
					ReasonsKept:     []string{"score 80.0 >= 60", "categories: safety"},
					PriorityScore:   80,
					Components:      prune.ScoreComponents{Relevance: 60, Freshness: 100, OwnerTrust: 100, Joinability: 100, Cadence: 50, SizeSanity: 70},
					Categories:      []string{"safety"},
					RetentionMonths: 36,
				},
			},
		},
		Dropped: []prune.DroppedDataset{
			{ID: "href-1", Name: "External Map Link", Reason: "type:href"},
			{ID: "arch-1", Name: "Building Permits (Deprecated)", Reason: "archived/deprecated"},
			{ID: "glob-1", Name: "United States Census Overview", Reason: "global/irrelevant|not-in-target-categories"},
			{ID: "art-1", Name: "Employee Art Collection", Reason: "not-in-target-categories"},
			{ID: "stale-1", Name: "Crime Incidents 2010", Reason: "stale>36m"},
			{ID: "dupe-1", Name: "Police Incident Reports", Reason: "arcgis-connector-duplicate"},
			{ID: "low-1", Name: "Zoning Districts 1998", Reason: "score<60(52.0)"},
		},
	})
}

func TestEvaluateScoring(t *testing.T) {
	engine := prune.NewEngine(core.PruneConfiguration{}, fixedNow)

	summary311 := prune.Candidate{
		ID: "sum-1", Name: "311 Call Summary", Description: "Aggregate monthly 311 service calls",
		Category: "City Infrastructure", Publisher: "311 Office", UpdatedAt: updatedAt(2025, time.June, 20),
	}
	allTimeVendor := prune.Candidate{
		ID: "fin-1", Name: "All-Time Vendor Payments", Description: "Complete history of vendor payments",
		Category: "Finance", Publisher: "Controller", UpdatedAt: updatedAt(2025, time.June, 20),
	}

	result := engine.Evaluate([]prune.Candidate{
		summary311,
		allTimeVendor,
		// no publisher and no update timestamp drag the score under the bar
		{ID: "park-1", Name: "Parking Meter Inventory", Category: "Transportation"},
	})

	assert.DeepEqual(t, "scoring result", result, prune.Result{
		Kept: []prune.KeptDataset{
			{
				Candidate: summary311,
				Annotation: prune.Annotation{
					ReasonsKept:     []string{"score 77.5 >= 60", "categories: infrastructure"},
					PriorityScore:   77.5,
					Components:      prune.ScoreComponents{Relevance: 60, Freshness: 100, OwnerTrust: 70, Joinability: 60, Cadence: 100, SizeSanity: 100},
					Categories:      []string{"infrastructure"},
					RetentionMonths: 60,
				},
			},
			{
				Candidate: allTimeVendor,
				Annotation: prune.Annotation{
					ReasonsKept:     []string{"score 68.5 >= 60", "categories: finance"},
					PriorityScore:   68.5,
					Components:      prune.ScoreComponents{Relevance: 60, Freshness: 100, OwnerTrust: 70, Joinability: 60, Cadence: 70, SizeSanity: 40},
					Categories:      []string{"finance"},
					RetentionMonths: 144,
				},
			},
		},
		Dropped: []prune.DroppedDataset{
			{ID: "park-1", Name: "Parking Meter Inventory", Reason: "score<60(48.0)"},
		},
	})
}

func TestEvaluateBoundaryVersioning(t *testing.T) {
	engine := prune.NewEngine(core.PruneConfiguration{
		TrustedOwners: []string{"Department of Elections"},
	}, fixedNow)

	version := func(id, name string, updated *time.Time) prune.Candidate {
		return prune.Candidate{ID: id, Name: name, Publisher: "Department of Elections", UpdatedAt: updated}
	}

	// input order deliberately differs from recency order
	result := engine.Evaluate([]prune.Candidate{
		version("sd-2022", "Supervisor Districts 2022", updatedAt(2025, time.January, 1)),
		version("sd-2012", "Supervisor Districts 2012", updatedAt(2016, time.July, 1)),
		version("sd-2017", "Supervisor Districts 2017", updatedAt(2020, time.January, 1)),
		version("sd-2002", "Supervisor Districts 2002", updatedAt(2014, time.July, 1)),
	})

	keptIDs := make([]string, len(result.Kept))
	scores := make([]float64, len(result.Kept))
	for idx, kept := range result.Kept {
		keptIDs[idx] = kept.ID
		scores[idx] = kept.Annotation.PriorityScore
	}
	assert.DeepEqual(t, "kept versions", keptIDs, []string{"sd-2022", "sd-2017"})
	assert.DeepEqual(t, "kept scores", scores, []float64{80, 68})
	assert.DeepEqual(t, "boundary retention", result.Kept[0].Annotation.RetentionMonths, 0)

	assert.DeepEqual(t, "dropped versions", result.Dropped, []prune.DroppedDataset{
		{ID: "sd-2012", Name: "Supervisor Districts 2012", Reason: "boundaries:exceeds-current+previous"},
		{ID: "sd-2002", Name: "Supervisor Districts 2002", Reason: "boundaries:exceeds-current+previous"},
	})
}

func TestEvaluateConfigOverrides(t *testing.T) {
	engine := prune.NewEngine(core.PruneConfiguration{
		MinScore:        80,
		GlobalTokens:    []regexpext.PlainRegexp{"Nationwide"},
		LocalHints:      []regexpext.PlainRegexp{"Oakland"},
		RetentionMonths: map[string]int{"safety": 1},
	}, fixedNow)

	result := engine.Evaluate([]prune.Candidate{
		{ID: "nat-1", Name: "Nationwide Crime Index", UpdatedAt: updatedAt(2025, time.June, 20)},
		// the local hint overrides the global token, but the tightened
		// retention gets it anyway
		{ID: "oak-2", Name: "Oakland Nationwide Crime Stats", UpdatedAt: updatedAt(2025, time.April, 1)},
		{ID: "oak-1", Name: "Oakland Crime Reports", Publisher: "Oakland PD", UpdatedAt: updatedAt(2025, time.June, 20)},
	})

	assert.DeepEqual(t, "override result", result, prune.Result{
		Dropped: []prune.DroppedDataset{
			{ID: "nat-1", Name: "Nationwide Crime Index", Reason: "global/irrelevant"},
			{ID: "oak-2", Name: "Oakland Nationwide Crime Stats", Reason: "stale>1m"},
			{ID: "oak-1", Name: "Oakland Crime Reports", Reason: "score<80(74.5)"},
		},
	})
}
