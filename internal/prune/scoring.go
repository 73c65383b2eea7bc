// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package prune

import (
	"time"
)

// ScoreComponents breaks a priority score into its weighted inputs, each on
// a 0-100 scale.
type ScoreComponents struct {
	Relevance   float64
	Freshness   float64
	OwnerTrust  float64
	Joinability float64
	Cadence     float64
	SizeSanity  float64
}

// score computes the weighted priority score. Weights sum to 10, so the
// result stays on the 0-100 scale of its components.
func (e *Engine) score(c Candidate, categories []string, text string) (float64, ScoreComponents) {
	components := ScoreComponents{
		Relevance:   relevanceScore(len(categories)),
		Freshness:   freshnessScore(monthsSince(c.UpdatedAt, e.now())),
		OwnerTrust:  e.ownerTrustScore(c.Publisher),
		Joinability: joinabilityScore(text),
		Cadence:     cadenceScore(text),
		SizeSanity:  sizeSanityScore(text),
	}
	total := components.Relevance*3 +
		components.Freshness*2 +
		components.OwnerTrust*1.5 +
		components.Joinability*1.5 +
		components.Cadence*1 +
		components.SizeSanity*1
	return total / 10, components
}

func relevanceScore(matchedCategories int) float64 {
	return min(100, float64(40+20*matchedCategories))
}

func freshnessScore(months float64) float64 {
	switch {
	case months < 0:
		return 30 // update recency unknown
	case months <= 6:
		return 100
	case months <= 12:
		return 85
	case months <= 36:
		return 70
	case months <= 60:
		return 55
	case months <= 120:
		return 40
	default:
		return 20
	}
}

func (e *Engine) ownerTrustScore(publisher string) float64 {
	switch {
	case e.trustedOwners[normalizeName(publisher)]:
		return 100
	case publisher != "":
		return 70
	default:
		return 20
	}
}

func joinabilityScore(text string) float64 {
	if joinKeyRx.MatchString(text) {
		return 100
	}
	return 60
}

func cadenceScore(text string) float64 {
	switch {
	case cadenceHighRx.MatchString(text):
		return 100
	case cadenceMediumRx.MatchString(text):
		return 85
	case cadenceLowRx.MatchString(text):
		return 70
	default:
		return 50
	}
}

func sizeSanityScore(text string) float64 {
	switch {
	case summaryRx.MatchString(text):
		return 100
	case allTimeRx.MatchString(text):
		return 40
	default:
		return 70
	}
}

// monthsSince measures the age of a portal-reported update timestamp in
// average-length months. A nil timestamp yields -1.
func monthsSince(t *time.Time, now time.Time) float64 {
	if t == nil {
		return -1
	}
	months := now.Sub(*t).Hours() / (24 * 30.4375)
	if months < 0 {
		return 0
	}
	return months
}
