// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package prune

import (
	"github.com/sapcc/go-bits/regexpext"
)

// categoryOrder fixes the evaluation order of the keyword groups. The first
// matching group in this order is the primary category that selects the
// retention threshold.
var categoryOrder = []string{
	"governance",
	"housing",
	"safety",
	"infrastructure",
	"finance",
	"transit",
	"boundaries",
}

// defaultCategoryPatterns classifies datasets into target categories by
// matching name, portal category and tags.
var defaultCategoryPatterns = map[string]regexpext.PlainRegexp{
	"governance":     `(?i)election|ballot|ethic|lobbyist|campaign finance|commission|board meeting|registered voter`,
	"housing":        `(?i)housing|eviction|rent board|affordable|dwelling|buyout|development pipeline|tenant`,
	"safety":         `(?i)crime|police|incident|fire department|911|emergency|collision|law enforcement`,
	"infrastructure": `(?i)permit|construction|street|sidewalk|sewer|utility|311|pothole|tree|paving`,
	"finance":        `(?i)budget|spending|expenditure|revenue|payroll|salar|vendor payment|contract|procurement`,
	"transit":        `(?i)transit|muni|bart|bus route|rail|bicycle|bike|pedestrian|parking|traffic count`,
	"boundaries":     `(?i)boundar|zoning|district|census tract|neighborhood|supervisor|precinct`,
}

// defaultRetentionMonths is the category retention table: how many months a
// dataset in the primary category may go without an update before it counts
// as stale. Boundary datasets are exempt and capped by version count instead.
var defaultRetentionMonths = map[string]int{
	"safety":         36,
	"infrastructure": 60,
	"transit":        120,
	"housing":        120,
	"finance":        144,
	"governance":     144,
	"boundaries":     0, // never stale, see boundary versioning
}

// defaultGlobalTokens flag datasets whose subject is wider than one city.
var defaultGlobalTokens = []regexpext.PlainRegexp{
	`USA`,
	`United States`,
	`Global`,
	`World`,
	`California`,
}

// defaultLocalHints rescue datasets that carry a global token but clearly
// belong to the target city anyway.
var defaultLocalHints = []regexpext.PlainRegexp{
	`San Francisco`,
	`SF`,
	`sfgov`,
	`city and county`,
}

var (
	archivedRx = regexpext.PlainRegexp(`(?i)archive|deprecated|retired|superseded`)
	// joinKeyRx marks datasets that can be joined onto parcel or case spines.
	joinKeyRx = regexpext.PlainRegexp(`(?i)\b(apn|parcel|block|lot|case|permit|incident|tract|district)s?\b`)
	// arcgisRx recognizes permalinks that point at an ArcGIS endpoint rather
	// than a native portal page.
	arcgisRx = regexpext.PlainRegexp(`(?i)arcgis|/(feature|map)server`)

	cadenceHighRx   = regexpext.PlainRegexp(`(?i)311|crime|calls`)
	cadenceMediumRx = regexpext.PlainRegexp(`(?i)permit|transit`)
	cadenceLowRx    = regexpext.PlainRegexp(`(?i)finance|ethic`)

	summaryRx = regexpext.PlainRegexp(`(?i)summary|aggregate`)
	allTimeRx = regexpext.PlainRegexp(`(?i)all[ -]?time`)
)
