// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

// Package models provides the persisted entity types of the mirror and
// their mappings from the upstream wire types. Each entity keeps a
// surrogate UUID primary key plus the natural key the upstream API uses,
// so re-syncs update in place instead of duplicating rows.
package models

import (
	"strings"
	"time"
)

// nowFunc is swapped in tests that assert date fallbacks.
var nowFunc = time.Now

// StripUUIDBraces normalizes Bitbucket's brace-wrapped UUIDs
// ("{5ba2a5...}") to the bare canonical form.
func StripUUIDBraces(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return s[1 : len(s)-1]
	}
	return s
}

// ParseTime parses the ISO-8601 timestamps both APIs emit. An empty or
// malformed value falls back to the current time, matching upsert
// semantics where a missing date still needs a non-null column.
func ParseTime(s string) time.Time {
	if t, ok := parseTime(s); ok {
		return t
	}
	return nowFunc().UTC()
}

// ParseTimePtr parses like ParseTime but maps empty or malformed values to
// nil for nullable columns.
func ParseTimePtr(s string) *time.Time {
	if t, ok := parseTime(s); ok {
		return &t
	}
	return nil
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05-0700", // SonarCloud omits the offset colon
		"2006-01-02T15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
