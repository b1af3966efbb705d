// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

// Package sonarcloud defines the wire types of the SonarCloud Web API as
// consumed by RepoLens.
package sonarcloud

// Paging is the standard SonarCloud pagination block.
type Paging struct {
	PageIndex int `json:"pageIndex"`
	PageSize  int `json:"pageSize"`
	Total     int `json:"total"`
}

// Project is one component returned by api/projects/search or
// api/components/show.
type Project struct {
	Organization     string `json:"organization,omitempty"`
	ID               string `json:"id,omitempty"`
	Key              string `json:"key"`
	Name             string `json:"name"`
	Qualifier        string `json:"qualifier,omitempty"` // TRK, APP, ...
	Visibility       string `json:"visibility,omitempty"`
	Description      string `json:"description,omitempty"`
	LastAnalysisDate string `json:"lastAnalysisDate,omitempty"`
	Revision         string `json:"revision,omitempty"`
}

// ProjectSearchResponse is the envelope of api/projects/search.
type ProjectSearchResponse struct {
	Paging     Paging    `json:"paging"`
	Components []Project `json:"components"`
}

// ComponentShowResponse is the envelope of api/components/show.
type ComponentShowResponse struct {
	Component Project `json:"component"`
}

// TextRange locates an issue or hotspot inside a file.
type TextRange struct {
	StartLine   int `json:"startLine,omitempty"`
	EndLine     int `json:"endLine,omitempty"`
	StartOffset int `json:"startOffset,omitempty"`
	EndOffset   int `json:"endOffset,omitempty"`
}

// Issue is one entry from api/issues/search.
type Issue struct {
	ID        string     `json:"id,omitempty"`
	Key       string     `json:"key"`
	Rule      string     `json:"rule"`
	Severity  string     `json:"severity,omitempty"` // BLOCKER..INFO
	Type      string     `json:"type,omitempty"`     // BUG, VULNERABILITY, CODE_SMELL
	Status    string     `json:"status,omitempty"`   // OPEN..CLOSED
	Component string     `json:"component,omitempty"`
	Project   string     `json:"project,omitempty"`
	Line      int        `json:"line,omitempty"`
	TextRange *TextRange `json:"textRange,omitempty"`
	Message   string     `json:"message,omitempty"`
	Effort    string     `json:"effort,omitempty"`
	Debt      string     `json:"debt,omitempty"`

	Author   string `json:"author,omitempty"`
	Assignee string `json:"assignee,omitempty"`

	CreationDate string `json:"creationDate,omitempty"`
	UpdateDate   string `json:"updateDate,omitempty"`
	CloseDate    string `json:"closeDate,omitempty"`
}

// IssueSearchResponse is the envelope of api/issues/search.
type IssueSearchResponse struct {
	Paging Paging  `json:"paging"`
	Total  int     `json:"total,omitempty"`
	Issues []Issue `json:"issues"`
}

// Hotspot is one entry from api/hotspots/search.
type Hotspot struct {
	ID         string     `json:"id,omitempty"`
	Key        string     `json:"key"`
	RuleKey    string     `json:"ruleKey,omitempty"`
	Status     string     `json:"status,omitempty"`     // TO_REVIEW, IN_REVIEW, REVIEWED
	Resolution string     `json:"resolution,omitempty"` // SAFE, ACKNOWLEDGED, FIXED
	Component  string     `json:"component,omitempty"`
	Project    string     `json:"project,omitempty"`
	Line       int        `json:"line,omitempty"`
	TextRange  *TextRange `json:"textRange,omitempty"`
	Message    string     `json:"message,omitempty"`

	SecurityCategory         string `json:"securityCategory,omitempty"`
	VulnerabilityProbability string `json:"vulnerabilityProbability,omitempty"`

	Author   string `json:"author,omitempty"`
	Assignee string `json:"assignee,omitempty"`

	CreationDate string `json:"creationDate,omitempty"`
	UpdateDate   string `json:"updateDate,omitempty"`
}

// HotspotSearchResponse is the envelope of api/hotspots/search.
type HotspotSearchResponse struct {
	Paging   Paging    `json:"paging"`
	Hotspots []Hotspot `json:"hotspots"`
}

// QualityGateCondition is one threshold inside a project's quality gate.
type QualityGateCondition struct {
	Status         string `json:"status"`
	MetricKey      string `json:"metricKey"`
	Comparator     string `json:"comparator,omitempty"`
	ErrorThreshold string `json:"errorThreshold,omitempty"`
	ActualValue    string `json:"actualValue,omitempty"`
}

// ProjectStatus is the body of api/qualitygates/project_status.
type ProjectStatus struct {
	Status            string                 `json:"status"` // OK, WARN, ERROR
	Conditions        []QualityGateCondition `json:"conditions,omitempty"`
	IgnoredConditions bool                   `json:"ignoredConditions,omitempty"`
	AnalysisDate      string                 `json:"analysisDate,omitempty"`
}

// QualityGateResponse is the envelope of api/qualitygates/project_status.
type QualityGateResponse struct {
	ProjectStatus ProjectStatus `json:"projectStatus"`
}

// Measure is one metric value from api/measures/component.
type Measure struct {
	Metric    string `json:"metric"`
	Value     string `json:"value,omitempty"`
	BestValue bool   `json:"bestValue,omitempty"`
}

// MetricDefinition describes a metric when additionalFields=metrics is
// requested.
type MetricDefinition struct {
	Key    string `json:"key"`
	Name   string `json:"name,omitempty"`
	Type   string `json:"type,omitempty"`   // INT, FLOAT, PERCENT, ...
	Domain string `json:"domain,omitempty"` // Reliability, Security, ...
}

// MeasuresComponent carries a component and its measures.
type MeasuresComponent struct {
	Key       string    `json:"key"`
	Name      string    `json:"name,omitempty"`
	Qualifier string    `json:"qualifier,omitempty"`
	Measures  []Measure `json:"measures"`
}

// MeasuresResponse is the envelope of api/measures/component.
type MeasuresResponse struct {
	Component MeasuresComponent  `json:"component"`
	Metrics   []MetricDefinition `json:"metrics,omitempty"`
}

// Organization is one entry from api/organizations/search.
type Organization struct {
	ID          string `json:"id,omitempty"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// OrganizationSearchResponse is the envelope of api/organizations/search.
type OrganizationSearchResponse struct {
	Paging        Paging         `json:"paging"`
	Organizations []Organization `json:"organizations"`
}
