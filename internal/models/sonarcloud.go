// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

package models

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/repolens/repolens/internal/models/sonarcloud"
)

// Issue classification enums as SonarCloud reports them. Stored as plain
// strings; unknown upstream values pass through untouched so a vocabulary
// change upstream never breaks a sync.
const (
	IssueSeverityInfo  = "INFO"
	IssueTypeCodeSmell = "CODE_SMELL"
	IssueStatusOpen    = "OPEN"

	HotspotStatusToReview = "TO_REVIEW"

	QualityGateOK    = "OK"
	QualityGateWarn  = "WARN"
	QualityGateError = "ERROR"
)

// Organization mirrors a SonarCloud organization.
type Organization struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Key          string    `json:"key" db:"key"`
	Name         string    `json:"name" db:"name"`
	Description  string    `json:"description,omitempty" db:"description"`
	URL          string    `json:"url,omitempty" db:"url"`
	SonarCloudID string    `json:"sonarcloud_id" db:"sonarcloud_id"`
	AvatarURL    string    `json:"avatar_url,omitempty" db:"avatar_url"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// OrganizationFromSonarCloud builds an Organization row.
func OrganizationFromSonarCloud(src sonarcloud.Organization) *Organization {
	scID := src.ID
	if scID == "" {
		scID = src.Key
	}
	now := nowFunc().UTC()
	return &Organization{
		ID:           uuid.New(),
		Key:          src.Key,
		Name:         src.Name,
		Description:  src.Description,
		URL:          src.URL,
		SonarCloudID: scID,
		AvatarURL:    src.Avatar,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// UpdateFromSonarCloud refreshes the mutable fields.
func (o *Organization) UpdateFromSonarCloud(src sonarcloud.Organization) {
	o.Name = src.Name
	o.Description = src.Description
	o.URL = src.URL
	o.AvatarURL = src.Avatar
	o.UpdatedAt = nowFunc().UTC()
}

// SonarProject mirrors a SonarCloud project (the analysis-side counterpart
// of a Bitbucket repository).
type SonarProject struct {
	ID             uuid.UUID `json:"id" db:"id"`
	OrganizationID uuid.UUID `json:"organization_id" db:"organization_id"`
	Key            string    `json:"key" db:"key"`
	Name           string    `json:"name" db:"name"`
	Description    string    `json:"description,omitempty" db:"description"`
	Visibility     string    `json:"visibility,omitempty" db:"visibility"`
	SonarCloudID   string    `json:"sonarcloud_id" db:"sonarcloud_id"`
	Qualifier      string    `json:"qualifier,omitempty" db:"qualifier"`

	LastAnalysisDate *time.Time `json:"last_analysis_date,omitempty" db:"last_analysis_date"`
	Revision         string     `json:"revision,omitempty" db:"revision"`

	// BitbucketRepositoryID is filled by the linker when the project key's
	// tail matches a mirrored repository slug.
	BitbucketRepositoryID *uuid.UUID `json:"bitbucket_repository_id,omitempty" db:"bitbucket_repository_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SonarProjectFromSonarCloud builds a SonarProject row.
func SonarProjectFromSonarCloud(src sonarcloud.Project, organizationID uuid.UUID) *SonarProject {
	scID := src.ID
	if scID == "" {
		scID = src.Key
	}
	now := nowFunc().UTC()
	return &SonarProject{
		ID:               uuid.New(),
		OrganizationID:   organizationID,
		Key:              src.Key,
		Name:             src.Name,
		Description:      src.Description,
		Visibility:       src.Visibility,
		SonarCloudID:     scID,
		Qualifier:        src.Qualifier,
		LastAnalysisDate: ParseTimePtr(src.LastAnalysisDate),
		Revision:         src.Revision,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// UpdateFromSonarCloud refreshes the mutable fields. A malformed analysis
// date keeps the previous value.
func (p *SonarProject) UpdateFromSonarCloud(src sonarcloud.Project) {
	p.Name = src.Name
	p.Description = src.Description
	p.Visibility = src.Visibility
	p.Qualifier = src.Qualifier
	if t := ParseTimePtr(src.LastAnalysisDate); t != nil {
		p.LastAnalysisDate = t
	}
	p.Revision = src.Revision
	p.UpdatedAt = nowFunc().UTC()
}

// SonarIssue mirrors a code-quality issue.
type SonarIssue struct {
	ID        uuid.UUID `json:"id" db:"id"`
	ProjectID uuid.UUID `json:"project_id" db:"project_id"`
	Key       string    `json:"key" db:"key"`
	Rule      string    `json:"rule" db:"rule"`
	Severity  string    `json:"severity" db:"severity"`
	Type      string    `json:"type" db:"type"`
	Status    string    `json:"status" db:"status"`
	Component string    `json:"component,omitempty" db:"component"`
	Line      int       `json:"line,omitempty" db:"line"`

	StartLine   int `json:"start_line,omitempty" db:"start_line"`
	EndLine     int `json:"end_line,omitempty" db:"end_line"`
	StartOffset int `json:"start_offset,omitempty" db:"start_offset"`
	EndOffset   int `json:"end_offset,omitempty" db:"end_offset"`

	Message string `json:"message" db:"message"`
	Effort  string `json:"effort,omitempty" db:"effort"`
	Debt    string `json:"debt,omitempty" db:"debt"`

	Author   string `json:"author,omitempty" db:"author"`
	Assignee string `json:"assignee,omitempty" db:"assignee"`

	CreationDate *time.Time `json:"creation_date,omitempty" db:"creation_date"`
	UpdateDate   *time.Time `json:"update_date,omitempty" db:"update_date"`
	CloseDate    *time.Time `json:"close_date,omitempty" db:"close_date"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SonarIssueFromSonarCloud builds a SonarIssue row.
func SonarIssueFromSonarCloud(src sonarcloud.Issue, projectID uuid.UUID) *SonarIssue {
	issue := &SonarIssue{
		ID:        uuid.New(),
		ProjectID: projectID,
		Key:       src.Key,
		Rule:      src.Rule,
		Severity:  defaultString(src.Severity, IssueSeverityInfo),
		Type:      defaultString(src.Type, IssueTypeCodeSmell),
		Status:    defaultString(src.Status, IssueStatusOpen),
		Component: src.Component,
		Line:      src.Line,
		Message:   src.Message,
		Effort:    src.Effort,
		Debt:      src.Debt,
		Author:    src.Author,
		Assignee:  src.Assignee,

		CreationDate: ParseTimePtr(src.CreationDate),
		UpdateDate:   ParseTimePtr(src.UpdateDate),
		CloseDate:    ParseTimePtr(src.CloseDate),
	}
	if src.TextRange != nil {
		issue.StartLine = src.TextRange.StartLine
		issue.EndLine = src.TextRange.EndLine
		issue.StartOffset = src.TextRange.StartOffset
		issue.EndOffset = src.TextRange.EndOffset
	}
	now := nowFunc().UTC()
	issue.CreatedAt = now
	issue.UpdatedAt = now
	return issue
}

// UpdateFromSonarCloud refreshes the mutable fields.
func (i *SonarIssue) UpdateFromSonarCloud(src sonarcloud.Issue) {
	i.Rule = src.Rule
	i.Severity = defaultString(src.Severity, i.Severity)
	i.Type = defaultString(src.Type, i.Type)
	i.Status = defaultString(src.Status, i.Status)
	i.Component = src.Component
	i.Line = src.Line
	if src.TextRange != nil {
		i.StartLine = src.TextRange.StartLine
		i.EndLine = src.TextRange.EndLine
		i.StartOffset = src.TextRange.StartOffset
		i.EndOffset = src.TextRange.EndOffset
	}
	i.Message = src.Message
	i.Effort = src.Effort
	i.Debt = src.Debt
	i.Author = src.Author
	i.Assignee = src.Assignee
	if t := ParseTimePtr(src.UpdateDate); t != nil {
		i.UpdateDate = t
	}
	if t := ParseTimePtr(src.CloseDate); t != nil {
		i.CloseDate = t
	}
	i.UpdatedAt = nowFunc().UTC()
}

// SonarHotspot mirrors a security hotspot awaiting review.
type SonarHotspot struct {
	ID         uuid.UUID `json:"id" db:"id"`
	ProjectID  uuid.UUID `json:"project_id" db:"project_id"`
	Key        string    `json:"key" db:"key"`
	Rule       string    `json:"rule" db:"rule"`
	Status     string    `json:"status" db:"status"`
	Resolution string    `json:"resolution,omitempty" db:"resolution"`
	Component  string    `json:"component,omitempty" db:"component"`
	Line       int       `json:"line,omitempty" db:"line"`

	StartLine   int `json:"start_line,omitempty" db:"start_line"`
	EndLine     int `json:"end_line,omitempty" db:"end_line"`
	StartOffset int `json:"start_offset,omitempty" db:"start_offset"`
	EndOffset   int `json:"end_offset,omitempty" db:"end_offset"`

	Message string `json:"message" db:"message"`

	SecurityCategory         string `json:"security_category,omitempty" db:"security_category"`
	VulnerabilityProbability string `json:"vulnerability_probability,omitempty" db:"vulnerability_probability"`

	Author   string `json:"author,omitempty" db:"author"`
	Assignee string `json:"assignee,omitempty" db:"assignee"`

	CreationDate *time.Time `json:"creation_date,omitempty" db:"creation_date"`
	UpdateDate   *time.Time `json:"update_date,omitempty" db:"update_date"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SonarHotspotFromSonarCloud builds a SonarHotspot row.
func SonarHotspotFromSonarCloud(src sonarcloud.Hotspot, projectID uuid.UUID) *SonarHotspot {
	h := &SonarHotspot{
		ID:         uuid.New(),
		ProjectID:  projectID,
		Key:        src.Key,
		Rule:       src.RuleKey,
		Status:     defaultString(src.Status, HotspotStatusToReview),
		Resolution: src.Resolution,
		Component:  src.Component,
		Line:       src.Line,
		Message:    src.Message,

		SecurityCategory:         src.SecurityCategory,
		VulnerabilityProbability: src.VulnerabilityProbability,

		Author:   src.Author,
		Assignee: src.Assignee,

		CreationDate: ParseTimePtr(src.CreationDate),
		UpdateDate:   ParseTimePtr(src.UpdateDate),
	}
	if src.TextRange != nil {
		h.StartLine = src.TextRange.StartLine
		h.EndLine = src.TextRange.EndLine
		h.StartOffset = src.TextRange.StartOffset
		h.EndOffset = src.TextRange.EndOffset
	}
	now := nowFunc().UTC()
	h.CreatedAt = now
	h.UpdatedAt = now
	return h
}

// UpdateFromSonarCloud refreshes the mutable fields. An absent resolution
// keeps the stored value since SonarCloud omits it for unreviewed hotspots.
func (h *SonarHotspot) UpdateFromSonarCloud(src sonarcloud.Hotspot) {
	h.Rule = src.RuleKey
	h.Status = defaultString(src.Status, h.Status)
	if src.Resolution != "" {
		h.Resolution = src.Resolution
	}
	h.Component = src.Component
	h.Line = src.Line
	if src.TextRange != nil {
		h.StartLine = src.TextRange.StartLine
		h.EndLine = src.TextRange.EndLine
		h.StartOffset = src.TextRange.StartOffset
		h.EndOffset = src.TextRange.EndOffset
	}
	h.Message = src.Message
	h.SecurityCategory = src.SecurityCategory
	h.VulnerabilityProbability = src.VulnerabilityProbability
	h.Author = src.Author
	h.Assignee = src.Assignee
	if t := ParseTimePtr(src.UpdateDate); t != nil {
		h.UpdateDate = t
	}
	h.UpdatedAt = nowFunc().UTC()
}

// SonarQualityGate mirrors the latest quality gate verdict for a project.
type SonarQualityGate struct {
	ID        uuid.UUID `json:"id" db:"id"`
	ProjectID uuid.UUID `json:"project_id" db:"project_id"`
	Key       string    `json:"key" db:"key"`
	Name      string    `json:"name" db:"name"`
	Status    string    `json:"status" db:"status"`

	ConditionsCount   int  `json:"conditions_count" db:"conditions_count"`
	IgnoredConditions bool `json:"ignored_conditions" db:"ignored_conditions"`

	AnalysisDate *time.Time `json:"analysis_date,omitempty" db:"analysis_date"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// QualityGateFromSonarCloud builds a SonarQualityGate row from the
// project_status body. The endpoint reports no identity of its own, so the
// key is derived from the owning project.
func QualityGateFromSonarCloud(src sonarcloud.ProjectStatus, projectKey string, projectID uuid.UUID) *SonarQualityGate {
	now := nowFunc().UTC()
	return &SonarQualityGate{
		ID:                uuid.New(),
		ProjectID:         projectID,
		Key:               fmt.Sprintf("quality_gate_%s", projectKey),
		Name:              fmt.Sprintf("Quality Gate %s", projectKey),
		Status:            defaultString(src.Status, QualityGateOK),
		ConditionsCount:   len(src.Conditions),
		IgnoredConditions: src.IgnoredConditions,
		AnalysisDate:      ParseTimePtr(src.AnalysisDate),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// UpdateFromSonarCloud refreshes the verdict.
func (qg *SonarQualityGate) UpdateFromSonarCloud(src sonarcloud.ProjectStatus) {
	qg.Status = defaultString(src.Status, qg.Status)
	qg.ConditionsCount = len(src.Conditions)
	qg.IgnoredConditions = src.IgnoredConditions
	if t := ParseTimePtr(src.AnalysisDate); t != nil {
		qg.AnalysisDate = t
	}
	qg.UpdatedAt = nowFunc().UTC()
}

// SonarMetric mirrors one measured value for a project.
type SonarMetric struct {
	ID        uuid.UUID `json:"id" db:"id"`
	ProjectID uuid.UUID `json:"project_id" db:"project_id"`
	Key       string    `json:"key" db:"key"`
	Name      string    `json:"name" db:"name"`

	Value          *float64 `json:"value,omitempty" db:"value"`
	FormattedValue string   `json:"formatted_value,omitempty" db:"formatted_value"`

	Type   string `json:"type,omitempty" db:"type"`
	Domain string `json:"domain,omitempty" db:"domain"`

	AnalysisDate *time.Time `json:"analysis_date,omitempty" db:"analysis_date"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// MetricFromSonarCloud builds a SonarMetric row from one measure and its
// optional definition. Non-numeric values (ratings like "1.0" parse fine;
// booleans and strings do not) keep a nil Value with the formatted text
// retained.
func MetricFromSonarCloud(m sonarcloud.Measure, def *sonarcloud.MetricDefinition, analysisDate *time.Time, projectID uuid.UUID) *SonarMetric {
	metric := &SonarMetric{
		ID:             uuid.New(),
		ProjectID:      projectID,
		Key:            m.Metric,
		Name:           m.Metric,
		Value:          parseMetricValue(m.Value),
		FormattedValue: m.Value,
		AnalysisDate:   analysisDate,
	}
	if def != nil {
		if def.Name != "" {
			metric.Name = def.Name
		}
		metric.Type = def.Type
		metric.Domain = def.Domain
	}
	now := nowFunc().UTC()
	metric.CreatedAt = now
	metric.UpdatedAt = now
	return metric
}

// UpdateFromSonarCloud refreshes the measured value.
func (sm *SonarMetric) UpdateFromSonarCloud(m sonarcloud.Measure, def *sonarcloud.MetricDefinition, analysisDate *time.Time) {
	sm.Value = parseMetricValue(m.Value)
	sm.FormattedValue = m.Value
	if def != nil {
		if def.Name != "" {
			sm.Name = def.Name
		}
		sm.Type = def.Type
		sm.Domain = def.Domain
	}
	if analysisDate != nil {
		sm.AnalysisDate = analysisDate
	}
	sm.UpdatedAt = nowFunc().UTC()
}

func parseMetricValue(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
