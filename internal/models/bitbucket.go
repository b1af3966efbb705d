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

	"github.com/repolens/repolens/internal/models/bitbucket"
)

// PullRequestState is the lifecycle state Bitbucket reports for a pull
// request.
type PullRequestState string

const (
	PullRequestOpen       PullRequestState = "OPEN"
	PullRequestMerged     PullRequestState = "MERGED"
	PullRequestDeclined   PullRequestState = "DECLINED"
	PullRequestSuperseded PullRequestState = "SUPERSEDED"
)

// ParsePullRequestState maps an upstream state string onto the enum,
// defaulting to OPEN for anything unrecognized.
func ParsePullRequestState(s string) PullRequestState {
	switch PullRequestState(s) {
	case PullRequestMerged, PullRequestDeclined, PullRequestSuperseded:
		return PullRequestState(s)
	default:
		return PullRequestOpen
	}
}

// Workspace mirrors a Bitbucket workspace.
type Workspace struct {
	ID            uuid.UUID `json:"id" db:"id"`
	BitbucketUUID string    `json:"bitbucket_uuid" db:"bitbucket_uuid"`
	BitbucketID   string    `json:"bitbucket_id" db:"bitbucket_id"`
	Slug          string    `json:"slug" db:"slug"`
	Name          string    `json:"name" db:"name"`
	IsPrivate     bool      `json:"is_private" db:"is_private"`
	Description   string    `json:"description,omitempty" db:"description"`
	Website       string    `json:"website,omitempty" db:"website"`
	Location      string    `json:"location,omitempty" db:"location"`

	// Aggregates recomputed after each workspace sync.
	TotalRepositories int `json:"total_repositories" db:"total_repositories"`
	TotalProjects     int `json:"total_projects" db:"total_projects"`
	TotalMembers      int `json:"total_members" db:"total_members"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// WorkspaceFromBitbucket builds a Workspace row from the wire type.
func WorkspaceFromBitbucket(src bitbucket.Workspace) *Workspace {
	bbID := src.ID
	if bbID == "" {
		bbID = StripUUIDBraces(src.UUID)
	}
	now := nowFunc().UTC()
	return &Workspace{
		ID:            uuid.New(),
		BitbucketUUID: StripUUIDBraces(src.UUID),
		BitbucketID:   bbID,
		Slug:          src.Slug,
		Name:          src.Name,
		IsPrivate:     src.IsPrivate,
		Description:   src.Description,
		Website:       src.Website,
		Location:      src.Location,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// UpdateFromBitbucket refreshes the mutable fields from the wire type.
// Identity fields (UUID, slug) keep their first-write values.
func (w *Workspace) UpdateFromBitbucket(src bitbucket.Workspace) {
	w.Name = src.Name
	w.IsPrivate = src.IsPrivate
	w.Description = src.Description
	w.Website = src.Website
	w.Location = src.Location
	w.UpdatedAt = nowFunc().UTC()
}

// Project mirrors a Bitbucket project.
type Project struct {
	ID            uuid.UUID `json:"id" db:"id"`
	WorkspaceID   uuid.UUID `json:"workspace_id" db:"workspace_id"`
	BitbucketUUID string    `json:"bitbucket_uuid" db:"bitbucket_uuid"`
	BitbucketID   string    `json:"bitbucket_id" db:"bitbucket_id"`
	Key           string    `json:"key" db:"key"`
	Name          string    `json:"name" db:"name"`
	IsPrivate     bool      `json:"is_private" db:"is_private"`
	Description   string    `json:"description,omitempty" db:"description"`
	AvatarURL     string    `json:"avatar_url,omitempty" db:"avatar_url"`

	TotalRepositories int `json:"total_repositories" db:"total_repositories"`
	TotalCommits      int `json:"total_commits" db:"total_commits"`
	TotalPullRequests int `json:"total_pull_requests" db:"total_pull_requests"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ProjectFromBitbucket builds a Project row scoped to a workspace.
func ProjectFromBitbucket(src bitbucket.Project, workspaceID uuid.UUID) *Project {
	cleanUUID := StripUUIDBraces(src.UUID)
	bbID := src.ID
	if bbID == "" {
		bbID = cleanUUID
	}
	now := nowFunc().UTC()
	return &Project{
		ID:            uuid.New(),
		WorkspaceID:   workspaceID,
		BitbucketUUID: cleanUUID,
		BitbucketID:   bbID,
		Key:           src.Key,
		Name:          src.Name,
		IsPrivate:     src.IsPrivate,
		Description:   src.Description,
		AvatarURL:     src.AvatarURL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// UpdateFromBitbucket refreshes the mutable fields from the wire type.
func (p *Project) UpdateFromBitbucket(src bitbucket.Project) {
	p.Name = src.Name
	p.IsPrivate = src.IsPrivate
	p.Description = src.Description
	p.AvatarURL = src.AvatarURL
	p.UpdatedAt = nowFunc().UTC()
}

// Repository mirrors a Bitbucket repository.
type Repository struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	WorkspaceID   uuid.UUID  `json:"workspace_id" db:"workspace_id"`
	ProjectID     *uuid.UUID `json:"project_id,omitempty" db:"project_id"`
	BitbucketUUID string     `json:"bitbucket_uuid" db:"bitbucket_uuid"`
	BitbucketID   string     `json:"bitbucket_id" db:"bitbucket_id"`
	Slug          string     `json:"slug" db:"slug"`
	Name          string     `json:"name" db:"name"`
	IsPrivate     bool       `json:"is_private" db:"is_private"`
	Description   string     `json:"description,omitempty" db:"description"`
	Language      string     `json:"language,omitempty" db:"language"`
	AvatarURL     string     `json:"avatar_url,omitempty" db:"avatar_url"`
	Website       string     `json:"website,omitempty" db:"website"`
	SizeBytes     int64      `json:"size_bytes" db:"size_bytes"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RepositoryFromBitbucket builds a Repository row. projectID is nil for
// repositories outside any project.
func RepositoryFromBitbucket(src bitbucket.Repository, workspaceID uuid.UUID, projectID *uuid.UUID) *Repository {
	cleanUUID := StripUUIDBraces(src.UUID)
	bbID := src.ID
	if bbID == "" {
		bbID = cleanUUID
	}
	now := nowFunc().UTC()
	return &Repository{
		ID:            uuid.New(),
		WorkspaceID:   workspaceID,
		ProjectID:     projectID,
		BitbucketUUID: cleanUUID,
		BitbucketID:   bbID,
		Slug:          src.Slug,
		Name:          src.Name,
		IsPrivate:     src.IsPrivate,
		Description:   src.Description,
		Language:      src.Language,
		AvatarURL:     src.AvatarURL,
		Website:       src.Website,
		SizeBytes:     src.Size,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// UpdateFromBitbucket refreshes the mutable fields from the wire type.
func (r *Repository) UpdateFromBitbucket(src bitbucket.Repository) {
	r.Name = src.Name
	r.IsPrivate = src.IsPrivate
	r.Description = src.Description
	r.Language = src.Language
	r.AvatarURL = src.AvatarURL
	r.Website = src.Website
	r.SizeBytes = src.Size
	r.UpdatedAt = nowFunc().UTC()
}

// Commit mirrors one repository changeset.
type Commit struct {
	ID           uuid.UUID `json:"id" db:"id"`
	RepositoryID uuid.UUID `json:"repository_id" db:"repository_id"`
	Hash         string    `json:"hash" db:"hash"`
	BitbucketID  string    `json:"bitbucket_id" db:"bitbucket_id"`
	Message      string    `json:"message" db:"message"`
	AuthorName   string    `json:"author_name" db:"author_name"`
	AuthorEmail  string    `json:"author_email" db:"author_email"`
	CommitDate   time.Time `json:"commit_date" db:"commit_date"`
	AuthorDate   time.Time `json:"author_date" db:"author_date"`
	IsMerge      bool      `json:"is_merge" db:"is_merge"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CommitFromBitbucket builds a Commit row. Missing dates fall back to the
// current time; the hash doubles as the upstream ID when none is reported.
func CommitFromBitbucket(src bitbucket.Commit, repositoryID uuid.UUID) *Commit {
	bbID := src.ID
	if bbID == "" {
		bbID = src.Hash
	}

	var email string
	if src.Author.User != nil {
		email = src.Author.User.Email
	}

	commitDate := ParseTime(src.Date)
	authorDate := commitDate
	if src.AuthorDate != "" {
		authorDate = ParseTime(src.AuthorDate)
	}

	now := nowFunc().UTC()
	return &Commit{
		ID:           uuid.New(),
		RepositoryID: repositoryID,
		Hash:         src.Hash,
		BitbucketID:  bbID,
		Message:      src.Message,
		AuthorName:   src.Author.Raw,
		AuthorEmail:  email,
		CommitDate:   commitDate,
		AuthorDate:   authorDate,
		IsMerge:      src.IsMerge(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// UpdateFromBitbucket refreshes the mutable fields. Hash and dates are
// immutable once written.
func (c *Commit) UpdateFromBitbucket(src bitbucket.Commit) {
	c.Message = src.Message
	c.AuthorName = src.Author.Raw
	if src.Author.User != nil && src.Author.User.Email != "" {
		c.AuthorEmail = src.Author.User.Email
	}
	c.IsMerge = src.IsMerge()
	c.UpdatedAt = nowFunc().UTC()
}

// PullRequest mirrors one pull request.
type PullRequest struct {
	ID           uuid.UUID        `json:"id" db:"id"`
	RepositoryID uuid.UUID        `json:"repository_id" db:"repository_id"`
	BitbucketID  string           `json:"bitbucket_id" db:"bitbucket_id"`
	Title        string           `json:"title" db:"title"`
	Description  string           `json:"description,omitempty" db:"description"`
	State        PullRequestState `json:"state" db:"state"`
	CreatedDate  time.Time        `json:"created_date" db:"created_date"`
	UpdatedDate  time.Time        `json:"updated_date" db:"updated_date"`
	ClosedDate   *time.Time       `json:"closed_date,omitempty" db:"closed_date"`
	MergedDate   *time.Time       `json:"merged_date,omitempty" db:"merged_date"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PullRequestFromBitbucket builds a PullRequest row. A missing numeric ID
// gets a synthetic key derived from the title and creation date so the row
// still has a stable natural key.
func PullRequestFromBitbucket(src bitbucket.PullRequest, repositoryID uuid.UUID) *PullRequest {
	created := ParseTime(src.CreatedOn)
	updated := created
	if src.UpdatedOn != "" {
		updated = ParseTime(src.UpdatedOn)
	}

	bbID := strconv.FormatInt(src.ID, 10)
	if src.ID == 0 {
		// Truncate on runes so a multi-byte title cannot leave a broken
		// sequence in the stored key.
		title := []rune(src.Title)
		if len(title) > 20 {
			title = title[:20]
		}
		bbID = fmt.Sprintf("pr_%s_%s", string(title), created.Format("20060102"))
	}

	now := nowFunc().UTC()
	return &PullRequest{
		ID:           uuid.New(),
		RepositoryID: repositoryID,
		BitbucketID:  bbID,
		Title:        src.Title,
		Description:  src.Description,
		State:        ParsePullRequestState(src.State),
		CreatedDate:  created,
		UpdatedDate:  updated,
		ClosedDate:   ParseTimePtr(src.ClosedOn),
		MergedDate:   ParseTimePtr(src.MergedOn),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// UpdateFromBitbucket refreshes the mutable fields from the wire type.
func (pr *PullRequest) UpdateFromBitbucket(src bitbucket.PullRequest) {
	pr.Title = src.Title
	pr.Description = src.Description
	pr.State = ParsePullRequestState(src.State)
	if src.UpdatedOn != "" {
		pr.UpdatedDate = ParseTime(src.UpdatedOn)
	}
	if t := ParseTimePtr(src.ClosedOn); t != nil {
		pr.ClosedDate = t
	}
	if t := ParseTimePtr(src.MergedOn); t != nil {
		pr.MergedDate = t
	}
	pr.UpdatedAt = nowFunc().UTC()
}

// IsActive reports whether the pull request is still open.
func (pr *PullRequest) IsActive() bool {
	return pr.State == PullRequestOpen
}
