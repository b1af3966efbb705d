// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

// Package bitbucket defines the wire types of the Bitbucket Cloud 2.0 API
// as consumed by RepoLens. Only the fields the mirror stores are declared;
// unknown fields are ignored during decoding.
package bitbucket

// Paginated is the standard Bitbucket list envelope.
type Paginated[T any] struct {
	Size    int    `json:"size,omitempty"`
	Page    int    `json:"page,omitempty"`
	Pagelen int    `json:"pagelen,omitempty"`
	Next    string `json:"next,omitempty"`
	Values  []T    `json:"values"`
}

// Workspace is a Bitbucket workspace, the top-level container for projects
// and repositories.
type Workspace struct {
	UUID      string `json:"uuid"`
	ID        string `json:"id,omitempty"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`

	Description string `json:"description,omitempty"`
	Website     string `json:"website,omitempty"`
	Location    string `json:"location,omitempty"`
}

// Project groups repositories inside a workspace.
type Project struct {
	UUID      string `json:"uuid"`
	ID        string `json:"id,omitempty"`
	Key       string `json:"key"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`

	Description string `json:"description,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Repository is a single source repository.
type Repository struct {
	UUID      string `json:"uuid"`
	ID        string `json:"id,omitempty"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`

	Description string `json:"description,omitempty"`
	Language    string `json:"language,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Website     string `json:"website,omitempty"`
	Size        int64  `json:"size,omitempty"`

	Project *Project `json:"project,omitempty"`
}

// Account is the author block attached to commits.
type Account struct {
	Raw  string `json:"raw,omitempty"`
	User *User  `json:"user,omitempty"`
}

// User is a Bitbucket user reference.
type User struct {
	UUID        string `json:"uuid,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Nickname    string `json:"nickname,omitempty"`
}

// CommitRef is a lightweight parent-commit reference.
type CommitRef struct {
	Hash string `json:"hash"`
}

// Commit is one changeset on a repository.
type Commit struct {
	Hash    string  `json:"hash"`
	ID      string  `json:"id,omitempty"`
	Message string  `json:"message"`
	Author  Account `json:"author"`

	// Date is the committer date; AuthorDate is set when the API reports
	// both. Both are ISO-8601 strings on the wire.
	Date       string      `json:"date,omitempty"`
	AuthorDate string      `json:"author_date,omitempty"`
	Parents    []CommitRef `json:"parents,omitempty"`
}

// IsMerge reports whether the commit joins more than one parent.
func (c Commit) IsMerge() bool {
	return len(c.Parents) > 1
}

// PullRequest is a proposed change against a repository.
type PullRequest struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	State       string `json:"state"` // OPEN, MERGED, DECLINED, SUPERSEDED

	CreatedOn string `json:"created_on,omitempty"`
	UpdatedOn string `json:"updated_on,omitempty"`
	ClosedOn  string `json:"closed_on,omitempty"`
	MergedOn  string `json:"merged_on,omitempty"`
}
