// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

package database

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/repolens/repolens/internal/config"
	"github.com/repolens/repolens/internal/models"
	"github.com/repolens/repolens/internal/models/bitbucket"
	"github.com/repolens/repolens/internal/models/sonarcloud"
)

// setupTestDB creates an in-memory database with the full schema.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(&config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "1GB",
		Threads:   2,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func seedWorkspace(t *testing.T, db *DB) uuid.UUID {
	t.Helper()
	w := models.WorkspaceFromBitbucket(bitbucket.Workspace{
		UUID: "{11111111-1111-1111-1111-111111111111}",
		Slug: "acme", Name: "Acme", IsPrivate: true,
	})
	id, err := db.UpsertWorkspace(context.Background(), w)
	if err != nil {
		t.Fatalf("failed to seed workspace: %v", err)
	}
	return id
}

func seedRepository(t *testing.T, db *DB, workspaceID uuid.UUID, slug string) uuid.UUID {
	t.Helper()
	r := models.RepositoryFromBitbucket(bitbucket.Repository{
		UUID: "{" + uuid.NewString() + "}",
		Slug: slug, Name: slug, IsPrivate: true, Language: "go",
	}, workspaceID, nil)
	id, err := db.UpsertRepository(context.Background(), r)
	if err != nil {
		t.Fatalf("failed to seed repository: %v", err)
	}
	return id
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestWorkspaceUpsertIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	src := bitbucket.Workspace{
		UUID: "{11111111-1111-1111-1111-111111111111}",
		Slug: "acme", Name: "Acme", IsPrivate: true,
	}
	first, err := db.UpsertWorkspace(ctx, models.WorkspaceFromBitbucket(src))
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	src.Name = "Acme Renamed"
	src.Description = "now with description"
	second, err := db.UpsertWorkspace(ctx, models.WorkspaceFromBitbucket(src))
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if first != second {
		t.Errorf("surrogate id changed across upserts: %s != %s", first, second)
	}

	w, err := db.GetWorkspaceBySlug(ctx, "acme")
	if err != nil {
		t.Fatalf("get workspace: %v", err)
	}
	if w.Name != "Acme Renamed" {
		t.Errorf("name = %q, want updated name", w.Name)
	}
	if w.Description != "now with description" {
		t.Errorf("description = %q, want updated", w.Description)
	}
	if w.ID != first {
		t.Errorf("fetched id = %s, want %s", w.ID, first)
	}
}

func TestGetWorkspaceNotFound(t *testing.T) {
	db := setupTestDB(t)
	if _, err := db.GetWorkspaceBySlug(context.Background(), "missing"); !errors.Is(err, ErrWorkspaceNotFound) {
		t.Errorf("err = %v, want ErrWorkspaceNotFound", err)
	}
}

func TestRepositoryAndProjectChain(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	wsID := seedWorkspace(t, db)

	proj := models.ProjectFromBitbucket(bitbucket.Project{
		UUID: "{22222222-2222-2222-2222-222222222222}",
		Key:  "PLAT", Name: "Platform",
	}, wsID)
	projID, err := db.UpsertProject(ctx, proj)
	if err != nil {
		t.Fatalf("upsert project: %v", err)
	}

	repo := models.RepositoryFromBitbucket(bitbucket.Repository{
		UUID: "{33333333-3333-3333-3333-333333333333}",
		Slug: "billing", Name: "Billing", Language: "go", Size: 2048,
	}, wsID, &projID)
	repoID, err := db.UpsertRepository(ctx, repo)
	if err != nil {
		t.Fatalf("upsert repository: %v", err)
	}

	got, err := db.GetRepositoryBySlug(ctx, wsID, "billing")
	if err != nil {
		t.Fatalf("get repository: %v", err)
	}
	if got.ID != repoID {
		t.Errorf("repo id = %s, want %s", got.ID, repoID)
	}
	if got.ProjectID == nil || *got.ProjectID != projID {
		t.Errorf("project link = %v, want %s", got.ProjectID, projID)
	}
	if got.SizeBytes != 2048 {
		t.Errorf("size = %d, want 2048", got.SizeBytes)
	}

	if _, err := db.GetProjectByKey(ctx, wsID, "PLAT"); err != nil {
		t.Errorf("get project by key: %v", err)
	}
	if _, err := db.GetProjectByKey(ctx, wsID, "NOPE"); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("err = %v, want ErrProjectNotFound", err)
	}
}

func TestCommitUpsert(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	wsID := seedWorkspace(t, db)
	repoID := seedRepository(t, db, wsID, "billing")

	c := models.CommitFromBitbucket(bitbucket.Commit{
		Hash:    "abc123def",
		Message: "Initial import",
		Author:  bitbucket.Account{Raw: "Jane <jane@acme.example>"},
		Date:    "2026-01-05T10:00:00+00:00",
	}, repoID)
	if err := db.UpsertCommit(ctx, c); err != nil {
		t.Fatalf("upsert commit: %v", err)
	}

	// Same hash with an amended message updates in place.
	c2 := models.CommitFromBitbucket(bitbucket.Commit{
		Hash:    "abc123def",
		Message: "Initial import (amended)",
		Author:  bitbucket.Account{Raw: "Jane <jane@acme.example>"},
		Date:    "2026-01-05T10:00:00+00:00",
	}, repoID)
	if err := db.UpsertCommit(ctx, c2); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	var count int
	var message string
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(message) FROM commits WHERE hash = ?`, "abc123def").
		Scan(&count, &message); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("commit rows = %d, want 1", count)
	}
	if message != "Initial import (amended)" {
		t.Errorf("message = %q, want amended", message)
	}
}

func TestPullRequestScopedUniqueness(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	wsID := seedWorkspace(t, db)
	repoA := seedRepository(t, db, wsID, "repo-a")
	repoB := seedRepository(t, db, wsID, "repo-b")

	// PR #1 exists in both repositories; both rows must survive.
	for _, repoID := range []uuid.UUID{repoA, repoB} {
		pr := models.PullRequestFromBitbucket(bitbucket.PullRequest{
			ID: 1, Title: "First PR", State: "OPEN",
			CreatedOn: "2026-01-01T00:00:00+00:00",
		}, repoID)
		if err := db.UpsertPullRequest(ctx, pr); err != nil {
			t.Fatalf("upsert pr for %s: %v", repoID, err)
		}
	}

	var count int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pull_requests WHERE bitbucket_id = '1'`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("pr rows = %d, want 2 (one per repository)", count)
	}

	// Re-syncing repo A's PR as merged updates rather than duplicates.
	pr := models.PullRequestFromBitbucket(bitbucket.PullRequest{
		ID: 1, Title: "First PR", State: "MERGED",
		CreatedOn: "2026-01-01T00:00:00+00:00",
		MergedOn:  "2026-01-02T00:00:00+00:00",
	}, repoA)
	if err := db.UpsertPullRequest(ctx, pr); err != nil {
		t.Fatalf("merge upsert: %v", err)
	}

	var state string
	if err := db.conn.QueryRowContext(ctx,
		`SELECT state FROM pull_requests WHERE repository_id = ? AND bitbucket_id = '1'`,
		repoA.String()).Scan(&state); err != nil {
		t.Fatal(err)
	}
	if state != "MERGED" {
		t.Errorf("state = %q, want MERGED", state)
	}
}

func TestWorkspaceAggregates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	wsID := seedWorkspace(t, db)
	seedRepository(t, db, wsID, "one")
	seedRepository(t, db, wsID, "two")

	if err := db.UpdateWorkspaceAggregates(ctx, wsID, 14); err != nil {
		t.Fatalf("update aggregates: %v", err)
	}

	w, err := db.GetWorkspaceBySlug(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if w.TotalRepositories != 2 {
		t.Errorf("total repositories = %d, want 2", w.TotalRepositories)
	}
	if w.TotalMembers != 14 {
		t.Errorf("total members = %d, want 14", w.TotalMembers)
	}
}

func TestSonarCloudChain(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	org := models.OrganizationFromSonarCloud(sonarcloud.Organization{
		Key: "acme-org", Name: "Acme Org",
	})
	orgID, err := db.UpsertOrganization(ctx, org)
	if err != nil {
		t.Fatalf("upsert organization: %v", err)
	}

	proj := models.SonarProjectFromSonarCloud(sonarcloud.Project{
		Key: "acme-org_billing", Name: "Billing", Visibility: "private",
		LastAnalysisDate: "2026-02-01T00:00:00+0000",
	}, orgID)
	projID, err := db.UpsertSonarProject(ctx, proj)
	if err != nil {
		t.Fatalf("upsert sonar project: %v", err)
	}

	issue := models.SonarIssueFromSonarCloud(sonarcloud.Issue{
		Key: "AX-1", Rule: "go:S1067", Severity: "MAJOR", Type: "CODE_SMELL",
		Status: "OPEN", Message: "too complex",
	}, projID)
	if err := db.UpsertSonarIssue(ctx, issue); err != nil {
		t.Fatalf("upsert issue: %v", err)
	}

	hotspot := models.SonarHotspotFromSonarCloud(sonarcloud.Hotspot{
		Key: "H-1", RuleKey: "go:S2068", Status: "TO_REVIEW", Message: "hardcoded secret?",
	}, projID)
	if err := db.UpsertSonarHotspot(ctx, hotspot); err != nil {
		t.Fatalf("upsert hotspot: %v", err)
	}

	qg := models.QualityGateFromSonarCloud(sonarcloud.ProjectStatus{
		Status: "OK",
	}, proj.Key, projID)
	if err := db.UpsertSonarQualityGate(ctx, qg); err != nil {
		t.Fatalf("upsert quality gate: %v", err)
	}

	metric := models.MetricFromSonarCloud(sonarcloud.Measure{
		Metric: "coverage", Value: "87.5",
	}, nil, nil, projID)
	if err := db.UpsertSonarMetric(ctx, metric); err != nil {
		t.Fatalf("upsert metric: %v", err)
	}

	got, err := db.GetSonarProjectByKey(ctx, "acme-org_billing")
	if err != nil {
		t.Fatalf("get sonar project: %v", err)
	}
	if got.ID != projID {
		t.Errorf("project id = %s, want %s", got.ID, projID)
	}
	if got.LastAnalysisDate == nil {
		t.Error("last analysis date missing")
	}
}

func TestLinkSonarProject(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	wsID := seedWorkspace(t, db)
	repoID := seedRepository(t, db, wsID, "billing")

	org := models.OrganizationFromSonarCloud(sonarcloud.Organization{Key: "acme-org", Name: "Acme"})
	orgID, err := db.UpsertOrganization(ctx, org)
	if err != nil {
		t.Fatal(err)
	}
	proj := models.SonarProjectFromSonarCloud(sonarcloud.Project{
		Key: "acme-org_billing", Name: "Billing",
	}, orgID)
	if _, err := db.UpsertSonarProject(ctx, proj); err != nil {
		t.Fatal(err)
	}

	unlinked, err := db.ListUnlinkedSonarProjects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(unlinked) != 1 {
		t.Fatalf("unlinked = %d, want 1", len(unlinked))
	}

	if err := db.LinkSonarProject(ctx, "acme-org_billing", repoID); err != nil {
		t.Fatalf("link: %v", err)
	}

	got, err := db.GetSonarProjectByKey(ctx, "acme-org_billing")
	if err != nil {
		t.Fatal(err)
	}
	if got.BitbucketRepositoryID == nil || *got.BitbucketRepositoryID != repoID {
		t.Errorf("link = %v, want %s", got.BitbucketRepositoryID, repoID)
	}

	// A re-upsert of the project must not clear the link.
	if _, err := db.UpsertSonarProject(ctx, models.SonarProjectFromSonarCloud(sonarcloud.Project{
		Key: "acme-org_billing", Name: "Billing Updated",
	}, orgID)); err != nil {
		t.Fatal(err)
	}
	got, err = db.GetSonarProjectByKey(ctx, "acme-org_billing")
	if err != nil {
		t.Fatal(err)
	}
	if got.BitbucketRepositoryID == nil {
		t.Error("re-upsert cleared the repository link")
	}

	if err := db.LinkSonarProject(ctx, "missing-key", repoID); !errors.Is(err, ErrSonarProjectNotFound) {
		t.Errorf("err = %v, want ErrSonarProjectNotFound", err)
	}

	unlinked, err = db.ListUnlinkedSonarProjects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(unlinked) != 0 {
		t.Errorf("unlinked after link = %d, want 0", len(unlinked))
	}
}
