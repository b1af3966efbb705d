// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

package sync

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/repolens/repolens/internal/config"
	"github.com/repolens/repolens/internal/database"
	"github.com/repolens/repolens/internal/models"
	"github.com/repolens/repolens/internal/models/bitbucket"
	"github.com/repolens/repolens/internal/models/sonarcloud"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(&config.DatabaseConfig{
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

func seedRepository(t *testing.T, db *database.DB, slug string) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	wsID, err := db.UpsertWorkspace(ctx, models.WorkspaceFromBitbucket(bitbucket.Workspace{
		UUID: "{ws-" + slug + "}",
		Slug: "acme-" + slug,
		Name: "Acme",
	}))
	if err != nil {
		t.Fatalf("failed to seed workspace: %v", err)
	}

	repoID, err := db.UpsertRepository(ctx, models.RepositoryFromBitbucket(bitbucket.Repository{
		UUID: "{repo-" + slug + "}",
		Slug: slug,
		Name: slug,
	}, wsID, nil))
	if err != nil {
		t.Fatalf("failed to seed repository: %v", err)
	}
	return repoID
}

func seedSonarProject(t *testing.T, db *database.DB, key string) {
	t.Helper()
	ctx := context.Background()

	orgID, err := db.UpsertOrganization(ctx, models.OrganizationFromSonarCloud(sonarcloud.Organization{
		Key:  "acme-org",
		Name: "Acme",
	}))
	if err != nil {
		t.Fatalf("failed to seed organization: %v", err)
	}

	if _, err := db.UpsertSonarProject(ctx, models.SonarProjectFromSonarCloud(sonarcloud.Project{
		Key:  key,
		Name: key,
	}, orgID)); err != nil {
		t.Fatalf("failed to seed sonar project: %v", err)
	}
}

func TestLinkerMatchesKeyTail(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	repoID := seedRepository(t, db, "billing")
	seedSonarProject(t, db, "acme-org:billing")

	linker := NewLinker(db, nil)
	result, err := linker.Run(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Examined != 1 || result.Linked != 1 || result.Unmatched != 0 {
		t.Errorf("unexpected result %+v", result)
	}

	project, err := db.GetSonarProjectByKey(ctx, "acme-org:billing")
	if err != nil {
		t.Fatalf("failed to fetch project: %v", err)
	}
	if project.BitbucketRepositoryID == nil || *project.BitbucketRepositoryID != repoID {
		t.Errorf("expected project linked to %s, got %v", repoID, project.BitbucketRepositoryID)
	}
}

func TestLinkerCountsUnmatched(t *testing.T) {
	db := newTestDB(t)

	seedRepository(t, db, "billing")
	seedSonarProject(t, db, "acme-org:something-else")

	linker := NewLinker(db, nil)
	result, err := linker.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Examined != 1 || result.Linked != 0 || result.Unmatched != 1 {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestLinkerOverrideWins(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	repoID := seedRepository(t, db, "frontend")
	seedSonarProject(t, db, "acme-org:web")

	// The heuristic tail "web" matches nothing; the override pins the
	// project to the frontend repository.
	linker := NewLinker(db, map[string]string{"acme-org:web": "frontend"})
	result, err := linker.Run(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Linked != 1 {
		t.Fatalf("expected 1 link, got %+v", result)
	}

	project, err := db.GetSonarProjectByKey(ctx, "acme-org:web")
	if err != nil {
		t.Fatalf("failed to fetch project: %v", err)
	}
	if project.BitbucketRepositoryID == nil || *project.BitbucketRepositoryID != repoID {
		t.Errorf("expected project linked to %s, got %v", repoID, project.BitbucketRepositoryID)
	}
}

func TestLinkerSkipsLinkedProjects(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	seedRepository(t, db, "billing")
	seedSonarProject(t, db, "acme-org:billing")

	linker := NewLinker(db, nil)
	if _, err := linker.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A second run finds nothing left to examine.
	result, err := linker.Run(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Examined != 0 {
		t.Errorf("expected 0 examined on second run, got %+v", result)
	}
}

func TestSlugForWithoutColon(t *testing.T) {
	linker := NewLinker(nil, nil)
	if got := linker.slugFor("plainkey"); got != "plainkey" {
		t.Errorf("expected plainkey, got %q", got)
	}
	if got := linker.slugFor("a:b:c"); got != "c" {
		t.Errorf("expected tail after last colon, got %q", got)
	}
}
