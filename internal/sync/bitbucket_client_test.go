// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

package sync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/repolens/repolens/internal/config"
	"github.com/repolens/repolens/internal/models/bitbucket"
)

func newTestBitbucketClient(t *testing.T, baseURL string, pageSize int) *BitbucketClient {
	t.Helper()
	return NewBitbucketClient(config.BitbucketConfig{
		Username:    "tester",
		AppPassword: "secret",
		BaseURL:     baseURL,
		Timeout:     5 * time.Second,
		RateLimit:   1000,
		RateWindow:  time.Minute,
		BurstLimit:  10,
	}, pageSize)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("failed to encode response: %v", err)
	}
}

func repoPage(slugs ...string) bitbucket.Paginated[bitbucket.Repository] {
	page := bitbucket.Paginated[bitbucket.Repository]{}
	for _, slug := range slugs {
		page.Values = append(page.Values, bitbucket.Repository{
			UUID: "{" + slug + "-uuid}",
			Slug: slug,
			Name: slug,
		})
	}
	return page
}

func TestGetAllPagesTermination(t *testing.T) {
	t.Run("stops on short page", func(t *testing.T) {
		var requests int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			switch r.URL.Query().Get("page") {
			case "1":
				writeJSON(t, w, repoPage("alpha", "bravo"))
			case "2":
				writeJSON(t, w, repoPage("charlie"))
			default:
				t.Errorf("unexpected page %q requested", r.URL.Query().Get("page"))
			}
		}))
		defer srv.Close()

		client := newTestBitbucketClient(t, srv.URL, 2)
		repos, err := client.GetWorkspaceRepositories(context.Background(), "acme")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(repos) != 3 {
			t.Errorf("expected 3 repositories, got %d", len(repos))
		}
		if requests != 2 {
			t.Errorf("expected 2 requests, got %d", requests)
		}
	})

	t.Run("stops on empty page", func(t *testing.T) {
		var requests int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			if r.URL.Query().Get("page") == "1" {
				writeJSON(t, w, repoPage("alpha", "bravo"))
				return
			}
			writeJSON(t, w, bitbucket.Paginated[bitbucket.Repository]{Values: []bitbucket.Repository{}})
		}))
		defer srv.Close()

		client := newTestBitbucketClient(t, srv.URL, 2)
		repos, err := client.GetWorkspaceRepositories(context.Background(), "acme")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(repos) != 2 {
			t.Errorf("expected 2 repositories, got %d", len(repos))
		}
		if requests != 2 {
			t.Errorf("expected 2 requests, got %d", requests)
		}
	})

	t.Run("single short page makes one request", func(t *testing.T) {
		var requests int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			writeJSON(t, w, repoPage("alpha"))
		}))
		defer srv.Close()

		client := newTestBitbucketClient(t, srv.URL, 100)
		repos, err := client.GetWorkspaceRepositories(context.Background(), "acme")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(repos) != 1 {
			t.Errorf("expected 1 repository, got %d", len(repos))
		}
		if requests != 1 {
			t.Errorf("expected 1 request, got %d", requests)
		}
	})
}

func TestPullRequests400TreatedAsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "Repository has no pull requests"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client := newTestBitbucketClient(t, srv.URL, 10)
	prs, err := client.GetRepositoryPullRequests(context.Background(), "acme", "infra")
	if err != nil {
		t.Fatalf("expected 400 to be treated as empty, got error: %v", err)
	}
	if len(prs) != 0 {
		t.Errorf("expected no pull requests, got %d", len(prs))
	}
}

func TestCommits400ReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "bad request"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client := newTestBitbucketClient(t, srv.URL, 10)
	_, err := client.GetRepositoryCommits(context.Background(), "acme", "infra")
	if err == nil {
		t.Fatal("expected error for 400 on commits")
	}

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %T: %v", err, err)
	}
	if httpErr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", httpErr.StatusCode)
	}
}

func TestRequestCarriesAuthAndUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "tester" || pass != "secret" {
			t.Errorf("unexpected basic auth: %q / %q", user, pass)
		}
		if got := r.Header.Get("User-Agent"); got != userAgent {
			t.Errorf("expected user agent %q, got %q", userAgent, got)
		}
		writeJSON(t, w, bitbucket.Workspace{UUID: "{ws}", Slug: "acme", Name: "Acme"})
	}))
	defer srv.Close()

	client := newTestBitbucketClient(t, srv.URL, 10)
	ws, err := client.GetWorkspace(context.Background(), "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ws.Slug != "acme" {
		t.Errorf("expected slug acme, got %q", ws.Slug)
	}
}

func TestBaseURLTrailingSlash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/workspaces/acme" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		writeJSON(t, w, bitbucket.Workspace{UUID: "{ws}", Slug: "acme", Name: "Acme"})
	}))
	defer srv.Close()

	client := newTestBitbucketClient(t, srv.URL+"/", 10)
	if _, err := client.GetWorkspace(context.Background(), "acme"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResponseHeadersFeedLimiter(t *testing.T) {
	reset := time.Now().Add(30 * time.Minute).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "900")
		w.Header().Set("X-RateLimit-Remaining", "450")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
		writeJSON(t, w, bitbucket.Workspace{UUID: "{ws}", Slug: "acme", Name: "Acme"})
	}))
	defer srv.Close()

	client := newTestBitbucketClient(t, srv.URL, 10)
	if _, err := client.GetWorkspace(context.Background(), "acme"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	status := client.LimiterStatus()
	if status.ServerLimit != 900 {
		t.Errorf("expected server limit 900, got %d", status.ServerLimit)
	}
	if status.ServerRemaining != 450 {
		t.Errorf("expected server remaining 450, got %d", status.ServerRemaining)
	}
	if status.ServerResetAt.Unix() != reset {
		t.Errorf("expected reset %d, got %d", reset, status.ServerResetAt.Unix())
	}
}

func TestCountWorkspaceMembers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/workspaces/acme/members" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		writeJSON(t, w, bitbucket.Paginated[bitbucket.User]{
			Size:   42,
			Values: []bitbucket.User{{DisplayName: "First"}},
		})
	}))
	defer srv.Close()

	client := newTestBitbucketClient(t, srv.URL, 10)
	count, err := client.CountWorkspaceMembers(context.Background(), "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 42 {
		t.Errorf("expected 42 members, got %d", count)
	}
}
