// RepoLens - Bitbucket and SonarCloud Metadata Mirror
// Copyright 2026 RepoLens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/repolens/repolens

package sync

import (
	"fmt"
	"io"

	"github.com/repolens/repolens/internal/logging"
)

// maxErrorBodySize limits how much of an error response body is retained
// for reporting.
const maxErrorBodySize = 64 * 1024 // 64KB

// HTTPError reports a non-2xx upstream response. The body is capped at
// maxErrorBodySize.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned %s", e.Status)
	}
	return fmt.Sprintf("upstream returned %s: %s", e.Status, e.Body)
}

// readBodyForError reads at most maxErrorBodySize bytes for error
// reporting, noting truncation.
func readBodyForError(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		logging.Debug().Err(err).Msg("Failed to read error response body")
		return ""
	}
	if len(body) == maxErrorBodySize {
		return string(body) + "... (truncated)"
	}
	return string(body)
}
