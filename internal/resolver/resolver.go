// Package resolver defines the contract between the orchestration core and
// the media resolution engine. The engine turns a free-form query or a direct
// link into candidate metadata, and materializes a chosen candidate as a
// local audio artifact.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Candidate is a search result describing a track, not yet downloaded.
// Locator is the stable source reference captured at search time; selection
// resolves through it, never through a re-derived index.
type Candidate struct {
	Title           string
	Uploader        string
	DurationSeconds int
	Locator         string
}

// Artifact is a locally materialized audio file plus optional cover image.
// It exists for exactly one delivery attempt.
type Artifact struct {
	AudioPath       string
	ThumbPath       string
	Title           string
	Uploader        string
	DurationSeconds int
}

// Discard removes the artifact's files. Best-effort; missing files are fine.
func (a *Artifact) Discard() {
	if a == nil {
		return
	}
	if a.AudioPath != "" {
		_ = os.Remove(a.AudioPath)
	}
	if a.ThumbPath != "" {
		_ = os.Remove(a.ThumbPath)
	}
}

type Outcome int

const (
	// OutcomeNotFound means the search produced an empty result set.
	OutcomeNotFound Outcome = iota
	// OutcomeCandidates carries a ranked candidate list for selection.
	OutcomeCandidates
	// OutcomeDirect means the input was a direct link and the artifact has
	// already been produced.
	OutcomeDirect
)

type Resolution struct {
	Outcome    Outcome
	Candidates []Candidate
	Artifact   *Artifact
}

// Resolver is the external resolution collaborator.
type Resolver interface {
	// Resolve classifies raw input: direct links are downloaded immediately,
	// anything else runs a bounded top-K search without downloading.
	Resolve(ctx context.Context, raw string) (Resolution, error)
	// Fetch downloads and transcodes a previously returned candidate by its
	// stable locator.
	Fetch(ctx context.Context, locator string) (*Artifact, error)
}

// Error is a typed resolution failure with a short, user-safe reason.
// The wrapped error carries internal detail for logs only.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolution failed: %s: %v", e.Reason, e.Err)
	}
	return "resolution failed: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Failed returns the user-safe reason if err is a resolution failure.
func Failed(err error) (string, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}
