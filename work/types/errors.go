package types

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the catalog, dispatch and playback packages.
var (
	// ErrIngestionInProgress is returned when Ingest is called while another ingestion
	// has not finished yet. Calls are rejected rather than interleaved.
	ErrIngestionInProgress = errors.New("catalog ingestion already in progress")

	// ErrSessionClosed is returned by session operations after teardown.
	ErrSessionClosed = errors.New("playback session closed")

	// ErrInvalidTransition is returned when a state change is not in the transition table.
	ErrInvalidTransition = errors.New("invalid playback state transition")

	// ErrImmersiveUnavailable is returned when neither fullscreen nor the mobile landscape
	// fallback can be used on the current surface.
	ErrImmersiveUnavailable = errors.New("immersive presentation unavailable")
)

// IngestionError aborts a catalog load. It is raised only for failures of the
// authorization or playlist request; per-entry problems are ParseWarnings instead.
type IngestionError struct {
	Stage string // "authorize" or "playlist"
	Err   error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion failed at %s: %v", e.Stage, e.Err)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// ParseWarning is a non-fatal, per-entry parse or normalization problem. Warnings are
// logged and never abort ingestion.
type ParseWarning struct {
	Line   int    // 1-based line number of the offending directive or locator
	Reason string // human readable description
}

func (w ParseWarning) String() string {
	return fmt.Sprintf("line %d: %s", w.Line, w.Reason)
}

// ContentUnplayableError is returned by dispatch for a playable-type entry that has no
// resolvable source.
type ContentUnplayableError struct {
	EntryID     string
	DisplayName string
}

func (e *ContentUnplayableError) Error() string {
	return fmt.Sprintf("content %q (%s) has no playable source", e.DisplayName, e.EntryID)
}

// PlaybackError carries an ErrorEvent out of the playback controller when a session
// could not recover and moved to Failed.
type PlaybackError struct {
	Category ErrorCategory
	Fatal    bool
	Detail   string
}

func (e *PlaybackError) Error() string {
	severity := "non-fatal"
	if e.Fatal {
		severity = "fatal"
	}
	return fmt.Sprintf("%s %s playback error: %s", severity, e.Category, e.Detail)
}

// AsPlaybackError converts an ErrorEvent into the error value surfaced to consumers.
func AsPlaybackError(ev ErrorEvent) *PlaybackError {
	return &PlaybackError{Category: ev.Category, Fatal: ev.Fatal, Detail: ev.Detail}
}
