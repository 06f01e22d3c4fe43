package types

import (
	"fmt"
	"strings"
	"time"
)

// ContentType classifies a catalog row by how it is consumed. Only LiveChannel and Movie
// entries are bound to a playback surface; a SeriesContainer has to be expanded into its
// children by the consumer before anything can be played.
type ContentType int

// Content type constants, in the order the catalog builder reports them.
const (
	ContentUnknown         ContentType = iota // could not be classified
	ContentLiveChannel                        // linear channel, also the classification fallback
	ContentMovie                              // single on-demand title
	ContentSeriesContainer                    // group of playable children, never played directly
)

// String returns the wire name of the content type.
func (t ContentType) String() string {
	switch t {
	case ContentLiveChannel:
		return "live"
	case ContentMovie:
		return "movie"
	case ContentSeriesContainer:
		return "series"
	default:
		return "unknown"
	}
}

// MarshalText encodes the type by its wire name so JSON consumers see "live", "movie"...
func (t ContentType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts the wire names produced by MarshalText.
func (t *ContentType) UnmarshalText(b []byte) error {
	parsed, err := ParseContentType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseContentType converts a wire name back into a ContentType.
func ParseContentType(s string) (ContentType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "live":
		return ContentLiveChannel, nil
	case "movie":
		return ContentMovie, nil
	case "series":
		return ContentSeriesContainer, nil
	case "unknown":
		return ContentUnknown, nil
	default:
		return ContentUnknown, fmt.Errorf("unknown content type %q", s)
	}
}

// Playable reports whether entries of this type may be handed to the playback controller.
func (t ContentType) Playable() bool {
	return t == ContentLiveChannel || t == ContentMovie
}

// ContentEntry is one row of the content catalog. Entries are created in bulk by the
// catalog builder and are never mutated afterwards; a new ingestion replaces the whole
// catalog rather than editing rows in place. Everything outside the catalog builder
// holds entries by reference only.
type ContentEntry struct {
	ID              string            `json:"id"`                      // tvg-id, or a digest of name and locator when absent
	DisplayName     string            `json:"displayName"`             // trailing name after the last comma of the directive
	LogoURL         string            `json:"logoUrl,omitempty"`       // tvg-logo
	GroupLabel      string            `json:"groupLabel"`              // group-title
	Type            ContentType       `json:"type"`                    // classification from group label and name keywords
	RawAttributes   map[string]string `json:"rawAttributes"`           // every key/value pair of the directive line
	Locator         string            `json:"locator"`                 // the locator line that closed the entry
	ResolvedPlayURL string            `json:"resolvedPlayUrl"`         // first non-empty candidate in priority order
	Playable        bool              `json:"playable"`                // false when no source could be resolved
	Duration        float64           `json:"duration,omitempty"`      // EXTINF duration, -1 for live
	ChannelNumber   string            `json:"channelNumber,omitempty"` // tvg-chno when advertised
}

// Level is one quality variant of an adaptive stream. Index is the position in the order
// the manifest advertised the variants and doubles as the relative quality rank.
type Level struct {
	Index      int     `json:"index"`
	Bandwidth  int     `json:"bandwidth"`
	Resolution string  `json:"resolution,omitempty"`
	Codecs     string  `json:"codecs,omitempty"`
	FrameRate  float64 `json:"frameRate,omitempty"`
	URI        string  `json:"uri"`
}

// TimeRange is a buffered span on the media timeline, in seconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// ErrorCategory is the failure class reported by the ABR client or native playback.
type ErrorCategory int

// Error categories, matching the recovery table of the playback controller.
const (
	ErrorUnknown      ErrorCategory = iota // anything the client could not classify
	ErrorNetwork                           // manifest or media request failed at the transport level
	ErrorMedia                             // decode or buffer append failure
	ErrorManifest                          // manifest or level playlist could not be loaded or parsed
	ErrorFragmentLoad                      // a single segment failed to load
)

// String returns the category name used in logs and metric labels.
func (c ErrorCategory) String() string {
	switch c {
	case ErrorNetwork:
		return "network"
	case ErrorMedia:
		return "media"
	case ErrorManifest:
		return "manifest"
	case ErrorFragmentLoad:
		return "fragment_load"
	default:
		return "unknown"
	}
}

// MarshalText encodes the category by name.
func (c ErrorCategory) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ErrorEvent is a transient failure report. It is logged and forwarded to subscribers,
// never persisted.
type ErrorEvent struct {
	Category  ErrorCategory `json:"category"`
	Fatal     bool          `json:"fatal"`
	Detail    string        `json:"detail"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewErrorEvent stamps an error event with the current time.
func NewErrorEvent(category ErrorCategory, fatal bool, detail string) ErrorEvent {
	return ErrorEvent{
		Category:  category,
		Fatal:     fatal,
		Detail:    detail,
		Timestamp: time.Now(),
	}
}

// PresentationState describes how the playback surface is currently presented. It is
// owned by the presentation controller and reset when the session it was opened for ends.
type PresentationState struct {
	Immersive         bool   `json:"immersive"`
	OrientationLocked bool   `json:"orientationLocked"`
	LandscapeMode     bool   `json:"landscapeMode"`
	FullscreenMethod  string `json:"fullscreenMethod,omitempty"`
	SurfaceID         string `json:"surfaceId"`
}
