package enums

import "fmt"

// ContentState maps to the content_state enum in Postgres.
type ContentState string

const (
	ContentDraft      ContentState = "draft"
	ContentScheduled  ContentState = "scheduled"
	ContentQueued     ContentState = "queued"
	ContentPublishing ContentState = "publishing"
	ContentPublished  ContentState = "published"
	ContentFailed     ContentState = "failed"
)

var validContentStates = []ContentState{
	ContentDraft,
	ContentScheduled,
	ContentQueued,
	ContentPublishing,
	ContentPublished,
	ContentFailed,
}

// allowedContentTransitions lists every legal successor per state. The
// publishing->queued edge re-enters the queue after a retryable failure;
// failed->draft is the manual reset performed outside the pipeline.
var allowedContentTransitions = map[ContentState][]ContentState{
	ContentDraft:      {ContentScheduled},
	ContentScheduled:  {ContentQueued, ContentDraft},
	ContentQueued:     {ContentPublishing},
	ContentPublishing: {ContentPublished, ContentQueued, ContentFailed},
	ContentFailed:     {ContentDraft},
}

// IsValid reports whether the value matches the canonical content_state enum.
func (s ContentState) IsValid() bool {
	for _, candidate := range validContentStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s ContentState) CanTransitionTo(next ContentState) bool {
	for _, candidate := range allowedContentTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state ends the publish lifecycle.
func (s ContentState) IsTerminal() bool {
	return s == ContentPublished || s == ContentFailed
}

// ParseContentState converts raw input into ContentState.
func ParseContentState(value string) (ContentState, error) {
	for _, candidate := range validContentStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid content state %q", value)
}

// ContentFormat maps to the content_format enum in Postgres.
type ContentFormat string

const (
	FormatText     ContentFormat = "text"
	FormatArticle  ContentFormat = "article"
	FormatCarousel ContentFormat = "carousel"
	FormatPoll     ContentFormat = "poll"
)

var validContentFormats = []ContentFormat{
	FormatText,
	FormatArticle,
	FormatCarousel,
	FormatPoll,
}

// IsValid reports whether the value matches the canonical content_format enum.
func (f ContentFormat) IsValid() bool {
	for _, candidate := range validContentFormats {
		if candidate == f {
			return true
		}
	}
	return false
}

// ParseContentFormat converts raw input into ContentFormat.
func ParseContentFormat(value string) (ContentFormat, error) {
	for _, candidate := range validContentFormats {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid content format %q", value)
}

// MetricsState tracks whether a published item is still polled for engagement.
type MetricsState string

const (
	MetricsActive        MetricsState = "active"
	MetricsSourceDeleted MetricsState = "source_deleted"
)

// IsValid reports whether the value matches the canonical metrics_state enum.
func (m MetricsState) IsValid() bool {
	return m == MetricsActive || m == MetricsSourceDeleted
}
