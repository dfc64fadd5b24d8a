package enums

import "fmt"

// AttemptOutcome maps to the attempt_outcome enum in Postgres.
type AttemptOutcome string

const (
	AttemptSucceeded AttemptOutcome = "succeeded"
	AttemptFailed    AttemptOutcome = "failed"
)

var validAttemptOutcomes = []AttemptOutcome{
	AttemptSucceeded,
	AttemptFailed,
}

// IsValid reports whether the value matches the canonical attempt_outcome enum.
func (o AttemptOutcome) IsValid() bool {
	for _, candidate := range validAttemptOutcomes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseAttemptOutcome converts raw input into AttemptOutcome.
func ParseAttemptOutcome(value string) (AttemptOutcome, error) {
	for _, candidate := range validAttemptOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid attempt outcome %q", value)
}

// ContentEventType identifies lifecycle events announced on Pub/Sub.
type ContentEventType string

const (
	EventContentPublished ContentEventType = "content_published"
	EventContentFailed    ContentEventType = "content_failed"
)

// IsValid reports whether the value matches a known lifecycle event type.
func (e ContentEventType) IsValid() bool {
	return e == EventContentPublished || e == EventContentFailed
}
