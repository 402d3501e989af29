package models

import "time"

// FeedbackKind distinguishes the three feedback submissions layered on top of
// the transition contract. Submitting feedback never changes state by itself.
type FeedbackKind string

const (
	FeedbackChecker        FeedbackKind = "CHECKER"
	FeedbackExternal       FeedbackKind = "EXTERNAL"
	FeedbackSetterResponse FeedbackKind = "SETTER_RESPONSE"
)

// Feedback is a persisted feedback record attached to the state the
// assessment held when it was submitted.
type Feedback struct {
	ID           string          `db:"id" json:"id"`
	AssessmentID string          `db:"assessment_id" json:"assessment_id"`
	Kind         FeedbackKind    `db:"kind" json:"kind"`
	AuthorID     string          `db:"author_id" json:"author_id"`
	AuthorName   string          `db:"author_name" json:"author_name,omitempty"`
	State        AssessmentState `db:"state" json:"state"`
	Text         string          `db:"text" json:"text"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}
