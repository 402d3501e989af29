package models

import "time"

// AssessmentTransition is one append-only entry of an assessment's history.
// Rows are never edited or reordered once written.
type AssessmentTransition struct {
	ID           string          `db:"id" json:"id"`
	AssessmentID string          `db:"assessment_id" json:"assessment_id"`
	FromState    AssessmentState `db:"from_state" json:"from_state"`
	ToState      AssessmentState `db:"to_state" json:"to_state"`
	// ActorID is nil for system transitions (exam auto-progress).
	ActorID   *string   `db:"actor_id" json:"actor_id,omitempty"`
	ActorName string    `db:"actor_name" json:"actor_name"`
	Note      *string   `db:"note" json:"note,omitempty"`
	Override  bool      `db:"override" json:"override"`
	At        time.Time `db:"at" json:"at"`
}
