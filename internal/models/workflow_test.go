package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatesForFamilyMembership(t *testing.T) {
	tests := []struct {
		state      AssessmentState
		coursework bool
		exam       bool
	}{
		// Universal states.
		{StateDraft, true, true},
		{StateOnHold, true, true},
		{StateReadyForCheck, true, true},
		// Coursework-only.
		{StateChangesRequired, true, false},
		{StateReleased, true, false},
		{StateTestTaken, true, false},
		// Exam-only.
		{StateExamOfficerCheck, false, true},
		{StateExamChangesReq, false, true},
		{StateExamApproved, false, true},
		{StateMarkingInProgress, false, true},
		{StateExternalFeedback, false, true},
		{StateExternalChanges, false, true},
		{StateSetterResponse, false, true},
		{StateSetterChangesMade, false, true},
		{StateFinalCheck, false, true},
		{StateFinalised, false, true},
		{StatePublished, false, true},
		{StateArchived, false, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.coursework, StatesForFamily(FlowCoursework, tt.state), "coursework membership of %s", tt.state)
		assert.Equal(t, tt.exam, StatesForFamily(FlowExam, tt.state), "exam membership of %s", tt.state)
	}
}

func TestFamilyFor(t *testing.T) {
	assert.Equal(t, FlowCoursework, FamilyFor(AssessmentTypeCW))
	assert.Equal(t, FlowCoursework, FamilyFor(AssessmentTypeTest))
	assert.Equal(t, FlowExam, FamilyFor(AssessmentTypeExam))
}

func TestCanTransitionStaysWithinFamily(t *testing.T) {
	// A coursework assessment must never cross into the exam chain.
	assert.False(t, CanTransition(FlowCoursework, StateReadyForCheck, StateExamOfficerCheck))
	assert.True(t, CanTransition(FlowExam, StateReadyForCheck, StateExamOfficerCheck))

	// And vice versa: the exam family has no plain changes-required hop.
	assert.False(t, CanTransition(FlowExam, StateReadyForCheck, StateChangesRequired))
	assert.True(t, CanTransition(FlowCoursework, StateReadyForCheck, StateChangesRequired))
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, IsTerminal(FlowCoursework, StateReleased))
	assert.True(t, IsTerminal(FlowCoursework, StateTestTaken))
	assert.True(t, IsTerminal(FlowExam, StateArchived))
	assert.False(t, IsTerminal(FlowExam, StateFinalised))
	assert.False(t, IsTerminal(FlowCoursework, StateOnHold))
}
