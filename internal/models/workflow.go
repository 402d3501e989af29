package models

// AssessmentState enumerates the lifecycle states of an assessment.
type AssessmentState string

const (
	StateDraft             AssessmentState = "DRAFT"
	StateReadyForCheck     AssessmentState = "READY_FOR_CHECK"
	StateChangesRequired   AssessmentState = "CHANGES_REQUIRED"
	StateReleased          AssessmentState = "RELEASED"
	StateTestTaken         AssessmentState = "TEST_TAKEN"
	StateExamOfficerCheck  AssessmentState = "EXAM_OFFICER_CHECK"
	StateExamChangesReq    AssessmentState = "EXAM_CHANGES_REQUIRED"
	StateExamApproved      AssessmentState = "EXAM_APPROVED"
	StateMarkingInProgress AssessmentState = "MARKING_IN_PROGRESS"
	StateExternalFeedback  AssessmentState = "EXTERNAL_FEEDBACK"
	StateExternalChanges   AssessmentState = "EXTERNAL_CHANGES_REQUIRED"
	StateSetterResponse    AssessmentState = "SETTER_RESPONSE"
	StateSetterChangesMade AssessmentState = "SETTER_CHANGES_MADE"
	StateFinalCheck        AssessmentState = "FINAL_CHECK"
	StateFinalised         AssessmentState = "FINALISED"
	StatePublished         AssessmentState = "PUBLISHED"
	StateArchived          AssessmentState = "ARCHIVED"
	StateOnHold            AssessmentState = "ON_HOLD"
)

// WorkflowRole identifies the capability a transition guard requires. It is a
// superset of assessment-level roles: module and capability roles participate
// in guards too.
type WorkflowRole string

const (
	RoleSetter           WorkflowRole = "SETTER"
	RoleChecker          WorkflowRole = "CHECKER"
	RoleExternalExaminer WorkflowRole = "EXTERNAL_EXAMINER"
	RoleModuleLead       WorkflowRole = "MODULE_LEAD"
	RoleModerator        WorkflowRole = "MODERATOR"
	RoleStaff            WorkflowRole = "STAFF"
	RoleExamsOfficer     WorkflowRole = "EXAMS_OFFICER"
)

// FlowFamily selects the subset of states applicable to an assessment type.
type FlowFamily string

const (
	FlowCoursework FlowFamily = "COURSEWORK"
	FlowExam       FlowFamily = "EXAM"
)

// Transition is one edge of the workflow graph: a reachable target plus the
// roles that may request it. Any one of Roles suffices. An empty Roles slice
// marks an engine-driven hop (no direct actor path outside admin override).
type Transition struct {
	Target AssessmentState
	Roles  []WorkflowRole
}

// transitionTable is the single source of truth for workflow legality. Both
// the guard check and the UI action enumeration read from it; branching code
// must never re-encode these edges.
var transitionTable = map[FlowFamily]map[AssessmentState][]Transition{
	FlowCoursework: {
		StateDraft: {
			{Target: StateReadyForCheck, Roles: []WorkflowRole{RoleSetter}},
		},
		StateReadyForCheck: {
			{Target: StateReleased, Roles: []WorkflowRole{RoleChecker}},
			{Target: StateTestTaken, Roles: []WorkflowRole{RoleChecker}},
			{Target: StateChangesRequired, Roles: []WorkflowRole{RoleChecker}},
			{Target: StateDraft, Roles: []WorkflowRole{RoleSetter}},
		},
		StateChangesRequired: {
			{Target: StateReadyForCheck, Roles: []WorkflowRole{RoleSetter}},
		},
		// RELEASED and TEST_TAKEN are terminal for the coursework family.
	},
	FlowExam: {
		StateDraft: {
			{Target: StateReadyForCheck, Roles: []WorkflowRole{RoleSetter}},
		},
		StateReadyForCheck: {
			{Target: StateExamOfficerCheck, Roles: []WorkflowRole{RoleChecker}},
			{Target: StateExamChangesReq, Roles: []WorkflowRole{RoleChecker}},
			{Target: StateDraft, Roles: []WorkflowRole{RoleSetter}},
		},
		StateExamChangesReq: {
			{Target: StateReadyForCheck, Roles: []WorkflowRole{RoleSetter}},
		},
		StateExamOfficerCheck: {
			{Target: StateExamApproved, Roles: []WorkflowRole{RoleExamsOfficer}},
			{Target: StateExamChangesReq, Roles: []WorkflowRole{RoleExamsOfficer}},
		},
		StateExamApproved: {
			// Normally driven by the exam auto-progress scheduler once the
			// exam date has passed; exams officers may also record it.
			{Target: StateMarkingInProgress, Roles: []WorkflowRole{RoleExamsOfficer}},
		},
		StateMarkingInProgress: {
			{Target: StateExternalFeedback, Roles: []WorkflowRole{RoleModuleLead, RoleExamsOfficer}},
		},
		StateExternalFeedback: {
			{Target: StateSetterResponse, Roles: []WorkflowRole{RoleExternalExaminer}},
			{Target: StateExternalChanges, Roles: []WorkflowRole{RoleExternalExaminer}},
		},
		StateExternalChanges: {
			{Target: StateSetterResponse, Roles: []WorkflowRole{RoleSetter}},
			{Target: StateSetterChangesMade, Roles: []WorkflowRole{RoleSetter}},
		},
		StateSetterResponse: {
			{Target: StateSetterChangesMade, Roles: []WorkflowRole{RoleSetter}},
			{Target: StateFinalCheck, Roles: []WorkflowRole{RoleSetter}},
		},
		StateSetterChangesMade: {
			{Target: StateFinalCheck, Roles: []WorkflowRole{RoleSetter}},
		},
		StateFinalCheck: {
			{Target: StatePublished, Roles: []WorkflowRole{RoleExamsOfficer, RoleModuleLead}},
			{Target: StateFinalised, Roles: []WorkflowRole{RoleExamsOfficer, RoleModuleLead}},
		},
		StateFinalised: {
			{Target: StateArchived, Roles: []WorkflowRole{RoleExamsOfficer}},
		},
		StatePublished: {
			{Target: StateArchived, Roles: []WorkflowRole{RoleExamsOfficer}},
		},
	},
}

// terminalStates admit no further normal transitions.
var terminalStates = map[AssessmentState]bool{
	StateReleased:  true,
	StateTestTaken: true,
	StateArchived:  true,
}

// changesRequiredStates require a mandatory note on entry.
var changesRequiredStates = map[AssessmentState]bool{
	StateChangesRequired: true,
	StateExamChangesReq:  true,
	StateExternalChanges: true,
}

// FamilyFor maps an assessment type onto its flow family.
func FamilyFor(t AssessmentType) FlowFamily {
	if t == AssessmentTypeExam {
		return FlowExam
	}
	return FlowCoursework
}

// Adjacency returns the raw transition edges out of a state for a family,
// ignoring actor roles. Callers must not mutate the result.
func Adjacency(family FlowFamily, state AssessmentState) []Transition {
	return transitionTable[family][state]
}

// StatesForFamily reports whether a state belongs to the family's flow, or is
// universally reachable (ON_HOLD, DRAFT).
func StatesForFamily(family FlowFamily, state AssessmentState) bool {
	if state == StateOnHold || state == StateDraft {
		return true
	}
	if _, ok := transitionTable[family][state]; ok {
		return true
	}
	// Terminal targets appear only on the right-hand side of the table.
	for _, edges := range transitionTable[family] {
		for _, edge := range edges {
			if edge.Target == state {
				return true
			}
		}
	}
	return false
}

// AllowedTargets computes the states an actor holding the given roles may move
// the assessment into. It is a pure function over the transition table.
func AllowedTargets(family FlowFamily, state AssessmentState, held map[WorkflowRole]bool) []AssessmentState {
	edges := transitionTable[family][state]
	targets := make([]AssessmentState, 0, len(edges))
	for _, edge := range edges {
		for _, role := range edge.Roles {
			if held[role] {
				targets = append(targets, edge.Target)
				break
			}
		}
	}
	return targets
}

// CanTransition reports whether the edge exists at all, independent of roles.
func CanTransition(family FlowFamily, from, to AssessmentState) bool {
	for _, edge := range transitionTable[family][from] {
		if edge.Target == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state admits no further normal transitions.
func IsTerminal(family FlowFamily, state AssessmentState) bool {
	if terminalStates[state] {
		return true
	}
	return len(transitionTable[family][state]) == 0 && state != StateOnHold
}

// RequiresNote reports whether entering the target state demands a note.
func RequiresNote(target AssessmentState) bool {
	return changesRequiredStates[target]
}
