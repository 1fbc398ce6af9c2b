package models

import "time"

// AppealType enumerates the supported appeal categories.
type AppealType string

const (
	AppealTypeEvaluation AppealType = "EVALUATION"
	AppealTypeAbsence    AppealType = "ABSENCE"
	AppealTypeEmergency  AppealType = "EMERGENCY"
)

// AppealState captures workflow states for the appeal lifecycle.
type AppealState string

const (
	AppealStatePending  AppealState = "PENDING"
	AppealStateRevised  AppealState = "REVISED"
	AppealStateCited    AppealState = "CITED"
	AppealStateAccepted AppealState = "ACCEPTED"
	AppealStateRejected AppealState = "REJECTED"
)

// EditWindow is the span before the edit deadline during which the owning
// student may still modify an appeal. The deadline itself sits 24h before
// any citation date.
const EditWindow = 24 * time.Hour

// allowedTransitions is the closed transition table. Any pair not listed
// here is rejected, including every transition out of a terminal state.
var allowedTransitions = map[AppealState]map[AppealState]struct{}{
	AppealStatePending: {
		AppealStateRevised: {},
	},
	AppealStateRevised: {
		AppealStateCited:    {},
		AppealStateAccepted: {},
		AppealStateRejected: {},
	},
	AppealStateCited: {
		AppealStateCited:    {}, // re-citation
		AppealStateAccepted: {},
		AppealStateRejected: {},
	},
	AppealStateAccepted: {},
	AppealStateRejected: {},
}

// CanTransition reports whether the lifecycle allows the requested change.
func CanTransition(from, to AppealState) bool {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// IsTerminal reports whether the state admits no further transitions.
func (s AppealState) IsTerminal() bool {
	return s == AppealStateAccepted || s == AppealStateRejected
}

// Valid reports whether the value is a known appeal state.
func (s AppealState) Valid() bool {
	switch s {
	case AppealStatePending, AppealStateRevised, AppealStateCited, AppealStateAccepted, AppealStateRejected:
		return true
	}
	return false
}

// Valid reports whether the value is a known appeal type.
func (t AppealType) Valid() bool {
	switch t {
	case AppealTypeEvaluation, AppealTypeAbsence, AppealTypeEmergency:
		return true
	}
	return false
}

// Appeal represents a persisted appeal row with its loaded relations.
type Appeal struct {
	ID                 string      `db:"id" json:"id"`
	Type               AppealType  `db:"type" json:"type"`
	Message            string      `db:"message" json:"message"`
	State              AppealState `db:"state" json:"state"`
	Attachment         *string     `db:"attachment" json:"attachment,omitempty"`
	AttachmentName     *string     `db:"attachment_name" json:"attachment_name,omitempty"`
	AttachmentMime     *string     `db:"attachment_mime" json:"attachment_mime,omitempty"`
	ProfessorResponse  *string     `db:"professor_response" json:"professor_response,omitempty"`
	CitationDate       *time.Time  `db:"citation_date" json:"citation_date,omitempty"`
	EditDeadline       *time.Time  `db:"edit_deadline" json:"edit_deadline,omitempty"`
	CanEdit            bool        `db:"can_edit" json:"can_edit"`
	StudentID          string      `db:"student_id" json:"student_id"`
	ProfessorID        string      `db:"professor_id" json:"professor_id"`
	CreatedAt          time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time   `db:"updated_at" json:"updated_at"`

	Student   *UserInfo `db:"-" json:"student,omitempty"`
	Professor *UserInfo `db:"-" json:"professor,omitempty"`
}

// EditableAt evaluates the edit-window policy at the given instant.
// Without a deadline the stored flag decides; with one, the appeal stays
// editable up to exactly EditWindow before the deadline. Terminal states
// are never editable.
func (a *Appeal) EditableAt(now time.Time) bool {
	if a.State.IsTerminal() {
		return false
	}
	if a.EditDeadline == nil {
		return a.CanEdit
	}
	return a.EditDeadline.Sub(now) >= EditWindow
}

// AppealFilter constrains listing queries.
type AppealFilter struct {
	States      []AppealState
	Type        AppealType
	StudentID   string
	ProfessorID string
	Limit       int
	Offset      int
}
