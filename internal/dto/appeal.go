package dto

import (
	"mime/multipart"

	"github.com/noah-isme/uni-appeal-api/internal/models"
)

// CreateAppealRequest payload for filing a new appeal. The attachment is
// bound from the multipart form by the handler, not from JSON.
type CreateAppealRequest struct {
	Type           models.AppealType     `form:"type" json:"type"`
	ProfessorEmail string                `form:"professorEmail" json:"professorEmail"`
	Message        string                `form:"message" json:"message"`
	Attachment     *multipart.FileHeader `form:"-" json:"-"`
}

// EditAppealRequest captures the student-editable fields. Nil pointers
// mean "leave unchanged"; RemoveAttachment clears the stored file.
type EditAppealRequest struct {
	Message          *string               `form:"message" json:"message,omitempty"`
	ProfessorEmail   *string               `form:"professorEmail" json:"professorEmail,omitempty"`
	RemoveAttachment bool                  `form:"removeAttachment" json:"removeAttachment,omitempty"`
	Attachment       *multipart.FileHeader `form:"-" json:"-"`
}

// Empty reports whether the edit carries no change at all.
func (r EditAppealRequest) Empty() bool {
	return r.Message == nil && r.ProfessorEmail == nil && !r.RemoveAttachment && r.Attachment == nil
}

// TransitionAppealRequest captures the professor decision payload.
// CitationDate is RFC 3339 and only meaningful for the CITED target.
type TransitionAppealRequest struct {
	State             models.AppealState `json:"state"`
	ProfessorResponse string             `json:"professorResponse"`
	CitationDate      string             `json:"citationDate"`
}

// AppealQuery mirrors supported listing filters.
type AppealQuery struct {
	States      []models.AppealState
	Type        models.AppealType
	StudentID   string
	ProfessorID string
	Limit       int
	Offset      int
}
