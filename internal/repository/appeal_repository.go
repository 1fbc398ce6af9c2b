package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uni-appeal-api/internal/models"
)

const appealColumns = `a.id, a.type, a.message, a.state, a.attachment, a.attachment_name, a.attachment_mime,
       a.professor_response, a.citation_date, a.edit_deadline, a.can_edit, a.student_id, a.professor_id,
       a.created_at, a.updated_at`

const appealUserColumns = `s.email AS student_email, s.full_name AS student_name,
       p.email AS professor_email, p.full_name AS professor_name`

const appealJoins = ` FROM appeals a
	JOIN users s ON s.id = a.student_id
	JOIN users p ON p.id = a.professor_id`

// appealRow flattens the join of an appeal with its student and professor.
type appealRow struct {
	models.Appeal
	StudentEmail  string `db:"student_email"`
	StudentName   string `db:"student_name"`
	ProfessorMail string `db:"professor_email"`
	ProfessorName string `db:"professor_name"`
}

func (r appealRow) toAppeal() models.Appeal {
	appeal := r.Appeal
	appeal.Student = &models.UserInfo{
		ID:       appeal.StudentID,
		Email:    r.StudentEmail,
		FullName: r.StudentName,
		Role:     models.RoleStudent,
	}
	appeal.Professor = &models.UserInfo{
		ID:       appeal.ProfessorID,
		Email:    r.ProfessorMail,
		FullName: r.ProfessorName,
		Role:     models.RoleProfessor,
	}
	return appeal
}

// AppealRepository persists appeal lifecycle data.
type AppealRepository struct {
	db *sqlx.DB
}

// NewAppealRepository constructs the repository.
func NewAppealRepository(db *sqlx.DB) *AppealRepository {
	return &AppealRepository{db: db}
}

// Create inserts a new appeal row.
func (r *AppealRepository) Create(ctx context.Context, appeal *models.Appeal) error {
	if appeal.ID == "" {
		appeal.ID = uuid.NewString()
	}
	if appeal.State == "" {
		appeal.State = models.AppealStatePending
	}
	now := time.Now().UTC()
	if appeal.CreatedAt.IsZero() {
		appeal.CreatedAt = now
	}
	appeal.UpdatedAt = now
	const query = `INSERT INTO appeals
	(id, type, message, state, attachment, attachment_name, attachment_mime, professor_response,
	 citation_date, edit_deadline, can_edit, student_id, professor_id, created_at, updated_at)
	VALUES (:id, :type, :message, :state, :attachment, :attachment_name, :attachment_mime, :professor_response,
	 :citation_date, :edit_deadline, :can_edit, :student_id, :professor_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, appeal); err != nil {
		return fmt.Errorf("create appeal: %w", err)
	}
	return nil
}

// GetByID fetches an appeal with its student and professor loaded.
func (r *AppealRepository) GetByID(ctx context.Context, id string) (*models.Appeal, error) {
	query := `SELECT ` + appealColumns + `, ` + appealUserColumns + appealJoins + ` WHERE a.id = $1`
	var row appealRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get appeal: %w", err)
	}
	appeal := row.toAppeal()
	return &appeal, nil
}

// List returns appeals matching the filter (latest first).
func (r *AppealRepository) List(ctx context.Context, filter models.AppealFilter) ([]models.Appeal, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 6)
	builder.WriteString(`SELECT ` + appealColumns + `, ` + appealUserColumns + appealJoins)

	conditions := make([]string, 0, 4)
	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, state := range filter.States {
			args = append(args, state)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("a.state IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("a.type = $%d", len(args)))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("a.student_id = $%d", len(args)))
	}
	if filter.ProfessorID != "" {
		args = append(args, filter.ProfessorID)
		conditions = append(conditions, fmt.Sprintf("a.professor_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY a.created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var rows []appealRow
	if err := r.db.SelectContext(ctx, &rows, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list appeals: %w", err)
	}
	appeals := make([]models.Appeal, len(rows))
	for i, row := range rows {
		appeals[i] = row.toAppeal()
	}
	return appeals, nil
}

// TransitionParams groups the columns a state transition may touch.
type TransitionParams struct {
	ID                string
	FromState         models.AppealState
	ToState           models.AppealState
	ProfessorResponse *string
	CitationDate      *time.Time
	EditDeadline      *time.Time
	CanEdit           bool
	UpdatedAt         time.Time
}

// ApplyTransition persists a state change guarded by the expected current
// state. Zero rows affected means the appeal moved concurrently and the
// caller must treat the transition as lost.
func (r *AppealRepository) ApplyTransition(ctx context.Context, params TransitionParams) error {
	const query = `UPDATE appeals SET state = :state, professor_response = :professor_response,
	 citation_date = :citation_date, edit_deadline = :edit_deadline, can_edit = :can_edit,
	 updated_at = :updated_at WHERE id = :id AND state = :from_state`
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":                 params.ID,
		"state":              params.ToState,
		"from_state":         params.FromState,
		"professor_response": params.ProfessorResponse,
		"citation_date":      params.CitationDate,
		"edit_deadline":      params.EditDeadline,
		"can_edit":           params.CanEdit,
		"updated_at":         params.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("apply transition: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check transition rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// StudentEditParams groups the student-editable columns. Nil pointers for
// Message/ProfessorID leave the column untouched; SetAttachment controls
// whether the attachment triple is written.
type StudentEditParams struct {
	ID             string
	Message        *string
	ProfessorID    *string
	SetAttachment  bool
	Attachment     *string
	AttachmentName *string
	AttachmentMime *string
	UpdatedAt      time.Time
}

// ApplyStudentEdit persists an edit guarded by the editable states. Zero
// rows affected means the appeal was resolved concurrently.
func (r *AppealRepository) ApplyStudentEdit(ctx context.Context, params StudentEditParams) error {
	setParts := []string{"updated_at = :updated_at"}
	if params.Message != nil {
		setParts = append(setParts, "message = :message")
	}
	if params.ProfessorID != nil {
		setParts = append(setParts, "professor_id = :professor_id")
	}
	if params.SetAttachment {
		setParts = append(setParts, "attachment = :attachment", "attachment_name = :attachment_name", "attachment_mime = :attachment_mime")
	}
	query := fmt.Sprintf(`UPDATE appeals SET %s WHERE id = :id AND state IN ('%s', '%s', '%s')`,
		strings.Join(setParts, ", "),
		models.AppealStatePending, models.AppealStateCited, models.AppealStateRevised,
	)
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":              params.ID,
		"message":         params.Message,
		"professor_id":    params.ProfessorID,
		"attachment":      params.Attachment,
		"attachment_name": params.AttachmentName,
		"attachment_mime": params.AttachmentMime,
		"updated_at":      params.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("apply student edit: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check edit rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetCanEdit persists a lazily evaluated edit-window flip.
func (r *AppealRepository) SetCanEdit(ctx context.Context, id string, canEdit bool, updatedAt time.Time) error {
	const query = `UPDATE appeals SET can_edit = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, canEdit, updatedAt); err != nil {
		return fmt.Errorf("set can_edit: %w", err)
	}
	return nil
}

// Delete removes an appeal while it is still pending. Zero rows affected
// means the appeal does not exist or already left PENDING.
func (r *AppealRepository) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM appeals WHERE id = $1 AND state = '%s'`, models.AppealStatePending)
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete appeal: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
